package interp

import (
	"testing"

	ll "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i64(x int64) *constant.Int { return constant.NewInt(types.I64, x) }

// sum returns 1 + 2 + ... + n.
func sumFunc(m *ll.Module) *ll.Func {
	n := ll.NewParam("n", types.I64)
	f := m.NewFunc("sum", types.I64, n)

	entry := f.NewBlock("entry")
	loop := f.NewBlock("loop")
	exit := f.NewBlock("exit")

	entry.NewBr(loop)

	i := loop.NewPhi(ll.NewIncoming(n, entry))
	acc := loop.NewPhi(ll.NewIncoming(i64(0), entry))

	acc2 := loop.NewAdd(acc, i)
	i2 := loop.NewSub(i, i64(1))
	done := loop.NewICmp(enum.IPredEQ, i2, i64(0))
	loop.NewCondBr(done, exit, loop)

	i.Incs = append(i.Incs, ll.NewIncoming(i2, loop))
	acc.Incs = append(acc.Incs, ll.NewIncoming(acc2, loop))

	exit.NewRet(acc2)

	return f
}

func TestPhiLoop(t *testing.T) {
	m := New(nil)
	f := sumFunc(ll.NewModule())

	r, err := m.Call(f, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(5050), r)

	_, err = m.Call(f)
	assert.Error(t, err)
}

func TestStepLimit(t *testing.T) {
	m := New(nil)
	m.MaxSteps = 100

	f := sumFunc(ll.NewModule())

	_, err := m.Call(f, 1000)
	assert.ErrorIs(t, err, ErrSteps)
}

func TestMemoryAccess(t *testing.T) {
	mod := ll.NewModule()

	f := mod.NewFunc("swap", types.Void, ll.NewParam("p", types.NewPointer(types.I32)))
	b := f.NewBlock("")

	v := b.NewLoad(types.I32, f.Params[0])
	s := b.NewAlloca(types.NewArray(2, types.I16))
	e := b.NewGetElementPtr(types.NewArray(2, types.I16), s, i64(0), i64(1))
	b.NewStore(constant.NewInt(types.I16, -2), e)
	h := b.NewLoad(types.I16, e)
	x := b.NewSExt(h, types.I32)
	y := b.NewAdd(v, x)
	b.NewStore(y, f.Params[0])
	b.NewRet(nil)

	m := New(nil)
	r := m.Mem.Alloc("data", 4)

	require.NoError(t, m.Mem.Write(r.Base, 4, 10))

	_, err := m.Call(f, r.Base)
	require.NoError(t, err)

	x2, err := m.Mem.Read(r.Base, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), x2)

	_, err = m.Call(f, 0x10)
	assert.Error(t, err)
}

func TestCalls(t *testing.T) {
	mod := ll.NewModule()

	ext := mod.NewFunc("ext", types.I32, ll.NewParam("x", types.I32))
	ctlz := mod.NewFunc("llvm.ctlz.i16", types.I16, ll.NewParam("x", types.I16), ll.NewParam("z", types.I1))
	bswap := mod.NewFunc("llvm.bswap.i32", types.I32, ll.NewParam("x", types.I32))

	f := mod.NewFunc("f", types.I64)
	b := f.NewBlock("")

	a := b.NewCall(ext, constant.NewInt(types.I32, 5))
	z := b.NewCall(ctlz, constant.NewInt(types.I16, 0x10), constant.NewInt(types.I1, 0))
	s := b.NewCall(bswap, a)

	fp := b.NewIntToPtr(i64(0x400), types.NewPointer(types.NewFunc(types.Void, types.I32)))
	b.NewCall(fp, s)

	r := b.NewAdd(b.NewZExt(s, types.I64), b.NewZExt(z, types.I64))
	b.NewRet(r)

	m := New(nil)

	m.Funcs["ext"] = func(m *Machine, args []uint64) (uint64, error) {
		return args[0] * 2, nil
	}

	var got uint64

	m.Addrs[0x400] = func(m *Machine, args []uint64) (uint64, error) {
		got = args[0]
		return 0, nil
	}

	x, err := m.Call(f)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0a000000+11), x)
	assert.Equal(t, uint64(0x0a000000), got)

	delete(m.Funcs, "ext")

	_, err = m.Call(f)
	assert.Error(t, err)
}

func TestArith(t *testing.T) {
	for _, tc := range []struct {
		name string
		op   func(b *ll.Block, x, y value.Value) value.Value
		x, y int64
		exp  uint64
	}{
		{"sdiv", func(b *ll.Block, x, y value.Value) value.Value { return b.NewSDiv(x, y) }, -7, 2, 0xfd},
		{"srem", func(b *ll.Block, x, y value.Value) value.Value { return b.NewSRem(x, y) }, -7, 2, 0xff},
		{"udiv", func(b *ll.Block, x, y value.Value) value.Value { return b.NewUDiv(x, y) }, -7, 2, 0x7c},
		{"ashr", func(b *ll.Block, x, y value.Value) value.Value { return b.NewAShr(x, y) }, -128, 3, 0xf0},
		{"lshr", func(b *ll.Block, x, y value.Value) value.Value { return b.NewLShr(x, y) }, -128, 3, 0x10},
		{"shl", func(b *ll.Block, x, y value.Value) value.Value { return b.NewShl(x, y) }, 3, 6, 0xc0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := ll.NewModule().NewFunc("f", types.I8)
			b := f.NewBlock("")

			b.NewRet(tc.op(b, constant.NewInt(types.I8, tc.x), constant.NewInt(types.I8, tc.y)))

			r, err := New(nil).Call(f)
			require.NoError(t, err)
			assert.Equal(t, tc.exp, r)
		})
	}

	f := ll.NewModule().NewFunc("f", types.I8)
	b := f.NewBlock("")
	b.NewRet(b.NewUDiv(constant.NewInt(types.I8, 1), constant.NewInt(types.I8, 0)))

	_, err := New(nil).Call(f)
	assert.Error(t, err)
}
