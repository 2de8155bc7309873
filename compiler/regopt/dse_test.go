package regopt

import (
	"context"
	"testing"

	ll "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/blockjit/compiler/arch"
	"github.com/slowlang/blockjit/compiler/interp"
	"github.com/slowlang/blockjit/compiler/ir"
	"github.com/slowlang/blockjit/compiler/lower"
	"github.com/slowlang/blockjit/compiler/rt"
)

const (
	A  = 8
	A2 = 16
)

var i8p = types.NewPointer(types.I8)

func newFunc() *ll.Func {
	return ll.NewModule().NewFunc("f", types.Void,
		ll.NewParam("regfile", i8p),
		ll.NewParam("state", i8p),
	)
}

// reg returns a pointer to register file byte off viewed as t.
func reg(b *ll.Block, off int64, t types.Type) value.Value {
	f := b.Parent

	p := b.NewGetElementPtr(types.I8, f.Params[0], constant.NewInt(types.I64, off))

	if t == types.I8 {
		return p
	}

	return b.NewBitCast(p, types.NewPointer(t))
}

func store(b *ll.Block, off int64, t *types.IntType, x int64) *ll.InstStore {
	return b.NewStore(constant.NewInt(t, x), reg(b, off, t))
}

// cond returns a runtime condition not touching the register file.
func cond(b *ll.Block) value.Value {
	f := b.Parent

	x := b.NewLoad(types.I8, f.Params[1])

	return b.NewICmp(enum.IPredNE, x, constant.NewInt(types.I8, 0))
}

func diamond() (f *ll.Func, b2, b3, b4 *ll.Block) {
	f = newFunc()

	b1 := f.NewBlock("b1")
	b2 = f.NewBlock("b2")
	b3 = f.NewBlock("b3")
	b4 = f.NewBlock("b4")

	b1.NewCondBr(cond(b1), b2, b3)
	b2.NewBr(b4)
	b3.NewBr(b4)

	return
}

func TestSelfLoopStore(t *testing.T) {
	f := newFunc()

	entry := f.NewBlock("entry")
	b1 := f.NewBlock("b1")
	b2 := f.NewBlock("b2")

	entry.NewBr(b1)

	store(b1, A, types.I32, 1)
	b1.NewCondBr(cond(b1), b1, b2)

	b2.NewRet(nil)

	assert.Empty(t, DeadStores(f, nil))
}

func TestLoopThenOverwrite(t *testing.T) {
	f := newFunc()

	entry := f.NewBlock("entry")
	b1 := f.NewBlock("b1")
	b2 := f.NewBlock("b2")

	entry.NewBr(b1)

	st := store(b1, A, types.I32, 1)
	b1.NewCondBr(cond(b1), b1, b2)

	store(b2, A, types.I32, 2)
	b2.NewRet(nil)

	assert.Equal(t, []*ll.InstStore{st}, DeadStores(f, nil))
}

func TestInfiniteLoopKeepsStore(t *testing.T) {
	f := newFunc()

	entry := f.NewBlock("entry")
	spin := f.NewBlock("spin")

	entry.NewBr(spin)
	store(spin, A, types.I8, 1)
	store(spin, A, types.I8, 2)
	spin.NewBr(spin)

	assert.Empty(t, DeadStores(f, nil))

	f = newFunc()

	entry = f.NewBlock("entry")
	spin = f.NewBlock("spin")
	out := f.NewBlock("out")

	store(entry, A, types.I8, 1)
	entry.NewCondBr(cond(entry), spin, out)
	store(spin, A, types.I8, 2)
	spin.NewBr(spin)
	store(out, A, types.I8, 3)
	out.NewRet(nil)

	assert.Empty(t, DeadStores(f, nil))
}

func TestDiamondDifferentRegisters(t *testing.T) {
	f, b2, b3, b4 := diamond()

	store(b2, A, types.I32, 1)
	store(b3, A2, types.I32, 2)
	b4.NewRet(nil)

	assert.Empty(t, DeadStores(f, nil))
}

func TestDiamondSameRegister(t *testing.T) {
	f, b2, b3, b4 := diamond()

	store(b2, A, types.I32, 1)
	store(b3, A, types.I32, 2)
	b4.NewRet(nil)

	assert.Empty(t, DeadStores(f, nil))
}

func TestDiamondOverwrittenAtJoin(t *testing.T) {
	f, b2, b3, b4 := diamond()

	store(b2, A2, types.I32, 1)
	st := store(b3, A, types.I32, 2)
	store(b4, A, types.I32, 3)
	b4.NewRet(nil)

	assert.Equal(t, []*ll.InstStore{st}, DeadStores(f, nil))
}

func TestOverlappingViews(t *testing.T) {
	t.Run("narrow_then_wide", func(t *testing.T) {
		f := newFunc()
		b := f.NewBlock("b")

		st := store(b, A, types.I8, 1)
		store(b, A, types.I32, 2)
		b.NewRet(nil)

		assert.Equal(t, []*ll.InstStore{st}, DeadStores(f, nil))
	})

	t.Run("wide_then_narrow", func(t *testing.T) {
		f := newFunc()
		b := f.NewBlock("b")

		store(b, A, types.I32, 1)
		store(b, A, types.I8, 2)
		b.NewRet(nil)

		assert.Empty(t, DeadStores(f, nil))
	})

	t.Run("shifted", func(t *testing.T) {
		f := newFunc()
		b := f.NewBlock("b")

		store(b, A+2, types.I32, 1)
		store(b, A, types.I32, 2)
		b.NewRet(nil)

		assert.Empty(t, DeadStores(f, nil))
	})

	t.Run("two_halves", func(t *testing.T) {
		f := newFunc()
		b := f.NewBlock("b")

		st := store(b, A, types.I32, 1)
		store(b, A, types.I16, 2)
		store(b, A+2, types.I16, 3)
		b.NewRet(nil)

		assert.Equal(t, []*ll.InstStore{st}, DeadStores(f, nil))
	})
}

func TestReads(t *testing.T) {
	for _, tc := range []struct {
		name string
		mid  func(b *ll.Block)
		dead bool
	}{
		{"nothing", func(b *ll.Block) {}, true},
		{"load_same", func(b *ll.Block) { b.NewLoad(types.I32, reg(b, A, types.I32)) }, false},
		{"load_byte", func(b *ll.Block) { b.NewLoad(types.I8, reg(b, A+3, types.I8)) }, false},
		{"load_other", func(b *ll.Block) { b.NewLoad(types.I32, reg(b, A2, types.I32)) }, true},
		{"load_state", func(b *ll.Block) { b.NewLoad(types.I32, b.NewBitCast(b.Parent.Params[1], types.NewPointer(types.I32))) }, true},
		{"load_alloca", func(b *ll.Block) { b.NewLoad(types.I32, b.NewAlloca(types.I32)) }, true},
		{"load_dynamic", func(b *ll.Block) {
			idx := b.NewZExt(b.NewLoad(types.I8, b.Parent.Params[1]), types.I64)
			p := b.NewGetElementPtr(types.I8, b.Parent.Params[0], idx)
			b.NewLoad(types.I8, p)
		}, false},
		{"load_int_dynamic", func(b *ll.Block) {
			base := b.NewPtrToInt(b.Parent.Params[0], types.I64)
			idx := b.NewZExt(b.NewLoad(types.I8, b.Parent.Params[1]), types.I64)
			p := b.NewIntToPtr(b.NewAdd(base, idx), types.NewPointer(types.I32))
			b.NewLoad(types.I32, p)
		}, false},
		{"load_int_const", func(b *ll.Block) {
			base := b.NewPtrToInt(b.Parent.Params[0], types.I64)
			p := b.NewIntToPtr(b.NewAdd(base, constant.NewInt(types.I64, A2)), types.NewPointer(types.I32))
			b.NewLoad(types.I32, p)
		}, true},
		{"load_unknown", func(b *ll.Block) {
			pp := b.NewBitCast(b.Parent.Params[1], types.NewPointer(types.NewPointer(types.I32)))
			b.NewLoad(types.I32, b.NewLoad(types.NewPointer(types.I32), pp))
		}, false},
		{"call", func(b *ll.Block) {
			ext := b.Parent.Parent.NewFunc("ext", types.Void)
			b.NewCall(ext)
		}, false},
		{"intrinsic", func(b *ll.Block) {
			bs := b.Parent.Parent.NewFunc("llvm.bswap.i32", types.I32, ll.NewParam("x", types.I32))
			b.NewCall(bs, constant.NewInt(types.I32, 1))
		}, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFunc()
			b := f.NewBlock("b")

			st := store(b, A, types.I32, 1)
			tc.mid(b)
			store(b, A, types.I32, 2)
			b.NewRet(nil)

			dead := DeadStores(f, nil)

			if tc.dead {
				assert.Equal(t, []*ll.InstStore{st}, dead)
			} else {
				assert.Empty(t, dead)
			}
		})
	}
}

func TestUnknownStoreNeverDead(t *testing.T) {
	f := newFunc()
	b := f.NewBlock("b")

	idx := b.NewZExt(b.NewLoad(types.I8, f.Params[1]), types.I64)
	p := b.NewGetElementPtr(types.I8, f.Params[0], idx)

	b.NewStore(constant.NewInt(types.I8, 1), p)
	b.NewStore(constant.NewInt(types.I8, 2), p)
	store(b, 0, types.I64, 3)
	store(b, 8, types.I64, 3)
	b.NewRet(nil)

	assert.Empty(t, DeadStores(f, nil))
}

func TestRunRemoves(t *testing.T) {
	f := newFunc()
	b := f.NewBlock("b")

	st := store(b, A, types.I32, 1)
	st2 := store(b, A, types.I32, 2)
	b.NewRet(nil)

	dead := Run(context.Background(), f, nil)
	require.Equal(t, []*ll.InstStore{st}, dead)

	assert.NotContains(t, b.Insts, ll.Instruction(st))
	assert.Contains(t, b.Insts, ll.Instruction(st2))

	assert.Empty(t, Run(context.Background(), f, nil))
}

func lowerUnit(t *testing.T, u *ir.Unit) *lower.Context {
	t.Helper()

	c, err := lower.New(ll.NewModule(), u.Name, arch.Reference(), arch.DefaultStateBlock(), lower.Config{})
	require.NoError(t, err)

	err = c.Lower(context.Background(), u)
	require.NoError(t, err)

	return c
}

func TestLoweredCode(t *testing.T) {
	r := func(i int) ir.Operand { return ir.Const(uint64(4*i), 4) }
	v := func(id ir.VRegID) ir.Operand { return ir.VReg(id, 4) }
	c4 := func(x uint64) ir.Operand { return ir.Const(x, 4) }

	u := ir.NewBuilder("lowered").
		Block(0).
		Emit(ir.WriteReg, c4(1), r(0)).
		Emit(ir.ReadReg, r(1), v(1)).
		Emit(ir.CmpNE, v(1), c4(0), ir.VReg(2, 1)).
		Emit(ir.Branch, ir.VReg(2, 1), ir.Block(1), ir.Block(2)).
		Block(1).
		Emit(ir.WriteReg, c4(2), r(0)).
		Emit(ir.WriteReg, v(1), r(2)).
		Emit(ir.Jmp, ir.Block(3)).
		Block(2).
		Emit(ir.WriteReg, c4(3), r(0)).
		Emit(ir.WriteReg, c4(7), r(2)).
		Emit(ir.WriteReg, c4(8), r(2)).
		Emit(ir.Jmp, ir.Block(3)).
		Block(3).
		Emit(ir.Ret).Unit

	runOn := func(f *ll.Func, r1 uint64) (regs []uint64) {
		th, err := rt.New(interp.New(nil), arch.Reference(), arch.DefaultStateBlock(), lower.Config{})
		require.NoError(t, err)

		require.NoError(t, th.SetRegByName("RB", 1, r1))
		require.NoError(t, th.Run(f))

		for i := 0; i < 4; i++ {
			x, err := th.RegByName("RB", i)
			require.NoError(t, err)

			regs = append(regs, x)
		}

		return regs
	}

	c := lowerUnit(t, u)

	before0 := runOn(c.Func, 0)
	before5 := runOn(c.Func, 5)

	dead := Run(context.Background(), c.Func, c.Tags)
	assert.Len(t, dead, 2)

	for _, st := range dead {
		tag, ok := c.Tags.Get(st.Dst)
		require.True(t, ok)
		assert.Contains(t, []uint64{0, 8}, tag.Offset)
	}

	assert.Equal(t, before0, runOn(c.Func, 0))
	assert.Equal(t, before5, runOn(c.Func, 5))

	assert.Equal(t, []uint64{3, 0, 8, 0}, before0)
	assert.Equal(t, []uint64{2, 5, 5, 0}, before5)
}

func TestLoweredMemoryHelpersKeepStores(t *testing.T) {
	r := func(i int) ir.Operand { return ir.Const(uint64(4*i), 4) }
	c4 := func(x uint64) ir.Operand { return ir.Const(x, 4) }

	u := ir.NewBuilder("helpers").Block(0).
		Emit(ir.WriteReg, c4(1), r(0)).
		Emit(ir.WriteMem, c4(0), c4(5), c4(0), c4(0x1000)).
		Emit(ir.WriteReg, c4(2), r(0)).
		Emit(ir.WriteReg, c4(3), r(1)).
		Emit(ir.Mov, c4(3), ir.VReg(1, 4)).
		Emit(ir.WriteReg, c4(4), r(1)).
		Emit(ir.Ret).Unit

	c := lowerUnit(t, u)

	dead := DeadStores(c.Func, c.Tags)
	require.Len(t, dead, 1)

	tag, ok := c.Tags.Get(dead[0].Dst)
	require.True(t, ok)
	assert.Equal(t, uint64(4), tag.Offset)
}
