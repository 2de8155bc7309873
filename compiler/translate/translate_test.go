package translate

import (
	"context"
	"fmt"
	"testing"

	ll "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/blockjit/compiler/arch"
	"github.com/slowlang/blockjit/compiler/interp"
	"github.com/slowlang/blockjit/compiler/ir"
	"github.com/slowlang/blockjit/compiler/lower"
	"github.com/slowlang/blockjit/compiler/rt"
)

func TestLowerConfig(t *testing.T) {
	lc, err := DefaultConfig().LowerConfig()
	require.NoError(t, err)
	assert.Equal(t, lower.Config{MemoryModel: lower.Generic, PageBits: 12, CacheSize: 1024}, lc)

	lc, err = Config{MemoryModel: "cache", PageSize: "64KiB", CacheSize: 16}.LowerConfig()
	require.NoError(t, err)
	assert.Equal(t, uint(16), lc.PageBits)
	assert.Equal(t, uint64(16), lc.CacheSize)

	for _, c := range []Config{
		{PageSize: "3KiB"},
		{PageSize: "1"},
		{PageSize: "many"},
		{MemoryModel: "shared"},
	} {
		_, err = c.LowerConfig()
		assert.Error(t, err, "%+v", c)
	}
}

// unit writes x to r0 twice and adds r1 to r2.
func unit(name string, x uint64) *ir.Unit {
	return ir.NewBuilder(name).Block(0).
		Emit(ir.WriteReg, ir.Const(0, 4), ir.Const(0, 4)).
		Emit(ir.WriteReg, ir.Const(x, 4), ir.Const(0, 4)).
		Emit(ir.ReadReg, ir.Const(4, 4), ir.VReg(1, 4)).
		Emit(ir.ReadReg, ir.Const(8, 4), ir.VReg(2, 4)).
		Emit(ir.Add, ir.VReg(1, 4), ir.VReg(2, 4)).
		Emit(ir.WriteReg, ir.VReg(2, 4), ir.Const(8, 4)).
		Emit(ir.Ret).Unit
}

func TestTranslate(t *testing.T) {
	cfg := DefaultConfig()

	tt, err := New(arch.Reference(), arch.DefaultStateBlock(), cfg)
	require.NoError(t, err)

	res, err := tt.Translate(context.Background(), unit("u", 7))
	require.NoError(t, err)

	assert.Equal(t, "u", res.Func.Name())
	assert.Len(t, res.Dead, 1)

	found := false

	for _, f := range res.Module.Funcs {
		found = found || f == res.Func
	}

	assert.True(t, found)

	th, err := rt.New(interp.New(nil), tt.RegFile, tt.State, lower.Config{})
	require.NoError(t, err)

	require.NoError(t, th.SetRegByName("RB", 1, 3))
	require.NoError(t, th.SetRegByName("RB", 2, 4))
	require.NoError(t, th.Run(res.Func))

	for i, exp := range []uint64{7, 3, 7} {
		x, err := th.RegByName("RB", i)
		require.NoError(t, err)
		assert.Equal(t, exp, x, "r%d", i)
	}

	cfg.Optimize = false

	tt, err = New(arch.Reference(), arch.DefaultStateBlock(), cfg)
	require.NoError(t, err)

	res, err = tt.Translate(context.Background(), unit("u", 7))
	require.NoError(t, err)
	assert.Empty(t, res.Dead)
}

func TestTranslateError(t *testing.T) {
	tt, err := New(arch.Reference(), arch.DefaultStateBlock(), DefaultConfig())
	require.NoError(t, err)

	u := ir.NewBuilder("bad").Block(0).
		Emit(ir.Jmp, ir.Block(9)).Unit

	res, err := tt.Translate(context.Background(), u)
	assert.Error(t, err)
	assert.Nil(t, res)
}

func TestTranslateAll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 3

	tt, err := New(arch.Reference(), arch.DefaultStateBlock(), cfg)
	require.NoError(t, err)

	var us []*ir.Unit

	for i := 0; i < 20; i++ {
		us = append(us, unit(fmt.Sprintf("u%d", i), uint64(i)))
	}

	res, err := tt.TranslateAll(context.Background(), us)
	require.NoError(t, err)
	require.Len(t, res, len(us))

	for i, r := range res {
		assert.Equal(t, us[i], r.Unit)
		assert.Equal(t, us[i].Name, r.Func.Name())

		for j := 0; j < i; j++ {
			assert.True(t, res[j].Module != r.Module)
		}
	}

	us[7] = ir.NewBuilder("bad").Block(0).Emit(ir.Nop).Unit

	_, err = tt.TranslateAll(context.Background(), us)
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	m := ll.NewModule()

	f := m.NewFunc("f", types.Void)
	a := f.NewBlock("a")
	b := f.NewBlock("b")

	a.NewBr(b)

	assert.Error(t, Verify(f))

	b.NewRet(nil)

	assert.NoError(t, Verify(f))

	g := m.NewFunc("g", types.Void)
	c := g.NewBlock("c")
	c.NewBr(b)

	assert.Error(t, Verify(g))
}
