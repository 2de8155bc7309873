package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperandSigned(t *testing.T) {
	assert.Equal(t, int64(-1), Const(0xff, 1).Signed())
	assert.Equal(t, int64(0x7f), Const(0x7f, 1).Signed())
	assert.Equal(t, int64(-2), Const(0xfffe, 2).Signed())
	assert.Equal(t, int64(-1), Const(0xffffffff, 4).Signed())
	assert.Equal(t, int64(-1), Const(^uint64(0), 8).Signed())
}

func TestOpcodeNames(t *testing.T) {
	for op := Opcode(0); op < NumOpcodes; op++ {
		x, ok := OpcodeByName(op.String())
		if assert.True(t, ok, "%v", op) {
			assert.Equal(t, op, x)
		}
	}

	_, ok := OpcodeByName("frobnicate")
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	b := NewBuilder("validate")

	b.Block(0).
		Emit(Add, Const(1, 4), VReg(1, 4)).
		Emit(Branch, VReg(1, 4), Block(1), Block(2))

	require.NoError(t, b.Unit.Validate())

	bad := []Inst{
		{Op: Add, Operands: [MaxOperands]Operand{Const(1, 4), Const(2, 4)}},
		{Op: Add, Operands: [MaxOperands]Operand{Const(1, 4)}},
		{Op: Jmp, Operands: [MaxOperands]Operand{VReg(1, 4)}},
		{Op: Ret, Operands: [MaxOperands]Operand{VReg(1, 4)}},
		{Op: Call, Operands: [MaxOperands]Operand{Func(0x100), Block(1)}},
		{Op: NumOpcodes},
	}

	for _, in := range bad {
		assert.Error(t, in.Validate(), "%v", in.Op)
	}

	u := &Unit{Insts: []Inst{{Op: Args, Continues: true}}}
	assert.Error(t, u.Validate())
}

func TestBuilderSpillsCallArgs(t *testing.T) {
	b := NewBuilder("call")

	args := []Operand{Func(0x1000)}
	for i := 0; i < 8; i++ {
		args = append(args, Const(uint64(i), 4))
	}

	b.Block(3).Emit(Call, args...).Emit(Ret)

	u := b.Unit
	require.Equal(t, 3, u.Len())

	assert.Equal(t, Call, u.At(0).Op)
	assert.Len(t, u.At(0).Args(), MaxOperands)

	assert.Equal(t, Args, u.At(1).Op)
	assert.True(t, u.At(1).Continues)
	assert.Len(t, u.At(1).Args(), 3)

	assert.Equal(t, []BlockID{3}, u.Blocks())
	assert.NoError(t, u.Validate())
}
