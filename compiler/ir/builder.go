package ir

type Builder struct {
	Unit *Unit

	block BlockID
}

func NewBuilder(name string) *Builder {
	return &Builder{
		Unit: &Unit{Name: name},
	}
}

// Block switches the block following instructions are emitted to.
func (b *Builder) Block(id BlockID) *Builder {
	b.block = id
	return b
}

// Emit appends an instruction. Operands not fitting into one
// instruction are spilled into args continuations.
func (b *Builder) Emit(op Opcode, ops ...Operand) *Builder {
	in := Inst{Op: op, Block: b.block}

	n := copy(in.Operands[:], ops)
	b.Unit.Append(in)

	for ops = ops[n:]; len(ops) != 0; ops = ops[n:] {
		in = Inst{Op: Args, Block: b.block, Continues: true}
		n = copy(in.Operands[:], ops)

		b.Unit.Append(in)
	}

	return b
}
