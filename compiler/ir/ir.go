package ir

import (
	"tlog.app/go/errors"
	"tlog.app/go/tlog/tlwire"
)

type (
	BlockID uint32
	VRegID  uint64

	OperandKind uint8

	// Operand is an immutable instruction argument.
	// Size is the width in bytes and is meaningful for constants and vregs.
	Operand struct {
		Kind  OperandKind
		Size  uint8
		Value uint64
	}

	// Inst is one flat IR instruction.
	// A continuation instruction belongs to the block of the instruction
	// preceding it no matter what Block says.
	Inst struct {
		Op        Opcode
		Block     BlockID
		Continues bool

		Operands [MaxOperands]Operand
	}

	// Unit is one translation unit: the semantics of a single guest block.
	Unit struct {
		Name  string
		Insts []Inst
	}
)

const MaxOperands = 6

const (
	KindNone OperandKind = iota
	KindConstant
	KindVReg
	KindBlock
	KindFunc
)

var kindNames = []string{
	KindNone:     "none",
	KindConstant: "const",
	KindVReg:     "vreg",
	KindBlock:    "block",
	KindFunc:     "func",
}

func None() Operand { return Operand{} }

func Const(v uint64, size uint8) Operand {
	return Operand{Kind: KindConstant, Size: size, Value: v}
}

func VReg(id VRegID, size uint8) Operand {
	return Operand{Kind: KindVReg, Size: size, Value: uint64(id)}
}

func Block(id BlockID) Operand {
	return Operand{Kind: KindBlock, Value: uint64(id)}
}

func Func(addr uint64) Operand {
	return Operand{Kind: KindFunc, Size: 8, Value: addr}
}

func (o Operand) IsNone() bool     { return o.Kind == KindNone }
func (o Operand) IsConstant() bool { return o.Kind == KindConstant }
func (o Operand) IsVReg() bool     { return o.Kind == KindVReg }
func (o Operand) IsBlock() bool    { return o.Kind == KindBlock }
func (o Operand) IsFunc() bool     { return o.Kind == KindFunc }

func (o Operand) VRegID() VRegID   { return VRegID(o.Value) }
func (o Operand) BlockID() BlockID { return BlockID(o.Value) }

// Signed returns constant value sign-extended from its width.
func (o Operand) Signed() int64 {
	if o.Size == 0 || o.Size >= 8 {
		return int64(o.Value)
	}

	sh := 64 - 8*uint(o.Size)

	return int64(o.Value<<sh) >> sh
}

func (k OperandKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}

	return "kind?"
}

func (o Operand) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if o.Kind == KindNone {
		return e.AppendNil(b)
	}

	b = e.AppendMap(b, 3)

	b = e.AppendKeyValue(b, "kind", o.Kind.String())
	b = e.AppendKeyInt(b, "size", int(o.Size))
	b = e.AppendKeyValue(b, "val", o.Value)

	return b
}

// Args returns the operands up to the first None.
func (i *Inst) Args() []Operand {
	n := 0

	for n < len(i.Operands) && !i.Operands[n].IsNone() {
		n++
	}

	return i.Operands[:n]
}

func (i Inst) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 3)

	b = e.AppendKeyValue(b, "op", i.Op.String())
	b = e.AppendKeyInt(b, "block", int(i.Block))

	b = e.AppendKey(b, "args")
	b = e.AppendArray(b, len(i.Args()))

	for _, o := range i.Args() {
		b = o.TlogAppend(b)
	}

	return b
}

func (u *Unit) Len() int { return len(u.Insts) }

func (u *Unit) At(i int) *Inst { return &u.Insts[i] }

func (u *Unit) Append(in Inst) {
	u.Insts = append(u.Insts, in)
}

// Validate checks every instruction against its opcode signature.
func (u *Unit) Validate() error {
	for i := range u.Insts {
		in := &u.Insts[i]

		if i == 0 && in.Continues {
			return errors.New("inst 0: continuation at the start of unit")
		}

		if err := in.Validate(); err != nil {
			return errors.Wrap(err, "inst %d", i)
		}
	}

	return nil
}

// Blocks returns block ids in order of first appearance.
func (u *Unit) Blocks() (r []BlockID) {
	seen := map[BlockID]struct{}{}

	for _, in := range u.Insts {
		if in.Continues {
			continue
		}

		if _, ok := seen[in.Block]; ok {
			continue
		}

		seen[in.Block] = struct{}{}
		r = append(r, in.Block)
	}

	return r
}
