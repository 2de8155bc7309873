package parse

import (
	"context"
	"math"

	"tlog.app/go/errors"

	"github.com/slowlang/blockjit/compiler/ir"
)

type (
	// Units is the whole text. Result is []*ir.Unit.
	// Instructions before the first header go to an unnamed unit.
	Units struct{}

	// Header starts a new unit.
	Header struct {
		Name string
	}

	// Line is one instruction.
	// Inst.Block is meaningful only if Labeled.
	Line struct {
		Labeled bool
		Inst    ir.Inst
	}

	// Label is b<id>: prefix. Result is ir.BlockID.
	Label struct{}

	// Mnemonic results in ir.Opcode.
	Mnemonic struct{}

	// Operand results in ir.Operand.
	Operand struct{}

	// Constant is $value:size.
	Constant struct{}

	// Register is v<id>:size.
	Register struct{}

	// BlockRef is b<id>.
	BlockRef struct{}

	// FuncRef is f<addr>.
	FuncRef struct{}
)

func (p Units) Parse(ctx context.Context, b []byte, st int) (x any, i int, err error) {
	var us []*ir.Unit
	var u *ir.Unit
	var blk ir.BlockID

	for i = Blank(b, st); i < len(b); i = Blank(b, i) {
		hx, j, err := Header{}.Parse(ctx, b, i)
		if err == nil {
			u = &ir.Unit{Name: hx.(Header).Name}
			us = append(us, u)
			blk = 0
			i = j

			continue
		}
		if j != i {
			return nil, j, errors.Wrap(err, "header")
		}

		lx, j, err := Line{}.Parse(ctx, b, i)
		if err != nil {
			return nil, j, errors.Wrap(err, "line")
		}

		i = j
		l := lx.(Line)

		if u == nil {
			u = &ir.Unit{}
			us = append(us, u)
		}

		if l.Labeled {
			blk = l.Inst.Block
		}

		l.Inst.Block = blk

		u.Append(l.Inst)
	}

	return us, i, nil
}

func (p Header) Parse(ctx context.Context, b []byte, st int) (x any, i int, err error) {
	_, i, err = Const("unit").Parse(ctx, b, st)
	if err != nil {
		return nil, st, err
	}

	if i < len(b) && b[i] != '#' && SpaceAll.Skip(b, i) == i {
		return nil, st, errors.New("unit header expected")
	}

	var h Header

	i = SpaceTab.Skip(b, i)

	x, i, err = Optional{Word{}}.Parse(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "unit name")
	}

	if w, ok := x.(Word); ok {
		h.Name = string(w)
	}

	_, i, err = EOL{}.Parse(ctx, b, i)
	if err != nil {
		return nil, i, err
	}

	return h, i, nil
}

func (p Line) Parse(ctx context.Context, b []byte, st int) (x any, i int, err error) {
	var l Line

	i = st

	if i < len(b) && b[i] == '+' {
		l.Inst.Continues = true
		i = SpaceTab.Skip(b, i+1)
	} else {
		x, i, err = Optional{Label{}}.Parse(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "label")
		}

		if id, ok := x.(ir.BlockID); ok {
			l.Labeled = true
			l.Inst.Block = id
			i = SpaceTab.Skip(b, i)
		}
	}

	x, i, err = Mnemonic{}.Parse(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "mnemonic")
	}

	l.Inst.Op = x.(ir.Opcode)

	args := List{
		Of:  Spaced(Operand{}, SpaceTab),
		Sep: Spaced(Const(","), SpaceTab),
	}

	x, i, err = args.Parse(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "%v: operands", l.Inst.Op)
	}

	ops := x.([]any)

	if len(ops) > ir.MaxOperands {
		return nil, i, errors.New("%v: too many operands: %d", l.Inst.Op, len(ops))
	}

	for j, o := range ops {
		l.Inst.Operands[j] = o.(ir.Operand)
	}

	_, i, err = EOL{}.Parse(ctx, b, i)
	if err != nil {
		return nil, i, err
	}

	return l, i, nil
}

func (p Label) Parse(ctx context.Context, b []byte, st int) (x any, i int, err error) {
	x, i, err = AllOf{Const("b"), Int{}, Const(":")}.Parse(ctx, b, st)
	if err != nil {
		return nil, st, errors.New("label expected")
	}

	id := x.([]any)[1].(uint64)
	if id > math.MaxUint32 {
		return nil, st, errors.New("block id overflows: %d", id)
	}

	return ir.BlockID(id), i, nil
}

func (p Mnemonic) Parse(ctx context.Context, b []byte, st int) (x any, i int, err error) {
	x, i, err = Ident{}.Parse(ctx, b, st)
	if err != nil {
		return nil, st, errors.New("mnemonic expected")
	}

	name := string(x.(Ident))

	op, ok := ir.OpcodeByName(name)
	if !ok {
		return nil, st, errors.New("unknown opcode: %q", name)
	}

	return op, i, nil
}

func (p Operand) Parse(ctx context.Context, b []byte, st int) (x any, i int, err error) {
	return AnyOf{Constant{}, Register{}, BlockRef{}, FuncRef{}}.Parse(ctx, b, st)
}

func (p Constant) Parse(ctx context.Context, b []byte, st int) (x any, i int, err error) {
	x, i, err = AllOf{Const("$"), Signed{}}.Parse(ctx, b, st)
	if err != nil {
		return nil, i, errors.Wrap(err, "constant")
	}

	v := x.([]any)[1].(uint64)

	size, i, err := operandSize(ctx, b, i)
	if err != nil {
		return nil, i, err
	}

	if size < 8 {
		v &= 1<<(8*size) - 1
	}

	return ir.Const(v, size), i, nil
}

func (p Register) Parse(ctx context.Context, b []byte, st int) (x any, i int, err error) {
	x, i, err = AllOf{Const("v"), Int{}}.Parse(ctx, b, st)
	if err != nil {
		return nil, i, errors.Wrap(err, "vreg")
	}

	id := x.([]any)[1].(uint64)

	size, i, err := operandSize(ctx, b, i)
	if err != nil {
		return nil, i, err
	}

	return ir.VReg(ir.VRegID(id), size), i, nil
}

func (p BlockRef) Parse(ctx context.Context, b []byte, st int) (x any, i int, err error) {
	x, i, err = AllOf{Const("b"), Int{}}.Parse(ctx, b, st)
	if err != nil {
		return nil, i, errors.Wrap(err, "block")
	}

	id := x.([]any)[1].(uint64)
	if id > math.MaxUint32 {
		return nil, i, errors.New("block id overflows: %d", id)
	}

	return ir.Block(ir.BlockID(id)), i, nil
}

func (p FuncRef) Parse(ctx context.Context, b []byte, st int) (x any, i int, err error) {
	x, i, err = AllOf{Const("f"), Int{}}.Parse(ctx, b, st)
	if err != nil {
		return nil, i, errors.Wrap(err, "func")
	}

	return ir.Func(x.([]any)[1].(uint64)), i, nil
}

func operandSize(ctx context.Context, b []byte, st int) (size uint8, i int, err error) {
	x, i, err := Context{Pre: Const(":"), Of: Int{}}.Parse(ctx, b, st)
	if err != nil {
		return 0, i, errors.Wrap(err, "operand size")
	}

	v := x.(uint64)
	if v == 0 || v > math.MaxUint8 {
		return 0, i, errors.New("bad operand size: %d", v)
	}

	return uint8(v), i, nil
}
