// Package format prints translation units in the text form read by package parse.
package format

import (
	"context"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"

	"github.com/slowlang/blockjit/compiler/ir"
)

func Format(ctx context.Context, b []byte, x any) ([]byte, error) {
	return format(ctx, b, x, 0)
}

func format(ctx context.Context, b []byte, x any, d int) (_ []byte, err error) {
	switch x := x.(type) {
	case *ir.Unit:
		return formatUnit(ctx, b, x, d)
	case []*ir.Unit:
		for i, u := range x {
			if i != 0 {
				b = append(b, '\n')
			}

			b, err = formatUnit(ctx, b, u, d)
			if err != nil {
				return nil, errors.Wrap(err, "unit %d %v", i, u.Name)
			}
		}

		return b, nil
	case ir.Operand:
		return Operand(b, x), nil
	default:
		return nil, errors.New("unsupported type: %T", x)
	}
}

func formatUnit(ctx context.Context, b []byte, u *ir.Unit, d int) (_ []byte, err error) {
	if u.Name != "" {
		b = app(b, d, "unit %s\n", u.Name)
	} else {
		b = app(b, d, "unit\n")
	}

	var cur ir.BlockID

	for i := range u.Insts {
		in := u.At(i)

		switch {
		case in.Continues:
			b = app(b, d+1, "+ ")
		case i == 0 || in.Block != cur:
			cur = in.Block
			b = app(b, d, "b%d:\t", cur)
		default:
			b = app(b, d+1, "")
		}

		b, err = formatInst(ctx, b, in)
		if err != nil {
			return nil, errors.Wrap(err, "inst %d", i)
		}

		b = append(b, '\n')
	}

	return b, nil
}

func formatInst(ctx context.Context, b []byte, in *ir.Inst) ([]byte, error) {
	if in.Op >= ir.NumOpcodes {
		return nil, errors.New("bad opcode: %d", in.Op)
	}

	b = append(b, in.Op.String()...)

	args := in.Args()

	for j, o := range args {
		if j == 0 {
			b = append(b, ' ')
		} else {
			b = append(b, ", "...)
		}

		b = Operand(b, o)
	}

	for j := len(args); j < len(in.Operands); j++ {
		if !in.Operands[j].IsNone() {
			return nil, errors.New("%v: operand %d follows none", in.Op, j)
		}
	}

	return b, nil
}

// Operand appends text form of o.
func Operand(b []byte, o ir.Operand) []byte {
	switch o.Kind {
	case ir.KindConstant:
		if o.Value < 1<<16 {
			return hfmt.Appendf(b, "$%d:%d", o.Value, o.Size)
		}

		return hfmt.Appendf(b, "$%#x:%d", o.Value, o.Size)
	case ir.KindVReg:
		return hfmt.Appendf(b, "v%d:%d", o.Value, o.Size)
	case ir.KindBlock:
		return hfmt.Appendf(b, "b%d", o.Value)
	case ir.KindFunc:
		return hfmt.Appendf(b, "f%#x", o.Value)
	default:
		return append(b, "none"...)
	}
}

func app(b []byte, d int, f string, args ...any) []byte {
	const tabs = "\t\t\t\t\t\t\t\t\t\t\t\t\t\t\t"
	b = append(b, tabs[:d]...)
	b = hfmt.Appendf(b, f, args...)
	return b
}
