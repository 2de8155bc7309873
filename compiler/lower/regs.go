package lower

import (
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"tlog.app/go/errors"

	"github.com/slowlang/blockjit/compiler/ir"
)

// regPointer returns pointer for constant or runtime offset operand.
func (c *Context) regPointer(off ir.Operand, size uint8) value.Value {
	if off.IsConstant() {
		return c.RegisterPointer(off.Value, uint64(size))
	}

	return c.DynamicRegisterPointer(c.Address(off), uint64(size))
}

func lowerReadReg(c *Context, cursor *int) error {
	in := c.next(cursor)
	off, dst := in.Operands[0], in.Operands[1]

	p := c.regPointer(off, dst.Size)

	c.SetValue(dst, c.Cur.NewLoad(c.Type(dst.Size), p))

	return nil
}

func lowerWriteReg(c *Context, cursor *int) error {
	in := c.next(cursor)
	src, off := in.Operands[0], in.Operands[1]

	v := c.Value(src)
	p := c.regPointer(off, src.Size)

	c.Cur.NewStore(v, p)

	return nil
}

// bankPointer returns pointer to register idx of bank and its size.
func (c *Context) bankPointer(bank, idx ir.Operand) (value.Value, uint8, error) {
	e, err := c.RegFile.ByID(int(bank.Value))
	if err != nil {
		return nil, 0, err
	}

	size := uint8(e.Size)

	if idx.IsConstant() {
		p, err := c.EntryRegisterPointer(e, int(idx.Value))
		if err != nil {
			return nil, 0, err
		}

		return p, size, nil
	}

	i := c.Address(idx)
	off := c.Cur.NewMul(i, constant.NewInt(types.I64, int64(e.Stride)))
	abs := c.Cur.NewAdd(off, constant.NewInt(types.I64, int64(e.Offset)))

	return c.DynamicRegisterPointer(abs, e.Size), size, nil
}

func lowerReadRegBanked(c *Context, cursor *int) error {
	in := c.next(cursor)
	bank, idx, dst := in.Operands[0], in.Operands[1], in.Operands[2]

	p, size, err := c.bankPointer(bank, idx)
	if err != nil {
		return errors.Wrap(err, "bank")
	}

	c.SetValue(dst, c.Cur.NewLoad(c.Type(size), p))

	return nil
}

func lowerWriteRegBanked(c *Context, cursor *int) error {
	in := c.next(cursor)
	src, bank, idx := in.Operands[0], in.Operands[1], in.Operands[2]

	v := c.Value(src)

	p, size, err := c.bankPointer(bank, idx)
	if err != nil {
		return errors.Wrap(err, "bank")
	}

	c.Cur.NewStore(c.Resize(v, size), p)

	return nil
}

func (c *Context) taggedEntry(tag string) (value.Value, uint8, error) {
	e, err := c.RegFile.ByTag(tag)
	if err != nil {
		return nil, 0, err
	}

	return c.RegisterPointer(e.Offset, e.Size), uint8(e.Size), nil
}

func lowerLdPC(c *Context, cursor *int) error {
	in := c.next(cursor)
	dst := in.Operands[0]

	p, size, err := c.taggedEntry("PC")
	if err != nil {
		return err
	}

	c.SetValue(dst, c.Cur.NewLoad(c.Type(size), p))

	return nil
}

func lowerIncPC(c *Context, cursor *int) error {
	in := c.next(cursor)
	amt := in.Operands[0]

	p, size, err := c.taggedEntry("PC")
	if err != nil {
		return err
	}

	pc := c.Cur.NewLoad(c.Type(size), p)
	pc2 := c.Cur.NewAdd(pc, c.ValueAs(amt, size))

	c.Cur.NewStore(pc2, p)

	return nil
}

// writeFlag stores boolean v to the register tagged flag.
func (c *Context) writeFlag(flag string, v value.Value) error {
	p, size, err := c.taggedEntry(flag)
	if err != nil {
		return errors.Wrap(err, "flag")
	}

	c.Cur.NewStore(c.Resize(v, size), p)

	return nil
}

// lowerAdcFlags sets C, N, V and Z as for lhs + rhs + carry.
func lowerAdcFlags(c *Context, cursor *int) error {
	in := c.next(cursor)
	lhs, rhs, carry := in.Operands[0], in.Operands[1], in.Operands[2]

	size := lhs.Size
	if lhs.IsConstant() && rhs.IsVReg() {
		size = rhs.Size
	}

	t := c.Type(size)

	a := c.ValueAs(lhs, size)
	b := c.ValueAs(rhs, size)

	cv := c.Value(carry)
	cin := c.Cur.NewICmp(enum.IPredNE, cv, constant.NewInt(cv.Type().(*types.IntType), 0))

	s := c.Cur.NewAdd(a, b)
	r := c.Cur.NewAdd(s, c.Cur.NewZExt(cin, t))

	c1 := c.Cur.NewICmp(enum.IPredULT, s, a)
	c2 := c.Cur.NewICmp(enum.IPredULT, r, s)
	cf := c.Cur.NewOr(c1, c2)

	ov := c.Cur.NewAnd(c.Cur.NewXor(a, r), c.Cur.NewXor(b, r))
	vf := c.Cur.NewICmp(enum.IPredSLT, ov, constant.NewInt(t, 0))

	nf := c.Cur.NewICmp(enum.IPredSLT, r, constant.NewInt(t, 0))
	zf := c.Cur.NewICmp(enum.IPredEQ, r, constant.NewInt(t, 0))

	for _, f := range []struct {
		tag string
		v   value.Value
	}{
		{"C", cf},
		{"N", nf},
		{"V", vf},
		{"Z", zf},
	} {
		if err := c.writeFlag(f.tag, f.v); err != nil {
			return err
		}
	}

	return nil
}

func lowerSetZN(c *Context, cursor *int) error {
	in := c.next(cursor)

	v := c.Value(in.Operands[0])
	t := v.Type().(*types.IntType)

	zf := c.Cur.NewICmp(enum.IPredEQ, v, constant.NewInt(t, 0))
	nf := c.Cur.NewICmp(enum.IPredSLT, v, constant.NewInt(t, 0))

	if err := c.writeFlag("Z", zf); err != nil {
		return err
	}

	return c.writeFlag("N", nf)
}
