package lower

import (
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"tlog.app/go/errors"

	"github.com/slowlang/blockjit/compiler/alias"
	"github.com/slowlang/blockjit/compiler/arch"
	"github.com/slowlang/blockjit/compiler/ir"
)

func lowerJmp(c *Context, cursor *int) error {
	in := c.next(cursor)

	c.Cur.NewBr(c.Block(in.Operands[0].BlockID()))

	return nil
}

func lowerBranch(c *Context, cursor *int) error {
	in := c.next(cursor)
	cond, bt, bf := in.Operands[0], in.Operands[1], in.Operands[2]

	v := c.Value(cond)
	bit := c.Cur.NewICmp(enum.IPredNE, v, constant.NewInt(v.Type().(*types.IntType), 0))

	c.Cur.NewCondBr(bit, c.Block(bt.BlockID()), c.Block(bf.BlockID()))

	return nil
}

func lowerRet(c *Context, cursor *int) error {
	c.next(cursor)

	c.Cur.NewRet(nil)

	return nil
}

// lowerCall lowers "call f, args..." followed by optional args continuations.
// Callee gets thread handle as the first argument.
func lowerCall(c *Context, cursor *int) error {
	in := c.next(cursor)
	fn := in.Operands[0]

	th, err := c.ThreadPtr()
	if err != nil {
		return err
	}

	args := []value.Value{th}
	params := []types.Type{i8p}

	add := func(ops []ir.Operand) {
		for _, o := range ops {
			v := c.Value(o)

			args = append(args, v)
			params = append(params, v.Type())
		}
	}

	add(in.Args()[1:])

	for *cursor < c.unit.Len() {
		x := c.unit.At(*cursor)
		if !x.Continues || x.Op != ir.Args {
			break
		}

		add(x.Args())

		*cursor++
	}

	ft := types.NewFunc(types.Void, params...)
	callee := c.Cur.NewIntToPtr(constant.NewInt(types.I64, int64(fn.Value)), types.NewPointer(ft))

	c.Cur.NewCall(callee, args...)

	return nil
}

func lowerArgs(c *Context, cursor *int) error {
	return errors.New("call arguments without call")
}

func lowerSetCPUMode(c *Context, cursor *int) error {
	in := c.next(cursor)

	p, err := c.StateBlockEntryPtr(arch.ModeID, types.I8)
	if err != nil {
		return err
	}

	c.Cur.NewStore(c.ValueAs(in.Operands[0], 1), p)

	return nil
}

func lowerSetCPUFeature(c *Context, cursor *int) error {
	in := c.next(cursor)

	_, err := c.callSupport(SetFeature, c.ValueAs(in.Operands[0], 4), c.ValueAs(in.Operands[1], 4))

	return err
}

func lowerTakeException(c *Context, cursor *int) error {
	in := c.next(cursor)

	_, err := c.callSupport(TakeException, c.ValueAs(in.Operands[0], 4), c.ValueAs(in.Operands[1], 4))

	return err
}

func getMode(name string) LowerFunc {
	return func(c *Context, cursor *int) error {
		in := c.next(cursor)

		v, err := c.callSupport(name)
		if err != nil {
			return err
		}

		c.SetValue(in.Operands[0], v)

		return nil
	}
}

func setMode(name string) LowerFunc {
	return func(c *Context, cursor *int) error {
		in := c.next(cursor)

		_, err := c.callSupport(name, c.ValueAs(in.Operands[0], 4))

		return err
	}
}

// lowerCount adds amount to 64-bit counter at host address.
func lowerCount(c *Context, cursor *int) error {
	in := c.next(cursor)
	ptr, amt := in.Operands[0], in.Operands[1]

	p := c.Cur.NewIntToPtr(constant.NewInt(types.I64, int64(ptr.Value)), i64p)
	c.Tags.Set(p, alias.Tag{Role: alias.Counter, Size: 8})

	v := c.Cur.NewLoad(types.I64, p)
	v2 := c.Cur.NewAdd(v, c.Address(amt))

	c.Cur.NewStore(v2, p)

	return nil
}
