package lower

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/blockjit/compiler/ir"
)

type (
	// Lowerer emits code for the instruction at cursor
	// and advances cursor past everything it consumed.
	Lowerer interface {
		Lower(c *Context, cursor *int) error
	}

	LowerFunc func(c *Context, cursor *int) error

	// Table maps each opcode to its lowerer.
	Table [ir.NumOpcodes]Lowerer
)

func (f LowerFunc) Lower(c *Context, cursor *int) error { return f(c, cursor) }

// NewTable returns lowerers for the memory model.
func NewTable(m MemoryModel) (*Table, error) {
	t := baseTable()

	switch m {
	case Generic:
		t[ir.ReadMem] = LowerFunc(genericRead)
		t[ir.WriteMem] = LowerFunc(genericWrite)
	case User:
		t[ir.ReadMem] = LowerFunc(userRead)
		t[ir.WriteMem] = LowerFunc(userWrite)
	case Cache:
		t[ir.ReadMem] = LowerFunc(cacheRead)
		t[ir.WriteMem] = LowerFunc(cacheWrite)
	default:
		return nil, errors.New("unsupported memory model: %q", m)
	}

	for op, l := range t {
		if l == nil {
			return nil, errors.New("no lowerer for %v", ir.Opcode(op))
		}
	}

	return &t, nil
}

// Lower lowers the unit into the context function.
// On error the function is incomplete and must be discarded.
func (c *Context) Lower(ctx context.Context, u *ir.Unit) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "lower unit", "unit", u.Name, "insts", u.Len(), "model", c.MemoryModel)
	defer tr.Finish("err", &err)

	if c.unit != nil {
		return errors.New("context already used for %v", c.unit.Name)
	}

	err = u.Validate()
	if err != nil {
		return errors.Wrap(err, "validate")
	}

	c.unit = u

	for i := 0; i < u.Len(); {
		id := u.At(i).Block

		err = c.lowerBlock(ctx, id, &i)
		if err != nil {
			return errors.Wrap(err, "block %v", id)
		}
	}

	err = c.finish()
	if err != nil {
		return errors.Wrap(err, "finish")
	}

	if tr.If("dump_ir") {
		tr.Printw("lowered", "func", c.Func.Name(), "blocks", len(c.Func.Blocks), "ir", c.Func.LLString())
	}

	return nil
}

// lowerBlock lowers instructions of block id starting at cursor.
// It stops at the first instruction of another block.
func (c *Context) lowerBlock(ctx context.Context, id ir.BlockID, cursor *int) error {
	if c.defined[id] {
		return errors.New("block %v is split", id)
	}

	c.defined[id] = true
	c.Cur = c.Block(id)

	tr := tlog.SpanFromContext(ctx)

	for *cursor < c.unit.Len() {
		in := c.unit.At(*cursor)

		if !in.Continues && in.Block != id {
			break
		}

		if c.Cur.Term != nil {
			return errors.New("inst %d: %v after terminator", *cursor, in.Op)
		}

		l := c.table[in.Op]
		if l == nil {
			panic(unimplemented("opcode %v", in.Op))
		}

		if tr.If("lower_inst") {
			tr.Printw("lower", "i", *cursor, "inst", in)
		}

		st := *cursor

		err := l.Lower(c, cursor)
		if err != nil {
			return errors.Wrap(err, "inst %d: %v", st, in.Op)
		}

		if *cursor <= st {
			panic("lowerer did not advance cursor: " + in.Op.String())
		}
	}

	return nil
}

func (c *Context) finish() error {
	blocks := c.unit.Blocks()

	if len(blocks) == 0 {
		c.Entry.NewRet(nil)
		return nil
	}

	c.Entry.NewBr(c.Block(blocks[0]))

	for _, id := range c.order {
		if !c.defined[id] {
			return errors.New("block %v referenced but not defined", id)
		}
	}

	for _, b := range c.Func.Blocks {
		if b.Term == nil {
			return errors.New("%v is not terminated", b.Ident())
		}
	}

	return nil
}

// next returns current instruction and advances cursor.
func (c *Context) next(cursor *int) *ir.Inst {
	in := c.unit.At(*cursor)
	*cursor++

	return in
}
