package lower

import (
	"fmt"

	ll "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"tlog.app/go/errors"
)

type decl struct {
	name   string
	ret    types.Type
	params []types.Type
}

// Runtime support functions. They are resolved by name by the runtime.
const (
	TakeException   = "cpuTakeException"
	ReadDevice      = "cpuReadDevice"
	WriteDevice     = "cpuWriteDevice"
	SetFeature      = "cpuSetFeature"
	SetRoundingMode = "cpuSetRoundingMode"
	GetRoundingMode = "cpuGetRoundingMode"
	SetFlushMode    = "cpuSetFlushMode"
	GetFlushMode    = "cpuGetFlushMode"
)

func supportDecls() []decl {
	ds := []decl{
		{TakeException, types.Void, []types.Type{i8p, types.I32, types.I32}},
		{ReadDevice, types.I32, []types.Type{i8p, types.I32, types.I32, i32p}},
		{WriteDevice, types.I32, []types.Type{i8p, types.I32, types.I32, types.I32}},
		{SetFeature, types.Void, []types.Type{i8p, types.I32, types.I32}},
		{SetRoundingMode, types.Void, []types.Type{i8p, types.I32}},
		{GetRoundingMode, types.I32, []types.Type{i8p}},
		{SetFlushMode, types.Void, []types.Type{i8p, types.I32}},
		{GetFlushMode, types.I32, []types.Type{i8p}},
	}

	for _, t := range []*types.IntType{types.I8, types.I16, types.I32, types.I64} {
		ds = append(ds,
			decl{ReadHelper(t.BitSize), t, []types.Type{i8pp, types.I64, types.I32}},
			decl{WriteHelper(t.BitSize), types.Void, []types.Type{i8p, types.I32, types.I64, t}},
		)
	}

	return ds
}

// ReadHelper is the name of generic memory read function of width bits.
func ReadHelper(bits uint64) string { return fmt.Sprintf("blkRead%d", bits) }

// WriteHelper is the name of generic memory write function of width bits.
func WriteHelper(bits uint64) string { return fmt.Sprintf("blkWrite%d", bits) }

func (c *Context) declareSupport() {
	for _, d := range supportDecls() {
		c.support[d.name] = c.declare(d)
	}
}

func (c *Context) declare(d decl) *ll.Func {
	for _, f := range c.Module.Funcs {
		if f.Name() == d.name {
			return f
		}
	}

	ps := make([]*ll.Param, len(d.params))

	for i, t := range d.params {
		ps[i] = ll.NewParam(fmt.Sprintf("p%d", i), t)
	}

	return c.Module.NewFunc(d.name, d.ret, ps...)
}

// Support returns declared runtime function.
func (c *Context) Support(name string) (*ll.Func, error) {
	f, ok := c.support[name]
	if !ok {
		return nil, errors.New("support function %q not declared", name)
	}

	return f, nil
}

// intrinsic returns llvm intrinsic declaring it on first use.
func (c *Context) intrinsic(name string, ret types.Type, params ...types.Type) *ll.Func {
	if f, ok := c.support[name]; ok {
		return f
	}

	f := c.declare(decl{name: name, ret: ret, params: params})
	c.support[name] = f

	return f
}

// callSupport calls runtime function passing thread handle first.
func (c *Context) callSupport(name string, args ...value.Value) (*ll.InstCall, error) {
	f, err := c.Support(name)
	if err != nil {
		return nil, err
	}

	th, err := c.ThreadPtr()
	if err != nil {
		return nil, err
	}

	args = append([]value.Value{th}, args...)

	return c.Cur.NewCall(f, args...), nil
}
