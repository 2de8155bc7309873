// Package interp executes the subset of LLVM IR generated by lowering.
//
// All values are kept as uint64 truncated to their type width.
// Pointers are addresses in Memory.
package interp

import (
	"math/bits"
	"strings"

	ll "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/blockjit/compiler/layout"
)

type (
	HostFunc func(m *Machine, args []uint64) (uint64, error)

	Machine struct {
		Mem *Memory

		// Funcs implement declared functions by name.
		Funcs map[string]HostFunc

		// Addrs implement functions called through a constant address.
		Addrs map[uint64]HostFunc

		MaxSteps int
		Steps    int
	}

	frame struct {
		vals   map[value.Value]uint64
		allocs []*Region
	}
)

var ErrSteps = errors.New("step limit exceeded")

func New(mem *Memory) *Machine {
	if mem == nil {
		mem = NewMemory()
	}

	return &Machine{
		Mem:      mem,
		Funcs:    make(map[string]HostFunc),
		Addrs:    make(map[uint64]HostFunc),
		MaxSteps: 1_000_000,
	}
}

// Call runs f with args and returns its result, if any.
func (m *Machine) Call(f *ll.Func, args ...uint64) (r uint64, err error) {
	if len(f.Blocks) == 0 {
		return m.callHost(f.Name(), args)
	}

	if len(args) != len(f.Params) {
		return 0, errors.New("%v: %d args, want %d", f.Name(), len(args), len(f.Params))
	}

	fr := &frame{vals: make(map[value.Value]uint64)}

	defer func() {
		for _, a := range fr.allocs {
			m.Mem.Free(a)
		}
	}()

	for i, p := range f.Params {
		fr.vals[p] = trunc(args[i], p.Type())
	}

	var prev *ll.Block
	b := f.Blocks[0]

	for {
		next, ret, done, err := m.block(fr, prev, b)
		if err != nil {
			return 0, errors.Wrap(err, "%v: %v", f.Name(), b.Ident())
		}

		if done {
			return ret, nil
		}

		prev, b = b, next
	}
}

func (m *Machine) block(fr *frame, prev, b *ll.Block) (next *ll.Block, ret uint64, done bool, err error) {
	err = m.phis(fr, prev, b)
	if err != nil {
		return
	}

	for _, in := range b.Insts {
		if _, ok := in.(*ll.InstPhi); ok {
			continue
		}

		m.Steps++
		if m.MaxSteps != 0 && m.Steps > m.MaxSteps {
			return nil, 0, false, ErrSteps
		}

		err = m.exec(fr, in)
		if err != nil {
			return nil, 0, false, errors.Wrap(err, "%v", in.LLString())
		}
	}

	switch t := b.Term.(type) {
	case *ll.TermBr:
		next = asBlock(t.Target)
	case *ll.TermCondBr:
		c, err := m.val(fr, t.Cond)
		if err != nil {
			return nil, 0, false, err
		}

		if c != 0 {
			next = asBlock(t.TargetTrue)
		} else {
			next = asBlock(t.TargetFalse)
		}
	case *ll.TermRet:
		if t.X == nil {
			return nil, 0, true, nil
		}

		ret, err = m.val(fr, t.X)

		return nil, ret, true, err
	case *ll.TermUnreachable:
		return nil, 0, false, errors.New("unreachable executed")
	default:
		return nil, 0, false, errors.New("unsupported terminator %T", b.Term)
	}

	if next == nil {
		return nil, 0, false, errors.New("bad branch target")
	}

	return next, 0, false, nil
}

// phis assigns all phi nodes of b at once.
func (m *Machine) phis(fr *frame, prev, b *ll.Block) error {
	type assign struct {
		v value.Value
		x uint64
	}

	var as []assign

	for _, in := range b.Insts {
		p, ok := in.(*ll.InstPhi)
		if !ok {
			continue
		}

		found := false

		for _, inc := range p.Incs {
			if asBlock(inc.Pred) != prev {
				continue
			}

			x, err := m.val(fr, inc.X)
			if err != nil {
				return errors.Wrap(err, "phi")
			}

			as = append(as, assign{v: p, x: x})
			found = true

			break
		}

		if !found {
			return errors.New("phi %v: no incoming from %v", p.Ident(), ident(prev))
		}
	}

	for _, a := range as {
		fr.vals[a.v] = a.x
	}

	return nil
}

func (m *Machine) exec(fr *frame, in ll.Instruction) (err error) {
	var r uint64

	switch in := in.(type) {
	case *ll.InstAlloca:
		s, err := layout.Size(in.ElemType)
		if err != nil {
			return err
		}

		a := m.Mem.Alloc("alloca", s)
		fr.allocs = append(fr.allocs, a)

		r = a.Base
	case *ll.InstLoad:
		addr, err := m.val(fr, in.Src)
		if err != nil {
			return err
		}

		s, err := layout.Size(in.ElemType)
		if err != nil {
			return err
		}

		r, err = m.Mem.Read(addr, int(s))
		if err != nil {
			return err
		}
	case *ll.InstStore:
		v, err := m.val(fr, in.Src)
		if err != nil {
			return err
		}

		addr, err := m.val(fr, in.Dst)
		if err != nil {
			return err
		}

		s, err := layout.Size(in.Src.Type())
		if err != nil {
			return err
		}

		return m.Mem.Write(addr, int(s), v)
	case *ll.InstGetElementPtr:
		base, err := m.val(fr, in.Src)
		if err != nil {
			return err
		}

		idx := make([]int64, len(in.Indices))

		for i, x := range in.Indices {
			v, err := m.val(fr, x)
			if err != nil {
				return err
			}

			idx[i] = signed(v, x.Type())
		}

		off, err := layout.Offset(in.ElemType, idx)
		if err != nil {
			return err
		}

		r = base + uint64(off)
	case *ll.InstICmp:
		x, y, err := m.pair(fr, in.X, in.Y)
		if err != nil {
			return err
		}

		if icmp(in.Pred, x, y, in.X.Type()) {
			r = 1
		}
	case *ll.InstZExt:
		r, err = m.val(fr, in.From)
	case *ll.InstSExt:
		r, err = m.val(fr, in.From)
		r = uint64(signed(r, in.From.Type()))
	case *ll.InstTrunc:
		r, err = m.val(fr, in.From)
	case *ll.InstPtrToInt:
		r, err = m.val(fr, in.From)
	case *ll.InstIntToPtr:
		r, err = m.val(fr, in.From)
	case *ll.InstBitCast:
		r, err = m.val(fr, in.From)
	case *ll.InstCall:
		r, err = m.call(fr, in)
	default:
		r, err = m.arith(fr, in)
	}

	if err != nil {
		return err
	}

	if v, ok := in.(value.Value); ok {
		if _, void := v.Type().(*types.VoidType); !void {
			fr.vals[v] = trunc(r, v.Type())
		}
	}

	return nil
}

func (m *Machine) arith(fr *frame, in ll.Instruction) (r uint64, err error) {
	var x, y uint64
	var t types.Type

	load := func(a, b value.Value) {
		t = a.Type()
		x, y, err = m.pair(fr, a, b)
	}

	switch in := in.(type) {
	case *ll.InstAdd:
		load(in.X, in.Y)
		r = x + y
	case *ll.InstSub:
		load(in.X, in.Y)
		r = x - y
	case *ll.InstMul:
		load(in.X, in.Y)
		r = x * y
	case *ll.InstUDiv:
		load(in.X, in.Y)
		if err == nil && y == 0 {
			return 0, errors.New("division by zero")
		}
		if err == nil {
			r = x / y
		}
	case *ll.InstSDiv:
		load(in.X, in.Y)
		if err == nil && y == 0 {
			return 0, errors.New("division by zero")
		}
		if err == nil {
			r = uint64(signed(x, t) / signed(y, t))
		}
	case *ll.InstURem:
		load(in.X, in.Y)
		if err == nil && y == 0 {
			return 0, errors.New("division by zero")
		}
		if err == nil {
			r = x % y
		}
	case *ll.InstSRem:
		load(in.X, in.Y)
		if err == nil && y == 0 {
			return 0, errors.New("division by zero")
		}
		if err == nil {
			r = uint64(signed(x, t) % signed(y, t))
		}
	case *ll.InstAnd:
		load(in.X, in.Y)
		r = x & y
	case *ll.InstOr:
		load(in.X, in.Y)
		r = x | y
	case *ll.InstXor:
		load(in.X, in.Y)
		r = x ^ y
	case *ll.InstShl:
		load(in.X, in.Y)
		r = x << y
	case *ll.InstLShr:
		load(in.X, in.Y)
		r = x >> y
	case *ll.InstAShr:
		load(in.X, in.Y)
		r = uint64(signed(x, t) >> y)
	default:
		return 0, errors.New("unsupported instruction %T", in)
	}

	return r, err
}

func (m *Machine) call(fr *frame, in *ll.InstCall) (uint64, error) {
	args := make([]uint64, len(in.Args))

	for i, a := range in.Args {
		v, err := m.val(fr, a)
		if err != nil {
			return 0, errors.Wrap(err, "arg %d", i)
		}

		args[i] = v
	}

	if f, ok := in.Callee.(*ll.Func); ok {
		if strings.HasPrefix(f.Name(), "llvm.") {
			return intrinsic(f, args)
		}

		return m.Call(f, args...)
	}

	addr, err := m.val(fr, in.Callee)
	if err != nil {
		return 0, errors.Wrap(err, "callee")
	}

	h, ok := m.Addrs[addr]
	if !ok {
		return 0, errors.New("no function at %#x", addr)
	}

	return h(m, args)
}

func (m *Machine) callHost(name string, args []uint64) (uint64, error) {
	h, ok := m.Funcs[name]
	if !ok {
		return 0, errors.New("undefined function %v", name)
	}

	return h(m, args)
}

func intrinsic(f *ll.Func, args []uint64) (uint64, error) {
	name := f.Name()
	t := f.Sig.RetType

	w, ok := t.(*types.IntType)
	if !ok || len(args) == 0 {
		return 0, errors.New("bad intrinsic %v", name)
	}

	x := args[0]

	switch {
	case strings.HasPrefix(name, "llvm.ctlz."):
		return uint64(bits.LeadingZeros64(x)) - (64 - w.BitSize), nil
	case strings.HasPrefix(name, "llvm.bswap."):
		return bits.ReverseBytes64(x) >> (64 - w.BitSize), nil
	}

	return 0, errors.New("unsupported intrinsic %v", name)
}

func (m *Machine) pair(fr *frame, a, b value.Value) (x, y uint64, err error) {
	x, err = m.val(fr, a)
	if err != nil {
		return
	}

	y, err = m.val(fr, b)

	return
}

func (m *Machine) val(fr *frame, v value.Value) (uint64, error) {
	switch v := v.(type) {
	case *constant.Int:
		if v.X.IsInt64() {
			return trunc(uint64(v.X.Int64()), v.Typ), nil
		}

		return trunc(v.X.Uint64(), v.Typ), nil
	case *constant.Null:
		return 0, nil
	}

	x, ok := fr.vals[v]
	if !ok {
		tlog.V("interp").Printw("undefined value", "value", v.Ident())

		return 0, errors.New("value %v is not computed", v.Ident())
	}

	return x, nil
}

func icmp(p enum.IPred, x, y uint64, t types.Type) bool {
	switch p {
	case enum.IPredEQ:
		return x == y
	case enum.IPredNE:
		return x != y
	case enum.IPredUGT:
		return x > y
	case enum.IPredUGE:
		return x >= y
	case enum.IPredULT:
		return x < y
	case enum.IPredULE:
		return x <= y
	}

	a, b := signed(x, t), signed(y, t)

	switch p {
	case enum.IPredSGT:
		return a > b
	case enum.IPredSGE:
		return a >= b
	case enum.IPredSLT:
		return a < b
	case enum.IPredSLE:
		return a <= b
	}

	return false
}

func width(t types.Type) uint64 {
	if it, ok := t.(*types.IntType); ok {
		return it.BitSize
	}

	return 64
}

func trunc(x uint64, t types.Type) uint64 {
	w := width(t)
	if w >= 64 {
		return x
	}

	return x & (1<<w - 1)
}

func signed(x uint64, t types.Type) int64 {
	w := width(t)
	if w >= 64 {
		return int64(x)
	}

	sh := 64 - w

	return int64(x<<sh) >> sh
}

// asBlock accepts branch targets and phi predecessors.
func asBlock(v any) *ll.Block {
	b, _ := v.(*ll.Block)
	return b
}

func ident(b *ll.Block) string {
	if b == nil {
		return "entry"
	}

	return b.Ident()
}
