// Package regopt removes register file stores whose value is never observed.
//
// A store is dead if every byte it writes is overwritten on every path
// from it before any read of that byte and before the function returns
// or calls out. Pointers are resolved with alias tags left by lowering
// or by following constant pointer arithmetic back to the register file
// parameter. Accesses that can't be resolved never make a store dead.
// Stores in blocks from which the function can't exit are kept.
package regopt

import (
	"context"
	"slices"
	"strings"

	ll "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"nikand.dev/go/heap"
	"tlog.app/go/tlog"

	"github.com/slowlang/blockjit/compiler/alias"
	"github.com/slowlang/blockjit/compiler/layout"
	"github.com/slowlang/blockjit/compiler/set"
)

type (
	accessKind uint8

	// access is what a load or store does to the register file.
	access struct {
		kind      accessKind
		off, size int
	}

	pass struct {
		f    *ll.Func
		tags *alias.Table
		g    *graph

		regfile value.Value

		acc map[ll.Instruction]access

		// in[b] is the set of bytes overwritten before read
		// on every path from the start of b.
		in  []set.Bitmap
		top int

		// exiting[b] if there is a path from b to a function exit.
		exiting set.Bitmap
	}
)

const (
	accNone  accessKind = iota // not the register file
	accKnown                   // [off, off+size)
	accAny                     // anywhere in the register file
)

// Offsets beyond this are not tracked.
const maxOffset = 1 << 20

// DeadStores returns register file stores of f proven dead.
// f must take the register file pointer as its first parameter.
// tags may be nil.
func DeadStores(f *ll.Func, tags *alias.Table) []*ll.InstStore {
	if len(f.Blocks) == 0 || len(f.Params) == 0 {
		return nil
	}

	p := &pass{
		f:       f,
		tags:    tags,
		g:       newGraph(f),
		regfile: f.Params[0],
		acc:     make(map[ll.Instruction]access),
	}

	p.g.regions()

	p.collect()
	p.solve()

	var dead []*ll.InstStore

	for b := range f.Blocks {
		if !p.exiting.IsSet(b) {
			continue
		}

		var bd []*ll.InstStore

		p.block(b, func(st *ll.InstStore) {
			bd = append(bd, st)
		})

		slices.Reverse(bd)
		dead = append(dead, bd...)
	}

	return dead
}

// Run removes dead register file stores from f and returns them.
func Run(ctx context.Context, f *ll.Func, tags *alias.Table) (dead []*ll.InstStore) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "regopt", "func", f.Name())
	defer func() {
		tr.Finish("dead", len(dead))
	}()

	dead = DeadStores(f, tags)
	if len(dead) == 0 {
		return nil
	}

	rm := make(map[ll.Instruction]struct{}, len(dead))

	for _, st := range dead {
		rm[st] = struct{}{}

		if tr.If("regopt_dead") {
			tr.Printw("dead store", "store", st.LLString())
		}
	}

	for _, b := range f.Blocks {
		insts := b.Insts[:0]

		for _, in := range b.Insts {
			if _, ok := rm[in]; ok {
				continue
			}

			insts = append(insts, in)
		}

		b.Insts = insts
	}

	return dead
}

func (p *pass) collect() {
	for _, b := range p.f.Blocks {
		for _, in := range b.Insts {
			var a access

			switch in := in.(type) {
			case *ll.InstStore:
				a = p.resolve(in.Dst, in.Src.Type())
			case *ll.InstLoad:
				a = p.resolve(in.Src, in.ElemType)
			default:
				continue
			}

			p.acc[in] = a

			if a.kind == accKnown {
				p.top = max(p.top, a.off+a.size)
			}
		}
	}

	tlog.V("regopt").Printw("accesses", "func", p.f.Name(), "accesses", len(p.acc), "bytes", p.top)
}

func (p *pass) solve() {
	n := len(p.f.Blocks)

	p.in = make([]set.Bitmap, n)
	p.exiting = p.exits()

	for b := range p.in {
		if p.exiting.IsSet(b) {
			p.in[b] = set.Full(p.top)
		}
	}

	rank := p.g.rank

	jobs := heap.Heap[int]{Less: func(d []int, i, j int) bool {
		return rank[d[i]] < rank[d[j]]
	}}

	queued := set.MakeBitmap(n)

	for b := 0; b < n; b++ {
		if !p.exiting.IsSet(b) {
			continue
		}

		jobs.Push(b)
		queued.Set(b)
	}

	iters := 0

	for jobs.Len() != 0 {
		b := jobs.Pop()
		queued.Clear(b)
		iters++

		d := p.block(b, nil)
		if d.Equal(p.in[b]) {
			continue
		}

		p.in[b] = d

		for _, pr := range p.g.preds[b] {
			if queued.IsSet(pr) {
				continue
			}

			queued.Set(pr)
			jobs.Push(pr)
		}
	}

	tlog.V("regopt").Printw("solved", "func", p.f.Name(), "blocks", n, "iters", iters)
}

// exits marks blocks reaching ret or any other non-branch terminator.
// Stores in endless loops are never dead.
func (p *pass) exits() set.Bitmap {
	r := set.MakeBitmap(len(p.f.Blocks))

	var q []int

	for b, bl := range p.f.Blocks {
		switch bl.Term.(type) {
		case *ll.TermBr, *ll.TermCondBr:
			continue
		}

		r.Set(b)
		q = append(q, b)
	}

	for len(q) != 0 {
		b := q[len(q)-1]
		q = q[:len(q)-1]

		for _, pr := range p.g.preds[b] {
			if r.IsSet(pr) {
				continue
			}

			r.Set(pr)
			q = append(q, pr)
		}
	}

	return r
}

// block computes the set at the start of block b.
// dead is called for each dead store found, last first.
func (p *pass) block(b int, dead func(st *ll.InstStore)) set.Bitmap {
	d := p.out(b)

	p.term(p.f.Blocks[b].Term, &d)

	insts := p.f.Blocks[b].Insts

	for i := len(insts) - 1; i >= 0; i-- {
		p.transfer(insts[i], &d, dead)
	}

	return d
}

func (p *pass) out(b int) set.Bitmap {
	ss := p.g.succs[b]
	if len(ss) == 0 {
		return set.Bitmap{}
	}

	d := p.in[ss[0]].Copy()

	for _, s := range ss[1:] {
		d.And(p.in[s])
	}

	return d
}

func (p *pass) term(t ll.Terminator, d *set.Bitmap) {
	switch t.(type) {
	case *ll.TermBr, *ll.TermCondBr:
	default:
		d.Reset()
	}
}

func (p *pass) transfer(in ll.Instruction, d *set.Bitmap, dead func(st *ll.InstStore)) {
	switch in := in.(type) {
	case *ll.InstStore:
		a := p.acc[in]
		if a.kind != accKnown {
			return
		}

		if dead != nil && d.HasRange(a.off, a.off+a.size) {
			dead(in)
		}

		d.SetRange(a.off, a.off+a.size)
	case *ll.InstLoad:
		switch a := p.acc[in]; a.kind {
		case accKnown:
			d.ClearRange(a.off, a.off+a.size)
		case accAny:
			d.Reset()
		}
	case *ll.InstCall:
		if f, ok := in.Callee.(*ll.Func); ok && strings.HasPrefix(f.Name(), "llvm.") {
			return
		}

		d.Reset()
	}
}

// resolve classifies access of type typ through ptr.
func (p *pass) resolve(ptr value.Value, typ types.Type) access {
	size, err := layout.Size(typ)
	if err != nil || size == 0 {
		return p.any(ptr)
	}

	kind, off := p.pointer(ptr)
	if kind != accKnown {
		return access{kind: kind}
	}

	if off < 0 || off+int64(size) > maxOffset {
		return access{kind: accAny}
	}

	return access{kind: accKnown, off: int(off), size: int(size)}
}

func (p *pass) any(ptr value.Value) access {
	if k, _ := p.pointer(ptr); k == accNone {
		return access{kind: accNone}
	}

	return access{kind: accAny}
}

// pointer resolves ptr to a register file offset.
func (p *pass) pointer(ptr value.Value) (accessKind, int64) {
	if tag, ok := p.tags.Get(ptr); ok {
		switch {
		case !tag.Role.RegisterFile():
			return accNone, 0
		case tag.Role == alias.RegAccess:
			return accKnown, int64(tag.Offset)
		case tag.Role == alias.RegDynamic:
			return accAny, 0
		}
	}

	if ptr == p.regfile {
		return accKnown, 0
	}

	switch v := ptr.(type) {
	case *ll.Param:
		return accNone, 0
	case *ll.InstAlloca:
		return accNone, 0
	case *ll.InstBitCast:
		return p.pointer(v.From)
	case *ll.InstIntToPtr:
		return p.integer(v.From)
	case *ll.InstGetElementPtr:
		kind, base := p.pointer(v.Src)
		if kind != accKnown {
			return kind, 0
		}

		idx := make([]int64, len(v.Indices))

		for i, x := range v.Indices {
			c, ok := x.(*constant.Int)
			if !ok || !c.X.IsInt64() {
				return accAny, 0
			}

			idx[i] = c.X.Int64()
		}

		off, err := layout.Offset(v.ElemType, idx)
		if err != nil {
			return accAny, 0
		}

		return accKnown, base + off
	}

	return accAny, 0
}

// integer resolves pointer-sized integer arithmetic on the register file address.
func (p *pass) integer(x value.Value) (accessKind, int64) {
	switch v := x.(type) {
	case *ll.InstPtrToInt:
		return p.pointer(v.From)
	case *ll.InstAdd:
		if c, ok := v.Y.(*constant.Int); ok && c.X.IsInt64() {
			kind, off := p.integer(v.X)
			return kind, off + c.X.Int64()
		}

		if c, ok := v.X.(*constant.Int); ok && c.X.IsInt64() {
			kind, off := p.integer(v.Y)
			return kind, off + c.X.Int64()
		}

		kx, _ := p.integer(v.X)
		ky, _ := p.integer(v.Y)

		if kx == accNone && ky == accNone {
			return accNone, 0
		}
	case *ll.InstSub:
		if c, ok := v.Y.(*constant.Int); ok && c.X.IsInt64() {
			kind, off := p.integer(v.X)
			return kind, off - c.X.Int64()
		}
	}

	return accAny, 0
}
