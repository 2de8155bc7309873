package regopt

import (
	"slices"

	ll "github.com/llir/llvm/ir"

	"github.com/slowlang/blockjit/compiler/set"
)

type (
	// Region is a part of the control flow graph.
	// The root region has no Header. A loop region is entered through
	// its Header, edges back to it are not part of the region.
	// Blocks lists blocks not belonging to nested loops.
	Region struct {
		Header *ll.Block
		Blocks []*ll.Block
		Loops  []*Region
	}

	graph struct {
		blocks []*ll.Block
		index  map[*ll.Block]int

		succs [][]int
		preds [][]int

		// rank orders blocks successors first.
		rank []int
	}

	tarjan struct {
		g    *graph
		in   set.Bitmap
		skip int

		next  int
		num   []int
		low   []int
		stack []int
		on    set.Bitmap

		comps [][]int
	}
)

// Regions decomposes f into nested loop regions.
func Regions(f *ll.Func) *Region {
	g := newGraph(f)

	return g.regions()
}

// Walk calls fn for r and all nested regions, outer first.
func (r *Region) Walk(fn func(r *Region, depth int)) {
	r.walk(fn, 0)
}

func (r *Region) walk(fn func(r *Region, depth int), d int) {
	fn(r, d)

	for _, l := range r.Loops {
		l.walk(fn, d+1)
	}
}

func newGraph(f *ll.Func) *graph {
	g := &graph{
		blocks: f.Blocks,
		index:  make(map[*ll.Block]int, len(f.Blocks)),
		succs:  make([][]int, len(f.Blocks)),
		preds:  make([][]int, len(f.Blocks)),
	}

	for i, b := range f.Blocks {
		g.index[b] = i
	}

	for i, b := range f.Blocks {
		for _, s := range successors(b) {
			j, ok := g.index[s]
			if !ok {
				continue
			}

			g.succs[i] = append(g.succs[i], j)
			g.preds[j] = append(g.preds[j], i)
		}
	}

	return g
}

func successors(b *ll.Block) []*ll.Block {
	switch t := b.Term.(type) {
	case *ll.TermBr:
		return blocks(t.Target)
	case *ll.TermCondBr:
		return blocks(t.TargetTrue, t.TargetFalse)
	}

	return nil
}

func blocks(vs ...any) (r []*ll.Block) {
	for _, v := range vs {
		if b, ok := v.(*ll.Block); ok {
			r = append(r, b)
		}
	}

	return r
}

func (g *graph) regions() *Region {
	all := make([]int, len(g.blocks))
	for i := range all {
		all[i] = i
	}

	g.rank = make([]int, len(g.blocks))

	var order []int

	r := &Region{}
	g.build(r, all, -1, &order)

	for i, b := range order {
		g.rank[b] = i
	}

	return r
}

// build fills r with nodes. Edges to skip are ignored.
// Blocks are appended to order successors first.
func (g *graph) build(r *Region, nodes []int, skip int, order *[]int) {
	for _, comp := range g.sccs(nodes, skip) {
		if len(comp) == 1 && !g.selfLoop(comp[0], skip) {
			r.Blocks = append(r.Blocks, g.blocks[comp[0]])
			*order = append(*order, comp[0])

			continue
		}

		h := g.header(comp)

		sub := &Region{Header: g.blocks[h]}
		r.Loops = append(r.Loops, sub)

		g.build(sub, comp, h, order)
	}
}

func (g *graph) selfLoop(n, skip int) bool {
	if n == skip {
		return false
	}

	for _, s := range g.succs[n] {
		if s == n {
			return true
		}
	}

	return false
}

// header returns the node of comp entered from outside.
// Irreducible loops get the first such node.
func (g *graph) header(comp []int) int {
	var in set.Bitmap

	for _, n := range comp {
		in.Set(n)
	}

	h := -1

	for _, n := range comp {
		entry := n == 0

		for _, p := range g.preds[n] {
			if !in.IsSet(p) {
				entry = true
			}
		}

		if entry && (h == -1 || n < h) {
			h = n
		}
	}

	if h == -1 { // unreachable cycle
		h = comp[0]

		for _, n := range comp {
			h = min(h, n)
		}
	}

	return h
}

// sccs returns strongly connected components of the subgraph
// in reverse topological order.
func (g *graph) sccs(nodes []int, skip int) [][]int {
	t := &tarjan{
		g:    g,
		skip: skip,
		num:  make([]int, len(g.blocks)),
		low:  make([]int, len(g.blocks)),
	}

	for _, n := range nodes {
		t.in.Set(n)
	}

	for _, n := range nodes {
		if t.num[n] == 0 {
			t.visit(n)
		}
	}

	return t.comps
}

func (t *tarjan) visit(n int) {
	t.next++
	t.num[n] = t.next
	t.low[n] = t.next

	t.stack = append(t.stack, n)
	t.on.Set(n)

	for _, s := range t.g.succs[n] {
		if s == t.skip || !t.in.IsSet(s) {
			continue
		}

		if t.num[s] == 0 {
			t.visit(s)
			t.low[n] = min(t.low[n], t.low[s])
		} else if t.on.IsSet(s) {
			t.low[n] = min(t.low[n], t.num[s])
		}
	}

	if t.low[n] != t.num[n] {
		return
	}

	var comp []int

	for {
		l := len(t.stack) - 1
		x := t.stack[l]
		t.stack = t.stack[:l]
		t.on.Clear(x)

		comp = append(comp, x)

		if x == n {
			break
		}
	}

	slices.Sort(comp)

	t.comps = append(t.comps, comp)
}
