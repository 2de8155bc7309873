package regopt

import (
	"testing"

	ll "github.com/llir/llvm/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(bs []*ll.Block) (r []string) {
	for _, b := range bs {
		r = append(r, b.Name())
	}

	return r
}

func TestRegionsStraight(t *testing.T) {
	f, _, _, b4 := diamond()
	b4.NewRet(nil)

	r := Regions(f)

	assert.Nil(t, r.Header)
	assert.Empty(t, r.Loops)
	assert.ElementsMatch(t, []string{"b1", "b2", "b3", "b4"}, names(r.Blocks))

	// successors first
	assert.Equal(t, "b4", r.Blocks[0].Name())
	assert.Equal(t, "b1", r.Blocks[3].Name())
}

func TestRegionsSelfLoop(t *testing.T) {
	f := newFunc()

	entry := f.NewBlock("entry")
	b1 := f.NewBlock("b1")
	b2 := f.NewBlock("b2")

	entry.NewBr(b1)
	b1.NewCondBr(cond(b1), b1, b2)
	b2.NewRet(nil)

	r := Regions(f)

	assert.Equal(t, []string{"b2", "entry"}, names(r.Blocks))
	require.Len(t, r.Loops, 1)

	l := r.Loops[0]
	assert.Equal(t, b1, l.Header)
	assert.Equal(t, []string{"b1"}, names(l.Blocks))
	assert.Empty(t, l.Loops)
}

func TestRegionsNested(t *testing.T) {
	f := newFunc()

	entry := f.NewBlock("entry")
	h1 := f.NewBlock("h1")
	h2 := f.NewBlock("h2")
	latch := f.NewBlock("latch")
	exit := f.NewBlock("exit")

	entry.NewBr(h1)
	h1.NewBr(h2)
	h2.NewCondBr(cond(h2), h2, latch)
	latch.NewCondBr(cond(latch), h1, exit)
	exit.NewRet(nil)

	r := Regions(f)

	type level struct {
		header string
		blocks []string
		depth  int
	}

	var got []level

	r.Walk(func(r *Region, depth int) {
		l := level{blocks: names(r.Blocks), depth: depth}

		if r.Header != nil {
			l.header = r.Header.Name()
		}

		got = append(got, l)
	})

	assert.Equal(t, []level{
		{"", []string{"exit", "entry"}, 0},
		{"h1", []string{"latch", "h1"}, 1},
		{"h2", []string{"h2"}, 2},
	}, got)
}

func TestRegionsUnreachable(t *testing.T) {
	f := newFunc()

	entry := f.NewBlock("entry")
	dead := f.NewBlock("dead")

	entry.NewRet(nil)
	dead.NewBr(dead)

	r := Regions(f)

	assert.Equal(t, []string{"entry"}, names(r.Blocks))
	require.Len(t, r.Loops, 1)
	assert.Equal(t, dead, r.Loops[0].Header)
}
