package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitmapRanges(t *testing.T) {
	var s Bitmap

	s.SetRange(4, 8)
	assert.True(t, s.HasRange(4, 8))
	assert.False(t, s.HasRange(3, 8))
	assert.Equal(t, 4, s.Size())

	s.SetRange(60, 200)
	assert.True(t, s.HasRange(60, 200))
	assert.Equal(t, 4+140, s.Size())
	assert.Equal(t, 4, s.First())
	assert.Equal(t, 199, s.Last())

	s.ClearRange(5, 7)
	assert.False(t, s.HasRange(4, 8))
	assert.True(t, s.IsSet(4))
	assert.True(t, s.IsSet(7))
}

func TestBitmapOps(t *testing.T) {
	a := Full(16)
	b := MakeBitmap(0)
	b.SetRange(8, 100)

	c := a.Copy()
	c.And(b)
	assert.Equal(t, 8, c.Size())
	assert.True(t, c.HasRange(8, 16))

	c = a.Copy()
	c.AndNot(b)
	assert.True(t, c.HasRange(0, 8))
	assert.False(t, c.IsSet(8))

	c = a.Copy()
	c.Or(b)
	assert.True(t, c.HasRange(0, 100))

	assert.True(t, a.Equal(Full(16)))
	assert.False(t, a.Equal(b))

	var empty Bitmap
	assert.True(t, empty.Equal(MakeBitmap(300)))

	var got []int
	c = MakeBitmap(0)
	c.Set(3)
	c.Set(70)
	c.Range(func(i int) bool {
		got = append(got, i)
		return true
	})
	assert.Equal(t, []int{3, 70}, got)
}
