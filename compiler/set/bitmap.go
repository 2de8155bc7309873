package set

import (
	"math/bits"

	"tlog.app/go/tlog/tlwire"
)

type (
	// Bitmap is a growable set of small non-negative ints.
	// The zero value is an empty set.
	Bitmap struct {
		b []uint64
	}
)

func NewBitmap(len int) *Bitmap {
	s := MakeBitmap(len)
	return &s
}

func MakeBitmap(len int) Bitmap {
	return Bitmap{b: make([]uint64, (len+63)/64)}
}

// Full returns the set [0, n).
func Full(n int) Bitmap {
	s := MakeBitmap(n)
	s.SetRange(0, n)

	return s
}

func (s *Bitmap) Set(i int) {
	i, j := ij(i)

	s.grow(i)

	s.b[i] |= 1 << j
}

func (s *Bitmap) Clear(i int) {
	i, j := ij(i)

	if i >= len(s.b) {
		return
	}

	s.b[i] &^= 1 << j
}

func (s *Bitmap) IsSet(i int) bool {
	i, j := ij(i)

	if i >= len(s.b) {
		return false
	}

	return s.b[i]&(1<<j) != 0
}

// SetRange adds [l, r).
func (s *Bitmap) SetRange(l, r int) {
	for i := l; i < r; {
		w, j := ij(i)

		if j == 0 && r-i >= 64 {
			s.grow(w)
			s.b[w] = ^uint64(0)
			i += 64

			continue
		}

		s.Set(i)
		i++
	}
}

// ClearRange removes [l, r).
func (s *Bitmap) ClearRange(l, r int) {
	for i := l; i < r; i++ {
		s.Clear(i)
	}
}

// HasRange reports whether all of [l, r) is in the set.
func (s *Bitmap) HasRange(l, r int) bool {
	for i := l; i < r; i++ {
		if !s.IsSet(i) {
			return false
		}
	}

	return true
}

func (s *Bitmap) Or(x Bitmap) {
	s.grow(len(x.b) - 1)

	for i, x := range x.b {
		s.b[i] |= x
	}
}

// And keeps only elements also in x.
func (s *Bitmap) And(x Bitmap) {
	for i := range s.b {
		if i < len(x.b) {
			s.b[i] &= x.b[i]
		} else {
			s.b[i] = 0
		}
	}
}

func (s *Bitmap) AndNot(x Bitmap) {
	for i, x := range x.b {
		if i == len(s.b) {
			break
		}

		s.b[i] &^= x
	}
}

func (s Bitmap) Copy() Bitmap {
	return Bitmap{b: append([]uint64{}, s.b...)}
}

func (s Bitmap) Equal(x Bitmap) bool {
	n := max(len(s.b), len(x.b))

	for i := 0; i < n; i++ {
		if s.word(i) != x.word(i) {
			return false
		}
	}

	return true
}

func (s *Bitmap) Size() (r int) {
	if s == nil {
		return 0
	}

	for _, c := range s.b {
		r += bits.OnesCount64(c)
	}

	return r
}

func (s *Bitmap) Reset() {
	for i := range s.b {
		s.b[i] = 0
	}
}

func (s *Bitmap) Range(f func(i int) bool) {
	for i, x := range s.b {
		for x != 0 {
			j := bits.TrailingZeros64(x)
			x &^= 1 << j

			if !f(i*64 + j) {
				return
			}
		}
	}
}

func (s *Bitmap) First() int {
	for i, x := range s.b {
		if x == 0 {
			continue
		}

		return i*64 + bits.TrailingZeros64(x)
	}

	return -1
}

func (s *Bitmap) Last() int {
	for i := len(s.b) - 1; i >= 0; i-- {
		if s.b[i] == 0 {
			continue
		}

		return i*64 + 63 - bits.LeadingZeros64(s.b[i])
	}

	return -1
}

func (s *Bitmap) Len() int {
	return s.Last() + 1
}

func (s Bitmap) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	if s.b == nil {
		return e.AppendNil(b)
	}

	b = e.AppendTag(b, tlwire.Array, -1)

	s.Range(func(i int) bool {
		b = e.AppendInt(b, i)

		return true
	})

	b = e.AppendBreak(b)

	return b
}

func (s Bitmap) word(i int) uint64 {
	if i < len(s.b) {
		return s.b[i]
	}

	return 0
}

func ij(pos int) (i int, j int) {
	return pos / 64, pos % 64
}

func (s *Bitmap) grow(i int) {
	for i >= len(s.b) {
		s.b = append(s.b, 0)
	}
}
