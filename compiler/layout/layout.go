// Package layout computes in-memory sizes and offsets of LLVM types
// the way the host lays them out: little endian, 64-bit pointers,
// naturally aligned struct fields.
package layout

import (
	"github.com/llir/llvm/ir/types"
	"tlog.app/go/errors"
)

func Size(t types.Type) (uint64, error) {
	switch t := t.(type) {
	case *types.IntType:
		return (t.BitSize + 7) / 8, nil
	case *types.PointerType:
		return 8, nil
	case *types.ArrayType:
		s, err := Size(t.ElemType)
		if err != nil {
			return 0, err
		}

		return s * t.Len, nil
	case *types.StructType:
		var off, maxa uint64 = 0, 1

		for _, f := range t.Fields {
			s, a, err := sizeAlign(f)
			if err != nil {
				return 0, err
			}

			off = alignUp(off, a) + s
			maxa = max(maxa, a)
		}

		return alignUp(off, maxa), nil
	}

	return 0, errors.New("no layout for %v", t)
}

// FieldOffset returns byte offset of field i of struct t.
func FieldOffset(t *types.StructType, i int) (uint64, error) {
	if i < 0 || i >= len(t.Fields) {
		return 0, errors.New("field %d of %v", i, t)
	}

	var off uint64

	for j, f := range t.Fields {
		s, a, err := sizeAlign(f)
		if err != nil {
			return 0, err
		}

		off = alignUp(off, a)

		if j == i {
			return off, nil
		}

		off += s
	}

	panic("unreachable")
}

// Offset computes getelementptr offset of indices applied to a pointer to elem.
func Offset(elem types.Type, idx []int64) (off int64, err error) {
	if len(idx) == 0 {
		return 0, nil
	}

	s, err := Size(elem)
	if err != nil {
		return 0, err
	}

	off = idx[0] * int64(s)
	t := elem

	for _, x := range idx[1:] {
		switch tt := t.(type) {
		case *types.StructType:
			f, err := FieldOffset(tt, int(x))
			if err != nil {
				return 0, err
			}

			off += int64(f)
			t = tt.Fields[x]
		case *types.ArrayType:
			s, err := Size(tt.ElemType)
			if err != nil {
				return 0, err
			}

			off += x * int64(s)
			t = tt.ElemType
		default:
			return 0, errors.New("index into %v", t)
		}
	}

	return off, nil
}

func sizeAlign(t types.Type) (s, a uint64, err error) {
	s, err = Size(t)
	if err != nil {
		return
	}

	switch t := t.(type) {
	case *types.StructType:
		a = 1

		for _, f := range t.Fields {
			_, fa, err := sizeAlign(f)
			if err != nil {
				return 0, 0, err
			}

			a = max(a, fa)
		}
	case *types.ArrayType:
		_, a, err = sizeAlign(t.ElemType)
	default:
		a = s
	}

	if a == 0 {
		a = 1
	}

	return s, a, err
}

func alignUp(x, a uint64) uint64 {
	return (x + a - 1) / a * a
}
