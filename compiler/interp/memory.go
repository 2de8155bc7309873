package interp

import (
	"encoding/binary"
	"fmt"

	"github.com/google/btree"
	"tlog.app/go/errors"
)

type (
	Region struct {
		Name string
		Base uint64
		Data []byte
	}

	// Memory is a sparse host address space made of regions.
	Memory struct {
		t *btree.BTreeG[*Region]

		next uint64
	}

	FaultError struct {
		Addr uint64
		Size int
	}
)

// Alloc places regions from this address up.
const AllocBase = 0x7f00_0000_0000

func NewMemory() *Memory {
	return &Memory{
		t: btree.NewG(8, func(a, b *Region) bool {
			return a.Base < b.Base
		}),
		next: AllocBase,
	}
}

func (r *Region) End() uint64 { return r.Base + uint64(len(r.Data)) }

// Map creates region at base.
func (m *Memory) Map(name string, base, size uint64) (*Region, error) {
	if size == 0 {
		return nil, errors.New("map %v: empty region", name)
	}

	if base+size < base {
		return nil, errors.New("map %v: region wraps", name)
	}

	r := &Region{Name: name, Base: base, Data: make([]byte, size)}

	var clash *Region

	m.t.DescendLessOrEqual(&Region{Base: r.End() - 1}, func(x *Region) bool {
		if x.End() > base {
			clash = x
		}

		return false
	})

	if clash != nil {
		return nil, errors.New("map %v: overlaps %v [%#x, %#x)", name, clash.Name, clash.Base, clash.End())
	}

	m.t.ReplaceOrInsert(r)

	return r, nil
}

// Alloc maps a fresh 16-byte aligned region.
// Regions are separated by unmapped gaps.
func (m *Memory) Alloc(name string, size uint64) *Region {
	if size == 0 {
		size = 1
	}

	r, err := m.Map(name, m.next, size)
	if err != nil {
		panic(err)
	}

	m.next += (size + 16 + 15) &^ 15

	return r
}

func (m *Memory) Free(r *Region) {
	m.t.Delete(r)
}

// Region returns region containing [addr, addr+n).
func (m *Memory) Region(addr uint64, n int) (r *Region, err error) {
	m.t.DescendLessOrEqual(&Region{Base: addr}, func(x *Region) bool {
		r = x
		return false
	})

	if r == nil || addr+uint64(n) > r.End() || addr+uint64(n) < addr {
		return nil, FaultError{Addr: addr, Size: n}
	}

	return r, nil
}

// Bytes returns the memory at [addr, addr+n) for direct access.
func (m *Memory) Bytes(addr uint64, n int) ([]byte, error) {
	r, err := m.Region(addr, n)
	if err != nil {
		return nil, err
	}

	off := addr - r.Base

	return r.Data[off : off+uint64(n)], nil
}

// Read loads n bytes little endian. n is 1, 2, 4 or 8.
func (m *Memory) Read(addr uint64, n int) (uint64, error) {
	b, err := m.Bytes(addr, n)
	if err != nil {
		return 0, err
	}

	switch n {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case 8:
		return binary.LittleEndian.Uint64(b), nil
	}

	return 0, errors.New("read of %d bytes", n)
}

// Write stores n low bytes of v little endian.
func (m *Memory) Write(addr uint64, n int, v uint64) error {
	b, err := m.Bytes(addr, n)
	if err != nil {
		return err
	}

	switch n {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, v)
	default:
		return errors.New("write of %d bytes", n)
	}

	return nil
}

func (e FaultError) Error() string {
	return fmt.Sprintf("memory fault at %#x (%d bytes)", e.Addr, e.Size)
}
