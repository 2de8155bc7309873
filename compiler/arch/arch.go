package arch

import (
	"tlog.app/go/errors"
)

type (
	// RegisterEntry describes a bank of Count registers of Size bytes
	// laid out Stride bytes apart starting at Offset.
	RegisterEntry struct {
		Name   string
		ID     int
		Tag    string
		Offset uint64
		Size   uint64
		Stride uint64
		Count  int
	}

	RegisterFile struct {
		Size    uint64
		Entries []RegisterEntry
	}

	StateEntry struct {
		Name   string
		Offset uint64
		Size   uint64
	}

	StateBlock struct {
		Entries []StateEntry

		size uint64
	}
)

// Standard state block entries.
const (
	ThreadPtr     = "thread_ptr"
	ModeID        = "mode_id"
	ReadCachePtr  = "smm_read_cache"
	WriteCachePtr = "smm_write_cache"
)

var ErrNotFound = errors.New("not found")

// NewRegisterFile lays out entries one after another in order
// and assigns ids. Entries with Offset set are kept where they are.
func NewRegisterFile(entries ...RegisterEntry) *RegisterFile {
	rf := &RegisterFile{}

	for i, e := range entries {
		if e.Count == 0 {
			e.Count = 1
		}

		if e.Stride == 0 {
			e.Stride = e.Size
		}

		if e.Offset == 0 && i != 0 {
			e.Offset = align(rf.Size, e.Size)
		}

		e.ID = i

		rf.Entries = append(rf.Entries, e)

		if end := e.Offset + e.Stride*uint64(e.Count); end > rf.Size {
			rf.Size = end
		}
	}

	return rf
}

func (rf *RegisterFile) ByID(id int) (RegisterEntry, error) {
	if id < 0 || id >= len(rf.Entries) {
		return RegisterEntry{}, errors.Wrap(ErrNotFound, "register bank %d", id)
	}

	return rf.Entries[id], nil
}

func (rf *RegisterFile) ByName(name string) (RegisterEntry, error) {
	for _, e := range rf.Entries {
		if e.Name == name {
			return e, nil
		}
	}

	return RegisterEntry{}, errors.Wrap(ErrNotFound, "register %q", name)
}

func (rf *RegisterFile) ByTag(tag string) (RegisterEntry, error) {
	for _, e := range rf.Entries {
		if e.Tag == tag {
			return e, nil
		}
	}

	return RegisterEntry{}, errors.Wrap(ErrNotFound, "register tag %q", tag)
}

// OffsetOf returns the offset of the index-th register of the bank.
func (e RegisterEntry) OffsetOf(index int) (uint64, error) {
	if index < 0 || index >= e.Count {
		return 0, errors.New("%v: index %d out of range [0, %d)", e.Name, index, e.Count)
	}

	return e.Offset + e.Stride*uint64(index), nil
}

func NewStateBlock() *StateBlock {
	return &StateBlock{}
}

// DefaultStateBlock contains entries generated code relies on.
func DefaultStateBlock() *StateBlock {
	sb := NewStateBlock()

	sb.Add(ThreadPtr, 8)
	sb.Add(ModeID, 1)
	sb.Add(ReadCachePtr, 8)
	sb.Add(WriteCachePtr, 8)

	return sb
}

// Add appends naturally aligned entry and returns its offset.
func (sb *StateBlock) Add(name string, size uint64) uint64 {
	off := align(sb.size, size)

	sb.Entries = append(sb.Entries, StateEntry{
		Name:   name,
		Offset: off,
		Size:   size,
	})

	sb.size = off + size

	return off
}

func (sb *StateBlock) Entry(name string) (StateEntry, error) {
	for _, e := range sb.Entries {
		if e.Name == name {
			return e, nil
		}
	}

	return StateEntry{}, errors.Wrap(ErrNotFound, "state entry %q", name)
}

func (sb *StateBlock) Size() uint64 { return align(sb.size, 8) }

func align(x, a uint64) uint64 {
	if a == 0 {
		return x
	}

	return (x + a - 1) / a * a
}
