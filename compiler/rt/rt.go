// Package rt is a reference runtime for generated code.
// It implements support functions over interp memory.
package rt

import (
	ll "github.com/llir/llvm/ir"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/blockjit/compiler/arch"
	"github.com/slowlang/blockjit/compiler/interp"
	"github.com/slowlang/blockjit/compiler/lower"
)

type (
	Device interface {
		Read(reg uint32) (uint32, error)
		Write(reg, val uint32) error
	}

	Exception struct {
		Category uint32
		Data     uint32
	}

	Stats struct {
		HelperReads  int
		HelperWrites int
		CacheFills   int
	}

	// Thread is one simulated CPU bound to a machine.
	Thread struct {
		M *interp.Machine

		Config  lower.Config
		RegFile *arch.RegisterFile
		State   *arch.StateBlock

		// Host addresses of thread structures.
		RegFileAddr uint64
		StateAddr   uint64
		Handle      uint64
		ReadCache   uint64
		WriteCache  uint64

		// GuestBase is added to guest addresses to get host ones.
		// It must be zero for the user memory model.
		GuestBase uint64

		// NoFill disables software cache population on helper calls.
		NoFill bool

		Devices    map[uint32]Device
		Features   map[uint32]uint32
		Rounding   uint32
		Flush      uint32
		Exceptions []Exception

		Stats
	}
)

const (
	cacheEntrySize = 16

	InvalidTag = ^uint64(0)
)

// New allocates thread structures in m memory and binds support functions.
func New(m *interp.Machine, rf *arch.RegisterFile, sb *arch.StateBlock, cfg lower.Config) (*Thread, error) {
	cfg = cfg.WithDefaults()

	t := &Thread{
		M:       m,
		Config:  cfg,
		RegFile: rf,
		State:   sb,

		Devices:  make(map[uint32]Device),
		Features: make(map[uint32]uint32),
	}

	t.RegFileAddr = m.Mem.Alloc("regfile", rf.Size).Base
	t.StateAddr = m.Mem.Alloc("state", sb.Size()).Base
	t.Handle = m.Mem.Alloc("thread", 8).Base
	t.ReadCache = m.Mem.Alloc("read_cache", cfg.CacheSize*cacheEntrySize).Base
	t.WriteCache = m.Mem.Alloc("write_cache", cfg.CacheSize*cacheEntrySize).Base

	for _, e := range []struct {
		name string
		val  uint64
	}{
		{arch.ThreadPtr, t.Handle},
		{arch.ReadCachePtr, t.ReadCache},
		{arch.WriteCachePtr, t.WriteCache},
	} {
		err := t.SetState(e.name, e.val)
		if err != nil {
			return nil, err
		}
	}

	err := t.InvalidateCaches()
	if err != nil {
		return nil, err
	}

	t.bind()

	return t, nil
}

// Run executes generated function on this thread.
func (t *Thread) Run(f *ll.Func) error {
	_, err := t.M.Call(f, t.RegFileAddr, t.StateAddr)
	return err
}

// MapGuest maps size bytes of guest memory at guest address addr.
func (t *Thread) MapGuest(addr, size uint64) error {
	_, err := t.M.Mem.Map("guest", t.GuestBase+addr, size)
	return err
}

func (t *Thread) ReadGuest(addr uint64, n int) (uint64, error) {
	return t.M.Mem.Read(t.GuestBase+addr, n)
}

func (t *Thread) WriteGuest(addr uint64, n int, v uint64) error {
	return t.M.Mem.Write(t.GuestBase+addr, n, v)
}

func (t *Thread) Reg(off uint64, size int) (uint64, error) {
	return t.M.Mem.Read(t.RegFileAddr+off, size)
}

func (t *Thread) SetReg(off uint64, size int, v uint64) error {
	return t.M.Mem.Write(t.RegFileAddr+off, size, v)
}

// RegByName reads index-th register of a bank.
func (t *Thread) RegByName(name string, index int) (uint64, error) {
	e, err := t.RegFile.ByName(name)
	if err != nil {
		return 0, err
	}

	off, err := e.OffsetOf(index)
	if err != nil {
		return 0, err
	}

	return t.Reg(off, int(e.Size))
}

func (t *Thread) SetRegByName(name string, index int, v uint64) error {
	e, err := t.RegFile.ByName(name)
	if err != nil {
		return err
	}

	off, err := e.OffsetOf(index)
	if err != nil {
		return err
	}

	return t.SetReg(off, int(e.Size), v)
}

func (t *Thread) StateValue(name string) (uint64, error) {
	e, err := t.State.Entry(name)
	if err != nil {
		return 0, err
	}

	return t.M.Mem.Read(t.StateAddr+e.Offset, int(e.Size))
}

func (t *Thread) SetState(name string, v uint64) error {
	e, err := t.State.Entry(name)
	if err != nil {
		return err
	}

	return t.M.Mem.Write(t.StateAddr+e.Offset, int(e.Size), v)
}

// InvalidateCaches marks every software cache slot empty.
func (t *Thread) InvalidateCaches() error {
	for _, c := range []uint64{t.ReadCache, t.WriteCache} {
		for i := uint64(0); i < t.Config.CacheSize; i++ {
			err := t.M.Mem.Write(c+i*cacheEntrySize, 8, InvalidTag)
			if err != nil {
				return errors.Wrap(err, "invalidate")
			}
		}
	}

	return nil
}

// Fill caches the page of guest address addr in both caches.
func (t *Thread) Fill(addr uint64) error {
	for _, c := range []uint64{t.ReadCache, t.WriteCache} {
		if err := t.fill(c, addr); err != nil {
			return err
		}
	}

	return nil
}

func (t *Thread) fill(cache, addr uint64) error {
	page := addr &^ (1<<t.Config.PageBits - 1)

	_, err := t.M.Mem.Region(t.GuestBase+page, 1<<t.Config.PageBits)
	if err != nil {
		return nil // partially mapped pages are served by helpers only
	}

	slot := cache + (addr>>t.Config.PageBits)%t.Config.CacheSize*cacheEntrySize

	err = t.M.Mem.Write(slot, 8, page)
	if err != nil {
		return err
	}

	t.CacheFills++

	tlog.V("rt_cache").Printw("cache fill", "page", page, "slot", slot)

	return t.M.Mem.Write(slot+8, 8, t.GuestBase)
}

// SlotTag returns tag of the slot caching addr.
func (t *Thread) SlotTag(cache, addr uint64) (uint64, error) {
	slot := cache + (addr>>t.Config.PageBits)%t.Config.CacheSize*cacheEntrySize

	return t.M.Mem.Read(slot, 8)
}
