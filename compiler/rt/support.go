package rt

import (
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/blockjit/compiler/interp"
	"github.com/slowlang/blockjit/compiler/lower"
)

// Device access status codes returned to generated code.
const (
	DeviceOK = iota
	DeviceMissing
	DeviceFailed
)

func (t *Thread) bind() {
	f := t.M.Funcs

	f[lower.TakeException] = t.takeException
	f[lower.ReadDevice] = t.readDevice
	f[lower.WriteDevice] = t.writeDevice
	f[lower.SetFeature] = t.setFeature
	f[lower.SetRoundingMode] = func(m *interp.Machine, a []uint64) (uint64, error) {
		t.Rounding = uint32(a[1])
		return 0, t.check(a[0])
	}
	f[lower.GetRoundingMode] = func(m *interp.Machine, a []uint64) (uint64, error) {
		return uint64(t.Rounding), t.check(a[0])
	}
	f[lower.SetFlushMode] = func(m *interp.Machine, a []uint64) (uint64, error) {
		t.Flush = uint32(a[1])
		return 0, t.check(a[0])
	}
	f[lower.GetFlushMode] = func(m *interp.Machine, a []uint64) (uint64, error) {
		return uint64(t.Flush), t.check(a[0])
	}

	for _, n := range []int{1, 2, 4, 8} {
		f[lower.ReadHelper(uint64(8*n))] = t.reader(n)
		f[lower.WriteHelper(uint64(8*n))] = t.writer(n)
	}
}

// CallAt makes guest call target at addr invoke fn.
func (t *Thread) CallAt(addr uint64, fn func(t *Thread, args []uint64) error) {
	t.M.Addrs[addr] = func(m *interp.Machine, a []uint64) (uint64, error) {
		if err := t.check(a[0]); err != nil {
			return 0, err
		}

		return 0, fn(t, a[1:])
	}
}

func (t *Thread) check(handle uint64) error {
	if handle != t.Handle {
		return errors.New("foreign thread handle %#x", handle)
	}

	return nil
}

// reader implements blkReadN(thread_ptr_ptr, addr, iface).
func (t *Thread) reader(n int) interp.HostFunc {
	return func(m *interp.Machine, a []uint64) (uint64, error) {
		h, err := m.Mem.Read(a[0], 8)
		if err != nil {
			return 0, errors.Wrap(err, "thread ptr")
		}

		if err = t.check(h); err != nil {
			return 0, err
		}

		addr := a[1]
		t.HelperReads++

		v, err := t.ReadGuest(addr, n)
		if err != nil {
			return 0, errors.Wrap(err, "read%d iface %d", 8*n, a[2])
		}

		if !t.NoFill {
			err = t.fill(t.ReadCache, addr)
		}

		return v, err
	}
}

// writer implements blkWriteN(thread, iface, addr, value).
func (t *Thread) writer(n int) interp.HostFunc {
	return func(m *interp.Machine, a []uint64) (uint64, error) {
		if err := t.check(a[0]); err != nil {
			return 0, err
		}

		addr := a[2]
		t.HelperWrites++

		err := t.WriteGuest(addr, n, a[3])
		if err != nil {
			return 0, errors.Wrap(err, "write%d iface %d", 8*n, a[1])
		}

		if !t.NoFill {
			err = t.fill(t.WriteCache, addr)
		}

		return 0, err
	}
}

func (t *Thread) takeException(m *interp.Machine, a []uint64) (uint64, error) {
	if err := t.check(a[0]); err != nil {
		return 0, err
	}

	e := Exception{Category: uint32(a[1]), Data: uint32(a[2])}
	t.Exceptions = append(t.Exceptions, e)

	tlog.V("rt_exception").Printw("exception", "category", e.Category, "data", e.Data)

	return 0, nil
}

func (t *Thread) readDevice(m *interp.Machine, a []uint64) (uint64, error) {
	if err := t.check(a[0]); err != nil {
		return 0, err
	}

	d, ok := t.Devices[uint32(a[1])]
	if !ok {
		return DeviceMissing, nil
	}

	v, err := d.Read(uint32(a[2]))
	if err != nil {
		return DeviceFailed, nil
	}

	return DeviceOK, m.Mem.Write(a[3], 4, uint64(v))
}

func (t *Thread) writeDevice(m *interp.Machine, a []uint64) (uint64, error) {
	if err := t.check(a[0]); err != nil {
		return 0, err
	}

	d, ok := t.Devices[uint32(a[1])]
	if !ok {
		return DeviceMissing, nil
	}

	if err := d.Write(uint32(a[2]), uint32(a[3])); err != nil {
		return DeviceFailed, nil
	}

	return DeviceOK, nil
}

func (t *Thread) setFeature(m *interp.Machine, a []uint64) (uint64, error) {
	if err := t.check(a[0]); err != nil {
		return 0, err
	}

	t.Features[uint32(a[1])] = uint32(a[2])

	return 0, nil
}
