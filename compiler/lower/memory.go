package lower

import (
	ll "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"tlog.app/go/errors"

	"github.com/slowlang/blockjit/compiler/alias"
	"github.com/slowlang/blockjit/compiler/arch"
	"github.com/slowlang/blockjit/compiler/ir"
)

type cacheLookup struct {
	hit, miss, join *ll.Block

	// host address, valid in hit block
	host value.Value
}

// address returns effective address base + disp as i64.
func (c *Context) address(base, disp ir.Operand) value.Value {
	ea := c.Address(base)

	if d := disp.Signed(); d != 0 {
		ea = c.Cur.NewAdd(ea, constant.NewInt(types.I64, d))
	}

	return ea
}

// readHelper calls generic memory read helper.
func (c *Context) readHelper(size uint8, ea value.Value, iface ir.Operand) (value.Value, error) {
	t := c.Type(size)

	f, err := c.Support(ReadHelper(t.BitSize))
	if err != nil {
		return nil, err
	}

	tpp, err := c.ThreadPtrPtr()
	if err != nil {
		return nil, err
	}

	return c.Cur.NewCall(f, tpp, ea, c.ValueAs(iface, 4)), nil
}

// writeHelper calls generic memory write helper.
func (c *Context) writeHelper(v, ea value.Value, iface ir.Operand) error {
	t := v.Type().(*types.IntType)

	f, err := c.Support(WriteHelper(t.BitSize))
	if err != nil {
		return err
	}

	th, err := c.ThreadPtr()
	if err != nil {
		return err
	}

	c.Cur.NewCall(f, th, c.ValueAs(iface, 4), ea, v)

	return nil
}

func genericRead(c *Context, cursor *int) error {
	in := c.next(cursor)
	iface, base, disp, dst := in.Operands[0], in.Operands[1], in.Operands[2], in.Operands[3]

	ea := c.address(base, disp)

	v, err := c.readHelper(dst.Size, ea, iface)
	if err != nil {
		return err
	}

	c.SetValue(dst, v)

	return nil
}

func genericWrite(c *Context, cursor *int) error {
	in := c.next(cursor)
	iface, val, disp, base := in.Operands[0], in.Operands[1], in.Operands[2], in.Operands[3]

	v := c.Value(val)
	ea := c.address(base, disp)

	return c.writeHelper(v, ea, iface)
}

// guestPointer converts guest address into a direct pointer
// in the user address space.
func (c *Context) guestPointer(ea value.Value, size uint8) value.Value {
	pt := types.NewPointer(c.Type(size))
	pt.AddrSpace = types.AddrSpace(c.UserAddrSpace)

	p := c.Cur.NewIntToPtr(ea, pt)
	c.Tags.Set(p, alias.Tag{Role: alias.GuestMemory, Size: uint64(size)})

	return p
}

func userRead(c *Context, cursor *int) error {
	in := c.next(cursor)
	base, disp, dst := in.Operands[1], in.Operands[2], in.Operands[3]

	ea := c.address(base, disp)
	p := c.guestPointer(ea, dst.Size)

	c.SetValue(dst, c.Cur.NewLoad(c.Type(dst.Size), p))

	return nil
}

func userWrite(c *Context, cursor *int) error {
	in := c.next(cursor)
	val, disp, base := in.Operands[1], in.Operands[2], in.Operands[3]

	v := c.Value(val)
	ea := c.address(base, disp)
	p := c.guestPointer(ea, val.Size)

	c.Cur.NewStore(v, p)

	return nil
}

// lookup emits software cache lookup for size bytes at ea
// and branches to hit if the page is cached and ea is aligned.
// On return Cur is the hit block.
func (c *Context) lookup(ea value.Value, size uint8, cache string) (p cacheLookup, err error) {
	t := c.Type(size)

	pp, err := c.StateBlockEntryPtr(cache, cacheEntryPtr)
	if err != nil {
		return p, errors.Wrap(err, "cache")
	}

	arr := c.Cur.NewLoad(cacheEntryPtr, pp)
	c.Tags.Set(arr, alias.Tag{Role: alias.Cache})

	low := c.Cur.NewAnd(ea, constant.NewInt(types.I64, int64(size)-1))
	aligned := c.Cur.NewICmp(enum.IPredEQ, low, constant.NewInt(types.I64, 0))

	pg := c.Cur.NewLShr(ea, constant.NewInt(types.I64, int64(c.PageBits)))
	idx := c.Cur.NewURem(pg, constant.NewInt(types.I64, int64(c.CacheSize)))

	tagp := c.Cur.NewGetElementPtr(cacheEntry, arr, idx, constant.NewInt(types.I32, 0))
	c.Tags.Set(tagp, alias.Tag{Role: alias.Cache, Size: 8})

	tag := c.Cur.NewLoad(types.I64, tagp)

	page := c.Cur.NewAnd(ea, constant.NewInt(types.I64, ^(int64(1)<<c.PageBits-1)))
	match := c.Cur.NewICmp(enum.IPredEQ, tag, page)

	fast := c.Cur.NewAnd(match, aligned)

	p.hit = c.newBlock("cache_hit")
	p.miss = c.newBlock("cache_miss")
	p.join = c.newBlock("cache_join")

	c.Cur.NewCondBr(fast, p.hit, p.miss)

	c.Cur = p.hit

	addp := c.Cur.NewGetElementPtr(cacheEntry, arr, idx, constant.NewInt(types.I32, 1))
	c.Tags.Set(addp, alias.Tag{Role: alias.Cache, Size: 8})

	add := c.Cur.NewLoad(types.I64, addp)
	host := c.Cur.NewAdd(ea, add)

	hp := c.Cur.NewIntToPtr(host, types.NewPointer(t))
	c.Tags.Set(hp, alias.Tag{Role: alias.GuestMemory, Size: uint64(size)})

	p.host = hp

	return p, nil
}

func cacheRead(c *Context, cursor *int) error {
	in := c.next(cursor)
	iface, base, disp, dst := in.Operands[0], in.Operands[1], in.Operands[2], in.Operands[3]

	ea := c.address(base, disp)

	p, err := c.lookup(ea, dst.Size, arch.ReadCachePtr)
	if err != nil {
		return err
	}

	fast := c.Cur.NewLoad(c.Type(dst.Size), p.host)
	c.Cur.NewBr(p.join)

	c.Cur = p.miss

	slow, err := c.readHelper(dst.Size, ea, iface)
	if err != nil {
		return err
	}

	c.Cur.NewBr(p.join)

	c.Cur = p.join

	v := c.Cur.NewPhi(ll.NewIncoming(fast, p.hit), ll.NewIncoming(slow, p.miss))

	c.SetValue(dst, v)

	return nil
}

func cacheWrite(c *Context, cursor *int) error {
	in := c.next(cursor)
	iface, val, disp, base := in.Operands[0], in.Operands[1], in.Operands[2], in.Operands[3]

	v := c.Value(val)
	ea := c.address(base, disp)

	p, err := c.lookup(ea, val.Size, arch.WriteCachePtr)
	if err != nil {
		return err
	}

	c.Cur.NewStore(v, p.host)
	c.Cur.NewBr(p.join)

	c.Cur = p.miss

	err = c.writeHelper(v, ea, iface)
	if err != nil {
		return err
	}

	c.Cur.NewBr(p.join)

	c.Cur = p.join

	return nil
}

func (c *Context) deviceSlot() value.Value {
	if c.devSlot == nil {
		c.devSlot = c.Entry.NewAlloca(types.I32)
		c.devSlot.SetName("device_value")

		c.Tags.Set(c.devSlot, alias.Tag{Role: alias.VReg, Size: 4})
	}

	return c.devSlot
}

func lowerReadDevice(c *Context, cursor *int) error {
	in := c.next(cursor)
	dev, reg, dst := in.Operands[0], in.Operands[1], in.Operands[2]

	slot := c.deviceSlot()

	_, err := c.callSupport(ReadDevice, c.ValueAs(dev, 4), c.ValueAs(reg, 4), slot)
	if err != nil {
		return err
	}

	c.SetValue(dst, c.Cur.NewLoad(types.I32, slot))

	return nil
}

func lowerWriteDevice(c *Context, cursor *int) error {
	in := c.next(cursor)
	dev, reg, val := in.Operands[0], in.Operands[1], in.Operands[2]

	_, err := c.callSupport(WriteDevice, c.ValueAs(dev, 4), c.ValueAs(reg, 4), c.ValueAs(val, 4))

	return err
}
