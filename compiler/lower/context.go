package lower

import (
	"fmt"

	ll "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"tlog.app/go/errors"
	"tlog.app/go/loc"

	"github.com/slowlang/blockjit/compiler/alias"
	"github.com/slowlang/blockjit/compiler/arch"
	"github.com/slowlang/blockjit/compiler/ir"
)

type (
	MemoryModel string

	Config struct {
		MemoryModel MemoryModel

		// Software cache geometry. Runtime must use the same.
		PageBits  uint
		CacheSize uint64

		// Address space of guest pointers in user model.
		UserAddrSpace uint64
	}

	// Unimplemented is panicked with when lowering meets
	// an operand shape or width it has no code for.
	Unimplemented struct {
		What string
		Loc  loc.PC
	}

	// Context holds the state of lowering of one translation unit.
	// It is not safe for concurrent use and is not reused.
	Context struct {
		Config

		RegFile *arch.RegisterFile
		State   *arch.StateBlock
		Tags    *alias.Table

		Module *ll.Module
		Func   *ll.Func
		Entry  *ll.Block

		// Cur is where instructions are emitted.
		Cur *ll.Block

		unit  *ir.Unit
		table *Table

		blocks  map[ir.BlockID]*ll.Block
		order   []ir.BlockID
		defined map[ir.BlockID]bool

		vregs  map[ir.VRegID]vreg
		gregs  map[regKey]*ll.InstIntToPtr
		states map[string]value.Value

		regBase   *ll.InstPtrToInt
		threadPtr *ll.InstLoad
		devSlot   *ll.InstAlloca

		support map[string]*ll.Func

		seq int
	}

	vreg struct {
		slot *ll.InstAlloca
		size uint8
	}

	regKey struct {
		off, size uint64
	}
)

const (
	Generic MemoryModel = "generic"
	User    MemoryModel = "user"
	Cache   MemoryModel = "cache"
)

const (
	DefaultPageBits  = 12
	DefaultCacheSize = 1024
)

var (
	i8p  = types.NewPointer(types.I8)
	i8pp = types.NewPointer(i8p)
	i32p = types.NewPointer(types.I32)
	i64p = types.NewPointer(types.I64)

	// {tag, addend}
	cacheEntry    = types.NewStruct(types.I64, types.I64)
	cacheEntryPtr = types.NewPointer(cacheEntry)
)

func (c Config) WithDefaults() Config {
	if c.MemoryModel == "" {
		c.MemoryModel = Generic
	}

	if c.PageBits == 0 {
		c.PageBits = DefaultPageBits
	}

	if c.CacheSize == 0 {
		c.CacheSize = DefaultCacheSize
	}

	return c
}

// New creates function name in m taking register file and state block
// pointers and prepares to lower one unit into it.
func New(m *ll.Module, name string, rf *arch.RegisterFile, sb *arch.StateBlock, cfg Config) (*Context, error) {
	cfg = cfg.WithDefaults()

	if cfg.PageBits >= 64 {
		return nil, errors.New("page bits too big: %d", cfg.PageBits)
	}

	t, err := NewTable(cfg.MemoryModel)
	if err != nil {
		return nil, errors.Wrap(err, "opcode table")
	}

	f := m.NewFunc(name, types.Void,
		ll.NewParam("regfile", i8p),
		ll.NewParam("state", i8p),
	)

	c := &Context{
		Config:  cfg,
		RegFile: rf,
		State:   sb,
		Tags:    alias.NewTable(),

		Module: m,
		Func:   f,
		Entry:  f.NewBlock("entry_block"),

		table: t,

		blocks:  make(map[ir.BlockID]*ll.Block),
		defined: make(map[ir.BlockID]bool),

		vregs:  make(map[ir.VRegID]vreg),
		gregs:  make(map[regKey]*ll.InstIntToPtr),
		states: make(map[string]value.Value),

		support: make(map[string]*ll.Func),
	}

	c.Cur = c.Entry

	c.declareSupport()

	return c, nil
}

func (c *Context) RegFilePtr() value.Value { return c.Func.Params[0] }
func (c *Context) StatePtr() value.Value   { return c.Func.Params[1] }

// Type returns integer type of size bytes.
func (c *Context) Type(size uint8) *types.IntType {
	switch size {
	case 1:
		return types.I8
	case 2:
		return types.I16
	case 4:
		return types.I32
	case 8:
		return types.I64
	}

	panic(unimplemented("width %d", size))
}

// Block returns generated block for id creating it on first use.
func (c *Context) Block(id ir.BlockID) *ll.Block {
	if b, ok := c.blocks[id]; ok {
		return b
	}

	b := c.Func.NewBlock(fmt.Sprintf("block_%d", id))

	c.blocks[id] = b
	c.order = append(c.order, id)

	return b
}

func (c *Context) newBlock(prefix string) *ll.Block {
	c.seq++

	return c.Func.NewBlock(fmt.Sprintf("%s_%d", prefix, c.seq))
}

// RegisterPointer returns a typed pointer to size bytes at offset
// of the register file. Pointers are created once in the entry block
// and the same value is returned for the same offset and size.
func (c *Context) RegisterPointer(off, size uint64) value.Value {
	k := regKey{off: off, size: size}

	if p, ok := c.gregs[k]; ok {
		return p
	}

	t := c.Type(uint8(size))

	addr := c.Entry.NewAdd(c.regFileBase(), constant.NewInt(types.I64, int64(off)))
	p := c.Entry.NewIntToPtr(addr, types.NewPointer(t))
	p.SetName(fmt.Sprintf("reg_%d_%d", off, size))

	c.Tags.Set(p, alias.Tag{Role: alias.RegAccess, Offset: off, Size: size})
	c.gregs[k] = p

	return p
}

// DynamicRegisterPointer is RegisterPointer for offsets known at runtime only.
// It's emitted at the current position and never cached.
func (c *Context) DynamicRegisterPointer(off value.Value, size uint64) value.Value {
	t := c.Type(uint8(size))

	off = c.Resize(off, 8)

	addr := c.Cur.NewAdd(c.regFileBase(), off)
	p := c.Cur.NewIntToPtr(addr, types.NewPointer(t))

	c.Tags.Set(p, alias.Tag{Role: alias.RegDynamic, Size: size})

	return p
}

// EntryRegisterPointer is RegisterPointer for the index-th register of bank e.
func (c *Context) EntryRegisterPointer(e arch.RegisterEntry, index int) (value.Value, error) {
	off, err := e.OffsetOf(index)
	if err != nil {
		return nil, err
	}

	return c.RegisterPointer(off, e.Size), nil
}

func (c *Context) TaggedRegisterPointer(tag string) (value.Value, error) {
	e, err := c.RegFile.ByTag(tag)
	if err != nil {
		return nil, err
	}

	return c.RegisterPointer(e.Offset, e.Size), nil
}

func (c *Context) regFileBase() *ll.InstPtrToInt {
	if c.regBase == nil {
		c.regBase = c.Entry.NewPtrToInt(c.RegFilePtr(), types.I64)
		c.regBase.SetName("regfile_base")
	}

	return c.regBase
}

// StateBlockEntryPtr returns a pointer of type *typ to the named state block entry.
func (c *Context) StateBlockEntryPtr(name string, typ types.Type) (value.Value, error) {
	k := name + " " + typ.String()

	if p, ok := c.states[k]; ok {
		return p, nil
	}

	e, err := c.State.Entry(name)
	if err != nil {
		return nil, err
	}

	tag := alias.Tag{Role: alias.StateBlock, Offset: e.Offset, Size: e.Size}

	raw := c.Entry.NewGetElementPtr(types.I8, c.StatePtr(), constant.NewInt(types.I64, int64(e.Offset)))
	c.Tags.Set(raw, tag)

	p := c.Entry.NewBitCast(raw, types.NewPointer(typ))
	p.SetName(name + "_ptr")
	c.Tags.Set(p, tag)

	c.states[k] = p

	return p, nil
}

// ThreadPtrPtr points to the thread handle stored in the state block.
func (c *Context) ThreadPtrPtr() (value.Value, error) {
	return c.StateBlockEntryPtr(arch.ThreadPtr, i8p)
}

// ThreadPtr is the thread handle passed to runtime support functions.
func (c *Context) ThreadPtr() (value.Value, error) {
	if c.threadPtr != nil {
		return c.threadPtr, nil
	}

	pp, err := c.ThreadPtrPtr()
	if err != nil {
		return nil, errors.Wrap(err, "thread ptr")
	}

	c.threadPtr = c.Entry.NewLoad(i8p, pp)
	c.threadPtr.SetName("thread")

	return c.threadPtr, nil
}

// VRegStorage returns the entry block slot backing vreg id.
func (c *Context) VRegStorage(id ir.VRegID, size uint8) value.Value {
	if r, ok := c.vregs[id]; ok {
		if r.size != size {
			panic(fmt.Sprintf("vreg %d: requested as %d bytes, allocated as %d", id, size, r.size))
		}

		return r.slot
	}

	a := c.Entry.NewAlloca(c.Type(size))
	a.SetName(fmt.Sprintf("v%d", id))

	c.Tags.Set(a, alias.Tag{Role: alias.VReg, Size: uint64(size)})
	c.vregs[id] = vreg{slot: a, size: size}

	return a
}

// Value returns operand value of its own width.
func (c *Context) Value(o ir.Operand) value.Value {
	switch o.Kind {
	case ir.KindConstant:
		return constant.NewInt(c.Type(o.Size), o.Signed())
	case ir.KindVReg:
		return c.Cur.NewLoad(c.Type(o.Size), c.VRegStorage(o.VRegID(), o.Size))
	}

	panic(unimplemented("%v operand as a value", o.Kind))
}

// ValueAs returns operand value converted to size bytes.
// Constants are sign extended, vregs are zero extended.
func (c *Context) ValueAs(o ir.Operand, size uint8) value.Value {
	if o.IsConstant() {
		return constant.NewInt(c.Type(size), signExtend(uint64(o.Signed()), size))
	}

	return c.Resize(c.Value(o), size)
}

// Address returns operand as an i64 zero extended.
func (c *Context) Address(o ir.Operand) value.Value {
	if o.IsConstant() {
		return constant.NewInt(types.I64, int64(o.Value&mask(o.Size)))
	}

	return c.Resize(c.Value(o), 8)
}

// SetValue stores v to vreg o adjusting width.
func (c *Context) SetValue(o ir.Operand, v value.Value) {
	if !o.IsVReg() {
		panic(fmt.Sprintf("assign to %v operand", o.Kind))
	}

	v = c.Resize(v, o.Size)

	c.Cur.NewStore(v, c.VRegStorage(o.VRegID(), o.Size))
}

// Resize zero extends or truncates v to size bytes.
func (c *Context) Resize(v value.Value, size uint8) value.Value {
	to := c.Type(size)

	switch from := bitSize(v); {
	case from < to.BitSize:
		return c.Cur.NewZExt(v, to)
	case from > to.BitSize:
		return c.Cur.NewTrunc(v, to)
	}

	return v
}

func (c *Context) signExt(v value.Value, size uint8) value.Value {
	to := c.Type(size)

	switch from := bitSize(v); {
	case from < to.BitSize:
		return c.Cur.NewSExt(v, to)
	case from > to.BitSize:
		return c.Cur.NewTrunc(v, to)
	}

	return v
}

func bitSize(v value.Value) uint64 {
	t, ok := v.Type().(*types.IntType)
	if !ok {
		panic(fmt.Sprintf("integer expected: %v", v.Type()))
	}

	return t.BitSize
}

func unimplemented(f string, args ...any) Unimplemented {
	return Unimplemented{
		What: fmt.Sprintf(f, args...),
		Loc:  loc.Caller(1),
	}
}

func (u Unimplemented) Error() string {
	return fmt.Sprintf("unimplemented: %v (at %v)", u.What, u.Loc)
}

func mask(size uint8) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}

	return 1<<(8*size) - 1
}

func signExtend(v uint64, size uint8) int64 {
	if size >= 8 {
		return int64(v)
	}

	sh := 64 - 8*uint(size)

	return int64(v<<sh) >> sh
}
