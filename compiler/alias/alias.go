package alias

import (
	"github.com/llir/llvm/ir/value"
	"tlog.app/go/tlog/tlwire"
)

type (
	Role uint8

	// Tag says what a pointer emitted by the lowering points to.
	// Offset and Size are valid for RegAccess and StateBlock roles.
	Tag struct {
		Role   Role
		Offset uint64
		Size   uint64
	}

	// Table attaches tags to pointer values of one function.
	Table struct {
		m map[value.Value]Tag
	}
)

const (
	Unknown Role = iota
	RegAccess
	RegDynamic
	VReg
	StateBlock
	GuestMemory
	Cache
	Counter
)

var roleNames = []string{
	Unknown:     "unknown",
	RegAccess:   "reg",
	RegDynamic:  "reg_dynamic",
	VReg:        "vreg",
	StateBlock:  "state",
	GuestMemory: "guest",
	Cache:       "cache",
	Counter:     "counter",
}

func NewTable() *Table {
	return &Table{m: make(map[value.Value]Tag)}
}

func (t *Table) Set(v value.Value, tag Tag) {
	t.m[v] = tag
}

func (t *Table) Get(v value.Value) (Tag, bool) {
	if t == nil {
		return Tag{}, false
	}

	tag, ok := t.m[v]

	return tag, ok
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}

	return len(t.m)
}

// RegisterFile reports whether tagged pointer may point into the register file.
func (r Role) RegisterFile() bool {
	return r == RegAccess || r == RegDynamic || r == Unknown
}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}

	return "role?"
}

func (t Tag) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 3)

	b = e.AppendKeyValue(b, "role", t.Role.String())
	b = e.AppendKeyInt64(b, "off", int64(t.Offset))
	b = e.AppendKeyInt64(b, "size", int64(t.Size))

	return b
}
