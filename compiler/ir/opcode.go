package ir

import (
	"strings"

	"tlog.app/go/errors"
)

type (
	Opcode uint8

	// OpInfo describes mnemonic and operand kinds of an opcode.
	// Each Sig element lists kinds allowed at that position:
	// c - constant, v - vreg, b - block, f - func.
	OpInfo struct {
		Name     string
		Sig      []string
		Variadic bool
	}
)

const (
	Nop Opcode = iota
	Barrier
	Count

	Mov
	Cmov
	LdPC
	IncPC

	Add
	Sub
	Mul
	UDiv
	SDiv
	UMod
	SMod

	And
	Or
	Xor
	Shl
	Shr
	Sar
	Ror
	Clz
	Bswap

	CmpEQ
	CmpNE
	CmpGT
	CmpGTE
	CmpLT
	CmpLTE
	CmpSGT
	CmpSGTE
	CmpSLT
	CmpSLTE

	Sx
	Zx
	Trunc

	ReadReg
	WriteReg
	ReadRegBanked
	WriteRegBanked

	ReadMem
	WriteMem
	ReadDevice
	WriteDevice

	Call
	Args
	Jmp
	Branch
	Ret

	SetCPUMode
	SetCPUFeature
	TakeException

	FGetRound
	FSetRound
	FGetFlush
	FSetFlush

	AdcFlags
	SetZN

	VAddI
	VSubI
	VMulI

	NumOpcodes
)

var (
	binary  = []string{"cv", "v"}
	compare = []string{"cv", "cv", "v"}
	vector  = []string{"c", "cv", "cv", "v"}
)

var opInfo = [NumOpcodes]OpInfo{
	Nop:     {Name: "nop"},
	Barrier: {Name: "barrier"},
	Count:   {Name: "count", Sig: []string{"c", "cv"}},

	Mov:   {Name: "mov", Sig: binary},
	Cmov:  {Name: "cmov", Sig: compare},
	LdPC:  {Name: "ldpc", Sig: []string{"v"}},
	IncPC: {Name: "incpc", Sig: []string{"cv"}},

	Add:  {Name: "add", Sig: binary},
	Sub:  {Name: "sub", Sig: binary},
	Mul:  {Name: "mul", Sig: binary},
	UDiv: {Name: "udiv", Sig: binary},
	SDiv: {Name: "sdiv", Sig: binary},
	UMod: {Name: "mod", Sig: binary},
	SMod: {Name: "smod", Sig: binary},

	And:   {Name: "and", Sig: binary},
	Or:    {Name: "or", Sig: binary},
	Xor:   {Name: "xor", Sig: binary},
	Shl:   {Name: "shl", Sig: binary},
	Shr:   {Name: "shr", Sig: binary},
	Sar:   {Name: "sar", Sig: binary},
	Ror:   {Name: "ror", Sig: binary},
	Clz:   {Name: "clz", Sig: binary},
	Bswap: {Name: "bswap", Sig: binary},

	CmpEQ:   {Name: "cmpeq", Sig: compare},
	CmpNE:   {Name: "cmpne", Sig: compare},
	CmpGT:   {Name: "cmpgt", Sig: compare},
	CmpGTE:  {Name: "cmpgte", Sig: compare},
	CmpLT:   {Name: "cmplt", Sig: compare},
	CmpLTE:  {Name: "cmplte", Sig: compare},
	CmpSGT:  {Name: "cmpsgt", Sig: compare},
	CmpSGTE: {Name: "cmpsgte", Sig: compare},
	CmpSLT:  {Name: "cmpslt", Sig: compare},
	CmpSLTE: {Name: "cmpslte", Sig: compare},

	Sx:    {Name: "sx", Sig: binary},
	Zx:    {Name: "zx", Sig: binary},
	Trunc: {Name: "trunc", Sig: binary},

	ReadReg:        {Name: "ldreg", Sig: []string{"cv", "v"}},
	WriteReg:       {Name: "streg", Sig: []string{"cv", "cv"}},
	ReadRegBanked:  {Name: "ldregb", Sig: []string{"c", "cv", "v"}},
	WriteRegBanked: {Name: "stregb", Sig: []string{"cv", "c", "cv"}},

	ReadMem:     {Name: "ldmem", Sig: []string{"c", "cv", "c", "v"}},
	WriteMem:    {Name: "stmem", Sig: []string{"c", "cv", "c", "cv"}},
	ReadDevice:  {Name: "lddev", Sig: []string{"cv", "cv", "v"}},
	WriteDevice: {Name: "stdev", Sig: []string{"cv", "cv", "cv"}},

	Call:   {Name: "call", Sig: []string{"f"}, Variadic: true},
	Args:   {Name: "args", Variadic: true},
	Jmp:    {Name: "jmp", Sig: []string{"b"}},
	Branch: {Name: "branch", Sig: []string{"cv", "b", "b"}},
	Ret:    {Name: "ret"},

	SetCPUMode:    {Name: "scm", Sig: []string{"cv"}},
	SetCPUFeature: {Name: "setfeature", Sig: []string{"cv", "cv"}},
	TakeException: {Name: "except", Sig: []string{"cv", "cv"}},

	FGetRound: {Name: "fgetround", Sig: []string{"v"}},
	FSetRound: {Name: "fsetround", Sig: []string{"cv"}},
	FGetFlush: {Name: "fgetflush", Sig: []string{"v"}},
	FSetFlush: {Name: "fsetflush", Sig: []string{"cv"}},

	AdcFlags: {Name: "adcflags", Sig: []string{"cv", "cv", "cv"}},
	SetZN:    {Name: "setzn", Sig: []string{"cv"}},

	VAddI: {Name: "vaddi", Sig: vector},
	VSubI: {Name: "vsubi", Sig: vector},
	VMulI: {Name: "vmuli", Sig: vector},
}

var byName map[string]Opcode

func init() {
	byName = make(map[string]Opcode, NumOpcodes)

	for op, info := range opInfo {
		if info.Name == "" {
			panic("opcode without name")
		}

		byName[info.Name] = Opcode(op)
	}
}

// OpcodeByName looks up opcode by its mnemonic.
func OpcodeByName(name string) (Opcode, bool) {
	op, ok := byName[name]
	return op, ok
}

func (op Opcode) Info() OpInfo {
	if op >= NumOpcodes {
		return OpInfo{Name: "op?"}
	}

	return opInfo[op]
}

func (op Opcode) String() string { return op.Info().Name }

// IsTerminator reports whether the opcode ends a block.
func (op Opcode) IsTerminator() bool {
	return op == Jmp || op == Branch || op == Ret
}

func (i *Inst) Validate() error {
	if i.Op >= NumOpcodes {
		return errors.New("bad opcode: %d", i.Op)
	}

	info := opInfo[i.Op]

	for j, o := range i.Operands {
		if j < len(info.Sig) {
			if o.IsNone() {
				return errors.New("%v: operand %d: missing", info.Name, j)
			}

			if !strings.ContainsRune(info.Sig[j], kindLetter(o.Kind)) {
				return errors.New("%v: operand %d: %v not allowed (%v)", info.Name, j, o.Kind, info.Sig[j])
			}

			continue
		}

		if o.IsNone() {
			continue
		}

		if !info.Variadic {
			return errors.New("%v: extra operand %d", info.Name, j)
		}

		if j > 0 && i.Operands[j-1].IsNone() && j > len(info.Sig) {
			return errors.New("%v: operand %d follows none", info.Name, j)
		}

		if !o.IsConstant() && !o.IsVReg() {
			return errors.New("%v: argument %d: %v not allowed", info.Name, j, o.Kind)
		}
	}

	return nil
}

func kindLetter(k OperandKind) rune {
	switch k {
	case KindConstant:
		return 'c'
	case KindVReg:
		return 'v'
	case KindBlock:
		return 'b'
	case KindFunc:
		return 'f'
	}

	return '-'
}
