package lower

import (
	"fmt"

	ll "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"tlog.app/go/errors"

	"github.com/slowlang/blockjit/compiler/ir"
)

type binop func(b *ll.Block, x, y value.Value) value.Value

func baseTable() (t Table) {
	nop := LowerFunc(lowerNop)

	t[ir.Nop] = nop
	t[ir.Barrier] = nop
	t[ir.Count] = LowerFunc(lowerCount)

	t[ir.Mov] = LowerFunc(lowerMov)
	t[ir.Cmov] = LowerFunc(lowerCmov)
	t[ir.LdPC] = LowerFunc(lowerLdPC)
	t[ir.IncPC] = LowerFunc(lowerIncPC)

	t[ir.Add] = binary(func(b *ll.Block, x, y value.Value) value.Value { return b.NewAdd(x, y) })
	t[ir.Sub] = binary(func(b *ll.Block, x, y value.Value) value.Value { return b.NewSub(x, y) })
	t[ir.Mul] = binary(func(b *ll.Block, x, y value.Value) value.Value { return b.NewMul(x, y) })
	t[ir.UDiv] = binary(func(b *ll.Block, x, y value.Value) value.Value { return b.NewUDiv(x, y) })
	t[ir.SDiv] = binary(func(b *ll.Block, x, y value.Value) value.Value { return b.NewSDiv(x, y) })
	t[ir.UMod] = binary(func(b *ll.Block, x, y value.Value) value.Value { return b.NewURem(x, y) })
	t[ir.SMod] = binary(func(b *ll.Block, x, y value.Value) value.Value { return b.NewSRem(x, y) })

	t[ir.And] = binary(func(b *ll.Block, x, y value.Value) value.Value { return b.NewAnd(x, y) })
	t[ir.Or] = binary(func(b *ll.Block, x, y value.Value) value.Value { return b.NewOr(x, y) })
	t[ir.Xor] = binary(func(b *ll.Block, x, y value.Value) value.Value { return b.NewXor(x, y) })

	t[ir.Shl] = shift(func(b *ll.Block, x, y value.Value) value.Value { return b.NewShl(x, y) })
	t[ir.Shr] = shift(func(b *ll.Block, x, y value.Value) value.Value { return b.NewLShr(x, y) })
	t[ir.Sar] = shift(func(b *ll.Block, x, y value.Value) value.Value { return b.NewAShr(x, y) })
	t[ir.Ror] = LowerFunc(lowerRor)
	t[ir.Clz] = LowerFunc(lowerClz)
	t[ir.Bswap] = LowerFunc(lowerBswap)

	t[ir.CmpEQ] = compare(enum.IPredEQ)
	t[ir.CmpNE] = compare(enum.IPredNE)
	t[ir.CmpGT] = compare(enum.IPredUGT)
	t[ir.CmpGTE] = compare(enum.IPredUGE)
	t[ir.CmpLT] = compare(enum.IPredULT)
	t[ir.CmpLTE] = compare(enum.IPredULE)
	t[ir.CmpSGT] = compare(enum.IPredSGT)
	t[ir.CmpSGTE] = compare(enum.IPredSGE)
	t[ir.CmpSLT] = compare(enum.IPredSLT)
	t[ir.CmpSLTE] = compare(enum.IPredSLE)

	t[ir.Sx] = LowerFunc(lowerSx)
	t[ir.Zx] = LowerFunc(lowerZx)
	t[ir.Trunc] = LowerFunc(lowerTrunc)

	t[ir.ReadReg] = LowerFunc(lowerReadReg)
	t[ir.WriteReg] = LowerFunc(lowerWriteReg)
	t[ir.ReadRegBanked] = LowerFunc(lowerReadRegBanked)
	t[ir.WriteRegBanked] = LowerFunc(lowerWriteRegBanked)

	t[ir.ReadDevice] = LowerFunc(lowerReadDevice)
	t[ir.WriteDevice] = LowerFunc(lowerWriteDevice)

	t[ir.Call] = LowerFunc(lowerCall)
	t[ir.Args] = LowerFunc(lowerArgs)
	t[ir.Jmp] = LowerFunc(lowerJmp)
	t[ir.Branch] = LowerFunc(lowerBranch)
	t[ir.Ret] = LowerFunc(lowerRet)

	t[ir.SetCPUMode] = LowerFunc(lowerSetCPUMode)
	t[ir.SetCPUFeature] = LowerFunc(lowerSetCPUFeature)
	t[ir.TakeException] = LowerFunc(lowerTakeException)

	t[ir.FGetRound] = getMode(GetRoundingMode)
	t[ir.FSetRound] = setMode(SetRoundingMode)
	t[ir.FGetFlush] = getMode(GetFlushMode)
	t[ir.FSetFlush] = setMode(SetFlushMode)

	t[ir.AdcFlags] = LowerFunc(lowerAdcFlags)
	t[ir.SetZN] = LowerFunc(lowerSetZN)

	t[ir.VAddI] = vector(func(b *ll.Block, x, y value.Value) value.Value { return b.NewAdd(x, y) })
	t[ir.VSubI] = vector(func(b *ll.Block, x, y value.Value) value.Value { return b.NewSub(x, y) })
	t[ir.VMulI] = vector(func(b *ll.Block, x, y value.Value) value.Value { return b.NewMul(x, y) })

	return t
}

func lowerNop(c *Context, cursor *int) error {
	c.next(cursor)
	return nil
}

// binary lowers two-address "op src, dst": dst = dst op src.
func binary(f binop) LowerFunc {
	return func(c *Context, cursor *int) error {
		in := c.next(cursor)
		src, dst := in.Operands[0], in.Operands[1]

		x := c.Value(dst)
		y := c.ValueAs(src, dst.Size)

		c.SetValue(dst, f(c.Cur, x, y))

		return nil
	}
}

// shift lowers "op amount, dst". Shifting by width or more gives zero.
func shift(f binop) LowerFunc {
	return func(c *Context, cursor *int) error {
		in := c.next(cursor)
		amt, dst := in.Operands[0], in.Operands[1]

		t := c.Type(dst.Size)
		w := t.BitSize

		n := c.Value(amt)
		ok := c.Cur.NewICmp(enum.IPredULT, n, constant.NewInt(n.Type().(*types.IntType), int64(w)))
		keep := c.Cur.NewSExt(ok, t)

		n = c.Resize(n, dst.Size)
		n = c.Cur.NewAnd(n, constant.NewInt(t, int64(w-1)))

		r := f(c.Cur, c.Value(dst), n)

		c.SetValue(dst, c.Cur.NewAnd(r, keep))

		return nil
	}
}

func lowerRor(c *Context, cursor *int) error {
	in := c.next(cursor)
	amt, dst := in.Operands[0], in.Operands[1]

	t := c.Type(dst.Size)
	w := int64(t.BitSize)

	x := c.Value(dst)

	n := c.ValueAs(amt, dst.Size)
	n = c.Cur.NewAnd(n, constant.NewInt(t, w-1))

	back := c.Cur.NewSub(constant.NewInt(t, w), n)
	m := c.Cur.NewAnd(back, constant.NewInt(t, w-1))

	lo := c.Cur.NewLShr(x, n)
	hi := c.Cur.NewShl(x, m)

	c.SetValue(dst, c.Cur.NewOr(lo, hi))

	return nil
}

func lowerClz(c *Context, cursor *int) error {
	in := c.next(cursor)
	src, dst := in.Operands[0], in.Operands[1]

	t := c.Type(src.Size)
	f := c.intrinsic(fmt.Sprintf("llvm.ctlz.i%d", t.BitSize), t, t, types.I1)

	r := c.Cur.NewCall(f, c.Value(src), constant.NewInt(types.I1, 0))

	c.SetValue(dst, r)

	return nil
}

func lowerBswap(c *Context, cursor *int) error {
	in := c.next(cursor)
	src, dst := in.Operands[0], in.Operands[1]

	v := c.Value(src)

	if src.Size != 1 {
		t := c.Type(src.Size)
		f := c.intrinsic(fmt.Sprintf("llvm.bswap.i%d", t.BitSize), t, t)

		v = c.Cur.NewCall(f, v)
	}

	c.SetValue(dst, v)

	return nil
}

// compare lowers "cmp lhs, rhs, dst": dst = lhs pred rhs ? 1 : 0.
func compare(pred enum.IPred) LowerFunc {
	return func(c *Context, cursor *int) error {
		in := c.next(cursor)
		lhs, rhs, dst := in.Operands[0], in.Operands[1], in.Operands[2]

		size := lhs.Size
		if lhs.IsConstant() && rhs.IsVReg() {
			size = rhs.Size
		}

		x := c.ValueAs(lhs, size)
		y := c.ValueAs(rhs, size)

		c.SetValue(dst, c.Cur.NewICmp(pred, x, y))

		return nil
	}
}

func lowerMov(c *Context, cursor *int) error {
	in := c.next(cursor)
	src, dst := in.Operands[0], in.Operands[1]

	c.SetValue(dst, c.ValueAs(src, dst.Size))

	return nil
}

// lowerCmov lowers "cmov cond, src, dst" as a mask blend.
func lowerCmov(c *Context, cursor *int) error {
	in := c.next(cursor)
	cond, src, dst := in.Operands[0], in.Operands[1], in.Operands[2]

	t := c.Type(dst.Size)

	cv := c.Value(cond)
	set := c.Cur.NewICmp(enum.IPredNE, cv, constant.NewInt(cv.Type().(*types.IntType), 0))
	m := c.Cur.NewSExt(set, t)
	nm := c.Cur.NewXor(m, constant.NewInt(t, -1))

	s := c.Cur.NewAnd(c.ValueAs(src, dst.Size), m)
	d := c.Cur.NewAnd(c.Value(dst), nm)

	c.SetValue(dst, c.Cur.NewOr(s, d))

	return nil
}

func lowerSx(c *Context, cursor *int) error {
	in := c.next(cursor)
	src, dst := in.Operands[0], in.Operands[1]

	if dst.Size < src.Size {
		return errors.New("sign extension from %d to %d bytes", src.Size, dst.Size)
	}

	c.SetValue(dst, c.signExt(c.Value(src), dst.Size))

	return nil
}

func lowerZx(c *Context, cursor *int) error {
	in := c.next(cursor)
	src, dst := in.Operands[0], in.Operands[1]

	if dst.Size < src.Size {
		return errors.New("zero extension from %d to %d bytes", src.Size, dst.Size)
	}

	c.SetValue(dst, c.Resize(c.Value(src), dst.Size))

	return nil
}

func lowerTrunc(c *Context, cursor *int) error {
	in := c.next(cursor)
	src, dst := in.Operands[0], in.Operands[1]

	if dst.Size > src.Size {
		return errors.New("truncation from %d to %d bytes", src.Size, dst.Size)
	}

	c.SetValue(dst, c.Resize(c.Value(src), dst.Size))

	return nil
}

// vector lowers "op lane, a, b, dst" applying op to each lane of lane bytes.
func vector(f binop) LowerFunc {
	return func(c *Context, cursor *int) error {
		in := c.next(cursor)
		lane, a, b, dst := in.Operands[0], in.Operands[1], in.Operands[2], in.Operands[3]

		lw := uint8(lane.Value)
		c.Type(lw)

		if lw > dst.Size || dst.Size%lw != 0 {
			panic(unimplemented("%d byte lanes in %d bytes", lw, dst.Size))
		}

		t := c.Type(dst.Size)

		x := c.ValueAs(a, dst.Size)
		y := c.ValueAs(b, dst.Size)

		var r value.Value = constant.NewInt(t, 0)

		for i := uint8(0); i < dst.Size/lw; i++ {
			sh := constant.NewInt(t, int64(i)*int64(lw)*8)

			xl := c.Resize(c.Cur.NewLShr(x, sh), lw)
			yl := c.Resize(c.Cur.NewLShr(y, sh), lw)

			z := c.Resize(f(c.Cur, xl, yl), dst.Size)

			r = c.Cur.NewOr(r, c.Cur.NewShl(z, sh))
		}

		c.SetValue(dst, r)

		return nil
	}
}
