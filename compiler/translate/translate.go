// Package translate drives lowering and optimization of translation units.
package translate

import (
	"context"
	"math/bits"
	"runtime"

	"github.com/docker/go-units"
	ll "github.com/llir/llvm/ir"
	"golang.org/x/sync/errgroup"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/blockjit/compiler/alias"
	"github.com/slowlang/blockjit/compiler/arch"
	"github.com/slowlang/blockjit/compiler/ir"
	"github.com/slowlang/blockjit/compiler/lower"
	"github.com/slowlang/blockjit/compiler/regopt"
)

type (
	Config struct {
		MemoryModel string

		// PageSize is a software cache page size like "4KiB".
		PageSize string
		// CacheSize is the number of software cache slots.
		CacheSize uint64

		UserAddrSpace uint64

		// Optimize enables dead register store elimination.
		Optimize bool

		// Workers bounds concurrent translations. Zero means GOMAXPROCS.
		Workers int
	}

	Translator struct {
		Config

		RegFile *arch.RegisterFile
		State   *arch.StateBlock

		lower lower.Config
	}

	Result struct {
		Unit   *ir.Unit
		Module *ll.Module
		Func   *ll.Func
		Tags   *alias.Table

		// Dead are removed register file stores.
		Dead []*ll.InstStore
	}
)

func DefaultConfig() Config {
	return Config{
		MemoryModel: string(lower.Generic),
		PageSize:    "4KiB",
		CacheSize:   lower.DefaultCacheSize,
		Optimize:    true,
	}
}

// LowerConfig converts c into lowering parameters.
func (c Config) LowerConfig() (lc lower.Config, err error) {
	lc = lower.Config{
		MemoryModel:   lower.MemoryModel(c.MemoryModel),
		CacheSize:     c.CacheSize,
		UserAddrSpace: c.UserAddrSpace,
	}

	if c.PageSize != "" {
		ps, err := units.RAMInBytes(c.PageSize)
		if err != nil {
			return lc, errors.Wrap(err, "page size")
		}

		if ps <= 1 || ps&(ps-1) != 0 {
			return lc, errors.New("page size must be a power of two: %v", units.BytesSize(float64(ps)))
		}

		lc.PageBits = uint(bits.TrailingZeros64(uint64(ps)))
	}

	lc = lc.WithDefaults()

	if _, err = lower.NewTable(lc.MemoryModel); err != nil {
		return lc, err
	}

	return lc, nil
}

func New(rf *arch.RegisterFile, sb *arch.StateBlock, cfg Config) (*Translator, error) {
	lc, err := cfg.LowerConfig()
	if err != nil {
		return nil, errors.Wrap(err, "config")
	}

	return &Translator{
		Config:  cfg,
		RegFile: rf,
		State:   sb,
		lower:   lc,
	}, nil
}

// Translate lowers u into a fresh module.
// On error nothing usable is returned.
func (t *Translator) Translate(ctx context.Context, u *ir.Unit) (res *Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "translate unit", "unit", u.Name)
	defer tr.Finish("err", &err)

	m := ll.NewModule()

	c, err := lower.New(m, FuncName(u), t.RegFile, t.State, t.lower)
	if err != nil {
		return nil, errors.Wrap(err, "lowering context")
	}

	err = c.Lower(ctx, u)
	if err != nil {
		return nil, errors.Wrap(err, "lower")
	}

	res = &Result{
		Unit:   u,
		Module: m,
		Func:   c.Func,
		Tags:   c.Tags,
	}

	if t.Optimize {
		res.Dead = regopt.Run(ctx, c.Func, c.Tags)
	}

	err = Verify(c.Func)
	if err != nil {
		return nil, errors.Wrap(err, "verify")
	}

	tr.V("translate").Printw("translated", "blocks", len(c.Func.Blocks), "dead_stores", len(res.Dead), "tags", c.Tags.Len())

	return res, nil
}

// TranslateAll translates units concurrently, each into its own module.
// Results are in the units order.
func (t *Translator) TranslateAll(ctx context.Context, us []*ir.Unit) (_ []*Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "translate units", "units", len(us))
	defer tr.Finish("err", &err)

	w := t.Workers
	if w <= 0 {
		w = runtime.GOMAXPROCS(0)
	}

	res := make([]*Result, len(us))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w)

	for i, u := range us {
		i, u := i, u

		g.Go(func() (err error) {
			if err = ctx.Err(); err != nil {
				return err
			}

			res[i], err = t.Translate(ctx, u)
			if err != nil {
				return errors.Wrap(err, "unit %d %v", i, u.Name)
			}

			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		return nil, err
	}

	return res, nil
}

// FuncName is the generated function name for u.
func FuncName(u *ir.Unit) string {
	if u.Name != "" {
		return u.Name
	}

	return "unit"
}

// Verify checks f is complete: every block is terminated
// and branches only to blocks of f.
func Verify(f *ll.Func) error {
	own := make(map[*ll.Block]struct{}, len(f.Blocks))

	for _, b := range f.Blocks {
		own[b] = struct{}{}
	}

	check := func(b *ll.Block, v any) error {
		t, ok := v.(*ll.Block)
		if !ok {
			return errors.New("%v: branch target %T", b.Ident(), v)
		}

		if _, ok := own[t]; !ok {
			return errors.New("%v: branch to foreign block %v", b.Ident(), t.Ident())
		}

		return nil
	}

	for _, b := range f.Blocks {
		var err error

		switch t := b.Term.(type) {
		case nil:
			err = errors.New("%v: not terminated", b.Ident())
		case *ll.TermBr:
			err = check(b, t.Target)
		case *ll.TermCondBr:
			err = check(b, t.TargetTrue)
			if err == nil {
				err = check(b, t.TargetFalse)
			}
		case *ll.TermRet:
		default:
			err = errors.New("%v: unexpected terminator %T", b.Ident(), t)
		}

		if err != nil {
			return err
		}
	}

	return nil
}
