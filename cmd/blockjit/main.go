package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/blockjit/compiler"
	"github.com/slowlang/blockjit/compiler/arch"
	"github.com/slowlang/blockjit/compiler/format"
	"github.com/slowlang/blockjit/compiler/interp"
	"github.com/slowlang/blockjit/compiler/regopt"
	"github.com/slowlang/blockjit/compiler/rt"
	"github.com/slowlang/blockjit/compiler/translate"
)

func main() {
	def := translate.DefaultConfig()

	parseCmd := &cli.Command{
		Name:        "parse",
		Description: "parse units and print them back",
		Action:      parseAct,
		Args:        cli.Args{},
	}

	lowerCmd := &cli.Command{
		Name:        "lower",
		Description: "translate units and print llvm ir",
		Action:      lowerAct,
		Args:        cli.Args{},
	}

	dseCmd := &cli.Command{
		Name:        "dse",
		Description: "print loop regions and dead register file stores",
		Action:      dseAct,
		Args:        cli.Args{},
	}

	runCmd := &cli.Command{
		Name:        "run",
		Description: "translate units and run them one after another on the reference machine",
		Action:      runAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("reg", "", "initial registers: RB[1]=3,PC=0x100"),
			cli.NewFlag("map", "", "guest memory to map: 0x10000:64KiB,..."),
		},
	}

	app := &cli.Command{
		Name:        "blockjit",
		Description: "blockjit translates guest block ir into llvm ir",
		Before:      before,
		Flags: []*cli.Flag{
			cli.NewFlag("memory-model", def.MemoryModel, "memory model: generic, user or cache"),
			cli.NewFlag("page-size", def.PageSize, "software cache page size"),
			cli.NewFlag("cache-size", int(def.CacheSize), "software cache slots"),
			cli.NewFlag("user-addr-space", "0", "llvm address space id of guest pointers in the user model"),
			cli.NewFlag("optimize", def.Optimize, "remove dead register file stores"),
			cli.NewFlag("workers", 0, "concurrent translations, 0 means GOMAXPROCS"),
			cli.NewFlag("verbosity,v", "", "logger verbosity topics"),
			cli.HelpFlag,
		},
		Commands: []*cli.Command{
			parseCmd,
			lowerCmd,
			dseCmd,
			runCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func before(c *cli.Command) error {
	tlog.SetVerbosity(c.String("verbosity"))

	return nil
}

func config(c *cli.Command) (cfg translate.Config, err error) {
	cfg = translate.Config{
		MemoryModel: c.String("memory-model"),
		PageSize:    c.String("page-size"),
		CacheSize:   uint64(c.Int("cache-size")),
		Optimize:    c.Bool("optimize"),
		Workers:     c.Int("workers"),
	}

	cfg.UserAddrSpace, err = addrSpace(c.String("user-addr-space"))
	if err != nil {
		return cfg, errors.Wrap(err, "user address space")
	}

	return cfg, nil
}

func addrSpace(q string) (uint64, error) {
	if q == "" {
		return 0, nil
	}

	return strconv.ParseUint(q, 0, 32)
}

func parseAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		text, err := os.ReadFile(a)
		if err != nil {
			return errors.Wrap(err, "read %v", a)
		}

		us, err := compiler.Parse(ctx, a, text)
		if err != nil {
			return errors.Wrap(err, "parse %v", a)
		}

		b, err := format.Format(ctx, nil, us)
		if err != nil {
			return errors.Wrap(err, "format %v", a)
		}

		fmt.Printf("%s", b)
	}

	return nil
}

func lowerAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	cfg, err := config(c)
	if err != nil {
		return err
	}

	for _, a := range c.Args {
		res, err := compiler.TranslateFile(ctx, a, arch.Reference(), arch.DefaultStateBlock(), cfg)
		if err != nil {
			return errors.Wrap(err, "translate %v", a)
		}

		for _, r := range res {
			fmt.Printf("%s\n", r.Module)
		}
	}

	return nil
}

func dseAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	cfg, err := config(c)
	if err != nil {
		return err
	}

	cfg.Optimize = false

	for _, a := range c.Args {
		res, err := compiler.TranslateFile(ctx, a, arch.Reference(), arch.DefaultStateBlock(), cfg)
		if err != nil {
			return errors.Wrap(err, "translate %v", a)
		}

		for _, r := range res {
			fmt.Printf("%v:\n", r.Func.Ident())

			regopt.Regions(r.Func).Walk(func(rg *regopt.Region, depth int) {
				head := "func"
				if rg.Header != nil {
					head = "loop " + rg.Header.Ident()
				}

				fmt.Printf("%*s%v:", 2*depth+2, "", head)

				for _, b := range rg.Blocks {
					fmt.Printf(" %v", b.Ident())
				}

				fmt.Printf("\n")
			})

			for _, st := range regopt.DeadStores(r.Func, r.Tags) {
				fmt.Printf("  dead: %v\n", st.LLString())
			}
		}
	}

	return nil
}

func runAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	cfg, err := config(c)
	if err != nil {
		return err
	}

	lc, err := cfg.LowerConfig()
	if err != nil {
		return err
	}

	rf, sb := arch.Reference(), arch.DefaultStateBlock()

	th, err := rt.New(interp.New(nil), rf, sb, lc)
	if err != nil {
		return errors.Wrap(err, "new thread")
	}

	err = mapGuest(th, c.String("map"))
	if err != nil {
		return errors.Wrap(err, "map")
	}

	err = setRegs(th, c.String("reg"))
	if err != nil {
		return errors.Wrap(err, "registers")
	}

	for _, a := range c.Args {
		res, err := compiler.TranslateFile(ctx, a, rf, sb, cfg)
		if err != nil {
			return errors.Wrap(err, "translate %v", a)
		}

		for _, r := range res {
			err = th.Run(r.Func)
			if err != nil {
				return errors.Wrap(err, "run %v", r.Func.Name())
			}
		}
	}

	for _, e := range rf.Entries {
		for i := 0; i < e.Count; i++ {
			x, err := th.RegByName(e.Name, i)
			if err != nil {
				return err
			}

			if e.Count == 1 {
				fmt.Printf("%-6v %#x\n", e.Name, x)
			} else {
				fmt.Printf("%-6v %#x\n", fmt.Sprintf("%v[%d]", e.Name, i), x)
			}
		}
	}

	fmt.Printf("helper reads %d  writes %d  cache fills %d\n", th.HelperReads, th.HelperWrites, th.CacheFills)

	return nil
}

func mapGuest(th *rt.Thread, q string) error {
	for _, m := range fields(q) {
		addr, size, ok := strings.Cut(m, ":")
		if !ok {
			return errors.New("addr:size expected: %q", m)
		}

		a, err := strconv.ParseUint(addr, 0, 64)
		if err != nil {
			return errors.Wrap(err, "addr")
		}

		s, err := units.RAMInBytes(size)
		if err != nil {
			return errors.Wrap(err, "size")
		}

		err = th.MapGuest(a, uint64(s))
		if err != nil {
			return err
		}
	}

	return nil
}

func setRegs(th *rt.Thread, q string) error {
	for _, r := range fields(q) {
		name, val, ok := strings.Cut(r, "=")
		if !ok {
			return errors.New("reg=value expected: %q", r)
		}

		idx := 0

		if n, i, ok := strings.Cut(name, "["); ok {
			x, err := strconv.Atoi(strings.TrimSuffix(i, "]"))
			if err != nil {
				return errors.Wrap(err, "index: %q", r)
			}

			name, idx = n, x
		}

		v, err := strconv.ParseUint(val, 0, 64)
		if err != nil {
			return errors.Wrap(err, "value: %q", r)
		}

		err = th.SetRegByName(name, idx, v)
		if err != nil {
			return err
		}
	}

	return nil
}

func fields(q string) []string {
	return strings.FieldsFunc(q, func(r rune) bool { return r == ',' || r == ' ' })
}
