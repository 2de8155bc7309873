package compiler

import (
	"context"
	"os"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/blockjit/compiler/arch"
	"github.com/slowlang/blockjit/compiler/ir"
	"github.com/slowlang/blockjit/compiler/parse"
	"github.com/slowlang/blockjit/compiler/translate"
)

func TranslateFile(ctx context.Context, name string, rf *arch.RegisterFile, sb *arch.StateBlock, cfg translate.Config) (res []*translate.Result, err error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

	return Translate(ctx, name, text, rf, sb, cfg)
}

// Translate parses text into units and translates each of them.
func Translate(ctx context.Context, name string, text []byte, rf *arch.RegisterFile, sb *arch.StateBlock, cfg translate.Config) (res []*translate.Result, err error) {
	us, err := Parse(ctx, name, text)
	if err != nil {
		return nil, err
	}

	t, err := translate.New(rf, sb, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "translator")
	}

	res, err = t.TranslateAll(ctx, us)
	if err != nil {
		return nil, errors.Wrap(err, "translate")
	}

	return res, nil
}

// Parse reads and validates units.
func Parse(ctx context.Context, name string, text []byte) ([]*ir.Unit, error) {
	st := parse.New()

	st.AddFile(name, text)

	us, err := st.Units(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "parse text")
	}

	for i, u := range us {
		err = u.Validate()
		if err != nil {
			return nil, errors.Wrap(err, "unit %d %v", i, u.Name)
		}
	}

	tlog.SpanFromContext(ctx).V("parse").Printw("parsed", "name", name, "units", len(us))

	return us, nil
}
