package parse

import (
	"context"

	"tlog.app/go/errors"
)

type (
	Spaces uint64

	Spacer struct {
		Spaces Spaces
		Of     Parser
	}
)

var (
	SpaceTab = NewSpaces(' ', '\t')
	SpaceAll = NewSpaces(' ', '\t', '\r', '\n')
)

func NewSpaces(skip ...byte) (ss Spaces) {
	for _, q := range skip {
		if q >= 64 {
			panic("too high char code")
		}

		ss |= 1 << q
	}

	return
}

func (s Spaces) Skip(b []byte, st int) (i int) {
	i = st

	for i < len(b) && b[i] < 64 && s&(1<<b[i]) != 0 {
		i++
	}

	return
}

func Spaced(p Parser, ss Spaces) Spacer {
	return Spacer{
		Spaces: ss,
		Of:     p,
	}
}

func (p Spacer) Parse(ctx context.Context, b []byte, st int) (x any, i int, err error) {
	vst := p.Spaces.Skip(b, st)

	x, i, err = p.Of.Parse(ctx, b, vst)
	if err != nil {
		if i == vst {
			i = st
		}

		err = errors.Wrap(err, "%T", p.Of)
	}

	return
}

// Blank skips spaces, newlines and comments.
func Blank(b []byte, st int) (i int) {
	i = st

	for {
		i = SpaceAll.Skip(b, i)

		if i == len(b) || b[i] != '#' {
			return i
		}

		i = skipLine(b, i)
	}
}

// EOL parses optional trailing spaces and comment up to and including newline.
type EOL struct{}

func (EOL) Parse(ctx context.Context, b []byte, st int) (x any, i int, err error) {
	i = SpaceTab.Skip(b, st)

	if i < len(b) && b[i] == '#' {
		i = skipLine(b, i)
	}

	switch {
	case i == len(b):
		return EOL{}, i, nil
	case b[i] == '\r' && i+1 < len(b) && b[i+1] == '\n':
		return EOL{}, i + 2, nil
	case b[i] == '\n':
		return EOL{}, i + 1, nil
	}

	return nil, i, errors.New("end of line expected, got %q", b[i])
}

func skipLine(b []byte, i int) int {
	for i < len(b) && b[i] != '\n' {
		i++
	}

	return i
}
