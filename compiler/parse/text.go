package parse

import (
	"bytes"
	"context"
	"unicode/utf8"

	"tlog.app/go/errors"
)

type (
	Const []byte

	Ident []byte

	// Word is a run of anything but spaces and comments.
	Word []byte
)

func (p Const) Parse(ctx context.Context, b []byte, st int) (x any, i int, err error) {
	if bytes.HasPrefix(b[st:], p) {
		return Const(b[st : st+len(p)]), st + len(p), nil
	}

	return nil, st, errors.New("%q expected", []byte(p))
}

func (p Ident) Parse(ctx context.Context, b []byte, st int) (x any, i int, err error) {
	if st == len(b) {
		return nil, st, errors.New("Ident expected")
	}

	i = st

	c := b[i]

	switch {
	case c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_':
		i++
	default:
		return nil, st, errors.New("Ident expected")
	}

loop:
	for i < len(b) {
		c := b[i]

		switch {
		case c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_':
			i++
		case c >= utf8.RuneSelf:
			if r, w := utf8.DecodeRune(b[i:]); r == utf8.RuneError {
				return nil, i, errors.New("bad rune")
			} else {
				i += w
			}
		default:
			break loop
		}
	}

	return Ident(b[st:i]), i, nil
}

func (p Word) Parse(ctx context.Context, b []byte, st int) (x any, i int, err error) {
	i = st

	for i < len(b) && b[i] != '#' && SpaceAll.Skip(b, i) == i {
		i++
	}

	if i == st {
		return nil, st, errors.New("Word expected")
	}

	return Word(b[st:i]), i, nil
}
