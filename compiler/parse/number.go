package parse

import (
	"context"
	"strconv"

	"tlog.app/go/errors"
)

type (
	// Int is an unsigned integer with optional 0x, 0o or 0b prefix.
	// Result is uint64.
	Int struct{}

	// Signed is Int with optional minus sign.
	// Negative values are returned in two's complement.
	Signed struct{}
)

func (p Int) Parse(ctx context.Context, b []byte, st int) (x any, i int, err error) {
	i = st
	base := 10

	if i+1 < len(b) && b[i] == '0' {
		switch b[i+1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}

		if base != 10 {
			i += 2 // skip base prefix
		}
	}

	dst := i

	for i < len(b) && isDigit(b[i], base) {
		i++
	}

	if i == dst {
		return nil, st, errors.New("Int expected")
	}

	v, err := strconv.ParseUint(string(b[dst:i]), base, 64)
	if err != nil {
		return nil, i, errors.Wrap(err, "Int")
	}

	return v, i, nil
}

func (p Signed) Parse(ctx context.Context, b []byte, st int) (x any, i int, err error) {
	neg := st < len(b) && b[st] == '-'

	i = st
	if neg {
		i++
	}

	x, i, err = Int{}.Parse(ctx, b, i)
	if err != nil {
		if neg && i == st+1 {
			i = st
		}

		return nil, i, err
	}

	v := x.(uint64)
	if neg {
		v = -v
	}

	return v, i, nil
}

func isDigit(c byte, base int) bool {
	switch {
	case c >= '0' && c <= '9':
		return int(c-'0') < base
	case base == 16 && c >= 'a' && c <= 'f',
		base == 16 && c >= 'A' && c <= 'F':
		return true
	}

	return false
}
