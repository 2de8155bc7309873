package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddrSpace(t *testing.T) {
	for _, tc := range []struct {
		q   string
		exp uint64
	}{
		{"", 0},
		{"0", 0},
		{"1", 1},
		{"0x10", 16},
	} {
		x, err := addrSpace(tc.q)
		if assert.NoError(t, err, tc.q) {
			assert.Equal(t, tc.exp, x, tc.q)
		}
	}

	for _, q := range []string{"4GiB", "4294967296", "-1"} {
		_, err := addrSpace(q)
		assert.Error(t, err, q)
	}
}

func TestSetRegsErrors(t *testing.T) {
	for _, q := range []string{"RB1", "RB[x]=1", "RB[1]=y"} {
		assert.Error(t, setRegs(nil, q), q)
	}
}
