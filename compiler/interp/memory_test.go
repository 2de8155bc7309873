package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryMap(t *testing.T) {
	m := NewMemory()

	_, err := m.Map("a", 0x1000, 0x100)
	require.NoError(t, err)

	_, err = m.Map("b", 0x1100, 0x100)
	require.NoError(t, err)

	for _, r := range []struct{ base, size uint64 }{
		{0x10ff, 2},
		{0x0f00, 0x101},
		{0x1050, 0x10},
		{0x0f00, 0x1000},
	} {
		_, err = m.Map("c", r.base, r.size)
		assert.Error(t, err, "%#x+%#x", r.base, r.size)
	}

	_, err = m.Map("d", 0x0f00, 0x100)
	assert.NoError(t, err)

	_, err = m.Map("e", 0, 0)
	assert.Error(t, err)

	_, err = m.Map("f", ^uint64(0)-1, 4)
	assert.Error(t, err)
}

func TestMemoryReadWrite(t *testing.T) {
	m := NewMemory()

	_, err := m.Map("a", 0x1000, 0x10)
	require.NoError(t, err)

	require.NoError(t, m.Write(0x1000, 8, 0x0807060504030201))

	for _, tc := range []struct {
		addr uint64
		n    int
		exp  uint64
	}{
		{0x1000, 1, 0x01},
		{0x1001, 2, 0x0302},
		{0x1004, 4, 0x08070605},
		{0x1000, 8, 0x0807060504030201},
	} {
		x, err := m.Read(tc.addr, tc.n)
		require.NoError(t, err)
		assert.Equal(t, tc.exp, x)
	}

	_, err = m.Read(0x100c, 8)
	var fault FaultError
	assert.ErrorAs(t, err, &fault)
	assert.Equal(t, FaultError{Addr: 0x100c, Size: 8}, fault)

	_, err = m.Read(0x0fff, 1)
	assert.Error(t, err)

	_, err = m.Read(0x1000, 3)
	assert.Error(t, err)

	assert.Error(t, m.Write(0x1010, 1, 0))
}

func TestMemoryAlloc(t *testing.T) {
	m := NewMemory()

	a := m.Alloc("a", 5)
	b := m.Alloc("b", 16)

	assert.Equal(t, uint64(AllocBase), a.Base)
	assert.Zero(t, b.Base%16)
	assert.Greater(t, b.Base, a.End())

	m.Free(a)

	_, err := m.Region(a.Base, 1)
	assert.Error(t, err)

	_, err = m.Region(b.Base, 16)
	assert.NoError(t, err)
}
