package arch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceLayout(t *testing.T) {
	rf := Reference()

	assert.Equal(t, uint64(136), rf.Size)

	pc, err := rf.ByTag("PC")
	require.NoError(t, err)
	assert.Equal(t, uint64(64), pc.Offset)

	z, err := rf.ByTag("Z")
	require.NoError(t, err)
	assert.Equal(t, uint64(71), z.Offset)
	assert.Equal(t, uint64(1), z.Size)

	fp, err := rf.ByName("FP")
	require.NoError(t, err)
	assert.Equal(t, uint64(72), fp.Offset)

	off, err := fp.OffsetOf(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(96), off)

	_, err = fp.OffsetOf(8)
	assert.Error(t, err)

	rb, err := rf.ByID(0)
	require.NoError(t, err)
	assert.Equal(t, "RB", rb.Name)

	_, err = rf.ByTag("Q")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStateBlock(t *testing.T) {
	sb := DefaultStateBlock()

	e, err := sb.Entry(ThreadPtr)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), e.Offset)

	e, err = sb.Entry(ModeID)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), e.Offset)

	e, err = sb.Entry(ReadCachePtr)
	require.NoError(t, err)
	assert.Equal(t, uint64(16), e.Offset)

	e, err = sb.Entry(WriteCachePtr)
	require.NoError(t, err)
	assert.Equal(t, uint64(24), e.Offset)

	assert.Equal(t, uint64(32), sb.Size())

	_, err = sb.Entry("nope")
	assert.Error(t, err)
}
