package layout

import (
	"testing"

	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSize(t *testing.T) {
	for _, tc := range []struct {
		t    types.Type
		size uint64
	}{
		{types.I1, 1},
		{types.I8, 1},
		{types.I32, 4},
		{types.NewPointer(types.I8), 8},
		{types.NewArray(3, types.I16), 6},
		{types.NewStruct(types.I64, types.I64), 16},
		{types.NewStruct(types.I8, types.I32), 8},
		{types.NewStruct(types.I32, types.I8), 8},
	} {
		s, err := Size(tc.t)
		require.NoError(t, err, "%v", tc.t)
		assert.Equal(t, tc.size, s, "%v", tc.t)
	}

	_, err := Size(types.Void)
	assert.Error(t, err)
}

func TestOffset(t *testing.T) {
	entry := types.NewStruct(types.I64, types.I64)

	off, err := Offset(entry, []int64{3, 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3*16+8), off)

	off, err = Offset(types.I8, []int64{-4})
	require.NoError(t, err)
	assert.Equal(t, int64(-4), off)

	off, err = Offset(types.NewArray(4, types.I32), []int64{0, 2})
	require.NoError(t, err)
	assert.Equal(t, int64(8), off)

	_, err = Offset(types.I32, []int64{0, 1})
	assert.Error(t, err)
}
