package mgp

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNpySinkWritesVersion1(t *testing.T) {
	dir := t.TempDir()
	sink := NpySink{Dir: filepath.Join(dir, "grids")}

	require.NoError(t, sink.Save("grid2_var_H_O", []int{2, 3}, []float64{1, 2, 3, 4, 5, 6}))

	raw, err := os.ReadFile(filepath.Join(dir, "grids", "grid2_var_H_O.npy"))
	require.NoError(t, err)

	require.Equal(t, "\x93NUMPY", string(raw[:6]))
	assert.Equal(t, []byte{1, 0}, raw[6:8])

	headerLen := int(binary.LittleEndian.Uint16(raw[8:10]))
	assert.Zero(t, (10+headerLen)%64)

	header := string(raw[10 : 10+headerLen])
	assert.Contains(t, header, "'descr': '<f8'")
	assert.Contains(t, header, "'shape': (2, 3)")
	assert.Equal(t, byte('\n'), header[len(header)-1])

	body := raw[10+headerLen:]
	require.Len(t, body, 6*8)
	assert.Equal(t, 6.0, math.Float64frombits(binary.LittleEndian.Uint64(body[40:])))
}

func TestNpyHeaderOneDimensional(t *testing.T) {
	assert.Contains(t, string(npyHeader([]int{64})), "'shape': (64,)")
}

func TestNpySinkShapeMismatch(t *testing.T) {
	assert.Error(t, NpySink{Dir: t.TempDir()}.Save("x", []int{3}, []float64{1}))
	assert.NoError(t, NopSink{}.Save("x", []int{3}, nil))
}
