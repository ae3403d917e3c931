package capture

import (
	"testing"

	"github.com/ethan/screencaster/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlackNV12RoundsToEvenDimensions(t *testing.T) {
	f := blackNV12(101, 51)
	assert.Equal(t, 102, f.Width)
	assert.Equal(t, 52, f.Height)
	assert.Len(t, f.Luma, 102*52)
	for _, b := range f.Chroma {
		assert.Equal(t, byte(128), b)
	}
}

func TestCropNV12ExtractsSubRect(t *testing.T) {
	src := pipeline.RawFrame{
		Width: 4, Height: 4, LumaStride: 4, ChromaStride: 4,
	}
	src.Luma = make([]byte, 16)
	for i := range src.Luma {
		src.Luma[i] = byte(i)
	}
	src.Chroma = make([]byte, 8)
	for i := range src.Chroma {
		src.Chroma[i] = byte(i + 100)
	}

	out := cropNV12(src, pipeline.CropRect{X: 1, Y: 1, W: 2, H: 2})
	require.Equal(t, 2, out.Width)
	require.Equal(t, 2, out.Height)
	assert.Equal(t, []byte{5, 6, 9, 10}, out.Luma)
}

func TestCropNV12ClampsToSourceBounds(t *testing.T) {
	src := pipeline.RawFrame{Width: 4, Height: 4, LumaStride: 4, ChromaStride: 4}
	src.Luma = make([]byte, 16)
	src.Chroma = make([]byte, 8)

	out := cropNV12(src, pipeline.CropRect{X: 3, Y: 3, W: 4, H: 4})
	assert.LessOrEqual(t, out.Width, 2)
	assert.LessOrEqual(t, out.Height, 2)
}

func TestCropChangedDetectsNilTransitions(t *testing.T) {
	assert.False(t, cropChanged(nil, nil))
	c := &pipeline.CropRect{W: 10, H: 10}
	assert.True(t, cropChanged(nil, c))
	assert.True(t, cropChanged(c, nil))
	c2 := &pipeline.CropRect{W: 10, H: 10}
	assert.False(t, cropChanged(c, c2))
	c3 := &pipeline.CropRect{W: 20, H: 10}
	assert.True(t, cropChanged(c, c3))
}

func TestClampFPSEnforcesFloor(t *testing.T) {
	assert.Equal(t, uint32(minFPS), clampFPS(5))
	assert.Equal(t, uint32(60), clampFPS(60))
}

func TestSelectDisplayRejectedWhilePlaying(t *testing.T) {
	c := &Capturer{}
	c.state.Store(int32(statePlaying))
	err := c.SelectDisplay("any")
	assert.Error(t, err)
}
