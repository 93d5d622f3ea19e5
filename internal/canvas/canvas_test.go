package canvas

import (
	"testing"

	"github.com/fusetim/ipcanvas/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	c := New(10, 10)
	require.NoError(t, c.Set(5, 5, events.Red))
	got, ok := c.Get(5, 5)
	require.True(t, ok)
	assert.Equal(t, events.Red, got)
}

func TestSetGet_BigCanvas(t *testing.T) {
	c := New(4096, 4096)
	require.NoError(t, c.Set(5, 5, events.Red))
	got, ok := c.Get(5, 5)
	require.True(t, ok)
	assert.Equal(t, events.Red, got)
}

func TestGet_OutOfBounds(t *testing.T) {
	c := New(10, 10)
	_, ok := c.Get(10, 10)
	assert.False(t, ok)
}

func TestSet_OutOfBounds(t *testing.T) {
	c := New(10, 10)
	err := c.Set(10, 10, events.Red)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestIter_RowMajor(t *testing.T) {
	c := New(2, 2)
	require.NoError(t, c.Set(0, 0, events.Red))
	require.NoError(t, c.Set(1, 0, events.Green))
	require.NoError(t, c.Set(0, 1, events.Blue))
	// (1,1) remains white.

	pixels := c.Iter()
	require.Len(t, pixels, 4)
	assert.Equal(t, Pixel{X: 0, Y: 0, Color: events.Red}, pixels[0])
	assert.Equal(t, Pixel{X: 1, Y: 0, Color: events.Green}, pixels[1])
	assert.Equal(t, Pixel{X: 0, Y: 1, Color: events.Blue}, pixels[2])
	assert.Equal(t, Pixel{X: 1, Y: 1, Color: events.White}, pixels[3])
}

func TestApply_PlacePixel(t *testing.T) {
	c := New(4, 4)
	applied, err := c.Apply(events.PlacePixel(1, 1, events.Magenta))
	require.NoError(t, err)
	assert.True(t, applied)
	got, _ := c.Get(1, 1)
	assert.Equal(t, events.Magenta, got)
}

func TestApply_PlaceLabelIsIgnored(t *testing.T) {
	c := New(4, 4)
	applied, err := c.Apply(events.PlaceLabel(0, 0, "hi"))
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestApply_PlacePixelOutOfBounds(t *testing.T) {
	c := New(4, 4)
	_, err := c.Apply(events.PlacePixel(100, 100, events.Red))
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestClone_IsIndependent(t *testing.T) {
	c := New(2, 2)
	clone := c.Clone()
	require.NoError(t, c.Set(0, 0, events.Red))
	got, _ := clone.Get(0, 0)
	assert.Equal(t, events.White, got, "mutating the original must not affect the clone")
}
