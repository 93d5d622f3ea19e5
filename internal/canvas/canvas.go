// Package canvas holds the raster canvas state and the differ that
// computes the deltas published to subscribers.
package canvas

import (
	"errors"
	"fmt"

	"github.com/fusetim/ipcanvas/internal/events"
)

// ErrOutOfBounds is returned by Set when (x, y) falls outside the
// canvas. It is a no-op error: callers log it and continue.
var ErrOutOfBounds = errors.New("ipcanvas: pixel out of bounds")

// Pixel is one cell's coordinates and color.
type Pixel struct {
	X, Y  uint16
	Color events.PixelColor
}

// Canvas is a width x height raster, row-major, initialized to opaque
// white. A Canvas has no internal synchronization: per spec.md §3 and
// §9, it is owned exclusively by a single writer (the canvas task),
// and must never be shared across goroutines.
type Canvas struct {
	width, height uint16
	data          []events.PixelColor
}

// New creates a width x height canvas initialized to opaque white.
func New(width, height uint16) *Canvas {
	data := make([]events.PixelColor, int(width)*int(height))
	for i := range data {
		data[i] = events.White
	}
	return &Canvas{width: width, height: height, data: data}
}

// Width returns the canvas width.
func (c *Canvas) Width() uint16 { return c.width }

// Height returns the canvas height.
func (c *Canvas) Height() uint16 { return c.height }

func (c *Canvas) index(x, y uint16) (int, bool) {
	if x >= c.width || y >= c.height {
		return 0, false
	}
	return int(y)*int(c.width) + int(x), true
}

// Get returns the color at (x, y) and whether the coordinate was in
// bounds.
func (c *Canvas) Get(x, y uint16) (events.PixelColor, bool) {
	i, ok := c.index(x, y)
	if !ok {
		return events.PixelColor{}, false
	}
	return c.data[i], true
}

// Set writes color at (x, y). Out-of-bounds coordinates are a no-op
// that returns ErrOutOfBounds; the caller is expected to log and
// continue rather than treat this as fatal.
func (c *Canvas) Set(x, y uint16, color events.PixelColor) error {
	i, ok := c.index(x, y)
	if !ok {
		return fmt.Errorf("%w: (%d, %d) on %dx%d canvas", ErrOutOfBounds, x, y, c.width, c.height)
	}
	c.data[i] = color
	return nil
}

// Clone returns an independent copy of c, suitable for use as a
// differ's reference snapshot.
func (c *Canvas) Clone() *Canvas {
	out := &Canvas{width: c.width, height: c.height, data: make([]events.PixelColor, len(c.data))}
	copy(out.data, c.data)
	return out
}

// Apply applies a single canvas event to the canvas. Unsupported or
// unknown event kinds (including PlaceLabel, which is reserved and not
// yet specified) are reported via the returned bool so the caller can
// log and continue without treating it as fatal.
func (c *Canvas) Apply(e events.Event) (applied bool, err error) {
	switch e.Kind() {
	case events.KindPlacePixel:
		x, y := e.XY()
		if err := c.Set(x, y, e.Color()); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, nil
	}
}

// Iter returns every pixel of the canvas in row-major order (y
// ascending outer, x ascending inner): exactly Width()*Height() items.
func (c *Canvas) Iter() []Pixel {
	if c.width == 0 || c.height == 0 {
		return nil
	}
	out := make([]Pixel, 0, len(c.data))
	for y := uint16(0); ; y++ {
		for x := uint16(0); ; x++ {
			out = append(out, Pixel{X: x, Y: y, Color: c.data[int(y)*int(c.width)+int(x)]})
			if x == c.width-1 {
				break
			}
		}
		if y == c.height-1 {
			break
		}
	}
	return out
}
