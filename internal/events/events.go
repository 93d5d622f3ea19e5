// Package events defines the CanvasEvent wire model: the tagged
// variants the ping server emits and the canvas task applies.
package events

// PixelColor is a simple RGB color.
type PixelColor struct {
	R, G, B uint8
}

// Named colors carried over from the original canvas implementation.
var (
	White   = PixelColor{R: 255, G: 255, B: 255}
	Black   = PixelColor{R: 0, G: 0, B: 0}
	Red     = PixelColor{R: 255, G: 0, B: 0}
	Green   = PixelColor{R: 0, G: 255, B: 0}
	Blue    = PixelColor{R: 0, G: 0, B: 255}
	Yellow  = PixelColor{R: 255, G: 255, B: 0}
	Cyan    = PixelColor{R: 0, G: 255, B: 255}
	Magenta = PixelColor{R: 255, G: 0, B: 255}
)

// Kind identifies which variant an Event holds. The set is extensible:
// consumers must treat any Kind they don't recognize as ignorable
// rather than aborting, per spec.md §3.
type Kind int

const (
	KindUnknown Kind = iota
	KindPlacePixel
	KindPlaceLabel
)

func (k Kind) String() string {
	switch k {
	case KindPlacePixel:
		return "PlacePixel"
	case KindPlaceLabel:
		return "PlaceLabel"
	default:
		return "Unknown"
	}
}

// Event is a tagged union of canvas operations. The zero value is
// KindUnknown and carries no payload.
type Event struct {
	kind  Kind
	x, y  uint16
	color PixelColor
	text  [8]byte
}

// PlacePixel constructs a PlacePixel event: place or overwrite one
// pixel at (x, y) with the given color.
func PlacePixel(x, y uint16, color PixelColor) Event {
	return Event{kind: KindPlacePixel, x: x, y: y, color: color}
}

// PlaceLabel constructs a reserved PlaceLabel event. text is truncated
// or null-padded to 8 bytes. Producers in this codebase never emit
// this variant yet (spec.md §3); it exists so the wire shape and the
// canvas task's handling of an unsupported variant are both testable
// ahead of the feature landing.
func PlaceLabel(x, y uint16, text string) Event {
	var buf [8]byte
	copy(buf[:], text)
	return Event{kind: KindPlaceLabel, x: x, y: y, text: buf}
}

// Kind reports which variant e holds.
func (e Event) Kind() Kind { return e.kind }

// XY returns the coordinates carried by a PlacePixel or PlaceLabel
// event. It is meaningless for KindUnknown.
func (e Event) XY() (x, y uint16) { return e.x, e.y }

// Color returns the color of a PlacePixel event. Zero value for other
// kinds.
func (e Event) Color() PixelColor { return e.color }

// Text returns the null-padded label text of a PlaceLabel event.
func (e Event) Text() [8]byte { return e.text }
