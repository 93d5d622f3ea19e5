package canvas

import (
	"testing"

	"github.com/fusetim/ipcanvas/internal/events"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestDiff_ThreeChangedCells(t *testing.T) {
	c := New(2, 2)
	prev := c.Clone()

	require.NoError(t, c.Set(0, 0, events.Red))
	require.NoError(t, c.Set(1, 0, events.Green))
	require.NoError(t, c.Set(0, 1, events.Blue))

	got := Diff(prev, c)
	want := []Pixel{
		{X: 0, Y: 0, Color: events.Red},
		{X: 1, Y: 0, Color: events.Green},
		{X: 0, Y: 1, Color: events.Blue},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Diff() mismatch (-want +got):\n%s", diff)
	}
}

func TestDiff_EmptyWhenUnchanged(t *testing.T) {
	c := New(2, 2)
	prev := c.Clone()
	require.NoError(t, c.Set(1, 1, events.White)) // already white
	got := Diff(prev, c)
	require.Empty(t, got)
}

func TestDiff_EmptyForIdenticalSnapshots(t *testing.T) {
	c := New(4, 4)
	require.NoError(t, c.Set(2, 2, events.Red))
	snap := c.Clone()
	got := Diff(snap, c)
	require.Empty(t, got)
}

func TestDiff_MismatchedDimensionsReturnsNil(t *testing.T) {
	a := New(2, 2)
	b := New(3, 3)
	require.Nil(t, Diff(a, b))
}
