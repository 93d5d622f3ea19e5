// Package canvastask owns the canvas: a single task applies incoming
// pixel events, takes a periodic snapshot diff, and publishes whatever
// changed to the hub. Nothing else in the service touches the canvas.
package canvastask

import (
	"context"
	"log/slog"
	"time"

	"github.com/fusetim/ipcanvas/internal/canvas"
	"github.com/fusetim/ipcanvas/internal/events"
	"github.com/jonboulle/clockwork"
)

// DefaultTickInterval is the differ's default period.
const DefaultTickInterval = 1 * time.Second

// Config configures a Task.
type Config struct {
	Logger       *slog.Logger
	Width        uint16
	Height       uint16
	TickInterval time.Duration // 0 -> DefaultTickInterval
	Clock        clockwork.Clock // nil -> clockwork.NewRealClock()

	// OnDiffPublished, if set, is called with the pixel count of every
	// non-empty diff actually sent, for metrics collection.
	OnDiffPublished func(pixels int)
}

// DefaultConfig returns a Config with the service's default canvas
// dimensions and tick interval.
func DefaultConfig() *Config {
	return &Config{
		Logger:       slog.Default(),
		Width:        4096,
		Height:       4096,
		TickInterval: DefaultTickInterval,
	}
}

// Task owns the live canvas and the snapshot used to compute diffs. It
// is driven entirely by Run; nothing outside this package ever reads
// or writes the canvas directly.
type Task struct {
	log          *slog.Logger
	clock        clockwork.Clock
	tickInterval time.Duration

	canvas *canvas.Canvas
	prev   *canvas.Canvas

	diffs           chan<- []canvas.Pixel
	onDiffPublished func(pixels int)
}

// New creates a Task publishing diffs onto diffs. diffs should be
// buffered (the service default is 10 slots) so a momentarily slow
// hub task doesn't stall the canvas task.
func New(cfg *Config, diffs chan<- []canvas.Pixel) *Task {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	c := canvas.New(cfg.Width, cfg.Height)
	return &Task{
		log:             log,
		clock:           clock,
		tickInterval:    tick,
		canvas:          c,
		prev:            c.Clone(),
		diffs:           diffs,
		onDiffPublished: cfg.OnDiffPublished,
	}
}

// Run applies events arriving on incoming and republishes diffs on
// every tick. Events take priority over a coincident tick. Run returns
// when ctx is cancelled or incoming is closed, publishing one final
// diff first if the canvas is dirty.
func (t *Task) Run(ctx context.Context, incoming <-chan events.Event) error {
	t.log.Info("canvas task started", "width", t.canvas.Width(), "height", t.canvas.Height(), "tick", t.tickInterval)

	ticker := t.clock.NewTicker(t.tickInterval)
	defer ticker.Stop()

	dirty := false

	for {
		// Drain any immediately-ready event before considering the
		// tick, so a backlog of events never loses ground to ticks.
		select {
		case e, ok := <-incoming:
			if !ok {
				t.publish(&dirty)
				t.log.Info("canvas task stopping: event channel closed")
				return nil
			}
			t.apply(e, &dirty)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			t.publish(&dirty)
			t.log.Info("canvas task stopping", "reason", ctx.Err())
			return ctx.Err()
		case e, ok := <-incoming:
			if !ok {
				t.publish(&dirty)
				t.log.Info("canvas task stopping: event channel closed")
				return nil
			}
			t.apply(e, &dirty)
		case <-ticker.Chan():
			t.publish(&dirty)
		}
	}
}

func (t *Task) apply(e events.Event, dirty *bool) {
	applied, err := t.canvas.Apply(e)
	if err != nil {
		t.log.Debug("dropping event", "kind", e.Kind(), "err", err)
		return
	}
	if e.Kind() == events.KindPlaceLabel {
		t.log.Debug("ignoring label event; rendering not yet specified", "kind", e.Kind())
	}
	if applied {
		*dirty = true
	}
}

// publish computes the diff against the last published snapshot and,
// if non-empty, sends it and reclones the snapshot. It is a no-op when
// dirty is false: nothing changed since the last publish.
func (t *Task) publish(dirty *bool) {
	if !*dirty {
		return
	}
	diff := canvas.Diff(t.prev, t.canvas)
	*dirty = false
	if len(diff) == 0 {
		t.prev = t.canvas.Clone()
		return
	}

	// A diff is a cumulative delta since the last publish; skipping
	// one would desync every subscriber, so this blocks rather than
	// drops when the hub task is momentarily behind.
	t.diffs <- diff
	if t.onDiffPublished != nil {
		t.onDiffPublished(len(diff))
	}
	t.prev = t.canvas.Clone()
}
