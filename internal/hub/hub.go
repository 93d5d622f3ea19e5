// Package hub fans out canvas diffs to every connected viewer over a
// binary WebSocket stream. The hub owns the subscriber list exclusively;
// nothing outside this package ever touches it.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fusetim/ipcanvas/internal/canvas"
	"github.com/gorilla/websocket"
)

// DefaultWriteDeadline bounds how long a broadcast waits on one
// subscriber before giving up and evicting it.
const DefaultWriteDeadline = 2 * time.Second

// DefaultAdmitBuffer and DefaultEventBuffer size the hub's internal
// channels so a burst of connecting or disconnecting subscribers
// doesn't stall the goroutines that feed them.
const (
	DefaultAdmitBuffer = 16
	DefaultEventBuffer = 64
)

// Conn is the subset of *websocket.Conn the hub depends on; declaring
// it locally lets tests exercise the broadcast/evict logic against a
// fake without a real network connection.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Config configures a Hub.
type Config struct {
	Logger        *slog.Logger
	WriteDeadline time.Duration
}

// DefaultConfig returns a Config with the service's default write
// deadline.
func DefaultConfig() *Config {
	return &Config{
		Logger:        slog.Default(),
		WriteDeadline: DefaultWriteDeadline,
	}
}

type subscriber struct {
	conn Conn
}

type subscriberEvent struct {
	sub *subscriber
	err error
}

// Hub is the single task that owns the subscriber list. Run must be
// called exactly once; Admit may be called concurrently from any
// number of upgrade handlers.
type Hub struct {
	log           *slog.Logger
	writeDeadline time.Duration

	admit  chan *subscriber
	events chan subscriberEvent

	subs            map[*subscriber]struct{}
	subscriberCount atomic.Int64
}

// New creates a Hub. Call Run to start it before calling Admit.
func New(cfg *Config) *Hub {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	deadline := cfg.WriteDeadline
	if deadline <= 0 {
		deadline = DefaultWriteDeadline
	}
	return &Hub{
		log:           log,
		writeDeadline: deadline,
		admit:         make(chan *subscriber, DefaultAdmitBuffer),
		events:        make(chan subscriberEvent, DefaultEventBuffer),
		subs:          make(map[*subscriber]struct{}),
	}
}

// Admit registers conn as a subscriber and starts a goroutine reading
// frames from it so the hub can evict on Close opcode or read error.
// It blocks the caller only when DefaultAdmitBuffer admissions are
// already waiting for the hub loop.
func (h *Hub) Admit(conn Conn) {
	sub := &subscriber{conn: conn}
	go h.readLoop(sub)
	h.admit <- sub
}

// readLoop only exists to surface Close opcodes and read errors to the
// hub loop; any data frame from a subscriber is reserved for a future
// "request full snapshot" message and is otherwise ignored.
func (h *Hub) readLoop(sub *subscriber) {
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			h.events <- subscriberEvent{sub: sub, err: err}
			return
		}
	}
}

// SubscriberCount returns the number of currently admitted subscribers.
func (h *Hub) SubscriberCount() int64 { return h.subscriberCount.Load() }

// Run drives the hub: on each cycle it prefers an inbound diff, then a
// pending admission, then a subscriber-originated event (eviction),
// matching the priority order new subscribers and disconnects must
// never starve a diff broadcast, and an evicted subscriber must never
// starve the next one. Run returns when ctx is cancelled, after
// closing every subscriber connection.
func (h *Hub) Run(ctx context.Context, diffs <-chan []canvas.Pixel) error {
	h.log.Info("hub task started", "write_deadline", h.writeDeadline)

	for {
		select {
		case diff, ok := <-diffs:
			if !ok {
				h.closeAll()
				h.log.Info("hub task stopping: diff channel closed")
				return nil
			}
			h.broadcast(diff)
			continue
		default:
		}
		select {
		case sub := <-h.admit:
			h.addSubscriber(sub)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAll()
			h.log.Info("hub task stopping", "reason", ctx.Err())
			return ctx.Err()
		case diff, ok := <-diffs:
			if !ok {
				h.closeAll()
				h.log.Info("hub task stopping: diff channel closed")
				return nil
			}
			h.broadcast(diff)
		case sub := <-h.admit:
			h.addSubscriber(sub)
		case ev := <-h.events:
			h.evict(ev.sub, ev.err)
		}
	}
}

func (h *Hub) addSubscriber(sub *subscriber) {
	h.subs[sub] = struct{}{}
	h.subscriberCount.Store(int64(len(h.subs)))
	h.log.Info("subscriber admitted", "subscribers", len(h.subs))
}

// broadcast serializes diff once and writes it concurrently to every
// subscriber, bounded by writeDeadline. A slow subscriber cannot delay
// delivery to the others: the hub waits only until the whole batch of
// writes completes (success, error, or deadline), then evicts whoever
// failed.
func (h *Hub) broadcast(diff []canvas.Pixel) {
	if len(diff) == 0 || len(h.subs) == 0 {
		return
	}
	frame := EncodeDiff(diff)

	var wg sync.WaitGroup
	type failure struct {
		sub *subscriber
		err error
	}
	failures := make(chan failure, len(h.subs))

	for sub := range h.subs {
		wg.Add(1)
		go func(s *subscriber) {
			defer wg.Done()
			_ = s.conn.SetWriteDeadline(time.Now().Add(h.writeDeadline))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				failures <- failure{sub: s, err: err}
			}
		}(sub)
	}
	wg.Wait()
	close(failures)

	for f := range failures {
		h.evict(f.sub, f.err)
	}
}

func (h *Hub) evict(sub *subscriber, cause error) {
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	h.subscriberCount.Store(int64(len(h.subs)))
	_ = sub.conn.Close()
	h.log.Info("subscriber evicted", "subscribers", len(h.subs), "cause", cause)
}

func (h *Hub) closeAll() {
	for sub := range h.subs {
		_ = sub.conn.Close()
	}
	h.subs = make(map[*subscriber]struct{})
	h.subscriberCount.Store(0)
}
