// Package supervisor wires the canvas task, the hub task, and the two
// listening sockets together, and drives orderly shutdown on
// cancellation.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fusetim/ipcanvas/internal/canvas"
	"github.com/fusetim/ipcanvas/internal/canvastask"
	"github.com/fusetim/ipcanvas/internal/events"
	"github.com/fusetim/ipcanvas/internal/hub"
	"github.com/gorilla/websocket"
)

// Default channel capacities, matching spec.md's back-pressure
// envelope: 128 events, 10 diffs.
const (
	DefaultEventChannelCapacity = 128
	DefaultDiffChannelCapacity  = 10
)

// Config configures a Supervisor.
type Config struct {
	Logger *slog.Logger

	PingAddr string
	WSAddr   string

	Width, Height uint16
	TickInterval  time.Duration

	EventChannelCapacity int
	DiffChannelCapacity  int

	// OnDiffPublished, if set, is called with the pixel count of every
	// diff the canvas task actually publishes, for metrics collection.
	OnDiffPublished func(pixels int)
}

// Supervisor owns the service's two acceptors and the two long-lived
// tasks (canvas, hub) that everything else feeds into.
type Supervisor struct {
	log *slog.Logger
	cfg Config

	pingListener net.Listener
	wsServer     *http.Server

	events chan events.Event
	diffs  chan []canvas.Pixel

	canvasTask *canvastask.Task
	hubTask    *hub.Hub

	upgrader websocket.Upgrader
}

// New creates a Supervisor. Call Run to start serving.
func New(cfg Config) *Supervisor {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	eventCap := cfg.EventChannelCapacity
	if eventCap <= 0 {
		eventCap = DefaultEventChannelCapacity
	}
	diffCap := cfg.DiffChannelCapacity
	if diffCap <= 0 {
		diffCap = DefaultDiffChannelCapacity
	}

	diffs := make(chan []canvas.Pixel, diffCap)

	s := &Supervisor{
		log:    log,
		cfg:    cfg,
		events: make(chan events.Event, eventCap),
		diffs:  diffs,
		canvasTask: canvastask.New(&canvastask.Config{
			Logger:          log.With("component", "canvas"),
			Width:           cfg.Width,
			Height:          cfg.Height,
			TickInterval:    cfg.TickInterval,
			OnDiffPublished: cfg.OnDiffPublished,
		}, diffs),
		hubTask: hub.New(&hub.Config{
			Logger:        log.With("component", "hub"),
			WriteDeadline: hub.DefaultWriteDeadline,
		}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	return s
}

// SubscriberCount returns the number of currently connected WebSocket
// subscribers, for metrics collection.
func (s *Supervisor) SubscriberCount() int64 { return s.hubTask.SubscriberCount() }

// Run starts both acceptors and both tasks, and blocks until ctx is
// cancelled. Shutdown is cooperative: the acceptors stop first, then
// every in-flight ping connection is cancelled and awaited, then the
// event channel is closed (letting the canvas task drain and emit a
// final diff), then the diff channel is closed (letting the hub task
// exit).
func (s *Supervisor) Run(ctx context.Context) error {
	pingLis, err := net.Listen("tcp", s.cfg.PingAddr)
	if err != nil {
		return fmt.Errorf("ipcanvas: listen for ping records on %q: %w", s.cfg.PingAddr, err)
	}
	s.pingListener = pingLis
	s.log.Info("ping listener started", "address", pingLis.Addr().String())

	mux := http.NewServeMux()
	mux.HandleFunc("/subscribe", s.handleSubscribe)
	wsLis, err := net.Listen("tcp", s.cfg.WSAddr)
	if err != nil {
		pingLis.Close()
		return fmt.Errorf("ipcanvas: listen for subscribers on %q: %w", s.cfg.WSAddr, err)
	}
	s.wsServer = &http.Server{Handler: mux}
	s.log.Info("subscriber listener started", "address", wsLis.Addr().String())

	// shutdownCtx (distinct from ctx, the caller's outer context) is the
	// signal every ping-connection goroutine actually watches; it is
	// cancelled explicitly below, on whichever
	// branch of the select triggers shutdown, so a fatal task error
	// tears connections down just as surely as caller cancellation does.
	// The canvas and hub tasks do not watch it: they stop only when their
	// input channels are closed, in the order below.
	shutdownCtx, cancelShutdown := context.WithCancel(context.Background())
	defer cancelShutdown()

	var pingWG sync.WaitGroup

	canvasDone := make(chan error, 1)
	go func() { canvasDone <- s.canvasTask.Run(context.Background(), s.events) }()
	hubDone := make(chan error, 1)
	go func() { hubDone <- s.hubTask.Run(context.Background(), s.diffs) }()

	errCh := make(chan error, 2)
	go func() { errCh <- s.acceptPingRecords(shutdownCtx, pingLis, &pingWG) }()
	go func() {
		if err := s.wsServer.Serve(wsLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.log.Info("supervisor shutting down", "reason", ctx.Err())
	case err := <-errCh:
		if err != nil {
			s.log.Error("fatal task error, shutting down", "error", err)
		}
	}

	pingLis.Close()
	shutdownHTTPCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.wsServer.Shutdown(shutdownHTTPCtx)

	// A ping sender is a separately lifecycled process with no reason to
	// stop sending just because this service is shutting down; closing
	// the listener only stops new accepts, so every already-accepted
	// Pump must be told to stop explicitly. Cancelling shutdownCtx makes
	// each servePingConn goroutine close its connection, which is the
	// only thing that can unblock a Pump parked in a blocking conn.Read.
	// Waiting for pingWG here guarantees no Pump can still be holding a
	// reference to s.events by the time it's closed below.
	cancelShutdown()
	pingWG.Wait()

	// Closing the event channel lets the canvas task drain and emit a
	// final diff; only once it has actually returned is it safe to
	// close the diff channel, or that final diff could be lost.
	close(s.events)
	<-canvasDone
	close(s.diffs)
	<-hubDone

	return nil
}

func (s *Supervisor) acceptPingRecords(ctx context.Context, lis net.Listener, wg *sync.WaitGroup) error {
	for {
		conn, err := lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("ipcanvas: accept ping connection: %w", err)
		}
		wg.Add(1)
		go s.servePingConn(ctx, conn, wg)
	}
}

func (s *Supervisor) servePingConn(ctx context.Context, conn net.Conn, wg *sync.WaitGroup) {
	defer wg.Done()
	defer conn.Close()
	log := s.log.With("component", "ping-conn", "remote", conn.RemoteAddr())

	// Pump.Run only notices ctx cancellation while handing events to the
	// event channel, and not at all while parked in a blocking conn.Read; closing
	// conn from here is what actually unblocks that read.
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stopWatch:
		}
	}()

	pump := NewPump(conn, s.events, log)
	if err := pump.Run(ctx); err != nil {
		log.Debug("ping connection ended", "error", err)
	}
}

func (s *Supervisor) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	s.hubTask.Admit(conn)
}
