package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/fusetim/ipcanvas/internal/events"
	"github.com/fusetim/ipcanvas/internal/ping"
)

// readBufferSize is the size of the pump's local read buffer; large
// enough to absorb a healthy burst of PingRecords per syscall without
// growing.
const readBufferSize = 4096

// Pump is the per-connection byte-pump loop that makes the sans-I/O
// ping.Server composable with a real net.Conn: it decides when to
// block on the socket, when to drain the server's egress buffer into
// the shared event channel, and when the connection is done.
type Pump struct {
	log    *slog.Logger
	conn   net.Conn
	server *ping.Server
	out    chan<- events.Event

	readBuf []byte
	pending []byte // unread tail retained across an IngestFull
}

// NewPump creates a Pump reading PingRecords off conn and forwarding
// decoded events onto out.
func NewPump(conn net.Conn, out chan<- events.Event, log *slog.Logger) *Pump {
	return &Pump{
		log:     log,
		conn:    conn,
		server:  ping.Default(),
		out:     out,
		readBuf: make([]byte, readBufferSize),
	}
}

// Run executes the byte-pump loop until the connection closes or ctx is
// cancelled. ctx is only observed while decoded events are being
// handed to out, not while Run is parked in a blocking read. It never
// returns a nil error on an abnormal exit; a clean EOF returns nil.
// Run does not check out for closure: a send on a closed out panics.
func (p *Pump) Run(ctx context.Context) error {
	for {
		if done, err := p.drainEgress(ctx); done {
			return err
		}

		mustBlock := false
		switch err := p.server.Progress(); {
		case errors.Is(err, ping.ErrEgressFull):
			// Don't touch the socket; loop back and drain egress first.
			continue
		case errors.Is(err, ping.ErrIngestEmpty):
			mustBlock = true
		}

		blocked := mustBlock && len(p.pending) == 0
		n, err := p.readOnce(blocked)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		data := append(p.pending, p.readBuf[:n]...)
		p.pending = nil
		if ingestErr := p.server.Ingest(data); ingestErr != nil {
			var full *ping.Error
			if errors.As(ingestErr, &full) {
				p.pending = append([]byte(nil), data[full.Read:]...)
			}
		}

		if n == 0 && blocked {
			// A genuine blocking read that returned no bytes and no
			// error signals the peer is done, the same way a 0-byte
			// net.Conn.Read return does outside of EOF.
			return nil
		}
	}
}

// drainEgress reserves as many outbound slots as the event channel's
// capacity allows, pulls that many decoded events out of the server,
// and hands them to out. It reports done=true if ctx was cancelled.
func (p *Pump) drainEgress(ctx context.Context) (done bool, err error) {
	ready := p.server.ReadyEvents()
	if ready == 0 {
		return false, nil
	}
	reserve := ready
	if c := cap(p.out); c > 0 && reserve > c {
		reserve = c
	}
	for _, e := range p.server.Egress(reserve) {
		select {
		case p.out <- e:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
	return false, nil
}

// readOnce performs a blocking read when blocking is set, or a
// deadline-bounded read otherwise, treating a timeout as "no bytes
// available right now" rather than an error.
func (p *Pump) readOnce(blocking bool) (int, error) {
	if blocking {
		return p.conn.Read(p.readBuf)
	}

	if err := p.conn.SetReadDeadline(time.Now()); err != nil {
		return 0, err
	}
	n, err := p.conn.Read(p.readBuf)
	if resetErr := p.conn.SetReadDeadline(time.Time{}); resetErr != nil && err == nil {
		err = resetErr
	}
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, nil
		}
		return n, err
	}
	return n, nil
}
