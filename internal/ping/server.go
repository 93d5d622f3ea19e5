// Package ping implements the sans-I/O PingServer state machine: it
// ingests raw bytes, parses fixed-size PingRecords, and produces
// canvas events, without performing any I/O of its own. All
// scheduling, blocking, and socket I/O live in the byte-pump loop
// (package supervisor); this package is synchronous and holds no
// suspension points, by design, so it is deterministically testable
// and reusable across transports.
package ping

import (
	"encoding/binary"
	"fmt"

	"github.com/fusetim/ipcanvas/internal/events"
)

// RecordSize is the fixed size, in bytes, of one PingRecord: 16 bytes
// source IPv6 address followed by 16 bytes destination IPv6 address,
// both in network byte order, with no padding or versioning.
const RecordSize = 32

const (
	// DefaultIngestCapacity is the default ingest buffer size, in bytes.
	DefaultIngestCapacity = 4096
	// DefaultEgressCapacity is the default egress buffer size, in events.
	DefaultEgressCapacity = 32
)

// Kind identifies which flow-control signal an Error represents. These
// are signals, not failures: the byte-pump loop in package supervisor
// interprets each one according to spec.md §4.7.
type Kind int

const (
	// KindIngestFull: the ingest buffer could not hold all of the
	// supplied bytes. Read reports how many bytes were actually
	// copied before the buffer became full.
	KindIngestFull Kind = iota
	// KindIngestEmpty: progress could not run because the ingest
	// buffer held fewer than RecordSize bytes.
	KindIngestEmpty
	// KindEgressFull: progress halted because the egress buffer
	// reached capacity while the ingest buffer still held a full
	// record.
	KindEgressFull
)

func (k Kind) String() string {
	switch k {
	case KindIngestFull:
		return "IngestFull"
	case KindIngestEmpty:
		return "IngestEmpty"
	case KindEgressFull:
		return "EgressFull"
	default:
		return "Unknown"
	}
}

// Error is a PingServer flow-control signal. Two Errors of the same
// Kind compare equal with errors.Is regardless of Read, so callers can
// write `errors.Is(err, ping.ErrIngestEmpty)`.
type Error struct {
	Kind Kind
	// Read is the number of bytes copied into the ingest buffer
	// before it became full. Only meaningful for KindIngestFull.
	Read int
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindIngestFull:
		return fmt.Sprintf("ipcanvas: ingest buffer full after reading %d bytes", e.Read)
	case KindIngestEmpty:
		return "ipcanvas: ingest buffer is empty"
	case KindEgressFull:
		return "ipcanvas: egress buffer is full"
	default:
		return "ipcanvas: unknown ping server signal"
	}
}

// Is makes Error compatible with errors.Is, comparing only Kind so
// that sentinels below can be matched regardless of Read.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for use with errors.Is.
var (
	ErrIngestFull  = &Error{Kind: KindIngestFull}
	ErrIngestEmpty = &Error{Kind: KindIngestEmpty}
	ErrEgressFull  = &Error{Kind: KindEgressFull}
)

// Server is the sans-I/O PingServer. It owns two buffers: an ingest
// byte buffer and an egress event buffer, both of configurable
// capacity. It performs no I/O and holds no background state beyond
// these buffers.
type Server struct {
	ingest         []byte
	ingestCapacity int
	egress         []events.Event
	egressCapacity int
}

// New creates a Server with the given buffer capacities. ingestCapacity
// must be greater than RecordSize bytes and egressCapacity must be
// greater than 0 events; violating either is a programmer error and
// panics, mirroring the constructor preconditions of
// original_source/.../ping/mod.rs.
func New(ingestCapacity, egressCapacity int) *Server {
	if ingestCapacity <= RecordSize {
		panic(fmt.Sprintf("ipcanvas: ping.New: ingest capacity must be greater than %d bytes, got %d", RecordSize, ingestCapacity))
	}
	if egressCapacity <= 0 {
		panic("ipcanvas: ping.New: egress capacity must be greater than 0 events")
	}
	return &Server{
		ingest:         make([]byte, 0, ingestCapacity),
		ingestCapacity: ingestCapacity,
		egress:         make([]events.Event, 0, egressCapacity),
		egressCapacity: egressCapacity,
	}
}

// Default returns a Server with the service's default capacities: 4096
// bytes of ingest, 32 events of egress.
func Default() *Server {
	return New(DefaultIngestCapacity, DefaultEgressCapacity)
}

// Ingest copies as many bytes of data as fit into the remaining ingest
// capacity. If all of data fit, it returns nil. Otherwise it returns
// an *Error of KindIngestFull with Read set to the number of bytes
// actually copied (0 if the buffer was already full); the caller is
// responsible for retaining the un-ingested tail and retrying after
// Progress + Egress free up room.
func (s *Server) Ingest(data []byte) error {
	available := s.ingestCapacity - len(s.ingest)
	toRead := available
	if toRead > len(data) {
		toRead = len(data)
	}
	s.ingest = append(s.ingest, data[:toRead]...)
	if toRead < len(data) {
		return &Error{Kind: KindIngestFull, Read: toRead}
	}
	return nil
}

// decodeRecord turns one RecordSize-byte PingRecord into a PlacePixel
// event. Per spec.md §4.4: x and y are big-endian u16 decoded from
// destination bytes [6:8] and [8:10]; color channels come from
// destination bytes [11], [13], [15]. The source address and the
// remaining destination bytes are consumed but otherwise ignored.
func decodeRecord(record []byte) events.Event {
	destination := record[16:32]
	x := binary.BigEndian.Uint16(destination[6:8])
	y := binary.BigEndian.Uint16(destination[8:10])
	color := events.PixelColor{
		R: destination[11],
		G: destination[13],
		B: destination[15],
	}
	return events.PlacePixel(x, y, color)
}

// Progress peels whole RecordSize-byte records off the front of the
// ingest buffer, decodes each into canvas events, and appends them to
// egress, stopping when either buffer is exhausted. Consumed bytes are
// removed from the front of ingest.
//
// It returns ErrIngestEmpty if, at entry, ingest held fewer than
// RecordSize bytes (and egress had room); ErrEgressFull if processing
// halted with at least one full record still in ingest because egress
// reached capacity; nil otherwise. A nil return may still leave a
// trailing partial record (< RecordSize bytes) in ingest.
func (s *Server) Progress() error {
	if len(s.ingest) < RecordSize && len(s.egress) < s.egressCapacity {
		return ErrIngestEmpty
	}

	offset := 0
	egressFull := false
	for offset+RecordSize <= len(s.ingest) {
		if len(s.egress) >= s.egressCapacity {
			egressFull = true
			break
		}
		s.egress = append(s.egress, decodeRecord(s.ingest[offset:offset+RecordSize]))
		offset += RecordSize
	}

	s.ingest = append(s.ingest[:0], s.ingest[offset:]...)

	if egressFull {
		return ErrEgressFull
	}
	return nil
}

// Egress removes and returns up to max events from the front of the
// egress buffer, in FIFO order. It never blocks.
func (s *Server) Egress(max int) []events.Event {
	toEgress := len(s.egress)
	if toEgress > max {
		toEgress = max
	}
	out := make([]events.Event, toEgress)
	copy(out, s.egress[:toEgress])
	s.egress = append(s.egress[:0], s.egress[toEgress:]...)
	return out
}

// ReadyEvents returns the number of events currently sitting in the
// egress buffer, without removing them.
func (s *Server) ReadyEvents() int {
	return len(s.egress)
}
