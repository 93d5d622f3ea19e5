package queue

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"
)

// ErrShortRecord is returned by Read when the kernel ring buffer
// yields a sample shorter than RecordSize bytes. This should never
// happen with a correctly loaded classifier program, since it only
// ever submits whole records; seeing one indicates a mismatched or
// corrupted program.
var ErrShortRecord = errors.New("ipcanvas: ring buffer sample shorter than one record")

// RingbufReader adapts a cilium/ebpf ringbuf.Reader, which reads
// samples out of the kernel eBPF ring buffer map populated by the
// classifier program, into the fixed-size record shape the rest of
// ipcanvas-ping consumes.
type RingbufReader struct {
	reader *ringbuf.Reader
}

// NewRingbufReader opens a reader over the classifier's ring buffer
// map. The caller owns the map's lifetime; Close only releases the
// reader's own resources.
func NewRingbufReader(m *ebpf.Map) (*RingbufReader, error) {
	r, err := ringbuf.NewReader(m)
	if err != nil {
		return nil, fmt.Errorf("ipcanvas: open ring buffer reader: %w", err)
	}
	return &RingbufReader{reader: r}, nil
}

// Read blocks until one sample is available and returns its raw bytes.
// It returns ringbuf.ErrClosed once Close has been called from another
// goroutine, which callers should treat as a clean shutdown signal.
func (r *RingbufReader) Read() ([]byte, error) {
	record, err := r.reader.Read()
	if err != nil {
		return nil, err
	}
	if len(record.RawSample) < RecordSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrShortRecord, len(record.RawSample))
	}
	return record.RawSample, nil
}

// Close releases the reader's resources and unblocks any in-flight
// Read call.
func (r *RingbufReader) Close() error {
	return r.reader.Close()
}
