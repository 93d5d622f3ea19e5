package ping

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/fusetim/ipcanvas/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// record builds one RecordSize-byte PingRecord: a zero source address
// followed by a destination address with x at [6:8], y at [8:10], and
// color channels at [11], [13], [15].
func record(x, y uint16, r, g, b byte) []byte {
	buf := make([]byte, RecordSize)
	dst := buf[16:32]
	binary.BigEndian.PutUint16(dst[6:8], x)
	binary.BigEndian.PutUint16(dst[8:10], y)
	dst[11] = r
	dst[13] = g
	dst[15] = b
	return buf
}

func TestIngestProgressEgress_SingleRecord(t *testing.T) {
	s := New(DefaultIngestCapacity, DefaultEgressCapacity)
	require.NoError(t, s.Ingest(record(10, 20, 255, 0, 128)))
	require.NoError(t, s.Progress())
	require.Equal(t, 1, s.ReadyEvents())

	out := s.Egress(10)
	require.Len(t, out, 1)
	assert.Equal(t, events.KindPlacePixel, out[0].Kind())
	x, y := out[0].XY()
	assert.Equal(t, uint16(10), x)
	assert.Equal(t, uint16(20), y)
	assert.Equal(t, events.PixelColor{R: 255, G: 0, B: 128}, out[0].Color())
	assert.Equal(t, 0, s.ReadyEvents())
}

func TestIngestProgressEgress_MultipleRecordsOneRead(t *testing.T) {
	s := New(DefaultIngestCapacity, DefaultEgressCapacity)
	data := append(record(1, 1, 1, 1, 1), record(2, 2, 2, 2, 2)...)
	require.NoError(t, s.Ingest(data))
	require.NoError(t, s.Progress())
	require.Equal(t, 2, s.ReadyEvents())

	out := s.Egress(10)
	require.Len(t, out, 2)
	x0, y0 := out[0].XY()
	assert.Equal(t, uint16(1), x0)
	assert.Equal(t, uint16(1), y0)
	x1, y1 := out[1].XY()
	assert.Equal(t, uint16(2), x1)
	assert.Equal(t, uint16(2), y1)
}

func TestProgress_PartialRecordIsHeldBack(t *testing.T) {
	s := New(DefaultIngestCapacity, DefaultEgressCapacity)
	full := record(3, 3, 9, 9, 9)
	partial := full[:RecordSize-5]
	require.NoError(t, s.Ingest(partial))

	err := s.Progress()
	require.ErrorIs(t, err, ErrIngestEmpty)
	assert.Equal(t, 0, s.ReadyEvents())

	// Completing the record lets it decode on the next Progress.
	require.NoError(t, s.Ingest(full[RecordSize-5:]))
	require.NoError(t, s.Progress())
	assert.Equal(t, 1, s.ReadyEvents())
}

func TestIngest_ReportsShortReadWhenFull(t *testing.T) {
	s := New(RecordSize+4, DefaultEgressCapacity)
	big := make([]byte, RecordSize+10)
	err := s.Ingest(big)

	var pingErr *Error
	require.True(t, errors.As(err, &pingErr))
	assert.Equal(t, KindIngestFull, pingErr.Kind)
	assert.Equal(t, RecordSize+4, pingErr.Read)
}

func TestProgress_StopsWhenEgressFull(t *testing.T) {
	s := New(DefaultIngestCapacity, 1)
	data := append(record(1, 1, 1, 1, 1), record(2, 2, 2, 2, 2)...)
	require.NoError(t, s.Ingest(data))

	err := s.Progress()
	require.ErrorIs(t, err, ErrEgressFull)
	assert.Equal(t, 1, s.ReadyEvents())

	// Draining egress and progressing again yields the second record.
	out := s.Egress(1)
	require.Len(t, out, 1)
	require.NoError(t, s.Progress())
	assert.Equal(t, 1, s.ReadyEvents())
}

func TestEgress_CapsAtRequestedMax(t *testing.T) {
	s := New(DefaultIngestCapacity, DefaultEgressCapacity)
	data := append(append(record(1, 1, 1, 1, 1), record(2, 2, 2, 2, 2)...), record(3, 3, 3, 3, 3)...)
	require.NoError(t, s.Ingest(data))
	require.NoError(t, s.Progress())

	first := s.Egress(2)
	require.Len(t, first, 2)
	assert.Equal(t, 1, s.ReadyEvents())

	rest := s.Egress(10)
	require.Len(t, rest, 1)
}

func TestNew_PanicsOnInvalidCapacities(t *testing.T) {
	assert.Panics(t, func() { New(RecordSize, DefaultEgressCapacity) })
	assert.Panics(t, func() { New(DefaultIngestCapacity, 0) })
}

func TestDefault_UsesSpecCapacities(t *testing.T) {
	s := Default()
	require.NoError(t, s.Ingest(record(1, 1, 1, 1, 1)))
	require.NoError(t, s.Progress())
	assert.Equal(t, 1, s.ReadyEvents())
}
