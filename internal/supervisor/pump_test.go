package supervisor

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/fusetim/ipcanvas/internal/events"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// record builds one ping.RecordSize-byte PingRecord matching the
// destination-byte decoding rule, matching internal/ping's own test
// helper.
func record(x, y uint16, r, g, b byte) []byte {
	buf := make([]byte, 32)
	dst := buf[16:32]
	binary.BigEndian.PutUint16(dst[6:8], x)
	binary.BigEndian.PutUint16(dst[8:10], y)
	dst[11] = r
	dst[13] = g
	dst[15] = b
	return buf
}

func TestPump_ForwardsSingleRecord(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	out := make(chan events.Event, 8)
	p := NewPump(server, out, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	go func() {
		client.Write(record(1, 2, 10, 20, 30))
		client.Close()
	}()

	select {
	case ev := <-out:
		x, y := ev.XY()
		require.Equal(t, uint16(1), x)
		require.Equal(t, uint16(2), y)
	case <-time.After(2 * time.Second):
		t.Fatal("no event forwarded")
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pump never exited after peer close")
	}
	cancel()
}

func TestPump_SplitRecordAcrossReads(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	out := make(chan events.Event, 8)
	p := NewPump(server, out, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	full := record(7, 8, 1, 2, 3)
	go func() {
		client.Write(full[:10])
		time.Sleep(20 * time.Millisecond)
		client.Write(full[10:])
		client.Close()
	}()

	select {
	case ev := <-out:
		x, y := ev.XY()
		require.Equal(t, uint16(7), x)
		require.Equal(t, uint16(8), y)
	case <-time.After(2 * time.Second):
		t.Fatal("no event forwarded for split write")
	}

	<-done
	cancel()
}

func TestPump_MultipleRecordsOneWrite(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	out := make(chan events.Event, 8)
	p := NewPump(server, out, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	batch := append(record(1, 1, 1, 1, 1), record(2, 2, 2, 2, 2)...)
	go func() {
		client.Write(batch)
		client.Close()
	}()

	seen := map[uint16]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-out:
			x, _ := ev.XY()
			seen[x] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("only saw %d of 2 events", i)
		}
	}
	require.True(t, seen[1])
	require.True(t, seen[2])

	<-done
	cancel()
}

func TestPump_ExitsOnContextCancelDuringEgressBackpressure(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	// An unbuffered channel with nobody reading forces drainEgress to
	// block on the ctx.Done() case once the server has at least one
	// ready event.
	out := make(chan events.Event)
	p := NewPump(server, out, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	go func() { client.Write(record(5, 5, 5, 5, 5)) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not exit on context cancellation")
	}
}

// ctx cancellation alone does not unblock a Pump parked in a blocking
// conn.Read (Run only checks ctx inside drainEgress's select). Closing
// the connection out-of-band — what Supervisor.servePingConn's watcher
// goroutine does on shutdown — is what actually unblocks it, and it
// must surface as a non-EOF error rather than hang or panic.
func TestPump_ConnCloseWhileBlockedOnReadUnblocksWithError(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	out := make(chan events.Event, 8)
	p := NewPump(server, out, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// Give Run a moment to reach its blocking conn.Read (ingest starts
	// empty, so Progress immediately reports ErrIngestEmpty).
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, server.Close())

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not unblock after its connection was closed")
	}
}
