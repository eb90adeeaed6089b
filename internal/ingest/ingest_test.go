package ingest

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/kayserspace/waps-ies-sub000/internal/biolab"
)

// buildPacket wraps a 278-byte BIOLAB-carrying body in a minimal CCSDS
// prelude, mirroring the teacher's fixed-header-then-body wire shape.
func buildPacket(t *testing.T, frame []byte) []byte {
	t.Helper()
	body := make([]byte, 24+len(frame))
	copy(body[24:], frame)
	pktLen := len(body) - 1 + 10
	prelude := make([]byte, 16)
	binary.BigEndian.PutUint16(prelude[4:6], uint16(pktLen))
	return append(prelude, body...)
}

func ucamInitFrame(t *testing.T, ec byte, expected uint16) []byte {
	t.Helper()
	raw := make([]byte, biolab.FrameLength)
	raw[0] = biolab.SyncByte
	raw[1] = byte((biolab.FrameLength - 4) / 2)
	raw[2] = ec
	binary.BigEndian.PutUint16(raw[84:86], biolab.TMUcamInit)
	binary.BigEndian.PutUint16(raw[90:92], expected)
	return raw
}

// ucamDataFrame builds a single zero-payload uCAM data fragment with a
// correct verify code, so Classify reports it good and render/persist never
// error on it.
func ucamDataFrame(t *testing.T, ec byte, fragID uint16) []byte {
	t.Helper()
	raw := make([]byte, biolab.FrameLength)
	raw[0] = biolab.SyncByte
	raw[1] = byte((biolab.FrameLength - 4) / 2)
	raw[2] = ec
	binary.BigEndian.PutUint16(raw[84:86], biolab.TMUcamData)
	binary.BigEndian.PutUint16(raw[86:88], fragID&0x3FF)
	binary.BigEndian.PutUint16(raw[90:92], fragID)
	binary.BigEndian.PutUint16(raw[92:94], 0) // zero payload size
	var sum uint32
	for _, b := range raw[90:94] {
		sum += uint32(b)
	}
	binary.BigEndian.PutUint16(raw[94:96], uint16(sum&0xFF)<<8)
	return raw
}

// fakeConn feeds a fixed byte slice to reads and discards writes, closing
// with io.EOF once the payload is exhausted.
type fakeConn struct {
	net.Conn
	r    *sliceReader
	once sync.Once
	done chan struct{}
}

type sliceReader struct {
	data []byte
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if len(s.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.data)
	s.data = s.data[n:]
	return n, nil
}

func newFakeConn(data []byte) *fakeConn {
	return &fakeConn{r: &sliceReader{data: data}, done: make(chan struct{})}
}

func (c *fakeConn) Read(p []byte) (int, error)         { return c.r.Read(p) }
func (c *fakeConn) Write(p []byte) (int, error)        { return len(p), nil }
func (c *fakeConn) Close() error                       { c.once.Do(func() { close(c.done) }); return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error     { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error    { return nil }
func (c *fakeConn) SetDeadline(time.Time) error         { return nil }
func (c *fakeConn) LocalAddr() net.Addr                 { return nil }
func (c *fakeConn) RemoteAddr() net.Addr                { return nil }

func TestRun_ReconnectsWithFixedBackoffAndCancelsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var backoffs []time.Duration

	l := NewLoop(Config{Addr: "telemetry:0000", OutputRoot: t.TempDir()})
	l.dial = func(ctx context.Context, network, addr string, timeout time.Duration) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}
	l.sleep = func(d time.Duration) {
		mu.Lock()
		backoffs = append(backoffs, d)
		n := len(backoffs)
		mu.Unlock()
		if n >= 3 {
			cancel()
		}
	}

	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(backoffs) < 3 {
		t.Fatalf("backoffs = %d, want >= 3", len(backoffs))
	}
	for _, d := range backoffs {
		if d != defaultReconnectBackoff {
			t.Fatalf("backoff = %v, want fixed %v", d, defaultReconnectBackoff)
		}
	}
}

func TestRun_ProcessesOneFrameThenReconnectsOnEOF(t *testing.T) {
	frame := ucamInitFrame(t, 3, 1)
	pkt := buildPacket(t, frame)
	conn := newFakeConn(pkt)

	ctx, cancel := context.WithCancel(context.Background())
	dials := 0

	l := NewLoop(Config{Addr: "telemetry:0000", OutputRoot: t.TempDir()})
	l.dial = func(ctx context.Context, network, addr string, timeout time.Duration) (net.Conn, error) {
		dials++
		if dials == 1 {
			return conn, nil
		}
		cancel()
		return nil, errors.New("stop")
	}
	l.sleep = func(time.Duration) {}

	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if l.State().Count() != 1 {
		t.Fatalf("open images = %d, want 1", l.State().Count())
	}
}

// TestRun_CompletedImageIsRetiredFromWorkingSet mirrors spec.md §3:
// "Completed images are removed from the in-memory working set after a
// successful final persist."
func TestRun_CompletedImageIsRetiredFromWorkingSet(t *testing.T) {
	var stream []byte
	stream = append(stream, buildPacket(t, ucamInitFrame(t, 9, 1))...)
	stream = append(stream, buildPacket(t, ucamDataFrame(t, 9, 0))...)
	conn := newFakeConn(stream)

	ctx, cancel := context.WithCancel(context.Background())
	dials := 0

	l := NewLoop(Config{Addr: "telemetry:0000", OutputRoot: t.TempDir()})
	l.dial = func(ctx context.Context, network, addr string, timeout time.Duration) (net.Conn, error) {
		dials++
		if dials == 1 {
			return conn, nil
		}
		cancel()
		return nil, errors.New("stop")
	}
	l.sleep = func(time.Duration) {}

	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := l.State().Count(); got != 0 {
		t.Fatalf("open images = %d, want 0 (completed image should be retired)", got)
	}
}

func TestLogConnectFailure_ThrottlesAfterTen(t *testing.T) {
	// Not directly observable without a log capture; exercised via Run above
	// to confirm the threshold constants compile into a sane comparison.
	if logAllFailuresUpTo != 10 || logEveryNthAfter != 60 {
		t.Fatalf("unexpected throttling thresholds: %d, %d", logAllFailuresUpTo, logEveryNthAfter)
	}
}
