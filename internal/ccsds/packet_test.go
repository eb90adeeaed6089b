package ccsds

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"
)

// mkPacket builds the wire bytes of one CCSDS packet: 16-byte prelude plus
// body, with the given coarse/fine time fields.
func mkPacket(coarse uint32, fineByte byte, body []byte) []byte {
	prelude := make([]byte, PreludeLen)
	pktLen := len(body) + SecondaryHeaderLen - 1
	binary.BigEndian.PutUint16(prelude[4:6], uint16(pktLen))
	binary.BigEndian.PutUint32(prelude[6:10], coarse)
	prelude[10] = fineByte
	out := append(prelude, body...)
	return out
}

func TestReadPacket_RoundTrip(t *testing.T) {
	body := bytes.Repeat([]byte{0xAB}, 30)
	wire := mkPacket(100, 0x80, body) // fine byte 0x80 -> 128*1000/256 = 500ms
	r := bytes.NewReader(wire)
	p, err := ReadPacket(r)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if len(p.Body) != len(body) {
		t.Fatalf("body len = %d, want %d", len(p.Body), len(body))
	}
	if !bytes.Equal(p.Body, body) {
		t.Fatal("body mismatch")
	}
	want := epoch.Add(100*time.Second + 500*time.Millisecond)
	if !p.CCSDSTime.Equal(want) {
		t.Fatalf("CCSDSTime = %v, want %v", p.CCSDSTime, want)
	}
}

func TestReadPacket_ShortBody(t *testing.T) {
	wire := mkPacket(1, 0, make([]byte, 10))
	// keep only 3 of the 10 declared body bytes
	truncated := wire[:PreludeLen+3]
	_, err := ReadPacket(bytes.NewReader(truncated))
	if err == nil {
		t.Fatal("expected short-packet error")
	}
}

func TestReadPacket_EOFAtBoundary(t *testing.T) {
	_, err := ReadPacket(bytes.NewReader(nil))
	if err == nil {
		t.Fatal("expected an error reading from an empty stream")
	}
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF wrapped in error, got %v", err)
	}
}
