// Package ccsds reads one CCSDS space packet off a byte stream: the 6-byte
// primary header, the 10-byte secondary header (time code), and the variable
// length body that (for this ground segment) opaquely carries one embedded
// BIOLAB frame starting at a fixed offset.
//
// Read mirrors the teacher's cnl.Codec.Decode shape: fixed-size header reads
// via io.ReadFull, then a declared-length body read, classified into
// io.EOF/timeout/other so callers (the ingest loop) can distinguish a clean
// stream end from a genuine transport fault.
package ccsds

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

const (
	// PrimaryHeaderLen is the fixed CCSDS primary header size in bytes.
	PrimaryHeaderLen = 6
	// SecondaryHeaderLen is the fixed secondary (time) header size in bytes.
	SecondaryHeaderLen = 10
	// PreludeLen is the primary+secondary header length read up front.
	PreludeLen = PrimaryHeaderLen + SecondaryHeaderLen

	// MinBodyLenForBiolab is the minimum total packet length (prelude+body)
	// needed for a BIOLAB frame to conceivably start at offset 40.
	MinBodyLenForBiolab = 42
	// BiolabOffset is the fixed offset from packet start where a BIOLAB
	// frame's sync byte must appear.
	BiolabOffset = 40
)

// epoch is the BIOLAB/WAPS onboard clock epoch, 1980-01-06 (GPS epoch).
var epoch = time.Date(1980, time.January, 6, 0, 0, 0, 0, time.UTC)

// Packet is one parsed CCSDS space packet: the 16-byte prelude, the
// variable-length body, and the derived onboard wall-clock time.
type Packet struct {
	Prelude   [PreludeLen]byte
	Body      []byte
	CCSDSTime time.Time
}

// PacketLength returns the CCSDS packet-length field (primary bytes 4-5).
func (p *Packet) PacketLength() uint16 {
	return binary.BigEndian.Uint16(p.Prelude[4:6])
}

// CoarseSeconds returns the 32-bit coarse time field (secondary bytes 0-3,
// i.e. packet bytes 6-9).
func (p *Packet) CoarseSeconds() uint32 {
	return binary.BigEndian.Uint32(p.Prelude[6:10])
}

// FineMillis returns the fine-time field converted to milliseconds: the high
// byte of the 16-bit word at packet bytes 10-11, scaled by 1000/256.
func (p *Packet) FineMillis() int {
	word := binary.BigEndian.Uint16(p.Prelude[10:12])
	return int(word>>8) * 1000 / 256
}

// Raw returns the full packet bytes (prelude followed by body), the view the
// BIOLAB layer scans for its fixed sync offset.
func (p *Packet) Raw() []byte {
	raw := make([]byte, 0, len(p.Prelude)+len(p.Body))
	raw = append(raw, p.Prelude[:]...)
	raw = append(raw, p.Body...)
	return raw
}

// ErrShortPacket is returned when the declared body length cannot be
// satisfied even after one retry read.
var ErrShortPacket = fmt.Errorf("ccsds: short packet body")

// ReadPacket reads exactly one CCSDS packet from r. The packet's CCSDS
// wall-clock is derived from the secondary header; the acquisition
// wall-clock is left to the caller.
func ReadPacket(r io.Reader) (*Packet, error) {
	p := &Packet{}
	if _, err := io.ReadFull(r, p.Prelude[:]); err != nil {
		return nil, fmt.Errorf("ccsds: read prelude: %w", err)
	}
	pktLen := int(p.PacketLength())
	bodyLen := pktLen + 1 - SecondaryHeaderLen
	if bodyLen < 0 {
		return nil, fmt.Errorf("ccsds: negative body length (packet_length=%d)", pktLen)
	}
	p.Body = make([]byte, bodyLen)
	if err := readFullRetryOnce(r, p.Body); err != nil {
		return nil, err
	}
	fine := time.Duration(p.FineMillis()) * time.Millisecond
	p.CCSDSTime = epoch.Add(time.Duration(p.CoarseSeconds())*time.Second + fine)
	return p, nil
}

// readFullRetryOnce fills buf from r, retrying the remainder exactly once on
// a short read before surfacing ErrShortPacket, per spec.md §4.A.
func readFullRetryOnce(r io.Reader, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	n, err := io.ReadFull(r, buf)
	if err == nil {
		return nil
	}
	if n == 0 && err == io.EOF {
		return err
	}
	n2, err2 := io.ReadFull(r, buf[n:])
	if err2 != nil {
		return fmt.Errorf("%w: got %d/%d bytes: %v", ErrShortPacket, n+n2, len(buf), err2)
	}
	return nil
}
