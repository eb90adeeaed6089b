package biolab

import (
	"encoding/binary"
	"testing"
	"time"
)

// mkRaw builds a 254-byte synthetic BIOLAB frame with the given EC address,
// time-tag, generic-TM id/type/length and whatever extra bytes the caller
// pokes in via fill.
func mkRaw(ec byte, timeTag uint32, tmID, tmType, tmLen uint16, fill func([]byte)) []byte {
	raw := make([]byte, FrameLength)
	raw[0] = SyncByte
	raw[1] = 125 // 125*2+4 = 254
	raw[2] = ec
	binary.BigEndian.PutUint32(raw[4:8], timeTag)
	binary.BigEndian.PutUint16(raw[84:86], tmID)
	binary.BigEndian.PutUint16(raw[86:88], tmType)
	binary.BigEndian.PutUint16(raw[88:90], tmLen)
	if fill != nil {
		fill(raw)
	}
	return raw
}

func TestNew_RejectsBadSync(t *testing.T) {
	raw := mkRaw(171, 1, TMUcamInit, 0, 0, nil)
	raw[0] = 0x41
	if _, err := New(raw, time.Now(), time.Now()); err == nil {
		t.Fatal("expected error for bad sync byte")
	}
}

func TestNew_RejectsBadLength(t *testing.T) {
	raw := mkRaw(171, 1, TMUcamInit, 0, 0, nil)
	raw[1] = 10 // declares 24, not 254
	if _, err := New(raw, time.Now(), time.Now()); err == nil {
		t.Fatal("expected error for length mismatch")
	}
	if _, err := New(raw[:200], time.Now(), time.Now()); err == nil {
		t.Fatal("expected error for short slice")
	}
}

func TestSlotAndFragmentID(t *testing.T) {
	// slot 5, fragment 42: type = (5<<12)|42
	tmType := uint16(5)<<12 | 42
	raw := mkRaw(172, 7, TMFlirData, tmType, 0, nil)
	f, err := New(raw, time.Now(), time.Now())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if f.Slot() != 5 {
		t.Fatalf("Slot() = %d, want 5", f.Slot())
	}
	if f.FragmentID() != 42 {
		t.Fatalf("FragmentID() = %d, want 42", f.FragmentID())
	}
	if !f.IsImage() || !f.IsData() || !f.IsFlir() || f.IsUcam() {
		t.Fatalf("classification flags wrong: %+v", f)
	}
}

func TestBoundarySlots(t *testing.T) {
	for _, slot := range []int{0, 7} {
		tmType := uint16(slot) << 12
		raw := mkRaw(171, 1, TMUcamInit, tmType, 0, nil)
		f, err := New(raw, time.Now(), time.Now())
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if f.Slot() != slot {
			t.Fatalf("Slot() = %d, want %d", f.Slot(), slot)
		}
	}
}

func TestMarkCorruptedOnce(t *testing.T) {
	raw := mkRaw(171, 1, TMFlirData, 0, 0, nil)
	f, err := New(raw, time.Now(), time.Now())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !f.MarkCorruptedOnce() {
		t.Fatal("first call should report true")
	}
	if f.MarkCorruptedOnce() {
		t.Fatal("second call should report false")
	}
	if f.MarkCorruptedOnce() {
		t.Fatal("third call should also report false")
	}
}

func TestAccept(t *testing.T) {
	raw := mkRaw(171, 1, TMUcamInit, 0, 0, nil)
	if _, ok := Accept(raw, time.Now(), time.Now()); !ok {
		t.Fatal("Accept should succeed for a well-formed frame")
	}
	bad := append([]byte{}, raw...)
	bad[0] = 0
	if _, ok := Accept(bad, time.Now(), time.Now()); ok {
		t.Fatal("Accept should fail for a bad sync byte")
	}
}

func TestDerivedFieldOffsets(t *testing.T) {
	raw := mkRaw(200, 0xdeadbeef, TMUcamData, 0, 0, func(b []byte) {
		binary.BigEndian.PutUint16(b[90:92], 3)  // fragment id
		binary.BigEndian.PutUint16(b[92:94], 10) // payload size
		binary.BigEndian.PutUint16(b[94+10:94+10+2], 0xabcd)
		binary.BigEndian.PutUint16(b[56:58], 6<<12)
	})
	f, err := New(raw, time.Now(), time.Now())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if f.ECAddress() != 200 {
		t.Fatalf("ECAddress = %d", f.ECAddress())
	}
	if f.TimeTag() != 0xdeadbeef {
		t.Fatalf("TimeTag = %x", f.TimeTag())
	}
	if f.UcamDataFragmentID() != 3 {
		t.Fatalf("UcamDataFragmentID = %d", f.UcamDataFragmentID())
	}
	if f.UcamPayloadSize() != 10 {
		t.Fatalf("UcamPayloadSize = %d", f.UcamPayloadSize())
	}
	if f.UcamVerifyCode() != 0xabcd {
		t.Fatalf("UcamVerifyCode = %x", f.UcamVerifyCode())
	}
	if f.BiolabCurrentSlot() != 6 {
		t.Fatalf("BiolabCurrentSlot = %d", f.BiolabCurrentSlot())
	}
}
