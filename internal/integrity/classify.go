// Package integrity implements the per-camera integrity codes of spec.md
// §4.B: CRC-16/XMODEM for FLIR fragments and the byte-sum verify code for
// uCAM fragments, plus the frame classification predicates that gate
// reassembly.
package integrity

import (
	"github.com/kayserspace/waps-ies-sub000/internal/biolab"
)

// Classification is the three-tier verdict of spec.md §4.B.
type Classification struct {
	InSpec      bool
	IsWAPSImage bool
	GoodWAPS    bool
}

// Classify evaluates is_good_waps_image_frame and its prerequisites for f.
// Every *biolab.Frame reaching this function was already constructed via
// biolab.New/Accept, so InSpec is always true; it is kept on the result for
// symmetry with spec.md's three-step predicate chain.
func Classify(f *biolab.Frame) Classification {
	c := Classification{InSpec: true}
	if !f.IsImage() {
		return c
	}
	c.IsWAPSImage = true

	slot := f.Slot()
	// REDESIGN FLAG (spec.md §9): the source's bounds check read
	// `< 0 AND > 7` (always false); the correct predicate is the OR form.
	if slot < 0 || slot > 7 {
		return c
	}
	if f.FragmentID() < 0 {
		return c
	}

	switch f.GenericTMID() {
	case biolab.TMFlirData:
		if !flirCRCMatches(f) {
			return c
		}
	case biolab.TMUcamData:
		if !ucamVerifyMatches(f) {
			return c
		}
	}
	c.GoodWAPS = true
	return c
}

// flirCRCMatches recomputes CRC-16/XMODEM over payload[90:254] with byte 90
// masked to its lower nibble and the declared CRC field (92-93) zeroed, and
// compares it against the declared CRC.
func flirCRCMatches(f *biolab.Frame) bool {
	region := make([]byte, biolab.FrameLength-90)
	copy(region, f.Raw[90:biolab.FrameLength])
	region[0] &= 0x0F // mask reserved upper nibble of byte 90
	region[2] = 0      // zero the CRC field (bytes 92-93 -> region offsets 2-3)
	region[3] = 0
	return FlirCRC16(region) == f.FlirExpectedCRC()
}

// ucamVerifyMatches recomputes the byte-sum verify code over
// payload[90:94+size] and compares it against the declared verify code.
func ucamVerifyMatches(f *biolab.Frame) bool {
	size := int(f.UcamPayloadSize())
	end := 94 + size
	if end+2 > biolab.FrameLength {
		return false
	}
	var sum uint32
	for _, b := range f.Raw[90:end] {
		sum += uint32(b)
	}
	code := uint16(sum&0xFF) << 8
	return code == f.UcamVerifyCode()
}
