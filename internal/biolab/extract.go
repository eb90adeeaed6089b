package biolab

// ExtractCandidate implements the BIOLAB layer of spec.md §4.A: given the raw
// bytes of one CCSDS packet (prelude+body concatenated), it locates the
// embedded BIOLAB frame starting at the fixed offset 40.
//
// It returns ok=false (discard, debug trace) when the packet is shorter than
// 42 bytes or the byte at offset 40 is not the BIOLAB sync byte. When ok is
// true but warn is true, the declared length did not match the expected
// 254-byte frame size and the caller should log a warning before attempting
// to construct a Frame (which will itself reject the candidate).
func ExtractCandidate(packetRaw []byte) (candidate []byte, warn bool, ok bool) {
	const biolabOffset = 40
	if len(packetRaw) < biolabOffset+2 {
		return nil, false, false
	}
	if packetRaw[biolabOffset] != SyncByte {
		return nil, false, false
	}
	declared := int(packetRaw[biolabOffset+1])*2 + 4
	end := biolabOffset + declared
	if declared <= 0 || end > len(packetRaw) {
		return nil, false, false
	}
	candidate = packetRaw[biolabOffset:end]
	warn = declared != FrameLength
	return candidate, warn, true
}
