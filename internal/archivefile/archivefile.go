// Package archivefile scans an archived telemetry dump for embedded BIOLAB
// frames, an alternate offline frame source to the live TCP/CCSDS stream
// (spec.md §4.A).
package archivefile

import (
	"time"

	"github.com/kayserspace/waps-ies-sub000/internal/biolab"
)

// syncPrefix precedes the 24-byte transport preamble in an archived dump;
// the BIOLAB frame itself begins 28 bytes after the start of this prefix.
var syncPrefix = []byte{0x13, 0x00, 0x57, 0x30}

const biolabOffsetFromSync = 28

// Scan walks buf looking for syncPrefix, and for each hit whose BIOLAB
// candidate is well-formed, emits a Frame with acquisition time now and
// CCSDS time also now (archived dumps carry no independent CCSDS
// timestamp). It advances past each accepted frame, or by one byte
// otherwise, and never errors: running off the end of buf mid-scan is a
// normal, debug-level outcome rather than a failure.
func Scan(buf []byte, now func() time.Time) []*biolab.Frame {
	var frames []*biolab.Frame
	i := 0
	for i+len(syncPrefix) <= len(buf) {
		if !matchAt(buf, i) {
			i++
			continue
		}
		start := i + biolabOffsetFromSync
		if start >= len(buf) || buf[start] != biolab.SyncByte {
			i++
			continue
		}
		if start+1 >= len(buf) {
			break // truncated at the worst possible point; nothing more to scan
		}
		declared := int(buf[start+1])*2 + 4
		end := start + declared
		if end > len(buf) {
			i++
			continue
		}
		ts := now()
		if f, ok := biolab.Accept(buf[start:end], ts, ts); ok {
			frames = append(frames, f)
			i = end
			continue
		}
		i++
	}
	return frames
}

func matchAt(buf []byte, i int) bool {
	for k, b := range syncPrefix {
		if buf[i+k] != b {
			return false
		}
	}
	return true
}
