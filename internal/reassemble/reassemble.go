// Package reassemble implements the per-(EC-address, memory-slot) image
// reassembly state machine: opening images on init frames, appending data
// frames to the right open image, and retiring images on completion,
// overwrite or timeout.
package reassemble

import (
	"fmt"
	"sync"
	"time"

	"github.com/kayserspace/waps-ies-sub000/internal/biolab"
	"github.com/kayserspace/waps-ies-sub000/internal/image"
	"github.com/kayserspace/waps-ies-sub000/internal/logging"
)

// Key identifies one reassembly channel: one memory slot on one EC.
type Key struct {
	EC   byte
	Slot int
}

// EventKind classifies what happened to an image or fragment during one
// Ingest call, so the caller can drive counters and the status panel
// without reaching back into State.
type EventKind int

const (
	EventImageOpened EventKind = iota
	EventImageOverwritten
	EventImageOutdated
	EventFragmentAccepted
	EventFragmentDropped
	EventTransmissionEnded
)

// Event reports one reassembly outcome. Image is nil for events that are
// not image-scoped (EventTransmissionEnded) or where no image existed to
// attach to (some EventFragmentDropped cases).
type Event struct {
	Kind  EventKind
	Image *image.Image
	Detail string
}

// State is the working set of open images plus the small amount of
// receiver-scoped bookkeeping the source kept as file-module globals
// (spec.md §9): the rack's last-observed memory slot pointer and whether a
// WAPS transmission is currently considered active. The ingest loop owns
// exactly one State value.
type State struct {
	mu                 sync.Mutex
	images             map[Key]*image.Image
	lastObservedSlot   int
	haveObservedSlot   bool
	transmissionActive bool
}

// NewState creates an empty working set.
func NewState() *State {
	return &State{images: make(map[Key]*image.Image)}
}

// Snapshot returns a slice copy of every currently open image, in no
// particular order, for callers that need to iterate without holding the
// lock (periodic save passes, outdated sweeps).
func (s *State) Snapshot() []*image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*image.Image, 0, len(s.images))
	for _, img := range s.images {
		out = append(out, img)
	}
	return out
}

// Count returns the number of open images.
func (s *State) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

// ECPositionFunc resolves a human-readable position label for an EC
// address, typically backed by the ecconfig table.
type ECPositionFunc func(ec byte) string

// Ingest is the sole entry point of the reassembler (spec.md §4.C): it
// applies a batch of frames, in arrival order, to the working set and
// returns the events produced along the way. now and imageTimeout gate
// whether a data frame may still bind to an open image (spec.md §4.C step
// 3: "whose creation time + image_timeout has not elapsed"); a nil
// imageTimeout disables the check, matching CheckOutdated's convention.
func (s *State) Ingest(frames []*biolab.Frame, slotChangeDetection bool, ecPosition ECPositionFunc, now time.Time, imageTimeout *time.Duration) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []Event
	for _, f := range frames {
		if slotChangeDetection {
			events = append(events, s.trackSlotChangeLocked(f)...)
		}
		switch {
		case f.IsInit():
			events = append(events, s.handleInitLocked(f, ecPosition)...)
		case f.IsData():
			events = append(events, s.handleDataLocked(f, now, imageTimeout)...)
		default:
			events = append(events, s.handleBoundaryLocked()...)
		}
	}
	return events
}

// trackSlotChangeLocked implements the optional slot-change tracker: when
// the BIOLAB-reported current memory slot moves to a new value, any image
// sitting in that slot is about to be (or already has been) overwritten
// onboard.
func (s *State) trackSlotChangeLocked(f *biolab.Frame) []Event {
	cur := f.BiolabCurrentSlot()
	prev := s.lastObservedSlot
	changed := s.haveObservedSlot && prev != cur
	s.lastObservedSlot = cur
	s.haveObservedSlot = true
	if !changed {
		return nil
	}
	var events []Event
	for key, img := range s.images {
		if key.Slot == cur && !img.Overwritten {
			img.Overwritten = true
			delete(s.images, key)
			events = append(events, Event{Kind: EventImageOverwritten, Image: img, Detail: "memory slot pointer moved onto this slot"})
		}
	}
	return events
}

func (s *State) handleInitLocked(f *biolab.Frame, ecPosition ECPositionFunc) []Event {
	key := Key{EC: f.ECAddress(), Slot: f.Slot()}
	camera, err := cameraOf(f)
	if err != nil {
		logging.L().Error("reassemble: bad init frame", "error", err)
		return nil
	}
	if existing, ok := s.images[key]; ok {
		if existing.CameraType == camera &&
			existing.TimeTag == f.TimeTag() &&
			existing.ExpectedFragments == int(f.TotalFragments()) {
			// Exact-duplicate init: no-op per spec.md §4.C step 2.
			return nil
		}
		existing.Overwritten = true
		delete(s.images, key)
		newImg, err := image.New(f, posOf(ecPosition, f.ECAddress()))
		if err != nil {
			logging.L().Error("reassemble: failed to open image", "error", err)
			return []Event{{Kind: EventImageOverwritten, Image: existing}}
		}
		s.images[key] = newImg
		s.transmissionActive = true
		return []Event{
			{Kind: EventImageOverwritten, Image: existing, Detail: "superseded by new init on same slot"},
			{Kind: EventImageOpened, Image: newImg},
		}
	}
	newImg, err := image.New(f, posOf(ecPosition, f.ECAddress()))
	if err != nil {
		logging.L().Error("reassemble: failed to open image", "error", err)
		return nil
	}
	s.images[key] = newImg
	s.transmissionActive = true
	return []Event{{Kind: EventImageOpened, Image: newImg}}
}

func (s *State) handleDataLocked(f *biolab.Frame, now time.Time, imageTimeout *time.Duration) []Event {
	key := Key{EC: f.ECAddress(), Slot: f.Slot()}
	img, ok := s.images[key]
	if !ok || img.Overwritten || imageExpired(img, now, imageTimeout) {
		return []Event{{Kind: EventFragmentDropped, Detail: fmt.Sprintf(
			"ec=%d slot=%d fragment=%d: no matching open image", f.ECAddress(), f.Slot(), f.FragmentID())}}
	}
	img.AddFragment(f)
	return []Event{{Kind: EventFragmentAccepted, Image: img}}
}

// imageExpired reports whether img's creation time + imageTimeout has
// already elapsed as of now, per spec.md §4.C step 3. A data frame arriving
// for an expired image is treated as if no open image exists; the image
// itself is retired separately by the periodic CheckOutdated sweep.
func imageExpired(img *image.Image, now time.Time, imageTimeout *time.Duration) bool {
	if imageTimeout == nil {
		return false
	}
	return now.Sub(img.AcquisitionTime) >= *imageTimeout
}

func (s *State) handleBoundaryLocked() []Event {
	if !s.transmissionActive {
		return nil
	}
	s.transmissionActive = false
	for _, img := range s.images {
		img.TransmissionActive = false
	}
	return []Event{{Kind: EventTransmissionEnded}}
}

// CheckOutdated sweeps the working set for images whose age (measured from
// the init frame's acquisition time) has reached timeout, marks them
// outdated and removes them, returning one event per retired image. A nil
// timeout disables the sweep entirely (spec.md §9's image_timeout=0
// normalization).
func (s *State) CheckOutdated(now time.Time, timeout *time.Duration) []Event {
	if timeout == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var events []Event
	for key, img := range s.images {
		if now.Sub(img.AcquisitionTime) >= *timeout {
			img.Outdated = true
			delete(s.images, key)
			events = append(events, Event{Kind: EventImageOutdated, Image: img})
		}
	}
	return events
}

// Retire removes img from the working set once it has completed and been
// successfully persisted (spec.md §3: "Completed images are removed from
// the in-memory working set after a successful final persist"). It is a
// no-op if img is no longer the entry on record for its slot (already
// overwritten, outdated, or retired by a concurrent call), reported via the
// returned bool.
func (s *State) Retire(img *image.Image) bool {
	if img == nil {
		return false
	}
	key := Key{EC: img.ECAddress, Slot: img.MemorySlot}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.images[key] != img {
		return false
	}
	delete(s.images, key)
	return true
}

func cameraOf(f *biolab.Frame) (string, error) {
	switch f.GenericTMID() {
	case biolab.TMFlirInit:
		return image.CameraFLIR, nil
	case biolab.TMUcamInit:
		return image.CameraUcam, nil
	default:
		return "", fmt.Errorf("generic TM id 0x%04x is not an init id", f.GenericTMID())
	}
}

func posOf(fn ECPositionFunc, ec byte) string {
	if fn == nil {
		return "?"
	}
	return fn(ec)
}
