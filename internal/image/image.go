// Package image holds the in-progress and completed WAPS image aggregate:
// the identity and metadata a reassembler attaches to a memory-slot's worth
// of BIOLAB image fragments, and the bookkeeping needed to tell whether an
// image is complete, which fragments are missing, and in what order its
// fragments reconstruct.
package image

import (
	"fmt"
	"sort"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/kayserspace/waps-ies-sub000/internal/biolab"
	"github.com/kayserspace/waps-ies-sub000/internal/integrity"
)

// Camera type tags, matching spec.md §3's two supported cameras.
const (
	CameraFLIR = "FLIR"
	CameraUcam = "uCAM"
)

// Image is one open or completed reassembly of a memory slot's worth of
// image fragments for one EC address, identified by a random UUID for the
// lifetime of the process.
type Image struct {
	ID         uuid.UUID
	ECAddress  byte
	ECPosition string
	MemorySlot int
	CameraType string

	ExpectedFragments int
	AcquisitionTime   time.Time
	CCSDSTime         time.Time
	TimeTag           uint32
	Name              string

	Fragments []*biolab.Frame

	Overwritten         bool
	TransmissionActive  bool
	UpdatePending       bool
	Outdated            bool
	LatestSavedFile     string
	LatestSavedFileTM   string
	LatestSavedFileData string
}

// cameraTypeOf maps an init-frame generic-TM id to a camera tag.
func cameraTypeOf(tmID uint16) (string, error) {
	switch tmID {
	case biolab.TMFlirInit:
		return CameraFLIR, nil
	case biolab.TMUcamInit:
		return CameraUcam, nil
	default:
		return "", fmt.Errorf("image: init frame has unexpected generic TM id 0x%04x", tmID)
	}
}

// New creates an Image from an init frame, the one that carries the camera
// type and the expected fragment count in its generic-TM sub-header.
func New(initFrame *biolab.Frame, ecPosition string) (*Image, error) {
	camera, err := cameraTypeOf(initFrame.GenericTMID())
	if err != nil {
		return nil, err
	}
	img := &Image{
		ID:                 uuid.NewV4(),
		ECAddress:          initFrame.ECAddress(),
		ECPosition:         ecPosition,
		MemorySlot:         initFrame.Slot(),
		CameraType:         camera,
		ExpectedFragments:  int(initFrame.TotalFragments()),
		AcquisitionTime:    initFrame.AcqTime,
		CCSDSTime:          initFrame.CCSDSTime,
		TimeTag:            initFrame.TimeTag(),
		TransmissionActive: true,
		UpdatePending:      true,
	}
	img.Name = initFrame.Name(camera)
	return img, nil
}

// AddFragment appends a data fragment to the image's working set. The
// fragment is trusted to already be in-spec (constructed via biolab.New);
// callers that hold a raw candidate should validate it first.
func (img *Image) AddFragment(f *biolab.Frame) {
	img.Fragments = append(img.Fragments, f)
	img.UpdatePending = true
}

// SortFragments orders fragments by fragment id and removes duplicates,
// keeping the later-arriving fragment of any pair sharing a fragment id
// (a retransmit supersedes the original). It returns the fragment ids for
// which the two duplicate copies disagreed past byte 90 of the payload, a
// condition the source material treats as noteworthy but not fatal.
func (img *Image) SortFragments() (mismatches []int) {
	sort.SliceStable(img.Fragments, func(i, j int) bool {
		return img.Fragments[i].FragmentID() < img.Fragments[j].FragmentID()
	})
	out := img.Fragments[:0:0]
	i := 0
	for i < len(img.Fragments) {
		j := i + 1
		for j < len(img.Fragments) && img.Fragments[j].FragmentID() == img.Fragments[i].FragmentID() {
			if !bytesEqualFrom90(img.Fragments[i], img.Fragments[j]) {
				mismatches = append(mismatches, img.Fragments[i].FragmentID())
			}
			i = j // keep the later copy, drop the earlier
			j++
		}
		out = append(out, img.Fragments[i])
		i++
	}
	img.Fragments = out
	return mismatches
}

func bytesEqualFrom90(a, b *biolab.Frame) bool {
	for k := 90; k < biolab.FrameLength; k++ {
		if a.Raw[k] != b.Raw[k] {
			return false
		}
	}
	return true
}

// MissingFragments returns the sorted fragment ids in [0, ExpectedFragments)
// that have no present, structurally-good fragment. When excludeCorrupted is
// true a fragment that failed its integrity check still counts as present.
func (img *Image) MissingFragments(excludeCorrupted bool) []int {
	present := make([]bool, img.ExpectedFragments)
	for _, f := range img.Fragments {
		id := f.FragmentID()
		if id < 0 || id >= img.ExpectedFragments {
			continue
		}
		if excludeCorrupted || integrity.Classify(f).GoodWAPS {
			present[id] = true
		}
	}
	var missing []int
	for id, ok := range present {
		if !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// IsComplete reports whether every expected fragment is present and good.
func (img *Image) IsComplete() bool {
	if img.ExpectedFragments == 0 || len(img.Fragments) < img.ExpectedFragments {
		return false
	}
	return len(img.MissingFragments(false)) == 0
}

// CompletionPercent returns the integer percentage of fragments accounted
// for, good or merely present depending on excludeCorrupted, used to build
// the partial-completion filename suffix of spec.md §5.
func (img *Image) CompletionPercent(excludeCorrupted bool) int {
	if img.ExpectedFragments == 0 {
		return 0
	}
	missing := len(img.MissingFragments(excludeCorrupted))
	return (img.ExpectedFragments - missing) * 100 / img.ExpectedFragments
}

// String renders a short human summary, in the spirit of the source
// material's image metadata printout, for log lines.
func (img *Image) String() string {
	missing := img.MissingFragments(false)
	return fmt.Sprintf("%s ec=%d slot=%d camera=%s %d/%d fragments (%d%%) active=%v overwritten=%v outdated=%v",
		img.Name, img.ECAddress, img.MemorySlot, img.CameraType,
		img.ExpectedFragments-len(missing), img.ExpectedFragments,
		img.CompletionPercent(false), img.TransmissionActive, img.Overwritten, img.Outdated)
}
