// Package persist implements idempotent, versioned writes of rendered image
// artefacts to a date-partitioned directory tree, and the per-sweep driver
// that saves every image with pending updates.
package persist

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kayserspace/waps-ies-sub000/internal/image"
	"github.com/kayserspace/waps-ies-sub000/internal/logging"
	"github.com/kayserspace/waps-ies-sub000/internal/metrics"
	"github.com/kayserspace/waps-ies-sub000/internal/render"
)

// Write implements the core persistence contract: bytes present at path on
// success, or no change on failure. If path already holds identical bytes
// the call is a no-op success. If it holds different bytes, data is written
// to the lowest-numbered free versioned sibling (pathv2.ext, pathv3.ext...)
// rather than overwriting. The returned path is where data actually landed.
func Write(data []byte, path string) (string, error) {
	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		if bytes.Equal(existing, data) {
			return path, nil
		}
		return writeVersioned(data, path)
	case os.IsNotExist(err):
		if err := writeAtomic(data, path); err != nil {
			return "", err
		}
		return path, nil
	default:
		return "", fmt.Errorf("persist: stat/read %q: %w", path, err)
	}
}

// writeVersioned finds the lowest free vN suffix for path (vN inserted
// before the extension) and writes data there.
func writeVersioned(data []byte, path string) (string, error) {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%sv%d%s", base, n, ext)
		existing, err := os.ReadFile(candidate)
		switch {
		case os.IsNotExist(err):
			if err := writeAtomic(data, candidate); err != nil {
				return "", err
			}
			return candidate, nil
		case err != nil:
			return "", fmt.Errorf("persist: stat/read %q: %w", candidate, err)
		case bytes.Equal(existing, data):
			return candidate, nil
		}
		// candidate exists with different content: try the next suffix.
	}
}

// writeAtomic writes data to a unique temp file in path's directory, then
// renames it into place, so a crash never leaves a partial file at path.
func writeAtomic(data []byte, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("persist: create directory %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("persist: create temp file for %q: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("persist: write temp file for %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("persist: close temp file for %q: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("persist: rename into place %q: %w", path, err)
	}
	return nil
}

// artefactExt is the file extension for an image's primary artefact.
func artefactExt(camera string) string {
	if camera == image.CameraUcam {
		return ".jpg"
	}
	return ".bmp"
}

// filename builds the <EC-position>_<cam>_<HHMMSS>_m<slot>_<timetag>_<pct>
// stem used for every artefact of one image (spec.md §4.E).
func filename(img *image.Image, pct int) string {
	return fmt.Sprintf("%s_%s_%s_m%d_%d_%d",
		img.ECPosition, img.CameraType, img.CCSDSTime.Format("150405"), img.MemorySlot, img.TimeTag, pct)
}

// SaveImages writes every image with a pending update to
// root/<YYYYMMDD>/, deletes the previous version's files on a successful
// supersession, and clears UpdatePending on success. Completed images are
// reported via metrics.CompletedImages; SaveImages does not remove them from
// any working set, which stays with the caller.
func SaveImages(images []*image.Image, root string) {
	for _, img := range images {
		if !img.UpdatePending {
			continue
		}
		if err := saveOne(img, root); err != nil {
			logging.L().Error("persist: failed to save image", "image", img.Name, "error", err)
			metrics.IncError(metrics.ErrPersist)
			continue
		}
	}
}

func saveOne(img *image.Image, root string) error {
	day := img.CCSDSTime.Format("20060102")
	dir := filepath.Join(root, day)
	pct := img.CompletionPercent(false)
	stem := filename(img, pct)

	data, err := render.Reconstruct(img)
	if err != nil {
		return fmt.Errorf("reconstruct %s: %w", img.Name, err)
	}

	var newPrimary, newTM, newCSV string
	if img.CameraType == image.CameraUcam {
		path := filepath.Join(dir, stem+artefactExt(img.CameraType))
		written, err := Write(data, path)
		if err != nil {
			return err
		}
		newPrimary = written
	} else {
		artefacts, err := render.BuildFlirArtifacts(data)
		if err != nil {
			return fmt.Errorf("build FLIR artefacts for %s: %w", img.Name, err)
		}
		bmpPath, err := Write(artefacts.BMP, filepath.Join(dir, stem+artefactExt(img.CameraType)))
		if err != nil {
			return err
		}
		tmPath, err := Write([]byte(artefacts.TMText), filepath.Join(dir, stem+"_tm.txt"))
		if err != nil {
			return err
		}
		csvPath, err := Write([]byte(artefacts.CSV), filepath.Join(dir, stem+"_data.csv"))
		if err != nil {
			return err
		}
		newPrimary, newTM, newCSV = bmpPath, tmPath, csvPath
	}

	if img.LatestSavedFile != "" && img.LatestSavedFile != newPrimary {
		removeIfExists(img.LatestSavedFile)
		removeIfExists(img.LatestSavedFileTM)
		removeIfExists(img.LatestSavedFileData)
	}
	img.LatestSavedFile = newPrimary
	img.LatestSavedFileTM = newTM
	img.LatestSavedFileData = newCSV
	img.UpdatePending = false

	if img.IsComplete() {
		metrics.IncCompletedImages()
	}
	return nil
}

func removeIfExists(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.L().Warn("persist: failed to remove superseded artefact", "path", path, "error", err)
	}
}

// EnsureDir is a small convenience used by callers that want to pre-create
// today's output directory (e.g. at startup) rather than relying on
// writeAtomic's implicit MkdirAll.
func EnsureDir(root string, when time.Time) error {
	dir := filepath.Join(root, when.Format("20060102"))
	return os.MkdirAll(dir, 0o755)
}
