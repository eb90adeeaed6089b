// Package render materialises the reconstructed byte stream of a WAPS image
// and its camera-specific derivative artefacts: the uCAM JPEG, and the FLIR
// telemetry text, pixel-matrix CSV and grayscale BMP.
package render

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	stdimage "image"
	"image/color"

	"golang.org/x/image/bmp"

	"github.com/kayserspace/waps-ies-sub000/internal/biolab"
	"github.com/kayserspace/waps-ies-sub000/internal/image"
)

// ucamFillerLen is the length of the zero filler substituted for a missing uCAM
// fragment that is not fragment 0 (spec.md §8).
const ucamFillerLen = 158

// ucamPreludeHex is the canonical JPEG prelude (spec.md §8) substituted for
// a missing fragment 0, forging a minimal-but-valid JPEG header so the
// remaining fragments still decode as an image.
const ucamPreludeHex = "ffd8ffdb0084000d09090b0a080d0b0a0b0e0e0d0f13201513121213271c1e17202e2931302e292d2c333a4a3e333646372c2d405741464c4e525352323e5a615a50604a51524f010e0e0e131113261515264f352d354f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4f4fffc401a2000001050101010101010000000000000000"

var ucamPrelude = mustDecodeHex(ucamPreludeHex)

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("render: bad canonical JPEG prelude constant: " + err.Error())
	}
	return b
}

// FLIR geometry (spec.md §4.D): 480 bytes of telemetry followed by an 80x60
// matrix of 16-bit big-endian pixels.
const (
	flirTMBytes     = 480
	flirCols        = 80
	flirRows        = 60
	flirMatrixBytes = flirCols * flirRows * 2
	flirTotalBytes  = flirTMBytes + flirMatrixBytes
)

// Reconstruct sorts img's fragments, fills any missing or corrupted
// fragment with the appropriate filler, and concatenates the result into
// the camera-specific byte stream of spec.md §4.D.
func Reconstruct(img *image.Image) ([]byte, error) {
	img.SortFragments()
	missing := make(map[int]bool)
	for _, id := range img.MissingFragments(false) {
		missing[id] = true
	}
	byFragID := make(map[int]*biolab.Frame, len(img.Fragments))
	for _, f := range img.Fragments {
		byFragID[f.FragmentID()] = f
	}

	switch img.CameraType {
	case image.CameraUcam:
		return reconstructUcam(img, missing, byFragID), nil
	case image.CameraFLIR:
		return reconstructFlir(img, missing, byFragID), nil
	default:
		return nil, fmt.Errorf("render: unknown camera type %q", img.CameraType)
	}
}

func reconstructUcam(img *image.Image, missing map[int]bool, byFragID map[int]*biolab.Frame) []byte {
	var out bytes.Buffer
	for i := 0; i < img.ExpectedFragments; i++ {
		if missing[i] {
			if i == 0 {
				out.Write(ucamPrelude)
			} else {
				out.Write(make([]byte, ucamFillerLen))
			}
			continue
		}
		f := byFragID[i]
		size := int(f.UcamPayloadSize())
		out.Write(f.Raw[94 : 94+size])
	}
	return out.Bytes()
}

func reconstructFlir(img *image.Image, missing map[int]bool, byFragID map[int]*biolab.Frame) []byte {
	var out bytes.Buffer
	for i := 0; i < img.ExpectedFragments; i++ {
		if missing[i] {
			out.Write(make([]byte, biolab.FrameLength-94))
			continue
		}
		f := byFragID[i]
		out.Write(f.Raw[94:biolab.FrameLength])
	}
	return out.Bytes()
}

// FlirArtifacts is the set of derivative files rendered from a reconstructed
// FLIR byte stream.
type FlirArtifacts struct {
	TMText string
	CSV    string
	BMP    []byte
}

// BuildFlirArtifacts derives the TM text, pixel CSV and grayscale BMP of
// spec.md §4.D from a reconstructed FLIR byte stream. data must be exactly
// 10080 bytes (480 telemetry + 80x60 16-bit pixels).
func BuildFlirArtifacts(data []byte) (FlirArtifacts, error) {
	if len(data) != flirTotalBytes {
		return FlirArtifacts{}, fmt.Errorf("render: FLIR data is %d bytes, want %d", len(data), flirTotalBytes)
	}
	tmRegion := data[:flirTMBytes]
	matrixRegion := data[flirTMBytes:]

	tmText := buildTMText(tmRegion)
	csv := buildCSV(matrixRegion)
	bmpBytes, err := buildBMP(matrixRegion)
	if err != nil {
		return FlirArtifacts{}, err
	}
	return FlirArtifacts{TMText: tmText, CSV: csv, BMP: bmpBytes}, nil
}

// buildTMText renders the 240-line telemetry dump of spec.md §4.D: tag A for
// indices 0-79, B for 80-159, C for 160-239, each line `<tag><i mod 80>:<value>`.
func buildTMText(tm []byte) string {
	var out bytes.Buffer
	for i := 0; i < flirTMBytes/2; i++ {
		tag := byte('A')
		switch {
		case i >= 160:
			tag = 'C'
		case i >= 80:
			tag = 'B'
		}
		value := binary.BigEndian.Uint16(tm[i*2 : i*2+2])
		fmt.Fprintf(&out, "%c%d:%d\n", tag, i%80, value)
	}
	return out.String()
}

// buildCSV renders the 60x80 pixel matrix as comma-separated big-endian
// 16-bit words, one row per line.
func buildCSV(matrix []byte) string {
	var out bytes.Buffer
	for row := 0; row < flirRows; row++ {
		for col := 0; col < flirCols; col++ {
			if col > 0 {
				out.WriteByte(',')
			}
			off := (row*flirCols + col) * 2
			value := binary.BigEndian.Uint16(matrix[off : off+2])
			fmt.Fprintf(&out, "%d", value)
		}
		out.WriteByte('\n')
	}
	return out.String()
}

// buildBMP normalises the pixel matrix to 8-bit grayscale across the whole
// frame's min/max and encodes it as an 80x60 BMP.
func buildBMP(matrix []byte) ([]byte, error) {
	words := make([]uint16, flirRows*flirCols)
	min, max := uint16(0xFFFF), uint16(0)
	for i := range words {
		v := binary.BigEndian.Uint16(matrix[i*2 : i*2+2])
		words[i] = v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	gray := stdimage.NewGray(stdimage.Rect(0, 0, flirCols, flirRows))
	span := int(max) - int(min)
	for row := 0; row < flirRows; row++ {
		for col := 0; col < flirCols; col++ {
			v := words[row*flirCols+col]
			var pixel byte
			if span > 0 {
				pixel = byte((int(v) - int(min)) * 256 / span)
			}
			gray.SetGray(col, row, color.Gray{Y: pixel})
		}
	}

	var buf bytes.Buffer
	if err := bmp.Encode(&buf, gray); err != nil {
		return nil, fmt.Errorf("render: bmp encode: %w", err)
	}
	return buf.Bytes(), nil
}
