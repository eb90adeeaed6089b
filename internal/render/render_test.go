package render

import (
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/kayserspace/waps-ies-sub000/internal/biolab"
	"github.com/kayserspace/waps-ies-sub000/internal/image"
)

func mkInit(t *testing.T, tmID uint16, ec byte, slot, total int, timeTag uint32) *biolab.Frame {
	t.Helper()
	raw := make([]byte, biolab.FrameLength)
	raw[0] = biolab.SyncByte
	raw[1] = (biolab.FrameLength - 4) / 2
	raw[2] = ec
	binary.BigEndian.PutUint32(raw[4:8], timeTag)
	binary.BigEndian.PutUint16(raw[84:86], tmID)
	binary.BigEndian.PutUint16(raw[86:88], uint16(slot<<12))
	binary.BigEndian.PutUint16(raw[90:92], uint16(total))
	f, err := biolab.New(raw, time.Now(), time.Now())
	if err != nil {
		t.Fatalf("biolab.New: %v", err)
	}
	return f
}

func mkUcamData(t *testing.T, ec byte, slot, fragID int, size int, payload byte) *biolab.Frame {
	t.Helper()
	raw := make([]byte, biolab.FrameLength)
	raw[0] = biolab.SyncByte
	raw[1] = (biolab.FrameLength - 4) / 2
	raw[2] = ec
	binary.BigEndian.PutUint16(raw[84:86], biolab.TMUcamData)
	binary.BigEndian.PutUint16(raw[86:88], uint16(slot<<12|fragID&0x3FF))
	binary.BigEndian.PutUint16(raw[90:92], uint16(fragID))
	binary.BigEndian.PutUint16(raw[92:94], uint16(size))
	for k := 94; k < 94+size; k++ {
		raw[k] = payload
	}
	var sum uint32
	for _, b := range raw[90 : 94+size] {
		sum += uint32(b)
	}
	binary.BigEndian.PutUint16(raw[94+size:94+size+2], uint16(sum&0xFF)<<8)
	f, err := biolab.New(raw, time.Now(), time.Now())
	if err != nil {
		t.Fatalf("biolab.New: %v", err)
	}
	return f
}

func TestReconstruct_UcamMissingFragmentZeroUsesPrelude(t *testing.T) {
	init := mkInit(t, biolab.TMUcamInit, 171, 0, 2, 10)
	img, err := image.New(init, "A1")
	if err != nil {
		t.Fatalf("image.New: %v", err)
	}
	img.AddFragment(mkUcamData(t, 171, 0, 1, 20, 0x42))

	got, err := Reconstruct(img)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if len(got) != ucamFillerLen+20 {
		t.Fatalf("reconstructed length = %d, want %d", len(got), ucamFillerLen+20)
	}
	if string(got[:ucamFillerLen]) != string(ucamPrelude) {
		t.Fatal("expected the canonical JPEG prelude for missing fragment 0")
	}
	for _, b := range got[ucamFillerLen:] {
		if b != 0x42 {
			t.Fatal("fragment 1 payload not copied through")
		}
	}
}

func TestReconstruct_UcamMissingNonZeroFragmentUsesZeroFiller(t *testing.T) {
	init := mkInit(t, biolab.TMUcamInit, 171, 0, 2, 10)
	img, _ := image.New(init, "")
	img.AddFragment(mkUcamData(t, 171, 0, 0, 15, 0x7A))

	got, err := Reconstruct(img)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if len(got) != 15+ucamFillerLen {
		t.Fatalf("length = %d, want %d", len(got), 15+ucamFillerLen)
	}
	for _, b := range got[15:] {
		if b != 0 {
			t.Fatal("expected zero filler for a missing non-zero fragment")
		}
	}
}

func TestReconstruct_FlirFullSize(t *testing.T) {
	init := mkInit(t, biolab.TMFlirInit, 1, 0, 63, 5)
	img, _ := image.New(init, "")
	got, err := Reconstruct(img)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if len(got) != flirTotalBytes {
		t.Fatalf("length = %d, want %d", len(got), flirTotalBytes)
	}
}

func TestBuildTMText_TagsAndValues(t *testing.T) {
	tm := make([]byte, flirTMBytes)
	binary.BigEndian.PutUint16(tm[0:2], 111)   // A0
	binary.BigEndian.PutUint16(tm[160:162], 222) // B0 (index 80)
	binary.BigEndian.PutUint16(tm[320:322], 333) // C0 (index 160)
	text := buildTMText(tm)
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) != 240 {
		t.Fatalf("line count = %d, want 240", len(lines))
	}
	if lines[0] != "A0:111" {
		t.Fatalf("lines[0] = %q, want A0:111", lines[0])
	}
	if lines[80] != "B0:222" {
		t.Fatalf("lines[80] = %q, want B0:222", lines[80])
	}
	if lines[160] != "C0:333" {
		t.Fatalf("lines[160] = %q, want C0:333", lines[160])
	}
}

func TestBuildCSV_Shape(t *testing.T) {
	matrix := make([]byte, flirMatrixBytes)
	for i := range matrix {
		matrix[i] = byte(i)
	}
	csv := buildCSV(matrix)
	rows := strings.Split(strings.TrimRight(csv, "\n"), "\n")
	if len(rows) != flirRows {
		t.Fatalf("row count = %d, want %d", len(rows), flirRows)
	}
	cols := strings.Split(rows[0], ",")
	if len(cols) != flirCols {
		t.Fatalf("col count = %d, want %d", len(cols), flirCols)
	}
}

func TestBuildBMP_ProducesBMPHeader(t *testing.T) {
	matrix := make([]byte, flirMatrixBytes)
	for i := 0; i < flirRows*flirCols; i++ {
		binary.BigEndian.PutUint16(matrix[i*2:i*2+2], uint16(i))
	}
	data := append(make([]byte, flirTMBytes), matrix...)
	artifacts, err := BuildFlirArtifacts(data)
	if err != nil {
		t.Fatalf("BuildFlirArtifacts: %v", err)
	}
	if len(artifacts.BMP) < 2 || artifacts.BMP[0] != 'B' || artifacts.BMP[1] != 'M' {
		t.Fatal("expected a BMP magic header")
	}
}

func TestBuildBMP_FlatFrameNoPanic(t *testing.T) {
	matrix := make([]byte, flirMatrixBytes) // all zero: min == max
	data := append(make([]byte, flirTMBytes), matrix...)
	if _, err := BuildFlirArtifacts(data); err != nil {
		t.Fatalf("BuildFlirArtifacts on a flat frame: %v", err)
	}
}

func TestBuildFlirArtifacts_RejectsWrongSize(t *testing.T) {
	if _, err := BuildFlirArtifacts(make([]byte, 10)); err == nil {
		t.Fatal("expected an error for the wrong data length")
	}
}
