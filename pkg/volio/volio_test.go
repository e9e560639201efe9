package volio

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/mpruesga/galen/internal/models"
)

// writeNIfTI writes a minimal int16 NIfTI-1 file for fixtures.
func writeNIfTI(t *testing.T, path string, shape [3]int, spacing [3]float64, data []int16, gz bool) {
	t.Helper()
	hdr := niftiHeader{
		SizeofHdr: niftiHeaderSize,
		Datatype:  niftiTypeInt16,
		Bitpix:    16,
		VoxOffset: 352,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	hdr.Dim[0] = 3
	for i := 0; i < 3; i++ {
		hdr.Dim[i+1] = int16(shape[i])
		hdr.Pixdim[i+1] = float32(spacing[i])
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatalf("Failed to write header: %v", err)
	}
	buf.Write(make([]byte, 4)) // extension block
	if err := binary.Write(&buf, binary.LittleEndian, data); err != nil {
		t.Fatalf("Failed to write voxels: %v", err)
	}

	raw := buf.Bytes()
	if gz {
		var zbuf bytes.Buffer
		zw := gzip.NewWriter(&zbuf)
		if _, err := zw.Write(raw); err != nil {
			t.Fatalf("Failed to gzip: %v", err)
		}
		zw.Close()
		raw = zbuf.Bytes()
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}
}

// TestLoadNIfTI verifies shape, spacing and voxel values survive the
// round trip, plain and gzipped.
func TestLoadNIfTI(t *testing.T) {
	dir := t.TempDir()
	shape := [3]int{3, 2, 2}
	spacing := [3]float64{1, 1.5, 2}
	data := make([]int16, 12)
	for i := range data {
		data[i] = int16(i % 4)
	}

	for _, tc := range []struct {
		name string
		gz   bool
	}{
		{"plain.nii", false},
		{"zipped.nii.gz", true},
	} {
		path := filepath.Join(dir, tc.name)
		writeNIfTI(t, path, shape, spacing, data, tc.gz)
		lv, err := LoadLabelVolume(path)
		if err != nil {
			t.Fatalf("%s: load failed: %v", tc.name, err)
		}
		if lv.Shape != shape {
			t.Errorf("%s: expected shape %v, got %v", tc.name, shape, lv.Shape)
		}
		if lv.Spacing != spacing {
			t.Errorf("%s: expected spacing %v, got %v", tc.name, spacing, lv.Spacing)
		}
		for i, v := range data {
			if lv.Data[i] != int32(v) {
				t.Fatalf("%s: voxel %d is %d, want %d", tc.name, i, lv.Data[i], v)
			}
		}
	}
}

// TestLoadNIfTIRejectsGarbage verifies that a non-NIfTI file is a
// DataError.
func TestLoadNIfTIRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junk.nii")
	if err := os.WriteFile(path, bytes.Repeat([]byte{7}, 400), 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}
	_, err := LoadLabelVolume(path)
	var dataErr *models.DataError
	if !errors.As(err, &dataErr) {
		t.Fatalf("Expected DataError, got %v", err)
	}
}

// TestYAMLVolumeRoundTrip verifies the YAML fixture codec.
func TestYAMLVolumeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vol.yaml")
	lv := models.NewLabelVolume([3]int{2, 2, 2}, [3]float64{1, 1, 2})
	for i := range lv.Data {
		lv.Data[i] = int32(i)
	}
	if err := SaveYAMLVolume(path, lv); err != nil {
		t.Fatalf("SaveYAMLVolume failed: %v", err)
	}
	got, err := LoadLabelVolume(path)
	if err != nil {
		t.Fatalf("LoadLabelVolume failed: %v", err)
	}
	if got.Shape != lv.Shape || got.Spacing != lv.Spacing {
		t.Errorf("Geometry changed: %v %v", got.Shape, got.Spacing)
	}
	for i := range lv.Data {
		if got.Data[i] != lv.Data[i] {
			t.Fatalf("Voxel %d changed: %d != %d", i, got.Data[i], lv.Data[i])
		}
	}
}

// TestYAMLVolumeShapeMismatch verifies that inconsistent shape and data
// length is a DataError.
func TestYAMLVolumeShapeMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	doc := "shape: [2, 2, 2]\nspacing: [1, 1, 1]\ndata: [0, 1, 2]\n"
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}
	_, err := LoadLabelVolume(path)
	var dataErr *models.DataError
	if !errors.As(err, &dataErr) {
		t.Fatalf("Expected DataError, got %v", err)
	}
}

// TestLoadLabelMapsDirectory verifies that a directory of volume files
// loads one volume per file, sorted by name.
func TestLoadLabelMapsDirectory(t *testing.T) {
	dir := t.TempDir()
	for i, name := range []string{"a.yaml", "b.yaml"} {
		lv := models.NewLabelVolume([3]int{2, 2, 2}, [3]float64{1, 1, 1})
		for j := range lv.Data {
			lv.Data[j] = int32(i)
		}
		if err := SaveYAMLVolume(filepath.Join(dir, name), lv); err != nil {
			t.Fatalf("SaveYAMLVolume failed: %v", err)
		}
	}
	vols, err := LoadLabelMaps(dir)
	if err != nil {
		t.Fatalf("LoadLabelMaps failed: %v", err)
	}
	if len(vols) != 2 {
		t.Fatalf("Expected 2 volumes, got %d", len(vols))
	}
	if vols[0].Data[0] != 0 || vols[1].Data[0] != 1 {
		t.Error("Volumes not loaded in name order")
	}
}

// TestLoadLabelMapsEmptyDir verifies that a directory without volumes is
// a DataError.
func TestLoadLabelMapsEmptyDir(t *testing.T) {
	_, err := LoadLabelMaps(t.TempDir())
	var dataErr *models.DataError
	if !errors.As(err, &dataErr) {
		t.Fatalf("Expected DataError, got %v", err)
	}
}

// TestStoredValue verifies that 8-bit and 16-bit grayscale frames both
// yield the raw stored value as the label ID.
func TestStoredValue(t *testing.T) {
	g8 := image.NewGray(image.Rect(0, 0, 2, 1))
	g8.SetGray(0, 0, color.Gray{Y: 1})
	g8.SetGray(1, 0, color.Gray{Y: 42})
	if got := storedValue(g8, 0, 0); got != 1 {
		t.Errorf("8-bit label 1 read as %d", got)
	}
	if got := storedValue(g8, 1, 0); got != 42 {
		t.Errorf("8-bit label 42 read as %d", got)
	}

	g16 := image.NewGray16(image.Rect(0, 0, 1, 1))
	g16.SetGray16(0, 0, color.Gray16{Y: 300})
	if got := storedValue(g16, 0, 0); got != 300 {
		t.Errorf("16-bit label 300 read as %d", got)
	}
}

// TestNumberIn verifies the filename ordering helper.
func TestNumberIn(t *testing.T) {
	cases := map[string]int{
		"IM23.dcm":      23,
		"slice_007.dcm": 7,
		"nodigits":      0,
	}
	for name, want := range cases {
		if got := numberIn(name); got != want {
			t.Errorf("numberIn(%q) = %d, want %d", name, got, want)
		}
	}
}
