// Package volio loads label-map volumes from disk. Supported formats:
// a directory holding a DICOM series (one volume), NIfTI-1 files
// (.nii / .nii.gz), and YAML-encoded volumes used for small fixtures.
package volio

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/mpruesga/galen/internal/models"
)

// LoadLabelMaps loads one or more label maps from path. A file loads as a
// single volume by extension. A directory containing DICOM files loads as
// one volume (the series); any other directory loads each recognized file
// inside it, sorted by name, as a separate volume.
func LoadLabelMaps(path string) ([]*models.LabelVolume, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "stat label maps path")
	}
	if !info.IsDir() {
		lv, err := LoadLabelVolume(path)
		if err != nil {
			return nil, err
		}
		return []*models.LabelVolume{lv}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Wrap(err, "read label maps directory")
	}
	var volumeFiles, dicomFiles []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case isVolumeName(name):
			volumeFiles = append(volumeFiles, filepath.Join(path, name))
		case isDICOMName(name):
			dicomFiles = append(dicomFiles, filepath.Join(path, name))
		}
	}
	if len(dicomFiles) > 0 {
		lv, err := loadDICOMSeries(dicomFiles)
		if err != nil {
			return nil, err
		}
		return []*models.LabelVolume{lv}, nil
	}
	if len(volumeFiles) == 0 {
		return nil, models.NewDataError(path, "no label map volumes found")
	}
	sort.Strings(volumeFiles)
	out := make([]*models.LabelVolume, 0, len(volumeFiles))
	for _, f := range volumeFiles {
		lv, err := LoadLabelVolume(f)
		if err != nil {
			return nil, err
		}
		out = append(out, lv)
	}
	return out, nil
}

// LoadLabelVolume loads a single label map file by extension.
func LoadLabelVolume(path string) (*models.LabelVolume, error) {
	switch {
	case strings.HasSuffix(path, ".nii"), strings.HasSuffix(path, ".nii.gz"):
		return loadNIfTI(path)
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		return loadYAMLVolume(path)
	case isDICOMName(filepath.Base(path)):
		return loadDICOMSeries([]string{path})
	default:
		return nil, models.NewDataError(path, "unrecognized label map format")
	}
}

func isDICOMName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".dcm") || strings.HasPrefix(filepath.Base(lower), "im")
}

func isVolumeName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".nii") || strings.HasSuffix(lower, ".nii.gz") ||
		strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}

// numberIn extracts the numeric part of a filename, used to order series
// files when instance metadata is missing.
func numberIn(filename string) int {
	base := filepath.Base(filename)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}
	if numStr == "" {
		return 0
	}
	n, err := strconv.Atoi(numStr)
	if err != nil {
		return 0
	}
	return n
}
