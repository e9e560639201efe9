package volio

import (
	"image"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mpruesga/galen/internal/models"
)

// dicomSlice is one parsed series file before stacking.
type dicomSlice struct {
	img      image.Image
	instance int
	spacing  [2]float64
	thick    float64
}

// loadDICOMSeries parses each file of a DICOM series, orders the slices
// by InstanceNumber (falling back to the numeric part of the filename)
// and stacks them into one label volume.
func loadDICOMSeries(files []string) (*models.LabelVolume, error) {
	slices := make([]dicomSlice, 0, len(files))
	for _, path := range files {
		ds, err := dicom.ParseFile(path, nil)
		if err != nil {
			return nil, models.NewDataError(path, "cannot parse DICOM file: %v", err)
		}
		s := dicomSlice{instance: numberIn(path), spacing: [2]float64{1, 1}, thick: 1}

		if el, err := ds.FindElementByTag(tag.InstanceNumber); err == nil {
			if n, ok := firstInt(el.Value.GetValue()); ok {
				s.instance = n
			}
		}
		if el, err := ds.FindElementByTag(tag.PixelSpacing); err == nil {
			if v, ok := floatPair(el.Value.GetValue()); ok {
				s.spacing = v
			}
		}
		if el, err := ds.FindElementByTag(tag.SliceThickness); err == nil {
			if v, ok := firstFloat(el.Value.GetValue()); ok && v > 0 {
				s.thick = v
			}
		}

		pixelEl, err := ds.FindElementByTag(tag.PixelData)
		if err != nil {
			return nil, models.NewDataError(path, "missing pixel data")
		}
		info := dicom.MustGetPixelDataInfo(pixelEl.Value)
		if len(info.Frames) == 0 {
			return nil, models.NewDataError(path, "pixel data has no frames")
		}
		for _, fr := range info.Frames {
			img, err := fr.GetImage()
			if err != nil {
				return nil, models.NewDataError(path, "cannot decode frame: %v", err)
			}
			s.img = img
			slices = append(slices, s)
			s.instance++ // multi-frame files stack in order
		}
	}
	if len(slices) == 0 {
		return nil, models.NewDataError("", "DICOM series is empty")
	}
	sort.Slice(slices, func(i, j int) bool { return slices[i].instance < slices[j].instance })

	bounds := slices[0].img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	shape := [3]int{width, height, len(slices)}
	spacing := [3]float64{slices[0].spacing[0], slices[0].spacing[1], slices[0].thick}
	lv := models.NewLabelVolume(shape, spacing)

	for z, s := range slices {
		b := s.img.Bounds()
		if b.Dx() != width || b.Dy() != height {
			return nil, models.NewDataError("", "series slices disagree on dimensions: %dx%d vs %dx%d",
				b.Dx(), b.Dy(), width, height)
		}
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				lv.Set(x, y, z, storedValue(s.img, b.Min.X+x, b.Min.Y+y))
			}
		}
	}
	return lv, nil
}

// storedValue reads the raw stored pixel value of a decoded frame, which
// is the label ID. Gray frames hold 8-bit stored values that RGBA()
// would scale by 0x101, so both grayscale types are read directly.
func storedValue(img image.Image, x, y int) int32 {
	switch im := img.(type) {
	case *image.Gray:
		return int32(im.GrayAt(x, y).Y)
	case *image.Gray16:
		return int32(im.Gray16At(x, y).Y)
	default:
		r, _, _, _ := img.At(x, y).RGBA()
		return int32(r)
	}
}

func firstInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case []int:
		if len(t) > 0 {
			return t[0], true
		}
	case int:
		return t, true
	case []string:
		if len(t) > 0 {
			if n, err := strconv.Atoi(strings.TrimSpace(t[0])); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func firstFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case []float64:
		if len(t) > 0 {
			return t[0], true
		}
	case []string:
		if len(t) > 0 {
			if f, err := strconv.ParseFloat(strings.TrimSpace(t[0]), 64); err == nil {
				return f, true
			}
		}
	case []int:
		if len(t) > 0 {
			return float64(t[0]), true
		}
	}
	return 0, false
}

func floatPair(v interface{}) ([2]float64, bool) {
	switch t := v.(type) {
	case []string:
		if len(t) >= 2 {
			a, errA := strconv.ParseFloat(strings.TrimSpace(t[0]), 64)
			b, errB := strconv.ParseFloat(strings.TrimSpace(t[1]), 64)
			if errA == nil && errB == nil {
				return [2]float64{a, b}, true
			}
		}
	case []float64:
		if len(t) >= 2 {
			return [2]float64{t[0], t[1]}, true
		}
	}
	return [2]float64{}, false
}
