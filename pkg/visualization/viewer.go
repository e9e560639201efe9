// Package visualization exports JPEG slice previews of generated samples
// so a synthesis run can be eyeballed without external tooling.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/mpruesga/galen/internal/models"
)

// Axis names accepted by slice extraction.
const (
	AxisX = "x"
	AxisY = "y"
	AxisZ = "z"
)

// previewSize is the longer edge of exported previews in pixels.
const previewSize = 256

// ExtractSlice extracts a 2D grayscale slice from an intensity volume
// along the specified axis. Intensities are expected normalized to [0, 1].
func ExtractSlice(v *models.Volume, axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	w, h, d := v.Shape[0], v.Shape[1], v.Shape[2]

	var img *image.Gray16
	switch axis {
	case AxisX:
		if position >= w {
			return nil, fmt.Errorf("position %d exceeds width %d", position, w)
		}
		img = image.NewGray16(image.Rect(0, 0, d, h))
		for y := 0; y < h; y++ {
			for z := 0; z < d; z++ {
				img.SetGray16(z, y, gray16(v.At(position, y, z)))
			}
		}
	case AxisY:
		if position >= h {
			return nil, fmt.Errorf("position %d exceeds height %d", position, h)
		}
		img = image.NewGray16(image.Rect(0, 0, w, d))
		for z := 0; z < d; z++ {
			for x := 0; x < w; x++ {
				img.SetGray16(x, z, gray16(v.At(x, position, z)))
			}
		}
	case AxisZ:
		if position >= d {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, d)
		}
		img = image.NewGray16(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetGray16(x, y, gray16(v.At(x, y, position)))
			}
		}
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
	return img, nil
}

// ExtractLabelSlice extracts a 2D slice of a label map with labels spread
// over the gray range, so distinct structures are distinguishable.
func ExtractLabelSlice(lv *models.LabelVolume, axis string, position int) (image.Image, error) {
	var maxLabel int32 = 1
	for _, l := range lv.Data {
		if l > maxLabel {
			maxLabel = l
		}
	}
	v := models.NewVolume(lv.Shape, lv.Spacing)
	for i, l := range lv.Data {
		v.Data[i] = float64(l) / float64(maxLabel)
	}
	return ExtractSlice(v, axis, position)
}

func gray16(val float64) color.Gray16 {
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, val*65535)))}
}

// scalePreview resizes a slice to the preview size with bilinear
// interpolation, preserving aspect ratio.
func scalePreview(img image.Image) image.Image {
	b := img.Bounds()
	longer := b.Dx()
	if b.Dy() > longer {
		longer = b.Dy()
	}
	if longer == 0 {
		return img
	}
	scale := float64(previewSize) / float64(longer)
	dst := image.NewGray16(image.Rect(0, 0,
		int(math.Round(float64(b.Dx())*scale)),
		int(math.Round(float64(b.Dy())*scale))))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// SaveSlice saves a slice as a scaled JPEG preview.
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	return jpeg.Encode(file, scalePreview(img), &jpeg.Options{Quality: 90})
}

// SaveBatchPreviews writes mid-volume slice previews for every sample of
// a batch: one JPEG per channel per axis, plus the label map, named
// sample_<i>[_c<j>]_<axis>.jpg.
func SaveBatchPreviews(batch *models.Batch, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	for i, s := range batch.Samples {
		for c, vol := range s.Channels {
			for axis, mid := range map[string]int{
				AxisX: vol.Shape[0] / 2,
				AxisY: vol.Shape[1] / 2,
				AxisZ: vol.Shape[2] / 2,
			} {
				img, err := ExtractSlice(vol, axis, mid)
				if err != nil {
					return err
				}
				name := filepath.Join(outputDir, fmt.Sprintf("sample_%d_c%d_%s.jpg", i, c, axis))
				if err := SaveSlice(img, name); err != nil {
					return err
				}
			}
		}
		img, err := ExtractLabelSlice(s.Labels, AxisZ, s.Labels.Shape[2]/2)
		if err != nil {
			return err
		}
		name := filepath.Join(outputDir, fmt.Sprintf("sample_%d_labels_z.jpg", i))
		if err := SaveSlice(img, name); err != nil {
			return err
		}
	}
	return nil
}
