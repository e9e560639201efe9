// Package interpolation provides the voxel resampling primitives shared
// by the synthesis stages: trilinear and nearest-neighbour sampling,
// grid resampling, separable Gaussian blurring and Sobel gradients.
package interpolation

import (
	"math"

	"github.com/mpruesga/galen/internal/models"
)

// TrilinearAt samples the volume at a continuous voxel coordinate using
// trilinear interpolation. Coordinates outside the grid clamp to the
// nearest edge voxel.
func TrilinearAt(v *models.Volume, x, y, z float64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	z0 := int(math.Floor(z))
	fx := x - float64(x0)
	fy := y - float64(y0)
	fz := z - float64(z0)

	c000 := v.At(x0, y0, z0)
	c100 := v.At(x0+1, y0, z0)
	c010 := v.At(x0, y0+1, z0)
	c110 := v.At(x0+1, y0+1, z0)
	c001 := v.At(x0, y0, z0+1)
	c101 := v.At(x0+1, y0, z0+1)
	c011 := v.At(x0, y0+1, z0+1)
	c111 := v.At(x0+1, y0+1, z0+1)

	c00 := c000*(1-fx) + c100*fx
	c10 := c010*(1-fx) + c110*fx
	c01 := c001*(1-fx) + c101*fx
	c11 := c011*(1-fx) + c111*fx

	c0 := c00*(1-fy) + c10*fy
	c1 := c01*(1-fy) + c11*fy

	return c0*(1-fz) + c1*fz
}

// NearestAt samples the label volume at a continuous voxel coordinate
// using nearest-neighbour interpolation.
func NearestAt(lv *models.LabelVolume, x, y, z float64) int32 {
	return lv.At(int(math.Round(x)), int(math.Round(y)), int(math.Round(z)))
}

// ResampleToShape resamples a volume onto a new voxel grid of the given
// shape with trilinear interpolation. Voxel centres are aligned so that
// the physical extent of the volume is preserved; spacing is rescaled
// accordingly.
func ResampleToShape(v *models.Volume, shape [3]int) *models.Volume {
	if shape == v.Shape {
		return v.Clone()
	}
	var spacing [3]float64
	var scale [3]float64
	for i := 0; i < 3; i++ {
		scale[i] = float64(v.Shape[i]) / float64(shape[i])
		spacing[i] = v.Spacing[i] * scale[i]
	}
	out := models.NewVolume(shape, spacing)
	for z := 0; z < shape[2]; z++ {
		sz := (float64(z)+0.5)*scale[2] - 0.5
		for y := 0; y < shape[1]; y++ {
			sy := (float64(y)+0.5)*scale[1] - 0.5
			for x := 0; x < shape[0]; x++ {
				sx := (float64(x)+0.5)*scale[0] - 0.5
				out.Set(x, y, z, TrilinearAt(v, sx, sy, sz))
			}
		}
	}
	return out
}

// ResampleLabelsToShape resamples a label map onto a new voxel grid of
// the given shape with nearest-neighbour interpolation, preserving the
// physical extent of the volume.
func ResampleLabelsToShape(lv *models.LabelVolume, shape [3]int) *models.LabelVolume {
	if shape == lv.Shape {
		return lv.Clone()
	}
	var spacing [3]float64
	var scale [3]float64
	for i := 0; i < 3; i++ {
		scale[i] = float64(lv.Shape[i]) / float64(shape[i])
		spacing[i] = lv.Spacing[i] * scale[i]
	}
	out := models.NewLabelVolume(shape, spacing)
	for z := 0; z < shape[2]; z++ {
		sz := (float64(z)+0.5)*scale[2] - 0.5
		for y := 0; y < shape[1]; y++ {
			sy := (float64(y)+0.5)*scale[1] - 0.5
			for x := 0; x < shape[0]; x++ {
				sx := (float64(x)+0.5)*scale[0] - 0.5
				out.Set(x, y, z, NearestAt(lv, sx, sy, sz))
			}
		}
	}
	return out
}

// gaussianKernel builds a normalized 1D Gaussian kernel truncated at
// three standard deviations. A non-positive sigma yields a nil kernel,
// meaning no blurring along that axis.
func gaussianKernel(sigma float64) []float64 {
	if sigma <= 0 {
		return nil
	}
	radius := int(math.Ceil(3 * sigma))
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		w := math.Exp(-0.5 * float64(i*i) / (sigma * sigma))
		kernel[i+radius] = w
		sum += w
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// convolveAxis applies a 1D kernel along the given axis (0=x, 1=y, 2=z)
// with edge clamping.
func convolveAxis(v *models.Volume, kernel []float64, axis int) *models.Volume {
	if kernel == nil {
		return v
	}
	radius := len(kernel) / 2
	out := models.NewVolume(v.Shape, v.Spacing)
	for z := 0; z < v.Shape[2]; z++ {
		for y := 0; y < v.Shape[1]; y++ {
			for x := 0; x < v.Shape[0]; x++ {
				acc := 0.0
				for k := -radius; k <= radius; k++ {
					var s float64
					switch axis {
					case 0:
						s = v.At(x+k, y, z)
					case 1:
						s = v.At(x, y+k, z)
					default:
						s = v.At(x, y, z+k)
					}
					acc += s * kernel[k+radius]
				}
				out.Set(x, y, z, acc)
			}
		}
	}
	return out
}

// GaussianBlur blurs the volume with a separable Gaussian kernel of the
// given per-axis standard deviations (in voxels). Axes with non-positive
// sigma are left untouched; all-zero sigmas return the input unchanged.
func GaussianBlur(v *models.Volume, sigma [3]float64) *models.Volume {
	out := v
	for axis := 0; axis < 3; axis++ {
		out = convolveAxis(out, gaussianKernel(sigma[axis]), axis)
	}
	if out == v {
		return v.Clone()
	}
	return out
}

// Sobel derivative and smoothing taps.
var (
	sobelDeriv  = []float64{-1, 0, 1}
	sobelSmooth = []float64{1, 2, 1}
)

// GradientMagnitude computes the magnitude of the spatial gradient using
// separable 3D Sobel kernels: the derivative tap along one axis combined
// with the smoothing tap along the two others.
func GradientMagnitude(v *models.Volume) *models.Volume {
	grads := make([]*models.Volume, 3)
	for axis := 0; axis < 3; axis++ {
		g := v
		for a := 0; a < 3; a++ {
			if a == axis {
				g = convolveAxis(g, sobelDeriv, a)
			} else {
				g = convolveAxis(g, sobelSmooth, a)
			}
		}
		grads[axis] = g
	}
	out := models.NewVolume(v.Shape, v.Spacing)
	for i := range out.Data {
		gx := grads[0].Data[i]
		gy := grads[1].Data[i]
		gz := grads[2].Data[i]
		out.Data[i] = math.Sqrt(gx*gx + gy*gy + gz*gz)
	}
	return out
}
