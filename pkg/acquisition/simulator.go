// Package acquisition simulates the resolution characteristics of real
// scans: Gaussian blurring matched to a (fixed or randomized) acquisition
// resolution, downsampling to the acquired grid, and resampling back up
// to the target resolution, reproducing the information loss of true
// low-resolution acquisition.
package acquisition

import (
	"math"

	"golang.org/x/exp/rand"

	"github.com/mpruesga/galen/internal/models"
	"github.com/mpruesga/galen/pkg/interpolation"
	"github.com/mpruesga/galen/pkg/params"
)

// blurFactor converts a resolution ratio into a Gaussian sigma, following
// the standard slice-profile approximation.
const blurFactor = 0.85

// Simulator applies acquisition-resolution degradation to synthetic
// images. The mode (fixed vs randomized) is frozen at construction.
type Simulator struct {
	res *params.Resolved
}

// New validates the acquisition configuration and builds a simulator.
// randomise_res with neither max_res_iso nor max_res_aniso is a
// ConfigurationError: there is nothing to randomize.
func New(res *params.Resolved) (*Simulator, error) {
	if res.RandomiseRes && res.MaxResIso == nil && res.MaxResAniso == nil {
		return nil, models.NewConfigurationError("randomise_res",
			"requires at least one of max_res_iso or max_res_aniso")
	}
	return &Simulator{res: res}, nil
}

// OutputGeometry returns the voxel grid the simulator outputs for an
// input of the given shape and spacing: the target-resolution grid when
// target_res is set, the native grid otherwise.
func (s *Simulator) OutputGeometry(shape [3]int, spacing [3]float64) ([3]int, [3]float64) {
	if s.res.TargetRes == nil {
		return shape, spacing
	}
	var outShape [3]int
	var outSpacing [3]float64
	for i := 0; i < 3; i++ {
		outSpacing[i] = s.res.TargetRes[i]
		n := int(math.Round(float64(shape[i]) * spacing[i] / outSpacing[i]))
		if n < 1 {
			n = 1
		}
		outShape[i] = n
	}
	return outShape, outSpacing
}

// sampleResolution draws the simulated acquisition resolution for one
// channel in randomized mode: isotropic in [native, max_res_iso], or
// anisotropic along one random axis in [native, max_res_aniso].
func (s *Simulator) sampleResolution(rng *rand.Rand, native [3]float64) [3]float64 {
	useIso := s.res.MaxResIso != nil
	if useIso && s.res.MaxResAniso != nil {
		useIso = rng.Float64() < 0.5
	}
	out := native
	if useIso {
		lo := math.Max(native[0], math.Max(native[1], native[2]))
		v := lo + rng.Float64()*(s.res.MaxResIso[0]-lo)
		if v < lo {
			v = lo
		}
		for i := 0; i < 3; i++ {
			out[i] = v
		}
		return out
	}
	axis := rng.Intn(3)
	hi := s.res.MaxResAniso[axis]
	out[axis] = native[axis] + rng.Float64()*(hi-native[axis])
	if out[axis] < native[axis] {
		out[axis] = native[axis]
	}
	return out
}

// blurSigma converts a simulated resolution into per-axis Gaussian sigmas
// in voxel units, relative to the native spacing. Axes where the simulated
// resolution matches the native one are not blurred at all.
func blurSigma(simRes, native [3]float64) [3]float64 {
	var sigma [3]float64
	for i := 0; i < 3; i++ {
		if simRes[i] <= native[i] {
			continue
		}
		sigma[i] = blurFactor * simRes[i] / native[i]
	}
	return sigma
}

// Apply degrades each channel to its simulated acquisition resolution and
// returns the channels resampled onto the output grid. All channels end
// on the same grid, so the caller can resample the label map once to
// OutputGeometry and stay consistent.
func (s *Simulator) Apply(rng *rand.Rand, channels []*models.Volume) ([]*models.Volume, error) {
	out := make([]*models.Volume, len(channels))
	for c, vol := range channels {
		native := vol.Spacing
		outShape, outSpacing := s.OutputGeometry(vol.Shape, native)

		if s.res.RandomiseRes {
			simRes := s.sampleResolution(rng, native)
			blurred := interpolation.GaussianBlur(vol, blurSigma(simRes, native))

			// Downsample to the simulated grid, then resample up to the
			// output grid: true low-resolution acquisition followed by
			// upsampling.
			var dsShape [3]int
			for i := 0; i < 3; i++ {
				n := int(math.Round(float64(vol.Shape[i]) * native[i] / simRes[i]))
				if n < 1 {
					n = 1
				}
				dsShape[i] = n
			}
			down := interpolation.ResampleToShape(blurred, dsShape)
			up := interpolation.ResampleToShape(down, outShape)
			up.Spacing = outSpacing
			out[c] = up
			continue
		}

		// Fixed acquisition: blur to mimic data_res/thickness; no
		// downsampling in this mode.
		simRes := native
		if s.res.Thickness != nil {
			copy(simRes[:], s.res.Thickness[c])
		}
		blurred := interpolation.GaussianBlur(vol, blurSigma(simRes, native))
		if outShape != vol.Shape {
			blurred = interpolation.ResampleToShape(blurred, outShape)
		}
		blurred.Spacing = outSpacing
		out[c] = blurred
	}
	return out, nil
}
