// Package bias implements the multiplicative bias field corruption that
// simulates scanner intensity inhomogeneity: a coarse zero-mean Gaussian
// tensor, smoothly upsampled to full resolution, exponentiated voxel-wise
// and multiplied into the image.
package bias

import (
	"math"

	"golang.org/x/exp/rand"

	"github.com/mpruesga/galen/internal/models"
	"github.com/mpruesga/galen/pkg/interpolation"
)

// Corruptor applies random bias fields with frozen std and scale.
// A std of zero disables the corruption entirely: Apply is then a no-op
// and the implicit field is one everywhere.
type Corruptor struct {
	std   float64
	scale float64
}

// New builds a bias field corruptor. std is the standard deviation of the
// coarse Gaussian tensor; scale the ratio between the image size and the
// coarse grid size.
func New(std, scale float64) *Corruptor {
	return &Corruptor{std: std, scale: scale}
}

// Enabled reports whether the corruptor does anything.
func (c *Corruptor) Enabled() bool { return c.std > 0 }

// SampleField draws one multiplicative bias field for the given shape:
// exp of a smoothly upsampled coarse N(0, std) grid, strictly positive
// everywhere.
func (c *Corruptor) SampleField(rng *rand.Rand, shape [3]int) *models.Volume {
	var coarseShape [3]int
	for i := 0; i < 3; i++ {
		n := int(math.Ceil(float64(shape[i]) * c.scale))
		if n < 2 {
			n = 2
		}
		coarseShape[i] = n
	}
	coarse := models.NewVolume(coarseShape, [3]float64{1, 1, 1})
	for i := range coarse.Data {
		coarse.Data[i] = rng.NormFloat64() * c.std
	}
	field := interpolation.ResampleToShape(coarse, shape)
	for i := range field.Data {
		field.Data[i] = math.Exp(field.Data[i])
	}
	return field
}

// Apply multiplies one sampled bias field into every channel in place.
// All channels of a sample share the same field, as a scanner's
// inhomogeneity is common to the acquisition. Disabled corruptors leave
// the channels numerically unchanged.
func (c *Corruptor) Apply(rng *rand.Rand, channels []*models.Volume) {
	if !c.Enabled() || len(channels) == 0 {
		return
	}
	field := c.SampleField(rng, channels[0].Shape)
	for _, vol := range channels {
		for i := range vol.Data {
			vol.Data[i] *= field.Data[i]
		}
	}
}
