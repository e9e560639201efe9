// Package spatial implements the per-sample spatial augmentation: random
// affine transforms (scaling, rotation, shearing, translation), smooth
// elastic deformation fields, and left/right flipping with sided-label
// swapping.
package spatial

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/mpruesga/galen/internal/models"
	"github.com/mpruesga/galen/pkg/interpolation"
	"github.com/mpruesga/galen/pkg/labels"
	"github.com/mpruesga/galen/pkg/params"
)

// Transform is one sampled resampling map: an affine voxel-to-voxel
// matrix anchored at the volume centre, an optional per-voxel
// displacement field, and an optional left-right flip. The same map is
// used for label maps (nearest-neighbour) and intensity volumes
// (trilinear) so the pair stays spatially consistent.
type Transform struct {
	// Affine is the 4x4 forward map in homogeneous voxel coordinates
	Affine *mat.Dense

	// Disp holds the per-axis displacement field in voxels, nil when
	// elastic deformation is disabled
	Disp [3]*models.Volume

	// Flip mirrors the volume along the left-right axis (axis 0)
	Flip bool

	inv   *mat.Dense
	shape [3]int
}

// Sampler draws spatial transforms from the frozen augmentation bounds.
type Sampler struct {
	res     *params.Resolved
	catalog *labels.Catalog
}

// NewSampler builds a spatial sampler over the frozen parameters.
func NewSampler(res *params.Resolved, catalog *labels.Catalog) *Sampler {
	return &Sampler{res: res, catalog: catalog}
}

func drawBounds(rng *rand.Rand, b *params.Bounds, neutral float64) [3]float64 {
	out := [3]float64{neutral, neutral, neutral}
	if b == nil {
		return out
	}
	for i := 0; i < 3; i++ {
		out[i] = b.Lo[i] + rng.Float64()*(b.Hi[i]-b.Lo[i])
	}
	return out
}

// Sample draws one transform for a volume of the given shape. Disabled
// augmentations contribute identity terms; with everything disabled the
// result is the identity map.
func (s *Sampler) Sample(rng *rand.Rand, shape [3]int) *Transform {
	scale := drawBounds(rng, s.res.Scaling, 1)
	rot := drawBounds(rng, s.res.Rotation, 0)
	shear := drawBounds(rng, s.res.Shearing, 0)
	trans := drawBounds(rng, s.res.Translation, 0)

	t := &Transform{
		Affine: composeAffine(shape, scale, rot, shear, trans),
		shape:  shape,
	}
	if s.res.NonlinStd > 0 {
		t.Disp = sampleElasticField(rng, shape, s.res.NonlinStd, s.res.NonlinScale)
	}
	if s.res.Flipping {
		t.Flip = rng.Float64() < 0.5
	}
	return t
}

// composeAffine builds the centre-anchored forward matrix
// C · T · Rx·Ry·Rz · Sh · S · C⁻¹. Rotation angles are in degrees,
// translation in voxels.
func composeAffine(shape [3]int, scale, rotDeg, shear, trans [3]float64) *mat.Dense {
	sm := mat.NewDense(4, 4, nil)
	sm.Set(0, 0, scale[0])
	sm.Set(1, 1, scale[1])
	sm.Set(2, 2, scale[2])
	sm.Set(3, 3, 1)

	sh := eye4()
	sh.Set(0, 1, shear[0])
	sh.Set(1, 2, shear[1])
	sh.Set(2, 0, shear[2])

	rx, ry, rz := rotDeg[0]*math.Pi/180, rotDeg[1]*math.Pi/180, rotDeg[2]*math.Pi/180
	rmx := eye4()
	rmx.Set(1, 1, math.Cos(rx))
	rmx.Set(1, 2, -math.Sin(rx))
	rmx.Set(2, 1, math.Sin(rx))
	rmx.Set(2, 2, math.Cos(rx))
	rmy := eye4()
	rmy.Set(0, 0, math.Cos(ry))
	rmy.Set(0, 2, math.Sin(ry))
	rmy.Set(2, 0, -math.Sin(ry))
	rmy.Set(2, 2, math.Cos(ry))
	rmz := eye4()
	rmz.Set(0, 0, math.Cos(rz))
	rmz.Set(0, 1, -math.Sin(rz))
	rmz.Set(1, 0, math.Sin(rz))
	rmz.Set(1, 1, math.Cos(rz))

	tm := eye4()
	tm.Set(0, 3, trans[0])
	tm.Set(1, 3, trans[1])
	tm.Set(2, 3, trans[2])

	centre := eye4()
	centreInv := eye4()
	for i := 0; i < 3; i++ {
		c := float64(shape[i]-1) / 2
		centre.Set(i, 3, c)
		centreInv.Set(i, 3, -c)
	}

	out := eye4()
	for _, m := range []*mat.Dense{centre, tm, rmx, rmy, rmz, sh, sm, centreInv} {
		tmp := mat.NewDense(4, 4, nil)
		tmp.Mul(out, m)
		out = tmp
	}
	return out
}

func eye4() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// sampleElasticField draws a coarse zero-mean Gaussian displacement grid
// of size ≈ shape·scale and trilinearly upsamples it to full resolution.
func sampleElasticField(rng *rand.Rand, shape [3]int, std, scale float64) [3]*models.Volume {
	var coarseShape [3]int
	for i := 0; i < 3; i++ {
		n := int(math.Ceil(float64(shape[i]) * scale))
		if n < 2 {
			n = 2
		}
		coarseShape[i] = n
	}
	var field [3]*models.Volume
	for axis := 0; axis < 3; axis++ {
		coarse := models.NewVolume(coarseShape, [3]float64{1, 1, 1})
		for i := range coarse.Data {
			coarse.Data[i] = rng.NormFloat64() * std
		}
		field[axis] = interpolation.ResampleToShape(coarse, shape)
	}
	return field
}

// inverse caches and returns the inverse affine matrix.
func (t *Transform) inverse() (*mat.Dense, error) {
	if t.inv != nil {
		return t.inv, nil
	}
	inv := mat.NewDense(4, 4, nil)
	if err := inv.Inverse(t.Affine); err != nil {
		return nil, models.NewConfigurationError("spatial", "affine transform is singular: %v", err)
	}
	t.inv = inv
	return inv, nil
}

// source maps an output voxel coordinate to its source coordinate:
// mirror (when flipped), inverse affine, plus the displacement field.
func (t *Transform) source(inv *mat.Dense, x, y, z int) (float64, float64, float64) {
	fx := float64(x)
	if t.Flip {
		fx = float64(t.shape[0]-1) - fx
	}
	fy, fz := float64(y), float64(z)
	sx := inv.At(0, 0)*fx + inv.At(0, 1)*fy + inv.At(0, 2)*fz + inv.At(0, 3)
	sy := inv.At(1, 0)*fx + inv.At(1, 1)*fy + inv.At(1, 2)*fz + inv.At(1, 3)
	sz := inv.At(2, 0)*fx + inv.At(2, 1)*fy + inv.At(2, 2)*fz + inv.At(2, 3)
	if t.Disp[0] != nil {
		ix, iy, iz := int(fx), y, z
		sx += t.Disp[0].At(ix, iy, iz)
		sy += t.Disp[1].At(ix, iy, iz)
		sz += t.Disp[2].At(ix, iy, iz)
	}
	return sx, sy, sz
}

// ApplyToLabels resamples a label map through the transform with
// nearest-neighbour interpolation, swapping sided label values when the
// transform mirrors the volume.
func (s *Sampler) ApplyToLabels(t *Transform, lv *models.LabelVolume) (*models.LabelVolume, error) {
	inv, err := t.inverse()
	if err != nil {
		return nil, err
	}
	out := models.NewLabelVolume(t.shape, lv.Spacing)
	for z := 0; z < t.shape[2]; z++ {
		for y := 0; y < t.shape[1]; y++ {
			for x := 0; x < t.shape[0]; x++ {
				sx, sy, sz := t.source(inv, x, y, z)
				l := interpolation.NearestAt(lv, sx, sy, sz)
				if t.Flip {
					l = s.catalog.SwapSide(l)
				}
				out.Set(x, y, z, l)
			}
		}
	}
	return out, nil
}

// ApplyToImage resamples an intensity volume through the transform with
// trilinear interpolation.
func (s *Sampler) ApplyToImage(t *Transform, v *models.Volume) (*models.Volume, error) {
	inv, err := t.inverse()
	if err != nil {
		return nil, err
	}
	out := models.NewVolume(t.shape, v.Spacing)
	for z := 0; z < t.shape[2]; z++ {
		for y := 0; y < t.shape[1]; y++ {
			for x := 0; x < t.shape[0]; x++ {
				sx, sy, sz := t.source(inv, x, y, z)
				out.Set(x, y, z, interpolation.TrilinearAt(v, sx, sy, sz))
			}
		}
	}
	return out, nil
}

// Invert returns the inverse transform. Only pure affine transforms are
// invertible; elastic or flipped transforms return a ConfigurationError.
func (t *Transform) Invert() (*Transform, error) {
	if t.Disp[0] != nil || t.Flip {
		return nil, models.NewConfigurationError("spatial",
			"only pure affine transforms are invertible")
	}
	inv, err := t.inverse()
	if err != nil {
		return nil, err
	}
	fwd := mat.NewDense(4, 4, nil)
	fwd.Copy(t.Affine)
	return &Transform{Affine: inv, inv: fwd, shape: t.shape}, nil
}
