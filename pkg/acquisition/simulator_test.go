package acquisition

import (
	"errors"
	"testing"

	"golang.org/x/exp/rand"

	"github.com/mpruesga/galen/internal/models"
	"github.com/mpruesga/galen/pkg/params"
)

func resolve(t *testing.T, in params.Inputs) *params.Resolved {
	t.Helper()
	r, err := params.Resolve(in, 3, 2, 1, 1)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	return r
}

func noiseVolume(shape [3]int) *models.Volume {
	v := models.NewVolume(shape, [3]float64{1, 1, 1})
	rng := rand.New(rand.NewSource(11))
	for i := range v.Data {
		v.Data[i] = rng.Float64()
	}
	return v
}

// TestNewBothBoundsDisabled verifies the construction-time check on
// randomized mode with nothing to randomize.
func TestNewBothBoundsDisabled(t *testing.T) {
	res := resolve(t, params.Inputs{})
	res.RandomiseRes = true
	res.MaxResIso = nil
	res.MaxResAniso = nil
	_, err := New(res)
	var cfgErr *models.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected ConfigurationError, got %v", err)
	}
}

// TestOutputGeometry verifies native passthrough and target-res regridding.
func TestOutputGeometry(t *testing.T) {
	s, err := New(resolve(t, params.Inputs{}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	shape, spacing := s.OutputGeometry([3]int{10, 10, 10}, [3]float64{1, 1, 1})
	if shape != [3]int{10, 10, 10} || spacing != [3]float64{1, 1, 1} {
		t.Errorf("Expected native geometry, got %v %v", shape, spacing)
	}

	s, err = New(resolve(t, params.Inputs{TargetRes: params.Scalar(2)}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	shape, spacing = s.OutputGeometry([3]int{10, 10, 10}, [3]float64{1, 1, 1})
	if shape != [3]int{5, 5, 5} {
		t.Errorf("Expected a 5^3 grid at 2mm, got %v", shape)
	}
	if spacing != [3]float64{2, 2, 2} {
		t.Errorf("Expected 2mm spacing, got %v", spacing)
	}
}

// TestSampleResolutionRanges verifies the iso and aniso draw ranges.
func TestSampleResolutionRanges(t *testing.T) {
	in := params.Inputs{
		RandomiseRes: true,
		MaxResIso:    params.Scalar(4),
		MaxResAniso:  params.Scalar(8),
	}
	s, err := New(resolve(t, in))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	rng := rand.New(rand.NewSource(3))
	native := [3]float64{1, 1, 1}
	for trial := 0; trial < 100; trial++ {
		res := s.sampleResolution(rng, native)
		iso := res[0] == res[1] && res[1] == res[2]
		if iso {
			if res[0] < 1 || res[0] > 4 {
				t.Fatalf("Isotropic draw %v outside [1, 4]", res)
			}
			continue
		}
		// Anisotropic: exactly one axis degraded.
		degraded := 0
		for i := 0; i < 3; i++ {
			if res[i] != 1 {
				degraded++
				if res[i] < 1 || res[i] > 8 {
					t.Fatalf("Anisotropic draw %v outside [1, 8]", res)
				}
			}
		}
		if degraded != 1 {
			t.Fatalf("Anisotropic draw degraded %d axes: %v", degraded, res)
		}
	}
}

// TestApplyRandomizedGrid verifies that randomized degradation returns
// channels on the expected output grid.
func TestApplyRandomizedGrid(t *testing.T) {
	in := params.Inputs{
		RandomiseRes: true,
		MaxResIso:    params.Scalar(4),
		TargetRes:    params.Scalar(1),
	}
	s, err := New(resolve(t, in))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	vol := noiseVolume([3]int{12, 12, 12})
	out, err := s.Apply(rand.New(rand.NewSource(5)), []*models.Volume{vol})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if out[0].Shape != [3]int{12, 12, 12} {
		t.Errorf("Expected the 12^3 target grid, got %v", out[0].Shape)
	}
	if out[0].Spacing != [3]float64{1, 1, 1} {
		t.Errorf("Expected 1mm spacing, got %v", out[0].Spacing)
	}
}

// TestApplyFixedThicknessBlurs verifies that fixed mode blurs without
// changing the grid, and that native thickness leaves the data unchanged.
func TestApplyFixedThicknessBlurs(t *testing.T) {
	vol := noiseVolume([3]int{8, 8, 8})

	// Thickness equal to the native spacing: no blurring at all.
	s, err := New(resolve(t, params.Inputs{Thickness: params.Scalar(1)}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	out, err := s.Apply(rand.New(rand.NewSource(1)), []*models.Volume{vol.Clone()})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	for i := range vol.Data {
		if out[0].Data[i] != vol.Data[i] {
			t.Fatalf("Voxel %d changed with native thickness", i)
		}
	}

	// Thicker slices along z: the z variance must shrink.
	s, err = New(resolve(t, params.Inputs{Thickness: params.Vector(1, 1, 4)}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	out, err = s.Apply(rand.New(rand.NewSource(1)), []*models.Volume{vol.Clone()})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if out[0].Shape != vol.Shape {
		t.Errorf("Fixed mode must not change the grid, got %v", out[0].Shape)
	}
	if variance(out[0]) >= variance(vol) {
		t.Error("Blurring thicker slices should reduce the variance")
	}
}

func variance(v *models.Volume) float64 {
	mean := 0.0
	for _, x := range v.Data {
		mean += x
	}
	mean /= float64(len(v.Data))
	acc := 0.0
	for _, x := range v.Data {
		acc += (x - mean) * (x - mean)
	}
	return acc / float64(len(v.Data))
}
