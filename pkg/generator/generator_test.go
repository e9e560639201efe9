package generator

import (
	"errors"
	"testing"

	"golang.org/x/exp/rand"

	"github.com/mpruesga/galen/internal/models"
	"github.com/mpruesga/galen/pkg/labels"
	"github.com/mpruesga/galen/pkg/params"
)

// testLabelVolume builds a label map with a background shell, label 2 in
// the left half and label 3 in the right half of the interior.
func testLabelVolume(n int) *models.LabelVolume {
	lv := models.NewLabelVolume([3]int{n, n, n}, [3]float64{1, 1, 1})
	for z := 2; z < n-2; z++ {
		for y := 2; y < n-2; y++ {
			for x := 2; x < n-2; x++ {
				if x < n/2 {
					lv.Set(x, y, z, 2)
				} else {
					lv.Set(x, y, z, 3)
				}
			}
		}
	}
	return lv
}

func testCatalog(t *testing.T, segmentation []int32) *labels.Catalog {
	t.Helper()
	c, err := labels.NewCatalog([]int32{0, 2, 3}, segmentation, nil, 3, false)
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	return c
}

// quietInputs keeps the synthesis cheap: no elastic field, no resolution
// randomization, no bias.
func quietInputs() params.Inputs {
	zero := 0.0
	return params.Inputs{
		NonlinStd:    &zero,
		BiasFieldStd: &zero,
	}
}

func newTestGenerator(t *testing.T, in params.Inputs, catalog *labels.Catalog, opts Options) *Generator {
	t.Helper()
	vols := []*models.LabelVolume{testLabelVolume(40)}
	res, err := params.Resolve(in, 3, catalog.NumClasses(), 1, len(vols))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	g, err := New(vols, catalog, res, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return g
}

// TestNextEndToEnd verifies the full pipeline on the {0, 2, 3} scenario:
// a batch of 2 samples cropped to 32^3, labels remapped and images
// normalized.
func TestNextEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping end-to-end generation in short mode")
	}
	in := quietInputs()
	in.OutputShape = params.Scalar(32)
	g := newTestGenerator(t, in, testCatalog(t, nil), Options{BatchSize: 2, Seed: 1})

	batch, err := g.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if len(batch.Samples) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(batch.Samples))
	}
	for si, s := range batch.Samples {
		if s.Labels.Shape != [3]int{32, 32, 32} {
			t.Errorf("Sample %d: expected 32^3 labels, got %v", si, s.Labels.Shape)
		}
		if len(s.Channels) != 1 || s.Channels[0].Shape != [3]int{32, 32, 32} {
			t.Errorf("Sample %d: expected one 32^3 channel", si)
		}
		for i, l := range s.Labels.Data {
			if l != 0 && l != 2 && l != 3 {
				t.Fatalf("Sample %d voxel %d: unexpected label %d", si, i, l)
			}
		}
		for i, x := range s.Channels[0].Data {
			if x < 0 || x > 1 {
				t.Fatalf("Sample %d voxel %d: intensity %f outside [0, 1]", si, i, x)
			}
		}
	}

	// Tensor views agree with the sample geometry.
	_, inShape := batch.InputTensor()
	if inShape[0] != 2 || inShape[4] != 1 {
		t.Errorf("Unexpected input tensor shape %v", inShape)
	}
}

// TestNextDeterminism verifies that two generators with the same seed
// produce bit-identical batches.
func TestNextDeterminism(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping determinism check in short mode")
	}
	in := quietInputs()
	in.OutputShape = params.Scalar(32)
	a := newTestGenerator(t, in, testCatalog(t, nil), Options{BatchSize: 1, Seed: 99})
	b := newTestGenerator(t, in, testCatalog(t, nil), Options{BatchSize: 1, Seed: 99})

	ba, err := a.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	bb, err := b.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	sa, sb := ba.Samples[0], bb.Samples[0]
	for i := range sa.Channels[0].Data {
		if sa.Channels[0].Data[i] != sb.Channels[0].Data[i] {
			t.Fatalf("Intensity voxel %d differs between identical seeds", i)
		}
	}
	for i := range sa.Labels.Data {
		if sa.Labels.Data[i] != sb.Labels.Data[i] {
			t.Fatalf("Label voxel %d differs between identical seeds", i)
		}
	}
}

// TestNextLabelMerge verifies many-to-one segmentation through the whole
// pipeline: merging 3 into 2 leaves no voxel valued 3.
func TestNextLabelMerge(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping merge check in short mode")
	}
	in := quietInputs()
	in.OutputShape = params.Scalar(32)
	g := newTestGenerator(t, in, testCatalog(t, []int32{0, 2, 2}), Options{BatchSize: 1, Seed: 5})

	batch, err := g.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	for i, l := range batch.Samples[0].Labels.Data {
		if l == 3 {
			t.Fatalf("Voxel %d still carries merged label 3", i)
		}
	}
}

// TestFinalShapeDivisor verifies the pooling-stack divisibility
// adjustment.
func TestFinalShapeDivisor(t *testing.T) {
	g := newTestGenerator(t, quietInputs(), testCatalog(t, nil),
		Options{BatchSize: 1, OutputDivisibleBy: 16, Seed: 1})
	got := g.finalShape([3]int{40, 40, 40})
	if got != [3]int{32, 32, 32} {
		t.Errorf("Expected 40 rounded down to 32, got %v", got)
	}
	got = g.finalShape([3]int{10, 10, 10})
	if got != [3]int{16, 16, 16} {
		t.Errorf("Expected the minimum divisor shape 16^3, got %v", got)
	}
}

// TestCropPad verifies the shared-offset crop and centred padding.
func TestCropPad(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	lv := testLabelVolume(12)
	ch := models.NewVolume(lv.Shape, lv.Spacing)
	for i, l := range lv.Data {
		ch.Data[i] = float64(l)
	}

	// Crop: every label voxel must still match its channel voxel, proving
	// both were cut with the same offsets.
	channels, lab := cropPad(rng, []*models.Volume{ch}, lv, [3]int{8, 8, 8})
	if lab.Shape != [3]int{8, 8, 8} || channels[0].Shape != [3]int{8, 8, 8} {
		t.Fatalf("Crop produced shapes %v %v", lab.Shape, channels[0].Shape)
	}
	for i := range lab.Data {
		if float64(lab.Data[i]) != channels[0].Data[i] {
			t.Fatalf("Voxel %d: label and channel cropped with different offsets", i)
		}
	}

	// Pad: the original content sits centred inside a background border.
	channels, lab = cropPad(rng, []*models.Volume{ch}, lv, [3]int{16, 16, 16})
	if lab.Shape != [3]int{16, 16, 16} {
		t.Fatalf("Pad produced shape %v", lab.Shape)
	}
	if lab.At(0, 0, 0) != 0 {
		t.Errorf("Expected background at the padded corner, got %d", lab.At(0, 0, 0))
	}
	if lab.At(8, 8, 8) == 0 {
		t.Error("Expected original content at the padded centre")
	}
}

// TestNewValidation verifies the construction-time checks.
func TestNewValidation(t *testing.T) {
	catalog := testCatalog(t, nil)
	res, err := params.Resolve(quietInputs(), 3, catalog.NumClasses(), 1, 1)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	vols := []*models.LabelVolume{testLabelVolume(16)}

	var cfgErr *models.ConfigurationError
	if _, err := New(nil, catalog, res, Options{BatchSize: 1}); !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigurationError for empty volumes, got %v", err)
	}
	if _, err := New(vols, catalog, res, Options{BatchSize: 0}); !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigurationError for zero batch size, got %v", err)
	}

	// A label map carrying a label outside the catalog fails up front.
	bad := testLabelVolume(16)
	bad.Data[0] = 9
	var dataErr *models.DataError
	if _, err := New([]*models.LabelVolume{bad}, catalog, res, Options{BatchSize: 1}); !errors.As(err, &dataErr) {
		t.Errorf("Expected DataError for unknown label, got %v", err)
	}
}

// TestPrefetch verifies that the worker pool delivers whole batches and
// shuts down cleanly.
func TestPrefetch(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping prefetch check in short mode")
	}
	in := quietInputs()
	in.OutputShape = params.Scalar(16)
	g := newTestGenerator(t, in, testCatalog(t, nil), Options{BatchSize: 2, Seed: 3})

	p, err := g.Prefetch(2, 2)
	if err != nil {
		t.Fatalf("Prefetch failed: %v", err)
	}
	defer p.Close()

	for i := 0; i < 3; i++ {
		batch, err := p.Next()
		if err != nil {
			t.Fatalf("Prefetched Next failed: %v", err)
		}
		if len(batch.Samples) != 2 {
			t.Fatalf("Expected 2 samples, got %d", len(batch.Samples))
		}
	}
	p.Close()
	// Buffered batches may still drain; the pool must report ErrPoolClosed
	// soon after.
	failed := false
	for i := 0; i < 10; i++ {
		if _, err := p.Next(); err != nil {
			if !errors.Is(err, ErrPoolClosed) {
				t.Fatalf("Expected ErrPoolClosed after Close, got %v", err)
			}
			failed = true
			break
		}
	}
	if !failed {
		t.Error("Next after Close should eventually fail")
	}
}
