// Package generator drives the per-minibatch synthesis: label map
// selection, spatial augmentation, GMM intensity synthesis, acquisition
// simulation and bias corruption, yielding ready training batches.
package generator

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"

	"github.com/mpruesga/galen/internal/models"
	"github.com/mpruesga/galen/pkg/acquisition"
	"github.com/mpruesga/galen/pkg/bias"
	"github.com/mpruesga/galen/pkg/intensity"
	"github.com/mpruesga/galen/pkg/interpolation"
	"github.com/mpruesga/galen/pkg/labels"
	"github.com/mpruesga/galen/pkg/params"
	"github.com/mpruesga/galen/pkg/spatial"
)

// Options configures the orchestrator itself; the synthesis parameters
// live in the frozen params.Resolved.
type Options struct {
	// BatchSize is the number of samples per minibatch
	BatchSize int

	// OutputDivisibleBy forces every output axis to a multiple of this
	// value, so the segmentation network's pooling stack fits. Zero or
	// one disables the adjustment.
	OutputDivisibleBy int

	// Seed initializes the generator's random stream
	Seed uint64
}

// Generator produces an unbounded lazy sequence of synthetic
// (image, label) batches. All distribution parameters are frozen at
// construction; the only mutable state is the random stream.
type Generator struct {
	vols    []*models.LabelVolume
	catalog *labels.Catalog
	res     *params.Resolved
	opts    Options

	spatial   *spatial.Sampler
	intensity *intensity.Sampler
	acq       *acquisition.Simulator
	bias      *bias.Corruptor

	rng *rand.Rand
	cum []float64
}

// New validates the configuration and builds a generator. All
// construction-time failures surface here, before any sampling begins.
func New(vols []*models.LabelVolume, catalog *labels.Catalog, res *params.Resolved, opts Options) (*Generator, error) {
	if len(vols) == 0 {
		return nil, models.NewConfigurationError("labels_dir", "no label maps to sample from")
	}
	if opts.BatchSize < 1 {
		return nil, models.NewConfigurationError("batchsize", "must be at least 1, got %d", opts.BatchSize)
	}
	if res.NChannels < 1 {
		return nil, models.NewConfigurationError("n_channels", "must be at least 1, got %d", res.NChannels)
	}
	if err := catalog.Validate(vols); err != nil {
		return nil, err
	}
	acq, err := acquisition.New(res)
	if err != nil {
		return nil, err
	}
	if len(res.SubjectProb) != len(vols) {
		return nil, models.NewConfigurationError("subjects_prob",
			"expected one weight per label map (%d), got %d", len(vols), len(res.SubjectProb))
	}
	cum := make([]float64, len(res.SubjectProb))
	total := 0.0
	for i, p := range res.SubjectProb {
		total += p
		cum[i] = total
	}

	g := &Generator{
		vols:      vols,
		catalog:   catalog,
		res:       res,
		opts:      opts,
		spatial:   spatial.NewSampler(res, catalog),
		intensity: intensity.NewSampler(res, catalog),
		acq:       acq,
		bias:      bias.New(res.BiasFieldStd, res.BiasScale),
		rng:       rand.New(rand.NewSource(opts.Seed)),
		cum:       cum,
	}
	logrus.WithFields(logrus.Fields{
		"label_maps": len(vols),
		"classes":    catalog.NumClasses(),
		"channels":   res.NChannels,
		"batch_size": opts.BatchSize,
	}).Info("generator ready")
	return g, nil
}

// Next produces the next minibatch. Every sample uses independently
// drawn randomness; batches are never reused, cached or partially
// delivered.
func (g *Generator) Next() (*models.Batch, error) {
	batch := &models.Batch{Samples: make([]*models.Sample, 0, g.opts.BatchSize)}
	for i := 0; i < g.opts.BatchSize; i++ {
		s, err := g.sample(g.rng)
		if err != nil {
			return nil, err
		}
		batch.Samples = append(batch.Samples, s)
	}
	return batch, nil
}

// pickSubject draws a label map index with replacement, weighted by the
// resolved subject probabilities.
func (g *Generator) pickSubject(rng *rand.Rand) int {
	r := rng.Float64()
	for i, c := range g.cum {
		if r < c {
			return i
		}
	}
	return len(g.cum) - 1
}

// sample runs the full synthesis chain for one training example.
func (g *Generator) sample(rng *rand.Rand) (*models.Sample, error) {
	lv := g.vols[g.pickSubject(rng)]

	// Spatial deformation of the label map; the image is synthesised
	// from the deformed map, so the pair stays consistent by
	// construction.
	t := g.spatial.Sample(rng, lv.Shape)
	warped, err := g.spatial.ApplyToLabels(t, lv)
	if err != nil {
		return nil, err
	}

	gmm := g.intensity.SampleParams(rng)
	channels, err := g.intensity.Synthesize(rng, warped, gmm)
	if err != nil {
		return nil, err
	}

	channels, err = g.acq.Apply(rng, channels)
	if err != nil {
		return nil, err
	}
	outShape, _ := g.acq.OutputGeometry(warped.Shape, warped.Spacing)
	lab := interpolation.ResampleLabelsToShape(warped, outShape)

	g.bias.Apply(rng, channels)

	if g.res.ReturnGradients {
		for c := range channels {
			channels[c] = interpolation.GradientMagnitude(channels[c])
		}
	}
	for _, ch := range channels {
		intensity.Normalize(ch)
	}

	final := g.finalShape(outShape)
	channels, lab = cropPad(rng, channels, lab, final)

	remapped, err := g.catalog.Remap(lab)
	if err != nil {
		return nil, err
	}
	return &models.Sample{Channels: channels, Labels: remapped}, nil
}

// finalShape returns the delivered output shape: the configured
// output_shape when set, otherwise the generated shape, each axis
// rounded down to the required divisor.
func (g *Generator) finalShape(shape [3]int) [3]int {
	out := shape
	if g.res.OutputShape != nil {
		for i := 0; i < 3; i++ {
			out[i] = g.res.OutputShape[i]
		}
	}
	if div := g.opts.OutputDivisibleBy; div > 1 {
		for i := 0; i < 3; i++ {
			n := out[i] - out[i]%div
			if n < div {
				n = div
			}
			out[i] = n
		}
	}
	return out
}

// cropPad cuts or pads the channels and label map to the target shape
// with one shared set of offsets: a random crop where the volume is
// larger, centred zero/background padding where it is smaller.
func cropPad(rng *rand.Rand, channels []*models.Volume, lab *models.LabelVolume, target [3]int) ([]*models.Volume, *models.LabelVolume) {
	src := lab.Shape
	if src == target {
		return channels, lab
	}
	var cropOff, padOff [3]int
	for i := 0; i < 3; i++ {
		if src[i] > target[i] {
			cropOff[i] = rng.Intn(src[i] - target[i] + 1)
		} else if src[i] < target[i] {
			padOff[i] = (target[i] - src[i]) / 2
		}
	}

	outLab := models.NewLabelVolume(target, lab.Spacing)
	outCh := make([]*models.Volume, len(channels))
	for c := range channels {
		outCh[c] = models.NewVolume(target, channels[c].Spacing)
	}
	for z := 0; z < src[2] && z < target[2]; z++ {
		for y := 0; y < src[1] && y < target[1]; y++ {
			for x := 0; x < src[0] && x < target[0]; x++ {
				sx, sy, sz := x+cropOff[0], y+cropOff[1], z+cropOff[2]
				dx, dy, dz := x+padOff[0], y+padOff[1], z+padOff[2]
				outLab.Set(dx, dy, dz, lab.At(sx, sy, sz))
				for c := range channels {
					outCh[c].Set(dx, dy, dz, channels[c].At(sx, sy, sz))
				}
			}
		}
	}
	return outCh, outLab
}
