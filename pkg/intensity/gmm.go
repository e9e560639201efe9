// Package intensity implements the Gaussian-mixture intensity synthesis:
// per-sample GMM parameter draws from the frozen priors, and the
// per-voxel intensity draw conditioned on the (deformed) label map.
package intensity

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/mpruesga/galen/internal/models"
	"github.com/mpruesga/galen/pkg/labels"
	"github.com/mpruesga/galen/pkg/params"
)

// GMM is one sample's fully-drawn mixture parameters: a Gaussian mean and
// standard deviation per intensity class, per output channel.
type GMM struct {
	Means [][]float64 // [channel][class]
	Stds  [][]float64 // [channel][class]
}

// Sampler draws GMM parameters and synthesizes intensity volumes.
type Sampler struct {
	res     *params.Resolved
	catalog *labels.Catalog
}

// NewSampler builds an intensity sampler over the frozen priors.
func NewSampler(res *params.Resolved, catalog *labels.Catalog) *Sampler {
	return &Sampler{res: res, catalog: catalog}
}

// drawHyper draws one value from a (lo, hi) or (mu, sigma) hyperparameter
// pair according to the prior family.
func drawHyper(rng *rand.Rand, family string, a, b float64) float64 {
	if family == params.PriorNormal {
		if b <= 0 {
			return a
		}
		return distuv.Normal{Mu: a, Sigma: b, Src: rng}.Rand()
	}
	if b <= a {
		return a
	}
	return distuv.Uniform{Min: a, Max: b, Src: rng}.Rand()
}

// SampleParams draws the mixture parameters for one sample.
//
// With use_specific_stats_for_channel, channel i reads the i-th modality
// block of the priors; otherwise one block is picked uniformly at random
// and reused for every channel of the sample. With mix_prior_and_random,
// each channel independently falls back to the wide default priors with
// probability 0.5, producing images of fully randomized contrast.
func (s *Sampler) SampleParams(rng *rand.Rand) *GMM {
	nClasses := s.catalog.NumClasses()
	nMod := len(s.res.PriorMeans) / 2
	shared := 0
	if nMod > 1 && !s.res.UseSpecificStats {
		shared = rng.Intn(nMod)
	}

	g := &GMM{
		Means: make([][]float64, s.res.NChannels),
		Stds:  make([][]float64, s.res.NChannels),
	}
	for c := 0; c < s.res.NChannels; c++ {
		block := shared
		if s.res.UseSpecificStats {
			block = c
		}
		meanLo, meanHi := s.res.PriorMeans[2*block], s.res.PriorMeans[2*block+1]
		stdLo, stdHi := s.res.PriorStds[2*block], s.res.PriorStds[2*block+1]
		family := s.res.PriorDistribution

		if s.res.MixPriorAndRandom && rng.Float64() < 0.5 {
			meanLo, meanHi = uniformRow(nClasses, params.DefaultPriorMeanLo), uniformRow(nClasses, params.DefaultPriorMeanHi)
			stdLo, stdHi = uniformRow(nClasses, params.DefaultPriorStdLo), uniformRow(nClasses, params.DefaultPriorStdHi)
			family = params.PriorUniform
		}

		g.Means[c] = make([]float64, nClasses)
		g.Stds[c] = make([]float64, nClasses)
		for k := 0; k < nClasses; k++ {
			g.Means[c][k] = drawHyper(rng, family, meanLo[k], meanHi[k])
			std := drawHyper(rng, family, stdLo[k], stdHi[k])
			if std < 0 {
				std = 0
			}
			g.Stds[c][k] = std
		}
	}
	return g
}

func uniformRow(n int, val float64) []float64 {
	r := make([]float64, n)
	for i := range r {
		r[i] = val
	}
	return r
}

// Synthesize replaces every voxel's label with an independent Gaussian
// draw from its class distribution, one volume per channel. A label
// absent from the catalog yields a DataError.
func (s *Sampler) Synthesize(rng *rand.Rand, lv *models.LabelVolume, g *GMM) ([]*models.Volume, error) {
	classOf := make(map[int32]int32)
	out := make([]*models.Volume, len(g.Means))
	for c := range g.Means {
		vol := models.NewVolume(lv.Shape, lv.Spacing)
		for i, l := range lv.Data {
			cls, ok := classOf[l]
			if !ok {
				var err error
				cls, err = s.catalog.ClassOf(l)
				if err != nil {
					return nil, err
				}
				classOf[l] = cls
			}
			mean := g.Means[c][cls]
			std := g.Stds[c][cls]
			if std <= 0 {
				vol.Data[i] = mean
				continue
			}
			vol.Data[i] = distuv.Normal{Mu: mean, Sigma: std, Src: rng}.Rand()
		}
		out[c] = vol
	}
	return out, nil
}

// Normalize rescales a volume's intensities to [0, 1] in place. Constant
// volumes map to zero.
func Normalize(v *models.Volume) {
	lo, hi := v.Data[0], v.Data[0]
	for _, x := range v.Data {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	if hi <= lo {
		for i := range v.Data {
			v.Data[i] = 0
		}
		return
	}
	scale := 1 / (hi - lo)
	for i := range v.Data {
		v.Data[i] = (v.Data[i] - lo) * scale
	}
}
