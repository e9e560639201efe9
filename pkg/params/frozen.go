package params

import (
	"github.com/mpruesga/galen/internal/models"
)

// Inputs gathers every raw generation parameter in the forms users supply
// them. Zero values mean "use the documented default".
type Inputs struct {
	Scaling     Value
	Rotation    Value
	Shearing    Value
	Translation Value

	NonlinStd   *float64
	NonlinScale *float64

	Flipping bool

	PriorDistribution string
	PriorMeans        Value
	PriorStds         Value
	MixPriorAndRandom bool
	UseSpecificStats  bool

	RandomiseRes bool
	MaxResIso    Value
	MaxResAniso  Value
	DataRes      Value
	Thickness    Value
	TargetRes    Value

	BiasFieldStd *float64
	BiasScale    *float64

	OutputShape Value
	SubjectProb Value

	ReturnGradients bool
}

// Resolved is the canonical, frozen form of every generation parameter.
// It is built exactly once, at generator construction, and shared by all
// sampling stages as immutable configuration.
type Resolved struct {
	Scaling     *Bounds
	Rotation    *Bounds
	Shearing    *Bounds
	Translation *Bounds

	NonlinStd   float64
	NonlinScale float64

	Flipping bool

	PriorDistribution string
	PriorMeans        [][]float64 // (2·n_mod, K)
	PriorStds         [][]float64 // (2·n_mod, K)
	MixPriorAndRandom bool
	UseSpecificStats  bool

	RandomiseRes bool
	MaxResIso    []float64   // nil when deactivated
	MaxResAniso  []float64   // nil when deactivated
	DataRes      [][]float64 // (n_mod, n_dims), nil when unset
	Thickness    [][]float64 // (n_mod, n_dims), defaults to DataRes
	TargetRes    []float64   // nil = native resolution

	BiasFieldStd float64
	BiasScale    float64

	OutputShape []int // nil = no cropping
	SubjectProb []float64

	ReturnGradients bool
	NChannels       int
}

func orDefault(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// Resolve validates and freezes all inputs against the run geometry:
// nDims spatial axes, nClasses intensity classes, nChannels output
// channels and nSubjects label maps. Every malformed input surfaces here,
// before any sampling begins.
func Resolve(in Inputs, nDims, nClasses, nChannels, nSubjects int) (*Resolved, error) {
	r := &Resolved{
		Flipping:          in.Flipping,
		MixPriorAndRandom: in.MixPriorAndRandom,
		UseSpecificStats:  in.UseSpecificStats,
		RandomiseRes:      in.RandomiseRes,
		ReturnGradients:   in.ReturnGradients,
		NChannels:         nChannels,
		NonlinStd:         orDefault(in.NonlinStd, DefaultNonlinStd),
		NonlinScale:       orDefault(in.NonlinScale, DefaultNonlinScale),
		BiasFieldStd:      orDefault(in.BiasFieldStd, DefaultBiasStd),
		BiasScale:         orDefault(in.BiasScale, DefaultBiasScale),
	}

	var err error
	if r.Scaling, err = ResolveBounds(in.Scaling, "scaling_bounds", DefaultScaling, 1, nDims); err != nil {
		return nil, err
	}
	if r.Rotation, err = ResolveBounds(in.Rotation, "rotation_bounds", DefaultRotation, 0, nDims); err != nil {
		return nil, err
	}
	if r.Shearing, err = ResolveBounds(in.Shearing, "shearing_bounds", DefaultShearing, 0, nDims); err != nil {
		return nil, err
	}
	// Translation defaults to off, unlike the other linear terms.
	if !in.Translation.IsZero() {
		if r.Translation, err = ResolveBounds(in.Translation, "translation_bounds", 0, 0, nDims); err != nil {
			return nil, err
		}
	}
	if r.NonlinStd < 0 {
		return nil, models.NewConfigurationError("nonlin_std", "must be non-negative")
	}
	if r.BiasFieldStd < 0 {
		return nil, models.NewConfigurationError("bias_field_std", "must be non-negative")
	}

	switch in.PriorDistribution {
	case "", PriorUniform:
		r.PriorDistribution = PriorUniform
	case PriorNormal:
		r.PriorDistribution = PriorNormal
	default:
		return nil, models.NewConfigurationError("prior_distributions",
			"must be %q or %q, got %q", PriorUniform, PriorNormal, in.PriorDistribution)
	}
	// Unset priors fall back to the documented defaults, expressed in the
	// hyperparameter convention of the selected family.
	meanA, meanB := DefaultPriorHyper(r.PriorDistribution, DefaultPriorMeanLo, DefaultPriorMeanHi)
	stdA, stdB := DefaultPriorHyper(r.PriorDistribution, DefaultPriorStdLo, DefaultPriorStdHi)
	if r.PriorMeans, err = ResolvePrior(in.PriorMeans, "prior_means", meanA, meanB, nClasses); err != nil {
		return nil, err
	}
	if r.PriorStds, err = ResolvePrior(in.PriorStds, "prior_stds", stdA, stdB, nClasses); err != nil {
		return nil, err
	}
	if len(r.PriorMeans) != len(r.PriorStds) {
		return nil, models.NewConfigurationError("prior_stds",
			"modality rows (%d) do not match prior_means (%d)", len(r.PriorStds), len(r.PriorMeans))
	}
	if in.UseSpecificStats && len(r.PriorMeans)/2 != nChannels {
		return nil, models.NewConfigurationError("use_specific_stats_for_channel",
			"requires %d modality blocks in the priors, found %d", nChannels, len(r.PriorMeans)/2)
	}

	if r.RandomiseRes {
		if !in.MaxResIso.IsDisabled() {
			v := in.MaxResIso
			if v.IsZero() {
				v = Scalar(DefaultMaxResIso)
			}
			if r.MaxResIso, err = ResolveVector(v, "max_res_iso", nDims); err != nil {
				return nil, err
			}
		}
		if !in.MaxResAniso.IsDisabled() {
			v := in.MaxResAniso
			if v.IsZero() {
				v = Scalar(DefaultMaxResAniso)
			}
			if r.MaxResAniso, err = ResolveVector(v, "max_res_aniso", nDims); err != nil {
				return nil, err
			}
		}
		if r.MaxResIso == nil && r.MaxResAniso == nil {
			return nil, models.NewConfigurationError("randomise_res",
				"requires at least one of max_res_iso or max_res_aniso")
		}
	}
	if r.DataRes, err = ResolveResolution(in.DataRes, "data_res", nDims, nChannels); err != nil {
		return nil, err
	}
	if r.Thickness, err = ResolveResolution(in.Thickness, "thickness", nDims, nChannels); err != nil {
		return nil, err
	}
	if r.Thickness == nil {
		r.Thickness = r.DataRes
	}
	if r.TargetRes, err = ResolveVector(in.TargetRes, "target_res", nDims); err != nil {
		return nil, err
	}

	if r.OutputShape, err = ResolveShape(in.OutputShape, "output_shape", nDims); err != nil {
		return nil, err
	}
	if r.SubjectProb, err = ResolveWeights(in.SubjectProb, "subjects_prob", nSubjects); err != nil {
		return nil, err
	}
	return r, nil
}
