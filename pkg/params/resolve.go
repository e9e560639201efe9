package params

import (
	"math"

	"github.com/mpruesga/galen/internal/models"
)

// Documented defaults, matching the reference generation recipe.
const (
	DefaultScaling     = 0.2
	DefaultRotation    = 15.0
	DefaultShearing    = 0.012
	DefaultNonlinStd   = 4.0
	DefaultNonlinScale = 0.04
	DefaultMaxResIso   = 4.0
	DefaultMaxResAniso = 8.0
	DefaultBiasStd     = 0.7
	DefaultBiasScale   = 0.025

	// Wide default GMM priors: means U(25, 225), stds U(5, 25). Also used
	// as the fallback contrast when mix_prior_and_random fires.
	DefaultPriorMeanLo = 25.0
	DefaultPriorMeanHi = 225.0
	DefaultPriorStdLo  = 5.0
	DefaultPriorStdHi  = 25.0
)

// Prior distribution families for the GMM hyperparameters.
const (
	PriorUniform = "uniform"
	PriorNormal  = "normal"
)

// DefaultPriorHyper converts a default (lo, hi) bound pair into the
// hyperparameter pair of the given family. The uniform family uses the
// bounds as is; the normal family uses the equivalent centre and
// half-range as (mean, stddev), so the unset defaults describe the same
// intensity range under either family.
func DefaultPriorHyper(family string, lo, hi float64) (float64, float64) {
	if family == PriorNormal {
		return (lo + hi) / 2, (hi - lo) / 2
	}
	return lo, hi
}

// Bounds holds resolved per-axis sampling bounds: the value for axis i is
// drawn uniformly from [Lo[i], Hi[i]].
type Bounds struct {
	Lo []float64
	Hi []float64
}

// ResolveBounds canonicalizes an augmentation bound parameter. center is
// the neutral value the scalar form is centred on (1 for scaling, 0 for
// rotation, shearing and translation). def is the documented scalar
// default, used when the value is unset; pass the disabled sentinel to
// turn the augmentation off. A nil *Bounds means disabled.
func ResolveBounds(v Value, name string, def, center float64, nDims int) (*Bounds, error) {
	if v.IsDisabled() {
		return nil, nil
	}
	if v.IsZero() {
		v = Scalar(def)
	}
	v, err := v.load()
	if err != nil {
		return nil, err
	}
	b := &Bounds{Lo: make([]float64, nDims), Hi: make([]float64, nDims)}
	switch {
	case v.scalar != nil:
		for i := 0; i < nDims; i++ {
			b.Lo[i] = center - *v.scalar
			b.Hi[i] = center + *v.scalar
		}
	case v.vector != nil:
		if len(v.vector) != nDims {
			return nil, models.NewConfigurationError(name,
				"expected %d per-axis values, got %d", nDims, len(v.vector))
		}
		for i, s := range v.vector {
			b.Lo[i] = center - s
			b.Hi[i] = center + s
		}
	case v.matrix != nil:
		if len(v.matrix) != 2 || len(v.matrix[0]) != nDims || len(v.matrix[1]) != nDims {
			return nil, models.NewConfigurationError(name,
				"expected shape (2, %d)", nDims)
		}
		copy(b.Lo, v.matrix[0])
		copy(b.Hi, v.matrix[1])
	default:
		return nil, models.NewConfigurationError(name, "unsupported value form")
	}
	for i := 0; i < nDims; i++ {
		if b.Hi[i] < b.Lo[i] {
			return nil, models.NewConfigurationError(name,
				"axis %d: upper bound %g below lower bound %g", i, b.Hi[i], b.Lo[i])
		}
	}
	return b, nil
}

// ResolvePrior canonicalizes a GMM prior hyperparameter array to shape
// (2·n_mod, K). Accepted forms: unset (documented default bounds), a
// scalar (degenerate prior fixing the value), a length-2 vector
// [lo, hi] broadcast across classes, or a full (2·n_mod, K) matrix.
func ResolvePrior(v Value, name string, defLo, defHi float64, nClasses int) ([][]float64, error) {
	if v.IsDisabled() {
		return nil, models.NewConfigurationError(name, "cannot be disabled")
	}
	if v.IsZero() {
		v = Vector(defLo, defHi)
	}
	v, err := v.load()
	if err != nil {
		return nil, err
	}
	row := func(val float64) []float64 {
		r := make([]float64, nClasses)
		for i := range r {
			r[i] = val
		}
		return r
	}
	switch {
	case v.scalar != nil:
		return [][]float64{row(*v.scalar), row(*v.scalar)}, nil
	case v.vector != nil:
		if len(v.vector) == 2 {
			return [][]float64{row(v.vector[0]), row(v.vector[1])}, nil
		}
		if len(v.vector) == nClasses {
			r := append([]float64(nil), v.vector...)
			return [][]float64{r, append([]float64(nil), v.vector...)}, nil
		}
		return nil, models.NewConfigurationError(name,
			"expected 2 or %d values, got %d", nClasses, len(v.vector))
	case v.matrix != nil:
		if len(v.matrix)%2 != 0 {
			return nil, models.NewConfigurationError(name,
				"expected an even number of rows (2 per modality), got %d", len(v.matrix))
		}
		out := make([][]float64, len(v.matrix))
		for i, r := range v.matrix {
			if len(r) != nClasses {
				return nil, models.NewConfigurationError(name,
					"row %d: expected %d classes, got %d", i, nClasses, len(r))
			}
			out[i] = append([]float64(nil), r...)
		}
		return out, nil
	default:
		return nil, models.NewConfigurationError(name, "unsupported value form")
	}
}

// ResolveResolution canonicalizes a resolution parameter to per-modality
// rows of per-axis values, shape (n_mod, n_dims). nil means unset.
func ResolveResolution(v Value, name string, nDims, nMod int) ([][]float64, error) {
	if v.IsZero() || v.IsDisabled() {
		return nil, nil
	}
	v, err := v.load()
	if err != nil {
		return nil, err
	}
	iso := func(val float64) []float64 {
		r := make([]float64, nDims)
		for i := range r {
			r[i] = val
		}
		return r
	}
	out := make([][]float64, nMod)
	switch {
	case v.scalar != nil:
		for m := range out {
			out[m] = iso(*v.scalar)
		}
	case v.vector != nil:
		if len(v.vector) != nDims {
			return nil, models.NewConfigurationError(name,
				"expected %d per-axis values, got %d", nDims, len(v.vector))
		}
		for m := range out {
			out[m] = append([]float64(nil), v.vector...)
		}
	case v.matrix != nil:
		if len(v.matrix) != nMod {
			return nil, models.NewConfigurationError(name,
				"expected %d modality rows, got %d", nMod, len(v.matrix))
		}
		for m, r := range v.matrix {
			if len(r) != nDims {
				return nil, models.NewConfigurationError(name,
					"row %d: expected %d per-axis values, got %d", m, nDims, len(r))
			}
			out[m] = append([]float64(nil), r...)
		}
	default:
		return nil, models.NewConfigurationError(name, "unsupported value form")
	}
	return out, nil
}

// ResolveVector canonicalizes a per-axis vector parameter; a scalar is
// broadcast isotropically. nil means unset.
func ResolveVector(v Value, name string, nDims int) ([]float64, error) {
	if v.IsZero() || v.IsDisabled() {
		return nil, nil
	}
	v, err := v.load()
	if err != nil {
		return nil, err
	}
	switch {
	case v.scalar != nil:
		out := make([]float64, nDims)
		for i := range out {
			out[i] = *v.scalar
		}
		return out, nil
	case v.vector != nil:
		if len(v.vector) != nDims {
			return nil, models.NewConfigurationError(name,
				"expected %d values, got %d", nDims, len(v.vector))
		}
		return append([]float64(nil), v.vector...), nil
	default:
		return nil, models.NewConfigurationError(name, "expected a scalar or a vector")
	}
}

// ResolveShape canonicalizes an output-shape parameter to integer voxel
// counts; a scalar is broadcast to all axes. nil means no cropping.
func ResolveShape(v Value, name string, nDims int) ([]int, error) {
	vec, err := ResolveVector(v, name, nDims)
	if err != nil || vec == nil {
		return nil, err
	}
	out := make([]int, nDims)
	for i, f := range vec {
		n := int(math.Round(f))
		if n <= 0 || float64(n) != f {
			return nil, models.NewConfigurationError(name,
				"axis %d: %g is not a positive integer", i, f)
		}
		out[i] = n
	}
	return out, nil
}

// ResolveWeights canonicalizes the subject sampling weights to a
// normalized probability vector of length n. Unset means uniform.
func ResolveWeights(v Value, name string, n int) ([]float64, error) {
	out := make([]float64, n)
	if v.IsZero() || v.IsDisabled() {
		for i := range out {
			out[i] = 1.0 / float64(n)
		}
		return out, nil
	}
	v, err := v.load()
	if err != nil {
		return nil, err
	}
	if v.vector == nil || len(v.vector) != n {
		return nil, models.NewConfigurationError(name,
			"expected one weight per label map (%d)", n)
	}
	sum := 0.0
	for _, w := range v.vector {
		if w < 0 {
			return nil, models.NewConfigurationError(name, "weights must be non-negative")
		}
		sum += w
	}
	if sum <= 0 {
		return nil, models.NewConfigurationError(name, "weights sum to zero")
	}
	for i, w := range v.vector {
		out[i] = w / sum
	}
	return out, nil
}
