// Package params normalizes the heterogeneous user-supplied generation
// parameters (scalars, sequences, matrices, file references, or the
// distinguished "disabled" sentinel) into canonical fixed-shape arrays
// with documented defaults. Resolution happens once, at generator
// construction; the samplers only ever see the frozen canonical form.
package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/mpruesga/galen/internal/models"
)

// Value is one user-supplied parameter before resolution. The zero Value
// means "not set, use the documented default". A Value is exactly one of:
// unset, disabled, scalar, vector, matrix, or a path to a YAML array file.
//
// Disabled is distinct from a zero-valued bound: scaling_bounds=0 fixes
// the scale factor to exactly 1 by sampling from [1, 1], while a disabled
// value switches the augmentation off entirely.
type Value struct {
	scalar *float64
	vector []float64
	matrix [][]float64
	path   string
	off    bool
}

// Scalar wraps a single number to be broadcast across axes or classes.
func Scalar(f float64) Value { return Value{scalar: &f} }

// Vector wraps a literal per-axis (or per-class) array.
func Vector(v ...float64) Value { return Value{vector: v} }

// Matrix wraps a literal 2D array, e.g. (2, K) prior hyperparameters.
func Matrix(rows ...[]float64) Value { return Value{matrix: rows} }

// FromFile references an external YAML array resource to be loaded at
// resolution time.
func FromFile(path string) Value { return Value{path: path} }

// Disabled returns the sentinel that switches an augmentation off.
func Disabled() Value { return Value{off: true} }

// IsZero reports whether the value was left unset.
func (v Value) IsZero() bool {
	return v.scalar == nil && v.vector == nil && v.matrix == nil && v.path == "" && !v.off
}

// IsDisabled reports whether the value is the disabled sentinel.
func (v Value) IsDisabled() bool { return v.off }

// UnmarshalYAML accepts `false` (disabled), a number, a flat sequence, a
// nested sequence, or a string path.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var b bool
		if err := node.Decode(&b); err == nil {
			if b {
				return errors.Errorf("line %d: `true` is not a valid parameter value", node.Line)
			}
			*v = Disabled()
			return nil
		}
		var f float64
		if err := node.Decode(&f); err == nil {
			*v = Scalar(f)
			return nil
		}
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*v = FromFile(s)
		return nil
	case yaml.SequenceNode:
		var m [][]float64
		if err := node.Decode(&m); err == nil {
			*v = Matrix(m...)
			return nil
		}
		var vec []float64
		if err := node.Decode(&vec); err != nil {
			return err
		}
		*v = Vector(vec...)
		return nil
	case 0:
		*v = Value{}
		return nil
	default:
		return errors.Errorf("line %d: unsupported parameter value", node.Line)
	}
}

// MarshalYAML renders the value back in the accepted YAML forms.
func (v Value) MarshalYAML() (interface{}, error) {
	switch {
	case v.off:
		return false, nil
	case v.scalar != nil:
		return *v.scalar, nil
	case v.vector != nil:
		return v.vector, nil
	case v.matrix != nil:
		return v.matrix, nil
	case v.path != "":
		return v.path, nil
	default:
		return nil, nil
	}
}

// Parse reads a command-line representation of a parameter value:
// "" (unset), "false"/"off" (disabled), a number, a comma-separated list
// of numbers, or anything else as a file path.
func Parse(s string) (Value, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "":
		return Value{}, nil
	case "false", "off", "none":
		return Disabled(), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Scalar(f), nil
	}
	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		vec := make([]float64, 0, len(parts))
		ok := true
		for _, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				ok = false
				break
			}
			vec = append(vec, f)
		}
		if ok {
			return Vector(vec...), nil
		}
	}
	return FromFile(s), nil
}

// sidecar is the on-disk layout of an external array resource: either a
// flat vector or a nested matrix under a single `values` key, or a bare
// YAML sequence.
type sidecar struct {
	Values Value `yaml:"values"`
}

// load materializes a file-backed value, returning the value unchanged
// when it does not reference a file.
func (v Value) load() (Value, error) {
	if v.path == "" {
		return v, nil
	}
	raw, err := os.ReadFile(v.path)
	if err != nil {
		return Value{}, models.NewDataError(v.path, "cannot read array resource: %v", err)
	}
	var direct Value
	if err := yaml.Unmarshal(raw, &direct); err == nil && !direct.IsZero() {
		return direct, nil
	}
	var sc sidecar
	if err := yaml.Unmarshal(raw, &sc); err != nil || sc.Values.IsZero() {
		return Value{}, models.NewDataError(v.path, "cannot parse array resource")
	}
	return sc.Values, nil
}
