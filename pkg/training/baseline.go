package training

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/pkg/errors"

	"github.com/mpruesga/galen/internal/models"
)

// Baseline is a minimal trainable predictor: a single per-class
// probability vector fitted to the label frequencies of the batch stream.
// It exercises the full training loop (losses, checkpoints, resume)
// without an external deep-learning backend and serves as the floor any
// real segmentation network must beat.
type Baseline struct {
	weights []float64
	lr      float64
	loss    string
}

// NewBaseline builds a baseline predictor over nClasses training labels,
// initialized to the uniform distribution.
func NewBaseline(nClasses int) (*Baseline, error) {
	if nClasses < 1 {
		return nil, models.NewConfigurationError("n_classes", "must be at least 1, got %d", nClasses)
	}
	w := make([]float64, nClasses)
	for i := range w {
		w[i] = 1 / float64(nClasses)
	}
	return &Baseline{weights: w}, nil
}

// Compile selects the loss metric and learning rate for TrainStep.
func (b *Baseline) Compile(learningRate float64, loss string) error {
	if loss != LossWL2 && loss != LossDice {
		return models.NewConfigurationError("loss", "unknown loss metric %q", loss)
	}
	if learningRate <= 0 {
		return models.NewConfigurationError("learning_rate", "must be positive, got %g", learningRate)
	}
	b.lr = learningRate
	b.loss = loss
	return nil
}

// TrainStep moves the class probabilities toward the batch label
// frequencies and returns the loss of the pre-update prediction.
func (b *Baseline) TrainStep(batch *models.Batch) (float64, error) {
	if b.loss == "" {
		return 0, models.NewConfigurationError("loss", "network is not compiled")
	}
	target, _ := batch.TargetTensor()
	if len(target) == 0 {
		return 0, models.NewConfigurationError("batch", "empty batch")
	}

	freq := make([]float64, len(b.weights))
	for _, t := range target {
		k := int(t)
		if k < 0 || k >= len(freq) {
			return 0, models.NewDataError("", "training label %d outside [0, %d)", k, len(freq))
		}
		freq[k]++
	}
	n := float64(len(target))
	for k := range freq {
		freq[k] /= n
	}

	var loss float64
	switch b.loss {
	case LossWL2:
		for k := range freq {
			d := b.weights[k] - freq[k]
			loss += d * d
		}
	case LossDice:
		// Soft dice of the constant prediction against the batch
		// frequencies, averaged over classes.
		for k := range freq {
			denom := b.weights[k] + freq[k]
			if denom > 0 {
				loss += 1 - 2*b.weights[k]*freq[k]/(b.weights[k]*b.weights[k]+freq[k]*freq[k])
			}
		}
		loss /= float64(len(freq))
	}

	for k := range b.weights {
		b.weights[k] += b.lr * (freq[k] - b.weights[k])
		if b.weights[k] < 0 {
			b.weights[k] = 0
		}
	}
	return loss, nil
}

// baselineWeights is the on-disk layout of the baseline checkpoint.
type baselineWeights struct {
	Weights []float64 `json:"weights"`
}

// SaveWeights writes the probability vector to path as JSON.
func (b *Baseline) SaveWeights(path string) error {
	raw, err := json.Marshal(&baselineWeights{Weights: b.weights})
	if err != nil {
		return errors.Wrap(err, "marshal baseline weights")
	}
	return errors.Wrap(os.WriteFile(path, raw, 0644), "write baseline weights")
}

// LoadWeights restores a probability vector written by SaveWeights.
func (b *Baseline) LoadWeights(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read baseline weights")
	}
	var w baselineWeights
	if err := json.Unmarshal(raw, &w); err != nil {
		return errors.Wrap(err, "parse baseline weights")
	}
	if len(w.Weights) != len(b.weights) {
		return fmt.Errorf("weight count mismatch: expected %d, found %d", len(b.weights), len(w.Weights))
	}
	for _, v := range w.Weights {
		if math.IsNaN(v) || v < 0 {
			return fmt.Errorf("invalid weight %g", v)
		}
	}
	b.weights = w.Weights
	return nil
}

// Topology identifies the architecture and class count.
func (b *Baseline) Topology() string {
	return fmt.Sprintf("baseline/classes=%d", len(b.weights))
}
