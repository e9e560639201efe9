// Package training drives a black-box segmentation network over the
// synthetic batch stream: the two-phase loss schedule, per-epoch
// checkpointing, and resume.
package training

import (
	"github.com/mpruesga/galen/internal/models"
)

// Loss metric identifiers. They double as the checkpoint file prefix.
const (
	LossWL2  = "wl2"
	LossDice = "dice"
)

// Network is the segmentation model under training. The pipeline treats
// it as a black box: it only compiles it for a loss, feeds it batches and
// moves its weights to and from disk.
type Network interface {
	// Compile prepares the network to train against the given loss
	// metric with the given learning rate.
	Compile(learningRate float64, loss string) error

	// TrainStep runs one optimization step on the batch and returns the
	// step loss.
	TrainStep(batch *models.Batch) (float64, error)

	// SaveWeights writes the current weights to path.
	SaveWeights(path string) error

	// LoadWeights restores weights previously written by SaveWeights.
	LoadWeights(path string) error

	// Topology returns a stable identifier of the network architecture,
	// used to reject incompatible checkpoints on resume.
	Topology() string
}

// BatchSource yields training batches. Both *generator.Generator and
// *generator.Prefetcher satisfy it.
type BatchSource interface {
	Next() (*models.Batch, error)
}
