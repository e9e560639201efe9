package training

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mpruesga/galen/internal/models"
)

// Config holds the training schedule. The schedule runs the wl2
// (pre-training) phase first, then the dice phase; either may be empty,
// but not both.
type Config struct {
	LearningRate  float64
	WL2Epochs     int
	DiceEpochs    int
	StepsPerEpoch int

	// CheckpointDir receives one checkpoint per epoch; empty disables
	// checkpointing.
	CheckpointDir string

	// Resume is the weights path of a checkpoint to restore before
	// training; empty starts from scratch.
	Resume string
}

// Trainer runs the two-phase schedule over a batch source.
type Trainer struct {
	net Network
	src BatchSource
	cfg Config
}

// New validates the schedule and builds a trainer.
func New(net Network, src BatchSource, cfg Config) (*Trainer, error) {
	if cfg.WL2Epochs < 0 || cfg.DiceEpochs < 0 {
		return nil, models.NewConfigurationError("epochs", "epoch counts must be non-negative")
	}
	if cfg.WL2Epochs+cfg.DiceEpochs == 0 {
		return nil, models.NewConfigurationError("epochs",
			"wl2_epochs and dice_epochs are both zero, nothing to train")
	}
	if cfg.StepsPerEpoch < 1 {
		return nil, models.NewConfigurationError("steps_per_epoch", "must be at least 1, got %d", cfg.StepsPerEpoch)
	}
	if cfg.LearningRate <= 0 {
		return nil, models.NewConfigurationError("learning_rate", "must be positive, got %g", cfg.LearningRate)
	}
	return &Trainer{net: net, src: src, cfg: cfg}, nil
}

// Run executes the schedule: the wl2 phase, then the dice phase, saving a
// checkpoint after every epoch. With Resume set, the checkpoint metadata
// decides where the schedule picks up: a wl2 checkpoint continues the wl2
// phase from the next epoch, a dice checkpoint skips wl2 entirely.
func (t *Trainer) Run() error {
	startWL2, startDice := 1, 1
	if t.cfg.Resume != "" {
		meta, err := LoadCheckpoint(t.cfg.Resume, t.net)
		if err != nil {
			return err
		}
		switch meta.Metric {
		case LossWL2:
			startWL2 = meta.Epoch + 1
		case LossDice:
			startWL2 = t.cfg.WL2Epochs + 1
			startDice = meta.Epoch + 1
		default:
			return &models.ResourceError{Path: t.cfg.Resume,
				Reason: "unknown checkpoint metric " + meta.Metric}
		}
		logrus.WithFields(logrus.Fields{
			"checkpoint": t.cfg.Resume,
			"metric":     meta.Metric,
			"epoch":      meta.Epoch,
		}).Info("resumed from checkpoint")
	}

	if startWL2 <= t.cfg.WL2Epochs {
		if err := t.phase(LossWL2, startWL2, t.cfg.WL2Epochs); err != nil {
			return err
		}
	}
	if startDice <= t.cfg.DiceEpochs {
		return t.phase(LossDice, startDice, t.cfg.DiceEpochs)
	}
	return nil
}

// phase compiles the network for one loss metric and trains epochs
// [start, last].
func (t *Trainer) phase(metric string, start, last int) error {
	if err := t.net.Compile(t.cfg.LearningRate, metric); err != nil {
		return err
	}
	for epoch := start; epoch <= last; epoch++ {
		began := time.Now()
		total := 0.0
		for step := 0; step < t.cfg.StepsPerEpoch; step++ {
			batch, err := t.src.Next()
			if err != nil {
				return err
			}
			loss, err := t.net.TrainStep(batch)
			if err != nil {
				return err
			}
			total += loss
		}
		logrus.WithFields(logrus.Fields{
			"phase":   metric,
			"epoch":   epoch,
			"loss":    total / float64(t.cfg.StepsPerEpoch),
			"elapsed": time.Since(began).Round(time.Millisecond),
		}).Info("epoch complete")

		if t.cfg.CheckpointDir != "" {
			if _, err := SaveCheckpoint(t.cfg.CheckpointDir, t.net, metric, epoch); err != nil {
				return err
			}
		}
	}
	return nil
}
