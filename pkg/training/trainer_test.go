package training

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/mpruesga/galen/internal/models"
)

// stubSource yields the same tiny batch forever.
type stubSource struct {
	batch *models.Batch
}

func (s *stubSource) Next() (*models.Batch, error) { return s.batch, nil }

// makeBatch builds a one-sample batch whose labels follow the given
// distribution over {0, 1}.
func makeBatch(onesFrac float64) *models.Batch {
	shape := [3]int{4, 4, 4}
	lab := models.NewLabelVolume(shape, [3]float64{1, 1, 1})
	limit := int(onesFrac * float64(len(lab.Data)))
	for i := 0; i < limit; i++ {
		lab.Data[i] = 1
	}
	img := models.NewVolume(shape, [3]float64{1, 1, 1})
	return &models.Batch{Samples: []*models.Sample{{
		Channels: []*models.Volume{img},
		Labels:   lab,
	}}}
}

// TestNewValidation verifies the schedule checks.
func TestNewValidation(t *testing.T) {
	net, err := NewBaseline(2)
	if err != nil {
		t.Fatalf("NewBaseline failed: %v", err)
	}
	src := &stubSource{batch: makeBatch(0.5)}

	var cfgErr *models.ConfigurationError
	_, err = New(net, src, Config{LearningRate: 0.1, StepsPerEpoch: 1})
	if !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigurationError for zero total epochs, got %v", err)
	}
	_, err = New(net, src, Config{LearningRate: 0.1, WL2Epochs: 1})
	if !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigurationError for zero steps, got %v", err)
	}
	_, err = New(net, src, Config{WL2Epochs: 1, StepsPerEpoch: 1})
	if !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigurationError for zero learning rate, got %v", err)
	}
}

// TestBaselineLearns verifies that repeated steps on a stationary batch
// stream drive the wl2 loss toward zero.
func TestBaselineLearns(t *testing.T) {
	net, err := NewBaseline(2)
	if err != nil {
		t.Fatalf("NewBaseline failed: %v", err)
	}
	if err := net.Compile(0.5, LossWL2); err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	batch := makeBatch(0.25)
	first, err := net.TrainStep(batch)
	if err != nil {
		t.Fatalf("TrainStep failed: %v", err)
	}
	var last float64
	for i := 0; i < 20; i++ {
		if last, err = net.TrainStep(batch); err != nil {
			t.Fatalf("TrainStep failed: %v", err)
		}
	}
	if last >= first {
		t.Errorf("Loss did not decrease: first %f, last %f", first, last)
	}
}

// TestRunBothPhases verifies the wl2-then-dice schedule writes one
// checkpoint per epoch with its metadata side-car.
func TestRunBothPhases(t *testing.T) {
	dir := t.TempDir()
	net, err := NewBaseline(2)
	if err != nil {
		t.Fatalf("NewBaseline failed: %v", err)
	}
	trainer, err := New(net, &stubSource{batch: makeBatch(0.5)}, Config{
		LearningRate:  0.1,
		WL2Epochs:     2,
		DiceEpochs:    1,
		StepsPerEpoch: 3,
		CheckpointDir: dir,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := trainer.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, name := range []string{"wl2_001", "wl2_002", "dice_001"} {
		path := filepath.Join(dir, name)
		meta, err := LoadCheckpoint(path, net)
		if err != nil {
			t.Fatalf("Checkpoint %s unreadable: %v", name, err)
		}
		if meta.Topology != net.Topology() {
			t.Errorf("Checkpoint %s: topology %q", name, meta.Topology)
		}
	}
}

// TestResume verifies that resuming from a dice checkpoint skips the wl2
// phase and continues from the recorded epoch.
func TestResume(t *testing.T) {
	dir := t.TempDir()
	net, err := NewBaseline(2)
	if err != nil {
		t.Fatalf("NewBaseline failed: %v", err)
	}
	if err := net.Compile(0.1, LossDice); err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	path, err := SaveCheckpoint(dir, net, LossDice, 2)
	if err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	trainer, err := New(net, &stubSource{batch: makeBatch(0.5)}, Config{
		LearningRate:  0.1,
		WL2Epochs:     2,
		DiceEpochs:    3,
		StepsPerEpoch: 1,
		CheckpointDir: dir,
		Resume:        path,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := trainer.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Only dice epoch 3 should have been trained: no wl2 checkpoints.
	if _, err := LoadCheckpoint(filepath.Join(dir, "wl2_001"), net); err == nil {
		t.Error("Resume from a dice checkpoint must skip the wl2 phase")
	}
	if _, err := LoadCheckpoint(filepath.Join(dir, "dice_003"), net); err != nil {
		t.Errorf("Expected dice epoch 3 checkpoint: %v", err)
	}
}

// TestLoadCheckpointErrors verifies the ResourceError cases: missing
// checkpoint and topology mismatch.
func TestLoadCheckpointErrors(t *testing.T) {
	dir := t.TempDir()
	net2, err := NewBaseline(2)
	if err != nil {
		t.Fatalf("NewBaseline failed: %v", err)
	}

	var resErr *models.ResourceError
	_, err = LoadCheckpoint(filepath.Join(dir, "wl2_001"), net2)
	if !errors.As(err, &resErr) {
		t.Fatalf("Expected ResourceError for a missing checkpoint, got %v", err)
	}

	// Written with 3 classes, loaded into a 2-class network.
	net3, err := NewBaseline(3)
	if err != nil {
		t.Fatalf("NewBaseline failed: %v", err)
	}
	path, err := SaveCheckpoint(dir, net3, LossWL2, 1)
	if err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	_, err = LoadCheckpoint(path, net2)
	if !errors.As(err, &resErr) {
		t.Fatalf("Expected ResourceError for a topology mismatch, got %v", err)
	}
	if resErr.Expected != net2.Topology() || resErr.Found != net3.Topology() {
		t.Errorf("Mismatch fields wrong: expected %q found %q", resErr.Expected, resErr.Found)
	}
}
