package training

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/mpruesga/galen/internal/models"
)

// CheckpointMeta is the JSON side-car written next to every weights file.
// Resume decisions read this metadata; the weights filename is kept only
// for compatibility with earlier runs and is never parsed.
type CheckpointMeta struct {
	Metric    string    `json:"metric"`
	Epoch     int       `json:"epoch"`
	CreatedAt time.Time `json:"created_at"`
	Topology  string    `json:"topology"`
}

// checkpointPath returns the weights path for a given metric and epoch,
// e.g. <dir>/wl2_003.
func checkpointPath(dir, metric string, epoch int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%03d", metric, epoch))
}

func metaPath(weightsPath string) string {
	return weightsPath + ".json"
}

// SaveCheckpoint writes the network weights and the metadata side-car,
// returning the weights path.
func SaveCheckpoint(dir string, net Network, metric string, epoch int) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "create checkpoint directory")
	}
	path := checkpointPath(dir, metric, epoch)
	if err := net.SaveWeights(path); err != nil {
		return "", errors.Wrapf(err, "save weights to %s", path)
	}
	meta := CheckpointMeta{
		Metric:    metric,
		Epoch:     epoch,
		CreatedAt: time.Now().UTC(),
		Topology:  net.Topology(),
	}
	raw, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "marshal checkpoint metadata")
	}
	if err := os.WriteFile(metaPath(path), raw, 0644); err != nil {
		return "", errors.Wrap(err, "write checkpoint metadata")
	}
	return path, nil
}

// LoadCheckpoint restores the network from a weights path written by
// SaveCheckpoint. A missing side-car or weights file, unreadable metadata,
// or a topology that does not match the network yields a ResourceError.
func LoadCheckpoint(path string, net Network) (*CheckpointMeta, error) {
	raw, err := os.ReadFile(metaPath(path))
	if err != nil {
		return nil, &models.ResourceError{Path: path,
			Reason: fmt.Sprintf("cannot read checkpoint metadata: %v", err)}
	}
	var meta CheckpointMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, &models.ResourceError{Path: path,
			Reason: fmt.Sprintf("malformed checkpoint metadata: %v", err)}
	}
	if meta.Topology != net.Topology() {
		return nil, &models.ResourceError{
			Path:     path,
			Expected: net.Topology(),
			Found:    meta.Topology,
		}
	}
	if err := net.LoadWeights(path); err != nil {
		return nil, &models.ResourceError{Path: path,
			Reason: fmt.Sprintf("cannot load weights: %v", err)}
	}
	return &meta, nil
}
