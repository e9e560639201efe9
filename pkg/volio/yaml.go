package volio

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/mpruesga/galen/internal/models"
)

// yamlVolume is the on-disk layout of a YAML-encoded label volume:
// shape, spacing and the flat voxel data in row-major order.
type yamlVolume struct {
	Shape   [3]int     `yaml:"shape"`
	Spacing [3]float64 `yaml:"spacing"`
	Data    []int32    `yaml:"data"`
}

func loadYAMLVolume(path string) (*models.LabelVolume, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read YAML volume")
	}
	var doc yamlVolume
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, models.NewDataError(path, "cannot parse YAML volume: %v", err)
	}
	n := doc.Shape[0] * doc.Shape[1] * doc.Shape[2]
	if n <= 0 {
		return nil, models.NewDataError(path, "invalid volume shape %v", doc.Shape)
	}
	if len(doc.Data) != n {
		return nil, models.NewDataError(path, "voxel data length %d does not match shape %v",
			len(doc.Data), doc.Shape)
	}
	spacing := doc.Spacing
	for i, s := range spacing {
		if s <= 0 {
			spacing[i] = 1
		}
	}
	return &models.LabelVolume{Data: doc.Data, Shape: doc.Shape, Spacing: spacing}, nil
}

// SaveYAMLVolume writes a label volume in the YAML fixture format.
func SaveYAMLVolume(path string, lv *models.LabelVolume) error {
	doc := yamlVolume{Shape: lv.Shape, Spacing: lv.Spacing, Data: lv.Data}
	raw, err := yaml.Marshal(&doc)
	if err != nil {
		return errors.Wrap(err, "marshal YAML volume")
	}
	return errors.Wrap(os.WriteFile(path, raw, 0644), "write YAML volume")
}
