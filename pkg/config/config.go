// Package config provides configuration loading and management for galen.
// It handles loading configuration from YAML files and provides default
// values matching the documented generation defaults.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/mpruesga/galen/pkg/params"
)

// Config represents the application configuration loaded from YAML.
// Generation parameters are polymorphic (scalar, array, file path or
// false); see params.Value.
type Config struct {
	// Data parameters
	Data struct {
		// LabelsDir is the label map file or directory to train from
		LabelsDir string `yaml:"labelsDir"`

		// GenerationLabels lists the labels present in the label maps,
		// ordered background, neutral, left-sided, right-sided. Empty
		// means discover them by scanning the label maps.
		GenerationLabels []int32 `yaml:"generationLabels"`

		// SegmentationLabels maps each generation label to the value the
		// network learns to predict. Empty means predict the generation
		// labels themselves.
		SegmentationLabels []int32 `yaml:"segmentationLabels"`

		// GenerationClasses groups generation labels into shared
		// intensity classes. Empty gives every label its own class.
		GenerationClasses []int32 `yaml:"generationClasses"`

		// NNeutral is the number of non-sided labels at the head of
		// GenerationLabels, background included
		NNeutral int `yaml:"nNeutral"`
	} `yaml:"data"`

	// Generation parameters
	Generation struct {
		// BatchSize is the number of samples per minibatch
		BatchSize int `yaml:"batchSize"`

		// NChannels is the number of synthetic image channels
		NChannels int `yaml:"nChannels"`

		// Flipping enables random left-right mirroring
		Flipping *bool `yaml:"flipping"`

		Scaling     params.Value `yaml:"scalingBounds"`
		Rotation    params.Value `yaml:"rotationBounds"`
		Shearing    params.Value `yaml:"shearingBounds"`
		Translation params.Value `yaml:"translationBounds"`

		NonlinStd   *float64 `yaml:"nonlinStd"`
		NonlinScale *float64 `yaml:"nonlinScale"`

		PriorDistribution string       `yaml:"priorDistributions"`
		PriorMeans        params.Value `yaml:"priorMeans"`
		PriorStds         params.Value `yaml:"priorStds"`
		MixPriorAndRandom bool         `yaml:"mixPriorAndRandom"`
		UseSpecificStats  bool         `yaml:"useSpecificStatsForChannel"`

		RandomiseRes *bool        `yaml:"randomiseRes"`
		MaxResIso    params.Value `yaml:"maxResIso"`
		MaxResAniso  params.Value `yaml:"maxResAniso"`
		DataRes      params.Value `yaml:"dataRes"`
		Thickness    params.Value `yaml:"thickness"`
		TargetRes    params.Value `yaml:"targetRes"`

		BiasFieldStd *float64 `yaml:"biasFieldStd"`
		BiasScale    *float64 `yaml:"biasScale"`

		OutputShape params.Value `yaml:"outputShape"`
		SubjectProb params.Value `yaml:"subjectsProb"`

		ReturnGradients bool `yaml:"returnGradients"`
	} `yaml:"generation"`

	// Training parameters
	Training struct {
		// LearningRate for both phases
		LearningRate float64 `yaml:"learningRate"`

		// WL2Epochs is the length of the wl2 pre-training phase
		WL2Epochs int `yaml:"wl2Epochs"`

		// DiceEpochs is the length of the dice phase
		DiceEpochs int `yaml:"diceEpochs"`

		// StepsPerEpoch is the number of minibatches per epoch
		StepsPerEpoch int `yaml:"stepsPerEpoch"`

		// NLevels is the depth of the network pooling stack; the output
		// shape is forced divisible by 2^NLevels
		NLevels int `yaml:"nLevels"`

		// CheckpointDir receives one checkpoint per epoch
		CheckpointDir string `yaml:"checkpointDir"`

		// Resume is a checkpoint weights path to restore before training
		Resume string `yaml:"resume"`

		// Seed initializes the generation random stream
		Seed uint64 `yaml:"seed"`

		// PrefetchWorkers sets the size of the batch prefetch pool;
		// zero generates synchronously
		PrefetchWorkers int `yaml:"prefetchWorkers"`
	} `yaml:"training"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// PreviewDir, when set, receives JPEG slice previews of the
		// first generated batch
		PreviewDir string `yaml:"previewDir"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Generation.BatchSize = 1
	cfg.Generation.NChannels = 1
	flipping := true
	cfg.Generation.Flipping = &flipping
	randomise := true
	cfg.Generation.RandomiseRes = &randomise

	cfg.Training.LearningRate = 1e-4
	cfg.Training.WL2Epochs = 1
	cfg.Training.DiceEpochs = 50
	cfg.Training.StepsPerEpoch = 1000
	cfg.Training.NLevels = 5
	cfg.Training.CheckpointDir = "checkpoints"
	cfg.Training.PrefetchWorkers = runtime.NumCPU() / 2

	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config file")
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "create config directory")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	return errors.Wrap(os.WriteFile(configPath, data, 0644), "write config file")
}

// CreateDefaultConfigFile creates a default configuration file at the
// specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// Inputs converts the generation section into the raw parameter set the
// resolver consumes.
func (cfg *Config) Inputs() params.Inputs {
	g := &cfg.Generation
	in := params.Inputs{
		Scaling:           g.Scaling,
		Rotation:          g.Rotation,
		Shearing:          g.Shearing,
		Translation:       g.Translation,
		NonlinStd:         g.NonlinStd,
		NonlinScale:       g.NonlinScale,
		PriorDistribution: g.PriorDistribution,
		PriorMeans:        g.PriorMeans,
		PriorStds:         g.PriorStds,
		MixPriorAndRandom: g.MixPriorAndRandom,
		UseSpecificStats:  g.UseSpecificStats,
		MaxResIso:         g.MaxResIso,
		MaxResAniso:       g.MaxResAniso,
		DataRes:           g.DataRes,
		Thickness:         g.Thickness,
		TargetRes:         g.TargetRes,
		BiasFieldStd:      g.BiasFieldStd,
		BiasScale:         g.BiasScale,
		OutputShape:       g.OutputShape,
		SubjectProb:       g.SubjectProb,
		ReturnGradients:   g.ReturnGradients,
	}
	in.Flipping = g.Flipping == nil || *g.Flipping
	in.RandomiseRes = g.RandomiseRes == nil || *g.RandomiseRes
	return in
}
