// Command galen trains a segmentation network purely from synthetic
// images generated on-the-fly from 3D label maps.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mpruesga/galen/pkg/config"
	"github.com/mpruesga/galen/pkg/generator"
	"github.com/mpruesga/galen/pkg/labels"
	"github.com/mpruesga/galen/pkg/params"
	"github.com/mpruesga/galen/pkg/training"
	"github.com/mpruesga/galen/pkg/visualization"
	"github.com/mpruesga/galen/pkg/volio"
)

func main() {
	root := &cobra.Command{
		Use:           "galen",
		Short:         "Synthetic-data segmentation training",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newTrainCommand(), newInitConfigCommand())
	if err := root.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

// paramFlags holds the string forms of the polymorphic generation
// parameters; each accepts a number, a comma list, "false", or a YAML
// file path.
type paramFlags struct {
	scaling, rotation, shearing, translation string
	priorMeans, priorStds                    string
	maxResIso, maxResAniso                   string
	dataRes, thickness, targetRes            string
	outputShape, subjectsProb                string
}

func newTrainCommand() *cobra.Command {
	var (
		configPath string
		pf         paramFlags
		noFlip     bool
		noRandRes  bool
	)
	cfg := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train from a directory of label maps",
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			// Flags changed on the command line override the file.
			mergeConfig(cmd, loaded, cfg)
			if err := applyParamFlags(cmd, loaded, &pf); err != nil {
				return err
			}
			if cmd.Flags().Changed("no-flipping") {
				v := !noFlip
				loaded.Generation.Flipping = &v
			}
			if cmd.Flags().Changed("no-randomise-res") {
				v := !noRandRes
				loaded.Generation.RandomiseRes = &v
			}
			return runTrain(loaded)
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "galen.yaml", "YAML configuration file")
	f.StringVar(&cfg.Data.LabelsDir, "labels", "", "label map file or directory (required)")
	f.Int32SliceVar(&cfg.Data.GenerationLabels, "generation-labels", nil, "explicit generation label list")
	f.Int32SliceVar(&cfg.Data.SegmentationLabels, "segmentation-labels", nil, "output label per generation label")
	f.Int32SliceVar(&cfg.Data.GenerationClasses, "generation-classes", nil, "intensity class per generation label")
	f.IntVar(&cfg.Data.NNeutral, "n-neutral", 0, "non-sided labels at the head of the generation list")
	f.IntVar(&cfg.Generation.BatchSize, "batch-size", cfg.Generation.BatchSize, "samples per minibatch")
	f.IntVar(&cfg.Generation.NChannels, "channels", cfg.Generation.NChannels, "synthetic image channels")
	f.BoolVar(&noFlip, "no-flipping", false, "disable left-right flip augmentation")
	f.BoolVar(&noRandRes, "no-randomise-res", false, "disable randomized acquisition resolution")
	f.BoolVar(&cfg.Generation.MixPriorAndRandom, "mix-prior-and-random", false, "fall back to wide priors with p=0.5 per channel")
	f.BoolVar(&cfg.Generation.UseSpecificStats, "use-specific-stats", false, "one prior modality block per channel")
	f.BoolVar(&cfg.Generation.ReturnGradients, "gradients", false, "train on Sobel gradient magnitude instead of intensities")
	f.StringVar(&cfg.Generation.PriorDistribution, "prior-distribution", "", "uniform or normal")

	f.StringVar(&pf.scaling, "scaling", "", "scaling bounds")
	f.StringVar(&pf.rotation, "rotation", "", "rotation bounds (degrees)")
	f.StringVar(&pf.shearing, "shearing", "", "shearing bounds")
	f.StringVar(&pf.translation, "translation", "", "translation bounds (voxels)")
	f.StringVar(&pf.priorMeans, "prior-means", "", "GMM mean hyperparameters")
	f.StringVar(&pf.priorStds, "prior-stds", "", "GMM std hyperparameters")
	f.StringVar(&pf.maxResIso, "max-res-iso", "", "isotropic resolution bound (mm)")
	f.StringVar(&pf.maxResAniso, "max-res-aniso", "", "anisotropic resolution bound (mm)")
	f.StringVar(&pf.dataRes, "data-res", "", "fixed acquisition resolution (mm)")
	f.StringVar(&pf.thickness, "thickness", "", "fixed slice thickness (mm)")
	f.StringVar(&pf.targetRes, "target-res", "", "output grid resolution (mm)")
	f.StringVar(&pf.outputShape, "output-shape", "", "output crop shape (voxels)")
	f.StringVar(&pf.subjectsProb, "subjects-prob", "", "per-subject sampling weights")

	f.Float64Var(&cfg.Training.LearningRate, "lr", cfg.Training.LearningRate, "learning rate")
	f.IntVar(&cfg.Training.WL2Epochs, "wl2-epochs", cfg.Training.WL2Epochs, "wl2 pre-training epochs")
	f.IntVar(&cfg.Training.DiceEpochs, "dice-epochs", cfg.Training.DiceEpochs, "dice epochs")
	f.IntVar(&cfg.Training.StepsPerEpoch, "steps-per-epoch", cfg.Training.StepsPerEpoch, "minibatches per epoch")
	f.IntVar(&cfg.Training.NLevels, "n-levels", cfg.Training.NLevels, "network pooling levels")
	f.StringVar(&cfg.Training.CheckpointDir, "checkpoint-dir", cfg.Training.CheckpointDir, "checkpoint directory")
	f.StringVar(&cfg.Training.Resume, "resume", "", "checkpoint weights path to resume from")
	f.Uint64Var(&cfg.Training.Seed, "seed", 0, "generation random seed")
	f.IntVar(&cfg.Training.PrefetchWorkers, "workers", cfg.Training.PrefetchWorkers, "prefetch workers, 0 for synchronous")
	f.StringVar(&cfg.Output.PreviewDir, "preview-dir", "", "write JPEG previews of the first batch here")
	f.BoolVar(&cfg.Output.Verbose, "verbose", cfg.Output.Verbose, "debug logging")

	return cmd
}

// mergeConfig copies every scalar flag the user changed over the loaded
// file configuration.
func mergeConfig(cmd *cobra.Command, dst, flags *config.Config) {
	set := map[string]func(){
		"labels":               func() { dst.Data.LabelsDir = flags.Data.LabelsDir },
		"generation-labels":    func() { dst.Data.GenerationLabels = flags.Data.GenerationLabels },
		"segmentation-labels":  func() { dst.Data.SegmentationLabels = flags.Data.SegmentationLabels },
		"generation-classes":   func() { dst.Data.GenerationClasses = flags.Data.GenerationClasses },
		"n-neutral":            func() { dst.Data.NNeutral = flags.Data.NNeutral },
		"batch-size":           func() { dst.Generation.BatchSize = flags.Generation.BatchSize },
		"channels":             func() { dst.Generation.NChannels = flags.Generation.NChannels },
		"mix-prior-and-random": func() { dst.Generation.MixPriorAndRandom = flags.Generation.MixPriorAndRandom },
		"use-specific-stats":   func() { dst.Generation.UseSpecificStats = flags.Generation.UseSpecificStats },
		"gradients":            func() { dst.Generation.ReturnGradients = flags.Generation.ReturnGradients },
		"prior-distribution":   func() { dst.Generation.PriorDistribution = flags.Generation.PriorDistribution },
		"lr":                   func() { dst.Training.LearningRate = flags.Training.LearningRate },
		"wl2-epochs":           func() { dst.Training.WL2Epochs = flags.Training.WL2Epochs },
		"dice-epochs":          func() { dst.Training.DiceEpochs = flags.Training.DiceEpochs },
		"steps-per-epoch":      func() { dst.Training.StepsPerEpoch = flags.Training.StepsPerEpoch },
		"n-levels":             func() { dst.Training.NLevels = flags.Training.NLevels },
		"checkpoint-dir":       func() { dst.Training.CheckpointDir = flags.Training.CheckpointDir },
		"resume":               func() { dst.Training.Resume = flags.Training.Resume },
		"seed":                 func() { dst.Training.Seed = flags.Training.Seed },
		"workers":              func() { dst.Training.PrefetchWorkers = flags.Training.PrefetchWorkers },
		"preview-dir":          func() { dst.Output.PreviewDir = flags.Output.PreviewDir },
		"verbose":              func() { dst.Output.Verbose = flags.Output.Verbose },
	}
	for name, apply := range set {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
}

// applyParamFlags parses the polymorphic parameter flags the user changed
// into the configuration.
func applyParamFlags(cmd *cobra.Command, dst *config.Config, pf *paramFlags) error {
	g := &dst.Generation
	for name, bind := range map[string]struct {
		raw string
		out *params.Value
	}{
		"scaling":       {pf.scaling, &g.Scaling},
		"rotation":      {pf.rotation, &g.Rotation},
		"shearing":      {pf.shearing, &g.Shearing},
		"translation":   {pf.translation, &g.Translation},
		"prior-means":   {pf.priorMeans, &g.PriorMeans},
		"prior-stds":    {pf.priorStds, &g.PriorStds},
		"max-res-iso":   {pf.maxResIso, &g.MaxResIso},
		"max-res-aniso": {pf.maxResAniso, &g.MaxResAniso},
		"data-res":      {pf.dataRes, &g.DataRes},
		"thickness":     {pf.thickness, &g.Thickness},
		"target-res":    {pf.targetRes, &g.TargetRes},
		"output-shape":  {pf.outputShape, &g.OutputShape},
		"subjects-prob": {pf.subjectsProb, &g.SubjectProb},
	} {
		if !cmd.Flags().Changed(name) {
			continue
		}
		v, err := params.Parse(bind.raw)
		if err != nil {
			return err
		}
		*bind.out = v
	}
	return nil
}

func runTrain(cfg *config.Config) error {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.Output.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if cfg.Data.LabelsDir == "" {
		logrus.Error("no label maps given, use --labels")
		os.Exit(2)
	}

	vols, err := volio.LoadLabelMaps(cfg.Data.LabelsDir)
	if err != nil {
		return err
	}
	logrus.WithField("count", len(vols)).Info("label maps loaded")

	generation := cfg.Data.GenerationLabels
	nNeutral := cfg.Data.NNeutral
	if len(generation) == 0 {
		generation = labels.Discover(vols)
		// Discovered label sets carry no sidedness information, so all
		// labels count as neutral and flips swap nothing.
		nNeutral = len(generation)
	}
	flipping := cfg.Generation.Flipping == nil || *cfg.Generation.Flipping
	catalog, err := labels.NewCatalog(generation, cfg.Data.SegmentationLabels,
		cfg.Data.GenerationClasses, nNeutral, flipping)
	if err != nil {
		return err
	}

	resolved, err := params.Resolve(cfg.Inputs(), 3, catalog.NumClasses(),
		cfg.Generation.NChannels, len(vols))
	if err != nil {
		return err
	}

	gen, err := generator.New(vols, catalog, resolved, generator.Options{
		BatchSize:         cfg.Generation.BatchSize,
		OutputDivisibleBy: 1 << cfg.Training.NLevels,
		Seed:              cfg.Training.Seed,
	})
	if err != nil {
		return err
	}

	if cfg.Output.PreviewDir != "" {
		batch, err := gen.Next()
		if err != nil {
			return err
		}
		if err := visualization.SaveBatchPreviews(batch, cfg.Output.PreviewDir); err != nil {
			return err
		}
		logrus.WithField("dir", cfg.Output.PreviewDir).Info("previews written")
	}

	var src training.BatchSource = gen
	if cfg.Training.PrefetchWorkers > 0 {
		pf, err := gen.Prefetch(cfg.Training.PrefetchWorkers, 2*cfg.Training.PrefetchWorkers)
		if err != nil {
			return err
		}
		defer pf.Close()
		src = pf
	}

	// Baseline expects class frequencies indexed by output label value.
	maxSeg := int32(0)
	for _, s := range catalog.TrainClasses() {
		if s > maxSeg {
			maxSeg = s
		}
	}
	net, err := training.NewBaseline(int(maxSeg) + 1)
	if err != nil {
		return err
	}
	trainer, err := training.New(net, src, training.Config{
		LearningRate:  cfg.Training.LearningRate,
		WL2Epochs:     cfg.Training.WL2Epochs,
		DiceEpochs:    cfg.Training.DiceEpochs,
		StepsPerEpoch: cfg.Training.StepsPerEpoch,
		CheckpointDir: cfg.Training.CheckpointDir,
		Resume:        cfg.Training.Resume,
	})
	if err != nil {
		return err
	}
	return trainer.Run()
}

func newInitConfigCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			logrus.WithField("path", path).Info("configuration written")
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "galen.yaml", "where to write the configuration")
	return cmd
}
