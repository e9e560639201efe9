// Package labels implements the label catalog: the mapping from raw
// generation labels to output segmentation labels, to intensity classes,
// and to contiguous training-class indices, plus the left/right label
// correspondence used by flip augmentation.
package labels

import (
	"sort"

	"github.com/mpruesga/galen/internal/models"
)

// Catalog is the frozen label bookkeeping for one training run.
//
// The generation label set is ordered: background first, then the
// non-sided (neutral) labels, then all left-sided labels, then the
// corresponding right-sided labels in the same order. When flipping is
// enabled the two sided subsequences must have equal length, so that
// generation[nNeutral+i] (left) corresponds to
// generation[nNeutral+nSided+i] (right).
type Catalog struct {
	// Generation is the ordered list of label values that may appear in
	// the input label maps
	Generation []int32

	// Segmentation maps, position-wise, each generation label to the
	// value it takes in the training label maps (many-to-one allowed)
	Segmentation []int32

	// Classes assigns each generation label an intensity-class index in
	// [0, K); labels sharing a class share one Gaussian per sample
	Classes []int32

	// NNeutral is the number of non-sided labels, background included
	NNeutral int

	// Flipping records whether left/right flip augmentation is enabled
	Flipping bool

	numClasses   int
	segOf        map[int32]int32
	classOf      map[int32]int32
	trainIdxOf   map[int32]int32
	sideSwap     map[int32]int32
	trainClasses []int32
}

// NewCatalog validates the three label lists and builds the catalog.
//
// segmentation may be nil, in which case every label keeps its own value.
// classes may be nil, in which case every label is its own intensity
// class. nNeutral is only meaningful when flipping is true; it gives the
// number of non-sided labels (background included) so the sided tail of
// generation can be split into matching left and right halves.
func NewCatalog(generation, segmentation, classes []int32, nNeutral int, flipping bool) (*Catalog, error) {
	if len(generation) == 0 {
		return nil, models.NewConfigurationError("generation_labels", "label list is empty")
	}
	if segmentation == nil {
		segmentation = append([]int32(nil), generation...)
	}
	if len(segmentation) != len(generation) {
		return nil, models.NewConfigurationError("segmentation_labels",
			"length %d does not match generation_labels length %d",
			len(segmentation), len(generation))
	}
	if classes == nil {
		classes = make([]int32, len(generation))
		for i := range classes {
			classes[i] = int32(i)
		}
	}
	if len(classes) != len(generation) {
		return nil, models.NewConfigurationError("generation_classes",
			"length %d does not match generation_labels length %d",
			len(classes), len(generation))
	}

	numClasses := 0
	for _, c := range classes {
		if int(c) >= numClasses {
			numClasses = int(c) + 1
		}
	}
	for i, c := range classes {
		if c < 0 || int(c) >= numClasses {
			return nil, models.NewConfigurationError("generation_classes",
				"class %d at position %d outside [0, %d)", c, i, numClasses)
		}
	}

	c := &Catalog{
		Generation:   generation,
		Segmentation: segmentation,
		Classes:      classes,
		NNeutral:     nNeutral,
		Flipping:     flipping,
		numClasses:   numClasses,
		segOf:        make(map[int32]int32, len(generation)),
		classOf:      make(map[int32]int32, len(generation)),
		trainIdxOf:   make(map[int32]int32),
		sideSwap:     make(map[int32]int32),
	}
	for i, g := range generation {
		if _, dup := c.segOf[g]; dup {
			return nil, models.NewConfigurationError("generation_labels",
				"duplicate label %d", g)
		}
		c.segOf[g] = segmentation[i]
		c.classOf[g] = classes[i]
	}

	// Contiguous training-class indices over the distinct output values,
	// in ascending label order, for loss computation.
	seen := make(map[int32]bool)
	for _, s := range segmentation {
		if !seen[s] {
			seen[s] = true
			c.trainClasses = append(c.trainClasses, s)
		}
	}
	sort.Slice(c.trainClasses, func(i, j int) bool { return c.trainClasses[i] < c.trainClasses[j] })
	for i, s := range c.trainClasses {
		c.trainIdxOf[s] = int32(i)
	}

	if flipping {
		if err := c.buildSideSwap(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// buildSideSwap splits the sided tail of the generation list into left
// and right halves and records the value correspondence both ways.
func (c *Catalog) buildSideSwap() error {
	if c.NNeutral < 0 || c.NNeutral > len(c.Generation) {
		return models.NewConfigurationError("n_neutral_labels",
			"value %d outside [0, %d]", c.NNeutral, len(c.Generation))
	}
	sided := len(c.Generation) - c.NNeutral
	if sided%2 != 0 {
		return models.NewConfigurationError("generation_labels",
			"flipping requires symmetric sided labels, but %d labels follow the %d neutral ones",
			sided, c.NNeutral)
	}
	half := sided / 2
	for i := 0; i < half; i++ {
		left := c.Generation[c.NNeutral+i]
		right := c.Generation[c.NNeutral+half+i]
		if c.classOf[left] != c.classOf[right] {
			// Sided pairs must share intensity statistics or a flip
			// would change the image appearance of the hemisphere.
			return models.NewConfigurationError("generation_classes",
				"sided pair (%d, %d) maps to different intensity classes (%d, %d)",
				left, right, c.classOf[left], c.classOf[right])
		}
		c.sideSwap[left] = right
		c.sideSwap[right] = left
	}
	return nil
}

// NumClasses returns K, the number of intensity classes.
func (c *Catalog) NumClasses() int { return c.numClasses }

// NumTrainClasses returns the number of distinct output label values.
func (c *Catalog) NumTrainClasses() int { return len(c.trainClasses) }

// TrainClasses returns the distinct output label values in ascending order.
func (c *Catalog) TrainClasses() []int32 {
	return append([]int32(nil), c.trainClasses...)
}

// ClassOf returns the intensity class of a raw generation label.
func (c *Catalog) ClassOf(label int32) (int32, error) {
	cls, ok := c.classOf[label]
	if !ok {
		return 0, models.NewDataError("", "label %d not present in generation_labels", label)
	}
	return cls, nil
}

// SegmentationOf returns the output value of a raw generation label.
func (c *Catalog) SegmentationOf(label int32) (int32, error) {
	s, ok := c.segOf[label]
	if !ok {
		return 0, models.NewDataError("", "label %d not present in generation_labels", label)
	}
	return s, nil
}

// TrainIndexOf returns the contiguous training-class index of an output
// label value, suitable for one-hot loss computation.
func (c *Catalog) TrainIndexOf(segLabel int32) (int32, error) {
	idx, ok := c.trainIdxOf[segLabel]
	if !ok {
		return 0, models.NewDataError("", "output label %d not produced by the catalog", segLabel)
	}
	return idx, nil
}

// SwapSide returns the contralateral counterpart of a sided label, or the
// label itself when it is neutral.
func (c *Catalog) SwapSide(label int32) int32 {
	if other, ok := c.sideSwap[label]; ok {
		return other
	}
	return label
}

// Remap converts a raw label map into a training label map by replacing
// every generation label with its output value. A voxel carrying a label
// absent from the catalog yields a DataError.
func (c *Catalog) Remap(lv *models.LabelVolume) (*models.LabelVolume, error) {
	out := models.NewLabelVolume(lv.Shape, lv.Spacing)
	for i, l := range lv.Data {
		s, ok := c.segOf[l]
		if !ok {
			return nil, models.NewDataError("", "label map contains label %d absent from generation_labels", l)
		}
		out.Data[i] = s
	}
	return out, nil
}

// Validate checks that every label appearing in the given label maps is
// covered by the catalog, failing with a DataError otherwise. The catalog
// classes form a partition of the observed labels by construction.
func (c *Catalog) Validate(vols []*models.LabelVolume) error {
	for _, lv := range vols {
		seen := make(map[int32]bool)
		for _, l := range lv.Data {
			if seen[l] {
				continue
			}
			seen[l] = true
			if _, ok := c.segOf[l]; !ok {
				return models.NewDataError("", "label map contains label %d absent from generation_labels", l)
			}
		}
	}
	return nil
}

// Discover returns the sorted unique label values found in the given
// label maps. It is the default generation label set when the caller
// provides none.
func Discover(vols []*models.LabelVolume) []int32 {
	seen := make(map[int32]bool)
	for _, lv := range vols {
		for _, l := range lv.Data {
			seen[l] = true
		}
	}
	out := make([]int32, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
