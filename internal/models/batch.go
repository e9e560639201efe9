package models

// Sample is one fully-materialized training example: a multi-channel
// synthetic image and its matching training label map. Samples have no
// persistent identity; they are consumed by the training loop and
// discarded.
type Sample struct {
	// Channels holds one intensity volume per synthesised channel,
	// all sharing the same spatial grid as Labels
	Channels []*Volume

	// Labels is the training label map, remapped to output label values
	Labels *LabelVolume
}

// Batch is a fixed-size group of independently drawn samples. A batch is
// delivered atomically: the orchestrator never hands out a partial batch.
type Batch struct {
	Samples []*Sample
}

// InputTensor flattens the batch images into a single channels-last
// tensor of shape [batch, x, y, z, channels], returned with its shape.
func (b *Batch) InputTensor() ([]float64, []int) {
	if len(b.Samples) == 0 {
		return nil, nil
	}
	first := b.Samples[0]
	shape := first.Channels[0].Shape
	nc := len(first.Channels)
	per := shape[0] * shape[1] * shape[2]
	out := make([]float64, len(b.Samples)*per*nc)
	i := 0
	for _, s := range b.Samples {
		for z := 0; z < shape[2]; z++ {
			for y := 0; y < shape[1]; y++ {
				for x := 0; x < shape[0]; x++ {
					for c := 0; c < nc; c++ {
						out[i] = s.Channels[c].At(x, y, z)
						i++
					}
				}
			}
		}
	}
	return out, []int{len(b.Samples), shape[0], shape[1], shape[2], nc}
}

// TargetTensor flattens the batch label maps into a tensor of shape
// [batch, x, y, z, 1], returned with its shape.
func (b *Batch) TargetTensor() ([]float64, []int) {
	if len(b.Samples) == 0 {
		return nil, nil
	}
	shape := b.Samples[0].Labels.Shape
	per := shape[0] * shape[1] * shape[2]
	out := make([]float64, len(b.Samples)*per)
	i := 0
	for _, s := range b.Samples {
		for _, l := range s.Labels.Data {
			out[i] = float64(l)
			i++
		}
	}
	return out, []int{len(b.Samples), shape[0], shape[1], shape[2], 1}
}
