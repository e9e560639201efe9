// Package models holds the value types shared by every stage of the
// synthesis pipeline: voxel volumes, label volumes, batches, and the
// error taxonomy.
package models

// Volume represents a 3D scalar volume with a known voxel grid.
// Voxels are stored as a 1D array in row-major order, so the voxel at
// (x, y, z) lives at index z*Shape[0]*Shape[1] + y*Shape[0] + x.
// Axes are assumed RAS-aligned: axis 0 is left-right.
type Volume struct {
	// Data is the voxel data as a 1D array in row-major order
	Data []float64

	// Shape is the number of voxels along each axis (x, y, z)
	Shape [3]int

	// Spacing is the physical size of each voxel in mm along each axis
	Spacing [3]float64
}

// NewVolume allocates a zero-filled volume with the given shape and spacing.
func NewVolume(shape [3]int, spacing [3]float64) *Volume {
	return &Volume{
		Data:    make([]float64, shape[0]*shape[1]*shape[2]),
		Shape:   shape,
		Spacing: spacing,
	}
}

// Index returns the flat index of voxel (x, y, z).
func (v *Volume) Index(x, y, z int) int {
	return z*v.Shape[0]*v.Shape[1] + y*v.Shape[0] + x
}

// At returns the voxel value at (x, y, z). Coordinates outside the grid
// are clamped to the nearest edge voxel.
func (v *Volume) At(x, y, z int) float64 {
	x = clampInt(x, 0, v.Shape[0]-1)
	y = clampInt(y, 0, v.Shape[1]-1)
	z = clampInt(z, 0, v.Shape[2]-1)
	return v.Data[v.Index(x, y, z)]
}

// Set assigns the voxel value at (x, y, z).
func (v *Volume) Set(x, y, z int, val float64) {
	v.Data[v.Index(x, y, z)] = val
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	out := NewVolume(v.Shape, v.Spacing)
	copy(out.Data, v.Data)
	return out
}

// NumVoxels returns the total number of voxels in the volume.
func (v *Volume) NumVoxels() int {
	return v.Shape[0] * v.Shape[1] * v.Shape[2]
}

// LabelVolume represents a discrete anatomical label map over a voxel grid.
// It shares the geometry conventions of Volume but stores integer label IDs.
// A label volume is immutable once loaded; pipeline stages that transform
// it always allocate a new one.
type LabelVolume struct {
	// Data is the per-voxel label IDs as a 1D array in row-major order
	Data []int32

	// Shape is the number of voxels along each axis (x, y, z)
	Shape [3]int

	// Spacing is the physical size of each voxel in mm along each axis
	Spacing [3]float64
}

// NewLabelVolume allocates a zero-filled (all background) label volume.
func NewLabelVolume(shape [3]int, spacing [3]float64) *LabelVolume {
	return &LabelVolume{
		Data:    make([]int32, shape[0]*shape[1]*shape[2]),
		Shape:   shape,
		Spacing: spacing,
	}
}

// Index returns the flat index of voxel (x, y, z).
func (lv *LabelVolume) Index(x, y, z int) int {
	return z*lv.Shape[0]*lv.Shape[1] + y*lv.Shape[0] + x
}

// At returns the label at (x, y, z). Coordinates outside the grid are
// clamped to the nearest edge voxel.
func (lv *LabelVolume) At(x, y, z int) int32 {
	x = clampInt(x, 0, lv.Shape[0]-1)
	y = clampInt(y, 0, lv.Shape[1]-1)
	z = clampInt(z, 0, lv.Shape[2]-1)
	return lv.Data[lv.Index(x, y, z)]
}

// Set assigns the label at (x, y, z).
func (lv *LabelVolume) Set(x, y, z int, val int32) {
	lv.Data[lv.Index(x, y, z)] = val
}

// Clone returns a deep copy of the label volume.
func (lv *LabelVolume) Clone() *LabelVolume {
	out := NewLabelVolume(lv.Shape, lv.Spacing)
	copy(out.Data, lv.Data)
	return out
}

// NumVoxels returns the total number of voxels in the label volume.
func (lv *LabelVolume) NumVoxels() int {
	return lv.Shape[0] * lv.Shape[1] * lv.Shape[2]
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
