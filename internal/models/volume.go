package models

import (
	"fmt"
	"math"
)

// SampleSet holds scattered (intensity, qx, qy, qz) samples as four parallel
// arrays. Samples produced from detector frames keep the [frame][row][col]
// layout of the frames they came from.
type SampleSet struct {
	Intensity []float64
	Qx        []float64
	Qy        []float64
	Qz        []float64

	// Height and Width are the detector dimensions shared by every frame
	Height int
	Width  int
}

// Len returns the number of samples.
func (s *SampleSet) Len() int {
	return len(s.Intensity)
}

// Frames returns the number of detector frames in the set.
func (s *SampleSet) Frames() int {
	size := s.Height * s.Width
	if size == 0 {
		return 0
	}
	return len(s.Intensity) / size
}

// Validate checks that the four arrays share one length.
func (s *SampleSet) Validate() error {
	n := len(s.Intensity)
	if len(s.Qx) != n || len(s.Qy) != n || len(s.Qz) != n {
		return fmt.Errorf("sample arrays differ in length: intensity=%d qx=%d qy=%d qz=%d",
			n, len(s.Qx), len(s.Qy), len(s.Qz))
	}
	return nil
}

// Range is a closed interval on one axis.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Width returns Max - Min.
func (r Range) Width() float64 {
	return r.Max - r.Min
}

// Contains reports whether v lies within [Min, Max].
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Box is a per-axis bounding box in (h, k, l).
type Box [3]Range

// Volume is a regular 3D lattice of voxel values. Missing voxels are NaN.
// Data is stored with the first axis varying fastest.
type Volume struct {
	Data []float64

	// Dims holds the voxel count per axis
	Dims [3]int

	// Axes holds the voxel-center coordinates per axis, ascending
	Axes [3][]float64
}

// NewVolume allocates a volume whose voxels are all missing.
func NewVolume(dims [3]int, axes [3][]float64) *Volume {
	data := make([]float64, dims[0]*dims[1]*dims[2])
	for i := range data {
		data[i] = math.NaN()
	}
	return &Volume{Data: data, Dims: dims, Axes: axes}
}

// Index returns the flat index of voxel (i, j, k).
func (v *Volume) Index(i, j, k int) int {
	return i + v.Dims[0]*(j+v.Dims[1]*k)
}

// At returns the value of voxel (i, j, k).
func (v *Volume) At(i, j, k int) float64 {
	return v.Data[v.Index(i, j, k)]
}

// Len returns the number of voxels.
func (v *Volume) Len() int {
	return v.Dims[0] * v.Dims[1] * v.Dims[2]
}

// Origin returns the first coordinate of each axis.
func (v *Volume) Origin() [3]float64 {
	var o [3]float64
	for i, axis := range v.Axes {
		if len(axis) > 0 {
			o[i] = axis[0]
		}
	}
	return o
}

// Spacing returns the step between consecutive coordinates of each axis.
// A single-voxel axis has zero spacing.
func (v *Volume) Spacing() [3]float64 {
	var s [3]float64
	for i, axis := range v.Axes {
		if n := len(axis); n > 1 {
			s[i] = (axis[n-1] - axis[0]) / float64(n-1)
		}
	}
	return s
}

// WithData returns a volume sharing the axes of v but holding data.
func (v *Volume) WithData(data []float64) *Volume {
	return &Volume{Data: data, Dims: v.Dims, Axes: v.Axes}
}

// Clone returns a deep copy.
func (v *Volume) Clone() *Volume {
	out := &Volume{Data: append([]float64(nil), v.Data...), Dims: v.Dims}
	for i := range v.Axes {
		out.Axes[i] = append([]float64(nil), v.Axes[i]...)
	}
	return out
}

// Linspace returns n evenly spaced values from min to max inclusive.
func Linspace(min, max float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = min
		return out
	}
	step := (max - min) / float64(n-1)
	for i := range out {
		out[i] = min + float64(i)*step
	}
	out[n-1] = max
	return out
}
