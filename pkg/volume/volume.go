// Package volume post-processes gridded reciprocal-space volumes.
//
// Missing voxels are NaN. Every transform here returns a new volume that
// shares the axes of its input, and every statistic skips missing voxels
// instead of treating them as zero.
package volume

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"rsmgrid/internal/models"
)

// DefaultOccupancyThreshold is the averaged intensity below which a voxel
// is considered empty.
const DefaultOccupancyThreshold = 0.01

// ErrNoData is returned by statistics over a volume without valid voxels.
var ErrNoData = errors.New("volume has no valid voxels")

// Mask sets every voxel whose value is below threshold to missing.
// Masking twice with the same threshold equals masking once.
func Mask(v *models.Volume, threshold float64) *models.Volume {
	out := make([]float64, len(v.Data))
	for i, x := range v.Data {
		if math.IsNaN(x) || x < threshold {
			out[i] = math.NaN()
			continue
		}
		out[i] = x
	}
	return v.WithData(out)
}

// Log applies the natural logarithm. Missing and non-positive voxels become
// missing.
func Log(v *models.Volume) *models.Volume {
	out := make([]float64, len(v.Data))
	for i, x := range v.Data {
		if math.IsNaN(x) || x <= 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = math.Log(x)
	}
	return v.WithData(out)
}

// Abs returns the elementwise absolute value; missing stays missing.
func Abs(v *models.Volume) *models.Volume {
	out := make([]float64, len(v.Data))
	for i, x := range v.Data {
		out[i] = math.Abs(x)
	}
	return v.WithData(out)
}

// Valid returns the non-missing values of data in their original order.
func Valid(data []float64) []float64 {
	out := make([]float64, 0, len(data))
	for _, x := range data {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			out = append(out, x)
		}
	}
	return out
}

// Percentiles returns the lo-th and hi-th percentiles (0..100) of the
// non-missing values.
func Percentiles(data []float64, lo, hi float64) (float64, float64, error) {
	if lo < 0 || hi > 100 || lo > hi {
		return 0, 0, fmt.Errorf("invalid percentile range [%g, %g]", lo, hi)
	}
	valid := Valid(data)
	if len(valid) == 0 {
		return 0, 0, ErrNoData
	}
	sort.Float64s(valid)
	return stat.Quantile(lo/100, stat.LinInterp, valid, nil),
		stat.Quantile(hi/100, stat.LinInterp, valid, nil), nil
}

// Summary describes the non-missing voxels of a volume.
type Summary struct {
	Voxels int
	Filled int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// Occupancy returns the fraction of voxels holding data.
func (s Summary) Occupancy() float64 {
	if s.Voxels == 0 {
		return 0
	}
	return float64(s.Filled) / float64(s.Voxels)
}

// Summarize computes statistics over the non-missing voxels of v.
func Summarize(v *models.Volume) (Summary, error) {
	s := Summary{Voxels: len(v.Data)}
	valid := Valid(v.Data)
	s.Filled = len(valid)
	if len(valid) == 0 {
		return s, ErrNoData
	}
	s.Min = floats.Min(valid)
	s.Max = floats.Max(valid)
	s.Mean, s.StdDev = stat.MeanStdDev(valid, nil)
	if len(valid) == 1 {
		s.StdDev = 0
	}
	return s, nil
}
