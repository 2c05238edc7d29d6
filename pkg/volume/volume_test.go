package volume

import (
	"errors"
	"math"
	"testing"

	"rsmgrid/internal/models"
)

func testVolume(data []float64) *models.Volume {
	return &models.Volume{
		Data: data,
		Dims: [3]int{len(data), 1, 1},
		Axes: [3][]float64{models.Linspace(0, 1, len(data)), {0}, {0}},
	}
}

func TestMask(t *testing.T) {
	nan := math.NaN()
	vol := testVolume([]float64{0.001, 0.01, 0.5, nan, 2})

	masked := Mask(vol, DefaultOccupancyThreshold)

	if !math.IsNaN(masked.Data[0]) {
		t.Errorf("Expected voxel below threshold to be masked, got %f", masked.Data[0])
	}
	if masked.Data[1] != 0.01 {
		t.Errorf("Expected voxel at threshold to be kept, got %f", masked.Data[1])
	}
	if masked.Data[2] != 0.5 || masked.Data[4] != 2 {
		t.Errorf("Expected values above threshold unchanged, got %v", masked.Data)
	}
	if !math.IsNaN(masked.Data[3]) {
		t.Errorf("Expected missing voxel to stay missing, got %f", masked.Data[3])
	}

	// Non-destructive: input and axes untouched
	if vol.Data[0] != 0.001 {
		t.Errorf("Mask modified its input")
	}
	if &masked.Axes[0][0] != &vol.Axes[0][0] {
		t.Errorf("Expected masked volume to share the input axes")
	}
}

func TestMaskIdempotent(t *testing.T) {
	vol := testVolume([]float64{-1, 0, 0.005, 0.02, 3, math.NaN()})
	once := Mask(vol, 0.01)
	twice := Mask(once, 0.01)
	for i := range once.Data {
		if math.Float64bits(once.Data[i]) != math.Float64bits(twice.Data[i]) {
			t.Errorf("Voxel %d differs after second mask: %v vs %v", i, once.Data[i], twice.Data[i])
		}
	}
}

func TestLog(t *testing.T) {
	vol := testVolume([]float64{1, math.E, 0, -2, math.NaN()})
	logged := Log(vol)

	if logged.Data[0] != 0 {
		t.Errorf("Expected log(1)=0, got %f", logged.Data[0])
	}
	if math.Abs(logged.Data[1]-1) > 1e-15 {
		t.Errorf("Expected log(e)=1, got %f", logged.Data[1])
	}
	for _, i := range []int{2, 3, 4} {
		if !math.IsNaN(logged.Data[i]) {
			t.Errorf("Expected voxel %d to become missing, got %f", i, logged.Data[i])
		}
	}
}

func TestPercentilesSkipMissing(t *testing.T) {
	nan := math.NaN()
	data := []float64{nan, 5, 1, nan, 3, 2, 4}

	lo, hi, err := Percentiles(data, 0, 100)
	if err != nil {
		t.Fatalf("Percentiles failed: %v", err)
	}
	if lo != 1 || hi != 5 {
		t.Errorf("Expected (1, 5), got (%f, %f)", lo, hi)
	}

	mid, _, err := Percentiles(data, 50, 100)
	if err != nil {
		t.Fatalf("Percentiles failed: %v", err)
	}
	if mid < 2 || mid > 4 {
		t.Errorf("Expected median between 2 and 4, got %f", mid)
	}

	if _, _, err := Percentiles([]float64{nan, nan}, 50, 99); !errors.Is(err, ErrNoData) {
		t.Errorf("Expected ErrNoData, got %v", err)
	}
	if _, _, err := Percentiles(data, 99, 50); err == nil {
		t.Error("Expected error for inverted percentile range")
	}
}

func TestSummarize(t *testing.T) {
	vol := testVolume([]float64{math.NaN(), 2, 4, math.NaN()})
	s, err := Summarize(vol)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if s.Voxels != 4 || s.Filled != 2 {
		t.Errorf("Expected 2 of 4 voxels filled, got %d of %d", s.Filled, s.Voxels)
	}
	if s.Min != 2 || s.Max != 4 || s.Mean != 3 {
		t.Errorf("Unexpected summary %+v", s)
	}
	if s.Occupancy() != 0.5 {
		t.Errorf("Expected occupancy 0.5, got %f", s.Occupancy())
	}
}

func TestAbs(t *testing.T) {
	vol := testVolume([]float64{-2, 3, math.NaN()})
	abs := Abs(vol)
	if abs.Data[0] != 2 || abs.Data[1] != 3 || !math.IsNaN(abs.Data[2]) {
		t.Errorf("Unexpected abs result %v", abs.Data)
	}
}
