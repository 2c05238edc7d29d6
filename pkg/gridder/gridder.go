// Package gridder bins scattered 3D samples into a regular lattice.
//
// Each sample lands in the voxel given by
//
//	idx = floor((value - min) / (max - min) * n)
//
// clamped to [0, n-1] on every axis, so a value equal to the axis maximum
// belongs to the last voxel. A voxel's value is the mean intensity of the
// samples that landed in it; voxels without samples are NaN.
package gridder

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"rsmgrid/internal/models"
)

var (
	// ErrInvalidResolution is returned when a grid dimension is not positive.
	ErrInvalidResolution = errors.New("grid resolution must be positive on every axis")

	// ErrDegenerateBounds is returned when an axis has min >= max.
	ErrDegenerateBounds = errors.New("degenerate bounding box")

	// ErrNoSamples is returned when bounds must be derived from a batch
	// that holds no usable sample.
	ErrNoSamples = errors.New("no samples with positive intensity")
)

// maxVoxels keeps flat voxel indices representable as int32.
const maxVoxels = math.MaxInt32

// parallelThreshold is the batch size below which accumulation stays serial.
const parallelThreshold = 1 << 16

// Option configures a Gridder3D.
type Option func(*Gridder3D) error

// WithBounds fixes the bounding box instead of deriving it from the first batch.
func WithBounds(box models.Box) Option {
	return func(g *Gridder3D) error {
		return g.SetBounds(box)
	}
}

// WithWorkers sets the number of goroutines used for accumulation.
// Values below 1 select runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(g *Gridder3D) error {
		if n < 1 {
			n = runtime.NumCPU()
		}
		g.workers = n
		return nil
	}
}

// Gridder3D accumulates running sums and counts per voxel over any number of
// Add calls.
type Gridder3D struct {
	dims    [3]int
	box     models.Box
	fixed   bool
	workers int

	sum   []float64
	count []int64

	// seen counts every sample offered, gridded only those that were binned
	seen    int64
	gridded int64
}

// New creates a gridder with n1 x n2 x n3 voxels.
func New(n1, n2, n3 int, opts ...Option) (*Gridder3D, error) {
	if n1 <= 0 || n2 <= 0 || n3 <= 0 {
		return nil, fmt.Errorf("%w: got (%d, %d, %d)", ErrInvalidResolution, n1, n2, n3)
	}
	total := int64(n1) * int64(n2) * int64(n3)
	if total > maxVoxels {
		return nil, fmt.Errorf("%w: %d voxels exceed the supported maximum", ErrInvalidResolution, total)
	}

	g := &Gridder3D{
		dims:    [3]int{n1, n2, n3},
		workers: runtime.NumCPU(),
		sum:     make([]float64, total),
		count:   make([]int64, total),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// SetBounds fixes the bounding box. It fails once samples were accumulated
// against a different box.
func (g *Gridder3D) SetBounds(box models.Box) error {
	if err := validateBox(box); err != nil {
		return err
	}
	if g.gridded > 0 && box != g.box {
		return errors.New("cannot change bounds after samples were accumulated")
	}
	g.box = box
	g.fixed = true
	return nil
}

// Bounds returns the bounding box and whether it has been fixed.
func (g *Gridder3D) Bounds() (models.Box, bool) {
	return g.box, g.fixed
}

// Dims returns the voxel count per axis.
func (g *Gridder3D) Dims() [3]int {
	return g.dims
}

func validateBox(box models.Box) error {
	for i, r := range box {
		if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsInf(r.Min, 0) || math.IsInf(r.Max, 0) {
			return fmt.Errorf("%w: axis %d has non-finite bounds", ErrDegenerateBounds, i)
		}
		if r.Min >= r.Max {
			return fmt.Errorf("%w: axis %d min %g >= max %g", ErrDegenerateBounds, i, r.Min, r.Max)
		}
	}
	return nil
}

// usable reports whether a sample takes part in gridding at all.
func usable(x, y, z, v float64) bool {
	if !(v > 0) || math.IsInf(v, 0) {
		return false
	}
	return !math.IsNaN(x) && !math.IsNaN(y) && !math.IsNaN(z)
}

// AutoBounds returns the per-axis min/max over samples with positive
// intensity. An axis whose samples all share one coordinate is reported as
// ErrDegenerateBounds.
func AutoBounds(qx, qy, qz, intensity []float64) (models.Box, error) {
	if err := checkLengths(qx, qy, qz, intensity); err != nil {
		return models.Box{}, err
	}

	lo := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi := [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	found := false
	for i, v := range intensity {
		if !usable(qx[i], qy[i], qz[i], v) {
			continue
		}
		found = true
		p := [3]float64{qx[i], qy[i], qz[i]}
		for a := 0; a < 3; a++ {
			lo[a] = math.Min(lo[a], p[a])
			hi[a] = math.Max(hi[a], p[a])
		}
	}
	if !found {
		return models.Box{}, ErrNoSamples
	}

	var box models.Box
	for a := range box {
		box[a] = models.Range{Min: lo[a], Max: hi[a]}
	}
	return box, validateBox(box)
}

func checkLengths(qx, qy, qz, intensity []float64) error {
	n := len(intensity)
	if len(qx) != n || len(qy) != n || len(qz) != n {
		return fmt.Errorf("sample arrays differ in length: qx=%d qy=%d qz=%d intensity=%d",
			len(qx), len(qy), len(qz), n)
	}
	return nil
}

// axisIndex maps a coordinate to its voxel index along one axis.
// The result is clamped to [0, n-1]; callers reject values outside [min, max].
func axisIndex(value, min, width float64, n int) int {
	idx := int(math.Floor((value - min) / width * float64(n)))
	if idx < 0 {
		return 0
	}
	if idx > n-1 {
		return n - 1
	}
	return idx
}

// Add accumulates a batch of samples. Samples with non-positive or NaN
// intensity, NaN coordinates, or coordinates outside a fixed bounding box
// are skipped. When no bounding box was fixed, the batch's own extent
// becomes the bounding box.
func (g *Gridder3D) Add(qx, qy, qz, intensity []float64) error {
	if err := checkLengths(qx, qy, qz, intensity); err != nil {
		return err
	}
	if !g.fixed {
		box, err := AutoBounds(qx, qy, qz, intensity)
		if err != nil {
			return fmt.Errorf("deriving bounding box: %w", err)
		}
		g.box = box
		g.fixed = true
	}

	indices := g.voxelIndices(qx, qy, qz, intensity)
	g.seen += int64(len(intensity))
	g.gridded += g.accumulate(indices, intensity)
	return nil
}

// AddSamples accumulates a SampleSet.
func (g *Gridder3D) AddSamples(s *models.SampleSet) error {
	return g.Add(s.Qx, s.Qy, s.Qz, s.Intensity)
}

// voxelIndices computes the flat voxel index of every sample, or -1 for
// samples that are skipped. Each worker fills a disjoint range.
func (g *Gridder3D) voxelIndices(qx, qy, qz, intensity []float64) []int32 {
	n := len(intensity)
	indices := make([]int32, n)

	var mins, widths [3]float64
	for a := range g.box {
		mins[a] = g.box[a].Min
		widths[a] = g.box[a].Width()
	}
	n1, n2, n3 := g.dims[0], g.dims[1], g.dims[2]

	fill := func(start, end int) {
		for s := start; s < end; s++ {
			x, y, z := qx[s], qy[s], qz[s]
			if !usable(x, y, z, intensity[s]) ||
				!g.box[0].Contains(x) || !g.box[1].Contains(y) || !g.box[2].Contains(z) {
				indices[s] = -1
				continue
			}
			i := axisIndex(x, mins[0], widths[0], n1)
			j := axisIndex(y, mins[1], widths[1], n2)
			k := axisIndex(z, mins[2], widths[2], n3)
			indices[s] = int32(i + n1*(j+n2*k))
		}
	}

	workers := g.workers
	if n < parallelThreshold || workers <= 1 {
		fill(0, n)
		return indices
	}

	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		if start >= n {
			break
		}
		end := min(start+chunk, n)
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fill(start, end)
		}(start, end)
	}
	wg.Wait()
	return indices
}

// accumulate adds intensities into the sum/count buffers. Every worker owns
// a contiguous range of voxels and walks the samples in input order, so each
// voxel's sum is formed in exactly the serial order regardless of the number
// of workers. It returns the number of samples binned.
func (g *Gridder3D) accumulate(indices []int32, intensity []float64) int64 {
	total := len(g.sum)
	workers := g.workers
	if len(indices) < parallelThreshold || workers <= 1 || total < workers {
		return g.accumulateRange(indices, intensity, 0, total)
	}

	chunk := (total + workers - 1) / workers
	binned := make([]int64, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * chunk
		if lo >= total {
			break
		}
		hi := min(lo+chunk, total)
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			binned[w] = g.accumulateRange(indices, intensity, lo, hi)
		}(w, lo, hi)
	}
	wg.Wait()

	var n int64
	for _, b := range binned {
		n += b
	}
	return n
}

func (g *Gridder3D) accumulateRange(indices []int32, intensity []float64, lo, hi int) int64 {
	var n int64
	for s, idx := range indices {
		v := int(idx)
		if v < lo || v >= hi {
			continue
		}
		g.sum[v] += intensity[s]
		g.count[v]++
		n++
	}
	return n
}

// Data returns the averaged intensity per voxel, NaN where no sample landed.
func (g *Gridder3D) Data() []float64 {
	out := make([]float64, len(g.sum))
	for i, c := range g.count {
		if c == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = g.sum[i] / float64(c)
	}
	return out
}

// Counts returns a copy of the per-voxel sample counts.
func (g *Gridder3D) Counts() []int64 {
	return append([]int64(nil), g.count...)
}

// Axes returns the voxel coordinates of each axis, evenly spaced from the
// axis minimum to its maximum inclusive.
func (g *Gridder3D) Axes() [3][]float64 {
	var axes [3][]float64
	for a := range axes {
		axes[a] = models.Linspace(g.box[a].Min, g.box[a].Max, g.dims[a])
	}
	return axes
}

// Volume returns the averaged grid together with its axes.
func (g *Gridder3D) Volume() *models.Volume {
	return &models.Volume{Data: g.Data(), Dims: g.dims, Axes: g.Axes()}
}

// Stats returns the number of samples offered and the number binned.
func (g *Gridder3D) Stats() (seen, gridded int64) {
	return g.seen, g.gridded
}

// Reset clears accumulated data. With keepBounds false the bounding box is
// forgotten and the next Add derives it again.
func (g *Gridder3D) Reset(keepBounds bool) {
	clear(g.sum)
	clear(g.count)
	g.seen, g.gridded = 0, 0
	if !keepBounds {
		g.fixed = false
		g.box = models.Box{}
	}
}

// Grid bins a sample set in one call. A nil box selects automatic bounds.
func Grid(samples *models.SampleSet, resolution [3]int, box *models.Box, workers int) (*models.Volume, error) {
	opts := []Option{WithWorkers(workers)}
	if box != nil {
		opts = append(opts, WithBounds(*box))
	}
	g, err := New(resolution[0], resolution[1], resolution[2], opts...)
	if err != nil {
		return nil, err
	}
	if err := g.AddSamples(samples); err != nil {
		return nil, err
	}
	return g.Volume(), nil
}
