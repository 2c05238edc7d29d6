package reconstruction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/stat"

	"rsmgrid/internal/models"
	"rsmgrid/pkg/gridder"
	"rsmgrid/pkg/volume"
)

// ErrShapeMismatch is returned when scans of one run have different
// detector dimensions.
var ErrShapeMismatch = errors.New("scans have different detector dimensions")

// FrameSource loads one scan: its geometry and its monitor-normalized frames.
type FrameSource interface {
	Load(ctx context.Context, scan int) (*models.Scan, *models.FrameStack, error)
}

// QConverter maps the angles of every frame to per-pixel (h, k, l).
type QConverter interface {
	Area(angles models.AngleSet, ub [9]float64, energy float64) (qx, qy, qz []float64, err error)
}

// Stats summarizes a reconstruction run.
type Stats struct {
	// Scans and Frames count the input that was read
	Scans  int
	Frames int

	// SamplesSeen counts every detector pixel offered to the gridder,
	// SamplesGridded only those that landed in a voxel
	SamplesSeen    int64
	SamplesGridded int64

	// FilledVoxels counts voxels holding data after occupancy masking
	FilledVoxels int
	TotalVoxels  int

	// MeanOccupancy is the mean number of samples per non-empty voxel
	MeanOccupancy float64

	// Bounds is the bounding box the grid was built on
	Bounds models.Box

	Duration time.Duration
}

// Params holds the reconstruction parameters.
type Params struct {
	// SpecFile is the SPEC file the scans are read from
	SpecFile string

	// Scans lists the scan numbers in the order they are concatenated
	Scans []int

	// Resolution is the number of voxels along h, k and l
	Resolution [3]int

	// Bounds fixes the bounding box; nil derives it from the samples
	Bounds *models.Box

	// OccupancyThreshold masks voxels whose averaged intensity is lower
	OccupancyThreshold float64

	// Workers specifies how many CPU cores to use for gridding.
	// Values below 1 use all available cores.
	Workers int
}

// Reconstructor turns a list of scans into a gridded reciprocal-space volume.
//
// The reconstruction process consists of several steps:
// 1. Loading each scan's frames and geometry
// 2. Converting every pixel to (h, k, l)
// 3. Binning the samples into the regular grid
// 4. Masking voxels below the occupancy threshold
type Reconstructor struct {
	// params stores the reconstruction configuration
	params *Params

	frames    FrameSource
	converter QConverter
	logger    *slog.Logger

	// volume holds the masked result of the last Process call
	volume *models.Volume

	// stats describes the last Process call
	stats Stats
}

// NewReconstructor creates a new reconstructor instance.
//
// Parameters:
//   - params: Configuration parameters for the reconstruction process
//   - frames: Source of monitor-normalized detector frames per scan
//   - converter: Angle-to-(h, k, l) conversion for the instrument
//   - logger: Destination of progress messages; nil discards them
//
// Returns:
//   - A new Reconstructor instance initialized with the provided parameters
func NewReconstructor(params *Params, frames FrameSource, converter QConverter, logger *slog.Logger) *Reconstructor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reconstructor{
		params:    params,
		frames:    frames,
		converter: converter,
		logger:    logger,
	}
}

// scanSamples loads one scan and converts it into samples laid out
// [frame][row][col].
func (r *Reconstructor) scanSamples(ctx context.Context, scan int) (*models.SampleSet, error) {
	meta, stack, err := r.frames.Load(ctx, scan)
	if err != nil {
		return nil, err
	}

	qx, qy, qz, err := r.converter.Area(meta.Angles, meta.UB, meta.Energy)
	if err != nil {
		return nil, fmt.Errorf("scan %d: converting angles: %w", scan, err)
	}
	if len(qx) != len(stack.Data) {
		return nil, fmt.Errorf("scan %d: %w: converter produced %d pixels for %d frames of %dx%d",
			scan, ErrShapeMismatch, len(qx), stack.N, stack.Height, stack.Width)
	}

	return &models.SampleSet{
		Intensity: stack.Data,
		Qx:        qx,
		Qy:        qy,
		Qz:        qz,
		Height:    stack.Height,
		Width:     stack.Width,
	}, nil
}

// appendSamples concatenates src onto dst along the frame axis.
func appendSamples(dst, src *models.SampleSet) error {
	if dst.Len() > 0 && (dst.Height != src.Height || dst.Width != src.Width) {
		return fmt.Errorf("%w: %dx%d and %dx%d", ErrShapeMismatch, dst.Height, dst.Width, src.Height, src.Width)
	}
	dst.Height, dst.Width = src.Height, src.Width
	dst.Intensity = append(dst.Intensity, src.Intensity...)
	dst.Qx = append(dst.Qx, src.Qx...)
	dst.Qy = append(dst.Qy, src.Qy...)
	dst.Qz = append(dst.Qz, src.Qz...)
	return nil
}

// Aggregate loads and converts every scan and concatenates the samples in
// scan order. An error in any scan aborts the whole run.
func (r *Reconstructor) Aggregate(ctx context.Context) (*models.SampleSet, error) {
	if len(r.params.Scans) == 0 {
		return nil, errors.New("no scans given")
	}

	all := &models.SampleSet{}
	for i, scan := range r.params.Scans {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.logger.Info(fmt.Sprintf("Step 1: loading scan %d (%d of %d)", scan, i+1, len(r.params.Scans)))

		samples, err := r.scanSamples(ctx, scan)
		if err != nil {
			return nil, err
		}
		if err := appendSamples(all, samples); err != nil {
			return nil, fmt.Errorf("scan %d: %w", scan, err)
		}
		r.logger.Debug("scan converted",
			"scan", scan,
			"frames", samples.Frames(),
			"samples", humanize.Comma(int64(samples.Len())))
	}
	return all, nil
}

// Process runs the complete reconstruction pipeline and returns the masked
// volume. With fixed bounds each scan is gridded as soon as it is converted;
// otherwise all samples are aggregated first to find their extent.
func (r *Reconstructor) Process(ctx context.Context) (*models.Volume, error) {
	start := time.Now()
	res := r.params.Resolution

	// Configuration errors are reported before any scan is read
	opts := []gridder.Option{gridder.WithWorkers(r.params.Workers)}
	if r.params.Bounds != nil {
		opts = append(opts, gridder.WithBounds(*r.params.Bounds))
	}
	grid, err := gridder.New(res[0], res[1], res[2], opts...)
	if err != nil {
		return nil, err
	}
	if len(r.params.Scans) == 0 {
		return nil, errors.New("no scans given")
	}

	stats := Stats{TotalVoxels: res[0] * res[1] * res[2]}
	if r.params.Bounds != nil {
		height, width := 0, 0
		for i, scan := range r.params.Scans {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			r.logger.Info(fmt.Sprintf("Step 1: loading scan %d (%d of %d)", scan, i+1, len(r.params.Scans)))

			samples, err := r.scanSamples(ctx, scan)
			if err != nil {
				return nil, err
			}
			if i > 0 && (samples.Height != height || samples.Width != width) {
				return nil, fmt.Errorf("scan %d: %w: %dx%d and %dx%d",
					scan, ErrShapeMismatch, height, width, samples.Height, samples.Width)
			}
			height, width = samples.Height, samples.Width

			r.logger.Info(fmt.Sprintf("Step 2: gridding %s samples of scan %d", humanize.Comma(int64(samples.Len())), scan))
			if err := grid.AddSamples(samples); err != nil {
				return nil, fmt.Errorf("scan %d: %w", scan, err)
			}
			stats.Scans++
			stats.Frames += samples.Frames()
		}
	} else {
		samples, err := r.Aggregate(ctx)
		if err != nil {
			return nil, err
		}
		r.logger.Info(fmt.Sprintf("Step 2: gridding %s samples", humanize.Comma(int64(samples.Len()))))
		if err := grid.AddSamples(samples); err != nil {
			return nil, err
		}
		stats.Scans = len(r.params.Scans)
		stats.Frames = samples.Frames()
	}

	r.logger.Info("Step 3: masking voxels below occupancy threshold", "threshold", r.params.OccupancyThreshold)
	vol := volume.Mask(grid.Volume(), r.params.OccupancyThreshold)

	stats.SamplesSeen, stats.SamplesGridded = grid.Stats()
	stats.Bounds, _ = grid.Bounds()
	stats.FilledVoxels = len(volume.Valid(vol.Data))
	stats.MeanOccupancy = meanOccupancy(grid.Counts())
	stats.Duration = time.Since(start)

	r.volume = vol
	r.stats = stats

	r.logger.Info("reconstruction finished",
		"samples", humanize.Comma(stats.SamplesGridded),
		"filled", fmt.Sprintf("%s of %s voxels", humanize.Comma(int64(stats.FilledVoxels)), humanize.Comma(int64(stats.TotalVoxels))),
		"elapsed", stats.Duration.Round(time.Millisecond))
	return vol, nil
}

// meanOccupancy is the mean sample count over voxels that received samples.
func meanOccupancy(counts []int64) float64 {
	filled := make([]float64, 0, len(counts))
	for _, c := range counts {
		if c > 0 {
			filled = append(filled, float64(c))
		}
	}
	if len(filled) == 0 {
		return 0
	}
	return stat.Mean(filled, nil)
}

// Stats returns the statistics of the last Process call.
func (r *Reconstructor) Stats() Stats {
	return r.stats
}

// GetVolume returns the volume produced by the last Process call.
func (r *Reconstructor) GetVolume() *models.Volume {
	return r.volume
}
