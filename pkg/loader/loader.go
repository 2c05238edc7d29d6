// Package loader reads one scan's motor record and detector frames and
// returns monitor-normalized frames together with the scan geometry.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/stat"

	"rsmgrid/internal/models"
	"rsmgrid/pkg/specfile"
)

// Data-integrity errors. Each is fatal for the scan it occurs in.
var (
	ErrFrameCountMismatch = errors.New("image count does not match scan points")
	ErrMissingChannel     = errors.New("channel missing from scan")
	ErrMalformedHeader    = errors.New("malformed scan header")
	ErrMissingOrientation = errors.New("scan has no orientation matrix")
	ErrFrameShape         = errors.New("unexpected frame dimensions")
)

// ScanRecord is the motor-position record of a single scan.
type ScanRecord interface {
	Points() int
	Measurement(label string) ([]float64, bool)
	Positioner(name string) (float64, bool)
	HeaderLine(i int) (string, bool)
	OrientationMatrix() ([9]float64, bool)
}

// ScanSource looks up scan records by scan number.
type ScanSource interface {
	Record(scan int) (ScanRecord, error)
}

// ImageStore provides the detector frames of a scan.
type ImageStore interface {
	Count(scan int) (int, error)
	Load(scan, frame int) (data []float64, height, width int, err error)
}

type specSource struct {
	file *specfile.File
}

// FromSpecFile exposes a parsed SPEC file as a ScanSource. Scan n is looked
// up under the key "n.1".
func FromSpecFile(f *specfile.File) ScanSource {
	return specSource{file: f}
}

func (s specSource) Record(scan int) (ScanRecord, error) {
	rec, err := s.file.ScanNumber(scan)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Options names the channels the loader reads.
type Options struct {
	// MonitorChannel is the incident-beam monitor measurement
	MonitorChannel string

	// AngleChannels in converter order: mu, eta, chi, phi, nu, delta
	AngleChannels [6]string

	// EnergyLine and EnergyToken locate the beam energy in the scan header;
	// the value read is multiplied by EnergyScale to obtain eV
	EnergyLine  int
	EnergyToken int
	EnergyScale float64

	// Height and Width are the expected detector dimensions
	Height int
	Width  int

	// Workers is the number of frames decoded concurrently
	Workers int
}

// DefaultOptions returns the channel names of the instrument the tool was
// written for.
func DefaultOptions() Options {
	return Options{
		MonitorChannel: "Ion_Ch_4",
		AngleChannels:  [6]string{"Mu", "Eta", "Chi", "Phi", "Nu", "Delta"},
		EnergyLine:     18,
		EnergyToken:    1,
		EnergyScale:    1000,
		Height:         516,
		Width:          516,
		Workers:        runtime.NumCPU(),
	}
}

// Loader combines a scan source and an image store.
type Loader struct {
	source ScanSource
	images ImageStore
	opts   Options
	logger *slog.Logger
}

// New creates a loader. A nil logger discards output.
func New(source ScanSource, images ImageStore, opts Options, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Workers < 1 {
		opts.Workers = runtime.NumCPU()
	}
	return &Loader{source: source, images: images, opts: opts, logger: logger}
}

// Options returns the loader configuration.
func (l *Loader) Options() Options {
	return l.opts
}

// Scan reads the motor record of a scan without touching its images.
func (l *Loader) Scan(scan int) (*models.Scan, error) {
	rec, err := l.source.Record(scan)
	if err != nil {
		return nil, fmt.Errorf("scan %d: %w", scan, err)
	}
	n := rec.Points()

	raw, ok := rec.Measurement(l.opts.MonitorChannel)
	if !ok {
		return nil, fmt.Errorf("scan %d: %w: %s", scan, ErrMissingChannel, l.opts.MonitorChannel)
	}
	monitor, err := NormalizeMonitor(raw)
	if err != nil {
		return nil, fmt.Errorf("scan %d: %w", scan, err)
	}

	var channels [6][]float64
	for i, name := range l.opts.AngleChannels {
		values, err := angleChannel(rec, name, n)
		if err != nil {
			return nil, fmt.Errorf("scan %d: %w", scan, err)
		}
		channels[i] = values
	}

	ub, ok := rec.OrientationMatrix()
	if !ok {
		return nil, fmt.Errorf("scan %d: %w", scan, ErrMissingOrientation)
	}

	energy, err := l.energy(rec)
	if err != nil {
		return nil, fmt.Errorf("scan %d: %w", scan, err)
	}

	return &models.Scan{
		Number: scan,
		Key:    fmt.Sprintf("%d.1", scan),
		Angles: models.AngleSet{
			Mu: channels[0], Eta: channels[1], Chi: channels[2],
			Phi: channels[3], Nu: channels[4], Delta: channels[5],
		},
		Monitor: monitor,
		UB:      ub,
		Energy:  energy,
	}, nil
}

// angleChannel prefers the scanned measurement and falls back to the static
// positioner broadcast over n frames.
func angleChannel(rec ScanRecord, name string, n int) ([]float64, error) {
	if values, ok := rec.Measurement(name); ok {
		return values, nil
	}
	v, ok := rec.Positioner(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingChannel, name)
	}
	values := make([]float64, n)
	for i := range values {
		values[i] = v
	}
	return values, nil
}

func (l *Loader) energy(rec ScanRecord) (float64, error) {
	line, ok := rec.HeaderLine(l.opts.EnergyLine)
	if !ok {
		return 0, fmt.Errorf("%w: no header line %d", ErrMalformedHeader, l.opts.EnergyLine)
	}
	fields := strings.Fields(line)
	if l.opts.EnergyToken >= len(fields) {
		return 0, fmt.Errorf("%w: header line %q has no token %d", ErrMalformedHeader, line, l.opts.EnergyToken)
	}
	v, err := strconv.ParseFloat(fields[l.opts.EnergyToken], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: energy %q: %v", ErrMalformedHeader, fields[l.opts.EnergyToken], err)
	}
	energy := v * l.opts.EnergyScale
	if !(energy > 0) {
		return 0, fmt.Errorf("%w: non-positive energy %g", ErrMalformedHeader, energy)
	}
	return energy, nil
}

// NormalizeMonitor divides the monitor by its mean over non-missing values,
// so the result averages to 1.
func NormalizeMonitor(raw []float64) ([]float64, error) {
	valid := make([]float64, 0, len(raw))
	for _, v := range raw {
		if !math.IsNaN(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return nil, errors.New("monitor has no valid readings")
	}
	mean := stat.Mean(valid, nil)
	if mean == 0 || math.IsNaN(mean) || math.IsInf(mean, 0) {
		return nil, fmt.Errorf("monitor mean is %g", mean)
	}

	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = v / mean
	}
	return out, nil
}

// Load reads a scan and its frames. Every frame is divided by its normalized
// monitor value exactly once.
func (l *Loader) Load(ctx context.Context, scan int) (*models.Scan, *models.FrameStack, error) {
	meta, err := l.Scan(scan)
	if err != nil {
		return nil, nil, err
	}
	n := meta.Frames()

	found, err := l.images.Count(scan)
	if err != nil {
		return nil, nil, fmt.Errorf("scan %d: error counting images: %w", scan, err)
	}
	if found != n {
		return nil, nil, fmt.Errorf("scan %d: %w: %d images, %d points", scan, ErrFrameCountMismatch, found, n)
	}

	h, w := l.opts.Height, l.opts.Width
	stack := models.NewFrameStack(n, h, w)
	l.logger.Debug("loading frames",
		"scan", scan,
		"frames", n,
		"bytes", humanize.Bytes(uint64(len(stack.Data))*8))

	errs := make([]error, n)
	loadFrame := func(f int) {
		if err := ctx.Err(); err != nil {
			errs[f] = err
			return
		}
		data, fh, fw, err := l.images.Load(scan, f)
		if err != nil {
			errs[f] = fmt.Errorf("frame %d: %w", f, err)
			return
		}
		if fh != h || fw != w {
			errs[f] = fmt.Errorf("frame %d: %w: %dx%d, expected %dx%d", f, ErrFrameShape, fh, fw, h, w)
			return
		}
		dst := stack.Frame(f)
		m := meta.Monitor[f]
		for i, v := range data {
			dst[i] = v / m
		}
	}

	// Each worker owns a contiguous range of frame slots
	workers := min(l.opts.Workers, n)
	if workers <= 1 {
		for f := 0; f < n; f++ {
			loadFrame(f)
		}
	} else {
		framesPerWorker := (n + workers - 1) / workers
		var wg sync.WaitGroup
		for start := 0; start < n; start += framesPerWorker {
			end := min(start+framesPerWorker, n)
			wg.Add(1)
			go func(start, end int) {
				defer wg.Done()
				for f := start; f < end; f++ {
					loadFrame(f)
				}
			}(start, end)
		}
		wg.Wait()
	}

	for _, err := range errs {
		if err != nil {
			return nil, nil, fmt.Errorf("scan %d: %w", scan, err)
		}
	}
	return meta, stack, nil
}

// Rebin averages bins x bins pixel blocks of every frame, skipping missing
// pixels. Rows and columns that do not fill a whole block are cropped.
func Rebin(stack *models.FrameStack, bins int) (*models.FrameStack, error) {
	if bins < 1 {
		return nil, fmt.Errorf("bin size must be positive, got %d", bins)
	}
	h, w := stack.Height/bins, stack.Width/bins
	if h == 0 || w == 0 {
		return nil, fmt.Errorf("bin size %d exceeds frame size %dx%d", bins, stack.Height, stack.Width)
	}

	out := models.NewFrameStack(stack.N, h, w)
	for f := 0; f < stack.N; f++ {
		src := stack.Frame(f)
		dst := out.Frame(f)
		for by := 0; by < h; by++ {
			for bx := 0; bx < w; bx++ {
				sum, count := 0.0, 0
				for y := by * bins; y < (by+1)*bins; y++ {
					row := src[y*stack.Width:]
					for x := bx * bins; x < (bx+1)*bins; x++ {
						if v := row[x]; !math.IsNaN(v) {
							sum += v
							count++
						}
					}
				}
				if count == 0 {
					dst[by*w+bx] = math.NaN()
				} else {
					dst[by*w+bx] = sum / float64(count)
				}
			}
		}
	}
	return out, nil
}
