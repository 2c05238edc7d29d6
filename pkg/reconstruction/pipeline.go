package reconstruction

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/stat"

	"rsmgrid/internal/models"
	"rsmgrid/pkg/config"
	"rsmgrid/pkg/geometry"
	"rsmgrid/pkg/imagestore"
	"rsmgrid/pkg/loader"
	"rsmgrid/pkg/specfile"
)

// NewLoader opens a SPEC file and the image store next to it. Frames are
// expected under the configured image directory, resolved against the SPEC
// file's directory when relative, and named after the SPEC file.
func NewLoader(cfg *config.Config, specPath string, logger *slog.Logger) (*loader.Loader, error) {
	sf, err := specfile.Open(specPath)
	if err != nil {
		return nil, err
	}

	dir := cfg.Images.Directory
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(filepath.Dir(specPath), dir)
	}
	base := filepath.Base(specPath)
	prefix := strings.TrimSuffix(base, filepath.Ext(base))
	images := imagestore.New(dir, prefix, cfg.Images.Extension)

	return loader.New(loader.FromSpecFile(sf), images, cfg.LoaderOptions(), logger), nil
}

// Convert reads scans from a SPEC file and returns the masked volume
// together with the run statistics.
func Convert(ctx context.Context, cfg *config.Config, specPath string, scans []int, logger *slog.Logger) (*models.Volume, Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, Stats{}, fmt.Errorf("invalid configuration: %w", err)
	}

	ld, err := NewLoader(cfg, specPath, logger)
	if err != nil {
		return nil, Stats{}, err
	}
	conv, err := geometry.NewQConversion(cfg.GeometryInstrument(), cfg.Grid.Workers)
	if err != nil {
		return nil, Stats{}, err
	}

	params := &Params{
		SpecFile:           specPath,
		Scans:              scans,
		Resolution:         cfg.Grid.Resolution,
		Bounds:             cfg.Grid.Bounds,
		OccupancyThreshold: cfg.Grid.OccupancyThreshold,
		Workers:            cfg.Grid.Workers,
	}
	r := NewReconstructor(params, ld, conv, logger)
	vol, err := r.Process(ctx)
	if err != nil {
		return nil, Stats{}, err
	}
	return vol, r.Stats(), nil
}

// DetectorPreview is a scan's detector frames reduced for display, each
// paired with the mean (h, k, l) of its pixels.
type DetectorPreview struct {
	Frames  *models.FrameStack
	Centers [][3]float64
}

// Preview loads one scan and reduces its frames by averaging bins x bins
// pixel blocks.
func Preview(ctx context.Context, frames FrameSource, converter QConverter, scan, bins int) (*DetectorPreview, error) {
	meta, stack, err := frames.Load(ctx, scan)
	if err != nil {
		return nil, err
	}
	qx, qy, qz, err := converter.Area(meta.Angles, meta.UB, meta.Energy)
	if err != nil {
		return nil, fmt.Errorf("scan %d: converting angles: %w", scan, err)
	}
	if len(qx) != len(stack.Data) {
		return nil, fmt.Errorf("scan %d: %w", scan, ErrShapeMismatch)
	}

	reduced, err := loader.Rebin(stack, bins)
	if err != nil {
		return nil, err
	}

	size := stack.FrameSize()
	centers := make([][3]float64, stack.N)
	for f := range centers {
		for a, q := range [3][]float64{qx, qy, qz} {
			centers[f][a] = nanMean(q[f*size : (f+1)*size])
		}
	}
	return &DetectorPreview{Frames: reduced, Centers: centers}, nil
}

func nanMean(values []float64) float64 {
	valid := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return math.NaN()
	}
	return stat.Mean(valid, nil)
}
