package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"rsmgrid/pkg/catalog"
	"rsmgrid/pkg/config"
	"rsmgrid/pkg/geometry"
	"rsmgrid/pkg/reconstruction"
	"rsmgrid/pkg/visualization"
	"rsmgrid/pkg/volume"
	"rsmgrid/pkg/voxelio"
)

const usage = `Usage: rsmgrid [-config file] [-v] <command> [flags]

Commands:
  convert      grid SPEC scans into a reciprocal-space volume
  slices       render slices of a volume as PNG files or an animated GIF
  inspect      print statistics of a volume file
  preview      animate the detector frames of one scan
  runs         list recorded conversion runs
  init-config  write the default configuration file
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("rsmgrid failed", "error", err)
		stop()
		os.Exit(1)
	}
}

// app carries what every command needs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("rsmgrid", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := global.String("config", "", "YAML configuration file")
	verbose := global.Bool("v", false, "Enable debug logging")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("no command given")
	}

	cmd, rest := global.Arg(0), global.Args()[1:]
	if cmd == "init-config" {
		return initConfig(rest, stdout, stderr)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*configPath); err != nil {
			return err
		}
	}

	level := slog.LevelInfo
	if *verbose || cfg.Output.Verbose {
		level = slog.LevelDebug
	}
	a := &app{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})),
		out:    stdout,
	}

	switch cmd {
	case "convert":
		return a.convert(ctx, rest, stderr)
	case "slices":
		return a.slices(rest, stderr)
	case "inspect":
		return a.inspect(rest, stderr)
	case "preview":
		return a.preview(ctx, rest, stderr)
	case "runs":
		return a.runs(ctx, rest, stderr)
	}
	global.Usage()
	return fmt.Errorf("unknown command %q", cmd)
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func (a *app) convert(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlagSet("convert", stderr)
	specPath := fs.String("spec", "", "SPEC data file")
	scanList := fs.String("scans", "", "Scans to combine, e.g. 14,15 or 14-17")
	resFlag := fs.String("res", "", "Voxels along h,k,l (default from configuration)")
	boxFlag := fs.String("bbox", "", "Bounding box h0:h1,k0:k1,l0:l1 (default automatic)")
	output := fs.String("o", "volume.rsv", "Output volume (.rsv or .vti, optionally .xz)")
	workers := fs.Int("workers", a.cfg.Grid.Workers, "Number of CPU cores to use")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *specPath == "" || *scanList == "" {
		fs.Usage()
		return errors.New("convert needs -spec and -scans")
	}

	scans, err := parseScans(*scanList)
	if err != nil {
		return err
	}
	if *resFlag != "" {
		if a.cfg.Grid.Resolution, err = parseResolution(*resFlag); err != nil {
			return err
		}
	}
	if *boxFlag != "" {
		if a.cfg.Grid.Bounds, err = parseBox(*boxFlag); err != nil {
			return err
		}
	}
	a.cfg.Grid.Workers = *workers
	if _, _, err := voxelio.FormatOf(*output); err != nil {
		return err
	}

	a.logger.Info("converting scans", "spec", *specPath, "scans", *scanList, "resolution", a.cfg.Grid.Resolution)
	vol, stats, err := reconstruction.Convert(ctx, a.cfg, *specPath, scans, a.logger)
	if err != nil {
		return err
	}

	if err := voxelio.Save(vol, *output); err != nil {
		return fmt.Errorf("saving volume: %w", err)
	}
	a.logger.Info("volume saved", "path", *output)

	b := stats.Bounds
	fmt.Fprintf(a.out, "Scans:        %d (%d frames)\n", stats.Scans, stats.Frames)
	fmt.Fprintf(a.out, "Samples:      %s gridded of %s\n", humanize.Comma(stats.SamplesGridded), humanize.Comma(stats.SamplesSeen))
	fmt.Fprintf(a.out, "Bounds:       H [%g, %g]  K [%g, %g]  L [%g, %g]\n", b[0].Min, b[0].Max, b[1].Min, b[1].Max, b[2].Min, b[2].Max)
	fmt.Fprintf(a.out, "Filled:       %s of %s voxels\n", humanize.Comma(int64(stats.FilledVoxels)), humanize.Comma(int64(stats.TotalVoxels)))
	fmt.Fprintf(a.out, "Occupancy:    %.1f samples per voxel\n", stats.MeanOccupancy)
	fmt.Fprintf(a.out, "Elapsed:      %s\n", stats.Duration.Round(time.Millisecond))
	fmt.Fprintf(a.out, "Output:       %s\n", *output)

	if a.cfg.Output.Catalog == "" {
		return nil
	}
	store := catalog.New(a.cfg.Output.Catalog)
	defer store.Close()

	absSpec, _ := filepath.Abs(*specPath)
	absOut, _ := filepath.Abs(*output)
	entry := &catalog.Run{
		SpecFile:     absSpec,
		Scans:        scans,
		Resolution:   a.cfg.Grid.Resolution,
		Bounds:       stats.Bounds,
		Samples:      stats.SamplesGridded,
		FilledVoxels: stats.FilledVoxels,
		TotalVoxels:  stats.TotalVoxels,
		Output:       absOut,
		Duration:     stats.Duration,
	}
	if err := store.Record(ctx, entry); err != nil {
		// The volume is already written
		a.logger.Warn("failed to record run", "catalog", a.cfg.Output.Catalog, "error", err)
		return nil
	}
	fmt.Fprintf(a.out, "Run:          %s\n", entry.ID)
	return nil
}

func (a *app) slices(args []string, stderr io.Writer) error {
	display := a.cfg.DisplayOptions()

	fs := newFlagSet("slices", stderr)
	input := fs.String("in", "", "Volume file")
	axisName := fs.String("axis", "L", "Slice axis: H, K or L")
	start := fs.Int("start", 0, "First slice index; later indices wrap around")
	logScale := fs.Bool("log", display.Scale.Log, "Show the logarithm of the intensity")
	dichroic := fs.Bool("dichroic", display.Scale.Dichroic, "Signed data on a range symmetric about zero")
	lo := fs.Float64("plo", display.Scale.Percentiles[0], "Low color percentile")
	hi := fs.Float64("phi", display.Scale.Percentiles[1], "High color percentile")
	pixelScale := fs.Int("scale", display.PixelScale, "Image pixels per voxel")
	gifPath := fs.String("gif", "", "Write an animated GIF")
	pngDir := fs.String("png", "", "Write one PNG per slice into this directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		fs.Usage()
		return errors.New("slices needs -in")
	}
	axis, err := visualization.ParseAxis(*axisName)
	if err != nil {
		return err
	}
	if *gifPath == "" && *pngDir == "" {
		*pngDir = "slices"
	}

	display.Scale = visualization.Scale{Log: *logScale, Dichroic: *dichroic, Percentiles: [2]float64{*lo, *hi}}
	display.PixelScale = *pixelScale

	vol, err := voxelio.Load(*input)
	if err != nil {
		return err
	}
	viewer, err := visualization.NewViewer(vol, display)
	if err != nil {
		return err
	}
	colors := viewer.ColorRange()
	a.logger.Info("color range", "min", colors.Min, "max", colors.Max, "colormap", display.Scale.Colormap().Name)

	if *pngDir != "" {
		paths, err := viewer.SaveSliceSequence(axis, *start, *pngDir)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Wrote %d %s slices to %s\n", len(paths), axis, *pngDir)
	}
	if *gifPath != "" {
		if err := viewer.SaveAnimation(axis, *start, *gifPath); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Wrote %d-frame animation to %s\n", viewer.Count(axis), *gifPath)
	}
	return nil
}

func (a *app) inspect(args []string, stderr io.Writer) error {
	fs := newFlagSet("inspect", stderr)
	input := fs.String("in", "", "Volume file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		fs.Usage()
		return errors.New("inspect needs -in")
	}

	info, err := os.Stat(*input)
	if err != nil {
		return err
	}
	vol, err := voxelio.Load(*input)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "File:       %s (%s)\n", *input, humanize.Bytes(uint64(info.Size())))
	fmt.Fprintf(a.out, "Dimensions: %d x %d x %d\n", vol.Dims[0], vol.Dims[1], vol.Dims[2])
	for i, name := range []string{"H", "K", "L"} {
		axis := vol.Axes[i]
		fmt.Fprintf(a.out, "%s axis:     [%g, %g] step %g\n", name, axis[0], axis[len(axis)-1], vol.Spacing()[i])
	}

	s, err := volume.Summarize(vol)
	if errors.Is(err, volume.ErrNoData) {
		fmt.Fprintf(a.out, "Filled:     0 of %s voxels\n", humanize.Comma(int64(vol.Len())))
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Filled:     %s of %s voxels (%.1f%%)\n",
		humanize.Comma(int64(s.Filled)), humanize.Comma(int64(s.Voxels)), 100*s.Occupancy())
	fmt.Fprintf(a.out, "Intensity:  min %g  max %g  mean %g  std %g\n", s.Min, s.Max, s.Mean, s.StdDev)
	return nil
}

func (a *app) preview(ctx context.Context, args []string, stderr io.Writer) error {
	display := a.cfg.DisplayOptions()

	fs := newFlagSet("preview", stderr)
	specPath := fs.String("spec", "", "SPEC data file")
	scan := fs.Int("scan", 0, "Scan number")
	bins := fs.Int("bin", 4, "Average bin x bin detector pixels")
	logScale := fs.Bool("log", display.Scale.Log, "Show the logarithm of the intensity")
	pixelScale := fs.Int("scale", 1, "Image pixels per binned detector pixel")
	output := fs.String("o", "detector.gif", "Output GIF")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *specPath == "" || *scan == 0 {
		fs.Usage()
		return errors.New("preview needs -spec and -scan")
	}
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ld, err := reconstruction.NewLoader(a.cfg, *specPath, a.logger)
	if err != nil {
		return err
	}
	conv, err := geometry.NewQConversion(a.cfg.GeometryInstrument(), a.cfg.Grid.Workers)
	if err != nil {
		return err
	}
	p, err := reconstruction.Preview(ctx, ld, conv, *scan, *bins)
	if err != nil {
		return err
	}

	display.Scale.Log = *logScale
	display.PixelScale = *pixelScale
	if err := visualization.SaveDetectorAnimation(p.Frames, p.Centers, display, *output); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Wrote %d detector frames of scan %d to %s\n", p.Frames.N, *scan, *output)
	return nil
}

func (a *app) runs(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlagSet("runs", stderr)
	limit := fs.Int("limit", 20, "Number of runs to list; 0 lists all")
	id := fs.String("id", "", "Show a single run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.cfg.Output.Catalog == "" {
		return errors.New("no catalog configured")
	}

	store := catalog.New(a.cfg.Output.Catalog)
	defer store.Close()

	if *id != "" {
		runID, err := uuid.Parse(*id)
		if err != nil {
			return fmt.Errorf("bad run ID: %w", err)
		}
		r, err := store.Get(ctx, runID)
		if err != nil {
			return err
		}
		b := r.Bounds
		fmt.Fprintf(a.out, "ID:         %s\n", r.ID)
		fmt.Fprintf(a.out, "Created:    %s\n", r.Created.Format(time.RFC3339))
		fmt.Fprintf(a.out, "SPEC file:  %s\n", r.SpecFile)
		fmt.Fprintf(a.out, "Scans:      %s\n", joinInts(r.Scans))
		fmt.Fprintf(a.out, "Resolution: %d x %d x %d\n", r.Resolution[0], r.Resolution[1], r.Resolution[2])
		fmt.Fprintf(a.out, "Bounds:     H [%g, %g]  K [%g, %g]  L [%g, %g]\n", b[0].Min, b[0].Max, b[1].Min, b[1].Max, b[2].Min, b[2].Max)
		fmt.Fprintf(a.out, "Samples:    %s\n", humanize.Comma(r.Samples))
		fmt.Fprintf(a.out, "Filled:     %s of %s voxels\n", humanize.Comma(int64(r.FilledVoxels)), humanize.Comma(int64(r.TotalVoxels)))
		fmt.Fprintf(a.out, "Duration:   %s\n", r.Duration.Round(time.Millisecond))
		fmt.Fprintf(a.out, "Output:     %s\n", r.Output)
		return nil
	}

	list, err := store.List(ctx, *limit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No runs recorded")
		return nil
	}
	for _, r := range list {
		fmt.Fprintf(a.out, "%s  %-14s  %-20s scans %-10s %dx%dx%d  %s\n",
			r.ID, humanize.Time(r.Created), filepath.Base(r.SpecFile), joinInts(r.Scans),
			r.Resolution[0], r.Resolution[1], r.Resolution[2], filepath.Base(r.Output))
	}
	return nil
}

func initConfig(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("init-config", stderr)
	output := fs.String("o", "rsmgrid.yaml", "Configuration file to write")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := config.CreateDefaultConfigFile(*output); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote default configuration to %s\n", *output)
	return nil
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ",")
}
