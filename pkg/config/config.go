// Package config provides configuration loading and management for rsmgrid.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"rsmgrid/internal/models"
	"rsmgrid/pkg/geometry"
	"rsmgrid/pkg/loader"
	"rsmgrid/pkg/visualization"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Instrument geometry of the diffractometer and area detector
	Instrument struct {
		// SampleAxes lists the sample circles, outermost first
		SampleAxes []string `yaml:"sampleAxes"`

		// DetectorAxes lists the detector circles, outermost first
		DetectorAxes []string `yaml:"detectorAxes"`

		// Beam is the incident beam direction
		Beam [3]float64 `yaml:"beam"`

		// DetectorDirections are the pixel directions along image rows and columns
		DetectorDirections [2]string `yaml:"detectorDirections"`

		// CenterChannels is the pixel hit by the direct beam at zero detector angles
		CenterChannels [2]float64 `yaml:"centerChannels"`

		// Channels is the number of detector pixels along rows and columns
		Channels [2]int `yaml:"channels"`

		// PixelWidths is the pixel pitch in mm
		PixelWidths [2]float64 `yaml:"pixelWidths"`

		// Distance is the sample-to-detector distance in mm
		Distance float64 `yaml:"distance"`
	} `yaml:"instrument"`

	// Spec file channel names
	Spec struct {
		// MonitorChannel is the measurement used to normalize detector counts
		MonitorChannel string `yaml:"monitorChannel"`

		// AngleChannels are mu, eta, chi, phi, nu, delta in that order
		AngleChannels [6]string `yaml:"angleChannels"`

		// EnergyLine and EnergyToken locate the beam energy in the scan header
		EnergyLine  int `yaml:"energyLine"`
		EnergyToken int `yaml:"energyToken"`

		// EnergyScale converts the header value to eV
		EnergyScale float64 `yaml:"energyScale"`
	} `yaml:"spec"`

	// Detector image store
	Images struct {
		// Directory holding the S{scan} folders; relative paths are resolved
		// against the SPEC file location
		Directory string `yaml:"directory"`

		// Extension of the frame files
		Extension string `yaml:"extension"`
	} `yaml:"images"`

	// Gridding parameters
	Grid struct {
		// Resolution is the number of voxels along h, k and l
		Resolution [3]int `yaml:"resolution"`

		// Bounds is an explicit h, k, l bounding box; nil means automatic
		Bounds *models.Box `yaml:"bounds,omitempty"`

		// OccupancyThreshold masks voxels with a lower averaged intensity
		OccupancyThreshold float64 `yaml:"occupancyThreshold"`

		// Workers specifies how many CPU cores to use for parallel processing
		Workers int `yaml:"workers"`
	} `yaml:"grid"`

	// Slice display parameters
	Display struct {
		// LogScale renders the natural log of the intensity
		LogScale bool `yaml:"logScale"`

		// Dichroic renders signed data with a color range symmetric about zero
		Dichroic bool `yaml:"dichroic"`

		// ColorPercentiles are the low and high percentiles of the color range
		ColorPercentiles [2]float64 `yaml:"colorPercentiles"`

		// GIFDelay is the delay between animation frames in 1/100 s
		GIFDelay int `yaml:"gifDelay"`

		// PixelScale is the size in image pixels of one voxel
		PixelScale int `yaml:"pixelScale"`
	} `yaml:"display"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// Catalog is the sqlite database recording conversion runs; empty disables it
		Catalog string `yaml:"catalog"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default instrument geometry
	inst := geometry.DefaultInstrument()
	cfg.Instrument.SampleAxes = inst.SampleAxes
	cfg.Instrument.DetectorAxes = inst.DetectorAxes
	cfg.Instrument.Beam = inst.Beam
	cfg.Instrument.DetectorDirections = [2]string{inst.DetectorDir1, inst.DetectorDir2}
	cfg.Instrument.CenterChannels = [2]float64{inst.CenterChannel1, inst.CenterChannel2}
	cfg.Instrument.Channels = [2]int{inst.Channels1, inst.Channels2}
	cfg.Instrument.PixelWidths = [2]float64{inst.PixelWidth1, inst.PixelWidth2}
	cfg.Instrument.Distance = inst.Distance

	// Set default spec channel names
	opts := loader.DefaultOptions()
	cfg.Spec.MonitorChannel = opts.MonitorChannel
	cfg.Spec.AngleChannels = opts.AngleChannels
	cfg.Spec.EnergyLine = opts.EnergyLine
	cfg.Spec.EnergyToken = opts.EnergyToken
	cfg.Spec.EnergyScale = opts.EnergyScale

	// Set default image store
	cfg.Images.Directory = "images"
	cfg.Images.Extension = ".tif"

	// Set default gridding parameters
	cfg.Grid.Resolution = [3]int{50, 50, 50}
	cfg.Grid.OccupancyThreshold = 0.01
	cfg.Grid.Workers = runtime.NumCPU() // Use all available cores by default

	// Set default display parameters
	cfg.Display.ColorPercentiles = [2]float64{50, 99}
	cfg.Display.GIFDelay = 20
	cfg.Display.PixelScale = 8

	// Set default output parameters
	cfg.Output.Verbose = false
	cfg.Output.Catalog = "rsmgrid.db"

	return cfg
}

// Validate checks the configuration for values the pipeline cannot use
func (c *Config) Validate() error {
	if _, err := geometry.NewQConversion(c.GeometryInstrument(), 1); err != nil {
		return err
	}

	for i, n := range c.Grid.Resolution {
		if n <= 0 {
			return fmt.Errorf("grid resolution must be positive, got %d on axis %d", n, i)
		}
	}
	if c.Grid.Bounds != nil {
		for i, r := range c.Grid.Bounds {
			if !(r.Min < r.Max) {
				return fmt.Errorf("grid bounds on axis %d are degenerate: [%g, %g]", i, r.Min, r.Max)
			}
		}
	}
	if c.Grid.OccupancyThreshold < 0 {
		return errors.New("occupancy threshold must not be negative")
	}

	lo, hi := c.Display.ColorPercentiles[0], c.Display.ColorPercentiles[1]
	if lo < 0 || hi > 100 || lo > hi {
		return fmt.Errorf("invalid color percentiles [%g, %g]", lo, hi)
	}
	if c.Display.PixelScale < 1 {
		return errors.New("pixel scale must be at least 1")
	}

	if c.Spec.MonitorChannel == "" {
		return errors.New("monitor channel is required")
	}
	if c.Spec.EnergyScale <= 0 {
		return errors.New("energy scale must be positive")
	}
	return nil
}

// GeometryInstrument converts the instrument section into the immutable
// value consumed by the converter
func (c *Config) GeometryInstrument() geometry.Instrument {
	in := c.Instrument
	return geometry.Instrument{
		SampleAxes:     append([]string(nil), in.SampleAxes...),
		DetectorAxes:   append([]string(nil), in.DetectorAxes...),
		Beam:           in.Beam,
		DetectorDir1:   in.DetectorDirections[0],
		DetectorDir2:   in.DetectorDirections[1],
		CenterChannel1: in.CenterChannels[0],
		CenterChannel2: in.CenterChannels[1],
		Channels1:      in.Channels[0],
		Channels2:      in.Channels[1],
		PixelWidth1:    in.PixelWidths[0],
		PixelWidth2:    in.PixelWidths[1],
		Distance:       in.Distance,
	}
}

// LoaderOptions converts the spec section into loader options; the expected
// frame size follows the detector channel counts
func (c *Config) LoaderOptions() loader.Options {
	return loader.Options{
		MonitorChannel: c.Spec.MonitorChannel,
		AngleChannels:  c.Spec.AngleChannels,
		EnergyLine:     c.Spec.EnergyLine,
		EnergyToken:    c.Spec.EnergyToken,
		EnergyScale:    c.Spec.EnergyScale,
		Height:         c.Instrument.Channels[0],
		Width:          c.Instrument.Channels[1],
		Workers:        c.Grid.Workers,
	}
}

// DisplayOptions converts the display section into rendering options
func (c *Config) DisplayOptions() visualization.Options {
	return visualization.Options{
		Scale: visualization.Scale{
			Log:         c.Display.LogScale,
			Dichroic:    c.Display.Dichroic,
			Percentiles: c.Display.ColorPercentiles,
		},
		PixelScale: c.Display.PixelScale,
		Delay:      c.Display.GIFDelay,
	}
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
