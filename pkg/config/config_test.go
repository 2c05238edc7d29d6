package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"rsmgrid/internal/models"
	"rsmgrid/pkg/geometry"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}

	inst := cfg.GeometryInstrument()
	if inst.CenterChannel1 != 188 || inst.CenterChannel2 != 146 {
		t.Errorf("Expected center channels (188, 146), got (%f, %f)", inst.CenterChannel1, inst.CenterChannel2)
	}
	if inst.Distance != 770 {
		t.Errorf("Expected distance 770, got %f", inst.Distance)
	}

	opts := cfg.LoaderOptions()
	if opts.MonitorChannel != "Ion_Ch_4" {
		t.Errorf("Expected monitor Ion_Ch_4, got %s", opts.MonitorChannel)
	}
	if opts.Height != 516 || opts.Width != 516 {
		t.Errorf("Expected 516x516 frames, got %dx%d", opts.Height, opts.Width)
	}

	display := cfg.DisplayOptions()
	if display.Scale.Percentiles != [2]float64{50, 99} || display.Scale.Dichroic {
		t.Errorf("Unexpected display scale %+v", display.Scale)
	}
	if display.PixelScale != 8 || display.Delay != 20 {
		t.Errorf("Unexpected display options %+v", display)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Grid.Resolution != [3]int{50, 50, 50} {
		t.Errorf("Expected default resolution, got %v", cfg.Grid.Resolution)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rsmgrid.yaml")

	cfg := DefaultConfig()
	cfg.Grid.Resolution = [3]int{10, 20, 30}
	cfg.Grid.Bounds = &models.Box{{Min: -1, Max: 1}, {Min: 0, Max: 2}, {Min: 3, Max: 4}}
	cfg.Display.Dichroic = true
	cfg.Spec.MonitorChannel = "I0"

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if loaded.Grid.Resolution != cfg.Grid.Resolution {
		t.Errorf("Expected resolution %v, got %v", cfg.Grid.Resolution, loaded.Grid.Resolution)
	}
	if loaded.Grid.Bounds == nil || *loaded.Grid.Bounds != *cfg.Grid.Bounds {
		t.Errorf("Expected bounds %v, got %v", cfg.Grid.Bounds, loaded.Grid.Bounds)
	}
	if !loaded.Display.Dichroic || loaded.Spec.MonitorChannel != "I0" {
		t.Errorf("Display or spec settings were not preserved")
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	if err := os.WriteFile(path, []byte("grid:\n  resolution: [5, 6, 7]\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Grid.Resolution != [3]int{5, 6, 7} {
		t.Errorf("Expected resolution from file, got %v", cfg.Grid.Resolution)
	}
	if cfg.Grid.OccupancyThreshold != 0.01 {
		t.Errorf("Expected default threshold, got %f", cfg.Grid.OccupancyThreshold)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"zero resolution", func(c *Config) { c.Grid.Resolution[1] = 0 }},
		{"degenerate bounds", func(c *Config) {
			c.Grid.Bounds = &models.Box{{Min: 0, Max: 1}, {Min: 2, Max: 2}, {Min: 0, Max: 1}}
		}},
		{"negative threshold", func(c *Config) { c.Grid.OccupancyThreshold = -1 }},
		{"inverted percentiles", func(c *Config) { c.Display.ColorPercentiles = [2]float64{99, 50} }},
		{"zero distance", func(c *Config) { c.Instrument.Distance = 0 }},
		{"empty monitor", func(c *Config) { c.Spec.MonitorChannel = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Instrument.SampleAxes = []string{"q+"}
	if err := cfg.Validate(); !errors.Is(err, geometry.ErrInvalidAxis) {
		t.Errorf("Expected ErrInvalidAxis, got %v", err)
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Written default config should be valid: %v", err)
	}
}
