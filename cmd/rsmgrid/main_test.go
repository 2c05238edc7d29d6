package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"rsmgrid/internal/models"
	"rsmgrid/pkg/config"
	"rsmgrid/pkg/voxelio"
)

func TestParseScans(t *testing.T) {
	tests := []struct {
		in   string
		want []int
	}{
		{"14", []int{14}},
		{"14,15", []int{14, 15}},
		{"14-17, 20", []int{14, 15, 16, 17, 20}},
	}
	for _, tc := range tests {
		got, err := parseScans(tc.in)
		if err != nil {
			t.Fatalf("parseScans(%q) failed: %v", tc.in, err)
		}
		if joinInts(got) != joinInts(tc.want) {
			t.Errorf("parseScans(%q) = %v, expected %v", tc.in, got, tc.want)
		}
	}
	for _, bad := range []string{"", "a", "5-3", "1-x"} {
		if _, err := parseScans(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestParseResolution(t *testing.T) {
	if res, err := parseResolution("50,40,30"); err != nil || res != [3]int{50, 40, 30} {
		t.Errorf("Unexpected %v, %v", res, err)
	}
	if res, err := parseResolution("64"); err != nil || res != [3]int{64, 64, 64} {
		t.Errorf("Unexpected %v, %v", res, err)
	}
	if _, err := parseResolution("1,2"); err == nil {
		t.Error("Expected error for two values")
	}
}

func TestParseBox(t *testing.T) {
	box, err := parseBox("-0.1:0.1, 0.9:1.1,1.5:2.5")
	if err != nil {
		t.Fatalf("parseBox failed: %v", err)
	}
	want := models.Box{{Min: -0.1, Max: 0.1}, {Min: 0.9, Max: 1.1}, {Min: 1.5, Max: 2.5}}
	if *box != want {
		t.Errorf("Expected %v, got %v", want, *box)
	}
	for _, bad := range []string{"0:1,0:1", "0:1,0:1,01", "0:1,0:1,a:1"} {
		if _, err := parseBox(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestRunInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.rsv")
	vol := models.NewVolume([3]int{2, 2, 2}, [3][]float64{{0, 1}, {0, 1}, {0, 1}})
	vol.Data[0], vol.Data[7] = 1, 3
	if err := voxelio.Save(vol, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	var out bytes.Buffer
	if err := run(context.Background(), []string{"inspect", "-in", path}, &out, io.Discard); err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	for _, want := range []string{"Dimensions: 2 x 2 x 2", "Filled:     2 of 8 voxels (25.0%)", "max 3"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Expected %q in output:\n%s", want, out.String())
		}
	}
}

func TestRunSlices(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vol.rsv")
	vol := models.NewVolume([3]int{2, 3, 4}, [3][]float64{{0, 1}, {0, 1, 2}, {0, 1, 2, 3}})
	for i := range vol.Data {
		vol.Data[i] = float64(i + 1)
	}
	if err := voxelio.Save(vol, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	gifPath := filepath.Join(dir, "l.gif")
	args := []string{"slices", "-in", path, "-axis", "l", "-gif", gifPath, "-png", filepath.Join(dir, "png")}
	var out bytes.Buffer
	if err := run(context.Background(), args, &out, io.Discard); err != nil {
		t.Fatalf("slices failed: %v", err)
	}
	if !strings.Contains(out.String(), "Wrote 4 L slices") || !strings.Contains(out.String(), "4-frame animation") {
		t.Errorf("Unexpected output:\n%s", out.String())
	}
}

func TestRunInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := run(context.Background(), []string{"init-config", "-o", path}, io.Discard, io.Discard); err != nil {
		t.Fatalf("init-config failed: %v", err)
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Grid.Resolution != config.DefaultConfig().Grid.Resolution {
		t.Errorf("Expected default resolution, got %v", cfg.Grid.Resolution)
	}
}

func TestRunRunsEmptyCatalog(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Output.Catalog = filepath.Join(dir, "runs.db")
	path := filepath.Join(dir, "cfg.yaml")
	if err := config.SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	var out bytes.Buffer
	if err := run(context.Background(), []string{"-config", path, "runs"}, &out, io.Discard); err != nil {
		t.Fatalf("runs failed: %v", err)
	}
	if !strings.Contains(out.String(), "No runs recorded") {
		t.Errorf("Unexpected output:\n%s", out.String())
	}
}

func TestRunErrors(t *testing.T) {
	ctx := context.Background()
	for _, args := range [][]string{
		nil,
		{"bogus"},
		{"convert", "-spec", "x.spec"},
		{"slices"},
		{"slices", "-in", "vol.rsv", "-axis", "q"},
	} {
		if err := run(ctx, args, io.Discard, io.Discard); err == nil {
			t.Errorf("Expected error for %v", args)
		}
	}
}
