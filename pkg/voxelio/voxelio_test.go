package voxelio

import (
	"bytes"
	"encoding/base64"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rsmgrid/internal/models"
)

func createTestVolume() *models.Volume {
	dims := [3]int{3, 4, 5}
	vol := models.NewVolume(dims, [3][]float64{
		models.Linspace(-0.5, 0.5, dims[0]),
		models.Linspace(1, 2.2, dims[1]),
		models.Linspace(0.1, 0.9, dims[2]),
	})
	for i := range vol.Data {
		if i%7 == 3 {
			continue // keep some voxels missing
		}
		vol.Data[i] = float64(i)*0.37 - 2
	}
	return vol
}

func assertSameVolume(t *testing.T, want, got *models.Volume) {
	t.Helper()
	if got.Dims != want.Dims {
		t.Fatalf("Expected dims %v, got %v", want.Dims, got.Dims)
	}
	for i := range want.Data {
		if math.Float64bits(want.Data[i]) != math.Float64bits(got.Data[i]) {
			t.Fatalf("Voxel %d: expected %v, got %v", i, want.Data[i], got.Data[i])
		}
	}
	for a := 0; a < 3; a++ {
		if len(got.Axes[a]) != len(want.Axes[a]) {
			t.Fatalf("Axis %d: expected %d values, got %d", a, len(want.Axes[a]), len(got.Axes[a]))
		}
		for j := range want.Axes[a] {
			tol := 4 * float64(j+1) * math.Abs(want.Axes[a][j]) * 1e-16
			if math.Abs(got.Axes[a][j]-want.Axes[a][j]) > tol+1e-15 {
				t.Errorf("Axis %d[%d]: expected %v, got %v", a, j, want.Axes[a][j], got.Axes[a][j])
			}
		}
	}
}

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	vol := createTestVolume()

	for _, name := range []string{"vol.rsv", "vol.rsv.xz", "vol.vti", "vol.vti.xz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := Save(vol, path); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			assertSameVolume(t, vol, loaded)
		})
	}
}

func TestCompressedFileIsXZ(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.rsv.xz")
	if err := Save(createTestVolume(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if !bytes.HasPrefix(raw, xzMagic) {
		t.Errorf("Expected xz magic bytes, got % x", raw[:6])
	}
}

func TestSingleVoxelAxis(t *testing.T) {
	vol := models.NewVolume([3]int{1, 2, 1}, [3][]float64{{0.25}, {0, 1}, {3}})
	vol.Data[1] = 5

	path := filepath.Join(t.TempDir(), "flat.rsv")
	if err := Save(vol, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Axes[0][0] != 0.25 || loaded.Axes[2][0] != 3 || loaded.Axes[1][1] != 1 {
		t.Errorf("Unexpected axes %v", loaded.Axes)
	}
}

func TestLoadFormatErrors(t *testing.T) {
	dir := t.TempDir()

	// Valid file with its body cut short
	good := filepath.Join(dir, "good.rsv")
	if err := Save(createTestVolume(), good); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	raw, _ := os.ReadFile(good)

	cases := map[string][]byte{
		"truncated.rsv": raw[:len(raw)-16],
		"trailing.rsv":  append(append([]byte(nil), raw...), 0, 0, 0, 0, 0, 0, 0, 0),
		"magic.rsv":     append([]byte("XXXX"), raw[4:]...),
		"short.rsv":     raw[:10],
		"bad.vti":       []byte("<VTKFile type=\"PolyData\"></VTKFile>"),
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, content, 0644); err != nil {
				t.Fatalf("Failed to write: %v", err)
			}
			_, err := Load(path)
			if !errors.Is(err, ErrFormat) {
				t.Fatalf("Expected ErrFormat, got %v", err)
			}
			var fe *FormatError
			if !errors.As(err, &fe) || fe.Path != path {
				t.Errorf("Expected FormatError carrying %s, got %v", path, err)
			}
		})
	}
}

func TestVTIScalarCountMismatch(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteVTI(&buf, createTestVolume()); err != nil {
		t.Fatalf("WriteVTI failed: %v", err)
	}
	// Claim a larger extent than the array holds
	doc := strings.Replace(buf.String(), `WholeExtent="0 2 0 3 0 4"`, `WholeExtent="0 2 0 3 0 5"`, 1)

	path := filepath.Join(t.TempDir(), "mismatch.vti")
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrFormat) {
		t.Errorf("Expected ErrFormat, got %v", err)
	}
}

func TestDecodeCombinedEncoding(t *testing.T) {
	// Header and body encoded as one base64 block
	var raw bytes.Buffer
	raw.Write([]byte{16, 0, 0, 0})
	for _, v := range []float64{1.5, -2} {
		var b [8]byte
		end.PutUint64(b[:], math.Float64bits(v))
		raw.Write(b[:])
	}
	body, err := decodeBinaryArray(base64.StdEncoding.EncodeToString(raw.Bytes()))
	if err != nil {
		t.Fatalf("decodeBinaryArray failed: %v", err)
	}
	if len(body) != 16 || math.Float64frombits(end.Uint64(body[8:])) != -2 {
		t.Errorf("Unexpected decoded body % x", body)
	}
}

func TestUnsupportedExtension(t *testing.T) {
	if err := Save(createTestVolume(), filepath.Join(t.TempDir(), "vol.npy")); err == nil {
		t.Error("Expected error for unknown extension")
	}
	if _, _, err := FormatOf("vol.rsv.gz"); err == nil {
		t.Error("Expected error for .gz suffix")
	}
}
