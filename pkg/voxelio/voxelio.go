// Package voxelio saves and loads gridded volumes.
//
// Two formats are supported, chosen by file extension: the native binary
// ".rsv" format and VTK XML ImageData ".vti". Either may carry a trailing
// ".xz" to compress the stream. Both store origin, spacing and dimensions
// followed by one float64 per voxel with the first axis varying fastest.
package voxelio

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	"rsmgrid/internal/models"
)

// ErrFormat is the class of all load failures caused by file contents.
var ErrFormat = errors.New("invalid volume file")

// FormatError reports a malformed volume file.
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Path, ErrFormat, e.Reason)
}

func (e *FormatError) Unwrap() error {
	return ErrFormat
}

// Format identifies an on-disk encoding.
type Format int

const (
	FormatNative Format = iota
	FormatVTI
)

// String returns the file extension of the format
func (f Format) String() string {
	switch f {
	case FormatVTI:
		return ".vti"
	default:
		return ".rsv"
	}
}

// XZ magic bytes: fd 37 7a 58 5a 00
var xzMagic = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}

// FormatOf returns the encoding and compression implied by a file name.
func FormatOf(path string) (Format, bool, error) {
	name := strings.ToLower(filepath.Base(path))
	compressed := strings.HasSuffix(name, ".xz")
	name = strings.TrimSuffix(name, ".xz")

	switch filepath.Ext(name) {
	case ".rsv":
		return FormatNative, compressed, nil
	case ".vti":
		return FormatVTI, compressed, nil
	default:
		return 0, false, fmt.Errorf("unsupported volume file extension: %s", path)
	}
}

// Save writes vol to path in the format named by its extension.
func Save(vol *models.Volume, path string) error {
	format, compressed, err := FormatOf(path)
	if err != nil {
		return err
	}
	if len(vol.Data) != vol.Len() {
		return fmt.Errorf("volume holds %d values for dimensions %v", len(vol.Data), vol.Dims)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating volume file: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	var w io.Writer = bw
	var xw *xz.Writer
	if compressed {
		xw, err = xz.NewWriter(bw)
		if err != nil {
			return fmt.Errorf("failed to create xz writer: %w", err)
		}
		w = xw
	}

	switch format {
	case FormatVTI:
		err = WriteVTI(w, vol)
	default:
		err = WriteNative(w, vol)
	}
	if err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}

	if xw != nil {
		if err := xw.Close(); err != nil {
			return fmt.Errorf("error finishing xz stream: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return f.Close()
}

// Load reads a volume written by Save. Compression is detected from the
// stream itself, the encoding from the file extension.
func Load(path string) (*models.Volume, error) {
	format, _, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if head, _ := br.Peek(len(xzMagic)); bytes.Equal(head, xzMagic) {
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, &FormatError{Path: path, Reason: fmt.Sprintf("bad xz stream: %v", err)}
		}
		r = xr
	}

	var vol *models.Volume
	switch format {
	case FormatVTI:
		vol, err = ReadVTI(r)
	default:
		vol, err = ReadNative(r)
	}
	if err != nil {
		var fe *FormatError
		if errors.As(err, &fe) {
			fe.Path = path
			return nil, fe
		}
		return nil, &FormatError{Path: path, Reason: err.Error()}
	}
	return vol, nil
}

// axesFrom rebuilds voxel center coordinates as origin + j*spacing.
func axesFrom(origin, spacing [3]float64, dims [3]int) [3][]float64 {
	var axes [3][]float64
	for a := 0; a < 3; a++ {
		axes[a] = make([]float64, dims[a])
		for j := range axes[a] {
			axes[a][j] = origin[a] + float64(j)*spacing[a]
		}
	}
	return axes
}

func checkDims(dims [3]int) error {
	total := 1
	for a, n := range dims {
		if n <= 0 {
			return fmt.Errorf("dimension %d is %d", a, n)
		}
		if total > maxVoxels/n {
			return fmt.Errorf("dimensions %v exceed %d voxels", dims, maxVoxels)
		}
		total *= n
	}
	return nil
}

// maxVoxels bounds the allocation made for a file header.
const maxVoxels = math.MaxInt32
