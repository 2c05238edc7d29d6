package voxelio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"rsmgrid/internal/models"
)

var end = binary.LittleEndian

// Version of the native format written by WriteNative.
const Version = uint32(1)

var nativeMagic = [4]byte{'R', 'S', 'M', 'V'}

// NativeHeader precedes the voxel values of a ".rsv" file.
type NativeHeader struct {
	Magic   [4]byte
	Version uint32
	Origin  [3]float64
	Spacing [3]float64
	Dims    [3]int64
}

// WriteNative encodes vol in the native binary format.
func WriteNative(w io.Writer, vol *models.Volume) error {
	hd := NativeHeader{
		Magic:   nativeMagic,
		Version: Version,
		Origin:  vol.Origin(),
		Spacing: vol.Spacing(),
	}
	for a := 0; a < 3; a++ {
		hd.Dims[a] = int64(vol.Dims[a])
	}

	if err := binary.Write(w, end, &hd); err != nil {
		return err
	}
	return binary.Write(w, end, vol.Data)
}

// ReadNative decodes a volume in the native binary format.
func ReadNative(r io.Reader) (*models.Volume, error) {
	hd := &NativeHeader{}
	if err := binary.Read(r, end, hd); err != nil {
		return nil, &FormatError{Reason: fmt.Sprintf("truncated header: %v", err)}
	}
	if hd.Magic != nativeMagic {
		return nil, &FormatError{Reason: fmt.Sprintf("bad magic %q", hd.Magic[:])}
	}
	if hd.Version != Version {
		return nil, &FormatError{Reason: fmt.Sprintf("unsupported version %d", hd.Version)}
	}

	var dims [3]int
	for a := 0; a < 3; a++ {
		if hd.Dims[a] <= 0 || hd.Dims[a] > math.MaxInt32 {
			return nil, &FormatError{Reason: fmt.Sprintf("dimension %d is %d", a, hd.Dims[a])}
		}
		dims[a] = int(hd.Dims[a])
	}
	if err := checkDims(dims); err != nil {
		return nil, &FormatError{Reason: err.Error()}
	}

	data := make([]float64, dims[0]*dims[1]*dims[2])
	if err := binary.Read(r, end, data); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, &FormatError{Reason: fmt.Sprintf("body holds fewer than %d values", len(data))}
		}
		return nil, err
	}

	// Trailing bytes mean the header and body disagree
	var extra [1]byte
	if n, _ := r.Read(extra[:]); n > 0 {
		return nil, &FormatError{Reason: fmt.Sprintf("body holds more than %d values", len(data))}
	}

	return &models.Volume{
		Data: data,
		Dims: dims,
		Axes: axesFrom(hd.Origin, hd.Spacing, dims),
	}, nil
}
