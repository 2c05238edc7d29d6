package visualization

import (
	"errors"
	"fmt"
	"strings"

	"rsmgrid/internal/models"
	"rsmgrid/pkg/volume"
)

// ErrIndexOutOfRange is returned for a slice index outside the volume.
var ErrIndexOutOfRange = errors.New("slice index out of range")

// Axis selects one of the three reciprocal-space axes.
type Axis int

const (
	AxisH Axis = iota
	AxisK
	AxisL
)

// String returns the axis name.
func (a Axis) String() string {
	switch a {
	case AxisH:
		return "H"
	case AxisK:
		return "K"
	case AxisL:
		return "L"
	}
	return fmt.Sprintf("Axis(%d)", int(a))
}

// ParseAxis accepts "h", "k" or "l" in either case.
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "h":
		return AxisH, nil
	case "k":
		return AxisK, nil
	case "l":
		return AxisL, nil
	}
	return 0, fmt.Errorf("unknown axis %q: must be H, K or L", s)
}

// inPlane returns the horizontal and vertical axes of a slice normal to a.
func (a Axis) inPlane() (x, y Axis) {
	switch a {
	case AxisH:
		return AxisK, AxisL
	case AxisK:
		return AxisH, AxisL
	default:
		return AxisH, AxisK
	}
}

// Plane is a 2D cut through a volume at a fixed index along one axis.
// Data is row-major with row 0 at the lowest coordinate of Y.
type Plane struct {
	Data []float64
	Rows int
	Cols int

	// Normal is the axis the plane is perpendicular to, Index and Value its
	// position along it and Count the number of planes along it
	Normal Axis
	Index  int
	Value  float64
	Count  int

	// X runs along columns and Y along rows
	X       Axis
	Y       Axis
	XValues []float64
	YValues []float64
}

// At returns the value at row r and column c.
func (p *Plane) At(r, c int) float64 {
	return p.Data[r*p.Cols+c]
}

// Slice extracts the plane perpendicular to axis at index.
func Slice(vol *models.Volume, axis Axis, index int) (*Plane, error) {
	if axis < AxisH || axis > AxisL {
		return nil, fmt.Errorf("unknown axis %d", int(axis))
	}
	if index < 0 || index >= vol.Dims[axis] {
		return nil, fmt.Errorf("%w: %s index %d not in [0, %d)", ErrIndexOutOfRange, axis, index, vol.Dims[axis])
	}

	x, y := axis.inPlane()
	p := &Plane{
		Rows:    vol.Dims[y],
		Cols:    vol.Dims[x],
		Normal:  axis,
		Index:   index,
		Value:   vol.Axes[axis][index],
		Count:   vol.Dims[axis],
		X:       x,
		Y:       y,
		XValues: vol.Axes[x],
		YValues: vol.Axes[y],
	}
	p.Data = make([]float64, p.Rows*p.Cols)

	var ijk [3]int
	ijk[axis] = index
	for r := 0; r < p.Rows; r++ {
		ijk[y] = r
		for c := 0; c < p.Cols; c++ {
			ijk[x] = c
			p.Data[r*p.Cols+c] = vol.At(ijk[0], ijk[1], ijk[2])
		}
	}
	return p, nil
}

// Order returns the n slice indices in ascending order starting at start
// and wrapping around to 0.
func Order(n, start int) []int {
	if n <= 0 {
		return nil
	}
	start = ((start % n) + n) % n
	out := make([]int, n)
	for i := range out {
		out[i] = (start + i) % n
	}
	return out
}

// Scale describes how voxel values are turned into colors.
type Scale struct {
	// Log displays the natural logarithm of the intensity
	Log bool

	// Dichroic data is signed and shown on a range symmetric about zero
	Dichroic bool

	// Percentiles are the low and high percentiles (0..100) of the range
	Percentiles [2]float64
}

// DefaultScale returns the 50/99 percentile scale.
func DefaultScale() Scale {
	return Scale{Percentiles: [2]float64{50, 99}}
}

// Colormap returns RdBu for dichroic data and Viridis otherwise.
func (s Scale) Colormap() *Colormap {
	if s.Dichroic {
		return RdBu
	}
	return Viridis
}

// Prepare returns the volume that is displayed: the logarithm of vol under
// a log scale, vol itself otherwise.
func (s Scale) Prepare(vol *models.Volume) *models.Volume {
	if s.Log {
		return volume.Log(vol)
	}
	return vol
}

// Range computes the color range of a prepared volume. Dichroic data gets
// [-P_hi(|v|), P_hi(|v|)]; other data [P_lo, P_hi].
func (s Scale) Range(vol *models.Volume) (ColorRange, error) {
	lo, hi := s.Percentiles[0], s.Percentiles[1]
	if s.Dichroic {
		_, cmax, err := volume.Percentiles(volume.Abs(vol).Data, lo, hi)
		if err != nil {
			return ColorRange{}, err
		}
		return ColorRange{Min: -cmax, Max: cmax}, nil
	}
	cmin, cmax, err := volume.Percentiles(vol.Data, lo, hi)
	if err != nil {
		return ColorRange{}, err
	}
	return ColorRange{Min: cmin, Max: cmax}, nil
}
