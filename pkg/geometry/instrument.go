// Package geometry converts diffractometer angles into reciprocal-space
// coordinates for every pixel of an area detector.
package geometry

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvalidAxis is returned for axis strings other than [xyz][+-].
var ErrInvalidAxis = errors.New("invalid axis specification")

// hcEVAngstrom is h*c in eV*Angstrom, converting photon energy to wavelength.
const hcEVAngstrom = 12398.419843320026

// Instrument describes a fixed diffractometer and area-detector setup.
// Values are copied into the converter at construction and never changed.
type Instrument struct {
	// SampleAxes lists the sample circles from outermost to innermost
	SampleAxes []string

	// DetectorAxes lists the detector circles from outermost to innermost
	DetectorAxes []string

	// Beam is the incident beam direction in the laboratory frame
	Beam [3]float64

	// DetectorDir1 and DetectorDir2 are the pixel directions along the first
	// (image rows) and second (image columns) detector dimension
	DetectorDir1 string
	DetectorDir2 string

	// CenterChannel1/2 are the pixel coordinates hit by the primary beam at
	// zero detector angles
	CenterChannel1 float64
	CenterChannel2 float64

	// Channels1/2 are the detector pixel counts along each dimension
	Channels1 int
	Channels2 int

	// PixelWidth1/2 are the pixel pitches, same unit as Distance
	PixelWidth1 float64
	PixelWidth2 float64

	// Distance is the sample-to-detector distance
	Distance float64
}

// DefaultInstrument returns the geometry of the four-circle setup with a
// 516x516 area detector the tool was first written for.
func DefaultInstrument() Instrument {
	return Instrument{
		SampleAxes:     []string{"x+", "z-", "y+", "z-"},
		DetectorAxes:   []string{"x+", "z-"},
		Beam:           [3]float64{0, 1, 0},
		DetectorDir1:   "x-",
		DetectorDir2:   "z-",
		CenterChannel1: 188,
		CenterChannel2: 146,
		Channels1:      516,
		Channels2:      516,
		PixelWidth1:    28.38 / 516,
		PixelWidth2:    28.38 / 516,
		Distance:       770,
	}
}

// Validate checks the instrument description.
func (in Instrument) Validate() error {
	for _, a := range append(append([]string{}, in.SampleAxes...), in.DetectorAxes...) {
		if _, _, err := parseAxis(a); err != nil {
			return err
		}
	}
	if len(in.SampleAxes) == 0 {
		return errors.New("at least one sample axis is required")
	}
	for _, d := range []string{in.DetectorDir1, in.DetectorDir2} {
		if _, _, err := parseAxis(d); err != nil {
			return fmt.Errorf("detector direction: %w", err)
		}
	}
	if r3.Norm(r3.Vec{X: in.Beam[0], Y: in.Beam[1], Z: in.Beam[2]}) == 0 {
		return errors.New("beam direction must be non-zero")
	}
	if in.Channels1 <= 0 || in.Channels2 <= 0 {
		return fmt.Errorf("detector channel counts must be positive, got %dx%d", in.Channels1, in.Channels2)
	}
	if in.PixelWidth1 <= 0 || in.PixelWidth2 <= 0 {
		return errors.New("pixel widths must be positive")
	}
	if in.Distance <= 0 {
		return errors.New("detector distance must be positive")
	}
	return nil
}

// parseAxis turns "x+", "z-" and the like into a unit vector and a sign
// (+1 right-handed, -1 left-handed).
func parseAxis(s string) (r3.Vec, float64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 {
		return r3.Vec{}, 0, fmt.Errorf("%w: %q", ErrInvalidAxis, s)
	}

	var v r3.Vec
	switch s[0] {
	case 'x':
		v = r3.Vec{X: 1}
	case 'y':
		v = r3.Vec{Y: 1}
	case 'z':
		v = r3.Vec{Z: 1}
	default:
		return r3.Vec{}, 0, fmt.Errorf("%w: %q", ErrInvalidAxis, s)
	}

	switch s[1] {
	case '+':
		return v, 1, nil
	case '-':
		return v, -1, nil
	default:
		return r3.Vec{}, 0, fmt.Errorf("%w: %q", ErrInvalidAxis, s)
	}
}

// Wavelength returns the X-ray wavelength in Angstrom for an energy in eV.
func Wavelength(energy float64) float64 {
	return hcEVAngstrom / energy
}
