package geometry

import (
	"errors"
	"math"
	"testing"

	"rsmgrid/internal/models"
)

var identityUB = [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}

// smallInstrument is the default geometry shrunk to a 5x7 detector
func smallInstrument() Instrument {
	in := DefaultInstrument()
	in.Channels1 = 5
	in.Channels2 = 7
	in.CenterChannel1 = 2
	in.CenterChannel2 = 3
	in.PixelWidth1 = 1
	in.PixelWidth2 = 1
	in.Distance = 100
	return in
}

func constantAngles(n int, mu, eta, chi, phi, nu, delta float64) models.AngleSet {
	fill := func(v float64) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = v
		}
		return out
	}
	return models.AngleSet{
		Mu: fill(mu), Eta: fill(eta), Chi: fill(chi),
		Phi: fill(phi), Nu: fill(nu), Delta: fill(delta),
	}
}

func norm(x, y, z float64) float64 {
	return math.Sqrt(x*x + y*y + z*z)
}

func TestCenterPixelAtZeroAnglesIsOrigin(t *testing.T) {
	c, err := NewQConversion(smallInstrument(), 1)
	if err != nil {
		t.Fatalf("Failed to create converter: %v", err)
	}
	qx, qy, qz, err := c.Area(constantAngles(1, 0, 0, 0, 0, 0, 0), identityUB, 10000)
	if err != nil {
		t.Fatalf("Area failed: %v", err)
	}

	idx := 2*7 + 3
	if n := norm(qx[idx], qy[idx], qz[idx]); n > 1e-12 {
		t.Errorf("Expected q = 0 at the center pixel, got |q| = %g", n)
	}
}

// TestDetectorDirections checks that image rows follow the first detector
// direction and columns the second
func TestDetectorDirections(t *testing.T) {
	c, _ := NewQConversion(smallInstrument(), 1)
	qx, qy, qz, err := c.Area(constantAngles(1, 0, 0, 0, 0, 0, 0), identityUB, 10000)
	if err != nil {
		t.Fatalf("Area failed: %v", err)
	}

	// One row below the center: direction "x-"
	below := 3*7 + 3
	if !(qx[below] < 0) || math.Abs(qz[below]) > 1e-12 {
		t.Errorf("Expected row step along -x, got q = (%g, %g, %g)", qx[below], qy[below], qz[below])
	}

	// One column right of the center: direction "z-"
	right := 2*7 + 4
	if !(qz[right] < 0) || math.Abs(qx[right]) > 1e-12 {
		t.Errorf("Expected column step along -z, got q = (%g, %g, %g)", qx[right], qy[right], qz[right])
	}
}

// TestBraggMagnitude checks |q| = 2k sin(2theta/2) for the center pixel
func TestBraggMagnitude(t *testing.T) {
	c, _ := NewQConversion(smallInstrument(), 1)
	energy := 8048.0
	k := 2 * math.Pi / Wavelength(energy)

	for _, delta := range []float64{10, 30, 60} {
		qx, qy, qz, err := c.Area(constantAngles(1, 5, 12, 3, 40, 0, delta), identityUB, energy)
		if err != nil {
			t.Fatalf("Area failed: %v", err)
		}
		idx := 2*7 + 3
		want := 2 * k * math.Sin(delta/2*math.Pi/180)
		if got := norm(qx[idx], qy[idx], qz[idx]); math.Abs(got-want) > 1e-9 {
			t.Errorf("delta=%g: expected |q| = %g, got %g", delta, want, got)
		}
	}
}

func TestOrientationMatrixApplied(t *testing.T) {
	c, _ := NewQConversion(smallInstrument(), 1)
	angles := constantAngles(1, 0, 10, 0, 0, 0, 25)

	qx1, qy1, qz1, err := c.Area(angles, identityUB, 9000)
	if err != nil {
		t.Fatalf("Area failed: %v", err)
	}
	scaled := [9]float64{2, 0, 0, 0, 4, 0, 0, 0, 0.5}
	qx2, qy2, qz2, err := c.Area(angles, scaled, 9000)
	if err != nil {
		t.Fatalf("Area failed: %v", err)
	}

	for i := range qx1 {
		if math.Abs(qx2[i]-qx1[i]/2) > 1e-12 || math.Abs(qy2[i]-qy1[i]/4) > 1e-12 || math.Abs(qz2[i]-qz1[i]*2) > 1e-12 {
			t.Fatalf("Pixel %d: expected hkl = UB^-1 q", i)
		}
	}
}

// TestFrameLayout checks [frame][row][col] ordering and worker independence
func TestFrameLayout(t *testing.T) {
	single, _ := NewQConversion(smallInstrument(), 1)
	parallel, _ := NewQConversion(smallInstrument(), 4)

	angles := models.AngleSet{
		Mu:    []float64{0, 1, 2},
		Eta:   []float64{5, 10, 15},
		Chi:   []float64{0, 0, 1},
		Phi:   []float64{20, 21, 22},
		Nu:    []float64{0, 2, 4},
		Delta: []float64{30, 31, 32},
	}
	qx, qy, qz, err := parallel.Area(angles, identityUB, 10000)
	if err != nil {
		t.Fatalf("Area failed: %v", err)
	}
	size := 5 * 7
	if len(qx) != 3*size {
		t.Fatalf("Expected %d values, got %d", 3*size, len(qx))
	}

	for f := 0; f < 3; f++ {
		one := constantAngles(1, angles.Mu[f], angles.Eta[f], angles.Chi[f], angles.Phi[f], angles.Nu[f], angles.Delta[f])
		fx, fy, fz, err := single.Area(one, identityUB, 10000)
		if err != nil {
			t.Fatalf("Area failed: %v", err)
		}
		for p := 0; p < size; p++ {
			i := f*size + p
			if qx[i] != fx[p] || qy[i] != fy[p] || qz[i] != fz[p] {
				t.Fatalf("Frame %d pixel %d differs from single-frame conversion", f, p)
			}
		}
	}
}

func TestAreaErrors(t *testing.T) {
	c, _ := NewQConversion(smallInstrument(), 1)

	singular := [9]float64{1, 2, 3, 2, 4, 6, 0, 0, 1}
	if _, _, _, err := c.Area(constantAngles(1, 0, 0, 0, 0, 0, 0), singular, 10000); !errors.Is(err, ErrSingularOrientation) {
		t.Errorf("Expected ErrSingularOrientation, got %v", err)
	}

	if _, _, _, err := c.Area(constantAngles(1, 0, 0, 0, 0, 0, 0), identityUB, 0); err == nil {
		t.Error("Expected error for zero energy")
	}

	ragged := constantAngles(2, 0, 0, 0, 0, 0, 0)
	ragged.Delta = ragged.Delta[:1]
	if _, _, _, err := c.Area(ragged, identityUB, 10000); err == nil {
		t.Error("Expected error for angle channels of different length")
	}
}

func TestInstrumentValidation(t *testing.T) {
	in := DefaultInstrument()
	if err := in.Validate(); err != nil {
		t.Fatalf("Default instrument should be valid: %v", err)
	}

	bad := DefaultInstrument()
	bad.SampleAxes = []string{"x+", "w-", "y+", "z-"}
	if _, err := NewQConversion(bad, 1); !errors.Is(err, ErrInvalidAxis) {
		t.Errorf("Expected ErrInvalidAxis, got %v", err)
	}

	bad = DefaultInstrument()
	bad.Distance = 0
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for zero distance")
	}
}

func TestParseAxis(t *testing.T) {
	v, sign, err := parseAxis("z-")
	if err != nil || v.Z != 1 || sign != -1 {
		t.Errorf("Unexpected parse of z-: %v %v %v", v, sign, err)
	}
	if _, _, err := parseAxis("x"); err == nil {
		t.Error("Expected error for missing handedness")
	}
}
