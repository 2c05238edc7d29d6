package geometry

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"rsmgrid/internal/models"
)

// ErrSingularOrientation is returned when the orientation matrix cannot be
// inverted.
var ErrSingularOrientation = errors.New("orientation matrix is singular")

// rotAxis is a goniometer circle: a laboratory axis and its handedness.
type rotAxis struct {
	dir  r3.Vec
	sign float64
}

// matrix returns the rotation by angle degrees about the axis.
func (a rotAxis) matrix(angle float64) *mat.Dense {
	theta := a.sign * angle * math.Pi / 180
	c, s := math.Cos(theta), math.Sin(theta)
	u := a.dir

	// Rodrigues: R = cI + s[u]x + (1-c) u u^T
	return mat.NewDense(3, 3, []float64{
		c + u.X*u.X*(1-c), u.X*u.Y*(1-c) - u.Z*s, u.X*u.Z*(1-c) + u.Y*s,
		u.Y*u.X*(1-c) + u.Z*s, c + u.Y*u.Y*(1-c), u.Y*u.Z*(1-c) - u.X*s,
		u.Z*u.X*(1-c) - u.Y*s, u.Z*u.Y*(1-c) + u.X*s, c + u.Z*u.Z*(1-c),
	})
}

// mat3 is a row-major 3x3 matrix used in the per-pixel loop.
type mat3 [9]float64

func toMat3(m mat.Matrix) mat3 {
	var out mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[3*i+j] = m.At(i, j)
		}
	}
	return out
}

func (m mat3) mulVec(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0]*v.X + m[1]*v.Y + m[2]*v.Z,
		Y: m[3]*v.X + m[4]*v.Y + m[5]*v.Z,
		Z: m[6]*v.X + m[7]*v.Y + m[8]*v.Z,
	}
}

// QConversion maps per-frame goniometer angles to (h, k, l) for every
// detector pixel of an Instrument.
type QConversion struct {
	inst     Instrument
	sample   []rotAxis
	detector []rotAxis
	beam     r3.Vec
	dir1     r3.Vec
	dir2     r3.Vec
	workers  int
}

// NewQConversion validates the instrument and prepares a converter.
// workers below 1 select runtime.NumCPU().
func NewQConversion(inst Instrument, workers int) (*QConversion, error) {
	if err := inst.Validate(); err != nil {
		return nil, fmt.Errorf("invalid instrument: %w", err)
	}
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	inst.SampleAxes = append([]string(nil), inst.SampleAxes...)
	inst.DetectorAxes = append([]string(nil), inst.DetectorAxes...)

	c := &QConversion{
		inst:    inst,
		beam:    r3.Unit(r3.Vec{X: inst.Beam[0], Y: inst.Beam[1], Z: inst.Beam[2]}),
		workers: workers,
	}
	// Validate already rejected malformed axis strings
	for _, s := range inst.SampleAxes {
		dir, sign, _ := parseAxis(s)
		c.sample = append(c.sample, rotAxis{dir: dir, sign: sign})
	}
	for _, s := range inst.DetectorAxes {
		dir, sign, _ := parseAxis(s)
		c.detector = append(c.detector, rotAxis{dir: dir, sign: sign})
	}
	d1, s1, _ := parseAxis(inst.DetectorDir1)
	d2, s2, _ := parseAxis(inst.DetectorDir2)
	c.dir1 = r3.Scale(s1, d1)
	c.dir2 = r3.Scale(s2, d2)
	return c, nil
}

// Instrument returns the geometry the converter was built with.
func (c *QConversion) Instrument() Instrument {
	return c.inst
}

// PixelsPerFrame returns Channels1 * Channels2.
func (c *QConversion) PixelsPerFrame() int {
	return c.inst.Channels1 * c.inst.Channels2
}

// compose multiplies the rotations of the given circles, outermost first.
func compose(axes []rotAxis, angles []float64) *mat.Dense {
	out := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	for i, a := range axes {
		var next mat.Dense
		next.Mul(out, a.matrix(angles[i]))
		out = &next
	}
	return out
}

// Area converts every frame of a scan. The six angle channels are consumed
// in the order [mu, eta, chi, phi, nu, delta]: the first len(SampleAxes)
// drive the sample circles, the rest the detector circles. The returned
// arrays are laid out [frame][channel1][channel2], channel 1 being the
// image row.
func (c *QConversion) Area(angles models.AngleSet, ub [9]float64, energy float64) (qx, qy, qz []float64, err error) {
	n, err := angles.Len()
	if err != nil {
		return nil, nil, nil, err
	}
	channels := angles.Ordered()
	if len(c.sample)+len(c.detector) != len(channels) {
		return nil, nil, nil, fmt.Errorf("instrument has %d sample and %d detector circles, angle set provides %d",
			len(c.sample), len(c.detector), len(channels))
	}
	if !(energy > 0) {
		return nil, nil, nil, fmt.Errorf("beam energy must be positive, got %g", energy)
	}

	var inv mat.Dense
	if err := inv.Inverse(mat.NewDense(3, 3, append([]float64(nil), ub[:]...))); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrSingularOrientation, err)
	}
	ubInv := &inv

	k := 2 * math.Pi / Wavelength(energy)
	size := c.PixelsPerFrame()
	qx = make([]float64, n*size)
	qy = make([]float64, n*size)
	qz = make([]float64, n*size)

	convertFrame := func(f int) {
		sampleAngles := make([]float64, len(c.sample))
		detectorAngles := make([]float64, len(c.detector))
		for i := range c.sample {
			sampleAngles[i] = channels[i][f]
		}
		for i := range c.detector {
			detectorAngles[i] = channels[len(c.sample)+i][f]
		}

		// hkl = UB^-1 * S^T * q_lab
		var toHKL mat.Dense
		toHKL.Mul(ubInv, compose(c.sample, sampleAngles).T())
		t := toMat3(&toHKL)
		d := toMat3(compose(c.detector, detectorAngles))

		center := d.mulVec(r3.Scale(c.inst.Distance, c.beam))
		step1 := d.mulVec(r3.Scale(c.inst.PixelWidth1, c.dir1))
		step2 := d.mulVec(r3.Scale(c.inst.PixelWidth2, c.dir2))
		ki := r3.Scale(k, c.beam)

		base := f * size
		for i := 0; i < c.inst.Channels1; i++ {
			row := r3.Add(center, r3.Scale(float64(i)-c.inst.CenterChannel1, step1))
			for j := 0; j < c.inst.Channels2; j++ {
				pixel := r3.Add(row, r3.Scale(float64(j)-c.inst.CenterChannel2, step2))
				kf := r3.Scale(k, r3.Unit(pixel))
				q := t.mulVec(r3.Sub(kf, ki))

				idx := base + i*c.inst.Channels2 + j
				qx[idx], qy[idx], qz[idx] = q.X, q.Y, q.Z
			}
		}
	}

	// Frames are independent and write disjoint ranges
	workers := min(c.workers, n)
	if workers <= 1 {
		for f := 0; f < n; f++ {
			convertFrame(f)
		}
		return qx, qy, qz, nil
	}

	framesPerWorker := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * framesPerWorker
		if start >= n {
			break
		}
		end := min(start+framesPerWorker, n)
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for f := start; f < end; f++ {
				convertFrame(f)
			}
		}(start, end)
	}
	wg.Wait()

	return qx, qy, qz, nil
}
