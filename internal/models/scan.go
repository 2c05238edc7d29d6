package models

import "fmt"

// AngleSet holds the per-frame goniometer angles of a scan in degrees.
// The field order matches the order the geometry converter consumes them:
// four sample circles followed by the two detector circles.
type AngleSet struct {
	Mu    []float64
	Eta   []float64
	Chi   []float64
	Phi   []float64
	Nu    []float64
	Delta []float64
}

// Ordered returns the six angle channels as [mu, eta, chi, phi, nu, delta].
func (a AngleSet) Ordered() [6][]float64 {
	return [6][]float64{a.Mu, a.Eta, a.Chi, a.Phi, a.Nu, a.Delta}
}

// Len returns the number of frames described by the angle set, or an error
// if the channels disagree on it.
func (a AngleSet) Len() (int, error) {
	channels := a.Ordered()
	n := len(channels[0])
	for i, ch := range channels[1:] {
		if len(ch) != n {
			return 0, fmt.Errorf("angle channel %d has %d values, expected %d", i+1, len(ch), n)
		}
	}
	return n, nil
}

// Frame returns the angles of frame i split into the sample circles and the
// detector circles.
func (a AngleSet) Frame(i int) (sample [4]float64, detector [2]float64) {
	sample = [4]float64{a.Mu[i], a.Eta[i], a.Chi[i], a.Phi[i]}
	detector = [2]float64{a.Nu[i], a.Delta[i]}
	return sample, detector
}

// Scan is one diffractometer measurement as read from the SPEC file
type Scan struct {
	// Number is the scan number, Key the "{number}.{occurrence}" identifier
	Number int
	Key    string

	// Angles holds the per-frame motor positions
	Angles AngleSet

	// Monitor is the normalized incident-beam monitor, mean 1 across the scan
	Monitor []float64

	// UB is the orientation matrix in row-major order
	UB [9]float64

	// Energy is the beam energy in eV
	Energy float64
}

// Frames returns the number of frames in the scan.
func (s *Scan) Frames() int {
	return len(s.Monitor)
}

// FrameStack is a contiguous stack of detector images, [N][Height][Width]
// flattened in row-major order.
type FrameStack struct {
	Data   []float64
	N      int
	Height int
	Width  int
}

// NewFrameStack allocates a zeroed stack.
func NewFrameStack(n, height, width int) *FrameStack {
	return &FrameStack{
		Data:   make([]float64, n*height*width),
		N:      n,
		Height: height,
		Width:  width,
	}
}

// FrameSize returns the number of pixels in one frame.
func (f *FrameStack) FrameSize() int {
	return f.Height * f.Width
}

// Frame returns the pixels of frame i. The returned slice aliases the stack.
func (f *FrameStack) Frame(i int) []float64 {
	size := f.FrameSize()
	return f.Data[i*size : (i+1)*size]
}
