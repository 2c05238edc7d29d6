package visualization

import (
	"fmt"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// lutSize is the number of precomputed entries per colormap.
const lutSize = 256

// noDataColor is drawn for missing voxels.
var noDataColor = color.RGBA{R: 0xe8, G: 0xe8, B: 0xe8, A: 0xff}

// Colormap maps normalized values in [0, 1] to colors through a lookup table
// interpolated in CIE-L*a*b*.
type Colormap struct {
	Name string
	lut  []color.RGBA
}

var (
	viridisStops = []string{"#440154", "#482878", "#3e4989", "#31688e", "#26828e",
		"#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

	rdbuStops = []string{"#67001f", "#b2182b", "#d6604d", "#f4a582", "#fddbc7",
		"#f7f7f7", "#d1e5f0", "#92c5de", "#4393c3", "#2166ac", "#053061"}
)

// Viridis is the sequential colormap for intensities.
var Viridis = mustColormap("viridis", viridisStops)

// RdBu is the diverging colormap for signed data; zero maps to its
// neutral middle when the range is symmetric.
var RdBu = mustColormap("RdBu", rdbuStops)

func mustColormap(name string, stops []string) *Colormap {
	cm, err := NewColormap(name, stops)
	if err != nil {
		panic(err)
	}
	return cm
}

// NewColormap builds a colormap from evenly spaced hex color stops.
func NewColormap(name string, stops []string) (*Colormap, error) {
	if len(stops) < 2 {
		return nil, fmt.Errorf("colormap %s needs at least 2 stops", name)
	}
	colors := make([]colorful.Color, len(stops))
	for i, s := range stops {
		c, err := colorful.Hex(s)
		if err != nil {
			return nil, fmt.Errorf("colormap %s: %w", name, err)
		}
		colors[i] = c
	}

	lut := make([]color.RGBA, lutSize)
	segments := float64(len(colors) - 1)
	for i := range lut {
		pos := float64(i) / float64(lutSize-1) * segments
		seg := int(pos)
		if seg >= len(colors)-1 {
			seg = len(colors) - 2
		}
		c := colors[seg].BlendLab(colors[seg+1], pos-float64(seg)).Clamped()
		r, g, b := c.RGB255()
		lut[i] = color.RGBA{R: r, G: g, B: b, A: 0xff}
	}
	return &Colormap{Name: name, lut: lut}, nil
}

// At returns the color of t, clamped to [0, 1]. NaN yields the no-data color.
func (c *Colormap) At(t float64) color.RGBA {
	if math.IsNaN(t) {
		return noDataColor
	}
	t = math.Min(math.Max(t, 0), 1)
	return c.lut[int(math.Round(t*float64(lutSize-1)))]
}

// ColorRange is the value interval mapped onto a colormap.
type ColorRange struct {
	Min float64
	Max float64
}

// Normalize maps v into [0, 1], clamping values outside the range. Missing
// values stay NaN; a degenerate range maps everything to its middle.
func (r ColorRange) Normalize(v float64) float64 {
	if math.IsNaN(v) {
		return math.NaN()
	}
	span := r.Max - r.Min
	if span <= 0 {
		return 0.5
	}
	return math.Min(math.Max((v-r.Min)/span, 0), 1)
}

// Symmetric reports whether the range is centered on zero.
func (r ColorRange) Symmetric() bool {
	return r.Min == -r.Max
}
