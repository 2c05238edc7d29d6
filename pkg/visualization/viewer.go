// Package visualization renders reciprocal-space volumes and detector frames
// as annotated images and animations.
package visualization

import (
	"fmt"
	"image"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"

	"rsmgrid/internal/models"
)

// Options control rendering.
type Options struct {
	Scale Scale

	// PixelScale is the edge length in image pixels of one voxel
	PixelScale int

	// Delay is the time between animation frames in 1/100 s
	Delay int
}

// DefaultOptions returns 50/99 percentile scaling, 8 pixels per voxel and
// five animation frames per second.
func DefaultOptions() Options {
	return Options{Scale: DefaultScale(), PixelScale: 8, Delay: 20}
}

// Viewer renders slices of one volume with a color range fixed over the
// whole volume, so that every slice of an animation shares one scale.
type Viewer struct {
	// volume is the displayed volume, after the log transform if any
	volume *models.Volume

	opts      Options
	colormap  *Colormap
	colors    ColorRange
	annotator *Annotator
}

// NewViewer prepares vol for display and computes its color range.
func NewViewer(vol *models.Volume, opts Options) (*Viewer, error) {
	if opts.PixelScale < 1 {
		opts.PixelScale = 1
	}
	display := opts.Scale.Prepare(vol)
	colors, err := opts.Scale.Range(display)
	if err != nil {
		return nil, fmt.Errorf("computing color range: %w", err)
	}
	annotator, err := NewAnnotator()
	if err != nil {
		return nil, err
	}
	return &Viewer{
		volume:    display,
		opts:      opts,
		colormap:  opts.Scale.Colormap(),
		colors:    colors,
		annotator: annotator,
	}, nil
}

// ColorRange returns the value range mapped onto the colormap.
func (v *Viewer) ColorRange() ColorRange {
	return v.colors
}

// Count returns the number of slices along axis.
func (v *Viewer) Count(axis Axis) int {
	return v.volume.Dims[axis]
}

// Slice extracts a plane of the displayed volume.
func (v *Viewer) Slice(axis Axis, index int) (*Plane, error) {
	return Slice(v.volume, axis, index)
}

// Render draws a plane with its Y axis pointing up and a caption bar on top.
func (v *Viewer) Render(p *Plane) (*image.RGBA, error) {
	s := v.opts.PixelScale
	img := image.NewRGBA(image.Rect(0, 0, p.Cols*s, p.Rows*s+labelHeight))

	for r := 0; r < p.Rows; r++ {
		top := labelHeight + (p.Rows-1-r)*s
		for c := 0; c < p.Cols; c++ {
			col := v.colormap.At(v.colors.Normalize(p.At(r, c)))
			for dy := 0; dy < s; dy++ {
				for dx := 0; dx < s; dx++ {
					img.SetRGBA(c*s+dx, top+dy, col)
				}
			}
		}
	}

	if err := v.annotator.Caption(img, sliceCaption(p)); err != nil {
		return nil, err
	}
	return img, nil
}

// RenderSlice extracts and draws one slice.
func (v *Viewer) RenderSlice(axis Axis, index int) (*image.RGBA, error) {
	p, err := v.Slice(axis, index)
	if err != nil {
		return nil, err
	}
	return v.Render(p)
}

// SliceFileName returns the PNG name of a slice, e.g. "slice_L_007.png".
func SliceFileName(axis Axis, index int) string {
	return fmt.Sprintf("slice_%s_%03d.png", axis, index)
}

// SaveSlice writes one slice as a PNG file.
func (v *Viewer) SaveSlice(axis Axis, index int, path string) error {
	img, err := v.RenderSlice(axis, index)
	if err != nil {
		return err
	}
	return writePNG(img, path)
}

// SaveSliceSequence writes every slice along axis into dir, visiting the
// indices from start upwards and wrapping. It returns the written paths in
// that order.
func (v *Viewer) SaveSliceSequence(axis Axis, start int, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	order := Order(v.Count(axis), start)
	paths := make([]string, 0, len(order))
	for _, i := range order {
		path := filepath.Join(dir, SliceFileName(axis, i))
		if err := v.SaveSlice(axis, i, path); err != nil {
			return nil, fmt.Errorf("failed to save slice %d: %w", i, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Animation renders every slice along axis into an animated GIF whose
// frames run in ascending index order beginning at start.
func (v *Viewer) Animation(axis Axis, start int) (*gif.GIF, error) {
	order := Order(v.Count(axis), start)
	frames := make([]*image.RGBA, 0, len(order))
	for _, i := range order {
		img, err := v.RenderSlice(axis, i)
		if err != nil {
			return nil, err
		}
		frames = append(frames, img)
	}
	return buildGIF(frames, v.opts.Delay), nil
}

// SaveAnimation writes the animation along axis to a GIF file.
func (v *Viewer) SaveAnimation(axis Axis, start int, path string) error {
	anim, err := v.Animation(axis, start)
	if err != nil {
		return err
	}
	return writeGIF(anim, path)
}

func writePNG(img image.Image, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return f.Close()
}
