package visualization

import (
	"fmt"
	"image"
	"image/gif"

	"rsmgrid/internal/models"
	"rsmgrid/pkg/volume"
)

// DetectorAnimation renders each detector frame of stack as one GIF frame,
// captioned with the mean (h, k, l) of its pixels. Frames are drawn as the
// detector records them, row 0 at the top. The linear color range starts at
// zero and ends at the high percentile of all frames; a log scale uses both
// percentiles.
func DetectorAnimation(stack *models.FrameStack, centers [][3]float64, opts Options) (*gif.GIF, error) {
	if stack.N == 0 {
		return nil, fmt.Errorf("no frames to animate")
	}
	if len(centers) != stack.N {
		return nil, fmt.Errorf("got %d frame centers for %d frames", len(centers), stack.N)
	}

	// Frames laid out [frame][row][col] read as a volume with col fastest
	frames := &models.Volume{Data: stack.Data, Dims: [3]int{stack.Width, stack.Height, stack.N}}
	if opts.Scale.Log {
		frames = volume.Log(frames)
	}
	lo, hi, err := volume.Percentiles(frames.Data, opts.Scale.Percentiles[0], opts.Scale.Percentiles[1])
	if err != nil {
		return nil, fmt.Errorf("computing color range: %w", err)
	}
	colors := ColorRange{Min: 0, Max: hi}
	if opts.Scale.Log {
		colors.Min = lo
	}

	annotator, err := NewAnnotator()
	if err != nil {
		return nil, err
	}

	s := max(opts.PixelScale, 1)
	size := stack.FrameSize()
	images := make([]*image.RGBA, stack.N)
	for f := range images {
		data := frames.Data[f*size : (f+1)*size]
		img := image.NewRGBA(image.Rect(0, 0, stack.Width*s, stack.Height*s+labelHeight))
		for r := 0; r < stack.Height; r++ {
			for c := 0; c < stack.Width; c++ {
				col := Viridis.At(colors.Normalize(data[r*stack.Width+c]))
				for dy := 0; dy < s; dy++ {
					for dx := 0; dx < s; dx++ {
						img.SetRGBA(c*s+dx, labelHeight+r*s+dy, col)
					}
				}
			}
		}
		if err := annotator.Caption(img, frameCaption(f, centers[f])); err != nil {
			return nil, err
		}
		images[f] = img
	}
	return buildGIF(images, opts.Delay), nil
}

// SaveDetectorAnimation writes DetectorAnimation to a GIF file.
func SaveDetectorAnimation(stack *models.FrameStack, centers [][3]float64, opts Options, path string) error {
	anim, err := DetectorAnimation(stack, centers, opts)
	if err != nil {
		return err
	}
	return writeGIF(anim, path)
}
