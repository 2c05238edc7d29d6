package visualization

import (
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"os"
)

// buildGIF quantizes frames to the Plan9 palette with Floyd-Steinberg
// dithering. The animation loops forever.
func buildGIF(frames []*image.RGBA, delay int) *gif.GIF {
	out := &gif.GIF{LoopCount: 0}
	for _, rgba := range frames {
		pimg := image.NewPaletted(rgba.Bounds(), palette.Plan9)
		draw.FloydSteinberg.Draw(pimg, pimg.Bounds(), rgba, image.Point{})
		out.Image = append(out.Image, pimg)
		out.Delay = append(out.Delay, delay)
	}
	return out
}

func writeGIF(anim *gif.GIF, path string) error {
	if len(anim.Image) == 0 {
		return fmt.Errorf("animation has no frames")
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := gif.EncodeAll(f, anim); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode animation: %w", err)
	}
	return f.Close()
}
