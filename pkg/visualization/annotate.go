package visualization

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	dpi      float64 = 72
	fontSize float64 = 13

	// labelHeight is the height of the caption bar above each image
	labelHeight = 22
)

// Annotator writes captions into a bar at the top of rendered images.
type Annotator struct {
	context *freetype.Context
}

// NewAnnotator prepares a freetype context with the Go regular font.
func NewAnnotator() (*Annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	context := freetype.NewContext()
	context.SetDPI(dpi)
	context.SetFont(parsedFont)
	context.SetFontSize(fontSize)
	context.SetSrc(image.White)
	context.SetHinting(font.HintingFull)

	return &Annotator{context: context}, nil
}

// Caption fills the caption bar of img and draws text into it.
func (a *Annotator) Caption(img *image.RGBA, text string) error {
	bar := image.Rect(img.Rect.Min.X, img.Rect.Min.Y, img.Rect.Max.X, img.Rect.Min.Y+labelHeight)
	draw.Draw(img, bar, image.Black, image.Point{}, draw.Src)

	a.context.SetClip(bar)
	a.context.SetDst(img)

	baseline := int(a.context.PointToFixed(fontSize) >> 6)
	pt := freetype.Pt(bar.Min.X+6, bar.Min.Y+(labelHeight+baseline)/2-1)
	if _, err := a.context.DrawString(text, pt); err != nil {
		return fmt.Errorf("drawing caption: %w", err)
	}
	return nil
}

// formatCoord prints a reciprocal-space coordinate with four significant
// decimals, dropping trailing zeros.
func formatCoord(v float64) string {
	return humanize.FtoaWithDigits(v, 4)
}

// sliceCaption labels a plane with its axis and position, e.g. "L = 1.25".
func sliceCaption(p *Plane) string {
	return fmt.Sprintf("%s = %s  [%d/%d]", p.Normal, formatCoord(p.Value), p.Index+1, p.Count)
}

// frameCaption labels a detector frame with its mean (h, k, l).
func frameCaption(frame int, hkl [3]float64) string {
	return fmt.Sprintf("frame %d  H = %s  K = %s  L = %s",
		frame, formatCoord(hkl[0]), formatCoord(hkl[1]), formatCoord(hkl[2]))
}
