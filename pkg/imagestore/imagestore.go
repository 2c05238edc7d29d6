// Package imagestore locates and decodes detector frames stored one image
// file per scan point.
package imagestore

import (
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	_ "golang.org/x/image/tiff"
)

// DefaultExt is the extension of the detector frames.
const DefaultExt = ".tif"

// Store resolves frames laid out as
// {Dir}/S{scan:03d}/{Prefix}_S{scan:03d}_{frame:05d}{Ext}.
type Store struct {
	Dir    string
	Prefix string
	Ext    string
}

// New creates a store. An empty ext selects DefaultExt.
func New(dir, prefix, ext string) *Store {
	if ext == "" {
		ext = DefaultExt
	}
	return &Store{Dir: dir, Prefix: prefix, Ext: ext}
}

func (s *Store) scanDir(scan int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("S%03d", scan))
}

// Path returns the file name of one frame.
func (s *Store) Path(scan, frame int) string {
	return filepath.Join(s.scanDir(scan), fmt.Sprintf("%s_S%03d_%05d%s", s.Prefix, scan, frame, s.Ext))
}

// Count returns how many frames exist on disk for a scan.
func (s *Store) Count(scan int) (int, error) {
	pattern := filepath.Join(s.scanDir(scan), fmt.Sprintf("%s_S%03d_*%s", s.Prefix, scan, s.Ext))
	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return 0, fmt.Errorf("pattern matching failed: %w", err)
	}
	return len(matches), nil
}

// Load decodes one frame into a row-major array of height*width counts.
func (s *Store) Load(scan, frame int) ([]float64, int, int, error) {
	path := s.Path(scan, frame)
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()

	data, h, w, err := Decode(f)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("error decoding %s: %w", path, err)
	}
	return data, h, w, nil
}

// Decode reads a TIFF or PNG image. Gray images are read as raw counts;
// other color models use their 16-bit luminance.
func Decode(r io.Reader) ([]float64, int, int, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, 0, 0, err
	}

	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	data := make([]float64, h*w)

	switch src := img.(type) {
	case *image.Gray16:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				data[y*w+x] = float64(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	case *image.Gray:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				data[y*w+x] = float64(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				data[y*w+x] = float64(g.Y)
			}
		}
	}

	return data, h, w, nil
}
