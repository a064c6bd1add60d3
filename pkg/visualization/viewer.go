// Package visualization turns image grids, sinograms and kernels into
// viewable 16-bit grayscale images and writes pipeline checkpoints to disk.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/image/tiff"

	"tomorecon/internal/logging"
	"tomorecon/pkg/grid"
)

// Supported output formats.
const (
	FormatPNG  = "png"
	FormatTIFF = "tiff"
	FormatJPEG = "jpeg"
)

// ToImage maps g onto a Gray16 image, stretching its minimum to black and
// its maximum to white. A constant grid maps to black. Row 0 of the grid
// is drawn at the bottom, so the physical y axis points up.
func ToImage(g *grid.Grid2D[float32]) *image.Gray16 {
	w, h := g.Width(), g.Height()
	img := image.NewGray16(image.Rect(0, 0, w, h))
	if len(g.Data()) == 0 {
		return img
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range g.Data() {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		lo = math.Min(lo, f)
		hi = math.Max(hi, f)
	}
	span := hi - lo
	if !(span > 0) {
		return img
	}

	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			f := (float64(g.At(i, j)) - lo) / span
			if math.IsNaN(f) {
				f = 0
			}
			value := uint16(math.Max(0, math.Min(65535, math.Round(f*65535))))
			img.SetGray16(i, h-1-j, color.Gray16{Y: value})
		}
	}
	return img
}

// SaveImage writes img to filename in the given format.
func SaveImage(img image.Image, filename, format string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	switch format {
	case FormatPNG:
		err = png.Encode(file, img)
	case FormatTIFF:
		err = tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate})
	case FormatJPEG:
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		err = fmt.Errorf("unknown image format %q", format)
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}

// extension returns the file extension for format.
func extension(format string) string {
	if format == FormatJPEG {
		return "jpg"
	}
	return format
}

// Sink saves every grid it observes as an image file named
// <seq>_<checkpoint>.<ext> in its directory, so that a directory listing
// follows the pipeline order. It satisfies reconstruction.Observer and is
// safe for concurrent use.
type Sink struct {
	dir    string
	format string

	mu    sync.Mutex
	seq   int
	files []string
	err   error
}

// NewSink creates dir if needed and returns a Sink writing format files.
func NewSink(dir, format string) (*Sink, error) {
	format = strings.ToLower(format)
	if format == "jpg" {
		format = FormatJPEG
	}
	switch format {
	case FormatPNG, FormatTIFF, FormatJPEG:
	default:
		return nil, fmt.Errorf("unknown image format %q", format)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Sink{dir: dir, format: format}, nil
}

// Save writes g under name and returns the file path.
func (s *Sink) Save(name string, g *grid.Grid2D[float32]) (string, error) {
	s.mu.Lock()
	s.seq++
	filename := filepath.Join(s.dir, fmt.Sprintf("%02d_%s.%s", s.seq, name, extension(s.format)))
	s.mu.Unlock()

	if err := SaveImage(ToImage(g), filename, s.format); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.files = append(s.files, filename)
	s.mu.Unlock()
	return filename, nil
}

// Observe saves the checkpoint grid. Failures are logged and kept for Err;
// they never interrupt the pipeline.
func (s *Sink) Observe(checkpoint string, g *grid.Grid2D[float32]) {
	filename, err := s.Save(checkpoint, g)
	if err != nil {
		logging.Logger().Warn("failed to save checkpoint", "checkpoint", checkpoint, "error", err)
		s.mu.Lock()
		if s.err == nil {
			s.err = err
		}
		s.mu.Unlock()
		return
	}
	logging.Logger().Debug("checkpoint saved", "checkpoint", checkpoint, "file", filename)
}

// Files returns the paths written so far, in order.
func (s *Sink) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}

// Err returns the first error met by Observe.
func (s *Sink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
