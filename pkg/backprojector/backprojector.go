// Package backprojector smears sinogram rows back across an image grid,
// the adjoint of the parallel-beam projector.
package backprojector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"tomorecon/internal/logging"
	"tomorecon/internal/workers"
	"tomorecon/pkg/grid"
	"tomorecon/pkg/interpolation"
)

// ErrInvalidGeometry is returned for image geometries that cannot be filled.
var ErrInvalidGeometry = errors.New("backprojector: invalid geometry")

// Geometry describes the target image.
type Geometry struct {
	Width, Height int

	// Spacing is the physical pixel size per axis. Zero components mean 1.
	Spacing [2]float64

	// Origin is the physical position of pixel (0, 0). Nil centres the image
	// on the rotation axis.
	Origin *[2]float64

	// Scale multiplies every output pixel. Zero means 1; no other
	// normalisation is applied.
	Scale float64
}

// Validate reports whether g describes a usable image.
func (g Geometry) Validate() error {
	if g.Width < 1 || g.Height < 1 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidGeometry, g.Width, g.Height)
	}
	if g.Spacing[0] < 0 || g.Spacing[1] < 0 {
		return fmt.Errorf("%w: spacing %v", ErrInvalidGeometry, g.Spacing)
	}
	return nil
}

// NewImage allocates the empty target image described by g.
func (g Geometry) NewImage() *grid.Grid2D[float32] {
	img := grid.NewGrid2D[float32](g.Width, g.Height)
	sx, sy := g.Spacing[0], g.Spacing[1]
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}
	img.SetSpacing(sx, sy)
	if g.Origin != nil {
		img.SetOrigin(g.Origin[0], g.Origin[1])
	} else {
		img.CenterOrigin()
	}
	return img
}

// Option configures a backprojection call.
type Option func(*options)

type options struct {
	workers int
}

// WithWorkers bounds the number of goroutines. Values below one use every CPU.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// Backproject sums, for every image pixel, the sinogram value of the ray
// through it at each angle. Rows are distributed across workers and every
// pixel adds its angles in ascending order, so the result is the same for
// any worker count.
func Backproject(ctx context.Context, sino *grid.Grid2D[float32], g Geometry, opts ...Option) (*grid.Grid2D[float32], error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	scale := g.Scale
	if scale == 0 {
		scale = 1
	}

	start := time.Now()
	img := g.NewImage()
	nAngles := sino.Height()
	cos := make([]float64, nAngles)
	sin := make([]float64, nAngles)
	for k := range nAngles {
		_, theta := sino.IndexToPhysical(0, float64(k))
		rad := theta * math.Pi / 180
		cos[k], sin[k] = math.Cos(rad), math.Sin(rad)
	}
	ds := sino.Spacing()[0]
	s0 := sino.Origin()[0]

	err := workers.Range(ctx, img.Height(), o.workers, func(j int) error {
		row := img.Row(j)
		for i := range row {
			x, y := img.IndexToPhysical(float64(i), float64(j))
			var sum float64
			for k := 0; k < nAngles; k++ {
				s := x*cos[k] + y*sin[k]
				sum += float64(interpolation.Bilinear(sino, (s-s0)/ds, float64(k), interpolation.ZeroFill))
			}
			row[i] = float32(sum * scale)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Logger().Debug("backprojection finished",
		"width", g.Width,
		"height", g.Height,
		"angles", nAngles,
		"elapsed", time.Since(start))
	return img, nil
}
