// Package projector computes the parallel-beam Radon transform of an image by
// ray-driven line integration.
package projector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"tomorecon/internal/logging"
	"tomorecon/internal/workers"
	"tomorecon/pkg/geometry"
	"tomorecon/pkg/grid"
	"tomorecon/pkg/interpolation"
)

// DefaultSampleSpacing is the physical step used along every ray when the
// geometry does not set one.
const DefaultSampleSpacing = 0.5

// ErrInvalidGeometry is returned for geometries that cannot produce a sinogram.
var ErrInvalidGeometry = errors.New("projector: invalid geometry")

// Geometry describes a parallel-beam acquisition.
type Geometry struct {
	// NumProjections is the number of projection angles.
	NumProjections int

	// AngularIncrement is the angle step in degrees. Zero spreads the
	// projections over 180 degrees.
	AngularIncrement float64

	// StartAngle is the angle of the first projection in degrees.
	StartAngle float64

	// NumDetectorPixels is the sinogram width.
	NumDetectorPixels int

	// DetectorSpacing is the physical detector pitch.
	DetectorSpacing float64

	// SampleSpacing is the Riemann-sum step along each ray. Zero selects
	// DefaultSampleSpacing.
	SampleSpacing float64
}

// WithDefaults returns g with zero-valued optional fields filled in.
func (g Geometry) WithDefaults() Geometry {
	if g.AngularIncrement == 0 && g.NumProjections > 0 {
		g.AngularIncrement = 180 / float64(g.NumProjections)
	}
	if g.SampleSpacing == 0 {
		g.SampleSpacing = DefaultSampleSpacing
	}
	if g.DetectorSpacing == 0 {
		g.DetectorSpacing = 1
	}
	return g
}

// Validate reports whether g can be projected.
func (g Geometry) Validate() error {
	switch {
	case g.NumProjections < 1:
		return fmt.Errorf("%w: %d projections", ErrInvalidGeometry, g.NumProjections)
	case g.NumDetectorPixels < 1:
		return fmt.Errorf("%w: %d detector pixels", ErrInvalidGeometry, g.NumDetectorPixels)
	case g.DetectorSpacing <= 0:
		return fmt.Errorf("%w: detector spacing %g", ErrInvalidGeometry, g.DetectorSpacing)
	case g.SampleSpacing <= 0:
		return fmt.Errorf("%w: sample spacing %g", ErrInvalidGeometry, g.SampleSpacing)
	case g.AngularIncrement == 0:
		return fmt.Errorf("%w: zero angular increment", ErrInvalidGeometry)
	}
	return nil
}

// NewSinogram allocates an empty sinogram for g: axis 0 is the detector
// offset centred on the rotation axis, axis 1 the projection angle in degrees.
func (g Geometry) NewSinogram() *grid.Grid2D[float32] {
	sino := grid.NewGrid2D[float32](g.NumDetectorPixels, g.NumProjections)
	sino.SetSpacing(g.DetectorSpacing, g.AngularIncrement)
	sino.SetOrigin(grid.CenteredOrigin(g.NumDetectorPixels, g.DetectorSpacing), g.StartAngle)
	return sino
}

// Option configures a projection call.
type Option func(*options)

type options struct {
	workers int
}

// WithWorkers bounds the number of goroutines. Values below one use every CPU.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// Project computes the sinogram of img. Every angle is integrated by its own
// task and writes only its own sinogram row, so the result does not depend
// on the number of workers.
func Project(ctx context.Context, img *grid.Grid2D[float32], g Geometry, opts ...Option) (*grid.Grid2D[float32], error) {
	g = g.WithDefaults()
	if err := g.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	sino := g.NewSinogram()
	box := geometry.BoxFromGrid(img)

	err := workers.Range(ctx, g.NumProjections, o.workers, func(k int) error {
		_, theta := sino.IndexToPhysical(0, float64(k))
		rad := theta * math.Pi / 180
		cos, sin := math.Cos(rad), math.Sin(rad)
		dir := r2.Vec{X: -sin, Y: cos}

		row := sino.Row(k)
		for i := range row {
			s, _ := sino.IndexToPhysical(float64(i), 0)
			ray := geometry.Ray{Point: r2.Vec{X: s * cos, Y: s * sin}, Dir: dir}
			row[i] = float32(LineIntegral(img, box, ray, g.SampleSpacing))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Logger().Debug("parallel projection finished",
		"angles", g.NumProjections,
		"detectorPixels", g.NumDetectorPixels,
		"elapsed", time.Since(start))
	return sino, nil
}

// LineIntegral integrates img along the chord of ray inside box with the
// midpoint rule. The step is the largest value not exceeding sampleSpacing
// that divides the chord evenly. A ray that misses or grazes the box
// contributes nothing. ray.Dir must be a unit vector.
func LineIntegral(img *grid.Grid2D[float32], box geometry.Box, ray geometry.Ray, sampleSpacing float64) float64 {
	t0, t1, ok := box.Clip(ray)
	if !ok {
		return 0
	}
	length := t1 - t0
	n := int(math.Ceil(length / sampleSpacing))
	if n < 1 {
		n = 1
	}
	step := length / float64(n)

	var sum float64
	for k := 0; k < n; k++ {
		p := ray.At(t0 + (float64(k)+0.5)*step)
		sum += float64(interpolation.AtPhysical(img, p.X, p.Y, interpolation.ZeroFill))
	}
	return sum * step
}
