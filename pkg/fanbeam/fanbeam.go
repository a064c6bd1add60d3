// Package fanbeam simulates a point-source, flat-detector acquisition and
// rebins the resulting fanogram onto an equivalent parallel-beam sinogram.
//
// The source rotates on a circle of radius DistSourceIso. At rotation angle
// β it sits at DistSourceIso·(−sinβ, cosβ); the detector is perpendicular
// to the central ray, DistSourceDet away from the source, with its axis
// along (cosβ, sinβ). A detector sample at offset t then belongs to the
// parallel ray with fan angle γ = atan(t/DistSourceDet), offset
// s = DistSourceIso·sinγ and angle θ = β + γ.
package fanbeam

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
	"tomorecon/pkg/projector"
)

var (
	// ErrInvalidGeometry is returned for parameters that cannot describe a
	// fan-beam scanner at all.
	ErrInvalidGeometry = errors.New("fanbeam: invalid geometry")

	// ErrGeometry is wrapped by every *GeometryError.
	ErrGeometry = errors.New("fanbeam: source or detector intersects the object")
)

// GeometryError reports a source or detector that would pass through the
// imaged object.
type GeometryError struct {
	DistSourceIso   float64
	DistDetectorIso float64
	HalfDiagonal    float64
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("fanbeam: source at %g and detector at %g from the iso-centre must both exceed the object half-diagonal %g",
		e.DistSourceIso, e.DistDetectorIso, e.HalfDiagonal)
}

func (e *GeometryError) Unwrap() error { return ErrGeometry }

// Geometry describes a fan-beam acquisition.
type Geometry struct {
	// NumProjections is the number of source positions.
	NumProjections int

	// AngularIncrement is the source rotation step in degrees. Zero spreads
	// the projections over a full turn.
	AngularIncrement float64

	// StartAngle is the first source angle in degrees.
	StartAngle float64

	NumDetectorPixels int
	DetectorSpacing   float64

	// DistSourceIso is the distance from the source to the rotation centre.
	DistSourceIso float64

	// DistSourceDet is the distance from the source to the detector.
	DistSourceDet float64

	// SampleSpacing is the step along each ray. Zero selects
	// projector.DefaultSampleSpacing.
	SampleSpacing float64
}

// WithDefaults returns g with zero-valued optional fields filled in.
func (g Geometry) WithDefaults() Geometry {
	if g.AngularIncrement == 0 && g.NumProjections > 0 {
		g.AngularIncrement = 360 / float64(g.NumProjections)
	}
	if g.DetectorSpacing == 0 {
		g.DetectorSpacing = 1
	}
	if g.SampleSpacing == 0 {
		g.SampleSpacing = projector.DefaultSampleSpacing
	}
	return g
}

// Validate checks the scanner parameters on their own. CheckObject checks
// them against an image.
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
	case g.AngularIncrement <= 0:
		return fmt.Errorf("%w: angular increment %g", ErrInvalidGeometry, g.AngularIncrement)
	case g.DistSourceIso <= 0 || g.DistSourceDet <= 0:
		return fmt.Errorf("%w: distances %g and %g", ErrInvalidGeometry, g.DistSourceIso, g.DistSourceDet)
	}
	return nil
}

// DistDetectorIso returns the distance from the rotation centre to the detector.
func (g Geometry) DistDetectorIso() float64 {
	return g.DistSourceDet - g.DistSourceIso
}

// CheckObject returns a *GeometryError when the source or detector circle
// would cut through img.
func (g Geometry) CheckObject(img *grid.Grid2D[float32]) error {
	sp := img.Spacing()
	half := math.Hypot(float64(img.Width())*sp[0], float64(img.Height())*sp[1]) / 2
	if g.DistSourceIso <= half || g.DistDetectorIso() <= half {
		return &GeometryError{
			DistSourceIso:   g.DistSourceIso,
			DistDetectorIso: g.DistDetectorIso(),
			HalfDiagonal:    half,
		}
	}
	return nil
}

// FullScan reports whether the projections cover a whole turn, in which
// case the angle axis of the fanogram is periodic.
func (g Geometry) FullScan() bool {
	return math.Abs(float64(g.NumProjections)*g.AngularIncrement-360) < 1e-6
}

// NewFanogram allocates an empty fanogram: axis 0 is the detector offset t,
// axis 1 the source angle β in degrees.
func (g Geometry) NewFanogram() *grid.Grid2D[float32] {
	fano := grid.NewGrid2D[float32](g.NumDetectorPixels, g.NumProjections)
	fano.SetSpacing(g.DetectorSpacing, g.AngularIncrement)
	fano.SetOrigin(grid.CenteredOrigin(g.NumDetectorPixels, g.DetectorSpacing), g.StartAngle)
	return fano
}

// Option configures a fan-beam call.
type Option func(*options)

type options struct {
	workers int
}

// WithWorkers bounds the number of goroutines. Values below one use every CPU.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// Project computes the fanogram of img. If the geometry would intersect the
// object, Project returns an all-zero fanogram together with a
// *GeometryError.
func Project(ctx context.Context, img *grid.Grid2D[float32], g Geometry, opts ...Option) (*grid.Grid2D[float32], error) {
	g = g.WithDefaults()
	if err := g.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	fano := g.NewFanogram()
	log := logging.Logger()
	if err := g.CheckObject(img); err != nil {
		log.Warn("fan-beam geometry rejected", "error", err)
		return fano, err
	}

	start := time.Now()
	box := geometry.BoxFromGrid(img)
	dDet := g.DistDetectorIso()

	err := workers.Range(ctx, g.NumProjections, o.workers, func(k int) error {
		_, beta := fano.IndexToPhysical(0, float64(k))
		rad := beta * math.Pi / 180
		cos, sin := math.Cos(rad), math.Sin(rad)

		source := r2.Vec{X: -g.DistSourceIso * sin, Y: g.DistSourceIso * cos}
		centre := r2.Vec{X: dDet * sin, Y: -dDet * cos}
		axis := r2.Vec{X: cos, Y: sin}

		row := fano.Row(k)
		for i := range row {
			t, _ := fano.IndexToPhysical(float64(i), 0)
			pixel := r2.Add(centre, r2.Scale(t, axis))
			row[i] = float32(projector.LineIntegral(img, box, geometry.Through(source, pixel), g.SampleSpacing))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug("fan-beam projection finished",
		"angles", g.NumProjections,
		"detectorPixels", g.NumDetectorPixels,
		"elapsed", time.Since(start))
	return fano, nil
}
