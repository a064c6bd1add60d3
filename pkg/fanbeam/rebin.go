package fanbeam

import (
	"context"
	"fmt"
	"math"
	"time"

	"tomorecon/internal/logging"
	"tomorecon/internal/workers"
	"tomorecon/pkg/grid"
	"tomorecon/pkg/interpolation"
	"tomorecon/pkg/projector"
)

// RebinGeometry describes the parallel sinogram produced by Rebin. Zero
// fields take defaults derived from the fan geometry.
type RebinGeometry struct {
	// NumProjections defaults to 180.
	NumProjections int

	// AngularIncrement defaults to 180/NumProjections.
	AngularIncrement float64

	StartAngle float64

	// NumDetectorPixels defaults to the fanogram width.
	NumDetectorPixels int

	// DetectorSpacing defaults to the fan detector spacing scaled down to
	// the iso-centre, DetectorSpacing·DistSourceIso/DistSourceDet.
	DetectorSpacing float64
}

// Parallel resolves the defaults of rg against the fan geometry g and
// returns the equivalent parallel-beam geometry.
func (rg RebinGeometry) Parallel(g Geometry) projector.Geometry {
	p := projector.Geometry{
		NumProjections:    rg.NumProjections,
		AngularIncrement:  rg.AngularIncrement,
		StartAngle:        rg.StartAngle,
		NumDetectorPixels: rg.NumDetectorPixels,
		DetectorSpacing:   rg.DetectorSpacing,
	}
	if p.NumProjections == 0 {
		p.NumProjections = 180
	}
	if p.NumDetectorPixels == 0 {
		p.NumDetectorPixels = g.NumDetectorPixels
	}
	if p.DetectorSpacing == 0 && g.DistSourceDet > 0 {
		p.DetectorSpacing = g.DetectorSpacing * g.DistSourceIso / g.DistSourceDet
	}
	return p.WithDefaults()
}

// sampler looks up parallel rays in a fanogram.
type sampler struct {
	fano     *grid.Grid2D[float32]
	g        Geometry
	periodic bool
}

// source returns the fanogram row index of source angle beta, and whether
// the acquisition covers it.
func (sm *sampler) source(beta float64) (float64, bool) {
	rel := math.Mod(beta-sm.g.StartAngle, 360)
	if rel < 0 {
		rel += 360
	}
	idx := rel / sm.g.AngularIncrement
	if sm.periodic {
		return idx, true
	}
	return idx, idx <= float64(sm.g.NumProjections-1)
}

// sample returns the fanogram value on the parallel ray (s, theta), with
// theta in degrees. Rays outside the source circle or the acquired range
// read as zero.
func (sm *sampler) sample(s, theta float64) float32 {
	if math.Abs(s) >= sm.g.DistSourceIso {
		return 0
	}
	gamma := math.Asin(s / sm.g.DistSourceIso)
	t := sm.g.DistSourceDet * math.Tan(gamma)
	gammaDeg := gamma * 180 / math.Pi
	beta := theta - gammaDeg

	y, ok := sm.source(beta)
	if !ok {
		// The same line seen from the opposite side of the circle.
		t = -t
		y, ok = sm.source(beta + 180 + 2*gammaDeg)
		if !ok {
			return 0
		}
	}
	by := interpolation.ZeroFill
	if sm.periodic {
		by = interpolation.Periodic
	}
	sp := sm.fano.Spacing()
	x := (t - sm.fano.Origin()[0]) / sp[0]
	return interpolation.BilinearAxes(sm.fano, x, y, interpolation.ZeroFill, by)
}

// Rebin resamples a fanogram acquired with g onto the parallel sinogram
// described by rg. Every output sample gathers from the fanogram, trying the
// complementary fan ray when the direct one was not acquired; samples with
// neither are zero.
func Rebin(ctx context.Context, fano *grid.Grid2D[float32], g Geometry, rg RebinGeometry, opts ...Option) (*grid.Grid2D[float32], error) {
	g = g.WithDefaults()
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if fano.Width() != g.NumDetectorPixels || fano.Height() != g.NumProjections {
		return nil, fmt.Errorf("%w: fanogram %dx%d, geometry %dx%d", ErrInvalidGeometry,
			fano.Width(), fano.Height(), g.NumDetectorPixels, g.NumProjections)
	}
	pg := rg.Parallel(g)
	if err := pg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	sino := pg.NewSinogram()
	sm := &sampler{fano: fano, g: g, periodic: g.FullScan()}

	err := workers.Range(ctx, sino.Height(), o.workers, func(k int) error {
		_, theta := sino.IndexToPhysical(0, float64(k))
		row := sino.Row(k)
		for i := range row {
			s, _ := sino.IndexToPhysical(float64(i), 0)
			row[i] = sm.sample(s, theta)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Logger().Debug("fanogram rebinned",
		"angles", pg.NumProjections,
		"detectorPixels", pg.NumDetectorPixels,
		"fullScan", sm.periodic,
		"elapsed", time.Since(start))
	return sino, nil
}
