// Package phantom rasterises simple analytic shapes into image grids. The
// images serve as known inputs for projection and reconstruction.
package phantom

import (
	"math"

	"tomorecon/pkg/grid"
)

// Supersampling is the number of sub-samples per pixel and axis used to
// estimate how much of a pixel a shape covers.
const Supersampling = 4

// Shape is a region of the physical plane with a constant density.
type Shape interface {
	// Contains reports whether the physical point (x, y) lies inside.
	Contains(x, y float64) bool

	// Density returns the value added to covered pixels.
	Density() float64
}

// Ellipse is an axis-aligned ellipse rotated by Angle degrees about its centre.
type Ellipse struct {
	CenterX, CenterY float64
	RadiusX, RadiusY float64
	Angle            float64
	Value            float64
}

// Contains implements Shape.
func (e Ellipse) Contains(x, y float64) bool {
	dx, dy := x-e.CenterX, y-e.CenterY
	if e.Angle != 0 {
		rad := e.Angle * math.Pi / 180
		c, s := math.Cos(rad), math.Sin(rad)
		dx, dy = c*dx+s*dy, -s*dx+c*dy
	}
	u, v := dx/e.RadiusX, dy/e.RadiusY
	return u*u+v*v <= 1
}

// Density implements Shape.
func (e Ellipse) Density() float64 { return e.Value }

// Disk returns a circular ellipse.
func Disk(cx, cy, radius, value float64) Ellipse {
	return Ellipse{CenterX: cx, CenterY: cy, RadiusX: radius, RadiusY: radius, Value: value}
}

// Rectangle is an axis-aligned rectangle given by two opposite corners.
type Rectangle struct {
	X0, Y0, X1, Y1 float64
	Value          float64
}

// Contains implements Shape.
func (r Rectangle) Contains(x, y float64) bool {
	return x >= math.Min(r.X0, r.X1) && x <= math.Max(r.X0, r.X1) &&
		y >= math.Min(r.Y0, r.Y1) && y <= math.Max(r.Y0, r.Y1)
}

// Density implements Shape.
func (r Rectangle) Density() float64 { return r.Value }

// New creates a width×height image with the given isotropic spacing,
// centred on the physical origin.
func New(width, height int, spacing float64) *grid.Grid2D[float32] {
	img := grid.NewGrid2D[float32](width, height)
	img.SetSpacing(spacing, spacing)
	img.CenterOrigin()
	return img
}

// Draw adds each shape to img, weighting every pixel by the fraction of
// its area the shape covers. Overlapping shapes add up.
func Draw(img *grid.Grid2D[float32], shapes ...Shape) {
	sp := img.Spacing()
	const n = Supersampling
	weight := 1 / float64(n*n)

	for j := 0; j < img.Height(); j++ {
		for i := 0; i < img.Width(); i++ {
			cx, cy := img.IndexToPhysical(float64(i), float64(j))
			for _, s := range shapes {
				var covered int
				for sy := 0; sy < n; sy++ {
					y := cy + (float64(sy)+0.5-n/2.0)/n*sp[1]
					for sx := 0; sx < n; sx++ {
						x := cx + (float64(sx)+0.5-n/2.0)/n*sp[0]
						if s.Contains(x, y) {
							covered++
						}
					}
				}
				if covered > 0 {
					img.AddAt(i, j, float32(float64(covered)*weight*s.Density()))
				}
			}
		}
	}
}

// Default returns the three-shape test phantom: two overlapping ellipses
// and a rectangle of different densities.
func Default(width, height int, spacing float64) *grid.Grid2D[float32] {
	img := New(width, height, spacing)
	w := float64(width) * spacing
	h := float64(height) * spacing
	Draw(img,
		Ellipse{CenterX: -0.1 * w, CenterY: 0, RadiusX: 0.2 * w, RadiusY: 0.2 * h, Value: 0.3},
		Rectangle{X0: -0.25 * w, Y0: -0.25 * h, X1: 0, Y1: -0.1 * h, Value: 0.7},
		Ellipse{CenterX: 0.1 * w, CenterY: 0.05 * h, RadiusX: 0.15 * w, RadiusY: 0.3 * h, Value: 0.5},
	)
	return img
}
