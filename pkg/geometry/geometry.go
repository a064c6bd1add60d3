// Package geometry provides the rays and bounding boxes used to bound every
// line integral to the reconstructible field of view.
//
// Points and vectors are gonum r2.Vec values; this package adds the
// ray/box clipping the projectors need on top of them.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"tomorecon/pkg/grid"
)

// epsilon is the length below which an intersection chord is considered
// tangential.
const epsilon = 1e-9

// Ray is an infinite line through Point with direction Dir. Dir need not be
// normalised, but parameters returned by Clip are in units of |Dir|.
type Ray struct {
	Point r2.Vec
	Dir   r2.Vec
}

// NewRay creates a ray through p with the unit direction of dir.
func NewRay(p, dir r2.Vec) Ray {
	return Ray{Point: p, Dir: r2.Unit(dir)}
}

// Through creates a ray passing through a and b, pointing from a to b.
func Through(a, b r2.Vec) Ray {
	return NewRay(a, r2.Sub(b, a))
}

// At returns the point at parameter t along the ray.
func (r Ray) At(t float64) r2.Vec {
	return r2.Add(r.Point, r2.Scale(t, r.Dir))
}

// String implements fmt.Stringer.
func (r Ray) String() string {
	return fmt.Sprintf("Ray{(%g, %g) + t(%g, %g)}", r.Point.X, r.Point.Y, r.Dir.X, r.Dir.Y)
}

// Box is an axis-aligned rectangle in physical space.
type Box struct {
	r2.Box
}

// NewBox creates a box spanning the two corners in any order.
func NewBox(lower, upper r2.Vec) Box {
	return Box{r2.NewBox(lower.X, lower.Y, upper.X, upper.Y)}
}

// BoxFromGrid returns the physical extent of g: from the centre of sample
// (0, 0) to the centre of sample (W-1, H-1).
func BoxFromGrid[T grid.Element](g *grid.Grid2D[T]) Box {
	x0, y0 := g.IndexToPhysical(0, 0)
	x1, y1 := g.IndexToPhysical(float64(g.Width()-1), float64(g.Height()-1))
	return Box{r2.NewBox(x0, y0, x1, y1)}
}

// HalfDiagonal returns half the length of the box diagonal.
func (b Box) HalfDiagonal() float64 {
	return r2.Norm(b.Size()) / 2
}

// Clip returns the parameter interval [t0, t1] over which r lies inside the
// box. ok is false when the line misses the box or only touches it, so the
// chord has no length.
func (b Box) Clip(r Ray) (t0, t1 float64, ok bool) {
	t0, t1 = math.Inf(-1), math.Inf(1)

	for _, axis := range [2]struct{ p, d, lo, hi float64 }{
		{r.Point.X, r.Dir.X, b.Min.X, b.Max.X},
		{r.Point.Y, r.Dir.Y, b.Min.Y, b.Max.Y},
	} {
		if math.Abs(axis.d) < epsilon {
			// Parallel to this slab.
			if axis.p < axis.lo || axis.p > axis.hi {
				return 0, 0, false
			}
			continue
		}
		ta := (axis.lo - axis.p) / axis.d
		tb := (axis.hi - axis.p) / axis.d
		if ta > tb {
			ta, tb = tb, ta
		}
		t0 = math.Max(t0, ta)
		t1 = math.Min(t1, tb)
	}

	if math.IsInf(t0, 0) || math.IsInf(t1, 0) || t1-t0 <= epsilon*math.Max(1, r2.Norm(r.Dir)) {
		return 0, 0, false
	}
	return t0, t1, true
}

// Intersect returns the entry and exit points of r in the box, or nil when
// the ray misses or only grazes it.
func (b Box) Intersect(r Ray) []r2.Vec {
	t0, t1, ok := b.Clip(r)
	if !ok {
		return nil
	}
	return []r2.Vec{r.At(t0), r.At(t1)}
}
