// Package interpolation samples real grids between their stored indices and
// splats values back onto them with the same bilinear weights.
package interpolation

import (
	"fmt"
	"math"

	"tomorecon/pkg/grid"
)

// Boundary selects how indices outside a grid are resolved.
type Boundary int

const (
	// ZeroFill treats every sample outside the grid as zero. Projection and
	// backprojection rely on this policy.
	ZeroFill Boundary = iota

	// ClampToEdge repeats the outermost sample.
	ClampToEdge

	// Periodic wraps indices modulo the grid size.
	Periodic
)

// String returns the policy name.
func (b Boundary) String() string {
	switch b {
	case ZeroFill:
		return "zero-fill"
	case ClampToEdge:
		return "clamp-to-edge"
	case Periodic:
		return "periodic"
	}
	return fmt.Sprintf("Boundary(%d)", int(b))
}

// resolve maps an integer index onto [0, n) under policy b. The boolean is
// false when the sample is outside and must be treated as zero.
func (b Boundary) resolve(i, n int) (int, bool) {
	if i >= 0 && i < n {
		return i, true
	}
	if n == 0 {
		return 0, false
	}
	switch b {
	case ClampToEdge:
		if i < 0 {
			return 0, true
		}
		return n - 1, true
	case Periodic:
		i %= n
		if i < 0 {
			i += n
		}
		return i, true
	}
	return 0, false
}

// Bilinear returns the bilinear blend of the four samples surrounding the
// fractional index (x, y), resolving out-of-range neighbours with policy b.
func Bilinear(g *grid.Grid2D[float32], x, y float64, b Boundary) float32 {
	return BilinearAxes(g, x, y, b, b)
}

// BilinearAxes is Bilinear with a separate boundary policy per axis.
func BilinearAxes(g *grid.Grid2D[float32], x, y float64, bx, by Boundary) float32 {
	if !finite(x) || !finite(y) {
		return 0
	}
	w, h := g.Width(), g.Height()
	// Far outside a zero-filled grid every neighbour is zero; this also keeps
	// the integer conversion below in range.
	if (bx == ZeroFill && (x <= -1 || x >= float64(w))) ||
		(by == ZeroFill && (y <= -1 || y >= float64(h))) {
		return 0
	}

	fx, fy := math.Floor(x), math.Floor(y)
	dx, dy := x-fx, y-fy
	x0, y0 := int(fx), int(fy)

	var sum float64
	for _, n := range [4]struct {
		i, j int
		w    float64
	}{
		{x0, y0, (1 - dx) * (1 - dy)},
		{x0 + 1, y0, dx * (1 - dy)},
		{x0, y0 + 1, (1 - dx) * dy},
		{x0 + 1, y0 + 1, dx * dy},
	} {
		if n.w == 0 {
			continue
		}
		i, ok := bx.resolve(n.i, w)
		if !ok {
			continue
		}
		j, ok := by.resolve(n.j, h)
		if !ok {
			continue
		}
		sum += n.w * float64(g.At(i, j))
	}
	return float32(sum)
}

// Accumulate distributes value over the four samples surrounding (x, y)
// with the bilinear weights used by Bilinear. Neighbours that fall outside
// the grid under ZeroFill receive nothing.
func Accumulate(g *grid.Grid2D[float32], x, y float64, value float32, b Boundary) {
	if !finite(x) || !finite(y) {
		return
	}
	w, h := g.Width(), g.Height()
	if b == ZeroFill && (x <= -1 || x >= float64(w) || y <= -1 || y >= float64(h)) {
		return
	}

	fx, fy := math.Floor(x), math.Floor(y)
	dx, dy := x-fx, y-fy
	x0, y0 := int(fx), int(fy)
	v := float64(value)

	splat := func(i, j int, weight float64) {
		if weight == 0 {
			return
		}
		ri, ok := b.resolve(i, w)
		if !ok {
			return
		}
		rj, ok := b.resolve(j, h)
		if !ok {
			return
		}
		g.AddAt(ri, rj, float32(weight*v))
	}
	splat(x0, y0, (1-dx)*(1-dy))
	splat(x0+1, y0, dx*(1-dy))
	splat(x0, y0+1, (1-dx)*dy)
	splat(x0+1, y0+1, dx*dy)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// AtPhysical interpolates g at physical coordinates (px, py).
func AtPhysical(g *grid.Grid2D[float32], px, py float64, b Boundary) float32 {
	x, y := g.PhysicalToIndex(px, py)
	return Bilinear(g, x, y, b)
}
