package geometry

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/spatial/r2"

	"tomorecon/pkg/grid"
)

func TestIntersectThroughCentre(t *testing.T) {
	box := NewBox(r2.Vec{X: -2, Y: -1}, r2.Vec{X: 2, Y: 1})
	ray := NewRay(r2.Vec{}, r2.Vec{X: 1})

	got := box.Intersect(ray)
	want := []r2.Vec{{X: -2}, {X: 2}}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("intersection mismatch (-want +got):\n%s", diff)
	}
}

func TestIntersectDiagonal(t *testing.T) {
	box := NewBox(r2.Vec{X: 1, Y: 1}, r2.Vec{X: -1, Y: -1})
	ray := Through(r2.Vec{X: -5, Y: -5}, r2.Vec{X: 5, Y: 5})

	t0, t1, ok := box.Clip(ray)
	if !ok {
		t.Fatal("Expected diagonal ray to hit the box")
	}
	if got, want := t1-t0, 2*math.Sqrt2; math.Abs(got-want) > 1e-9 {
		t.Errorf("Expected chord length %g, got %g", want, got)
	}
}

func TestIntersectMiss(t *testing.T) {
	box := NewBox(r2.Vec{X: -1, Y: -1}, r2.Vec{X: 1, Y: 1})

	cases := map[string]Ray{
		"parallel outside": NewRay(r2.Vec{X: 0, Y: 3}, r2.Vec{X: 1}),
		"oblique miss":     Through(r2.Vec{X: 0, Y: 3}, r2.Vec{X: 3, Y: 0}),
		"zero direction":   {Point: r2.Vec{}, Dir: r2.Vec{}},
	}
	for name, ray := range cases {
		if pts := box.Intersect(ray); pts != nil {
			t.Errorf("%s: expected no intersection, got %v", name, pts)
		}
	}
}

// TestIntersectTangential covers rays that only touch the box: they yield
// fewer than two distinct points and are reported as misses.
func TestIntersectTangential(t *testing.T) {
	box := NewBox(r2.Vec{X: -1, Y: -1}, r2.Vec{X: 1, Y: 1})

	corner := Through(r2.Vec{X: 0, Y: 2}, r2.Vec{X: 2, Y: 0})
	if _, _, ok := box.Clip(corner); ok {
		t.Error("Expected corner-touching ray to be degenerate")
	}
}

// TestIntersectAlongEdge accepts rays running exactly along an edge: the
// chord has full length, so it is not degenerate.
func TestIntersectAlongEdge(t *testing.T) {
	box := NewBox(r2.Vec{X: -1, Y: -1}, r2.Vec{X: 1, Y: 1})
	edge := NewRay(r2.Vec{X: 0, Y: 1}, r2.Vec{X: 1})

	pts := box.Intersect(edge)
	if len(pts) != 2 {
		t.Fatalf("Expected 2 points along the edge, got %v", pts)
	}
}

func TestBoxFromGrid(t *testing.T) {
	g := grid.NewGrid2D[float32](256, 128)
	g.SetSpacing(1, 0.5)
	g.CenterOrigin()

	box := BoxFromGrid(g)
	want := NewBox(r2.Vec{X: -127.5, Y: -31.75}, r2.Vec{X: 127.5, Y: 31.75})
	if diff := cmp.Diff(want, box); diff != "" {
		t.Errorf("box mismatch (-want +got):\n%s", diff)
	}
	if got, want := box.HalfDiagonal(), math.Hypot(127.5, 31.75); math.Abs(got-want) > 1e-9 {
		t.Errorf("Expected half diagonal %g, got %g", want, got)
	}
}

func TestRayString(t *testing.T) {
	r := NewRay(r2.Vec{X: 1, Y: 2}, r2.Vec{Y: 3})
	if got, want := r.String(), "Ray{(1, 2) + t(0, 1)}"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}
