package grid

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// TestMappingInverse checks that PhysicalToIndex undoes IndexToPhysical for
// a range of spacings and origins.
func TestMappingInverse(t *testing.T) {
	cases := []struct {
		sx, sy, ox, oy float64
	}{
		{1, 1, 0, 0},
		{0.5, 0.75, -12.25, 3},
		{2.5, 1, -127.5, -127.5},
		{-1, 0.3, 7, -2},
	}

	for _, c := range cases {
		g := NewGrid2D[float32](16, 9)
		g.SetSpacing(c.sx, c.sy)
		g.SetOrigin(c.ox, c.oy)

		for j := 0; j < g.Height(); j++ {
			for i := 0; i < g.Width(); i++ {
				x, y := g.IndexToPhysical(float64(i), float64(j))
				gi, gj := g.PhysicalToIndex(x, y)
				if math.Abs(gi-float64(i)) > 1e-9 || math.Abs(gj-float64(j)) > 1e-9 {
					t.Fatalf("spacing (%g,%g) origin (%g,%g): index (%d,%d) mapped back to (%g,%g)",
						c.sx, c.sy, c.ox, c.oy, i, j, gi, gj)
				}
			}
		}
	}
}

func TestCenterOrigin(t *testing.T) {
	g := NewGrid2D[float32](256, 128)
	g.SetSpacing(1, 0.5)
	g.CenterOrigin()

	want := [2]float64{-127.5, -31.75}
	if g.Origin() != want {
		t.Errorf("Expected origin %v, got %v", want, g.Origin())
	}

	x, y := g.IndexToPhysical(127.5, 63.5)
	if math.Abs(x) > 1e-12 || math.Abs(y) > 1e-12 {
		t.Errorf("Expected grid centre at (0,0), got (%g,%g)", x, y)
	}
}

func TestSetSpacingRejectsZero(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for zero spacing")
		}
	}()
	NewGrid2D[float32](2, 2).SetSpacing(0, 1)
}

func TestRowIsView(t *testing.T) {
	g := NewGrid2D[float32](4, 3)
	row := g.Row(1)
	row[2] = 5

	if g.At(2, 1) != 5 {
		t.Errorf("Expected write through row view, got %v", g.At(2, 1))
	}
	if len(row) != 4 || cap(row) != 4 {
		t.Errorf("Expected row len=cap=4, got len=%d cap=%d", len(row), cap(row))
	}
}

func TestCloneIsIndependent(t *testing.T) {
	g := NewGrid2D[float32](3, 3)
	g.SetSpacing(2, 3)
	g.Set(1, 1, 4)

	c := g.Clone()
	c.Set(1, 1, 9)

	if g.At(1, 1) != 4 {
		t.Errorf("Clone shares storage with the original")
	}
	if c.Spacing() != g.Spacing() || c.Origin() != g.Origin() {
		t.Errorf("Clone lost mapping metadata")
	}
}

func TestNewLike(t *testing.T) {
	g := NewGrid2D[float32](5, 7)
	g.SetSpacing(0.5, 2)
	g.SetOrigin(-1, 10)

	c := NewLike[complex64](g)
	if c.Width() != 5 || c.Height() != 7 {
		t.Fatalf("Expected 5x7, got %dx%d", c.Width(), c.Height())
	}
	if c.Spacing() != g.Spacing() || c.Origin() != g.Origin() {
		t.Errorf("Expected mapping to be copied")
	}
}

// TestFFTRoundTrip transforms a signal forward and back.
func TestFFTRoundTrip(t *testing.T) {
	row := []float32{0, 1, 2, 3, 0, -1, 4, 0.5, 0, 0, 7}
	g := ToComplex(row, 16)
	g.SetSpacing(0.5)

	FFT(g)
	if got, want := g.Spacing(), 1/(16*0.5); got != want {
		t.Errorf("Expected frequency spacing %g, got %g", want, got)
	}
	IFFT(g)

	got := RealPart(g).Data()
	want := append(append([]float32(nil), row...), make([]float32, 5)...)
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-5)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if g.Spacing() != 0.5 {
		t.Errorf("Expected spacing 0.5 after round trip, got %g", g.Spacing())
	}
}

// TestFFTImpulse checks the transform convention: an impulse at index 0 has
// a flat spectrum and the forward transform is unnormalised.
func TestFFTImpulse(t *testing.T) {
	g := NewGrid1D[complex64](8)
	g.Set(0, 2)
	FFT(g)
	for i, v := range g.Data() {
		if cmplx.Abs(complex128(v)-2) > 1e-6 {
			t.Errorf("bin %d: expected 2, got %v", i, v)
		}
	}

	g = NewGrid1D[complex64](8)
	for i := range g.Data() {
		g.Set(i, 1)
	}
	FFT(g)
	if cmplx.Abs(complex128(g.At(0))-8) > 1e-5 {
		t.Errorf("Expected DC bin 8, got %v", g.At(0))
	}
}

func TestTransformerLengthMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic on length mismatch")
		}
	}()
	NewTransformer(4).Forward(make([]complex64, 5))
}
