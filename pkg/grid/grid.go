// Package grid provides the sampled containers shared by every stage of the
// reconstruction: images, sinograms, fanograms and filter kernels.
//
// A grid stores its samples together with the affine mapping between discrete
// indices and physical coordinates:
//
//	physical = index*spacing + origin
//
// Real-valued grids use float32 samples, complex-valued grids complex64. The
// same generic types serve both kinds, so a filter kernel and a projection row
// only differ in their element type.
package grid

import "fmt"

// Element is the set of sample types a grid can hold.
type Element interface {
	~float32 | ~complex64
}

// Grid1D is a one-dimensional sampled signal.
type Grid1D[T Element] struct {
	data    []T
	spacing float64
	origin  float64
}

// NewGrid1D creates a zero-filled grid of n samples with unit spacing and
// zero origin.
func NewGrid1D[T Element](n int) *Grid1D[T] {
	if n < 0 {
		panic(fmt.Sprintf("grid: negative length %d", n))
	}
	return &Grid1D[T]{
		data:    make([]T, n),
		spacing: 1,
	}
}

// Len returns the number of samples.
func (g *Grid1D[T]) Len() int { return len(g.data) }

// Data returns the backing slice. Writes through it modify the grid.
func (g *Grid1D[T]) Data() []T { return g.data }

// At returns the sample at index i.
func (g *Grid1D[T]) At(i int) T { return g.data[i] }

// Set stores v at index i.
func (g *Grid1D[T]) Set(i int, v T) { g.data[i] = v }

// Spacing returns the physical distance between neighbouring samples.
func (g *Grid1D[T]) Spacing() float64 { return g.spacing }

// Origin returns the physical coordinate of index 0.
func (g *Grid1D[T]) Origin() float64 { return g.origin }

// SetSpacing sets the sample spacing. It panics if s is zero.
func (g *Grid1D[T]) SetSpacing(s float64) {
	if s == 0 {
		panic("grid: zero spacing")
	}
	g.spacing = s
}

// SetOrigin sets the physical coordinate of index 0.
func (g *Grid1D[T]) SetOrigin(o float64) { g.origin = o }

// IndexToPhysical maps a (possibly fractional) index to its physical coordinate.
func (g *Grid1D[T]) IndexToPhysical(i float64) float64 {
	return i*g.spacing + g.origin
}

// PhysicalToIndex maps a physical coordinate to its fractional index.
func (g *Grid1D[T]) PhysicalToIndex(x float64) float64 {
	return (x - g.origin) / g.spacing
}

// Clone returns a deep copy of g.
func (g *Grid1D[T]) Clone() *Grid1D[T] {
	c := *g
	c.data = append([]T(nil), g.data...)
	return &c
}

// Grid2D is a two-dimensional sampled image stored in row-major order.
// Axis 0 runs along a row (x, detector offset), axis 1 across rows
// (y, projection angle).
type Grid2D[T Element] struct {
	width   int
	height  int
	data    []T
	spacing [2]float64
	origin  [2]float64
}

// NewGrid2D creates a zero-filled width×height grid with unit spacing and
// zero origin.
func NewGrid2D[T Element](width, height int) *Grid2D[T] {
	if width < 0 || height < 0 {
		panic(fmt.Sprintf("grid: negative size %dx%d", width, height))
	}
	return &Grid2D[T]{
		width:   width,
		height:  height,
		data:    make([]T, width*height),
		spacing: [2]float64{1, 1},
	}
}

// NewLike creates a zero-filled grid with the size, spacing and origin of g.
func NewLike[T, U Element](g *Grid2D[U]) *Grid2D[T] {
	out := NewGrid2D[T](g.width, g.height)
	out.spacing = g.spacing
	out.origin = g.origin
	return out
}

// Width returns the number of samples along axis 0.
func (g *Grid2D[T]) Width() int { return g.width }

// Height returns the number of samples along axis 1.
func (g *Grid2D[T]) Height() int { return g.height }

// Data returns the backing row-major slice.
func (g *Grid2D[T]) Data() []T { return g.data }

// Row returns row j as a view into the backing slice.
func (g *Grid2D[T]) Row(j int) []T {
	return g.data[j*g.width : (j+1)*g.width : (j+1)*g.width]
}

// InBounds reports whether (i, j) addresses a stored sample.
func (g *Grid2D[T]) InBounds(i, j int) bool {
	return i >= 0 && j >= 0 && i < g.width && j < g.height
}

// At returns the sample at (i, j).
func (g *Grid2D[T]) At(i, j int) T { return g.data[j*g.width+i] }

// Set stores v at (i, j).
func (g *Grid2D[T]) Set(i, j int, v T) { g.data[j*g.width+i] = v }

// AddAt adds v to the sample at (i, j).
func (g *Grid2D[T]) AddAt(i, j int, v T) { g.data[j*g.width+i] += v }

// Spacing returns the physical spacing per axis.
func (g *Grid2D[T]) Spacing() [2]float64 { return g.spacing }

// Origin returns the physical coordinate of index (0, 0).
func (g *Grid2D[T]) Origin() [2]float64 { return g.origin }

// SetSpacing sets the physical spacing per axis. It panics if either
// component is zero, since the index mapping would not be invertible.
func (g *Grid2D[T]) SetSpacing(sx, sy float64) {
	if sx == 0 || sy == 0 {
		panic(fmt.Sprintf("grid: zero spacing (%g, %g)", sx, sy))
	}
	g.spacing = [2]float64{sx, sy}
}

// SetOrigin sets the physical coordinate of index (0, 0).
func (g *Grid2D[T]) SetOrigin(ox, oy float64) {
	g.origin = [2]float64{ox, oy}
}

// CenterOrigin places the origin so that the physical coordinate (0, 0)
// lies in the middle of the grid.
func (g *Grid2D[T]) CenterOrigin() {
	g.origin = [2]float64{
		CenteredOrigin(g.width, g.spacing[0]),
		CenteredOrigin(g.height, g.spacing[1]),
	}
}

// IndexToPhysical maps a (possibly fractional) index to physical coordinates.
func (g *Grid2D[T]) IndexToPhysical(i, j float64) (x, y float64) {
	return i*g.spacing[0] + g.origin[0], j*g.spacing[1] + g.origin[1]
}

// PhysicalToIndex maps physical coordinates to a fractional index.
func (g *Grid2D[T]) PhysicalToIndex(x, y float64) (i, j float64) {
	return (x - g.origin[0]) / g.spacing[0], (y - g.origin[1]) / g.spacing[1]
}

// Clone returns a deep copy of g.
func (g *Grid2D[T]) Clone() *Grid2D[T] {
	c := *g
	c.data = append([]T(nil), g.data...)
	return &c
}

// Fill sets every sample to v.
func (g *Grid2D[T]) Fill(v T) {
	for i := range g.data {
		g.data[i] = v
	}
}

// CenteredOrigin returns the origin that centres n samples of the given
// spacing on the physical coordinate 0.
func CenteredOrigin(n int, spacing float64) float64 {
	return -float64(n-1) * spacing / 2
}
