package reconstruction

import "tomorecon/pkg/grid"

// Checkpoints passed to Observer.Observe, in pipeline order.
const (
	CheckpointPhantom          = "phantom"
	CheckpointSinogram         = "sinogram"
	CheckpointFanogram         = "fanogram"
	CheckpointRebinnedSinogram = "rebinned-sinogram"
	CheckpointFilterKernel     = "filter-kernel"
	CheckpointFilteredSinogram = "filtered-sinogram"
	CheckpointReconstruction   = "reconstruction"
)

// Observer receives intermediate grids at fixed checkpoints. The grid must
// be treated as read-only and must not be retained after Observe returns;
// clone it if needed. The pipeline works the same without an observer.
type Observer interface {
	Observe(checkpoint string, g *grid.Grid2D[float32])
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(checkpoint string, g *grid.Grid2D[float32])

// Observe implements Observer.
func (f ObserverFunc) Observe(checkpoint string, g *grid.Grid2D[float32]) { f(checkpoint, g) }

// Observers fans a checkpoint out to several observers in order.
type Observers []Observer

// Observe implements Observer.
func (obs Observers) Observe(checkpoint string, g *grid.Grid2D[float32]) {
	for _, o := range obs {
		if o != nil {
			o.Observe(checkpoint, g)
		}
	}
}

// kernelGrid lays the real part of a kernel spectrum out as a one-row grid so
// that it can go through the same observers as images.
func kernelGrid(spectrum *grid.Grid1D[complex64]) *grid.Grid2D[float32] {
	g := grid.NewGrid2D[float32](spectrum.Len(), 1)
	g.SetSpacing(spectrum.Spacing(), 1)
	for i, v := range spectrum.Data() {
		g.Set(i, 0, real(v))
	}
	return g
}
