package reconstruction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"tomorecon/pkg/backprojector"
	"tomorecon/pkg/fanbeam"
	"tomorecon/pkg/filter"
	"tomorecon/pkg/grid"
	"tomorecon/pkg/projector"
)

// ErrFallbackToCPU indicates an accelerated backend cannot handle an
// operation. The Reconstructor then runs that step on the CPU backend.
var ErrFallbackToCPU = errors.New("reconstruction: falling back to CPU backend")

// ErrUnknownBackend is returned by NewBackend for unregistered names.
var ErrUnknownBackend = errors.New("reconstruction: unknown backend")

// Backend implements the projection, filtering and backprojection steps of
// the pipeline. Accelerated backends may return ErrFallbackToCPU from any
// method to have the step repeated on the CPU.
type Backend interface {
	// Name returns the registry name of the backend.
	Name() string

	// Project computes a parallel-beam sinogram.
	Project(ctx context.Context, img *grid.Grid2D[float32], g projector.Geometry) (*grid.Grid2D[float32], error)

	// ProjectFan computes a fan-beam fanogram.
	ProjectFan(ctx context.Context, img *grid.Grid2D[float32], g fanbeam.Geometry) (*grid.Grid2D[float32], error)

	// Rebin resamples a fanogram onto a parallel sinogram.
	Rebin(ctx context.Context, fano *grid.Grid2D[float32], g fanbeam.Geometry, rg fanbeam.RebinGeometry) (*grid.Grid2D[float32], error)

	// Filter applies a reconstruction kernel to every sinogram row.
	Filter(ctx context.Context, k *filter.Kernel, sino *grid.Grid2D[float32]) (*grid.Grid2D[float32], error)

	// Backproject smears a sinogram back across an image.
	Backproject(ctx context.Context, sino *grid.Grid2D[float32], g backprojector.Geometry) (*grid.Grid2D[float32], error)
}

// CPUBackend is the reference Backend built on the goroutine worker pool.
type CPUBackend struct {
	// Workers bounds the number of goroutines per call. Values below one
	// use every CPU.
	Workers int
}

// Name implements Backend.
func (b *CPUBackend) Name() string { return "cpu" }

// Project implements Backend.
func (b *CPUBackend) Project(ctx context.Context, img *grid.Grid2D[float32], g projector.Geometry) (*grid.Grid2D[float32], error) {
	return projector.Project(ctx, img, g, projector.WithWorkers(b.Workers))
}

// ProjectFan implements Backend.
func (b *CPUBackend) ProjectFan(ctx context.Context, img *grid.Grid2D[float32], g fanbeam.Geometry) (*grid.Grid2D[float32], error) {
	return fanbeam.Project(ctx, img, g, fanbeam.WithWorkers(b.Workers))
}

// Rebin implements Backend.
func (b *CPUBackend) Rebin(ctx context.Context, fano *grid.Grid2D[float32], g fanbeam.Geometry, rg fanbeam.RebinGeometry) (*grid.Grid2D[float32], error) {
	return fanbeam.Rebin(ctx, fano, g, rg, fanbeam.WithWorkers(b.Workers))
}

// Filter implements Backend.
func (b *CPUBackend) Filter(ctx context.Context, k *filter.Kernel, sino *grid.Grid2D[float32]) (*grid.Grid2D[float32], error) {
	return k.Apply(ctx, sino, filter.WithWorkers(b.Workers))
}

// Backproject implements Backend.
func (b *CPUBackend) Backproject(ctx context.Context, sino *grid.Grid2D[float32], g backprojector.Geometry) (*grid.Grid2D[float32], error) {
	return backprojector.Backproject(ctx, sino, g, backprojector.WithWorkers(b.Workers))
}

// BackendFactory creates a backend that uses at most workers goroutines
// per call where that applies.
type BackendFactory func(workers int) (Backend, error)

var (
	backendsMu sync.RWMutex
	backends   = map[string]BackendFactory{
		"cpu": func(workers int) (Backend, error) { return &CPUBackend{Workers: workers}, nil },
	}
)

// RegisterBackend makes a backend available under name. Registering a name
// again replaces the previous factory. Accelerated backends typically
// register from an init function and are enabled by a blank import.
func RegisterBackend(name string, f BackendFactory) error {
	if name == "" || f == nil {
		return errors.New("reconstruction: backend name and factory must be set")
	}
	backendsMu.Lock()
	backends[name] = f
	backendsMu.Unlock()
	return nil
}

// NewBackend creates the backend registered under name. An empty name
// selects "cpu".
func NewBackend(name string, workers int) (Backend, error) {
	if name == "" {
		name = "cpu"
	}
	backendsMu.RLock()
	f, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return f(workers)
}

// Backends returns the registered backend names in sorted order.
func Backends() []string {
	backendsMu.RLock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	backendsMu.RUnlock()
	sort.Strings(names)
	return names
}
