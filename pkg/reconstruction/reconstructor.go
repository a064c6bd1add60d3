// Package reconstruction runs the filtered-backprojection pipeline: forward
// projection of an input image (parallel or fan-beam with rebinning),
// frequency filtering, and backprojection, on a pluggable Backend.
package reconstruction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"tomorecon/internal/logging"
	"tomorecon/pkg/backprojector"
	"tomorecon/pkg/fanbeam"
	"tomorecon/pkg/filter"
	"tomorecon/pkg/grid"
	"tomorecon/pkg/projector"
)

// SetLogger sets the logger used by every package of the engine. A nil
// logger silences logging, which is the default.
func SetLogger(l *slog.Logger) { logging.SetLogger(l) }

// Params holds the acquisition and reconstruction parameters.
type Params struct {
	// Parallel is the parallel-beam acquisition. When FanBeam is set it is
	// unused; the sinogram then comes from rebinning.
	Parallel projector.Geometry

	// FanBeam selects a fan-beam acquisition followed by rebinning.
	FanBeam bool

	// Fan is the fan-beam acquisition.
	Fan fanbeam.Geometry

	// Rebin is the parallel sinogram the fanogram is rebinned onto.
	Rebin fanbeam.RebinGeometry

	// Filter selects the kernel. Width and DetectorSpacing are taken from
	// the sinogram.
	Filter filter.Config

	// Image is the reconstructed image. A zero Width or Height copies the
	// size and spacing of the input image.
	Image backprojector.Geometry

	// Normalize scales the backprojection by the angular increment in
	// radians, divided by the detector spacing and multiplied by the kernel
	// gain. With Ram-Lak the result is in the units of the input image for
	// any angular coverage. Ramp has no DC term, so its result carries a
	// small downward bias (about 7% on a 256-pixel disk). It only applies
	// when Image.Scale is zero; otherwise Image.Scale is used as given.
	Normalize bool

	// NumCores bounds the number of goroutines per step. Values below one
	// use every CPU.
	NumCores int

	// Backend is the registry name of the backend. Empty selects "cpu".
	Backend string
}

// Reconstructor runs the pipeline once per Process call and keeps the
// intermediate grids of the last run:
//
//  1. forward projection (parallel, or fan-beam and rebinning)
//  2. filter construction and filtering
//  3. backprojection
//  4. quality metrics against the input image
type Reconstructor struct {
	params   *Params
	backend  Backend
	cpu      *CPUBackend
	observer Observer

	input    *grid.Grid2D[float32]
	fanogram *grid.Grid2D[float32]
	sinogram *grid.Grid2D[float32]
	kernel   *filter.Kernel
	filtered *grid.Grid2D[float32]
	result   *grid.Grid2D[float32]

	metrics ValidationMetrics
}

// NewReconstructor creates a Reconstructor for params, resolving the
// backend from the registry.
func NewReconstructor(params *Params) (*Reconstructor, error) {
	if params == nil {
		return nil, errors.New("reconstruction: nil params")
	}
	backend, err := NewBackend(params.Backend, params.NumCores)
	if err != nil {
		return nil, err
	}
	return &Reconstructor{
		params:  params,
		backend: backend,
		cpu:     &CPUBackend{Workers: params.NumCores},
	}, nil
}

// SetObserver installs an observer for intermediate grids. Nil removes it.
func (r *Reconstructor) SetObserver(o Observer) { r.observer = o }

// SetBackend replaces the backend chosen from Params.Backend.
func (r *Reconstructor) SetBackend(b Backend) { r.backend = b }

// Backend returns the backend in use.
func (r *Reconstructor) Backend() Backend { return r.backend }

func (r *Reconstructor) observe(checkpoint string, g *grid.Grid2D[float32]) {
	if r.observer != nil && g != nil {
		r.observer.Observe(checkpoint, g)
	}
}

// step runs fn on the configured backend and repeats it on the CPU when the
// backend asks for a fallback.
func (r *Reconstructor) step(name string, fn func(Backend) (*grid.Grid2D[float32], error)) (*grid.Grid2D[float32], error) {
	start := time.Now()
	out, err := fn(r.backend)
	if errors.Is(err, ErrFallbackToCPU) && r.backend.Name() != r.cpu.Name() {
		logging.Logger().Warn("backend fallback", "backend", r.backend.Name(), "step", name)
		out, err = fn(r.cpu)
	}
	logging.Logger().Debug("step finished", "step", name, "elapsed", time.Since(start))
	return out, err
}

// Process projects img, reconstructs it and computes the quality metrics.
func (r *Reconstructor) Process(ctx context.Context, img *grid.Grid2D[float32]) error {
	log := logging.Logger()
	r.input = img
	r.fanogram, r.sinogram, r.kernel, r.filtered, r.result = nil, nil, nil, nil, nil
	r.metrics = ValidationMetrics{}
	r.observe(CheckpointPhantom, img)

	log.Info("projecting", "fanBeam", r.params.FanBeam, "backend", r.backend.Name())
	sino, err := r.acquire(ctx, img)
	if err != nil {
		return err
	}

	if err := r.reconstruct(ctx, sino, img); err != nil {
		return err
	}

	if r.result.Width() == img.Width() && r.result.Height() == img.Height() {
		r.metrics = calculateValidationMetrics(toFloat64(img.Data()), toFloat64(r.result.Data()))
		log.Info("reconstruction metrics",
			"rmse", r.metrics.RMSE,
			"ssim", r.metrics.SSIM,
			"correlation", r.metrics.Correlation)
	} else {
		log.Info("skipping metrics, reconstruction and input sizes differ")
	}
	return nil
}

// Reconstruct filters and backprojects a sinogram produced elsewhere. The
// metrics are left empty since there is no reference image.
func (r *Reconstructor) Reconstruct(ctx context.Context, sino *grid.Grid2D[float32]) error {
	r.input, r.fanogram = nil, nil
	r.metrics = ValidationMetrics{}
	return r.reconstruct(ctx, sino, nil)
}

// acquire produces the parallel sinogram of img, through a fanogram when
// fan-beam is selected.
func (r *Reconstructor) acquire(ctx context.Context, img *grid.Grid2D[float32]) (*grid.Grid2D[float32], error) {
	if !r.params.FanBeam {
		sino, err := r.step("project", func(b Backend) (*grid.Grid2D[float32], error) {
			return b.Project(ctx, img, r.params.Parallel)
		})
		if err != nil {
			return nil, fmt.Errorf("parallel projection: %w", err)
		}
		r.sinogram = sino
		r.observe(CheckpointSinogram, sino)
		return sino, nil
	}

	fano, err := r.step("project-fan", func(b Backend) (*grid.Grid2D[float32], error) {
		return b.ProjectFan(ctx, img, r.params.Fan)
	})
	// A rejected geometry still yields the zero fanogram.
	r.fanogram = fano
	if err != nil {
		return nil, fmt.Errorf("fan-beam projection: %w", err)
	}
	r.observe(CheckpointFanogram, fano)

	logging.Logger().Info("rebinning fanogram")
	sino, err := r.step("rebin", func(b Backend) (*grid.Grid2D[float32], error) {
		return b.Rebin(ctx, fano, r.params.Fan, r.params.Rebin)
	})
	if err != nil {
		return nil, fmt.Errorf("rebinning: %w", err)
	}
	r.sinogram = sino
	r.observe(CheckpointRebinnedSinogram, sino)
	return sino, nil
}

// reconstruct runs the filter and backprojection on sino. ref, if not nil,
// supplies the image size when Params.Image leaves it unset.
func (r *Reconstructor) reconstruct(ctx context.Context, sino, ref *grid.Grid2D[float32]) error {
	log := logging.Logger()
	r.sinogram = sino

	cfg := r.params.Filter
	cfg.Width = sino.Width()
	cfg.DetectorSpacing = sino.Spacing()[0]
	kernel, err := filter.New(cfg)
	if err != nil {
		return fmt.Errorf("building filter: %w", err)
	}
	r.kernel = kernel
	r.observe(CheckpointFilterKernel, kernelGrid(kernel.Spectrum()))

	log.Info("filtering sinogram", "kind", kernel.Kind(), "transformLength", kernel.Len())
	filtered, err := r.step("filter", func(b Backend) (*grid.Grid2D[float32], error) {
		return b.Filter(ctx, kernel, sino)
	})
	if err != nil {
		return fmt.Errorf("filtering: %w", err)
	}
	r.filtered = filtered
	r.observe(CheckpointFilteredSinogram, filtered)

	geom, err := r.imageGeometry(sino, kernel, ref)
	if err != nil {
		return err
	}
	log.Info("backprojecting", "width", geom.Width, "height", geom.Height, "scale", geom.Scale)
	result, err := r.step("backproject", func(b Backend) (*grid.Grid2D[float32], error) {
		return b.Backproject(ctx, filtered, geom)
	})
	if err != nil {
		return fmt.Errorf("backprojection: %w", err)
	}
	r.result = result
	r.observe(CheckpointReconstruction, result)
	return nil
}

// imageGeometry resolves the target image size and the backprojection scale.
func (r *Reconstructor) imageGeometry(sino *grid.Grid2D[float32], kernel *filter.Kernel, ref *grid.Grid2D[float32]) (backprojector.Geometry, error) {
	geom := r.params.Image
	if geom.Width == 0 || geom.Height == 0 {
		if ref == nil {
			return geom, errors.New("reconstruction: image size required without an input image")
		}
		geom.Width, geom.Height = ref.Width(), ref.Height()
		geom.Spacing = ref.Spacing()
	}
	if geom.Scale == 0 && r.params.Normalize && sino.Height() > 0 {
		dtheta := math.Abs(sino.Spacing()[1]) * math.Pi / 180
		geom.Scale = dtheta / sino.Spacing()[0] * kernel.Gain()
	}
	return geom, nil
}

// GetMetrics returns the metrics of the last Process call.
func (r *Reconstructor) GetMetrics() ValidationMetrics { return r.metrics }

// Result returns the reconstructed image of the last run, or nil.
func (r *Reconstructor) Result() *grid.Grid2D[float32] { return r.result }

// Sinogram returns the parallel sinogram of the last run, or nil.
func (r *Reconstructor) Sinogram() *grid.Grid2D[float32] { return r.sinogram }

// Fanogram returns the fanogram of the last fan-beam run, or nil.
func (r *Reconstructor) Fanogram() *grid.Grid2D[float32] { return r.fanogram }

// FilteredSinogram returns the filtered sinogram of the last run, or nil.
func (r *Reconstructor) FilteredSinogram() *grid.Grid2D[float32] { return r.filtered }

// Kernel returns the filter kernel of the last run, or nil.
func (r *Reconstructor) Kernel() *filter.Kernel { return r.kernel }

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
