package reconstruction

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tomorecon/pkg/backprojector"
	"tomorecon/pkg/fanbeam"
	"tomorecon/pkg/filter"
	"tomorecon/pkg/grid"
	"tomorecon/pkg/phantom"
	"tomorecon/pkg/projector"
)

// recorder collects the checkpoints an observer sees.
type recorder struct {
	names []string
}

func (r *recorder) Observe(checkpoint string, g *grid.Grid2D[float32]) {
	r.names = append(r.names, checkpoint)
}

// fallbackBackend delegates projection to the CPU but refuses the filter
// and backprojection steps.
type fallbackBackend struct {
	CPUBackend
	refused int
}

func (b *fallbackBackend) Name() string { return "refusing" }

func (b *fallbackBackend) Filter(ctx context.Context, k *filter.Kernel, sino *grid.Grid2D[float32]) (*grid.Grid2D[float32], error) {
	b.refused++
	return nil, ErrFallbackToCPU
}

func (b *fallbackBackend) Backproject(ctx context.Context, sino *grid.Grid2D[float32], g backprojector.Geometry) (*grid.Grid2D[float32], error) {
	b.refused++
	return nil, ErrFallbackToCPU
}

func smallParams() *Params {
	return &Params{
		Parallel:  projector.Geometry{NumProjections: 30, NumDetectorPixels: 48, DetectorSpacing: 1},
		Filter:    filter.Config{Kind: filter.RamLak},
		Normalize: true,
		NumCores:  2,
	}
}

// radialCheck compares every pixel of img within the radial band [r0, r1)
// around the centre against want.
func radialCheck(t *testing.T, img *grid.Grid2D[float32], r0, r1, want, tol float64) {
	t.Helper()
	bad := 0
	for j := 0; j < img.Height(); j++ {
		for i := 0; i < img.Width(); i++ {
			x, y := img.IndexToPhysical(float64(i), float64(j))
			r := math.Hypot(x, y)
			if r < r0 || r >= r1 {
				continue
			}
			if v := float64(img.At(i, j)); math.Abs(v-want) > tol {
				if bad < 10 {
					t.Errorf("pixel (%d,%d) at r=%.1f: expected %g±%g, got %g", i, j, r, want, tol, v)
				}
				bad++
			}
		}
	}
	if bad > 0 {
		t.Errorf("%d pixels in band [%g, %g) out of tolerance", bad, r0, r1)
	}
}

// TestEndToEndDisk reconstructs a 256×256 unit-density disk of radius 50
// from 180 parallel projections.
func TestEndToEndDisk(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping end-to-end reconstruction in short mode")
	}
	img := phantom.New(256, 256, 1)
	phantom.Draw(img, phantom.Disk(0, 0, 50, 1))

	r, err := NewReconstructor(&Params{
		Parallel:  projector.Geometry{NumProjections: 180, NumDetectorPixels: 256, DetectorSpacing: 1},
		Filter:    filter.Config{Kind: filter.RamLak},
		Normalize: true,
	})
	if err != nil {
		t.Fatalf("NewReconstructor failed: %v", err)
	}
	if err := r.Process(context.Background(), img); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	result := r.Result()
	if result.Width() != 256 || result.Height() != 256 {
		t.Fatalf("Expected 256x256 result, got %dx%d", result.Width(), result.Height())
	}
	radialCheck(t, result, 0, 40, 1, 0.05)
	radialCheck(t, result, 60, math.Inf(1), 0, 0.05)

	m := r.GetMetrics()
	if m.Correlation < 0.95 {
		t.Errorf("Expected correlation above 0.95, got %g", m.Correlation)
	}
	if m.RMSE > 0.15 {
		t.Errorf("Expected RMSE below 0.15, got %g", m.RMSE)
	}
}

func TestFanBeamPipeline(t *testing.T) {
	img := phantom.New(64, 64, 1)
	phantom.Draw(img, phantom.Disk(0, 0, 15, 1))

	params := &Params{
		FanBeam: true,
		Fan: fanbeam.Geometry{
			NumProjections:    360,
			NumDetectorPixels: 128,
			DetectorSpacing:   1,
			DistSourceIso:     100,
			DistSourceDet:     200,
		},
		Filter:    filter.Config{Kind: filter.RamLak},
		Normalize: true,
	}
	r, err := NewReconstructor(params)
	if err != nil {
		t.Fatalf("NewReconstructor failed: %v", err)
	}
	rec := &recorder{}
	r.SetObserver(rec)
	if err := r.Process(context.Background(), img); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	want := []string{
		CheckpointPhantom,
		CheckpointFanogram,
		CheckpointRebinnedSinogram,
		CheckpointFilterKernel,
		CheckpointFilteredSinogram,
		CheckpointReconstruction,
	}
	if diff := cmp.Diff(want, rec.names); diff != "" {
		t.Errorf("checkpoints mismatch (-want +got):\n%s", diff)
	}

	sino := r.Sinogram()
	if sino.Width() != 128 || sino.Height() != 180 || sino.Spacing()[0] != 0.5 {
		t.Errorf("Expected 128x180 rebinned sinogram at spacing 0.5, got %dx%d at %g",
			sino.Width(), sino.Height(), sino.Spacing()[0])
	}
	radialCheck(t, r.Result(), 0, 10, 1, 0.1)
	radialCheck(t, r.Result(), 20, 28, 0, 0.1)
}

func TestFanGeometryError(t *testing.T) {
	img := phantom.Default(64, 64, 1)
	params := &Params{
		FanBeam: true,
		Fan:     fanbeam.Geometry{NumProjections: 36, NumDetectorPixels: 32, DistSourceIso: 20, DistSourceDet: 60},
		Filter:  filter.Config{Kind: filter.Ramp},
	}
	r, err := NewReconstructor(params)
	if err != nil {
		t.Fatalf("NewReconstructor failed: %v", err)
	}
	err = r.Process(context.Background(), img)
	var gerr *fanbeam.GeometryError
	if !errors.As(err, &gerr) {
		t.Fatalf("Expected *fanbeam.GeometryError, got %v", err)
	}
	fano := r.Fanogram()
	if fano == nil {
		t.Fatal("Expected the zero fanogram to be kept")
	}
	for i, v := range fano.Data() {
		if v != 0 {
			t.Fatalf("sample %d: expected 0, got %g", i, v)
		}
	}
	if r.Result() != nil {
		t.Error("Expected no reconstruction after a geometry error")
	}
}

func TestParallelCheckpoints(t *testing.T) {
	r, err := NewReconstructor(smallParams())
	if err != nil {
		t.Fatalf("NewReconstructor failed: %v", err)
	}
	var got []string
	var kernelWidth int
	r.SetObserver(Observers{ObserverFunc(func(name string, g *grid.Grid2D[float32]) {
		got = append(got, name)
		if name == CheckpointFilterKernel {
			kernelWidth = g.Width()
		}
	})})
	if err := r.Process(context.Background(), phantom.Default(32, 32, 1)); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	want := []string{
		CheckpointPhantom,
		CheckpointSinogram,
		CheckpointFilterKernel,
		CheckpointFilteredSinogram,
		CheckpointReconstruction,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("checkpoints mismatch (-want +got):\n%s", diff)
	}
	if kernelWidth != 48 {
		t.Errorf("Expected kernel of length 48, got %d", kernelWidth)
	}
}

// TestBackendFallback checks that refused steps run on the CPU and give the
// same result as the CPU backend.
func TestBackendFallback(t *testing.T) {
	img := phantom.Default(32, 32, 1)

	ref, err := NewReconstructor(smallParams())
	if err != nil {
		t.Fatalf("NewReconstructor failed: %v", err)
	}
	if err := ref.Process(context.Background(), img); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	r, err := NewReconstructor(smallParams())
	if err != nil {
		t.Fatalf("NewReconstructor failed: %v", err)
	}
	fb := &fallbackBackend{CPUBackend: CPUBackend{Workers: 3}}
	r.SetBackend(fb)
	if err := r.Process(context.Background(), img); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if fb.refused != 2 {
		t.Errorf("Expected 2 refused steps, got %d", fb.refused)
	}
	if diff := cmp.Diff(ref.Result().Data(), r.Result().Data()); diff != "" {
		t.Errorf("fallback result differs from CPU (-cpu +fallback):\n%s", diff)
	}
}

func TestBackendRegistry(t *testing.T) {
	if !slices.Contains(Backends(), "cpu") {
		t.Fatalf("Expected cpu backend to be registered, got %v", Backends())
	}
	b, err := NewBackend("", 4)
	if err != nil || b.Name() != "cpu" {
		t.Fatalf("Expected default cpu backend, got %v (%v)", b, err)
	}

	err = RegisterBackend("refusing", func(workers int) (Backend, error) {
		return &fallbackBackend{CPUBackend: CPUBackend{Workers: workers}}, nil
	})
	if err != nil {
		t.Fatalf("RegisterBackend failed: %v", err)
	}
	b, err = NewBackend("refusing", 1)
	if err != nil || b.Name() != "refusing" {
		t.Errorf("Expected refusing backend, got %v (%v)", b, err)
	}

	if _, err := NewBackend("opencl", 1); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Expected ErrUnknownBackend, got %v", err)
	}
	if err := RegisterBackend("", nil); err == nil {
		t.Error("Expected error registering an unnamed backend")
	}
	if _, err := NewReconstructor(&Params{Backend: "opencl"}); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Expected NewReconstructor to report ErrUnknownBackend, got %v", err)
	}
}

func TestReconstructSinogram(t *testing.T) {
	sino, err := projector.Project(context.Background(), phantom.Default(32, 32, 1),
		projector.Geometry{NumProjections: 30, NumDetectorPixels: 48})
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}

	r, err := NewReconstructor(smallParams())
	if err != nil {
		t.Fatalf("NewReconstructor failed: %v", err)
	}
	if err := r.Reconstruct(context.Background(), sino); err == nil {
		t.Error("Expected an error without an image size")
	}

	params := smallParams()
	params.Image = backprojector.Geometry{Width: 20, Height: 24}
	r, err = NewReconstructor(params)
	if err != nil {
		t.Fatalf("NewReconstructor failed: %v", err)
	}
	if err := r.Reconstruct(context.Background(), sino); err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}
	if res := r.Result(); res.Width() != 20 || res.Height() != 24 {
		t.Errorf("Expected 20x24 result, got %dx%d", res.Width(), res.Height())
	}
	if r.GetMetrics() != (ValidationMetrics{}) {
		t.Errorf("Expected empty metrics, got %+v", r.GetMetrics())
	}
}

// TestNormalizeScale checks that normalisation only rescales the raw
// backprojection.
func TestNormalizeScale(t *testing.T) {
	img := phantom.Default(32, 32, 1)
	params := smallParams()
	params.Filter.Kind = filter.Ramp

	norm, _ := NewReconstructor(params)
	if err := norm.Process(context.Background(), img); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	raw := smallParams()
	raw.Filter.Kind = filter.Ramp
	raw.Normalize = false
	plain, _ := NewReconstructor(raw)
	if err := plain.Process(context.Background(), img); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	scale := math.Pi / 30 / 48
	for i, v := range plain.Result().Data() {
		want := float64(v) * scale
		if got := float64(norm.Result().Data()[i]); math.Abs(got-want) > 1e-4*(1+math.Abs(want)) {
			t.Fatalf("pixel %d: expected %g, got %g", i, want, got)
		}
	}
}

// TestNormalizeFullTurn checks that a 360° scan normalises to the same
// image as a 180° scan with the same angular increment.
func TestNormalizeFullTurn(t *testing.T) {
	img := phantom.Default(32, 32, 1)

	half := smallParams()
	half.Parallel.AngularIncrement = 6
	full := smallParams()
	full.Parallel.NumProjections = 60
	full.Parallel.AngularIncrement = 6

	var results []*grid.Grid2D[float32]
	for _, params := range []*Params{half, full} {
		r, err := NewReconstructor(params)
		if err != nil {
			t.Fatalf("NewReconstructor failed: %v", err)
		}
		if err := r.Process(context.Background(), img); err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		results = append(results, r.Result())
	}

	for i, want := range results[0].Data() {
		got := results[1].Data()[i]
		if math.Abs(float64(got-want)) > 1e-3*(1+math.Abs(float64(want))) {
			t.Fatalf("pixel %d: expected %g, got %g", i, want, got)
		}
	}
}

func TestValidationMetrics(t *testing.T) {
	a := []float64{0, 1, 2, 3, 4, 5, 6, 7}
	same := calculateValidationMetrics(a, a)
	if same.RMSE != 0 || math.Abs(same.SSIM-1) > 1e-12 || math.Abs(same.Correlation-1) > 1e-12 {
		t.Errorf("Expected perfect scores for identical data, got %+v", same)
	}
	if same.EntropyDiff != 0 || same.MI < 10 {
		t.Errorf("Expected zero entropy difference and unbounded MI, got %+v", same)
	}

	b := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	shifted := calculateValidationMetrics(a, b)
	if math.Abs(shifted.RMSE-1) > 1e-12 {
		t.Errorf("Expected RMSE 1 for a unit offset, got %g", shifted.RMSE)
	}
	if shifted.SSIM >= 1 || shifted.SSIM <= 0.9 {
		t.Errorf("Expected SSIM slightly below 1, got %g", shifted.SSIM)
	}

	flat := calculateValidationMetrics(a, make([]float64, len(a)))
	if flat.Correlation != 0 || flat.MI != 0 {
		t.Errorf("Expected zero correlation against a constant, got %+v", flat)
	}
	if want := calculateEntropy(a); math.Abs(flat.EntropyDiff-want) > 1e-12 || math.Abs(want-3) > 1e-9 {
		t.Errorf("Expected entropy difference of 3 bits, got %g (entropy %g)", flat.EntropyDiff, want)
	}

	if got := calculateValidationMetrics(a, b[:3]); got != (ValidationMetrics{}) {
		t.Errorf("Expected empty metrics for mismatched lengths, got %+v", got)
	}
}
