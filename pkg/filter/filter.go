// Package filter applies the filtered-backprojection reconstruction filter to
// sinograms in the frequency domain, one projection row at a time.
package filter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"strings"
	"time"

	"tomorecon/internal/logging"
	"tomorecon/internal/workers"
	"tomorecon/pkg/grid"
)

// ErrDimensionMismatch is returned when a kernel length does not match the
// transform length, or a sinogram width does not match the kernel.
var ErrDimensionMismatch = errors.New("filter: dimension mismatch")

// residueWarnLevel is the relative imaginary residue above which the row
// transform is reported as suspicious.
const residueWarnLevel = 1e-3

// Kind selects the filter kernel.
type Kind int

const (
	// Ramp is the ideal |f| filter built directly in the frequency domain.
	Ramp Kind = iota

	// RamLak is the band-limited spatial-domain approximation of the ramp.
	RamLak
)

// String returns the configuration name of k.
func (k Kind) String() string {
	switch k {
	case Ramp:
		return "ramp"
	case RamLak:
		return "ram-lak"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case Ramp, RamLak:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("filter: unknown kind %d", int(k))
}

// UnmarshalText implements encoding.TextUnmarshaler. It accepts "ramp" and
// "ram-lak" (also "ramlak"), case-insensitively.
func (k *Kind) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "ramp":
		*k = Ramp
	case "ram-lak", "ramlak":
		*k = RamLak
	default:
		return fmt.Errorf("filter: unknown kind %q", text)
	}
	return nil
}

// Config describes the kernel to build.
type Config struct {
	// Kind selects the kernel.
	Kind Kind

	// Width is the sinogram width the kernel will be applied to.
	Width int

	// DetectorSpacing is the physical detector pitch. It only sets the
	// frequency spacing recorded on the kernel; the kernel values are in
	// index units.
	DetectorSpacing float64

	// TransformLength is the row transform length. Zero uses Width, or the
	// next power of two not below 2·Width when PadToPowerOfTwo is set.
	TransformLength int

	// PadToPowerOfTwo zero-pads rows to avoid circular wrap-around.
	PadToPowerOfTwo bool
}

func (c Config) transformLength() int {
	if c.TransformLength != 0 {
		return c.TransformLength
	}
	if c.PadToPowerOfTwo {
		n := 1
		for n < 2*c.Width {
			n <<= 1
		}
		return n
	}
	return c.Width
}

// Kernel is a frequency response ready to be applied to projection rows.
// A Kernel is read-only after construction and safe for concurrent use.
type Kernel struct {
	kind     Kind
	width    int
	spectrum *grid.Grid1D[complex64]
}

// New builds the kernel described by cfg.
func New(cfg Config) (*Kernel, error) {
	if cfg.Width < 1 {
		return nil, fmt.Errorf("filter: invalid width %d", cfg.Width)
	}
	n := cfg.transformLength()
	if n < cfg.Width {
		return nil, fmt.Errorf("%w: transform length %d shorter than width %d", ErrDimensionMismatch, n, cfg.Width)
	}

	var spectrum *grid.Grid1D[complex64]
	switch cfg.Kind {
	case Ramp:
		spectrum = rampSpectrum(n)
	case RamLak:
		spectrum = grid.ToComplex(SpatialRamLak(n), n)
		grid.FFT(spectrum)
	default:
		return nil, fmt.Errorf("filter: unknown kind %d", int(cfg.Kind))
	}
	setFrequencySpacing(spectrum, cfg)

	logging.Logger().Debug("filter kernel built",
		"kind", cfg.Kind,
		"width", cfg.Width,
		"transformLength", n)
	return &Kernel{kind: cfg.Kind, width: cfg.Width, spectrum: spectrum}, nil
}

// FromSpectrum wraps a caller-supplied frequency response. Its length must
// equal the transform length that cfg selects.
func FromSpectrum(spectrum []complex64, cfg Config) (*Kernel, error) {
	if cfg.Width < 1 {
		return nil, fmt.Errorf("filter: invalid width %d", cfg.Width)
	}
	n := cfg.transformLength()
	if len(spectrum) != n || n < cfg.Width {
		return nil, fmt.Errorf("%w: spectrum length %d, transform length %d, width %d",
			ErrDimensionMismatch, len(spectrum), n, cfg.Width)
	}
	g := grid.NewGrid1D[complex64](n)
	copy(g.Data(), spectrum)
	setFrequencySpacing(g, cfg)
	return &Kernel{kind: cfg.Kind, width: cfg.Width, spectrum: g}, nil
}

// setFrequencySpacing records the physical frequency step of the kernel.
// It is bookkeeping only.
func setFrequencySpacing(g *grid.Grid1D[complex64], cfg Config) {
	ds := cfg.DetectorSpacing
	if ds <= 0 {
		ds = 1
	}
	g.SetSpacing(1 / (ds * float64(g.Len()) / float64(cfg.Width)))
}

// rampSpectrum returns |f| in index units: 0 at DC rising to n/2 at Nyquist.
func rampSpectrum(n int) *grid.Grid1D[complex64] {
	g := grid.NewGrid1D[complex64](n)
	for f := 0; f < n/2; f++ {
		g.Set(f, complex(float32(f), 0))
	}
	for f := n / 2; f < n; f++ {
		g.Set(f, complex(float32(n-f), 0))
	}
	return g
}

// SpatialRamLak returns the spatial Ram-Lak kernel of length n: 0.25 at the
// origin, zero at even offsets and −1/(π·m)² at odd offsets m, where the
// second half uses the mirrored offset n−i.
func SpatialRamLak(n int) []float32 {
	k := make([]float32, n)
	if n == 0 {
		return k
	}
	k[0] = 0.25
	for i := 1; i < n; i++ {
		m := i
		if i >= n/2 {
			m = n - i
		}
		if m%2 != 0 {
			k[i] = float32(-1 / math.Pow(math.Pi*float64(m), 2))
		}
	}
	return k
}

// Kind returns the kernel kind.
func (k *Kernel) Kind() Kind { return k.kind }

// Width returns the sinogram width the kernel accepts.
func (k *Kernel) Width() int { return k.width }

// Len returns the transform length.
func (k *Kernel) Len() int { return k.spectrum.Len() }

// Spectrum returns a copy of the frequency response.
func (k *Kernel) Spectrum() *grid.Grid1D[complex64] { return k.spectrum.Clone() }

// Gain returns the factor that scales the kernel to a unit ramp in cycles
// per sample: 1 for Ram-Lak, 1/Len for Ramp. Only Ram-Lak restores the
// mean; Ramp zeroes the DC bin and reconstructs slightly low.
func (k *Kernel) Gain() float64 {
	if k.kind == Ramp {
		return 1 / float64(k.Len())
	}
	return 1
}

// Option configures Apply.
type Option func(*options)

type options struct {
	workers int
}

// WithWorkers bounds the number of goroutines. Values below one use every CPU.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// Apply filters every row of sino and returns the filtered sinogram, which
// keeps the size, spacing and origin of sino.
func (k *Kernel) Apply(ctx context.Context, sino *grid.Grid2D[float32], opts ...Option) (*grid.Grid2D[float32], error) {
	if sino.Width() != k.width {
		return nil, fmt.Errorf("%w: sinogram width %d, kernel width %d", ErrDimensionMismatch, sino.Width(), k.width)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	out := grid.NewLike[float32](sino)
	n := k.Len()
	nw := workers.Count(o.workers)
	if nw > sino.Height() {
		nw = sino.Height()
	}

	// Rows are dealt out in contiguous blocks so every worker can reuse one
	// transformer and one buffer.
	residues := make([]float64, nw)
	err := workers.Range(ctx, nw, nw, func(w int) error {
		tr := grid.NewTransformer(n)
		buf := make([]complex64, n)
		spec := k.spectrum.Data()
		lo, hi := w*sino.Height()/nw, (w+1)*sino.Height()/nw
		for y := lo; y < hi; y++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			row := sino.Row(y)
			clear(buf)
			var peak float64
			for i, v := range row {
				buf[i] = complex(v, 0)
				peak = math.Max(peak, math.Abs(float64(v)))
			}
			tr.Forward(buf)
			for i := range buf {
				buf[i] *= spec[i]
			}
			tr.Inverse(buf)

			dst := out.Row(y)
			var residue float64
			for i := range dst {
				dst[i] = real(buf[i])
				residue = math.Max(residue, math.Abs(float64(imag(buf[i]))))
			}
			if peak > 0 {
				residues[w] = math.Max(residues[w], residue/peak)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var residue float64
	for _, r := range residues {
		residue = math.Max(residue, r)
	}
	log := logging.Logger()
	if residue > residueWarnLevel && k.isHermitian() {
		log.Warn("imaginary residue after inverse transform", "relative", residue)
	}
	log.Debug("sinogram filtered",
		"kind", k.kind,
		"rows", sino.Height(),
		"residue", residue,
		"elapsed", time.Since(start))
	return out, nil
}

// isHermitian reports whether the kernel maps real rows to real rows.
// Custom spectra may legitimately leave an imaginary part.
func (k *Kernel) isHermitian() bool {
	spec := k.spectrum.Data()
	n := len(spec)
	for i := 1; i < n; i++ {
		if cmplx.Abs(complex128(spec[i]-conj(spec[n-i]))) > 1e-4*(1+cmplx.Abs(complex128(spec[i]))) {
			return false
		}
	}
	return true
}

func conj(v complex64) complex64 {
	return complex(real(v), -imag(v))
}
