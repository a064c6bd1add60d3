package grid

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// Transformer computes forward and inverse discrete Fourier transforms of a
// fixed length. It keeps its gonum work buffers between calls, so a single
// Transformer must not be shared between goroutines; give each worker its own.
type Transformer struct {
	fft *fourier.CmplxFFT
	buf []complex128
}

// NewTransformer creates a Transformer for sequences of length n.
func NewTransformer(n int) *Transformer {
	return &Transformer{
		fft: fourier.NewCmplxFFT(n),
		buf: make([]complex128, n),
	}
}

// Len returns the transform length.
func (t *Transformer) Len() int { return len(t.buf) }

// Forward replaces data with its unnormalised spectrum. The length of data
// must equal t.Len().
func (t *Transformer) Forward(data []complex64) {
	t.load(data)
	t.fft.Coefficients(t.buf, t.buf)
	t.store(data, 1)
}

// Inverse replaces the spectrum in data with its time-domain sequence,
// normalised by 1/n so that Inverse(Forward(x)) == x.
func (t *Transformer) Inverse(data []complex64) {
	t.load(data)
	t.fft.Sequence(t.buf, t.buf)
	t.store(data, 1/float64(len(t.buf)))
}

func (t *Transformer) load(data []complex64) {
	if len(data) != len(t.buf) {
		panic("grid: transform length mismatch")
	}
	for i, v := range data {
		t.buf[i] = complex128(v)
	}
}

func (t *Transformer) store(data []complex64, scale float64) {
	for i, v := range t.buf {
		data[i] = complex64(complex(real(v)*scale, imag(v)*scale))
	}
}

// FFT transforms g in place into the frequency domain. The spacing of g
// becomes the frequency resolution 1/(n·spacing).
func FFT(g *Grid1D[complex64]) {
	n := g.Len()
	if n == 0 {
		return
	}
	NewTransformer(n).Forward(g.data)
	g.spacing = 1 / (float64(n) * g.spacing)
	g.origin = 0
}

// IFFT transforms g in place back into the spatial domain, undoing FFT.
func IFFT(g *Grid1D[complex64]) {
	n := g.Len()
	if n == 0 {
		return
	}
	NewTransformer(n).Inverse(g.data)
	g.spacing = 1 / (float64(n) * g.spacing)
	g.origin = 0
}

// ToComplex copies a real signal into a complex grid of the given length,
// zero-padding the tail. It panics if length is shorter than the input.
func ToComplex(row []float32, length int) *Grid1D[complex64] {
	if length < len(row) {
		panic("grid: complex length shorter than input")
	}
	g := NewGrid1D[complex64](length)
	for i, v := range row {
		g.data[i] = complex(v, 0)
	}
	return g
}

// RealPart returns the real component of every sample of g.
func RealPart(g *Grid1D[complex64]) *Grid1D[float32] {
	out := NewGrid1D[float32](g.Len())
	out.spacing = g.spacing
	out.origin = g.origin
	for i, v := range g.data {
		out.data[i] = real(v)
	}
	return out
}
