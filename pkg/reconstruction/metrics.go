package reconstruction

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// entropyBins is the histogram resolution used for entropy estimates.
const entropyBins = 256

// ValidationMetrics compares a reconstruction with the image it was
// projected from.
type ValidationMetrics struct {
	// RMSE is the root mean square difference between the two images.
	// Lower is better.
	RMSE float64

	// SSIM is the global structural similarity index in [-1, 1], computed
	// over the whole image with the dynamic range of the original.
	SSIM float64

	// MI is the mutual information in nats under a joint Gaussian model,
	// −½·log(1−ρ²). Higher is better.
	MI float64

	// EntropyDiff is the absolute difference of the Shannon entropies (in
	// bits) of the two intensity histograms. Lower is better.
	EntropyDiff float64

	// Correlation is the Pearson correlation coefficient.
	Correlation float64
}

// calculateValidationMetrics compares reconstructed against original. Both
// slices must have the same length.
func calculateValidationMetrics(original, reconstructed []float64) ValidationMetrics {
	if len(original) != len(reconstructed) || len(original) == 0 {
		return ValidationMetrics{}
	}
	return ValidationMetrics{
		RMSE:        calculateRMSE(original, reconstructed),
		SSIM:        calculateSSIM(original, reconstructed),
		MI:          calculateMutualInformation(original, reconstructed),
		EntropyDiff: math.Abs(calculateEntropy(original) - calculateEntropy(reconstructed)),
		Correlation: correlation(original, reconstructed),
	}
}

func calculateRMSE(original, reconstructed []float64) float64 {
	return floats.Distance(original, reconstructed, 2) / math.Sqrt(float64(len(original)))
}

// calculateSSIM computes a single-window structural similarity index.
func calculateSSIM(original, reconstructed []float64) float64 {
	const (
		k1 = 0.01
		k2 = 0.03
	)
	dynamicRange := floats.Max(original) - floats.Min(original)
	if dynamicRange == 0 {
		dynamicRange = 1
	}
	c1 := (k1 * dynamicRange) * (k1 * dynamicRange)
	c2 := (k2 * dynamicRange) * (k2 * dynamicRange)

	muX := stat.Mean(original, nil)
	muY := stat.Mean(reconstructed, nil)
	sigmaX := stat.Variance(original, nil)
	sigmaY := stat.Variance(reconstructed, nil)
	sigmaXY := stat.Covariance(original, reconstructed, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den > 0 {
		return num / den
	}
	return 0
}

func calculateMutualInformation(original, reconstructed []float64) float64 {
	rho := correlation(original, reconstructed)
	if rho*rho >= 1 {
		return math.Inf(1)
	}
	return -0.5 * math.Log(1-rho*rho)
}

// correlation is stat.Correlation with constant inputs mapped to zero.
func correlation(x, y []float64) float64 {
	c := stat.Correlation(x, y, nil)
	if math.IsNaN(c) {
		return 0
	}
	return c
}

// calculateEntropy returns the Shannon entropy in bits of the intensity
// histogram of data.
func calculateEntropy(data []float64) float64 {
	lo, hi := floats.Min(data), floats.Max(data)
	if hi <= lo {
		return 0
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	dividers := floats.Span(make([]float64, entropyBins+1), lo, hi)
	// The last divider must lie strictly above the maximum.
	dividers[entropyBins] = math.Nextafter(hi, math.Inf(1))
	hist := stat.Histogram(nil, dividers, sorted, nil)
	floats.Scale(1/float64(len(data)), hist)
	return stat.Entropy(hist) / math.Ln2
}
