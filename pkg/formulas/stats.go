// Package formulas exposes batch statistics built on gonum/stat,
// adapted from trader/pkg/formulas/stats.go. It backs the test-time
// oracle that checks the incremental ring-buffer tracers in the asset
// package against an independent from-scratch computation.
package formulas

import "gonum.org/v1/gonum/stat"

// Mean calculates the arithmetic mean of a slice of float64 values.
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the standard deviation of a slice of float64 values.
func StdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// Variance calculates the sample variance of a slice of float64 values.
func Variance(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Variance(data, nil)
}

// Correlation calculates the Pearson correlation coefficient between two
// equal-length datasets.
func Correlation(x, y []float64) float64 {
	if len(x) == 0 || len(y) == 0 || len(x) != len(y) {
		return 0
	}
	return stat.Correlation(x, y, nil)
}

// Covariance calculates the sample covariance between two equal-length
// datasets.
func Covariance(x, y []float64) float64 {
	if len(x) == 0 || len(y) == 0 || len(x) != len(y) {
		return 0
	}
	return stat.Covariance(x, y, nil)
}

// CalculateReturns converts a price series to simple returns,
// Returns[i] = Price[i]/Price[i-1] - 1.
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}
	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = prices[i]/prices[i-1] - 1
		}
	}
	return returns
}

// PopulationVariance computes the population (not sample) variance of
// data, the statistic spec.md §4.6 requires for the VOLATILITY tracer.
// gonum/stat.Variance is the unbiased sample estimator (divides by n-1),
// so the population form is computed directly from Mean here rather
// than approximated.
func PopulationVariance(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	mean := Mean(data)
	var sumSq float64
	for _, v := range data {
		d := v - mean
		sumSq += d * d
	}
	return sumSq / float64(len(data))
}
