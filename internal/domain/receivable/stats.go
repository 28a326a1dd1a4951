package receivable

import "math"

// Distribution is the mean and sample standard deviation of a group
type Distribution struct {
	N      int
	Mean   float64
	StdDev float64
}

// Describe computes the distribution of values using the sample (n-1)
// standard deviation
func Describe(values []float64) Distribution {
	d := Distribution{N: len(values)}
	if d.N == 0 {
		return d
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	d.Mean = sum / float64(d.N)
	if d.N < 2 {
		return d
	}
	ss := 0.0
	for _, v := range values {
		diff := v - d.Mean
		ss += diff * diff
	}
	d.StdDev = math.Sqrt(ss / float64(d.N-1))
	return d
}

// ZScore returns |v - mean| / stddev. The second result is false when the
// group has no spread, in which case no value can be an outlier.
func (d Distribution) ZScore(v float64) (float64, bool) {
	if d.StdDev == 0 || math.IsNaN(d.StdDev) {
		return 0, false
	}
	return math.Abs(v-d.Mean) / d.StdDev, true
}

// Applicable reports whether the group is large enough and has spread
func (d Distribution) Applicable(minSample int) bool {
	return d.N >= minSample && d.StdDev > 0
}
