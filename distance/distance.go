// Package distance provides vector distance calculations and the
// metric-appropriate ordering used to merge per-segment search results into
// a global top-K: ascending for L2, descending for inner product.
package distance

import (
	"fmt"
	"math"
	"math/bits"
	"slices"

	"github.com/reynaldliu/milvus/model"
)

// Dot calculates the dot product of two vectors. Assumes vectors are the
// same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Hamming calculates the Hamming distance between two byte slices: the
// count of differing bits, as a float32.
func Hamming(a, b []byte) float32 {
	var count int
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		count += bits.OnesCount8(a[i] ^ b[i])
	}
	return float32(count)
}

// NormalizeL2InPlace L2-normalizes v in place. Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := Dot(v, v)
	if norm2 == 0 {
		return false
	}
	inv := 1 / float32(math.Sqrt(float64(norm2)))
	for i := range v {
		v[i] *= inv
	}
	return true
}

// NormalizeL2Copy returns a normalized copy of src. Returns false if src has
// zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}

// Metric represents the distance metric used for vector comparison.
type Metric int

const (
	MetricL2 Metric = iota
	MetricCosine
	MetricDot
	MetricHamming
)

func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "L2"
	case MetricCosine:
		return "Cosine"
	case MetricDot:
		return "Dot"
	case MetricHamming:
		return "Hamming"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

// Func is a function type for distance calculation.
type Func func(a, b []float32) float32

// FuncBytes is a function type for distance calculation on byte slices.
type FuncBytes func(a, b []byte) float32

// Provider returns the distance function for the given metric.
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricL2:
		return SquaredL2, nil
	case MetricCosine, MetricDot:
		return Dot, nil
	default:
		return nil, fmt.Errorf("unsupported metric for float32: %v", m)
	}
}

// ProviderBytes returns the distance function for the given metric on byte slices.
func ProviderBytes(m Metric) (FuncBytes, error) {
	switch m {
	case MetricHamming:
		return Hamming, nil
	default:
		return nil, fmt.Errorf("unsupported metric for bytes: %v", m)
	}
}

// FromModelMetric maps the catalog's model.Metric to the local Metric enum
// used by Provider/ProviderBytes.
func FromModelMetric(m model.Metric) (Metric, error) {
	switch m {
	case model.MetricL2:
		return MetricL2, nil
	case model.MetricIP:
		return MetricDot, nil
	case model.MetricHamming:
		return MetricHamming, nil
	default:
		return 0, fmt.Errorf("unsupported model metric: %v", m)
	}
}

// Ascending reports whether candidates under metric are ordered best-first
// by ascending score (L2: smaller distance is better) as opposed to
// descending (IP: larger inner product is better). Query dispatch's top-K
// merge uses this to pick its comparator.
func Ascending(m model.Metric) bool {
	return m != model.MetricIP
}

// Better reports whether score a ranks ahead of score b under metric's
// ordering.
func Better(m model.Metric, a, b float32) bool {
	if Ascending(m) {
		return a < b
	}
	return a > b
}
