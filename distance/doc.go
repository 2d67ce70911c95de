// Package distance provides vector distance calculations and the
// metric-appropriate result ordering used across index building and query
// dispatch.
//
// # Supported Metrics
//
//   - MetricL2: Squared Euclidean distance (default)
//   - MetricCosine: Cosine similarity; Provider returns Dot for it and does
//     not normalize, so the result is cosine only for L2-normalized inputs
//   - MetricDot: Dot product (inner product)
//   - MetricHamming: Hamming distance over byte-packed vectors
//
// # Usage
//
//	dist := distance.SquaredL2(a, b)
//	better := distance.Better(model.MetricL2, candidateScore, bestScore)
package distance
