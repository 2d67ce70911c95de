// Package query implements the storage core's read path: given a
// collection, optional partition scope, and a batch of query vectors, it
// resolves the searchable segment set, fans work out across a bounded pool,
// and merges per-segment top-K results into one ranked answer per query
// row while masking out soft-deleted primary keys.
//
// The ANN index math itself is out of scope: Dispatcher delegates scoring
// to a SearchKernel, resolved per segment by its EngineType. Segments with
// no built index yet (RAW/TO_INDEX) always score through FlatKernel, the
// brute-force fallback this package ships.
package query
