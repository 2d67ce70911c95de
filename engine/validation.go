package engine

import (
	"fmt"
	"math"

	"github.com/reynaldliu/milvus/model"
)

// ValidationLimits defines bounds for input validation.
// These prevent crashes from malformed input and DoS attacks via resource exhaustion.
type ValidationLimits struct {
	MaxDimension int // Max vector dimension (default: 65536)
	MaxK         int // Max search results (default: 10000)
	MaxBatchSize int // Max records per insert batch (default: 10000)
}

// DefaultLimits returns safe production defaults.
func DefaultLimits() ValidationLimits {
	return ValidationLimits{
		MaxDimension: 65536,
		MaxK:         10000,
		MaxBatchSize: 10000,
	}
}

// validateVector checks for nil, dimension mismatch, and invalid values (NaN/Inf).
func validateVector(vec []float32, dimension int, limits ValidationLimits) error {
	if vec == nil {
		return model.NewError(model.ErrInvalidArg, "vector is nil")
	}
	if len(vec) != dimension {
		return model.NewError(model.ErrDimensionMismatch,
			fmt.Sprintf("expected dimension %d, got %d", dimension, len(vec)))
	}
	if len(vec) > limits.MaxDimension {
		return model.NewError(model.ErrInvalidArg,
			fmt.Sprintf("dimension %d exceeds limit %d", len(vec), limits.MaxDimension))
	}
	for i, val := range vec {
		if math.IsNaN(float64(val)) {
			return model.NewError(model.ErrInvalidArg, fmt.Sprintf("vector[%d] is NaN", i))
		}
		if math.IsInf(float64(val), 0) {
			return model.NewError(model.ErrInvalidArg, fmt.Sprintf("vector[%d] is Inf", i))
		}
	}
	return nil
}

// validateBatch checks a Batch against the collection's dimension and the
// configured limits before it reaches the WAL. Called before the WAL
// append, so a rejected batch never advances the LSN counter.
func validateBatch(b model.Batch, dimension int, limits ValidationLimits) error {
	if b.CollectionID == "" {
		return model.NewError(model.ErrInvalidArg, "collection id is empty")
	}
	if len(b.Records) == 0 {
		return model.NewError(model.ErrInvalidArg, "batch has no records")
	}
	if len(b.Records) > limits.MaxBatchSize {
		return model.NewError(model.ErrInvalidArg,
			fmt.Sprintf("batch size %d exceeds limit %d", len(b.Records), limits.MaxBatchSize))
	}
	for i, r := range b.Records {
		if err := validateVector(r.Vector, dimension, limits); err != nil {
			return model.WrapError(model.ErrInvalidArg, fmt.Sprintf("record[%d]", i), err)
		}
	}
	return nil
}

// validateDeleteBatch checks a DeleteBatch before it reaches the WAL.
func validateDeleteBatch(b model.DeleteBatch, limits ValidationLimits) error {
	if b.CollectionID == "" {
		return model.NewError(model.ErrInvalidArg, "collection id is empty")
	}
	if len(b.IDs) == 0 {
		return model.NewError(model.ErrInvalidArg, "delete batch has no ids")
	}
	if len(b.IDs) > limits.MaxBatchSize {
		return model.NewError(model.ErrInvalidArg,
			fmt.Sprintf("delete batch size %d exceeds limit %d", len(b.IDs), limits.MaxBatchSize))
	}
	return nil
}

// validateQueryRequest checks a QueryRequest's shape and k against the
// collection's dimension and the configured limits before dispatch.
func validateQueryRequest(req model.QueryRequest, dimension int, limits ValidationLimits) error {
	if req.CollectionID == "" {
		return model.NewError(model.ErrInvalidArg, "collection id is empty")
	}
	if req.K <= 0 {
		return model.NewError(model.ErrInvalidArg, "k must be positive")
	}
	if req.K > limits.MaxK {
		return model.NewError(model.ErrInvalidArg, fmt.Sprintf("k=%d exceeds limit %d", req.K, limits.MaxK))
	}
	if len(req.Vectors) == 0 {
		return model.NewError(model.ErrInvalidArg, "no query vectors")
	}
	for i, v := range req.Vectors {
		if err := validateVector(v, dimension, limits); err != nil {
			return model.WrapError(model.ErrInvalidArg, fmt.Sprintf("query vector[%d]", i), err)
		}
	}
	return nil
}
