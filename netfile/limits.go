package netfile

import (
	"context"
	"log/slog"
	"strconv"
)

// -----------------------------------------------------------------------------
// Vector-read limits
// -----------------------------------------------------------------------------

// Session configuration keys for vector-read limits.
const (
	queryKeyMaxChunkSize  = "readv_ior_max"
	queryKeyMaxBatchCount = "readv_iov_max"
)

// Built-in limits used when the session cannot answer a config query.
const (
	DefaultMaxChunkSize  = 2_097_136
	DefaultMaxBatchCount = 1024
)

// VectorLimits bounds a vectored read: no chunk exceeds MaxChunkSize
// bytes and no batch carries more than MaxBatchCount chunks.
// Discovered once per file after a successful open, then immutable
// for the file's lifetime.
type VectorLimits struct {
	MaxChunkSize  int
	MaxBatchCount int
}

// DefaultVectorLimits returns the built-in fallback limits.
func DefaultVectorLimits() VectorLimits {
	return VectorLimits{
		MaxChunkSize:  DefaultMaxChunkSize,
		MaxBatchCount: DefaultMaxBatchCount,
	}
}

// discoverLimits queries the session for its vector-read limits.
// Query failure or unparsable values fall back to the defaults rather
// than failing the open.
func discoverLimits(ctx context.Context, s Session, log *slog.Logger) VectorLimits {
	limits := DefaultVectorLimits()

	resp, err := s.Query(ctx, []string{queryKeyMaxChunkSize, queryKeyMaxBatchCount})
	if err != nil {
		log.Debug("limits query failed, using defaults", "err", err)
		return limits
	}

	if v, err := strconv.Atoi(resp[queryKeyMaxChunkSize]); err == nil && v > 0 {
		limits.MaxChunkSize = v
	}
	if v, err := strconv.Atoi(resp[queryKeyMaxBatchCount]); err == nil && v > 0 {
		limits.MaxBatchCount = v
	}
	return limits
}
