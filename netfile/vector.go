package netfile

import (
	"context"
	"fmt"
)

// -----------------------------------------------------------------------------
// Chunk planning
// -----------------------------------------------------------------------------

// planBatches splits a list of (offset, length) read descriptors into
// ordered batches bounded by the session's vector-read limits.
//
// The destination buffer is packed: descriptor i's bytes land at the
// cumulative position of all preceding descriptor lengths. A
// descriptor longer than MaxChunkSize is split into maximum-size
// chunks plus a nonzero remainder, each chunk carrying the exact
// sub-slice it fills. A batch closes when it reaches exactly
// MaxBatchCount chunks; overflow chunks from a split descriptor carry
// into the next batch in order. Zero-length descriptors contribute no
// chunks.
//
// Returns the batches and the total requested byte count. Zero
// batches with a nil error means the read is a no-op.
func planBatches(dst []byte, offsets []int64, lengths []int, limits VectorLimits) ([]Batch, int64, error) {
	if len(offsets) != len(lengths) {
		return nil, 0, fmt.Errorf("netfile: %d offsets but %d lengths", len(offsets), len(lengths))
	}
	if limits.MaxChunkSize <= 0 || limits.MaxBatchCount <= 0 {
		return nil, 0, fmt.Errorf("netfile: invalid vector limits %+v", limits)
	}

	var total int64
	for i, l := range lengths {
		if l < 0 {
			return nil, 0, fmt.Errorf("netfile: negative length %d at descriptor %d", l, i)
		}
		if offsets[i] < 0 {
			return nil, 0, fmt.Errorf("netfile: negative offset %d at descriptor %d", offsets[i], i)
		}
		total += int64(l)
	}
	if total > int64(len(dst)) {
		return nil, 0, fmt.Errorf("netfile: destination buffer too small: need %d, have %d", total, len(dst))
	}

	var (
		batches []Batch
		batch   = make(Batch, 0, limits.MaxBatchCount)
		pos     int64 // cumulative position in dst
	)

	for i, l := range lengths {
		if l == 0 {
			continue
		}
		sub := dst[pos : pos+int64(l)]
		pos += int64(l)

		for done := 0; done < l; {
			n := l - done
			if n > limits.MaxChunkSize {
				n = limits.MaxChunkSize
			}
			batch = append(batch, Chunk{
				Offset: offsets[i] + int64(done),
				Data:   sub[done : done+n],
			})
			done += n

			if len(batch) == limits.MaxBatchCount {
				batches = append(batches, batch)
				batch = make(Batch, 0, limits.MaxBatchCount)
			}
		}
	}

	if len(batch) > 0 {
		batches = append(batches, batch)
	}
	return batches, total, nil
}

// -----------------------------------------------------------------------------
// Dispatch and join
// -----------------------------------------------------------------------------

// dispatchBatches submits every batch before awaiting any completion,
// then waits for all of them and aggregates the outcome.
//
// Completions may arrive in any order; the scan runs in ascending
// batch index order so the lowest-index failure is always the one
// reported, independent of network timing. A submission rejected at
// dispatch time cancels the call's context and drains the completions
// of batches already in flight before the rejection is returned.
func dispatchBatches(ctx context.Context, s Session, batches []Batch) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pending := make([]<-chan BatchResult, 0, len(batches))
	for i, b := range batches {
		ch, err := s.VectorRead(ctx, b)
		if err != nil {
			cancel()
			for _, p := range pending {
				<-p
			}
			return 0, fmt.Errorf("netfile: dispatch batch %d: %w", i, err)
		}
		pending = append(pending, ch)
	}

	// Wait for all completions; one slot per batch, filled exactly once.
	results := make([]BatchResult, len(pending))
	for i, ch := range pending {
		results[i] = <-ch
	}

	var transferred int64
	for i := range results {
		if results[i].Err != nil {
			return 0, fmt.Errorf("netfile: batch %d: %w", i, results[i].Err)
		}
		transferred += results[i].Bytes
	}
	return transferred, nil
}
