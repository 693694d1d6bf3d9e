package mgp

// Batch is a half-open range [Start, End) of training entries.
type Batch struct {
	Start int
	End   int
}

// Len returns the number of entries in the batch.
func (b Batch) Len() int { return b.End - b.Start }

// Partition splits [0, total) into contiguous, ordered batches for a pool of
// workers.
//
// Parameters:
// - total: number of training entries
// - sampleHint: maximum batch length; <= 0 means unbounded
// - workers: pool size; <= 0 is treated as 1
//
// Returns:
// - []Batch: ranges covering [0, total) exactly, in order
//
// The batch length is ceil(total/workers), capped at sampleHint, so a small
// training set is spread over every worker while a large one is cut into
// memory-bounded pieces. Concatenating per-batch outputs in the returned order
// reconstructs the unpartitioned result.
//
// Usage example:
//
//	Partition(10, 3, 2) // [0,3) [3,6) [6,9) [9,10)
//	Partition(10, 100, 4) // [0,3) [3,6) [6,9) [9,10)
//	Partition(0, 100, 4) // empty
func Partition(total, sampleHint, workers int) []Batch {
	if total <= 0 {
		return nil
	}

	if workers <= 0 {
		workers = 1
	}

	size := ceilDiv(total, workers)
	if sampleHint > 0 && size > sampleHint {
		size = sampleHint
	}

	batches := make([]Batch, 0, ceilDiv(total, size))
	for start := 0; start < total; start += size {
		end := start + size
		if end > total {
			end = total
		}

		batches = append(batches, Batch{Start: start, End: end})
	}

	return batches
}
