package audit

import (
	"fmt"
	"sort"
)

// VerifyChain checks that records form a single valid hash chain: each
// record's record_hash matches its recomputed hash, each previous_hash
// links to the prior record's record_hash, and sequence numbers are
// contiguous. Records are sorted by SequenceNumber before checking, so
// callers may pass them in any order. An empty slice is trivially valid.
func VerifyChain(records []*Record) (bool, []string) {
	var errs []string
	if len(records) == 0 {
		return true, nil
	}

	sorted := make([]*Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].SequenceNumber < sorted[j].SequenceNumber
	})

	for i, rec := range sorted {
		expected, err := ComputeRecordHash(rec)
		if err != nil {
			errs = append(errs, fmt.Sprintf("record seq=%d: failed to compute hash: %v", rec.SequenceNumber, err))
			continue
		}
		if rec.RecordHash != expected {
			errs = append(errs, fmt.Sprintf(
				"record seq=%d: hash mismatch (expected %s..., got %s...)",
				rec.SequenceNumber, truncate(expected, 16), truncate(rec.RecordHash, 16),
			))
		}

		if i > 0 {
			prev := sorted[i-1]
			if rec.PreviousHash != prev.RecordHash {
				errs = append(errs, fmt.Sprintf(
					"record seq=%d: previous_hash does not link to seq=%d record_hash",
					rec.SequenceNumber, prev.SequenceNumber,
				))
			}
			if expectedSeq := prev.SequenceNumber + 1; rec.SequenceNumber != expectedSeq {
				errs = append(errs, fmt.Sprintf(
					"sequence gap: expected %d, got %d", expectedSeq, rec.SequenceNumber,
				))
			}
		}
	}

	return len(errs) == 0, errs
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
