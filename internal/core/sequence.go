package core

import (
	"errors"
	"fmt"
)

// ErrOutOfOrder marks ordering violations. The ingestion layer terminates
// such messages instead of retrying; redelivery cannot fix a gap.
var ErrOutOfOrder = errors.New("out of order")

// SequenceValidator enforces gapless source-sequence ordering per partition.
// Only committed operations advance a partition watermark: the log holds
// committed operations exclusively, so replay rebuilds the exact same
// watermarks. Price partitions are looser, gaps are tolerated and stale
// updates ignored. Not thread-safe; only the single-threaded core touches it.
type SequenceValidator struct {
	expectedNextSeq map[string]int64
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{expectedNextSeq: make(map[string]int64)}
}

// Validate checks ordering for an instruction partition without advancing it.
func (sv *SequenceValidator) Validate(partition string, sourceSequence int64, isDuplicate bool) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		if isDuplicate {
			return nil
		}
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			ErrOutOfOrder, partition, expected, sourceSequence)
	}
	if sourceSequence == expected {
		return nil
	}
	return fmt.Errorf("%w: sequence gap: partition=%s, expected=%d, got=%d",
		ErrOutOfOrder, partition, expected, sourceSequence)
}

// Advance moves the partition watermark past a committed operation.
func (sv *SequenceValidator) Advance(partition string, sourceSequence int64) {
	sv.expectedNextSeq[partition] = sourceSequence + 1
}

// ValidatePrice checks ordering for a price partition and advances it when
// the update should be applied. False means stale, silently ignored.
func (sv *SequenceValidator) ValidatePrice(partition string, priceSequence int64) bool {
	expected := sv.expectedNextSeq[partition]
	if priceSequence <= expected {
		return false
	}
	sv.expectedNextSeq[partition] = priceSequence
	return true
}

// Snapshot returns the partition map for recovery snapshots.
func (sv *SequenceValidator) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}

// Restore replaces the partition map from a snapshot.
func (sv *SequenceValidator) Restore(m map[string]int64) {
	sv.expectedNextSeq = make(map[string]int64, len(m))
	for k, v := range m {
		sv.expectedNextSeq[k] = v
	}
}
