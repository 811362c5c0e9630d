package core

import (
	"fmt"
)

// SequenceValidator validates source sequences per partition (one
// partition per term plus a global one) and the monotone clock.
// Not thread-safe — only accessed from the single-threaded core.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         NewSequenceMetrics(),
	}
}

// ValidateSequence checks source sequence ordering
func (sv *SequenceValidator) ValidateSequence(
	partition string,
	sourceSequence int64,
	isDuplicate bool,
) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		// Stale or duplicate
		if isDuplicate {
			// Expected - already processed
			return nil
		}
		// Out-of-order delivery of a NEW command
		sv.metrics.RecordOutOfOrder(partition)
		return fmt.Errorf("out-of-order command: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		// Normal case - advance sequence
		sv.expectedNextSeq[partition] = expected + 1
		return nil
	}

	// sourceSequence > expected - gap detected
	sv.metrics.RecordGap(partition, expected, sourceSequence)
	return fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
		partition, expected, sourceSequence)
}

// ValidateGaugeSequence validates governance feed updates. The feed
// publishes absolute weights, so gaps are tolerated and stale updates are
// skipped rather than rejected. Returns true when the update is stale.
func (sv *SequenceValidator) ValidateGaugeSequence(
	term string,
	feedSequence int64,
) bool {
	partition := fmt.Sprintf("gauge:%s", term)

	expected := sv.expectedNextSeq[partition]

	if feedSequence <= expected {
		// Stale - skip (the current weight is newer)
		return true
	}

	if feedSequence > expected+1 {
		// Gap - log via metrics but accept, weights are absolute
		sv.metrics.RecordGap(partition, expected, feedSequence)
	}

	sv.expectedNextSeq[partition] = feedSequence
	return false
}

// ValidateAdminSequence orders operator-injected commands, which carry
// timestamps as sequences. Gaps are expected; only monotonicity is
// enforced. Returns true when the injection is stale.
func (sv *SequenceValidator) ValidateAdminSequence(seq int64) bool {
	const partition = "admin"
	if seq <= sv.expectedNextSeq[partition] {
		return true
	}
	sv.expectedNextSeq[partition] = seq
	return false
}

// Export copies the per-partition ordering state for checkpoints.
func (sv *SequenceValidator) Export() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for partition, seq := range sv.expectedNextSeq {
		out[partition] = seq
	}
	return out
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// SetExpectedSequence initializes expected sequence (used during recovery)
func (sv *SequenceValidator) SetExpectedSequence(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// --- Metrics ---

// SequenceMetrics tracks sequence validation stats.
// Not thread-safe — only accessed from the single-threaded core.
type SequenceMetrics struct {
	gaps       map[string]int64 // partition -> gap count
	outOfOrder map[string]int64 // partition -> out-of-order count
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:       make(map[string]int64),
		outOfOrder: make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(partition string, expected, got int64) {
	m.gaps[partition]++
}

func (m *SequenceMetrics) RecordOutOfOrder(partition string) {
	m.outOfOrder[partition]++
}

func (m *SequenceMetrics) GetGaps(partition string) int64 {
	return m.gaps[partition]
}

func (m *SequenceMetrics) GetOutOfOrder(partition string) int64 {
	return m.outOfOrder[partition]
}
