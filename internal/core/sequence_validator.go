package core

import (
	"fmt"
)

// SequenceValidator validates source sequences per partition. Validation and
// advancing are separate steps so a rejected event does not consume its slot.
// Not thread-safe; only accessed from the serialized core.
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

// ValidateSequence checks strict source sequence ordering. The first event
// seen on a partition sets its base.
func (sv *SequenceValidator) ValidateSequence(
	partition string,
	sourceSequence int64,
	isDuplicate bool,
) error {
	expected, seen := sv.expectedNextSeq[partition]
	if !seen {
		return nil
	}

	if sourceSequence < expected {
		if isDuplicate {
			// Already processed
			return nil
		}
		sv.metrics.RecordOutOfOrder(partition)
		return fmt.Errorf("out-of-order event: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		return nil
	}

	sv.metrics.RecordGap(partition, expected, sourceSequence)
	return fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
		partition, expected, sourceSequence)
}

// Advance records sourceSequence as applied on partition.
func (sv *SequenceValidator) Advance(partition string, sourceSequence int64) {
	if next := sourceSequence + 1; next > sv.expectedNextSeq[partition] {
		sv.expectedNextSeq[partition] = next
	}
}

// ValidatePriceSequence reports whether a feed sequence is newer than the last
// applied one. Gaps are tolerated; stale sequences are skipped by the caller.
func (sv *SequenceValidator) ValidatePriceSequence(commodity string, priceSequence int64) bool {
	partition := PricePartition(commodity)

	expected := sv.expectedNextSeq[partition]

	if priceSequence < expected {
		sv.metrics.RecordStalePrice(commodity)
		return false
	}

	if expected > 0 && priceSequence > expected {
		sv.metrics.RecordPriceGap(commodity, expected, priceSequence)
	}

	return true
}

// PricePartition is the partition key for a commodity's feed sequence.
func PricePartition(commodity string) string {
	return fmt.Sprintf("price:%s", commodity)
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// RestorePartition sets the expected sequence (recovery only)
func (sv *SequenceValidator) RestorePartition(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// GetAllPartitions returns a copy of every partition's expected sequence.
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}

// GetMetrics returns metrics for monitoring
func (sv *SequenceValidator) GetMetrics() *SequenceMetrics {
	return sv.metrics
}

// --- Metrics ---

// SequenceMetrics tracks sequence validation stats.
// Not thread-safe; only accessed from the serialized core.
type SequenceMetrics struct {
	gaps        map[string]int64 // partition -> gap count
	outOfOrder  map[string]int64 // partition -> out-of-order count
	priceGaps   map[string]int64 // commodity -> price gap count
	stalePrices map[string]int64 // commodity -> skipped stale sequences
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:        make(map[string]int64),
		outOfOrder:  make(map[string]int64),
		priceGaps:   make(map[string]int64),
		stalePrices: make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(partition string, expected, got int64) {
	m.gaps[partition]++
}

func (m *SequenceMetrics) RecordOutOfOrder(partition string) {
	m.outOfOrder[partition]++
}

func (m *SequenceMetrics) RecordPriceGap(commodity string, expected, got int64) {
	m.priceGaps[commodity]++
}

func (m *SequenceMetrics) RecordStalePrice(commodity string) {
	m.stalePrices[commodity]++
}

func (m *SequenceMetrics) GetGaps(partition string) int64 {
	return m.gaps[partition]
}

func (m *SequenceMetrics) GetOutOfOrder(partition string) int64 {
	return m.outOfOrder[partition]
}

func (m *SequenceMetrics) GetPriceGaps(commodity string) int64 {
	return m.priceGaps[commodity]
}

func (m *SequenceMetrics) GetStalePrices(commodity string) int64 {
	return m.stalePrices[commodity]
}
