package entitlement

import "time"

// Metrics defines the interface for tracking profile operations.
type Metrics interface {
	// RecordCreditSpend records a credit spend attempt.
	RecordCreditSpend(tier string, amount int, success bool)

	// RecordPatchApplied records a profile field mutation.
	RecordPatchApplied(field string)

	// RecordStorageOperation records the duration and status of a profile store operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordCreditSpend(tier string, amount int, success bool)                    {}
func (n *NoopMetrics) RecordPatchApplied(field string)                                            {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
