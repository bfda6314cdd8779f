package billing

import "time"

// Metrics defines the interface for tracking billing webhook operations.
// All methods are optional - providers should gracefully handle nil metrics.
type Metrics interface {
	// RecordWebhookEvent records a processed webhook event.
	// outcome: the decision branch taken ("applied", "ignored_status",
	// "no_action", "unknown_account")
	// status: "success" or "error"
	RecordWebhookEvent(provider, outcome, status string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(provider, outcome string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: the type of error (e.g., "auth_failed", "invalid_payload",
	// "missing_email", "storage_error")
	RecordWebhookError(provider, errorType string)

	// RecordTierChange records when an account's tier changes.
	RecordTierChange(provider, fromTier, toTier string)

	// RecordLifetimeGrant records a lifetime entitlement grant.
	RecordLifetimeGrant(provider string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordTierChange(_, _, _ string)                              {}
func (n *NoopMetrics) RecordLifetimeGrant(_ string)                                 {}
