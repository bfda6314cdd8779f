package billing

import (
	"context"

	"github.com/ultraprompt/entitlement/pkg/entitlement"
)

// WebhookCallback is invoked after an entitlement mutation has been
// applied. Deployments use it to ledger events externally or notify
// other systems; a returned error surfaces as a processing failure so
// the vendor redelivers.
type WebhookCallback func(ctx context.Context, event WebhookEvent) error

// Config defines the standard configuration all providers should accept.
// Everything is injected explicitly; providers never read the process
// environment themselves.
type Config struct {
	// Manager is the entitlement Manager that receives profile mutations
	Manager *entitlement.Manager

	// WebhookSecret authenticates incoming webhook requests. Required.
	WebhookSecret string

	// LifetimeProductID is the catalog id of the one-time lifetime
	// purchase SKU. Events carrying it set the lifetime flag.
	LifetimeProductID string

	// AcceptedStatuses is the set of order statuses that trigger a
	// mutation. Defaults to {"paid", "approved"}; anything else is
	// acknowledged without effect.
	AcceptedStatuses []string

	// MaxBodyBytes caps the webhook request body size.
	// Defaults to 256KB.
	MaxBodyBytes int64

	// Logger is used for structured logging of every decision branch.
	// If nil, logging is silently ignored (no-op).
	Logger entitlement.Logger

	// Metrics is an optional metrics collector for webhook operations.
	// If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.DefaultMetrics(namespace) for Prometheus metrics.
	Metrics Metrics

	// WebhookCallback is invoked after each applied mutation (optional).
	WebhookCallback WebhookCallback

	// RateLimit caps webhook requests per client IP per minute.
	// Defaults to 100; set negative to disable.
	RateLimit int
}
