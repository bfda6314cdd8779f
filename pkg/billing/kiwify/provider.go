// Package kiwify implements the billing.Provider interface for the
// Kiwify payment processor. Kiwify authenticates webhooks with a shared
// secret passed as a "signature" query parameter and notifies order
// lifecycle transitions as free-form status tokens; only completed
// payments mutate entitlement state.
package kiwify

import (
	"net/http"
	"strings"
	"time"

	"github.com/ultraprompt/entitlement/pkg/billing"
	"github.com/ultraprompt/entitlement/pkg/billing/internal"
	"github.com/ultraprompt/entitlement/pkg/entitlement"
)

const (
	providerName             = "kiwify"
	defaultMaxBodyBytes      = 256 * 1024
	defaultRateLimitRequests = 100
	defaultRateLimitWindow   = time.Minute
)

// defaultAcceptedStatuses are the order statuses that represent a
// completed payment. Everything else (created, refused, refunded,
// chargeback, ...) is acknowledged without mutation.
var defaultAcceptedStatuses = []string{"paid", "approved"}

// Provider implements the billing.Provider interface for Kiwify
type Provider struct {
	manager           *entitlement.Manager
	secret            []byte
	lifetimeProductID string
	acceptedStatuses  map[string]struct{}
	maxBodyBytes      int64
	rateLimiter       *internal.RateLimiter
	logger            entitlement.Logger
	metrics           billing.Metrics
	callback          billing.WebhookCallback
}

// NewProvider creates a new Kiwify billing provider
func NewProvider(config billing.Config) (*Provider, error) {
	if config.Manager == nil {
		return nil, billing.ErrProviderNotConfigured
	}
	secret := strings.TrimSpace(config.WebhookSecret)
	if secret == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	statuses := config.AcceptedStatuses
	if len(statuses) == 0 {
		statuses = defaultAcceptedStatuses
	}
	accepted := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		accepted[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}

	maxBody := config.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	var limiter *internal.RateLimiter
	if config.RateLimit >= 0 {
		limit := config.RateLimit
		if limit == 0 {
			limit = defaultRateLimitRequests
		}
		limiter = internal.NewRateLimiter(limit, defaultRateLimitWindow)
	}

	logger := config.Logger
	if logger == nil {
		logger = &entitlement.NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	return &Provider{
		manager:           config.Manager,
		secret:            []byte(secret),
		lifetimeProductID: strings.TrimSpace(config.LifetimeProductID),
		acceptedStatuses:  accepted,
		maxBodyBytes:      maxBody,
		rateLimiter:       limiter,
		logger:            logger,
		metrics:           metrics,
		callback:          config.WebhookCallback,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Kiwify webhooks
func (p *Provider) WebhookHandler() http.Handler {
	handler := http.HandlerFunc(p.handleWebhook)
	if p.rateLimiter == nil {
		return handler
	}
	return p.rateLimiter.Middleware(handler)
}

// statusAccepted reports whether the order status represents a
// completed payment.
func (p *Provider) statusAccepted(orderStatus string) bool {
	_, ok := p.acceptedStatuses[strings.ToLower(strings.TrimSpace(orderStatus))]
	return ok
}
