package kiwify

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ultraprompt/entitlement/pkg/billing/internal"
	"github.com/ultraprompt/entitlement/pkg/entitlement"
)

// webhookPayload represents the Kiwify webhook payload structure.
// Arbitrary additional vendor fields are ignored.
type webhookPayload struct {
	OrderStatus string       `json:"order_status"`
	ProductID   string       `json:"product_id"`
	Customer    customerData `json:"customer"`

	// Kiwify sends the plan under either casing.
	Plan      *planData `json:"plan"`
	PlanUpper *planData `json:"Plan"`
}

type customerData struct {
	Email string `json:"email"`
}

type planData struct {
	Name string `json:"name"`
}

// planName returns the plan label from whichever casing the vendor used.
func (p *webhookPayload) planName() string {
	if p.Plan != nil && strings.TrimSpace(p.Plan.Name) != "" {
		return p.Plan.Name
	}
	if p.PlanUpper != nil {
		return p.PlanUpper.Name
	}
	return ""
}

// ackResponse is the body for acknowledged-without-mutation outcomes.
type ackResponse struct {
	Received bool   `json:"received"`
	Action   string `json:"action"`
}

// appliedResponse carries the post-mutation record back to the vendor,
// which aids manual reconciliation of delivery logs.
type appliedResponse struct {
	Received bool           `json:"received"`
	Action   string         `json:"action"`
	Profile  profilePayload `json:"profile"`
}

type profilePayload struct {
	Email             string `json:"email"`
	SubscriptionTier  string `json:"subscription_tier,omitempty"`
	Credits           int    `json:"credits"`
	HasLifetimePrompt bool   `json:"has_lifetime_prompt"`
}

// handleWebhook processes incoming Kiwify webhook events.
//
// Request lifecycle: Received -> Authenticated -> Parsed -> Filtered ->
// Mutated|Skipped -> Acknowledged. Rejections (401/405/400/500) never
// mutate state; every other path acknowledges with 200 so Kiwify's
// redelivery does not storm non-actionable events.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Authenticate before reading or parsing anything else. Failing
	// closed here keeps behavior identical for unauthenticated callers
	// regardless of body content.
	signature := r.URL.Query().Get("signature")
	if subtle.ConstantTimeCompare([]byte(signature), p.secret) != 1 {
		p.logger.Warn("webhook signature mismatch",
			entitlement.Field{Key: "provider", Value: providerName},
			entitlement.Field{Key: "received_signature", Value: signature},
		)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, p.maxBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		// Log the raw payload for manual reconciliation; there is no
		// event ledger to replay from.
		p.logger.Error("webhook payload unparsable",
			entitlement.Field{Key: "provider", Value: providerName},
			entitlement.Field{Key: "raw_payload", Value: string(body)},
			entitlement.Field{Key: "error", Value: err.Error()},
		)
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	outcome, status := p.processEvent(r.Context(), w, &payload)
	p.metrics.RecordWebhookEvent(providerName, outcome, status)
	p.metrics.RecordWebhookProcessingDuration(providerName, outcome, time.Since(startTime))
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
