package kiwify

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ultraprompt/entitlement/pkg/billing"
	"github.com/ultraprompt/entitlement/pkg/billing/internal"
	"github.com/ultraprompt/entitlement/pkg/entitlement"
)

// derivePatch maps a parsed payload onto an entitlement mutation. The
// two grant rules are independent and their effects union into a single
// patch: a payload can carry the lifetime product, a cataloged plan,
// both, or neither.
func (p *Provider) derivePatch(payload *webhookPayload) (entitlement.Patch, string) {
	var patch entitlement.Patch

	if p.lifetimeProductID != "" && payload.ProductID == p.lifetimeProductID {
		granted := true
		patch.HasLifetimePrompt = &granted
	}

	var newTier string
	if tier, ok := p.manager.Catalog().Resolve(payload.planName()); ok {
		name := tier.Name
		credits := tier.Credits
		patch.SubscriptionTier = &name
		patch.Credits = &credits
		newTier = name
	}

	return patch, newTier
}

// processEvent runs the reconciliation decision flow for an
// authenticated, parsed payload and writes the HTTP response. It
// returns the outcome label and HTTP status for metrics.
func (p *Provider) processEvent(ctx context.Context, w http.ResponseWriter, payload *webhookPayload) (string, string) {
	if !p.statusAccepted(payload.OrderStatus) {
		p.logger.Debug("ignoring order status",
			entitlement.Field{Key: "provider", Value: providerName},
			entitlement.Field{Key: "order_status", Value: payload.OrderStatus},
		)
		internal.WriteJSON(w, http.StatusOK, ackResponse{Received: true, Action: "ignored_status"})
		return "ignored_status", "200"
	}

	email := entitlement.NormalizeEmail(payload.Customer.Email)
	if email == "" {
		p.logger.Error("accepted order without customer email",
			entitlement.Field{Key: "provider", Value: providerName},
			entitlement.Field{Key: "order_status", Value: payload.OrderStatus},
			entitlement.Field{Key: "product_id", Value: payload.ProductID},
		)
		p.metrics.RecordWebhookError(providerName, "missing_email")
		http.Error(w, "missing customer email", http.StatusBadRequest)
		return "missing_email", "400"
	}

	patch, newTier := p.derivePatch(payload)
	if patch.IsZero() {
		p.logger.Debug("no entitlement rules matched",
			entitlement.Field{Key: "provider", Value: providerName},
			entitlement.Field{Key: "product_id", Value: payload.ProductID},
			entitlement.Field{Key: "plan", Value: payload.planName()},
		)
		internal.WriteJSON(w, http.StatusOK, ackResponse{Received: true, Action: "no_op"})
		return "no_op", "200"
	}

	// Look up first so the callback can report the prior tier. A
	// missing account means the purchase beat sign-up; acknowledge so
	// the vendor stops redelivering, the user picks the grant up on
	// their next purchase event after registering.
	previous, err := p.manager.GetProfile(ctx, email)
	if err != nil {
		if errors.Is(err, entitlement.ErrProfileNotFound) {
			p.logger.Warn("webhook for unknown account",
				entitlement.Field{Key: "provider", Value: providerName},
				entitlement.Field{Key: "email", Value: email},
			)
			internal.WriteJSON(w, http.StatusOK, ackResponse{Received: true, Action: "unknown_account"})
			return "unknown_account", "200"
		}
		p.logger.Error("profile lookup failed",
			entitlement.Field{Key: "provider", Value: providerName},
			entitlement.Field{Key: "email", Value: email},
			entitlement.Field{Key: "error", Value: err.Error()},
		)
		p.metrics.RecordWebhookError(providerName, "storage_failure")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return "storage_failure", "500"
	}

	updated, err := p.manager.ApplyPatch(ctx, email, patch)
	if err != nil {
		p.logger.Error("entitlement update failed",
			entitlement.Field{Key: "provider", Value: providerName},
			entitlement.Field{Key: "email", Value: email},
			entitlement.Field{Key: "error", Value: err.Error()},
		)
		p.metrics.RecordWebhookError(providerName, "storage_failure")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return "storage_failure", "500"
	}

	if newTier != "" && previous.SubscriptionTier != newTier {
		p.metrics.RecordTierChange(providerName, previous.SubscriptionTier, newTier)
	}
	lifetimeGranted := patch.HasLifetimePrompt != nil && !previous.HasLifetimePrompt
	if lifetimeGranted {
		p.metrics.RecordLifetimeGrant(providerName)
	}

	p.logger.Info("entitlement updated",
		entitlement.Field{Key: "provider", Value: providerName},
		entitlement.Field{Key: "email", Value: email},
		entitlement.Field{Key: "fields", Value: patch.Fields()},
		entitlement.Field{Key: "tier", Value: updated.SubscriptionTier},
		entitlement.Field{Key: "credits", Value: updated.Credits},
	)

	if p.callback != nil {
		event := billing.WebhookEvent{
			CustomerEmail:   email,
			Provider:        providerName,
			OrderStatus:     payload.OrderStatus,
			ProductID:       payload.ProductID,
			PlanName:        payload.planName(),
			PreviousTier:    previous.SubscriptionTier,
			NewTier:         newTier,
			LifetimeGranted: lifetimeGranted,
			CreditsReset:    patch.Credits,
			ReceivedAt:      time.Now().UTC(),
		}
		if err := p.callback(ctx, event); err != nil {
			// The mutation is already persisted; a callback failure
			// must not trigger vendor redelivery.
			p.logger.Error("webhook callback failed",
				entitlement.Field{Key: "provider", Value: providerName},
				entitlement.Field{Key: "email", Value: email},
				entitlement.Field{Key: "error", Value: err.Error()},
			)
			p.metrics.RecordWebhookError(providerName, "callback_failed")
		}
	}

	internal.WriteJSON(w, http.StatusOK, appliedResponse{
		Received: true,
		Action:   "applied",
		Profile: profilePayload{
			Email:             updated.Email,
			SubscriptionTier:  updated.SubscriptionTier,
			Credits:           updated.Credits,
			HasLifetimePrompt: updated.HasLifetimePrompt,
		},
	})
	return "applied", "200"
}
