package kiwify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/ultraprompt/entitlement/pkg/billing"
	"github.com/ultraprompt/entitlement/pkg/entitlement"
)

func TestDerivePatch(t *testing.T) {
	manager, _ := testManager(t)
	provider := testProvider(t, billing.Config{Manager: manager})

	tests := []struct {
		name         string
		payload      webhookPayload
		wantLifetime bool
		wantTier     string
		wantCredits  int
		wantZero     bool
	}{
		{
			name:     "no rules matched",
			payload:  webhookPayload{ProductID: testOtherProduct},
			wantZero: true,
		},
		{
			name:         "lifetime product only",
			payload:      webhookPayload{ProductID: testLifetimeID},
			wantLifetime: true,
		},
		{
			name: "plan only",
			payload: webhookPayload{
				ProductID: testOtherProduct,
				Plan:      &planData{Name: "Ultra Pro"},
			},
			wantTier:    "Ultra Pro",
			wantCredits: 70,
		},
		{
			name: "lifetime and plan together",
			payload: webhookPayload{
				ProductID: testLifetimeID,
				Plan:      &planData{Name: "Ultra Max"},
			},
			wantLifetime: true,
			wantTier:     "Ultra Max",
			wantCredits:  180,
		},
		{
			name: "plan name case insensitive",
			payload: webhookPayload{
				Plan: &planData{Name: "ULTRA start"},
			},
			wantTier:    "Ultra Start",
			wantCredits: 20,
		},
		{
			name: "plan name trimmed",
			payload: webhookPayload{
				Plan: &planData{Name: "  Ultra Pro  "},
			},
			wantTier:    "Ultra Pro",
			wantCredits: 70,
		},
		{
			name: "uncataloged plan",
			payload: webhookPayload{
				Plan: &planData{Name: "Legacy Gold"},
			},
			wantZero: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patch, newTier := provider.derivePatch(&tt.payload)

			if tt.wantZero {
				if !patch.IsZero() {
					t.Fatalf("Expected empty patch, got fields %v", patch.Fields())
				}
				return
			}
			if tt.wantLifetime != (patch.HasLifetimePrompt != nil && *patch.HasLifetimePrompt) {
				t.Errorf("Lifetime flag mismatch: %+v", patch)
			}
			if tt.wantTier == "" {
				if patch.SubscriptionTier != nil {
					t.Errorf("Unexpected tier %q", *patch.SubscriptionTier)
				}
				return
			}
			if patch.SubscriptionTier == nil || *patch.SubscriptionTier != tt.wantTier {
				t.Errorf("Expected tier %q, got %v", tt.wantTier, patch.SubscriptionTier)
			}
			if newTier != tt.wantTier {
				t.Errorf("Expected newTier %q, got %q", tt.wantTier, newTier)
			}
			if patch.Credits == nil || *patch.Credits != tt.wantCredits {
				t.Errorf("Expected credits %d, got %v", tt.wantCredits, patch.Credits)
			}
		})
	}
}

func TestWebhook_UppercasePlanKey(t *testing.T) {
	manager, store := testManager(t)
	provider := testProvider(t, billing.Config{Manager: manager})
	seedProfile(t, store, entitlement.Profile{Email: testEmail})

	// Kiwify has shipped the plan object under both "plan" and "Plan".
	body := `{"order_status":"paid","product_id":"x","customer":{"email":"` + testEmail + `"},"Plan":{"name":"Ultra Pro"}}`
	w := postWebhook(t, provider, testSecret, body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	profile, _ := store.GetByEmail(context.Background(), testEmail)
	if profile.SubscriptionTier != "Ultra Pro" || profile.Credits != 70 {
		t.Errorf("Uppercase Plan key not honored: %+v", profile)
	}
}

func TestWebhook_LowercasePlanWins(t *testing.T) {
	manager, store := testManager(t)
	provider := testProvider(t, billing.Config{Manager: manager})
	seedProfile(t, store, entitlement.Profile{Email: testEmail})

	body := `{"order_status":"paid","customer":{"email":"` + testEmail + `"},"plan":{"name":"Ultra Start"},"Plan":{"name":"Ultra Max"}}`
	w := postWebhook(t, provider, testSecret, body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	profile, _ := store.GetByEmail(context.Background(), testEmail)
	if profile.SubscriptionTier != "Ultra Start" {
		t.Errorf("Expected lowercase plan to win, got %q", profile.SubscriptionTier)
	}
}

func TestWebhook_UnknownVendorFieldsIgnored(t *testing.T) {
	manager, store := testManager(t)
	provider := testProvider(t, billing.Config{Manager: manager})
	seedProfile(t, store, entitlement.Profile{Email: testEmail})

	body := `{
		"order_id": "abc123",
		"order_status": "paid",
		"payment_method": "pix",
		"customer": {"email": "` + testEmail + `", "CPF": "000", "mobile": "+55"},
		"plan": {"name": "Ultra Start", "frequency": "monthly"},
		"commissions": {"charge_amount": 4700}
	}`
	w := postWebhook(t, provider, testSecret, body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 with extra vendor fields, got %d: %s", w.Code, w.Body.String())
	}

	profile, _ := store.GetByEmail(context.Background(), testEmail)
	if profile.Credits != 20 {
		t.Errorf("Expected 20 credits, got %d", profile.Credits)
	}
}

func TestWebhook_CallbackReceivesEvent(t *testing.T) {
	manager, store := testManager(t)

	var got billing.WebhookEvent
	calls := 0
	provider := testProvider(t, billing.Config{
		Manager: manager,
		WebhookCallback: func(ctx context.Context, event billing.WebhookEvent) error {
			calls++
			got = event
			return nil
		},
	})
	seedProfile(t, store, entitlement.Profile{Email: testEmail, SubscriptionTier: "Ultra Start", Credits: 3})

	w := postWebhook(t, provider, testSecret, orderBody("paid", testLifetimeID, testEmail, "Ultra Pro"))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	if calls != 1 {
		t.Fatalf("Expected 1 callback call, got %d", calls)
	}
	if got.Provider != "kiwify" || got.CustomerEmail != testEmail {
		t.Errorf("Unexpected event identity: %+v", got)
	}
	if got.PreviousTier != "Ultra Start" || got.NewTier != "Ultra Pro" {
		t.Errorf("Expected tier transition Ultra Start -> Ultra Pro, got %q -> %q", got.PreviousTier, got.NewTier)
	}
	if !got.LifetimeGranted {
		t.Error("Expected LifetimeGranted")
	}
	if got.CreditsReset == nil || *got.CreditsReset != 70 {
		t.Errorf("Expected CreditsReset 70, got %v", got.CreditsReset)
	}
	if got.ReceivedAt.IsZero() {
		t.Error("Expected ReceivedAt to be set")
	}
}

func TestWebhook_CallbackSkippedForAcks(t *testing.T) {
	manager, store := testManager(t)
	calls := 0
	provider := testProvider(t, billing.Config{
		Manager: manager,
		WebhookCallback: func(ctx context.Context, event billing.WebhookEvent) error {
			calls++
			return nil
		},
	})
	seedProfile(t, store, entitlement.Profile{Email: testEmail})

	postWebhook(t, provider, testSecret, orderBody("refunded", testLifetimeID, testEmail, "Ultra Pro"))
	postWebhook(t, provider, testSecret, orderBody("paid", testOtherProduct, "nobody@example.com", "Ultra Pro"))
	postWebhook(t, provider, testSecret, orderBody("paid", testOtherProduct, testEmail, ""))

	if calls != 0 {
		t.Errorf("Callback fired for non-mutation outcomes: %d calls", calls)
	}
}

func TestWebhook_CallbackFailureStillAcks(t *testing.T) {
	manager, store := testManager(t)
	provider := testProvider(t, billing.Config{
		Manager: manager,
		WebhookCallback: func(ctx context.Context, event billing.WebhookEvent) error {
			return errors.New("ledger write failed")
		},
	})
	seedProfile(t, store, entitlement.Profile{Email: testEmail})

	w := postWebhook(t, provider, testSecret, orderBody("paid", testOtherProduct, testEmail, "Ultra Pro"))
	if w.Code != http.StatusOK {
		t.Fatalf("Callback failure must not fail the webhook, got %d", w.Code)
	}

	var resp appliedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unparsable response: %v", err)
	}
	if resp.Action != "applied" {
		t.Errorf("Expected applied, got %q", resp.Action)
	}

	profile, _ := store.GetByEmail(context.Background(), testEmail)
	if profile.Credits != 70 {
		t.Errorf("Mutation should persist despite callback failure, got %d credits", profile.Credits)
	}
}
