package entitlement_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ultraprompt/entitlement/pkg/entitlement"
	"github.com/ultraprompt/entitlement/storage/memory"
)

// Helper to create a test manager backed by in-memory storage
func newTestManager(t *testing.T) (*entitlement.Manager, *memory.Store) {
	t.Helper()
	store := memory.New()
	manager, err := entitlement.NewManager(store, entitlement.Config{
		Catalog: entitlement.DefaultCatalog(),
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return manager, store
}

func seed(t *testing.T, store *memory.Store, profile entitlement.Profile) {
	t.Helper()
	if err := store.Upsert(context.Background(), &profile); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
}

func TestNewManager(t *testing.T) {
	if _, err := entitlement.NewManager(nil, entitlement.Config{Catalog: entitlement.DefaultCatalog()}); err == nil {
		t.Error("Expected error with nil store")
	}
	if _, err := entitlement.NewManager(memory.New(), entitlement.Config{}); err == nil {
		t.Error("Expected error with nil catalog")
	}
}

func TestManager_ApplyPatch_CanonicalizesTier(t *testing.T) {
	manager, store := newTestManager(t)
	ctx := context.Background()
	seed(t, store, entitlement.Profile{Email: "a@b.com", Credits: 3})

	tier := "  ultra pro "
	credits := 70
	profile, err := manager.ApplyPatch(ctx, "a@b.com", entitlement.Patch{
		SubscriptionTier: &tier,
		Credits:          &credits,
	})
	if err != nil {
		t.Fatalf("ApplyPatch failed: %v", err)
	}
	if profile.SubscriptionTier != "Ultra Pro" {
		t.Errorf("Expected canonical tier name, got %q", profile.SubscriptionTier)
	}
	if profile.Credits != 70 {
		t.Errorf("Expected credits 70, got %d", profile.Credits)
	}
}

func TestManager_ApplyPatch_UnknownTier(t *testing.T) {
	manager, store := newTestManager(t)
	seed(t, store, entitlement.Profile{Email: "a@b.com"})

	tier := "Ultra Mega"
	_, err := manager.ApplyPatch(context.Background(), "a@b.com", entitlement.Patch{SubscriptionTier: &tier})
	if !errors.Is(err, entitlement.ErrUnknownTier) {
		t.Errorf("Expected ErrUnknownTier, got %v", err)
	}
}

func TestManager_ApplyPatch_EmptyPatch(t *testing.T) {
	manager, _ := newTestManager(t)
	_, err := manager.ApplyPatch(context.Background(), "a@b.com", entitlement.Patch{})
	if !errors.Is(err, entitlement.ErrEmptyPatch) {
		t.Errorf("Expected ErrEmptyPatch, got %v", err)
	}
}

func TestManager_SpendCredits(t *testing.T) {
	manager, store := newTestManager(t)
	ctx := context.Background()
	seed(t, store, entitlement.Profile{Email: "a@b.com", SubscriptionTier: "Ultra Start", Credits: 2})

	remaining, err := manager.SpendCredits(ctx, "a@b.com", 1)
	if err != nil {
		t.Fatalf("SpendCredits failed: %v", err)
	}
	if remaining != 1 {
		t.Errorf("Expected 1 remaining, got %d", remaining)
	}

	if _, err := manager.SpendCredits(ctx, "a@b.com", 5); !errors.Is(err, entitlement.ErrInsufficientCredits) {
		t.Errorf("Expected ErrInsufficientCredits, got %v", err)
	}

	if _, err := manager.SpendCredits(ctx, "a@b.com", 0); !errors.Is(err, entitlement.ErrInvalidAmount) {
		t.Errorf("Expected ErrInvalidAmount, got %v", err)
	}
}

func TestManager_SpendCredits_Banned(t *testing.T) {
	manager, store := newTestManager(t)
	ctx := context.Background()
	seed(t, store, entitlement.Profile{Email: "a@b.com", Credits: 10, IsBanned: true})

	_, err := manager.SpendCredits(ctx, "a@b.com", 1)
	if !errors.Is(err, entitlement.ErrAccountBanned) {
		t.Errorf("Expected ErrAccountBanned, got %v", err)
	}

	// Balance untouched
	profile, _ := manager.GetProfile(ctx, "a@b.com")
	if profile.Credits != 10 {
		t.Errorf("Expected balance 10, got %d", profile.Credits)
	}
}

func TestManager_SetTier(t *testing.T) {
	manager, store := newTestManager(t)
	ctx := context.Background()
	seed(t, store, entitlement.Profile{Email: "a@b.com", Credits: 200})

	profile, err := manager.SetTier(ctx, "a@b.com", "ultra start")
	if err != nil {
		t.Fatalf("SetTier failed: %v", err)
	}
	if profile.SubscriptionTier != "Ultra Start" {
		t.Errorf("Expected Ultra Start, got %q", profile.SubscriptionTier)
	}
	// SetTier resets the balance to the tier allotment, it does not add
	if profile.Credits != 20 {
		t.Errorf("Expected credits reset to 20, got %d", profile.Credits)
	}

	if _, err := manager.SetTier(ctx, "a@b.com", "nonexistent"); !errors.Is(err, entitlement.ErrUnknownTier) {
		t.Errorf("Expected ErrUnknownTier, got %v", err)
	}
}

func TestManager_GrantCredits(t *testing.T) {
	manager, store := newTestManager(t)
	seed(t, store, entitlement.Profile{Email: "a@b.com", Credits: 5})

	balance, err := manager.GrantCredits(context.Background(), "a@b.com", 7)
	if err != nil {
		t.Fatalf("GrantCredits failed: %v", err)
	}
	if balance != 12 {
		t.Errorf("Expected balance 12, got %d", balance)
	}
}

func TestManager_ListProfiles(t *testing.T) {
	manager, store := newTestManager(t)
	seed(t, store, entitlement.Profile{Email: "a@b.com"})
	seed(t, store, entitlement.Profile{Email: "b@b.com"})

	profiles, err := manager.ListProfiles(context.Background())
	if err != nil {
		t.Fatalf("ListProfiles failed: %v", err)
	}
	if len(profiles) != 2 {
		t.Errorf("Expected 2 profiles, got %d", len(profiles))
	}
}
