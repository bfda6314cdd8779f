//go:build integration
// +build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/ultraprompt/entitlement/pkg/entitlement"
)

const (
	testProjectID = "test-project"
	emulatorHost  = "localhost:8080"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		os.Setenv("FIRESTORE_EMULATOR_HOST", emulatorHost)
	}

	ctx := context.Background()
	client, err := firestore.NewClient(ctx, testProjectID)
	if err != nil {
		t.Skipf("Skipping test: failed to create Firestore client: %v", err)
	}

	// Unique collection per test run keeps tests isolated without a
	// cleanup pass.
	collection := fmt.Sprintf("test_profiles_%d", time.Now().UnixNano())
	store, err := New(client, Config{ProfilesCollection: collection})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return store
}

func seedTestProfile(t *testing.T, store *Store, profile entitlement.Profile) {
	t.Helper()
	if err := store.Upsert(context.Background(), &profile); err != nil {
		t.Skipf("Skipping test: Firestore emulator unavailable: %v", err)
	}
}

func TestStore_GetByEmail(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedTestProfile(t, store, entitlement.Profile{
		Email:            "user@example.com",
		SubscriptionTier: "Ultra Max",
		Credits:          180,
	})

	_, err := store.GetByEmail(ctx, "ghost@example.com")
	if !errors.Is(err, entitlement.ErrProfileNotFound) {
		t.Errorf("Expected ErrProfileNotFound, got %v", err)
	}

	profile, err := store.GetByEmail(ctx, "USER@example.com")
	if err != nil {
		t.Fatalf("GetByEmail failed: %v", err)
	}
	if profile.SubscriptionTier != "Ultra Max" || profile.Credits != 180 {
		t.Errorf("Unexpected profile: %+v", profile)
	}
}

func TestStore_ApplyPatch(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedTestProfile(t, store, entitlement.Profile{
		Email:    "user@example.com",
		Credits:  5,
		FullName: "Keep Me",
	})

	tier := "Ultra Pro"
	credits := 70
	updated, err := store.ApplyPatch(ctx, "user@example.com", entitlement.Patch{
		SubscriptionTier: &tier,
		Credits:          &credits,
	})
	if err != nil {
		t.Fatalf("ApplyPatch failed: %v", err)
	}
	if updated.SubscriptionTier != "Ultra Pro" || updated.Credits != 70 {
		t.Errorf("Unexpected returned profile: %+v", updated)
	}

	stored, err := store.GetByEmail(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("GetByEmail failed: %v", err)
	}
	if stored.FullName != "Keep Me" {
		t.Errorf("Untouched field changed: %q", stored.FullName)
	}

	if _, err := store.ApplyPatch(ctx, "user@example.com", entitlement.Patch{}); !errors.Is(err, entitlement.ErrEmptyPatch) {
		t.Errorf("Expected ErrEmptyPatch, got %v", err)
	}
	if _, err := store.ApplyPatch(ctx, "ghost@example.com", entitlement.Patch{Credits: &credits}); !errors.Is(err, entitlement.ErrProfileNotFound) {
		t.Errorf("Expected ErrProfileNotFound, got %v", err)
	}
}

func TestStore_SpendCredits(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedTestProfile(t, store, entitlement.Profile{Email: "user@example.com", Credits: 10})

	remaining, err := store.SpendCredits(ctx, "user@example.com", 3)
	if err != nil {
		t.Fatalf("SpendCredits failed: %v", err)
	}
	if remaining != 7 {
		t.Errorf("Expected 7 remaining, got %d", remaining)
	}

	balance, err := store.SpendCredits(ctx, "user@example.com", 100)
	if !errors.Is(err, entitlement.ErrInsufficientCredits) {
		t.Errorf("Expected ErrInsufficientCredits, got %v", err)
	}
	if balance != 7 {
		t.Errorf("Failed spend should report balance 7, got %d", balance)
	}
}

func TestStore_SpendCredits_Concurrent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedTestProfile(t, store, entitlement.Profile{Email: "user@example.com", Credits: 20})

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.SpendCredits(ctx, "user@example.com", 1); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 20 {
		t.Errorf("Expected exactly 20 successful spends, got %d", successes)
	}
	profile, _ := store.GetByEmail(ctx, "user@example.com")
	if profile.Credits != 0 {
		t.Errorf("Expected 0 credits, got %d", profile.Credits)
	}
}

func TestStore_GrantCreditsAndList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedTestProfile(t, store, entitlement.Profile{Email: "b@example.com", Credits: 5})
	seedTestProfile(t, store, entitlement.Profile{Email: "a@example.com", Credits: 1})

	balance, err := store.GrantCredits(ctx, "b@example.com", 5)
	if err != nil {
		t.Fatalf("GrantCredits failed: %v", err)
	}
	if balance != 10 {
		t.Errorf("Expected balance 10, got %d", balance)
	}

	profiles, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(profiles) != 2 || profiles[0].Email != "a@example.com" {
		t.Errorf("Unexpected list: %v", profiles)
	}
}
