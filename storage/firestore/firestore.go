// Package firestore provides a Firestore implementation of the
// entitlement.ProfileStore interface. Documents are keyed by normalized
// email; mutations run inside Firestore transactions so concurrent
// webhook deliveries and credit spends never interleave.
package firestore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ultraprompt/entitlement/pkg/entitlement"
)

// Store implements entitlement.ProfileStore using Google Cloud Firestore
type Store struct {
	client             *firestore.Client
	profilesCollection string
}

// Config holds Firestore store configuration
type Config struct {
	// ProfilesCollection is the Firestore collection for user profiles
	// Default: "profiles"
	ProfilesCollection string
}

// New creates a new Firestore profile store
func New(client *firestore.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if config.ProfilesCollection == "" {
		config.ProfilesCollection = "profiles"
	}

	return &Store{
		client:             client,
		profilesCollection: config.ProfilesCollection,
	}, nil
}

func (s *Store) profileDoc(email string) *firestore.DocumentRef {
	return s.client.Collection(s.profilesCollection).Doc(entitlement.NormalizeEmail(email))
}

func profileFromData(email string, data map[string]interface{}) *entitlement.Profile {
	return &entitlement.Profile{
		Email:             email,
		SubscriptionTier:  getString(data, "subscriptionTier"),
		Credits:           getInt(data, "credits"),
		HasLifetimePrompt: getBool(data, "hasLifetimePrompt"),
		IsBanned:          getBool(data, "isBanned"),
		FullName:          getString(data, "fullName"),
		AvatarURL:         getString(data, "avatarUrl"),
		UpdatedAt:         getTime(data, "updatedAt"),
	}
}

// GetByEmail implements entitlement.ProfileStore
func (s *Store) GetByEmail(ctx context.Context, email string) (*entitlement.Profile, error) {
	key := entitlement.NormalizeEmail(email)
	snap, err := s.profileDoc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, entitlement.ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if !snap.Exists() {
		return nil, entitlement.ErrProfileNotFound
	}
	return profileFromData(key, snap.Data()), nil
}

// ApplyPatch implements entitlement.ProfileStore
func (s *Store) ApplyPatch(ctx context.Context, email string, patch entitlement.Patch) (*entitlement.Profile, error) {
	if patch.IsZero() {
		return nil, entitlement.ErrEmptyPatch
	}
	key := entitlement.NormalizeEmail(email)
	docRef := s.profileDoc(key)

	var result *entitlement.Profile
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return entitlement.ErrProfileNotFound
			}
			return err
		}

		now := time.Now().UTC()
		updates := []firestore.Update{{Path: "updatedAt", Value: now}}
		if patch.SubscriptionTier != nil {
			updates = append(updates, firestore.Update{Path: "subscriptionTier", Value: *patch.SubscriptionTier})
		}
		if patch.Credits != nil {
			updates = append(updates, firestore.Update{Path: "credits", Value: *patch.Credits})
		}
		if patch.HasLifetimePrompt != nil {
			updates = append(updates, firestore.Update{Path: "hasLifetimePrompt", Value: *patch.HasLifetimePrompt})
		}

		profile := profileFromData(key, snap.Data())
		if patch.SubscriptionTier != nil {
			profile.SubscriptionTier = *patch.SubscriptionTier
		}
		if patch.Credits != nil {
			profile.Credits = *patch.Credits
		}
		if patch.HasLifetimePrompt != nil {
			profile.HasLifetimePrompt = *patch.HasLifetimePrompt
		}
		profile.UpdatedAt = now
		result = profile

		return tx.Update(docRef, updates)
	})
	if err != nil {
		if err == entitlement.ErrProfileNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to patch profile: %w", err)
	}
	return result, nil
}

// SpendCredits implements entitlement.ProfileStore
func (s *Store) SpendCredits(ctx context.Context, email string, amount int) (int, error) {
	if amount <= 0 {
		return 0, entitlement.ErrInvalidAmount
	}
	return s.adjustCredits(ctx, email, -amount)
}

// GrantCredits implements entitlement.ProfileStore
func (s *Store) GrantCredits(ctx context.Context, email string, amount int) (int, error) {
	if amount <= 0 {
		return 0, entitlement.ErrInvalidAmount
	}
	return s.adjustCredits(ctx, email, amount)
}

func (s *Store) adjustCredits(ctx context.Context, email string, delta int) (int, error) {
	docRef := s.profileDoc(email)

	var balance int
	var insufficient bool
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return entitlement.ErrProfileNotFound
			}
			return err
		}

		current := getInt(snap.Data(), "credits")
		next := current + delta
		if next < 0 {
			// Abort without writing; report the surviving balance.
			balance = current
			insufficient = true
			return nil
		}
		balance = next
		insufficient = false
		return tx.Update(docRef, []firestore.Update{
			{Path: "credits", Value: next},
			{Path: "updatedAt", Value: time.Now().UTC()},
		})
	})
	if err != nil {
		if err == entitlement.ErrProfileNotFound {
			return 0, err
		}
		return 0, fmt.Errorf("failed to adjust credits: %w", err)
	}
	if insufficient {
		return balance, entitlement.ErrInsufficientCredits
	}
	return balance, nil
}

// Upsert implements entitlement.ProfileStore
func (s *Store) Upsert(ctx context.Context, profile *entitlement.Profile) error {
	if profile == nil || strings.TrimSpace(profile.Email) == "" {
		return fmt.Errorf("invalid profile")
	}

	_, err := s.profileDoc(profile.Email).Set(ctx, map[string]interface{}{
		"subscriptionTier":  profile.SubscriptionTier,
		"credits":           profile.Credits,
		"hasLifetimePrompt": profile.HasLifetimePrompt,
		"isBanned":          profile.IsBanned,
		"fullName":          profile.FullName,
		"avatarUrl":         profile.AvatarURL,
		"updatedAt":         time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// List implements entitlement.ProfileStore
func (s *Store) List(ctx context.Context) ([]*entitlement.Profile, error) {
	var profiles []*entitlement.Profile
	iter := s.client.Collection(s.profilesCollection).Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list profiles: %w", err)
		}
		profiles = append(profiles, profileFromData(snap.Ref.ID, snap.Data()))
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Email < profiles[j].Email })
	return profiles, nil
}

// Close closes the Firestore client
func (s *Store) Close() error {
	return s.client.Close()
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}

func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	default:
		return 0
	}
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}
