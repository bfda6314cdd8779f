// Package memory provides an in-memory implementation of the
// entitlement.ProfileStore interface. This implementation is primarily
// intended for testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ultraprompt/entitlement/pkg/entitlement"
)

// Store implements entitlement.ProfileStore using an in-memory map
type Store struct {
	mu       sync.RWMutex
	profiles map[string]*entitlement.Profile
}

// New creates a new in-memory profile store
func New() *Store {
	return &Store{
		profiles: make(map[string]*entitlement.Profile),
	}
}

// GetByEmail implements entitlement.ProfileStore
func (s *Store) GetByEmail(ctx context.Context, email string) (*entitlement.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[entitlement.NormalizeEmail(email)]
	if !ok {
		return nil, entitlement.ErrProfileNotFound
	}

	// Return a copy to prevent external mutations
	copied := *profile
	return &copied, nil
}

// ApplyPatch implements entitlement.ProfileStore
func (s *Store) ApplyPatch(ctx context.Context, email string, patch entitlement.Patch) (*entitlement.Profile, error) {
	if patch.IsZero() {
		return nil, entitlement.ErrEmptyPatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[entitlement.NormalizeEmail(email)]
	if !ok {
		return nil, entitlement.ErrProfileNotFound
	}

	if patch.SubscriptionTier != nil {
		profile.SubscriptionTier = *patch.SubscriptionTier
	}
	if patch.Credits != nil {
		profile.Credits = *patch.Credits
	}
	if patch.HasLifetimePrompt != nil {
		profile.HasLifetimePrompt = *patch.HasLifetimePrompt
	}
	profile.UpdatedAt = time.Now().UTC()

	copied := *profile
	return &copied, nil
}

// SpendCredits implements entitlement.ProfileStore
func (s *Store) SpendCredits(ctx context.Context, email string, amount int) (int, error) {
	if amount <= 0 {
		return 0, entitlement.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[entitlement.NormalizeEmail(email)]
	if !ok {
		return 0, entitlement.ErrProfileNotFound
	}

	if profile.Credits < amount {
		return profile.Credits, entitlement.ErrInsufficientCredits
	}

	profile.Credits -= amount
	profile.UpdatedAt = time.Now().UTC()
	return profile.Credits, nil
}

// GrantCredits implements entitlement.ProfileStore
func (s *Store) GrantCredits(ctx context.Context, email string, amount int) (int, error) {
	if amount <= 0 {
		return 0, entitlement.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[entitlement.NormalizeEmail(email)]
	if !ok {
		return 0, entitlement.ErrProfileNotFound
	}

	profile.Credits += amount
	profile.UpdatedAt = time.Now().UTC()
	return profile.Credits, nil
}

// Upsert implements entitlement.ProfileStore
func (s *Store) Upsert(ctx context.Context, profile *entitlement.Profile) error {
	if profile == nil || entitlement.NormalizeEmail(profile.Email) == "" {
		return entitlement.ErrProfileNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy keyed by normalized email to prevent external mutations
	copied := *profile
	copied.Email = entitlement.NormalizeEmail(profile.Email)
	copied.UpdatedAt = time.Now().UTC()
	s.profiles[copied.Email] = &copied
	return nil
}

// List implements entitlement.ProfileStore
func (s *Store) List(ctx context.Context) ([]*entitlement.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entitlement.Profile, 0, len(s.profiles))
	for _, profile := range s.profiles {
		copied := *profile
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// Delete removes a profile. The tiered store uses this for cache
// invalidation.
func (s *Store) Delete(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, entitlement.NormalizeEmail(email))
	return nil
}

// Clear removes all data (useful for testing)
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = make(map[string]*entitlement.Profile)
}
