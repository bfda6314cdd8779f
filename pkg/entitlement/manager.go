package entitlement

import (
	"context"
	"fmt"
	"time"
)

// Manager coordinates profile reads, partial updates and credit
// spending against a ProfileStore.
type Manager struct {
	store   ProfileStore
	catalog *TierCatalog
	logger  Logger
	metrics Metrics
}

// NewManager creates a new entitlement manager with the given store and
// configuration.
func NewManager(store ProfileStore, config Config) (*Manager, error) {
	if store == nil {
		return nil, ErrStorageUnavailable
	}
	if config.Catalog == nil {
		return nil, fmt.Errorf("entitlement: Config.Catalog is required")
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}

	return &Manager{
		store:   store,
		catalog: config.Catalog,
		logger:  config.Logger,
		metrics: config.Metrics,
	}, nil
}

// Catalog returns the tier catalog the manager validates against.
func (m *Manager) Catalog() *TierCatalog {
	return m.catalog
}

// GetProfile retrieves a profile by email.
func (m *Manager) GetProfile(ctx context.Context, email string) (*Profile, error) {
	start := time.Now()
	profile, err := m.store.GetByEmail(ctx, NormalizeEmail(email))
	m.metrics.RecordStorageOperation("get_profile", time.Since(start), err)
	return profile, err
}

// ApplyPatch applies a partial update to the profile matching email.
// Tier names in the patch must resolve against the catalog; the stored
// value is the catalog's canonical name, not the caller's spelling.
func (m *Manager) ApplyPatch(ctx context.Context, email string, patch Patch) (*Profile, error) {
	if patch.IsZero() {
		return nil, ErrEmptyPatch
	}

	if patch.SubscriptionTier != nil {
		tier, ok := m.catalog.Resolve(*patch.SubscriptionTier)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTier, *patch.SubscriptionTier)
		}
		canonical := tier.Name
		patch.SubscriptionTier = &canonical
	}

	start := time.Now()
	profile, err := m.store.ApplyPatch(ctx, NormalizeEmail(email), patch)
	m.metrics.RecordStorageOperation("apply_patch", time.Since(start), err)
	if err != nil {
		return nil, err
	}

	for _, field := range patch.Fields() {
		m.metrics.RecordPatchApplied(field)
	}
	m.logger.Info("profile patched",
		Field{Key: "email", Value: profile.Email},
		Field{Key: "fields", Value: patch.Fields()},
	)

	return profile, nil
}

// SpendCredits deducts amount credits from the profile, refusing banned
// accounts and short balances. Returns the remaining balance.
func (m *Manager) SpendCredits(ctx context.Context, email string, amount int) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	email = NormalizeEmail(email)
	profile, err := m.store.GetByEmail(ctx, email)
	if err != nil {
		return 0, err
	}
	if profile.IsBanned {
		m.metrics.RecordCreditSpend(profile.SubscriptionTier, amount, false)
		return profile.Credits, ErrAccountBanned
	}

	start := time.Now()
	remaining, err := m.store.SpendCredits(ctx, email, amount)
	m.metrics.RecordStorageOperation("spend_credits", time.Since(start), err)
	m.metrics.RecordCreditSpend(profile.SubscriptionTier, amount, err == nil)
	if err != nil {
		return remaining, err
	}

	m.logger.Debug("credits spent",
		Field{Key: "email", Value: email},
		Field{Key: "amount", Value: amount},
		Field{Key: "remaining", Value: remaining},
	)
	return remaining, nil
}

// GrantCredits adds amount credits to the profile and returns the new
// balance. Admin operation.
func (m *Manager) GrantCredits(ctx context.Context, email string, amount int) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	start := time.Now()
	balance, err := m.store.GrantCredits(ctx, NormalizeEmail(email), amount)
	m.metrics.RecordStorageOperation("grant_credits", time.Since(start), err)
	if err != nil {
		return balance, err
	}

	m.logger.Info("credits granted",
		Field{Key: "email", Value: NormalizeEmail(email)},
		Field{Key: "amount", Value: amount},
		Field{Key: "balance", Value: balance},
	)
	return balance, nil
}

// SetTier moves the profile onto the named tier and resets the balance
// to the tier's allotment. Admin counterpart of the webhook path.
func (m *Manager) SetTier(ctx context.Context, email, tierName string) (*Profile, error) {
	tier, ok := m.catalog.Resolve(tierName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tierName)
	}

	name := tier.Name
	credits := tier.Credits
	return m.ApplyPatch(ctx, email, Patch{
		SubscriptionTier: &name,
		Credits:          &credits,
	})
}

// ListProfiles returns every profile, for the admin surface.
func (m *Manager) ListProfiles(ctx context.Context) ([]*Profile, error) {
	start := time.Now()
	profiles, err := m.store.List(ctx)
	m.metrics.RecordStorageOperation("list_profiles", time.Since(start), err)
	return profiles, err
}
