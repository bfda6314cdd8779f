package entitlement

import (
	"strings"
	"time"
)

// Profile represents a user's account entitlement state.
// Rows are created at sign-up (outside this module); this module reads,
// patches and decrements them.
type Profile struct {
	// Email is the natural key. Lookups happen by email because billing
	// events carry no internal account id.
	Email string

	// SubscriptionTier is the canonical tier name ("Ultra Pro", ...).
	// Empty string means no active subscription.
	SubscriptionTier string

	// Credits is the consumable generation balance. Never negative.
	Credits int

	// HasLifetimePrompt grants permanent access to the prompt engine.
	// One-way flag: billing events set it, nothing in this module unsets it.
	HasLifetimePrompt bool

	// IsBanned blocks credit spending for the account.
	IsBanned bool

	FullName  string
	AvatarURL string

	UpdatedAt time.Time
}

// Patch is a partial update to a Profile. Nil fields are left untouched
// by the store, so a billing event only overwrites what it derived.
type Patch struct {
	SubscriptionTier  *string
	Credits           *int
	HasLifetimePrompt *bool
}

// IsZero reports whether the patch mutates nothing.
func (p Patch) IsZero() bool {
	return p.SubscriptionTier == nil && p.Credits == nil && p.HasLifetimePrompt == nil
}

// Fields returns the names of the fields the patch touches, for logging.
func (p Patch) Fields() []string {
	var fields []string
	if p.SubscriptionTier != nil {
		fields = append(fields, "subscription_tier")
	}
	if p.Credits != nil {
		fields = append(fields, "credits")
	}
	if p.HasLifetimePrompt != nil {
		fields = append(fields, "has_lifetime_prompt")
	}
	return fields
}

// Tier is a recurring subscription level with a fixed credit allotment.
// A qualifying payment event resets the balance to Credits (overwrite,
// not additive - the monthly-refill billing model).
type Tier struct {
	Name    string
	Credits int
}

// Config holds Manager configuration.
type Config struct {
	// Catalog maps plan names to tiers. Required.
	Catalog *TierCatalog

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics is used for tracking profile operations (default: NoopMetrics).
	Metrics Metrics
}

// NormalizeEmail canonicalizes an email for use as a store key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
