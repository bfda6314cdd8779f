package entitlement

import (
	"context"
)

// ProfileStore defines the interface for profile persistence.
// All methods take the profile email as the lookup key; implementations
// must normalize it the same way NormalizeEmail does.
type ProfileStore interface {
	// GetByEmail retrieves a profile.
	// Returns ErrProfileNotFound when no row matches.
	GetByEmail(ctx context.Context, email string) (*Profile, error)

	// ApplyPatch applies a partial update by email filter in a single
	// storage call and returns the post-mutation row. Fields not present
	// in the patch are left untouched.
	// Returns ErrProfileNotFound when no row matched the filter and
	// ErrEmptyPatch when the patch mutates nothing.
	ApplyPatch(ctx context.Context, email string, patch Patch) (*Profile, error)

	// SpendCredits atomically decrements the credit balance.
	// Returns the remaining balance, or ErrInsufficientCredits without
	// mutating when the balance is short.
	SpendCredits(ctx context.Context, email string, amount int) (int, error)

	// GrantCredits atomically increments the credit balance and returns
	// the new balance. Used for admin top-ups and bonuses.
	GrantCredits(ctx context.Context, email string, amount int) (int, error)

	// Upsert creates or replaces a profile. Sign-up and tests use this;
	// the reconciler never does.
	Upsert(ctx context.Context, profile *Profile) error

	// List returns all profiles, for the admin surface.
	List(ctx context.Context) ([]*Profile, error)
}
