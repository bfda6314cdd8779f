package entitlement

import "errors"

var (
	// ErrProfileNotFound is returned when no profile matches the email
	ErrProfileNotFound = errors.New("profile not found")

	// ErrInsufficientCredits is returned when a spend exceeds the balance
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrAccountBanned is returned when a banned account tries to spend
	ErrAccountBanned = errors.New("account is banned")

	// ErrUnknownTier is returned for a tier name not in the catalog
	ErrUnknownTier = errors.New("unknown tier")

	// ErrEmptyPatch is returned when a patch mutates nothing
	ErrEmptyPatch = errors.New("empty patch")

	// ErrInvalidAmount is returned for non-positive credit amounts
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrStorageUnavailable is returned when the profile store is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")
)
