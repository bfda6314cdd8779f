package billing

import "time"

// WebhookEvent contains information about a successfully applied
// billing event. It is passed to the WebhookCallback after the profile
// mutation has been persisted. There is no event ledger in storage, so
// this callback is the only hook for recording history.
type WebhookEvent struct {
	// CustomerEmail is the normalized account join key
	CustomerEmail string

	// Provider is the billing provider name ("kiwify")
	Provider string

	// OrderStatus is the vendor status token that qualified the event
	OrderStatus string

	// ProductID is the vendor catalog identifier from the payload
	ProductID string

	// PlanName is the raw plan label from the payload (empty if absent)
	PlanName string

	// PreviousTier is the tier before the mutation (empty for none)
	PreviousTier string

	// NewTier is the tier after the mutation (empty if unchanged)
	NewTier string

	// LifetimeGranted reports whether this event set the lifetime flag
	LifetimeGranted bool

	// CreditsReset is the post-mutation credit balance when the event
	// reset it, nil otherwise
	CreditsReset *int

	// ReceivedAt is when this deployment received the event. The vendor
	// payload carries no event timestamp.
	ReceivedAt time.Time
}
