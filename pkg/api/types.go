package api

import "time"

// ProfileResponse is the JSON shape for a single profile
type ProfileResponse struct {
	Email             string    `json:"email"`
	SubscriptionTier  string    `json:"subscription_tier,omitempty"`
	Credits           int       `json:"credits"`
	HasLifetimePrompt bool      `json:"has_lifetime_prompt"`
	IsBanned          bool      `json:"is_banned,omitempty"`
	FullName          string    `json:"full_name,omitempty"`
	AvatarURL         string    `json:"avatar_url,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ListResponse is the JSON shape for the admin profile listing
type ListResponse struct {
	Profiles []ProfileResponse `json:"profiles"`
	Count    int               `json:"count"`
}

// GrantRequest is the JSON body for the admin credit grant endpoint
type GrantRequest struct {
	Email  string `json:"email"`
	Amount int    `json:"amount"`
}

// GrantResponse reports the post-grant balance
type GrantResponse struct {
	Email   string `json:"email"`
	Balance int    `json:"balance"`
}

// SetTierRequest is the JSON body for the admin tier assignment
// endpoint. Credits are reset to the tier's allotment.
type SetTierRequest struct {
	Email string `json:"email"`
	Tier  string `json:"tier"`
}

// ErrorResponse is the JSON shape for error responses
type ErrorResponse struct {
	Error string `json:"error"`
}
