package api

import (
	"fmt"
	"net/http"

	"github.com/ultraprompt/entitlement/pkg/entitlement"
)

// Config holds configuration for the profile API handler
type Config struct {
	// Manager is the entitlement manager instance (required)
	Manager *entitlement.Manager

	// GetEmail extracts the caller's account email from the request
	// (required). Same pattern as middleware/http.
	GetEmail func(*http.Request) string

	// IsAdmin reports whether the request may use the admin endpoints
	// (ListProfiles, GrantCredits, SetTier). If nil, admin endpoints
	// reject everything.
	IsAdmin func(*http.Request) bool

	// OnError handles errors (auth, internal, etc.)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is used for structured logging (default: NoopLogger)
	Logger entitlement.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Manager == nil {
		return fmt.Errorf("manager is required")
	}
	if c.GetEmail == nil {
		return fmt.Errorf("getEmail is required")
	}
	return nil
}

// NewHandler creates a new profile API handler with the given
// configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &entitlement.NoopLogger{}
	}
	return &Handler{config: config}, nil
}

// Helper functions for common email extraction patterns

// FromHeader returns a GetEmail function that extracts the email from a
// header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetEmail function that extracts the email from
// the request context
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if email, ok := r.Context().Value(key).(string); ok {
			return email
		}
		return ""
	}
}
