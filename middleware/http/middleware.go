// Package http provides HTTP middleware for credit-gated endpoints.
// Each admitted request atomically deducts generation credits from the
// caller's profile before the wrapped handler runs.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ultraprompt/entitlement/pkg/entitlement"
)

// EmailExtractor extracts the account email from an HTTP request.
// Return empty string if the caller is not authenticated.
type EmailExtractor func(r *http.Request) string

// AmountExtractor calculates how many credits the request costs.
// For example: one per generation, or sized by the request body.
type AmountExtractor func(r *http.Request) (int, error)

// Config holds middleware configuration
type Config struct {
	// Manager is the entitlement manager instance
	Manager *entitlement.Manager

	// GetEmail extracts the account email from the request (required)
	GetEmail EmailExtractor

	// GetAmount calculates the credit cost of the request.
	// Default: flat cost of 1.
	GetAmount AmountExtractor

	// OnInsufficientCredits is called when the balance is short.
	// If nil, returns 402 Payment Required.
	OnInsufficientCredits func(w http.ResponseWriter, r *http.Request, balance int)

	// OnUnauthorized is called when the caller is not authenticated or
	// has no profile. If nil, returns 401 Unauthorized.
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnBanned is called for banned accounts.
	// If nil, returns 403 Forbidden.
	OnBanned func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

type contextKey string

// remainingCreditsKey carries the post-deduction balance to the handler.
const remainingCreditsKey contextKey = "entitlement_remaining_credits"

// RemainingCredits returns the balance left after the middleware's
// deduction, and whether the request passed through it.
func RemainingCredits(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(remainingCreditsKey).(int)
	return v, ok
}

// Middleware creates an HTTP middleware that spends credits per request
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.GetAmount == nil {
		config.GetAmount = func(*http.Request) (int, error) { return 1, nil }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email := config.GetEmail(r)
			if email == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			amount, err := config.GetAmount(r)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Bad Request", http.StatusBadRequest)
				}
				return
			}

			ctx := r.Context()
			remaining, err := config.Manager.SpendCredits(ctx, email, amount)
			if err != nil {
				switch {
				case errors.Is(err, entitlement.ErrInsufficientCredits):
					if config.OnInsufficientCredits != nil {
						config.OnInsufficientCredits(w, r, remaining)
					} else {
						msg := fmt.Sprintf("Insufficient credits: %d remaining, %d required", remaining, amount)
						http.Error(w, msg, http.StatusPaymentRequired)
					}
				case errors.Is(err, entitlement.ErrAccountBanned):
					if config.OnBanned != nil {
						config.OnBanned(w, r)
					} else {
						http.Error(w, "Forbidden", http.StatusForbidden)
					}
				case errors.Is(err, entitlement.ErrProfileNotFound):
					if config.OnUnauthorized != nil {
						config.OnUnauthorized(w, r)
					} else {
						http.Error(w, "Unauthorized", http.StatusUnauthorized)
					}
				default:
					if config.OnError != nil {
						config.OnError(w, r, err)
					} else {
						http.Error(w, "Internal Server Error", http.StatusInternalServerError)
					}
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, remainingCreditsKey, remaining)))
		})
	}
}

// HandlerFunc creates an HTTP middleware that spends credits per request
// (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}
