// Package gin provides Gin middleware for credit-gated endpoints
package gin

import (
	"errors"
	"net/http"

	gongin "github.com/gin-gonic/gin"
	"github.com/ultraprompt/entitlement/pkg/entitlement"
)

// EmailExtractor extracts the account email from a Gin context.
// Return empty string if the caller is not authenticated.
type EmailExtractor func(c *gongin.Context) string

// AmountExtractor calculates how many credits the request costs
type AmountExtractor func(c *gongin.Context) (int, error)

// remainingCreditsKey carries the post-deduction balance in the Gin
// context keys.
const remainingCreditsKey = "entitlement_remaining_credits"

// RemainingCredits returns the balance left after the middleware's
// deduction, and whether the request passed through it.
func RemainingCredits(c *gongin.Context) (int, bool) {
	v, ok := c.Get(remainingCreditsKey)
	if !ok {
		return 0, false
	}
	remaining, ok := v.(int)
	return remaining, ok
}

// Config holds middleware configuration
type Config struct {
	// Manager is the entitlement manager instance
	Manager *entitlement.Manager

	// GetEmail extracts the account email from the context (required)
	GetEmail EmailExtractor

	// GetAmount calculates the credit cost of the request.
	// Default: flat cost of 1.
	GetAmount AmountExtractor

	// OnInsufficientCredits is called when the balance is short.
	// If nil, returns 402 JSON with the remaining balance.
	OnInsufficientCredits func(c *gongin.Context, balance int)

	// OnUnauthorized is called when the caller is not authenticated or
	// has no profile. If nil, returns 401 Unauthorized.
	OnUnauthorized func(c *gongin.Context)

	// OnBanned is called for banned accounts.
	// If nil, returns 403 Forbidden.
	OnBanned func(c *gongin.Context)

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that spends credits per request
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("entitlement/gin: Config.Manager is required")
	}
	if cfg.GetEmail == nil {
		panic("entitlement/gin: Config.GetEmail is required")
	}
	if cfg.GetAmount == nil {
		cfg.GetAmount = func(*gongin.Context) (int, error) { return 1, nil }
	}

	return func(c *gongin.Context) {
		email := cfg.GetEmail(c)
		if email == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "unauthorized"})
			}
			c.Abort()
			return
		}

		amount, err := cfg.GetAmount(c)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.JSON(http.StatusBadRequest, gongin.H{"error": "invalid request"})
			}
			c.Abort()
			return
		}

		remaining, err := cfg.Manager.SpendCredits(c.Request.Context(), email, amount)
		if err != nil {
			switch {
			case errors.Is(err, entitlement.ErrInsufficientCredits):
				if cfg.OnInsufficientCredits != nil {
					cfg.OnInsufficientCredits(c, remaining)
				} else {
					c.JSON(http.StatusPaymentRequired, gongin.H{
						"error":   "insufficient credits",
						"balance": remaining,
					})
				}
			case errors.Is(err, entitlement.ErrAccountBanned):
				if cfg.OnBanned != nil {
					cfg.OnBanned(c)
				} else {
					c.JSON(http.StatusForbidden, gongin.H{"error": "account banned"})
				}
			case errors.Is(err, entitlement.ErrProfileNotFound):
				if cfg.OnUnauthorized != nil {
					cfg.OnUnauthorized(c)
				} else {
					c.JSON(http.StatusUnauthorized, gongin.H{"error": "unauthorized"})
				}
			default:
				if cfg.OnError != nil {
					cfg.OnError(c, err)
				} else {
					c.JSON(http.StatusInternalServerError, gongin.H{"error": "internal error"})
				}
			}
			c.Abort()
			return
		}

		c.Set(remainingCreditsKey, remaining)
		c.Next()
	}
}
