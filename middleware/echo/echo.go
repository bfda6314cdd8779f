// Package echo provides Echo middleware for credit-gated endpoints
package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ultraprompt/entitlement/pkg/entitlement"
)

// EmailExtractor extracts the account email from an Echo context.
// Return empty string if the caller is not authenticated.
type EmailExtractor func(c echo.Context) string

// AmountExtractor calculates how many credits the request costs
type AmountExtractor func(c echo.Context) (int, error)

// remainingCreditsKey carries the post-deduction balance in the Echo
// context.
const remainingCreditsKey = "entitlement_remaining_credits"

// RemainingCredits returns the balance left after the middleware's
// deduction, and whether the request passed through it.
func RemainingCredits(c echo.Context) (int, bool) {
	v := c.Get(remainingCreditsKey)
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
	OnInsufficientCredits func(c echo.Context, balance int) error

	// OnUnauthorized is called when the caller is not authenticated or
	// has no profile. If nil, returns 401 Unauthorized.
	OnUnauthorized func(c echo.Context) error

	// OnBanned is called for banned accounts.
	// If nil, returns 403 Forbidden.
	OnBanned func(c echo.Context) error

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that spends credits per request
func Middleware(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("entitlement/echo: Config.Manager is required")
	}
	if cfg.GetEmail == nil {
		panic("entitlement/echo: Config.GetEmail is required")
	}
	if cfg.GetAmount == nil {
		cfg.GetAmount = func(echo.Context) (int, error) { return 1, nil }
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			email := cfg.GetEmail(c)
			if email == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}

			amount, err := cfg.GetAmount(c)
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
			}

			remaining, err := cfg.Manager.SpendCredits(c.Request().Context(), email, amount)
			if err != nil {
				switch {
				case errors.Is(err, entitlement.ErrInsufficientCredits):
					if cfg.OnInsufficientCredits != nil {
						return cfg.OnInsufficientCredits(c, remaining)
					}
					return c.JSON(http.StatusPaymentRequired, map[string]interface{}{
						"error":   "insufficient credits",
						"balance": remaining,
					})
				case errors.Is(err, entitlement.ErrAccountBanned):
					if cfg.OnBanned != nil {
						return cfg.OnBanned(c)
					}
					return c.JSON(http.StatusForbidden, map[string]string{"error": "account banned"})
				case errors.Is(err, entitlement.ErrProfileNotFound):
					if cfg.OnUnauthorized != nil {
						return cfg.OnUnauthorized(c)
					}
					return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				default:
					if cfg.OnError != nil {
						return cfg.OnError(c, err)
					}
					return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
				}
			}

			c.Set(remainingCreditsKey, remaining)
			return next(c)
		}
	}
}
