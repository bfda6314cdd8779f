// Package fiber provides Fiber middleware for credit-gated endpoints
package fiber

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ultraprompt/entitlement/pkg/entitlement"
)

// EmailExtractor extracts the account email from a Fiber context.
// Return empty string if the caller is not authenticated.
type EmailExtractor func(c *fiber.Ctx) string

// AmountExtractor calculates how many credits the request costs
type AmountExtractor func(c *fiber.Ctx) (int, error)

// remainingCreditsKey carries the post-deduction balance in the Fiber
// locals.
const remainingCreditsKey = "entitlement_remaining_credits"

// RemainingCredits returns the balance left after the middleware's
// deduction, and whether the request passed through it.
func RemainingCredits(c *fiber.Ctx) (int, bool) {
	remaining, ok := c.Locals(remainingCreditsKey).(int)
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
	OnInsufficientCredits func(c *fiber.Ctx, balance int) error

	// OnUnauthorized is called when the caller is not authenticated or
	// has no profile. If nil, returns 401 Unauthorized.
	OnUnauthorized func(c *fiber.Ctx) error

	// OnBanned is called for banned accounts.
	// If nil, returns 403 Forbidden.
	OnBanned func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that spends credits per request
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("entitlement/fiber: Config.Manager is required")
	}
	if cfg.GetEmail == nil {
		panic("entitlement/fiber: Config.GetEmail is required")
	}
	if cfg.GetAmount == nil {
		cfg.GetAmount = func(*fiber.Ctx) (int, error) { return 1, nil }
	}

	return func(c *fiber.Ctx) error {
		email := cfg.GetEmail(c)
		if email == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}

		amount, err := cfg.GetAmount(c)
		if err != nil {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}

		remaining, err := cfg.Manager.SpendCredits(c.UserContext(), email, amount)
		if err != nil {
			switch {
			case errors.Is(err, entitlement.ErrInsufficientCredits):
				if cfg.OnInsufficientCredits != nil {
					return cfg.OnInsufficientCredits(c, remaining)
				}
				return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
					"error":   "insufficient credits",
					"balance": remaining,
				})
			case errors.Is(err, entitlement.ErrAccountBanned):
				if cfg.OnBanned != nil {
					return cfg.OnBanned(c)
				}
				return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "account banned"})
			case errors.Is(err, entitlement.ErrProfileNotFound):
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
			default:
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
			}
		}

		c.Locals(remainingCreditsKey, remaining)
		return c.Next()
	}
}
