package billing

import (
	"net/http"
)

// Provider is the generic interface a payment backend integration must
// implement. The application mounts the webhook handler and stays
// agnostic of which processor is behind it.
type Provider interface {
	// Name returns the provider name (e.g., "kiwify")
	Name() string

	// WebhookHandler returns the HTTP handler that processes billing
	// events. The implementation handles authentication, parsing, and
	// profile updates internally.
	WebhookHandler() http.Handler
}
