package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ultraprompt/entitlement/pkg/entitlement"
	"github.com/ultraprompt/entitlement/storage/memory"
)

func testManager(t *testing.T) (*entitlement.Manager, *memory.Store) {
	t.Helper()
	store := memory.New()
	manager, err := entitlement.NewManager(store, entitlement.Config{
		Catalog: entitlement.DefaultCatalog(),
	})
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	return manager, store
}

func emailFromHeader(r *http.Request) string {
	return r.Header.Get("X-User-Email")
}

func okHandler() (http.Handler, *int) {
	var sawRemaining int = -1
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if remaining, ok := RemainingCredits(r.Context()); ok {
			sawRemaining = remaining
		}
		w.WriteHeader(http.StatusOK)
	}), &sawRemaining
}

func doRequest(handler http.Handler, email string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	if email != "" {
		req.Header.Set("X-User-Email", email)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestMiddleware_SpendsCredit(t *testing.T) {
	manager, store := testManager(t)
	store.Upsert(context.Background(), &entitlement.Profile{Email: "user@example.com", Credits: 3})

	next, sawRemaining := okHandler()
	handler := Middleware(Config{Manager: manager, GetEmail: emailFromHeader})(next)

	w := doRequest(handler, "user@example.com")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if *sawRemaining != 2 {
		t.Errorf("Expected remaining 2 in context, got %d", *sawRemaining)
	}

	profile, _ := store.GetByEmail(context.Background(), "user@example.com")
	if profile.Credits != 2 {
		t.Errorf("Expected 2 credits left, got %d", profile.Credits)
	}
}

func TestMiddleware_Unauthorized(t *testing.T) {
	manager, _ := testManager(t)
	next, _ := okHandler()
	handler := Middleware(Config{Manager: manager, GetEmail: emailFromHeader})(next)

	w := doRequest(handler, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without email, got %d", w.Code)
	}

	// Unknown account is indistinguishable from unauthenticated.
	w = doRequest(handler, "ghost@example.com")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for unknown account, got %d", w.Code)
	}
}

func TestMiddleware_InsufficientCredits(t *testing.T) {
	manager, store := testManager(t)
	store.Upsert(context.Background(), &entitlement.Profile{Email: "user@example.com", Credits: 0})

	next, _ := okHandler()
	handler := Middleware(Config{Manager: manager, GetEmail: emailFromHeader})(next)

	w := doRequest(handler, "user@example.com")
	if w.Code != http.StatusPaymentRequired {
		t.Errorf("Expected 402, got %d", w.Code)
	}
}

func TestMiddleware_Banned(t *testing.T) {
	manager, store := testManager(t)
	store.Upsert(context.Background(), &entitlement.Profile{Email: "user@example.com", Credits: 10, IsBanned: true})

	next, _ := okHandler()
	handler := Middleware(Config{Manager: manager, GetEmail: emailFromHeader})(next)

	w := doRequest(handler, "user@example.com")
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for banned account, got %d", w.Code)
	}

	profile, _ := store.GetByEmail(context.Background(), "user@example.com")
	if profile.Credits != 10 {
		t.Errorf("Banned request spent credits: %d", profile.Credits)
	}
}

func TestMiddleware_CustomAmount(t *testing.T) {
	manager, store := testManager(t)
	store.Upsert(context.Background(), &entitlement.Profile{Email: "user@example.com", Credits: 10})

	next, _ := okHandler()
	handler := Middleware(Config{
		Manager:  manager,
		GetEmail: emailFromHeader,
		GetAmount: func(r *http.Request) (int, error) {
			return 4, nil
		},
	})(next)

	doRequest(handler, "user@example.com")
	profile, _ := store.GetByEmail(context.Background(), "user@example.com")
	if profile.Credits != 6 {
		t.Errorf("Expected 6 credits left, got %d", profile.Credits)
	}
}

func TestMiddleware_AmountError(t *testing.T) {
	manager, _ := testManager(t)
	next, _ := okHandler()
	handler := Middleware(Config{
		Manager:  manager,
		GetEmail: emailFromHeader,
		GetAmount: func(r *http.Request) (int, error) {
			return 0, errors.New("unreadable body")
		},
	})(next)

	w := doRequest(handler, "user@example.com")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for amount error, got %d", w.Code)
	}
}

func TestMiddleware_CustomHandlers(t *testing.T) {
	manager, store := testManager(t)
	store.Upsert(context.Background(), &entitlement.Profile{Email: "user@example.com", Credits: 0})

	next, _ := okHandler()
	var gotBalance int = -1
	handler := Middleware(Config{
		Manager:  manager,
		GetEmail: emailFromHeader,
		OnInsufficientCredits: func(w http.ResponseWriter, r *http.Request, balance int) {
			gotBalance = balance
			w.WriteHeader(http.StatusTeapot)
		},
	})(next)

	w := doRequest(handler, "user@example.com")
	if w.Code != http.StatusTeapot {
		t.Errorf("Custom handler not invoked, got %d", w.Code)
	}
	if gotBalance != 0 {
		t.Errorf("Expected balance 0 passed to handler, got %d", gotBalance)
	}
}

func TestHandlerFunc(t *testing.T) {
	manager, store := testManager(t)
	store.Upsert(context.Background(), &entitlement.Profile{Email: "user@example.com", Credits: 1})

	called := false
	wrapped := HandlerFunc(Config{Manager: manager, GetEmail: emailFromHeader})(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	req.Header.Set("X-User-Email", "user@example.com")
	w := httptest.NewRecorder()
	wrapped(w, req)

	if !called {
		t.Error("Wrapped handler not called")
	}
	profile, _ := store.GetByEmail(context.Background(), "user@example.com")
	if profile.Credits != 0 {
		t.Errorf("Expected 0 credits, got %d", profile.Credits)
	}
}
