// Package api provides HTTP endpoints for profile inspection and
// administration: a self-service profile read, and admin operations for
// listing profiles, granting credits and assigning tiers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ultraprompt/entitlement/pkg/entitlement"
)

const maxEmailLen = 255

// Handler provides HTTP endpoints for profile inspection
type Handler struct {
	config Config
}

func profileResponse(p *entitlement.Profile) ProfileResponse {
	return ProfileResponse{
		Email:             p.Email,
		SubscriptionTier:  p.SubscriptionTier,
		Credits:           p.Credits,
		HasLifetimePrompt: p.HasLifetimePrompt,
		IsBanned:          p.IsBanned,
		FullName:          p.FullName,
		AvatarURL:         p.AvatarURL,
		UpdatedAt:         p.UpdatedAt,
	}
}

// GetProfile returns the caller's own profile
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	email := h.config.GetEmail(r)
	if email == "" {
		h.writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	if len(email) > maxEmailLen {
		h.writeError(w, r, http.StatusBadRequest, "invalid email")
		return
	}

	profile, err := h.config.Manager.GetProfile(r.Context(), email)
	if err != nil {
		if errors.Is(err, entitlement.ErrProfileNotFound) {
			h.writeError(w, r, http.StatusNotFound, "profile not found")
			return
		}
		h.handleError(w, r, fmt.Errorf("failed to get profile: %w", err))
		return
	}

	h.writeJSON(w, http.StatusOK, profileResponse(profile))
}

// ListProfiles returns all profiles, optionally filtered by tier via
// the "tier" query parameter. Admin only.
func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	if !h.isAdmin(r) {
		h.writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	profiles, err := h.config.Manager.ListProfiles(r.Context())
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to list profiles: %w", err))
		return
	}

	tierFilter := strings.TrimSpace(r.URL.Query().Get("tier"))
	resp := ListResponse{Profiles: []ProfileResponse{}}
	for _, p := range profiles {
		if tierFilter != "" && !strings.EqualFold(p.SubscriptionTier, tierFilter) {
			continue
		}
		resp.Profiles = append(resp.Profiles, profileResponse(p))
	}
	resp.Count = len(resp.Profiles)

	h.writeJSON(w, http.StatusOK, resp)
}

// GrantCredits adds credits to an account. Admin only.
func (h *Handler) GrantCredits(w http.ResponseWriter, r *http.Request) {
	if !h.isAdmin(r) {
		h.writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	balance, err := h.config.Manager.GrantCredits(r.Context(), req.Email, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, entitlement.ErrInvalidAmount):
			h.writeError(w, r, http.StatusBadRequest, "amount must be positive")
		case errors.Is(err, entitlement.ErrProfileNotFound):
			h.writeError(w, r, http.StatusNotFound, "profile not found")
		default:
			h.handleError(w, r, fmt.Errorf("failed to grant credits: %w", err))
		}
		return
	}

	h.config.Logger.Info("credits granted via admin API",
		entitlement.Field{Key: "email", Value: entitlement.NormalizeEmail(req.Email)},
		entitlement.Field{Key: "amount", Value: req.Amount},
	)
	h.writeJSON(w, http.StatusOK, GrantResponse{
		Email:   entitlement.NormalizeEmail(req.Email),
		Balance: balance,
	})
}

// SetTier assigns a tier to an account and resets the credit balance to
// the tier's allotment. Admin only.
func (h *Handler) SetTier(w http.ResponseWriter, r *http.Request) {
	if !h.isAdmin(r) {
		h.writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	var req SetTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	profile, err := h.config.Manager.SetTier(r.Context(), req.Email, req.Tier)
	if err != nil {
		switch {
		case errors.Is(err, entitlement.ErrUnknownTier):
			h.writeError(w, r, http.StatusBadRequest, "unknown tier")
		case errors.Is(err, entitlement.ErrProfileNotFound):
			h.writeError(w, r, http.StatusNotFound, "profile not found")
		default:
			h.handleError(w, r, fmt.Errorf("failed to set tier: %w", err))
		}
		return
	}

	h.writeJSON(w, http.StatusOK, profileResponse(profile))
}

// Routes registers the handler's endpoints on a ServeMux. Callers that
// need custom paths or routers can mount the methods directly instead.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/profile", h.GetProfile)
	mux.HandleFunc("GET /v1/admin/profiles", h.ListProfiles)
	mux.HandleFunc("POST /v1/admin/credits", h.GrantCredits)
	mux.HandleFunc("POST /v1/admin/tier", h.SetTier)
}

func (h *Handler) isAdmin(r *http.Request) bool {
	return h.config.IsAdmin != nil && h.config.IsAdmin(r)
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.config.Logger.Error("failed to encode response",
			entitlement.Field{Key: "error", Value: err.Error()},
		)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, _ *http.Request, code int, msg string) {
	h.writeJSON(w, code, ErrorResponse{Error: msg})
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	h.config.Logger.Error("profile API error",
		entitlement.Field{Key: "path", Value: r.URL.Path},
		entitlement.Field{Key: "error", Value: err.Error()},
	)
	h.writeError(w, r, http.StatusInternalServerError, "internal error")
}
