/**
 * @description
 * This file contains the HTTP handlers for the settlement-service's API
 * endpoints. Handlers parse incoming requests, call the application service,
 * and write the HTTP response. The settlement trigger is guarded by a shared
 * secret and an optional Redis rate limit; the read endpoints serve the
 * authenticated participant's own rows only.
 *
 * @dependencies
 * - crypto/subtle, encoding/json, log, net/http: Standard Go libraries.
 * - internal/app: For service logic.
 */

package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/engagefi/settlement-service/internal/domain"
)

const triggerRateLimitScope = "settlement_trigger"

// SettlementService is the slice of the application service the HTTP layer
// depends on.
type SettlementService interface {
	SettleDueCampaigns(ctx context.Context, triggerSource string) (*domain.SettlementRunResult, error)
	ListSettlementHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.SettleHistoryEntry, error)
	ListBalances(ctx context.Context, userID uuid.UUID) ([]domain.Balance, error)
}

// RateLimiter is the fixed-window limiter applied to the trigger endpoint.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// SettlementHandlers holds the application service that handlers will use.
type SettlementHandlers struct {
	service               SettlementService
	internalAPIKey        string
	rateLimiter           RateLimiter
	triggerLimitPerMinute int
}

// NewSettlementHandlers creates a new instance of SettlementHandlers.
func NewSettlementHandlers(service SettlementService, internalAPIKey string) *SettlementHandlers {
	return &SettlementHandlers{service: service, internalAPIKey: internalAPIKey}
}

// SetTriggerRateLimiter attaches an optional rate limiter to the trigger
// endpoint. A nil limiter or non-positive limit disables rate limiting.
func (h *SettlementHandlers) SetTriggerRateLimiter(limiter RateLimiter, limitPerMinute int) {
	h.rateLimiter = limiter
	h.triggerLimitPerMinute = limitPerMinute
}

// RunSettlementsHandler handles the authenticated settlement trigger. A bad
// secret is rejected before any read or write occurs.
func (h *SettlementHandlers) RunSettlementsHandler(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeInternalRequest(r) {
		log.Printf("level=warn component=api endpoint=run_settlements outcome=reject reason=bad_internal_key remote=%s", r.RemoteAddr)
		h.writeError(w, http.StatusUnauthorized, "Invalid internal API key")
		return
	}

	if h.rateLimiter != nil && h.triggerLimitPerMinute > 0 {
		count, retryAfter, err := h.rateLimiter.ConsumeRateLimit(r.Context(), triggerRateLimitScope, "global", h.triggerLimitPerMinute, time.Minute)
		if err != nil {
			// Rate limiting is protective, not load-bearing; degrade open.
			log.Printf("level=warn component=api endpoint=run_settlements msg=\"rate limiter unavailable; allowing request\" err=%v", err)
		} else if count > h.triggerLimitPerMinute {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			h.writeError(w, http.StatusTooManyRequests, "Settlement trigger rate limit exceeded")
			return
		}
	}

	result, err := h.service.SettleDueCampaigns(r.Context(), "http")
	if err != nil {
		log.Printf("level=error component=api endpoint=run_settlements outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Settlement run failed")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// ListSettlementHistoryHandler returns the authenticated participant's
// settlement history entries.
func (h *SettlementHandlers) ListSettlementHistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	limit := parseQueryInt(r, "limit", 50)
	offset := parseQueryInt(r, "offset", 0)

	entries, err := h.service.ListSettlementHistory(r.Context(), userID, limit, offset)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_settle_history outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to load settlement history")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// ListBalancesHandler returns the authenticated participant's balance rows.
func (h *SettlementHandlers) ListBalancesHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	balances, err := h.service.ListBalances(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_balances outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to load balances")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"balances": balances})
}

func (h *SettlementHandlers) authorizeInternalRequest(r *http.Request) bool {
	provided := strings.TrimSpace(r.Header.Get("X-Internal-Api-Key"))
	expected := strings.TrimSpace(h.internalAPIKey)
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

func (h *SettlementHandlers) authenticatedUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userIDStr, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user ID format")
		return uuid.Nil, false
	}
	return userID, true
}

func parseQueryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// writeJSON is a helper for writing JSON responses.
func (h *SettlementHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *SettlementHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
