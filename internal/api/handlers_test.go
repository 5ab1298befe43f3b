package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/engagefi/settlement-service/internal/domain"
)

type stubSettlementService struct {
	runCalls int
	result   *domain.SettlementRunResult
}

func (s *stubSettlementService) SettleDueCampaigns(ctx context.Context, triggerSource string) (*domain.SettlementRunResult, error) {
	s.runCalls++
	if s.result != nil {
		return s.result, nil
	}
	return &domain.SettlementRunResult{}, nil
}

func (s *stubSettlementService) ListSettlementHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.SettleHistoryEntry, error) {
	return nil, nil
}

func (s *stubSettlementService) ListBalances(ctx context.Context, userID uuid.UUID) ([]domain.Balance, error) {
	return nil, nil
}

type stubRateLimiter struct {
	count      int
	retryAfter int
	err        error
}

func (s *stubRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return s.count, s.retryAfter, s.err
}

func TestRunSettlementsHandlerRejectsMissingKey(t *testing.T) {
	service := &stubSettlementService{}
	handlers := NewSettlementHandlers(service, "secret-key")

	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	rec := httptest.NewRecorder()
	handlers.RunSettlementsHandler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if service.runCalls != 0 {
		t.Fatal("service must not run without a valid internal key")
	}
}

func TestRunSettlementsHandlerRejectsWrongKey(t *testing.T) {
	service := &stubSettlementService{}
	handlers := NewSettlementHandlers(service, "secret-key")

	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	req.Header.Set("X-Internal-Api-Key", "wrong-key")
	rec := httptest.NewRecorder()
	handlers.RunSettlementsHandler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if service.runCalls != 0 {
		t.Fatal("service must not run with a wrong internal key")
	}
}

func TestRunSettlementsHandlerRejectsWhenKeyUnconfigured(t *testing.T) {
	service := &stubSettlementService{}
	handlers := NewSettlementHandlers(service, "")

	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	req.Header.Set("X-Internal-Api-Key", "")
	rec := httptest.NewRecorder()
	handlers.RunSettlementsHandler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 when no key is configured, got %d", rec.Code)
	}
	if service.runCalls != 0 {
		t.Fatal("an empty configured key must never authorize requests")
	}
}

func TestRunSettlementsHandlerAcceptsValidKey(t *testing.T) {
	service := &stubSettlementService{result: &domain.SettlementRunResult{Settled: 2}}
	handlers := NewSettlementHandlers(service, "secret-key")

	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	req.Header.Set("X-Internal-Api-Key", "secret-key")
	rec := httptest.NewRecorder()
	handlers.RunSettlementsHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if service.runCalls != 1 {
		t.Fatalf("expected one service call, got %d", service.runCalls)
	}
}

func TestRunSettlementsHandlerRateLimitExceeded(t *testing.T) {
	service := &stubSettlementService{}
	handlers := NewSettlementHandlers(service, "secret-key")
	handlers.SetTriggerRateLimiter(&stubRateLimiter{count: 7, retryAfter: 42}, 6)

	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	req.Header.Set("X-Internal-Api-Key", "secret-key")
	rec := httptest.NewRecorder()
	handlers.RunSettlementsHandler(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "42" {
		t.Fatalf("expected Retry-After 42, got %q", rec.Header().Get("Retry-After"))
	}
	if service.runCalls != 0 {
		t.Fatal("rate-limited request must not reach the service")
	}
}

func TestRunSettlementsHandlerDegradesOpenWhenLimiterFails(t *testing.T) {
	service := &stubSettlementService{}
	handlers := NewSettlementHandlers(service, "secret-key")
	handlers.SetTriggerRateLimiter(&stubRateLimiter{err: context.DeadlineExceeded}, 6)

	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	req.Header.Set("X-Internal-Api-Key", "secret-key")
	rec := httptest.NewRecorder()
	handlers.RunSettlementsHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when the limiter is unavailable, got %d", rec.Code)
	}
	if service.runCalls != 1 {
		t.Fatalf("expected the run to proceed, got %d calls", service.runCalls)
	}
}

func TestListSettlementHistoryHandlerRequiresAuthContext(t *testing.T) {
	service := &stubSettlementService{}
	handlers := NewSettlementHandlers(service, "secret-key")

	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	rec := httptest.NewRecorder()
	handlers.ListSettlementHistoryHandler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without auth context, got %d", rec.Code)
	}
}

func TestListBalancesHandlerReturnsAuthenticatedUsersRows(t *testing.T) {
	service := &stubSettlementService{}
	handlers := NewSettlementHandlers(service, "secret-key")

	userID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/balances", nil)
	req = req.WithContext(context.WithValue(req.Context(), authUserIDKey, userID.String()))
	rec := httptest.NewRecorder()
	handlers.ListBalancesHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
