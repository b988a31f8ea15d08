package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/middleware"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/policy"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/security"
)

func newTestHandler(t *testing.T) (*Handler, *middleware.RateLimiter) {
	t.Helper()
	authz, err := policy.NewAuthorizer()
	if err != nil {
		t.Fatalf("authorizer: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := security.NewEventLogger(logger)
	limiter := middleware.NewRateLimiter(middleware.DefaultRules(), nil, events)
	return NewHandler(authz, limiter, events, logger, false), limiter
}

// ---------------------------------------------------------------------------
// Policy
// ---------------------------------------------------------------------------

func TestPolicy_ListsEveryTable(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.Policy(rec, httptest.NewRequest(http.MethodGet, "/api/admin/policy", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp policyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Tables) != len(policy.Tables()) {
		t.Fatalf("expected %d tables, got %d", len(policy.Tables()), len(resp.Tables))
	}
	for _, tr := range resp.Tables {
		if tr.Table == "users" && len(tr.Gates["DELETE"]) != 1 {
			t.Errorf("users DELETE gate: %v", tr.Gates["DELETE"])
		}
	}
}

// ---------------------------------------------------------------------------
// ResetRateLimits
// ---------------------------------------------------------------------------

func TestResetRateLimits(t *testing.T) {
	h, limiter := newTestHandler(t)

	for range 5 {
		limiter.Check("203.0.113.9", middleware.ClassLogin)
	}
	if d := limiter.Check("203.0.113.9", middleware.ClassLogin); d.Allowed {
		t.Fatal("expected client to be limited before reset")
	}

	rec := httptest.NewRecorder()
	h.ResetRateLimits(rec, httptest.NewRequest(http.MethodDelete, "/api/admin/rate-limits?key=203.0.113.9", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp resetResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Key != "203.0.113.9" || resp.Cleared == 0 {
		t.Errorf("unexpected response %+v", resp)
	}

	if d := limiter.Check("203.0.113.9", middleware.ClassLogin); !d.Allowed {
		t.Error("expected client to be admitted after reset")
	}
}

func TestResetRateLimits_RequiresKey(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ResetRateLimits(rec, httptest.NewRequest(http.MethodDelete, "/api/admin/rate-limits", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
