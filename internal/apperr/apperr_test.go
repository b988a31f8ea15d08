package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"golang.org/x/text/language"
)

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

func TestStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{RateLimitExceeded, http.StatusTooManyRequests},
		{MalformedRequest, http.StatusBadRequest},
		{InvalidTable, http.StatusBadRequest},
		{MaliciousInput, http.StatusBadRequest},
		{MaliciousIdentifier, http.StatusBadRequest},
		{UnsupportedMethod, http.StatusBadRequest},
		{StoreOperationFailed, http.StatusBadRequest},
		{Unauthenticated, http.StatusUnauthorized},
		{Unauthorized, http.StatusForbidden},
		{StoreUnavailable, http.StatusServiceUnavailable},
		{UnexpectedFailure, http.StatusInternalServerError},
		{Kind("something_else"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := Status(tt.kind); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// KindOf / Error
// ---------------------------------------------------------------------------

func TestKindOf_Wrapped(t *testing.T) {
	inner := New(Unauthorized, MsgForbidden)
	err := fmt.Errorf("authorize: %w", inner)
	if got := KindOf(err); got != Unauthorized {
		t.Errorf("expected %q, got %q", Unauthorized, got)
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != UnexpectedFailure {
		t.Errorf("expected %q, got %q", UnexpectedFailure, got)
	}
}

func TestError_MessageIncludesCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Wrap(StoreUnavailable, cause, MsgStoreUnavailable)
	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable with errors.Is")
	}
	if err.Error() != MsgStoreUnavailable+": dial tcp: refused" {
		t.Errorf("unexpected error string %q", err.Error())
	}
	if err.Localize(language.English) != MsgStoreUnavailable {
		t.Errorf("client message must not include the cause, got %q", err.Localize(language.English))
	}
}

func TestError_FormatsArgs(t *testing.T) {
	err := New(UnsupportedMethod, MsgInvalidMethod, "MERGE")
	if got := err.Localize(language.English); got != "Invalid method: MERGE" {
		t.Errorf("expected 'Invalid method: MERGE', got %q", got)
	}
}

// ---------------------------------------------------------------------------
// Localization
// ---------------------------------------------------------------------------

func TestLanguage(t *testing.T) {
	tests := []struct {
		header string
		want   language.Tag
	}{
		{"", language.English},
		{"tr-TR,tr;q=0.9,en;q=0.8", language.Turkish},
		{"en-US,en;q=0.9", language.English},
		{"de-DE", language.English},
		{"not a header;;", language.English},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			if got := Language(tt.header); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestLocalize_Turkish(t *testing.T) {
	err := New(InvalidTable, MsgInvalidTable)
	if got := err.Localize(language.Turkish); got != "Geçersiz tablo adı" {
		t.Errorf("expected Turkish message, got %q", got)
	}
}

func TestClientMessage_HidesUnexpected(t *testing.T) {
	got := ClientMessage(errors.New("pq: relation users does not exist"), language.English)
	if got != MsgInternal {
		t.Errorf("expected generic message, got %q", got)
	}
}
