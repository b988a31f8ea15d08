package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const testSecret = "test-signing-secret-long-enough-32chars!"

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	s, err := NewTokenService(testSecret, DefaultTokenTTL)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return s
}

var testIdentity = Identity{UserID: "42", Username: "ayse", Role: RoleEditor}

// ---------------------------------------------------------------------------
// Issue / Verify
// ---------------------------------------------------------------------------

func TestNewTokenService_ShortSecret(t *testing.T) {
	if _, err := NewTokenService("short", time.Hour); err == nil {
		t.Error("expected error for short secret")
	}
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	s := newTestTokenService(t)
	token, exp, err := s.Issue(testIdentity)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if d := time.Until(exp); d < 23*time.Hour || d > 24*time.Hour+time.Minute {
		t.Errorf("expected ~24h validity, got %v", d)
	}

	id, err := s.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if *id != testIdentity {
		t.Errorf("expected %+v, got %+v", testIdentity, *id)
	}
}

func TestVerify_Expired(t *testing.T) {
	s := newTestTokenService(t)
	s.now = func() time.Time { return time.Now().Add(-25 * time.Hour) }
	token, _, err := s.Issue(testIdentity)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	s.now = time.Now
	if _, err := s.Verify(token); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("expected ErrInvalidCredential for expired token, got %v", err)
	}
}

func TestVerify_BadSignature(t *testing.T) {
	s := newTestTokenService(t)
	other, _ := NewTokenService("another-secret-that-is-also-32-chars-long", time.Hour)
	token, _, _ := other.Issue(testIdentity)

	if _, err := s.Verify(token); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestVerify_Malformed(t *testing.T) {
	s := newTestTokenService(t)
	for _, tok := range []string{"", "abc", "a.b.c", strings.Repeat("x", 500)} {
		if _, err := s.Verify(tok); !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("expected ErrInvalidCredential for %q, got %v", tok, err)
		}
	}
}

func TestVerify_RejectsNoneAlgorithm(t *testing.T) {
	s := newTestTokenService(t)
	claims := Claims{
		UserID: "1", Username: "x", Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			Issuer:    tokenIssuer,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := s.Verify(token); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("expected none-alg token to be rejected, got %v", err)
	}
}

func TestVerify_RejectsMissingExpiry(t *testing.T) {
	s := newTestTokenService(t)
	claims := Claims{UserID: "1", Role: RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuer}}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if _, err := s.Verify(token); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("expected token without expiry to be rejected, got %v", err)
	}
}

func TestVerify_RejectsUnknownRole(t *testing.T) {
	s := newTestTokenService(t)
	claims := Claims{
		UserID: "1", Role: Role("superuser"),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			Issuer:    tokenIssuer,
		},
	}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if _, err := s.Verify(token); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("expected unknown role to be rejected, got %v", err)
	}
}

func TestParseRole(t *testing.T) {
	if ParseRole("admin") != RoleAdmin || ParseRole("editor") != RoleEditor {
		t.Error("expected known roles to parse")
	}
	if ParseRole("root") != RoleNormal {
		t.Error("expected unknown role to map to normal")
	}
}
