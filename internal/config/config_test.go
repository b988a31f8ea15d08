package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

const validSecret = "0123456789abcdef0123456789abcdef"

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SUPABASE_URL", "https://example.supabase.co")
	t.Setenv("SUPABASE_ANON_KEY", "anon-key")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "service-key")
	t.Setenv("JWT_SECRET", validSecret)
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:3000" {
		t.Errorf("expected 0.0.0.0:3000, got %s", cfg.Addr())
	}
	if cfg.TokenTTL != 24*time.Hour || cfg.StoreTimeout != 30*time.Second {
		t.Errorf("unexpected durations: ttl=%v timeout=%v", cfg.TokenTTL, cfg.StoreTimeout)
	}
	if cfg.APIMax != 100 || cfg.LoginMax != 5 || cfg.ControlMax != 20 {
		t.Errorf("unexpected ceilings: %d/%d/%d", cfg.APIMax, cfg.LoginMax, cfg.ControlMax)
	}
	if cfg.TrustProxy || cfg.RunMigrations {
		t.Error("boolean settings must default to false")
	}
	if cfg.LogLevel != slog.LevelInfo || cfg.MaxBodyBytes != 1<<20 {
		t.Errorf("unexpected level %v or body cap %d", cfg.LogLevel, cfg.MaxBodyBytes)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "8080")
	t.Setenv("TRUST_PROXY", "true")
	t.Setenv("ALLOWED_ORIGINS", "https://harita.example.org, https://admin.example.org")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RATE_LIMIT_LOGIN_MAX", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 || !cfg.TrustProxy || cfg.LoginMax != 3 || cfg.LogLevel != slog.LevelDebug {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://admin.example.org" {
		t.Errorf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	for _, key := range []string{"SUPABASE_URL", "SUPABASE_ANON_KEY", "SUPABASE_SERVICE_ROLE_KEY", "JWT_SECRET"} {
		t.Run(key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(key, "")

			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), key+" is required") {
				t.Errorf("error does not name %s: %v", key, err)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"JWT_SECRET", "short", "at least 32 characters"},
		{"SUPABASE_URL", "ftp://store", "unsupported scheme"},
		{"PORT", "eighty", "PORT must be an integer"},
		{"RATE_LIMIT_API_MAX", "0", "RATE_LIMIT_API_MAX must be positive"},
		{"LOG_LEVEL", "loud", "LOG_LEVEL"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// StoreScheme
// ---------------------------------------------------------------------------

func TestStoreScheme(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"https://abc.supabase.co", "http", false},
		{"http://localhost:54321", "http", false},
		{"postgres://app:pw@localhost:5432/harita", "postgres", false},
		{"postgresql://localhost/harita", "postgres", false},
		{"memory://", "memory", false},
		{"https://", "", true},
		{"mysql://localhost", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := (&Config{StoreURL: tt.url}).StoreScheme()
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func TestGetEnvList(t *testing.T) {
	t.Setenv("TEST_LIST_KEY", " a, ,b ")
	got := getEnvList("TEST_LIST_KEY", nil)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("unexpected list %v", got)
	}
	if got := getEnvList("TEST_LIST_KEY_UNSET_12345", []string{"x"}); got[0] != "x" {
		t.Errorf("expected fallback, got %v", got)
	}
}
