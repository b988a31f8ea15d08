package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MinSecretLength mirrors the signing secret floor enforced by the token service.
const MinSecretLength = 32

type Config struct {
	// Server
	Host           string
	Port           int
	TrustProxy     bool
	AllowedOrigins []string
	MaxBodyBytes   int64
	LogLevel       slog.Level

	// Data store
	StoreURL      string
	AnonKey       string
	ServiceKey    string
	StoreTimeout  time.Duration
	RunMigrations bool

	// Credentials
	JWTSecret string
	TokenTTL  time.Duration

	// Rate limits
	RateLimitWindow time.Duration
	APIMax          int
	LoginMax        int
	ControlMax      int
}

var defaultOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}

// Load reads .env (if present) and the environment. Missing or malformed
// settings are reported together.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var errs []string
	cfg := &Config{
		Host:            getEnv("HOST", "0.0.0.0"),
		Port:            getEnvInt("PORT", 3000, &errs),
		TrustProxy:      getEnvBool("TRUST_PROXY", false),
		AllowedOrigins:  getEnvList("ALLOWED_ORIGINS", defaultOrigins),
		MaxBodyBytes:    int64(getEnvInt("MAX_BODY_BYTES", 1<<20, &errs)),
		StoreURL:        requireEnv("SUPABASE_URL", &errs),
		AnonKey:         requireEnv("SUPABASE_ANON_KEY", &errs),
		ServiceKey:      requireEnv("SUPABASE_SERVICE_ROLE_KEY", &errs),
		StoreTimeout:    time.Duration(getEnvInt("STORE_TIMEOUT_SECONDS", 30, &errs)) * time.Second,
		RunMigrations:   getEnvBool("RUN_MIGRATIONS", false),
		JWTSecret:       requireEnv("JWT_SECRET", &errs),
		TokenTTL:        time.Duration(getEnvInt("TOKEN_TTL_HOURS", 24, &errs)) * time.Hour,
		RateLimitWindow: time.Duration(getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60, &errs)) * time.Second,
		APIMax:          getEnvInt("RATE_LIMIT_API_MAX", 100, &errs),
		LoginMax:        getEnvInt("RATE_LIMIT_LOGIN_MAX", 5, &errs),
		ControlMax:      getEnvInt("RATE_LIMIT_CONTROL_MAX", 20, &errs),
	}

	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		errs = append(errs, err.Error())
	}
	cfg.LogLevel = level

	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < MinSecretLength {
		errs = append(errs, fmt.Sprintf("JWT_SECRET must be at least %d characters", MinSecretLength))
	}
	if cfg.StoreURL != "" {
		if _, err := cfg.StoreScheme(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	for name, v := range map[string]int{
		"PORT":                      cfg.Port,
		"MAX_BODY_BYTES":            int(cfg.MaxBodyBytes),
		"STORE_TIMEOUT_SECONDS":     int(cfg.StoreTimeout / time.Second),
		"TOKEN_TTL_HOURS":           int(cfg.TokenTTL / time.Hour),
		"RATE_LIMIT_WINDOW_SECONDS": int(cfg.RateLimitWindow / time.Second),
		"RATE_LIMIT_API_MAX":        cfg.APIMax,
		"RATE_LIMIT_LOGIN_MAX":      cfg.LoginMax,
		"RATE_LIMIT_CONTROL_MAX":    cfg.ControlMax,
	} {
		if v <= 0 {
			errs = append(errs, name+" must be positive")
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// StoreScheme classifies StoreURL: "http" for a PostgREST endpoint, "postgres"
// for a direct database connection, "memory" for the in-process store.
func (c *Config) StoreScheme() (string, error) {
	u, err := url.Parse(c.StoreURL)
	if err != nil {
		return "", fmt.Errorf("SUPABASE_URL is not a valid URL")
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return "", fmt.Errorf("SUPABASE_URL must include a host")
		}
		return "http", nil
	case "postgres", "postgresql":
		return "postgres", nil
	case "memory":
		return "memory", nil
	default:
		return "", fmt.Errorf("SUPABASE_URL has unsupported scheme %q", u.Scheme)
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func requireEnv(key string, errs *[]string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		*errs = append(*errs, key+" is required")
	}
	return v
}

func getEnvInt(key string, fallback int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, key+" must be an integer")
		return fallback
	}
	return i
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1"
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", s)
	}
	return level, nil
}
