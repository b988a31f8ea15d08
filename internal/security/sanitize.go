// Package security holds the input sanitizers applied to everything a client
// sends through the data proxy, plus the structured security event log.
package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/apperr"
)

// MaxStringLength is the longest free-text value that reaches the store.
const MaxStringLength = 1000

var (
	ErrMaliciousInput = errors.New("malicious input")
	ErrMaliciousSQL   = errors.New("malicious sql")
)

type signature struct {
	name string
	re   *regexp.Regexp
}

var markupSignatures = []signature{
	{"script_tag", regexp.MustCompile(`(?i)<\s*/?\s*(script|iframe|object|embed)\b`)},
	{"script_scheme", regexp.MustCompile(`(?i)\b(javascript|vbscript)\s*:`)},
	{"event_handler", regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)},
	{"html_tag", regexp.MustCompile(`<\s*/?\s*[a-zA-Z][^>]*>`)},
	{"html_entity", regexp.MustCompile(`(?i)&(#[0-9]+|#x[0-9a-f]+|[a-z][a-z0-9]*);`)},
}

var sqlSignatures = []signature{
	{"sql_keyword", regexp.MustCompile(`(?i)\b(select|insert|update|delete|drop|create|alter|truncate|exec|execute|union|grant|revoke|merge|declare)\b`)},
	{"quote", regexp.MustCompile("['\"`]")},
	{"semicolon", regexp.MustCompile(`;`)},
	{"comment", regexp.MustCompile(`--|/\*|\*/|#`)},
	{"procedure_prefix", regexp.MustCompile(`(?i)\b(xp|sp)_`)},
}

var (
	stripAngles  = regexp.MustCompile(`[<>]`)
	stripScheme  = regexp.MustCompile(`(?i)(javascript|vbscript)\s*:`)
	stripHandler = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)
	stripSQL     = regexp.MustCompile("['\"`;]|--|/\\*|\\*/")
	stripKeyword = sqlSignatures[0].re
)

var identifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SanitizeString checks a free-text value for markup or script injection and
// returns a cleaned copy. Matching input is rejected, never repaired.
func SanitizeString(s string) (string, error) {
	for _, sig := range markupSignatures {
		if sig.re.MatchString(s) {
			return "", apperr.Wrap(apperr.MaliciousInput, fmt.Errorf("%w: %s", ErrMaliciousInput, sig.name), apperr.MsgMaliciousInput)
		}
	}

	cleaned := stripAngles.ReplaceAllString(s, "")
	cleaned = stripScheme.ReplaceAllString(cleaned, "")
	cleaned = stripHandler.ReplaceAllString(cleaned, "")
	return truncate(cleaned, MaxStringLength), nil
}

// SanitizeSQL checks an identifier or clause (table, column, select, order)
// for SQL injection signatures and returns a cleaned copy.
func SanitizeSQL(s string) (string, error) {
	for _, sig := range sqlSignatures {
		if sig.re.MatchString(s) {
			return "", apperr.Wrap(apperr.MaliciousIdentifier, fmt.Errorf("%w: %s", ErrMaliciousSQL, sig.name), apperr.MsgMaliciousIdentifier)
		}
	}

	cleaned := stripSQL.ReplaceAllString(s, "")
	cleaned = stripKeyword.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned), nil
}

// SanitizeIdentifier runs SanitizeSQL and additionally requires a bare
// identifier (letters, digits, underscore).
func SanitizeIdentifier(s string) (string, error) {
	cleaned, err := SanitizeSQL(s)
	if err != nil {
		return "", err
	}
	if !identifierRegex.MatchString(cleaned) {
		return "", apperr.Wrap(apperr.MaliciousIdentifier, fmt.Errorf("%w: invalid identifier", ErrMaliciousSQL), apperr.MsgMaliciousIdentifier)
	}
	return cleaned, nil
}

// IsIdentifier reports whether s is a bare identifier.
func IsIdentifier(s string) bool {
	return identifierRegex.MatchString(s)
}

// SanitizeValue walks a decoded JSON value and sanitizes every string leaf and
// every object key. Numbers, booleans and nulls pass through.
func SanitizeValue(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return SanitizeString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			key, err := SanitizeString(k)
			if err != nil {
				return nil, err
			}
			clean, err := SanitizeValue(item)
			if err != nil {
				return nil, err
			}
			out[key] = clean
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			clean, err := SanitizeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = clean
		}
		return out, nil
	default:
		return v, nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
