package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/apperr"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/security"
)

// Class separates request kinds that are limited independently.
type Class string

const (
	ClassAPI     Class = "api"
	ClassLogin   Class = "login"
	ClassControl Class = "control"
)

// Rule is the ceiling for one class within one fixed window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// DefaultRules are the production ceilings.
func DefaultRules() map[Class]Rule {
	return map[Class]Rule{
		ClassAPI:     {Limit: 100, Window: time.Minute},
		ClassLogin:   {Limit: 5, Window: time.Minute},
		ClassControl: {Limit: 20, Window: time.Minute},
	}
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetTime time.Time
}

// RetryAfter is the whole number of seconds until the window resets, at least 1.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(d.ResetTime.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// WindowKey identifies one counter.
type WindowKey struct {
	Client string
	Class  Class
	Start  int64 // unix milliseconds
}

// CounterStore holds the window counters.
type CounterStore interface {
	// Increment adds one to key unless the counter already reached ceiling.
	// It returns the resulting count and whether the request was admitted.
	Increment(key WindowKey, ceiling int, resetAt, now time.Time) (int, bool)
	// Reset drops every counter of client and returns how many were removed.
	Reset(client string) int
}

type windowRecord struct {
	count   int
	resetAt time.Time
}

// MemoryCounters keeps counters in process memory. Expired windows are
// removed whenever a new counter is created.
type MemoryCounters struct {
	mu      sync.Mutex
	records map[WindowKey]*windowRecord
}

func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{records: make(map[WindowKey]*windowRecord)}
}

func (m *MemoryCounters) Increment(key WindowKey, ceiling int, resetAt, now time.Time) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		m.sweepLocked(now)
		rec = &windowRecord{resetAt: resetAt}
		m.records[key] = rec
	}
	if rec.count >= ceiling {
		return rec.count, false
	}
	rec.count++
	return rec.count, true
}

func (m *MemoryCounters) Reset(client string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.records {
		if k.Client == client {
			delete(m.records, k)
			n++
		}
	}
	return n
}

// Len reports the number of live counters.
func (m *MemoryCounters) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MemoryCounters) sweepLocked(now time.Time) {
	for k, rec := range m.records {
		if !now.Before(rec.resetAt) {
			delete(m.records, k)
		}
	}
}

// RateLimiter applies fixed-window ceilings per client and class.
type RateLimiter struct {
	rules  map[Class]Rule
	store  CounterStore
	events *security.EventLogger
	now    func() time.Time
}

// NewRateLimiter creates a limiter. A nil store uses MemoryCounters.
func NewRateLimiter(rules map[Class]Rule, store CounterStore, events *security.EventLogger) *RateLimiter {
	if store == nil {
		store = NewMemoryCounters()
	}
	if events == nil {
		events = security.NewEventLogger(nil)
	}
	return &RateLimiter{rules: rules, store: store, events: events, now: time.Now}
}

func (rl *RateLimiter) rule(class Class) Rule {
	if r, ok := rl.rules[class]; ok {
		return r
	}
	return rl.rules[ClassAPI]
}

// Check counts one request from client against class.
func (rl *RateLimiter) Check(client string, class Class) Decision {
	rule := rl.rule(class)
	now := rl.now()
	windowMs := rule.Window.Milliseconds()
	if windowMs <= 0 {
		windowMs = time.Minute.Milliseconds()
	}
	start := now.UnixMilli() / windowMs * windowMs
	resetAt := time.UnixMilli(start + windowMs)

	count, admitted := rl.store.Increment(WindowKey{Client: client, Class: class, Start: start}, rule.Limit, resetAt, now)
	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: admitted, Limit: rule.Limit, Remaining: remaining, ResetTime: resetAt}
}

// Reset clears every counter of client.
func (rl *RateLimiter) Reset(client string) int {
	return rl.store.Reset(client)
}

// Middleware limits requests of class. Limit headers are set on every
// response; rejected requests get 429 with Retry-After.
func (rl *RateLimiter) Middleware(class Class, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := ClientKey(r, trustProxy)
			d := rl.Check(client, class)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", d.ResetTime.UTC().Format(time.RFC3339))

			if !d.Allowed {
				retry := d.RetryAfter(rl.now())
				h.Set("Retry-After", strconv.Itoa(retry))
				rateLimitRejections.WithLabelValues(string(class)).Inc()
				rl.events.Log(r.Context(), security.Event{
					Name:    security.EventRateLimited,
					Reason:  "ceiling reached for class " + string(class),
					IP:      client,
					Path:    r.URL.Path,
					Method:  r.Method,
					Details: map[string]any{"class": string(class), "limit": d.Limit},
				})
				lang := apperr.Language(r.Header.Get("Accept-Language"))
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"error":      apperr.New(apperr.RateLimitExceeded, apperr.MsgRateLimited).Localize(lang),
					"retryAfter": retry,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
