// Package postgrest executes datastore queries against a Supabase style
// PostgREST endpoint.
package postgrest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/apperr"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/datastore"
)

const (
	restPath         = "/rest/v1/"
	objectMediaType  = "application/vnd.pgrst.object+json"
	maxResponseBytes = 64 << 20
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "store_circuit_breaker_state",
			Help: "Store circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
	breakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_circuit_breaker_requests_total",
			Help: "Store requests through the circuit breaker by result",
		},
		[]string{"name", "result"},
	)
)

// Config configures a Store.
type Config struct {
	BaseURL    string
	AnonKey    string
	ServiceKey string
	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client
	// TripAfter consecutive server failures open the breaker. Defaults to 5.
	TripAfter uint32
	// OpenFor is how long the breaker stays open. Defaults to 30 seconds.
	OpenFor time.Duration
	Logger  *slog.Logger
}

// Store talks to PostgREST over HTTP behind a circuit breaker.
type Store struct {
	base   string
	keys   map[datastore.Credential]string
	client *http.Client
	cb     *gobreaker.CircuitBreaker[*response]
	logger *slog.Logger
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// serverError marks a 5xx reply so the breaker counts it as a failure.
type serverError struct{ resp *response }

func (e *serverError) Error() string { return fmt.Sprintf("store replied %d", e.resp.status) }

// New validates cfg and returns a Store.
func New(cfg Config) (*Store, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid store URL %q", cfg.BaseURL)
	}
	if cfg.AnonKey == "" || cfg.ServiceKey == "" {
		return nil, errors.New("both store keys are required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.TripAfter == 0 {
		cfg.TripAfter = 5
	}
	if cfg.OpenFor == 0 {
		cfg.OpenFor = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "postgrest")

	name := "postgrest:" + u.Host
	breakerState.WithLabelValues(name).Set(0)
	tripAfter := cfg.TripAfter
	cb := gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			breakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &Store{
		base: u.String() + restPath,
		keys: map[datastore.Credential]string{
			datastore.AnonCredential:    cfg.AnonKey,
			datastore.ServiceCredential: cfg.ServiceKey,
		},
		client: cfg.HTTPClient,
		cb:     cb,
		logger: logger,
	}, nil
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func (s *Store) Close() { s.client.CloseIdleConnections() }

// Ping checks that the endpoint answers with the anonymous key.
func (s *Store) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base, nil)
	if err != nil {
		return err
	}
	s.authorize(req, datastore.AnonCredential)
	resp, err := s.do(req)
	if err != nil {
		return err
	}
	if resp.status >= 500 {
		return apperr.Wrap(apperr.StoreUnavailable, decodeError(resp), apperr.MsgStoreUnavailable)
	}
	return nil
}

func (s *Store) Execute(ctx context.Context, cred datastore.Credential, q *datastore.Query) (*datastore.Result, error) {
	req, err := s.newRequest(ctx, cred, q)
	if err != nil {
		return nil, err
	}
	resp, err := s.do(req)
	if err != nil {
		return nil, err
	}
	if resp.status >= 400 {
		return nil, decodeError(resp)
	}
	return decodeResult(resp, q)
}

// do sends req through the breaker. Transport failures and an open
// breaker surface as StoreUnavailable.
func (s *Store) do(req *http.Request) (*response, error) {
	name := s.cb.Name()
	resp, err := s.cb.Execute(func() (*response, error) {
		r, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer r.Body.Close()
		body, err := io.ReadAll(io.LimitReader(r.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		out := &response{status: r.StatusCode, header: r.Header, body: body}
		if r.StatusCode >= 500 {
			return out, &serverError{resp: out}
		}
		return out, nil
	})

	var se *serverError
	switch {
	case err == nil:
		breakerRequests.WithLabelValues(name, "success").Inc()
		return resp, nil
	case errors.As(err, &se):
		breakerRequests.WithLabelValues(name, "failure").Inc()
		return se.resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		breakerRequests.WithLabelValues(name, "rejected").Inc()
		s.logger.Warn("store request rejected by circuit breaker", "error", err)
		return nil, apperr.Wrap(apperr.StoreUnavailable, err, apperr.MsgStoreUnavailable)
	default:
		breakerRequests.WithLabelValues(name, "failure").Inc()
		if req.Context().Err() != nil {
			return nil, fmt.Errorf("store request: %w", err)
		}
		return nil, apperr.Wrap(apperr.StoreUnavailable, err, apperr.MsgStoreUnavailable)
	}
}

func (s *Store) authorize(req *http.Request, cred datastore.Credential) {
	key := s.keys[cred]
	req.Header.Set("apikey", key)
	req.Header.Set("Authorization", "Bearer "+key)
}

func (s *Store) newRequest(ctx context.Context, cred datastore.Credential, q *datastore.Query) (*http.Request, error) {
	params := url.Values{}
	var prefer []string
	var body []byte
	method := http.MethodGet

	if q.Method == datastore.Select || q.Returning {
		params.Set("select", datastore.FormatSelect(q.Select))
	}
	for _, f := range q.Filters {
		if datastore.IsReservedName(f.Column) {
			return nil, apperr.New(apperr.MalformedRequest, apperr.MsgReservedColumn, f.Column)
		}
		params.Add(f.Column, filterValue(f))
	}

	switch q.Method {
	case datastore.Select:
		if len(q.Order) > 0 {
			parts := make([]string, len(q.Order))
			for i, o := range q.Order {
				dir := "asc"
				if !o.Ascending {
					dir = "desc"
				}
				parts[i] = o.Column + "." + dir
			}
			params.Set("order", strings.Join(parts, ","))
		}
		if q.Range != nil {
			params.Set("offset", strconv.Itoa(q.Range.From))
			params.Set("limit", strconv.Itoa(q.Range.Len()))
		}

	case datastore.Insert, datastore.Upsert:
		method = http.MethodPost
		var err error
		if body, err = json.Marshal(q.Rows); err != nil {
			return nil, fmt.Errorf("encode rows: %w", err)
		}
		if len(q.Rows) > 1 {
			params.Set("columns", strings.Join(unionColumns(q.Rows), ","))
			prefer = append(prefer, "missing=default")
		}
		if q.Method == datastore.Upsert {
			prefer = append(prefer, "resolution=merge-duplicates")
			if len(q.OnConflict) > 0 {
				params.Set("on_conflict", strings.Join(q.OnConflict, ","))
			}
		}

	case datastore.Update:
		method = http.MethodPatch
		var err error
		if body, err = json.Marshal(q.Values); err != nil {
			return nil, fmt.Errorf("encode values: %w", err)
		}

	case datastore.Delete:
		method = http.MethodDelete

	default:
		return nil, fmt.Errorf("unsupported method %s", q.Method)
	}

	if q.Method != datastore.Select {
		if q.Returning {
			prefer = append(prefer, "return=representation")
		} else {
			prefer = append(prefer, "return=minimal")
		}
	}
	if q.Count {
		prefer = append(prefer, "count=exact")
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base+url.PathEscape(q.Table)+"?"+params.Encode(), rdr)
	if err != nil {
		return nil, err
	}
	s.authorize(req, cred)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// PostgREST rolls a write back when a singular response does not hold
	// exactly one row.
	if q.Single {
		req.Header.Set("Accept", objectMediaType)
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if len(prefer) > 0 {
		req.Header.Set("Prefer", strings.Join(prefer, ","))
	}
	return req, nil
}

// filterValue renders f in PostgREST "op.value" form.
func filterValue(f datastore.Condition) string {
	if f.Op == datastore.OpEq && f.Value == nil {
		return "is.null"
	}
	if f.Op == datastore.OpIn {
		list, _ := f.Value.([]any)
		parts := make([]string, len(list))
		for i, v := range list {
			parts[i] = quoteListItem(formatScalar(v))
		}
		return "in.(" + strings.Join(parts, ",") + ")"
	}
	return string(f.Op) + "." + formatScalar(f.Value)
}

func quoteListItem(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func formatScalar(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func unionColumns(rows []map[string]any) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, r := range rows {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	slices.Sort(cols)
	return cols
}
