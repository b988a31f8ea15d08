// Package proxy serves /api/supabase, the generic data access endpoint the
// map client uses for every table read and write.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/apperr"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/auth"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/datastore"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/middleware"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/policy"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/query"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/security"
)

var (
	rejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_rejections_total",
			Help: "Proxy requests rejected before or by the store, by error kind",
		},
		[]string{"kind"},
	)
	storeOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_store_operations_total",
			Help: "Store operations issued by the proxy, by table, method and result",
		},
		[]string{"table", "method", "result"},
	)
)

// Response is the normalized body of every store-backed reply.
type Response struct {
	Data   any              `json:"data"`
	Error  *datastore.Error `json:"error,omitempty"`
	Count  *int             `json:"count,omitempty"`
	Status int              `json:"status"`
}

type Config struct {
	TrustProxy   bool
	StoreTimeout time.Duration
}

type Handler struct {
	store  datastore.Store
	tokens middleware.TokenVerifier
	authz  *policy.Authorizer
	events *security.EventLogger
	logger *slog.Logger
	cfg    Config
}

func NewHandler(store datastore.Store, tokens middleware.TokenVerifier, authz *policy.Authorizer, events *security.EventLogger, logger *slog.Logger, cfg Config) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StoreTimeout == 0 {
		cfg.StoreTimeout = 30 * time.Second
	}
	return &Handler{
		store:  store,
		tokens: tokens,
		authz:  authz,
		events: events,
		logger: logger.With("component", "proxy"),
		cfg:    cfg,
	}
}

// Post handles POST /api/supabase with a full request descriptor.
func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	req, err := query.Decode(r.Body)
	if err != nil {
		h.reject(w, r, err, "", "")
		return
	}
	h.serve(w, r, req)
}

// Get handles GET /api/supabase?table=...&select=..., a read-only subset.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	if m := params.Get("method"); m != "" {
		if parsed, ok := datastore.ParseMethod(m); !ok || parsed != datastore.Select {
			h.reject(w, r, apperr.New(apperr.UnsupportedMethod, apperr.MsgReadOnly), params.Get("table"), m)
			return
		}
	}

	req := &query.Request{Method: datastore.Select.String(), Select: params.Get("select")}
	if name := params.Get("table"); name != "" {
		raw, err := json.Marshal(name)
		if err != nil {
			h.reject(w, r, apperr.Wrap(apperr.MalformedRequest, err, apperr.MsgTableRequired), "", "")
			return
		}
		req.Table = raw
	}
	h.serve(w, r, req)
}

// serve runs the ordered pipeline: table presence, whitelist, public read
// eligibility, table sanitization, authentication, role check, method
// validation, credential selection, translation, execution, normalization.
// The first failing step answers the request.
func (h *Handler) serve(w http.ResponseWriter, r *http.Request, req *query.Request) {
	name, err := req.TableName()
	if err != nil {
		h.reject(w, r, err, "", req.Method)
		return
	}

	t, ok := policy.Lookup(name)
	if !ok {
		h.reject(w, r, apperr.New(apperr.InvalidTable, apperr.MsgInvalidTable), name, req.Method)
		return
	}

	m, methodOK := datastore.ParseMethod(req.Method)
	publicRead := methodOK && t.PublicReadFor(m)

	if _, err := security.SanitizeSQL(name); err != nil {
		h.reject(w, r, err, name, req.Method)
		return
	}

	var id *auth.Identity
	if !publicRead {
		if id, err = middleware.Authenticate(h.tokens, r); err != nil {
			h.reject(w, r, err, name, req.Method)
			return
		}
		if methodOK && m.IsWrite() {
			if err := h.authz.Authorize(string(id.Role), t, m); err != nil {
				h.rejectAs(w, r, err, name, req.Method, id)
				return
			}
		}
	}

	if req.Method == "" {
		h.rejectAs(w, r, apperr.New(apperr.MalformedRequest, apperr.MsgMethodRequired), name, "", id)
		return
	}
	if !methodOK {
		h.rejectAs(w, r, apperr.New(apperr.UnsupportedMethod, apperr.MsgInvalidMethod, req.Method), name, req.Method, id)
		return
	}

	cred := t.Credential()

	q, err := query.Translate(req, t, m)
	if err != nil {
		h.rejectAs(w, r, err, name, m.String(), id)
		return
	}
	if id != nil {
		q.Caller = &datastore.Caller{UserID: id.UserID, Username: id.Username, Role: string(id.Role)}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.StoreTimeout)
	defer cancel()
	res, err := h.store.Execute(ctx, cred, q)
	if err != nil {
		h.storeFailure(w, r, err, q, id)
		return
	}
	storeOps.WithLabelValues(t.Name, m.String(), "ok").Inc()

	returnsRows := !q.Method.IsWrite() || q.Returning
	if q.Single && returnsRows && len(res.Rows) != 1 {
		h.storeFailure(w, r, datastore.SingleRowError(len(res.Rows)), q, id)
		return
	}
	query.StripHidden(res.Rows, t, q.Select)
	writeJSON(w, http.StatusOK, normalize(q, res))
}

func normalize(q *datastore.Query, res *datastore.Result) Response {
	out := Response{Count: res.Count, Status: http.StatusOK}
	switch {
	case q.Method == datastore.Insert || q.Method == datastore.Upsert:
		out.Status = http.StatusCreated
	case q.Method.IsWrite() && !q.Returning:
		out.Status = http.StatusNoContent
	}

	switch {
	case q.Method.IsWrite() && !q.Returning:
		out.Data = nil
	case q.Single && len(res.Rows) == 1:
		out.Data = res.Rows[0]
	default:
		out.Data = res.Rows
	}
	return out
}

// storeFailure answers a failed Execute. Store-reported errors pass through
// to the client; anything else is hidden behind a generic message.
func (h *Handler) storeFailure(w http.ResponseWriter, r *http.Request, err error, q *datastore.Query, id *auth.Identity) {
	lang := apperr.Language(r.Header.Get("Accept-Language"))
	ev := h.event(r, q.Table, q.Method.String(), id)

	var se *datastore.Error
	if errors.As(err, &se) {
		storeOps.WithLabelValues(q.Table, q.Method.String(), "store_error").Inc()
		rejections.WithLabelValues(string(apperr.StoreOperationFailed)).Inc()
		h.logger.Error("Store operation failed",
			"table", q.Table,
			"method", q.Method.String(),
			"code", se.Code,
			"message", se.Message,
			"timestamp", time.Now().UTC().Format(time.RFC3339Nano),
		)
		ev.Name, ev.Reason = security.EventStoreFailed, se.Error()
		h.events.Log(r.Context(), ev)
		writeJSON(w, http.StatusBadRequest, Response{Data: nil, Error: se, Status: http.StatusBadRequest})
		return
	}

	kind := apperr.KindOf(err)
	storeOps.WithLabelValues(q.Table, q.Method.String(), string(kind)).Inc()
	rejections.WithLabelValues(string(kind)).Inc()
	h.logger.Error("Store call failed", "table", q.Table, "method", q.Method.String(), "kind", kind, "error", err)
	ev.Name, ev.Reason = security.EventFor(kind), err.Error()
	h.events.Log(r.Context(), ev)
	writeError(w, apperr.Status(kind), apperr.ClientMessage(err, lang))
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request, err error, table, method string) {
	h.rejectAs(w, r, err, table, method, nil)
}

// rejectAs answers a classified failure and records it as a security event.
func (h *Handler) rejectAs(w http.ResponseWriter, r *http.Request, err error, table, method string, id *auth.Identity) {
	kind := apperr.KindOf(err)
	rejections.WithLabelValues(string(kind)).Inc()

	ev := h.event(r, table, method, id)
	ev.Name, ev.Reason = security.EventFor(kind), err.Error()
	h.events.Log(r.Context(), ev)

	lang := apperr.Language(r.Header.Get("Accept-Language"))
	writeError(w, apperr.Status(kind), apperr.ClientMessage(err, lang))
}

func (h *Handler) event(r *http.Request, table, method string, id *auth.Identity) security.Event {
	ev := security.Event{
		IP:     middleware.ClientKey(r, h.cfg.TrustProxy),
		Path:   r.URL.Path,
		Method: r.Method,
		Table:  table,
		Op:     method,
	}
	if id != nil {
		ev.UserID = id.UserID
	}
	return ev
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
