package proxy

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/apperr"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/auth"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/datastore"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/datastore/memstore"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/policy"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/security"
)

const testSecret = "test-signing-secret-that-is-long-enough"

type fixture struct {
	store   *memstore.Store
	tokens  *auth.TokenService
	handler *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens, err := auth.NewTokenService(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	authz, err := policy.NewAuthorizer()
	if err != nil {
		t.Fatalf("authorizer: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	h := NewHandler(store, tokens, authz, security.NewEventLogger(logger), logger, Config{StoreTimeout: time.Second})
	return &fixture{store: store, tokens: tokens, handler: h}
}

func (f *fixture) token(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, _, err := f.tokens.Issue(auth.Identity{UserID: "7", Username: "ayse", Role: role})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

func (f *fixture) post(t *testing.T, body, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/supabase", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.handler.Post(rr, req)
	return rr, decodeBody(t, rr)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func seedCatalog(s *memstore.Store) {
	s.Seed("districts",
		map[string]any{"id": int64(1), "name": "Merkez"},
		map[string]any{"id": int64(2), "name": "Kale"},
	)
	s.Seed("addresses",
		map[string]any{"id": int64(1), "title": "Aile Merkezi", "district_id": int64(1)},
		map[string]any{"id": int64(2), "title": "Sosyal Tesis", "district_id": int64(2)},
	)
	s.Seed("users",
		map[string]any{"id": int64(7), "username": "ayse", "password_hash": "$2a$10$secret", "role": "admin"},
	)
}

// ---------------------------------------------------------------------------
// Rejections before the store
// ---------------------------------------------------------------------------

func TestPost_RejectsBeforeStore(t *testing.T) {
	f := newFixture(t)
	admin := f.token(t, auth.RoleAdmin)

	tests := []struct {
		name   string
		body   string
		token  string
		status int
		msg    string
	}{
		{"malformed json", `{"table":`, "", http.StatusBadRequest, apperr.MsgInvalidJSON},
		{"missing table", `{"method":"SELECT"}`, "", http.StatusBadRequest, apperr.MsgTableRequired},
		{"non string table", `{"table":42,"method":"SELECT"}`, "", http.StatusBadRequest, apperr.MsgTableRequired},
		{"unknown table", `{"table":"pg_shadow","method":"SELECT"}`, admin, http.StatusBadRequest, apperr.MsgInvalidTable},
		{"injected table", `{"table":"users; DROP TABLE users","method":"SELECT"}`, admin, http.StatusBadRequest, apperr.MsgInvalidTable},
		{"injected select", `{"table":"districts","method":"SELECT","select":"id, name UNION SELECT password_hash"}`, "", http.StatusBadRequest, apperr.MsgMaliciousIdentifier},
		{"script in filter", `{"table":"districts","method":"SELECT","filter":{"name":"<script>alert(1)</script>"}}`, "", http.StatusBadRequest, apperr.MsgMaliciousInput},
		{"injected filter key", `{"table":"districts","method":"SELECT","filter":{"name;--":"x"}}`, "", http.StatusBadRequest, apperr.MsgMaliciousIdentifier},
		{"hidden column select", `{"table":"users","method":"SELECT","select":"id,password_hash"}`, admin, http.StatusBadRequest, "Column password_hash is not accessible"},
		{"relation not allowed", `{"table":"districts","method":"SELECT","select":"id,users(id)"}`, "", http.StatusBadRequest, "Relation users cannot be embedded here"},
		{"bad range", `{"table":"districts","method":"SELECT","range":{"from":5,"to":1}}`, "", http.StatusBadRequest, apperr.MsgInvalidRange},
		{"protected without token", `{"table":"addresses","method":"SELECT"}`, "", http.StatusUnauthorized, apperr.MsgAuthRequired},
		{"public write without token", `{"table":"districts","method":"INSERT","data":{"name":"Yeni"}}`, "", http.StatusUnauthorized, apperr.MsgAuthRequired},
		{"missing method", `{"table":"districts"}`, admin, http.StatusBadRequest, apperr.MsgMethodRequired},
		{"unknown method", `{"table":"districts","method":"TRUNCATE"}`, admin, http.StatusBadRequest, "Invalid method: TRUNCATE"},
		{"insert without data", `{"table":"districts","method":"INSERT"}`, admin, http.StatusBadRequest, "Data is required for INSERT"},
		{"single update without select", `{"table":"districts","method":"UPDATE","data":{"name":"X"},"filter":{"id":1},"single":true}`, admin, http.StatusBadRequest, "single on UPDATE requires a select clause"},
		{"delete by reserved column", `{"table":"districts","method":"DELETE","filter":{"columns":"x"}}`, admin, http.StatusBadRequest, "Column name columns is reserved"},
		{"select by reserved column", `{"table":"districts","method":"SELECT","filter":{"limit":5}}`, "", http.StatusBadRequest, "Column name limit is reserved"},
		{"injected conflict target", `{"table":"districts","method":"UPSERT","data":{"id":1},"onConflict":"id;drop"}`, admin, http.StatusBadRequest, apperr.MsgMaliciousIdentifier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := f.post(t, tt.body, tt.token)
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
			if body["error"] != tt.msg {
				t.Errorf("expected error %q, got %v", tt.msg, body["error"])
			}
		})
	}

	if n := len(f.store.Calls()); n != 0 {
		t.Errorf("expected no store calls, got %d", n)
	}
}

func TestPost_SingleWriteMismatchLeavesRows(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f.store)
	admin := f.token(t, auth.RoleAdmin)

	rr, body := f.post(t, `{"table":"districts","method":"UPDATE","data":{"name":"X"},"filter":{"id":{"operator":"gte","value":1}},"single":true,"select":"id,name"}`, admin)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
	if e, _ := body["error"].(map[string]any); e["code"] != "PGRST116" {
		t.Errorf("expected PGRST116, got %v", body["error"])
	}

	_, body = f.post(t, `{"table":"districts","method":"SELECT","orderBy":{"column":"id"}}`, "")
	rows, _ := body["data"].([]any)
	if len(rows) != 2 {
		t.Fatalf("expected 2 districts, got %v", body["data"])
	}
	for _, r := range rows {
		if r.(map[string]any)["name"] == "X" {
			t.Errorf("expected no district renamed, got %v", r)
		}
	}

	rr, body = f.post(t, `{"table":"districts","method":"UPDATE","data":{"name":"X"},"filter":{"id":1},"single":true,"select":"id,name"}`, admin)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if row, _ := body["data"].(map[string]any); row["name"] != "X" {
		t.Errorf("expected the updated row as an object, got %v", body["data"])
	}
}

func TestPost_UnfilteredWritesRejectedForEveryTable(t *testing.T) {
	f := newFixture(t)
	admin := f.token(t, auth.RoleAdmin)

	for _, tbl := range policy.Tables() {
		for _, body := range []string{
			`{"table":"` + tbl.Name + `","method":"UPDATE","data":{"name":"x"}}`,
			`{"table":"` + tbl.Name + `","method":"UPDATE","data":{"name":"x"},"filter":{}}`,
			`{"table":"` + tbl.Name + `","method":"DELETE"}`,
			`{"table":"` + tbl.Name + `","method":"DELETE","filter":{}}`,
		} {
			rr, _ := f.post(t, body, admin)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("%s: expected 400, got %d", body, rr.Code)
			}
		}
	}
	if n := len(f.store.Calls()); n != 0 {
		t.Errorf("expected no store calls, got %d", n)
	}
}

// ---------------------------------------------------------------------------
// Authentication and authorization
// ---------------------------------------------------------------------------

func TestPost_AuthMatrix(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f.store)
	normal := f.token(t, auth.RoleNormal)
	editor := f.token(t, auth.RoleEditor)
	admin := f.token(t, auth.RoleAdmin)

	tests := []struct {
		name   string
		body   string
		token  string
		status int
	}{
		{"public read anonymous", `{"table":"districts","method":"SELECT"}`, "", http.StatusOK},
		{"protected read anonymous", `{"table":"addresses","method":"SELECT"}`, "", http.StatusUnauthorized},
		{"protected read normal", `{"table":"addresses","method":"SELECT"}`, normal, http.StatusOK},
		{"normal inserts address", `{"table":"addresses","method":"INSERT","data":{"title":"Yeni"}}`, normal, http.StatusOK},
		{"normal updates address", `{"table":"addresses","method":"UPDATE","data":{"title":"x"},"filter":{"id":1}}`, normal, http.StatusForbidden},
		{"normal deletes address", `{"table":"addresses","method":"DELETE","filter":{"id":1}}`, normal, http.StatusForbidden},
		{"editor updates address", `{"table":"addresses","method":"UPDATE","data":{"title":"Düzenlendi"},"filter":{"id":1}}`, editor, http.StatusOK},
		{"editor deletes address", `{"table":"addresses","method":"DELETE","filter":{"id":2}}`, editor, http.StatusForbidden},
		{"admin deletes address", `{"table":"addresses","method":"DELETE","filter":{"id":2}}`, admin, http.StatusOK},
		{"normal writes users", `{"table":"users","method":"INSERT","data":{"username":"x"}}`, normal, http.StatusForbidden},
		{"editor updates users", `{"table":"users","method":"UPDATE","data":{"role":"admin"},"filter":{"id":7}}`, editor, http.StatusForbidden},
		{"admin updates users", `{"table":"users","method":"UPDATE","data":{"full_name":"Ayşe"},"filter":{"id":7}}`, admin, http.StatusOK},
		{"normal writes categories", `{"table":"main_categories","method":"INSERT","data":{"name":"Spor"}}`, normal, http.StatusOK},
		{"admin writes categories", `{"table":"main_categories","method":"INSERT","data":{"name":"Eğitim"}}`, admin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, _ := f.post(t, tt.body, tt.token)
			if rr.Code != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestPost_ExpiredToken(t *testing.T) {
	f := newFixture(t)
	past := time.Now().Add(-2 * time.Hour)
	claims := auth.Claims{
		UserID: "7",
		Role:   auth.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(past),
			ExpiresAt: jwt.NewNumericDate(past.Add(time.Hour)),
			Issuer:    "aile-sosyal-map",
		},
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	rr, body := f.post(t, `{"table":"addresses","method":"SELECT"}`, expired)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if body["error"] != apperr.MsgInvalidToken {
		t.Errorf("unexpected error: %v", body["error"])
	}
}

func TestPost_CredentialAndCaller(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f.store)
	normal := f.token(t, auth.RoleNormal)

	f.post(t, `{"table":"districts","method":"SELECT"}`, "")
	f.post(t, `{"table":"addresses","method":"SELECT"}`, normal)

	calls := f.store.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Credential != datastore.AnonCredential || calls[0].Query.Caller != nil {
		t.Errorf("public read: got credential %v caller %+v", calls[0].Credential, calls[0].Query.Caller)
	}
	if calls[1].Credential != datastore.ServiceCredential {
		t.Errorf("addresses should use the service credential, got %v", calls[1].Credential)
	}
	if c := calls[1].Query.Caller; c == nil || c.UserID != "7" || c.Role != "normal" {
		t.Errorf("unexpected caller %+v", c)
	}
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

func TestPost_ReturnsEveryRowPastStoreDefault(t *testing.T) {
	f := newFixture(t)
	f.store.DefaultLimit = 1000
	for i := range 1200 {
		f.store.Seed("districts", map[string]any{"id": int64(i + 1), "name": "d"})
	}

	rr, body := f.post(t, `{"table":"districts","method":"SELECT","select":"id"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	rows, ok := body["data"].([]any)
	if !ok || len(rows) != 1200 {
		t.Fatalf("expected 1200 rows, got %d", len(rows))
	}
}

func TestPost_SelectIsIdempotent(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f.store)
	body := `{"table":"districts","method":"SELECT","select":"id,name","orderBy":{"column":"name"}}`

	first, _ := f.post(t, body, "")
	second, _ := f.post(t, body, "")
	if first.Body.String() != second.Body.String() {
		t.Errorf("responses differ:\n%s\n%s", first.Body.String(), second.Body.String())
	}
}

func TestPost_NormalizedShapes(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f.store)
	admin := f.token(t, auth.RoleAdmin)

	t.Run("single", func(t *testing.T) {
		_, body := f.post(t, `{"table":"districts","method":"SELECT","filter":{"id":1},"single":true}`, "")
		row, ok := body["data"].(map[string]any)
		if !ok || row["name"] != "Merkez" {
			t.Errorf("expected single object, got %v", body["data"])
		}
	})

	t.Run("single mismatch", func(t *testing.T) {
		rr, body := f.post(t, `{"table":"districts","method":"SELECT","single":true}`, "")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
		errObj, _ := body["error"].(map[string]any)
		if errObj["code"] != "PGRST116" {
			t.Errorf("expected PGRST116, got %v", body["error"])
		}
	})

	t.Run("count", func(t *testing.T) {
		_, body := f.post(t, `{"table":"districts","method":"SELECT","count":true,"limit":1}`, "")
		if body["count"] != float64(2) {
			t.Errorf("expected count 2, got %v", body["count"])
		}
	})

	t.Run("insert returning", func(t *testing.T) {
		rr, body := f.post(t, `{"table":"districts","method":"INSERT","data":{"name":"Yeni"},"select":"id,name"}`, admin)
		if rr.Code != http.StatusOK || body["status"] != float64(201) {
			t.Fatalf("expected 200/201, got %d/%v", rr.Code, body["status"])
		}
		rows, _ := body["data"].([]any)
		if len(rows) != 1 {
			t.Errorf("expected one returned row, got %v", body["data"])
		}
	})

	t.Run("delete minimal", func(t *testing.T) {
		rr, body := f.post(t, `{"table":"districts","method":"DELETE","filter":{"name":"Yeni"}}`, admin)
		if rr.Code != http.StatusOK || body["status"] != float64(204) {
			t.Fatalf("expected 200/204, got %d/%v", rr.Code, body["status"])
		}
		if body["data"] != nil {
			t.Errorf("expected null data, got %v", body["data"])
		}
	})

	t.Run("hidden columns stripped", func(t *testing.T) {
		_, body := f.post(t, `{"table":"users","method":"SELECT","select":"*"}`, admin)
		rows, _ := body["data"].([]any)
		if len(rows) != 1 {
			t.Fatalf("expected 1 user, got %v", body["data"])
		}
		if _, leaked := rows[0].(map[string]any)["password_hash"]; leaked {
			t.Error("password_hash leaked")
		}
	})
}

func TestPost_StoreFailures(t *testing.T) {
	f := newFixture(t)
	admin := f.token(t, auth.RoleAdmin)

	f.store.FailNext(&datastore.Error{Message: "duplicate key value", Code: "23505", Details: "Key (name)=(Merkez) already exists."})
	rr, body := f.post(t, `{"table":"districts","method":"INSERT","data":{"name":"Merkez"}}`, admin)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	errObj, _ := body["error"].(map[string]any)
	if errObj["code"] != "23505" || errObj["message"] != "duplicate key value" {
		t.Errorf("store error not passed through: %v", body["error"])
	}
	if body["data"] != nil || body["status"] != float64(400) {
		t.Errorf("unexpected envelope: %v", body)
	}

	f.store.FailNext(apperr.New(apperr.StoreUnavailable, apperr.MsgStoreUnavailable))
	rr, body = f.post(t, `{"table":"districts","method":"SELECT"}`, "")
	if rr.Code != http.StatusServiceUnavailable || body["error"] != apperr.MsgStoreUnavailable {
		t.Errorf("expected 503 store unavailable, got %d %v", rr.Code, body["error"])
	}

	f.store.FailNext(io.ErrUnexpectedEOF)
	rr, body = f.post(t, `{"table":"districts","method":"SELECT"}`, "")
	if rr.Code != http.StatusInternalServerError || body["error"] != apperr.MsgInternal {
		t.Errorf("expected generic 500, got %d %v", rr.Code, body["error"])
	}
}

func TestPost_LocalizedRejection(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/supabase", strings.NewReader(`{"table":"nope","method":"SELECT"}`))
	req.Header.Set("Accept-Language", "tr-TR,tr;q=0.9")
	rr := httptest.NewRecorder()
	f.handler.Post(rr, req)

	if body := decodeBody(t, rr); body["error"] != "Geçersiz tablo adı" {
		t.Errorf("expected Turkish message, got %v", body["error"])
	}
}

// ---------------------------------------------------------------------------
// GET variant
// ---------------------------------------------------------------------------

func TestGet(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f.store)

	get := func(target string) (*httptest.ResponseRecorder, map[string]any) {
		rr := httptest.NewRecorder()
		f.handler.Get(rr, httptest.NewRequest(http.MethodGet, target, nil))
		return rr, decodeBody(t, rr)
	}

	rr, body := get("/api/supabase?table=districts&select=id,name")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rows, _ := body["data"].([]any); len(rows) != 2 {
		t.Errorf("expected 2 rows, got %v", body["data"])
	}

	rr, body = get("/api/supabase?table=districts&method=DELETE")
	if rr.Code != http.StatusBadRequest || body["error"] != apperr.MsgReadOnly {
		t.Errorf("expected read-only rejection, got %d %v", rr.Code, body["error"])
	}

	rr, _ = get("/api/supabase?select=id")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without table, got %d", rr.Code)
	}

	rr, _ = get("/api/supabase?table=addresses")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for protected table, got %d", rr.Code)
	}
}
