package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
})

func call(h http.Handler, path, header, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if key != "" {
		req.Header.Set(header, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPIKey(t *testing.T) {
	tests := []struct {
		name     string
		mode     string
		key      string
		sentKey  string
		path     string
		wantCode int
	}{
		{"mode none passes through", "none", "secret", "", "/api/v1/batches", http.StatusOK},
		{"empty expected key passes through", "apikey", "", "", "/api/v1/batches", http.StatusOK},
		{"correct key", "apikey", "secret", "secret", "/api/v1/batches", http.StatusOK},
		{"missing key", "apikey", "secret", "", "/api/v1/batches", http.StatusUnauthorized},
		{"wrong key", "apikey", "secret", "guess", "/api/v1/batches", http.StatusUnauthorized},
		{"prefix of key", "apikey", "secret", "secre", "/api/v1/batches", http.StatusUnauthorized},
		{"exempt path", "apikey", "secret", "", "/api/v1/health", http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := APIKey(tc.mode, "x-api-key", tc.key, "/api/v1/health")(okHandler)
			rec := call(h, tc.path, "x-api-key", tc.sentKey)
			if rec.Code != tc.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantCode)
			}
		})
	}
}

func TestAPIKey_UnauthorizedBody(t *testing.T) {
	h := APIKey("apikey", "x-api-key", "secret")(okHandler)
	rec := call(h, "/ingest/v1/datapoints", "x-api-key", "nope")
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if !strings.Contains(rec.Body.String(), `"invalid api key"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestAPIKey_CustomHeader(t *testing.T) {
	h := APIKey("apikey", "X-SPC-Key", "secret")(okHandler)
	if rec := call(h, "/", "X-SPC-Key", "secret"); rec.Code != http.StatusOK {
		t.Errorf("custom header status = %d, want 200", rec.Code)
	}
	if rec := call(h, "/", "x-api-key", "secret"); rec.Code != http.StatusUnauthorized {
		t.Errorf("default header status = %d, want 401", rec.Code)
	}
}
