package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyAuthDisabledPassesThrough(t *testing.T) {
	auth := &APIKeyAuth{keys: map[string]bool{}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants/t1/agents", nil)
	rec := httptest.NewRecorder()
	auth.Handler(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAPIKeyAuthRejectsMissingKey(t *testing.T) {
	auth := &APIKeyAuth{keys: map[string]bool{}}
	auth.AddKey("secret-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants/t1/agents", nil)
	rec := httptest.NewRecorder()
	auth.Handler(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAPIKeyAuthAcceptsBearerAndHeader(t *testing.T) {
	auth := &APIKeyAuth{keys: map[string]bool{}}
	auth.AddKey("secret-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants/t1/agents", nil)
	req.Header.Set("Authorization", "Bearer secret-1")
	rec := httptest.NewRecorder()
	auth.Handler(okHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer status = %d, want %d", rec.Code, http.StatusOK)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/tenants/t1/agents", nil)
	req.Header.Set("X-API-Key", "secret-1")
	rec = httptest.NewRecorder()
	auth.Handler(okHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("header status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAPIKeyAuthPublicPaths(t *testing.T) {
	auth := &APIKeyAuth{keys: map[string]bool{}}
	auth.AddKey("secret-1")

	for _, path := range []string{"/health", "/version", "/metrics", "/ws/tenant-1"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		auth.Handler(okHandler()).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("path %s status = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}

func TestAPIKeyAuthRemoveKeyDisables(t *testing.T) {
	auth := &APIKeyAuth{keys: map[string]bool{}}
	auth.AddKey("secret-1")
	auth.RemoveKey("secret-1")

	if auth.Enabled() {
		t.Fatal("Enabled() = true after removing the only key")
	}
}
