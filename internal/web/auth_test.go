package web

import (
	"bytes"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAuthMissingKey(t *testing.T) {
	s, _ := testServer(t)
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["error"] != "Missing API key" {
		t.Errorf("body = %v", body)
	}
}

func TestAuthWrongKey(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set("X-API-Key", "not-the-key")
	rec := do(t, s, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["error"] != "Invalid API key" {
		t.Errorf("body = %v", body)
	}
}

func TestAuthHeaderAndQueryForms(t *testing.T) {
	s, _ := testServer(t)

	rec := do(t, s, authed(httptest.NewRequest(http.MethodGet, "/api/events", nil)))
	if rec.Code != http.StatusOK {
		t.Errorf("header auth: status = %d", rec.Code)
	}

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/events?api_key="+testAPIKey, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("query auth: status = %d", rec.Code)
	}
}

func TestAuthExemptPaths(t *testing.T) {
	s, _ := testServer(t)
	for _, path := range []string{"/api/health", "/metrics"} {
		rec := do(t, s, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s without key: status = %d", path, rec.Code)
		}
	}
}

func TestResolveAPIKeyPrefersEnv(t *testing.T) {
	t.Setenv("SENTINEL_API_KEY", "from-env")
	if got := resolveAPIKey(nil); got != "from-env" {
		t.Errorf("key = %q", got)
	}
}

func TestResolveAPIKeyGeneratesWhenUnset(t *testing.T) {
	t.Setenv("SENTINEL_API_KEY", "")
	var buf bytes.Buffer
	key := resolveAPIKey(log.New(&buf, "", 0))
	if len(key) < 40 {
		t.Errorf("generated key too short: %q", key)
	}
	if !strings.Contains(buf.String(), key) {
		t.Error("generated key was not logged")
	}
}
