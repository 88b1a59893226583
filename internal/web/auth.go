package web

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"log"
	"net/http"
	"os"
	"strings"
)

// resolveAPIKey returns the shared dashboard secret. Without
// SENTINEL_API_KEY in the environment a random ephemeral key is
// generated and logged once, so an unconfigured install is never open.
func resolveAPIKey(logger *log.Logger) string {
	if key := os.Getenv("SENTINEL_API_KEY"); key != "" {
		return key
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		logger.Fatalf("generate API key: %v", err)
	}
	key := base64.RawURLEncoding.EncodeToString(buf)
	logger.Printf("SENTINEL_API_KEY not set; generated ephemeral key: %s", key)
	return key
}

// authExempt paths are reachable without a key: the health probe, the
// metrics scrape, and the terminal WebSocket whose one-shot command id
// from /api/terminal/prepare acts as the credential.
func authExempt(path string) bool {
	return path == "/api/health" ||
		path == "/metrics" ||
		strings.HasPrefix(path, "/ws/terminal/")
}

// requireAuth checks X-API-Key or the api_key query parameter. The
// query form exists for EventSource clients, which cannot set headers.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key == "" {
			writeError(w, http.StatusUnauthorized, "Missing API key")
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
