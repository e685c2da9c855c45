package auth

import (
	"net/http"
)

const (
	apiKeyHeader     = "X-API-Key"
	apiKeyQueryParam = "api-key"
)

// Middleware enforces API-key authentication. In open mode (no keys
// configured), all requests pass through. Otherwise the key is read from the
// X-API-Key header or the api-key query parameter; unauthenticated requests
// get a 401 JSON error.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.IsOpenMode() {
			next.ServeHTTP(w, r)
			return
		}

		if s.VerifyKey(r.Header.Get(apiKeyHeader)) {
			next.ServeHTTP(w, r)
			return
		}

		// Query param fallback for clients that cannot set headers (SSE).
		if key := r.URL.Query().Get(apiKeyQueryParam); key != "" && s.VerifyKey(key) {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"success":false,"error":"invalid or missing API key"}`))
	})
}
