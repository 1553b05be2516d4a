package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/betterseqta/settings-go/internal/models"
)

const apiKeyQueryParam = "api-key"

type ctxKey struct{}

// Middleware returns an http.Handler middleware that enforces authentication.
// In open mode (no tokens configured), all requests pass through.
// Otherwise the Authorization bearer token or the api-key query param must match.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.IsOpenMode() {
			next.ServeHTTP(w, r)
			return
		}

		if name, ok := s.Verify(requestKey(r)); ok {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, name)))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("WWW-Authenticate", `Bearer realm="settingsd"`)
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(models.ErrUnauthorized)
	})
}

// ClientName returns the token name that authenticated the request, if any.
func ClientName(ctx context.Context) string {
	name, _ := ctx.Value(ctxKey{}).(string)
	return name
}

func requestKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get(apiKeyQueryParam)
}
