// ABOUTME: HTTP middleware that enforces the access gate on API endpoints
// ABOUTME: Rejects unauthorized requests with 401 before the handler runs

package auth

import (
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Require creates middleware admitting requests that authenticate as any of
// the given classes. The matched class is stored in the request context.
func (g *Gate) Require(classes ...Class) func(http.Handler) http.Handler {
	return g.middleware(func(r *http.Request) (Class, error) {
		return g.Allow(r, classes...)
	})
}

// RequireKey creates middleware admitting only requests that present the
// class's key. Used where a bearer token must not be enough, such as
// issuing new tokens.
func (g *Gate) RequireKey(class Class) func(http.Handler) http.Handler {
	return g.middleware(func(r *http.Request) (Class, error) {
		if err := g.AuthenticateKey(r, class); err != nil {
			return "", err
		}
		return class, nil
	})
}

func (g *Gate) middleware(check func(*http.Request) (Class, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			class, err := check(r)
			if err != nil {
				g.logger.Debug("request rejected",
					"method", r.Method,
					"path", r.URL.Path,
					"remote", r.RemoteAddr,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClass(r.Context(), class)))
		})
	}
}
