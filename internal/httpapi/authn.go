package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/fortresslabs/identity/internal/auth"
)

const (
	authHeader  = "Authorization"
	bearer      = "Bearer "
	tokenCookie = "identity_token"
)

var publicPaths = []string{
	"/api/v1/auth/login",
	"/api/v1/auth/register",
	"/api/v1/health",
	"/healthz",
	"/readyz",
	"/metrics",
	"/",
}

// withAuth resolves the bearer credential on every non-public request
// and attaches the principal and the raw token to the context. All
// rejection paths produce the same UNAUTHENTICATED response.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractToken(r)
		if err != nil {
			writeFailure(w, http.StatusUnauthorized, codeUnauthenticated, "Unauthenticated.")
			return
		}

		user, err := a.svc.Resolve(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeFailure(w, http.StatusUnauthorized, codeUnauthenticated, "Unauthenticated.")
				return
			}
			writeError(w, r, err)
			return
		}

		ctx := auth.ContextWithUser(r.Context(), user)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken prefers the Authorization header and falls back to the
// HttpOnly cookie.
func extractToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if header != "" {
		if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
			return "", errors.New("invalid authorization scheme")
		}
		token := strings.TrimSpace(header[len(bearer):])
		if token == "" {
			return "", errors.New("missing bearer token")
		}
		return token, nil
	}
	if c, err := r.Cookie(tokenCookie); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return "", errors.New("missing bearer token")
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// requireUser pulls the authenticated principal from the context.
func requireUser(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, codeUnauthenticated, "Unauthenticated.")
		return nil, false
	}
	return user, true
}
