package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"taskdesk/internal/token"
)

type AuthConfig struct {
	Tokens token.Service
	Logger *log.Logger
}

type principalKey struct{}

func (c AuthConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

func withPrincipal(ctx context.Context, p token.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (token.Principal, huma.StatusError) {
	p, ok := ctx.Value(principalKey{}).(token.Principal)
	if !ok || p.ID == 0 {
		return token.Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	return p, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// newAuthMiddleware verifies the bearer token on every API request except
// the public paths (health and login). A request with no Authorization
// header and one with a bad token get the same 401 body.
func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	public := map[string]bool{
		path.Join(basePath, "health"): true,
		path.Join(basePath, "login"):  true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for the API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}

			// Missing, malformed, and expired tokens all get the same
			// response so the failure mode is not observable.
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			raw, ok := bearerToken(authz)
			if !ok {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			principal, err := cfg.Tokens.Verify(raw)
			if err != nil {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
