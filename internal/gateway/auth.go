package gateway

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/smedrec/smart-logs/internal/access"
)

// authMiddleware validates Bearer token or Basic auth credentials using
// constant-time comparison.
func authMiddleware(cfg AuthConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if cfg.BearerToken != "" {
				if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
					if constantTimeEqual(after, cfg.BearerToken) {
						next.ServeHTTP(w, r)
						return
					}
				}
			}

			if cfg.BasicUser != "" && cfg.BasicPass != "" {
				user, pass, ok := r.BasicAuth()
				if ok && constantTimeEqual(user, cfg.BasicUser) && constantTimeEqual(pass, cfg.BasicPass) {
					next.ServeHTTP(w, r)
					return
				}
			}

			logger.Warn("gateway auth failed", "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
	}
}

// constantTimeEqual compares two strings without leaking length-prefix
// timing.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// userContextKey is the context key for the caller's access context.
type userContextKey struct{}

// userContextMiddleware builds the access.UserContext from the identity
// headers injected by the authenticating proxy.
func userContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := r.Header.Get("X-Org-Id")
		if orgID == "" {
			http.Error(w, "missing X-Org-Id header", http.StatusBadRequest)
			return
		}

		role := access.Role(r.Header.Get("X-Role"))
		if role == "" {
			role = access.RoleViewer
		}

		var perms []access.Permission
		if raw := r.Header.Get("X-Permissions"); raw != "" {
			for _, p := range strings.Split(raw, ",") {
				if p = strings.TrimSpace(p); p != "" {
					perms = append(perms, access.Permission(p))
				}
			}
		}

		user := &access.UserContext{
			UserID:         r.Header.Get("X-User-Id"),
			OrganizationID: orgID,
			Role:           role,
			Permissions:    perms,
			DepartmentID:   r.Header.Get("X-Department-Id"),
			TeamID:         r.Header.Get("X-Team-Id"),
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey{}, user)))
	})
}

// userFrom extracts the access context installed by userContextMiddleware.
func userFrom(r *http.Request) *access.UserContext {
	user, _ := r.Context().Value(userContextKey{}).(*access.UserContext)
	return user
}
