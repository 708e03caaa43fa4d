package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/premisehq/visitor-gate/internal/domain"
	"github.com/premisehq/visitor-gate/internal/http/response"
	"github.com/premisehq/visitor-gate/pkg/auth"
	"github.com/premisehq/visitor-gate/pkg/logger"
)

type actorKeyType struct{}

var actorKey actorKeyType

// ActorFromContext returns the authenticated actor placed there by
// RequireRole.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(actorKey).(domain.Actor)
	return a, ok
}

// RequireRole validates the bearer token and admits only the listed
// roles. Admin is always admitted.
func RequireRole(secret string, roles ...domain.Role) func(http.Handler) http.Handler {
	allowed := make(map[domain.Role]bool, len(roles)+1)
	for _, r := range roles {
		allowed[r] = true
	}
	allowed[domain.RoleAdmin] = true

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				response.Unauthorized(w, "missing bearer token")
				return
			}

			claims, err := auth.Parse(strings.TrimPrefix(header, "Bearer "), secret)
			if err != nil {
				response.Unauthorized(w, "invalid or expired token")
				return
			}

			role, ok := domain.ParseRole(claims.Role)
			if !ok || !allowed[role] {
				response.Forbidden(w, "insufficient role")
				return
			}

			actor := domain.Actor{ID: claims.Sub, Role: role}
			ctx := context.WithValue(r.Context(), actorKey, actor)
			ctx = context.WithValue(ctx, logger.ActorIDKey, actor.ID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
