package auth

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/directory"
	"github.com/frahmantamala/asset-loan/internal/transport"
)

// RBACAuthorization gates routes on directory roles. Admins pass every check.
type RBACAuthorization struct {
	*transport.BaseHandler
}

func NewRBACAuthorization(logger *slog.Logger) *RBACAuthorization {
	return &RBACAuthorization{BaseHandler: transport.NewBaseHandler(logger)}
}

func (ra *RBACAuthorization) Check(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			ra.Logger.Warn("authorization check failed: user not found in context")
			ra.HandleServiceError(w, internal.NewUnauthorizedError("authentication required", internal.ErrCodeInvalidToken))
			return
		}

		if !user.IsAdmin() && !user.HasAnyRole(roles...) {
			ra.Logger.WarnContext(r.Context(), "access denied: missing role",
				"user_id", user.ID,
				"required_roles", roles,
				"user_roles", user.Roles)
			ra.HandleServiceError(w, internal.NewForbiddenError("insufficient permissions", internal.ErrCodeForbidden))
			return
		}

		next.ServeHTTP(w, r)
	}
}

// RequireRole allows callers holding any of roles.
func (ra *RBACAuthorization) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return ra.Check(next.ServeHTTP, roles...)
	}
}

func (ra *RBACAuthorization) RequireAssetManager() func(http.Handler) http.Handler {
	return ra.RequireRole(directory.RoleAssetManager)
}

func (ra *RBACAuthorization) RequireAdmin() func(http.Handler) http.Handler {
	return ra.RequireRole(directory.RoleAdmin)
}
