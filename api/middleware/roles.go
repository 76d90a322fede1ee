package middleware

import (
	"net/http"
	"slices"

	"github.com/google/uuid"

	"github.com/angelmondragon/paycore/api/responses"
	"github.com/angelmondragon/paycore/pkg/enums"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/logger"
)

// RequireRole admits requests whose token role is one of allowed. It must run after Auth;
// a request without identity is answered 401.
func RequireRole(logg *logger.Logger, allowed ...enums.ActorRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if UserIDFromContext(ctx) == uuid.Nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing identity"))
				return
			}
			if role := RoleFromContext(ctx); !slices.Contains(allowed, role) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role not permitted").
					WithDetails(map[string]any{"role": role}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
