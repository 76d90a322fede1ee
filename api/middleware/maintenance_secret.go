package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/paycore/api/responses"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/security"
)

const maintenanceSecretHeader = "X-Maintenance-Secret"

// MaintenanceSecret admits requests carrying the shared maintenance secret. An unset secret rejects everything.
func MaintenanceSecret(secret string, logg *logger.Logger) func(http.Handler) http.Handler {
	secret = strings.TrimSpace(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := strings.TrimSpace(r.Header.Get(maintenanceSecretHeader))
			if secret == "" || !security.SecretsEqual(secret, provided) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid maintenance secret"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
