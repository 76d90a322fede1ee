package controllers

import (
	"context"
	"net/http"

	"go.uber.org/multierr"

	"github.com/angelmondragon/paycore/api/responses"
	"github.com/angelmondragon/paycore/api/validators"
	"github.com/angelmondragon/paycore/internal/maintenance"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/logger"
)

// Sweeper runs one maintenance pass.
type Sweeper interface {
	Run(ctx context.Context, opts maintenance.Options) (*maintenance.Result, error)
}

// maintenanceRequest accepts run_provider_checks as sent by existing schedulers; probe_providers is an alias.
type maintenanceRequest struct {
	RunProviderChecks *bool `json:"run_provider_checks,omitempty"`
	ProbeProviders    *bool `json:"probe_providers,omitempty"`
	RunReconciliation *bool `json:"run_reconciliation,omitempty"`
}

type maintenanceResponse struct {
	*maintenance.Result
	Errors []string `json:"errors,omitempty"`
}

// RunMaintenance executes the sweeper. Step failures are reported in the body; the run itself still succeeds.
// Omitted flags fall back to defaults.
func RunMaintenance(sw Sweeper, defaults maintenance.Options, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sw == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "maintenance unavailable"))
			return
		}
		var payload maintenanceRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		opts := defaults
		if payload.ProbeProviders != nil {
			opts.ProbeProviders = *payload.ProbeProviders
		}
		if payload.RunProviderChecks != nil {
			opts.ProbeProviders = *payload.RunProviderChecks
		}
		if payload.RunReconciliation != nil {
			opts.RunReconciliation = *payload.RunReconciliation
		}

		result, err := sw.Run(r.Context(), opts)
		if result == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "maintenance failed"))
			return
		}
		body := maintenanceResponse{Result: result}
		if err != nil {
			if logg != nil {
				logg.Error(r.Context(), "maintenance.run.partial_failure", err)
			}
			for _, stepErr := range multierr.Errors(err) {
				body.Errors = append(body.Errors, stepErr.Error())
			}
		}
		responses.WriteSuccess(w, body)
	}
}
