package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/paycore/api/controllers"
	"github.com/angelmondragon/paycore/api/middleware"
	"github.com/angelmondragon/paycore/internal/intents"
	"github.com/angelmondragon/paycore/internal/maintenance"
	"github.com/angelmondragon/paycore/pkg/config"
	"github.com/angelmondragon/paycore/pkg/enums"
	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/redis"
)

// RouterParams carries everything the HTTP surface needs.
type RouterParams struct {
	Config      *config.Config
	Logger      *logger.Logger
	Intents     intents.Service
	Reviews     controllers.ReviewService
	History     controllers.TransactionHistory
	Sweeper     controllers.Sweeper
	RateStore   *redis.Client
	Gatherer    prometheus.Gatherer
	ReadyChecks map[string]controllers.Pinger
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger
	origins := middleware.NewOriginPolicy(cfg.CORS.Origins(), cfg.Gateway.AppBaseURL)

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg),
		middleware.CORS(origins),
	)

	intentPolicy := middleware.NewRateLimitPolicy("intents", time.Minute, cfg.Payments.IPRateLimitPerMin)
	returnPolicy := middleware.NewRateLimitPolicy("3d-return", time.Minute, cfg.Payments.IPRateLimitPerMin)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.ReadyChecks))
	})

	gatherer := params.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1/payments", func(r chi.Router) {
		threeDReturn := controllers.ThreeDReturn(params.Intents, origins, cfg.Gateway.AppBaseURL, logg)
		r.With(rateLimit(returnPolicy, params.RateStore, logg)).Get("/3d-return", threeDReturn)
		r.With(rateLimit(returnPolicy, params.RateStore, logg)).Post("/3d-return", threeDReturn)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.With(rateLimit(intentPolicy, params.RateStore, logg)).Post("/intents", controllers.CreatePaymentIntent(params.Intents, origins, logg))
		})
	})

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))
		r.Post("/payments/{intentID}/void", controllers.AdminVoidPayment(params.Intents, logg))
		r.Post("/payments/{intentID}/refund", controllers.AdminRefundPayment(params.Intents, logg))
		r.Post("/payments/{intentID}/capture", controllers.AdminCapturePayment(params.Intents, logg))
		r.Get("/payments/{intentID}/transactions", controllers.AdminPaymentTransactions(params.History, logg))
		r.Get("/reviews", controllers.AdminListReviews(params.Reviews, logg))
		r.Post("/reviews/{entryID}/resolve", controllers.AdminResolveReview(params.Reviews, logg))
	})

	r.With(middleware.MaintenanceSecret(cfg.Maintenance.Secret, logg)).Post("/internal/maintenance",
		controllers.RunMaintenance(params.Sweeper, maintenance.Options{
			ProbeProviders:    false,
			RunReconciliation: cfg.Reconciliation.Enabled,
		}, logg))

	return r
}

// rateLimit passes an untyped nil when redis is not wired.
func rateLimit(policy middleware.RateLimitPolicy, store *redis.Client, logg *logger.Logger) func(http.Handler) http.Handler {
	if store == nil {
		return middleware.IntentRateLimit(policy, nil, logg)
	}
	return middleware.IntentRateLimit(policy, store, logg)
}
