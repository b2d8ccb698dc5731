package httpapi

import (
	"context"
	"net/http"
	"sort"
	"time"

	"tenant_gateway/internal/auth"
	"tenant_gateway/internal/config"
	"tenant_gateway/internal/middleware"
	"tenant_gateway/internal/utils"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck probes one dependency; a nil error means healthy.
type HealthCheck func(ctx context.Context) error

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Pipeline  Completer
	Tenants   TenantManager
	Usage     UsageReporter
	Providers ProviderLister

	// Metrics serves /metrics. The route is not registered when nil.
	Metrics http.Handler

	// HealthChecks are run by /health, keyed by dependency name.
	HealthChecks map[string]HealthCheck
}

// NewRouter registers every route on a ServeMux.
func NewRouter(cfg *config.Config, deps Dependencies) *http.ServeMux {
	mux := http.NewServeMux()

	completions := middleware.CredentialMiddleware(NewCompletionsHandler(deps.Pipeline))
	mux.Handle("POST /v1/completions", completions)
	mux.Handle("POST /v1/chat/completions", completions)

	mux.HandleFunc("GET /health", healthHandler(deps.HealthChecks))
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}

	viewer := middleware.AdminJWTMiddleware(cfg, auth.RoleViewer)
	admin := middleware.AdminJWTMiddleware(cfg, auth.RoleAdmin)

	if deps.Tenants != nil {
		tenants := NewAdminTenantsHandler(deps.Tenants, deps.Usage)
		mux.Handle("POST /admin/tenants", admin(http.HandlerFunc(tenants.Create)))
		if deps.Usage != nil {
			mux.Handle("GET /admin/tenants/{id}/usage", viewer(http.HandlerFunc(tenants.Usage)))
		}
	}
	if deps.Providers != nil {
		providersHandler := NewAdminProvidersHandler(deps.Providers, cfg.Router.Order)
		mux.Handle("GET /admin/providers", viewer(http.HandlerFunc(providersHandler.List)))
	}

	return mux
}

// HealthResponse is the body of /health
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok"}
		code := http.StatusOK

		if len(names) > 0 {
			resp.Checks = make(map[string]string, len(names))
		}
		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := checks[name](ctx)
			cancel()
			if err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}

		_ = utils.RespondWithJSON(w, code, resp)
	}
}
