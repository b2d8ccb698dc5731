package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"tenant_gateway/internal/middleware"
	"tenant_gateway/internal/models"
	"tenant_gateway/internal/tenant"
	"tenant_gateway/internal/utils"
)

const (
	defaultUsageDays = 30
	maxUsageDays     = 366
)

// TenantManager provisions and looks up tenants
type TenantManager interface {
	Create(ctx context.Context, req tenant.CreateRequest) (*models.Tenant, string, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
}

// UsageReporter aggregates request records per provider
type UsageReporter interface {
	UsageByProvider(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]models.ProviderUsage, error)
}

// AdminTenantsHandler handles tenant management endpoints
type AdminTenantsHandler struct {
	tenants TenantManager
	usage   UsageReporter
	logger  *utils.Logger
	now     func() time.Time
}

// NewAdminTenantsHandler creates a new admin tenants handler
func NewAdminTenantsHandler(tenants TenantManager, usage UsageReporter) *AdminTenantsHandler {
	return &AdminTenantsHandler{
		tenants: tenants,
		usage:   usage,
		logger:  utils.NewLogger("admin-tenants"),
		now:     time.Now,
	}
}

// CreateTenantRequest represents the request to create a new tenant
type CreateTenantRequest struct {
	Name          string   `json:"name"`
	RateLimit     int      `json:"rate_limit"`
	MonthlyBudget *float64 `json:"monthly_budget,omitempty"`
}

// TenantCreatedResponse is the only response that carries the plaintext key
type TenantCreatedResponse struct {
	*models.Tenant
	APIKey string `json:"api_key"`
}

// UsageResponse is a tenant's usage over the last Days days
type UsageResponse struct {
	TenantID  string                 `json:"tenant_id"`
	Days      int                    `json:"days"`
	Since     time.Time              `json:"since"`
	Providers []models.ProviderUsage `json:"providers"`
	Totals    models.ProviderUsage   `json:"totals"`
}

// Create handles POST /admin/tenants - Create new tenant
func (h *AdminTenantsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	t, key, err := h.tenants.Create(r.Context(), tenant.CreateRequest{
		Name:             req.Name,
		RateLimit:        req.RateLimit,
		MonthlyBudgetUSD: req.MonthlyBudget,
	})
	if err != nil {
		if errors.Is(err, tenant.ErrInvalidTenant) {
			utils.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("Failed to create tenant", "name", req.Name, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to create tenant")
		return
	}

	subject, _ := middleware.GetAdminSubject(r.Context())
	h.logger.Info("Tenant created", "tenant_id", t.ID, "name", t.Name, "by", subject)

	_ = utils.RespondWithJSON(w, http.StatusCreated, &TenantCreatedResponse{Tenant: t, APIKey: key})
}

// Usage handles GET /admin/tenants/{id}/usage?days=N
func (h *AdminTenantsHandler) Usage(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid tenant ID")
		return
	}

	days := defaultUsageDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil || days < 1 || days > maxUsageDays {
			utils.RespondWithError(w, http.StatusBadRequest, "days must be between 1 and 366")
			return
		}
	}

	if _, err := h.tenants.Get(r.Context(), id); err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Tenant not found")
			return
		}
		h.logger.Error("Failed to load tenant", "tenant_id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to load tenant")
		return
	}

	since := h.now().UTC().AddDate(0, 0, -days)
	rows, err := h.usage.UsageByProvider(r.Context(), id, since)
	if err != nil {
		h.logger.Error("Failed to aggregate usage", "tenant_id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to aggregate usage")
		return
	}
	if rows == nil {
		rows = []models.ProviderUsage{}
	}

	_ = utils.RespondWithJSON(w, http.StatusOK, &UsageResponse{
		TenantID:  id.String(),
		Days:      days,
		Since:     since,
		Providers: rows,
		Totals:    sumUsage(rows),
	})
}

// sumUsage folds per-provider rows into one; the average latency is weighted
// by request count.
func sumUsage(rows []models.ProviderUsage) models.ProviderUsage {
	total := models.ProviderUsage{Provider: "all"}
	var latencySum float64
	for _, row := range rows {
		total.Requests += row.Requests
		total.Tokens += row.Tokens
		total.CostUSD += row.CostUSD
		latencySum += row.AvgLatencyMS * float64(row.Requests)
	}
	if total.Requests > 0 {
		total.AvgLatencyMS = latencySum / float64(total.Requests)
	}
	return total
}
