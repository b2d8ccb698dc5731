package httpapi

import (
	"context"
	"net/http"

	"tenant_gateway/internal/providers"
	"tenant_gateway/internal/utils"
)

// ProviderLister reports configured providers with their health
type ProviderLister interface {
	Descriptors(ctx context.Context, order []string) []providers.Descriptor
}

// AdminProvidersHandler handles provider inspection endpoints
type AdminProvidersHandler struct {
	registry ProviderLister
	order    []string
}

// NewAdminProvidersHandler creates a handler listing providers in fallback order
func NewAdminProvidersHandler(registry ProviderLister, order []string) *AdminProvidersHandler {
	return &AdminProvidersHandler{
		registry: registry,
		order:    order,
	}
}

// ProvidersResponse lists providers in the order they are tried
type ProvidersResponse struct {
	Providers []providers.Descriptor `json:"providers"`
	Order     []string               `json:"fallback_order"`
}

// List handles GET /admin/providers
func (h *AdminProvidersHandler) List(w http.ResponseWriter, r *http.Request) {
	descriptors := h.registry.Descriptors(r.Context(), h.order)
	if descriptors == nil {
		descriptors = []providers.Descriptor{}
	}
	order := h.order
	if order == nil {
		order = []string{}
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, &ProvidersResponse{Providers: descriptors, Order: order})
}
