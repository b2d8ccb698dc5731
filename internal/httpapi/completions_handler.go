package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"tenant_gateway/internal/middleware"
	"tenant_gateway/internal/orchestrator"
	"tenant_gateway/internal/providers"
	"tenant_gateway/internal/utils"
)

const (
	maxRequestBody = 1 << 20

	// StatusClientClosedRequest is reported when the caller went away before
	// an answer was ready. Nobody reads it; it shows up in access logs.
	StatusClientClosedRequest = 499
)

// Completer runs a completion request through the gateway pipeline.
type Completer interface {
	Handle(ctx context.Context, req orchestrator.Request) (*orchestrator.Outcome, error)
}

// CompletionRequest is the JSON body of POST /v1/completions
type CompletionRequest struct {
	Model       string              `json:"model"`
	Messages    []providers.Message `json:"messages"`
	Temperature *float64            `json:"temperature,omitempty"`
	MaxTokens   *int                `json:"max_tokens,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
}

// CompletionsHandler serves the tenant-facing completion endpoint
type CompletionsHandler struct {
	pipeline Completer
	logger   *utils.Logger
}

// NewCompletionsHandler creates a new completions handler
func NewCompletionsHandler(pipeline Completer) *CompletionsHandler {
	return &CompletionsHandler{
		pipeline: pipeline,
		logger:   utils.NewLogger("httpapi"),
	}
}

// ServeHTTP handles POST /v1/completions and /v1/chat/completions
func (h *CompletionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body CompletionRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(&body); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	credential, _ := middleware.GetCredential(r.Context())
	requestID, _ := middleware.GetRequestID(r.Context())

	req := orchestrator.Request{
		Credential:  credential,
		Model:       body.Model,
		Messages:    body.Messages,
		Temperature: orchestrator.DefaultTemperature,
		MaxTokens:   orchestrator.DefaultMaxTokens,
		Stream:      body.Stream,
		RequestID:   requestID,
	}
	if body.Temperature != nil {
		req.Temperature = *body.Temperature
	}
	if body.MaxTokens != nil {
		req.MaxTokens = *body.MaxTokens
	}

	outcome, err := h.pipeline.Handle(r.Context(), req)
	if err != nil {
		h.respondWithPipelineError(w, err)
		return
	}

	w.Header().Set(middleware.RequestIDHeader, outcome.RequestID)
	if outcome.RateLimitRemaining >= 0 {
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(outcome.RateLimitRemaining))
	}
	if err := utils.RespondWithJSON(w, http.StatusOK, outcome); err != nil {
		h.logger.Debug("Failed to write completion response", "request_id", outcome.RequestID, "error", err)
	}
}

// respondWithPipelineError maps pipeline errors onto HTTP statuses. Unknown,
// missing and inactive credentials get the same 401 body.
func (h *CompletionsHandler) respondWithPipelineError(w http.ResponseWriter, err error) {
	var quotaErr *orchestrator.QuotaExceededError

	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrUnauthenticated):
		utils.RespondWithError(w, http.StatusUnauthorized, orchestrator.ErrUnauthenticated.Error())
	case errors.Is(err, orchestrator.ErrBudgetExceeded):
		utils.RespondWithError(w, http.StatusPaymentRequired, orchestrator.ErrBudgetExceeded.Error())
	case errors.As(err, &quotaErr):
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(quotaErr.RetryAfter.Seconds()))))
		utils.RespondWithError(w, http.StatusTooManyRequests, quotaErr.Error())
	case errors.Is(err, orchestrator.ErrAllProvidersFailed):
		utils.RespondWithError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, orchestrator.ErrCancelled):
		utils.RespondWithError(w, StatusClientClosedRequest, orchestrator.ErrCancelled.Error())
	default:
		h.logger.Error("Completion failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
	}
}
