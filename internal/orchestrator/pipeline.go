// Package orchestrator runs a completion request through admission, the
// response cache, provider fallback and accounting.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tenant_gateway/internal/accounting"
	"tenant_gateway/internal/billing"
	"tenant_gateway/internal/cache"
	"tenant_gateway/internal/fingerprint"
	"tenant_gateway/internal/metrics"
	"tenant_gateway/internal/models"
	"tenant_gateway/internal/providers"
	"tenant_gateway/internal/ratelimit"
	"tenant_gateway/internal/router"
	"tenant_gateway/internal/tenant"
	"tenant_gateway/internal/utils"
)

const (
	defaultCacheTTL          = time.Hour
	defaultCacheWriteTimeout = 2 * time.Second

	orphanDetail = "caller cancelled; result discarded"
)

// Metrics receives pipeline events. Implementations must not block.
type Metrics interface {
	RequestStarted() func()
	RequestCompleted(tenantID, provider, status string, duration time.Duration, promptTokens, completionTokens int, costUSD float64)
	CacheHit(tenantID string)
	QuotaRejected(tenantID string)
	ProviderAttempt(provider, outcome string, duration time.Duration)
}

// SpendRecorder adds a run's cost to the tenant's monthly spend.
type SpendRecorder interface {
	Charge(ctx context.Context, tenantID string, costUSD float64) error
}

// Router is the fallback router as seen by the pipeline.
type Router interface {
	Route(ctx context.Context, req providers.CompletionRequest, order []string) (*router.Result, error)
}

// Deps are the pipeline's collaborators. Directory, Router, Registry and
// Accounting are required; everything else has a no-op default.
type Deps struct {
	Directory  tenant.Directory
	Limiter    ratelimit.Limiter
	Budget     billing.Tracker
	Spend      SpendRecorder
	Cache      cache.ResponseCache
	Router     Router
	Registry   *providers.Registry
	Accounting accounting.Recorder
	Metrics    Metrics
	Logger     *utils.Logger
}

// Options tune the pipeline.
type Options struct {
	// Order is the provider fallback order.
	Order []string

	// CacheEnabled turns the cache stage on. When off the cache is never
	// consulted nor written.
	CacheEnabled      bool
	CacheTTL          time.Duration
	CacheWriteTimeout time.Duration

	// Observer, when set, is called once per run with the stages it went through.
	Observer func(requestID string, stages []Stage)
}

// Pipeline is the single request entry point.
type Pipeline struct {
	directory  tenant.Directory
	limiter    ratelimit.Limiter
	budget     billing.Tracker
	spend      SpendRecorder
	cache      cache.ResponseCache
	router     Router
	registry   *providers.Registry
	accounting accounting.Recorder
	metrics    Metrics
	logger     *utils.Logger
	opts       Options
	now        func() time.Time

	// background tracks cache writes and orphaned attempts.
	background sync.WaitGroup
}

// New validates deps and builds a pipeline.
func New(deps Deps, opts Options) (*Pipeline, error) {
	switch {
	case deps.Directory == nil:
		return nil, errors.New("orchestrator: tenant directory is required")
	case deps.Router == nil:
		return nil, errors.New("orchestrator: router is required")
	case deps.Registry == nil:
		return nil, errors.New("orchestrator: provider registry is required")
	case deps.Accounting == nil:
		return nil, errors.New("orchestrator: accounting sink is required")
	}

	if deps.Limiter == nil {
		deps.Limiter = ratelimit.NewNoopLimiter()
	}
	if deps.Budget == nil {
		deps.Budget = billing.NewNoopTracker()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = utils.NewLogger("orchestrator")
	}
	if deps.Cache == nil {
		opts.CacheEnabled = false
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.CacheWriteTimeout <= 0 {
		opts.CacheWriteTimeout = defaultCacheWriteTimeout
	}

	return &Pipeline{
		directory:  deps.Directory,
		limiter:    deps.Limiter,
		budget:     deps.Budget,
		spend:      deps.Spend,
		cache:      deps.Cache,
		router:     deps.Router,
		registry:   deps.Registry,
		accounting: deps.Accounting,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		opts:       opts,
		now:        time.Now,
	}, nil
}

// run carries per-request state through the stages.
type run struct {
	req    Request
	start  time.Time
	tenant *models.Tenant
	quota  ratelimit.Decision
	key    string
	stages []Stage
}

func (r *run) enter(s Stage) {
	r.stages = append(r.stages, s)
}

func (r *run) tenantID() string {
	if r.tenant == nil {
		return ""
	}
	return r.tenant.ID.String()
}

// Handle runs req to completion. Errors are one of the package sentinels or
// typed errors; accounting and cache failures never surface here.
func (p *Pipeline) Handle(ctx context.Context, req Request) (*Outcome, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	r := &run{req: req, start: p.now()}
	defer p.metrics.RequestStarted()()
	defer func() {
		if p.opts.Observer != nil {
			p.opts.Observer(req.RequestID, r.stages)
		}
	}()

	if err := p.admit(ctx, r); err != nil {
		r.enter(StageError)
		return nil, err
	}

	if p.opts.CacheEnabled {
		r.enter(StageCacheCheck)
		if out, ok := p.lookupCache(ctx, r); ok {
			return out, nil
		}
	}

	return p.route(ctx, r)
}

// Wait blocks until background cache writes and orphaned attempts finish.
func (p *Pipeline) Wait() {
	p.background.Wait()
}

func (p *Pipeline) admit(ctx context.Context, r *run) error {
	r.enter(StageAdmitting)

	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}
	if err := r.req.Validate(); err != nil {
		p.metrics.RequestCompleted("", "", "invalid", p.since(r), 0, 0, 0)
		return err
	}
	if r.req.Credential == "" {
		p.metrics.RequestCompleted("", "", "unauthenticated", p.since(r), 0, 0, 0)
		return ErrUnauthenticated
	}

	t, err := p.directory.LookupByCredential(ctx, r.req.Credential)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			p.logger.Debug("Rejected credential", "request_id", r.req.RequestID)
			p.metrics.RequestCompleted("", "", "unauthenticated", p.since(r), 0, 0, 0)
			return ErrUnauthenticated
		}
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}
		return fmt.Errorf("tenant lookup: %w", err)
	}
	r.tenant = t
	tenantID := r.tenantID()

	if t.HasBudget() && !p.budget.WithinBudget(ctx, tenantID, t.MonthlyBudgetUSD) {
		p.logger.Info("Monthly budget exhausted", "tenant_id", tenantID, "request_id", r.req.RequestID)
		p.metrics.RequestCompleted(tenantID, "", "budget_exceeded", p.since(r), 0, 0, 0)
		return ErrBudgetExceeded
	}

	decision, err := p.limiter.Admit(ctx, tenantID, t.RateLimitPerMinute)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}
		p.logger.Warn("Quota store unavailable, admitting request", "tenant_id", tenantID, "error", err)
		decision = ratelimit.Decision{Allowed: true, Remaining: -1}
	}
	if !decision.Allowed {
		p.metrics.QuotaRejected(tenantID)
		return &QuotaExceededError{Limit: t.RateLimitPerMinute, RetryAfter: decision.RetryAfter}
	}
	r.quota = decision
	return nil
}

// lookupCache reports a finished outcome on a hit. Store errors count as a miss.
// A hit's reported latency is the lookup alone; admission time is not part of
// serving it.
func (p *Pipeline) lookupCache(ctx context.Context, r *run) (*Outcome, bool) {
	lookupStart := p.now()
	r.key = fingerprint.Generate(r.tenantID(), r.req.Model, r.req.Messages)

	entry, hit, err := p.cache.Get(ctx, r.key)
	if err != nil {
		p.logger.Warn("Cache lookup failed, treating as miss", "tenant_id", r.tenantID(), "error", err)
		return nil, false
	}
	if !hit {
		return nil, false
	}

	r.enter(StageAccounting)
	latency := p.now().Sub(lookupStart)
	p.accounting.Record(ctx, accounting.Entry{
		RequestID: r.req.RequestID,
		TenantID:  r.tenant.ID,
		Provider:  entry.Provider,
		Model:     entry.Model,
		Latency:   latency,
		Status:    models.StatusCached,
	})
	p.metrics.CacheHit(r.tenantID())
	p.metrics.RequestCompleted(r.tenantID(), entry.Provider, string(models.StatusCached), p.since(r), 0, 0, 0)
	r.enter(StageDone)

	return &Outcome{
		Cached:             true,
		Content:            entry.Content,
		Model:              entry.Model,
		Provider:           entry.Provider,
		LatencyMS:          latency.Milliseconds(),
		RateLimitRemaining: r.quota.Remaining,
		RequestID:          r.req.RequestID,
	}, true
}

func (p *Pipeline) route(ctx context.Context, r *run) (*Outcome, error) {
	r.enter(StageRouting)

	creq := providers.CompletionRequest{
		Model:       r.req.Model,
		Messages:    r.req.Messages,
		Temperature: r.req.Temperature,
		MaxTokens:   r.req.MaxTokens,
	}
	result, err := p.router.Route(ctx, creq, p.opts.Order)
	if err != nil {
		return nil, p.routeFailed(ctx, r, err)
	}
	p.observeAttempts(result.Attempts)

	resp := result.Response
	cost := p.cost(result.Provider, resp)
	model := resp.Model
	if model == "" {
		model = r.req.Model
	}

	if p.opts.CacheEnabled {
		p.writeCache(ctx, r.key, cache.Entry{Content: resp.Content, Model: model, Provider: result.Provider})
	}

	r.enter(StageAccounting)
	latency := p.since(r)
	record := p.accounting.Record(ctx, accounting.Entry{
		RequestID:        r.req.RequestID,
		TenantID:         r.tenant.ID,
		Provider:         result.Provider,
		Model:            model,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		CostUSD:          cost,
		Latency:          latency,
		Status:           models.StatusSuccess,
	})
	p.charge(ctx, r.tenantID(), record.CostUSD)
	p.metrics.RequestCompleted(r.tenantID(), result.Provider, string(models.StatusSuccess), latency,
		record.PromptTokens, record.CompletionTokens, record.CostUSD)
	r.enter(StageDone)

	return &Outcome{
		Content:            resp.Content,
		Model:              model,
		Provider:           result.Provider,
		PromptTokens:       record.PromptTokens,
		CompletionTokens:   record.CompletionTokens,
		TotalTokens:        record.TotalTokens,
		CostUSD:            record.CostUSD,
		LatencyMS:          latency.Milliseconds(),
		RateLimitRemaining: r.quota.Remaining,
		RequestID:          r.req.RequestID,
	}, nil
}

func (p *Pipeline) routeFailed(ctx context.Context, r *run, err error) error {
	var abandoned *router.AbandonedError
	if errors.As(err, &abandoned) {
		p.observeAttempts(abandoned.Attempts)
		p.background.Add(1)
		go p.settleOrphan(ctx, r, abandoned.Late)
		r.enter(StageError)
		return cancelled(abandoned.Cause)
	}

	var failed *router.AllFailedError
	if !errors.As(err, &failed) {
		// Route only returns anything else when the caller left before the
		// first attempt; nothing was sent upstream.
		r.enter(StageError)
		return cancelled(err)
	}
	p.observeAttempts(failed.Attempts)

	provider := ""
	if n := len(failed.Attempts); n > 0 {
		provider = failed.Attempts[n-1].Provider
	}

	r.enter(StageAccounting)
	latency := p.since(r)
	p.accounting.Record(ctx, accounting.Entry{
		RequestID: r.req.RequestID,
		TenantID:  r.tenant.ID,
		Provider:  provider,
		Model:     r.req.Model,
		Latency:   latency,
		Status:    models.StatusError,
		Error:     failed.Error(),
	})
	p.metrics.RequestCompleted(r.tenantID(), provider, string(models.StatusError), latency, 0, 0, 0)
	r.enter(StageError)

	p.logger.Error("All providers failed",
		"tenant_id", r.tenantID(),
		"request_id", r.req.RequestID,
		"attempts", len(failed.Attempts),
		"error", failed)
	return &AllProvidersFailedError{Err: failed}
}

// settleOrphan accounts an attempt the caller stopped waiting for. The
// upstream may still have charged for it, so a success is recorded and billed
// even though nobody will read the content.
func (p *Pipeline) settleOrphan(ctx context.Context, r *run, late <-chan router.LateResult) {
	defer p.background.Done()
	ctx = context.WithoutCancel(ctx)

	res := <-late
	latency := p.since(r)
	entry := accounting.Entry{
		RequestID: r.req.RequestID,
		TenantID:  r.tenant.ID,
		Provider:  res.Provider,
		Model:     r.req.Model,
		Latency:   latency,
	}

	if res.Err != nil || res.Response == nil {
		p.metrics.ProviderAttempt(res.Provider, attemptOutcome(res.Err), latency)
		entry.Status = models.StatusError
		entry.Error = "caller cancelled"
		if res.Err != nil {
			entry.Error = fmt.Sprintf("caller cancelled; %v", res.Err)
		}
		p.accounting.Record(ctx, entry)
		p.metrics.RequestCompleted(r.tenantID(), res.Provider, string(models.StatusError), latency, 0, 0, 0)
		return
	}

	p.metrics.ProviderAttempt(res.Provider, attemptOutcome(nil), latency)
	if res.Response.Model != "" {
		entry.Model = res.Response.Model
	}
	entry.PromptTokens = res.Response.PromptTokens
	entry.CompletionTokens = res.Response.CompletionTokens
	entry.CostUSD = p.cost(res.Provider, res.Response)
	entry.Status = models.StatusSuccess
	entry.Error = orphanDetail

	record := p.accounting.Record(ctx, entry)
	p.charge(ctx, r.tenantID(), record.CostUSD)
	p.metrics.RequestCompleted(r.tenantID(), res.Provider, string(models.StatusSuccess), latency,
		record.PromptTokens, record.CompletionTokens, record.CostUSD)
	p.logger.Info("Accounted orphaned provider result",
		"tenant_id", r.tenantID(),
		"request_id", r.req.RequestID,
		"provider", res.Provider,
		"cost_usd", record.CostUSD)
}

// writeCache stores a successful completion without holding up the response.
func (p *Pipeline) writeCache(ctx context.Context, key string, entry cache.Entry) {
	p.background.Add(1)
	go func() {
		defer p.background.Done()
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.CacheWriteTimeout)
		defer cancel()

		if err := p.cache.Put(writeCtx, key, entry, p.opts.CacheTTL); err != nil {
			p.logger.Warn("Cache write failed", "provider", entry.Provider, "error", err)
		}
	}()
}

func (p *Pipeline) charge(ctx context.Context, tenantID string, costUSD float64) {
	if p.spend == nil || costUSD <= 0 {
		return
	}
	if err := p.spend.Charge(context.WithoutCancel(ctx), tenantID, costUSD); err != nil {
		p.logger.Warn("Failed to record spend", "tenant_id", tenantID, "cost_usd", costUSD, "error", err)
	}
}

// cost prices resp with the answering provider's formula.
func (p *Pipeline) cost(name string, resp *providers.CompletionResponse) float64 {
	provider, err := p.registry.Resolve(name)
	if err != nil {
		p.logger.Warn("Cannot price response from unknown provider", "provider", name)
		return 0
	}
	return provider.Cost(resp.PromptTokens, resp.CompletionTokens)
}

func (p *Pipeline) observeAttempts(attempts []router.Attempt) {
	for _, a := range attempts {
		p.metrics.ProviderAttempt(a.Provider, attemptOutcome(a.Err), a.Duration)
	}
}

func (p *Pipeline) since(r *run) time.Duration {
	return p.now().Sub(r.start)
}

func attemptOutcome(err error) string {
	var timeout *providers.TimeoutError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &timeout):
		return "timeout"
	default:
		return "error"
	}
}
