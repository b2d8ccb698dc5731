package providers

import (
	"context"
	"sync"
	"time"

	"tenant_gateway/internal/utils"
)

// HealthChecker keeps the registry's cached health warm by probing every
// provider on an interval, so routing can skip unhealthy providers without
// probing on the request path.
type HealthChecker struct {
	registry *Registry
	interval time.Duration
	logger   *utils.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewHealthChecker creates a checker. A non-positive interval defaults to
// half the registry's health TTL so results never lapse between rounds.
func NewHealthChecker(registry *Registry, interval time.Duration) *HealthChecker {
	if interval <= 0 {
		interval = registry.HealthTTL() / 2
	}
	return &HealthChecker{
		registry: registry,
		interval: interval,
		logger:   utils.NewLogger("health"),
		done:     make(chan struct{}),
	}
}

// Start probes once immediately, then on every tick until Stop.
func (c *HealthChecker) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	if c.interval >= c.registry.HealthTTL() {
		c.logger.Warn("Health interval is not shorter than the health TTL; results will lapse between rounds",
			"interval", c.interval, "ttl", c.registry.HealthTTL())
	}
	c.logger.Info("Health checker started", "interval", c.interval, "providers", c.registry.Names())

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.registry.Refresh(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.registry.Refresh(ctx)
			}
		}
	}()
}

// Stop cancels any probe in flight and waits for the loop to exit. It is safe
// to call more than once, and before Start.
func (c *HealthChecker) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel == nil {
			close(c.done)
			return
		}
		c.cancel()
	})
	<-c.done
	c.logger.Debug("Health checker stopped")
}
