package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"tenant_gateway/internal/providers"
	"tenant_gateway/internal/providers/providertest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newRegistry(t *testing.T, ps ...providers.Provider) *providers.Registry {
	t.Helper()
	reg, err := providers.NewRegistryFromProviders(providers.RegistryOptions{}, ps...)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	return reg
}

func attemptedProviders(attempts []Attempt) []string {
	out := make([]string, len(attempts))
	for i, a := range attempts {
		out[i] = a.Provider
	}
	return out
}

var simpleRequest = providers.CompletionRequest{
	Model:    "gpt-4o-mini",
	Messages: []providers.Message{{Role: providers.RoleUser, Content: "hi"}},
}

func TestRoute_FirstProviderWins(t *testing.T) {
	a := &providertest.Fake{ProviderName: "a", Reply: "from a"}
	b := &providertest.Fake{ProviderName: "b", Reply: "from b"}
	r := New(newRegistry(t, a, b), Options{AttemptTimeout: time.Second})

	res, err := r.Route(context.Background(), simpleRequest, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "a", res.Provider)
	assert.Equal(t, "from a", res.Response.Content)
	assert.Equal(t, 0, b.Calls())
}

func TestRoute_FallsBackOnFailure(t *testing.T) {
	a := &providertest.Fake{ProviderName: "a", Err: errors.New("upstream 500")}
	b := &providertest.Fake{ProviderName: "b", Reply: "from b"}
	r := New(newRegistry(t, a, b), Options{AttemptTimeout: time.Second})

	res, err := r.Route(context.Background(), simpleRequest, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "b", res.Provider)
	assert.Equal(t, "from b", res.Response.Content)
	if diff := cmp.Diff([]string{"a", "b"}, attemptedProviders(res.Attempts)); diff != "" {
		t.Errorf("attempts mismatch (-want +got):\n%s", diff)
	}
	assert.Error(t, res.Attempts[0].Err)
	assert.NoError(t, res.Attempts[1].Err)
}

func TestRoute_SkipsUnconfigured(t *testing.T) {
	b := &providertest.Fake{ProviderName: "b", Reply: "ok"}
	r := New(newRegistry(t, b), Options{AttemptTimeout: time.Second})

	res, err := r.Route(context.Background(), simpleRequest, []string{"openai", "b", "local"})
	require.NoError(t, err)
	assert.Equal(t, "b", res.Provider)
	assert.Len(t, res.Attempts, 1, "unconfigured providers are not attempts")
}

func TestRoute_AllFail(t *testing.T) {
	a := &providertest.Fake{ProviderName: "a", Err: errors.New("first broke")}
	b := &providertest.Fake{ProviderName: "b", Err: &providers.Error{Provider: "b", StatusCode: 529, Message: "overloaded"}}
	r := New(newRegistry(t, a, b), Options{AttemptTimeout: time.Second})

	_, err := r.Route(context.Background(), simpleRequest, []string{"a", "b", "a"})
	require.Error(t, err)

	var all *AllFailedError
	require.ErrorAs(t, err, &all)
	if diff := cmp.Diff([]string{"a", "b", "a"}, attemptedProviders(all.Attempts)); diff != "" {
		t.Errorf("attempts mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, err.Error(), "last error from a")
	assert.Contains(t, err.Error(), "first broke")

	// Only the last failure is exposed through the chain.
	var perr *providers.Error
	assert.False(t, errors.As(err, &perr))
	assert.Equal(t, 2, a.Calls())
}

func TestRoute_NothingConfigured(t *testing.T) {
	r := New(newRegistry(t), Options{})

	_, err := r.Route(context.Background(), simpleRequest, []string{"openai", "anthropic"})
	var all *AllFailedError
	require.ErrorAs(t, err, &all)
	assert.Empty(t, all.Attempts)
	assert.Equal(t, "all providers failed: no provider configured", err.Error())

	_, err = r.Route(context.Background(), simpleRequest, nil)
	assert.ErrorAs(t, err, &all)
}

func TestRoute_AttemptTimeout(t *testing.T) {
	slow := &providertest.Fake{ProviderName: "slow", Reply: "late", Delay: time.Second}
	fast := &providertest.Fake{ProviderName: "fast", Reply: "quick"}
	r := New(newRegistry(t, slow, fast), Options{AttemptTimeout: 50 * time.Millisecond})

	start := time.Now()
	res, err := r.Route(context.Background(), simpleRequest, []string{"slow", "fast"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, "fast", res.Provider)

	var timeout *providers.TimeoutError
	require.ErrorAs(t, res.Attempts[0].Err, &timeout)
	assert.Equal(t, 50*time.Millisecond, timeout.Timeout)
}

func TestRoute_RawDeadlineIsTyped(t *testing.T) {
	a := &providertest.Fake{ProviderName: "a", Err: context.DeadlineExceeded}
	r := New(newRegistry(t, a), Options{AttemptTimeout: time.Second})

	_, err := r.Route(context.Background(), simpleRequest, []string{"a"})
	var timeout *providers.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "a", timeout.Provider)
}

func TestRoute_CallerCancelledMidAttempt(t *testing.T) {
	slow := &providertest.Fake{ProviderName: "slow", Reply: "eventually", Delay: 5 * time.Second}
	never := &providertest.Fake{ProviderName: "never", Reply: "x"}
	r := New(newRegistry(t, slow, never), Options{AttemptTimeout: 10 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := r.Route(ctx, simpleRequest, []string{"slow", "never"})
	var abandoned *AbandonedError
	require.ErrorAs(t, err, &abandoned)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "slow", abandoned.Provider)

	// The provider sees the cancellation instead of running to its own timeout.
	select {
	case late := <-abandoned.Late:
		assert.ErrorIs(t, late.Err, context.Canceled)
		assert.Nil(t, late.Response)
	case <-time.After(time.Second):
		t.Fatal("provider call was not cancelled with the caller")
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, never.Calls())
}

func TestRoute_CallerDeadlineIsNotAttemptTimeout(t *testing.T) {
	slow := &providertest.Fake{ProviderName: "slow", Reply: "x", Delay: 5 * time.Second}
	r := New(newRegistry(t, slow), Options{AttemptTimeout: 10 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Route(ctx, simpleRequest, []string{"slow"})
	var abandoned *AbandonedError
	require.ErrorAs(t, err, &abandoned)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	late := <-abandoned.Late
	var timeout *providers.TimeoutError
	require.ErrorAs(t, late.Err, &timeout)
	assert.Zero(t, timeout.Timeout, "attempt timeout is not stamped on a caller deadline")
}

func TestRoute_UncancellableProviderStillReportsLate(t *testing.T) {
	slow := &providertest.Fake{ProviderName: "slow", Reply: "eventually", Delay: 100 * time.Millisecond, IgnoreContext: true, PromptTokens: 5, OutputTokens: 7}
	r := New(newRegistry(t, slow), Options{AttemptTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := r.Route(ctx, simpleRequest, []string{"slow"})
	var abandoned *AbandonedError
	require.ErrorAs(t, err, &abandoned)

	late := <-abandoned.Late
	require.NoError(t, late.Err)
	assert.Equal(t, "eventually", late.Response.Content)
	assert.Equal(t, 12, late.Response.TotalTokens())
}

func TestRoute_AlreadyCancelled(t *testing.T) {
	a := &providertest.Fake{ProviderName: "a", Reply: "x"}
	r := New(newRegistry(t, a), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Route(ctx, simpleRequest, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, a.Calls())
}

func TestRoute_SkipUnhealthy(t *testing.T) {
	sick := &providertest.Fake{ProviderName: "sick", Reply: "x", HealthErr: errors.New("401")}
	well := &providertest.Fake{ProviderName: "well", Reply: "ok"}
	unprobed := &providertest.Fake{ProviderName: "unprobed", Reply: "ok"}
	reg := newRegistry(t, sick, well, unprobed)
	require.False(t, reg.Health(context.Background(), "sick"))

	r := New(reg, Options{AttemptTimeout: time.Second, SkipUnhealthy: true})
	res, err := r.Route(context.Background(), simpleRequest, []string{"sick", "unprobed", "well"})
	require.NoError(t, err)
	assert.Equal(t, "unprobed", res.Provider)
	assert.Equal(t, 0, sick.Calls())

	// Health is advisory unless asked for.
	r = New(reg, Options{AttemptTimeout: time.Second})
	res, err = r.Route(context.Background(), simpleRequest, []string{"sick", "well"})
	require.NoError(t, err)
	assert.Equal(t, "sick", res.Provider)
}

func TestRoute_SkipsProviderMarkedByHealthChecker(t *testing.T) {
	sick := &providertest.Fake{ProviderName: "sick", Reply: "x", HealthErr: errors.New("connection refused")}
	well := &providertest.Fake{ProviderName: "well", Reply: "ok"}
	reg, err := providers.NewRegistryFromProviders(providers.RegistryOptions{HealthTTL: time.Minute}, sick, well)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	checker := providers.NewHealthChecker(reg, 20*time.Millisecond)
	checker.Start(context.Background())
	t.Cleanup(checker.Stop)

	require.Eventually(t, func() bool {
		healthy, known := reg.CachedHealth("sick")
		return known && !healthy
	}, time.Second, 5*time.Millisecond)

	r := New(reg, Options{AttemptTimeout: time.Second, SkipUnhealthy: true})
	res, err := r.Route(context.Background(), simpleRequest, []string{"sick", "well"})
	require.NoError(t, err)
	assert.Equal(t, "well", res.Provider)
	assert.Equal(t, 0, sick.Calls())
}
