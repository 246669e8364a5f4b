package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/oropendola/gateway/internal/admission"
	"github.com/oropendola/gateway/internal/backends"
	"github.com/oropendola/gateway/internal/cache"
	"github.com/oropendola/gateway/internal/credentials"
	"github.com/oropendola/gateway/internal/models"
	"github.com/oropendola/gateway/internal/smart"
	"github.com/oropendola/gateway/internal/usage"
)

type fakeResolver struct {
	subCtx *credentials.SubscriptionContext
	err    error
}

func (f *fakeResolver) Resolve(_ context.Context, _ string) (*credentials.SubscriptionContext, error) {
	if f.err != nil {
		return nil, f.err
	}
	clone := *f.subCtx
	return &clone, nil
}

type fakeAdmitter struct {
	decision  admission.Decision
	costUnits int
}

func (f *fakeAdmitter) Admit(_ context.Context, _ admission.Subject, costUnits int) admission.Decision {
	f.costUnits = costUnits
	return f.decision
}

func allowAll() *fakeAdmitter {
	return &fakeAdmitter{decision: admission.Decision{Kind: admission.KindAllowed, QuotaRemaining: 42}}
}

type stubCaller struct {
	mu      sync.Mutex
	failing map[string]bool
	calls   []string
}

func (s *stubCaller) Call(_ context.Context, profile *models.ModelProfile, _ map[string]any) (CallResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, profile.ModelName)
	if s.failing[profile.ModelName] {
		return CallResult{}, errors.New("upstream unavailable")
	}
	return CallResult{StatusCode: http.StatusOK, Body: json.RawMessage(`{"choices":[]}`)}, nil
}

func (s *stubCaller) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

type captureSink struct {
	mu      sync.Mutex
	entries []usage.Entry
}

func (c *captureSink) Record(_ context.Context, entry usage.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *captureSink) Entries() []usage.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]usage.Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// WaitEntries polls until n entries have arrived; records are handed to the
// sink from a goroutine, so arrival lags the Route return.
func (c *captureSink) WaitEntries(t *testing.T, n int) []usage.Entry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		entries := c.Entries()
		if len(entries) >= n {
			return entries
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d usage entries, have %d", n, len(entries))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// slowSink simulates a stalled persistence layer.
type slowSink struct {
	delay    time.Duration
	recorded chan usage.Entry
}

func (s *slowSink) Record(_ context.Context, entry usage.Entry) {
	time.Sleep(s.delay)
	s.recorded <- entry
}

func testSubCtx() *credentials.SubscriptionContext {
	return &credentials.SubscriptionContext{
		SubscriptionID:         1,
		KeyPrefix:              "gw_test",
		PriorityScore:          5,
		DailyQuotaLimit:        100,
		RateLimitPerSec:        10,
		AllowedModels:          []string{"DeepSeek", "Claude"},
		CostWeights:            map[string]float64{"DeepSeek": 10, "Claude": 10},
		Status:                 models.SubscriptionStatusActive,
		DefaultMode:            "auto",
		SmartRoutingEnabled:    true,
		SessionAffinityEnabled: true,
		SessionTTLSeconds:      3600,
		CorrelationThreshold:   0.7,
	}
}

func testRegistry() *backends.Registry {
	registry := backends.NewRegistry(nil, nil)
	registry.Store([]models.ModelProfile{
		{
			ModelName: "DeepSeek", EndpointURL: "http://deepseek.local",
			HealthStatus: models.HealthUp, CapacityScore: 100,
			CostPerUnit: 0.001, AvgLatencyMs: 100, SuccessRate: 100,
			IsActive: true, TimeoutSeconds: 30,
		},
		{
			ModelName: "Claude", EndpointURL: "http://claude.local",
			HealthStatus: models.HealthUp, CapacityScore: 100,
			CostPerUnit: 0.015, AvgLatencyMs: 200, SuccessRate: 100,
			IsActive: true, TimeoutSeconds: 30,
		},
	})
	return registry
}

func payloadWith(prompt string) map[string]any {
	return map[string]any{
		"messages": []any{
			map[string]any{"role": "user", "content": prompt},
		},
	}
}

type routerFixture struct {
	router   *Router
	resolver *fakeResolver
	admitter *fakeAdmitter
	caller   *stubCaller
	sink     *captureSink
	registry *backends.Registry
}

func newFixture() *routerFixture {
	resolver := &fakeResolver{subCtx: testSubCtx()}
	admitter := allowAll()
	caller := &stubCaller{failing: make(map[string]bool)}
	sink := &captureSink{}
	registry := testRegistry()
	affinity := smart.NewAffinity(cache.NewMemory(nil))
	return &routerFixture{
		router:   NewRouter(resolver, admitter, registry, affinity, caller, sink, nil),
		resolver: resolver,
		admitter: admitter,
		caller:   caller,
		sink:     sink,
		registry: registry,
	}
}

func TestRouteSuccessPicksBestScorer(t *testing.T) {
	fx := newFixture()

	resp := fx.router.Route(context.Background(), Request{
		APIKey:  "gw_test_key",
		Payload: payloadWith("What is the capital of France?"),
	})

	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d, want 200 (reason %q)", resp.Status, resp.Reason)
	}
	if resp.Model != "DeepSeek" {
		t.Fatalf("model = %q, want DeepSeek for a simple prompt in auto mode", resp.Model)
	}
	if resp.Complexity != smart.ComplexitySimple {
		t.Fatalf("complexity = %q, want simple", resp.Complexity)
	}
	if resp.Fallback {
		t.Fatalf("fallback = true on primary success")
	}
	if resp.QuotaRemaining != 42 {
		t.Fatalf("quota remaining = %d, want 42", resp.QuotaRemaining)
	}

	entries := fx.sink.WaitEntries(t, 1)
	if len(entries) != 1 {
		t.Fatalf("usage entries = %d, want 1", len(entries))
	}
	if !entries[0].Success || entries[0].Model != "DeepSeek" || entries[0].Fallback {
		t.Fatalf("unexpected usage entry: %+v", entries[0])
	}
}

func TestRouteCostUnitsForwardedToAdmission(t *testing.T) {
	fx := newFixture()
	payload := payloadWith("hello there")
	payload["cost_units"] = float64(3)

	resp := fx.router.Route(context.Background(), Request{APIKey: "k", Payload: payload})
	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Status)
	}
	if fx.admitter.costUnits != 3 {
		t.Fatalf("admitted cost units = %d, want 3", fx.admitter.costUnits)
	}
}

func TestRouteInvalidPayload(t *testing.T) {
	fx := newFixture()

	resp := fx.router.Route(context.Background(), Request{APIKey: "k", Payload: map[string]any{}})
	if resp.Status != http.StatusBadRequest || resp.Reason != ReasonInvalidRequest {
		t.Fatalf("got %d/%q, want 400/%q", resp.Status, resp.Reason, ReasonInvalidRequest)
	}
	if len(fx.caller.Calls()) != 0 {
		t.Fatalf("caller invoked for invalid payload")
	}
}

func TestRouteUnauthorized(t *testing.T) {
	fx := newFixture()
	fx.resolver.err = credentials.ErrUnauthorized

	resp := fx.router.Route(context.Background(), Request{APIKey: "bad", Payload: payloadWith("hi there friend")})
	if resp.Status != http.StatusUnauthorized || resp.Reason != ReasonUnauthorized {
		t.Fatalf("got %d/%q, want 401/%q", resp.Status, resp.Reason, ReasonUnauthorized)
	}
}

func TestRouteQuotaExceeded(t *testing.T) {
	fx := newFixture()
	fx.admitter.decision = admission.Decision{
		Kind:           admission.KindQuotaExceeded,
		QuotaRemaining: 0,
		RetryAfter:     3 * time.Hour,
	}

	resp := fx.router.Route(context.Background(), Request{APIKey: "k", Payload: payloadWith("hi there friend")})
	if resp.Status != http.StatusTooManyRequests || resp.Reason != ReasonQuotaExceeded {
		t.Fatalf("got %d/%q, want 429/%q", resp.Status, resp.Reason, ReasonQuotaExceeded)
	}
	if resp.RetryAfter != 3*time.Hour {
		t.Fatalf("retry after = %v, want 3h", resp.RetryAfter)
	}
	if len(fx.caller.Calls()) != 0 {
		t.Fatalf("caller invoked for quota-rejected request")
	}
}

func TestRouteRateLimited(t *testing.T) {
	fx := newFixture()
	fx.admitter.decision = admission.Decision{
		Kind:           admission.KindRateLimited,
		QuotaRemaining: 10,
		RetryAfter:     time.Second,
	}

	resp := fx.router.Route(context.Background(), Request{APIKey: "k", Payload: payloadWith("hi there friend")})
	if resp.Status != http.StatusTooManyRequests || resp.Reason != ReasonRateLimited {
		t.Fatalf("got %d/%q, want 429/%q", resp.Status, resp.Reason, ReasonRateLimited)
	}
	if resp.RetryAfter != time.Second {
		t.Fatalf("retry after = %v, want 1s", resp.RetryAfter)
	}
}

func TestRouteFallbackToNextAllowed(t *testing.T) {
	fx := newFixture()
	fx.caller.failing["DeepSeek"] = true

	resp := fx.router.Route(context.Background(), Request{
		APIKey:  "k",
		Payload: payloadWith("What is the capital of France?"),
	})

	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d, want 200 after fallback", resp.Status)
	}
	if resp.Model != "Claude" || !resp.Fallback {
		t.Fatalf("got model=%q fallback=%v, want Claude via fallback", resp.Model, resp.Fallback)
	}

	calls := fx.caller.Calls()
	if len(calls) != 2 || calls[0] != "DeepSeek" || calls[1] != "Claude" {
		t.Fatalf("call order = %v, want [DeepSeek Claude]", calls)
	}

	entries := fx.sink.WaitEntries(t, 1)
	if len(entries) != 1 {
		t.Fatalf("usage entries = %d, want exactly 1 for fallback success", len(entries))
	}
	if !entries[0].Success || !entries[0].Fallback || entries[0].Model != "Claude" {
		t.Fatalf("unexpected usage entry: %+v", entries[0])
	}
}

func TestRouteAllModelsFailed(t *testing.T) {
	fx := newFixture()
	fx.caller.failing["DeepSeek"] = true
	fx.caller.failing["Claude"] = true

	resp := fx.router.Route(context.Background(), Request{
		APIKey:  "k",
		Payload: payloadWith("What is the capital of France?"),
	})

	if resp.Status != http.StatusServiceUnavailable || resp.Reason != ReasonAllModelsFailed {
		t.Fatalf("got %d/%q, want 503/%q", resp.Status, resp.Reason, ReasonAllModelsFailed)
	}

	// Each candidate is tried exactly once; the primary is never retried.
	calls := fx.caller.Calls()
	if len(calls) != 2 || calls[0] != "DeepSeek" || calls[1] != "Claude" {
		t.Fatalf("call order = %v, want [DeepSeek Claude]", calls)
	}

	entries := fx.sink.WaitEntries(t, 1)
	if len(entries) != 1 {
		t.Fatalf("usage entries = %d, want 1 failed record", len(entries))
	}
	if entries[0].Success || entries[0].Model != "DeepSeek" || entries[0].ErrorMessage == "" {
		t.Fatalf("unexpected usage entry: %+v", entries[0])
	}
}

func TestRouteNoAvailableModels(t *testing.T) {
	fx := newFixture()
	fx.registry.Store([]models.ModelProfile{
		{ModelName: "DeepSeek", HealthStatus: models.HealthDown, IsActive: true},
		{ModelName: "Claude", HealthStatus: models.HealthUp, IsActive: false},
	})

	resp := fx.router.Route(context.Background(), Request{APIKey: "k", Payload: payloadWith("hi there friend")})
	if resp.Status != http.StatusServiceUnavailable || resp.Reason != ReasonNoAvailableModels {
		t.Fatalf("got %d/%q, want 503/%q", resp.Status, resp.Reason, ReasonNoAvailableModels)
	}
	if len(fx.caller.Calls()) != 0 {
		t.Fatalf("caller invoked with no routable candidates")
	}
}

func TestRouteComplexPromptPrefersQualityEndpoint(t *testing.T) {
	fx := newFixture()

	resp := fx.router.Route(context.Background(), Request{
		APIKey:  "k",
		Payload: payloadWith("review the payment service flows and retry handling today"),
	})

	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Status)
	}
	if resp.Complexity != smart.ComplexityComplex {
		t.Fatalf("complexity = %q, want complex", resp.Complexity)
	}
	if resp.Model != "Claude" {
		t.Fatalf("model = %q, want Claude for a complex prompt", resp.Model)
	}
}

func TestRouteSessionAffinityReusesPinnedModel(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	// First request classifies complex and pins Claude for the session.
	first := fx.router.Route(ctx, Request{
		APIKey:    "k",
		SessionID: "sess-1",
		Payload:   payloadWith("review the payment service flows and retry logic today"),
	})
	if first.Model != "Claude" {
		t.Fatalf("first model = %q, want Claude", first.Model)
	}

	// Correlated follow-up (no "review" keyword) would score to DeepSeek on
	// its own, but the pinned model wins while the prompts stay similar.
	followUp := "the payment service flows and retry logic today please"
	controlFx := newFixture()
	control := controlFx.router.Route(ctx, Request{APIKey: "k", Payload: payloadWith(followUp)})
	if control.Model != "DeepSeek" {
		t.Fatalf("control model = %q, want DeepSeek without affinity", control.Model)
	}

	second := fx.router.Route(ctx, Request{
		APIKey:    "k",
		SessionID: "sess-1",
		Payload:   payloadWith(followUp),
	})
	if second.Status != http.StatusOK || second.Model != "Claude" {
		t.Fatalf("second: %d model=%q, want pinned Claude", second.Status, second.Model)
	}

	// An uncorrelated prompt drops affinity and rescoring takes over.
	third := fx.router.Route(ctx, Request{
		APIKey:    "k",
		SessionID: "sess-1",
		Payload:   payloadWith("completely unrelated banana question here"),
	})
	if third.Model != "DeepSeek" {
		t.Fatalf("third model = %q, want DeepSeek after correlation drop", third.Model)
	}
}

func TestRouteAffinitySkipsDisallowedPinnedModel(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	first := fx.router.Route(ctx, Request{
		APIKey:    "k",
		SessionID: "sess-2",
		Payload:   payloadWith("review the payment service flows and retry logic today"),
	})
	if first.Model != "Claude" {
		t.Fatalf("first model = %q, want Claude", first.Model)
	}

	// Plan change removes Claude; the pinned model must not leak through.
	fx.resolver.subCtx.AllowedModels = []string{"DeepSeek"}

	second := fx.router.Route(ctx, Request{
		APIKey:    "k",
		SessionID: "sess-2",
		Payload:   payloadWith("the payment service flows and retry logic today please"),
	})
	if second.Model != "DeepSeek" {
		t.Fatalf("second model = %q, want DeepSeek after plan change", second.Model)
	}
}

func TestRouteUsageRecordingDoesNotBlockResponse(t *testing.T) {
	sink := &slowSink{delay: 300 * time.Millisecond, recorded: make(chan usage.Entry, 1)}
	resolver := &fakeResolver{subCtx: testSubCtx()}
	caller := &stubCaller{failing: make(map[string]bool)}
	affinity := smart.NewAffinity(cache.NewMemory(nil))
	engine := NewRouter(resolver, allowAll(), testRegistry(), affinity, caller, sink, nil)

	start := time.Now()
	resp := engine.Route(context.Background(), Request{APIKey: "k", Payload: payloadWith("hello there")})
	elapsed := time.Since(start)

	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Status)
	}
	if elapsed >= sink.delay {
		t.Fatalf("Route took %v, waited on usage recording", elapsed)
	}

	select {
	case entry := <-sink.recorded:
		if !entry.Success || entry.Model != "DeepSeek" {
			t.Fatalf("unexpected usage entry: %+v", entry)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("usage record never delivered")
	}
}

func TestRouteAffinityRequiresCorrelationAboveThreshold(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	first := fx.router.Route(ctx, Request{
		APIKey:    "k",
		SessionID: "sess-3",
		Payload:   payloadWith("review beta gamma delta epsilon zeta eta theta iota"),
	})
	if first.Model != "Claude" {
		t.Fatalf("first model = %q, want Claude", first.Model)
	}

	// Seven shared tokens over a ten-token union: similarity is exactly the
	// 0.7 threshold, which must rescore rather than reuse the pin.
	second := fx.router.Route(ctx, Request{
		APIKey:    "k",
		SessionID: "sess-3",
		Payload:   payloadWith("beta gamma delta epsilon zeta eta theta kappa"),
	})
	if second.Model != "DeepSeek" {
		t.Fatalf("second model = %q, want DeepSeek at exact-threshold correlation", second.Model)
	}
}

func TestRoutePerformanceModeOverridesComplexity(t *testing.T) {
	fx := newFixture()

	resp := fx.router.Route(context.Background(), Request{
		APIKey:  "k",
		Mode:    "performance",
		Payload: payloadWith("What is the capital of France?"),
	})

	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Status)
	}
	if resp.Mode != smart.ModePerformance {
		t.Fatalf("mode = %q, want performance", resp.Mode)
	}
	if resp.Model != "Claude" {
		t.Fatalf("model = %q, want Claude in performance mode", resp.Model)
	}
}

func TestRouteSmartRoutingDisabledStaysSimple(t *testing.T) {
	fx := newFixture()
	fx.resolver.subCtx.SmartRoutingEnabled = false

	resp := fx.router.Route(context.Background(), Request{
		APIKey:  "k",
		Payload: payloadWith("review the payment service flows and retry logic today"),
	})

	if resp.Complexity != smart.ComplexitySimple {
		t.Fatalf("complexity = %q, want simple with smart routing disabled", resp.Complexity)
	}
	if resp.Model != "DeepSeek" {
		t.Fatalf("model = %q, want DeepSeek under simple weights", resp.Model)
	}
}
