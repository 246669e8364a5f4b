package router

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/oropendola/gateway/internal/admission"
	"github.com/oropendola/gateway/internal/backends"
	"github.com/oropendola/gateway/internal/credentials"
	"github.com/oropendola/gateway/internal/models"
	"github.com/oropendola/gateway/internal/scoring"
	"github.com/oropendola/gateway/internal/smart"
	"github.com/oropendola/gateway/internal/usage"

	log "github.com/sirupsen/logrus"
)

// CredentialResolver resolves raw API keys into subscription contexts.
type CredentialResolver interface {
	Resolve(ctx context.Context, rawKey string) (*credentials.SubscriptionContext, error)
}

// Admitter runs the quota and rate gates for one request.
type Admitter interface {
	Admit(ctx context.Context, subject admission.Subject, costUnits int) admission.Decision
}

// Request is one routing request after transport decoding.
type Request struct {
	APIKey    string
	Payload   map[string]any
	Mode      string
	SessionID string
}

// Response is the routing outcome. Status follows HTTP semantics; Reason is
// empty on success and machine-readable on rejection.
type Response struct {
	Status int
	Reason string

	Model    string
	Body     json.RawMessage
	Fallback bool

	Complexity smart.Complexity
	Mode       smart.Mode

	CostUnits      int
	LatencyMs      int
	QuotaRemaining int
	RetryAfter     time.Duration
}

// Router drives the full admission-and-dispatch pipeline: credential
// resolution, quota and rate gates, complexity classification, session
// affinity, scoring, the upstream call, and fallback across the remaining
// allowed candidates.
type Router struct {
	resolver CredentialResolver
	admitter Admitter
	registry *backends.Registry
	affinity *smart.Affinity
	caller   Caller
	sink     usage.Sink
	weights  scoring.Weights
	nowFn    func() time.Time
}

// NewRouter wires a Router from its collaborators. A nil caller gets the
// default HTTP caller; a nil nowFn gets the wall clock.
func NewRouter(resolver CredentialResolver, admitter Admitter, registry *backends.Registry, affinity *smart.Affinity, caller Caller, sink usage.Sink, nowFn func() time.Time) *Router {
	if caller == nil {
		caller = NewHTTPCaller()
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Router{
		resolver: resolver,
		admitter: admitter,
		registry: registry,
		affinity: affinity,
		caller:   caller,
		sink:     sink,
		weights:  scoring.DefaultWeights(),
		nowFn:    nowFn,
	}
}

// Route runs one request through the pipeline and always returns a
// terminal Response; it never panics on malformed payloads.
func (r *Router) Route(ctx context.Context, req Request) Response {
	prompt, approxTokens, okPrompt := extractPrompt(req.Payload)
	if !okPrompt {
		return Response{Status: http.StatusBadRequest, Reason: ReasonInvalidRequest}
	}

	subCtx, errResolve := r.resolver.Resolve(ctx, req.APIKey)
	if errResolve != nil {
		return Response{Status: http.StatusUnauthorized, Reason: ReasonUnauthorized}
	}

	costUnits := extractCostUnits(req.Payload)
	decision := r.admitter.Admit(ctx, admission.Subject{
		SubscriptionID:  subCtx.SubscriptionID,
		DailyQuotaLimit: subCtx.DailyQuotaLimit,
		RateLimitPerSec: subCtx.RateLimitPerSec,
	}, costUnits)
	switch decision.Kind {
	case admission.KindQuotaExceeded:
		return Response{
			Status:         http.StatusTooManyRequests,
			Reason:         ReasonQuotaExceeded,
			QuotaRemaining: decision.QuotaRemaining,
			RetryAfter:     decision.RetryAfter,
		}
	case admission.KindRateLimited:
		return Response{
			Status:         http.StatusTooManyRequests,
			Reason:         ReasonRateLimited,
			QuotaRemaining: decision.QuotaRemaining,
			RetryAfter:     decision.RetryAfter,
		}
	}

	complexity := smart.ComplexitySimple
	if subCtx.SmartRoutingEnabled {
		complexity = smart.Classify(prompt, approxTokens)
	}
	mode := smart.ParseMode(req.Mode)
	if strings.TrimSpace(req.Mode) == "" {
		mode = smart.ParseMode(subCtx.DefaultMode)
	}

	chosen, pinned := r.pinnedCandidate(ctx, req, subCtx, prompt)
	if !pinned {
		var found bool
		chosen, found = r.scoreCandidates(subCtx, mode, complexity)
		if !found {
			return Response{
				Status:         http.StatusServiceUnavailable,
				Reason:         ReasonNoAvailableModels,
				Complexity:     complexity,
				Mode:           mode,
				QuotaRemaining: decision.QuotaRemaining,
			}
		}
	}

	result, latencyMs, errCall := r.attempt(ctx, &chosen, req.Payload)
	if errCall == nil {
		return r.succeed(ctx, req, subCtx, chosen, result, outcome{
			latencyMs:      latencyMs,
			fallback:       false,
			complexity:     complexity,
			mode:           mode,
			costUnits:      costUnits,
			approxTokens:   approxTokens,
			quotaRemaining: decision.QuotaRemaining,
		})
	}
	r.registry.RecordResult(chosen.ModelName, false, 0)
	log.WithError(errCall).WithField("model", chosen.ModelName).Warn("router: primary attempt failed")

	for _, profile := range r.registry.Select(subCtx.AllowedModels) {
		if profile.ModelName == chosen.ModelName {
			continue
		}
		if !profile.IsActive || profile.HealthStatus == models.HealthDown {
			continue
		}
		result, latencyMs, errFallback := r.attempt(ctx, &profile, req.Payload)
		if errFallback == nil {
			return r.succeed(ctx, req, subCtx, profile, result, outcome{
				latencyMs:      latencyMs,
				fallback:       true,
				complexity:     complexity,
				mode:           mode,
				costUnits:      costUnits,
				approxTokens:   approxTokens,
				quotaRemaining: decision.QuotaRemaining,
			})
		}
		r.registry.RecordResult(profile.ModelName, false, 0)
		log.WithError(errFallback).WithField("model", profile.ModelName).Debug("router: fallback attempt failed")
	}

	r.recordUsage(ctx, usage.Entry{
		SubscriptionID: subCtx.SubscriptionID,
		KeyPrefix:      subCtx.KeyPrefix,
		Model:          chosen.ModelName,
		Success:        false,
		CostUnits:      float64(costUnits),
		TokensInput:    &approxTokens,
		PriorityScore:  subCtx.PriorityScore,
		ErrorMessage:   errCall.Error(),
		Metadata:       routeMetadata(complexity, mode),
	})
	return Response{
		Status:         http.StatusServiceUnavailable,
		Reason:         ReasonAllModelsFailed,
		Complexity:     complexity,
		Mode:           mode,
		QuotaRemaining: decision.QuotaRemaining,
	}
}

type outcome struct {
	latencyMs      int
	fallback       bool
	complexity     smart.Complexity
	mode           smart.Mode
	costUnits      int
	approxTokens   int
	quotaRemaining int
}

func (r *Router) attempt(ctx context.Context, profile *models.ModelProfile, payload map[string]any) (CallResult, int, error) {
	start := r.nowFn()
	result, errCall := r.caller.Call(ctx, profile, payload)
	latencyMs := int(r.nowFn().Sub(start).Milliseconds())
	return result, latencyMs, errCall
}

func (r *Router) succeed(ctx context.Context, req Request, subCtx *credentials.SubscriptionContext, profile models.ModelProfile, result CallResult, out outcome) Response {
	r.registry.RecordResult(profile.ModelName, true, out.latencyMs)

	latency := out.latencyMs
	tokens := out.approxTokens
	r.recordUsage(ctx, usage.Entry{
		SubscriptionID: subCtx.SubscriptionID,
		KeyPrefix:      subCtx.KeyPrefix,
		Model:          profile.ModelName,
		Success:        true,
		Fallback:       out.fallback,
		CostUnits:      float64(out.costUnits),
		LatencyMs:      &latency,
		TokensInput:    &tokens,
		TokensOutput:   result.TokensOutput,
		PriorityScore:  subCtx.PriorityScore,
		Metadata:       routeMetadata(out.complexity, out.mode),
	})

	if req.SessionID != "" && subCtx.SessionAffinityEnabled {
		r.affinity.PinModel(ctx, req.SessionID, profile.ModelName, subCtx.SessionTTL())
	}

	return Response{
		Status:         http.StatusOK,
		Model:          profile.ModelName,
		Body:           result.Body,
		Fallback:       out.fallback,
		Complexity:     out.complexity,
		Mode:           out.mode,
		CostUnits:      out.costUnits,
		LatencyMs:      out.latencyMs,
		QuotaRemaining: out.quotaRemaining,
	}
}

// pinnedCandidate returns the session's pinned model when the current
// prompt's correlation with the session's last prompt strictly exceeds the
// plan threshold and the pinned model is still allowed and routable.
func (r *Router) pinnedCandidate(ctx context.Context, req Request, subCtx *credentials.SubscriptionContext, prompt string) (models.ModelProfile, bool) {
	if req.SessionID == "" || !subCtx.SessionAffinityEnabled {
		return models.ModelProfile{}, false
	}

	correlation := r.affinity.Correlation(ctx, req.SessionID, prompt, subCtx.SessionTTL())
	if correlation <= subCtx.CorrelationThreshold {
		return models.ModelProfile{}, false
	}
	name, okPinned := r.affinity.PinnedModel(ctx, req.SessionID)
	if !okPinned || !containsString(subCtx.AllowedModels, name) {
		return models.ModelProfile{}, false
	}
	profile, okProfile := r.registry.Lookup(name)
	if !okProfile || !profile.IsActive || profile.HealthStatus == models.HealthDown {
		return models.ModelProfile{}, false
	}
	return profile, true
}

// scoreCandidates builds the candidate list from the plan's allowed models
// and picks the best scorer. Mode weights override the plan's per-model cost
// weight for this selection only.
func (r *Router) scoreCandidates(subCtx *credentials.SubscriptionContext, mode smart.Mode, complexity smart.Complexity) (models.ModelProfile, bool) {
	modeWeights := smart.ModeWeights(mode, complexity)
	profiles := r.registry.Select(subCtx.AllowedModels)

	candidates := make([]scoring.Candidate, 0, len(profiles))
	for _, profile := range profiles {
		weight := subCtx.CostWeightFor(profile.ModelName)
		if override, ok := modeWeights[profile.ModelName]; ok {
			weight = override
		}
		candidates = append(candidates, scoring.Candidate{Profile: profile, CostWeight: weight})
	}
	return r.weights.SelectBest(candidates, subCtx.PriorityScore)
}

// recordUsage hands the entry to the sink from a goroutine so persistence
// never extends the client-visible response path. The context is detached
// from the request's cancellation since the response has already been
// decided by the time the record lands.
func (r *Router) recordUsage(ctx context.Context, entry usage.Entry) {
	if r.sink == nil {
		return
	}
	go r.sink.Record(context.WithoutCancel(ctx), entry)
}

// extractPrompt pulls the last user message and an approximate token count
// from an OpenAI-style messages payload. Tokens are estimated at four
// characters per token across all message contents.
func extractPrompt(payload map[string]any) (string, int, bool) {
	rawMessages, okMessages := payload["messages"].([]any)
	if !okMessages || len(rawMessages) == 0 {
		return "", 0, false
	}

	totalChars := 0
	prompt := ""
	for _, rawMessage := range rawMessages {
		message, okMessage := rawMessage.(map[string]any)
		if !okMessage {
			continue
		}
		content, _ := message["content"].(string)
		totalChars += len(content)
		if role, _ := message["role"].(string); role == "user" && content != "" {
			prompt = content
		}
	}
	if prompt == "" {
		return "", 0, false
	}
	return prompt, totalChars / 4, true
}

// extractCostUnits reads the request's declared cost, defaulting to one
// unit. JSON decoding yields float64 for numbers.
func extractCostUnits(payload map[string]any) int {
	switch value := payload["cost_units"].(type) {
	case float64:
		if value >= 1 {
			return int(value)
		}
	case int:
		if value >= 1 {
			return value
		}
	}
	return 1
}

func routeMetadata(complexity smart.Complexity, mode smart.Mode) map[string]any {
	return map[string]any{
		"complexity": string(complexity),
		"mode":       string(mode),
	}
}

func containsString(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
