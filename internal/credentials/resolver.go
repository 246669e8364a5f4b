package credentials

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oropendola/gateway/internal/cache"
	"github.com/oropendola/gateway/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrUnauthorized indicates an unknown, revoked, or non-admitting key.
var ErrUnauthorized = errors.New("credentials: unauthorized")

// SubscriptionContext is the resolved, cached view of a caller's
// entitlements. It is assembled from durable storage on cache miss and
// expires after a short TTL to bound staleness.
type SubscriptionContext struct {
	SubscriptionID uint64 `json:"subscription_id"`
	AccountID      string `json:"account_id"`
	PlanID         uint64 `json:"plan_id"`
	APIKeyID       uint64 `json:"api_key_id"`
	KeyPrefix      string `json:"key_prefix"`

	PriorityScore       int `json:"priority_score"`
	DailyQuotaLimit     int `json:"daily_quota_limit"`
	DailyQuotaRemaining int `json:"daily_quota_remaining"`
	RateLimitPerSec     int `json:"rate_limit_per_sec"`

	AllowedModels []string           `json:"allowed_models"`
	CostWeights   map[string]float64 `json:"cost_weights"`

	Status models.SubscriptionStatus `json:"status"`

	DefaultMode            string  `json:"default_mode"`
	SmartRoutingEnabled    bool    `json:"smart_routing_enabled"`
	SessionAffinityEnabled bool    `json:"session_affinity_enabled"`
	SessionTTLSeconds      int     `json:"session_ttl_seconds"`
	CorrelationThreshold   float64 `json:"correlation_threshold"`
	MonthlyBudgetLimit     float64 `json:"monthly_budget_limit"`
}

// SessionTTL returns the session affinity TTL as a duration.
func (c *SubscriptionContext) SessionTTL() time.Duration {
	if c.SessionTTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// CostWeightFor returns the plan weight for a model, defaulting when unset.
func (c *SubscriptionContext) CostWeightFor(modelName string) float64 {
	if weight, ok := c.CostWeights[modelName]; ok && weight > 0 {
		return weight
	}
	return models.DefaultCostWeight
}

// Resolver turns opaque API keys into subscription contexts, caching the
// result under a prefix of the presented key. Cache hits are O(1); misses
// hash the key and assemble the context from durable storage.
type Resolver struct {
	db       *gorm.DB
	cacheMgr *cache.Manager
	ttl      time.Duration
	nowFn    func() time.Time
}

// NewResolver constructs a Resolver with default dependencies when nil.
func NewResolver(db *gorm.DB, cacheMgr *cache.Manager, ttl time.Duration, nowFn func() time.Time) *Resolver {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Resolver{db: db, cacheMgr: cacheMgr, ttl: ttl, nowFn: nowFn}
}

// cacheKeyPrefixLen bounds how much of the raw key lands in cache keys.
const cacheKeyPrefixLen = 16

func (r *Resolver) cacheKey(rawKey string) string {
	prefix := rawKey
	if len(prefix) > cacheKeyPrefixLen {
		prefix = prefix[:cacheKeyPrefixLen]
	}
	return r.cacheMgr.Key("apikey", prefix)
}

// Resolve returns the subscription context for a raw API key.
func (r *Resolver) Resolve(ctx context.Context, rawKey string) (*SubscriptionContext, error) {
	if r == nil || rawKey == "" {
		return nil, ErrUnauthorized
	}

	cacheKey := r.cacheKey(rawKey)
	if cached, ok, errGet := r.cacheMgr.Get(ctx, cacheKey); errGet == nil && ok {
		var subCtx SubscriptionContext
		if errUnmarshal := json.Unmarshal([]byte(cached), &subCtx); errUnmarshal == nil {
			return &subCtx, nil
		}
		// Corrupt entry: drop and fall through to storage.
		_ = r.cacheMgr.Del(ctx, cacheKey)
	}

	subCtx, errLoad := r.loadFromStore(ctx, rawKey)
	if errLoad != nil {
		return nil, errLoad
	}

	if payload, errMarshal := json.Marshal(subCtx); errMarshal == nil {
		if errSet := r.cacheMgr.SetEx(ctx, cacheKey, string(payload), r.ttl); errSet != nil {
			log.WithError(errSet).Warn("credentials: context cache store failed")
		}
	}
	return subCtx, nil
}

func (r *Resolver) loadFromStore(ctx context.Context, rawKey string) (*SubscriptionContext, error) {
	if r.db == nil {
		return nil, fmt.Errorf("credentials: resolver not initialized")
	}

	sum := sha256.Sum256([]byte(rawKey))
	keyHash := hex.EncodeToString(sum[:])

	var apiKey models.APIKey
	errFind := r.db.WithContext(ctx).
		Preload("Subscription").
		Preload("Subscription.Plan").
		Preload("Subscription.Plan.ModelAccess").
		Where("key_hash = ? AND status = ?", keyHash, models.APIKeyStatusActive).
		Take(&apiKey).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("credentials: key lookup: %w", errFind)
	}

	subscription := apiKey.Subscription
	if !subscription.Status.Admitting() || subscription.Expired(r.nowFn()) {
		return nil, ErrUnauthorized
	}
	plan := subscription.Plan
	if !plan.IsEnabled {
		return nil, ErrUnauthorized
	}

	costWeights := make(map[string]float64, len(plan.ModelAccess))
	for _, access := range plan.ModelAccess {
		if access.IsAllowed {
			costWeights[access.ModelName] = access.CostWeight
		}
	}

	subCtx := &SubscriptionContext{
		SubscriptionID:         subscription.ID,
		AccountID:              subscription.AccountID,
		PlanID:                 plan.ID,
		APIKeyID:               apiKey.ID,
		KeyPrefix:              apiKey.KeyPrefix,
		PriorityScore:          subscription.PriorityScore,
		DailyQuotaLimit:        subscription.DailyQuotaLimit,
		DailyQuotaRemaining:    subscription.DailyQuotaRemaining,
		RateLimitPerSec:        plan.RateLimitPerSec,
		AllowedModels:          plan.AllowedModels(),
		CostWeights:            costWeights,
		Status:                 subscription.Status,
		DefaultMode:            plan.DefaultMode,
		SmartRoutingEnabled:    plan.SmartRoutingEnabled,
		SessionAffinityEnabled: plan.SessionAffinityEnabled,
		SessionTTLSeconds:      plan.SessionTTLSeconds,
		CorrelationThreshold:   plan.CorrelationThreshold,
		MonthlyBudgetLimit:     plan.MonthlyBudgetLimit,
	}

	r.touchLastUsed(apiKey.ID)
	return subCtx, nil
}

// touchLastUsed stamps the key row asynchronously; failures are ignored.
func (r *Resolver) touchLastUsed(apiKeyID uint64) {
	if r.db == nil || apiKeyID == 0 {
		return
	}
	now := r.nowFn().UTC()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if errUpdate := r.db.WithContext(ctx).
			Model(&models.APIKey{}).
			Where("id = ?", apiKeyID).
			Updates(map[string]any{
				"last_used_at": now,
				"usage_count":  gorm.Expr("usage_count + 1"),
			}).Error; errUpdate != nil {
			log.WithError(errUpdate).Debug("credentials: last-used touch failed")
		}
	}()
}

// Invalidate drops the cached context for a raw key, forcing the next
// resolution to hit durable storage (used after plan changes).
func (r *Resolver) Invalidate(ctx context.Context, rawKey string) {
	if r == nil || rawKey == "" {
		return
	}
	_ = r.cacheMgr.Del(ctx, r.cacheKey(rawKey))
}

// HashKey returns the storage hash for a raw API key. Provisioning code
// uses it when minting keys; the router never stores raw keys.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}
