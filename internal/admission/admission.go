package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/oropendola/gateway/internal/cache"

	log "github.com/sirupsen/logrus"
)

// Subject identifies what is being admitted and under which limits.
type Subject struct {
	SubscriptionID  uint64
	DailyQuotaLimit int // -1 = unlimited.
	RateLimitPerSec int // 0 = no per-second limit.
}

// WriteBackFunc reflects a new remaining quota count to durable storage.
// Implementations must be safe for concurrent use; calls are best-effort.
type WriteBackFunc func(subscriptionID uint64, remaining int)

// Controller enforces the daily quota and per-second rate gates.
// Both checks use a single atomic operation against the shared cache so
// concurrent requests against one remaining unit cannot both pass. When
// Redis is unavailable, per-instance memory counters take over behind the
// cache manager's breaker.
type Controller struct {
	cacheMgr *cache.Manager
	nowFn    func() time.Time

	memQuota *memoryQuota
	memRate  *memoryRate

	writeBack WriteBackFunc
}

// NewController constructs a Controller with default dependencies when nil.
func NewController(cacheMgr *cache.Manager, nowFn func() time.Time, writeBack WriteBackFunc) *Controller {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Controller{
		cacheMgr:  cacheMgr,
		nowFn:     nowFn,
		memQuota:  newMemoryQuota(),
		memRate:   newMemoryRate(),
		writeBack: writeBack,
	}
}

// Admit runs the quota gate and then the rate gate. Either rejection
// short-circuits with no further state consumed.
func (c *Controller) Admit(ctx context.Context, subject Subject, costUnits int) Decision {
	if c == nil {
		return Decision{Kind: KindAllowed, QuotaRemaining: quotaUnlimited}
	}
	if costUnits <= 0 {
		costUnits = 1
	}

	quotaDecision := c.admitQuota(ctx, subject, costUnits)
	if !quotaDecision.Allowed() {
		return quotaDecision
	}

	if !c.admitRate(ctx, subject) {
		return Decision{
			Kind:           KindRateLimited,
			QuotaRemaining: quotaDecision.QuotaRemaining,
			RetryAfter:     time.Second,
		}
	}
	return quotaDecision
}

func (c *Controller) admitQuota(ctx context.Context, subject Subject, costUnits int) Decision {
	if subject.DailyQuotaLimit == quotaUnlimited {
		return Decision{Kind: KindAllowed, QuotaRemaining: quotaUnlimited}
	}

	now := c.nowFn()
	day := now.Format(quotaDateLayout)
	key := c.quotaKey(subject.SubscriptionID, day)

	remaining, ok := c.consumeQuotaRedis(ctx, key, subject.DailyQuotaLimit, costUnits, now)
	if !ok {
		remaining = c.memQuota.Consume(key, subject.DailyQuotaLimit, costUnits, day)
	}

	switch {
	case remaining == quotaResultUnlimited:
		return Decision{Kind: KindAllowed, QuotaRemaining: quotaUnlimited}
	case remaining <= quotaResultInsufficient:
		// The counter was left untouched; report what is actually left.
		return Decision{
			Kind:           KindQuotaExceeded,
			QuotaRemaining: quotaResultInsufficient - remaining,
			RetryAfter:     endOfDayIn(now),
		}
	}

	if c.writeBack != nil {
		go c.writeBack(subject.SubscriptionID, remaining)
	}
	return Decision{Kind: KindAllowed, QuotaRemaining: remaining}
}

func (c *Controller) consumeQuotaRedis(ctx context.Context, key string, limit, units int, now time.Time) (int, bool) {
	client, okClient := c.cacheMgr.Redis()
	if !okClient {
		return 0, false
	}
	quota := &redisQuota{client: client}
	remaining, errConsume := quota.Consume(ctx, key, limit, units, now)
	if errConsume != nil {
		c.cacheMgr.ReportFailure(errConsume)
		log.WithError(errConsume).Warn("admission: quota check failed, using memory counter")
		return 0, false
	}
	return remaining, true
}

func (c *Controller) admitRate(ctx context.Context, subject Subject) bool {
	if subject.RateLimitPerSec <= 0 {
		return true
	}

	key := c.rateKey(subject.SubscriptionID)
	if client, ok := c.cacheMgr.Redis(); ok {
		rate := &redisRate{client: client}
		taken, errTake := rate.Take(ctx, key, subject.RateLimitPerSec)
		if errTake == nil {
			return taken
		}
		c.cacheMgr.ReportFailure(errTake)
		log.WithError(errTake).Warn("admission: rate check failed, using memory bucket")
	}
	return c.memRate.Take(key, subject.RateLimitPerSec, c.nowFn())
}

// quotaDateLayout keys quota counters by calendar day.
const quotaDateLayout = "2006-01-02"

func (c *Controller) quotaKey(subscriptionID uint64, day string) string {
	return c.cacheMgr.Key("quota", fmt.Sprintf("%d", subscriptionID), day)
}

func (c *Controller) rateKey(subscriptionID uint64) string {
	return c.cacheMgr.Key("ratelimit", fmt.Sprintf("%d", subscriptionID))
}

// endOfDayIn returns the wait hint until the quota counter resets.
func endOfDayIn(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return next.Sub(now)
}
