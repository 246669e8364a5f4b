package usage

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/oropendola/gateway/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Notifier is informed when a subscription crosses its monthly budget.
// The budget collaborator (email, webhook) lives outside this core.
type Notifier interface {
	BudgetExceeded(subscriptionID uint64, spent, limit float64)
}

// LogNotifier emits a structured warning; the default collaborator.
type LogNotifier struct{}

// BudgetExceeded logs the crossing.
func (LogNotifier) BudgetExceeded(subscriptionID uint64, spent, limit float64) {
	log.WithFields(log.Fields{
		"subscription_id": subscriptionID,
		"spent":           spent,
		"limit":           limit,
	}).Warn("usage: monthly budget exceeded")
}

// BudgetNotifier sums month-to-date spend after successful calls and fires
// the Notifier once per subscription per month when the plan limit is
// crossed.
type BudgetNotifier struct {
	db       *gorm.DB
	notifier Notifier
	nowFn    func() time.Time

	mu       sync.Mutex
	notified map[string]struct{}
}

// NewBudgetNotifier constructs a BudgetNotifier with defaults when nil.
func NewBudgetNotifier(db *gorm.DB, notifier Notifier, nowFn func() time.Time) *BudgetNotifier {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &BudgetNotifier{
		db:       db,
		notifier: notifier,
		nowFn:    nowFn,
		notified: make(map[string]struct{}),
	}
}

// Observe checks month-to-date spend for the subscription. Best-effort:
// query errors are logged and ignored.
func (b *BudgetNotifier) Observe(ctx context.Context, subscriptionID uint64) {
	if b == nil || b.db == nil || subscriptionID == 0 {
		return
	}

	var limit float64
	if errLimit := b.db.WithContext(ctx).
		Model(&models.Plan{}).
		Select("plans.monthly_budget_limit").
		Joins("JOIN subscriptions ON subscriptions.plan_id = plans.id").
		Where("subscriptions.id = ?", subscriptionID).
		Scan(&limit).Error; errLimit != nil {
		log.WithError(errLimit).Debug("usage: budget limit lookup failed")
		return
	}
	if limit <= 0 {
		return
	}

	now := b.nowFn().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthKey := monthStart.Format("2006-01")

	var spent float64
	if errSum := b.db.WithContext(ctx).
		Model(&models.UsageLog{}).
		Where("subscription_id = ? AND status = ? AND created_at >= ?",
			subscriptionID, models.UsageStatusSuccess, monthStart).
		Select("COALESCE(SUM(cost_units), 0)").
		Scan(&spent).Error; errSum != nil {
		log.WithError(errSum).Debug("usage: month-to-date sum failed")
		return
	}
	if spent < limit {
		return
	}

	key := monthKey + ":" + strconv.FormatUint(subscriptionID, 10)
	b.mu.Lock()
	_, already := b.notified[key]
	if !already {
		b.notified[key] = struct{}{}
	}
	b.mu.Unlock()
	if already {
		return
	}
	b.notifier.BudgetExceeded(subscriptionID, spent, limit)
}
