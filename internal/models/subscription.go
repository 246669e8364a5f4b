package models

import "time"

// SubscriptionStatus represents the lifecycle state of a subscription.
type SubscriptionStatus string

// SubscriptionStatus constants define subscription lifecycle states.
const (
	// SubscriptionStatusActive marks a paid, admitting subscription.
	SubscriptionStatusActive SubscriptionStatus = "Active"
	// SubscriptionStatusTrial marks a trial, admitting subscription.
	SubscriptionStatusTrial SubscriptionStatus = "Trial"
	// SubscriptionStatusExpired marks a subscription past its end date.
	SubscriptionStatusExpired SubscriptionStatus = "Expired"
	// SubscriptionStatusCancelled marks a cancelled subscription.
	SubscriptionStatusCancelled SubscriptionStatus = "Cancelled"
	// SubscriptionStatusPastDue marks a subscription with an unpaid invoice.
	SubscriptionStatusPastDue SubscriptionStatus = "PastDue"
)

// Admitting reports whether the status allows routing requests.
func (s SubscriptionStatus) Admitting() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrial
}

// Subscription records a customer's entitlement to a plan.
type Subscription struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountID string `gorm:"type:varchar(255);not null;index"` // Owning account identifier.

	PlanID uint64 `gorm:"not null;index"`    // Active plan ID.
	Plan   Plan   `gorm:"foreignKey:PlanID"` // Active plan record.

	Status SubscriptionStatus `gorm:"type:varchar(32);not null;default:'Active';index"` // Lifecycle status.

	StartDate time.Time  `gorm:"not null"` // Subscription start.
	EndDate   *time.Time ``                // Subscription end, nil = open-ended.

	PriorityScore       int `gorm:"not null;default:0"` // Routing priority copied from plan.
	DailyQuotaLimit     int `gorm:"not null;default:0"` // Daily quota, -1 = unlimited.
	DailyQuotaRemaining int `gorm:"not null;default:0"` // Remaining quota for today.

	TotalRequests int     `gorm:"not null;default:0"`                     // Lifetime request count.
	TotalUsage    float64 `gorm:"type:decimal(20,10);not null;default:0"` // Lifetime cost units consumed.

	APIKeys []APIKey `gorm:"foreignKey:SubscriptionID"` // Related API keys.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Expired reports whether the subscription end date has passed.
func (s *Subscription) Expired(now time.Time) bool {
	return s.EndDate != nil && s.EndDate.Before(now)
}
