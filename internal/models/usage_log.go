package models

import (
	"time"

	"gorm.io/datatypes"
)

// UsageStatus represents the outcome recorded for one routed request.
type UsageStatus string

// UsageStatus constants define usage outcomes.
const (
	// UsageStatusSuccess marks a completed call.
	UsageStatusSuccess UsageStatus = "Success"
	// UsageStatusFailed marks a call that exhausted all candidates.
	UsageStatusFailed UsageStatus = "Failed"
)

// UsageLog records one completed or failed routed call for billing and audit.
// Rows are append-only; the router never reads them back.
type UsageLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RequestID string `gorm:"type:char(36);not null;uniqueIndex"` // Request UUID.

	SubscriptionID uint64 `gorm:"not null;index"`   // Billed subscription ID.
	APIKeyMasked   string `gorm:"type:varchar(32)"` // Key prefix plus mask for audit.

	Model    string      `gorm:"type:varchar(255);not null;index"` // Model that served (or last failed).
	Status   UsageStatus `gorm:"type:varchar(32);not null"`        // Call outcome.
	Fallback bool        `gorm:"not null;default:false"`           // Whether a fallback candidate served.

	CostUnits float64 `gorm:"type:decimal(20,10);not null;default:0"` // Cost units consumed.
	LatencyMs *int    ``                                              // Upstream latency, nil on failure.

	TokensInput  *int `` // Prompt tokens, when reported.
	TokensOutput *int `` // Completion tokens, when reported.

	PriorityScore int    `gorm:"not null;default:0"` // Subscription priority at call time.
	ErrorMessage  string `gorm:"type:text"`          // Error detail for failed calls.

	Metadata datatypes.JSON `` // Routing detail (complexity, mode).

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Record timestamp.
}
