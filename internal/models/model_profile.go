package models

import "time"

// HealthStatus represents the health state of an upstream model endpoint.
type HealthStatus string

// HealthStatus constants define endpoint health states.
const (
	// HealthUp marks a healthy endpoint.
	HealthUp HealthStatus = "Up"
	// HealthDegraded marks a responsive but impaired endpoint.
	HealthDegraded HealthStatus = "Degraded"
	// HealthDown marks an unreachable endpoint.
	HealthDown HealthStatus = "Down"
)

// ModelProfile describes one upstream AI model endpoint and its routing metadata.
type ModelProfile struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ModelName   string `gorm:"type:varchar(255);not null;uniqueIndex"` // Routing name.
	EndpointURL string `gorm:"type:text;not null"`                     // Upstream endpoint URL.
	APIKey      string `gorm:"type:text"`                              // Upstream credential, if any.

	HealthStatus  HealthStatus `gorm:"type:varchar(32);not null;default:'Up'"` // Current health state.
	CapacityScore int          `gorm:"not null;default:100"`                   // Capacity score (0-100).

	CostPerUnit  float64 `gorm:"type:decimal(20,10);not null;default:0"` // Cost per request unit.
	AvgLatencyMs int     `gorm:"not null;default:0"`                     // Rolling average latency.
	SuccessRate  float64 `gorm:"type:decimal(5,2);not null;default:100"` // Rolling success rate percentage.

	TotalRequests  int `gorm:"not null;default:0"` // Lifetime request count.
	FailedRequests int `gorm:"not null;default:0"` // Lifetime failure count.

	TimeoutSeconds int  `gorm:"not null;default:30"`   // Per-call timeout.
	IsActive       bool `gorm:"not null;default:true"` // Whether routing may use the endpoint.

	LastHealthCheck *time.Time `` // Last health probe time.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
