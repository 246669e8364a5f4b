package models

import "time"

// Plan represents a subscription plan configuration.
type Plan struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name        string `gorm:"type:varchar(255);not null;uniqueIndex"` // Plan name.
	Description string `gorm:"type:text"`                              // Plan description.

	PriorityScore     int `gorm:"not null;default:0"` // Routing priority (0-100).
	DailyRequestLimit int `gorm:"not null;default:0"` // Daily request quota, -1 = unlimited.
	RateLimitPerSec   int `gorm:"not null;default:0"` // Per-second rate limit, 0 = none.
	SortOrder         int `gorm:"not null;default:0"` // Display ordering weight.

	DefaultMode            string  `gorm:"type:varchar(32);not null;default:'auto'"` // Default routing mode.
	SmartRoutingEnabled    bool    `gorm:"not null;default:true"`                    // Task complexity detection flag.
	SessionAffinityEnabled bool    `gorm:"not null;default:true"`                    // Session continuity flag.
	SessionTTLSeconds      int     `gorm:"not null;default:3600"`                    // Session affinity entry TTL.
	CorrelationThreshold   float64 `gorm:"type:decimal(4,2);not null;default:0.7"`   // Prompt similarity threshold.
	MonthlyBudgetLimit     float64 `gorm:"type:decimal(20,10);not null;default:0"`   // Monthly spend threshold, 0 = none.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the plan is active.

	ModelAccess []PlanModelAccess `gorm:"foreignKey:PlanID"` // Per-model access and weighting.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// DefaultCostWeight is applied when a plan has no explicit weight for a model.
const DefaultCostWeight = 10.0

// PlanModelAccess defines which models a plan may use and their cost weighting.
type PlanModelAccess struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	PlanID     uint64  `gorm:"not null;index:idx_plan_model,unique"`                   // Owning plan ID.
	ModelName  string  `gorm:"type:varchar(255);not null;index:idx_plan_model,unique"` // Model name.
	IsAllowed  bool    `gorm:"not null;default:true"`                                  // Whether the plan may use the model.
	CostWeight float64 `gorm:"type:decimal(10,2);not null;default:10"`                 // Routing weight multiplier.
}

// IsUnlimited reports whether the plan has no daily request cap.
func (p *Plan) IsUnlimited() bool {
	return p.DailyRequestLimit == -1
}

// AllowedModels returns the model names the plan may route to.
func (p *Plan) AllowedModels() []string {
	names := make([]string, 0, len(p.ModelAccess))
	for _, access := range p.ModelAccess {
		if access.IsAllowed {
			names = append(names, access.ModelName)
		}
	}
	return names
}

// CostWeightFor returns the routing weight for a model, defaulting when unset.
func (p *Plan) CostWeightFor(modelName string) float64 {
	for _, access := range p.ModelAccess {
		if access.ModelName == modelName && access.IsAllowed {
			if access.CostWeight > 0 {
				return access.CostWeight
			}
			return DefaultCostWeight
		}
	}
	return DefaultCostWeight
}
