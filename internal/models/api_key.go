package models

import "time"

// APIKeyStatus represents the lifecycle state of an API key.
type APIKeyStatus string

// APIKeyStatus constants define key lifecycle states.
const (
	// APIKeyStatusActive marks a usable key.
	APIKeyStatusActive APIKeyStatus = "Active"
	// APIKeyStatusRevoked marks a revoked key.
	APIKeyStatusRevoked APIKeyStatus = "Revoked"
)

// APIKey stores a hashed client credential bound to a subscription.
// The raw key is never persisted; lookups go through the SHA-256 hash.
type APIKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	SubscriptionID uint64       `gorm:"not null;index"`            // Owning subscription ID.
	Subscription   Subscription `gorm:"foreignKey:SubscriptionID"` // Owning subscription record.

	KeyHash   string `gorm:"type:char(64);not null;uniqueIndex"` // SHA-256 hex of the raw key.
	KeyPrefix string `gorm:"type:varchar(16);not null"`          // First characters for display and cache keys.

	Status       APIKeyStatus `gorm:"type:varchar(32);not null;default:'Active';index"` // Lifecycle status.
	RevokeReason string       `gorm:"type:text"`                                        // Why the key was revoked.

	LastUsedAt     *time.Time ``                          // Last successful resolution.
	UsageCount     int        `gorm:"not null;default:0"` // Total resolutions.
	FailedRequests int        `gorm:"not null;default:0"` // Requests that ended in failure.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
