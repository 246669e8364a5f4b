package db

import (
	"errors"
	"fmt"

	"github.com/oropendola/gateway/internal/models"

	"gorm.io/gorm"
)

// Migrate runs schema migrations and seeds baseline records.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.Plan{},
		&models.PlanModelAccess{},
		&models.Subscription{},
		&models.APIKey{},
		&models.ModelProfile{},
		&models.UsageLog{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errSeed := ensureDefaultModelProfiles(conn); errSeed != nil {
		return errSeed
	}
	return nil
}

// defaultModelProfiles seeds the well-known upstream endpoints so that mode
// weight profiles have targets on a fresh install. Operators adjust costs and
// endpoints afterwards; existing rows are never overwritten.
var defaultModelProfiles = []models.ModelProfile{
	{ModelName: "DeepSeek", EndpointURL: "https://api.deepseek.com/v1/chat/completions", CostPerUnit: 0.001, CapacityScore: 90, TimeoutSeconds: 30},
	{ModelName: "Grok", EndpointURL: "https://api.x.ai/v1/chat/completions", CostPerUnit: 0.002, CapacityScore: 85, TimeoutSeconds: 30},
	{ModelName: "Gemini", EndpointURL: "https://generativelanguage.googleapis.com/v1beta/chat/completions", CostPerUnit: 0.005, CapacityScore: 90, TimeoutSeconds: 45},
	{ModelName: "Claude", EndpointURL: "https://api.anthropic.com/v1/messages", CostPerUnit: 0.015, CapacityScore: 95, TimeoutSeconds: 60},
	{ModelName: "GPT-4", EndpointURL: "https://api.openai.com/v1/chat/completions", CostPerUnit: 0.03, CapacityScore: 95, TimeoutSeconds: 60},
}

// ensureDefaultModelProfiles inserts missing well-known model profiles.
func ensureDefaultModelProfiles(conn *gorm.DB) error {
	for _, profile := range defaultModelProfiles {
		var existing models.ModelProfile
		errFind := conn.Where("model_name = ?", profile.ModelName).Take(&existing).Error
		if errFind == nil {
			continue
		}
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return fmt.Errorf("db: lookup model profile %s: %w", profile.ModelName, errFind)
		}
		row := profile
		row.HealthStatus = models.HealthUp
		row.SuccessRate = 100
		row.IsActive = true
		if errCreate := conn.Create(&row).Error; errCreate != nil {
			return fmt.Errorf("db: seed model profile %s: %w", profile.ModelName, errCreate)
		}
	}
	return nil
}
