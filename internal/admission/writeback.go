package admission

import (
	"context"
	"time"

	"github.com/oropendola/gateway/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// NewGormWriteBack returns a WriteBackFunc that reflects the remaining daily
// quota onto the subscription row. Best-effort: failures are logged, never
// surfaced, and never block the request path.
func NewGormWriteBack(db *gorm.DB) WriteBackFunc {
	return func(subscriptionID uint64, remaining int) {
		if db == nil || subscriptionID == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if errUpdate := db.WithContext(ctx).
			Model(&models.Subscription{}).
			Where("id = ?", subscriptionID).
			Updates(map[string]any{
				"daily_quota_remaining": remaining,
				"total_requests":        gorm.Expr("total_requests + 1"),
			}).Error; errUpdate != nil {
			log.WithError(errUpdate).Warn("admission: quota write-back failed")
		}
	}
}
