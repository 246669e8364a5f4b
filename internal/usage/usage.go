package usage

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/oropendola/gateway/internal/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entry captures one routed call outcome for the usage log.
type Entry struct {
	SubscriptionID uint64
	KeyPrefix      string
	Model          string
	Success        bool
	Fallback       bool
	CostUnits      float64
	LatencyMs      *int
	TokensInput    *int
	TokensOutput   *int
	PriorityScore  int
	ErrorMessage   string
	Metadata       map[string]any
}

// Sink accepts append-only usage records. Implementations must never fail
// the request path; persistence errors are logged and swallowed.
type Sink interface {
	Record(ctx context.Context, entry Entry)
}

// GormSink persists usage records and rolls lifetime counters forward.
type GormSink struct {
	db       *gorm.DB
	notifier *BudgetNotifier
}

// NewGormSink constructs a GormSink backed by GORM.
func NewGormSink(db *gorm.DB, notifier *BudgetNotifier) *GormSink {
	return &GormSink{db: db, notifier: notifier}
}

// Record writes one usage row with a detached timeout context so a slow
// database never extends the client-visible response path.
func (s *GormSink) Record(_ context.Context, entry Entry) {
	if s == nil || s.db == nil {
		return
	}

	dbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status := models.UsageStatusSuccess
	if !entry.Success {
		status = models.UsageStatusFailed
	}

	masked := strings.TrimSpace(entry.KeyPrefix)
	if masked != "" {
		masked += "****"
	} else {
		masked = "****"
	}

	row := models.UsageLog{
		RequestID:      uuid.New().String(),
		SubscriptionID: entry.SubscriptionID,
		APIKeyMasked:   masked,
		Model:          entry.Model,
		Status:         status,
		Fallback:       entry.Fallback,
		CostUnits:      entry.CostUnits,
		LatencyMs:      entry.LatencyMs,
		TokensInput:    entry.TokensInput,
		TokensOutput:   entry.TokensOutput,
		PriorityScore:  entry.PriorityScore,
		ErrorMessage:   entry.ErrorMessage,
		Metadata:       marshalMetadata(entry.Metadata),
		CreatedAt:      time.Now().UTC(),
	}

	if errTx := s.db.WithContext(dbCtx).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(&row).Error; errCreate != nil {
			return errCreate
		}
		if entry.Success && entry.CostUnits > 0 {
			if errUpdate := tx.Model(&models.Subscription{}).
				Where("id = ?", entry.SubscriptionID).
				Update("total_usage", gorm.Expr("total_usage + ?", entry.CostUnits)).Error; errUpdate != nil {
				return errUpdate
			}
		}
		if !entry.Success {
			if errUpdate := tx.Model(&models.APIKey{}).
				Where("subscription_id = ? AND key_prefix = ?", entry.SubscriptionID, entry.KeyPrefix).
				Update("failed_requests", gorm.Expr("failed_requests + 1")).Error; errUpdate != nil {
				return errUpdate
			}
		}
		return nil
	}); errTx != nil {
		log.WithError(errTx).Warn("usage: failed to persist usage record")
		return
	}

	if entry.Success {
		s.notifier.Observe(dbCtx, entry.SubscriptionID)
	}
}

func marshalMetadata(metadata map[string]any) datatypes.JSON {
	if len(metadata) == 0 {
		return nil
	}
	raw, errMarshal := json.Marshal(metadata)
	if errMarshal != nil {
		log.WithError(errMarshal).Debug("usage: metadata marshal failed")
		return nil
	}
	return datatypes.JSON(raw)
}

// Ensure GormSink implements Sink.
var _ Sink = (*GormSink)(nil)
