package usage

import (
	"context"
	"testing"
	"time"

	"github.com/oropendola/gateway/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := conn.AutoMigrate(
		&models.Plan{}, &models.Subscription{}, &models.APIKey{}, &models.UsageLog{},
	); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func TestGormSinkRecordSuccess(t *testing.T) {
	conn := openTestDB(t)
	sub := models.Subscription{AccountID: "acct", PlanID: 1, Status: models.SubscriptionStatusActive, StartDate: time.Now()}
	if errCreate := conn.Create(&sub).Error; errCreate != nil {
		t.Fatalf("create subscription: %v", errCreate)
	}

	sink := NewGormSink(conn, nil)
	latency := 120
	sink.Record(context.Background(), Entry{
		SubscriptionID: sub.ID,
		KeyPrefix:      "sk-test1",
		Model:          "DeepSeek",
		Success:        true,
		CostUnits:      1,
		LatencyMs:      &latency,
		PriorityScore:  50,
	})

	var rows []models.UsageLog
	if errFind := conn.Find(&rows).Error; errFind != nil {
		t.Fatalf("find usage: %v", errFind)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 usage row, got %d", len(rows))
	}
	row := rows[0]
	if row.Status != models.UsageStatusSuccess {
		t.Fatalf("expected success status, got %s", row.Status)
	}
	if row.APIKeyMasked != "sk-test1****" {
		t.Fatalf("expected masked key, got %q", row.APIKeyMasked)
	}
	if row.RequestID == "" {
		t.Fatalf("expected request id assigned")
	}

	var updated models.Subscription
	if errFind := conn.Take(&updated, sub.ID).Error; errFind != nil {
		t.Fatalf("reload subscription: %v", errFind)
	}
	if updated.TotalUsage != 1 {
		t.Fatalf("expected total usage rolled forward, got %f", updated.TotalUsage)
	}
}

func TestGormSinkRecordFailure(t *testing.T) {
	conn := openTestDB(t)
	sink := NewGormSink(conn, nil)
	sink.Record(context.Background(), Entry{
		SubscriptionID: 42,
		Model:          "Claude",
		Success:        false,
		CostUnits:      1,
		ErrorMessage:   "upstream timeout",
	})

	var row models.UsageLog
	if errFind := conn.Take(&row).Error; errFind != nil {
		t.Fatalf("find usage: %v", errFind)
	}
	if row.Status != models.UsageStatusFailed {
		t.Fatalf("expected failed status, got %s", row.Status)
	}
	if row.ErrorMessage != "upstream timeout" {
		t.Fatalf("expected error message kept, got %q", row.ErrorMessage)
	}
}

type captureNotifier struct {
	calls int
	spent float64
	limit float64
}

func (c *captureNotifier) BudgetExceeded(_ uint64, spent, limit float64) {
	c.calls++
	c.spent = spent
	c.limit = limit
}

func TestBudgetNotifierFiresOncePerMonth(t *testing.T) {
	conn := openTestDB(t)
	plan := models.Plan{Name: "pro", MonthlyBudgetLimit: 2, IsEnabled: true}
	if errCreate := conn.Create(&plan).Error; errCreate != nil {
		t.Fatalf("create plan: %v", errCreate)
	}
	sub := models.Subscription{AccountID: "acct", PlanID: plan.ID, Status: models.SubscriptionStatusActive, StartDate: time.Now()}
	if errCreate := conn.Create(&sub).Error; errCreate != nil {
		t.Fatalf("create subscription: %v", errCreate)
	}

	captured := &captureNotifier{}
	notifier := NewBudgetNotifier(conn, captured, nil)
	ctx := context.Background()

	// Below the limit: no notification.
	logRow := models.UsageLog{RequestID: "r1", SubscriptionID: sub.ID, Model: "DeepSeek", Status: models.UsageStatusSuccess, CostUnits: 1, CreatedAt: time.Now().UTC()}
	if errCreate := conn.Create(&logRow).Error; errCreate != nil {
		t.Fatalf("create usage: %v", errCreate)
	}
	notifier.Observe(ctx, sub.ID)
	if captured.calls != 0 {
		t.Fatalf("expected no notification below limit")
	}

	// Crossing the limit notifies once, then suppresses repeats.
	logRow = models.UsageLog{RequestID: "r2", SubscriptionID: sub.ID, Model: "DeepSeek", Status: models.UsageStatusSuccess, CostUnits: 1.5, CreatedAt: time.Now().UTC()}
	if errCreate := conn.Create(&logRow).Error; errCreate != nil {
		t.Fatalf("create usage: %v", errCreate)
	}
	notifier.Observe(ctx, sub.ID)
	notifier.Observe(ctx, sub.ID)
	if captured.calls != 1 {
		t.Fatalf("expected exactly one notification, got %d", captured.calls)
	}
	if captured.limit != 2 || captured.spent < 2 {
		t.Fatalf("expected spent>=2 limit=2, got spent=%f limit=%f", captured.spent, captured.limit)
	}
}
