package backends

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/oropendola/gateway/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type snapshot struct {
	updatedAt time.Time
	byName    map[string]models.ModelProfile
	ordered   []string
}

// Registry holds a read-mostly snapshot of model profiles for the routing
// hot path. The snapshot is replaced wholesale on refresh; readers never
// block writers. Statistics updates are read-modify-write and approximate
// under concurrency, which router semantics tolerate.
type Registry struct {
	db    *gorm.DB
	nowFn func() time.Time

	snap atomic.Value
}

// NewRegistry constructs a Registry backed by the application database.
func NewRegistry(db *gorm.DB, nowFn func() time.Time) *Registry {
	if nowFn == nil {
		nowFn = time.Now
	}
	r := &Registry{db: db, nowFn: nowFn}
	r.snap.Store(snapshot{byName: make(map[string]models.ModelProfile)})
	return r
}

// Refresh reloads all model profiles from the database into the snapshot.
func (r *Registry) Refresh(ctx context.Context) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("backends: registry not initialized")
	}

	var rows []models.ModelProfile
	if errFind := r.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; errFind != nil {
		return fmt.Errorf("backends: load profiles: %w", errFind)
	}
	r.store(rows)
	return nil
}

// Store replaces the snapshot with the given profiles. Used by tests and by
// callers that already hold fresh rows.
func (r *Registry) Store(rows []models.ModelProfile) {
	r.store(rows)
}

func (r *Registry) store(rows []models.ModelProfile) {
	next := snapshot{
		updatedAt: r.nowFn().UTC(),
		byName:    make(map[string]models.ModelProfile, len(rows)),
		ordered:   make([]string, 0, len(rows)),
	}
	for _, row := range rows {
		if row.ModelName == "" {
			continue
		}
		if _, ok := next.byName[row.ModelName]; ok {
			continue
		}
		next.byName[row.ModelName] = row
		next.ordered = append(next.ordered, row.ModelName)
	}
	r.snap.Store(next)
}

func (r *Registry) load() snapshot {
	snap, ok := r.snap.Load().(snapshot)
	if !ok || snap.byName == nil {
		return snapshot{byName: make(map[string]models.ModelProfile)}
	}
	return snap
}

// Lookup returns the profile for a model name.
func (r *Registry) Lookup(name string) (models.ModelProfile, bool) {
	profile, ok := r.load().byName[name]
	return profile, ok
}

// Select returns the profiles for the given names, preserving name order and
// skipping unknown entries.
func (r *Registry) Select(names []string) []models.ModelProfile {
	snap := r.load()
	out := make([]models.ModelProfile, 0, len(names))
	for _, name := range names {
		if profile, ok := snap.byName[name]; ok {
			out = append(out, profile)
		}
	}
	return out
}

// All returns every profile in insertion order.
func (r *Registry) All() []models.ModelProfile {
	snap := r.load()
	out := make([]models.ModelProfile, 0, len(snap.ordered))
	for _, name := range snap.ordered {
		out = append(out, snap.byName[name])
	}
	return out
}

// RecordResult folds one call outcome into the profile's rolling statistics
// and persists them best-effort. The rolling latency average weighs the new
// sample by the lifetime request count, matching how the success rate is
// derived from lifetime totals.
func (r *Registry) RecordResult(name string, success bool, latencyMs int) {
	if r == nil {
		return
	}
	snap := r.load()
	profile, ok := snap.byName[name]
	if !ok {
		return
	}

	profile.TotalRequests++
	if !success {
		profile.FailedRequests++
	}
	total := profile.TotalRequests
	profile.SuccessRate = float64(total-profile.FailedRequests) / float64(total) * 100

	if success && latencyMs > 0 {
		prevAvg := float64(profile.AvgLatencyMs)
		profile.AvgLatencyMs = int((prevAvg*float64(total-1) + float64(latencyMs)) / float64(total))
	}

	// Replace only this entry in a copied snapshot.
	next := snapshot{
		updatedAt: snap.updatedAt,
		byName:    make(map[string]models.ModelProfile, len(snap.byName)),
		ordered:   snap.ordered,
	}
	for key, value := range snap.byName {
		next.byName[key] = value
	}
	next.byName[name] = profile
	r.snap.Store(next)

	r.persistStats(profile)
}

func (r *Registry) persistStats(profile models.ModelProfile) {
	if r.db == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if errUpdate := r.db.WithContext(ctx).
			Model(&models.ModelProfile{}).
			Where("model_name = ?", profile.ModelName).
			Updates(map[string]any{
				"total_requests":  profile.TotalRequests,
				"failed_requests": profile.FailedRequests,
				"success_rate":    profile.SuccessRate,
				"avg_latency_ms":  profile.AvgLatencyMs,
			}).Error; errUpdate != nil {
			log.WithError(errUpdate).Warn("backends: stats persist failed")
		}
	}()
}

// SetHealth updates the health state for a profile in snapshot and storage.
func (r *Registry) SetHealth(ctx context.Context, name string, status models.HealthStatus, latencyMs int) {
	if r == nil {
		return
	}
	snap := r.load()
	profile, ok := snap.byName[name]
	if !ok {
		return
	}
	now := r.nowFn().UTC()
	profile.HealthStatus = status
	profile.LastHealthCheck = &now
	if latencyMs > 0 {
		profile.AvgLatencyMs = latencyMs
	}

	next := snapshot{
		updatedAt: snap.updatedAt,
		byName:    make(map[string]models.ModelProfile, len(snap.byName)),
		ordered:   snap.ordered,
	}
	for key, value := range snap.byName {
		next.byName[key] = value
	}
	next.byName[name] = profile
	r.snap.Store(next)

	if r.db == nil {
		return
	}
	if errUpdate := r.db.WithContext(ctx).
		Model(&models.ModelProfile{}).
		Where("model_name = ?", name).
		Updates(map[string]any{
			"health_status":     status,
			"last_health_check": now,
		}).Error; errUpdate != nil {
		log.WithError(errUpdate).Warn("backends: health persist failed")
	}
}

// RunRefresher reloads the snapshot on an interval until ctx is cancelled.
func (r *Registry) RunRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if errRefresh := r.Refresh(ctx); errRefresh != nil {
				log.WithError(errRefresh).Warn("backends: snapshot refresh failed")
			}
		}
	}
}
