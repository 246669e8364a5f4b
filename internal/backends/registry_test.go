package backends

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oropendola/gateway/internal/models"
)

func testProfiles() []models.ModelProfile {
	return []models.ModelProfile{
		{ModelName: "DeepSeek", EndpointURL: "http://deepseek.test", HealthStatus: models.HealthUp, SuccessRate: 100, IsActive: true},
		{ModelName: "Claude", EndpointURL: "http://claude.test", HealthStatus: models.HealthUp, SuccessRate: 100, IsActive: true},
	}
}

func TestRegistrySelectPreservesOrder(t *testing.T) {
	registry := NewRegistry(nil, nil)
	registry.Store(testProfiles())

	selected := registry.Select([]string{"Claude", "Unknown", "DeepSeek"})
	if len(selected) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(selected))
	}
	if selected[0].ModelName != "Claude" || selected[1].ModelName != "DeepSeek" {
		t.Fatalf("expected name order preserved, got %s, %s", selected[0].ModelName, selected[1].ModelName)
	}
}

func TestRegistryRecordResult(t *testing.T) {
	registry := NewRegistry(nil, nil)
	registry.Store(testProfiles())

	registry.RecordResult("DeepSeek", true, 100)
	registry.RecordResult("DeepSeek", true, 300)
	registry.RecordResult("DeepSeek", false, 0)

	profile, ok := registry.Lookup("DeepSeek")
	if !ok {
		t.Fatalf("expected profile present")
	}
	if profile.TotalRequests != 3 || profile.FailedRequests != 1 {
		t.Fatalf("expected 3 total / 1 failed, got %d/%d", profile.TotalRequests, profile.FailedRequests)
	}
	wantRate := float64(2) / 3 * 100
	if diff := profile.SuccessRate - wantRate; diff > 0.01 || diff < -0.01 {
		t.Fatalf("expected success rate ~%.2f, got %.2f", wantRate, profile.SuccessRate)
	}
	if profile.AvgLatencyMs == 0 {
		t.Fatalf("expected latency average updated")
	}

	// Other profiles untouched.
	other, _ := registry.Lookup("Claude")
	if other.TotalRequests != 0 {
		t.Fatalf("expected Claude stats untouched, got %d", other.TotalRequests)
	}
}

func TestRegistryRecordResultUnknownModel(t *testing.T) {
	registry := NewRegistry(nil, nil)
	registry.Store(testProfiles())
	registry.RecordResult("Unknown", true, 100)
}

func TestHealthCheckerProbeStatuses(t *testing.T) {
	cases := []struct {
		name string
		code int
		want models.HealthStatus
	}{
		{"ok is up", http.StatusOK, models.HealthUp},
		{"unavailable is degraded", http.StatusServiceUnavailable, models.HealthDegraded},
		{"server error is down", http.StatusInternalServerError, models.HealthDown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" {
					t.Errorf("expected /health probe, got %s", r.URL.Path)
				}
				w.WriteHeader(tc.code)
			}))
			defer server.Close()

			registry := NewRegistry(nil, nil)
			registry.Store([]models.ModelProfile{{ModelName: "M", EndpointURL: server.URL, HealthStatus: models.HealthUp, IsActive: true}})

			checker := NewHealthChecker(registry, server.Client())
			checker.CheckAll(context.Background())

			profile, _ := registry.Lookup("M")
			if profile.HealthStatus != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, profile.HealthStatus)
			}
			if profile.LastHealthCheck == nil {
				t.Fatalf("expected last health check recorded")
			}
		})
	}
}

func TestHealthCheckerUnreachableIsDown(t *testing.T) {
	registry := NewRegistry(nil, nil)
	registry.Store([]models.ModelProfile{{ModelName: "M", EndpointURL: "http://127.0.0.1:1", HealthStatus: models.HealthUp, IsActive: true}})

	checker := NewHealthChecker(registry, nil)
	checker.CheckAll(context.Background())

	profile, _ := registry.Lookup("M")
	if profile.HealthStatus != models.HealthDown {
		t.Fatalf("expected down, got %s", profile.HealthStatus)
	}
}
