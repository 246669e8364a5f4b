package backends

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/oropendola/gateway/internal/models"

	log "github.com/sirupsen/logrus"
)

const healthProbeTimeout = 5 * time.Second

// HealthChecker probes upstream endpoints and updates registry health.
type HealthChecker struct {
	registry *Registry
	client   *http.Client
}

// NewHealthChecker constructs a HealthChecker. A nil client gets a default
// with the probe timeout applied.
func NewHealthChecker(registry *Registry, client *http.Client) *HealthChecker {
	if client == nil {
		client = &http.Client{Timeout: healthProbeTimeout}
	}
	return &HealthChecker{registry: registry, client: client}
}

// CheckAll probes every registered endpoint once.
func (h *HealthChecker) CheckAll(ctx context.Context) {
	if h == nil || h.registry == nil {
		return
	}
	for _, profile := range h.registry.All() {
		status, latencyMs := h.probe(ctx, profile)
		h.registry.SetHealth(ctx, profile.ModelName, status, latencyMs)
	}
}

// probe hits <endpoint>/health and maps the status code to a health state:
// 200 is Up, 503 is Degraded, anything else or a transport error is Down.
func (h *HealthChecker) probe(ctx context.Context, profile models.ModelProfile) (models.HealthStatus, int) {
	url := strings.TrimRight(profile.EndpointURL, "/") + "/health"
	reqCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	req, errReq := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if errReq != nil {
		return models.HealthDown, 0
	}

	start := time.Now()
	resp, errDo := h.client.Do(req)
	if errDo != nil {
		log.WithError(errDo).WithField("model", profile.ModelName).Debug("health probe failed")
		return models.HealthDown, 0
	}
	defer func() { _ = resp.Body.Close() }()
	latencyMs := int(time.Since(start).Milliseconds())

	switch {
	case resp.StatusCode == http.StatusOK:
		return models.HealthUp, latencyMs
	case resp.StatusCode == http.StatusServiceUnavailable:
		return models.HealthDegraded, latencyMs
	default:
		return models.HealthDown, latencyMs
	}
}

// Run probes all endpoints on an interval until ctx is cancelled.
func (h *HealthChecker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.CheckAll(ctx)
		}
	}
}
