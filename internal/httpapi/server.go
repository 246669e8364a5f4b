package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oropendola/gateway/internal/backends"
	"github.com/oropendola/gateway/internal/router"

	log "github.com/sirupsen/logrus"
)

// Server exposes the routing engine over HTTP.
type Server struct {
	engine   *gin.Engine
	router   *router.Router
	registry *backends.Registry
}

// NewServer builds the gin engine and registers all routes.
func NewServer(routeEngine *router.Router, registry *backends.Registry) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{engine: engine, router: routeEngine, registry: registry}
	engine.GET("/healthz", s.health)
	engine.GET("/v1/models", s.listModels)
	engine.POST("/v1/route", s.route)
	return s
}

// Handler returns the underlying HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	log.Infof("starting gateway server on %s", addr)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			log.Errorf("server shutdown error: %v", errShutdown)
		}
	}()

	if errListen := srv.ListenAndServe(); errListen != nil && errListen != http.ErrServerClosed {
		return errListen
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// modelSummary is the public view of a model profile. Upstream endpoint and
// credential never leave the process.
type modelSummary struct {
	Name          string  `json:"name"`           // Routing name.
	HealthStatus  string  `json:"health_status"`  // Up, Degraded, or Down.
	CapacityScore int     `json:"capacity_score"` // Capacity score (0-100).
	AvgLatencyMs  int     `json:"avg_latency_ms"` // Rolling average latency.
	SuccessRate   float64 `json:"success_rate"`   // Rolling success percentage.
	IsActive      bool    `json:"is_active"`      // Whether routing may use it.
}

func (s *Server) listModels(c *gin.Context) {
	profiles := s.registry.All()
	summaries := make([]modelSummary, 0, len(profiles))
	for _, profile := range profiles {
		summaries = append(summaries, modelSummary{
			Name:          profile.ModelName,
			HealthStatus:  string(profile.HealthStatus),
			CapacityScore: profile.CapacityScore,
			AvgLatencyMs:  profile.AvgLatencyMs,
			SuccessRate:   profile.SuccessRate,
			IsActive:      profile.IsActive,
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": summaries})
}

// routeResponse is the success payload for POST /v1/route.
type routeResponse struct {
	Model          string          `json:"model"`           // Backend that served the request.
	Response       json.RawMessage `json:"response"`        // Upstream response body.
	Fallback       bool            `json:"fallback"`        // Whether a fallback backend served it.
	Complexity     string          `json:"complexity"`      // Inferred task complexity.
	Mode           string          `json:"mode"`            // Applied routing mode.
	CostUnits      int             `json:"cost_units"`      // Units charged against quota.
	LatencyMs      int             `json:"latency_ms"`      // Observed upstream latency.
	QuotaRemaining int             `json:"quota_remaining"` // Daily quota left, -1 = unlimited.
}

func (s *Server) route(c *gin.Context) {
	var payload map[string]any
	if errBind := c.ShouldBindJSON(&payload); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": router.ReasonInvalidRequest})
		return
	}

	apiKey := bearerToken(c)
	if apiKey == "" {
		apiKey, _ = payload["api_key"].(string)
	}
	if apiKey == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": router.ReasonUnauthorized})
		return
	}
	delete(payload, "api_key")

	mode, _ := payload["mode"].(string)
	sessionID, _ := payload["session_id"].(string)

	resp := s.router.Route(c.Request.Context(), router.Request{
		APIKey:    apiKey,
		Payload:   payload,
		Mode:      mode,
		SessionID: sessionID,
	})

	if resp.Status != http.StatusOK {
		if resp.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(resp.RetryAfter)))
		}
		body := gin.H{"error": resp.Reason}
		if resp.Status == http.StatusTooManyRequests {
			body["quota_remaining"] = resp.QuotaRemaining
		}
		c.JSON(resp.Status, body)
		return
	}

	c.JSON(http.StatusOK, routeResponse{
		Model:          resp.Model,
		Response:       resp.Body,
		Fallback:       resp.Fallback,
		Complexity:     string(resp.Complexity),
		Mode:           string(resp.Mode),
		CostUnits:      resp.CostUnits,
		LatencyMs:      resp.LatencyMs,
		QuotaRemaining: resp.QuotaRemaining,
	})
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// retryAfterSeconds rounds up so a sub-second hint never becomes zero.
func retryAfterSeconds(d time.Duration) int {
	seconds := int(d / time.Second)
	if d%time.Second != 0 {
		seconds++
	}
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
