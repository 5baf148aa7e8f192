// Package observability provides health checks, metrics, and tracing capabilities
package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HealthChecker defines an interface for components that can report their health status
type HealthChecker interface {
	// HealthCheck returns nil if healthy, error if unhealthy
	HealthCheck(ctx context.Context) error
	// Name returns the name of the component being checked
	Name() string
}

// ReadinessChecker defines an interface for components that can report their readiness status
type ReadinessChecker interface {
	// ReadinessCheck returns nil if ready, error if not ready
	ReadinessCheck(ctx context.Context) error
	// Name returns the name of the component being checked
	Name() string
}

// ComponentStatus represents the status of a single checked component
type ComponentStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Report represents the aggregated result of a set of checks
type Report struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentStatus `json:"components"`
}

// HealthManager manages health and readiness checks
type HealthManager struct {
	logger            *zap.SugaredLogger
	healthCheckers    []HealthChecker
	readinessCheckers []ReadinessChecker
	timeout           time.Duration
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger *zap.SugaredLogger) *HealthManager {
	return &HealthManager{
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// AddHealthChecker registers a health checker
func (hm *HealthManager) AddHealthChecker(checker HealthChecker) {
	hm.healthCheckers = append(hm.healthCheckers, checker)
}

// AddReadinessChecker registers a readiness checker
func (hm *HealthManager) AddReadinessChecker(checker ReadinessChecker) {
	hm.readinessCheckers = append(hm.readinessCheckers, checker)
}

// SetTimeout sets the timeout for health checks
func (hm *HealthManager) SetTimeout(timeout time.Duration) {
	hm.timeout = timeout
}

// HealthzHandler returns an HTTP handler for the /healthz endpoint
func (hm *HealthManager) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), hm.timeout)
		defer cancel()

		report := hm.checkHealth(ctx)

		statusCode := http.StatusOK
		if report.Status != "healthy" {
			statusCode = http.StatusServiceUnavailable
		}

		hm.writeJSONResponse(w, statusCode, report)
	}
}

// ReadyzHandler returns an HTTP handler for the /readyz endpoint
func (hm *HealthManager) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), hm.timeout)
		defer cancel()

		report := hm.checkReadiness(ctx)

		statusCode := http.StatusOK
		if report.Status != "ready" {
			statusCode = http.StatusServiceUnavailable
		}

		hm.writeJSONResponse(w, statusCode, report)
	}
}

// namedCheck is a single check against one component
type namedCheck struct {
	name  string
	check func(ctx context.Context) error
}

// runChecks runs every check and aggregates the result: one failing
// component fails the whole report.
func (hm *HealthManager) runChecks(ctx context.Context, checks []namedCheck, okWord, failWord string) Report {
	report := Report{
		Status:     okWord,
		Timestamp:  time.Now(),
		Components: make([]ComponentStatus, 0, len(checks)),
	}

	for _, c := range checks {
		start := time.Now()
		status := ComponentStatus{
			Name:   c.name,
			Status: okWord,
		}

		if err := c.check(ctx); err != nil {
			status.Status = failWord
			status.Error = err.Error()
			report.Status = failWord
			hm.logger.Warnw("Component check failed",
				"component", c.name,
				"error", err)
		}

		status.Latency = time.Since(start).String()
		report.Components = append(report.Components, status)
	}

	return report
}

// checkHealth performs all health checks
func (hm *HealthManager) checkHealth(ctx context.Context) Report {
	checks := make([]namedCheck, 0, len(hm.healthCheckers))
	for _, checker := range hm.healthCheckers {
		checks = append(checks, namedCheck{name: checker.Name(), check: checker.HealthCheck})
	}
	return hm.runChecks(ctx, checks, "healthy", "unhealthy")
}

// checkReadiness performs all readiness checks
func (hm *HealthManager) checkReadiness(ctx context.Context) Report {
	checks := make([]namedCheck, 0, len(hm.readinessCheckers))
	for _, checker := range hm.readinessCheckers {
		checks = append(checks, namedCheck{name: checker.Name(), check: checker.ReadinessCheck})
	}
	return hm.runChecks(ctx, checks, "ready", "not_ready")
}

// writeJSONResponse writes a JSON response
func (hm *HealthManager) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		hm.logger.Errorw("Failed to encode health response", "error", err)
	}
}

// GetHealthStatus returns the current health status without HTTP context
func (hm *HealthManager) GetHealthStatus() Report {
	ctx, cancel := context.WithTimeout(context.Background(), hm.timeout)
	defer cancel()
	return hm.checkHealth(ctx)
}

// GetReadinessStatus returns the current readiness status without HTTP context
func (hm *HealthManager) GetReadinessStatus() Report {
	ctx, cancel := context.WithTimeout(context.Background(), hm.timeout)
	defer cancel()
	return hm.checkReadiness(ctx)
}

// IsHealthy returns true if all health checks pass
func (hm *HealthManager) IsHealthy() bool {
	return hm.GetHealthStatus().Status == "healthy"
}

// IsReady returns true if all readiness checks pass
func (hm *HealthManager) IsReady() bool {
	return hm.GetReadinessStatus().Status == "ready"
}
