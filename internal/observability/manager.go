package observability

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Tool call status constants
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Config holds configuration for observability features
type Config struct {
	Health  HealthConfig  `json:"health"`
	Metrics MetricsConfig `json:"metrics"`
	Tracing TracingConfig `json:"tracing"`
}

// HealthConfig holds configuration for health checks
type HealthConfig struct {
	Enabled bool          `json:"enabled"`
	Timeout time.Duration `json:"timeout"`
}

// MetricsConfig holds configuration for metrics
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// DefaultConfig returns a default observability configuration
func DefaultConfig(serviceName, serviceVersion string) Config {
	return Config{
		Health: HealthConfig{
			Enabled: true,
			Timeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Tracing: TracingConfig{
			Enabled:        false, // Disabled by default
			ServiceName:    serviceName,
			ServiceVersion: serviceVersion,
			OTLPEndpoint:   "localhost:4318",
			SampleRate:     0.1, // 10% sampling
		},
	}
}

// Manager coordinates all observability features
type Manager struct {
	logger  *zap.SugaredLogger
	config  Config
	health  *HealthManager
	metrics *MetricsManager
	tracing *TracingManager

	startTime time.Time
}

// NewManager creates a new observability manager
func NewManager(logger *zap.SugaredLogger, config Config) (*Manager, error) {
	manager := &Manager{
		logger:    logger,
		config:    config,
		startTime: time.Now(),
	}

	if config.Health.Enabled {
		manager.health = NewHealthManager(logger)
		manager.health.SetTimeout(config.Health.Timeout)
		logger.Info("Health checks enabled")
	}

	if config.Metrics.Enabled {
		manager.metrics = NewMetricsManager(logger)
		logger.Info("Prometheus metrics enabled")
	}

	if config.Tracing.Enabled {
		var err error
		manager.tracing, err = NewTracingManager(logger, config.Tracing)
		if err != nil {
			return nil, err
		}
	}

	return manager, nil
}

// Health returns the health manager
func (m *Manager) Health() *HealthManager {
	return m.health
}

// Metrics returns the metrics manager
func (m *Manager) Metrics() *MetricsManager {
	return m.metrics
}

// Tracing returns the tracing manager
func (m *Manager) Tracing() *TracingManager {
	return m.tracing
}

// RegisterHealthChecker registers a health checker
func (m *Manager) RegisterHealthChecker(checker HealthChecker) {
	if m.health != nil {
		m.health.AddHealthChecker(checker)
	}
}

// RegisterReadinessChecker registers a readiness checker
func (m *Manager) RegisterReadinessChecker(checker ReadinessChecker) {
	if m.health != nil {
		m.health.AddReadinessChecker(checker)
	}
}

// HTTPMiddleware returns combined HTTP middleware for observability
func (m *Manager) HTTPMiddleware() func(http.Handler) http.Handler {
	middlewares := make([]func(http.Handler) http.Handler, 0)

	if m.metrics != nil {
		middlewares = append(middlewares, m.metrics.HTTPMiddleware())
	}

	if m.tracing != nil {
		middlewares = append(middlewares, m.tracing.HTTPMiddleware())
	}

	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// UpdateMetrics updates metrics that derive from process state
func (m *Manager) UpdateMetrics() {
	if m.metrics == nil {
		return
	}

	m.metrics.SetUptime(m.startTime)
}

// Close gracefully shuts down observability components
func (m *Manager) Close(ctx context.Context) error {
	if m.tracing != nil {
		if err := m.tracing.Close(ctx); err != nil {
			m.logger.Errorw("Failed to close tracing manager", "error", err)
			return err
		}
	}
	return nil
}

// IsHealthy returns true if all health checks pass
func (m *Manager) IsHealthy() bool {
	if m.health == nil {
		return true
	}
	return m.health.IsHealthy()
}

// IsReady returns true if all readiness checks pass
func (m *Manager) IsReady() bool {
	if m.health == nil {
		return true
	}
	return m.health.IsReady()
}

// RecordToolCall records metrics and tracing for one routed tool call
func (m *Manager) RecordToolCall(ctx context.Context, tool, mode, backend string, duration time.Duration, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}

	if m.metrics != nil {
		m.metrics.RecordToolCall(tool, mode, backend, status, duration)
	}

	if m.tracing != nil && err != nil {
		m.tracing.SetSpanError(ctx, err)
	}
}

// RecordConnect records the outcome of a backend connection attempt
func (m *Manager) RecordConnect(backend string, duration time.Duration, err error) {
	result := StatusSuccess
	if err != nil {
		result = "failed"
	}

	if m.metrics != nil {
		m.metrics.RecordConnect(backend, result, duration)
	}
}
