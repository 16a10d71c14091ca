// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Manager owns the process tracer and metrics.
type Manager struct {
	config  Config
	tracer  *Tracer
	metrics *Metrics
}

// NewManager initializes tracing and metrics from cfg. A nil cfg yields a
// manager with both disabled.
func NewManager(ctx context.Context, cfg *Config, opts ...TracerOption) (*Manager, error) {
	if cfg == nil {
		return NoopManager(), nil
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid observability config: %w", err)
	}

	tracer, err := NewTracer(ctx, &cfg.Tracing, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	metrics, err := NewMetrics(&cfg.Metrics)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if tracer != nil {
		slog.Info("Tracing enabled", "exporter", cfg.Tracing.Exporter, "endpoint", cfg.Tracing.Endpoint)
	}
	if metrics != nil {
		slog.Info("Metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	}

	return &Manager{config: *cfg, tracer: tracer, metrics: metrics}, nil
}

// NoopManager returns a Manager with tracing and metrics disabled.
func NoopManager() *Manager {
	return &Manager{}
}

// Tracer returns the tracer, or nil when tracing is disabled.
func (m *Manager) Tracer() *Tracer {
	if m == nil {
		return nil
	}
	return m.tracer
}

// Metrics returns the metrics, or nil when metrics are disabled.
func (m *Manager) Metrics() *Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

// MetricsEnabled reports whether the scrape endpoint should be mounted.
func (m *Manager) MetricsEnabled() bool {
	return m.Metrics() != nil
}

// MetricsPath is the configured scrape path.
func (m *Manager) MetricsPath() string {
	if m == nil || m.config.Metrics.Endpoint == "" {
		return DefaultMetricsPath
	}
	return m.config.Metrics.Endpoint
}

// MetricsHandler serves the Prometheus scrape endpoint.
func (m *Manager) MetricsHandler() http.Handler {
	return m.Metrics().Handler()
}

// Middleware returns HTTP middleware recording spans and request metrics.
func (m *Manager) Middleware(route RouteFunc) func(http.Handler) http.Handler {
	return HTTPMiddleware(m.Tracer(), m.Metrics(), route)
}

// Shutdown flushes and stops tracing and metrics.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return errors.Join(m.tracer.Shutdown(ctx), m.metrics.Shutdown(ctx))
}
