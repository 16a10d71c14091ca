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
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records usage metering, session and HTTP metrics and serves
// them in the Prometheus exposition format. A nil *Metrics records nothing.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	decisions      metric.Int64Counter
	committedUnits metric.Int64Counter
	ledgerDuration metric.Float64Histogram
	ledgerErrors   metric.Int64Counter
	sessionsActive metric.Int64UpDownCounter
	sessionsOpened metric.Int64Counter
	sessionsEnded  metric.Int64Counter
	httpDuration   metric.Float64Histogram
	httpRequests   metric.Int64Counter
	httpRespBytes  metric.Int64Counter
}

// NewMetrics creates the meter provider and instruments. It returns nil
// when metrics are disabled.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	cfg.SetDefaults()

	registry := promclient.NewRegistry()
	var registerer promclient.Registerer = registry
	if len(cfg.ConstLabels) > 0 {
		registerer = promclient.WrapRegistererWith(promclient.Labels(cfg.ConstLabels), registry)
	}
	exporterOpts := []prometheus.Option{
		prometheus.WithRegisterer(registerer),
		prometheus.WithNamespace(cfg.Namespace),
		prometheus.WithoutScopeInfo(),
	}
	exporter, err := prometheus.New(exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	m := &Metrics{provider: provider, registry: registry}
	if err := m.createInstruments(provider.Meter(DefaultServiceName)); err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}
	return m, nil
}

func (m *Metrics) createInstruments(meter metric.Meter) error {
	var err error

	if m.decisions, err = meter.Int64Counter("governor_decisions",
		metric.WithDescription("Admission decisions by provider and reason"),
	); err != nil {
		return fmt.Errorf("failed to create decisions counter: %w", err)
	}

	if m.committedUnits, err = meter.Int64Counter("governor_committed_units",
		metric.WithDescription("Usage units committed to the ledger (tokens or queries)"),
	); err != nil {
		return fmt.Errorf("failed to create committed units counter: %w", err)
	}

	if m.ledgerDuration, err = meter.Float64Histogram("ledger_operation_duration",
		metric.WithDescription("Usage ledger operation duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	); err != nil {
		return fmt.Errorf("failed to create ledger duration histogram: %w", err)
	}

	if m.ledgerErrors, err = meter.Int64Counter("ledger_errors",
		metric.WithDescription("Usage ledger operations that failed"),
	); err != nil {
		return fmt.Errorf("failed to create ledger errors counter: %w", err)
	}

	if m.sessionsActive, err = meter.Int64UpDownCounter("sessions_active",
		metric.WithDescription("Chat sessions currently active"),
	); err != nil {
		return fmt.Errorf("failed to create active sessions gauge: %w", err)
	}

	if m.sessionsOpened, err = meter.Int64Counter("sessions_opened",
		metric.WithDescription("Chat sessions opened"),
	); err != nil {
		return fmt.Errorf("failed to create opened sessions counter: %w", err)
	}

	if m.sessionsEnded, err = meter.Int64Counter("sessions_ended",
		metric.WithDescription("Chat sessions ended by terminal state"),
	); err != nil {
		return fmt.Errorf("failed to create ended sessions counter: %w", err)
	}

	if m.httpDuration, err = meter.Float64Histogram("http_request_duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s"),
	); err != nil {
		return fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	if m.httpRequests, err = meter.Int64Counter("http_requests",
		metric.WithDescription("HTTP requests by method, route and status"),
	); err != nil {
		return fmt.Errorf("failed to create http requests counter: %w", err)
	}

	if m.httpRespBytes, err = meter.Int64Counter("http_response_size",
		metric.WithDescription("HTTP response bytes written"),
		metric.WithUnit("By"),
	); err != nil {
		return fmt.Errorf("failed to create http response size counter: %w", err)
	}

	return nil
}

// RecordDecision counts one admission decision.
func (m *Metrics) RecordDecision(ctx context.Context, provider, reason string) {
	if m == nil {
		return
	}
	outcome := "denied"
	if reason == "admitted" {
		outcome = "admitted"
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrProvider, provider),
		attribute.String(AttrOutcome, outcome),
		attribute.String(AttrReason, reason),
	))
}

// RecordCommit counts committed usage units.
func (m *Metrics) RecordCommit(ctx context.Context, provider string, units int64) {
	if m == nil || units <= 0 {
		return
	}
	m.committedUnits.Add(ctx, units, metric.WithAttributes(attribute.String(AttrProvider, provider)))
}

// RecordLedgerOp records the latency and outcome of a ledger call.
func (m *Metrics) RecordLedgerOp(ctx context.Context, backend, op string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrBackend, backend),
		attribute.String(AttrOp, op),
	)
	m.ledgerDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.ledgerErrors.Add(ctx, 1, attrs)
	}
}

// RecordSessionOpened counts a new active session.
func (m *Metrics) RecordSessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsActive.Add(ctx, 1)
	m.sessionsOpened.Add(ctx, 1)
}

// RecordSessionEnded moves a session out of the active gauge.
func (m *Metrics) RecordSessionEnded(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.sessionsActive.Add(ctx, -1)
	m.sessionsEnded.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrState, state)))
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration, respSize int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrMethod, method),
		attribute.String(AttrRoute, route),
		attribute.Int(AttrStatus, status),
	)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
	m.httpRequests.Add(ctx, 1, attrs)
	if respSize > 0 {
		m.httpRespBytes.Add(ctx, respSize, attrs)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics not enabled"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
