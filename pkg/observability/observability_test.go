package observability

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

// sample finds the exposition line for name carrying every label and
// returns its value.
func sample(t *testing.T, out, name string, labels ...string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, name+"{") && !strings.HasPrefix(line, name+" ") {
			continue
		}
		matched := true
		for _, l := range labels {
			if !strings.Contains(line, l) {
				matched = false
				break
			}
		}
		if matched {
			return line[strings.LastIndex(line, " ")+1:]
		}
	}
	t.Fatalf("no %s sample with labels %v in:\n%s", name, labels, out)
	return ""
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	assert.Equal(t, DefaultServiceName, cfg.Tracing.ServiceName)
	assert.Equal(t, ExporterOTLP, cfg.Tracing.Exporter)
	assert.Equal(t, DefaultOTLPEndpoint, cfg.Tracing.Endpoint)
	assert.Equal(t, 1.0, cfg.Tracing.SamplingRate)
	assert.True(t, cfg.Tracing.IsInsecure())
	assert.Equal(t, 10*time.Second, cfg.Tracing.Timeout)
	assert.NotEmpty(t, cfg.Tracing.ServiceVersion)
	assert.Equal(t, "/metrics", cfg.Metrics.Endpoint)
	assert.Equal(t, "sprout", cfg.Metrics.Namespace)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "bad sampling rate",
			cfg:     Config{Tracing: TracingConfig{Enabled: true, Exporter: ExporterStdout, SamplingRate: 1.5}},
			wantErr: "sampling_rate",
		},
		{
			name:    "unknown exporter",
			cfg:     Config{Tracing: TracingConfig{Enabled: true, Exporter: "zipkin", SamplingRate: 1}},
			wantErr: "invalid exporter",
		},
		{
			name:    "relative metrics path",
			cfg:     Config{Metrics: MetricsConfig{Enabled: true, Endpoint: "metrics"}},
			wantErr: "absolute path",
		},
		{
			name: "disabled sections are not validated",
			cfg:  Config{Tracing: TracingConfig{Exporter: "zipkin"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMetricsDisabledIsNil(t *testing.T) {
	m, err := NewMetrics(&MetricsConfig{})
	require.NoError(t, err)
	assert.Nil(t, m)

	// Every recording method is safe on a nil receiver.
	ctx := context.Background()
	m.RecordDecision(ctx, "web_search", "admitted")
	m.RecordCommit(ctx, "web_search", 1)
	m.RecordLedgerOp(ctx, "memory", "peek", time.Millisecond, nil)
	m.RecordSessionOpened(ctx)
	m.RecordSessionEnded(ctx, "closed")
	m.RecordHTTPRequest(ctx, http.MethodGet, "/health", 200, time.Millisecond, 2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NoError(t, m.Shutdown(ctx))
}

func TestMetricsExposition(t *testing.T) {
	m, err := NewMetrics(&MetricsConfig{Enabled: true, ConstLabels: map[string]string{"site": "nursery"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	ctx := context.Background()
	m.RecordDecision(ctx, "text_generation", "admitted")
	m.RecordDecision(ctx, "text_generation", "daily_exceeded")
	m.RecordCommit(ctx, "text_generation", 420)
	m.RecordLedgerOp(ctx, "sql", "increment", 2*time.Millisecond, nil)
	m.RecordLedgerOp(ctx, "sql", "peek", time.Millisecond, errors.New("down"))
	m.RecordSessionOpened(ctx)
	m.RecordSessionOpened(ctx)
	m.RecordSessionEnded(ctx, "expired")

	out := scrape(t, m.Handler())

	assert.Equal(t, "1", sample(t, out, "sprout_governor_decisions_total",
		`outcome="admitted"`, `provider="text_generation"`, `reason="admitted"`, `site="nursery"`))
	assert.Equal(t, "1", sample(t, out, "sprout_governor_decisions_total",
		`outcome="denied"`, `reason="daily_exceeded"`))
	assert.Equal(t, "420", sample(t, out, "sprout_governor_committed_units_total", `provider="text_generation"`))
	assert.Equal(t, "1", sample(t, out, "sprout_ledger_errors_total", `backend="sql"`, `op="peek"`))
	assert.Equal(t, "1", sample(t, out, "sprout_ledger_operation_duration_seconds_count", `backend="sql"`, `op="increment"`))
	assert.Equal(t, "1", sample(t, out, "sprout_sessions_active"))
	assert.Equal(t, "1", sample(t, out, "sprout_sessions_ended_total", `state="expired"`))
}

func TestManagerNoop(t *testing.T) {
	m, err := NewManager(context.Background(), nil)
	require.NoError(t, err)

	assert.Nil(t, m.Tracer())
	assert.Nil(t, m.Metrics())
	assert.False(t, m.MetricsEnabled())
	assert.Equal(t, "/metrics", m.MetricsPath())

	ctx, span := m.Tracer().Start(context.Background(), "noop")
	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestManagerInvalidConfig(t *testing.T) {
	_, err := NewManager(context.Background(), &Config{
		Tracing: TracingConfig{Enabled: true, Exporter: "carrier-pigeon"},
	})
	assert.Error(t, err)
}

func TestStdoutTracer(t *testing.T) {
	var buf bytes.Buffer
	tracer, err := NewTracer(context.Background(), &TracingConfig{Enabled: true, Exporter: ExporterStdout}, WithWriter(&buf))
	require.NoError(t, err)
	require.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "session.send")
	span.End()
	require.NoError(t, tracer.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "session.send")
}

func TestHTTPMiddleware(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := NewTracer(context.Background(), &TracingConfig{Enabled: true}, WithSpanExporter(exporter))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })

	metrics, err := NewMetrics(&MetricsConfig{Enabled: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = metrics.Shutdown(context.Background()) })

	handler := HTTPMiddleware(tracer, metrics, func(*http.Request) string { return "/api/chat/sessions/{token}" })(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusGone)
			_, _ = w.Write([]byte("gone"))
		}),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/chat/sessions/abc", nil))
	assert.Equal(t, http.StatusGone, rec.Code)

	require.NoError(t, tracer.ForceFlush(context.Background()))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "DELETE /api/chat/sessions/{token}", spans[0].Name)

	out := scrape(t, metrics.Handler())
	assert.Equal(t, "1", sample(t, out, "sprout_http_requests_total",
		`method="DELETE"`, `route="/api/chat/sessions/{token}"`, `status="410"`))
}
