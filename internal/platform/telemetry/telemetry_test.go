package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTestProvider(t *testing.T, cfg TelemetryConfig) (*TelemetryProvider, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	tp, err := NewTelemetryProvider(context.Background(), cfg, WithSpanProcessor(spans), WithMetricReader(reader))
	if err != nil {
		t.Fatalf("NewTelemetryProvider: %v", err)
	}
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, spans, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

// ---------------------------------------------------------------------------
// Config defaults
// ---------------------------------------------------------------------------

func TestTelemetryConfig_Defaults(t *testing.T) {
	tp, _, _ := newTestProvider(t, TelemetryConfig{})

	if tp.cfg.ServiceName != "xchange" {
		t.Fatalf("expected default ServiceName='xchange', got %q", tp.cfg.ServiceName)
	}
	if tp.cfg.ServiceVersion != "0.0.0" {
		t.Fatalf("expected default ServiceVersion='0.0.0', got %q", tp.cfg.ServiceVersion)
	}
	if tp.cfg.Environment != "development" {
		t.Fatalf("expected default Environment='development', got %q", tp.cfg.Environment)
	}
	if tp.cfg.SampleRate != 1.0 {
		t.Fatalf("expected default SampleRate=1.0, got %f", tp.cfg.SampleRate)
	}
	if tp.cfg.MetricsInterval != 15*time.Second {
		t.Fatalf("expected default MetricsInterval=15s, got %v", tp.cfg.MetricsInterval)
	}
	if !tp.cfg.metricsOn() || !tp.cfg.tracingOn() {
		t.Fatal("expected metrics and tracing enabled by default")
	}
}

func TestProvider_Resource(t *testing.T) {
	tp, _, _ := newTestProvider(t, TelemetryConfig{
		ServiceName:    "xchange-test",
		ServiceVersion: "1.2.3",
		Environment:    "production",
	})

	res := tp.Resource()
	if res["service.name"] != "xchange-test" {
		t.Errorf("expected service.name 'xchange-test', got %q", res["service.name"])
	}
	if res["service.version"] != "1.2.3" {
		t.Errorf("expected service.version '1.2.3', got %q", res["service.version"])
	}
	if res["deployment.environment"] != "production" {
		t.Errorf("expected deployment.environment 'production', got %q", res["deployment.environment"])
	}
}

func TestShutdown_Clean(t *testing.T) {
	tp, err := NewTelemetryProvider(context.Background(), TelemetryConfig{})
	if err != nil {
		t.Fatalf("NewTelemetryProvider: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// TracingMiddleware
// ---------------------------------------------------------------------------

func TestTracingMiddleware_CreatesSpan(t *testing.T) {
	tp, spans, _ := newTestProvider(t, TelemetryConfig{})

	var handlerSpan trace.SpanContext
	e := echo.New()
	e.Use(tp.TracingMiddleware())
	e.POST("/api/v1/xcpd/classify", func(c echo.Context) error {
		handlerSpan = trace.SpanContextFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/xcpd/classify", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	ended := spans.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	span := ended[0]
	if span.Name() != "HTTP POST /api/v1/xcpd/classify" {
		t.Errorf("expected span name 'HTTP POST /api/v1/xcpd/classify', got %q", span.Name())
	}
	if span.SpanKind() != trace.SpanKindServer {
		t.Errorf("expected server span, got %v", span.SpanKind())
	}
	if v, ok := spanAttr(span, "http.route"); !ok || v.AsString() != "/api/v1/xcpd/classify" {
		t.Errorf("expected http.route attribute, got %v", v)
	}
	if v, ok := spanAttr(span, "http.status_code"); !ok || v.AsInt64() != 200 {
		t.Errorf("expected http.status_code=200, got %v", v)
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("expected Ok status, got %v", span.Status().Code)
	}
	if handlerSpan.SpanID() != span.SpanContext().SpanID() {
		t.Error("expected handler context to carry the request span")
	}
}

func TestTracingMiddleware_PropagatesParent(t *testing.T) {
	tp, spans, _ := newTestProvider(t, TelemetryConfig{})

	e := echo.New()
	e.Use(tp.TracingMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	e.ServeHTTP(httptest.NewRecorder(), req)

	ended := spans.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	if got := ended[0].SpanContext().TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("expected propagated trace id, got %s", got)
	}
	if got := ended[0].Parent().SpanID().String(); got != "00f067aa0ba902b7" {
		t.Errorf("expected remote parent span id, got %s", got)
	}
}

func TestTracingMiddleware_SpanStatusError(t *testing.T) {
	tp, spans, _ := newTestProvider(t, TelemetryConfig{})

	e := echo.New()
	e.Use(tp.TracingMiddleware())
	e.GET("/fail", func(c echo.Context) error {
		return errors.New("boom")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	ended := spans.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	if ended[0].Status().Code != codes.Error {
		t.Errorf("expected Error status, got %v", ended[0].Status().Code)
	}
	if v, _ := spanAttr(ended[0], "http.status_code"); v.AsInt64() != 500 {
		t.Errorf("expected http.status_code=500, got %v", v.AsInt64())
	}
}

func TestTracingMiddleware_RequestID(t *testing.T) {
	tp, spans, _ := newTestProvider(t, TelemetryConfig{})

	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("request_id", "req-123")
			return next(c)
		}
	})
	e.Use(tp.TracingMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	ended := spans.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	if v, ok := spanAttr(ended[0], "http.request_id"); !ok || v.AsString() != "req-123" {
		t.Errorf("expected http.request_id='req-123', got %v", v)
	}
}

func TestNoop_WhenDisabled(t *testing.T) {
	tp, spans, reader := newTestProvider(t, TelemetryConfig{
		MetricsEnabled: BoolPtr(false),
		TracingEnabled: BoolPtr(false),
	})

	e := echo.New()
	e.Use(tp.TracingMiddleware())
	e.Use(tp.MetricsMiddleware())
	e.GET("/test", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(spans.Ended()) != 0 {
		t.Fatalf("expected 0 spans when tracing disabled, got %d", len(spans.Ended()))
	}
	if _, ok := collect(t, reader)["http.server.request.duration"]; ok {
		t.Fatal("expected no duration metric when metrics disabled")
	}
}

// ---------------------------------------------------------------------------
// MetricsMiddleware
// ---------------------------------------------------------------------------

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	tp, _, reader := newTestProvider(t, TelemetryConfig{})

	e := echo.New()
	e.Use(tp.MetricsMiddleware())
	e.POST("/api/v1/saml/sign", func(c echo.Context) error {
		time.Sleep(5 * time.Millisecond)
		return c.String(http.StatusOK, "<signed/>")
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/saml/sign", nil))

	data, ok := collect(t, reader)["http.server.request.duration"]
	if !ok {
		t.Fatal("expected http.server.request.duration to exist")
	}
	hist, ok := data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected float64 histogram, got %T", data)
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("expected 1 data point, got %d", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("expected 1 observation, got %d", dp.Count)
	}
	if dp.Sum <= 0 {
		t.Errorf("expected positive sum, got %f", dp.Sum)
	}
	if v, ok := dp.Attributes.Value("http.route"); !ok || v.AsString() != "/api/v1/saml/sign" {
		t.Errorf("expected http.route label, got %v", v)
	}
}

func TestMetricsMiddleware_ResponseSize(t *testing.T) {
	tp, _, reader := newTestProvider(t, TelemetryConfig{})

	e := echo.New()
	e.Use(tp.MetricsMiddleware())
	e.GET("/data", func(c echo.Context) error {
		return c.String(http.StatusOK, "0123456789")
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/data", nil))

	data, ok := collect(t, reader)["http.server.response.size"]
	if !ok {
		t.Fatal("expected http.server.response.size to exist")
	}
	hist := data.(metricdata.Histogram[int64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Sum != 10 {
		t.Errorf("expected one 10-byte observation, got %+v", hist.DataPoints)
	}
}

func TestMetricsMiddleware_ActiveRequests(t *testing.T) {
	tp, _, reader := newTestProvider(t, TelemetryConfig{})

	release := make(chan struct{})
	entered := make(chan struct{})
	e := echo.New()
	e.Use(tp.MetricsMiddleware())
	e.GET("/slow", func(c echo.Context) error {
		close(entered)
		<-release
		return c.NoContent(http.StatusOK)
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/slow", nil))
	}()
	<-entered

	active := func() int64 {
		data, ok := collect(t, reader)["http.server.active_requests"]
		if !ok {
			return 0
		}
		var total int64
		for _, dp := range data.(metricdata.Sum[int64]).DataPoints {
			total += dp.Value
		}
		return total
	}

	if got := active(); got != 1 {
		t.Errorf("expected 1 active request, got %d", got)
	}
	close(release)
	wg.Wait()
	if got := active(); got != 0 {
		t.Errorf("expected 0 active requests, got %d", got)
	}
}

func TestObserveDBPool(t *testing.T) {
	tp, _, reader := newTestProvider(t, TelemetryConfig{})

	if err := tp.ObserveDBPool(func() (int32, int32) { return 3, 7 }); err != nil {
		t.Fatalf("ObserveDBPool: %v", err)
	}

	metrics := collect(t, reader)
	for name, want := range map[string]int64{"db.pool.active": 3, "db.pool.idle": 7} {
		data, ok := metrics[name]
		if !ok {
			t.Errorf("expected %s gauge", name)
			continue
		}
		gauge := data.(metricdata.Gauge[int64])
		if len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != want {
			t.Errorf("expected %s=%d, got %+v", name, want, gauge.DataPoints)
		}
	}
}
