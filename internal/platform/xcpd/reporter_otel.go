package xcpd

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ApplicationErrorsMetric counts gateway application errors.
const ApplicationErrorsMetric = "xcpd_application_errors_total"

// OTelReporter records application errors on the active span and in a
// counter keyed by gateway.
type OTelReporter struct {
	counter metric.Int64Counter
}

// NewOTelReporter creates the reporter's instruments on meter.
func NewOTelReporter(meter metric.Meter) (*OTelReporter, error) {
	counter, err := meter.Int64Counter(
		ApplicationErrorsMetric,
		metric.WithDescription("XCPD replies classified as gateway application errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("xcpd: failed to create application error counter: %w", err)
	}
	return &OTelReporter{counter: counter}, nil
}

// Report adds an event to the span in ctx, marks the span as failed and
// increments the counter.
func (o *OTelReporter) Report(ctx context.Context, r *Report) error {
	attrs := []attribute.KeyValue{
		attribute.String("xcpd.request_id", r.OutboundRequest.ID),
		attribute.String("xcpd.gateway.home_community_id", r.Gateway.HomeCommunityID),
		attribute.String("xcpd.ack", r.AckCode),
		attribute.String("xcpd.query_response_code", r.QueryResponseCode),
	}

	span := trace.SpanFromContext(ctx)
	span.AddEvent("xcpd.application_error", trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, r.Message)

	o.counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("gateway", r.Gateway.HomeCommunityID),
	))
	return nil
}
