package xcpd

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Report is the context sent to the error sink when a gateway replies with
// anything other than a match or a clean not-found.
type Report struct {
	Message           string          `json:"message"`
	Context           string          `json:"context"`
	OutboundRequest   OutboundRequest `json:"outboundRequest"`
	Gateway           Gateway         `json:"gateway"`
	PatientID         string          `json:"patientId,omitempty"`
	CxID              string          `json:"cxId,omitempty"`
	AckCode           string          `json:"ackCode,omitempty"`
	QueryResponseCode string          `json:"queryResponseCode,omitempty"`
	ParseError        string          `json:"parseError,omitempty"`
	Response          string          `json:"response,omitempty"`
}

// Reporter is an operational-visibility sink for application errors.
type Reporter interface {
	Report(ctx context.Context, r *Report) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, r *Report) error

// Report calls f.
func (f ReporterFunc) Report(ctx context.Context, r *Report) error {
	return f(ctx, r)
}

// LogReporter writes reports as structured error logs.
type LogReporter struct {
	logger zerolog.Logger
}

// NewLogReporter creates a reporter that logs to logger.
func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

// Report logs r at error level. The raw response may carry demographics and
// is logged at debug level.
func (l *LogReporter) Report(_ context.Context, r *Report) error {
	l.logger.Error().
		Str("context", r.Context).
		Str("request_id", r.OutboundRequest.ID).
		Str("cx_id", r.CxID).
		Str("patient_id", r.PatientID).
		Str("gateway", r.Gateway.HomeCommunityID).
		Str("gateway_url", r.Gateway.URL).
		Str("ack", r.AckCode).
		Str("query_response_code", r.QueryResponseCode).
		Str("parse_error", r.ParseError).
		Msg(r.Message)
	l.logger.Debug().
		Str("request_id", r.OutboundRequest.ID).
		Str("response", r.Response).
		Msg("xcpd gateway response")
	return nil
}

// MultiReporter fans a report out to several sinks. Every sink is called
// even when an earlier one fails.
type MultiReporter []Reporter

// Report sends r to every sink and joins their errors.
func (m MultiReporter) Report(ctx context.Context, r *Report) error {
	var errs []error
	for _, rep := range m {
		if rep == nil {
			continue
		}
		if err := rep.Report(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
