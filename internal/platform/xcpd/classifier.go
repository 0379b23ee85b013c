package xcpd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/xchange/internal/platform/xmltree"
)

// Acknowledgement and query response codes.
const (
	AckApplicationAccept = "AA"
	QueryResponseOK      = "OK"
	QueryResponseNF      = "NF"
)

// ReportContext names the flow in reports sent to the error sink.
const ReportContext = "xcpd-outbound-patient-discovery"

const applicationErrorMessage = "An AbortedError (AE) was received from the responding gateway"

// responseTimestampLayout matches ISO-8601 with millisecond precision in UTC.
const responseTimestampLayout = "2006-01-02T15:04:05.000Z"

// Classifier turns gateway replies into outcomes. It performs no I/O of its
// own apart from the error report, and is safe for concurrent use.
type Classifier struct {
	reporter Reporter
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithClock sets the clock used for response timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

// WithLogger sets the logger used when the report sink fails.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Classifier) { c.logger = logger }
}

// NewClassifier creates a Classifier that sends application errors to
// reporter. A nil reporter drops reports.
func NewClassifier(reporter Reporter, opts ...Option) *Classifier {
	c := &Classifier{
		reporter: reporter,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns the outcome for reply. It never fails: transport errors,
// gateway rejections and unreadable replies are all outcomes.
func (c *Classifier) Classify(ctx context.Context, reply *GatewayReply) *Outcome {
	if !reply.Success {
		return c.transportFailure(reply)
	}

	doc, err := xmltree.Parse(reply.Response)
	if err != nil {
		return c.applicationError(ctx, reply, nil, err)
	}

	registry := doc.Path("Envelope", "Body", "PRPA_IN201306UV02")
	ack := registry.Path("acknowledgement", "typeCode").Attr("code")
	queryResponseCode := registry.Path("controlActProcess", "queryAck", "queryResponseCode").Attr("code")

	switch {
	case ack == AckApplicationAccept && queryResponseCode == QueryResponseOK:
		return c.match(reply, registry)
	case ack == AckApplicationAccept && queryResponseCode == QueryResponseNF:
		return c.noMatch(reply)
	default:
		return c.applicationError(ctx, reply, registry, nil)
	}
}

func (c *Classifier) base(reply *GatewayReply, kind Kind) *Outcome {
	return &Outcome{
		Kind:              kind,
		ID:                reply.OutboundRequest.ID,
		Timestamp:         reply.OutboundRequest.Timestamp,
		ResponseTimestamp: c.now().UTC().Format(responseTimestampLayout),
		Gateway:           reply.Gateway,
		PatientID:         reply.OutboundRequest.PatientID,
	}
}

func (c *Classifier) transportFailure(reply *GatewayReply) *Outcome {
	out := c.base(reply, KindTransportFailure)
	out.OperationOutcome = NewOutcomeBuilder(reply.OutboundRequest.ID).
		AddIssue(IssueSeverityError, IssueTypeHTTPError, reply.Response).
		Build()
	return out
}

func (c *Classifier) match(reply *GatewayReply, registry *xmltree.Node) *Outcome {
	patient := registry.Path("controlActProcess", "subject", "registrationEvent", "subject1", "patient")

	out := c.base(reply, KindMatch)
	out.PatientMatch = boolPtr(true)
	out.GatewayHomeCommunityID = reply.OutboundRequest.SAMLAttributes.HomeCommunityID
	out.PatientResource = patientResource(patient.Child("patientPerson"))
	out.ExternalGatewayPatient = &ExternalGatewayPatient{
		ID:     patient.Child("id").Attr("extension"),
		System: patient.Child("id").Attr("root"),
	}
	out.OperationOutcome = NewOutcomeBuilder(reply.OutboundRequest.ID).
		AddIssue(IssueSeverityInformation, IssueTypeInformational, QueryResponseOK).
		Build()
	return out
}

func (c *Classifier) noMatch(reply *GatewayReply) *Outcome {
	out := c.base(reply, KindNoMatch)
	out.PatientMatch = boolPtr(false)
	out.OperationOutcome = NewOutcomeBuilder(reply.OutboundRequest.ID).
		AddIssue(IssueSeverityInformation, IssueTypeNotFound, QueryResponseNF).
		Build()
	return out
}

// applicationError covers every reply that is neither a match nor a clean
// not-found, including replies that could not be parsed.
func (c *Classifier) applicationError(ctx context.Context, reply *GatewayReply, registry *xmltree.Node, parseErr error) *Outcome {
	report := &Report{
		Message:           applicationErrorMessage,
		Context:           ReportContext,
		OutboundRequest:   reply.OutboundRequest,
		Gateway:           reply.Gateway,
		PatientID:         reply.OutboundRequest.PatientID,
		CxID:              reply.OutboundRequest.CxID,
		Response:          reply.Response,
		AckCode:           registry.Path("acknowledgement", "typeCode").Attr("code"),
		QueryResponseCode: registry.Path("controlActProcess", "queryAck", "queryResponseCode").Attr("code"),
	}
	if parseErr != nil {
		report.ParseError = parseErr.Error()
	}
	c.report(ctx, report)

	builder := NewOutcomeBuilder(reply.OutboundRequest.ID)
	switch detail := registry.Path("acknowledgement", "acknowledgementDetail"); {
	case detail != nil:
		text := detail.Child("text").String()
		if text == "" {
			text = detail.Child("location").String()
		}
		builder.AddIssue(IssueSeverityError, detail.Child("code").Attr("code"), text)
	case parseErr != nil:
		builder.AddIssue(IssueSeverityError, IssueTypeStructure, fmt.Sprintf("unreadable gateway response: %v", parseErr))
	default:
		builder.AddIssue(IssueSeverityError, "", "")
	}

	out := c.base(reply, KindApplicationError)
	out.OperationOutcome = builder.Build()
	return out
}

// report hands r to the sink. Sink errors and panics are logged and
// otherwise ignored so they cannot change the outcome.
func (c *Classifier) report(ctx context.Context, r *Report) {
	if c.reporter == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error().
				Interface("panic", rec).
				Str("request_id", r.OutboundRequest.ID).
				Msg("xcpd error reporter panicked")
		}
	}()
	if err := c.reporter.Report(ctx, r); err != nil {
		c.logger.Warn().
			Err(err).
			Str("request_id", r.OutboundRequest.ID).
			Msg("xcpd error reporter failed")
	}
}

func boolPtr(b bool) *bool {
	return &b
}
