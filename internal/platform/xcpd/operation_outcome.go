package xcpd

// Issue severities.
const (
	IssueSeverityError       = "error"
	IssueSeverityInformation = "information"
)

// Issue type codes used by discovery outcomes. http-error is not a FHIR
// issue type; gateways and consumers of these outcomes agree on it.
const (
	IssueTypeHTTPError     = "http-error"
	IssueTypeNotFound      = "not-found"
	IssueTypeInformational = "informational"
	IssueTypeStructure     = "structure"
)

// OperationOutcome describes why a discovery request ended the way it did.
type OperationOutcome struct {
	ResourceType string  `json:"resourceType"`
	ID           string  `json:"id,omitempty"`
	Issue        []Issue `json:"issue"`
}

// Issue is a single OperationOutcome issue.
type Issue struct {
	Severity string        `json:"severity"`
	Code     string        `json:"code,omitempty"`
	Details  *IssueDetails `json:"details,omitempty"`
}

// IssueDetails carries the human-readable issue text.
type IssueDetails struct {
	Text string `json:"text,omitempty"`
}

// OutcomeBuilder provides a fluent API for constructing OperationOutcome resources.
type OutcomeBuilder struct {
	outcome *OperationOutcome
}

// NewOutcomeBuilder creates a builder for the outcome of request id.
func NewOutcomeBuilder(id string) *OutcomeBuilder {
	return &OutcomeBuilder{
		outcome: &OperationOutcome{
			ResourceType: "OperationOutcome",
			ID:           id,
		},
	}
}

// AddIssue adds an issue. Empty code and text are omitted.
func (b *OutcomeBuilder) AddIssue(severity, code, text string) *OutcomeBuilder {
	issue := Issue{Severity: severity, Code: code}
	if text != "" {
		issue.Details = &IssueDetails{Text: text}
	}
	b.outcome.Issue = append(b.outcome.Issue, issue)
	return b
}

// Build returns the constructed OperationOutcome.
func (b *OutcomeBuilder) Build() *OperationOutcome {
	return b.outcome
}

// HasErrors returns true if the outcome contains any error issues.
func (o *OperationOutcome) HasErrors() bool {
	for _, issue := range o.Issue {
		if issue.Severity == IssueSeverityError {
			return true
		}
	}
	return false
}
