// Package xcpd classifies replies to cross-community patient discovery
// (XCPD) queries. Every reply becomes exactly one Outcome: Match, NoMatch,
// ApplicationError or TransportFailure. A gateway saying no is data, never
// an error.
package xcpd

import (
	"fmt"

	"github.com/samply/golang-fhir-models/fhir-models/fhir"
)

// Gateway identifies the responding gateway.
type Gateway struct {
	HomeCommunityID string `json:"homeCommunityId" validate:"required"`
	URL             string `json:"url,omitempty" validate:"omitempty,url"`
}

// SAMLAttributes are the assertion attributes sent with the query.
type SAMLAttributes struct {
	HomeCommunityID string `json:"homeCommunityId,omitempty"`
}

// OutboundRequest is the discovery query a reply answers.
type OutboundRequest struct {
	ID             string         `json:"id" validate:"required"`
	Timestamp      string         `json:"timestamp" validate:"required"`
	PatientID      string         `json:"patientId,omitempty"`
	CxID           string         `json:"cxId,omitempty"`
	SAMLAttributes SAMLAttributes `json:"samlAttributes"`
}

// GatewayReply is the transport layer's result for one query. When Success
// is false, Response holds the transport error text instead of XML.
type GatewayReply struct {
	Success         bool            `json:"success"`
	Response        string          `json:"response"`
	OutboundRequest OutboundRequest `json:"outboundRequest"`
	Gateway         Gateway         `json:"gateway"`
}

// Kind tags the outcome variant.
type Kind int

const (
	KindMatch Kind = iota + 1
	KindNoMatch
	KindApplicationError
	KindTransportFailure
)

var kindNames = map[Kind]string{
	KindMatch:            "match",
	KindNoMatch:          "no-match",
	KindApplicationError: "application-error",
	KindTransportFailure: "transport-failure",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("xcpd: unknown outcome kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// ExternalGatewayPatient is the responding gateway's own patient identifier.
type ExternalGatewayPatient struct {
	ID     string `json:"id,omitempty"`
	System string `json:"system,omitempty"`
}

// Outcome is the classified result of one discovery reply. PatientMatch is
// true for Match, false for NoMatch and nil otherwise.
type Outcome struct {
	Kind                   Kind                    `json:"kind"`
	ID                     string                  `json:"id"`
	Timestamp              string                  `json:"timestamp"`
	ResponseTimestamp      string                  `json:"responseTimestamp"`
	Gateway                Gateway                 `json:"gateway"`
	PatientID              string                  `json:"patientId,omitempty"`
	PatientMatch           *bool                   `json:"patientMatch"`
	GatewayHomeCommunityID string                  `json:"gatewayHomeCommunityId,omitempty"`
	OperationOutcome       *OperationOutcome       `json:"operationOutcome,omitempty"`
	PatientResource        *fhir.Patient           `json:"patientResource,omitempty"`
	ExternalGatewayPatient *ExternalGatewayPatient `json:"externalGatewayPatient,omitempty"`
}

// Issue returns the first OperationOutcome issue, or nil.
func (o *Outcome) Issue() *Issue {
	if o == nil || o.OperationOutcome == nil || len(o.OperationOutcome.Issue) == 0 {
		return nil
	}
	return &o.OperationOutcome.Issue[0]
}
