package ccda

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/samply/golang-fhir-models/fhir-models/fhir"

	"github.com/ehr/xchange/internal/platform/codesystem"
	"github.com/ehr/xchange/internal/platform/normalize"
)

// Encoder turns FHIR fragments into CDA element values. Builders never fail:
// absent or malformed input produces an absent, empty or null-flavored
// element. It is safe for concurrent use because the registry is read-only.
type Encoder struct {
	registry *codesystem.Registry
}

// NewEncoder creates an Encoder that resolves code systems through registry.
func NewEncoder(registry *codesystem.Registry) *Encoder {
	return &Encoder{registry: registry}
}

// CodeSystem maps a FHIR coding system to the value written to a CDA
// codeSystem attribute: the registered OID, the normalized OID for URN
// systems, or the input unchanged.
func (e *Encoder) CodeSystem(system string) string {
	if system == "" {
		return ""
	}
	if oid := e.registry.OID(system); oid != "" {
		return oid
	}
	if strings.Contains(system, "urn") {
		return normalize.OIDOrRaw(system)
	}
	return system
}

// BuildCodedValue builds a CV from a CodeableConcept. The first coding is
// the primary code; the rest become translations in their original order.
func (e *Encoder) BuildCodedValue(concept *fhir.CodeableConcept) *CodedValue {
	if concept == nil {
		return nil
	}

	cv := &CodedValue{OriginalText: deref(concept.Text)}
	if len(concept.Coding) == 0 {
		return cv
	}

	primary := e.buildCode(concept.Coding[0])
	if primary.Code == "" {
		primary.Code = missingCodes[deref(concept.Coding[0].System)]
	}
	cv.Code = primary.Code
	cv.CodeSystem = primary.CodeSystem
	cv.CodeSystemName = primary.CodeSystemName
	cv.DisplayName = primary.DisplayName

	if len(concept.Coding) > 1 {
		cv.Translations = make([]Code, 0, len(concept.Coding)-1)
		for _, coding := range concept.Coding[1:] {
			cv.Translations = append(cv.Translations, e.buildCode(coding))
		}
	}
	return cv
}

// missingCodes stands in for an absent primary code in the major
// terminologies, which receivers require to carry a code.
var missingCodes = map[string]string{
	codesystem.URLLOINC:  "LOINC",
	codesystem.URLSNOMED: "SNOMED-CT",
	codesystem.URLRxNorm: "RXNORM",
}

func (e *Encoder) buildCode(coding fhir.Coding) Code {
	system := deref(coding.System)
	var systemName string
	if s, ok := e.registry.Lookup(system); ok {
		systemName = s.Name
	}
	return BuildCodeCE(deref(coding.Code), e.CodeSystem(system), systemName, deref(coding.Display))
}

// BuildCodeCE builds a CE value, setting only the non-empty attributes.
func BuildCodeCE(code, codeSystem, codeSystemName, displayName string) Code {
	return Code{
		Code:           code,
		CodeSystem:     codeSystem,
		CodeSystemName: codeSystemName,
		DisplayName:    displayName,
	}
}

// BuildInstanceIdentifiers builds one II per identifier. With no identifiers
// it returns a single null-flavored II, since ids are mandatory wherever
// this builder is used.
func BuildInstanceIdentifiers(identifiers []fhir.Identifier) []InstanceID {
	if len(identifiers) == 0 {
		return []InstanceID{{NullFlavor: NullFlavorUnknown}}
	}

	ids := make([]InstanceID, 0, len(identifiers))
	for _, identifier := range identifiers {
		id := InstanceID{Extension: deref(identifier.Value)}
		if system := deref(identifier.System); system != "" {
			id.Root = normalize.OIDOrRaw(system)
		}
		if identifier.Assigner != nil {
			id.AssigningAuthorityName = deref(identifier.Assigner.Display)
		}
		ids = append(ids, id)
	}
	return ids
}

// BuildTelecom builds TEL elements. Telecom is optional, so absent input
// yields an empty list rather than a null flavor.
func BuildTelecom(telecoms []ContactPointFragment) []Telecom {
	out := make([]Telecom, 0, len(telecoms))
	for _, cp := range telecoms {
		out = append(out, Telecom{
			Use:   normalize.TelecomUse(cp.Use),
			Value: deref(cp.Value),
		})
	}
	return out
}

// BuildAddress builds AD elements, or nil when there are no addresses.
func BuildAddress(addresses []AddressFragment) []Address {
	if len(addresses) == 0 {
		return nil
	}

	out := make([]Address, 0, len(addresses))
	for _, addr := range addresses {
		out = append(out, Address{
			Use:               normalize.AddressUse(addr.Use),
			StreetAddressLine: strings.Join(addr.Line, ", "),
			City:              deref(addr.City),
			State:             deref(addr.State),
			PostalCode:        deref(addr.PostalCode),
			Country:           deref(addr.Country),
			UseablePeriod:     buildPeriod(addr.Period),
		})
	}
	return out
}

func buildPeriod(p *fhir.Period) *Period {
	if p == nil {
		return nil
	}
	start, end := deref(p.Start), deref(p.End)
	if start == "" && end == "" {
		return nil
	}

	period := &Period{}
	if start != "" {
		period.Low = &TimeValue{Value: periodBoundary(start)}
	}
	if end != "" {
		period.High = &TimeValue{Value: periodBoundary(end)}
	}
	return period
}

// periodBoundary converts date-only boundaries to TS form and keeps
// anything more precise verbatim.
func periodBoundary(v string) string {
	if len(v) == len("2006-01-02") {
		return FormatTimestamp(v)
	}
	return v
}

// BuildOrganization builds the organization element. It returns nil for a
// nil organization.
func BuildOrganization(org *OrganizationFragment) *Organization {
	if org == nil {
		return nil
	}
	return &Organization{
		IDs:      BuildInstanceIdentifiers(org.Identifier),
		Name:     deref(org.Name),
		Telecoms: BuildTelecom(org.Telecom),
		Addrs:    BuildAddress(org.Address),
	}
}

// FormatTimestamp converts a FHIR date to a CDA TS at midnight with four
// fractional digits: "2020-01-15" becomes "20200115000000.0000". The time
// zone is not adjusted. An empty date returns "".
func FormatTimestamp(date string) string {
	if date == "" {
		return ""
	}
	if i := strings.IndexByte(date, 'T'); i >= 0 {
		date = date[:i]
	}
	return strings.ReplaceAll(date, "-", "") + "000000.0000"
}

// BuildValueST builds an ST value, or nil for empty text.
func BuildValueST(text string) *ValueST {
	if text == "" {
		return nil
	}
	return &ValueST{Type: "ST", XSI: XSINamespace, Text: text}
}

// MarshalElement serializes v as an element named name, indented by two
// spaces.
func MarshalElement(name string, v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.EncodeElement(v, xml.StartElement{Name: xml.Name{Local: name}}); err != nil {
		return nil, fmt.Errorf("ccda: failed to marshal %s: %w", name, err)
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("ccda: failed to marshal %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
