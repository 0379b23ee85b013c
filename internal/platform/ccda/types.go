package ccda

import "encoding/xml"

// CDA namespaces and null flavors.
const (
	CDANamespace = "urn:hl7-org:v3"
	XSINamespace = "http://www.w3.org/2001/XMLSchema-instance"

	// NullFlavorUnknown marks a structurally required element whose value is
	// not known.
	NullFlavorUnknown = "UNK"
)

// Code is a CE (coded with equivalents) value. Attributes are emitted only
// when set.
type Code struct {
	Code           string `xml:"code,attr,omitempty"`
	CodeSystem     string `xml:"codeSystem,attr,omitempty"`
	CodeSystemName string `xml:"codeSystemName,attr,omitempty"`
	DisplayName    string `xml:"displayName,attr,omitempty"`
	NullFlavor     string `xml:"nullFlavor,attr,omitempty"`
}

// CodedValue is a CV (coded value): the primary coding as attributes, the
// source text, and any secondary codings as translations in source order.
type CodedValue struct {
	Code           string `xml:"code,attr,omitempty"`
	CodeSystem     string `xml:"codeSystem,attr,omitempty"`
	CodeSystemName string `xml:"codeSystemName,attr,omitempty"`
	DisplayName    string `xml:"displayName,attr,omitempty"`
	OriginalText   string `xml:"originalText,omitempty"`
	Translations   []Code `xml:"translation,omitempty"`
}

// InstanceID is an II (instance identifier).
type InstanceID struct {
	Root                   string `xml:"root,attr,omitempty"`
	Extension              string `xml:"extension,attr,omitempty"`
	AssigningAuthorityName string `xml:"assigningAuthorityName,attr,omitempty"`
	NullFlavor             string `xml:"nullFlavor,attr,omitempty"`
}

// Unknown reports whether the identifier is the required-but-unknown marker.
func (id InstanceID) Unknown() bool {
	return id.NullFlavor == NullFlavorUnknown
}

// Telecom is a TEL contact point.
type Telecom struct {
	Use   string `xml:"use,attr,omitempty"`
	Value string `xml:"value,attr,omitempty"`
}

// TimeValue holds an HL7 TS timestamp.
type TimeValue struct {
	Value string `xml:"value,attr,omitempty"`
}

// Period is an IVL_TS interval.
type Period struct {
	Low  *TimeValue `xml:"low,omitempty"`
	High *TimeValue `xml:"high,omitempty"`
}

// Address is an AD postal address.
type Address struct {
	Use               string  `xml:"use,attr,omitempty"`
	StreetAddressLine string  `xml:"streetAddressLine,omitempty"`
	City              string  `xml:"city,omitempty"`
	State             string  `xml:"state,omitempty"`
	PostalCode        string  `xml:"postalCode,omitempty"`
	Country           string  `xml:"country,omitempty"`
	UseablePeriod     *Period `xml:"useablePeriod,omitempty"`
}

// Organization is the representedOrganization / custodian organization
// element.
type Organization struct {
	IDs      []InstanceID `xml:"id,omitempty"`
	Name     string       `xml:"name,omitempty"`
	Telecoms []Telecom    `xml:"telecom,omitempty"`
	Addrs    []Address    `xml:"addr,omitempty"`
}

// ValueST is an ST (simple text) observation value.
type ValueST struct {
	XMLName xml.Name `xml:"value"`
	Type    string   `xml:"xsi:type,attr"`
	XSI     string   `xml:"xmlns:xsi,attr"`
	Text    string   `xml:",chardata"`
}
