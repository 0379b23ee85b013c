// Package normalize holds the mapping helpers shared by the CDA codec and the
// XCPD response classifier.
package normalize

import "strings"

// FHIR AdministrativeGender codes.
const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderOther   = "other"
	GenderUnknown = "unknown"
)

// Gender maps an HL7 v3 AdministrativeGender code (M, F, UN) to the FHIR
// administrative gender. Any other non-empty code maps to "unknown"; an
// empty code returns "" so callers can omit the field.
func Gender(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	switch strings.ToUpper(code) {
	case "M":
		return GenderMale
	case "F":
		return GenderFemale
	case "UN":
		return GenderOther
	}
	return GenderUnknown
}

// GenderCode is the inverse of Gender: it maps a FHIR administrative gender
// to the HL7 v3 code used in CDA headers.
func GenderCode(gender string) string {
	switch strings.ToLower(gender) {
	case GenderMale:
		return "M"
	case GenderFemale:
		return "F"
	case GenderOther:
		return "UN"
	}
	return "UNK"
}
