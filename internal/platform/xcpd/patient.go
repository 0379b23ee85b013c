package xcpd

import (
	"strings"

	"github.com/samply/golang-fhir-models/fhir-models/fhir"

	"github.com/ehr/xchange/internal/platform/normalize"
	"github.com/ehr/xchange/internal/platform/xmltree"
)

// patientResource builds the demographics the gateway returned for a match.
// Missing parts are left out; it never returns nil.
func patientResource(person *xmltree.Node) *fhir.Patient {
	p := &fhir.Patient{}

	if name := person.Child("name"); name != nil {
		var hn fhir.HumanName
		for _, given := range name.ChildrenNamed("given") {
			if g := given.String(); g != "" {
				hn.Given = append(hn.Given, g)
			}
		}
		if family := name.Child("family").String(); family != "" {
			hn.Family = &family
		}
		if hn.Family != nil || len(hn.Given) > 0 {
			p.Name = []fhir.HumanName{hn}
		}
	}

	p.Gender = administrativeGender(normalize.Gender(person.Child("administrativeGenderCode").Attr("code")))

	if birth := birthDate(person.Child("birthTime").Attr("value")); birth != "" {
		p.BirthDate = &birth
	}

	if addr, ok := address(person.Child("addr")); ok {
		p.Address = []fhir.Address{addr}
	}
	return p
}

// address reads one address. Each part may arrive as plain text or as an
// attributed element; both shapes yield the same text.
func address(addr *xmltree.Node) (fhir.Address, bool) {
	var a fhir.Address
	if addr == nil {
		return a, false
	}

	found := false
	set := func(dst **string, name string) {
		if v := addr.Child(name).String(); v != "" {
			*dst = &v
			found = true
		}
	}
	if line := addr.Child("streetAddressLine").String(); line != "" {
		a.Line = []string{line}
		found = true
	}
	set(&a.City, "city")
	set(&a.State, "state")
	set(&a.PostalCode, "postalCode")
	set(&a.Country, "country")
	return a, found
}

func administrativeGender(gender string) *fhir.AdministrativeGender {
	var g fhir.AdministrativeGender
	switch gender {
	case normalize.GenderMale:
		g = fhir.AdministrativeGenderMale
	case normalize.GenderFemale:
		g = fhir.AdministrativeGenderFemale
	case normalize.GenderOther:
		g = fhir.AdministrativeGenderOther
	case normalize.GenderUnknown:
		g = fhir.AdministrativeGenderUnknown
	default:
		return nil
	}
	return &g
}

// birthDate converts an HL7 TS ("19800115" or longer) to a FHIR date. Values
// too short to hold a full date are returned unchanged.
func birthDate(ts string) string {
	ts = strings.TrimSpace(ts)
	if len(ts) < 8 {
		return ts
	}
	for _, r := range ts[:8] {
		if r < '0' || r > '9' {
			return ts
		}
	}
	return ts[0:4] + "-" + ts[4:6] + "-" + ts[6:8]
}
