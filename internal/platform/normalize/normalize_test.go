package normalize

import "testing"

func TestGender(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"M", GenderMale},
		{"m", GenderMale},
		{"F", GenderFemale},
		{"UN", GenderOther},
		{"UNK", GenderUnknown},
		{"X", GenderUnknown},
		{"", ""},
		{"  ", ""},
	}
	for _, tt := range tests {
		if got := Gender(tt.code); got != tt.want {
			t.Errorf("Gender(%q): expected %q, got %q", tt.code, tt.want, got)
		}
	}
}

func TestGenderCode(t *testing.T) {
	tests := map[string]string{
		"male":    "M",
		"Female":  "F",
		"other":   "UN",
		"unknown": "UNK",
		"":        "UNK",
	}
	for in, want := range tests {
		if got := GenderCode(in); got != want {
			t.Errorf("GenderCode(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestAddressUse(t *testing.T) {
	tests := []struct {
		use  string
		want string
	}{
		{"work", "WP"},
		{"WORK", "WP"},
		{"home", "H"},
		{"Home Address", "H"},
		{"primary home", "HP"},
		{"vacation home", "HV"},
		{"bad address", "BAD"},
		{"confidential", "CONF"},
		{"direct", "DIR"},
		{"physical visit address", "PHYS"},
		{"postal address", "PST"},
		{"public", "PUB"},
		{"temporary", "TMP"},
		{"unrecognized-value", "unrecognized-value"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := AddressUse(tt.use); got != tt.want {
			t.Errorf("AddressUse(%q): expected %q, got %q", tt.use, tt.want, got)
		}
	}
}

func TestTelecomUse(t *testing.T) {
	tests := []struct {
		use  string
		want string
	}{
		{"answering service", "AS"},
		{"emergency contact", "EC"},
		{"home", "HP"},
		{"primary home", "HP"},
		{"vacation home", "HV"},
		{"Mobile Contact", "MC"},
		{"pager", "PG"},
		{"work", "WP"},
		{"work place", "WP"},
		{"mobile", "mobile"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := TelecomUse(tt.use); got != tt.want {
			t.Errorf("TelecomUse(%q): expected %q, got %q", tt.use, tt.want, got)
		}
	}
}

func TestOID(t *testing.T) {
	valid := map[string]string{
		"2.16.840.1.113883.6.1":         "2.16.840.1.113883.6.1",
		"urn:oid:2.16.840.1.113883.6.1": "2.16.840.1.113883.6.1",
		"URN:OID:1.2.3":                 "1.2.3",
		" 1.3.6.1 ":                     "1.3.6.1",
	}
	for in, want := range valid {
		got, err := OID(in)
		if err != nil {
			t.Errorf("OID(%q): unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("OID(%q): expected %q, got %q", in, want, got)
		}
	}

	invalid := []string{"", "urn:oid:", "http://loinc.org", "3.1.2", "1", "1..2", "1.02"}
	for _, in := range invalid {
		if _, err := OID(in); err == nil {
			t.Errorf("OID(%q): expected error", in)
		}
	}
}

func TestOIDOrRaw(t *testing.T) {
	if got := OIDOrRaw("urn:oid:1.2.840.114350"); got != "1.2.840.114350" {
		t.Errorf("expected normalized OID, got %q", got)
	}
	if got := OIDOrRaw("http://hl7.org/fhir/sid/us-ssn"); got != "http://hl7.org/fhir/sid/us-ssn" {
		t.Errorf("expected raw value, got %q", got)
	}
}
