package normalize

import "strings"

// addressUses is the PostalAddressUse vocabulary of the CDA R2 IG, keyed by
// the lower-cased free text seen on source records. "work" comes from
// example CDAs rather than the IG.
var addressUses = map[string]string{
	"bad address":            "BAD",
	"confidential":           "CONF",
	"direct":                 "DIR",
	"home":                   "H",
	"home address":           "H",
	"primary home":           "HP",
	"vacation home":          "HV",
	"physical visit address": "PHYS",
	"postal address":         "PST",
	"public":                 "PUB",
	"temporary":              "TMP",
	"work":                   "WP",
}

// telecomUses is the Telecom Use vocabulary of the CDA R2 IG.
var telecomUses = map[string]string{
	"answering service": "AS",
	"emergency contact": "EC",
	"home":              "HP",
	"primary home":      "HP",
	"vacation home":     "HV",
	"mobile contact":    "MC",
	"pager":             "PG",
	"work":              "WP",
	"work place":        "WP",
}

// AddressUse maps free-text address use to its CDA code. Unrecognized input
// is returned unchanged.
func AddressUse(use string) string {
	return lookupUse(addressUses, use)
}

// TelecomUse maps free-text telecom use to its CDA code. Unrecognized input
// is returned unchanged.
func TelecomUse(use string) string {
	return lookupUse(telecomUses, use)
}

func lookupUse(vocabulary map[string]string, use string) string {
	if use == "" {
		return ""
	}
	if code, ok := vocabulary[strings.ToLower(use)]; ok {
		return code
	}
	return use
}
