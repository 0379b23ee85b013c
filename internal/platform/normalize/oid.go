package normalize

import (
	"fmt"
	"regexp"
	"strings"
)

const oidURNPrefix = "urn:oid:"

var oidPattern = regexp.MustCompile(`^[0-2](\.(0|[1-9][0-9]*))+$`)

// OID strips an optional "urn:oid:" prefix and validates the remainder as a
// dotted-decimal object identifier.
func OID(value string) (string, error) {
	v := strings.TrimSpace(value)
	if len(v) >= len(oidURNPrefix) && strings.EqualFold(v[:len(oidURNPrefix)], oidURNPrefix) {
		v = v[len(oidURNPrefix):]
	}
	if !oidPattern.MatchString(v) {
		return "", fmt.Errorf("normalize: %q is not a valid OID", value)
	}
	return v, nil
}

// OIDOrRaw returns the normalized OID, or the input unchanged when it is not
// an OID.
func OIDOrRaw(value string) string {
	if oid, err := OID(value); err == nil {
		return oid
	}
	return value
}
