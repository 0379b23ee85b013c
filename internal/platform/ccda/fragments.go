package ccda

import (
	"encoding/json"
	"fmt"

	"github.com/samply/golang-fhir-models/fhir-models/fhir"
)

// Source systems send free-text codes in fields that FHIR binds to closed
// value sets ("Primary Home", "WORK"). The fragment types below read those
// fields as plain strings so the use vocabularies can map or pass them
// through; every other field decodes into the FHIR model as usual.

// AddressFragment is a FHIR Address with free-text use and type.
type AddressFragment struct {
	fhir.Address
	Use  string `json:"use,omitempty"`
	Type string `json:"type,omitempty"`
}

// UnmarshalJSON decodes a FHIR Address, keeping use and type verbatim.
func (a *AddressFragment) UnmarshalJSON(data []byte) error {
	fields, rest, err := splitCodes(data, "use", "type")
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	if err := json.Unmarshal(rest, &a.Address); err != nil {
		return fmt.Errorf("address: %w", err)
	}
	a.Use = fields["use"]
	a.Type = fields["type"]
	return nil
}

// ContactPointFragment is a FHIR ContactPoint with free-text use and system.
type ContactPointFragment struct {
	fhir.ContactPoint
	Use    string `json:"use,omitempty"`
	System string `json:"system,omitempty"`
}

// UnmarshalJSON decodes a FHIR ContactPoint, keeping use and system verbatim.
func (cp *ContactPointFragment) UnmarshalJSON(data []byte) error {
	fields, rest, err := splitCodes(data, "use", "system")
	if err != nil {
		return fmt.Errorf("telecom: %w", err)
	}
	if err := json.Unmarshal(rest, &cp.ContactPoint); err != nil {
		return fmt.Errorf("telecom: %w", err)
	}
	cp.Use = fields["use"]
	cp.System = fields["system"]
	return nil
}

// OrganizationFragment is a FHIR Organization whose telecom and address
// entries are read as fragments.
type OrganizationFragment struct {
	fhir.Organization
	Telecom []ContactPointFragment `json:"telecom,omitempty"`
	Address []AddressFragment      `json:"address,omitempty"`
}

// UnmarshalJSON decodes a FHIR Organization.
func (o *OrganizationFragment) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var telecom []ContactPointFragment
	if v, ok := raw["telecom"]; ok {
		if err := json.Unmarshal(v, &telecom); err != nil {
			return err
		}
		delete(raw, "telecom")
	}
	var address []AddressFragment
	if v, ok := raw["address"]; ok {
		if err := json.Unmarshal(v, &address); err != nil {
			return err
		}
		delete(raw, "address")
	}

	rest, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(rest, &o.Organization); err != nil {
		return err
	}
	o.Telecom = telecom
	o.Address = address
	return nil
}

// splitCodes removes the named keys from a JSON object and returns their
// string values with the remaining object. A key holding anything other
// than a string is dropped.
func splitCodes(data []byte, keys ...string) (map[string]string, []byte, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}

	codes := make(map[string]string, len(keys))
	for _, key := range keys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(v, &s) == nil {
			codes[key] = s
		}
		delete(raw, key)
	}

	rest, err := json.Marshal(raw)
	if err != nil {
		return nil, nil, err
	}
	return codes, rest, nil
}
