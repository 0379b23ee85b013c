package saml

import (
	"errors"
	"fmt"
)

var (
	// ErrTimestampNotFound is returned when the message has no Timestamp element.
	ErrTimestampNotFound = errors.New("saml: Timestamp element not found")
	// ErrAssertionNotFound is returned when the message has no Assertion element.
	ErrAssertionNotFound = errors.New("saml: Assertion element not found")
	// ErrIssuerNotFound is returned when the Assertion has no Issuer child.
	ErrIssuerNotFound = errors.New("saml: Assertion has no Issuer")
	// ErrNoSignatures is returned by Verify when the message carries no signature.
	ErrNoSignatures = errors.New("saml: no signatures to verify")
)

// VerificationError reports a signature that failed re-validation. Reference
// is the URI of the signed element the signature covers, when known.
type VerificationError struct {
	Reference string
	Reason    string
	Err       error
}

func (e *VerificationError) Error() string {
	msg := "saml: signature verification failed"
	if e.Reference != "" {
		msg += fmt.Sprintf(" for %s", e.Reference)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

func verificationFailure(reference, reason string, err error) *VerificationError {
	return &VerificationError{Reference: reference, Reason: reason, Err: err}
}
