// Package saml signs outbound SAML/WS-Security federation messages. A
// message passes through four ordered stages: the WS-Security Timestamp is
// signed, the SAML Assertion is signed, the certificate is embedded in every
// signature, and the result is verified before it is released.
package saml

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/russellhaering/goxmldsig/etreeutils"
)

// Algorithm selects the signature method.
type Algorithm string

// Supported signature methods. The federation profile uses RSA-SHA1.
const (
	AlgorithmRSASHA1   Algorithm = "rsa-sha1"
	AlgorithmRSASHA256 Algorithm = "rsa-sha256"
)

// ParseAlgorithm parses a configured algorithm name. Empty means RSA-SHA1.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", AlgorithmRSASHA1:
		return AlgorithmRSASHA1, nil
	case AlgorithmRSASHA256:
		return AlgorithmRSASHA256, nil
	default:
		return "", fmt.Errorf("saml: unsupported signature algorithm %q", s)
	}
}

func (a Algorithm) signatureMethod() string {
	if a == AlgorithmRSASHA256 {
		return dsig.RSASHA256SignatureMethod
	}
	return dsig.RSASHA1SignatureMethod
}

// Signer runs the signing pipeline. It holds only immutable key material, so
// a single Signer may sign independent messages concurrently.
type Signer struct {
	keys      *KeyPair
	algorithm Algorithm
}

// NewSigner creates a Signer for the given key pair.
func NewSigner(keys *KeyPair, algorithm Algorithm) (*Signer, error) {
	if keys == nil || keys.Key == nil || keys.Certificate == nil {
		return nil, fmt.Errorf("saml: key pair is required")
	}
	if algorithm == "" {
		algorithm = AlgorithmRSASHA1
	}
	if _, err := ParseAlgorithm(string(algorithm)); err != nil {
		return nil, err
	}
	return &Signer{keys: keys, algorithm: algorithm}, nil
}

// Algorithm returns the configured signature method.
func (s *Signer) Algorithm() Algorithm {
	return s.algorithm
}

// Sign runs all four stages and returns the verified document. On any
// failure it returns an error and no document.
func (s *Signer) Sign(xml string) (string, error) {
	doc, err := parse(xml)
	if err != nil {
		return "", err
	}
	if err := s.signTimestamp(doc); err != nil {
		return "", err
	}
	if err := s.signAssertion(doc); err != nil {
		return "", err
	}
	s.insertKeyInfo(doc)

	signed, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("saml: failed to serialize signed message: %w", err)
	}
	if err := s.Verify(signed); err != nil {
		return "", err
	}
	return signed, nil
}

// SignTimestamp signs the WS-Security Timestamp and places the signature
// immediately after it.
func (s *Signer) SignTimestamp(xml string) (string, error) {
	return s.transform(xml, s.signTimestamp)
}

// SignAssertion signs the SAML Assertion and places the signature
// immediately after the Assertion's Issuer.
func (s *Signer) SignAssertion(xml string) (string, error) {
	return s.transform(xml, s.signAssertion)
}

func (s *Signer) transform(xml string, stage func(*etree.Document) error) (string, error) {
	doc, err := parse(xml)
	if err != nil {
		return "", err
	}
	if err := stage(doc); err != nil {
		return "", err
	}
	out, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("saml: failed to serialize message: %w", err)
	}
	return out, nil
}

func (s *Signer) signTimestamp(doc *etree.Document) error {
	timestamp := findLocal(doc.Root(), "Timestamp")
	if timestamp == nil || timestamp.Parent() == nil {
		return ErrTimestampNotFound
	}
	sig, err := s.constructSignature(timestamp)
	if err != nil {
		return fmt.Errorf("saml: failed to sign Timestamp: %w", err)
	}
	insertAfter(timestamp, sig)
	return nil
}

func (s *Signer) signAssertion(doc *etree.Document) error {
	assertion := findLocal(doc.Root(), "Assertion")
	if assertion == nil {
		return ErrAssertionNotFound
	}
	issuer := childLocal(assertion, "Issuer")
	if issuer == nil {
		return ErrIssuerNotFound
	}
	sig, err := s.constructSignature(assertion)
	if err != nil {
		return fmt.Errorf("saml: failed to sign Assertion: %w", err)
	}
	insertAfter(issuer, sig)
	return nil
}

// constructSignature builds an enveloped, exclusively canonicalized
// signature over el. The digest is taken over a detached copy carrying every
// namespace declaration in scope, so it matches the element in place.
func (s *Signer) constructSignature(el *etree.Element) (*etree.Element, error) {
	idAttr := ensureID(el)

	nsCtx, err := etreeutils.NSBuildParentContext(el)
	if err != nil {
		return nil, err
	}
	detached, err := etreeutils.NSDetatch(nsCtx, el)
	if err != nil {
		return nil, err
	}

	ctx := dsig.NewDefaultSigningContext(s.keys)
	ctx.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")
	ctx.IdAttribute = idAttr
	if err := ctx.SetSignatureMethod(s.algorithm.signatureMethod()); err != nil {
		return nil, err
	}

	sig, err := ctx.ConstructSignature(detached, true)
	if err != nil {
		return nil, err
	}

	// KeyInfo is embedded by its own stage.
	if keyInfo := sig.SelectElement(dsig.KeyInfoTag); keyInfo != nil {
		sig.RemoveChild(keyInfo)
	}
	return sig, nil
}

// ensureID returns the qualified name of el's ID attribute, adding a
// generated Id when el has none.
func ensureID(el *etree.Element) string {
	if attr := idAttr(el); attr != nil {
		return attr.FullKey()
	}
	el.CreateAttr("Id", "_"+uuid.NewString())
	return "Id"
}

func idAttr(el *etree.Element) *etree.Attr {
	for i, a := range el.Attr {
		if a.Space == "xmlns" {
			continue
		}
		switch a.Key {
		case "ID", "Id", "id":
			return &el.Attr[i]
		}
	}
	return nil
}

func parse(xml string) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		return nil, fmt.Errorf("saml: failed to parse message: %w", err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("saml: message has no root element")
	}
	return doc, nil
}

// findLocal returns the first element in document order with the given
// local name, in any namespace.
func findLocal(root *etree.Element, local string) *etree.Element {
	if root == nil {
		return nil
	}
	if root.Tag == local {
		return root
	}
	for _, child := range root.ChildElements() {
		if found := findLocal(child, local); found != nil {
			return found
		}
	}
	return nil
}

func childLocal(el *etree.Element, local string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Tag == local {
			return child
		}
	}
	return nil
}

func insertAfter(ref, el *etree.Element) {
	ref.Parent().InsertChildAt(ref.Index()+1, el)
}
