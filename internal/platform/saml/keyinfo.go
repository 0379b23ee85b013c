package saml

import (
	"encoding/base64"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// InsertKeyInfo embeds the signing certificate into every signature that
// has no KeyInfo yet. Signatures that already carry one are left alone.
func (s *Signer) InsertKeyInfo(xml string) (string, error) {
	doc, err := parse(xml)
	if err != nil {
		return "", err
	}
	s.insertKeyInfo(doc)
	out, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("saml: failed to serialize message: %w", err)
	}
	return out, nil
}

func (s *Signer) insertKeyInfo(doc *etree.Document) {
	encoded := base64.StdEncoding.EncodeToString(s.keys.Certificate.Raw)
	for _, sig := range signatures(doc.Root()) {
		if sig.SelectElement(dsig.KeyInfoTag) != nil {
			continue
		}
		keyInfo := createChild(sig, dsig.KeyInfoTag)
		x509Data := createChild(keyInfo, dsig.X509DataTag)
		createChild(x509Data, dsig.X509CertificateTag).SetText(encoded)
	}
}

// createChild adds a child in the parent's namespace prefix.
func createChild(parent *etree.Element, tag string) *etree.Element {
	child := parent.CreateElement(tag)
	child.Space = parent.Space
	return child
}

// signatures returns every XML-DSig Signature element under root in
// document order.
func signatures(root *etree.Element) []*etree.Element {
	var out []*etree.Element
	var walk func(el *etree.Element)
	walk = func(el *etree.Element) {
		if el.Tag == dsig.SignatureTag && el.NamespaceURI() == dsig.Namespace {
			out = append(out, el)
			return
		}
		for _, child := range el.ChildElements() {
			walk(child)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}
