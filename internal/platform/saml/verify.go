package saml

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	_ "crypto/sha1"
	_ "crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/russellhaering/goxmldsig/etreeutils"
)

// Digest method identifiers.
const (
	DigestSHA1   = "http://www.w3.org/2000/09/xmldsig#sha1"
	DigestSHA256 = "http://www.w3.org/2001/04/xmlenc#sha256"
)

var digestMethods = map[string]crypto.Hash{
	DigestSHA1:   crypto.SHA1,
	DigestSHA256: crypto.SHA256,
}

var signatureMethods = map[string]crypto.Hash{
	dsig.RSASHA1SignatureMethod:   crypto.SHA1,
	dsig.RSASHA256SignatureMethod: crypto.SHA256,
}

// Verify re-validates every signature in the message: the reference digest
// is recomputed and the signature value is checked with the embedded
// certificate, which must be the signer's certificate. Failures are
// returned as *VerificationError.
func (s *Signer) Verify(xml string) error {
	doc, err := parse(xml)
	if err != nil {
		return verificationFailure("", "unreadable message", err)
	}

	sigs := signatures(doc.Root())
	if len(sigs) == 0 {
		return verificationFailure("", "", ErrNoSignatures)
	}
	for _, sig := range sigs {
		if err := s.verifySignature(doc.Root(), sig); err != nil {
			return err
		}
	}
	return nil
}

func (s *Signer) verifySignature(root, sig *etree.Element) error {
	signedInfo := sig.SelectElement(dsig.SignedInfoTag)
	if signedInfo == nil {
		return verificationFailure("", "missing SignedInfo", nil)
	}
	reference := signedInfo.SelectElement(dsig.ReferenceTag)
	if reference == nil {
		return verificationFailure("", "missing Reference", nil)
	}
	uri := reference.SelectAttrValue(dsig.URIAttr, "")

	cert, err := s.embeddedCertificate(sig)
	if err != nil {
		return verificationFailure(uri, "", err)
	}

	target, err := resolveReference(root, uri)
	if err != nil {
		return verificationFailure(uri, "", err)
	}
	if err := verifyDigest(reference, target, sig); err != nil {
		return verificationFailure(uri, "digest mismatch", err)
	}
	if err := verifySignatureValue(sig, signedInfo, cert); err != nil {
		return verificationFailure(uri, "invalid signature value", err)
	}
	return nil
}

// embeddedCertificate returns the certificate from the signature's KeyInfo,
// requiring it to be the signer's own certificate.
func (s *Signer) embeddedCertificate(sig *etree.Element) (*x509.Certificate, error) {
	el := sig.FindElement("./" + dsig.KeyInfoTag + "/" + dsig.X509DataTag + "/" + dsig.X509CertificateTag)
	if el == nil {
		return nil, fmt.Errorf("signature has no embedded certificate")
	}
	der, err := decodeBase64(el.Text())
	if err != nil {
		return nil, fmt.Errorf("embedded certificate: %w", err)
	}
	if !bytes.Equal(der, s.keys.Certificate.Raw) {
		return nil, fmt.Errorf("embedded certificate does not match the configured certificate")
	}
	return s.keys.Certificate, nil
}

// resolveReference finds the single element whose ID attribute matches a
// same-document "#id" reference.
func resolveReference(root *etree.Element, uri string) (*etree.Element, error) {
	if !strings.HasPrefix(uri, "#") || len(uri) == 1 {
		return nil, fmt.Errorf("unsupported reference URI %q", uri)
	}
	id := uri[1:]

	var matches []*etree.Element
	var walk func(el *etree.Element)
	walk = func(el *etree.Element) {
		if attr := idAttr(el); attr != nil && attr.Value == id {
			matches = append(matches, el)
		}
		for _, child := range el.ChildElements() {
			walk(child)
		}
	}
	walk(root)

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no element with id %q", id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("id %q is not unique", id)
	}
}

func verifyDigest(reference, target, sig *etree.Element) error {
	nsCtx, err := etreeutils.NSBuildParentContext(target)
	if err != nil {
		return err
	}
	detached, err := etreeutils.NSDetatch(nsCtx, target)
	if err != nil {
		return err
	}

	if transforms := reference.SelectElement(dsig.TransformsTag); transforms != nil {
		for _, transform := range transforms.SelectElements(dsig.TransformTag) {
			switch algo := transform.SelectAttrValue(dsig.AlgorithmAttr, ""); algo {
			case dsig.EnvelopedSignatureAltorithmId.String():
				removeEnveloped(detached, target, sig)
			case dsig.CanonicalXML10ExclusiveAlgorithmId.String():
			default:
				return fmt.Errorf("unsupported transform %q", algo)
			}
		}
	}

	method := reference.SelectElement(dsig.DigestMethodTag)
	if method == nil {
		return fmt.Errorf("missing DigestMethod")
	}
	hash, ok := digestMethods[method.SelectAttrValue(dsig.AlgorithmAttr, "")]
	if !ok {
		return fmt.Errorf("unsupported digest method %q", method.SelectAttrValue(dsig.AlgorithmAttr, ""))
	}

	value := reference.SelectElement(dsig.DigestValueTag)
	if value == nil {
		return fmt.Errorf("missing DigestValue")
	}
	expected, err := decodeBase64(value.Text())
	if err != nil {
		return fmt.Errorf("DigestValue: %w", err)
	}

	canonical, err := dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("").Canonicalize(detached)
	if err != nil {
		return err
	}
	h := hash.New()
	h.Write(canonical)
	if !bytes.Equal(h.Sum(nil), expected) {
		return fmt.Errorf("computed digest differs from DigestValue")
	}
	return nil
}

// removeEnveloped drops sig from the detached copy of target when sig is one
// of target's descendants. Copies keep child positions, so the signature's
// index path in the original locates it in the copy.
func removeEnveloped(detached, target, sig *etree.Element) {
	var path []int
	for cur := sig; cur != target; cur = cur.Parent() {
		if cur == nil {
			return
		}
		path = append([]int{cur.Index()}, path...)
	}

	cur := detached
	for i, idx := range path {
		if idx < 0 || idx >= len(cur.Child) {
			return
		}
		if i == len(path)-1 {
			cur.RemoveChildAt(idx)
			return
		}
		next, ok := cur.Child[idx].(*etree.Element)
		if !ok {
			return
		}
		cur = next
	}
}

func verifySignatureValue(sig, signedInfo *etree.Element, cert *x509.Certificate) error {
	canonMethod := signedInfo.SelectElement(dsig.CanonicalizationMethodTag)
	if canonMethod == nil || canonMethod.SelectAttrValue(dsig.AlgorithmAttr, "") != dsig.CanonicalXML10ExclusiveAlgorithmId.String() {
		return fmt.Errorf("unsupported canonicalization method")
	}

	sigMethod := signedInfo.SelectElement(dsig.SignatureMethodTag)
	if sigMethod == nil {
		return fmt.Errorf("missing SignatureMethod")
	}
	hash, ok := signatureMethods[sigMethod.SelectAttrValue(dsig.AlgorithmAttr, "")]
	if !ok {
		return fmt.Errorf("unsupported signature method %q", sigMethod.SelectAttrValue(dsig.AlgorithmAttr, ""))
	}

	valueEl := sig.SelectElement(dsig.SignatureValueTag)
	if valueEl == nil {
		return fmt.Errorf("missing SignatureValue")
	}
	value, err := decodeBase64(valueEl.Text())
	if err != nil {
		return fmt.Errorf("SignatureValue: %w", err)
	}

	nsCtx, err := etreeutils.NSBuildParentContext(signedInfo)
	if err != nil {
		return err
	}
	detached, err := etreeutils.NSDetatch(nsCtx, signedInfo)
	if err != nil {
		return err
	}
	canonical, err := dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("").Canonicalize(detached)
	if err != nil {
		return err
	}

	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate does not carry an RSA key")
	}
	h := hash.New()
	h.Write(canonical)
	return rsa.VerifyPKCS1v15(pub, hash, h.Sum(nil), value)
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.Join(strings.Fields(s), ""))
}
