package saml

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// KeyPair is the signing key and the certificate published in KeyInfo.
// The pair is not cross-checked on load; Verify rejects a mismatched pair.
type KeyPair struct {
	Key         *rsa.PrivateKey
	Certificate *x509.Certificate
}

// GetKeyPair returns the private key and DER certificate for the dsig
// signing context.
func (kp *KeyPair) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	return kp.Key, kp.Certificate.Raw, nil
}

// LoadKeyPair reads a PEM private key and a PEM certificate from disk.
func LoadKeyPair(keyFile, certFile string) (*KeyPair, error) {
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("saml: failed to read signing key: %w", err)
	}
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("saml: failed to read signing certificate: %w", err)
	}
	return ParseKeyPair(keyPEM, certPEM)
}

// ParseKeyPair parses a PEM RSA private key (PKCS#1 or PKCS#8) and a PEM
// certificate.
func ParseKeyPair(keyPEM, certPEM []byte) (*KeyPair, error) {
	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}
	cert, err := parseCertificate(certPEM)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Key: key, Certificate: cert}, nil
}

func parsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("saml: signing key is not PEM encoded")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("saml: invalid PKCS#1 key: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("saml: invalid PKCS#8 key: %w", err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("saml: signing key is not an RSA key")
		}
		return key, nil
	default:
		return nil, fmt.Errorf("saml: unsupported key block %q", block.Type)
	}
}

func parseCertificate(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("saml: signing certificate is not a PEM certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("saml: invalid certificate: %w", err)
	}
	if _, ok := cert.PublicKey.(*rsa.PublicKey); !ok {
		return nil, fmt.Errorf("saml: certificate does not carry an RSA key")
	}
	return cert, nil
}
