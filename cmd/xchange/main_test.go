package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/xchange/internal/config"
	"github.com/ehr/xchange/internal/platform/db"
	"github.com/ehr/xchange/internal/platform/saml"
	"github.com/ehr/xchange/internal/platform/telemetry"
)

const unsignedEnvelope = `<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">
  <soap:Header>
    <wsse:Security xmlns:wsse="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd" xmlns:wsu="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd">
      <wsu:Timestamp wsu:Id="TS-1">
        <wsu:Created>2024-01-01T00:00:00.000Z</wsu:Created>
      </wsu:Timestamp>
      <saml2:Assertion xmlns:saml2="urn:oasis:names:tc:SAML:2.0:assertion" ID="_cli" Version="2.0">
        <saml2:Issuer>CN=xchange</saml2:Issuer>
        <saml2:Subject><saml2:NameID>clinician</saml2:NameID></saml2:Subject>
      </saml2:Assertion>
    </wsse:Security>
  </soap:Header>
  <soap:Body/>
</soap:Envelope>`

// writeKeyPair writes a fresh PKCS#1 key and self-signed certificate to dir.
func writeKeyPair(t *testing.T, dir string) (keyFile, certFile string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "xchange"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}

	keyFile = filepath.Join(dir, "key.pem")
	certFile = filepath.Join(dir, "cert.pem")
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		t.Fatal(err)
	}
	return keyFile, certFile
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out, errOut bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	want := map[string]bool{"serve": false, "sign": false, "classify": false, "cda": false, "migrate": false}
	for _, c := range rootCmd().Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected %q subcommand", name)
		}
	}
}

func TestSignCmd(t *testing.T) {
	keyFile, certFile := writeKeyPair(t, t.TempDir())

	out, err := execute(t, unsignedEnvelope, "sign", "--key", keyFile, "--cert", certFile, "--algorithm", "rsa-sha256")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := strings.Count(out, "<ds:Signature "); n != 2 {
		t.Errorf("expected 2 signatures, got %d", n)
	}
	if !strings.Contains(out, "rsa-sha256") {
		t.Error("expected rsa-sha256 signature method")
	}

	keys, err := saml.LoadKeyPair(keyFile, certFile)
	if err != nil {
		t.Fatalf("load keys: %v", err)
	}
	signer, _ := saml.NewSigner(keys, saml.AlgorithmRSASHA256)
	if err := signer.Verify(out); err != nil {
		t.Errorf("expected CLI output to verify, got %v", err)
	}
}

func TestSignCmd_RequiresKeys(t *testing.T) {
	t.Setenv("SIGNING_KEY_FILE", "")
	t.Setenv("SIGNING_CERT_FILE", "")

	_, err := execute(t, unsignedEnvelope, "sign")
	if err == nil || !strings.Contains(err.Error(), "signing key and certificate are required") {
		t.Errorf("expected missing key error, got %v", err)
	}
}

func TestSignCmd_MissingAssertion(t *testing.T) {
	keyFile, certFile := writeKeyPair(t, t.TempDir())
	input := strings.Replace(unsignedEnvelope, "saml2:Assertion", "saml2:Statement", 2)

	out, err := execute(t, input, "sign", "--key", keyFile, "--cert", certFile)
	if err == nil {
		t.Fatal("expected error for message without assertion")
	}
	if out != "" {
		t.Errorf("expected no partial output, got %q", out)
	}
}

func TestClassifyCmd(t *testing.T) {
	reply := `{
		"success": false,
		"response": "Connection refused",
		"outboundRequest": {"id": "req-1", "timestamp": "2024-01-01T00:00:00.000Z", "patientId": "p-1"},
		"gateway": {"homeCommunityId": "urn:oid:1.2.3"}
	}`

	out, err := execute(t, reply, "classify")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("expected JSON outcome, got %q: %v", out, err)
	}
	if got["kind"] != "transport-failure" {
		t.Errorf("expected transport-failure, got %v", got["kind"])
	}
	if got["id"] != "req-1" || got["patientId"] != "p-1" {
		t.Errorf("expected request fields echoed, got %v", got)
	}
}

func TestClassifyCmd_InvalidJSON(t *testing.T) {
	if _, err := execute(t, "{", "classify"); err == nil {
		t.Error("expected decode error")
	}
}

func TestCDACmd_Organization(t *testing.T) {
	org := `{"resourceType": "Organization", "name": "Springfield Clinic"}`

	out, err := execute(t, org, "cda", "organization")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"<representedOrganization>", `<id nullFlavor="UNK"></id>`, "<name>Springfield Clinic</name>"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestCDACmd_CodedValueFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concept.json")
	concept := `{"coding": [{"system": "http://loinc.org", "code": "8480-6", "display": "Systolic blood pressure"}]}`
	if err := os.WriteFile(path, []byte(concept), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "", "cda", "coded-value", "--in", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `code="8480-6"`) || !strings.Contains(out, `codeSystem="2.16.840.1.113883.6.1"`) {
		t.Errorf("expected LOINC coded value, got:\n%s", out)
	}
}

func TestPrintStatuses(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printStatuses(&buf, []db.MigrationStatus{
		{Version: 1, Name: "001_xcpd_outcome.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_xcpd_outcome_kind_index.sql"},
	})

	out := buf.String()
	if !strings.Contains(out, "applied") || !strings.Contains(out, "2024-05-01 12:00:00") {
		t.Errorf("expected applied row, got:\n%s", out)
	}
	if !strings.Contains(out, "pending") {
		t.Errorf("expected pending row, got:\n%s", out)
	}
}

func newTestServer(t *testing.T, signer *saml.Signer) *server {
	t.Helper()
	tel, err := telemetry.NewTelemetryProvider(context.Background(), telemetry.TelemetryConfig{})
	if err != nil {
		t.Fatalf("telemetry: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	s := &server{
		cfg: &config.Config{
			Env:            "test",
			BodyLimit:      "1M",
			RequestTimeout: 5 * time.Second,
		},
		logger:    zerolog.Nop(),
		telemetry: tel,
		signer:    signer,
	}
	t.Cleanup(func() {
		if s.reports != nil {
			_ = s.reports.Close(context.Background())
		}
	})
	return s
}

func TestRouter_Health(t *testing.T) {
	e, err := newTestServer(t, nil).router()
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	if !strings.Contains(rec.Body.String(), `"database":"disabled"`) {
		t.Errorf("expected database disabled, got %s", rec.Body.String())
	}
}

func TestRouter_Classify(t *testing.T) {
	e, err := newTestServer(t, nil).router()
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	body := `{"success": false, "response": "timeout", "outboundRequest": {"id": "r", "timestamp": "t"}, "gateway": {"homeCommunityId": "g"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/xcpd/classify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"kind":"transport-failure"`) {
		t.Errorf("expected transport-failure outcome, got %s", rec.Body.String())
	}
}

func TestRouter_SignDisabledWithoutKeys(t *testing.T) {
	e, err := newTestServer(t, nil).router()
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/saml/sign", strings.NewReader(unsignedEnvelope)))

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a signing key, got %d", rec.Code)
	}
}

func TestRouter_Sign(t *testing.T) {
	keyFile, certFile := writeKeyPair(t, t.TempDir())
	signer, err := newSigner(&config.Config{
		SigningKeyFile:   keyFile,
		SigningCertFile:  certFile,
		SigningAlgorithm: "rsa-sha1",
	})
	if err != nil {
		t.Fatalf("newSigner: %v", err)
	}

	e, err := newTestServer(t, signer).router()
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/saml/sign", strings.NewReader(unsignedEnvelope)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if n := strings.Count(rec.Body.String(), "<ds:Signature "); n != 2 {
		t.Errorf("expected 2 signatures, got %d", n)
	}
}

func TestRouter_ChunkedBodyOverLimit(t *testing.T) {
	keyFile, certFile := writeKeyPair(t, t.TempDir())
	signer, err := newSigner(&config.Config{
		SigningKeyFile:   keyFile,
		SigningCertFile:  certFile,
		SigningAlgorithm: "rsa-sha256",
	})
	if err != nil {
		t.Fatalf("newSigner: %v", err)
	}

	s := newTestServer(t, signer)
	s.cfg.BodyLimit = "1K"
	e, err := s.router()
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	jsonBody := `{"name": "` + strings.Repeat("x", 4096) + `"}`
	xmlBody := `<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body>` +
		strings.Repeat("<pad/>", 1024) + `</soap:Body></soap:Envelope>`

	tests := []struct {
		path        string
		body        string
		contentType string
	}{
		{"/api/v1/xcpd/classify", jsonBody, "application/json"},
		{"/api/v1/cda/organization", jsonBody, "application/json"},
		{"/api/v1/cda/coded-value", jsonBody, "application/json"},
		{"/api/v1/saml/sign", xmlBody, "application/soap+xml"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			req.ContentLength = -1
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusRequestEntityTooLarge {
				t.Errorf("expected 413, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCDACmd_Organization_FreeTextUse(t *testing.T) {
	org := `{"resourceType": "Organization", "name": "Northside Clinic",
		"telecom": [{"system": "phone", "value": "555-0100", "use": "Mobile Contact"}],
		"address": [
			{"use": "Primary Home", "line": ["1 Main St"], "city": "Springfield"},
			{"use": "unrecognized-value", "city": "Shelbyville"}
		]}`
	out, err := execute(t, org, "cda", "organization")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{`use="MC"`, `use="HP"`, `use="unrecognized-value"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output, got:\n%s", want, out)
		}
	}
}
