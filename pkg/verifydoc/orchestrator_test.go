package verifydoc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinfoilsh/verifier/pkg/bundle"
	"github.com/tinfoilsh/verifier/pkg/sevsnp"
	"github.com/tinfoilsh/verifier/pkg/tinfoilerr"
)

func TestNewDocumentStartsAllStepsPending(t *testing.T) {
	doc := NewDocument("acme/models", "enclave.example.com", "")
	for name, res := range doc.Steps() {
		assert.Equal(t, StepPending, res.Status, string(name))
	}
	assert.False(t, doc.SecurityVerified())
}

func TestVerifyBundleMarksVerifyEnclaveFailedOnGarbageBody(t *testing.T) {
	// The bundle also carries no VCEK, and the VCEK is parsed before the
	// body is decoded; either fault marks the verifyEnclave step failed.
	b := bundle.AttestationBundle{
		Domain: "enclave.example.com",
		EnclaveAttestationReport: sevsnp.AttestationDocument{
			Format: sevsnp.SevGuestV2,
			Body:   "!!!not base64!!!",
		},
	}

	_, doc, err := VerifyBundle(b, "acme/models", "")
	var attErr *tinfoilerr.AttestationError
	require.ErrorAs(t, err, &attErr)
	assert.Equal(t, string(StepVerifyEnclave), attErr.Step)

	require.NotNil(t, doc)
	assert.Equal(t, StepSuccess, doc.Step(StepFetchDigest).Status)
	assert.Equal(t, StepFailed, doc.Step(StepVerifyEnclave).Status)
	assert.Equal(t, StepPending, doc.Step(StepVerifyCode).Status, "later steps are skipped, not failed")
	assert.Equal(t, StepPending, doc.Step(StepCompareMeasurements).Status)
	assert.False(t, doc.SecurityVerified())
}

// bindingFixture builds an enclave TLS certificate whose SANs carry the
// domain plus dcode-encoded HPKE-key and attestation-hash payloads, and
// the matching attestation result.
type bindingFixture struct {
	bundle    bundle.AttestationBundle
	attResult *sevsnp.AttestationResult
}

func newBindingFixture(t *testing.T, domain string, hpkeKey []byte, attDoc sevsnp.AttestationDocument) *bindingFixture {
	t.Helper()

	hpkeSans, err := sevsnp.EncodeSAN(hpkeKey, "hpke", domain, 20)
	require.NoError(t, err)
	hattSans, err := sevsnp.EncodeSAN([]byte(sevsnp.HashAttestationDocument(attDoc)), "hatt", domain, 20)
	require.NoError(t, err)

	sans := append([]string{domain}, hpkeSans...)
	sans = append(sans, hattSans...)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: domain},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     sans,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	return &bindingFixture{
		bundle: bundle.AttestationBundle{
			Domain:                   domain,
			EnclaveAttestationReport: attDoc,
			EnclaveCert:              string(certPEM),
		},
		attResult: &sevsnp.AttestationResult{HPKEPublicKey: hex.EncodeToString(hpkeKey)},
	}
}

func TestVerifyCertificateBindingAccepts(t *testing.T) {
	attDoc := sevsnp.AttestationDocument{Format: sevsnp.SnpTdxMultiplatformV1, Body: "Zm9vYmFy"}
	hpkeKey := make([]byte, 32)
	for i := range hpkeKey {
		hpkeKey[i] = byte(i)
	}
	fx := newBindingFixture(t, "enclave.example.com", hpkeKey, attDoc)

	require.NoError(t, verifyCertificateBinding(fx.bundle, fx.attResult))
}

func TestVerifyCertificateBindingRejectsDomainMismatch(t *testing.T) {
	attDoc := sevsnp.AttestationDocument{Format: sevsnp.SnpTdxMultiplatformV1, Body: "Zm9vYmFy"}
	fx := newBindingFixture(t, "enclave.example.com", make([]byte, 32), attDoc)
	fx.bundle.Domain = "wrong.example.com"

	err := verifyCertificateBinding(fx.bundle, fx.attResult)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Certificate domain mismatch")
}

func TestVerifyCertificateBindingRejectsHPKEKeyMismatch(t *testing.T) {
	attDoc := sevsnp.AttestationDocument{Format: sevsnp.SnpTdxMultiplatformV1, Body: "Zm9vYmFy"}
	fx := newBindingFixture(t, "enclave.example.com", make([]byte, 32), attDoc)
	// The certificate SAN carries all-zero bytes; attest a different key.
	fx.attResult.HPKEPublicKey = hex.EncodeToString([]byte{0xFF, 0xEE})

	err := verifyCertificateBinding(fx.bundle, fx.attResult)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HPKE key mismatch")
}

func TestVerifyCertificateBindingRejectsAttestationHashMismatch(t *testing.T) {
	attDoc := sevsnp.AttestationDocument{Format: sevsnp.SnpTdxMultiplatformV1, Body: "Zm9vYmFy"}
	hpkeKey := make([]byte, 32)
	fx := newBindingFixture(t, "enclave.example.com", hpkeKey, attDoc)
	// Swap the attested document after the certificate was minted.
	fx.bundle.EnclaveAttestationReport.Body = "b3RoZXI="

	err := verifyCertificateBinding(fx.bundle, fx.attResult)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")
}

func TestVerifyCertificateBindingRejectsBadPEM(t *testing.T) {
	b := bundle.AttestationBundle{Domain: "x.example.com", EnclaveCert: "not pem"}
	err := verifyCertificateBinding(b, &sevsnp.AttestationResult{})
	require.Error(t, err)
}

func TestVerifyCertificateBindingWildcardDomain(t *testing.T) {
	attDoc := sevsnp.AttestationDocument{Format: sevsnp.SnpTdxMultiplatformV1, Body: "Zm9vYmFy"}
	fx := newBindingFixture(t, "*.inference.example.com", make([]byte, 32), attDoc)
	fx.bundle.Domain = "gpu7.inference.example.com"

	require.NoError(t, verifyCertificateBinding(fx.bundle, fx.attResult))
}
