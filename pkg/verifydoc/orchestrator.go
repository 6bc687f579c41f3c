package verifydoc

import (
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"time"

	"github.com/tinfoilsh/verifier/pkg/bundle"
	"github.com/tinfoilsh/verifier/pkg/sevsnp"
	"github.com/tinfoilsh/verifier/pkg/sigstoreverify"
	"github.com/tinfoilsh/verifier/pkg/tinfoilerr"
)

// AttestationResponse is what VerifyBundle returns on success: the
// fingerprints and measurement a caller needs to open an encrypted
// session and to display to an end user.
type AttestationResponse struct {
	TLSPublicKeyFingerprint string
	HPKEPublicKey           string
	Measurement             sevsnp.Measurement
}

// VerifyBundle is the orchestrator entry point: it runs the five
// steps in order against b, recording each into a fresh Document. Any
// step's failure stops the sequence immediately (subsequent steps stay
// pending) and is returned as an *tinfoilerr.AttestationError; the
// document is still returned so the caller can inspect which step failed.
func VerifyBundle(b bundle.AttestationBundle, configRepo, selectedRouterEndpoint string) (*AttestationResponse, *Document, error) {
	doc := NewDocument(configRepo, b.Domain, selectedRouterEndpoint)
	doc.markSuccess(StepFetchDigest, 0) // the assembler already did this fetch

	start := time.Now()
	attResult, err := sevsnp.VerifyAttestation(b.EnclaveAttestationReport, b.VCEK)
	if err != nil {
		attErr := &tinfoilerr.AttestationError{Step: string(StepVerifyEnclave), Message: "enclave attestation verification failed", Cause: err}
		doc.markFailed(StepVerifyEnclave, attErr, time.Since(start))
		return nil, doc, attErr
	}
	doc.markSuccess(StepVerifyEnclave, time.Since(start))

	start = time.Now()
	codeMeasurement, err := sigstoreverify.VerifyBundle(b.SigstoreBundle, b.Digest, configRepo)
	if err != nil {
		attErr := &tinfoilerr.AttestationError{Step: string(StepVerifyCode), Message: "code provenance verification failed", Cause: err}
		doc.markFailed(StepVerifyCode, attErr, time.Since(start))
		return nil, doc, attErr
	}
	doc.markSuccess(StepVerifyCode, time.Since(start))

	sevsnpCodeMeasurement := sevsnp.Measurement{Type: sevsnp.PredicateType(codeMeasurement.Type), Registers: codeMeasurement.Registers}

	start = time.Now()
	if err := sevsnp.CompareMeasurements(attResult.Measurement, sevsnpCodeMeasurement); err != nil {
		attErr := &tinfoilerr.AttestationError{Step: string(StepCompareMeasurements), Message: "hardware measurement does not match code provenance", Cause: err}
		doc.markFailed(StepCompareMeasurements, attErr, time.Since(start))
		return nil, doc, attErr
	}
	doc.markSuccess(StepCompareMeasurements, time.Since(start))

	start = time.Now()
	if err := verifyCertificateBinding(b, attResult); err != nil {
		attErr := &tinfoilerr.AttestationError{Step: string(StepVerifyCertificate), Message: "certificate binding verification failed", Cause: err}
		doc.markFailed(StepVerifyCertificate, attErr, time.Since(start))
		return nil, doc, attErr
	}
	doc.markSuccess(StepVerifyCertificate, time.Since(start))

	doc.mu.Lock()
	doc.releaseDigest = b.Digest
	doc.codeMeasurement = sevsnpCodeMeasurement
	doc.enclaveMeasurement = attResult.Measurement
	doc.tlsPublicKey = attResult.TLSPublicKeyFingerprint
	doc.hpkePublicKey = attResult.HPKEPublicKey
	doc.codeFingerprint = sevsnpCodeMeasurement.Fingerprint()
	doc.enclaveFingerprint = attResult.Measurement.Fingerprint()
	doc.securityVerified = true
	doc.mu.Unlock()

	return &AttestationResponse{
		TLSPublicKeyFingerprint: attResult.TLSPublicKeyFingerprint,
		HPKEPublicKey:           attResult.HPKEPublicKey,
		Measurement:             attResult.Measurement,
	}, doc, nil
}

// verifyCertificateBinding is the final verification step: the enclave's
// TLS certificate must name b.Domain in its SANs, and its dcode-encoded
// SANs must bind the attested HPKE key and the attestation document hash.
func verifyCertificateBinding(b bundle.AttestationBundle, attResult *sevsnp.AttestationResult) error {
	block, _ := pem.Decode([]byte(b.EnclaveCert))
	if block == nil {
		return &tinfoilerr.AttestationError{Message: "enclave certificate is not valid PEM"}
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return &tinfoilerr.AttestationError{Message: "parsing enclave certificate", Cause: err}
	}

	if !domainMatchesSans(cert.DNSNames, b.Domain) {
		return &tinfoilerr.AttestationError{Message: "Certificate domain mismatch: " + b.Domain + " not found in certificate SANs"}
	}

	hpkeBytes, err := sevsnp.DecodeSAN(cert.DNSNames, "hpke")
	if err != nil {
		return &tinfoilerr.AttestationError{Message: "decoding hpke SAN", Cause: err}
	}
	if hex.EncodeToString(hpkeBytes) != attResult.HPKEPublicKey {
		return &tinfoilerr.AttestationError{Message: "HPKE key mismatch: certificate SAN does not match attested key"}
	}

	hattBytes, err := sevsnp.DecodeSAN(cert.DNSNames, "hatt")
	if err != nil {
		return &tinfoilerr.AttestationError{Message: "decoding hatt SAN", Cause: err}
	}
	// The hatt SAN decodes to the ASCII hex digits of the document hash,
	// not the raw digest bytes — compare as strings.
	if string(hattBytes) != sevsnp.HashAttestationDocument(b.EnclaveAttestationReport) {
		return &tinfoilerr.AttestationError{Message: "attestation document hash mismatch: certificate SAN does not match"}
	}

	return nil
}
