package sevsnp

import (
	"fmt"
	"time"
)

// AttestationResult is what VerifyAttestation derives from a verified
// report: the fingerprints bound into REPORT_DATA, and the hardware
// measurement under the document's own predicate type.
type AttestationResult struct {
	TLSPublicKeyFingerprint string
	HPKEPublicKey           string
	Measurement             Measurement
}

// VerifyAttestation is the high-level verification entry point: decompress the
// document body, parse the report, build and verify the certificate chain
// against the compiled-in AMD root/signing-key certificates for the VCEK's
// product, validate the report against the default policy, then derive the
// transport-key fingerprints and hardware measurement bound in the report.
func VerifyAttestation(doc AttestationDocument, vcekDER []byte) (*AttestationResult, error) {
	chain, err := NewChainForProduct(vcekDER)
	if err != nil {
		return nil, err
	}
	return verifyAttestationWithChain(doc, chain, time.Now())
}

// verifyAttestationWithChain is VerifyAttestation with an already-built
// Chain and an injected clock, so tests can exercise expired/future
// certificate windows and custom (non-compiled-in) roots deterministically.
func verifyAttestationWithChain(doc AttestationDocument, chain *Chain, now time.Time) (*AttestationResult, error) {
	if !doc.Format.Valid() {
		return nil, fmt.Errorf("sevsnp: unrecognized attestation predicate type %q", doc.Format)
	}

	raw, err := DecodeReportBody(doc.Body)
	if err != nil {
		return nil, err
	}

	report, err := ParseReport(raw)
	if err != nil {
		return nil, err
	}

	signer, err := report.SignerInfo()
	if err != nil {
		return nil, err
	}
	if signer.SigningKey != VcekReportSigner {
		return nil, fmt.Errorf("sevsnp: report is not signed by a VCEK")
	}
	if chain.Product != ProductGenoa {
		return nil, fmt.Errorf("sevsnp: unsupported product %q, only Genoa attestations are accepted", chain.Product)
	}

	if err := chain.Verify(now); err != nil {
		return nil, err
	}

	if err := VerifyReportSignature(raw, report, chain.VCEK); err != nil {
		return nil, err
	}

	if err := ValidatePolicy(report, DefaultValidationOptions()); err != nil {
		return nil, err
	}

	return &AttestationResult{
		TLSPublicKeyFingerprint: report.TLSPublicKeyFingerprint(),
		HPKEPublicKey:           report.HPKEPublicKeyHex(),
		Measurement:             report.MeasurementFor(doc.Format),
	}, nil
}

// VerifyAttestationWithChain exposes verifyAttestationWithChain for callers
// (e.g. this package's tests) that already have a built
// Chain and want explicit control over the verification clock.
func VerifyAttestationWithChain(doc AttestationDocument, chain *Chain, now time.Time) (*AttestationResult, error) {
	return verifyAttestationWithChain(doc, chain, now)
}
