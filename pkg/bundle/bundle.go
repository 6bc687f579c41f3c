// Package bundle implements the attestation bundle assembler: it fetches the
// five fields of an AttestationBundle from public infrastructure (or, in
// ATC mode, from a centralized attestation coordinator that has already
// assembled them), wrapping every fetch in a bounded retry policy.
package bundle

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/tinfoilsh/verifier/pkg/sevsnp"
)

// AttestationBundle is the unit verified atomically by the verification
// orchestrator: everything needed to prove an enclave runs a specific
// signed release and holds the keys it claims.
type AttestationBundle struct {
	Domain                  string
	EnclaveAttestationReport sevsnp.AttestationDocument
	Digest                  string // hex SHA-256 of the release artifact
	SigstoreBundle          []byte // opaque Sigstore bundle JSON
	VCEK                    []byte // raw DER, decoded from the wire's base64
	EnclaveCert             string // PEM
}

// wireBundle is the JSON shape exchanged with the ATC.
type wireBundle struct {
	Domain                   string                      `json:"domain"`
	EnclaveAttestationReport sevsnp.AttestationDocument  `json:"enclaveAttestationReport"`
	Digest                   string                      `json:"digest"`
	SigstoreBundle           json.RawMessage             `json:"sigstoreBundle"`
	VCEK                     string                      `json:"vcek"` // base64 DER
	EnclaveCert              string                      `json:"enclaveCert"`
}

// MarshalJSON renders the bundle in the wire shape (base64 VCEK, raw
// Sigstore bundle JSON embedded rather than double-encoded).
func (b AttestationBundle) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireBundle{
		Domain:                   b.Domain,
		EnclaveAttestationReport: b.EnclaveAttestationReport,
		Digest:                   b.Digest,
		SigstoreBundle:           json.RawMessage(b.SigstoreBundle),
		VCEK:                     base64.StdEncoding.EncodeToString(b.VCEK),
		EnclaveCert:              b.EnclaveCert,
	})
}

// UnmarshalJSON parses the wire shape produced by an ATC response.
func (b *AttestationBundle) UnmarshalJSON(data []byte) error {
	var w wireBundle
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("bundle: parsing attestation bundle: %w", err)
	}
	vcek, err := base64.StdEncoding.DecodeString(w.VCEK)
	if err != nil {
		return fmt.Errorf("bundle: vcek field is not valid base64: %w", err)
	}
	b.Domain = w.Domain
	b.EnclaveAttestationReport = w.EnclaveAttestationReport
	b.Digest = w.Digest
	b.SigstoreBundle = []byte(w.SigstoreBundle)
	b.VCEK = vcek
	b.EnclaveCert = w.EnclaveCert
	return nil
}
