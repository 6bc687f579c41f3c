// Package sevsnp implements AMD SEV-SNP attestation report parsing, the
// X.509/ASN.1 plumbing needed to validate the ARK→ASK→VCEK certificate
// chain, and the report-policy validator.
package sevsnp

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// PredicateType names the attestation register layout a report or a
// Sigstore provenance predicate uses. It is a closed set: unknown values
// fail to parse rather than falling back to a guess.
type PredicateType string

const (
	// SevGuestV1 is the deprecated single-register SNP layout.
	SevGuestV1 PredicateType = "https://tinfoil.sh/predicate/sev-guest/v1"
	// SevGuestV2 is the current single-register SNP layout.
	SevGuestV2 PredicateType = "https://tinfoil.sh/predicate/sev-guest/v2"
	// SnpTdxMultiplatformV1 carries the SNP measurement plus runtime
	// measurement registers (rtmr1, rtmr2, ...).
	SnpTdxMultiplatformV1 PredicateType = "https://tinfoil.sh/predicate/snp-tdx-multiplatform/v1"
)

// Valid reports whether t is one of the three known predicate types.
func (t PredicateType) Valid() bool {
	switch t {
	case SevGuestV1, SevGuestV2, SnpTdxMultiplatformV1:
		return true
	default:
		return false
	}
}

// AttestationDocument is the wire shape fetched from
// /.well-known/tinfoil-attestation: Body is base64-encoded,
// gzip-compressed raw SEV-SNP report bytes.
type AttestationDocument struct {
	Format PredicateType `json:"format"`
	Body   string        `json:"body"`
}

// HashAttestationDocument is the byte-exact document fingerprint:
// hex(sha256(format || body)), both concatenated as raw UTF-8, no
// separator. Stable across implementations; the hatt SAN carries it.
func HashAttestationDocument(doc AttestationDocument) string {
	h := sha256.New()
	h.Write([]byte(doc.Format))
	h.Write([]byte(doc.Body))
	return hex.EncodeToString(h.Sum(nil))
}

// Measurement is the launch-time (and, for multiplatform reports,
// runtime) measurement bound in a report or a Sigstore provenance
// predicate. For SnpTdxMultiplatformV1 the first register is the SNP
// measurement; for SevGuestV2 there is exactly one register.
type Measurement struct {
	Type      PredicateType
	Registers []string
}

// Fingerprint returns the single register verbatim when there is exactly
// one, otherwise sha256(type || join(registers, "")) hex-encoded.
func (m Measurement) Fingerprint() string {
	if len(m.Registers) == 1 {
		return m.Registers[0]
	}
	h := sha256.New()
	h.Write([]byte(m.Type))
	for _, r := range m.Registers {
		h.Write([]byte(r))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CompareMeasurements compares two measurements across formats: equal
// types compare the whole register list; SevGuestV2 against
// SnpTdxMultiplatformV1 (in either order) compares only the first
// register; every other type pairing fails outright.
func CompareMeasurements(a, b Measurement) error {
	if len(a.Registers) == 0 || len(b.Registers) == 0 {
		return fmt.Errorf("sevsnp: measurement has no registers")
	}

	if a.Type == b.Type {
		if len(a.Registers) != len(b.Registers) {
			return fmt.Errorf("sevsnp: measurement register count mismatch: %d vs %d", len(a.Registers), len(b.Registers))
		}
		for i := range a.Registers {
			if a.Registers[i] != b.Registers[i] {
				return fmt.Errorf("sevsnp: measurement register %d mismatch", i)
			}
		}
		return nil
	}

	crossType := (a.Type == SevGuestV2 && b.Type == SnpTdxMultiplatformV1) ||
		(a.Type == SnpTdxMultiplatformV1 && b.Type == SevGuestV2)
	if !crossType {
		return fmt.Errorf("sevsnp: incompatible measurement types: %s vs %s", a.Type, b.Type)
	}
	if a.Registers[0] != b.Registers[0] {
		return fmt.Errorf("sevsnp: measurement mismatch: %s vs %s", a.Registers[0], b.Registers[0])
	}
	return nil
}
