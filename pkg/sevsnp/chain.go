package sevsnp

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/tinfoilsh/verifier/pkg/sevsnp/certs"
)

// verifyECDSASignature checks an ECDSA/SHA-384 signature where sig is laid
// out per the SEV-SNP ABI as R (48 bytes) || S (48 bytes) || reserved,
// rather than the ASN.1 DER encoding crypto/ecdsa normally expects.
func verifyECDSASignature(pub *ecdsa.PublicKey, signedData, sig []byte) error {
	if len(sig) < 96 {
		return fmt.Errorf("signature too short: %d bytes", len(sig))
	}
	r := new(big.Int).SetBytes(reverseBytes(sig[0:48]))
	s := new(big.Int).SetBytes(reverseBytes(sig[48:96]))
	hash := sha512.Sum384(signedData)
	if !ecdsa.Verify(pub, hash[:], r, s) {
		return fmt.Errorf("signature does not verify")
	}
	return nil
}

// reverseBytes returns a copy of b with byte order reversed. SEV-SNP packs
// R/S as little-endian; math/big.Int.SetBytes expects big-endian.
func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// Product names as they appear in AMD KDS certificate CNs and the
// PRODUCT_NAME VCEK extension.
const (
	ProductMilan = "Milan"
	ProductGenoa = "Genoa"
)

// amdDN is the distinguished name AMD's KDS stamps on every certificate in
// the ARK/ASK/VCEK chain, for both subject and issuer (CN aside).
var amdDN = struct {
	country, locality, state, org, orgUnit string
}{"US", "Santa Clara", "CA", "Advanced Micro Devices", "Engineering"}

// checkAMDName verifies that name carries AMD's canonical location fields.
func checkAMDName(role string, name pkix.Name) error {
	check := func(field string, have []string, want string) error {
		if len(have) != 1 || have[0] != want {
			return fmt.Errorf("sevsnp: %s %s %v, want [%s]", role, field, have, want)
		}
		return nil
	}
	if err := check("country", name.Country, amdDN.country); err != nil {
		return err
	}
	if err := check("locality", name.Locality, amdDN.locality); err != nil {
		return err
	}
	if err := check("state", name.Province, amdDN.state); err != nil {
		return err
	}
	if err := check("organization", name.Organization, amdDN.org); err != nil {
		return err
	}
	return check("organizational unit", name.OrganizationalUnit, amdDN.orgUnit)
}

func checkAMDSubjectAndIssuer(role string, cert *x509.Certificate) error {
	if err := checkAMDName(role+" subject", cert.Subject); err != nil {
		return err
	}
	return checkAMDName(role+" issuer", cert.Issuer)
}

// VCEK wraps a parsed VCEK certificate with the SEV-specific fields pulled
// out of its extensions.
type VCEK struct {
	Certificate *x509.Certificate
	HardwareID  [64]byte
	TCB         TCBParts
	Product     string
}

// ParseVCEK parses a DER-encoded VCEK certificate and extracts its
// SEV-specific extensions, enforcing the format invariants that separate a
// genuine VCEK from a VLEK or a malformed certificate: the CSP_ID
// extension must be absent, the signature algorithm must be RSASSA-PSS,
// the subject key must be ECDSA on P-384, and the HWID and PRODUCT_NAME
// extensions must be present and well-formed.
func ParseVCEK(der []byte) (*VCEK, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("sevsnp: parsing VCEK certificate: %w", err)
	}
	return newVCEK(cert)
}

func newVCEK(cert *x509.Certificate) (*VCEK, error) {
	if _, hasCSPID := extensionValue(cert, oidCSPID); hasCSPID {
		return nil, fmt.Errorf("sevsnp: certificate carries a CSP_ID extension: this is a VLEK, not a VCEK")
	}
	if cert.SignatureAlgorithm != x509.SHA384WithRSAPSS {
		return nil, fmt.Errorf("sevsnp: VCEK signature algorithm %s, want RSASSA-PSS with SHA-384", cert.SignatureAlgorithm)
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("sevsnp: VCEK public key is not ECDSA")
	}
	if pub.Curve != elliptic.P384() {
		return nil, fmt.Errorf("sevsnp: VCEK public key curve %s, want P-384", pub.Curve.Params().Name)
	}

	tcb, err := extensionTCB(cert)
	if err != nil {
		return nil, err
	}
	hwid, err := extensionHardwareID(cert)
	if err != nil {
		return nil, err
	}
	productName, err := extensionProductName(cert)
	if err != nil {
		return nil, err
	}
	// KDS mints product names with a model suffix ("Genoa-B0"); the base
	// product names the cert chain.
	product, _, _ := strings.Cut(productName, "-")
	switch product {
	case ProductGenoa, ProductMilan:
	default:
		return nil, fmt.Errorf("sevsnp: VCEK product name %q names an unrecognized product", productName)
	}

	return &VCEK{Certificate: cert, HardwareID: hwid, TCB: tcb, Product: product}, nil
}

// Chain is the full AMD SEV-SNP certificate chain for one attestation:
// ARK (self-signed root) -> ASK (AMD SEV Signing Key) -> VCEK.
type Chain struct {
	ARK     *x509.Certificate
	ASK     *x509.Certificate
	VCEK    *VCEK
	Product string
}

// NewChain parses DER-encoded ARK, ASK, and VCEK certificates into a Chain.
func NewChain(arkDER, askDER, vcekDER []byte) (*Chain, error) {
	ark, err := x509.ParseCertificate(arkDER)
	if err != nil {
		return nil, fmt.Errorf("sevsnp: parsing ARK certificate: %w", err)
	}
	ask, err := x509.ParseCertificate(askDER)
	if err != nil {
		return nil, fmt.Errorf("sevsnp: parsing ASK certificate: %w", err)
	}
	vcek, err := ParseVCEK(vcekDER)
	if err != nil {
		return nil, err
	}
	return &Chain{ARK: ark, ASK: ask, VCEK: vcek, Product: vcek.Product}, nil
}

// NewChainForProduct builds a Chain using the compiled-in ARK/ASK
// certificates for vcekDER's product, instead of requiring the caller to
// source them from the KDS cert-chain endpoint.
func NewChainForProduct(vcekDER []byte) (*Chain, error) {
	vcek, err := ParseVCEK(vcekDER)
	if err != nil {
		return nil, err
	}

	arkPEM, askPEM, ok := certs.ARKASKFor(vcek.Product)
	if !ok {
		return nil, fmt.Errorf("sevsnp: no compiled-in root certificates for product %q", vcek.Product)
	}
	ark, err := parsePEMCertificate(arkPEM)
	if err != nil {
		return nil, fmt.Errorf("sevsnp: parsing embedded ARK for %q: %w", vcek.Product, err)
	}
	ask, err := parsePEMCertificate(askPEM)
	if err != nil {
		return nil, fmt.Errorf("sevsnp: parsing embedded ASK for %q: %w", vcek.Product, err)
	}

	return &Chain{ARK: ark, ASK: ask, VCEK: vcek, Product: vcek.Product}, nil
}

func parsePEMCertificate(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	return x509.ParseCertificate(block.Bytes)
}

// Verify checks the chain's signature links (ARK self-signed, ASK signed by
// ARK, VCEK signed by ASK), certificate validity windows at now (inclusive
// at both bounds), and the format invariants AMD's KDS guarantees for each
// certificate role: v3 certificates, the canonical AMD distinguished name
// on every subject and issuer, and the exact role CNs
// (ARK-<product>, SEV-<product>, SEV-VCEK).
func (c *Chain) Verify(now time.Time) error {
	if c.ARK == nil || c.ASK == nil || c.VCEK == nil || c.VCEK.Certificate == nil {
		return fmt.Errorf("sevsnp: incomplete certificate chain")
	}

	for role, cert := range map[string]*x509.Certificate{"ARK": c.ARK, "ASK": c.ASK, "VCEK": c.VCEK.Certificate} {
		if cert.Version != 3 {
			return fmt.Errorf("sevsnp: %s certificate is v%d, want v3", role, cert.Version)
		}
		if !validForDate(cert, now) {
			return fmt.Errorf("sevsnp: %s certificate is not valid at %s (window %s to %s)",
				role, now.Format(time.RFC3339), cert.NotBefore.Format(time.RFC3339), cert.NotAfter.Format(time.RFC3339))
		}
		if err := checkAMDSubjectAndIssuer(role, cert); err != nil {
			return err
		}
	}

	if cn := c.ARK.Subject.CommonName; cn != "ARK-"+c.Product {
		return fmt.Errorf("sevsnp: ARK subject CN %q, want %q", cn, "ARK-"+c.Product)
	}
	if cn := c.ASK.Subject.CommonName; cn != "SEV-"+c.Product {
		return fmt.Errorf("sevsnp: ASK subject CN %q, want %q", cn, "SEV-"+c.Product)
	}
	if cn := c.VCEK.Certificate.Subject.CommonName; cn != "SEV-VCEK" {
		return fmt.Errorf("sevsnp: VCEK subject CN %q, want \"SEV-VCEK\"", cn)
	}

	if err := c.ARK.CheckSignatureFrom(c.ARK); err != nil {
		return fmt.Errorf("sevsnp: ARK is not self-signed: %w", err)
	}
	if err := c.ASK.CheckSignatureFrom(c.ARK); err != nil {
		return fmt.Errorf("sevsnp: ASK signature does not chain to ARK: %w", err)
	}
	if err := c.VCEK.Certificate.CheckSignatureFrom(c.ASK); err != nil {
		return fmt.Errorf("sevsnp: VCEK signature does not chain to ASK: %w", err)
	}

	return nil
}

// VerifyReportSignature checks that report's ECDSA P-384/SHA-384 signature
// verifies under vcek's public key, and that the VCEK's bound hardware ID
// and TCB agree with the report's claimed values.
func VerifyReportSignature(raw []byte, r *Report, vcek *VCEK) error {
	pub, ok := vcek.Certificate.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("sevsnp: VCEK public key is not ECDSA")
	}
	if pub.Curve != elliptic.P384() {
		return fmt.Errorf("sevsnp: VCEK public key curve %s, want P-384", pub.Curve.Params().Name)
	}

	if err := verifyECDSASignature(pub, raw[:offsetSignature], r.Signature[:]); err != nil {
		return fmt.Errorf("sevsnp: report signature verification failed: %w", err)
	}

	signer, err := r.SignerInfo()
	if err != nil {
		return fmt.Errorf("sevsnp: reading signer info: %w", err)
	}
	if signer.MaskChipKey {
		var zero [64]byte
		if !bytes.Equal(r.ChipID[:], zero[:]) {
			return fmt.Errorf("sevsnp: maskChipKey is set but report chip ID is not all-zero")
		}
	} else if !bytes.Equal(r.ChipID[:], vcek.HardwareID[:]) {
		return fmt.Errorf("sevsnp: report chip ID does not match VCEK hardware ID")
	}

	reportTCB := r.ReportedTCBParts()
	if reportTCB != vcek.TCB {
		return fmt.Errorf("sevsnp: report TCB %+v does not match VCEK-bound TCB %+v", reportTCB, vcek.TCB)
	}

	return nil
}
