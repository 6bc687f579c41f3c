package sevsnp

import (
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"time"
)

// AMD's SEV-SNP custom certificate extension OIDs, base 1.3.6.1.4.1.3704.
var (
	oidProductName   = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 3704, 1, 2}
	oidBootLoaderSVN = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 3704, 1, 3, 1}
	oidTEESVN        = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 3704, 1, 3, 2}
	oidSNPSVN        = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 3704, 1, 3, 3}
	oidMicrocodeSVN  = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 3704, 1, 3, 8}
	oidHardwareID    = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 3704, 1, 4}
	// oidCSPID marks a VLEK (a cloud-service-provider key). Its presence
	// on a certificate means the certificate is not a VCEK.
	oidCSPID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 3704, 1, 5}
)

// extensionValue returns the raw ASN.1 value of the first extension on cert
// matching oid, and whether it was found at all.
func extensionValue(cert *x509.Certificate, oid asn1.ObjectIdentifier) ([]byte, bool) {
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oid) {
			return ext.Value, true
		}
	}
	return nil, false
}

// extensionSPL decodes an ASN.1 INTEGER extension value into a uint8 SVN.
func extensionSPL(cert *x509.Certificate, oid asn1.ObjectIdentifier, name string) (uint8, error) {
	raw, ok := extensionValue(cert, oid)
	if !ok {
		return 0, fmt.Errorf("sevsnp: certificate missing %s extension", name)
	}
	var value int
	if _, err := asn1.Unmarshal(raw, &value); err != nil {
		return 0, fmt.Errorf("sevsnp: %s extension is not a valid ASN.1 INTEGER: %w", name, err)
	}
	if value < 0 || value > 255 {
		return 0, fmt.Errorf("sevsnp: %s value %d out of uint8 range", name, value)
	}
	return uint8(value), nil
}

// extensionTCB reads all four SVN extensions off a VCEK and assembles them
// into TCBParts.
func extensionTCB(cert *x509.Certificate) (TCBParts, error) {
	bl, err := extensionSPL(cert, oidBootLoaderSVN, "boot loader SVN")
	if err != nil {
		return TCBParts{}, err
	}
	tee, err := extensionSPL(cert, oidTEESVN, "TEE SVN")
	if err != nil {
		return TCBParts{}, err
	}
	snp, err := extensionSPL(cert, oidSNPSVN, "SNP SVN")
	if err != nil {
		return TCBParts{}, err
	}
	ucode, err := extensionSPL(cert, oidMicrocodeSVN, "microcode SVN")
	if err != nil {
		return TCBParts{}, err
	}
	return TCBParts{BlSpl: bl, TeeSpl: tee, SnpSpl: snp, UcodeSpl: ucode}, nil
}

// extensionProductName decodes the PRODUCT_NAME extension, whose DER value
// is an IA5String naming the processor line (e.g. "Genoa"). AMD KDS also
// mints product names with a model suffix ("Genoa-B0"); the base product
// is everything before the first dash.
func extensionProductName(cert *x509.Certificate) (string, error) {
	raw, ok := extensionValue(cert, oidProductName)
	if !ok {
		return "", fmt.Errorf("sevsnp: certificate missing product name extension")
	}
	var value string
	if _, err := asn1.UnmarshalWithParams(raw, &value, "ia5"); err != nil {
		return "", fmt.Errorf("sevsnp: product name extension is not a valid IA5String: %w", err)
	}
	return value, nil
}

// extensionHardwareID reads the 64-byte chip ID extension, which AMD encodes
// as a raw OCTET STRING value rather than a nested ASN.1 value.
func extensionHardwareID(cert *x509.Certificate) ([64]byte, error) {
	var hwid [64]byte
	raw, ok := extensionValue(cert, oidHardwareID)
	if !ok {
		return hwid, fmt.Errorf("sevsnp: certificate missing hardware ID extension")
	}

	if len(raw) == 64 {
		copy(hwid[:], raw)
		return hwid, nil
	}

	var nested []byte
	if _, err := asn1.Unmarshal(raw, &nested); err != nil {
		return hwid, fmt.Errorf("sevsnp: hardware ID extension is neither a raw 64-byte string nor valid ASN.1: %w", err)
	}
	if len(nested) != 64 {
		return hwid, fmt.Errorf("sevsnp: hardware ID extension has length %d, want 64", len(nested))
	}
	copy(hwid[:], nested)
	return hwid, nil
}

// validForDate reports whether now falls within cert's NotBefore/NotAfter
// window, inclusive at both bounds.
func validForDate(cert *x509.Certificate, now time.Time) bool {
	return !now.Before(cert.NotBefore) && !now.After(cert.NotAfter)
}
