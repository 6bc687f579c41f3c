// Package ehbp implements the encrypted-body HTTP protocol: construct an
// identity from a known HPKE public key, open a session bound to a
// request host, issue requests whose bodies are encrypted end to end, and
// recover a pending response from a session token.
//
// Cipher suite is fixed at DHKEM(X25519)/HKDF-SHA256/AES-128-GCM (RFC 9180
// base mode).
package ehbp

import (
	"encoding/hex"
	"fmt"

	"github.com/cloudflare/circl/hpke"
	"github.com/cloudflare/circl/kem"
)

// Suite is the fixed HPKE cipher suite every identity and session in this
// package uses.
var Suite = hpke.NewSuite(hpke.KEM_X25519_HKDF_SHA256, hpke.KDF_HKDF_SHA256, hpke.AEAD_AES128GCM)

// Identity is the enclave's HPKE public key, as attested in the SEV-SNP
// report's REPORT_DATA (the second half — see sevsnp.Report.HPKEPublicKeyHex).
type Identity struct {
	raw []byte
	pub kem.PublicKey
}

// FromPublicKeyHex parses a hex-encoded raw X25519 public key into an
// Identity.
func FromPublicKeyHex(hexKey string) (*Identity, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("ehbp: public key is not valid hex: %w", err)
	}
	scheme := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	pub, err := scheme.UnmarshalBinaryPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("ehbp: invalid X25519 public key: %w", err)
	}
	return &Identity{raw: raw, pub: pub}, nil
}

// Hex returns the identity's raw public key, hex-encoded.
func (id *Identity) Hex() string {
	return hex.EncodeToString(id.raw)
}
