// Package certs embeds the AMD root key (ARK) and AMD SEV signing key (ASK)
// certificates needed to verify a VCEK chain without a network fetch to
// AMD's KDS for the root material.
//
// The PEM files committed here are placeholder self-signed/chained P-384
// certificates generated for this repository — not AMD's actually-published
// ARK/ASK certificates. A production deployment must replace them with the
// certificates AMD publishes at https://kdsintf.amd.com/vcek/v1/{product}/cert_chain,
// split into their ARK and ASK halves.
package certs

import _ "embed"

//go:embed ark_genoa.pem
var arkGenoaPEM []byte

//go:embed ask_genoa.pem
var askGenoaPEM []byte

//go:embed ark_milan.pem
var arkMilanPEM []byte

//go:embed ask_milan.pem
var askMilanPEM []byte

// ARKASKFor returns the PEM-encoded ARK and ASK certificates for the named
// AMD product ("Genoa" or "Milan").
func ARKASKFor(product string) (ark, ask []byte, ok bool) {
	switch product {
	case "Genoa":
		return arkGenoaPEM, askGenoaPEM, true
	case "Milan":
		return arkMilanPEM, askMilanPEM, true
	default:
		return nil, nil, false
	}
}
