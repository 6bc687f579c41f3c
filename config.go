package tinfoil

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// Transport selects the encrypted-body transport the secure client opens
// once attestation succeeds.
type Transport string

const (
	// TransportEHBP opens an HPKE session keyed by the attested HPKE
	// public key (pkg/ehbp). This is the default and the only mode that
	// needs no TLS trust at all.
	TransportEHBP Transport = "ehbp"
	// TransportTLS pins the TLS connection to the attested TLS public
	// key fingerprint instead of encrypting bodies at the HPKE layer.
	TransportTLS Transport = "tls"

	// defaultConfigRepo is the router repository consulted for release
	// provenance when the caller hasn't overridden it.
	defaultConfigRepo = "tinfoilsh/confidential-inference-proxy"
)

// Config is the user-facing, static configuration for a Client. Every
// field is optional; see validate for the defaults and the cross-field
// rules enforced at construction time.
type Config struct {
	// BaseURL overrides the resolved API base URL entirely. If unset it
	// is derived as resolvedEnclaveURL + "/v1/" once attestation
	// succeeds.
	BaseURL string

	// EnclaveURL pins the client to a specific enclave host instead of
	// letting the bundle (or the ATC) pick one. Must be https:// when
	// set.
	EnclaveURL string

	// ConfigRepo is the GitHub repository whose release provenance is
	// checked against the enclave's measurement. Supplying this without
	// EnclaveURL is a ConfigurationError: the central-assembly path
	// ignores a custom repo without a custom enclave.
	ConfigRepo string

	// Transport selects the encrypted transport. Defaults to
	// TransportEHBP.
	Transport Transport

	// AttestationBundleURL points at a centralized attestation
	// coordinator (ATC) that serves pre-assembled bundles instead of the
	// client performing the live multi-fetch assembly itself.
	AttestationBundleURL string

	// Logger receives structured diagnostics for every lifecycle
	// transition and fetch. Defaults to a no-op logger.
	Logger zerolog.Logger

	// HTTPClient carries the bundle-assembly and ehbp-transport HTTP
	// traffic. Defaults to http.DefaultClient. The TLS-pinned transport
	// ignores it and builds its own client per session, since pinning
	// requires control of the TLS dialer.
	HTTPClient *http.Client
}

// validate applies the construction-time rules and fills in defaults. It
// never mutates the caller's Config; it returns a normalized copy.
func (c Config) validate() (Config, error) {
	out := c

	if out.Transport == "" {
		out.Transport = TransportEHBP
	}
	if out.Transport != TransportEHBP && out.Transport != TransportTLS {
		return out, &ConfigurationError{Message: "transport must be \"ehbp\" or \"tls\", got " + string(out.Transport)}
	}

	if out.EnclaveURL != "" && !strings.HasPrefix(out.EnclaveURL, "https://") {
		return out, &ConfigurationError{Message: "enclaveURL must use https://"}
	}

	if out.ConfigRepo != "" && out.EnclaveURL == "" {
		return out, &ConfigurationError{Message: "configRepo supplied without enclaveURL: the central assembly path ignores a custom repo without a custom enclave"}
	}

	if out.ConfigRepo == "" {
		out.ConfigRepo = defaultConfigRepo
	}

	return out, nil
}

// warnings returns non-fatal configuration advice, logged once at
// construction — currently just the enclaveURL-without-configRepo case,
// which is legal but usually means the caller forgot the repo override.
func (c Config) warnings() []string {
	var w []string
	if c.EnclaveURL != "" && c.ConfigRepo == "" {
		w = append(w, "enclaveURL set without a matching configRepo override; using the default router repo for provenance checks")
	}
	return w
}
