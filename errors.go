package tinfoil

import "github.com/tinfoilsh/verifier/pkg/tinfoilerr"

// The three error kinds visible at the public API surface are defined in
// pkg/tinfoilerr so that pkg/bundle and pkg/verifydoc can construct and
// classify them without importing this package (which imports them).
// These aliases keep the public names under package tinfoil.
type (
	// TinfoilError is the base of every error this module returns.
	TinfoilError = tinfoilerr.TinfoilError
	// ConfigurationError signals that the caller supplied inconsistent
	// or missing options. Never retried.
	ConfigurationError = tinfoilerr.ConfigurationError
	// FetchError wraps a non-2xx HTTP response, a network failure, or a
	// malformed response body. Retried inside the bundle assembler and,
	// once, by the secure client's attestation recovery path.
	FetchError = tinfoilerr.FetchError
	// AttestationError wraps any cryptographic, policy, or binding
	// failure. Always fatal to the current verification attempt.
	AttestationError = tinfoilerr.AttestationError
)
