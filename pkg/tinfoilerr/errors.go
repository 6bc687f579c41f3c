// Package tinfoilerr defines the three failure kinds every other package
// in this module raises, so that pkg/bundle, pkg/verifydoc, and the
// root client package can all construct and classify them without an
// import cycle (the root package re-exports these as type aliases for
// its public API; see errors.go).
package tinfoilerr

import "fmt"

// TinfoilError is the base of every error this module returns. Callers
// that only care whether something went wrong, not which subsystem, can
// match on this interface instead of the three concrete kinds below.
type TinfoilError interface {
	error
	tinfoilError()
}

// ConfigurationError signals that the caller supplied inconsistent or
// missing options. It is thrown eagerly — from the constructor or the
// first use of a misconfigured client — and is never retried.
type ConfigurationError struct {
	Message string
	Cause   error
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tinfoil: configuration: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("tinfoil: configuration: %s", e.Message)
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }
func (*ConfigurationError) tinfoilError()   {}

// FetchError wraps a non-2xx HTTP response, a network failure, or a
// malformed response body (bad JSON, missing keys, wrong media type).
// FetchError is retried inside the bundle assembler; if it escapes that
// boundary, the secure client's single recovery attempt catches it and
// retries once.
type FetchError struct {
	URL        string
	StatusCode int
	Cause      error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("tinfoil: fetch %s: HTTP %d: %v", e.URL, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("tinfoil: fetch %s: %v", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }
func (*FetchError) tinfoilError()   {}

// Transient reports whether this fetch failure is worth retrying: network
// errors (StatusCode 0) and every non-2xx status are. It does not inspect
// Cause, so a FetchError built for a malformed body (also StatusCode 0)
// reports true as well.
func (e *FetchError) Transient() bool {
	return e.StatusCode < 200 || e.StatusCode >= 300
}

// AttestationError wraps any cryptographic, policy, or binding failure.
// It is always fatal to the current verification attempt. Step names the
// orchestrator step (see pkg/verifydoc) that failed, when known.
type AttestationError struct {
	Step    string
	Message string
	Cause   error
}

func (e *AttestationError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("tinfoil: attestation[%s]: %s: %v", e.Step, e.Message, e.Cause)
	}
	if e.Cause != nil {
		return fmt.Sprintf("tinfoil: attestation: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("tinfoil: attestation: %s", e.Message)
}

func (e *AttestationError) Unwrap() error { return e.Cause }
func (*AttestationError) tinfoilError()   {}
