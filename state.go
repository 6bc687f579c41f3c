package tinfoil

import "github.com/tinfoilsh/verifier/pkg/verifydoc"

// lifecycleState tracks the Client's attestation lifecycle: a small
// private enum guarded by the same mutex as the derived state it gates.
type lifecycleState int

const (
	stateUninitialized lifecycleState = iota
	stateInitializing
	stateReady
	stateFailed
)

func (s lifecycleState) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateInitializing:
		return "initializing"
	case stateReady:
		return "ready"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// derivedState holds what ready() derives: the resolved URLs, the
// verification document, and the open transport session. Its fields are
// assigned under c.mu as initialization progresses (the document as soon
// as verification has run, even when it failed), and the whole struct is
// cleared on reset and before the single retry.
type derivedState struct {
	resolvedEnclaveURL string
	resolvedBaseURL    string
	doc                *verifydoc.Document
	session            session
}

// reset unconditionally returns the client to Uninitialized, dropping any
// cached transport and verification document. After reset, GetBaseURL and
// GetEnclaveURL return "" until the next ready() re-derives them.
func (c *Client) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.derived.session != nil {
		c.derived.session.Close()
	}
	c.state = stateUninitialized
	c.derived = derivedState{}
	c.readyOnce = nil
}

// GetBaseURL returns the resolved API base URL, or "" if ready() has not
// yet succeeded since the last reset.
func (c *Client) GetBaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.derived.resolvedBaseURL
}

// GetEnclaveURL returns the resolved enclave host URL, or "" if ready()
// has not yet succeeded since the last reset.
func (c *Client) GetEnclaveURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.derived.resolvedEnclaveURL
}

// VerificationDocument returns the current audit record, or nil when no
// verification has run since construction or the last reset (a ready()
// that fails before verification, e.g. in bundle assembly, leaves it nil).
func (c *Client) VerificationDocument() *verifydoc.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.derived.doc
}
