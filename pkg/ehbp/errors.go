package ehbp

// KeyConfigMismatchError is raised when the server reports that the
// client's encapsulated key no longer matches a live HPKE config — the
// server has rotated its key since the client last attested. This is the
// one transport error the secure client treats as recoverable: it resets
// state, re-attests, and retries the request exactly once.
//
// This package's wire convention for signaling the condition: the server
// responds with HTTP 409 and the header "Ehbp-Key-Config-Mismatch: true"
// instead of an encrypted envelope.
type KeyConfigMismatchError struct {
	Endpoint string
}

func (e *KeyConfigMismatchError) Error() string {
	return "ehbp: server at " + e.Endpoint + " reports a stale HPKE key config"
}
