package tinfoil

import (
	"github.com/tinfoilsh/verifier/pkg/ehbp"
	"github.com/tinfoilsh/verifier/pkg/tinfoilerr"
)

// RecoveryToken captures the secrets needed to decrypt a response after
// the session that requested it is gone (e.g. across a process restart
// with the response persisted elsewhere). Available on the ehbp transport
// only.
type RecoveryToken = ehbp.RecoveryToken

// SessionRecoveryToken returns the recovery token for the most recently
// sent request. It fails on the TLS-pinned transport, which has no
// session-level secret to export, and before the first successful Ready.
func (c *Client) SessionRecoveryToken() (RecoveryToken, error) {
	c.mu.RLock()
	sess := c.derived.session
	c.mu.RUnlock()

	es, ok := sess.(*ehbpSession)
	if !ok {
		return RecoveryToken{}, &tinfoilerr.ConfigurationError{Message: "session recovery tokens require the ehbp transport and an open session"}
	}
	return es.transport.RecoveryToken(), nil
}

// DecryptWithRecoveryToken decrypts a stored response envelope with a
// token captured from the request that produced it.
func DecryptWithRecoveryToken(token RecoveryToken, storedEnvelope []byte) (*Response, error) {
	return ehbp.DecryptWithToken(token, storedEnvelope)
}
