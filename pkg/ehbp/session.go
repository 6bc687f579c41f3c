package ehbp

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const (
	// encHeader carries the sender's base64 HPKE encapsulated key
	// alongside the (otherwise cleartext-framed) HTTP request whose body
	// is the AEAD ciphertext.
	encHeader = "Ehbp-Enc"
	// mismatchHeader, set alongside HTTP 409, signals KeyConfigMismatchError.
	mismatchHeader  = "Ehbp-Key-Config-Mismatch"
	responseKeyInfo = "tinfoil-ehbp-v1-response-key"
	hpkeInfoPrefix  = "tinfoil-ehbp-v1-request:"
	nonceSize       = 12
)

// Response is the decrypted shape of a server reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RecoveryToken lets a caller decrypt a response that was sent but never
// read (e.g. because the process restarted before the reply arrived).
type RecoveryToken struct {
	ExportedSecret []byte
	RequestEnc     []byte
}

// Transport is a session-oriented encrypted transport to one server
// identity, bound to a single request host.
type Transport struct {
	server      *Identity
	requestHost string
	httpClient  *http.Client

	mu        sync.Mutex
	lastToken RecoveryToken
}

// NewTransport opens a session to serverIdentity, bound to requestHost
// (the host name is mixed into every request's HPKE info string and AEAD
// AAD, so a response can never be replayed against a different host).
func NewTransport(serverIdentity *Identity, requestHost string, httpClient *http.Client) *Transport {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Transport{server: serverIdentity, requestHost: requestHost, httpClient: httpClient}
}

// Request encrypts body under a fresh HPKE encapsulation to t.server,
// issues method against targetURL with the ciphertext as the request
// body, and decrypts the response body using the same HPKE exporter
// secret. It returns *KeyConfigMismatchError if the server signals that
// the client's key encapsulation is stale.
func (t *Transport) Request(ctx context.Context, method, targetURL string, header http.Header, body []byte) (*Response, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("ehbp: invalid request URL: %w", err)
	}

	sender, err := Suite.NewSender(t.server.pub, []byte(hpkeInfoPrefix+t.requestHost))
	if err != nil {
		return nil, fmt.Errorf("ehbp: creating HPKE sender: %w", err)
	}
	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ehbp: HPKE setup: %w", err)
	}

	ciphertext, err := sealer.Seal(body, []byte(t.requestHost))
	if err != nil {
		return nil, fmt.Errorf("ehbp: encrypting request body: %w", err)
	}
	exportedSecret := sealer.Export([]byte(responseKeyInfo), 32)

	t.mu.Lock()
	t.lastToken = RecoveryToken{ExportedSecret: exportedSecret, RequestEnc: enc}
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(ciphertext))
	if err != nil {
		return nil, fmt.Errorf("ehbp: building request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set(encHeader, base64.StdEncoding.EncodeToString(enc))

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ehbp: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict && resp.Header.Get(mismatchHeader) != "" {
		return nil, &KeyConfigMismatchError{Endpoint: u.Host}
	}

	envelope, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ehbp: reading response: %w", err)
	}

	plaintext, err := decryptResponseEnvelope(exportedSecret, envelope)
	if err != nil {
		return nil, fmt.Errorf("ehbp: decrypting response: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: plaintext}, nil
}

// RecoveryToken returns the token for the most recently sent request, for
// later recovery via DecryptWithToken.
func (t *Transport) RecoveryToken() RecoveryToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastToken
}

// Close releases any resources held by the session. The HPKE transport
// holds none beyond the shared http.Client, so this is a no-op kept for
// symmetry with the TLS-pinned transport's Close.
func (t *Transport) Close() error { return nil }

// DecryptWithToken decrypts a previously-received, stored response
// envelope using a RecoveryToken captured from the request that produced
// it.
func DecryptWithToken(token RecoveryToken, storedEnvelope []byte) (*Response, error) {
	plaintext, err := decryptResponseEnvelope(token.ExportedSecret, storedEnvelope)
	if err != nil {
		return nil, fmt.Errorf("ehbp: decrypting stored response: %w", err)
	}
	return &Response{Body: plaintext}, nil
}

func decryptResponseEnvelope(exportedSecret, envelope []byte) ([]byte, error) {
	if len(envelope) < nonceSize {
		return nil, fmt.Errorf("envelope shorter than nonce")
	}
	nonce := envelope[:nonceSize]
	ciphertext := envelope[nonceSize:]

	key := make([]byte, 16) // AES-128
	if _, err := io.ReadFull(hkdf.New(newSHA256, exportedSecret, nil, []byte(responseKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving response key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, nil)
}

func newSHA256() hash.Hash { return sha256.New() }
