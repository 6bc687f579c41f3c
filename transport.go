package tinfoil

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/tinfoilsh/verifier/pkg/ehbp"
	"github.com/tinfoilsh/verifier/pkg/tinfoilerr"
	"github.com/tinfoilsh/verifier/pkg/verifydoc"
)

// Response is the decrypted reply from the enclave, shared by both
// transports.
type Response = ehbp.Response

// session is the encrypted-transport surface Fetch delegates to. Both
// transports carry the caller's cancellation context into the underlying
// HTTP request.
type session interface {
	do(ctx context.Context, method, targetURL string, header http.Header, body []byte) (*Response, error)
	Close() error
}

// defaultNewSession builds the session for the configured transport mode
// from a successful attestation's key material.
func (c *Client) defaultNewSession(resp *verifydoc.AttestationResponse, enclaveURL, baseURL string) (session, error) {
	switch c.cfg.Transport {
	case TransportEHBP:
		identity, err := ehbp.FromPublicKeyHex(resp.HPKEPublicKey)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "attested HPKE public key is unusable")
		}
		return &ehbpSession{transport: ehbp.NewTransport(identity, hostOf(enclaveURL), c.httpClient)}, nil
	case TransportTLS:
		return newTLSSession(resp.TLSPublicKeyFingerprint), nil
	default:
		return nil, &tinfoilerr.ConfigurationError{Message: "unknown transport " + string(c.cfg.Transport)}
	}
}

// ehbpSession adapts an ehbp.Transport to the session interface.
type ehbpSession struct {
	transport *ehbp.Transport
}

func (s *ehbpSession) do(ctx context.Context, method, targetURL string, header http.Header, body []byte) (*Response, error) {
	return s.transport.Request(ctx, method, targetURL, header, body)
}

func (s *ehbpSession) Close() error { return s.transport.Close() }

// tlsSession sends requests over TLS pinned to the attested public-key
// fingerprint. Keep-alive is disabled so certificate verification runs on
// every request: connection pooling would otherwise let a request ride a
// connection whose certificate was only checked when the pool opened it.
type tlsSession struct {
	fingerprint string
	client      *http.Client
}

func newTLSSession(fingerprintHex string) *tlsSession {
	s := &tlsSession{fingerprint: strings.ToLower(fingerprintHex)}
	s.client = &http.Client{
		Transport: &http.Transport{
			DisableKeepAlives: true,
			TLSClientConfig: &tls.Config{
				// Chain trust is irrelevant here: the enclave's certificate
				// is bound by the attested key fingerprint, not by a CA.
				InsecureSkipVerify:    true,
				VerifyPeerCertificate: s.verifyPeer,
			},
		},
	}
	return s
}

// verifyPeer pins the leaf certificate: the double SHA-256 of its subject
// public key info must equal the attested fingerprint (the enclave commits
// sha256(SPKI) into the first half of REPORT_DATA, and the attestation
// pipeline fingerprints that commitment with a second SHA-256).
func (s *tlsSession) verifyPeer(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("tinfoil: server presented no certificate")
	}
	leaf, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("tinfoil: parsing server certificate: %w", err)
	}
	keyHash := sha256.Sum256(leaf.RawSubjectPublicKeyInfo)
	pin := sha256.Sum256(keyHash[:])
	if hex.EncodeToString(pin[:]) != s.fingerprint {
		return fmt.Errorf("tinfoil: server certificate public key does not match attested fingerprint")
	}
	return nil
}

func (s *tlsSession) do(ctx context.Context, method, targetURL string, header http.Header, body []byte) (*Response, error) {
	if !strings.HasPrefix(targetURL, "https://") {
		return nil, &tinfoilerr.ConfigurationError{Message: "TLS-pinned transport requires an https:// URL, got " + targetURL}
	}

	req, err := http.NewRequestWithContext(ctx, method, targetURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tinfoil: building request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tinfoil: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tinfoil: reading response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

func (s *tlsSession) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
