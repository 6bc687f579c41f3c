// Package tinfoil is the client entry point for verified, end-to-end
// encrypted inference against a confidential-computing enclave: it
// assembles an attestation bundle (pkg/bundle), verifies it
// (pkg/verifydoc over pkg/sevsnp and pkg/sigstoreverify), and then serves
// requests over an encrypted transport keyed by the attested HPKE public
// key (pkg/ehbp) or over a TLS connection pinned to the attested
// certificate fingerprint.
package tinfoil

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinfoilsh/verifier/internal/log"
	"github.com/tinfoilsh/verifier/pkg/bundle"
	"github.com/tinfoilsh/verifier/pkg/tinfoilerr"
	"github.com/tinfoilsh/verifier/pkg/verifydoc"
)

// DefaultATCBaseURL is the attestation-trust coordinator consulted when
// the caller configures neither an enclave URL nor a bundle URL: the ATC's
// router list picks the enclave, and the client assembles the bundle
// against it live.
const DefaultATCBaseURL = "https://atc.tinfoil.sh"

// initRetryDelay is the fixed pause before ready()'s single recovery
// attempt after a transient failure.
const initRetryDelay = time.Second

// Client is the secure transport client. Construct with New; the
// zero value is not usable. All methods are safe for concurrent use.
type Client struct {
	cfg        Config
	log        zerolog.Logger
	httpClient *http.Client

	mu        sync.RWMutex
	state     lifecycleState
	derived   derivedState
	readyOnce *readyCall

	// Seams for tests; New wires the default implementations.
	assemble   func(ctx context.Context) (*bundle.AttestationBundle, string, error)
	verify     func(b bundle.AttestationBundle, routerEndpoint string) (*verifydoc.AttestationResponse, *verifydoc.Document, error)
	newSession func(resp *verifydoc.AttestationResponse, enclaveURL, baseURL string) (session, error)
}

// readyCall is one in-flight initialization shared by every concurrent
// Ready caller.
type readyCall struct {
	done chan struct{}
	err  error
}

// New validates cfg and returns a Client. No network I/O happens until the
// first Ready or Fetch call.
func New(cfg Config) (*Client, error) {
	normalized, err := cfg.validate()
	if err != nil {
		return nil, err
	}

	logger := log.Component(normalized.Logger, "client")
	// Warnings are computed against the caller's config, before defaults
	// fill in ConfigRepo.
	for _, w := range cfg.warnings() {
		logger.Warn().Msg(w)
	}

	httpClient := normalized.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{cfg: normalized, log: logger, httpClient: httpClient}
	c.assemble = c.defaultAssemble
	c.verify = c.defaultVerify
	c.newSession = c.defaultNewSession
	return c, nil
}

// Reset unconditionally returns the client to the uninitialized state,
// dropping the cached transport session and verification document. The
// next Ready call re-attests from scratch.
func (c *Client) Reset() { c.reset() }

// Ready runs the full attestation pipeline if it hasn't run since the last
// Reset: assemble a bundle, verify it, and open the encrypted transport
// session. Concurrent callers share a single in-flight attestation pass.
// A transient failure (FetchError or AttestationError) is retried once
// after a fixed delay; configuration and unknown errors propagate
// immediately.
func (c *Client) Ready(ctx context.Context) error {
	c.mu.Lock()
	if c.state == stateReady {
		c.mu.Unlock()
		return nil
	}
	if call := c.readyOnce; call != nil {
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-call.done:
		}
		return call.err
	}

	call := &readyCall{done: make(chan struct{})}
	c.readyOnce = call
	c.state = stateInitializing
	c.mu.Unlock()

	err := c.initialize(ctx)

	c.mu.Lock()
	if err != nil {
		c.state = stateFailed
	} else {
		c.state = stateReady
	}
	c.readyOnce = nil
	c.mu.Unlock()

	call.err = err
	close(call.done)
	return err
}

// initialize is one Ready pass: attempt, and on a transient failure clear
// derived state, pause, and attempt exactly once more.
func (c *Client) initialize(ctx context.Context) error {
	err := c.initializeOnce(ctx)
	if err == nil || !isRecoverableInitError(err) {
		return err
	}

	c.log.Warn().Err(err).Msg("attestation failed transiently, retrying once")
	c.mu.Lock()
	c.derived = derivedState{}
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(initRetryDelay):
	}
	return c.initializeOnce(ctx)
}

// isRecoverableInitError gates the single recovery attempt: only
// FetchError and AttestationError qualify.
func isRecoverableInitError(err error) bool {
	var fe *tinfoilerr.FetchError
	var ae *tinfoilerr.AttestationError
	return errors.As(err, &fe) || errors.As(err, &ae)
}

func (c *Client) initializeOnce(ctx context.Context) error {
	b, routerEndpoint, err := c.assemble(ctx)
	if err != nil {
		return err
	}

	resp, doc, verifyErr := c.verify(*b, routerEndpoint)
	c.mu.Lock()
	c.derived.doc = doc
	c.mu.Unlock()
	if verifyErr != nil {
		return verifyErr
	}

	enclaveURL := c.cfg.EnclaveURL
	if enclaveURL == "" {
		enclaveURL = "https://" + b.Domain
	}
	baseURL := c.cfg.BaseURL
	if baseURL == "" {
		baseURL = strings.TrimSuffix(enclaveURL, "/") + "/v1/"
	}

	sess, err := c.newSession(resp, enclaveURL, baseURL)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.derived.resolvedEnclaveURL = enclaveURL
	c.derived.resolvedBaseURL = baseURL
	c.derived.session = sess
	c.mu.Unlock()

	c.log.Info().
		Str("enclave_url", enclaveURL).
		Str("transport", string(c.cfg.Transport)).
		Msg("attestation verified, encrypted session open")
	return nil
}

// defaultAssemble picks the bundle source from the configuration: a
// caller-named ATC, a caller-pinned enclave assembled live, or — with no
// configuration at all — an enclave router discovered through the default
// ATC and assembled live.
func (c *Client) defaultAssemble(ctx context.Context) (*bundle.AttestationBundle, string, error) {
	switch {
	case c.cfg.AttestationBundleURL != "":
		atcCfg := bundle.ATCConfig{
			BaseURL:    strings.TrimSuffix(c.cfg.AttestationBundleURL, "/"),
			HTTPClient: c.httpClient,
		}
		b, err := bundle.FetchFromATC(ctx, atcCfg, c.cfg.EnclaveURL, c.cfg.ConfigRepo, c.cfg.ConfigRepo == defaultConfigRepo)
		return b, "", err

	case c.cfg.EnclaveURL != "":
		return c.assembleLive(ctx, hostOf(c.cfg.EnclaveURL), "")

	default:
		atcCfg := bundle.ATCConfig{BaseURL: DefaultATCBaseURL, HTTPClient: c.httpClient}
		router, err := bundle.FetchRouterEndpoints(ctx, atcCfg)
		if err != nil {
			return nil, "", err
		}
		return c.assembleLive(ctx, router, router)
	}
}

func (c *Client) assembleLive(ctx context.Context, enclaveHost, routerEndpoint string) (*bundle.AttestationBundle, string, error) {
	asm := bundle.New(bundle.Config{
		EnclaveHost: enclaveHost,
		ConfigRepo:  c.cfg.ConfigRepo,
		HTTPClient:  c.httpClient,
		Logger:      c.cfg.Logger,
		VCEKCache:   bundle.NewMemoryVCEKCache(),
	})
	b, err := asm.Assemble(ctx)
	return b, routerEndpoint, err
}

func (c *Client) defaultVerify(b bundle.AttestationBundle, routerEndpoint string) (*verifydoc.AttestationResponse, *verifydoc.Document, error) {
	return verifydoc.VerifyBundle(b, c.cfg.ConfigRepo, routerEndpoint)
}

// hostOf strips the scheme and any path from an https URL, leaving the
// host[:port] the well-known endpoints are served from.
func hostOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Host
	}
	return strings.TrimSuffix(strings.TrimPrefix(rawURL, "https://"), "/")
}
