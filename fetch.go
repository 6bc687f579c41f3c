package tinfoil

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tinfoilsh/verifier/pkg/ehbp"
	"github.com/tinfoilsh/verifier/pkg/tinfoilerr"
)

// Request describes one call to the enclave. URL may be absolute or a
// path, which is resolved against the client's resolved base URL.
type Request struct {
	Method string // defaults to POST, matching inference-style APIs
	URL    string
	Header http.Header
	Body   []byte
}

// requestIDHeader tags every request so enclave-side logs can be matched
// to a client call without any body inspection.
const requestIDHeader = "X-Request-Id"

// Fetch sends req through the verified encrypted session, attesting first
// if needed. If the server signals that its HPKE key config rotated since
// attestation (ehbp.KeyConfigMismatchError — the request was not
// accepted, so resending is safe), the client resets, re-attests, and
// retries the request exactly once. Every other error propagates
// unchanged.
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.fetchOnce(ctx, req)
	var mismatch *ehbp.KeyConfigMismatchError
	if !errors.As(err, &mismatch) {
		return resp, err
	}

	c.log.Warn().Str("endpoint", mismatch.Endpoint).Msg("server rotated its HPKE key config, re-attesting")
	c.Reset()
	return c.fetchOnce(ctx, req)
}

func (c *Client) fetchOnce(ctx context.Context, req Request) (*Response, error) {
	if err := c.Ready(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	sess := c.derived.session
	baseURL := c.derived.resolvedBaseURL
	c.mu.RUnlock()
	if sess == nil {
		return nil, &tinfoilerr.ConfigurationError{Message: "client has no open session after ready"}
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	header := make(http.Header, len(req.Header)+1)
	for k, vs := range req.Header {
		header[k] = vs
	}
	if header.Get(requestIDHeader) == "" {
		header.Set(requestIDHeader, uuid.NewString())
	}

	return sess.do(ctx, method, resolveURL(baseURL, req.URL), header, req.Body)
}

// resolveURL joins a path-only request URL onto the base URL; absolute
// URLs pass through untouched.
func resolveURL(baseURL, requestURL string) string {
	if strings.Contains(requestURL, "://") {
		return requestURL
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(requestURL, "/")
}
