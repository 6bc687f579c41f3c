package bundle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tinfoilsh/verifier/internal/retry"
	"github.com/tinfoilsh/verifier/pkg/tinfoilerr"
)

// ATCConfig configures fetching a pre-assembled bundle from a centralized
// attestation coordinator instead of assembling it field by field.
type ATCConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Retry      retry.Policy
}

func (c *ATCConfig) setDefaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Retry == (retry.Policy{}) {
		c.Retry = retry.Default()
	}
}

type atcRequestBody struct {
	EnclaveURL string `json:"enclaveUrl,omitempty"`
	Repo       string `json:"repo,omitempty"`
}

// FetchFromATC fetches a complete bundle from cfg.BaseURL + "/attestation".
// POST is used whenever the caller supplies a specific
// enclaveURL or a non-default configRepo (the ATC needs to know which
// enclave/repo pair to assemble); otherwise a bare GET selects the ATC's
// default.
func FetchFromATC(ctx context.Context, cfg ATCConfig, enclaveURL, repo string, isDefaultRepo bool) (*AttestationBundle, error) {
	cfg.setDefaults()
	u := cfg.BaseURL + "/attestation"

	usePost := enclaveURL != "" || !isDefaultRepo

	var body []byte
	err := retry.Do(ctx, cfg.Retry, isTransientFetchError, func(ctx context.Context) error {
		b, fetchErr := doATCRequest(ctx, cfg.HTTPClient, u, usePost, enclaveURL, repo)
		if fetchErr != nil {
			return fetchErr
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	var bundle AttestationBundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		return nil, &tinfoilerr.FetchError{URL: u, Cause: fmt.Errorf("decoding ATC attestation bundle: %w", err)}
	}
	return &bundle, nil
}

func doATCRequest(ctx context.Context, client *http.Client, u string, usePost bool, enclaveURL, repo string) ([]byte, error) {
	var req *http.Request
	var err error

	if usePost {
		payload, marshalErr := json.Marshal(atcRequestBody{EnclaveURL: enclaveURL, Repo: repo})
		if marshalErr != nil {
			return nil, &tinfoilerr.FetchError{URL: u, Cause: marshalErr}
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}
	if err != nil {
		return nil, &tinfoilerr.FetchError{URL: u, Cause: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &tinfoilerr.FetchError{URL: u, Cause: err}
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, &tinfoilerr.FetchError{URL: u, StatusCode: resp.StatusCode, Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &tinfoilerr.FetchError{URL: u, StatusCode: resp.StatusCode, Cause: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	return buf.Bytes(), nil
}

// FetchRouterEndpoints fetches `{ATC}/routers?platform=snp` and returns one
// hostname chosen uniformly at random.
func FetchRouterEndpoints(ctx context.Context, cfg ATCConfig) (string, error) {
	cfg.setDefaults()
	u := cfg.BaseURL + "/routers?platform=snp"

	var hosts []string
	err := retry.Do(ctx, cfg.Retry, isTransientFetchError, func(ctx context.Context) error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if reqErr != nil {
			return &tinfoilerr.FetchError{URL: u, Cause: reqErr}
		}
		resp, doErr := cfg.HTTPClient.Do(req)
		if doErr != nil {
			return &tinfoilerr.FetchError{URL: u, Cause: doErr}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &tinfoilerr.FetchError{URL: u, StatusCode: resp.StatusCode, Cause: fmt.Errorf("unexpected status %s", resp.Status)}
		}
		return json.NewDecoder(resp.Body).Decode(&hosts)
	})
	if err != nil {
		return "", err
	}

	return selectRouterEndpoint(hosts)
}
