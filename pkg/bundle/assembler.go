package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/go-github/v62/github"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tinfoilsh/verifier/internal/log"
	"github.com/tinfoilsh/verifier/internal/retry"
	"github.com/tinfoilsh/verifier/pkg/sevsnp"
	"github.com/tinfoilsh/verifier/pkg/tinfoilerr"
)

// Default proxy/base URLs. These point at the real
// upstream services directly; a deployment that wants to front them with a
// caching proxy sets Config's *BaseURL fields instead.
const (
	DefaultGithubAPIBaseURL = "https://api.github.com"
	DefaultGithubDLBaseURL  = "https://github.com"
	DefaultKDSBaseURL       = "https://kdsintf.amd.com"
)

// Config configures an Assembler.
type Config struct {
	// EnclaveHost is the enclave's hostname, queried for the attestation
	// document and the TLS certificate.
	EnclaveHost string
	// ConfigRepo is the "owner/name" GitHub repository whose release
	// provenance the assembler fetches.
	ConfigRepo string

	GithubAPIBaseURL string
	GithubDLBaseURL  string
	KDSBaseURL       string

	HTTPClient *http.Client
	Logger     zerolog.Logger
	Retry      retry.Policy

	// VCEKCache, if set, is consulted before every KDS VCEK fetch and
	// populated after a successful one. A cache miss or write failure is
	// never fatal.
	VCEKCache VCEKCache
}

func (c *Config) setDefaults() {
	if c.GithubAPIBaseURL == "" {
		c.GithubAPIBaseURL = DefaultGithubAPIBaseURL
	}
	if c.GithubDLBaseURL == "" {
		c.GithubDLBaseURL = DefaultGithubDLBaseURL
	}
	if c.KDSBaseURL == "" {
		c.KDSBaseURL = DefaultKDSBaseURL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Retry == (retry.Policy{}) {
		c.Retry = retry.Default()
	}
}

// Assembler fetches the five AttestationBundle fields from live
// infrastructure.
type Assembler struct {
	cfg Config
	gh  *github.Client
	log zerolog.Logger
}

// New builds an Assembler from cfg, filling in defaults.
func New(cfg Config) *Assembler {
	cfg.setDefaults()

	gh := github.NewClient(cfg.HTTPClient)
	if u, err := url.Parse(cfg.GithubAPIBaseURL + "/"); err == nil {
		gh.BaseURL = u
	}

	return &Assembler{
		cfg: cfg,
		gh:  gh,
		log: log.Component(cfg.Logger, "bundle"),
	}
}

// attestationDocJSON mirrors the wire shape of
// {enclaveHost}/.well-known/tinfoil-attestation.
type attestationDocJSON struct {
	Format sevsnp.PredicateType `json:"format"`
	Body   string               `json:"body"`
}

// certJSON mirrors the wire shape of
// {enclaveHost}/.well-known/tinfoil-certificate.
type certJSON struct {
	Certificate string `json:"certificate"`
}

// attestationsResponse is the subset of GitHub's artifact-attestations API
// response this package needs.
type attestationsResponse struct {
	Attestations []struct {
		Bundle json.RawMessage `json:"bundle"`
	} `json:"attestations"`
}

var digestPattern = regexp.MustCompile("(?:EIF hash: |Digest: `)([0-9a-fA-F]{64})")

// Assemble runs the full live-fetch sequence: the
// attestation document, release digest, and TLS certificate are fetched in
// parallel; the Sigstore bundle (keyed by the resolved digest) and the
// VCEK (keyed by the parsed report's chip ID and TCB) are fetched
// sequentially afterward, since each depends on a prior fetch's result.
func (a *Assembler) Assemble(ctx context.Context) (*AttestationBundle, error) {
	var (
		attDoc  attestationDocJSON
		digest  string
		certPEM string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		attDoc, err = a.fetchAttestationDocument(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		digest, err = a.fetchReleaseDigest(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		certPEM, err = a.fetchEnclaveCertificate(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sigstoreBundle, err := a.fetchSigstoreBundle(ctx, digest)
	if err != nil {
		return nil, err
	}

	raw, err := sevsnp.DecodeReportBody(attDoc.Body)
	if err != nil {
		return nil, &tinfoilerr.AttestationError{Message: "decoding attestation document body", Cause: err}
	}
	report, err := sevsnp.ParseReport(raw)
	if err != nil {
		return nil, &tinfoilerr.AttestationError{Message: "parsing attestation report", Cause: err}
	}
	vcek, err := a.fetchVCEK(ctx, report)
	if err != nil {
		return nil, err
	}

	return &AttestationBundle{
		Domain:                   a.cfg.EnclaveHost,
		EnclaveAttestationReport: sevsnp.AttestationDocument{Format: attDoc.Format, Body: attDoc.Body},
		Digest:                   digest,
		SigstoreBundle:           sigstoreBundle,
		VCEK:                     vcek,
		EnclaveCert:              certPEM,
	}, nil
}

func (a *Assembler) fetchAttestationDocument(ctx context.Context) (attestationDocJSON, error) {
	u := fmt.Sprintf("https://%s/.well-known/tinfoil-attestation", a.cfg.EnclaveHost)
	var doc attestationDocJSON
	err := a.getJSON(ctx, u, &doc)
	return doc, err
}

func (a *Assembler) fetchEnclaveCertificate(ctx context.Context) (string, error) {
	u := fmt.Sprintf("https://%s/.well-known/tinfoil-certificate", a.cfg.EnclaveHost)
	var doc certJSON
	if err := a.getJSON(ctx, u, &doc); err != nil {
		return "", err
	}
	return doc.Certificate, nil
}

// fetchReleaseDigest implements the two-path digest discovery:
// prefer the hash embedded in the release body text, falling back to the
// tinfoil.hash release asset.
func (a *Assembler) fetchReleaseDigest(ctx context.Context) (string, error) {
	owner, repo, err := splitRepo(a.cfg.ConfigRepo)
	if err != nil {
		return "", &tinfoilerr.ConfigurationError{Message: err.Error()}
	}

	var release *github.RepositoryRelease
	err = retry.Do(ctx, a.cfg.Retry, isTransientFetchError, func(ctx context.Context) error {
		r, _, ghErr := a.gh.Repositories.GetLatestRelease(ctx, owner, repo)
		if ghErr != nil {
			return classifyGithubError(fmt.Sprintf("%s/repos/%s/%s/releases/latest", a.cfg.GithubAPIBaseURL, owner, repo), ghErr)
		}
		release = r
		return nil
	})
	if err != nil {
		return "", err
	}

	if m := digestPattern.FindStringSubmatch(release.GetBody()); m != nil {
		return strings.ToLower(m[1]), nil
	}

	tag := release.GetTagName()
	u := fmt.Sprintf("%s/%s/releases/download/%s/tinfoil.hash", a.cfg.GithubDLBaseURL, a.cfg.ConfigRepo, tag)
	raw, err := a.getRaw(ctx, u)
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(string(raw))), nil
}

func (a *Assembler) fetchSigstoreBundle(ctx context.Context, digestHex string) ([]byte, error) {
	owner, repo, err := splitRepo(a.cfg.ConfigRepo)
	if err != nil {
		return nil, &tinfoilerr.ConfigurationError{Message: err.Error()}
	}
	u := fmt.Sprintf("%s/repos/%s/%s/attestations/sha256:%s", a.cfg.GithubAPIBaseURL, owner, repo, digestHex)

	var resp attestationsResponse
	if err := a.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	if len(resp.Attestations) == 0 {
		return nil, &tinfoilerr.FetchError{URL: u, Cause: fmt.Errorf("no attestations found for digest %s", digestHex)}
	}
	return resp.Attestations[0].Bundle, nil
}

func (a *Assembler) fetchVCEK(ctx context.Context, report *sevsnp.Report) ([]byte, error) {
	tcb := report.ReportedTCBParts()
	chipIDHex := hexEncode(report.ChipID[:])
	product := vcekProductFor(report)

	u := fmt.Sprintf("%s/vcek/v1/%s/%s?blSPL=%d&teeSPL=%d&snpSPL=%d&ucodeSPL=%d",
		a.cfg.KDSBaseURL, product, chipIDHex, tcb.BlSpl, tcb.TeeSpl, tcb.SnpSpl, tcb.UcodeSpl)

	if a.cfg.VCEKCache != nil {
		if cached, ok := a.cfg.VCEKCache.Get(u); ok {
			return cached, nil
		}
	}

	der, err := a.getRaw(ctx, u)
	if err != nil {
		return nil, err
	}

	if a.cfg.VCEKCache != nil {
		a.cfg.VCEKCache.Put(u, der) // cache failures are non-fatal, see VCEKCache.
	}
	return der, nil
}

// vcekProductFor resolves the KDS product-line path segment. The live
// attestation report does not itself carry a product string (that's a
// VCEK extension), so this defaults to the product the SEV-SNP chain
// package supports; a deployment targeting Milan hardware would need a
// report-carried hint the report format doesn't provide; the
// verification pipeline rejects any product other than Genoa anyway.
func vcekProductFor(*sevsnp.Report) string {
	return sevsnp.ProductGenoa
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("bundle: configRepo %q is not an \"owner/name\" GitHub repository", repo)
	}
	return parts[0], parts[1], nil
}

func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexdigits[v>>4]
		out[i*2+1] = hexdigits[v&0xf]
	}
	return string(out)
}

// getJSON fetches u and decodes a JSON body into target, retrying
// transient fetch failures per the configured policy. The body is decoded
// only after the retry loop returns, so a JSON decode failure is never
// retried; it is returned as a FetchError with StatusCode 0.
func (a *Assembler) getJSON(ctx context.Context, u string, target any) error {
	var body []byte
	err := retry.Do(ctx, a.cfg.Retry, isTransientFetchError, func(ctx context.Context) error {
		b, fetchErr := a.doGet(ctx, u)
		if fetchErr != nil {
			return fetchErr
		}
		body = b
		return nil
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		return &tinfoilerr.FetchError{URL: u, Cause: fmt.Errorf("decoding JSON response: %w", err)}
	}
	return nil
}

// getRaw fetches u and returns the raw body, with the same retry policy
// as getJSON.
func (a *Assembler) getRaw(ctx context.Context, u string) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, a.cfg.Retry, isTransientFetchError, func(ctx context.Context) error {
		b, fetchErr := a.doGet(ctx, u)
		if fetchErr != nil {
			return fetchErr
		}
		body = b
		return nil
	})
	return body, err
}

func (a *Assembler) doGet(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &tinfoilerr.FetchError{URL: u, Cause: err}
	}
	resp, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, &tinfoilerr.FetchError{URL: u, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &tinfoilerr.FetchError{URL: u, StatusCode: resp.StatusCode, Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &tinfoilerr.FetchError{URL: u, StatusCode: resp.StatusCode, Cause: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	return body, nil
}

func classifyGithubError(u string, err error) error {
	var ghErr *github.ErrorResponse
	if errAs(err, &ghErr) && ghErr.Response != nil {
		return &tinfoilerr.FetchError{URL: u, StatusCode: ghErr.Response.StatusCode, Cause: err}
	}
	return &tinfoilerr.FetchError{URL: u, Cause: err}
}

func errAs(err error, target **github.ErrorResponse) bool {
	for err != nil {
		if ge, ok := err.(*github.ErrorResponse); ok {
			*target = ge
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func isTransientFetchError(err error) bool {
	fe, ok := err.(*tinfoilerr.FetchError)
	return ok && fe.Transient()
}

// selectRouterEndpoint picks a uniformly random hostname from candidates,
// for the ATC's `{ATC}/routers?platform=snp` endpoint.
func selectRouterEndpoint(candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", fmt.Errorf("bundle: router endpoint list is empty")
	}
	return candidates[rand.Intn(len(candidates))], nil
}
