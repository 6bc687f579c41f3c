// Package sigstoreverify verifies a Sigstore keyless-signing bundle against
// a pinned GitHub Actions identity policy and extracts the SNP/TDX
// multiplatform measurement it attests to.
package sigstoreverify

import (
	"fmt"
	"regexp"
	"strings"

	intoto "github.com/in-toto/attestation/go/v1"
	"github.com/sigstore/sigstore-go/pkg/bundle"
	"github.com/sigstore/sigstore-go/pkg/verify"
)

// GitHubOIDCIssuer is the OIDC issuer every GitHub Actions Fulcio
// certificate is minted against.
const GitHubOIDCIssuer = "https://token.actions.githubusercontent.com"

const predicateTypeSnpTdxMultiplatformV1 = "https://tinfoil.sh/predicate/snp-tdx-multiplatform/v1"

// Measurement is the code-provenance measurement recovered from a verified
// bundle.
type Measurement struct {
	Type      string
	Registers []string
}

// githubReleaseSANRegex pins the certificate identity to repo and to
// release-tag runs in one expression: a GitHub Actions Fulcio certificate
// carries the workflow ref as its SAN URI
// (https://github.com/{repo}/.github/workflows/{file}@{ref}), so the
// repository and the "^refs/tags/" ref requirement are both encoded here.
func githubReleaseSANRegex(repo string) string {
	return fmt.Sprintf(`^https://github\.com/%s/\.github/workflows/.+@refs/tags/`, regexp.QuoteMeta(repo))
}

// VerifyBundle verifies rawBundle's DSSE envelope and Rekor inclusion
// against the compiled-in trust root, enforces that its signing identity is
// a GitHub Actions workflow in repo that ran from a release tag, checks
// that the attested subject digest matches expectedDigestHex (case
// insensitive hex), and returns the SNP measurement the predicate carries.
func VerifyBundle(rawBundle []byte, expectedDigestHex, repo string) (Measurement, error) {
	var b bundle.Bundle
	if err := b.UnmarshalJSON(rawBundle); err != nil {
		return Measurement{}, fmt.Errorf("sigstoreverify: parsing bundle: %w", err)
	}

	trustedRoot, err := TrustedRoot()
	if err != nil {
		return Measurement{}, err
	}

	sev, err := verify.NewSignedEntityVerifier(trustedRoot,
		verify.WithSignedCertificateTimestamps(1),
		verify.WithTransparencyLog(1),
		verify.WithObserverTimestamps(1),
	)
	if err != nil {
		return Measurement{}, fmt.Errorf("sigstoreverify: building verifier: %w", err)
	}

	certID, err := verify.NewShortCertificateIdentity(GitHubOIDCIssuer, "", "", githubReleaseSANRegex(repo))
	if err != nil {
		return Measurement{}, fmt.Errorf("sigstoreverify: building identity policy: %w", err)
	}

	policy := verify.NewPolicy(verify.WithoutArtifactUnsafe(), verify.WithCertificateIdentity(certID))

	result, err := sev.Verify(&b, policy)
	if err != nil {
		return Measurement{}, fmt.Errorf("sigstoreverify: bundle verification failed: %w", err)
	}

	return measurementFromStatement(result.Statement, expectedDigestHex)
}

// measurementFromStatement implements the pure subject-digest and
// predicate-type checks, factored out of VerifyBundle so they can be
// tested without a real signed bundle.
func measurementFromStatement(stmt *intoto.Statement, expectedDigestHex string) (Measurement, error) {
	if stmt == nil {
		return Measurement{}, fmt.Errorf("sigstoreverify: bundle did not carry an in-toto statement")
	}
	if len(stmt.Subject) == 0 {
		return Measurement{}, fmt.Errorf("sigstoreverify: in-toto statement has no subject")
	}
	digest, ok := stmt.Subject[0].Digest["sha256"]
	if !ok {
		return Measurement{}, fmt.Errorf("sigstoreverify: in-toto statement subject has no sha256 digest")
	}
	if !strings.EqualFold(digest, expectedDigestHex) {
		return Measurement{}, fmt.Errorf("sigstoreverify: subject digest %s does not match expected release digest %s", digest, expectedDigestHex)
	}

	if stmt.PredicateType != predicateTypeSnpTdxMultiplatformV1 {
		return Measurement{}, fmt.Errorf("sigstoreverify: unsupported predicate type %q", stmt.PredicateType)
	}

	snpMeasurement := stmt.Predicate.GetFields()["snp_measurement"].GetStringValue()
	if snpMeasurement == "" {
		return Measurement{}, fmt.Errorf("sigstoreverify: predicate is missing snp_measurement")
	}

	return Measurement{Type: predicateTypeSnpTdxMultiplatformV1, Registers: []string{snpMeasurement}}, nil
}
