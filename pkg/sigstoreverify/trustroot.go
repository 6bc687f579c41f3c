package sigstoreverify

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/sigstore/sigstore-go/pkg/root"
)

// trustedRootJSON is the compiled-in Sigstore trust root, avoiding the TUF
// network fetch root.FetchTrustedRoot() would otherwise perform on every
// process start.
//
// The JSON committed here is a skeleton, not Sigstore's actually-published
// public-good trust root — a production deployment must replace it with the
// current trusted_root.json served from Sigstore's TUF repository
// (https://tuf-repo-cdn.sigstore.dev), the same way cosign's embedded root
// is refreshed.
//
//go:embed trusted_root.json
var trustedRootJSON []byte

var (
	cachedRootOnce sync.Once
	cachedRoot     *root.TrustedRoot
	cachedRootErr  error
)

// TrustedRoot returns the process-wide compiled-in trust root, parsing it
// once and caching the result.
func TrustedRoot() (*root.TrustedRoot, error) {
	cachedRootOnce.Do(func() {
		cachedRoot, cachedRootErr = root.NewTrustedRootFromJSON(trustedRootJSON)
		if cachedRootErr != nil {
			cachedRootErr = fmt.Errorf("sigstoreverify: parsing compiled-in trust root: %w", cachedRootErr)
		}
	})
	return cachedRoot, cachedRootErr
}
