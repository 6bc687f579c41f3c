package bundle

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinfoilsh/verifier/pkg/sevsnp"
)

func atcTestBundleJSON(t *testing.T) []byte {
	t.Helper()
	data, err := json.Marshal(AttestationBundle{
		Domain:                   "router1.example.com",
		EnclaveAttestationReport: sevsnp.AttestationDocument{Format: sevsnp.SnpTdxMultiplatformV1, Body: "Zm9v"},
		Digest:                   testDigest,
		SigstoreBundle:           []byte(`{}`),
		VCEK:                     []byte("der"),
		EnclaveCert:              "PEM",
	})
	require.NoError(t, err)
	return data
}

func TestFetchFromATCUsesGETForDefaults(t *testing.T) {
	var mu sync.Mutex
	var method string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		method = r.Method
		mu.Unlock()
		w.Write(atcTestBundleJSON(t))
	}))
	defer ts.Close()

	b, err := FetchFromATC(context.Background(), ATCConfig{BaseURL: ts.URL, Retry: fastRetry()}, "", "tinfoilsh/default-repo", true)
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, method)
	assert.Equal(t, "router1.example.com", b.Domain)
}

func TestFetchFromATCUsesPOSTForCustomEnclave(t *testing.T) {
	var mu sync.Mutex
	var method string
	var reqBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		method = r.Method
		reqBody, _ = io.ReadAll(r.Body)
		mu.Unlock()
		w.Write(atcTestBundleJSON(t))
	}))
	defer ts.Close()

	_, err := FetchFromATC(context.Background(), ATCConfig{BaseURL: ts.URL, Retry: fastRetry()}, "https://enclave.example.com", "acme/models", false)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, method)
	assert.JSONEq(t, `{"enclaveUrl":"https://enclave.example.com","repo":"acme/models"}`, string(reqBody))
}

func TestFetchFromATCUsesPOSTForNonDefaultRepoAlone(t *testing.T) {
	var mu sync.Mutex
	var method string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		method = r.Method
		mu.Unlock()
		w.Write(atcTestBundleJSON(t))
	}))
	defer ts.Close()

	_, err := FetchFromATC(context.Background(), ATCConfig{BaseURL: ts.URL, Retry: fastRetry()}, "", "acme/models", false)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, method)
}

func TestFetchRouterEndpointsPicksFromList(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/routers", r.URL.Path)
		assert.Equal(t, "snp", r.URL.Query().Get("platform"))
		json.NewEncoder(w).Encode([]string{"r1.example.com", "r2.example.com"})
	}))
	defer ts.Close()

	host, err := FetchRouterEndpoints(context.Background(), ATCConfig{BaseURL: ts.URL, Retry: fastRetry()})
	require.NoError(t, err)
	assert.Contains(t, []string{"r1.example.com", "r2.example.com"}, host)
}

func TestFetchRouterEndpointsRejectsEmptyList(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]string{})
	}))
	defer ts.Close()

	_, err := FetchRouterEndpoints(context.Background(), ATCConfig{BaseURL: ts.URL, Retry: fastRetry()})
	require.Error(t, err)
}

func TestDiskVCEKCacheRoundTripsAndSurvivesMissingDir(t *testing.T) {
	cache := NewDiskVCEKCache(t.TempDir() + "/nested/vceks")

	_, ok := cache.Get("https://kds.example.com/vcek/v1/Genoa/abc")
	assert.False(t, ok, "empty cache misses")

	cache.Put("https://kds.example.com/vcek/v1/Genoa/abc", []byte("der-bytes"))
	got, ok := cache.Get("https://kds.example.com/vcek/v1/Genoa/abc")
	require.True(t, ok)
	assert.Equal(t, []byte("der-bytes"), got)

	_, ok = cache.Get("https://kds.example.com/vcek/v1/Genoa/other")
	assert.False(t, ok, "different URL is a different key")
}
