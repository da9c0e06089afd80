package firmware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/giongaysau-stack/minizflash/internal/apperr"
	"github.com/giongaysau-stack/minizflash/internal/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDigest = "3f2a9c0d5b7e41e6a8d2c4b6f0e1a3c5d7e9f1a3b5c7d9e1f3a5b7c9d1e3f5a7"
	testDevice = "AA:BB:CC:11:22:33"
)

func newGitHub(t *testing.T, hits *int32, fail *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if fail.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if r.Header.Get("Authorization") != "Bearer gh-token" ||
			r.Header.Get("Accept") != "application/vnd.github.v3.raw" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/repos/owner/private/contents/firmware/firmware1.bin":
			_, _ = w.Write([]byte{0xE9, 0x01, 0x02, 0x03})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newGate(t *testing.T, src Source, now *time.Time) (*Gate, *token.Service) {
	t.Helper()
	tokens, err := token.NewService([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)
	tokens.WithClock(func() time.Time { return *now })
	catalog, err := ParseCatalog(map[string]string{
		"firmware1": "firmware/firmware1.bin",
		"missing":   "firmware/missing.bin",
	})
	require.NoError(t, err)
	return NewGate(tokens, catalog, src), tokens
}

func TestReleaseFetchesFreshEveryTime(t *testing.T) {
	var hits int32
	var fail atomic.Bool
	srv := newGitHub(t, &hits, &fail)
	src, err := NewGitHubSource(GitHubConfig{Repo: "owner/private", Token: "gh-token", BaseURL: srv.URL})
	require.NoError(t, err)

	now := time.Now()
	gate, tokens := newGate(t, src, &now)
	tok, err := tokens.Mint(testDigest, testDevice, "firmware1")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		asset, err := gate.Release(context.Background(), tok, testDevice, "firmware1")
		require.NoError(t, err)
		assert.Equal(t, []byte{0xE9, 0x01, 0x02, 0x03}, asset.Data)
		assert.Equal(t, testDigest, asset.Claims.KeyDigest)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "no caching between releases")
}

func TestReleaseErrors(t *testing.T) {
	var hits int32
	var fail atomic.Bool
	srv := newGitHub(t, &hits, &fail)
	src, err := NewGitHubSource(GitHubConfig{Repo: "owner/private", Token: "gh-token", BaseURL: srv.URL})
	require.NoError(t, err)

	now := time.Now()
	gate, tokens := newGate(t, src, &now)
	ctx := context.Background()

	valid, err := tokens.Mint(testDigest, testDevice, "firmware1")
	require.NoError(t, err)
	unknown, err := tokens.Mint(testDigest, testDevice, "firmware9")
	require.NoError(t, err)
	missing, err := tokens.Mint(testDigest, testDevice, "missing")
	require.NoError(t, err)

	_, err = gate.Release(ctx, unknown, testDevice, "firmware9")
	assert.Equal(t, apperr.UnknownFirmware, apperr.CodeOf(err))

	_, err = gate.Release(ctx, missing, testDevice, "missing")
	assert.Equal(t, apperr.UpstreamUnavailable, apperr.CodeOf(err))

	fail.Store(true)
	_, err = gate.Release(ctx, valid, testDevice, "firmware1")
	assert.Equal(t, apperr.UpstreamUnavailable, apperr.CodeOf(err))
	fail.Store(false)

	before := atomic.LoadInt32(&hits)
	_, err = gate.Release(ctx, "garbage", testDevice, "firmware1")
	assert.Equal(t, apperr.Malformed, apperr.CodeOf(err))

	now = now.Add(301 * time.Second)
	asset, err := gate.Release(ctx, valid, testDevice, "firmware1")
	assert.Equal(t, apperr.Expired, apperr.CodeOf(err))
	assert.Nil(t, asset.Data)
	assert.Equal(t, before, atomic.LoadInt32(&hits), "authorization failures never reach the source")
}

func TestDirSource(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "firmware"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "firmware", "firmware1.bin"), []byte("image"), 0o644))

	src, err := NewDirSource(root)
	require.NoError(t, err)

	data, err := src.Fetch(context.Background(), "firmware/firmware1.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("image"), data)

	_, err = src.Fetch(context.Background(), "../etc/passwd")
	assert.Error(t, err)
	_, err = src.Fetch(context.Background(), "firmware/none.bin")
	assert.Error(t, err)
}

func TestParseCatalog(t *testing.T) {
	_, err := ParseCatalog(nil)
	assert.Error(t, err)
	_, err = ParseCatalog(map[string]string{"bad id": "a.bin"})
	assert.Error(t, err)
	_, err = ParseCatalog(map[string]string{"fw": "../a.bin"})
	assert.Error(t, err)

	c, err := ParseCatalog(map[string]string{"b": "b.bin", "a": "a.bin"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, c.IDs())
}

func TestNewGitHubSourceValidation(t *testing.T) {
	_, err := NewGitHubSource(GitHubConfig{Repo: "noslash", Token: "t"})
	assert.Error(t, err)
	_, err = NewGitHubSource(GitHubConfig{Repo: "owner/repo"})
	assert.Error(t, err)
}
