package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/giongaysau-stack/minizflash/internal/attempt"
	"github.com/giongaysau-stack/minizflash/internal/binding"
	"github.com/giongaysau-stack/minizflash/internal/database"
	"github.com/giongaysau-stack/minizflash/internal/firmware"
	"github.com/giongaysau-stack/minizflash/internal/license"
	"github.com/giongaysau-stack/minizflash/internal/metrics"
	"github.com/giongaysau-stack/minizflash/internal/service"
	"github.com/giongaysau-stack/minizflash/internal/token"
	"github.com/giongaysau-stack/minizflash/internal/util"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

const (
	testKey   = "MZ1A-K9X4-7P2M-5R8T"
	otherKey  = "MZ1A-AAAA-BBBB-CCCC"
	deviceA   = "AA:BB:CC:11:22:33"
	deviceB   = "AA:BB:CC:11:22:34"
	testImage = "\xE9\x01firmware-image"
)

type testEnv struct {
	app    *fiber.App
	tokens *token.Service
	store  binding.Store
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database.InitTestDB()
	t.Cleanup(database.CleanTestDB)
	util.SetJWTConfig("handler-test-secret-handler-test-secret", time.Hour)

	keys, err := license.KeySetFromKeys("test-salt", []string{testKey, otherKey})
	require.NoError(t, err)
	validator := license.NewValidator(keys)

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "firmware"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "firmware", "firmware1.bin"), []byte(testImage), 0o644))
	src, err := firmware.NewDirSource(root)
	require.NoError(t, err)
	catalog, err := firmware.ParseCatalog(map[string]string{
		"firmware1": "firmware/firmware1.bin",
		"firmware2": "firmware/missing.bin",
	})
	require.NoError(t, err)

	env := &testEnv{now: time.Now()}
	env.tokens, err = token.NewService([]byte(strings.Repeat("s", 32)))
	require.NoError(t, err)
	env.tokens.WithClock(func() time.Time { return env.now })
	env.store = binding.NewMemory()

	m := metrics.New()
	svc, err := service.NewLicenseService(service.Deps{
		Validator: validator,
		Store:     env.store,
		Tracker:   attempt.NewMemory(),
		Tokens:    env.tokens,
		Gate:      firmware.NewGate(env.tokens, catalog, src),
		Metrics:   m,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	h := New(Options{
		Licenses:  svc,
		Store:     env.store,
		Validator: validator,
		Catalog:   catalog,
		Metrics:   m,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	env.app = fiber.New(fiber.Config{ErrorHandler: ErrorHandler(slog.Default())})
	h.Register(env.app)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *http.Response {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req, _ := http.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func session(id string) map[string]string {
	return map[string]string{"X-Session-ID": id}
}

func (e *testEnv) validate(t *testing.T, key, device, firmwareID, sid string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp := e.do(t, "POST", "/api/validate-license", fiber.Map{
		"licenseKey": key,
		"deviceId":   device,
		"firmwareId": firmwareID,
	}, session(sid))
	return resp, decode(t, resp)
}
