package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MZGATE_TOKEN_SECRET", strings.Repeat("x", 32))
	t.Setenv("MZGATE_FIRMWARE_SOURCE", "dir")
	t.Setenv("MZGATE_FIRMWARE_DIR", t.TempDir())
	t.Setenv("MZGATE_FIRMWARE_CATALOG", "firmware1:firmware/firmware1.bin,firmware2:firmware/firmware2.bin")
}

func noDotEnv(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load(noDotEnv(t))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "memory", cfg.Attempts.Driver)
	assert.Equal(t, "keys.yaml", cfg.Keys.File)
	assert.Equal(t, 10*time.Second, cfg.Captcha.Timeout)
	assert.Equal(t, map[string]string{
		"firmware1": "firmware/firmware1.bin",
		"firmware2": "firmware/firmware2.bin",
	}, cfg.Firmware.Catalog)
}

func TestLoadDotEnv(t *testing.T) {
	setBaseEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MZGATE_SERVER_ADDR=:9999\nMZGATE_LOG_FORMAT=text\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("MZGATE_SERVER_ADDR")
		os.Unsetenv("MZGATE_LOG_FORMAT")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"short_secret", map[string]string{"MZGATE_TOKEN_SECRET": "short"}, "TOKEN_SECRET"},
		{"bad_store", map[string]string{"MZGATE_STORE_DRIVER": "postgres"}, "STORE_DRIVER"},
		{"bad_attempts", map[string]string{"MZGATE_ATTEMPTS_DRIVER": "sqlite"}, "ATTEMPTS_DRIVER"},
		{"empty_catalog", map[string]string{"MZGATE_FIRMWARE_CATALOG": ""}, "FIRMWARE_CATALOG"},
		{"github_without_token", map[string]string{"MZGATE_FIRMWARE_SOURCE": "github", "MZGATE_FIRMWARE_GITHUB_REPO": "o/r"}, "FIRMWARE_GITHUB_TOKEN"},
		{"captcha_without_secret", map[string]string{"MZGATE_CAPTCHA_REQUIRED": "true"}, "CAPTCHA_SECRET"},
		{"admin_without_jwt", map[string]string{"MZGATE_ADMIN_PASSWORD": "pw"}, "ADMIN_JWT_SECRET"},
		{"sheets_without_id", map[string]string{"MZGATE_SHEETS_ENABLED": "true"}, "SHEETS_SPREADSHEET_ID"},
		{"bad_log_format", map[string]string{"MZGATE_LOG_FORMAT": "xml"}, "LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(noDotEnv(t))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
