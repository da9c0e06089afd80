package handler

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/giongaysau-stack/minizflash/internal/database"
	"github.com/giongaysau-stack/minizflash/internal/model"
	"github.com/giongaysau-stack/minizflash/internal/token"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleValidateLicenseBindsOnFirstUse(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.validate(t, testKey, deviceA, "firmware1", "s1")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, true, body["firstUse"])
	assert.Equal(t, float64(1), body["useCount"])
	assert.Equal(t, float64(300), body["expiresInSeconds"])
	assert.NotEmpty(t, body["accessToken"])

	// lowercase device and untrimmed key resolve to the same binding
	resp, body = env.validate(t, " mz1a-k9x4-7p2m-5r8t ", "aa:bb:cc:11:22:33", "firmware1", "s1")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["firstUse"])
	assert.Equal(t, float64(2), body["useCount"])

	resp, body = env.validate(t, testKey, deviceB, "firmware1", "s2")
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, "DeviceMismatch", body["error"])
	assert.Equal(t, "AA:BB:CC...", body["boundDeviceHint"])
	assert.Nil(t, body["accessToken"])
}

func TestHandleValidateLicenseRejects(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantCode   string
	}{
		{
			name:       "malformed_json",
			body:       `{"licenseKey":`,
			wantStatus: fiber.StatusBadRequest,
			wantCode:   "InvalidRequest",
		},
		{
			name:       "missing_firmware",
			body:       fiber.Map{"licenseKey": testKey, "deviceId": deviceA},
			wantStatus: fiber.StatusBadRequest,
			wantCode:   "InvalidRequest",
		},
		{
			name:       "bad_firmware_id",
			body:       fiber.Map{"licenseKey": testKey, "deviceId": deviceA, "firmwareId": "../etc"},
			wantStatus: fiber.StatusBadRequest,
			wantCode:   "InvalidRequest",
		},
		{
			name:       "invalid_format",
			body:       fiber.Map{"licenseKey": "not-a-key", "deviceId": deviceA, "firmwareId": "firmware1"},
			wantStatus: fiber.StatusBadRequest,
			wantCode:   "InvalidFormat",
		},
		{
			name:       "unknown_key",
			body:       fiber.Map{"licenseKey": "MZ1A-ZZZZ-ZZZZ-ZZZZ", "deviceId": deviceA, "firmwareId": "firmware1"},
			wantStatus: fiber.StatusForbidden,
			wantCode:   "UnknownKey",
		},
		{
			name:       "invalid_device",
			body:       fiber.Map{"licenseKey": testKey, "deviceId": "AA-BB-CC-11-22-33", "firmwareId": "firmware1"},
			wantStatus: fiber.StatusBadRequest,
			wantCode:   "InvalidDevice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, "POST", "/api/validate-license", tt.body, session(tt.name))
			body := decode(t, resp)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCode, body["error"])
			assert.Equal(t, false, body["valid"])
		})
	}

	// none of the rejected requests bound the key
	_, body := env.validate(t, testKey, deviceB, "firmware1", "fresh")
	assert.Equal(t, true, body["firstUse"])
}

func TestHandleValidateLicenseLockout(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 10; i++ {
		resp, body := env.validate(t, "MZ1A-ZZZZ-ZZZZ-ZZZZ", deviceA, "firmware1", "attacker")
		require.Equal(t, fiber.StatusForbidden, resp.StatusCode, "attempt %d", i+1)
		require.Equal(t, "UnknownKey", body["error"])
	}

	// a valid key is refused while the session is locked and does not bind
	resp, body := env.validate(t, testKey, deviceA, "firmware1", "attacker")
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "Locked", body["error"])

	resp, body = env.validate(t, testKey, deviceA, "firmware1", "someone-else")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["firstUse"])
}

func TestHandleDownloadFirmware(t *testing.T) {
	env := newTestEnv(t)

	_, body := env.validate(t, testKey, deviceA, "firmware1", "s1")
	tok := body["accessToken"].(string)

	resp := env.do(t, "POST", "/api/download-firmware", fiber.Map{
		"firmwareId":  "firmware1",
		"accessToken": tok,
		"deviceId":    deviceA,
	}, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, testImage, string(data))
	assert.Equal(t, fiber.MIMEOctetStream, resp.Header.Get(fiber.HeaderContentType))
	assert.Equal(t, `attachment; filename="firmware1.bin"`, resp.Header.Get(fiber.HeaderContentDisposition))
	assert.Equal(t, "no-store", resp.Header.Get(fiber.HeaderCacheControl))
	assert.Equal(t, "16", resp.Header.Get("X-Firmware-Size"))

	var logs []model.DownloadLog
	require.NoError(t, database.DB.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "firmware1", logs[0].FirmwareID)
	assert.Equal(t, "AA:BB:CC...", logs[0].Device)
}

func TestHandleDownloadFirmwareRejects(t *testing.T) {
	env := newTestEnv(t)

	valid, err := env.tokens.Mint("d1", deviceA, "firmware1")
	require.NoError(t, err)
	unknown, err := env.tokens.Mint("d1", deviceA, "firmware9")
	require.NoError(t, err)
	missing, err := env.tokens.Mint("d1", deviceA, "firmware2")
	require.NoError(t, err)
	forger, err := token.NewService([]byte(strings.Repeat("f", 32)))
	require.NoError(t, err)
	forged, err := forger.Mint("d1", deviceA, "firmware1")
	require.NoError(t, err)

	tests := []struct {
		name       string
		firmware   string
		token      string
		device     string
		wantStatus int
		wantCode   string
	}{
		{"malformed", "firmware1", "garbage", deviceA, fiber.StatusBadRequest, "Malformed"},
		{"forged", "firmware1", forged, deviceA, fiber.StatusForbidden, "TamperedOrForged"},
		{"other_device", "firmware1", valid, deviceB, fiber.StatusConflict, "DeviceMismatch"},
		{"other_firmware", "firmware2", valid, deviceA, fiber.StatusForbidden, "ScopeMismatch"},
		{"unknown_firmware", "firmware9", unknown, deviceA, fiber.StatusNotFound, "UnknownFirmware"},
		{"upstream_missing", "firmware2", missing, deviceA, fiber.StatusBadGateway, "UpstreamUnavailable"},
		{"bad_device", "firmware1", valid, "nope", fiber.StatusBadRequest, "InvalidDevice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, "POST", "/api/download-firmware", fiber.Map{
				"firmwareId":  tt.firmware,
				"accessToken": tt.token,
				"deviceId":    tt.device,
			}, nil)
			body := decode(t, resp)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCode, body["error"])
		})
	}

	var n int64
	require.NoError(t, database.DB.Model(&model.DownloadLog{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestHandleDownloadFirmwareExpired(t *testing.T) {
	env := newTestEnv(t)

	_, body := env.validate(t, testKey, deviceA, "firmware1", "s1")
	tok := body["accessToken"].(string)

	env.now = env.now.Add(301 * time.Second)
	resp := env.do(t, "POST", "/api/download-firmware", fiber.Map{
		"firmwareId":  "firmware1",
		"accessToken": tok,
		"deviceId":    deviceA,
	}, nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON)
	out := decode(t, resp)
	assert.Equal(t, "Expired", out["error"])
}

func TestHandleVerifyCaptchaWithoutSecret(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "POST", "/api/verify-captcha", fiber.Map{"captchaToken": "tok"}, nil)
	body := decode(t, resp)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "CaptchaFailed", body["error"])

	resp = env.do(t, "POST", "/api/verify-turnstile", fiber.Map{}, nil)
	body = decode(t, resp)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "InvalidRequest", body["error"])
}

func TestHandleHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "GET", "/health", nil, nil)
	body := decode(t, resp)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["keys"])
	assert.Equal(t, []interface{}{"firmware1", "firmware2"}, body["firmware"])

	env.validate(t, testKey, deviceA, "firmware1", "s1")
	resp = env.do(t, "GET", "/metrics", nil, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `mzgate_license_validations_total{result="ok"} 1`)
}

func TestUnknownRouteUsesErrorHandler(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "GET", "/api/nope", nil, nil)
	body := decode(t, resp)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}
