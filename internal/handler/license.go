package handler

import (
	"strconv"
	"time"

	"github.com/giongaysau-stack/minizflash/internal/apperr"
	"github.com/giongaysau-stack/minizflash/internal/model"
	"github.com/giongaysau-stack/minizflash/internal/service"

	"github.com/gofiber/fiber/v2"
)

// HandleValidateLicense checks a key for a device and returns a short-lived
// access token for the requested firmware.
func (h *Handler) HandleValidateLicense(c *fiber.Ctx) error {
	invalid := fiber.Map{"valid": false}
	input := new(model.ValidateLicenseInput)
	if err := h.bind(c, input); err != nil {
		return h.respondError(c, err, invalid)
	}

	res, err := h.licenses.Validate(c.UserContext(), service.ValidateRequest{
		LicenseKey:   input.LicenseKey,
		DeviceID:     input.DeviceID,
		FirmwareID:   input.FirmwareID,
		CaptchaToken: input.CaptchaToken,
		Session:      sessionID(c),
		RemoteIP:     c.IP(),
	})
	if err != nil {
		return h.respondError(c, err, invalid)
	}

	return c.JSON(fiber.Map{
		"valid":            true,
		"firstUse":         res.FirstUse,
		"useCount":         res.UseCount,
		"message":          res.Message,
		"accessToken":      res.AccessToken,
		"expiresInSeconds": int(res.ExpiresIn / time.Second),
	})
}

// HandleDownloadFirmware streams a firmware image to the holder of a valid
// access token. No bytes are written unless authorization succeeds.
func (h *Handler) HandleDownloadFirmware(c *fiber.Ctx) error {
	input := new(model.DownloadFirmwareInput)
	if err := h.bind(c, input); err != nil {
		return h.respondError(c, err)
	}

	asset, err := h.licenses.Download(c.UserContext(), service.DownloadRequest{
		FirmwareID:  input.FirmwareID,
		AccessToken: input.AccessToken,
		DeviceID:    input.DeviceID,
		RemoteIP:    c.IP(),
		UserAgent:   c.Get(fiber.HeaderUserAgent),
	})
	if err != nil {
		return h.respondError(c, err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+asset.FirmwareID+`.bin"`)
	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Set("X-Firmware-Size", strconv.Itoa(len(asset.Data)))
	return c.Send(asset.Data)
}

// HandleVerifyCaptcha checks a CAPTCHA token on its own.
func (h *Handler) HandleVerifyCaptcha(c *fiber.Ctx) error {
	failed := fiber.Map{"success": false}
	input := new(model.VerifyCaptchaInput)
	if err := h.bind(c, input); err != nil {
		return h.respondError(c, err, failed)
	}

	res, err := h.licenses.VerifyCaptcha(c.UserContext(), input.CaptchaToken, c.IP())
	if err != nil {
		return h.respondError(c, err, failed)
	}
	if !res.Success {
		return h.respondError(c, apperr.New(apperr.CaptchaFailed, "captcha verification failed"), failed)
	}

	return c.JSON(fiber.Map{
		"success":            true,
		"challengeTimestamp": res.ChallengeTimestamp,
		"hostname":           res.Hostname,
	})
}

func (h *Handler) HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"keys":      h.validator.Size(),
		"firmware":  h.catalog.IDs(),
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	})
}
