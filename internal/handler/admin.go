package handler

import (
	"errors"
	"log/slog"

	"github.com/giongaysau-stack/minizflash/internal/apperr"
	"github.com/giongaysau-stack/minizflash/internal/binding"
	"github.com/giongaysau-stack/minizflash/internal/license"
	"github.com/giongaysau-stack/minizflash/internal/model"
	"github.com/giongaysau-stack/minizflash/internal/service"

	"github.com/gofiber/fiber/v2"
)

// resolveKey turns the plain key in the body into a provisioned digest.
func (h *Handler) resolveKey(c *fiber.Ctx) (string, error) {
	input := new(model.LicenseKeyInput)
	if err := h.bind(c, input); err != nil {
		return "", err
	}
	return h.validator.Check(input.LicenseKey)
}

func (h *Handler) HandleListBindings(c *fiber.Ctx) error {
	bindings, err := h.store.List(c.UserContext())
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"bindings": bindings,
		"total":    len(bindings),
	})
}

func (h *Handler) HandleLookupBinding(c *fiber.Ctx) error {
	digest, err := h.resolveKey(c)
	if err != nil {
		return h.respondError(c, err)
	}

	b, err := h.store.Get(c.UserContext(), digest)
	if errors.Is(err, binding.ErrNotFound) {
		return c.JSON(fiber.Map{
			"keyDigest": license.ShortDigest(digest),
			"bound":     false,
		})
	}
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"keyDigest": license.ShortDigest(digest),
		"bound":     true,
		"binding":   b,
	})
}

// HandleUnbind removes a key's binding so the next device to present the key
// binds it again.
func (h *Handler) HandleUnbind(c *fiber.Ctx) error {
	digest, err := h.resolveKey(c)
	if err != nil {
		return h.respondError(c, err)
	}

	ctx := c.UserContext()
	prev, err := h.store.Get(ctx, digest)
	if errors.Is(err, binding.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "license key is not bound",
		})
	}
	if err != nil {
		return h.respondError(c, err)
	}

	if err := h.store.Unbind(ctx, digest); err != nil {
		if errors.Is(err, binding.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "license key is not bound",
			})
		}
		return h.respondError(c, err)
	}

	userID := c.Locals("userID").(uint)
	if err := service.LogOperation(userID, service.ActionUnbind, "binding", license.ShortDigest(digest), fiber.Map{
		"device":    license.RedactDevice(prev.BoundDevice),
		"use_count": prev.UseCount,
	}); err != nil {
		h.log.Warn("log unbind", slog.String("error", err.Error()))
	}
	h.log.Info("binding removed",
		slog.String("key", license.ShortDigest(digest)),
		slog.Uint64("admin", uint64(userID)))

	return c.JSON(fiber.Map{
		"message":   "binding removed",
		"keyDigest": license.ShortDigest(digest),
	})
}

// HandleExportBindings overwrites the operator sheet with every binding.
func (h *Handler) HandleExportBindings(c *fiber.Ctx) error {
	if h.sheets == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "sheet sync is not enabled",
		})
	}

	ctx := c.UserContext()
	bindings, err := h.store.List(ctx)
	if err != nil {
		return h.respondError(c, err)
	}

	n, err := h.sheets.BatchSyncBindings(ctx, bindings)
	if err != nil {
		h.log.Error("export bindings", slog.String("error", err.Error()))
		return h.respondError(c, apperr.Wrap(apperr.UpstreamUnavailable, "sheet export failed", err))
	}

	userID := c.Locals("userID").(uint)
	if err := service.LogOperation(userID, service.ActionExport, "sheet", "", fiber.Map{"rows": n}); err != nil {
		h.log.Warn("log export", slog.String("error", err.Error()))
	}

	return c.JSON(fiber.Map{
		"message":  "bindings exported",
		"exported": n,
	})
}
