package handler

import (
	"github.com/giongaysau-stack/minizflash/internal/service"

	"github.com/gofiber/fiber/v2"
)

func HandleGetLogs(c *fiber.Ctx) error {
	page, pageSize := pagination(c)

	logs, total, err := service.GetOperationLogs(c.Query("action"), page, pageSize)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load logs",
		})
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"total": total,
		"page":  page,
	})
}

func HandleGetUserLogs(c *fiber.Ctx) error {
	page, pageSize := pagination(c)

	userID := c.Locals("userID").(uint)

	logs, total, err := service.GetUserOperationLogs(userID, page, pageSize)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load logs",
		})
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"total": total,
		"page":  page,
	})
}

// HandleGetDownloads lists recorded firmware downloads, optionally for one
// firmware id.
func HandleGetDownloads(c *fiber.Ctx) error {
	page, pageSize := pagination(c)

	logs, total, err := service.GetDownloadLogs(c.Query("firmware_id"), page, pageSize)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load downloads",
		})
	}

	return c.JSON(fiber.Map{
		"downloads": logs,
		"total":     total,
		"page":      page,
	})
}
