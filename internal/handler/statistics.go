package handler

import (
	"time"

	"github.com/giongaysau-stack/minizflash/internal/service"

	"github.com/gofiber/fiber/v2"
)

// HandleStatistics reports key usage and downloads between start_date and
// end_date (YYYY-MM-DD, defaulting to the last 30 days).
func (h *Handler) HandleStatistics(c *fiber.Ctx) error {
	startDate := c.Query("start_date")
	endDate := c.Query("end_date")

	var start, end time.Time
	var err error

	if startDate != "" {
		start, err = time.Parse("2006-01-02", startDate)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"code":    400,
				"message": "invalid start date",
				"errors": []fiber.Map{
					{"field": "start_date", "message": "date must be YYYY-MM-DD"},
				},
			})
		}
	} else {
		start = time.Now().AddDate(0, 0, -30)
	}

	if endDate != "" {
		end, err = time.Parse("2006-01-02", endDate)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"code":    400,
				"message": "invalid end date",
				"errors": []fiber.Map{
					{"field": "end_date", "message": "date must be YYYY-MM-DD"},
				},
			})
		}
		// include the whole end day
		end = end.Add(24*time.Hour - time.Nanosecond)
	} else {
		end = time.Now()
	}

	if end.Before(start) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"code":    400,
			"message": "end date is before start date",
		})
	}

	stats, err := service.BuildStatistics(c.UserContext(), h.store, h.validator.Size(), start, end)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"code":    200,
		"message": "success",
		"data":    stats,
		"summary": fiber.Map{
			"binding_rate": stats.BindingRate(),
			"average_uses": stats.AverageUses(),
		},
	})
}
