package service

import (
	"context"
	"fmt"
	"time"

	"github.com/giongaysau-stack/minizflash/internal/binding"
	"github.com/giongaysau-stack/minizflash/internal/database"
	"github.com/giongaysau-stack/minizflash/internal/model"
)

// BuildStatistics combines binding store counters with download records in
// [start, end].
func BuildStatistics(ctx context.Context, store binding.Store, provisioned int, start, end time.Time) (*model.GateStatistics, error) {
	bs, err := store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	stats := &model.GateStatistics{
		ProvisionedKeys:     int64(provisioned),
		BoundKeys:           bs.Bound,
		TotalUses:           bs.TotalUses,
		DownloadsByFirmware: make(map[string]int64),
		DailyDownloads:      make([]model.DailyDownloads, 0),
		Start:               start,
		End:                 end,
	}
	if stats.AvailableKeys = stats.ProvisionedKeys - stats.BoundKeys; stats.AvailableKeys < 0 {
		stats.AvailableKeys = 0
	}

	db := database.DB.WithContext(ctx)
	inRange := db.Model(&model.DownloadLog{}).Where("created_at BETWEEN ? AND ?", start, end)

	if err := inRange.Count(&stats.TotalDownloads).Error; err != nil {
		return nil, fmt.Errorf("count downloads: %w", err)
	}

	var perFirmware []struct {
		FirmwareID string
		Count      int64
	}
	if err := db.Model(&model.DownloadLog{}).
		Select("firmware_id, count(*) as count").
		Where("created_at BETWEEN ? AND ?", start, end).
		Group("firmware_id").
		Scan(&perFirmware).Error; err != nil {
		return nil, fmt.Errorf("downloads by firmware: %w", err)
	}
	for _, pf := range perFirmware {
		stats.DownloadsByFirmware[pf.FirmwareID] = pf.Count
	}

	// bucketed here rather than with DATE() so the result does not depend on
	// how the driver serializes timestamps
	var rows []model.DownloadLog
	if err := db.Select("created_at", "size").
		Where("created_at BETWEEN ? AND ?", start, end).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("daily downloads: %w", err)
	}
	for _, r := range rows {
		day := time.Date(r.CreatedAt.Year(), r.CreatedAt.Month(), r.CreatedAt.Day(), 0, 0, 0, 0, r.CreatedAt.Location())
		n := len(stats.DailyDownloads)
		if n == 0 || !stats.DailyDownloads[n-1].Date.Equal(day) {
			stats.DailyDownloads = append(stats.DailyDownloads, model.DailyDownloads{Date: day})
			n++
		}
		stats.DailyDownloads[n-1].Downloads++
		stats.DailyDownloads[n-1].Bytes += int64(r.Size)
	}
	return stats, nil
}
