package service

import (
	"time"

	"github.com/giongaysau-stack/minizflash/internal/database"
	"github.com/giongaysau-stack/minizflash/internal/license"
	"github.com/giongaysau-stack/minizflash/internal/model"

	"github.com/google/uuid"
)

// DownloadRetention is how long download records are kept.
const DownloadRetention = 30 * 24 * time.Hour

// RecordDownload stores an audit entry for a released firmware image and
// prunes entries past the retention window. Only the redacted device is kept.
func RecordDownload(firmwareID, keyDigest, device string, size int, ip, userAgent string) error {
	if database.DB == nil {
		return nil
	}
	now := time.Now()
	entry := &model.DownloadLog{
		ID:         uuid.NewString(),
		FirmwareID: firmwareID,
		Device:     license.RedactDevice(device),
		KeyDigest:  keyDigest,
		Size:       size,
		IPAddress:  ip,
		UserAgent:  userAgent,
		CreatedAt:  now,
	}
	if err := database.DB.Create(entry).Error; err != nil {
		return err
	}
	return database.DB.Where("created_at < ?", now.Add(-DownloadRetention)).Delete(&model.DownloadLog{}).Error
}

// GetDownloadLogs pages through download records, newest first. An empty
// firmwareID matches every firmware.
func GetDownloadLogs(firmwareID string, page, pageSize int) ([]model.DownloadLog, int64, error) {
	var logs []model.DownloadLog
	var total int64

	db := database.DB.Model(&model.DownloadLog{})
	if firmwareID != "" {
		db = db.Where("firmware_id = ?", firmwareID)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := db.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
