package model

import "time"

type DownloadLog struct {
	ID         string    `json:"id" gorm:"primaryKey;size:36"`
	FirmwareID string    `json:"firmware_id" gorm:"index"`
	Device     string    `json:"device"` // redacted
	KeyDigest  string    `json:"key_digest" gorm:"index"`
	Size       int       `json:"size"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
}
