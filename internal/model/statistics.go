package model

import "time"

// DailyDownloads counts downloads and bytes released on one day.
type DailyDownloads struct {
	Date      time.Time `json:"date"`
	Downloads int64     `json:"downloads"`
	Bytes     int64     `json:"bytes"`
}

// GateStatistics summarizes key usage and firmware downloads.
type GateStatistics struct {
	ProvisionedKeys     int64            `json:"provisioned_keys"`
	BoundKeys           int64            `json:"bound_keys"`
	AvailableKeys       int64            `json:"available_keys"`
	TotalUses           int64            `json:"total_uses"`
	TotalDownloads      int64            `json:"total_downloads"`
	DownloadsByFirmware map[string]int64 `json:"downloads_by_firmware"`
	DailyDownloads      []DailyDownloads `json:"daily_downloads"`
	Start               time.Time        `json:"start"`
	End                 time.Time        `json:"end"`
}

// BindingRate is the share of provisioned keys already bound to a device.
func (s *GateStatistics) BindingRate() float64 {
	if s.ProvisionedKeys == 0 {
		return 0
	}
	return float64(s.BoundKeys) / float64(s.ProvisionedKeys)
}

// AverageUses is the mean number of successful validations per bound key.
func (s *GateStatistics) AverageUses() float64 {
	if s.BoundKeys == 0 {
		return 0
	}
	return float64(s.TotalUses) / float64(s.BoundKeys)
}
