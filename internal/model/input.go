package model

// Request bodies. Every endpoint decodes into one of these fixed structs and
// validates it before any business logic runs.

type ValidateLicenseInput struct {
	LicenseKey   string `json:"licenseKey" validate:"required,max=64"`
	DeviceID     string `json:"deviceId" validate:"required,max=32"`
	FirmwareID   string `json:"firmwareId" validate:"required,firmwareid"`
	CaptchaToken string `json:"captchaToken" validate:"omitempty,max=2048"`
}

type DownloadFirmwareInput struct {
	FirmwareID  string `json:"firmwareId" validate:"required,firmwareid"`
	AccessToken string `json:"accessToken" validate:"required,max=1024"`
	DeviceID    string `json:"deviceId" validate:"required,max=32"`
}

type VerifyCaptchaInput struct {
	CaptchaToken string `json:"captchaToken" validate:"required,max=2048"`
}

type LoginInput struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

type LicenseKeyInput struct {
	LicenseKey string `json:"licenseKey" validate:"required,max=64"`
}
