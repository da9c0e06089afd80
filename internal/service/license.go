package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/giongaysau-stack/minizflash/internal/apperr"
	"github.com/giongaysau-stack/minizflash/internal/attempt"
	"github.com/giongaysau-stack/minizflash/internal/binding"
	"github.com/giongaysau-stack/minizflash/internal/captcha"
	"github.com/giongaysau-stack/minizflash/internal/firmware"
	"github.com/giongaysau-stack/minizflash/internal/license"
	"github.com/giongaysau-stack/minizflash/internal/metrics"
	"github.com/giongaysau-stack/minizflash/internal/token"
)

type ValidateRequest struct {
	LicenseKey   string
	DeviceID     string
	FirmwareID   string
	CaptchaToken string
	// Session keys the attempt tracker.
	Session  string
	RemoteIP string
}

type ValidateResult struct {
	FirstUse    bool
	UseCount    int64
	Message     string
	AccessToken string
	ExpiresIn   time.Duration
}

type DownloadRequest struct {
	FirmwareID  string
	AccessToken string
	DeviceID    string
	RemoteIP    string
	UserAgent   string
}

// Deps wires the license service. Captcha, Sheets and Metrics are optional.
type Deps struct {
	Validator       *license.Validator
	Store           binding.Store
	Tracker         attempt.Tracker
	Tokens          *token.Service
	Gate            *firmware.Gate
	Captcha         captcha.Verifier
	CaptchaRequired bool
	Sheets          *SheetSyncService
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
}

// LicenseService runs the validate and download flows. The attempt tracker
// is an explicit dependency owned by the process, not package state.
type LicenseService struct {
	validator       *license.Validator
	store           binding.Store
	tracker         attempt.Tracker
	tokens          *token.Service
	gate            *firmware.Gate
	captcha         captcha.Verifier
	captchaRequired bool
	sheets          *SheetSyncService
	metrics         *metrics.Metrics
	log             *slog.Logger
}

func NewLicenseService(d Deps) (*LicenseService, error) {
	if d.Validator == nil || d.Store == nil || d.Tracker == nil || d.Tokens == nil || d.Gate == nil {
		return nil, fmt.Errorf("license service requires validator, store, tracker, tokens and gate")
	}
	if d.Captcha == nil {
		d.Captcha = captcha.Disabled{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &LicenseService{
		validator:       d.Validator,
		store:           d.Store,
		tracker:         d.Tracker,
		tokens:          d.Tokens,
		gate:            d.Gate,
		captcha:         d.Captcha,
		captchaRequired: d.CaptchaRequired,
		sheets:          d.Sheets,
		metrics:         d.Metrics,
		log:             d.Logger.With(slog.String("component", "license_service")),
	}, nil
}

// Validate checks a key for a device and, on success, mints an access token
// for the requested firmware.
func (s *LicenseService) Validate(ctx context.Context, req ValidateRequest) (res ValidateResult, err error) {
	defer func() {
		s.metrics.Validations.WithLabelValues(metrics.Result(err)).Inc()
	}()

	// Locked short-circuits before any captcha, key or storage work.
	locked, err := s.tracker.IsLocked(ctx, req.Session)
	if err != nil {
		return ValidateResult{}, apperr.Wrap(apperr.StorageUnavailable, "attempt tracker is unavailable", err)
	}
	if locked {
		s.metrics.Lockouts.Inc()
		return ValidateResult{}, apperr.New(apperr.Locked, "too many failed attempts, try again in 5 minutes")
	}

	if err := s.checkCaptcha(ctx, req.CaptchaToken, req.RemoteIP); err != nil {
		s.fail(ctx, req.Session)
		return ValidateResult{}, err
	}

	device, err := license.ParseDevice(req.DeviceID)
	if err != nil {
		s.fail(ctx, req.Session)
		return ValidateResult{}, err
	}
	if !firmware.ValidID(req.FirmwareID) {
		return ValidateResult{}, apperr.New(apperr.InvalidRequest, "firmware id is invalid")
	}

	digest, err := s.validator.Check(req.LicenseKey)
	if err != nil {
		s.fail(ctx, req.Session)
		return ValidateResult{}, err
	}

	resolved, err := s.store.ResolveOrBind(ctx, digest, device)
	if err != nil {
		if apperr.HasCode(err, apperr.DeviceMismatch) {
			s.fail(ctx, req.Session)
			s.log.WarnContext(ctx, "license key presented by another device",
				slog.String("key", license.ShortDigest(digest)),
				slog.String("device", license.RedactDevice(device)))
		} else {
			s.log.ErrorContext(ctx, "binding store failed", slog.String("error", err.Error()))
		}
		return ValidateResult{}, err
	}

	if err := s.tracker.Reset(ctx, req.Session); err != nil {
		s.log.WarnContext(ctx, "reset attempt counter", slog.String("error", err.Error()))
	}

	if resolved.Status == binding.FirstUse {
		s.log.InfoContext(ctx, "license key bound",
			slog.String("key", license.ShortDigest(digest)),
			slog.String("device", license.RedactDevice(device)))
		if s.sheets != nil {
			go s.syncBinding(resolved.Binding)
		}
	}

	// The binding stands even if minting fails; it grants nothing by itself.
	tok, err := s.tokens.Mint(digest, device, req.FirmwareID)
	if err != nil {
		return ValidateResult{}, fmt.Errorf("mint access token: %w", err)
	}

	res = ValidateResult{
		FirstUse:    resolved.Status == binding.FirstUse,
		UseCount:    resolved.Binding.UseCount,
		AccessToken: tok,
		ExpiresIn:   token.TTL,
	}
	if res.FirstUse {
		res.Message = "License activated for this device"
	} else {
		res.Message = fmt.Sprintf("License valid (use #%d)", res.UseCount)
	}
	return res, nil
}

// Download releases a firmware image to the holder of a valid token and
// records the download.
func (s *LicenseService) Download(ctx context.Context, req DownloadRequest) (asset firmware.Asset, err error) {
	defer func() {
		label := metrics.UnknownFirmware
		if s.gate.Has(req.FirmwareID) {
			label = req.FirmwareID
		}
		s.metrics.Downloads.WithLabelValues(label, metrics.Result(err)).Inc()
	}()

	device, err := license.ParseDevice(req.DeviceID)
	if err != nil {
		return firmware.Asset{}, err
	}

	asset, err = s.gate.Release(ctx, req.AccessToken, device, req.FirmwareID)
	if err != nil {
		if apperr.HasCode(err, apperr.UpstreamUnavailable) {
			s.log.ErrorContext(ctx, "firmware fetch failed",
				slog.String("firmware", req.FirmwareID),
				slog.String("error", err.Error()))
		}
		return firmware.Asset{}, err
	}

	s.metrics.DownloadBytes.Add(float64(len(asset.Data)))
	s.metrics.FetchSeconds.Observe(asset.FetchedIn.Seconds())

	if err := RecordDownload(asset.FirmwareID, asset.Claims.KeyDigest, device, len(asset.Data), req.RemoteIP, req.UserAgent); err != nil {
		s.log.WarnContext(ctx, "record download", slog.String("error", err.Error()))
	}
	return asset, nil
}

// VerifyCaptcha is the pass-through used by the standalone captcha endpoint.
func (s *LicenseService) VerifyCaptcha(ctx context.Context, tok, remoteIP string) (captcha.Result, error) {
	res, err := s.captcha.Verify(ctx, tok, remoteIP)
	if err != nil {
		s.log.WarnContext(ctx, "captcha verification failed", slog.String("error", err.Error()))
		return captcha.Result{}, apperr.Wrap(apperr.CaptchaFailed, "captcha verification failed", err)
	}
	return res, nil
}

func (s *LicenseService) checkCaptcha(ctx context.Context, tok, remoteIP string) error {
	if tok == "" {
		if s.captchaRequired {
			return apperr.New(apperr.CaptchaFailed, "captcha token is required")
		}
		return nil
	}
	res, err := s.VerifyCaptcha(ctx, tok, remoteIP)
	if err != nil {
		return err
	}
	if !res.Success {
		return apperr.New(apperr.CaptchaFailed, "captcha verification failed")
	}
	return nil
}

func (s *LicenseService) fail(ctx context.Context, session string) {
	if err := s.tracker.RecordFailure(ctx, session); err != nil {
		s.log.WarnContext(ctx, "record failed attempt", slog.String("error", err.Error()))
	}
}

func (s *LicenseService) syncBinding(b binding.Binding) {
	if err := s.sheets.SyncBinding(b); err != nil {
		s.log.Warn("sheet sync failed", slog.String("key", license.ShortDigest(b.KeyDigest)), slog.String("error", err.Error()))
	}
}
