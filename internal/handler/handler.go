// Package handler exposes the license gate over HTTP.
package handler

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/giongaysau-stack/minizflash/internal/apperr"
	"github.com/giongaysau-stack/minizflash/internal/binding"
	"github.com/giongaysau-stack/minizflash/internal/firmware"
	"github.com/giongaysau-stack/minizflash/internal/license"
	"github.com/giongaysau-stack/minizflash/internal/metrics"
	"github.com/giongaysau-stack/minizflash/internal/middleware"
	"github.com/giongaysau-stack/minizflash/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Options struct {
	Licenses  *service.LicenseService
	Store     binding.Store
	Validator *license.Validator
	Catalog   firmware.Catalog
	Sheets    *service.SheetSyncService
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	// Limiter guards the public endpoints; nil disables it.
	Limiter *middleware.RateLimiter
}

type Handler struct {
	licenses  *service.LicenseService
	store     binding.Store
	validator *license.Validator
	catalog   firmware.Catalog
	sheets    *service.SheetSyncService
	metrics   *metrics.Metrics
	limiter   *middleware.RateLimiter
	validate  *validator.Validate
	log       *slog.Logger
	started   time.Time
}

func New(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Handler{
		licenses:  opts.Licenses,
		store:     opts.Store,
		validator: opts.Validator,
		catalog:   opts.Catalog,
		sheets:    opts.Sheets,
		metrics:   opts.Metrics,
		limiter:   opts.Limiter,
		validate:  newValidator(),
		log:       opts.Logger.With(slog.String("component", "http")),
		started:   time.Now(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("firmwareid", func(fl validator.FieldLevel) bool {
		return firmware.ValidID(fl.Field().String())
	})
	// report json names in field errors
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Register mounts every route on app.
func (h *Handler) Register(app *fiber.App) {
	app.Get("/health", h.HandleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(h.metrics.Registry, promhttp.HandlerOpts{})))

	api := app.Group("/api")
	if h.limiter != nil {
		api.Use(h.limiter.Handler())
	}
	api.Post("/validate-license", h.HandleValidateLicense)
	api.Post("/download-firmware", h.HandleDownloadFirmware)
	api.Post("/verify-captcha", h.HandleVerifyCaptcha)
	api.Post("/verify-turnstile", h.HandleVerifyCaptcha)

	admin := api.Group("/admin")
	admin.Post("/login", h.HandleUserLogin)

	auth, adminOnly := middleware.Auth(), middleware.AdminOnly()
	admin.Get("/me", auth, adminOnly, HandleUserInfo)
	admin.Post("/change-password", auth, adminOnly, HandleChangePassword)
	admin.Get("/login-logs", auth, adminOnly, HandleGetLoginLogs)
	admin.Get("/logs", auth, adminOnly, HandleGetLogs)
	admin.Get("/logs/mine", auth, adminOnly, HandleGetUserLogs)
	admin.Get("/downloads", auth, adminOnly, HandleGetDownloads)
	admin.Get("/statistics", auth, adminOnly, h.HandleStatistics)
	admin.Get("/bindings", auth, adminOnly, h.HandleListBindings)
	admin.Post("/bindings/lookup", auth, adminOnly, h.HandleLookupBinding)
	admin.Post("/bindings/unbind", auth, adminOnly, h.HandleUnbind)
	admin.Post("/bindings/export", auth, adminOnly, h.HandleExportBindings)
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// bind decodes the JSON body into out and validates it. Failures are
// InvalidRequest and never reach business logic.
func (h *Handler) bind(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return apperr.Wrap(apperr.InvalidRequest, "request body must be a JSON object", err)
	}
	if err := h.validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return apperr.Wrap(apperr.InvalidRequest, "invalid request", err)
		}
		fields := make([]fieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fieldError{Field: fe.Field(), Message: validationMessage(fe)})
		}
		return &validationError{fields: fields}
	}
	return nil
}

type validationError struct {
	fields []fieldError
}

func (e *validationError) Error() string { return "validation failed" }

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	case "firmwareid":
		return fe.Field() + " must be 1-64 letters, digits, '-' or '_'"
	default:
		return fe.Field() + " is invalid"
	}
}

// respondError writes err using the stable error body. Only the message and
// redacted hint of a taxonomy error are exposed. extra is merged into the body.
func (h *Handler) respondError(c *fiber.Ctx, err error, extra ...fiber.Map) error {
	status, body := h.errorBody(c, err)
	for _, m := range extra {
		for k, v := range m {
			body[k] = v
		}
	}
	return c.Status(status).JSON(body)
}

func (h *Handler) errorBody(c *fiber.Ctx, err error) (int, fiber.Map) {
	var verr *validationError
	if errors.As(err, &verr) {
		return apperr.InvalidRequest.Status(), fiber.Map{
			"error":   apperr.InvalidRequest,
			"message": "invalid request",
			"errors":  verr.fields,
		}
	}

	var ae *apperr.Error
	if !errors.As(err, &ae) {
		h.log.Error("unhandled error", slog.String("path", c.Path()), slog.String("error", err.Error()))
		return fiber.StatusInternalServerError, fiber.Map{
			"error":   "Internal",
			"message": "internal server error",
		}
	}

	body := fiber.Map{
		"error":   ae.Code,
		"message": ae.Message,
	}
	if ae.Hint != "" {
		body["boundDeviceHint"] = ae.Hint
	}
	return ae.Code.Status(), body
}

// ErrorHandler renders errors that escape handlers, such as unknown routes
// or oversized bodies.
func ErrorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		msg := "internal server error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			msg = fe.Message
		} else {
			log.Error("request failed", slog.String("path", c.Path()), slog.String("error", err.Error()))
		}
		return c.Status(code).JSON(fiber.Map{
			"error": msg,
		})
	}
}

// sessionID keys the attempt tracker: the client-supplied session header
// when present, otherwise the client address.
func sessionID(c *fiber.Ctx) string {
	if s := strings.TrimSpace(c.Get("X-Session-ID")); s != "" && len(s) <= 128 {
		return "sid:" + s
	}
	return "ip:" + c.IP()
}
