package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/giongaysau-stack/minizflash/internal/attempt"
	"github.com/giongaysau-stack/minizflash/internal/binding"
	"github.com/giongaysau-stack/minizflash/internal/captcha"
	"github.com/giongaysau-stack/minizflash/internal/config"
	"github.com/giongaysau-stack/minizflash/internal/database"
	"github.com/giongaysau-stack/minizflash/internal/firmware"
	"github.com/giongaysau-stack/minizflash/internal/handler"
	"github.com/giongaysau-stack/minizflash/internal/license"
	"github.com/giongaysau-stack/minizflash/internal/metrics"
	"github.com/giongaysau-stack/minizflash/internal/middleware"
	"github.com/giongaysau-stack/minizflash/internal/service"
	"github.com/giongaysau-stack/minizflash/internal/token"
	"github.com/giongaysau-stack/minizflash/internal/util"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := config.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	util.SetJWTConfig(cfg.Admin.JWTSecret, cfg.Admin.SessionTTL)

	db, err := database.InitDB(cfg.Store.SQLitePath, cfg.Admin.Username, cfg.Admin.Password, log)
	if err != nil {
		return err
	}

	keys, err := license.LoadKeySet(cfg.Keys.File)
	if err != nil {
		return fmt.Errorf("load key set: %w", err)
	}
	log.Info("key set loaded", slog.Int("keys", keys.Len()))

	// one client serves both the binding store and the attempt tracker
	var redisClient *redis.Client
	if cfg.Store.Driver == binding.DriverRedis || cfg.Attempts.Driver == attempt.DriverRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
	}

	store, err := binding.New(cfg.Store.Driver, &binding.RedisConfig{
		Prefix: cfg.Redis.Prefix,
		Client: redisClient,
	}, binding.Dependencies{SQLiteDB: db})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			log.Warn("close binding store", slog.String("error", err.Error()))
		}
	}()

	tracker, err := attempt.New(cfg.Attempts.Driver, &attempt.RedisConfig{
		Prefix: cfg.Redis.Prefix,
		Client: redisClient,
	})
	if err != nil {
		return err
	}

	tokens, err := token.NewService([]byte(cfg.Token.Secret))
	if err != nil {
		return err
	}

	catalog, err := firmware.ParseCatalog(cfg.Firmware.Catalog)
	if err != nil {
		return err
	}
	source, err := newSource(cfg.Firmware)
	if err != nil {
		return err
	}

	var verifier captcha.Verifier = captcha.Disabled{}
	if cfg.Captcha.Secret != "" {
		if verifier, err = captcha.NewTurnstile(cfg.Captcha.Secret, cfg.Captcha.VerifyURL, cfg.Captcha.Timeout); err != nil {
			return err
		}
	}

	sheets, err := service.NewSheetSyncService(cfg.Sheets.Enabled, cfg.Sheets.Credentials, cfg.Sheets.SpreadsheetID, cfg.Sheets.SheetName, log)
	if err != nil {
		return fmt.Errorf("init sheet sync: %w", err)
	}

	validator := license.NewValidator(keys)
	m := metrics.New()
	licenses, err := service.NewLicenseService(service.Deps{
		Validator:       validator,
		Store:           store,
		Tracker:         tracker,
		Tokens:          tokens,
		Gate:            firmware.NewGate(tokens, catalog, source),
		Captcha:         verifier,
		CaptchaRequired: cfg.Captcha.Required,
		Sheets:          sheets,
		Metrics:         m,
		Logger:          log,
	})
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName:               "minizflash-gate",
		BodyLimit:             cfg.Server.BodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          handler.ErrorHandler(log),
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Authorization,X-Session-ID",
	}))

	var limiter *middleware.RateLimiter
	if cfg.Server.RateRPS > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateRPS, cfg.Server.RateBurst, log)
	}

	handler.New(handler.Options{
		Licenses:  licenses,
		Store:     store,
		Validator: validator,
		Catalog:   catalog,
		Sheets:    sheets,
		Metrics:   m,
		Logger:    log,
		Limiter:   limiter,
	}).Register(app)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening",
			slog.String("addr", cfg.Server.Addr),
			slog.String("store", cfg.Store.Driver),
			slog.String("attempts", cfg.Attempts.Driver),
			slog.String("firmware_source", cfg.Firmware.Source),
			slog.Any("firmware", catalog.IDs()))
		return app.Listen(cfg.Server.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout)
	})
	return g.Wait()
}

func newSource(cfg config.FirmwareConfig) (firmware.Source, error) {
	switch cfg.Source {
	case firmware.SourceDir:
		return firmware.NewDirSource(cfg.Dir)
	case firmware.SourceGitHub:
		return firmware.NewGitHubSource(firmware.GitHubConfig{
			Repo:    cfg.GitHubRepo,
			Token:   cfg.GitHubToken,
			Ref:     cfg.GitHubRef,
			BaseURL: cfg.GitHubAPI,
			Timeout: cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported firmware source: %s", cfg.Source)
	}
}
