// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix of every environment variable, e.g. MZGATE_TOKEN_SECRET.
const Prefix = "MZGATE"

type Config struct {
	Server   ServerConfig   `envconfig:"SERVER"`
	Store    StoreConfig    `envconfig:"STORE"`
	Redis    RedisConfig    `envconfig:"REDIS"`
	Attempts AttemptsConfig `envconfig:"ATTEMPTS"`
	Token    TokenConfig    `envconfig:"TOKEN"`
	Keys     KeysConfig     `envconfig:"KEYS"`
	Firmware FirmwareConfig `envconfig:"FIRMWARE"`
	Captcha  CaptchaConfig  `envconfig:"CAPTCHA"`
	Admin    AdminConfig    `envconfig:"ADMIN"`
	Sheets   SheetsConfig   `envconfig:"SHEETS"`
	Log      LogConfig      `envconfig:"LOG"`
}

type ServerConfig struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS" default:"*"`
	RateRPS         float64       `envconfig:"RATE_RPS" default:"5"`
	RateBurst       int           `envconfig:"RATE_BURST" default:"20"`
	BodyLimit       int           `envconfig:"BODY_LIMIT" default:"65536"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

type StoreConfig struct {
	Driver     string `envconfig:"DRIVER" default:"sqlite"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"data/license.db"`
}

type RedisConfig struct {
	Addr     string `envconfig:"ADDR" default:"localhost:6379"`
	Username string `envconfig:"USERNAME"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
	Prefix   string `envconfig:"PREFIX" default:"mzgate:"`
}

type AttemptsConfig struct {
	Driver string `envconfig:"DRIVER" default:"memory"`
}

type TokenConfig struct {
	Secret string `envconfig:"SECRET"`
}

type KeysConfig struct {
	File string `envconfig:"FILE" default:"keys.yaml"`
}

type FirmwareConfig struct {
	Source string `envconfig:"SOURCE" default:"github"`
	// Catalog maps firmware ids to repository paths: id:path,id:path.
	Catalog     map[string]string `envconfig:"CATALOG"`
	GitHubRepo  string            `envconfig:"GITHUB_REPO"`
	GitHubToken string            `envconfig:"GITHUB_TOKEN"`
	GitHubAPI   string            `envconfig:"GITHUB_API" default:"https://api.github.com"`
	GitHubRef   string            `envconfig:"GITHUB_REF"`
	Dir         string            `envconfig:"DIR"`
	Timeout     time.Duration     `envconfig:"TIMEOUT" default:"30s"`
}

type CaptchaConfig struct {
	Secret    string        `envconfig:"SECRET"`
	VerifyURL string        `envconfig:"VERIFY_URL" default:"https://challenges.cloudflare.com/turnstile/v0/siteverify"`
	Required  bool          `envconfig:"REQUIRED" default:"false"`
	Timeout   time.Duration `envconfig:"TIMEOUT" default:"10s"`
}

type AdminConfig struct {
	Username   string        `envconfig:"USERNAME" default:"admin"`
	Password   string        `envconfig:"PASSWORD"`
	JWTSecret  string        `envconfig:"JWT_SECRET"`
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"12h"`
}

type SheetsConfig struct {
	Enabled       bool   `envconfig:"ENABLED" default:"false"`
	Credentials   string `envconfig:"CREDENTIALS" default:"credentials.json"`
	SpreadsheetID string `envconfig:"SPREADSHEET_ID"`
	SheetName     string `envconfig:"SHEET_NAME" default:"Bindings"`
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"`
}

// Load reads dotenv files (".env" when none are given; a missing file is not
// an error), decodes the environment and validates the result.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load dotenv: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func oneOf(name, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", name, strings.Join(allowed, "|"), v)
}

func (c *Config) validate() error {
	if len(c.Token.Secret) < 32 {
		return errors.New("TOKEN_SECRET must be at least 32 bytes")
	}
	if err := oneOf("STORE_DRIVER", c.Store.Driver, "sqlite", "redis", "memory"); err != nil {
		return err
	}
	if c.Store.SQLitePath == "" {
		return errors.New("STORE_SQLITE_PATH is required for the audit database")
	}
	if err := oneOf("ATTEMPTS_DRIVER", c.Attempts.Driver, "memory", "redis"); err != nil {
		return err
	}
	if c.Keys.File == "" {
		return errors.New("KEYS_FILE is required")
	}

	if len(c.Firmware.Catalog) == 0 {
		return errors.New("FIRMWARE_CATALOG must list at least one id:path pair")
	}
	switch c.Firmware.Source {
	case "github":
		if c.Firmware.GitHubRepo == "" || c.Firmware.GitHubToken == "" {
			return errors.New("FIRMWARE_GITHUB_REPO and FIRMWARE_GITHUB_TOKEN are required for the github source")
		}
	case "dir":
		if c.Firmware.Dir == "" {
			return errors.New("FIRMWARE_DIR is required for the dir source")
		}
	default:
		return oneOf("FIRMWARE_SOURCE", c.Firmware.Source, "github", "dir")
	}

	if c.Captcha.Required && c.Captcha.Secret == "" {
		return errors.New("CAPTCHA_REQUIRED needs CAPTCHA_SECRET")
	}
	if c.Admin.Password != "" && len(c.Admin.JWTSecret) < 32 {
		return errors.New("ADMIN_JWT_SECRET must be at least 32 bytes when the admin API is enabled")
	}
	if c.Sheets.Enabled && c.Sheets.SpreadsheetID == "" {
		return errors.New("SHEETS_SPREADSHEET_ID is required when sheet sync is enabled")
	}
	if c.Server.RateRPS < 0 || c.Server.RateBurst < 0 {
		return errors.New("SERVER_RATE_RPS and SERVER_RATE_BURST must not be negative")
	}
	return oneOf("LOG_FORMAT", c.Log.Format, "json", "text")
}

// NewLogger builds the process logger described by c.
func NewLogger(c LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
