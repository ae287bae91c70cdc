package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/memohai/metaeraser/internal/media"
	"github.com/memohai/metaeraser/internal/policy"
)

const (
	DefaultConfigPath     = "config.toml"
	DefaultEnvFile        = ".env"
	DefaultHTTPAddr       = ":8080"
	DefaultStagingDir     = "data/staging"
	DefaultOrphanTTL      = "1h"
	DefaultSweepSchedule  = "@every 10m"
	DefaultTransfer       = "5m"
	DefaultMinEdit        = "1s"
	DefaultMaxConcurrent  = 4
	DefaultJPEGQuality    = 95
	DefaultDocumentLimit  = 20
	DefaultImageLimit     = 10
	DefaultVideoLimit     = 20
	DefaultMusicLimit     = 20
	ConfigPathEnv         = "CONFIG_PATH"
	TokenEnv              = "TOKEN"
	TelegramTokenEnv      = "TELEGRAM_TOKEN"
	telegramTokenRequired = "telegram token is required: set telegram.token, TELEGRAM_TOKEN or TOKEN"
)

type Config struct {
	EnvFile  string         `toml:"env_file"`
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Telegram TelegramConfig `toml:"telegram"`
	Storage  StorageConfig  `toml:"storage"`
	Limits   LimitsConfig   `toml:"limits"`
	Timeouts TimeoutsConfig `toml:"timeouts"`
	Image    ImageConfig    `toml:"image"`
	Video    VideoConfig    `toml:"video"`
	Progress ProgressConfig `toml:"progress"`
	Messages MessagesConfig `toml:"messages"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

// ServerConfig controls the health endpoint. An empty Addr disables it and an
// empty JWTSecret leaves /stats and /health/checks unauthenticated.
type ServerConfig struct {
	Addr      string `toml:"addr"`
	JWTSecret string `toml:"jwt_secret"`
}

type TelegramConfig struct {
	Token       string `toml:"token" validate:"required"`
	APIEndpoint string `toml:"api_endpoint"`
}

type StorageConfig struct {
	StagingDir    string `toml:"staging_dir" validate:"required"`
	OrphanTTL     string `toml:"orphan_ttl" validate:"duration"`
	SweepSchedule string `toml:"sweep_schedule" validate:"required"`
}

// LimitsConfig holds the per-category ceilings in megabytes.
type LimitsConfig struct {
	Document      float64 `toml:"document" validate:"gt=0"`
	Image         float64 `toml:"image" validate:"gt=0"`
	Video         float64 `toml:"video" validate:"gt=0"`
	Music         float64 `toml:"music" validate:"gt=0"`
	MaxConcurrent int     `toml:"max_concurrent" validate:"gte=0"`
}

type TimeoutsConfig struct {
	Download string `toml:"download" validate:"duration"`
	Upload   string `toml:"upload" validate:"duration"`
}

type ImageConfig struct {
	JPEGQuality int `toml:"jpeg_quality" validate:"min=1,max=100"`
}

type VideoConfig struct {
	FFmpeg     string `toml:"ffmpeg" validate:"required"`
	FFprobe    string `toml:"ffprobe" validate:"required"`
	VideoCodec string `toml:"video_codec" validate:"required"`
	AudioCodec string `toml:"audio_codec" validate:"required"`
}

type ProgressConfig struct {
	MinEditInterval string `toml:"min_edit_interval" validate:"duration"`
}

// MessagesConfig points at an optional YAML file overriding reply texts.
type MessagesConfig struct {
	Path string `toml:"path"`
}

// Table returns the policy table built from the configured limits.
func (c LimitsConfig) Table() policy.Table {
	return policy.Table{
		media.CategoryDocument: c.Document,
		media.CategoryImage:    c.Image,
		media.CategoryVideo:    c.Video,
		media.CategoryMusic:    c.Music,
	}
}

func (c StorageConfig) OrphanTTLDuration() time.Duration {
	return mustDuration(c.OrphanTTL)
}

func (c TimeoutsConfig) DownloadDuration() time.Duration {
	return mustDuration(c.Download)
}

func (c TimeoutsConfig) UploadDuration() time.Duration {
	return mustDuration(c.Upload)
}

func (c ProgressConfig) MinEditDuration() time.Duration {
	return mustDuration(c.MinEditInterval)
}

// mustDuration parses a value that Load has already validated.
func mustDuration(raw string) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return d
}

// Defaults returns the configuration used when no file is present.
func Defaults() Config {
	return Config{
		EnvFile: DefaultEnvFile,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Storage: StorageConfig{
			StagingDir:    DefaultStagingDir,
			OrphanTTL:     DefaultOrphanTTL,
			SweepSchedule: DefaultSweepSchedule,
		},
		Limits: LimitsConfig{
			Document:      DefaultDocumentLimit,
			Image:         DefaultImageLimit,
			Video:         DefaultVideoLimit,
			Music:         DefaultMusicLimit,
			MaxConcurrent: DefaultMaxConcurrent,
		},
		Timeouts: TimeoutsConfig{
			Download: DefaultTransfer,
			Upload:   DefaultTransfer,
		},
		Image: ImageConfig{
			JPEGQuality: DefaultJPEGQuality,
		},
		Video: VideoConfig{
			FFmpeg:     media.DefaultFFmpegPath,
			FFprobe:    media.DefaultFFprobePath,
			VideoCodec: media.DefaultVideoCodec,
			AudioCodec: media.DefaultAudioCodec,
		},
		Progress: ProgressConfig{
			MinEditInterval: DefaultMinEdit,
		},
	}
}

// ResolvePath picks the config file: the explicit path, then CONFIG_PATH,
// then config.toml.
func ResolvePath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv(ConfigPathEnv)); env != "" {
		return env
	}
	return DefaultConfigPath
}

// Load reads the TOML file at path over the defaults, loads the env file for
// the bot token and validates the result. A missing config file is not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()
	path = ResolvePath(path)

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}

	if err := loadEnvFile(cfg.EnvFile); err != nil {
		return cfg, err
	}
	if token := envToken(); token != "" {
		cfg.Telegram.Token = token
	}
	cfg.Telegram.Token = strings.TrimSpace(cfg.Telegram.Token)

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	// godotenv.Load never overrides variables already set in the process.
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func envToken() string {
	for _, key := range []string{TelegramTokenEnv, TokenEnv} {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(strings.TrimSpace(fl.Field().String()))
		return err == nil && d > 0
	})
	return v
}

// Validate checks cfg against its struct tags.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				if fe.StructNamespace() == "Config.Telegram.Token" {
					return errors.New(telegramTokenRequired)
				}
			}
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
