// Package config loads foodscan settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
)

// Config is the root configuration. Every field is read from a FOODSCAN_ variable.
type Config struct {
	// Base URL of the remote classification API.
	APIBaseURL string `env:"API_URL" envDefault:"https://naija-nutri-hub.azurewebsites.net"`
	// Bearer token. Takes precedence over TokenFile.
	Token     string `env:"TOKEN"`
	TokenFile string `env:"TOKEN_FILE"`
	// Zero means no client side timeout.
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"0s"`

	MaxDimension int     `env:"MAX_DIMENSION" envDefault:"1024"`
	JPEGQuality  float64 `env:"JPEG_QUALITY" envDefault:"0.7"`

	// Empty RedisAddr keeps drafts in process memory.
	RedisAddr string        `env:"REDIS_ADDR"`
	DraftTTL  time.Duration `env:"DRAFT_TTL" envDefault:"24h"`
	// Empty DatabaseDSN disables scan history.
	DatabaseDSN string `env:"DATABASE_DSN"`

	ListenAddr     string `env:"LISTEN_ADDR" envDefault:":8080"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`

	Camera CameraConfig `envPrefix:"CAMERA_"`
	UI     UIConfig     `envPrefix:"UI_"`
}

// CameraConfig selects the local capture device.
type CameraConfig struct {
	Device string        `env:"DEVICE" envDefault:"/dev/video0"`
	FFmpeg string        `env:"FFMPEG" envDefault:"ffmpeg"`
	Warmup time.Duration `env:"WARMUP" envDefault:"1s"`
}

// UIConfig holds the cosmetic strings of the capture and result screens.
type UIConfig struct {
	Title        string `env:"TITLE" envDefault:"Scan food image"`
	CaptureLabel string `env:"CAPTURE_LABEL" envDefault:"Take Photo"`
	UploadLabel  string `env:"UPLOAD_LABEL" envDefault:"Add photos & files"`
	ScanLabel    string `env:"SCAN_LABEL" envDefault:"Scan Image"`
	FooterText   string `env:"FOOTER_TEXT"`
}

// Load reads .env when present and parses FOODSCAN_ variables into Config.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "FOODSCAN_"}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the pipeline cannot work with.
func (c Config) Validate() error {
	var errs []error
	if c.APIBaseURL == "" {
		errs = append(errs, errors.New("api url is required"))
	}
	if c.MaxDimension <= 0 {
		errs = append(errs, fmt.Errorf("max dimension must be positive, got %d", c.MaxDimension))
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 1 {
		errs = append(errs, fmt.Errorf("jpeg quality must be in (0, 1], got %v", c.JPEGQuality))
	}
	if c.HTTPTimeout < 0 {
		errs = append(errs, errors.New("http timeout must not be negative"))
	}
	return errors.Join(errs...)
}
