package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables; "__" separates nested keys,
// e.g. COLOR_API_SERVER__PORT=9000 sets server.port.
const EnvPrefix = "COLOR_API_"

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Admin    AdminConfig    `koanf:"admin"`
	Model    ModelConfig    `koanf:"model"`
	Decoder  DecoderConfig  `koanf:"decoder"`
	Features FeaturesConfig `koanf:"features"`
	Log      LogConfig      `koanf:"log"`
}

type ServerConfig struct {
	Address         string        `koanf:"address"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// AdminConfig configures the listener for health, readiness and metrics.
// Port 0 disables it.
type AdminConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

type ModelConfig struct {
	Path           string `koanf:"path"`
	MetadataPath   string `koanf:"metadata_path"`
	RuntimeLibrary string `koanf:"runtime_library"`
}

// DecoderConfig bounds the work done on untrusted image payloads.
type DecoderConfig struct {
	// MaxPixels rejects images whose header declares more pixels than this,
	// before any pixel buffer is allocated.
	MaxPixels int `koanf:"max_pixels"`
}

type FeaturesConfig struct {
	ChannelOrder string `koanf:"channel_order"`
	MaxDimension int    `koanf:"max_dimension"`
}

type LogConfig struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxAgeDays int    `koanf:"max_age_days"`
	MaxBackups int    `koanf:"max_backups"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    10 << 20,
			CORSOrigins:     []string{"*"},
		},
		Admin: AdminConfig{
			Port: 9090,
		},
		Model: ModelConfig{
			Path:         "models/model.onnx",
			MetadataPath: "models/model_metadata.json",
		},
		Decoder: DecoderConfig{
			MaxPixels: 40_000_000,
		},
		Features: FeaturesConfig{
			ChannelOrder: "rgb",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxAgeDays: 7,
			MaxBackups: 3,
		},
	}
}

// Load layers defaults, the optional YAML file at path, a .env file in the
// working directory and COLOR_API_* environment variables, in that order.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Admin.Port < 0 || c.Admin.Port > 65535 {
		return fmt.Errorf("admin.port out of range: %d", c.Admin.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive, got %d", c.Server.MaxBodyBytes)
	}
	if c.Model.Path == "" {
		return errors.New("model.path is required")
	}
	if c.Model.MetadataPath == "" {
		return errors.New("model.metadata_path is required")
	}
	if c.Decoder.MaxPixels <= 0 {
		return fmt.Errorf("decoder.max_pixels must be positive, got %d", c.Decoder.MaxPixels)
	}
	switch strings.ToLower(c.Features.ChannelOrder) {
	case "rgb", "bgr":
	default:
		return fmt.Errorf("features.channel_order must be rgb or bgr, got %q", c.Features.ChannelOrder)
	}
	if c.Features.MaxDimension < 0 {
		return fmt.Errorf("features.max_dimension must not be negative, got %d", c.Features.MaxDimension)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	return nil
}
