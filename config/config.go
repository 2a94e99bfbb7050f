// Package config loads the service configuration from an optional YAML file,
// a .env file and CARSTUDIO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/chaos-io/carstudio/rembg"
	"github.com/chaos-io/carstudio/util"
)

const EnvPrefix = "CARSTUDIO"

type Config struct {
	Server      Server      `mapstructure:"server"`
	Log         Log         `mapstructure:"log"`
	Remover     Remover     `mapstructure:"remover"`
	Local       Local       `mapstructure:"local"`
	RemoveBG    RemoveBG    `mapstructure:"removebg"`
	AutoBG      AutoBG      `mapstructure:"autobg"`
	Templates   Templates   `mapstructure:"templates"`
	Storage     Storage     `mapstructure:"storage"`
	Limits      Limits      `mapstructure:"limits"`
	Canvas      Canvas      `mapstructure:"canvas"`
	Workers     int         `mapstructure:"workers"`
	Pipeline    Pipeline    `mapstructure:"pipeline"`
	Backgrounds Backgrounds `mapstructure:"backgrounds"`
}

type Server struct {
	Addr      string `mapstructure:"addr"`
	PublicURL string `mapstructure:"public_url"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Remover names the primary and fallback strategies: auto, local, removebg,
// autobg or none.
type Remover struct {
	Primary  string `mapstructure:"primary"`
	Fallback string `mapstructure:"fallback"`
}

type Local struct {
	Command string        `mapstructure:"command"`
	Args    []string      `mapstructure:"args"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RemoveBG struct {
	APIKey   string        `mapstructure:"api_key"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type AutoBG struct {
	APIKey       string        `mapstructure:"api_key"`
	Endpoint     string        `mapstructure:"endpoint"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Deadline     time.Duration `mapstructure:"deadline"`
	UseTemplates bool          `mapstructure:"use_templates"`
}

type Templates struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Prefix        string `mapstructure:"prefix"`
}

type Storage struct {
	Backend       string        `mapstructure:"backend"`
	Path          string        `mapstructure:"path"`
	PublicURL     string        `mapstructure:"public_url"`
	Retention     time.Duration `mapstructure:"retention"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
	Minio         Minio         `mapstructure:"minio"`
}

type Minio struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
}

type Limits struct {
	MaxUpload     int64 `mapstructure:"max_upload"`
	MaxBackground int64 `mapstructure:"max_background"`
	MaxPixels     int64 `mapstructure:"max_pixels"`
}

type Canvas struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

type Pipeline struct {
	Deadline         time.Duration `mapstructure:"deadline"`
	TemplateFallback bool          `mapstructure:"template_fallback"`
}

type Backgrounds struct {
	Dir string `mapstructure:"dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("remover.primary", "auto")
	v.SetDefault("remover.fallback", "auto")

	v.SetDefault("local.command", rembg.DefaultLocalCommand)
	v.SetDefault("local.args", rembg.DefaultLocalArgs)
	v.SetDefault("local.timeout", rembg.DefaultLocalTimeout)

	v.SetDefault("removebg.api_key", "")
	v.SetDefault("removebg.endpoint", rembg.DefaultRemoveBGEndpoint)
	v.SetDefault("removebg.timeout", rembg.DefaultRemoveBGTimeout)

	v.SetDefault("autobg.api_key", "")
	v.SetDefault("autobg.endpoint", rembg.DefaultAutoBGEndpoint)
	v.SetDefault("autobg.poll_interval", rembg.DefaultAutoBGPollInterval)
	v.SetDefault("autobg.deadline", rembg.DefaultAutoBGDeadline)
	v.SetDefault("autobg.use_templates", true)

	v.SetDefault("templates.redis_addr", "")
	v.SetDefault("templates.redis_password", "")
	v.SetDefault("templates.redis_db", 0)
	v.SetDefault("templates.prefix", rembg.DefaultBindingPrefix)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.path", "/tmp/storage")
	v.SetDefault("storage.public_url", "")
	v.SetDefault("storage.retention", 7*24*time.Hour)
	v.SetDefault("storage.sweep_schedule", "@every 1h")
	v.SetDefault("storage.minio.endpoint", "")
	v.SetDefault("storage.minio.access_key", "")
	v.SetDefault("storage.minio.secret_key", "")
	v.SetDefault("storage.minio.bucket", "carstudio")
	v.SetDefault("storage.minio.secure", true)

	v.SetDefault("limits.max_upload", util.DefaultMaxUpload)
	v.SetDefault("limits.max_background", util.DefaultMaxBackground)
	v.SetDefault("limits.max_pixels", util.DefaultMaxPixels)

	v.SetDefault("canvas.width", 1920)
	v.SetDefault("canvas.height", 1080)
	v.SetDefault("workers", 0)

	v.SetDefault("pipeline.deadline", 150*time.Second)
	v.SetDefault("pipeline.template_fallback", true)

	v.SetDefault("backgrounds.dir", "")
}

// legacyEnv lists environment names kept from earlier deployments.
var legacyEnv = map[string]string{
	"removebg.api_key":   "REMOVEBG_API_KEY",
	"autobg.api_key":     "AUTOBG_API_KEY",
	"storage.path":       "STORAGE_PATH",
	"storage.public_url": "STORAGE_URL",
}

// Load reads configuration. path may be empty, in which case ./config.yaml is
// used when present. A .env file in the working directory is loaded first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}
	return load(path)
}

func load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", legacy, err)
		}
	}

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Storage.PublicURL == "" {
		cfg.Storage.PublicURL = cfg.Server.PublicURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var problems []string

	if c.Canvas.Width <= 0 || c.Canvas.Height <= 0 {
		problems = append(problems, fmt.Sprintf("canvas size %dx%d must be positive", c.Canvas.Width, c.Canvas.Height))
	}
	if c.Limits.MaxUpload <= 0 || c.Limits.MaxBackground <= 0 || c.Limits.MaxPixels <= 0 {
		problems = append(problems, "upload limits must be positive")
	}
	if c.AutoBG.PollInterval <= 0 || c.AutoBG.PollInterval >= c.AutoBG.Deadline {
		problems = append(problems, fmt.Sprintf("autobg poll interval %s must be positive and below the deadline %s",
			c.AutoBG.PollInterval, c.AutoBG.Deadline))
	}
	if c.Pipeline.Deadline <= 0 {
		problems = append(problems, "pipeline deadline must be positive")
	}
	if c.Workers < 0 {
		problems = append(problems, "workers must not be negative")
	}
	for _, name := range []string{c.Remover.Primary, c.Remover.Fallback} {
		if _, err := parseChoice(name); err != nil {
			problems = append(problems, err.Error())
		}
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.Path == "" {
			problems = append(problems, "storage path is empty")
		}
	case "minio":
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			problems = append(problems, "minio storage needs an endpoint and a bucket")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown storage backend %q", c.Storage.Backend))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
