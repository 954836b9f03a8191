package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "MEDIAQ"

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Log struct {
		Level string
	}
	Persistence struct {
		Backend string
		Timeout time.Duration
	}
	Database struct {
		Path string
	}
	Scheduler struct {
		MaxConcurrent int
		TickInterval  time.Duration
		CancelTimeout time.Duration
	}
	Downloader struct {
		Mode         string
		SimulateStep int
	}
	Download struct {
		DataDir string
	}
	Storage struct {
		Bucket      string
		KeyPrefix   string
		Region      string
		Endpoint    string
		SnapshotKey string
		Archive     bool
	}
	AWS struct {
		Profile string
	}
	Auth struct {
		Username        string
		JWTSecret       string
		PasswordHash    string
		TokenTTLMinutes int
	}
}

// Load reads .env, environment variables (MEDIAQ_*) and an optional
// config.{yaml,toml,json} in the working directory.
func Load() (Config, error) {
	// existing environment wins over .env
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("persistence.backend", "sqlite")
	v.SetDefault("persistence.timeout", 5*time.Second)
	v.SetDefault("database.path", "data/media-queue.db")
	v.SetDefault("scheduler.maxconcurrent", 3)
	v.SetDefault("scheduler.tickinterval", 2*time.Second)
	v.SetDefault("scheduler.canceltimeout", 10*time.Second)
	v.SetDefault("downloader.mode", "simulate")
	v.SetDefault("downloader.simulatestep", 10)
	v.SetDefault("download.datadir", "data/downloads")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "media-queue")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.snapshotkey", "media-queue/snapshot.json")
	v.SetDefault("storage.archive", false)
	v.SetDefault("aws.profile", "")
	v.SetDefault("auth.username", "admin")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.passwordhash", "")
	v.SetDefault("auth.tokenttlminutes", 720)
}

func (c Config) Validate() error {
	switch c.Persistence.Backend {
	case "sqlite", "s3":
	default:
		return fmt.Errorf("persistence.backend must be sqlite or s3, got %q", c.Persistence.Backend)
	}
	switch c.Downloader.Mode {
	case "simulate", "live":
	default:
		return fmt.Errorf("downloader.mode must be simulate or live, got %q", c.Downloader.Mode)
	}
	if c.Scheduler.MaxConcurrent <= 0 {
		return fmt.Errorf("scheduler.maxconcurrent must be positive")
	}
	if c.Persistence.Backend == "s3" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required for the s3 persistence backend")
	}
	if c.Storage.Archive && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage.archive is enabled")
	}
	if c.Auth.JWTSecret != "" && c.Auth.PasswordHash == "" {
		return fmt.Errorf("auth.passwordhash is required when auth.jwtsecret is set")
	}
	return nil
}

func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}
