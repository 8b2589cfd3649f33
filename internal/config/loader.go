// Package config loads runtime settings from config.yaml and TDDF_* environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rpattn/tddf/internal/db"
	"github.com/spf13/viper"
)

// Schema source names accepted by decode.schema.source.
const (
	SchemaSourceBuiltin  = "builtin"
	SchemaSourceFile     = "file"
	SchemaSourceTemplate = "template"
	SchemaSourceDatabase = "database"
)

// Config is the full runtime configuration.
type Config struct {
	Database db.Config
	Decode   DecodeConfig
	Cache    CacheConfig
	Inbox    InboxConfig
	Log      LogConfig
}

// DecodeConfig tunes file decoding.
type DecodeConfig struct {
	BatchSize    int
	SniffLines   int
	Encoding     string
	Timezone     string
	SchemaSource string
	SchemaPath   string
}

// Location resolves the configured timezone.
func (d DecodeConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(d.Timezone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid decode.timezone %q: %w", d.Timezone, err)
	}
	return loc, nil
}

// CacheConfig tunes the monthly cache builder.
type CacheConfig struct {
	StaleRunAfter time.Duration
	RebuildOnRead bool
}

// InboxConfig locates the watched upload folder.
type InboxConfig struct {
	Folder         string
	LockStaleAfter time.Duration
}

// LogConfig selects logger level and format.
type LogConfig struct {
	Level  string
	Format string
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		Decode: DecodeConfig{
			BatchSize:    1000,
			SniffLines:   1000,
			Encoding:     "utf-8",
			Timezone:     "UTC",
			SchemaSource: SchemaSourceBuiltin,
		},
		Cache: CacheConfig{
			StaleRunAfter: 30 * time.Minute,
		},
		Inbox: InboxConfig{
			Folder:         "./tddf-inbox",
			LockStaleAfter: 30 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func setDefaults(v *viper.Viper) {
	cfg := Default()
	v.SetDefault("database.host", cfg.Database.Host)
	v.SetDefault("database.port", cfg.Database.Port)
	v.SetDefault("database.user", cfg.Database.User)
	v.SetDefault("database.password", cfg.Database.Password)
	v.SetDefault("database.dbname", cfg.Database.DBName)
	v.SetDefault("database.sslmode", cfg.Database.SSLMode)
	v.SetDefault("database.max_conns", cfg.Database.MaxConns)
	v.SetDefault("decode.batch_size", cfg.Decode.BatchSize)
	v.SetDefault("decode.sniff_lines", cfg.Decode.SniffLines)
	v.SetDefault("decode.encoding", cfg.Decode.Encoding)
	v.SetDefault("decode.timezone", cfg.Decode.Timezone)
	v.SetDefault("decode.schema.source", cfg.Decode.SchemaSource)
	v.SetDefault("decode.schema.path", cfg.Decode.SchemaPath)
	v.SetDefault("cache.stale_run_after", cfg.Cache.StaleRunAfter)
	v.SetDefault("cache.rebuild_on_read", cfg.Cache.RebuildOnRead)
	v.SetDefault("inbox.folder", cfg.Inbox.Folder)
	v.SetDefault("inbox.lock_stale_after", cfg.Inbox.LockStaleAfter)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}

// Load reads configuration. path may be a directory containing config.yaml, a
// config file, or empty to search the working directory. A missing file is not
// an error; defaults and TDDF_* environment variables still apply.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TDDF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	switch {
	case path == "":
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	case filepath.Ext(path) != "":
		v.SetConfigFile(path)
	default:
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := Config{
		Database: db.Config{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
			MaxConns: v.GetInt32("database.max_conns"),
		},
		Decode: DecodeConfig{
			BatchSize:    v.GetInt("decode.batch_size"),
			SniffLines:   v.GetInt("decode.sniff_lines"),
			Encoding:     v.GetString("decode.encoding"),
			Timezone:     v.GetString("decode.timezone"),
			SchemaSource: strings.ToLower(v.GetString("decode.schema.source")),
			SchemaPath:   v.GetString("decode.schema.path"),
		},
		Cache: CacheConfig{
			StaleRunAfter: v.GetDuration("cache.stale_run_after"),
			RebuildOnRead: v.GetBool("cache.rebuild_on_read"),
		},
		Inbox: InboxConfig{
			Folder:         v.GetString("inbox.folder"),
			LockStaleAfter: v.GetDuration("inbox.lock_stale_after"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if c.Decode.BatchSize <= 0 {
		return fmt.Errorf("decode.batch_size must be positive, got %d", c.Decode.BatchSize)
	}
	if c.Decode.SniffLines <= 0 {
		return fmt.Errorf("decode.sniff_lines must be positive, got %d", c.Decode.SniffLines)
	}
	switch c.Decode.SchemaSource {
	case SchemaSourceBuiltin, SchemaSourceDatabase:
	case SchemaSourceFile, SchemaSourceTemplate:
		if strings.TrimSpace(c.Decode.SchemaPath) == "" {
			return fmt.Errorf("decode.schema.path is required for schema source %q", c.Decode.SchemaSource)
		}
	default:
		return fmt.Errorf("unknown decode.schema.source %q", c.Decode.SchemaSource)
	}
	if _, err := c.Decode.Location(); err != nil {
		return err
	}
	if c.Cache.StaleRunAfter <= 0 {
		return fmt.Errorf("cache.stale_run_after must be positive")
	}
	return nil
}
