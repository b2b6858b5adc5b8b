// Package config loads the contact sync configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/kimhsiao/contactsync/internal/errors"
)

// EnvPrefix is the prefix of environment variables overriding config keys.
const EnvPrefix = "CONTACTSYNC"

// LogConfig configures logging output.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// SyncConfig configures the sync cycle.
type SyncConfig struct {
	// Interval between scheduled runs.
	Interval time.Duration `mapstructure:"interval"`
	// RequestDelay is the minimum spacing of consecutive remote requests.
	RequestDelay time.Duration `mapstructure:"request_delay"`
	// AccountDelay is the pause between two accounts of one run.
	AccountDelay time.Duration `mapstructure:"account_delay"`
	// DeleteThreshold is the delete count at which confirmation is required.
	// Zero disables the gate.
	DeleteThreshold int           `mapstructure:"delete_threshold"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

// S3Config configures the S3 backup store. Provider is aws, minio or r2.
type S3Config struct {
	Provider  string `mapstructure:"provider"`
	AccountID string `mapstructure:"account_id"`
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	PathStyle bool   `mapstructure:"path_style"`
	Prefix    string `mapstructure:"prefix"`
}

// BackupConfig configures pre-sync backups.
type BackupConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Dir       string   `mapstructure:"dir"`
	Retention int      `mapstructure:"retention"`
	S3        S3Config `mapstructure:"s3"`
}

// GoogleConfig holds the OAuth client used for the People API.
type GoogleConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// SecurityConfig protects stored credentials.
type SecurityConfig struct {
	// Passphrase is mixed into the token encryption key. Set it through
	// CONTACTSYNC_SECURITY_PASSPHRASE rather than the config file.
	Passphrase string `mapstructure:"passphrase"`
}

// Config is the complete service configuration.
type Config struct {
	DataDir  string         `mapstructure:"data_dir"`
	Log      LogConfig      `mapstructure:"log"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Backup   BackupConfig   `mapstructure:"backup"`
	Google   GoogleConfig   `mapstructure:"google"`
	Security SecurityConfig `mapstructure:"security"`
}

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "contactsync")
	}
	return ".contactsync"
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Sync: SyncConfig{
			Interval:        30 * time.Minute,
			RequestDelay:    200 * time.Millisecond,
			AccountDelay:    2 * time.Second,
			DeleteThreshold: 5,
			RequestTimeout:  30 * time.Second,
			MaxRetries:      3,
		},
		Backup: BackupConfig{
			Enabled:   true,
			Retention: 10,
			S3: S3Config{
				Provider: "aws",
			},
		},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("sync.interval", d.Sync.Interval)
	v.SetDefault("sync.request_delay", d.Sync.RequestDelay)
	v.SetDefault("sync.account_delay", d.Sync.AccountDelay)
	v.SetDefault("sync.delete_threshold", d.Sync.DeleteThreshold)
	v.SetDefault("sync.request_timeout", d.Sync.RequestTimeout)
	v.SetDefault("sync.max_retries", d.Sync.MaxRetries)
	v.SetDefault("backup.enabled", d.Backup.Enabled)
	v.SetDefault("backup.dir", d.Backup.Dir)
	v.SetDefault("backup.retention", d.Backup.Retention)
	v.SetDefault("backup.s3.provider", d.Backup.S3.Provider)
	v.SetDefault("backup.s3.account_id", "")
	v.SetDefault("backup.s3.endpoint", "")
	v.SetDefault("backup.s3.bucket", "")
	v.SetDefault("backup.s3.region", "")
	v.SetDefault("backup.s3.access_key", "")
	v.SetDefault("backup.s3.secret_key", "")
	v.SetDefault("backup.s3.path_style", false)
	v.SetDefault("backup.s3.prefix", "")
	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_secret", "")
	v.SetDefault("security.passphrase", "")
}

// Load reads configuration from path (optional), the environment and
// defaults, in increasing order of precedence: defaults, file, environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfig, "failed to read config file", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDataDir())
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, apperrors.Wrap(apperrors.ErrConfig, "failed to read config file", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfig, "failed to decode config", err)
	}
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = filepath.Join(cfg.DataDir, "backups")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the service cannot use.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return apperrors.New(apperrors.ErrConfig, "data_dir must be set")
	}
	if c.Sync.Interval <= 0 {
		return apperrors.New(apperrors.ErrConfig, "sync.interval must be positive")
	}
	if c.Sync.RequestDelay < 0 || c.Sync.AccountDelay < 0 {
		return apperrors.New(apperrors.ErrConfig, "sync delays must not be negative")
	}
	if c.Sync.DeleteThreshold < 0 {
		return apperrors.New(apperrors.ErrConfig, "sync.delete_threshold must not be negative")
	}
	if c.Sync.MaxRetries < 0 {
		return apperrors.New(apperrors.ErrConfig, "sync.max_retries must not be negative")
	}
	if c.Backup.Retention < 0 {
		return apperrors.New(apperrors.ErrConfig, "backup.retention must not be negative")
	}
	switch strings.ToLower(c.Backup.S3.Provider) {
	case "", "aws", "minio", "r2":
	default:
		return apperrors.Newf(apperrors.ErrConfig, "backup.s3.provider %q is not one of aws, minio, r2", c.Backup.S3.Provider)
	}
	return nil
}

// DatabasePath returns the path of the SQLite database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "contactsync.db")
}

// PhotoDir returns the directory of the photo cache.
func (c *Config) PhotoDir() string {
	return filepath.Join(c.DataDir, "photos")
}

// S3Enabled reports whether backups go to a bucket instead of Backup.Dir.
func (c *Config) S3Enabled() bool {
	return c.Backup.S3.Bucket != ""
}

// String renders the configuration without secrets.
func (c *Config) String() string {
	return fmt.Sprintf("data_dir=%s interval=%s threshold=%d backup=%v s3=%v",
		c.DataDir, c.Sync.Interval, c.Sync.DeleteThreshold, c.Backup.Enabled, c.Backup.S3.Bucket != "")
}
