package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultDataDir     = "/data"
	DefaultKeyFileName = "hookci-encryption.key"

	DBTypeSQLite   = "sqlite"
	DBTypePostgres = "postgres"
	DBTypeFile     = "file"
)

// Config is the server configuration.
type Config struct {
	Addr         string           `mapstructure:"addr"`
	DataDir      string           `mapstructure:"data_dir"`
	PollInterval time.Duration    `mapstructure:"poll_interval"`
	Database     DatabaseConfig   `mapstructure:"database"`
	Jenkins      JenkinsConfig    `mapstructure:"jenkins"`
	GitHub       GitHubConfig     `mapstructure:"github"`
	Builds       BuildsConfig     `mapstructure:"builds"`
	Encryption   EncryptionConfig `mapstructure:"encryption"`
}

// DatabaseConfig controls the storage backend.
type DatabaseConfig struct {
	// Type is "sqlite" (default), "postgres" or "file".
	Type             string `mapstructure:"type"`
	ConnectionString string `mapstructure:"connection_string"`
}

type JenkinsConfig struct {
	URL   string `mapstructure:"url"`
	User  string `mapstructure:"user"`
	Token string `mapstructure:"token"`
	// Job overrides the derived job name on the generic webhook path.
	Job     string        `mapstructure:"job"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type GitHubConfig struct {
	// WebhookSecret enables X-Hub-Signature-256 verification when set.
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type BuildsConfig struct {
	LogLimit int `mapstructure:"log_limit"`
	// RetentionDays of 0 disables the janitor.
	RetentionDays     int    `mapstructure:"retention_days"`
	RetentionSchedule string `mapstructure:"retention_schedule"`
}

type EncryptionConfig struct {
	Key     string `mapstructure:"key"`
	KeyFile string `mapstructure:"key_file"`
}

var envBindings = map[string]string{
	"addr":                       "HOOKCI_ADDR",
	"data_dir":                   "HOOKCI_DATA_DIR",
	"poll_interval":              "HOOKCI_POLL_INTERVAL",
	"database.type":              "HOOKCI_DB_TYPE",
	"database.connection_string": "HOOKCI_DB_CONNECTION_STRING",
	"jenkins.url":                "JENKINS_URL",
	"jenkins.user":               "JENKINS_USER",
	"jenkins.token":              "JENKINS_TOKEN",
	"jenkins.job":                "JENKINS_JOB",
	"jenkins.timeout":            "HOOKCI_JENKINS_TIMEOUT",
	"github.webhook_secret":      "GITHUB_WEBHOOK_SECRET",
	"builds.log_limit":           "HOOKCI_BUILD_LOG_LIMIT",
	"builds.retention_days":      "HOOKCI_RETENTION_DAYS",
	"builds.retention_schedule":  "HOOKCI_RETENTION_SCHEDULE",
	"encryption.key":             "HOOKCI_ENCRYPTION_KEY",
	"encryption.key_file":        "HOOKCI_ENCRYPTION_KEY_FILE",
}

// Load reads configuration from defaults, an optional config file and the
// environment, in increasing order of precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	resolveDataDir(&cfg)
	if cfg.Encryption.KeyFile == "" {
		cfg.Encryption.KeyFile = filepath.Join(cfg.DataDir, DefaultKeyFileName)
	}
	cfg.Database.Type = strings.ToLower(strings.TrimSpace(cfg.Database.Type))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("poll_interval", "0s")

	v.SetDefault("database.type", DBTypeSQLite)
	v.SetDefault("database.connection_string", "")

	v.SetDefault("jenkins.url", "http://localhost:8080")
	v.SetDefault("jenkins.user", "")
	v.SetDefault("jenkins.token", "")
	v.SetDefault("jenkins.job", "")
	v.SetDefault("jenkins.timeout", "30s")

	v.SetDefault("github.webhook_secret", "")

	v.SetDefault("builds.log_limit", 100)
	v.SetDefault("builds.retention_days", 30)
	v.SetDefault("builds.retention_schedule", "@daily")

	v.SetDefault("encryption.key", "")
	v.SetDefault("encryption.key_file", "")
}

// resolveDataDir falls back to the working directory for local development
// when the default data dir does not exist.
func resolveDataDir(cfg *Config) {
	if cfg.DataDir != DefaultDataDir {
		return
	}
	if _, err := os.Stat(cfg.DataDir); os.IsNotExist(err) {
		cfg.DataDir = "."
	}
}

// Validate reports configuration errors that would prevent startup.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Type {
	case DBTypeSQLite, DBTypeFile:
	case DBTypePostgres:
		if c.Database.ConnectionString == "" {
			errs = append(errs, errors.New("HOOKCI_DB_CONNECTION_STRING is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database type %q", c.Database.Type))
	}
	if c.Builds.LogLimit <= 0 {
		errs = append(errs, fmt.Errorf("build log limit must be positive, got %d", c.Builds.LogLimit))
	}
	if c.Builds.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("retention days must not be negative, got %d", c.Builds.RetentionDays))
	}
	if c.Jenkins.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("jenkins timeout must be positive, got %s", c.Jenkins.Timeout))
	}
	if c.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("poll interval must not be negative, got %s", c.PollInterval))
	}
	return errors.Join(errs...)
}
