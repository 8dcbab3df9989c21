package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// TimeoutConfig holds the per-phase deadlines (in seconds) for mail
// protocol operations. Every blocking network step in the connectivity
// core is bounded by one of these.
type TimeoutConfig struct {
	// ConnectSec bounds the TCP/TLS dial.
	ConnectSec int `mapstructure:"connect_sec" yaml:"connect_sec"`

	// GreetingSec bounds the wait for the server greeting after the
	// transport is up. Shorter than ConnectSec on purpose: a server
	// that accepted the socket but stays silent is effectively down.
	GreetingSec int `mapstructure:"greeting_sec" yaml:"greeting_sec"`

	// LivenessSec bounds the NOOP probe used before reusing the
	// shared session.
	LivenessSec int `mapstructure:"liveness_sec" yaml:"liveness_sec"`

	// SearchSec bounds the identifier-to-index resolution search.
	SearchSec int `mapstructure:"search_sec" yaml:"search_sec"`

	// FetchSec bounds the body fetch of a single message.
	FetchSec int `mapstructure:"fetch_sec" yaml:"fetch_sec"`

	// DeliverySec bounds one outbound transmission attempt.
	DeliverySec int `mapstructure:"delivery_sec" yaml:"delivery_sec"`

	// RetryBackoffSec is the fixed wait between retryable delivery
	// failures.
	RetryBackoffSec int `mapstructure:"retry_backoff_sec" yaml:"retry_backoff_sec"`
}

// Connect returns ConnectSec as a duration.
func (t TimeoutConfig) Connect() time.Duration { return time.Duration(t.ConnectSec) * time.Second }

// Greeting returns GreetingSec as a duration.
func (t TimeoutConfig) Greeting() time.Duration { return time.Duration(t.GreetingSec) * time.Second }

// Liveness returns LivenessSec as a duration.
func (t TimeoutConfig) Liveness() time.Duration { return time.Duration(t.LivenessSec) * time.Second }

// Search returns SearchSec as a duration.
func (t TimeoutConfig) Search() time.Duration { return time.Duration(t.SearchSec) * time.Second }

// Fetch returns FetchSec as a duration.
func (t TimeoutConfig) Fetch() time.Duration { return time.Duration(t.FetchSec) * time.Second }

// Delivery returns DeliverySec as a duration.
func (t TimeoutConfig) Delivery() time.Duration { return time.Duration(t.DeliverySec) * time.Second }

// RetryBackoff returns RetryBackoffSec as a duration.
func (t TimeoutConfig) RetryBackoff() time.Duration {
	return time.Duration(t.RetryBackoffSec) * time.Second
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	// DBPath is the SQLite database location.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`

	// PollIntervalSec is how often (in seconds) the background poller
	// refreshes the inbox.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`

	// LogLevel is the logrus level name ("debug", "info", ...).
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// AppendToSent controls whether delivered messages are copied into
	// the sent folder.
	AppendToSent bool `mapstructure:"append_to_sent" yaml:"append_to_sent"`

	// Timeouts holds the per-phase network deadlines.
	Timeouts TimeoutConfig `mapstructure:"timeouts" yaml:"timeouts"`
}

// DefaultConfigPath returns the default path for the configuration
// file, located at ~/.config/opsmail/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "opsmail", "config.yaml")
}

// defaultDBPath returns the default SQLite database location next to
// the config file.
func defaultDBPath() string {
	return filepath.Join(filepath.Dir(DefaultConfigPath()), "opsmail.db")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		DBPath:          defaultDBPath(),
		PollIntervalSec: 120,
		LogLevel:        "info",
		AppendToSent:    true,
		Timeouts: TimeoutConfig{
			ConnectSec:      15,
			GreetingSec:     5,
			LivenessSec:     5,
			SearchSec:       3,
			FetchSec:        10,
			DeliverySec:     30,
			RetryBackoffSec: 3,
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using
// Viper. If the file does not exist, it returns a default
// configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("db_path", defaultDBPath())
	v.SetDefault("poll_interval_sec", 120)
	v.SetDefault("log_level", "info")
	v.SetDefault("append_to_sent", true)
	v.SetDefault("timeouts.connect_sec", 15)
	v.SetDefault("timeouts.greeting_sec", 5)
	v.SetDefault("timeouts.liveness_sec", 5)
	v.SetDefault("timeouts.search_sec", 3)
	v.SetDefault("timeouts.fetch_sec", 10)
	v.SetDefault("timeouts.delivery_sec", 30)
	v.SetDefault("timeouts.retry_backoff_sec", 3)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("db_path", cfg.DBPath)
	v.Set("poll_interval_sec", cfg.PollIntervalSec)
	v.Set("log_level", cfg.LogLevel)
	v.Set("append_to_sent", cfg.AppendToSent)
	v.Set("timeouts", cfg.Timeouts)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
