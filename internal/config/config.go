package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jask/budgetcore/internal/remote"
)

// Config holds application configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	User      UserConfig      `mapstructure:"user"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Delete    DeleteConfig    `mapstructure:"delete"`
	Import    ImportConfig    `mapstructure:"import"`
	Log       LogConfig       `mapstructure:"log"`
	Worker    WorkerConfig    `mapstructure:"worker"`
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

// UserConfig identifies the signed-in user.
type UserConfig struct {
	ID string `mapstructure:"id"`
}

// RemoteConfig selects and addresses the remote document store.
type RemoteConfig struct {
	Driver            string `mapstructure:"driver"`
	Region            string `mapstructure:"region"`
	Endpoint          string `mapstructure:"endpoint"`
	TransactionsTable string `mapstructure:"transactions_table"`
	BalancesTable     string `mapstructure:"balances_table"`
	VotesTable        string `mapstructure:"votes_table"`
}

// SchedulerConfig selects how notifications and background tasks are relayed.
type SchedulerConfig struct {
	Driver              string `mapstructure:"driver"`
	QueueURL            string `mapstructure:"queue_url"`
	BackgroundAvailable bool   `mapstructure:"background_available"`
}

// SyncConfig tunes the sync queue.
type SyncConfig struct {
	BatchSize        int           `mapstructure:"batch_size"`
	BatchDelay       time.Duration `mapstructure:"batch_delay"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	RateLimitBackoff time.Duration `mapstructure:"rate_limit_backoff"`
	PurgeAfter       time.Duration `mapstructure:"purge_after"`
	LeaseTimeout     time.Duration `mapstructure:"lease_timeout"`
}

// DeleteConfig tunes the delete queue.
type DeleteConfig struct {
	BatchSize        int           `mapstructure:"batch_size"`
	ItemDelay        time.Duration `mapstructure:"item_delay"`
	BatchDelay       time.Duration `mapstructure:"batch_delay"`
	RateLimitBackoff time.Duration `mapstructure:"rate_limit_backoff"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	LeaseTimeout     time.Duration `mapstructure:"lease_timeout"`
}

// ImportConfig holds CSV import settings.
type ImportConfig struct {
	Timezone       string        `mapstructure:"timezone"`
	TransferWindow time.Duration `mapstructure:"transfer_window"`
	RulesFile      string        `mapstructure:"rules_file"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// WorkerConfig holds settings for the long-running worker.
type WorkerConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MetricsAddr string        `mapstructure:"metrics_addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "budgetcore", "budgetcore.db"))
	v.SetDefault("database.migrations_path", "")
	v.SetDefault("user.id", "")
	v.SetDefault("remote.driver", "dynamodb")
	v.SetDefault("remote.region", "eu-west-1")
	v.SetDefault("remote.endpoint", "")
	v.SetDefault("remote.transactions_table", "")
	v.SetDefault("remote.balances_table", "")
	v.SetDefault("remote.votes_table", "")
	v.SetDefault("scheduler.driver", "local")
	v.SetDefault("scheduler.queue_url", "")
	v.SetDefault("scheduler.background_available", true)
	v.SetDefault("sync.batch_size", 2)
	v.SetDefault("sync.batch_delay", 2*time.Second)
	v.SetDefault("sync.max_attempts", 5)
	v.SetDefault("sync.rate_limit_backoff", 10*time.Second)
	v.SetDefault("sync.purge_after", 10*time.Second)
	v.SetDefault("sync.lease_timeout", 2*time.Minute)
	v.SetDefault("delete.batch_size", 25)
	v.SetDefault("delete.item_delay", 500*time.Millisecond)
	v.SetDefault("delete.batch_delay", 2*time.Second)
	v.SetDefault("delete.rate_limit_backoff", 10*time.Second)
	v.SetDefault("delete.poll_interval", time.Second)
	v.SetDefault("delete.lease_timeout", 2*time.Minute)
	v.SetDefault("import.timezone", "Europe/Dublin")
	v.SetDefault("import.transfer_window", 72*time.Hour)
	v.SetDefault("import.rules_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
	v.SetDefault("worker.interval", 15*time.Minute)
	v.SetDefault("worker.metrics_addr", ":9090")
}

// Load reads configuration from file and env. Env var overrides use prefix BUDGETCORE_.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("BUDGETCORE_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "budgetcore"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("BUDGETCORE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

// Validate reports configuration that makes the remote unusable.
func (c Config) Validate() error {
	if c.User.ID == "" {
		return fmt.Errorf("user.id is not set")
	}
	switch c.Remote.Driver {
	case "memory":
	case "dynamodb":
		if c.Remote.TransactionsTable == "" || c.Remote.BalancesTable == "" || c.Remote.VotesTable == "" {
			return fmt.Errorf("remote tables not configured: %w", remote.ErrUnconfigured)
		}
	default:
		return fmt.Errorf("unknown remote driver %q", c.Remote.Driver)
	}
	if c.Scheduler.Driver == "sqs" && c.Scheduler.QueueURL == "" {
		return fmt.Errorf("scheduler.queue_url is required for the sqs driver")
	}
	return nil
}

// Location resolves the import timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	if c.Import.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Import.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Save writes the provided config to disk, creating the config directory if needed.
// Table names and the queue URL are written too; none of them are secrets.
func Save(cfg Config) error {
	path := os.Getenv("BUDGETCORE_CONFIG")
	if path == "" {
		path = filepath.Join(os.Getenv("HOME"), ".config", "budgetcore", "config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("database.path", cfg.Database.Path)
	v.Set("user.id", cfg.User.ID)
	v.Set("remote.driver", cfg.Remote.Driver)
	v.Set("remote.region", cfg.Remote.Region)
	v.Set("remote.endpoint", cfg.Remote.Endpoint)
	v.Set("remote.transactions_table", cfg.Remote.TransactionsTable)
	v.Set("remote.balances_table", cfg.Remote.BalancesTable)
	v.Set("remote.votes_table", cfg.Remote.VotesTable)
	v.Set("scheduler.driver", cfg.Scheduler.Driver)
	v.Set("scheduler.queue_url", cfg.Scheduler.QueueURL)
	v.Set("import.timezone", cfg.Import.Timezone)
	v.Set("import.rules_file", cfg.Import.RulesFile)
	v.Set("log.level", cfg.Log.Level)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
