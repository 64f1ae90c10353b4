package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/garyjia/invoice-workflow/pkg/database"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// WorkflowConfig holds workflow engine configuration
type WorkflowConfig struct {
	// LockTimeout bounds waiting for an invoice lock when the caller set no deadline
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// SweeperConfig holds overdue sweeper scheduling
type SweeperConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	RunTimeout time.Duration `mapstructure:"run_timeout"`
	RunOnStart bool          `mapstructure:"run_on_start"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// DatabaseOptions converts the section into pkg/database options
func (c DatabaseConfig) DatabaseOptions() (database.Config, error) {
	driver, err := database.ParseDriver(c.Driver)
	if err != nil {
		return database.Config{}, err
	}
	return database.Config{
		Driver:          driver,
		Path:            c.Path,
		DSN:             c.DSN,
		BusyTimeout:     c.BusyTimeout,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}, nil
}

// Load loads configuration from an optional YAML file, a .env file in the
// working directory, and environment variables, in increasing precedence
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("INVOICED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv sets variables from path without overriding the real environment
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.path", "data/invoices.db")
	v.SetDefault("database.busy_timeout", 5*time.Second)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	// Workflow defaults
	v.SetDefault("workflow.lock_timeout", 5*time.Second)

	// Sweeper defaults
	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.interval", 15*time.Minute)
	v.SetDefault("sweeper.run_timeout", 2*time.Minute)
	v.SetDefault("sweeper.run_on_start", true)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds the conventional unprefixed variables
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("database.dsn", "INVOICED_DATABASE_DSN", "DATABASE_URL")
	_ = v.BindEnv("database.driver", "INVOICED_DATABASE_DRIVER", "DATABASE_DRIVER")
	_ = v.BindEnv("logger.level", "INVOICED_LOGGER_LEVEL", "LOG_LEVEL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	driver, err := database.ParseDriver(c.Database.Driver)
	if err != nil {
		return err
	}

	switch driver {
	case database.DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case database.DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn (or DATABASE_URL) is required for postgres")
		}
	}

	if c.Workflow.LockTimeout <= 0 {
		return fmt.Errorf("workflow.lock_timeout must be positive")
	}

	if c.Sweeper.Enabled {
		if c.Sweeper.Interval <= 0 {
			return fmt.Errorf("sweeper.interval must be positive")
		}
		if c.Sweeper.RunTimeout <= 0 {
			return fmt.Errorf("sweeper.run_timeout must be positive")
		}
	}

	return nil
}
