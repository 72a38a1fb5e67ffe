package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// JLConfig holds the application configuration
type JLConfig struct {
	Database struct {
		Driver   string `mapstructure:"driver"` // postgres, sqlite or memory
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
		Path     string `mapstructure:"path"` // sqlite database file
	} `mapstructure:"database"`

	JobLog JobLogConfig `mapstructure:"joblog"`

	Events struct {
		Enabled  bool   `mapstructure:"enabled"`
		Host     string `mapstructure:"host"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Key      string `mapstructure:"key"`
		MaxLen   int64  `mapstructure:"max_len"`
	} `mapstructure:"events"`

	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`

	Cleanup struct {
		Cron  string `mapstructure:"cron"`
		Force bool   `mapstructure:"force"`
	} `mapstructure:"cleanup"`

	Jobs []JobConfig `mapstructure:"jobs"` // shell commands run by the scheduler

	LogLevel string `mapstructure:"log_level"`
}

// JobLogConfig holds the options the job sessions run with
type JobLogConfig struct {
	PrintToConsole    bool    `mapstructure:"print_to_console"`
	LiveUpdates       bool    `mapstructure:"live_updates"`
	Ping              bool    `mapstructure:"ping"`
	PingIntervalSec   float64 `mapstructure:"ping_interval_sec"`
	PingLeewayFactor  float64 `mapstructure:"ping_leeway_factor"`
	RunningSinceHours float64 `mapstructure:"running_since_hours"`
}

// JobConfig describes a shell command the scheduler runs as a tracked job
type JobConfig struct {
	Name       string  `mapstructure:"name"`
	Command    string  `mapstructure:"command"`
	Cron       string  `mapstructure:"cron"`
	TimeoutSec float64 `mapstructure:"timeout_sec"`
	MaxRetries int     `mapstructure:"max_retries"`
	Parallel   bool    `mapstructure:"parallel"`
}

// Timeout returns the command timeout, zero when unlimited
func (j JobConfig) Timeout() time.Duration {
	return time.Duration(j.TimeoutSec * float64(time.Second))
}

// PingInterval returns the heartbeat period
func (c JobLogConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSec * float64(time.Second))
}

// RunningSince returns the window the is-running check looks back. Zero means unbounded.
func (c JobLogConfig) RunningSince() time.Duration {
	return time.Duration(c.RunningSinceHours * float64(time.Hour))
}

// LoadConfig reads the configuration from a file or environment variables
func LoadConfig(configPaths ...string) (*JLConfig, error) {
	// can specify config path from environment
	if path, exists := os.LookupEnv("JL_CONFIG_PATH"); exists {
		configPaths = append(configPaths, path)
	}
	for _, path := range configPaths {
		fi, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, err
		}
		mode := fi.Mode()
		switch {
		case mode.IsRegular():
			v := newViper()
			v.SetConfigFile(path)
			config, err := readConfig(v, path)
			if err != nil {
				continue
			}
			return config, nil

		case mode.IsDir():
			v := newViper()
			v.AddConfigPath(path)
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			config, err := readConfig(v, path)
			if err != nil {
				continue
			}
			return config, nil
		}
	}

	v := newViper()
	// finally read from current working directory
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	cwd, _ := os.Getwd()

	config, err := readConfig(v, cwd)
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		// no config file anywhere, run on defaults and environment
		config, err = unmarshalConfig(v, cwd)
		if err != nil {
			return nil, err
		}
	}
	return config, nil
}

// newViper creates a viper instance with the default values set
func newViper() *viper.Viper {
	v := viper.New()

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "joblog")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "joblog.db")

	// Job session defaults
	v.SetDefault("joblog.print_to_console", false)
	v.SetDefault("joblog.live_updates", false)
	v.SetDefault("joblog.ping", false)
	v.SetDefault("joblog.ping_interval_sec", 10)
	v.SetDefault("joblog.ping_leeway_factor", 2)
	v.SetDefault("joblog.running_since_hours", 24)

	// Event defaults
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.host", "localhost:6379")
	v.SetDefault("events.password", "")
	v.SetDefault("events.db", 0)
	v.SetDefault("events.key", "joblog:events")
	v.SetDefault("events.max_len", 10000)

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// Cleanup defaults
	v.SetDefault("cleanup.cron", "@every 1m")
	v.SetDefault("cleanup.force", false)

	// Log level default
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("JL")                               // Prefix for environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // Replace dots with underscores in env vars
	v.AutomaticEnv()                                   // Read environment variables

	return v
}

func readConfig(v *viper.Viper, path string) (*JLConfig, error) {
	if err := v.ReadInConfig(); err != nil {
		log.Warn().
			Str("path", path).
			Msg("Could not read config file")
		return nil, err
	}
	return unmarshalConfig(v, path)
}

func unmarshalConfig(v *viper.Viper, path string) (*JLConfig, error) {
	var config JLConfig
	if err := v.Unmarshal(&config); err != nil {
		log.Warn().
			Str("path", path).
			Msg("Could not unmarshall config")
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the values that would otherwise fail late
func (c *JLConfig) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "postgres", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be one of postgres, sqlite, memory. got %q", c.Database.Driver))
	}

	if c.JobLog.Ping && c.JobLog.PingIntervalSec <= 0 {
		errs = append(errs, errors.New("joblog.ping_interval_sec must be > 0 when ping is enabled"))
	}

	if c.JobLog.RunningSinceHours < 0 {
		errs = append(errs, errors.New("joblog.running_since_hours must be >= 0"))
	}

	seen := make(map[string]bool)
	for i, job := range c.Jobs {
		switch {
		case job.Name == "":
			errs = append(errs, fmt.Errorf("jobs[%d].name is required", i))
		case seen[job.Name]:
			errs = append(errs, fmt.Errorf("jobs[%d].name %q is used twice", i, job.Name))
		}
		seen[job.Name] = true
		if job.Command == "" {
			errs = append(errs, fmt.Errorf("jobs[%d].command is required", i))
		}
		if job.Cron == "" {
			errs = append(errs, fmt.Errorf("jobs[%d].cron is required", i))
		}
	}

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	return errors.Join(errs...)
}

// GetDatabaseURL returns a formatted database connection string
func (c *JLConfig) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// Level returns the configured zerolog level, defaulting to info
func (c *JLConfig) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
