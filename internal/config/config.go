// Package config holds taskweaver's settings, read through viper from
// taskweaver.yaml and TASKWEAVER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// TASKWEAVER_RUN_MAX_WORKERS.
const EnvPrefix = "TASKWEAVER"

// DefaultFileName is looked up in the working directory when no --config is given.
const DefaultFileName = "taskweaver"

// Config is the complete taskweaver configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Run     RunConfig     `mapstructure:"run"`
	SMTP    SMTPConfig    `mapstructure:"smtp"`
	Report  ReportConfig  `mapstructure:"report"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LogConfig controls the process logger and per-task log files.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Format is "text" or "json" (default: "text")
	Format string `mapstructure:"format"`
	// Dir is prepended to relative task log paths (default: current directory)
	Dir string `mapstructure:"dir"`
	// MaxSizeMB rotates a task log once it reaches this size; 0 disables rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated files kept (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated files
	Compress bool `mapstructure:"compress"`
}

// RunConfig selects the execution mode.
type RunConfig struct {
	// Mode is "auto", "sequential" or "parallel" (default: "auto")
	Mode string `mapstructure:"mode"`
	// MaxWorkers bounds concurrently running tasks in parallel mode (default: 4)
	MaxWorkers int `mapstructure:"max_workers"`
}

// SMTPConfig configures failure e-mails. Tasks opt in per task with notify: true.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	From     string        `mapstructure:"from"`
	To       []string      `mapstructure:"to"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	StartTLS bool          `mapstructure:"starttls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ReportConfig controls where run reports are stored. An empty Dir disables them.
type ReportConfig struct {
	Dir string `mapstructure:"dir"`
}

// MetricsConfig controls the Prometheus textfile export. An empty Textfile disables it.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// Run modes.
const (
	ModeAuto       = "auto"
	ModeSequential = "sequential"
	ModeParallel   = "parallel"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Run: RunConfig{
			Mode:       ModeAuto,
			MaxWorkers: 4,
		},
		SMTP: SMTPConfig{
			Host:     "localhost",
			Port:     25,
			StartTLS: true,
			Timeout:  30 * time.Second,
		},
		Report: ReportConfig{
			Dir: ".taskweaver/runs",
		},
	}
}

// SetDefaults registers default values with v.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
	v.SetDefault("log.dir", defaults.Log.Dir)
	v.SetDefault("log.max_size_mb", defaults.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", defaults.Log.MaxBackups)
	v.SetDefault("log.compress", defaults.Log.Compress)

	v.SetDefault("run.mode", defaults.Run.Mode)
	v.SetDefault("run.max_workers", defaults.Run.MaxWorkers)

	v.SetDefault("smtp.enabled", defaults.SMTP.Enabled)
	v.SetDefault("smtp.host", defaults.SMTP.Host)
	v.SetDefault("smtp.port", defaults.SMTP.Port)
	v.SetDefault("smtp.from", defaults.SMTP.From)
	v.SetDefault("smtp.to", defaults.SMTP.To)
	v.SetDefault("smtp.username", defaults.SMTP.Username)
	v.SetDefault("smtp.password", defaults.SMTP.Password)
	v.SetDefault("smtp.starttls", defaults.SMTP.StartTLS)
	v.SetDefault("smtp.timeout", defaults.SMTP.Timeout)

	v.SetDefault("report.dir", defaults.Report.Dir)
	v.SetDefault("metrics.textfile", defaults.Metrics.Textfile)
}

// NewViper returns a viper instance with defaults and environment overrides
// registered and, when present, the config file read.
//
// An explicit file must exist. Without one, ./taskweaver.yaml is used if it
// exists and silently skipped otherwise.
func NewViper(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(DefaultFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// Load reads the configuration from v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ValidRunModes returns the accepted run.mode values.
func ValidRunModes() []string {
	return []string{ModeAuto, ModeSequential, ModeParallel}
}
