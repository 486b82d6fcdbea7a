package config

import (
	"fmt"
	"time"

	"github.com/Veraticus/finz/internal/common"
	"github.com/Veraticus/finz/internal/reminders"
	"github.com/Veraticus/finz/internal/sweep"
	"github.com/spf13/viper"
)

// Config is the typed view of the finz configuration.
type Config struct {
	// Account is the default account for commands run without --account.
	Account   string          `mapstructure:"account"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	Reminders RemindersConfig `mapstructure:"reminders"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig controls the global logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SweepConfig controls the periodic sweep.
type SweepConfig struct {
	Schedule string `mapstructure:"schedule"`
	Timezone string `mapstructure:"timezone"`
	Workers  int    `mapstructure:"workers"`
}

// RemindersConfig controls reminder rules. Schedules maps rule names to
// cron specs; an empty spec disables the rule.
type RemindersConfig struct {
	Schedules       map[string]string `mapstructure:"schedules"`
	LowBalanceRatio float64           `mapstructure:"low_balance_ratio"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("account", "")
	v.SetDefault("database.path", DefaultDatabasePath())
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("sweep.schedule", sweep.DefaultSweepSpec)
	v.SetDefault("sweep.timezone", "Local")
	v.SetDefault("sweep.workers", sweep.DefaultWorkers)
	v.SetDefault("reminders.low_balance_ratio", reminders.DefaultLowBalanceRatio)
	for name, spec := range sweep.DefaultReminderSpecs() {
		v.SetDefault("reminders.schedules."+name, spec)
	}
}

// Load reads the typed configuration from v, applying defaults for anything
// unset, and validates it.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}
	cfg.Database.Path = ExpandPath(cfg.Database.Path)

	if _, err := common.ParseLevel(cfg.Logging.Level); err != nil {
		return nil, err
	}
	if cfg.Sweep.Workers < 1 {
		return nil, fmt.Errorf("%w: sweep.workers must be at least 1", common.ErrInvalidConfig)
	}
	if cfg.Reminders.LowBalanceRatio <= 0 || cfg.Reminders.LowBalanceRatio > 1 {
		return nil, fmt.Errorf("%w: reminders.low_balance_ratio must be in (0, 1]", common.ErrInvalidConfig)
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Location resolves the sweep timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Sweep.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: sweep.timezone: %w", common.ErrInvalidConfig, err)
	}
	return loc, nil
}

// Schedule builds the scheduler specs from the configuration.
func (c *Config) Schedule() (sweep.Schedule, error) {
	loc, err := c.Location()
	if err != nil {
		return sweep.Schedule{}, err
	}
	return sweep.Schedule{
		Location:  loc,
		Sweep:     c.Sweep.Schedule,
		Reminders: c.Reminders.Schedules,
	}, nil
}
