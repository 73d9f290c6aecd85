package model

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultSmartctl       = "smartctl"
	DefaultBadblocks      = "badblocks"
	DefaultBlockSize      = 4096
	DefaultPollInterval   = 15 * time.Second
	DefaultPollTimeout    = 4 * time.Hour
	DefaultCommandTimeout = 2 * time.Minute
	DefaultLogDir         = "/var/log/burnin"

	envPrefix = "BURNIN"
)

// Config is resolved once at startup and never mutated afterwards.
type Config struct {
	Verbose        bool          `mapstructure:"verbose" yaml:"verbose"`
	LogDir         string        `mapstructure:"log_dir" yaml:"log_dir"`
	History        string        `mapstructure:"history" yaml:"history,omitempty"` // sqlite file, empty disables
	Metrics        string        `mapstructure:"metrics" yaml:"metrics,omitempty"` // node_exporter textfile, empty disables
	Smartctl       string        `mapstructure:"smartctl" yaml:"smartctl"`
	Badblocks      string        `mapstructure:"badblocks" yaml:"badblocks"`
	BlockSize      int           `mapstructure:"block_size" yaml:"block_size"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	Poll           Poll          `mapstructure:"poll" yaml:"poll"`
}

// Poll configures waiting for asynchronous self-tests.
type Poll struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		LogDir:         DefaultLogDir,
		Smartctl:       DefaultSmartctl,
		Badblocks:      DefaultBadblocks,
		BlockSize:      DefaultBlockSize,
		CommandTimeout: DefaultCommandTimeout,
		Poll: Poll{
			Interval: DefaultPollInterval,
			Timeout:  DefaultPollTimeout,
		},
	}
}

// LoadConfig reads YAML from r on top of DefaultConfig. Environment variables
// prefixed with BURNIN_ override file values, e.g. BURNIN_POLL_TIMEOUT=6h.
func LoadConfig(r io.Reader) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := DefaultConfig()
	v.SetDefault("verbose", def.Verbose)
	v.SetDefault("log_dir", def.LogDir)
	v.SetDefault("history", def.History)
	v.SetDefault("metrics", def.Metrics)
	v.SetDefault("smartctl", def.Smartctl)
	v.SetDefault("badblocks", def.Badblocks)
	v.SetDefault("block_size", def.BlockSize)
	v.SetDefault("command_timeout", def.CommandTimeout)
	v.SetDefault("poll.interval", def.Poll.Interval)
	v.SetDefault("poll.timeout", def.Poll.Timeout)

	if r != nil {
		if err := v.ReadConfig(r); err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.LogDir == "" {
		errs = append(errs, errors.New("log_dir: must not be empty"))
	}
	if c.Smartctl == "" {
		errs = append(errs, errors.New("smartctl: must not be empty"))
	}
	if c.Badblocks == "" {
		errs = append(errs, errors.New("badblocks: must not be empty"))
	}
	if c.BlockSize <= 0 || c.BlockSize%512 != 0 {
		errs = append(errs, fmt.Errorf("block_size: %d is not a positive multiple of 512", c.BlockSize))
	}
	if c.Metrics != "" && !strings.HasSuffix(c.Metrics, ".prom") {
		errs = append(errs, fmt.Errorf("metrics: %q must end with .prom", c.Metrics))
	}
	if c.CommandTimeout < 0 {
		errs = append(errs, fmt.Errorf("command_timeout: %s is negative", c.CommandTimeout))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, fmt.Errorf("poll.interval: %s must be positive", c.Poll.Interval))
	}
	if c.Poll.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("poll.timeout: %s must be positive", c.Poll.Timeout))
	}
	return errors.Join(errs...)
}
