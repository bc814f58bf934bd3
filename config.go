package scriptcage

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"

	"github.com/cryguy/scriptcage/internal/core"
)

// Config holds the limits applied to every run and the settings of the
// default network hook. Field names double as YAML keys and, upper-cased
// under the LoadConfig prefix, as environment variables.
type Config struct {
	MemoryLimitMB     int           `yaml:"memory_limit_mb" envconfig:"MEMORY_LIMIT_MB"`
	ExecutionTimeout  time.Duration `yaml:"execution_timeout" envconfig:"EXECUTION_TIMEOUT"`
	MaxFetchRequests  int           `yaml:"max_fetch_requests" envconfig:"MAX_FETCH_REQUESTS"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout" envconfig:"FETCH_TIMEOUT"`
	MaxResponseBytes  int64         `yaml:"max_response_bytes" envconfig:"MAX_RESPONSE_BYTES"`
	MaxConsoleEntries int           `yaml:"max_console_entries" envconfig:"MAX_CONSOLE_ENTRIES"`
	WarmPool          int           `yaml:"warm_pool" envconfig:"WARM_POOL"`

	// Quiescence selects how the fetch tracker decides a script is done:
	// "polling" (grace ticks and idle rounds) or "latch" (pending count).
	Quiescence string        `yaml:"quiescence" envconfig:"QUIESCENCE"`
	GraceTick  time.Duration `yaml:"grace_tick" envconfig:"GRACE_TICK"`
	IdleRounds int           `yaml:"idle_rounds" envconfig:"IDLE_ROUNDS"`

	HTTP HTTPConfig `yaml:"http" envconfig:"HTTP"`
}

// HTTPConfig configures the default HTTPHook.
type HTTPConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second" envconfig:"RATE_PER_SECOND"` // 0 disables the limiter
	Burst         int     `yaml:"burst" envconfig:"BURST"`
	AllowPrivate  bool    `yaml:"allow_private" envconfig:"ALLOW_PRIVATE"`
	UserAgent     string  `yaml:"user_agent" envconfig:"USER_AGENT"`
	MaxRedirects  int     `yaml:"max_redirects" envconfig:"MAX_REDIRECTS"`
}

// DefaultConfig returns the library defaults.
func DefaultConfig() Config {
	return Config{
		MemoryLimitMB:     128,
		ExecutionTimeout:  30 * time.Second,
		MaxFetchRequests:  50,
		FetchTimeout:      30 * time.Second,
		MaxResponseBytes:  10 * 1024 * 1024,
		MaxConsoleEntries: core.MaxConsoleEntries,
		WarmPool:          2,
		Quiescence:        core.QuiescencePolling,
		GraceTick:         10 * time.Millisecond,
		IdleRounds:        5,
		HTTP: HTTPConfig{
			Burst:        10,
			UserAgent:    "scriptcage/1.0",
			MaxRedirects: 20,
		},
	}
}

// LoadConfig returns DefaultConfig overridden by any environment variables
// set under prefix, e.g. SCRIPTCAGE_EXECUTION_TIMEOUT=5s or
// SCRIPTCAGE_HTTP_ALLOW_PRIVATE=true.
func LoadConfig(prefix string) (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("loading config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile reads a YAML file over DefaultConfig, then applies the
// environment overrides under prefix.
func LoadConfigFile(path, prefix string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("loading config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings no run could honour.
func (c Config) Validate() error {
	switch c.Quiescence {
	case "", core.QuiescencePolling, core.QuiescenceLatch:
	default:
		return fmt.Errorf("invalid quiescence mode %q", c.Quiescence)
	}
	if c.MemoryLimitMB < 0 {
		return fmt.Errorf("memory limit must not be negative")
	}
	if c.HTTP.RatePerSecond < 0 {
		return fmt.Errorf("http rate must not be negative")
	}
	return nil
}

func (c Config) core() core.Config {
	return core.Config{
		MemoryLimitMB:     c.MemoryLimitMB,
		ExecutionTimeout:  c.ExecutionTimeout,
		MaxFetchRequests:  c.MaxFetchRequests,
		MaxResponseBytes:  c.MaxResponseBytes,
		MaxConsoleEntries: c.MaxConsoleEntries,
		WarmPool:          c.WarmPool,
		Quiescence:        c.Quiescence,
		GraceTick:         c.GraceTick,
		IdleRounds:        c.IdleRounds,
	}.WithDefaults()
}

// hookConfig derives the default HTTPHook settings.
func (c Config) hookConfig() HTTPHookConfig {
	return HTTPHookConfig{
		Timeout:       c.FetchTimeout,
		MaxBodyBytes:  c.MaxResponseBytes,
		RatePerSecond: c.HTTP.RatePerSecond,
		Burst:         c.HTTP.Burst,
		AllowPrivate:  c.HTTP.AllowPrivate,
		UserAgent:     c.HTTP.UserAgent,
		MaxRedirects:  c.HTTP.MaxRedirects,
	}
}
