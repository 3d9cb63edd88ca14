package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig             `yaml:"server"`
	Admin   AdminConfig              `yaml:"admin"`
	Limits  map[string]CategoryLimit `yaml:"limits"`
	Logging LoggingConfig            `yaml:"logging"`
	Tracing TracingConfig            `yaml:"tracing"`
}

type ServerConfig struct {
	Listen            string `yaml:"listen"`
	UpstreamURL       string `yaml:"upstream_url"`
	DBPath            string `yaml:"db_path"`
	TrustForwardedFor bool   `yaml:"trust_forwarded_for"`
	UserHeader        string `yaml:"user_header"`
	ShutdownTimeoutS  int    `yaml:"shutdown_timeout_s"`
}

type AdminConfig struct {
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`
}

// CategoryLimit is the static rate-limit rule for one traffic category.
type CategoryLimit struct {
	WindowMs             int `yaml:"window_ms"`
	MaxRequests          int `yaml:"max_requests"`
	BlockDurationMinutes int `yaml:"block_duration_min"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	JSON          bool   `yaml:"json"`
	HumanReadable bool   `yaml:"human_readable"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
	LogSpans    bool    `yaml:"log_spans"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:            ":8080",
			UpstreamURL:       "",
			DBPath:            "gatekeep.db",
			TrustForwardedFor: true,
			UserHeader:        "X-Authenticated-User",
			ShutdownTimeoutS:  10,
		},
		Limits: map[string]CategoryLimit{
			"auth":    {WindowMs: 60000, MaxRequests: 20, BlockDurationMinutes: 30},
			"public":  {WindowMs: 60000, MaxRequests: 60, BlockDurationMinutes: 15},
			"partner": {WindowMs: 60000, MaxRequests: 40, BlockDurationMinutes: 20},
			"admin":   {WindowMs: 60000, MaxRequests: 100, BlockDurationMinutes: 10},
		},
		Logging: LoggingConfig{
			Level:         "info",
			JSON:          false,
			HumanReadable: true,
		},
		Tracing: TracingConfig{
			Endpoint:    "",
			Insecure:    false,
			SampleRatio: 1,
			LogSpans:    false,
		},
	}
}

// Load reads config from file with env var overrides. Categories missing from
// the file keep their defaults; a file is optional.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	if listen := os.Getenv("GATEKEEP_LISTEN"); listen != "" {
		cfg.Server.Listen = listen
	}
	if upstream := os.Getenv("GATEKEEP_UPSTREAM_URL"); upstream != "" {
		cfg.Server.UpstreamURL = upstream
	}
	if dbPath := os.Getenv("GATEKEEP_DB_PATH"); dbPath != "" {
		cfg.Server.DBPath = dbPath
	}
	if token := os.Getenv("GATEKEEP_ADMIN_TOKEN"); token != "" {
		cfg.Admin.Token = token
	}
	if level := os.Getenv("GATEKEEP_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	for name, limit := range DefaultConfig().Limits {
		if _, ok := cfg.Limits[name]; !ok {
			if cfg.Limits == nil {
				cfg.Limits = make(map[string]CategoryLimit)
			}
			cfg.Limits[name] = limit
		}
	}

	return cfg, nil
}

// LimitFor returns the rule for a category name, falling back to public.
func (c *Config) LimitFor(category string) CategoryLimit {
	if limit, ok := c.Limits[category]; ok {
		return limit
	}
	return c.Limits["public"]
}

// AdminToken resolves the admin bearer token, preferring the inline value
// over the token file.
func (c *Config) AdminToken() (string, error) {
	if c.Admin.Token != "" {
		return c.Admin.Token, nil
	}
	if c.Admin.TokenFile != "" {
		data, err := os.ReadFile(c.Admin.TokenFile)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return "", nil
}

func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return ErrMissingListen
	}
	if len(c.Limits) == 0 {
		return ErrNoLimits
	}
	for name, limit := range c.Limits {
		if limit.MaxRequests < 1 {
			return &Error{fmt.Sprintf("limit %q: max_requests must be >= 1", name)}
		}
		if limit.WindowMs <= 0 {
			return &Error{fmt.Sprintf("limit %q: window_ms must be > 0", name)}
		}
		if limit.BlockDurationMinutes < 0 {
			return &Error{fmt.Sprintf("limit %q: block_duration_min must be >= 0", name)}
		}
	}
	if _, ok := c.Limits["public"]; !ok {
		return &Error{"limits must include the public category"}
	}
	if c.Server.ShutdownTimeoutS <= 0 {
		c.Server.ShutdownTimeoutS = 10
	}
	if c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1 {
		c.Tracing.SampleRatio = 1
	}
	return nil
}

var (
	ErrMissingListen = &Error{"listen address is required"}
	ErrNoLimits      = &Error{"at least one category limit is required"}
)

type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
