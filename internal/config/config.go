package config

import (
	"fmt"
	"net/mail"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"seqnotify/internal/registry"
)

// EnvConfigPath is consulted when --config is not given.
const EnvConfigPath = "SEQNOTIFY_CONFIG"

// DefaultPath is tried last.
const DefaultPath = "seqnotify.yaml"

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// SMTP describes the outbound mail server.
type SMTP struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	From     string `yaml:"from"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	StartTLS bool   `yaml:"starttls"`
}

// Dispatch tunes delivery retry and fan-out.
type Dispatch struct {
	MaxAttempts int      `yaml:"max_attempts"`
	Backoff     Duration `yaml:"backoff"`
	Workers     int      `yaml:"workers"`
	Timeout     Duration `yaml:"timeout"` // whole-dispatch deadline, 0 disables
}

// RecipientEntry is one configured facility recipient added to every run.
type RecipientEntry struct {
	Address string `yaml:"address"`
	Name    string `yaml:"name"`
}

// Scan configures run-folder discovery.
type Scan struct {
	// IncomingPaths are instrument output directories to walk.
	IncomingPaths []string `yaml:"incoming_paths"`
	// PublicBaseURL prefixes registered file locations; when empty the
	// local file path is registered instead.
	PublicBaseURL string `yaml:"public_base_url"`
}

// Config is the whole tool configuration.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	RegistryPath   string `yaml:"registry_path"`
	LinkExpiryDays int    `yaml:"link_expiry_days"`

	SMTP     SMTP     `yaml:"smtp"`
	Dispatch Dispatch `yaml:"dispatch"`
	Scan     Scan     `yaml:"scan"`

	DefaultRecipients []RecipientEntry `yaml:"default_recipients"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:       "info",
		LogFormat:      "text",
		RegistryPath:   registry.DefaultDBPath,
		LinkExpiryDays: 14,
		SMTP: SMTP{
			Port: 25,
		},
		Dispatch: Dispatch{
			MaxAttempts: 3,
			Backoff:     Duration(500 * time.Millisecond),
			Workers:     4,
			Timeout:     Duration(2 * time.Minute),
		},
	}
}

// Load reads configuration from path, from $SEQNOTIFY_CONFIG, or from
// ./seqnotify.yaml, in that order. A missing file is only an error when the
// path was given explicitly; otherwise defaults apply.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.RegistryPath == "" {
		return fmt.Errorf("registry_path must not be empty")
	}
	if c.LinkExpiryDays < 0 {
		return fmt.Errorf("link_expiry_days must not be negative")
	}
	if c.Dispatch.MaxAttempts < 0 || c.Dispatch.Workers < 0 {
		return fmt.Errorf("dispatch counts must not be negative")
	}
	for _, r := range c.DefaultRecipients {
		if _, err := mail.ParseAddress(r.Address); err != nil {
			return fmt.Errorf("default recipient %q: %w", r.Address, err)
		}
	}
	return nil
}

// ValidateSMTP checks the fields the dispatch command needs. Kept out of
// validate() so registry-only commands work without mail configuration.
func (c *Config) ValidateSMTP() error {
	if c.SMTP.Host == "" {
		return fmt.Errorf("smtp.host is required for dispatch")
	}
	if c.SMTP.From == "" {
		return fmt.Errorf("smtp.from is required for dispatch")
	}
	if _, err := mail.ParseAddress(c.SMTP.From); err != nil {
		return fmt.Errorf("smtp.from %q: %w", c.SMTP.From, err)
	}
	return nil
}
