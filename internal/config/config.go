// Package config loads and validates the SyncBridge YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultDeletionThreshold guards against wiping a replica when the other
// side comes back empty. Applied when deletion_threshold is omitted.
const DefaultDeletionThreshold = 25

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// LocalDB is the path of the local item database. Defaults to
	// ~/.local/share/syncbridge/items.db.
	LocalDB string `yaml:"local_db"`

	// MarkdownDir is the root directory of the Markdown replica
	// (e.g. a mounted or synced folder). Required.
	MarkdownDir string `yaml:"markdown_dir"`

	// Mode selects container pairing: "auto" pairs containers by name,
	// "manual" processes only the container_pairs table. Defaults to auto.
	Mode string `yaml:"mode"`

	// ContainerPairs maps local container names to Markdown subdirectories.
	// Consulted only in manual mode, where it must not be empty.
	// Example: {"Work": "work-notes"}
	ContainerPairs map[string]string `yaml:"container_pairs,omitempty"`

	// Exclude lists local containers auto mode must not sync.
	Exclude []string `yaml:"exclude,omitempty"`

	// SkipDeletions turns every planned deletion into a no-op. Items only
	// ever accumulate; useful for one-way archival setups.
	SkipDeletions bool `yaml:"skip_deletions"`

	// DeletionThreshold discards a container pair's whole plan when its
	// planned deletions exceed this count. 0 trips on any deletion, -1
	// disables the guard. Defaults to [DefaultDeletionThreshold].
	DeletionThreshold *int `yaml:"deletion_threshold,omitempty"`

	// MaxParallel bounds how many container pairs sync concurrently.
	// Defaults to 4.
	MaxParallel int `yaml:"max_parallel"`

	// PollInterval controls how often the daemon runs a full sync.
	// Minimum 10s, maximum 1h. Defaults to 30s if unset.
	PollInterval time.Duration `yaml:"poll_interval"`

	// LogFile, if set, sends daemon logs to this file with rotation
	// instead of stderr.
	LogFile string `yaml:"log_file,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "syncbridge".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/syncbridge/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "syncbridge", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Threshold returns the effective deletion threshold.
func (c *Config) Threshold() int {
	if c.DeletionThreshold == nil {
		return DefaultDeletionThreshold
	}
	return *c.DeletionThreshold
}

// validate checks that all required fields are present and well-formed,
// and fills in defaults.
func (c *Config) validate() error {
	if c.MarkdownDir == "" {
		return fmt.Errorf("markdown_dir is required")
	}

	switch c.Mode {
	case "":
		c.Mode = "auto"
	case "auto", "manual":
	default:
		return fmt.Errorf("mode %q must be \"auto\" or \"manual\"", c.Mode)
	}

	if c.Mode == "manual" {
		if len(c.ContainerPairs) == 0 {
			return fmt.Errorf("container_pairs must contain at least one entry in manual mode")
		}
		for local, remote := range c.ContainerPairs {
			if local == "" {
				return fmt.Errorf("container_pairs contains an empty local container name")
			}
			if remote == "" {
				return fmt.Errorf("container_pairs[%q] has an empty remote container name", local)
			}
		}
	}

	if c.DeletionThreshold != nil && *c.DeletionThreshold < -1 {
		return fmt.Errorf("deletion_threshold %d must be -1 (disabled) or >= 0", *c.DeletionThreshold)
	}

	if c.MaxParallel == 0 {
		c.MaxParallel = 4
	}
	if c.MaxParallel < 0 {
		return fmt.Errorf("max_parallel %d must be positive", c.MaxParallel)
	}

	if c.PollInterval == 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.PollInterval < 10*time.Second {
		return fmt.Errorf("poll_interval %v is too short (minimum 10s)", c.PollInterval)
	}
	if c.PollInterval > time.Hour {
		return fmt.Errorf("poll_interval %v is too long (maximum 1h)", c.PollInterval)
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
