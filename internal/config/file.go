package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} references in the raw config file.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Duration is a time.Duration read from a YAML string such as "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw == "" {
		*d = 0

		return nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("line %d: parsing duration %q: %w", value.Line, raw, err)
	}

	*d = Duration(parsed)

	return nil
}

// File is the on-disk configuration read by the command-line tool.
type File struct {
	Runtime           RuntimeConfig   `yaml:"runtime"`
	Health            HealthConfig    `yaml:"health"`
	Calls             CallsConfig     `yaml:"calls"`
	Reconnect         ReconnectConfig `yaml:"reconnect"`
	Logging           LoggingConfig   `yaml:"logging"`
	Tracing           TracingConfig   `yaml:"tracing"`
	Journal           JournalConfig   `yaml:"journal"`
	Client            ClientConfig    `yaml:"client"`
	ValidateArguments bool            `yaml:"validate_arguments"`
	Endpoints         []EndpointEntry `yaml:"endpoints"`
}

// RuntimeConfig selects and locates the container engine.
type RuntimeConfig struct {
	Engine     string `yaml:"engine"`      // "docker" or "podman"
	EnginePath string `yaml:"engine_path"` // explicit binary path
	DockerHost string `yaml:"docker_host"` // overrides DOCKER_HOST
}

// HealthConfig holds health monitor timing.
type HealthConfig struct {
	Interval Duration `yaml:"interval"`
	Timeout  Duration `yaml:"timeout"`
	Disabled bool     `yaml:"disabled"`
}

// CallsConfig holds call timing.
type CallsConfig struct {
	Timeout          Duration `yaml:"timeout"`
	HandshakeTimeout Duration `yaml:"handshake_timeout"`
	MaxConcurrency   int      `yaml:"max_concurrency"`
}

// ReconnectConfig holds reconnect backoff settings.
type ReconnectConfig struct {
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
	MaxAttempts int      `yaml:"max_attempts"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracingConfig holds OpenTelemetry configuration.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// JournalConfig holds lifecycle journal configuration.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// ClientConfig overrides the handshake identity.
type ClientConfig struct {
	Name            string `yaml:"name"`
	Version         string `yaml:"version"`
	ProtocolVersion string `yaml:"protocol_version"`
}

// EndpointEntry is one endpoint as written in the config file.
type EndpointEntry struct {
	Name           string   `yaml:"name"`
	Container      string   `yaml:"container"`
	Command        []string `yaml:"command"`
	WorkDir        string   `yaml:"workdir"`
	Capabilities   []string `yaml:"capabilities"`
	HealthInterval Duration `yaml:"health_interval"`
	HealthTimeout  Duration `yaml:"health_timeout"`
	CallTimeout    Duration `yaml:"call_timeout"`
}

// Load reads a configuration file from the given path and returns a parsed File.
// Environment variables in the format ${VAR_NAME} are expanded before parsing.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse parses raw YAML configuration.
func Parse(data []byte) (*File, error) {
	expanded := expandEnvVars(string(data))

	var f File
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := f.Options().Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &f, nil
}

// Options converts the file into library options. Logger, Runtime and
// Stderr are left for the caller to set.
func (f *File) Options() *Options {
	opts := &Options{
		CallTimeout:      time.Duration(f.Calls.Timeout),
		HandshakeTimeout: time.Duration(f.Calls.HandshakeTimeout),
		HealthInterval:   time.Duration(f.Health.Interval),
		HealthTimeout:    time.Duration(f.Health.Timeout),
		Backoff: BackoffConfig{
			BaseDelay:   time.Duration(f.Reconnect.BaseDelay),
			MaxDelay:    time.Duration(f.Reconnect.MaxDelay),
			MaxAttempts: f.Reconnect.MaxAttempts,
		},
		ClientInfo: ClientInfo{
			Name:    f.Client.Name,
			Version: f.Client.Version,
		},
		ProtocolVersion:      f.Client.ProtocolVersion,
		JournalPath:          f.Journal.Path,
		ValidateArguments:    f.ValidateArguments,
		DisableHealthMonitor: f.Health.Disabled,
		MaxConcurrency:       f.Calls.MaxConcurrency,
		Endpoints:            make([]EndpointConfig, 0, len(f.Endpoints)),
	}

	for _, e := range f.Endpoints {
		opts.Endpoints = append(opts.Endpoints, EndpointConfig{
			Name:           e.Name,
			Container:      e.Container,
			Command:        e.Command,
			WorkDir:        e.WorkDir,
			Capabilities:   e.Capabilities,
			HealthInterval: time.Duration(e.HealthInterval),
			HealthTimeout:  time.Duration(e.HealthTimeout),
			CallTimeout:    time.Duration(e.CallTimeout),
		})
	}

	return opts
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}
