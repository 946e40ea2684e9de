// Package config holds the connection settings of a link and the provider's
// own configuration file.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jclmnop/distributed-iiot-poc/errors"
)

// Environment overrides applied by Load.
const (
	EnvNATSURLs               = "IIOT_NATS_URLS"
	EnvHeartbeatSubscriptions = "IIOT_HEARTBEAT_SUBSCRIPTIONS"
)

// Provider defaults.
const (
	DefaultName            = "iiot-poller"
	DefaultPollTimeout     = 500 * time.Millisecond
	DefaultFanOutLimit     = 20
	DefaultIntakeWorkers   = 4
	DefaultIntakeQueue     = 75
	DefaultConnectAttempts = 3
	DefaultControlPrefix   = "iiot.poller"
	DefaultHTTPPort        = 9090
	DefaultMetricsPath     = "/metrics"
)

// Config is the provider configuration file.
type Config struct {
	Provider ProviderConfig `json:"provider" yaml:"provider"`
	Control  ControlConfig  `json:"control" yaml:"control"`
	HTTP     HTTPConfig     `json:"http" yaml:"http"`
	Links    []Link         `json:"links,omitempty" yaml:"links,omitempty"`
}

// ProviderConfig tunes every session the provider runs.
type ProviderConfig struct {
	Name string `json:"name" yaml:"name"`
	// Connection is the default every link's values are merged onto.
	Connection      ConnectionConfig `json:"connection" yaml:"connection"`
	PollTimeout     Duration         `json:"poll_timeout" yaml:"poll_timeout"`
	FanOutLimit     int              `json:"fanout_limit" yaml:"fanout_limit"`
	IntakeWorkers   int              `json:"intake_workers" yaml:"intake_workers"`
	IntakeQueue     int              `json:"intake_queue" yaml:"intake_queue"`
	ConnectAttempts int              `json:"connect_attempts" yaml:"connect_attempts"`
}

// ControlConfig enables the link control API.
type ControlConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Prefix  string `json:"prefix" yaml:"prefix"`
}

// HTTPConfig configures the metrics, health and websocket server.
type HTTPConfig struct {
	Port        int    `json:"port" yaml:"port"`
	MetricsPath string `json:"metrics_path" yaml:"metrics_path"`
}

// Link attaches a consumer at startup.
type Link struct {
	ConsumerID string            `json:"consumer_id" yaml:"consumer_id"`
	Values     map[string]string `json:"values,omitempty" yaml:"values,omitempty"`
}

// Validate checks the consumer id and that the values parse.
func (l Link) Validate() error {
	if strings.TrimSpace(l.ConsumerID) == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: consumer_id is required", errors.ErrMissingConfig),
			"Link", "Validate", "check consumer id")
	}
	if _, err := ConnectionFromValues(l.Values); err != nil {
		return err
	}
	if _, err := SinksFromValues(l.Values); err != nil {
		return err
	}
	return nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	p := &c.Provider
	if p.Name == "" {
		p.Name = DefaultName
	}
	p.Connection = p.Connection.WithDefaults()
	if p.PollTimeout <= 0 {
		p.PollTimeout = Duration(DefaultPollTimeout)
	}
	if p.FanOutLimit <= 0 {
		p.FanOutLimit = DefaultFanOutLimit
	}
	if p.IntakeWorkers <= 0 {
		p.IntakeWorkers = DefaultIntakeWorkers
	}
	if p.IntakeQueue <= 0 {
		p.IntakeQueue = DefaultIntakeQueue
	}
	if p.ConnectAttempts <= 0 {
		p.ConnectAttempts = DefaultConnectAttempts
	}
	if c.Control.Prefix == "" {
		c.Control.Prefix = DefaultControlPrefix
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
	if c.HTTP.MetricsPath == "" {
		c.HTTP.MetricsPath = DefaultMetricsPath
	}
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if err := c.Provider.Connection.Validate(); err != nil {
		return err
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("%w: http port %d", errors.ErrInvalidConfig, c.HTTP.Port),
			"Config", "Validate", "check http port")
	}
	if c.HTTP.MetricsPath != "" && !strings.HasPrefix(c.HTTP.MetricsPath, "/") {
		return errors.WrapInvalid(
			fmt.Errorf("%w: metrics path %q must start with /", errors.ErrInvalidConfig, c.HTTP.MetricsPath),
			"Config", "Validate", "check metrics path")
	}
	if c.Control.Prefix != "" && !isValidSubject(c.Control.Prefix) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: control prefix %q", errors.ErrInvalidConfig, c.Control.Prefix),
			"Config", "Validate", "check control prefix")
	}

	seen := make(map[string]bool, len(c.Links))
	for _, l := range c.Links {
		if err := l.Validate(); err != nil {
			return err
		}
		if seen[l.ConsumerID] {
			return errors.WrapInvalid(
				fmt.Errorf("%w: duplicate link for consumer %q", errors.ErrInvalidConfig, l.ConsumerID),
				"Config", "Validate", "check links")
		}
		seen[l.ConsumerID] = true
	}
	return nil
}

func isValidSubject(s string) bool {
	for _, tok := range strings.Split(s, ".") {
		if tok == "" || strings.ContainsAny(tok, "*> \t\r\n") {
			return false
		}
	}
	return true
}

// Load reads a JSON or YAML configuration file, applies environment
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "read "+path)
	}

	cfg, err := Parse(data, formatOf(path))
	if err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault builds the configuration used when no file is given: the
// defaults plus environment overrides.
func LoadDefault() (*Config, error) {
	cfg := &Config{}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Format is a configuration file encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Parse decodes data without applying defaults. Unknown fields are errors.
func Parse(data []byte, format Format) (*Config, error) {
	cfg := &Config{}

	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
				"config", "Parse", "decode yaml")
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
				"config", "Parse", "check json")
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
				"config", "Parse", "decode json")
		}
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	for _, key := range []string{EnvNATSURLs, EnvHeartbeatSubscriptions} {
		if err := validateEnvVar(key, os.Getenv(key)); err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
				"config", "applyEnvOverrides", "check "+key)
		}
	}
	if val := os.Getenv(EnvNATSURLs); val != "" {
		cfg.Provider.Connection.ClusterURIs = SplitList(val)
	}
	if val := os.Getenv(EnvHeartbeatSubscriptions); val != "" {
		cfg.Provider.Connection.Subscriptions = SplitList(val)
	}
	return nil
}

// Duration accepts "500ms"-style strings or integer milliseconds.
type Duration time.Duration

// Std returns the time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.parse(s)
	}
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("duration must be a string or milliseconds: %s", data)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	if ms, err := strconv.ParseInt(node.Value, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("duration %q is negative", s)
	}
	*d = Duration(v)
	return nil
}
