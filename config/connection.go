package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jclmnop/distributed-iiot-poc/errors"
)

// DefaultClusterURI is used when neither the provider nor the link names a
// server.
const DefaultClusterURI = "nats://0.0.0.0:4222"

// Link value keys understood by ConnectionFromValues.
const (
	ValueConfigB64    = "config_b64"
	ValueConfigJSON   = "config_json"
	ValueSubscription = "SUBSCRIPTION"
	ValueURI          = "URI"
	ValueClientJWT    = "CLIENT_JWT"
	ValueClientSeed   = "CLIENT_SEED"
)

// ConnectionConfig describes how a session reaches its NATS cluster and
// where it listens for heartbeats.
type ConnectionConfig struct {
	// Heartbeat subscriptions, "subject" or "subject|queue".
	Subscriptions   []string `json:"subscriptions,omitempty" yaml:"subscriptions,omitempty"`
	ClusterURIs     []string `json:"cluster_uris,omitempty" yaml:"cluster_uris,omitempty"`
	AuthJWT         string   `json:"auth_jwt,omitempty" yaml:"auth_jwt,omitempty"`
	AuthSeed        string   `json:"auth_seed,omitempty" yaml:"auth_seed,omitempty"`
	PingIntervalSec uint16   `json:"ping_interval_sec,omitempty" yaml:"ping_interval_sec,omitempty"`
}

// Subscription is one parsed heartbeat subscription.
type Subscription struct {
	Subject string
	Queue   string
}

// ConnectionFromValues builds a connection config from link values. A
// config_b64 or config_json blob is the base; SUBSCRIPTION entries are
// appended to its subscriptions, URI replaces its cluster list and the
// credential values replace its credentials.
func ConnectionFromValues(values map[string]string) (ConnectionConfig, error) {
	var cfg ConnectionConfig

	switch {
	case values[ValueConfigB64] != "":
		raw, err := base64.StdEncoding.DecodeString(values[ValueConfigB64])
		if err != nil {
			return ConnectionConfig{}, invalidValue("decode config_b64",
				fmt.Errorf("invalid base64 encoding: %v", err))
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return ConnectionConfig{}, invalidValue("parse config_b64",
				fmt.Errorf("corrupt config_b64: %v", err))
		}
	case values[ValueConfigJSON] != "":
		if err := json.Unmarshal([]byte(values[ValueConfigJSON]), &cfg); err != nil {
			return ConnectionConfig{}, invalidValue("parse config_json",
				fmt.Errorf("corrupt config_json: %v", err))
		}
	}

	if sub, ok := values[ValueSubscription]; ok {
		cfg.Subscriptions = append(cfg.Subscriptions, SplitList(sub)...)
	}
	if uri, ok := values[ValueURI]; ok {
		cfg.ClusterURIs = SplitList(uri)
	}
	if jwt, ok := values[ValueClientJWT]; ok {
		cfg.AuthJWT = jwt
	}
	if seed, ok := values[ValueClientSeed]; ok {
		cfg.AuthSeed = seed
	}

	if err := cfg.checkCredentials(); err != nil {
		return ConnectionConfig{}, err
	}
	return cfg, nil
}

func invalidValue(action string, err error) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
		"ConnectionConfig", "FromValues", action)
}

// SplitList splits a comma separated list, trimming blanks and dropping
// empty entries.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Merge returns c overlaid with the non-empty fields of extra. Lists are
// replaced wholesale, never combined.
func (c ConnectionConfig) Merge(extra ConnectionConfig) ConnectionConfig {
	out := c.clone()
	if len(extra.Subscriptions) > 0 {
		out.Subscriptions = append([]string(nil), extra.Subscriptions...)
	}
	if len(extra.ClusterURIs) > 0 {
		out.ClusterURIs = append([]string(nil), extra.ClusterURIs...)
	}
	if extra.AuthJWT != "" {
		out.AuthJWT = extra.AuthJWT
	}
	if extra.AuthSeed != "" {
		out.AuthSeed = extra.AuthSeed
	}
	if extra.PingIntervalSec != 0 {
		out.PingIntervalSec = extra.PingIntervalSec
	}
	return out
}

func (c ConnectionConfig) clone() ConnectionConfig {
	out := c
	out.Subscriptions = append([]string(nil), c.Subscriptions...)
	out.ClusterURIs = append([]string(nil), c.ClusterURIs...)
	return out
}

// WithDefaults fills the cluster list when it is empty.
func (c ConnectionConfig) WithDefaults() ConnectionConfig {
	out := c.clone()
	if len(out.ClusterURIs) == 0 {
		out.ClusterURIs = []string{DefaultClusterURI}
	}
	return out
}

func (c ConnectionConfig) checkCredentials() error {
	switch {
	case c.AuthJWT != "" && c.AuthSeed == "":
		return errors.WrapInvalid(
			fmt.Errorf("%w: if you specify jwt, you must also specify a seed", errors.ErrInvalidConfig),
			"ConnectionConfig", "Validate", "check credentials")
	case c.AuthSeed != "" && c.AuthJWT == "":
		return errors.WrapInvalid(
			fmt.Errorf("%w: a seed without a jwt cannot authenticate", errors.ErrInvalidConfig),
			"ConnectionConfig", "Validate", "check credentials")
	}
	return nil
}

// Validate checks credentials, server URLs and subscriptions.
func (c ConnectionConfig) Validate() error {
	if err := c.checkCredentials(); err != nil {
		return err
	}
	for _, uri := range c.ClusterURIs {
		if err := validateServerURI(uri); err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
				"ConnectionConfig", "Validate", "check cluster uri")
		}
	}
	for _, s := range c.HeartbeatSubscriptions() {
		if strings.ContainsAny(s.Subject, " \t\r\n") || strings.Contains(s.Subject, "..") {
			return errors.WrapInvalid(
				fmt.Errorf("%w: subscription subject %q", errors.ErrInvalidConfig, s.Subject),
				"ConnectionConfig", "Validate", "check subscriptions")
		}
	}
	return nil
}

func validateServerURI(uri string) error {
	raw := uri
	if !strings.Contains(raw, "://") {
		raw = "nats://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("cluster uri %q: %v", uri, err)
	}
	switch u.Scheme {
	case "nats", "tls", "ws", "wss":
	default:
		return fmt.Errorf("cluster uri %q: unsupported scheme %q", uri, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("cluster uri %q: missing host", uri)
	}
	return nil
}

// HeartbeatSubscriptions parses the subscription list. Empty entries are
// ignored.
func (c ConnectionConfig) HeartbeatSubscriptions() []Subscription {
	var subs []Subscription
	for _, entry := range c.Subscriptions {
		subject, queue, _ := strings.Cut(entry, "|")
		subject = strings.TrimSpace(subject)
		if subject == "" {
			continue
		}
		subs = append(subs, Subscription{Subject: subject, Queue: strings.TrimSpace(queue)})
	}
	return subs
}

// ServerURL joins the cluster list in the form nats.Connect expects.
func (c ConnectionConfig) ServerURL() string {
	return strings.Join(c.ClusterURIs, ",")
}

// PingInterval converts PingIntervalSec; zero means the client default.
func (c ConnectionConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSec) * time.Second
}

// Redacted hides credentials for logging.
func (c ConnectionConfig) Redacted() ConnectionConfig {
	out := c.clone()
	if out.AuthJWT != "" {
		out.AuthJWT = "[REDACTED]"
	}
	if out.AuthSeed != "" {
		out.AuthSeed = "[REDACTED]"
	}
	return out
}
