package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jclmnop/distributed-iiot-poc/errors"
)

// Link value keys selecting result sinks.
const (
	ValueResultSubject = "RESULT_SUBJECT"
	ValueResultStream  = "RESULT_STREAM"
	ValueAuditURL      = "AUDIT_URL"
	ValueAuditToken    = "AUDIT_TOKEN"
	ValueInfluxURL     = "INFLUX_URL"
	ValueInfluxToken   = "INFLUX_TOKEN"
	ValueInfluxOrg     = "INFLUX_ORG"
	ValueInfluxBucket  = "INFLUX_BUCKET"
	ValueWebSocket     = "WEBSOCKET"
)

// SinkConfig selects where a session's readings go. The bus sink is always
// present; the others are enabled by their values.
type SinkConfig struct {
	ResultSubject string
	ResultStream  string
	AuditURL      string
	AuditToken    string
	InfluxURL     string
	InfluxToken   string
	InfluxOrg     string
	InfluxBucket  string
	WebSocket     bool
}

// SinksFromValues reads the sink values of a link.
func SinksFromValues(values map[string]string) (SinkConfig, error) {
	cfg := SinkConfig{
		ResultSubject: strings.TrimSpace(values[ValueResultSubject]),
		ResultStream:  strings.TrimSpace(values[ValueResultStream]),
		AuditURL:      strings.TrimSpace(values[ValueAuditURL]),
		AuditToken:    values[ValueAuditToken],
		InfluxURL:     strings.TrimSpace(values[ValueInfluxURL]),
		InfluxToken:   values[ValueInfluxToken],
		InfluxOrg:     strings.TrimSpace(values[ValueInfluxOrg]),
		InfluxBucket:  strings.TrimSpace(values[ValueInfluxBucket]),
	}

	if raw, ok := values[ValueWebSocket]; ok && strings.TrimSpace(raw) != "" {
		on, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return SinkConfig{}, errors.WrapInvalid(
				fmt.Errorf("%w: WEBSOCKET=%q is not a boolean", errors.ErrInvalidConfig, raw),
				"SinkConfig", "FromValues", "parse WEBSOCKET")
		}
		cfg.WebSocket = on
	}

	if err := cfg.Validate(); err != nil {
		return SinkConfig{}, err
	}
	return cfg, nil
}

// InfluxEnabled reports whether any Influx value was given.
func (c SinkConfig) InfluxEnabled() bool {
	return c.InfluxURL != "" || c.InfluxToken != "" || c.InfluxOrg != "" || c.InfluxBucket != ""
}

// Validate rejects partial Influx settings and a token without an audit url.
func (c SinkConfig) Validate() error {
	if c.InfluxEnabled() &&
		(c.InfluxURL == "" || c.InfluxToken == "" || c.InfluxOrg == "" || c.InfluxBucket == "") {
		return errors.WrapInvalid(
			fmt.Errorf("%w: INFLUX_URL, INFLUX_TOKEN, INFLUX_ORG and INFLUX_BUCKET go together",
				errors.ErrMissingConfig),
			"SinkConfig", "Validate", "check influx values")
	}
	if c.AuditToken != "" && c.AuditURL == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: AUDIT_TOKEN given without AUDIT_URL", errors.ErrMissingConfig),
			"SinkConfig", "Validate", "check audit values")
	}
	return nil
}
