// Package sensor holds the self-description a sensor announces in its
// heartbeat and the per-session registry of sensors seen so far.
package sensor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jclmnop/distributed-iiot-poc/errors"
	"github.com/jclmnop/distributed-iiot-poc/pkg/topic"
)

// Descriptor is the heartbeat payload of a sensor. It is immutable once
// registered.
type Descriptor struct {
	ID              uuid.UUID  `json:"id"`
	Alias           string     `json:"alias"`
	Location        string     `json:"location"`
	PollInterval    uint64     `json:"poll_interval"` // milliseconds
	PollTopic       string     `json:"poll_topic"`
	ReadTopic       string     `json:"read_topic"`
	DisconnectTopic string     `json:"disconnect_topic"`
	IPAddr          netip.Addr `json:"ip_addr"`
	MACAddr         MAC        `json:"mac_addr,omitempty"`
}

// Decode parses and validates a heartbeat payload.
func Decode(data []byte) (Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return Descriptor{}, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidDescriptor, err),
			"sensor", "Decode", "unmarshal heartbeat")
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// Validate checks the fields the poller depends on.
func (d Descriptor) Validate() error {
	var problem string
	switch {
	case d.ID == uuid.Nil:
		problem = "id is missing"
	case d.PollInterval == 0:
		problem = "poll_interval must be positive"
	case strings.TrimSpace(d.PollTopic) == "":
		problem = "poll_topic is missing"
	case strings.TrimSpace(d.ReadTopic) == "":
		problem = "read_topic is missing"
	default:
		return nil
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidDescriptor, problem),
		"sensor", "Validate", "validate descriptor")
}

// Interval returns the poll interval as a duration.
func (d Descriptor) Interval() time.Duration {
	return time.Duration(d.PollInterval) * time.Millisecond
}

// Source is the "<location>.<alias>" label attached to readings.
func (d Descriptor) Source() string {
	return d.Location + "." + d.Alias
}

// WithNATSTopics returns a copy whose slash-delimited topics are converted
// to NATS subjects. Sensors on an MQTT bridge announce MQTT topic names.
func (d Descriptor) WithNATSTopics() (Descriptor, error) {
	for _, t := range []*string{&d.PollTopic, &d.ReadTopic, &d.DisconnectTopic} {
		if *t == "" {
			continue
		}
		converted, err := topic.Normalize(*t)
		if err != nil {
			return Descriptor{}, errors.Wrap(err, "sensor", "WithNATSTopics", "convert "+*t)
		}
		*t = converted
	}
	return d, nil
}

// MAC is a hardware address in canonical colon form. Heartbeats may carry
// it either as text or as an array of six octets.
type MAC string

// UnmarshalJSON implements json.Unmarshaler.
func (m *MAC) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = ""
		return nil
	}

	var hw net.HardwareAddr
	if len(data) > 0 && data[0] == '[' {
		var octets []int
		if err := json.Unmarshal(data, &octets); err != nil {
			return fmt.Errorf("mac_addr: %w", err)
		}
		hw = make(net.HardwareAddr, 0, len(octets))
		for _, o := range octets {
			if o < 0 || o > 255 {
				return fmt.Errorf("mac_addr: octet %d out of range", o)
			}
			hw = append(hw, byte(o))
		}
	} else {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("mac_addr: %w", err)
		}
		if s == "" {
			*m = ""
			return nil
		}
		parsed, err := net.ParseMAC(s)
		if err != nil {
			return fmt.Errorf("mac_addr: %w", err)
		}
		hw = parsed
	}

	if len(hw) != 6 {
		return fmt.Errorf("mac_addr: expected 6 octets, got %d", len(hw))
	}
	*m = MAC(strings.ToUpper(hw.String()))
	return nil
}
