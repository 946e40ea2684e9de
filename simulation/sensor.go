// Package simulation generates synthetic sensors that announce themselves
// with heartbeats and answer polls, over NATS or MQTT.
package simulation

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jclmnop/distributed-iiot-poc/errors"
	"github.com/jclmnop/distributed-iiot-poc/sensor"
)

// DefaultPollInterval applies when a Spec leaves PollInterval zero.
const DefaultPollInterval = 10 * time.Second

// faultyDropChance is the share of polls a FAULTY sensor ignores.
const faultyDropChance = 25.0 / 256.0

// Spec parameterizes one simulated sensor. Values follow a normal
// distribution clamped to [Min, Max].
type Spec struct {
	Alias        string
	Location     string
	Min, Max     float64
	Mean, StdDev float64
	PollInterval time.Duration
}

// Topics chooses the topic layout of simulated sensors.
type Topics struct {
	Prefix    string
	Separator string
}

// NATSTopics lays topics out as <prefix>.poll.<id>.
func NATSTopics(prefix string) Topics {
	return Topics{Prefix: prefix, Separator: "."}
}

// MQTTTopics lays topics out as <prefix>/poll/<id>.
func MQTTTopics(prefix string) Topics {
	return Topics{Prefix: prefix, Separator: "/"}
}

func (t Topics) join(parts ...string) string {
	return strings.Join(append([]string{t.Prefix}, parts...), t.Separator)
}

// Heartbeat is the topic every sensor announces itself on.
func (t Topics) Heartbeat() string {
	return t.join("heartbeat")
}

// Sensor is one simulated device.
type Sensor struct {
	descriptor sensor.Descriptor
	spec       Spec
	faulty     bool

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSensor creates a sensor with a fresh id and random network addresses.
func NewSensor(spec Spec, topics Topics, rng *rand.Rand) (*Sensor, error) {
	if spec.Alias == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: alias is required", errors.ErrInvalidConfig),
			"simulation", "NewSensor", "check spec")
	}
	if spec.Min > spec.Max || spec.StdDev < 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: range [%v, %v] stddev %v", errors.ErrInvalidConfig, spec.Min, spec.Max, spec.StdDev),
			"simulation", "NewSensor", "check spec")
	}
	if spec.PollInterval <= 0 {
		spec.PollInterval = DefaultPollInterval
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	mac := make(net.HardwareAddr, 6)
	_, _ = rng.Read(mac)
	var ip [4]byte
	_, _ = rng.Read(ip[:])

	id := uuid.New()
	d := sensor.Descriptor{
		ID:              id,
		Alias:           spec.Alias,
		Location:        "SIMULATION-" + spec.Location,
		PollInterval:    uint64(spec.PollInterval / time.Millisecond),
		PollTopic:       topics.join("poll", id.String()),
		ReadTopic:       topics.join("read", id.String()),
		DisconnectTopic: topics.join("disconnect", id.String()),
		IPAddr:          netip.AddrFrom4(ip),
		MACAddr:         sensor.MAC(strings.ToUpper(mac.String())),
	}

	return &Sensor{
		descriptor: d,
		spec:       spec,
		faulty:     strings.Contains(spec.Alias, "FAULTY"),
		rng:        rng,
	}, nil
}

// Descriptor returns what the sensor announces.
func (s *Sensor) Descriptor() sensor.Descriptor {
	return s.descriptor
}

// Heartbeat encodes the descriptor.
func (s *Sensor) Heartbeat() ([]byte, error) {
	data, err := json.Marshal(s.descriptor)
	if err != nil {
		return nil, errors.Wrap(err, "Sensor", "Heartbeat", "encode descriptor")
	}
	return data, nil
}

// Read samples a value, clamped to the spec range and truncated to two
// decimal places.
func (s *Sensor) Read() float64 {
	s.mu.Lock()
	v := s.rng.NormFloat64()*s.spec.StdDev + s.spec.Mean
	s.mu.Unlock()

	v = math.Max(s.spec.Min, math.Min(s.spec.Max, v))
	return math.Trunc(v*100) / 100
}

// Drops reports whether this poll goes unanswered. Only FAULTY sensors drop
// polls.
func (s *Sensor) Drops() bool {
	if !s.faulty {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < faultyDropChance
}

// Reply encodes a value as the JSON string sensors answer polls with.
func Reply(v float64) []byte {
	return []byte(strconv.Quote(strconv.FormatFloat(v, 'f', -1, 64)))
}
