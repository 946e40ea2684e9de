package simulation

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jclmnop/distributed-iiot-poc/errors"
	"github.com/jclmnop/distributed-iiot-poc/sensor"
)

func seeded() *rand.Rand {
	return rand.New(rand.NewSource(42))
}

func TestNewSensor_Descriptor(t *testing.T) {
	s, err := NewSensor(Spec{
		Alias: "TempSensor01", Location: "Conveyor Belt 1",
		Min: 0, Max: 50, Mean: 25, StdDev: 2,
		PollInterval: 1500 * time.Millisecond,
	}, NATSTopics("sim"), seeded())
	require.NoError(t, err)

	d := s.Descriptor()
	require.NoError(t, d.Validate())
	assert.Equal(t, "SIMULATION-Conveyor Belt 1", d.Location)
	assert.Equal(t, uint64(1500), d.PollInterval)
	assert.Equal(t, "sim.poll."+d.ID.String(), d.PollTopic)
	assert.Equal(t, "sim.read."+d.ID.String(), d.ReadTopic)
	assert.Equal(t, "sim.disconnect."+d.ID.String(), d.DisconnectTopic)
	assert.True(t, d.IPAddr.Is4())
	assert.Len(t, string(d.MACAddr), 17)

	data, err := s.Heartbeat()
	require.NoError(t, err)
	decoded, err := sensor.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, d, decoded)
}

func TestNewSensor_MQTTTopicsTranslate(t *testing.T) {
	s, err := NewSensor(Spec{Alias: "Flow", Max: 10}, MQTTTopics("sim"), seeded())
	require.NoError(t, err)

	d := s.Descriptor()
	assert.Equal(t, "sim/poll/"+d.ID.String(), d.PollTopic)
	assert.Equal(t, "sim/heartbeat", MQTTTopics("sim").Heartbeat())
	assert.Equal(t, uint64(DefaultPollInterval/time.Millisecond), d.PollInterval)

	nats, err := d.WithNATSTopics()
	require.NoError(t, err)
	assert.Equal(t, "sim.poll."+d.ID.String(), nats.PollTopic)
	assert.Equal(t, "sim.read."+d.ID.String(), nats.ReadTopic)
}

func TestNewSensor_RejectsBadSpecs(t *testing.T) {
	for _, spec := range []Spec{
		{Min: 0, Max: 1},
		{Alias: "x", Min: 5, Max: 1},
		{Alias: "x", Max: 1, StdDev: -1},
	} {
		_, err := NewSensor(spec, NATSTopics("sim"), nil)
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	}
}

func TestSensor_ReadClampsAndTruncates(t *testing.T) {
	s, err := NewSensor(Spec{Alias: "Wide", Min: -1, Max: 1, Mean: 0, StdDev: 5}, NATSTopics("sim"), seeded())
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		v := s.Read()
		require.GreaterOrEqual(t, v, -1.0)
		require.LessOrEqual(t, v, 1.0)
		assert.Less(t, math.Abs(v*100-math.Round(v*100)), 1e-6, "value %v has more than two decimals", v)
	}
}

func TestSensor_OnlyFaultySensorsDrop(t *testing.T) {
	healthy, err := NewSensor(Spec{Alias: "TempSensor01", Max: 1}, NATSTopics("sim"), seeded())
	require.NoError(t, err)
	faulty, err := NewSensor(Spec{Alias: "FAULTY_Humidity", Max: 1}, NATSTopics("sim"), seeded())
	require.NoError(t, err)

	const n = 10000
	drops := 0
	for i := 0; i < n; i++ {
		assert.False(t, healthy.Drops())
		if faulty.Drops() {
			drops++
		}
	}
	share := float64(drops) / n
	assert.InDelta(t, faultyDropChance, share, 0.02)
}

func TestReply(t *testing.T) {
	assert.Equal(t, `"21.5"`, string(Reply(21.5)))
	assert.Equal(t, `"-3"`, string(Reply(-3)))
	assert.Equal(t, `"0.07"`, string(Reply(0.07)))
}

func TestPlantSpecs(t *testing.T) {
	specs := PlantSpecs(seeded(), nil)
	require.Len(t, specs, 40)
	for _, s := range specs {
		assert.Contains(t, DefaultIntervals, s.PollInterval)
		assert.LessOrEqual(t, s.Min, s.Max)
	}

	one := PlantSpecs(seeded(), []time.Duration{time.Second})
	for _, s := range one {
		assert.Equal(t, time.Second, s.PollInterval)
	}
}
