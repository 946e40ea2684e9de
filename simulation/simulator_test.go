package simulation_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/jclmnop/distributed-iiot-poc/poller"
	"github.com/jclmnop/distributed-iiot-poc/sensor"
	"github.com/jclmnop/distributed-iiot-poc/simulation"
	"github.com/jclmnop/distributed-iiot-poc/testutil"
)

func TestSimulator_AnnouncesAndAnswersPolls(t *testing.T) {
	bus := testutil.NewConnectedBus()
	topics := simulation.NATSTopics("sim")

	rng := rand.New(rand.NewSource(7))
	sn, err := simulation.NewSensor(simulation.Spec{
		Alias: "TempSensor01", Location: "Line 1", Min: 0, Max: 50, Mean: 25, StdDev: 2,
	}, topics, rng)
	require.NoError(t, err)

	sim := simulation.New(bus, topics,
		simulation.WithHeartbeatEvery(20*time.Millisecond),
		simulation.WithHeartbeatRate(rate.Inf, 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx, []*simulation.Sensor{sn}) }()

	testutil.WaitForMessageCount(t, bus, "sim.heartbeat", 2, time.Second)
	d, err := sensor.Decode(testutil.WaitForMessage(t, bus, "sim.heartbeat", time.Second))
	require.NoError(t, err)
	assert.Equal(t, sn.Descriptor().ID, d.ID)

	require.NoError(t, bus.Publish(ctx, d.PollTopic, []byte("poll")))
	reply := testutil.WaitForMessage(t, bus, d.ReadTopic, time.Second)

	value, err := poller.DecodeValue(reply)
	require.NoError(t, err)
	assert.NotEmpty(t, value)

	stats := sim.Stats()
	assert.Equal(t, int64(1), stats.Polls)
	assert.Equal(t, int64(1), stats.Answered)
	assert.GreaterOrEqual(t, stats.Heartbeats, int64(2))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("simulator did not stop")
	}
}

func TestSimulator_SubscribeFailureStopsRun(t *testing.T) {
	bus := testutil.NewMockBus()
	sn, err := simulation.NewSensor(simulation.Spec{Alias: "x", Max: 1}, simulation.NATSTopics("sim"), nil)
	require.NoError(t, err)

	err = simulation.New(bus, simulation.NATSTopics("sim")).Run(context.Background(), []*simulation.Sensor{sn})
	require.Error(t, err)
}

func TestNewMQTTTransport_RequiresBroker(t *testing.T) {
	_, err := simulation.NewMQTTTransport(context.Background(), simulation.MQTTConfig{}, nil)
	require.Error(t, err)
}
