package sensor

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jclmnop/distributed-iiot-poc/errors"
)

const simHeartbeat = `{
	"alias": "TEMP_SENSOR_FAULTY",
	"id": "0b6f3b3a-6c4e-4d9e-9d59-3f8a4b7f2a10",
	"poll_interval": 5000,
	"poll_topic": "sim.poll.0b6f3b3a-6c4e-4d9e-9d59-3f8a4b7f2a10",
	"read_topic": "sim.read.0b6f3b3a-6c4e-4d9e-9d59-3f8a4b7f2a10",
	"disconnect_topic": "sim.disconnect.0b6f3b3a-6c4e-4d9e-9d59-3f8a4b7f2a10",
	"ip_addr": "192.168.0.17",
	"mac_addr": "de:ad:be:ef:00:01",
	"location": "SIMULATION-FACTORY_1"
}`

func TestDecode_SimulatorHeartbeat(t *testing.T) {
	d, err := Decode([]byte(simHeartbeat))
	require.NoError(t, err)

	assert.Equal(t, uuid.MustParse("0b6f3b3a-6c4e-4d9e-9d59-3f8a4b7f2a10"), d.ID)
	assert.Equal(t, 5*time.Second, d.Interval())
	assert.Equal(t, "SIMULATION-FACTORY_1.TEMP_SENSOR_FAULTY", d.Source())
	assert.Equal(t, "192.168.0.17", d.IPAddr.String())
	assert.Equal(t, MAC("DE:AD:BE:EF:00:01"), d.MACAddr)
}

func TestDecode_FirmwareHeartbeat(t *testing.T) {
	payload := `{
		"alias": "pico",
		"id": "7d8a1e1c-28a4-4c2a-8f43-0a9e6b6b1f5e",
		"poll_interval": 1000,
		"poll_topic": "picow/7d8a1e1c/poll",
		"read_topic": "picow/7d8a1e1c/read",
		"disconnect_topic": "picow/7d8a1e1c/disconnect",
		"ip_addr": "fe80::1",
		"mac_addr": [40, 205, 193, 1, 2, 3],
		"location": "lab"
	}`

	d, err := Decode([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, MAC("28:CD:C1:01:02:03"), d.MACAddr)
	assert.True(t, d.IPAddr.Is6())

	converted, err := d.WithNATSTopics()
	require.NoError(t, err)
	assert.Equal(t, "picow.7d8a1e1c.poll", converted.PollTopic)
	assert.Equal(t, "picow.7d8a1e1c.read", converted.ReadTopic)
	assert.Equal(t, "picow.7d8a1e1c.disconnect", converted.DisconnectTopic)
	assert.Equal(t, "picow/7d8a1e1c/poll", d.PollTopic, "original left untouched")
}

func TestDecode_OptionalNetworkFields(t *testing.T) {
	payload := `{"alias":"a","id":"7d8a1e1c-28a4-4c2a-8f43-0a9e6b6b1f5e","poll_interval":10,
		"poll_topic":"p","read_topic":"r","disconnect_topic":"","location":"l"}`

	d, err := Decode([]byte(payload))
	require.NoError(t, err)
	assert.False(t, d.IPAddr.IsValid())
	assert.Empty(t, d.MACAddr)
}

func TestDecode_Rejects(t *testing.T) {
	valid := func() map[string]any {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(simHeartbeat), &m))
		return m
	}

	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"bad uuid", func(m map[string]any) { m["id"] = "not-a-uuid" }},
		{"nil uuid", func(m map[string]any) { m["id"] = uuid.Nil.String() }},
		{"zero interval", func(m map[string]any) { m["poll_interval"] = 0 }},
		{"negative interval", func(m map[string]any) { m["poll_interval"] = -5 }},
		{"missing poll topic", func(m map[string]any) { delete(m, "poll_topic") }},
		{"blank read topic", func(m map[string]any) { m["read_topic"] = "  " }},
		{"bad ip", func(m map[string]any) { m["ip_addr"] = "999.1.1.1" }},
		{"short mac array", func(m map[string]any) { m["mac_addr"] = []int{1, 2, 3} }},
		{"mac octet out of range", func(m map[string]any) { m["mac_addr"] = []int{1, 2, 3, 4, 5, 300} }},
		{"mac garbage", func(m map[string]any) { m["mac_addr"] = "zz:zz" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(m)
			data, err := json.Marshal(m)
			require.NoError(t, err)

			_, err = Decode(data)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidDescriptor)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		_, err := Decode([]byte(`{"alias":`))
		assert.ErrorIs(t, err, errors.ErrInvalidDescriptor)
	})
}

func TestWithNATSTopics_RejectsWhitespace(t *testing.T) {
	d, err := Decode([]byte(simHeartbeat))
	require.NoError(t, err)

	d.PollTopic = "bad topic/poll"
	_, err = d.WithNATSTopics()
	assert.ErrorIs(t, err, errors.ErrInvalidTopic)
}

func TestDescriptor_MarshalRoundTripKeepsWireNames(t *testing.T) {
	d, err := Decode([]byte(simHeartbeat))
	require.NoError(t, err)

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"poll_interval":5000`)
	assert.Contains(t, string(data), `"mac_addr":"DE:AD:BE:EF:00:01"`)

	again, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, d, again)
}
