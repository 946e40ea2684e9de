package testutil

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jclmnop/distributed-iiot-poc/sensor"
)

// Reply answers every poll with payload.
func Reply(payload string) ExchangeFunc {
	return func(_ context.Context, _ []byte) ([]byte, error) {
		return []byte(payload), nil
	}
}

// Silent never answers; the exchange ends with its timeout.
func Silent() ExchangeFunc {
	return func(ctx context.Context, _ []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// Slow answers with payload after delay unless the exchange ends first.
func Slow(delay time.Duration, payload string) ExchangeFunc {
	return func(ctx context.Context, _ []byte) ([]byte, error) {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
			return []byte(payload), nil
		}
	}
}

// Counter answers with an increasing JSON number starting at 1.
func Counter() ExchangeFunc {
	var n atomic.Int64
	return func(_ context.Context, _ []byte) ([]byte, error) {
		v := n.Add(1)
		return json.Marshal(v)
	}
}

// NewDescriptor builds a valid descriptor with topics under sensors.<alias>.
func NewDescriptor(alias string, intervalMs uint64) sensor.Descriptor {
	return sensor.Descriptor{
		ID:              uuid.New(),
		Alias:           alias,
		Location:        "TEST",
		PollInterval:    intervalMs,
		PollTopic:       "sensors." + alias + ".poll",
		ReadTopic:       "sensors." + alias + ".read",
		DisconnectTopic: "sensors." + alias + ".disconnect",
	}
}

// Heartbeat encodes d the way sensors announce themselves.
func Heartbeat(d sensor.Descriptor) []byte {
	data, err := json.Marshal(d)
	if err != nil {
		panic(err)
	}
	return data
}
