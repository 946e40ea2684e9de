package publisher_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jclmnop/distributed-iiot-poc/publisher"
	"github.com/jclmnop/distributed-iiot-poc/testutil"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + publisher.HubPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHub_BroadcastsDeliveries(t *testing.T) {
	hub := publisher.NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Shutdown()

	a := dialHub(t, srv)
	b := dialHub(t, srv)
	testutil.WaitFor(t, time.Second, func() bool { return hub.Clients() == 2 }, "clients registered")

	require.NoError(t, hub.Deliver(context.Background(), publisher.Delivery{
		ConsumerID: "c1",
		Frame:      []byte(`[{"status":"SUCCESS"}]`),
	}))

	for _, conn := range []*websocket.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg publisher.HubMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "c1", msg.ConsumerID)
		assert.JSONEq(t, `[{"status":"SUCCESS"}]`, string(msg.Frame))
	}
}

func TestHub_ClientDisconnectIsRemoved(t *testing.T) {
	hub := publisher.NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Shutdown()

	conn := dialHub(t, srv)
	testutil.WaitFor(t, time.Second, func() bool { return hub.Clients() == 1 }, "client registered")

	require.NoError(t, conn.Close())
	testutil.WaitFor(t, 2*time.Second, func() bool { return hub.Clients() == 0 }, "client removed")
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	hub := publisher.NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	testutil.WaitFor(t, time.Second, func() bool { return hub.Clients() == 1 }, "client registered")

	hub.Shutdown()
	assert.Equal(t, 0, hub.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.Broadcast([]byte(`x`)))
}
