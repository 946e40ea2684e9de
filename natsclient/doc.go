// Package natsclient manages the provider's NATS connection: connect with
// cluster failover and JWT credentials, publish, subscribe and the one-shot
// poll exchange used to read sensors.
//
// # Connection Lifecycle
//
// A Client moves through Disconnected → Connecting → Connected, and on a
// dropped connection to Reconnecting until nats.go restores it. Connect
// failures are counted by a circuit breaker. After the threshold (default 5)
// the circuit opens and Connect fails fast until the backoff has passed; each
// reopening doubles the backoff up to the configured maximum.
//
// Callers that need to know about a lost connection register OnDisconnect
// and OnHealthChange. Callbacks may run on any goroutine. A disconnect
// caused by Close is not reported to OnDisconnect, but OnHealthChange still
// sees the final false.
//
// # Subscriptions
//
// Subscribe, QueueSubscribe and HandleRequests are tied to a context. The
// subscription is released when the context ends or the client closes, so a
// session that cancels its context leaves nothing behind on the server.
// Handlers get a context bounded by the handler timeout (30s by default) and
// run on the subscription's delivery goroutine: a handler that blocks stalls
// that subscription.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("iiot-poller:plant-a"),
//	    natsclient.WithJWTAndSeed(jwt, seed),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	err = client.Subscribe(ctx, "sensors.heartbeat", func(ctx context.Context, data []byte) {
//	    // decode a heartbeat
//	})
//
// # Poll Exchange
//
// Exchange reads one sensor. It subscribes to the read subject with
// AutoUnsubscribe(1) before publishing the trigger on the poll subject, so a
// fast reply cannot be missed, then waits for the single reply or the
// timeout:
//
//	reply, err := client.Exchange(ctx, "plant.temp01.poll", "plant.temp01.read",
//	    []byte("poll"), 500*time.Millisecond)
//
// A timeout or a cancelled context is returned as a transient error.
//
// # JetStream
//
// CreateStream declares a stream idempotently and PublishToStream publishes
// with acknowledgement. They back the stream result sink.
//
// # Testing
//
// NewTestServer starts a NATS server in a container via testcontainers-go.
// Integration tests skip under -short.
package natsclient
