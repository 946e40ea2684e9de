// Package provider runs one polling session per linked consumer.
//
// # Sessions
//
// A link (consumer id plus values) is attached with Manager.Attach. The
// values are merged onto the provider's default connection, a bus is dialed
// and connected with retry, and the session subscribes to its heartbeat
// subjects. Sessions share nothing but the process: each owns its bus
// connection, sensor registry, schedule and sinks.
//
// Inside a session data flows in one direction:
//
//	heartbeat → intake pool → registry (insert if absent) → schedule
//	tick → registry.Resolve → poller.Poll → publisher → sinks
//
// The intake pool is bounded. When it is full the heartbeat subscription
// waits for room instead of discarding heartbeats. A sensor is added to the
// registry and the schedule as one step, and RemoveSensor takes it out of
// both.
//
// # Teardown
//
// Detach and ShutdownAll cancel the session context, stop the schedule and
// the intake, then close the bus, which releases every subscription. A
// session that reconnects after a dropped connection reports the loss in its
// health until the bus is back.
//
// # Control API
//
// ControlServer exposes attach, detach and list over NATS request/reply on
// <prefix>.link.put, <prefix>.link.del and <prefix>.link.list:
//
//	srv := provider.NewControlServer(client, manager, "iiot.poller", logger)
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//
// A put request carries {"consumer_id": "...", "values": {...}}; replies are
// {"ok": true} or {"ok": false, "error": "..."}.
package provider
