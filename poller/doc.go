// Package poller reads a cohort of sensors concurrently. Each sensor gets
// one exchange with its own timeout and the number of exchanges in flight
// is bounded.
//
// Poll always returns one Reading per sensor, in input order. All readings
// of a call share one timestamp, taken when the call starts and truncated to
// the second. A sensor that does not answer in time becomes a COMM_ERROR
// reading; a reply that is not a scalar becomes VALUE_ERROR. A failed
// exchange is never retried within the same call.
//
//	p := poller.New(bus,
//	    poller.WithFanOut(20),
//	    poller.WithTimeout(500*time.Millisecond),
//	)
//	readings := p.Poll(ctx, sensors)
//
// When ctx ends, sensors whose exchange has not started are reported as
// COMM_ERROR without touching the bus.
package poller
