// Package schedule groups sensors by poll interval and runs one ticker
// goroutine per non-empty interval bucket.
//
// A bucket is created by the first Add for its interval, which also starts
// its ticker. The ticker fires once immediately and then every interval.
// Ticks of one bucket never overlap: the tick handler runs on the ticker
// goroutine and time.Ticker drops ticks that fall due while it is busy.
// When a bucket becomes empty its ticker exits and the bucket is deleted, so
// a later Add for the same interval starts a fresh ticker.
//
// Each tick hands the handler a snapshot of the bucket's members:
//
//	m := schedule.NewManager(ctx, func(ctx context.Context, intervalMs uint64, ids []uuid.UUID) {
//	    // resolve ids and poll them
//	})
//	m.Add(sensorID, 10000) // true: a ticker for 10s was started
//	m.Remove(sensorID)     // the 10s bucket is empty and its ticker exits
//	m.Stop()
//
// Stop cancels every ticker and waits for running ticks to return. Adds
// after Stop are ignored.
package schedule
