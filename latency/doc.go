// Package latency provides a time-windowed latency histogram for adaptive
// hedging decisions.
//
// A Tracker keeps a rolling window (two minutes by default) split into
// fixed-width buckets. Each bucket owns a log-linear HdrHistogram plus a
// count and a sum, and a separate rolling maximum is kept alongside. Writers
// compute their bucket from the current time, so the window rotates without
// a background goroutine: a bucket is cleared the first time a writer sees
// a newer clock id for its slot.
//
// # Quick Start
//
//	tracker, err := latency.NewTracker(latency.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//
//	tracker.Record(42 * time.Millisecond)
//	p95 := tracker.Percentile(0.95)
//
// # Empty Windows
//
// Queries against a window without samples never block and never fail:
// Percentile returns 0 and Snapshot returns a zero Snapshot. Callers that
// need to tell "no data" apart from a real zero should check Count first.
//
// # Concurrency
//
// All methods are safe for concurrent use. Reads observe some consistent
// prior state of every bucket; they are not linearizable with concurrent
// writes, which is fine for driving hedge delays.
package latency
