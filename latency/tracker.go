package latency

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/coder/quartz"
)

// noEpoch marks a bucket that has never been written.
const noEpoch = math.MinInt64

// Tracker records latencies of successful requests over a rolling time
// window and answers percentile queries with bounded relative error.
//
// The tracker is safe for concurrent use.
type Tracker struct {
	cfg   Config
	clock quartz.Clock
	width int64

	slots []*slot
	max   *windowMax

	// total counts every sample ever recorded, including expired ones.
	total atomic.Int64

	// mergeMu guards merged, the scratch histogram used by readers.
	mergeMu sync.Mutex
	merged  *hdrhistogram.Histogram
}

// slot is one bucket of the rolling window.
type slot struct {
	mu    sync.Mutex
	epoch int64
	hist  *hdrhistogram.Histogram
	count int64
	sum   int64
}

// Snapshot is a point-in-time summary of the samples inside the window.
type Snapshot struct {
	Count int64
	Sum   time.Duration
	Mean  time.Duration
	Max   time.Duration
	P50   time.Duration
	P90   time.Duration
	P95   time.Duration
	P99   time.Duration
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock used to place samples into buckets.
// Tests pass a quartz.Mock to rotate the window deterministically.
func WithClock(clock quartz.Clock) Option {
	return func(t *Tracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// NewTracker creates a Tracker from cfg.
//
// Example:
//
//	tracker, err := latency.NewTracker(latency.DefaultConfig())
func NewTracker(cfg Config, opts ...Option) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Tracker{
		cfg:    cfg,
		clock:  quartz.NewReal(),
		width:  int64(cfg.bucketWidth()),
		slots:  make([]*slot, cfg.Buckets),
		max:    newWindowMax(cfg.Buckets),
		merged: cfg.newHistogram(),
	}
	for i := range t.slots {
		t.slots[i] = &slot{epoch: noEpoch, hist: cfg.newHistogram()}
	}

	for _, opt := range opts {
		opt(t)
	}

	return t, nil
}

// NewDefaultTracker creates a Tracker using DefaultConfig.
func NewDefaultTracker(opts ...Option) *Tracker {
	t, err := NewTracker(DefaultConfig(), opts...)
	if err != nil {
		// DefaultConfig always validates.
		panic(err)
	}
	return t
}

// Record adds a latency sample to the current bucket.
//
// Negative durations are recorded as zero and durations above
// Config.HighestTrackable are clamped to it.
func (t *Tracker) Record(d time.Duration) {
	v := t.clamp(d)
	epoch := t.epoch(t.clock.Now())

	if !t.slots[t.index(epoch)].record(epoch, v) {
		return
	}
	t.max.record(epoch, v)
	t.total.Add(1)
}

// Percentile returns the latency at percentile p (0 to 1, e.g. 0.95 for
// P95) across the window. It returns 0 when the window holds no samples.
func (t *Tracker) Percentile(p float64) time.Duration {
	p = math.Max(0, math.Min(1, p))

	t.mergeMu.Lock()
	defer t.mergeMu.Unlock()

	epoch := t.epoch(t.clock.Now())
	count, _ := t.mergeLocked(epoch)
	if count == 0 {
		return 0
	}

	return t.capToMax(t.merged.ValueAtQuantile(p*100), epoch)
}

// Snapshot summarizes the samples currently inside the window.
func (t *Tracker) Snapshot() Snapshot {
	t.mergeMu.Lock()
	defer t.mergeMu.Unlock()

	epoch := t.epoch(t.clock.Now())
	count, sum := t.mergeLocked(epoch)
	if count == 0 {
		return Snapshot{}
	}

	return Snapshot{
		Count: count,
		Sum:   time.Duration(sum),
		Mean:  time.Duration(sum / count),
		Max:   time.Duration(t.max.value(epoch, t.cfg.Buckets)),
		P50:   t.capToMax(t.merged.ValueAtQuantile(50), epoch),
		P90:   t.capToMax(t.merged.ValueAtQuantile(90), epoch),
		P95:   t.capToMax(t.merged.ValueAtQuantile(95), epoch),
		P99:   t.capToMax(t.merged.ValueAtQuantile(99), epoch),
	}
}

// Count returns the number of samples currently inside the window.
func (t *Tracker) Count() int64 {
	epoch := t.epoch(t.clock.Now())

	var count int64
	for _, s := range t.slots {
		s.mu.Lock()
		if t.live(s.epoch, epoch) {
			count += s.count
		}
		s.mu.Unlock()
	}
	return count
}

// TotalCount returns the number of samples recorded since creation or the
// last Reset, including samples that have already expired.
func (t *Tracker) TotalCount() int64 {
	return t.total.Load()
}

// Reset clears all tracked data.
func (t *Tracker) Reset() {
	for _, s := range t.slots {
		s.mu.Lock()
		s.resetLocked(noEpoch)
		s.mu.Unlock()
	}
	t.max.reset()
	t.total.Store(0)
}

// mergeLocked folds every live bucket into t.merged. Caller holds mergeMu.
func (t *Tracker) mergeLocked(epoch int64) (count, sum int64) {
	t.merged.Reset()
	for _, s := range t.slots {
		s.mu.Lock()
		if t.live(s.epoch, epoch) && s.count > 0 {
			t.merged.Merge(s.hist)
			count += s.count
			sum += s.sum
		}
		s.mu.Unlock()
	}
	return count, sum
}

// capToMax bounds a histogram value by the exact windowed maximum. Histogram
// values are the highest equivalent value of their bucket and may overshoot.
// Callers only use it on a non-empty window.
func (t *Tracker) capToMax(v, epoch int64) time.Duration {
	if m := t.max.value(epoch, t.cfg.Buckets); v > m {
		v = m
	}
	return time.Duration(v)
}

func (t *Tracker) clamp(d time.Duration) int64 {
	switch {
	case d < 0:
		return 0
	case d > t.cfg.HighestTrackable:
		return int64(t.cfg.HighestTrackable)
	}
	return int64(d)
}

func (t *Tracker) epoch(now time.Time) int64 {
	return now.UnixNano() / t.width
}

func (t *Tracker) index(epoch int64) int {
	return bucketIndex(epoch, len(t.slots))
}

// live reports whether a bucket stamped with epoch still falls inside the
// window ending at current.
func (t *Tracker) live(epoch, current int64) bool {
	return epoch != noEpoch && epoch <= current && epoch > current-int64(len(t.slots))
}

// record adds v to the slot, rotating it first when epoch is newer than the
// slot's. It reports false when the slot has already moved past epoch.
func (s *slot) record(epoch, v int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch < s.epoch {
		return false
	}
	if epoch > s.epoch {
		s.resetLocked(epoch)
	}

	// v is clamped into the trackable range, so RecordValue cannot fail.
	_ = s.hist.RecordValue(v)
	s.count++
	s.sum += v
	return true
}

func (s *slot) resetLocked(epoch int64) {
	s.epoch = epoch
	s.hist.Reset()
	s.count = 0
	s.sum = 0
}

func (c Config) newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(
		int64(c.LowestTrackable),
		int64(c.HighestTrackable),
		c.SignificantDigits,
	)
}

func bucketIndex(epoch int64, n int) int {
	i := epoch % int64(n)
	if i < 0 {
		i += int64(n)
	}
	return int(i)
}
