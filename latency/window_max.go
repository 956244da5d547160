package latency

import "sync/atomic"

// windowMax tracks the maximum sample per bucket without locks.
//
// A sample racing with the rotation of its own bucket may be lost; the
// maximum is a tuning signal, not an accounting value.
type windowMax struct {
	slots []maxSlot
}

type maxSlot struct {
	epoch atomic.Int64
	value atomic.Int64
}

func newWindowMax(buckets int) *windowMax {
	w := &windowMax{slots: make([]maxSlot, buckets)}
	w.reset()
	return w
}

func (w *windowMax) record(epoch, v int64) {
	s := &w.slots[bucketIndex(epoch, len(w.slots))]

	for {
		current := s.epoch.Load()
		if current > epoch {
			return
		}
		if current == epoch {
			break
		}
		if s.epoch.CompareAndSwap(current, epoch) {
			s.value.Store(v)
			return
		}
	}

	for {
		old := s.value.Load()
		if v <= old || s.value.CompareAndSwap(old, v) {
			return
		}
	}
}

// value returns the largest sample across the buckets still inside the
// window ending at epoch.
func (w *windowMax) value(epoch int64, buckets int) int64 {
	var m int64
	for i := range w.slots {
		s := &w.slots[i]
		e := s.epoch.Load()
		if e == noEpoch || e > epoch || e <= epoch-int64(buckets) {
			continue
		}
		if v := s.value.Load(); v > m {
			m = v
		}
	}
	return m
}

func (w *windowMax) reset() {
	for i := range w.slots {
		w.slots[i].epoch.Store(noEpoch)
		w.slots[i].value.Store(0)
	}
}
