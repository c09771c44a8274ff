package monitor

import (
	"sync/atomic"
)

// StoreStats counts engine activity. All counters are updated atomically
// and safe for concurrent use.
type StoreStats struct {
	ReadCount      uint64
	WriteCount     uint64
	RemoveCount    uint64
	HitCount       uint64
	MissCount      uint64
	EvictionCount  uint64
	WriteBackCount uint64
	SplitCount     uint64
	MergeCount     uint64
}

func NewStoreStats() *StoreStats {
	return &StoreStats{}
}

func (st *StoreStats) RecordRead() {
	atomic.AddUint64(&st.ReadCount, 1)
}

func (st *StoreStats) RecordWrite() {
	atomic.AddUint64(&st.WriteCount, 1)
}

func (st *StoreStats) RecordRemove() {
	atomic.AddUint64(&st.RemoveCount, 1)
}

func (st *StoreStats) RecordHit() {
	atomic.AddUint64(&st.HitCount, 1)
}

func (st *StoreStats) RecordMiss() {
	atomic.AddUint64(&st.MissCount, 1)
}

func (st *StoreStats) RecordEviction() {
	atomic.AddUint64(&st.EvictionCount, 1)
}

func (st *StoreStats) RecordWriteBack() {
	atomic.AddUint64(&st.WriteBackCount, 1)
}

func (st *StoreStats) RecordSplit() {
	atomic.AddUint64(&st.SplitCount, 1)
}

func (st *StoreStats) RecordMerge() {
	atomic.AddUint64(&st.MergeCount, 1)
}

// HitRatio is cache hits over all page lookups.
func (st *StoreStats) HitRatio() float64 {
	hits := atomic.LoadUint64(&st.HitCount)
	misses := atomic.LoadUint64(&st.MissCount)
	if hits+misses == 0 {
		return 0.0
	}
	return float64(hits) / float64(hits+misses)
}

// Snapshot returns a point-in-time copy of every counter for reporting.
func (st *StoreStats) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"reads":        atomic.LoadUint64(&st.ReadCount),
		"writes":       atomic.LoadUint64(&st.WriteCount),
		"removes":      atomic.LoadUint64(&st.RemoveCount),
		"cache_hits":   atomic.LoadUint64(&st.HitCount),
		"cache_misses": atomic.LoadUint64(&st.MissCount),
		"evictions":    atomic.LoadUint64(&st.EvictionCount),
		"write_backs":  atomic.LoadUint64(&st.WriteBackCount),
		"splits":       atomic.LoadUint64(&st.SplitCount),
		"merges":       atomic.LoadUint64(&st.MergeCount),
	}
}
