package event

import "sync"

// barEventPool recycles BarEvents so a full-history replay does not allocate
// one event per bar.
var barEventPool = sync.Pool{
	New: func() any {
		return &BarEvent{}
	},
}

// AcquireBarEvent returns a zeroed BarEvent from the pool.
func AcquireBarEvent() *BarEvent {
	return barEventPool.Get().(*BarEvent)
}

// ReleaseBarEvent resets the event and returns it to the pool. The caller
// must not touch the event afterwards.
func ReleaseBarEvent(ev *BarEvent) {
	*ev = BarEvent{}
	barEventPool.Put(ev)
}
