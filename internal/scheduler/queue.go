package scheduler

import (
	"container/heap"
	"context"
	"math"
	"time"

	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

// submitWindowMicros is the sliding window the queue paces against (60s).
const submitWindowMicros = quant.TimeStamp(60_000_000)

// QueuedOrder is a slice waiting for submission capacity. PriorityMicros is
// the slice's notional; larger legs go out first so the plan's biggest
// exposures move before the window fills.
type QueuedOrder struct {
	Slice          OrderSlice
	PriorityMicros int64

	seq uint64 // FIFO tiebreak within equal priority
}

type orderHeap []*QueuedOrder

func (h orderHeap) Len() int { return len(h) }
func (h orderHeap) Less(i, j int) bool {
	if h[i].PriorityMicros != h[j].PriorityMicros {
		return h[i].PriorityMicros > h[j].PriorityMicros
	}
	return h[i].seq < h[j].seq
}
func (h orderHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *orderHeap) Push(x any) { *h = append(*h, x.(*QueuedOrder)) }
func (h *orderHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue paces order submission under a max-per-minute budget. It never
// blocks: ProcessBatch submits what the current window allows and returns.
// Not safe for concurrent use; the sequencer owns it.
type Queue struct {
	maxPerMinute int
	pending      orderHeap
	submitted    []quant.TimeStamp
	seq          uint64
}

// NewQueue creates a submission queue with the given per-minute budget.
// A non-positive budget disables pacing.
func NewQueue(maxPerMinute int) *Queue {
	return &Queue{maxPerMinute: maxPerMinute}
}

// Enqueue adds a slice with the given priority.
func (q *Queue) Enqueue(slice OrderSlice, priorityMicros int64) {
	q.seq++
	heap.Push(&q.pending, &QueuedOrder{
		Slice:          slice,
		PriorityMicros: priorityMicros,
		seq:            q.seq,
	})
}

// Len returns the number of slices still waiting.
func (q *Queue) Len() int {
	return q.pending.Len()
}

// Capacity reports how many more submissions the window allows right now.
func (q *Queue) Capacity(now quant.TimeStamp) int {
	if q.maxPerMinute <= 0 {
		return math.MaxInt
	}
	q.submitted = pruneSubmitted(q.submitted, now)
	c := q.maxPerMinute - len(q.submitted)
	if c < 0 {
		return 0
	}
	return c
}

// ProcessBatch pops the highest-priority slices up to the window's remaining
// capacity and hands each to submit. A submit error re-queues the slice and
// ends the batch; a successful submission consumes one window slot. Returns
// the number submitted.
func (q *Queue) ProcessBatch(now quant.TimeStamp, submit func(OrderSlice) error) int {
	n := 0
	for q.pending.Len() > 0 && q.Capacity(now) > 0 {
		item := heap.Pop(&q.pending).(*QueuedOrder)
		if err := submit(item.Slice); err != nil {
			heap.Push(&q.pending, item)
			return n
		}
		q.submitted = append(q.submitted, now)
		n++
	}
	return n
}

// DropSymbol removes every pending slice for symbol and returns how many
// were dropped. Used when a remainder escalates to a single market order.
func (q *Queue) DropSymbol(symbol string) int {
	kept := q.pending[:0]
	dropped := 0
	for _, item := range q.pending {
		if item.Slice.Symbol == symbol {
			dropped++
			continue
		}
		kept = append(kept, item)
	}
	q.pending = kept
	heap.Init(&q.pending)
	return dropped
}

// WaitForCapacity polls until at least one window slot frees up or the
// context ends. Live trading only; replay drives ProcessBatch directly off
// bar timestamps and never waits.
func (q *Queue) WaitForCapacity(ctx context.Context, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if q.Capacity(quant.TimeStamp(time.Now().UnixMicro())) > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func pruneSubmitted(window []quant.TimeStamp, now quant.TimeStamp) []quant.TimeStamp {
	cutoff := now - submitWindowMicros
	i := 0
	for i < len(window) && window[i] <= cutoff {
		i++
	}
	return window[i:]
}
