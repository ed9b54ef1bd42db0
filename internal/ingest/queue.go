// Package ingest holds the bounded hand-off between the synchronizer's
// delivery context and the persistence loop.
package ingest

import (
	"fmt"
	"sync/atomic"

	"github.com/banshee-data/simrecord/internal/monitoring"
	"github.com/banshee-data/simrecord/internal/stream"
)

// dropLogEvery limits drop logging to one line per this many drops.
const dropLogEvery = 100

// Queue is a bounded FIFO of records with one producer and one consumer.
// Push never blocks: when the queue is full the pushed record is dropped.
type Queue struct {
	ch       chan stream.Record
	pushed   atomic.Uint64
	dropped  atomic.Uint64
	onDrop   func()
	onAccept func()
}

// NewQueue creates a queue holding at most capacity records.
func NewQueue(capacity int) (*Queue, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("queue capacity must be positive, got %d", capacity)
	}
	return &Queue{ch: make(chan stream.Record, capacity)}, nil
}

// OnDrop and OnAccept register counters invoked on every push outcome. They
// must be set before the first Push.
func (q *Queue) OnDrop(fn func())   { q.onDrop = fn }
func (q *Queue) OnAccept(fn func()) { q.onAccept = fn }

// Push enqueues rec and reports whether it was accepted.
func (q *Queue) Push(rec stream.Record) bool {
	select {
	case q.ch <- rec:
		q.pushed.Add(1)
		if q.onAccept != nil {
			q.onAccept()
		}
		return true
	default:
		dropped := q.dropped.Add(1)
		if q.onDrop != nil {
			q.onDrop()
		}
		if dropped == 1 || dropped%dropLogEvery == 0 {
			monitoring.Logf("[Queue] queue full (%d), dropped record at %d (total dropped: %d)",
				cap(q.ch), rec.Stamp, dropped)
		}
		return false
	}
}

// TryPop dequeues the oldest record. ok is false when the queue is empty.
func (q *Queue) TryPop() (rec stream.Record, ok bool) {
	select {
	case rec = <-q.ch:
		return rec, true
	default:
		return stream.Record{}, false
	}
}

// Len returns the number of queued records.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Dropped returns the number of records dropped because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Pushed returns the number of records accepted.
func (q *Queue) Pushed() uint64 { return q.pushed.Load() }
