// Package recorder accumulates synchronized records and asynchronous events
// and persists them as a sequence of chunk files.
//
// Producers feed samples into the Recorder's synchronizer and events into
// its EventAggregator from any goroutine. A single persistence loop owns the
// record buffers and the output file: it drains the ingest queue, and after
// every ChunkSize records flushes and rotates to a new file. Stop performs
// one final flush before the recorder reports Finished.
package recorder

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/simrecord/internal/ingest"
	"github.com/banshee-data/simrecord/internal/monitoring"
	"github.com/banshee-data/simrecord/internal/stream"
	"github.com/banshee-data/simrecord/internal/timeutil"
)

// DefaultChunkSize is the number of records per file.
const DefaultChunkSize = 500

// DefaultPollInterval is how long the loop sleeps on an empty queue.
const DefaultPollInterval = 2 * time.Millisecond

// progressEvery is the record interval of the progress log line.
const progressEvery = 5

// State is the lifecycle state of a Recorder.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Config configures a Recorder.
type Config struct {
	ChunkSize    int
	PollInterval time.Duration
	Sync         stream.Options
	Writer       WriterConfig
	Scale        float64 // scene units to metres, for the voxel volume
	Metrics      *monitoring.Metrics
}

// Recorder wires the synchronizer, ingest queue, buffers, event aggregator
// and writer together and runs the persistence loop.
type Recorder struct {
	schema  *stream.Schema
	sync    *stream.Synchronizer
	queue   *ingest.Queue
	buffers *Buffers
	events  *EventAggregator
	writer  *Writer
	clock   timeutil.Clock
	metrics *monitoring.Metrics

	chunkSize int
	poll      time.Duration

	state    atomic.Int32
	count    atomic.Int64 // records since the last rotation
	total    atomic.Uint64
	finished atomic.Bool

	errMu   sync.Mutex
	lastErr error

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates an idle recorder for schema.
func New(schema *stream.Schema, cfg Config) (*Recorder, error) {
	if schema == nil {
		return nil, errors.New("recorder needs a schema")
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Writer.Clock == nil {
		cfg.Writer.Clock = timeutil.RealClock{}
	}

	synchronizer, err := stream.NewSynchronizer(schema, cfg.Sync)
	if err != nil {
		return nil, err
	}
	queue, err := ingest.NewQueue(2 * cfg.ChunkSize)
	if err != nil {
		return nil, err
	}
	buffers := NewBuffers(schema)
	events := NewEventAggregator(cfg.Scale)
	writer, err := NewWriter(schema, buffers, events, cfg.Writer, cfg.Metrics)
	if err != nil {
		return nil, err
	}

	r := &Recorder{
		schema:    schema,
		sync:      synchronizer,
		queue:     queue,
		buffers:   buffers,
		events:    events,
		writer:    writer,
		clock:     cfg.Writer.Clock,
		metrics:   cfg.Metrics,
		chunkSize: cfg.ChunkSize,
		poll:      cfg.PollInterval,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}

	queue.OnAccept(cfg.Metrics.IncAccepted)
	queue.OnDrop(cfg.Metrics.IncDropped)
	synchronizer.OnRecord(func(rec stream.Record) {
		r.metrics.IncSynchronized()
		r.queue.Push(rec)
	})
	return r, nil
}

// Add offers one decoded sample to the synchronizer.
func (r *Recorder) Add(sample stream.Sample) error {
	return r.sync.Add(sample)
}

// Events returns the aggregator receiving voxel, burr and force events.
func (r *Recorder) Events() *EventAggregator { return r.events }

// Queue returns the ingest queue between the synchronizer and the loop.
func (r *Recorder) Queue() *ingest.Queue { return r.queue }

// Synchronizer returns the synchronizer feeding the queue.
func (r *Recorder) Synchronizer() *stream.Synchronizer { return r.sync }

// SessionID identifies this recording session in every file.
func (r *Recorder) SessionID() string { return r.writer.SessionID() }

// State returns the current lifecycle state.
func (r *Recorder) State() State { return State(r.state.Load()) }

// Count returns the number of records accepted since the last rotation.
func (r *Recorder) Count() int { return int(r.count.Load()) }

// Total returns the number of records accepted since Start.
func (r *Recorder) Total() uint64 { return r.total.Load() }

// Finished reports whether the final flush has completed.
func (r *Recorder) Finished() bool { return r.finished.Load() }

// Err returns the most recent flush or rotation failure.
func (r *Recorder) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.lastErr
}

// Files returns the files opened so far. Call it after Wait.
func (r *Recorder) Files() []string { return r.writer.Files() }

// Start checks that every schema stream is among available, opens the first
// file and starts the persistence loop.
func (r *Recorder) Start(available []string) error {
	if r.State() != StateIdle {
		return fmt.Errorf("recorder is %s", r.State())
	}
	if err := r.schema.CheckAvailable(available); err != nil {
		return err
	}
	if err := r.writer.Open(); err != nil {
		return err
	}
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		r.writer.Close()
		return fmt.Errorf("recorder is %s", r.State())
	}

	monitoring.Logf("[Recorder] recording %d streams, chunk size %d, sync %s", r.schema.Len(), r.chunkSize, r.sync.Mode())
	go r.loop()
	return nil
}

// Stop asks the loop to exit. The loop drains the records queued at that
// moment, performs one final flush and then reports Finished. Stop does not
// wait; use Wait.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		if r.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
			r.finished.Store(true)
			close(r.done)
			return
		}
		r.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
		close(r.stopCh)
	})
}

// Wait blocks until the recorder has stopped.
func (r *Recorder) Wait() {
	<-r.done
}

func (r *Recorder) loop() {
	defer close(r.done)

	for {
		select {
		case <-r.stopCh:
			r.drain()
			return
		default:
		}

		rec, ok := r.queue.TryPop()
		if !ok {
			r.clock.Sleep(r.poll)
			continue
		}
		r.accept(rec)
	}
}

func (r *Recorder) accept(rec stream.Record) {
	r.metrics.SetQueueDepth(r.queue.Len())
	if err := r.buffers.Append(rec); err != nil {
		monitoring.Logf("[Recorder] dropping record at %d: %v", rec.Stamp, err)
		return
	}
	n := r.count.Add(1)
	if n%progressEvery == 0 {
		monitoring.Logf("[Recorder] Recording data: %s", strings.Repeat("#", int(n)/10))
	}
	if int(n) >= r.chunkSize {
		r.flushAndRotate()
	}
	r.total.Add(1)
}

// flushAndRotate writes the current chunk and opens the next file. The
// counter is reset even when the flush fails: the buffers are always emptied.
func (r *Recorder) flushAndRotate() {
	if err := r.writer.Flush(); err != nil {
		r.setErr(err)
		monitoring.Logf("[Recorder] %v", err)
	}
	if err := r.writer.Rotate(); err != nil {
		r.setErr(err)
		monitoring.Logf("[Recorder] rotation failed, retrying at next flush: %v", err)
	}
	r.count.Store(0)
}

func (r *Recorder) drain() {
	for i, n := 0, r.queue.Len(); i < n; i++ {
		rec, ok := r.queue.TryPop()
		if !ok {
			break
		}
		r.accept(rec)
	}

	monitoring.Logf("[Recorder] stopping, final flush of %d records", r.buffers.Records())
	if err := r.writer.Flush(); err != nil {
		r.setErr(err)
		monitoring.Logf("[Recorder] %v", err)
	}
	r.count.Store(0)

	r.state.Store(int32(StateStopped))
	r.finished.Store(true)
	monitoring.Logf("[Recorder] stopped after %d records in %d files", r.total.Load(), len(r.writer.Files()))
}

func (r *Recorder) setErr(err error) {
	r.errMu.Lock()
	r.lastErr = err
	r.errMu.Unlock()
}
