package stream

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/simrecord/internal/monitoring"
)

// Mode selects how samples of different streams are matched.
type Mode string

const (
	// ModeExact matches samples whose stamps are identical.
	ModeExact Mode = "exact"
	// ModeApproximate matches samples whose stamps lie within a tolerance.
	ModeApproximate Mode = "approximate"
)

// ParseMode validates a mode name. The empty string selects ModeApproximate.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeExact, ModeApproximate:
		return m, nil
	case "":
		return ModeApproximate, nil
	}
	return "", fmt.Errorf("unknown sync mode %q (want exact or approximate)", s)
}

// DefaultHistory is the number of unmatched samples kept per stream.
const DefaultHistory = 50

// Options configures a Synchronizer.
type Options struct {
	Mode      Mode
	Tolerance time.Duration // ModeApproximate only
	History   int           // per stream; DefaultHistory when zero
}

// Synchronizer groups one sample per stream into a Record.
//
// Each stream keeps a bounded, stamp-ordered history. After every Add the
// synchronizer looks for the tuple, one sample per stream, with the smallest
// span (latest stamp minus earliest stamp). Ties go to the tuple with the
// earlier minimum stamp, then the earlier maximum stamp. The tuple is emitted
// when its span is within the tolerance; ModeExact uses a tolerance of zero.
// After a match every stream discards the matched sample and anything older,
// and later samples at or before that stamp are rejected, so no sample is
// ever used twice and records are emitted in stamp order.
//
// A stream that never receives samples blocks emission indefinitely.
type Synchronizer struct {
	schema    *Schema
	mode      Mode
	tolerance int64
	history   int

	mu        sync.Mutex
	queues    [][]Sample
	watermark []int64
	onRecord  func(Record)
	emitted   uint64
	discarded uint64
}

// NewSynchronizer creates a synchronizer over the streams of schema.
func NewSynchronizer(schema *Schema, opts Options) (*Synchronizer, error) {
	if schema == nil {
		return nil, errors.New("synchronizer needs a schema")
	}
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	if opts.Tolerance < 0 {
		return nil, fmt.Errorf("tolerance must be non-negative, got %s", opts.Tolerance)
	}
	history := opts.History
	if history == 0 {
		history = DefaultHistory
	}
	if history < 1 {
		return nil, fmt.Errorf("history must be positive, got %d", history)
	}

	s := &Synchronizer{
		schema:    schema,
		mode:      mode,
		history:   history,
		queues:    make([][]Sample, schema.Len()),
		watermark: make([]int64, schema.Len()),
	}
	if mode == ModeApproximate {
		s.tolerance = opts.Tolerance.Nanoseconds()
	}
	for i := range s.watermark {
		s.watermark[i] = math.MinInt64
	}
	return s, nil
}

// Mode returns the matching mode.
func (s *Synchronizer) Mode() Mode { return s.mode }

// OnRecord registers the callback receiving each record. It is called with the
// synchronizer's lock held and must not block or call back into Add.
func (s *Synchronizer) OnRecord(fn func(Record)) {
	s.mu.Lock()
	s.onRecord = fn
	s.mu.Unlock()
}

// Add offers a sample and emits every record that becomes complete. Samples
// at or before the last matched stamp of their stream are discarded.
func (s *Synchronizer) Add(sample Sample) error {
	if err := s.schema.Check(sample.Key, sample.Payload); err != nil {
		return err
	}
	idx, _ := s.schema.Index(sample.Key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if sample.Stamp <= s.watermark[idx] {
		s.discarded++
		monitoring.Debugf("[Sync] %s: discarding late sample at %d (last matched %d)",
			sample.Key, sample.Stamp, s.watermark[idx])
		return nil
	}

	q := s.queues[idx]
	pos := sort.Search(len(q), func(i int) bool { return q[i].Stamp > sample.Stamp })
	q = append(q, Sample{})
	copy(q[pos+1:], q[pos:])
	q[pos] = sample
	if len(q) > s.history {
		s.discarded += uint64(len(q) - s.history)
		q = q[len(q)-s.history:]
	}
	s.queues[idx] = q

	for {
		pick, ok := s.bestTuple()
		if !ok {
			return nil
		}
		s.emit(pick)
	}
}

// bestTuple returns, per stream, the history index of the best matching
// tuple within tolerance.
func (s *Synchronizer) bestTuple() ([]int, bool) {
	for _, q := range s.queues {
		if len(q) == 0 {
			return nil, false
		}
	}

	n := len(s.queues)
	pick := make([]int, n)
	var best []int
	var bestMin, bestMax int64

	for si, q := range s.queues {
		for qi, cand := range q {
			lo, hi := cand.Stamp, cand.Stamp
			complete := true
			for sj, other := range s.queues {
				if sj == si {
					pick[sj] = qi
					continue
				}
				k := sort.Search(len(other), func(i int) bool { return other[i].Stamp >= lo })
				if k == len(other) {
					complete = false
					break
				}
				pick[sj] = k
				if other[k].Stamp > hi {
					hi = other[k].Stamp
				}
			}
			if !complete {
				// Later candidates of this stream are no earlier.
				break
			}
			if hi-lo > s.tolerance {
				continue
			}
			if best == nil || better(lo, hi, bestMin, bestMax) {
				best = append(best[:0], pick...)
				bestMin, bestMax = lo, hi
			}
		}
	}
	return best, best != nil
}

func better(lo, hi, bestLo, bestHi int64) bool {
	span, bestSpan := hi-lo, bestHi-bestLo
	if span != bestSpan {
		return span < bestSpan
	}
	if lo != bestLo {
		return lo < bestLo
	}
	return hi < bestHi
}

func (s *Synchronizer) emit(pick []int) {
	rec := Record{Samples: make([]Sample, len(pick))}
	for i, k := range pick {
		q := s.queues[i]
		rec.Samples[i] = q[k]
		s.watermark[i] = q[k].Stamp
		if k > 0 {
			s.discarded += uint64(k)
			monitoring.Debugf("[Sync] %s: dropping %d stale samples", q[k].Key, k)
		}
		s.queues[i] = q[k+1:]
	}
	rec.Stamp = rec.Samples[0].Stamp
	s.emitted++
	if s.onRecord != nil {
		s.onRecord(rec)
	}
}

// Pending returns the number of unmatched samples held per stream, in schema order.
func (s *Synchronizer) Pending() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.queues))
	for i, q := range s.queues {
		out[i] = len(q)
	}
	return out
}

// Stats returns the number of records emitted and samples discarded.
func (s *Synchronizer) Stats() (emitted, discarded uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitted, s.discarded
}
