package recorder

import (
	"fmt"

	"github.com/banshee-data/simrecord/internal/container"
	"github.com/banshee-data/simrecord/internal/stream"
)

// Buffers accumulates the payloads of synchronized records per stream
// between flushes. It is owned by the persistence loop and is not safe for
// concurrent use.
type Buffers struct {
	schema *stream.Schema
	data   [][]container.Array // schema order
	times  []float64           // seconds, one per record
}

// NewBuffers creates empty buffers for every stream of schema.
func NewBuffers(schema *stream.Schema) *Buffers {
	return &Buffers{
		schema: schema,
		data:   make([][]container.Array, schema.Len()),
	}
}

// Append adds one payload per stream plus the record time.
func (b *Buffers) Append(rec stream.Record) error {
	if len(rec.Samples) != len(b.data) {
		return fmt.Errorf("record has %d samples, schema has %d streams", len(rec.Samples), len(b.data))
	}
	for i, s := range rec.Samples {
		if j, ok := b.schema.Index(s.Key); !ok || j != i {
			return fmt.Errorf("record sample %d is %q, out of schema order", i, s.Key)
		}
	}
	for i, s := range rec.Samples {
		b.data[i] = append(b.data[i], s.Payload)
	}
	b.times = append(b.times, rec.Seconds())
	return nil
}

// AppendSample adds a single payload to the buffer of key.
func (b *Buffers) AppendSample(key string, payload container.Array) error {
	i, ok := b.schema.Index(key)
	if !ok {
		return fmt.Errorf("%w: %q", stream.ErrUnknownStream, key)
	}
	b.data[i] = append(b.data[i], payload)
	return nil
}

// Snapshot returns the buffered payloads of key. The slice is valid until
// the next Reset of key.
func (b *Buffers) Snapshot(key string) []container.Array {
	i, ok := b.schema.Index(key)
	if !ok {
		return nil
	}
	return b.data[i]
}

// Times returns the buffered record times in seconds.
func (b *Buffers) Times() []float64 { return b.times }

// Len returns the number of payloads buffered for key.
func (b *Buffers) Len(key string) int {
	return len(b.Snapshot(key))
}

// Records returns the number of records appended since the last ResetAll.
func (b *Buffers) Records() int { return len(b.times) }

// Reset empties the buffer of key, keeping its capacity. Record times are
// kept while any stream still holds payloads and cleared with the last one.
func (b *Buffers) Reset(key string) {
	i, ok := b.schema.Index(key)
	if !ok {
		return
	}
	clear(b.data[i])
	b.data[i] = b.data[i][:0]
	for _, d := range b.data {
		if len(d) > 0 {
			return
		}
	}
	b.times = b.times[:0]
}

// ResetAll empties every buffer.
func (b *Buffers) ResetAll() {
	for _, key := range b.schema.Keys() {
		b.Reset(key)
	}
	b.times = b.times[:0]
}
