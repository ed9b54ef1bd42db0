package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/banshee-data/simrecord/internal/container"
	"github.com/banshee-data/simrecord/internal/monitoring"
	"github.com/banshee-data/simrecord/internal/recorder"
	"github.com/banshee-data/simrecord/internal/stream"
)

// feedLine is one line of the JSON-lines feed read from stdin. The first
// line must be of type "streams" and list the published stream keys.
type feedLine struct {
	Type string `json:"type"`

	// streams
	Keys []string `json:"keys,omitempty"`

	// sample: stamp in nanoseconds; events: stamp in seconds
	Key    string       `json:"key,omitempty"`
	Stamp  json.Number  `json:"stamp,omitempty"`
	Values []float64    `json:"values,omitempty"`
	Size   float64      `json:"size,omitempty"`
	Force  [3]float64   `json:"force,omitempty"`
	Torque [3]float64   `json:"torque,omitempty"`
	Index  [][3]int64   `json:"indices,omitempty"`
	Colors [][4]float64 `json:"colors,omitempty"`
	Dims   [3]float64   `json:"dimensions,omitempty"`
	Count  [3]int       `json:"voxel_count,omitempty"`
}

// feed decodes a JSON-lines stream of samples and events.
type feed struct {
	scanner *bufio.Scanner
	schema  *stream.Schema
	line    int
}

func newFeed(r io.Reader, schema *stream.Schema) *feed {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 256*1024*1024)
	return &feed{scanner: s, schema: schema}
}

func (f *feed) next() (*feedLine, error) {
	for f.scanner.Scan() {
		f.line++
		b := f.scanner.Bytes()
		if len(b) == 0 {
			continue
		}
		var l feedLine
		if err := json.Unmarshal(b, &l); err != nil {
			return nil, fmt.Errorf("line %d: %w", f.line, err)
		}
		return &l, nil
	}
	if err := f.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Available reads the leading "streams" line.
func (f *feed) Available() ([]string, error) {
	l, err := f.next()
	if err != nil {
		return nil, fmt.Errorf("reading stream list: %w", err)
	}
	if l.Type != "streams" {
		return nil, fmt.Errorf("line %d: first line must be of type \"streams\", got %q", f.line, l.Type)
	}
	return l.Keys, nil
}

// Run dispatches every remaining line until EOF or ctx is cancelled. Bad
// lines are logged and skipped.
func (f *feed) Run(ctx context.Context, rec *recorder.Recorder) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		l, err := f.next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := f.dispatch(l, rec); err != nil {
			monitoring.Logf("[Feed] line %d: %v", f.line, err)
		}
	}
}

func (f *feed) dispatch(l *feedLine, rec *recorder.Recorder) error {
	ev := rec.Events()
	switch l.Type {
	case "sample":
		stamp, err := l.Stamp.Int64()
		if err != nil {
			return fmt.Errorf("sample stamp: %w", err)
		}
		payload, err := f.payload(l.Key, l.Values)
		if err != nil {
			return err
		}
		return rec.Add(stream.Sample{Key: l.Key, Stamp: stamp, Payload: payload})
	case "voxel":
		stamp, err := l.Stamp.Float64()
		if err != nil {
			return fmt.Errorf("voxel stamp: %w", err)
		}
		return ev.RecordVoxelRemoval(stamp, l.Index, l.Colors)
	case "burr":
		stamp, err := l.Stamp.Float64()
		if err != nil {
			return fmt.Errorf("burr stamp: %w", err)
		}
		ev.RecordBurrChange(stamp, l.Size)
		return nil
	case "force":
		stamp, err := l.Stamp.Float64()
		if err != nil {
			return fmt.Errorf("force stamp: %w", err)
		}
		ev.RecordForceFeedback(stamp, l.Force, l.Torque)
		return nil
	case "volume":
		return ev.RecordVolumeInfo(l.Dims, l.Count)
	}
	return fmt.Errorf("unknown line type %q", l.Type)
}

// payload converts flat values to the payload type of key.
func (f *feed) payload(key string, values []float64) (container.Array, error) {
	sp, ok := f.schema.Lookup(key)
	if !ok {
		return container.Array{}, fmt.Errorf("%w: %q", stream.ErrUnknownStream, key)
	}
	switch sp.Kind {
	case stream.KindImage:
		img := make([]uint8, len(values))
		for i, v := range values {
			if math.IsNaN(v) || v < 0 || v > math.MaxUint8 {
				return container.Array{}, fmt.Errorf("%w: image value %v at %d is outside 0..255",
					stream.ErrShapeMismatch, v, i)
			}
			img[i] = uint8(v)
		}
		return stream.Image(sp.Height, sp.Width, img)
	case stream.KindDepth:
		depth := make([]float32, len(values))
		for i, v := range values {
			depth[i] = float32(v)
		}
		return stream.Depth(sp.Height, sp.Width, depth)
	case stream.KindPose:
		return stream.Pose(values)
	case stream.KindWrench:
		if len(values) != 6 {
			return container.Array{}, fmt.Errorf("%w: wrench needs 6 values, got %d", stream.ErrShapeMismatch, len(values))
		}
		return stream.Wrench([3]float64{values[0], values[1], values[2]}, [3]float64{values[3], values[4], values[5]}), nil
	}
	return container.Array{}, fmt.Errorf("stream %s has unsupported kind %q", key, sp.Kind)
}
