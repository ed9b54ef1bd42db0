// Package synthetic produces simulated sensor samples and drilling events for
// development runs and end-to-end tests without a simulator attached.
package synthetic

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/banshee-data/simrecord/internal/container"
	"github.com/banshee-data/simrecord/internal/geometry"
	"github.com/banshee-data/simrecord/internal/monitoring"
	"github.com/banshee-data/simrecord/internal/stream"
)

// SampleSink receives stream samples, e.g. *recorder.Recorder.
type SampleSink interface {
	Add(stream.Sample) error
}

// EventSink receives drilling events, e.g. *recorder.EventAggregator.
type EventSink interface {
	RecordVoxelRemoval(stamp float64, indices [][3]int64, colors [][4]float64) error
	RecordBurrChange(stamp, size float64)
	RecordForceFeedback(stamp float64, force, torque [3]float64)
	RecordVolumeInfo(dimensions [3]float64, voxelCount [3]int) error
}

// Generator simulates a drill moving over a voxel volume, observed by the
// streams of a schema.
type Generator struct {
	schema *stream.Schema
	rng    *rand.Rand
	tick   uint64

	// Configuration
	FrameRate        float64       // ticks per second
	Jitter           time.Duration // max per-stream stamp offset
	VoxelProbability float64       // chance a tick removes voxels
	BurrEvery        int           // ticks between burr size changes
	VolumeDims       [3]float64    // metres
	VoxelCount       [3]int
	DrillRadius      float64 // metres, radius of the drill's circular path
}

// NewGenerator creates a generator for schema. seed fixes the random source.
func NewGenerator(schema *stream.Schema, seed int64) *Generator {
	return &Generator{
		schema:           schema,
		rng:              rand.New(rand.NewSource(seed)),
		FrameRate:        30,
		Jitter:           2 * time.Millisecond,
		VoxelProbability: 0.3,
		BurrEvery:        90,
		VolumeDims:       [3]float64{0.064, 0.064, 0.064},
		VoxelCount:       [3]int{128, 128, 128},
		DrillRadius:      0.02,
	}
}

// Available returns the streams the generator publishes.
func (g *Generator) Available() []string {
	return g.schema.Keys()
}

// Samples returns one sample per stream for the next tick, stamped around
// stamp and in a shuffled order.
func (g *Generator) Samples(stamp int64) ([]stream.Sample, error) {
	g.tick++
	specs := g.schema.Specs()
	out := make([]stream.Sample, 0, len(specs))
	for _, sp := range specs {
		payload, err := g.payload(sp)
		if err != nil {
			return nil, err
		}
		s := stamp
		if g.Jitter > 0 {
			s += g.rng.Int63n(int64(g.Jitter) + 1)
		}
		out = append(out, stream.Sample{Key: sp.Key, Stamp: s, Payload: payload})
	}
	g.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out, nil
}

func (g *Generator) angle() float64 {
	return float64(g.tick) * 2 * math.Pi / (4 * g.FrameRate)
}

func (g *Generator) payload(sp stream.Spec) (container.Array, error) {
	switch sp.Kind {
	case stream.KindImage:
		img := make([]uint8, sp.Height*sp.Width*3)
		shift := int(g.tick)
		for y := 0; y < sp.Height; y++ {
			for x := 0; x < sp.Width; x++ {
				i := (y*sp.Width + x) * 3
				img[i] = uint8(x + shift)
				img[i+1] = uint8(y + shift)
				img[i+2] = uint8(g.rng.Intn(16))
			}
		}
		return stream.Image(sp.Height, sp.Width, img)
	case stream.KindDepth:
		depth := make([]float32, sp.Height*sp.Width)
		phase := g.angle()
		for y := 0; y < sp.Height; y++ {
			for x := 0; x < sp.Width; x++ {
				depth[y*sp.Width+x] = float32(0.25 + 0.01*math.Sin(phase+float64(x)/8))
			}
		}
		return stream.Depth(sp.Height, sp.Width, depth)
	case stream.KindPose:
		a := g.angle()
		pos := [3]float64{g.DrillRadius * math.Cos(a), g.DrillRadius * math.Sin(a), 0.01}
		return stream.Pose(geometry.Pose(pos, geometry.QuaternionFromRPY(0, 0, a)))
	case stream.KindWrench:
		return stream.Wrench(g.force(), [3]float64{}), nil
	}
	return container.Array{}, fmt.Errorf("synthetic: unsupported kind %q", sp.Kind)
}

func (g *Generator) force() [3]float64 {
	a := g.angle()
	return [3]float64{-math.Cos(a), -math.Sin(a), 0.5 + 0.1*g.rng.Float64()}
}

// Events emits the events of the current tick at stamp seconds.
func (g *Generator) Events(stamp float64, sink EventSink) error {
	if g.tick == 1 {
		if err := sink.RecordVolumeInfo(g.VolumeDims, g.VoxelCount); err != nil {
			return err
		}
	}

	if g.rng.Float64() < g.VoxelProbability {
		// Zero-voxel events happen in the simulator too.
		n := g.rng.Intn(5)
		indices := make([][3]int64, n)
		colors := make([][4]float64, n)
		for i := range indices {
			for k := 0; k < 3; k++ {
				indices[i][k] = int64(g.rng.Intn(g.VoxelCount[k]))
			}
			colors[i] = [4]float64{0.9, 0.85, 0.7 + 0.1*g.rng.Float64(), 1}
		}
		if err := sink.RecordVoxelRemoval(stamp, indices, colors); err != nil {
			return err
		}
	}

	if g.BurrEvery > 0 && g.tick%uint64(g.BurrEvery) == 0 {
		sizes := []float64{0.002, 0.004, 0.006}
		sink.RecordBurrChange(stamp, sizes[int(g.tick/uint64(g.BurrEvery))%len(sizes)])
	}

	sink.RecordForceFeedback(stamp, g.force(), [3]float64{0, 0, 0.01})
	return nil
}

// Run produces samples and events at FrameRate until ctx is cancelled.
func (g *Generator) Run(ctx context.Context, samples SampleSink, events EventSink) error {
	if g.FrameRate <= 0 {
		return fmt.Errorf("synthetic: frame rate must be positive, got %f", g.FrameRate)
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / g.FrameRate))
	defer ticker.Stop()

	monitoring.Logf("[Synthetic] producing %d streams at %.1f Hz", g.schema.Len(), g.FrameRate)
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := g.Step(now.UnixNano(), samples, events); err != nil {
				return err
			}
		}
	}
}

// Step produces one tick of samples and events stamped at stamp nanoseconds.
func (g *Generator) Step(stamp int64, samples SampleSink, events EventSink) error {
	batch, err := g.Samples(stamp)
	if err != nil {
		return err
	}
	for _, s := range batch {
		if err := samples.Add(s); err != nil {
			return fmt.Errorf("synthetic: %s: %w", s.Key, err)
		}
	}
	if events != nil {
		return g.Events(float64(stamp)/1e9, events)
	}
	return nil
}
