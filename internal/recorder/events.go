package recorder

import (
	"fmt"
	"sync"

	"github.com/banshee-data/simrecord/internal/geometry"
)

// VoxelTables is the flattened form of the voxel removal events drained at
// flush time. Rows of Removed are [event, i, j, k]; rows of Colors are
// [event, r, g, b, a] with channels in 0..255. event is the ordinal of the
// event among those that removed at least one voxel.
type VoxelTables struct {
	Stamps  []float64
	Removed []float64 // Rows x 4
	Colors  []float64 // Rows x 5
	Rows    int
}

// Empty reports whether no voxels were removed.
func (t VoxelTables) Empty() bool { return t.Rows == 0 }

// BurrChanges holds drained burr size changes.
type BurrChanges struct {
	Stamps []float64
	Sizes  []float64
}

// ForceFeedback holds drained force/torque samples.
type ForceFeedback struct {
	Stamps   []float64
	Wrenches [][geometry.WrenchLen]float64
}

// EventAggregator buffers the asynchronous event streams: voxel removal,
// burr changes and force feedback. Every method may be called from any
// goroutine. A single mutex guards all buffers and is never held across I/O.
type EventAggregator struct {
	scale float64

	mu           sync.Mutex
	voxelStamps  []float64
	voxelRemoved [][][3]int64
	voxelColor   [][][4]float64
	burrStamps   []float64
	burrSizes    []float64
	forceStamps  []float64
	forceWrench  [][geometry.WrenchLen]float64
	voxelVolume  float64
}

// NewEventAggregator creates an aggregator. scale converts scene units to
// metres and is applied to the voxel volume.
func NewEventAggregator(scale float64) *EventAggregator {
	if scale == 0 {
		scale = 1
	}
	return &EventAggregator{scale: scale}
}

// RecordVoxelRemoval buffers one removal event. colors are RGBA in 0..1 and
// are stored scaled to 0..255. indices and colors must have the same length.
func (a *EventAggregator) RecordVoxelRemoval(stamp float64, indices [][3]int64, colors [][4]float64) error {
	if len(indices) != len(colors) {
		return fmt.Errorf("voxel removal at %.6f: %d indices but %d colors", stamp, len(indices), len(colors))
	}
	idx := make([][3]int64, len(indices))
	copy(idx, indices)
	col := make([][4]float64, len(colors))
	for i, c := range colors {
		col[i] = [4]float64{c[0] * 255, c[1] * 255, c[2] * 255, c[3] * 255}
	}

	a.mu.Lock()
	a.voxelStamps = append(a.voxelStamps, stamp)
	a.voxelRemoved = append(a.voxelRemoved, idx)
	a.voxelColor = append(a.voxelColor, col)
	a.mu.Unlock()
	return nil
}

// RecordBurrChange buffers a change of burr size.
func (a *EventAggregator) RecordBurrChange(stamp, size float64) {
	a.mu.Lock()
	a.burrStamps = append(a.burrStamps, stamp)
	a.burrSizes = append(a.burrSizes, size)
	a.mu.Unlock()
}

// RecordForceFeedback buffers one force/torque sample.
func (a *EventAggregator) RecordForceFeedback(stamp float64, force, torque [3]float64) {
	w := [geometry.WrenchLen]float64{force[0], force[1], force[2], torque[0], torque[1], torque[2]}
	a.mu.Lock()
	a.forceStamps = append(a.forceStamps, stamp)
	a.forceWrench = append(a.forceWrench, w)
	a.mu.Unlock()
}

// RecordVolumeInfo derives the voxel volume from the volume's physical
// dimensions and voxel counts and stores it, replacing the previous value.
func (a *EventAggregator) RecordVolumeInfo(dimensions [3]float64, voxelCount [3]int) error {
	v, err := geometry.VoxelVolume(dimensions, voxelCount, a.scale)
	if err != nil {
		return err
	}
	a.SetVoxelVolume(v)
	return nil
}

// SetVoxelVolume overwrites the voxel volume in mm^3.
func (a *EventAggregator) SetVoxelVolume(v float64) {
	a.mu.Lock()
	a.voxelVolume = v
	a.mu.Unlock()
}

// VoxelVolume returns the most recent voxel volume in mm^3.
func (a *EventAggregator) VoxelVolume() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.voxelVolume
}

// DrainVoxelEvents flattens and clears the buffered voxel events. Events that
// removed no voxels are skipped and take no ordinal. When the buffers differ
// in length the batch is discarded and a *VoxelDimensionError is returned.
func (a *EventAggregator) DrainVoxelEvents() (VoxelTables, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	defer func() {
		a.voxelStamps = nil
		a.voxelRemoved = nil
		a.voxelColor = nil
	}()

	if len(a.voxelStamps) != len(a.voxelRemoved) || len(a.voxelColor) != len(a.voxelRemoved) {
		return VoxelTables{}, &VoxelDimensionError{
			Stamps:  len(a.voxelStamps),
			Removed: len(a.voxelRemoved),
			Colors:  len(a.voxelColor),
		}
	}

	var t VoxelTables
	ordinal := 0
	for i, removed := range a.voxelRemoved {
		colors := a.voxelColor[i]
		if len(removed) == 0 {
			continue
		}
		if len(colors) != len(removed) {
			return VoxelTables{}, &VoxelDimensionError{
				Stamps:  len(a.voxelStamps),
				Removed: len(removed),
				Colors:  len(colors),
			}
		}
		event := float64(ordinal)
		for j, v := range removed {
			t.Removed = append(t.Removed, event, float64(v[0]), float64(v[1]), float64(v[2]))
			c := colors[j]
			t.Colors = append(t.Colors, event, c[0], c[1], c[2], c[3])
		}
		t.Rows += len(removed)
		t.Stamps = append(t.Stamps, a.voxelStamps[i])
		ordinal++
	}
	return t, nil
}

// DrainBurrChanges returns and clears the buffered burr changes.
func (a *EventAggregator) DrainBurrChanges() BurrChanges {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := BurrChanges{Stamps: a.burrStamps, Sizes: a.burrSizes}
	a.burrStamps, a.burrSizes = nil, nil
	return out
}

// DrainForceFeedback returns and clears the buffered force feedback.
func (a *EventAggregator) DrainForceFeedback() ForceFeedback {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := ForceFeedback{Stamps: a.forceStamps, Wrenches: a.forceWrench}
	a.forceStamps, a.forceWrench = nil, nil
	return out
}

// Pending returns the number of buffered voxel, burr and force events.
func (a *EventAggregator) Pending() (voxels, burr, force int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.voxelStamps), len(a.burrStamps), len(a.forceStamps)
}
