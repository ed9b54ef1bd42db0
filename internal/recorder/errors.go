package recorder

import (
	"errors"
	"fmt"
)

var (
	// ErrVoxelDimensionMismatch means the voxel event buffers disagree in
	// length. Only the voxel section of the flush is lost.
	ErrVoxelDimensionMismatch = errors.New("voxel buffer dimension mismatch")

	// ErrRecordingInterrupted means the current file could not be written and
	// was closed early.
	ErrRecordingInterrupted = errors.New("recording interrupted")
)

// VoxelDimensionError reports the voxel buffer lengths seen at drain time.
type VoxelDimensionError struct {
	Stamps  int
	Removed int
	Colors  int
}

func (e *VoxelDimensionError) Error() string {
	return fmt.Sprintf("%v: voxel_time_stamp=%d voxel_removed=%d voxel_color=%d",
		ErrVoxelDimensionMismatch, e.Stamps, e.Removed, e.Colors)
}

func (e *VoxelDimensionError) Unwrap() error { return ErrVoxelDimensionMismatch }

// Flush stages that can interrupt a recording.
const (
	StageOpen        = "open"
	StageVoxelVolume = "voxel_volume"
	StageData        = "data"
	StageEvents      = "events"
	StageVoxels      = "voxels_removed"
)

// FlushError is a fatal, file-scoped flush failure.
type FlushError struct {
	Path  string
	Stage string
	Err   error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("%v: %s: %s: %v", ErrRecordingInterrupted, e.Path, e.Stage, e.Err)
}

// Is matches ErrRecordingInterrupted as well as the wrapped error.
func (e *FlushError) Is(target error) bool { return target == ErrRecordingInterrupted }

func (e *FlushError) Unwrap() error { return e.Err }
