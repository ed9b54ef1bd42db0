package stream

import (
	"fmt"

	"github.com/banshee-data/simrecord/internal/container"
	"github.com/banshee-data/simrecord/internal/geometry"
)

// Sample is one decoded payload of one stream. Stamp is in nanoseconds.
type Sample struct {
	Key     string
	Stamp   int64
	Payload container.Array
}

// Record is one synchronized sample per stream, in schema order. Stamp is the
// stamp of the first registered stream's sample.
type Record struct {
	Stamp   int64
	Samples []Sample
}

// Seconds returns the record stamp in seconds.
func (r Record) Seconds() float64 {
	return float64(r.Stamp) / 1e9
}

// Image builds an H x W x 3 BGR payload.
func Image(height, width int, bgr []uint8) (container.Array, error) {
	if len(bgr) != height*width*3 {
		return container.Array{}, fmt.Errorf("%w: image %dx%d needs %d bytes, got %d",
			ErrShapeMismatch, height, width, height*width*3, len(bgr))
	}
	return container.FromUint8(bgr, height, width, 3), nil
}

// Depth builds an H x W half-precision depth payload.
func Depth(height, width int, depth []float32) (container.Array, error) {
	if len(depth) != height*width {
		return container.Array{}, fmt.Errorf("%w: depth %dx%d needs %d values, got %d",
			ErrShapeMismatch, height, width, height*width, len(depth))
	}
	return container.FromFloat16(depth, height, width), nil
}

// Pose builds a position + quaternion payload.
func Pose(v []float64) (container.Array, error) {
	if len(v) != geometry.PoseLen {
		return container.Array{}, fmt.Errorf("%w: pose needs %d values, got %d",
			ErrShapeMismatch, geometry.PoseLen, len(v))
	}
	return container.FromFloat64(v), nil
}

// Wrench builds a force + torque payload.
func Wrench(force, torque [3]float64) container.Array {
	return container.FromFloat64([]float64{
		force[0], force[1], force[2],
		torque[0], torque[1], torque[2],
	})
}
