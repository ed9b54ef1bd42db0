// Package geometry derives the fixed calibration values stamped into every
// output file: camera intrinsics, the camera extrinsic convention, the pose of
// the drilled volume and the physical size of one voxel.
//
// All positions are in metres once multiplied by the scene scale factor.
// Quaternions are emitted as [qx, qy, qz, qw].
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// PoseLen is the length of a pose vector: position xyz then quaternion xyzw.
const PoseLen = 7

// WrenchLen is the length of a wrench vector: force xyz then torque xyz.
const WrenchLen = 6

// IntrinsicFromFieldOfView builds the 3x3 pinhole intrinsic matrix of a
// camera with vertical field of view fov (radians) and the given resolution.
func IntrinsicFromFieldOfView(fov float64, width, height int) (*mat.Dense, error) {
	if fov <= 0 || fov >= math.Pi {
		return nil, fmt.Errorf("field of view %f rad out of range (0, pi)", fov)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid resolution %dx%d", width, height)
	}
	focal := float64(height) / (2 * math.Tan(fov/2))
	cx := float64(width) / 2
	cy := float64(height) / 2
	return mat.NewDense(3, 3, []float64{
		focal, 0, cx,
		0, focal, cy,
		0, 0, 1,
	}), nil
}

// CVFromAMBF returns T_cv_ambf, the transform that pre-multiplies simulator
// poses to match the OpenCV camera convention.
func CVFromAMBF() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		0, 1, 0, 0,
		0, 0, -1, 0,
		-1, 0, 0, 0,
		0, 0, 0, 1,
	})
}

// Extrinsic builds a 4x4 matrix from 16 row-major values.
func Extrinsic(values []float64) (*mat.Dense, error) {
	if len(values) != 16 {
		return nil, fmt.Errorf("extrinsic needs 16 values, got %d", len(values))
	}
	data := make([]float64, 16)
	copy(data, values)
	return mat.NewDense(4, 4, data), nil
}

// RowMajor returns the elements of m in row-major order.
func RowMajor(m mat.Matrix) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}

// QuaternionFromRPY converts intrinsic ZYX Euler angles (roll about x, pitch
// about y, yaw about z) to a unit quaternion.
func QuaternionFromRPY(roll, pitch, yaw float64) quat.Number {
	qRoll := quat.Number{Real: math.Cos(roll / 2), Imag: math.Sin(roll / 2)}
	qPitch := quat.Number{Real: math.Cos(pitch / 2), Jmag: math.Sin(pitch / 2)}
	qYaw := quat.Number{Real: math.Cos(yaw / 2), Kmag: math.Sin(yaw / 2)}
	return quat.Mul(quat.Mul(qYaw, qPitch), qRoll)
}

// Pose flattens a position and orientation into a PoseLen vector.
func Pose(position [3]float64, q quat.Number) []float64 {
	return []float64{position[0], position[1], position[2], q.Imag, q.Jmag, q.Kmag, q.Real}
}

// PoseFromRPY scales position by scale and returns the pose of a body placed
// at that position with the given Euler orientation.
func PoseFromRPY(position [3]float64, roll, pitch, yaw, scale float64) []float64 {
	scaled := [3]float64{position[0] * scale, position[1] * scale, position[2] * scale}
	return Pose(scaled, QuaternionFromRPY(roll, pitch, yaw))
}

// VoxelVolume returns the volume of one voxel in cubic millimetres for a
// volume of the given physical dimensions (metres, before scale) split into
// voxelCount cells per axis.
func VoxelVolume(dimensions [3]float64, voxelCount [3]int, scale float64) (float64, error) {
	counts := make([]float64, 3)
	for i, c := range voxelCount {
		if c <= 0 {
			return 0, fmt.Errorf("voxel count on axis %d must be positive, got %d", i, c)
		}
		counts[i] = float64(c)
	}
	resolution := make([]float64, 3)
	floats.DivTo(resolution, dimensions[:], counts)
	floats.Scale(1000, resolution)
	return floats.Prod(resolution) * scale * scale * scale, nil
}

// Baseline returns the stereo baseline from the lateral offsets of the left
// and right cameras.
func Baseline(leftY, rightY, scale float64) float64 {
	return math.Abs(leftY-rightY) * scale
}
