package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

func TestIntrinsicFromFieldOfView(t *testing.T) {
	t.Parallel()

	k, err := IntrinsicFromFieldOfView(math.Pi/2, 640, 480)
	require.NoError(t, err)

	// tan(pi/4) == 1, so focal == height/2
	assert.InDelta(t, 240.0, k.At(0, 0), 1e-9)
	assert.InDelta(t, 240.0, k.At(1, 1), 1e-9)
	assert.InDelta(t, 320.0, k.At(0, 2), 1e-9)
	assert.InDelta(t, 240.0, k.At(1, 2), 1e-9)
	assert.Equal(t, 1.0, k.At(2, 2))

	_, err = IntrinsicFromFieldOfView(0, 640, 480)
	assert.Error(t, err)
	_, err = IntrinsicFromFieldOfView(1, 0, 480)
	assert.Error(t, err)
}

func TestCVFromAMBF_IsRotation(t *testing.T) {
	t.Parallel()

	e := CVFromAMBF()
	rot := e.Slice(0, 3, 0, 3)
	var product mat.Dense
	product.Mul(rot.T(), rot)
	assert.True(t, mat.EqualApprox(&product, mat.NewDiagDense(3, []float64{1, 1, 1}), 1e-12))
	assert.InDelta(t, 1.0, mat.Det(rot), 1e-12)
}

func TestExtrinsic(t *testing.T) {
	t.Parallel()

	values := RowMajor(CVFromAMBF())
	e, err := Extrinsic(values)
	require.NoError(t, err)
	assert.True(t, mat.Equal(e, CVFromAMBF()))

	_, err = Extrinsic(values[:15])
	assert.Error(t, err)
}

func TestQuaternionFromRPY(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		roll, pitch, yaw float64
	}{
		{"identity", 0, 0, 0},
		{"roll", 0.3, 0, 0},
		{"pitch", 0, -0.7, 0},
		{"yaw", 0, 0, 1.2},
		{"mixed", 0.1, 0.2, 0.3},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			q := QuaternionFromRPY(tc.roll, tc.pitch, tc.yaw)

			cy, sy := math.Cos(tc.yaw/2), math.Sin(tc.yaw/2)
			cp, sp := math.Cos(tc.pitch/2), math.Sin(tc.pitch/2)
			cr, sr := math.Cos(tc.roll/2), math.Sin(tc.roll/2)

			assert.InDelta(t, cr*cp*cy+sr*sp*sy, q.Real, 1e-12)
			assert.InDelta(t, sr*cp*cy-cr*sp*sy, q.Imag, 1e-12)
			assert.InDelta(t, cr*sp*cy+sr*cp*sy, q.Jmag, 1e-12)
			assert.InDelta(t, cr*cp*sy-sr*sp*cy, q.Kmag, 1e-12)
			assert.InDelta(t, 1.0, quat.Abs(q), 1e-12)
		})
	}
}

func TestPoseFromRPY(t *testing.T) {
	t.Parallel()

	p := PoseFromRPY([3]float64{1, 2, 3}, 0, 0, 0, 0.5)
	assert.Equal(t, []float64{0.5, 1, 1.5, 0, 0, 0, 1}, p)
	assert.Len(t, p, PoseLen)
}

func TestVoxelVolume(t *testing.T) {
	t.Parallel()

	// 0.1m cube split into 100 voxels per axis: 1mm per side.
	v, err := VoxelVolume([3]float64{0.1, 0.1, 0.1}, [3]int{100, 100, 100}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v, 1e-9)

	v, err = VoxelVolume([3]float64{0.1, 0.1, 0.1}, [3]int{100, 100, 100}, 2)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, v, 1e-9)

	_, err = VoxelVolume([3]float64{1, 1, 1}, [3]int{1, 0, 1}, 1)
	assert.Error(t, err)
}

func TestBaseline(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 0.065, Baseline(0.0325, -0.0325, 1), 1e-12)
	assert.InDelta(t, 0.13, Baseline(-0.0325, 0.0325, 2), 1e-12)
}
