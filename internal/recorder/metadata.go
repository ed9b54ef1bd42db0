package recorder

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/simrecord/internal/container"
	"github.com/banshee-data/simrecord/internal/geometry"
)

// Group names of an output file.
const (
	GroupMetadata      = "metadata"
	GroupData          = "data"
	GroupVoxelsRemoved = "voxels_removed"
	GroupBurrChange    = "burr_change"
	GroupForceFeedback = "drill_force_feedback"
)

// VoxelVolumeUnits is the units attribute of metadata/voxel_volume.
const VoxelVolumeUnits = "mm^3, millimeters cubed"

// README is the schema note stored in every file.
const README = "All position information is in meters unless specified otherwise. \n" +
	"Quaternion is a list in the order of [qx, qy, qz, qw]. \n" +
	"Poses are defined to be T_world_obj. \n" +
	"Depth in CV convention (corrected by extrinsic, T_cv_ambf). \n"

// Metadata is the fixed calibration written at the top of every file.
type Metadata struct {
	Intrinsic  *mat.Dense // 3x3
	Extrinsic  *mat.Dense // 4x4
	Baseline   *float64   // stereo only
	VolumePose []float64  // geometry.PoseLen
	README     string
}

// Validate checks matrix sizes and the volume pose length.
func (m Metadata) Validate() error {
	if m.Intrinsic == nil {
		return fmt.Errorf("metadata: missing camera intrinsic")
	}
	if r, c := m.Intrinsic.Dims(); r != 3 || c != 3 {
		return fmt.Errorf("metadata: camera intrinsic is %dx%d, want 3x3", r, c)
	}
	if m.Extrinsic == nil {
		return fmt.Errorf("metadata: missing camera extrinsic")
	}
	if r, c := m.Extrinsic.Dims(); r != 4 || c != 4 {
		return fmt.Errorf("metadata: camera extrinsic is %dx%d, want 4x4", r, c)
	}
	if len(m.VolumePose) != geometry.PoseLen {
		return fmt.Errorf("metadata: volume pose has %d values, want %d", len(m.VolumePose), geometry.PoseLen)
	}
	return nil
}

type namedArray struct {
	name string
	a    container.Array
}

func (m Metadata) write(f OutputFile) error {
	readme := m.README
	if readme == "" {
		readme = README
	}
	datasets := []namedArray{
		{"camera_intrinsic", container.FromFloat64(geometry.RowMajor(m.Intrinsic), 3, 3)},
		{"camera_extrinsic", container.FromFloat64(geometry.RowMajor(m.Extrinsic), 4, 4)},
		{"README", container.Text(readme)},
	}
	if m.Baseline != nil {
		datasets = append(datasets, namedArray{"baseline", container.Scalar(*m.Baseline)})
	}
	for _, d := range datasets {
		if err := f.WriteDataset(GroupMetadata, d.name, d.a, nil); err != nil {
			return fmt.Errorf("failed to write metadata/%s: %w", d.name, err)
		}
	}
	return nil
}
