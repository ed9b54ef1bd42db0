package recorder

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/simrecord/internal/container"
	"github.com/banshee-data/simrecord/internal/geometry"
	"github.com/banshee-data/simrecord/internal/monitoring"
	"github.com/banshee-data/simrecord/internal/stream"
	"github.com/banshee-data/simrecord/internal/timeutil"
)

var testEpoch = time.Date(2026, 3, 1, 12, 34, 56, 0, time.UTC)

func init() {
	monitoring.SetLogger(nil)
}

func testSchema(t *testing.T) *stream.Schema {
	t.Helper()
	s, err := stream.NewSchema(
		stream.Spec{Key: "l_img", Kind: stream.KindImage, Height: 2, Width: 3},
		stream.Spec{Key: "depth", Kind: stream.KindDepth, Height: 2, Width: 3},
		stream.Spec{Key: "pose_drill", Kind: stream.KindPose},
	)
	require.NoError(t, err)
	return s
}

func testMetadata(t *testing.T) Metadata {
	t.Helper()
	k, err := geometry.IntrinsicFromFieldOfView(1.2, 3, 2)
	require.NoError(t, err)
	baseline := 0.065
	return Metadata{
		Intrinsic:  k,
		Extrinsic:  geometry.CVFromAMBF(),
		Baseline:   &baseline,
		VolumePose: geometry.PoseFromRPY([3]float64{0.1, 0.2, 0.3}, 0, 0, 0, 1),
	}
}

// testSamples returns one valid sample per stream of testSchema at stamp.
func testSamples(t *testing.T, stamp int64) []stream.Sample {
	t.Helper()
	img := make([]uint8, 2*3*3)
	for i := range img {
		img[i] = uint8(stamp) + uint8(i)
	}
	imgArr, err := stream.Image(2, 3, img)
	require.NoError(t, err)
	depthArr, err := stream.Depth(2, 3, []float32{1, 2, 3, 4, 5, float32(stamp)})
	require.NoError(t, err)
	poseArr, err := stream.Pose([]float64{float64(stamp), 0, 0, 0, 0, 0, 1})
	require.NoError(t, err)
	return []stream.Sample{
		{Key: "l_img", Stamp: stamp, Payload: imgArr},
		{Key: "depth", Stamp: stamp, Payload: depthArr},
		{Key: "pose_drill", Stamp: stamp, Payload: poseArr},
	}
}

func testRecord(t *testing.T, stamp int64) stream.Record {
	t.Helper()
	return stream.Record{Stamp: stamp, Samples: testSamples(t, stamp)}
}

type writerFixture struct {
	schema  *stream.Schema
	buffers *Buffers
	events  *EventAggregator
	writer  *Writer
	clock   *timeutil.MockClock
	dir     string
}

func newWriterFixture(t *testing.T, create CreateFunc) *writerFixture {
	t.Helper()
	schema := testSchema(t)
	fx := &writerFixture{
		schema:  schema,
		buffers: NewBuffers(schema),
		events:  NewEventAggregator(1),
		clock:   timeutil.NewMockClock(testEpoch),
		dir:     filepath.Join(t.TempDir(), "out"),
	}
	w, err := NewWriter(schema, fx.buffers, fx.events, WriterConfig{
		OutputDir: fx.dir,
		Metadata:  testMetadata(t),
		SessionID: "session-1",
		Clock:     fx.clock,
		Create:    create,
	}, nil)
	require.NoError(t, err)
	fx.writer = w
	t.Cleanup(func() { w.Close() })
	return fx
}

func openContainer(t *testing.T, path string) *container.File {
	t.Helper()
	f, err := container.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

// failingFile wraps a real container and fails writes to one group.
type failingFile struct {
	OutputFile
	failGroup string
	failName  string
	closed    bool
}

func (f *failingFile) WriteDataset(group, name string, a container.Array, attrs map[string]string) error {
	if group == f.failGroup && (f.failName == "" || name == f.failName) {
		return errDiskFull
	}
	return f.OutputFile.WriteDataset(group, name, a, attrs)
}

func (f *failingFile) Close() error {
	f.closed = true
	return f.OutputFile.Close()
}

var errDiskFull = errors.New("disk full")
