package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/simrecord/internal/container"
	"github.com/banshee-data/simrecord/internal/geometry"
	"github.com/banshee-data/simrecord/internal/stream"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recording.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestGetterDefaults(t *testing.T) {
	t.Parallel()

	cfg := EmptyRecordingConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 500, cfg.GetChunkSize())
	assert.Equal(t, 1000, cfg.QueueCapacity())
	assert.Equal(t, stream.ModeApproximate, cfg.GetSyncMode())
	assert.Equal(t, 10*time.Millisecond, cfg.GetTolerance())
	assert.Equal(t, 50, cfg.GetSyncHistory())
	assert.Equal(t, "data", cfg.GetOutputDir())
	assert.Equal(t, 2*time.Millisecond, cfg.GetPollInterval())
	assert.Equal(t, container.CompressionLZ4, cfg.GetCompression())
	assert.Equal(t, 1.0, cfg.GetScale())

	fov, w, h := cfg.GetCamera()
	assert.Equal(t, 1.2, fov)
	assert.Equal(t, 640, w)
	assert.Equal(t, 480, h)

	schema, err := cfg.Schema()
	require.NoError(t, err)
	assert.Equal(t, len(DefaultStreams()), schema.Len())
}

func TestLoadDefaultConfigFile(t *testing.T) {
	t.Parallel()

	cfg := MustLoadDefaultConfig()
	assert.Equal(t, 500, cfg.GetChunkSize())
	assert.Equal(t, stream.ModeApproximate, cfg.GetSyncMode())
	assert.Equal(t, 10*time.Millisecond, cfg.GetTolerance())

	md, err := cfg.Metadata()
	require.NoError(t, err)
	assert.Equal(t, geometry.RowMajor(geometry.CVFromAMBF()), geometry.RowMajor(md.Extrinsic))
	assert.Nil(t, md.Baseline)

	schema, err := cfg.Schema()
	require.NoError(t, err)
	want := []string{"l_img", "r_img", "depth", "segm", "pose_main_camera", "pose_mastoidectomy_drill"}
	if diff := cmp.Diff(want, schema.Keys()); diff != "" {
		t.Errorf("stream keys mismatch (-want +got):\n%s", diff)
	}
	sp, _ := schema.Lookup("depth")
	assert.Equal(t, []int{480, 640}, sp.Shape())
}

func TestLoadExampleConfigFile(t *testing.T) {
	t.Parallel()

	var cfg *RecordingConfig
	var err error
	for _, p := range []string{"config/stereo.example.json", "../../config/stereo.example.json"} {
		if cfg, err = LoadRecordingConfig(p); err == nil {
			break
		}
	}
	require.NoError(t, err)

	assert.Equal(t, 200, cfg.GetChunkSize())
	assert.Equal(t, stream.ModeExact, cfg.GetSyncMode())

	rc, err := cfg.RecorderConfig()
	require.NoError(t, err)
	assert.Equal(t, "data/stereo", rc.Writer.OutputDir)
	require.NotNil(t, rc.Writer.Metadata.Baseline)
	assert.Equal(t, 0.065, *rc.Writer.Metadata.Baseline)
	assert.Equal(t, 0.5, rc.Scale)

	pose := rc.Writer.Metadata.VolumePose
	require.Len(t, pose, geometry.PoseLen)
	assert.InDelta(t, 0.05, pose[0], 1e-12)
	assert.InDelta(t, -0.1, pose[1], 1e-12)
	assert.InDelta(t, math.Sin(math.Pi/4), pose[5], 1e-12)
	assert.InDelta(t, math.Cos(math.Pi/4), pose[6], 1e-12)

	schema, err := cfg.Schema()
	require.NoError(t, err)
	sp, ok := schema.Lookup("l_img")
	require.True(t, ok)
	assert.Equal(t, []int{240, 320, 3}, sp.Shape())
}

func TestLoadRecordingConfigPartial(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{"chunk_size": 25, "tolerance": "5ms"}`)
	cfg, err := LoadRecordingConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.GetChunkSize())
	assert.Equal(t, 50, cfg.QueueCapacity())
	assert.Equal(t, 5*time.Millisecond, cfg.GetTolerance())
	assert.Equal(t, "data", cfg.GetOutputDir(), "omitted fields keep defaults")

	opts := cfg.SyncOptions()
	assert.Equal(t, stream.Options{Mode: stream.ModeApproximate, Tolerance: 5 * time.Millisecond, History: 50}, opts)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"chunk size", `{"chunk_size": 0}`, "chunk_size"},
		{"sync mode", `{"sync_mode": "fuzzy"}`, "sync mode"},
		{"tolerance", `{"tolerance": "soon"}`, "tolerance"},
		{"negative tolerance", `{"tolerance": "-1ms"}`, "tolerance"},
		{"history", `{"sync_history": 0}`, "sync_history"},
		{"poll interval", `{"poll_interval": "0s"}`, "poll_interval"},
		{"compression", `{"compression": "zstd"}`, "compression"},
		{"extrinsic", `{"extrinsic": [1, 0, 0]}`, "extrinsic"},
		{"scale", `{"scale": 0}`, "scale"},
		{"camera", `{"camera": {"width": 0}}`, "camera"},
		{"stream kind", `{"streams": [{"key": "a", "kind": "lidar"}]}`, "stream"},
		{"duplicate stream", `{"streams": [{"key": "a", "kind": "pose"}, {"key": "a", "kind": "pose"}]}`, "duplicate"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadRecordingConfig(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadRecordingConfigRejectsNonJSON(t *testing.T) {
	t.Parallel()
	_, err := LoadRecordingConfig("config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".json")
}

func TestLoadRecordingConfigMissing(t *testing.T) {
	t.Parallel()
	_, err := LoadRecordingConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadRecordingConfigInvalidJSON(t *testing.T) {
	t.Parallel()
	_, err := LoadRecordingConfig(writeConfig(t, `{"chunk_size": `))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestLoadRecordingConfigRejectsLargeFile(t *testing.T) {
	t.Parallel()
	body := `{"output_dir": "` + strings.Repeat("x", 1024*1024) + `"}`
	_, err := LoadRecordingConfig(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestOverrides(t *testing.T) {
	t.Parallel()

	cfg := EmptyRecordingConfig()
	cfg.SetChunkSize(7)
	cfg.SetOutputDir("/tmp/rec")
	cfg.SetSyncMode("exact")
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 7, cfg.GetChunkSize())
	assert.Equal(t, 14, cfg.QueueCapacity())
	assert.Equal(t, "/tmp/rec", cfg.GetOutputDir())
	assert.Equal(t, stream.ModeExact, cfg.GetSyncMode())
}
