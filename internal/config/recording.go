package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/simrecord/internal/container"
	"github.com/banshee-data/simrecord/internal/geometry"
	"github.com/banshee-data/simrecord/internal/recorder"
	"github.com/banshee-data/simrecord/internal/stream"
)

// DefaultConfigPath is the path to the canonical recording defaults file.
const DefaultConfigPath = "config/recording.defaults.json"

// CameraConfig describes the main camera used to derive the intrinsic matrix.
type CameraConfig struct {
	FOVRadians *float64 `json:"fov_radians,omitempty"`
	Width      *int     `json:"width,omitempty"`
	Height     *int     `json:"height,omitempty"`
}

// VolumePoseConfig places the drilled volume in the world, in scene units
// and radians.
type VolumePoseConfig struct {
	Position [3]float64 `json:"position"`
	RPY      [3]float64 `json:"rpy"`
}

// StreamConfig declares one recorded stream. Image and depth streams without
// a size take the camera resolution.
type StreamConfig struct {
	Key    string `json:"key"`
	Kind   string `json:"kind"`
	Height int    `json:"height,omitempty"`
	Width  int    `json:"width,omitempty"`
}

// RecordingConfig is the root configuration of a recording session. Fields
// omitted from the JSON take their defaults through the Get* methods.
type RecordingConfig struct {
	ChunkSize    *int    `json:"chunk_size,omitempty"`
	SyncMode     *string `json:"sync_mode,omitempty"`    // "exact" or "approximate"
	Tolerance    *string `json:"tolerance,omitempty"`    // duration string like "10ms"
	SyncHistory  *int    `json:"sync_history,omitempty"` // samples kept per stream
	OutputDir    *string `json:"output_dir,omitempty"`
	PollInterval *string `json:"poll_interval,omitempty"` // duration string like "2ms"
	Compression  *string `json:"compression,omitempty"`   // "lz4" or "none"

	Camera     *CameraConfig     `json:"camera,omitempty"`
	Extrinsic  []float64         `json:"extrinsic,omitempty"` // 4x4 row-major
	Baseline   *float64          `json:"baseline,omitempty"`  // metres, stereo only
	VolumePose *VolumePoseConfig `json:"volume_pose,omitempty"`
	Scale      *float64          `json:"scale,omitempty"` // scene units to metres

	Streams []StreamConfig `json:"streams,omitempty"`
}

func ptrInt(v int) *int          { return &v }
func ptrString(v string) *string { return &v }

// EmptyRecordingConfig returns a RecordingConfig with every field unset.
func EmptyRecordingConfig() *RecordingConfig {
	return &RecordingConfig{}
}

// LoadRecordingConfig loads a RecordingConfig from a JSON file. The file must
// have a .json extension and be at most 1MB.
func LoadRecordingConfig(path string) (*RecordingConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyRecordingConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *RecordingConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadRecordingConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *RecordingConfig) Validate() error {
	if c.ChunkSize != nil && *c.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be positive, got %d", *c.ChunkSize)
	}
	if c.SyncMode != nil {
		if _, err := stream.ParseMode(*c.SyncMode); err != nil {
			return err
		}
	}
	if c.Tolerance != nil && *c.Tolerance != "" {
		d, err := time.ParseDuration(*c.Tolerance)
		if err != nil {
			return fmt.Errorf("invalid tolerance '%s': %w", *c.Tolerance, err)
		}
		if d < 0 {
			return fmt.Errorf("tolerance must be non-negative, got %s", d)
		}
	}
	if c.SyncHistory != nil && *c.SyncHistory < 1 {
		return fmt.Errorf("sync_history must be positive, got %d", *c.SyncHistory)
	}
	if c.PollInterval != nil && *c.PollInterval != "" {
		d, err := time.ParseDuration(*c.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid poll_interval '%s': %w", *c.PollInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("poll_interval must be positive, got %s", d)
		}
	}
	if c.Compression != nil {
		if _, err := container.ParseCompression(*c.Compression); err != nil {
			return err
		}
	}
	if c.Extrinsic != nil && len(c.Extrinsic) != 16 {
		return fmt.Errorf("extrinsic must have 16 values, got %d", len(c.Extrinsic))
	}
	if c.Scale != nil && *c.Scale <= 0 {
		return fmt.Errorf("scale must be positive, got %f", *c.Scale)
	}
	if _, err := c.Metadata(); err != nil {
		return err
	}
	if _, err := c.Schema(); err != nil {
		return err
	}
	return nil
}

// GetChunkSize returns the number of records per file.
func (c *RecordingConfig) GetChunkSize() int {
	if c.ChunkSize == nil {
		return recorder.DefaultChunkSize
	}
	return *c.ChunkSize
}

// QueueCapacity returns the ingest queue capacity, twice the chunk size.
func (c *RecordingConfig) QueueCapacity() int {
	return 2 * c.GetChunkSize()
}

// GetSyncMode returns the synchronization mode.
func (c *RecordingConfig) GetSyncMode() stream.Mode {
	if c.SyncMode == nil {
		return stream.ModeApproximate
	}
	m, err := stream.ParseMode(*c.SyncMode)
	if err != nil {
		return stream.ModeApproximate
	}
	return m
}

// GetTolerance returns the approximate synchronization window.
func (c *RecordingConfig) GetTolerance() time.Duration {
	if c.Tolerance == nil || *c.Tolerance == "" {
		return 10 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.Tolerance)
	if err != nil {
		return 10 * time.Millisecond
	}
	return d
}

// GetSyncHistory returns the number of unmatched samples kept per stream.
func (c *RecordingConfig) GetSyncHistory() int {
	if c.SyncHistory == nil {
		return stream.DefaultHistory
	}
	return *c.SyncHistory
}

// GetOutputDir returns the directory receiving the chunk files.
func (c *RecordingConfig) GetOutputDir() string {
	if c.OutputDir == nil || *c.OutputDir == "" {
		return "data"
	}
	return *c.OutputDir
}

// GetPollInterval returns the persistence loop's sleep on an empty queue.
func (c *RecordingConfig) GetPollInterval() time.Duration {
	if c.PollInterval == nil || *c.PollInterval == "" {
		return recorder.DefaultPollInterval
	}
	d, err := time.ParseDuration(*c.PollInterval)
	if err != nil {
		return recorder.DefaultPollInterval
	}
	return d
}

// GetCompression returns the dataset compression.
func (c *RecordingConfig) GetCompression() container.Compression {
	if c.Compression == nil {
		return container.CompressionLZ4
	}
	comp, err := container.ParseCompression(*c.Compression)
	if err != nil {
		return container.CompressionLZ4
	}
	return comp
}

// GetScale returns the scene-to-metre conversion factor.
func (c *RecordingConfig) GetScale() float64 {
	if c.Scale == nil {
		return 1
	}
	return *c.Scale
}

// GetCamera returns the camera field of view and resolution.
func (c *RecordingConfig) GetCamera() (fov float64, width, height int) {
	fov, width, height = 1.2, 640, 480
	if c.Camera == nil {
		return
	}
	if c.Camera.FOVRadians != nil {
		fov = *c.Camera.FOVRadians
	}
	if c.Camera.Width != nil {
		width = *c.Camera.Width
	}
	if c.Camera.Height != nil {
		height = *c.Camera.Height
	}
	return
}

// DefaultStreams is the stream set recorded when none is configured.
func DefaultStreams() []StreamConfig {
	return []StreamConfig{
		{Key: "l_img", Kind: string(stream.KindImage)},
		{Key: "depth", Kind: string(stream.KindDepth)},
		{Key: "segm", Kind: string(stream.KindImage)},
		{Key: "pose_main_camera", Kind: string(stream.KindPose)},
		{Key: "pose_mastoidectomy_drill", Kind: string(stream.KindPose)},
	}
}

// Schema builds the stream schema, in configuration order.
func (c *RecordingConfig) Schema() (*stream.Schema, error) {
	streams := c.Streams
	if len(streams) == 0 {
		streams = DefaultStreams()
	}
	_, width, height := c.GetCamera()

	specs := make([]stream.Spec, 0, len(streams))
	for _, sc := range streams {
		kind, err := stream.ParseKind(sc.Kind)
		if err != nil {
			return nil, fmt.Errorf("stream %q: %w", sc.Key, err)
		}
		sp := stream.Spec{Key: sc.Key, Kind: kind, Height: sc.Height, Width: sc.Width}
		if (kind == stream.KindImage || kind == stream.KindDepth) && sp.Height == 0 && sp.Width == 0 {
			sp.Height, sp.Width = height, width
		}
		specs = append(specs, sp)
	}
	return stream.NewSchema(specs...)
}

// SyncOptions returns the synchronizer options.
func (c *RecordingConfig) SyncOptions() stream.Options {
	return stream.Options{
		Mode:      c.GetSyncMode(),
		Tolerance: c.GetTolerance(),
		History:   c.GetSyncHistory(),
	}
}

// Metadata derives the fixed per-file calibration.
func (c *RecordingConfig) Metadata() (recorder.Metadata, error) {
	fov, width, height := c.GetCamera()
	intrinsic, err := geometry.IntrinsicFromFieldOfView(fov, width, height)
	if err != nil {
		return recorder.Metadata{}, fmt.Errorf("camera: %w", err)
	}

	extrinsic := geometry.CVFromAMBF()
	if c.Extrinsic != nil {
		if extrinsic, err = geometry.Extrinsic(c.Extrinsic); err != nil {
			return recorder.Metadata{}, err
		}
	}

	var position, rpy [3]float64
	if c.VolumePose != nil {
		position, rpy = c.VolumePose.Position, c.VolumePose.RPY
	}

	md := recorder.Metadata{
		Intrinsic:  intrinsic,
		Extrinsic:  extrinsic,
		VolumePose: geometry.PoseFromRPY(position, rpy[0], rpy[1], rpy[2], c.GetScale()),
	}
	if c.Baseline != nil {
		b := *c.Baseline
		md.Baseline = &b
	}
	return md, nil
}

// RecorderConfig assembles the recorder configuration. Writer fields not
// derived from the file (clock, session id) are left at their defaults.
func (c *RecordingConfig) RecorderConfig() (recorder.Config, error) {
	md, err := c.Metadata()
	if err != nil {
		return recorder.Config{}, err
	}
	return recorder.Config{
		ChunkSize:    c.GetChunkSize(),
		PollInterval: c.GetPollInterval(),
		Sync:         c.SyncOptions(),
		Scale:        c.GetScale(),
		Writer: recorder.WriterConfig{
			OutputDir:   c.GetOutputDir(),
			Compression: c.GetCompression(),
			Metadata:    md,
		},
	}, nil
}

// SetChunkSize overrides chunk_size, e.g. from a command-line flag.
func (c *RecordingConfig) SetChunkSize(n int) { c.ChunkSize = ptrInt(n) }

// SetOutputDir overrides output_dir.
func (c *RecordingConfig) SetOutputDir(dir string) { c.OutputDir = ptrString(dir) }

// SetSyncMode overrides sync_mode.
func (c *RecordingConfig) SetSyncMode(mode string) { c.SyncMode = ptrString(mode) }
