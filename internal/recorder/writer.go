package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/simrecord/internal/container"
	"github.com/banshee-data/simrecord/internal/monitoring"
	"github.com/banshee-data/simrecord/internal/stream"
	"github.com/banshee-data/simrecord/internal/timeutil"
	"github.com/banshee-data/simrecord/internal/version"
)

// OutputFile is the subset of *container.File the writer needs.
type OutputFile interface {
	WriteDataset(group, name string, a container.Array, attrs map[string]string) error
	SetAttribute(group, dataset, key, value string) error
	Path() string
	Close() error
}

// CreateFunc creates a new output file at path.
type CreateFunc func(path string) (OutputFile, error)

// WriterConfig configures a Writer.
type WriterConfig struct {
	OutputDir   string
	Compression container.Compression
	Metadata    Metadata
	SessionID   string         // uuid.NewString() when empty
	Clock       timeutil.Clock // RealClock when nil
	Create      CreateFunc     // container.Create when nil
}

// Writer persists buffered records and events into a sequence of
// self-describing chunk files. It is driven by the persistence loop only.
type Writer struct {
	cfg     WriterConfig
	schema  *stream.Schema
	buffers *Buffers
	events  *EventAggregator
	metrics *monitoring.Metrics

	file  OutputFile
	seq   int
	files []string
}

// NewWriter creates the output directory and a writer over buffers and
// events. No file is opened until Open or Rotate.
func NewWriter(schema *stream.Schema, buffers *Buffers, events *EventAggregator, cfg WriterConfig, metrics *monitoring.Metrics) (*Writer, error) {
	if err := cfg.Metadata.Validate(); err != nil {
		return nil, err
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("writer needs an output directory")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Create == nil {
		opts := container.Options{Compression: cfg.Compression}
		cfg.Create = func(path string) (OutputFile, error) {
			return container.Create(path, opts)
		}
	}
	return &Writer{
		cfg:     cfg,
		schema:  schema,
		buffers: buffers,
		events:  events,
		metrics: metrics,
	}, nil
}

// SessionID identifies the recording session across its chunk files.
func (w *Writer) SessionID() string { return w.cfg.SessionID }

// Current returns the path of the open file, or "" when none is open.
func (w *Writer) Current() string {
	if w.file == nil {
		return ""
	}
	return w.file.Path()
}

// Files returns the paths of every file opened so far.
func (w *Writer) Files() []string {
	out := make([]string, len(w.files))
	copy(out, w.files)
	return out
}

// nextPath returns <dir>/<YYYYMMDD_HHMMSS>_<seq>.sqlite.
func (w *Writer) nextPath() string {
	name := fmt.Sprintf("%s_%04d%s", w.cfg.Clock.Now().Format("20060102_150405"), w.seq, container.FileExtension)
	return filepath.Join(w.cfg.OutputDir, name)
}

// Open creates the next file and writes its fixed metadata.
func (w *Writer) Open() error {
	if w.file != nil {
		return fmt.Errorf("file %s is already open", w.file.Path())
	}
	path := w.nextPath()
	f, err := w.cfg.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	attrs := map[string]string{
		"session_id":  w.cfg.SessionID,
		"chunk_index": strconv.Itoa(w.seq),
		"created_at":  w.cfg.Clock.Now().UTC().Format(time.RFC3339Nano),
		"recorder":    version.String(),
	}
	for _, k := range []string{"session_id", "chunk_index", "created_at", "recorder"} {
		if err := f.SetAttribute("", "", k, attrs[k]); err != nil {
			f.Close()
			return fmt.Errorf("failed to stamp %s: %w", path, err)
		}
	}
	if err := w.cfg.Metadata.write(f); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}

	w.file = f
	w.seq++
	w.files = append(w.files, path)
	monitoring.Logf("[Writer] opened %s (session %s, chunk %d)", path, w.cfg.SessionID, w.seq-1)
	return nil
}

// Rotate closes the current file, if still open, and opens the next one.
func (w *Writer) Rotate() error {
	if err := w.Close(); err != nil {
		monitoring.Logf("[Writer] close before rotation failed: %v", err)
	}
	if err := w.Open(); err != nil {
		return err
	}
	w.metrics.IncRotated()
	return nil
}

// Close closes the current file without flushing.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", f.Path(), err)
	}
	return nil
}

// Flush writes everything buffered since the previous flush into the current
// file and closes it. Sections are written in order:
//
//  1. metadata/voxel_volume
//  2. data/<stream>, data/time and the burr_change and drill_force_feedback events
//  3. voxels_removed
//  4. data/pose_mastoidectomy_volume, one row per buffered record
//
// A failure in 1 or 2 interrupts the file and returns a *FlushError, as does
// a container error in 3. A voxel dimension mismatch in 3 and any failure in
// 4 are logged and the rest of the flush proceeds. The record
// buffers are empty when Flush returns, whatever the outcome.
func (w *Writer) Flush() error {
	start := time.Now()
	defer w.buffers.ResetAll()

	if w.file == nil {
		if err := w.Open(); err != nil {
			w.discardEvents()
			return w.interrupted("", StageOpen, err, start)
		}
	}
	f := w.file
	defer func() {
		if err := w.Close(); err != nil {
			monitoring.Logf("[Writer] %v", err)
		}
	}()

	volume := container.Scalar(w.events.VoxelVolume())
	if err := f.WriteDataset(GroupMetadata, "voxel_volume", volume, map[string]string{"units": VoxelVolumeUnits}); err != nil {
		w.discardEvents()
		return w.interrupted(f.Path(), StageVoxelVolume, err, start)
	}

	if err := w.writeData(f); err != nil {
		w.discardEvents()
		return w.interrupted(f.Path(), StageData, err, start)
	}
	if err := w.writeEvents(f); err != nil {
		w.events.DrainVoxelEvents()
		return w.interrupted(f.Path(), StageEvents, err, start)
	}

	if err := w.writeVoxels(f); errors.Is(err, ErrVoxelDimensionMismatch) {
		w.metrics.IncVoxelSkipped()
		monitoring.Logf("[Writer] %s: no voxels written in this batch: %v", f.Path(), err)
	} else if err != nil {
		return w.interrupted(f.Path(), StageVoxels, err, start)
	}

	if err := w.writeVolumePose(f); err != nil {
		monitoring.Logf("[Writer] %s: no volume pose written in this batch: %v", f.Path(), err)
	}

	w.metrics.IncFlush(monitoring.FlushOK)
	w.metrics.ObserveFlush(time.Since(start).Seconds())
	monitoring.Logf("[Writer] finished writing %s (%d records)", f.Path(), w.buffers.Records())
	return nil
}

func (w *Writer) interrupted(path, stage string, err error, start time.Time) error {
	w.metrics.IncFlush(monitoring.FlushInterrupted)
	w.metrics.ObserveFlush(time.Since(start).Seconds())
	ferr := &FlushError{Path: path, Stage: stage, Err: err}
	monitoring.Logf("[Writer] %v", ferr)
	return ferr
}

// discardEvents drops every buffered event after a fatal flush so the next
// file does not inherit them.
func (w *Writer) discardEvents() {
	w.events.DrainBurrChanges()
	w.events.DrainForceFeedback()
	w.events.DrainVoxelEvents()
}

func (w *Writer) writeData(f OutputFile) error {
	for _, sp := range w.schema.Specs() {
		payloads := w.buffers.Snapshot(sp.Key)
		if len(payloads) == 0 {
			continue
		}
		a, err := container.Stack(payloads)
		if err != nil {
			return fmt.Errorf("data/%s: %w", sp.Key, err)
		}
		if err := f.WriteDataset(GroupData, sp.Key, a, map[string]string{"kind": string(sp.Kind)}); err != nil {
			return err
		}
		monitoring.Debugf("[Writer] data/%s %v", sp.Key, a.Shape)
	}
	if times := w.buffers.Times(); len(times) > 0 {
		if err := f.WriteDataset(GroupData, stream.TimeKey, container.FromFloat64(times), map[string]string{"units": "s"}); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeEvents(f OutputFile) error {
	burr := w.events.DrainBurrChanges()
	force := w.events.DrainForceFeedback()

	if len(burr.Stamps) > 0 {
		if err := f.WriteDataset(GroupBurrChange, "time_stamp", container.FromFloat64(burr.Stamps), nil); err != nil {
			return err
		}
		if err := f.WriteDataset(GroupBurrChange, "burr_size", container.FromFloat64(burr.Sizes), nil); err != nil {
			return err
		}
	}
	if len(force.Stamps) > 0 {
		flat := make([]float64, 0, len(force.Wrenches)*len(force.Wrenches[0]))
		for _, wr := range force.Wrenches {
			flat = append(flat, wr[:]...)
		}
		if err := f.WriteDataset(GroupForceFeedback, "time_stamp", container.FromFloat64(force.Stamps), nil); err != nil {
			return err
		}
		wrench := container.FromFloat64(flat, len(force.Wrenches), len(force.Wrenches[0]))
		if err := f.WriteDataset(GroupForceFeedback, "wrench", wrench, map[string]string{"columns": "fx,fy,fz,tx,ty,tz"}); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeVoxels(f OutputFile) error {
	t, err := w.events.DrainVoxelEvents()
	if err != nil {
		return err
	}
	if t.Empty() {
		return nil
	}
	if err := f.WriteDataset(GroupVoxelsRemoved, "voxel_time_stamp", container.FromFloat64(t.Stamps), nil); err != nil {
		return err
	}
	if err := f.WriteDataset(GroupVoxelsRemoved, "voxel_removed", container.FromFloat64(t.Removed, t.Rows, 4),
		map[string]string{"columns": "event,i,j,k"}); err != nil {
		return err
	}
	return f.WriteDataset(GroupVoxelsRemoved, "voxel_color", container.FromFloat64(t.Colors, t.Rows, 5),
		map[string]string{"columns": "event,r,g,b,a"})
}

// writeVolumePose replicates the fixed volume pose once per buffered sample
// of the first stream.
func (w *Writer) writeVolumePose(f OutputFile) error {
	n := w.buffers.Len(w.schema.Keys()[0])
	if n == 0 {
		return nil
	}
	pose := w.cfg.Metadata.VolumePose
	flat := make([]float64, 0, n*len(pose))
	for i := 0; i < n; i++ {
		flat = append(flat, pose...)
	}
	return f.WriteDataset(GroupData, stream.VolumePoseKey, container.FromFloat64(flat, n, len(pose)), nil)
}
