package container

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/simrecord/internal/monitoring"
)

// FileExtension is the extension of container files.
const FileExtension = ".sqlite"

var (
	// ErrClosed is returned by operations on a closed File.
	ErrClosed = errors.New("container file is closed")

	// ErrDatasetExists is returned when a dataset name is already taken in its group.
	ErrDatasetExists = errors.New("dataset already exists")
)

// Options configures a newly created File.
type Options struct {
	Compression Compression
}

// DatasetInfo describes a stored dataset without loading its data.
type DatasetInfo struct {
	Group       string
	Name        string
	DType       DType
	Shape       []int
	Codec       string
	RawBytes    int
	StoredBytes int
}

// File is an open container. Writes are serialised; a File may be shared
// between goroutines but the recorder uses it from one.
type File struct {
	db          *sql.DB
	path        string
	compression Compression
	readOnly    bool

	mu     sync.Mutex
	closed bool
}

// Create creates a new container at path. It fails if path already exists:
// a container is never reopened for append.
func Create(path string, opts Options) (*File, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("container %s already exists", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	compression := opts.Compression
	if compression == "" {
		compression = CompressionLZ4
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open container: %w", err)
	}
	// PRAGMAs are per connection; keep exactly one.
	db.SetMaxOpenConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return &File{db: db, path: path, compression: compression}, nil
}

// Open opens an existing container for reading.
func Open(path string) (*File, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat container: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open container: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA query_only = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set query_only: %w", err)
	}
	return &File{db: db, path: path, readOnly: true}, nil
}

// applyPragmas sets the connection PRAGMAs used for every container.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}

// Path returns the file's path on disk.
func (f *File) Path() string {
	return f.path
}

func validName(s string) bool {
	return s != "" && !strings.Contains(s, "/")
}

// WriteDataset stores a under group/name together with optional attributes.
func (f *File) WriteDataset(group, name string, a Array, attrs map[string]string) error {
	if !validName(group) || !validName(name) {
		return fmt.Errorf("invalid dataset path %q/%q", group, name)
	}
	if err := a.Validate(); err != nil {
		return fmt.Errorf("dataset %s/%s: %w", group, name, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if f.readOnly {
		return fmt.Errorf("container %s is read-only", f.path)
	}

	shape := a.Shape
	if shape == nil {
		shape = []int{}
	}
	shapeJSON, err := json.Marshal(shape)
	if err != nil {
		return fmt.Errorf("failed to marshal shape: %w", err)
	}
	codec, blob, err := encodeBlob(a.Data, f.compression)
	if err != nil {
		return fmt.Errorf("dataset %s/%s: %w", group, name, err)
	}

	tx, err := f.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow(`SELECT COUNT(*) FROM datasets WHERE group_name = ? AND name = ?`, group, name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check dataset %s/%s: %w", group, name, err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s/%s", ErrDatasetExists, group, name)
	}

	_, err = tx.Exec(
		`INSERT INTO datasets (group_name, name, dtype, shape, codec, raw_size, data, created_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		group, name, string(a.DType), string(shapeJSON), codec, len(a.Data), blob, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert dataset %s/%s: %w", group, name, err)
	}

	for k, v := range attrs {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO attributes (group_name, dataset, key, value) VALUES (?, ?, ?, ?)`,
			group, name, k, v,
		); err != nil {
			return fmt.Errorf("failed to insert attribute %s on %s/%s: %w", k, group, name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dataset %s/%s: %w", group, name, err)
	}
	monitoring.Debugf("[Container] %s: wrote %s/%s %s%v (%s, %d -> %d bytes)",
		f.path, group, name, a.DType, a.Shape, codec, len(a.Data), len(blob))
	return nil
}

// SetAttribute sets a string attribute. An empty group and dataset address
// the file itself.
func (f *File) SetAttribute(group, dataset, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if f.readOnly {
		return fmt.Errorf("container %s is read-only", f.path)
	}
	_, err := f.db.Exec(
		`INSERT OR REPLACE INTO attributes (group_name, dataset, key, value) VALUES (?, ?, ?, ?)`,
		group, dataset, key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set attribute %s: %w", key, err)
	}
	return nil
}

// Attributes returns the attributes of group/dataset; empty strings address the file.
func (f *File) Attributes(group, dataset string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}

	rows, err := f.db.Query(
		`SELECT key, value FROM attributes WHERE group_name = ? AND dataset = ?`, group, dataset)
	if err != nil {
		return nil, fmt.Errorf("failed to query attributes: %w", err)
	}
	defer rows.Close()

	attrs := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		attrs[k] = v
	}
	return attrs, rows.Err()
}

// Groups lists the groups holding at least one dataset, sorted by name.
func (f *File) Groups() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}

	rows, err := f.db.Query(`SELECT DISTINCT group_name FROM datasets ORDER BY group_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// HasGroup reports whether group holds any dataset.
func (f *File) HasGroup(group string) (bool, error) {
	groups, err := f.Groups()
	if err != nil {
		return false, err
	}
	i := sort.SearchStrings(groups, group)
	return i < len(groups) && groups[i] == group, nil
}

// Datasets describes every dataset in group, sorted by name.
func (f *File) Datasets(group string) ([]DatasetInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}

	rows, err := f.db.Query(
		`SELECT name, dtype, shape, codec, raw_size, length(data) FROM datasets
		 WHERE group_name = ? ORDER BY name`, group)
	if err != nil {
		return nil, fmt.Errorf("failed to query datasets: %w", err)
	}
	defer rows.Close()

	var out []DatasetInfo
	for rows.Next() {
		info := DatasetInfo{Group: group}
		var dtype, shape string
		if err := rows.Scan(&info.Name, &dtype, &shape, &info.Codec, &info.RawBytes, &info.StoredBytes); err != nil {
			return nil, err
		}
		info.DType = DType(dtype)
		if err := json.Unmarshal([]byte(shape), &info.Shape); err != nil {
			return nil, fmt.Errorf("dataset %s/%s has invalid shape %q: %w", group, info.Name, shape, err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Read loads and decodes group/name.
func (f *File) Read(group, name string) (Array, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return Array{}, ErrClosed
	}

	var dtype, shape, codec string
	var rawSize int
	var blob []byte
	err := f.db.QueryRow(
		`SELECT dtype, shape, codec, raw_size, data FROM datasets WHERE group_name = ? AND name = ?`,
		group, name,
	).Scan(&dtype, &shape, &codec, &rawSize, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return Array{}, fmt.Errorf("dataset %s/%s: %w", group, name, os.ErrNotExist)
	}
	if err != nil {
		return Array{}, fmt.Errorf("failed to read dataset %s/%s: %w", group, name, err)
	}

	a := Array{DType: DType(dtype)}
	if err := json.Unmarshal([]byte(shape), &a.Shape); err != nil {
		return Array{}, fmt.Errorf("dataset %s/%s has invalid shape %q: %w", group, name, shape, err)
	}
	if a.Data, err = decodeBlob(codec, blob, rawSize); err != nil {
		return Array{}, fmt.Errorf("dataset %s/%s: %w", group, name, err)
	}
	return a, a.Validate()
}

// SchemaVersion returns the migration version the file was created with.
func (f *File) SchemaVersion() (uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}
	var version uint
	var dirty bool
	err := f.db.QueryRow(`SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("container %s has a dirty schema at version %d", f.path, version)
	}
	return version, nil
}

// Close checkpoints the write-ahead log into the main file and closes it.
// Closing twice is a no-op.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	if !f.readOnly {
		if _, err := f.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			monitoring.Logf("[Container] %s: wal checkpoint failed: %v", f.path, err)
		}
	}
	return f.db.Close()
}
