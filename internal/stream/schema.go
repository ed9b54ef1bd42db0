// Package stream defines the fixed set of sensor streams a recording session
// accepts and aligns independently arriving samples into synchronized
// records.
package stream

import (
	"errors"
	"fmt"

	"github.com/banshee-data/simrecord/internal/container"
	"github.com/banshee-data/simrecord/internal/geometry"
)

var (
	// ErrUnknownStream is returned for a sample whose key is not in the schema.
	ErrUnknownStream = errors.New("unknown stream")

	// ErrShapeMismatch is returned for a payload that does not match its stream's shape.
	ErrShapeMismatch = errors.New("payload does not match stream shape")

	// ErrStreamUnavailable is returned at startup when the source does not
	// publish a stream the schema requires.
	ErrStreamUnavailable = errors.New("stream unavailable")
)

// Kind is the payload type carried by a stream.
type Kind string

const (
	KindImage  Kind = "image"  // H x W x 3 uint8, BGR
	KindDepth  Kind = "depth"  // H x W float16
	KindPose   Kind = "pose"   // 7 float64: x y z qx qy qz qw
	KindWrench Kind = "wrench" // 6 float64: fx fy fz tx ty tz
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindImage, KindDepth, KindPose, KindWrench:
		return k, nil
	}
	return "", fmt.Errorf("unknown stream kind %q", s)
}

// Spec declares one stream: its key and payload shape.
type Spec struct {
	Key    string
	Kind   Kind
	Height int // image and depth only
	Width  int // image and depth only
}

// Shape returns the shape of a single payload.
func (s Spec) Shape() []int {
	switch s.Kind {
	case KindImage:
		return []int{s.Height, s.Width, 3}
	case KindDepth:
		return []int{s.Height, s.Width}
	case KindPose:
		return []int{geometry.PoseLen}
	case KindWrench:
		return []int{geometry.WrenchLen}
	}
	return nil
}

// DType returns the element type of a single payload.
func (s Spec) DType() container.DType {
	switch s.Kind {
	case KindImage:
		return container.Uint8
	case KindDepth:
		return container.Float16
	}
	return container.Float64
}

func (s Spec) validate() error {
	if s.Key == "" {
		return errors.New("stream key is empty")
	}
	if s.Key == TimeKey || s.Key == VolumePoseKey {
		return fmt.Errorf("stream key %q is reserved", s.Key)
	}
	if _, err := ParseKind(string(s.Kind)); err != nil {
		return fmt.Errorf("stream %s: %w", s.Key, err)
	}
	if s.Kind == KindImage || s.Kind == KindDepth {
		if s.Height <= 0 || s.Width <= 0 {
			return fmt.Errorf("stream %s: %s needs positive height and width, got %dx%d",
				s.Key, s.Kind, s.Height, s.Width)
		}
	}
	return nil
}

// Dataset names written alongside the stream arrays in the data group.
const (
	TimeKey       = "time"
	VolumePoseKey = "pose_mastoidectomy_volume"
)

// Schema is the ordered, immutable set of streams of a session.
type Schema struct {
	specs []Spec
	index map[string]int
}

// NewSchema validates specs and fixes their order. Keys must be unique.
func NewSchema(specs ...Spec) (*Schema, error) {
	if len(specs) == 0 {
		return nil, errors.New("schema needs at least one stream")
	}
	s := &Schema{
		specs: make([]Spec, len(specs)),
		index: make(map[string]int, len(specs)),
	}
	for i, sp := range specs {
		if err := sp.validate(); err != nil {
			return nil, err
		}
		if _, dup := s.index[sp.Key]; dup {
			return nil, fmt.Errorf("duplicate stream key %q", sp.Key)
		}
		s.specs[i] = sp
		s.index[sp.Key] = i
	}
	return s, nil
}

// Len returns the number of streams.
func (s *Schema) Len() int { return len(s.specs) }

// Specs returns the streams in registration order.
func (s *Schema) Specs() []Spec {
	out := make([]Spec, len(s.specs))
	copy(out, s.specs)
	return out
}

// Keys returns the stream keys in registration order.
func (s *Schema) Keys() []string {
	keys := make([]string, len(s.specs))
	for i, sp := range s.specs {
		keys[i] = sp.Key
	}
	return keys
}

// Index returns the registration position of key.
func (s *Schema) Index(key string) (int, bool) {
	i, ok := s.index[key]
	return i, ok
}

// Lookup returns the spec of key.
func (s *Schema) Lookup(key string) (Spec, bool) {
	i, ok := s.index[key]
	if !ok {
		return Spec{}, false
	}
	return s.specs[i], true
}

// Check reports whether payload is valid for the stream key.
func (s *Schema) Check(key string, payload container.Array) error {
	sp, ok := s.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStream, key)
	}
	if payload.DType != sp.DType() || !equalShape(payload.Shape, sp.Shape()) {
		return fmt.Errorf("%w: %s got %s%v, want %s%v",
			ErrShapeMismatch, key, payload.DType, payload.Shape, sp.DType(), sp.Shape())
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrShapeMismatch, key, err)
	}
	return nil
}

// CheckAvailable fails with ErrStreamUnavailable when a schema stream is not
// in available.
func (s *Schema) CheckAvailable(available []string) error {
	have := make(map[string]struct{}, len(available))
	for _, k := range available {
		have[k] = struct{}{}
	}
	var missing []string
	for _, sp := range s.specs {
		if _, ok := have[sp.Key]; !ok {
			missing = append(missing, sp.Key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrStreamUnavailable, missing)
	}
	return nil
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
