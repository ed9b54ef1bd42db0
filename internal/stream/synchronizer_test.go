package stream

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ms = int64(time.Millisecond)

func threePoseSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema(
		Spec{Key: "a", Kind: KindPose},
		Spec{Key: "b", Kind: KindPose},
		Spec{Key: "c", Kind: KindPose},
	)
	require.NoError(t, err)
	return s
}

func poseAt(t *testing.T, key string, stamp int64) Sample {
	t.Helper()
	p, err := Pose([]float64{float64(stamp), 0, 0, 0, 0, 0, 1})
	require.NoError(t, err)
	return Sample{Key: key, Stamp: stamp, Payload: p}
}

// collect returns a synchronizer whose records are appended to the returned slice.
func collect(t *testing.T, opts Options) (*Synchronizer, *[]Record) {
	t.Helper()
	s, err := NewSynchronizer(threePoseSchema(t), opts)
	require.NoError(t, err)
	var records []Record
	s.OnRecord(func(r Record) { records = append(records, r) })
	return s, &records
}

func stampsOf(r Record) []int64 {
	out := make([]int64, len(r.Samples))
	for i, s := range r.Samples {
		out[i] = s.Stamp
	}
	return out
}

func TestSynchronizer_ApproximateAlignedTriples(t *testing.T) {
	t.Parallel()

	groups := []int64{1000 * ms, 1008 * ms, 1050 * ms}

	t.Run("interleaved", func(t *testing.T) {
		t.Parallel()
		s, records := collect(t, Options{Mode: ModeApproximate, Tolerance: 10 * time.Millisecond})
		for _, g := range groups {
			for _, k := range []string{"a", "b", "c"} {
				require.NoError(t, s.Add(poseAt(t, k, g)))
			}
		}
		require.Len(t, *records, 3)
		for i, g := range groups {
			assert.Equal(t, []int64{g, g, g}, stampsOf((*records)[i]))
			assert.Equal(t, g, (*records)[i].Stamp)
		}
	})

	t.Run("stream by stream", func(t *testing.T) {
		t.Parallel()
		s, records := collect(t, Options{Mode: ModeApproximate, Tolerance: 10 * time.Millisecond})
		for _, k := range []string{"a", "b", "c"} {
			for _, g := range groups {
				require.NoError(t, s.Add(poseAt(t, k, g)))
			}
		}
		require.Len(t, *records, 3)
		for i, g := range groups {
			assert.Equal(t, []int64{g, g, g}, stampsOf((*records)[i]))
		}
		assert.Equal(t, []int{0, 0, 0}, s.Pending())
	})
}

func TestSynchronizer_ApproximateTolerance(t *testing.T) {
	t.Parallel()

	s, records := collect(t, Options{Mode: ModeApproximate, Tolerance: 10 * time.Millisecond})
	require.NoError(t, s.Add(poseAt(t, "a", 1000*ms)))
	require.NoError(t, s.Add(poseAt(t, "b", 1008*ms)))
	require.NoError(t, s.Add(poseAt(t, "c", 1050*ms)))
	assert.Empty(t, *records, "1.05 must not match 1.00")

	require.NoError(t, s.Add(poseAt(t, "c", 1005*ms)))
	require.Len(t, *records, 1)
	assert.Equal(t, []int64{1000 * ms, 1008 * ms, 1005 * ms}, stampsOf((*records)[0]))
	assert.Equal(t, 1000*ms, (*records)[0].Stamp)

	// c@1.05 is still pending; the matched samples are gone.
	assert.Equal(t, []int{0, 0, 1}, s.Pending())
}

func TestSynchronizer_MinimalSpan(t *testing.T) {
	t.Parallel()

	s, records := collect(t, Options{Mode: ModeApproximate, Tolerance: 10 * time.Millisecond})
	// a has two candidates; 1.009 is closer to b and c.
	require.NoError(t, s.Add(poseAt(t, "a", 1000*ms)))
	require.NoError(t, s.Add(poseAt(t, "a", 1009*ms)))
	require.NoError(t, s.Add(poseAt(t, "b", 1010*ms)))
	require.NoError(t, s.Add(poseAt(t, "c", 1011*ms)))

	require.Len(t, *records, 1)
	assert.Equal(t, []int64{1009 * ms, 1010 * ms, 1011 * ms}, stampsOf((*records)[0]))
	// a@1.000 was older than the match and is discarded.
	assert.Equal(t, []int{0, 0, 0}, s.Pending())
	_, discarded := s.Stats()
	assert.Equal(t, uint64(1), discarded)
}

func TestSynchronizer_TieBreakEarliest(t *testing.T) {
	t.Parallel()

	s, records := collect(t, Options{Mode: ModeApproximate, Tolerance: 10 * time.Millisecond})
	for _, k := range []string{"a", "b"} {
		require.NoError(t, s.Add(poseAt(t, k, 1000*ms)))
		require.NoError(t, s.Add(poseAt(t, k, 1002*ms)))
	}
	// c is 1ms away from both groups; both tuples span 1ms.
	require.NoError(t, s.Add(poseAt(t, "c", 1001*ms)))

	require.Len(t, *records, 1)
	assert.Equal(t, []int64{1000 * ms, 1000 * ms, 1001 * ms}, stampsOf((*records)[0]))
}

func TestSynchronizer_NoSampleReuse(t *testing.T) {
	t.Parallel()

	s, records := collect(t, Options{Mode: ModeApproximate, Tolerance: 10 * time.Millisecond})
	require.NoError(t, s.Add(poseAt(t, "a", 1000*ms)))
	require.NoError(t, s.Add(poseAt(t, "b", 1000*ms)))
	require.NoError(t, s.Add(poseAt(t, "c", 1000*ms)))
	require.Len(t, *records, 1)

	// New a and b, but c has nothing new: no record may reuse c@1.000.
	require.NoError(t, s.Add(poseAt(t, "a", 1001*ms)))
	require.NoError(t, s.Add(poseAt(t, "b", 1001*ms)))
	assert.Len(t, *records, 1)

	// A straggler at or before the matched stamp is rejected.
	require.NoError(t, s.Add(poseAt(t, "c", 999*ms)))
	assert.Len(t, *records, 1)
	assert.Equal(t, []int{1, 1, 0}, s.Pending())

	require.NoError(t, s.Add(poseAt(t, "c", 1002*ms)))
	require.Len(t, *records, 2)
	assert.Greater(t, (*records)[1].Stamp, (*records)[0].Stamp)
}

func TestSynchronizer_Exact(t *testing.T) {
	t.Parallel()

	s, records := collect(t, Options{Mode: ModeExact, Tolerance: time.Second})
	require.NoError(t, s.Add(poseAt(t, "a", 1000*ms)))
	require.NoError(t, s.Add(poseAt(t, "b", 1000*ms)))
	require.NoError(t, s.Add(poseAt(t, "c", 1001*ms)))
	assert.Empty(t, *records, "exact mode ignores tolerance")

	require.NoError(t, s.Add(poseAt(t, "c", 1000*ms)))
	require.Len(t, *records, 1)
	assert.Equal(t, []int64{1000 * ms, 1000 * ms, 1000 * ms}, stampsOf((*records)[0]))
	assert.Equal(t, ModeExact, s.Mode())
}

func TestSynchronizer_BoundedHistory(t *testing.T) {
	t.Parallel()

	s, records := collect(t, Options{Mode: ModeApproximate, Tolerance: time.Millisecond, History: 4})
	for i := int64(0); i < 10; i++ {
		require.NoError(t, s.Add(poseAt(t, "a", i*100*ms)))
	}
	assert.Empty(t, *records)
	assert.Equal(t, []int{4, 0, 0}, s.Pending())

	_, discarded := s.Stats()
	assert.Equal(t, uint64(6), discarded)
}

func TestSynchronizer_RecordsInSchemaOrder(t *testing.T) {
	t.Parallel()

	s, records := collect(t, Options{Mode: ModeExact})
	require.NoError(t, s.Add(poseAt(t, "c", 5)))
	require.NoError(t, s.Add(poseAt(t, "a", 5)))
	require.NoError(t, s.Add(poseAt(t, "b", 5)))

	require.Len(t, *records, 1)
	keys := make([]string, 0, 3)
	for _, smp := range (*records)[0].Samples {
		keys = append(keys, smp.Key)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, keys); diff != "" {
		t.Errorf("sample order mismatch (-want +got):\n%s", diff)
	}
	emitted, _ := s.Stats()
	assert.Equal(t, uint64(1), emitted)
}

func TestSynchronizer_RejectsInvalidSamples(t *testing.T) {
	t.Parallel()

	s, _ := collect(t, Options{})
	assert.ErrorIs(t, s.Add(poseAt(t, "zz", 1)), ErrUnknownStream)
	assert.ErrorIs(t, s.Add(Sample{Key: "a", Stamp: 1, Payload: Wrench([3]float64{}, [3]float64{})}), ErrShapeMismatch)
}

func TestNewSynchronizer_Errors(t *testing.T) {
	t.Parallel()

	schema := threePoseSchema(t)
	_, err := NewSynchronizer(nil, Options{})
	assert.Error(t, err)
	_, err = NewSynchronizer(schema, Options{Mode: "fuzzy"})
	assert.Error(t, err)
	_, err = NewSynchronizer(schema, Options{Tolerance: -time.Millisecond})
	assert.Error(t, err)
	_, err = NewSynchronizer(schema, Options{History: -1})
	assert.Error(t, err)

	s, err := NewSynchronizer(schema, Options{})
	require.NoError(t, err)
	assert.Equal(t, ModeApproximate, s.Mode())
}
