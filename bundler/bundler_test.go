package bundler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hupe1980/seqbatch/blobstore"
	"github.com/hupe1980/seqbatch/corpus"
	"github.com/hupe1980/seqbatch/metrics"
	"github.com/hupe1980/seqbatch/model"
	"github.com/hupe1980/seqbatch/source/htk"
	"github.com/hupe1980/seqbatch/source/mlf"
	"github.com/hupe1980/seqbatch/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves one dense stream whose record for a sequence is the
// sequence key encoded as two bytes.
type fakeSource struct {
	name   string
	seqs   []*model.SequenceDescription
	byKey  map[model.Key]*model.SequenceDescription
	chunks int
	noKeys bool
	fail   error

	mu   sync.Mutex
	live map[int]int
	gets int
}

// newFakeSource creates one sequence per key; perChunk sequences share a chunk.
func newFakeSource(name string, keys []model.Key, invalid map[int]bool, perChunk int) *fakeSource {
	f := &fakeSource{name: name, byKey: make(map[model.Key]*model.SequenceDescription), live: make(map[int]int)}
	for i, k := range keys {
		d := &model.SequenceDescription{ID: i, Key: k, ChunkID: i / perChunk, NumberOfSamples: 1, IsValid: !invalid[i], Kind: model.KindFrame}
		f.seqs = append(f.seqs, d)
		f.byKey[k] = d
		f.chunks = d.ChunkID + 1
	}
	return f
}

func (f *fakeSource) StreamDescriptions() []*model.StreamDescription {
	return []*model.StreamDescription{{Name: f.name, ElementType: model.ElementFloat32, SampleShape: []int{1}, StorageType: model.StorageDense}}
}

func (f *fakeSource) SequenceDescriptions() []*model.SequenceDescription { return f.seqs }

func (f *fakeSource) ChunkCount() int { return f.chunks }

func (f *fakeSource) SequenceByKey(k model.Key) (*model.SequenceDescription, error) {
	if f.noKeys {
		return nil, model.ErrNotPrimary
	}
	d, ok := f.byKey[k]
	if !ok {
		return nil, model.ErrSequenceNotFound
	}
	return d, nil
}

func (f *fakeSource) GetChunk(_ context.Context, id int) (model.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.fail != nil {
		return nil, f.fail
	}
	f.live[id]++
	return &fakeChunk{f: f, id: id}, nil
}

func (f *fakeSource) liveHandles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.live {
		n += c
	}
	return n
}

type fakeChunk struct {
	f    *fakeSource
	id   int
	once sync.Once
}

func (c *fakeChunk) GetSequence(id int) ([]model.SequenceData, error) {
	d := c.f.seqs[id]
	if d.ChunkID != c.id {
		return nil, &model.ErrSequenceNotInChunk{SequenceID: id, ChunkID: c.id}
	}
	return []model.SequenceData{&model.DenseSequenceData{Data: []byte(fmt.Sprintf("%s:%d:%d", c.f.name, d.Key.Major, d.Key.Minor)), Samples: 1}}, nil
}

func (c *fakeChunk) Release() {
	c.once.Do(func() {
		c.f.mu.Lock()
		c.f.live[c.id]--
		c.f.mu.Unlock()
	})
}

func keys(majors ...uint32) []model.Key {
	out := make([]model.Key, len(majors))
	for i, m := range majors {
		out[i] = model.Key{Major: m}
	}
	return out
}

func TestNew_Alignment(t *testing.T) {
	// Primary has 1..6; secondary misses 3, has 5 invalid and is reordered.
	primary := newFakeSource("features", keys(1, 2, 3, 4, 5, 6), map[int]bool{1: true}, 3)
	secondary := newFakeSource("labels", keys(6, 5, 4, 2, 1), map[int]bool{1: true}, 2)
	m := &metrics.Basic{}

	b, err := New([]model.Deserializer{primary, secondary}, WithMetrics(m))
	require.NoError(t, err)

	streams := b.StreamDescriptions()
	require.Len(t, streams, 2)
	assert.Equal(t, 0, streams[0].ID)
	assert.Equal(t, 1, streams[1].ID)
	assert.Equal(t, "labels", streams[1].Name)

	// Survivors: 1 (primary chunk 0), 4 and 6 (primary chunk 1).
	seqs := b.SequenceDescriptions()
	require.Len(t, seqs, 3)
	assert.Equal(t, []uint32{1, 4, 6}, []uint32{seqs[0].Key.Major, seqs[1].Key.Major, seqs[2].Key.Major})
	for i, d := range seqs {
		assert.Equal(t, i, d.ID)
		locs, err := b.Resolve(i)
		require.NoError(t, err)
		assert.Equal(t, d.Key, primary.seqs[locs[0].SequenceID].Key)
		assert.Equal(t, d.Key, secondary.seqs[locs[1].SequenceID].Key)
		assert.Equal(t, secondary.seqs[locs[1].SequenceID].ChunkID, locs[1].ChunkID)
	}

	assert.Equal(t, 2, b.ChunkCount())
	assert.Equal(t, 0, seqs[0].ChunkID)
	assert.Equal(t, 1, seqs[1].ChunkID)
	assert.Equal(t, 1, seqs[2].ChunkID)
	first, end := b.ChunkRange(1)
	assert.Equal(t, 1, first)
	assert.Equal(t, 3, end)

	// Primary ids 1 (invalid), 2 (missing in secondary) and 4 (invalid in secondary).
	assert.Equal(t, []uint32{1, 2, 4}, b.Dropped().ToArray())
	assert.Equal(t, int64(3), m.Stats().DroppedSequences)

	_, err = b.SequenceByKey(model.Key{Major: 1})
	assert.ErrorIs(t, err, model.ErrUnsupported)
	_, err = b.Resolve(3)
	assert.ErrorIs(t, err, model.ErrSequenceNotFound)
}

func TestGetChunk_Composite(t *testing.T) {
	primary := newFakeSource("features", keys(1, 2, 3, 4), nil, 4)
	secondary := newFakeSource("labels", keys(4, 3, 2, 1), nil, 1)

	b, err := New([]model.Deserializer{primary, secondary})
	require.NoError(t, err)
	require.Equal(t, 1, b.ChunkCount())

	c, err := b.GetChunk(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, primary.liveHandles())
	assert.Equal(t, 4, secondary.liveHandles(), "every secondary chunk is held")

	recs, err := c.GetSequence(2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "features:3:0", string(recs[0].(*model.DenseSequenceData).Data))
	assert.Equal(t, "labels:3:0", string(recs[1].(*model.DenseSequenceData).Data))

	_, err = c.GetSequence(4)
	var notIn *model.ErrSequenceNotInChunk
	assert.ErrorAs(t, err, &notIn)

	c.Release()
	c.Release()
	assert.Zero(t, primary.liveHandles())
	assert.Zero(t, secondary.liveHandles())

	_, err = b.GetChunk(context.Background(), 1)
	var oor *model.ErrChunkOutOfRange
	assert.ErrorAs(t, err, &oor)
}

func TestGetChunk_FailureReleasesAll(t *testing.T) {
	primary := newFakeSource("features", keys(1, 2), nil, 2)
	secondary := newFakeSource("labels", keys(1, 2), nil, 2)

	b, err := New([]model.Deserializer{primary, secondary})
	require.NoError(t, err)

	boom := errors.New("paging failed")
	secondary.fail = boom
	_, err = b.GetChunk(context.Background(), 0)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, primary.liveHandles())
}

func TestNew_Errors(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNoSources)

	a := newFakeSource("a", keys(1, 2), nil, 1)
	_, err = New([]model.Deserializer{a}, WithPrimary(1))
	assert.ErrorIs(t, err, ErrInvalidPrimary)

	noKeys := newFakeSource("b", keys(1, 2), nil, 1)
	noKeys.noKeys = true
	_, err = New([]model.Deserializer{a, noKeys})
	assert.ErrorIs(t, err, ErrNotAlignable)

	// The source without a reverse index works as the primary.
	_, err = New([]model.Deserializer{a, noKeys}, WithPrimary(1))
	assert.NoError(t, err)

	sparse := newFakeSource("c", keys(1), nil, 1)
	_, err = New([]model.Deserializer{newFakeSource("a", keys(1, 2, 3), nil, 1), sparse})
	assert.ErrorIs(t, err, ErrTooManyInvalid)

	_, err = New([]model.Deserializer{newFakeSource("a", keys(1, 2, 3), nil, 1), sparse}, WithMaxInvalidFraction(1))
	assert.NoError(t, err)
}

func TestNew_FeaturesAndLabels(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	utts := testutil.NewRNG(11).Corpus(6, 3, 7, 2, 3)

	paths, err := testutil.WriteHTK(ctx, store, "feat", utts)
	require.NoError(t, err)
	// Labels for the last utterance are missing.
	require.NoError(t, testutil.WriteMLF(ctx, store, "labels.mlf", utts[:5]))
	require.NoError(t, testutil.WriteStateList(ctx, store, "states.txt", 3))

	cd := corpus.New()
	feat, err := htk.New(ctx, store, cd, htk.Config{Name: "features", Paths: paths, ChunkFrames: 8})
	require.NoError(t, err)
	defer feat.Close()
	labels, err := mlf.New(ctx, store, cd, mlf.Config{Name: "labels", Paths: []string{"labels.mlf"}, LabelMappingFile: "states.txt", ChunkFrames: 5})
	require.NoError(t, err)

	b, err := New([]model.Deserializer{feat, labels})
	require.NoError(t, err)

	want := 0
	for _, u := range utts[:5] {
		want += len(u.Frames)
	}
	require.Len(t, b.SequenceDescriptions(), want)
	assert.Equal(t, uint64(len(utts[5].Frames)), b.Dropped().GetCardinality())

	for c := range b.ChunkCount() {
		ch, err := b.GetChunk(ctx, c)
		require.NoError(t, err)
		first, end := b.ChunkRange(c)
		for u := first; u < end; u++ {
			recs, err := ch.GetSequence(u)
			require.NoError(t, err)
			require.Len(t, recs, 2)

			d := b.SequenceDescriptions()[u]
			name := cd.Name(d.Key.Major)
			idx := 0
			fmt.Sscanf(name, "utt%d", &idx)
			sp := recs[1].(*model.SparseSequenceData)
			assert.Equal(t, int32(utts[idx].Labels[d.Key.Minor]), sp.Indices[0][0])
		}
		ch.Release()
	}
}
