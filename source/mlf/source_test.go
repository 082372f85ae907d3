package mlf

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/hupe1980/seqbatch/blobstore"
	"github.com/hupe1980/seqbatch/corpus"
	"github.com/hupe1980/seqbatch/internal/retry"
	"github.com/hupe1980/seqbatch/model"
	"github.com/hupe1980/seqbatch/source"
	"github.com/hupe1980/seqbatch/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMLF = `#!MLF!#
"*/good.lab"
0 200000 s0
200000 500000 s2
.
"*/late.lab"
100000 300000 s1
.
"*/gap.lab"
0 100000 s1
200000 300000 s1
.
"*/unknown.lab"
0 200000 s7
.
"*/reversed.lab"
0 200000 s0
500000 300000 s2
.
`

func TestNew_Fixture(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	utts := testutil.NewRNG(3).Corpus(5, 4, 9, 2, 4)
	require.NoError(t, testutil.WriteMLF(ctx, store, "labels.mlf", utts))
	require.NoError(t, testutil.WriteStateList(ctx, store, "states.txt", 4))

	cd := corpus.New()
	s, err := New(ctx, store, cd, Config{Name: "labels", Paths: []string{"labels.mlf"}, LabelMappingFile: "states.txt"})
	require.NoError(t, err)

	streams := s.StreamDescriptions()
	require.Len(t, streams, 1)
	assert.Equal(t, model.StorageSparseCSC, streams[0].StorageType)
	assert.Equal(t, []int{4}, streams[0].SampleShape)

	st := s.Stats()
	assert.Equal(t, 5, st.Utterances)
	assert.Zero(t, st.InvalidUtterances)
	assert.Equal(t, 4, st.Classes)

	c, err := s.GetChunk(ctx, 0)
	require.NoError(t, err)
	defer c.Release()

	for u, utt := range utts {
		major, ok := cd.Lookup(utt.Key)
		require.True(t, ok)
		for f, want := range utt.Labels {
			d, err := s.SequenceByKey(model.Key{Major: major, Minor: uint32(f)})
			require.NoError(t, err)
			assert.Equal(t, model.KindLabelFrame, d.Kind)
			assert.Equal(t, u, d.Utterance)

			recs, err := c.GetSequence(d.ID)
			require.NoError(t, err)
			sp := recs[0].(*model.SparseSequenceData)
			assert.Equal(t, 1, sp.Samples)
			assert.Equal(t, [][]int32{{int32(want)}}, sp.Indices)
			assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(sp.Data)))
		}
	}
}

func TestNew_DataQuality(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "a.mlf", []byte(sampleMLF)))
	require.NoError(t, testutil.WriteStateList(ctx, store, "states.txt", 3))

	s, err := New(ctx, store, corpus.New(), Config{Name: "labels", Paths: []string{"a.mlf"}, LabelMappingFile: "states.txt"})
	require.NoError(t, err)

	assert.Equal(t, 5, s.Stats().Utterances)
	assert.Equal(t, 4, s.Stats().InvalidUtterances)
	assert.Equal(t, []uint32{1, 2, 3, 4}, s.Invalid().ToArray())

	seqs := s.SequenceDescriptions()
	for _, d := range seqs {
		assert.Equal(t, d.Utterance == 0, d.IsValid, "sequence %d", d.ID)
	}

	c, err := s.GetChunk(ctx, 0)
	require.NoError(t, err)
	defer c.Release()
	_, err = c.GetSequence(seqs[len(seqs)-1].ID)
	assert.ErrorIs(t, err, model.ErrSequenceNotFound)
}

func TestNew_ReversedTimeRangeInvalidatesOnlyItsUtterance(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "l.mlf", []byte("#!MLF!#\n\"*/good.lab\"\n0 300000 1\n.\n\"*/bad.lab\"\n0 500000 0\n500000 300000 2\n.\n")))

	cd := corpus.New()
	s, err := New(ctx, store, cd, Config{Name: "labels", Paths: []string{"l.mlf"}, Dimension: 3})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, s.Invalid().ToArray())

	good, ok := cd.Lookup("good")
	require.True(t, ok)
	d, err := s.SequenceByKey(model.Key{Major: good, Minor: 2})
	require.NoError(t, err)
	assert.True(t, d.IsValid)

	c, err := s.GetChunk(ctx, d.ChunkID)
	require.NoError(t, err)
	defer c.Release()
	recs, err := c.GetSequence(d.ID)
	require.NoError(t, err)
	assert.Equal(t, [][]int32{{1}}, recs[0].(*model.SparseSequenceData).Indices)
}

func TestNew_IntegerLabels(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "a.mlf", []byte("#!MLF!#\n\"x.lab\"\n0 200000 1\n200000 300000 5\n.\n\"y.lab\"\n0 100000 2\n.\n")))

	s, err := New(ctx, store, corpus.New(), Config{Name: "labels", Paths: []string{"a.mlf"}, Dimension: 4, ElementType: model.ElementFloat64})
	require.NoError(t, err)
	assert.Equal(t, []uint32{0}, s.Invalid().ToArray(), "class 5 is out of range")

	c, err := s.GetChunk(ctx, 0)
	require.NoError(t, err)
	defer c.Release()
	recs, err := c.GetSequence(3)
	require.NoError(t, err)
	sp := recs[0].(*model.SparseSequenceData)
	assert.Equal(t, [][]int32{{2}}, sp.Indices)
	assert.Equal(t, 1.0, math.Float64frombits(binary.LittleEndian.Uint64(sp.Data)))
}

func TestNew_Errors(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "bad.mlf", []byte("not an mlf\n")))
	require.NoError(t, store.Put(ctx, "dup.txt", []byte("a\na\n")))

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no name", Config{Paths: []string{"bad.mlf"}, Dimension: 2}},
		{"no paths", Config{Name: "l", Dimension: 2}},
		{"no dimension", Config{Name: "l", Paths: []string{"bad.mlf"}}},
		{"syntax", Config{Name: "l", Paths: []string{"bad.mlf"}, Dimension: 2}},
		{"duplicate state", Config{Name: "l", Paths: []string{"bad.mlf"}, LabelMappingFile: "dup.txt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(ctx, store, corpus.New(), tt.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := New(ctx, store, corpus.New(), Config{Name: "l", Paths: []string{"missing.mlf"}, Dimension: 2, Retry: retry.NoDelay(3)})
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestNew_ReadRetried(t *testing.T) {
	ctx := context.Background()
	mem := blobstore.NewMemoryStore()
	utts := testutil.NewRNG(1).Corpus(2, 3, 3, 1, 2)
	require.NoError(t, testutil.WriteMLF(ctx, mem, "labels.mlf", utts))
	require.NoError(t, testutil.WriteStateList(ctx, mem, "states.txt", 2))

	store := blobstore.NewFaultyStore(mem)
	store.FailReads(2, "labels", nil)

	s, err := New(ctx, store, corpus.New(), Config{Name: "labels", Paths: []string{"labels.mlf"}, LabelMappingFile: "states.txt", Retry: retry.NoDelay(3)})
	require.NoError(t, err)
	assert.Equal(t, 2, store.Failures())
	assert.Equal(t, 6, s.Stats().Frames)
}

func TestGetChunk_Paging(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	utts := testutil.NewRNG(8).Corpus(6, 5, 5, 1, 2)
	require.NoError(t, testutil.WriteMLF(ctx, store, "labels.mlf", utts))
	require.NoError(t, testutil.WriteStateList(ctx, store, "states.txt", 2))

	s, err := New(ctx, store, corpus.New(), Config{Name: "labels", Paths: []string{"labels.mlf"}, LabelMappingFile: "states.txt", ChunkFrames: 9})
	require.NoError(t, err)
	require.Equal(t, 3, s.ChunkCount())

	c, err := s.GetChunk(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, source.Paged, s.Residency(2))

	_, err = c.GetSequence(0)
	var notIn *model.ErrSequenceNotInChunk
	assert.ErrorAs(t, err, &notIn)

	c.Release()
	assert.Equal(t, source.Unpaged, s.Residency(2))
}
