package testutil

import (
	"bytes"
	"context"
	"testing"

	"github.com/hupe1980/seqbatch/blobstore"
	"github.com/hupe1980/seqbatch/internal/htkfile"
	"github.com/hupe1980/seqbatch/internal/mlffile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRNG_Deterministic(t *testing.T) {
	a := NewRNG(4711).Frames(4, 3)
	b := NewRNG(4711).Frames(4, 3)
	assert.Equal(t, a, b)

	rng := NewRNG(1)
	first := rng.Intn(1000)
	rng.Reset()
	assert.Equal(t, first, rng.Intn(1000))
}

func TestRNG_Labels(t *testing.T) {
	labels := NewRNG(3).Labels(50, 4)
	require.Len(t, labels, 50)
	for _, l := range labels {
		assert.GreaterOrEqual(t, l, 0)
		assert.Less(t, l, 4)
	}
}

func TestCorpus(t *testing.T) {
	utts := NewRNG(7).Corpus(5, 3, 6, 2, 3)
	require.Len(t, utts, 5)
	for i, u := range utts {
		assert.Equal(t, UtteranceKey(i), u.Key)
		assert.GreaterOrEqual(t, len(u.Frames), 3)
		assert.LessOrEqual(t, len(u.Frames), 6)
		assert.Len(t, u.Labels, len(u.Frames))
	}
}

func TestWriters(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	utts := NewRNG(9).Corpus(3, 4, 4, 2, 3)

	paths, err := WriteHTK(ctx, store, "feat", utts)
	require.NoError(t, err)
	assert.Equal(t, "utt000=feat/utt000.htk", paths[0])

	b, err := store.Open(ctx, "feat/utt001.htk")
	require.NoError(t, err)
	raw, err := blobstore.ReadFull(ctx, b, 0, htkfile.HeaderSize)
	require.NoError(t, err)
	h, err := htkfile.ParseHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, int32(4), h.NumSamples)
	assert.Equal(t, 2, h.Dimension())

	archive, err := WriteHTKArchive(ctx, store, "all.htk", utts)
	require.NoError(t, err)
	assert.Equal(t, "utt002=all.htk[8,11]", archive[2])

	require.NoError(t, WriteMLF(ctx, store, "labels.mlf", utts))
	mb, err := store.Open(ctx, "labels.mlf")
	require.NoError(t, err)
	data, err := blobstore.ReadFull(ctx, mb, 0, int(mb.Size()))
	require.NoError(t, err)
	parsed, err := mlffile.Parse(bytes.NewReader(data), 0)
	require.NoError(t, err)
	require.Len(t, parsed, 3)
	assert.Equal(t, 4, parsed[0].NumFrames())

	require.NoError(t, WriteStateList(ctx, store, "states.txt", 3))
	sb, err := store.Open(ctx, "states.txt")
	require.NoError(t, err)
	states, err := blobstore.ReadFull(ctx, sb, 0, int(sb.Size()))
	require.NoError(t, err)
	ids, err := mlffile.ParseStateList(bytes.NewReader(states))
	require.NoError(t, err)
	assert.Equal(t, 2, ids["s2"])
}
