package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenReader(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, "states.txt", []byte("s0\ns1\ns2\n")))
	require.NoError(t, store.Put(ctx, "empty.scp", nil))

	r, err := OpenReader(ctx, store, "states.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "s0\ns1\ns2\n", string(data))

	r, err = OpenReader(ctx, store, "empty.scp")
	require.NoError(t, err)
	data, err = io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, data)

	_, err = OpenReader(ctx, store, "missing.mlf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenReader_FaultsSurfaceWhileStreaming(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	require.NoError(t, mem.Put(ctx, "labels.mlf", []byte("#!MLF!#\n")))

	f := NewFaultyStore(mem)
	f.FailReads(1, "labels", nil)

	r, err := OpenReader(ctx, f, "labels.mlf")
	require.NoError(t, err)
	defer r.Close()
	_, err = io.ReadAll(r)
	assert.ErrorIs(t, err, ErrInjected)
}
