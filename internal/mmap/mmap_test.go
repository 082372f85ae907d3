package mmap

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMmap_OpenReadClose(t *testing.T) {
	content := []byte("HTK frames!!")
	f, err := os.CreateTemp("", "mmap_test")
	require.NoError(t, err)
	defer os.Remove(f.Name())

	_, err = f.Write(content)
	require.NoError(t, err)
	f.Close()

	m, err := Open(f.Name())
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, int64(len(content)), int64(m.Size()))
	assert.Equal(t, content, m.Bytes())

	// ReadAt
	buf := make([]byte, 5)
	n, err := m.ReadAt(buf, 4) // "frame"
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "frame", string(buf))

	// ReadAt out of bounds
	buf2 := make([]byte, 10)
	n, err = m.ReadAt(buf2, 100)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)

	// ReadAt partial
	buf3 := make([]byte, 10)
	n, err = m.ReadAt(buf3, 4) // 8 bytes left
	assert.Equal(t, 8, n)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "frames!!", string(buf3[:n]))

	// ReadAt negative offset
	_, err = m.ReadAt(buf, -1)
	assert.Equal(t, ErrInvalidOffset, err)
}

func TestMmap_EmptyFile(t *testing.T) {
	f, err := os.CreateTemp("", "mmap_test_empty")
	require.NoError(t, err)
	defer os.Remove(f.Name())
	f.Close()

	m, err := Open(f.Name())
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 0, m.Size())
}

func TestMmap_CloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feat.htk")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3, 4}, 0o644))

	m, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, m.Advise(AccessRandom))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Nil(t, m.Bytes())

	_, err = m.ReadAt(make([]byte, 1), 0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Advise(AccessSequential), ErrClosed)
}

func TestMmap_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMmap_Region(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feat.htk")
	require.NoError(t, os.WriteFile(path, []byte("headerframes"), 0o644))

	m, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, m.Path())

	r, err := m.Region(6, 6)
	require.NoError(t, err)
	assert.Equal(t, "frames", string(r))

	_, err = m.Region(10, 6)
	assert.ErrorIs(t, err, ErrInvalidOffset)
	_, err = m.Region(-1, 1)
	assert.ErrorIs(t, err, ErrInvalidOffset)

	require.NoError(t, m.Close())
	_, err = m.Region(0, 1)
	assert.ErrorIs(t, err, ErrClosed)
}
