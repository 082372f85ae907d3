package mmap

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// Mapping is a read-only view of a whole file.
type Mapping struct {
	path   string
	data   []byte
	unmap  func([]byte) error
	closed atomic.Bool
}

// Open maps the file at path. Empty files yield an empty mapping without
// a system mapping behind it.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size < 0 || int64(int(size)) != size {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrInvalidSize, path, size)
	}

	m := &Mapping{path: path}
	if size > 0 {
		if m.data, m.unmap, err = osMap(f, int(size)); err != nil {
			return nil, fmt.Errorf("mmap %s: %w", path, err)
		}
	}
	return m, nil
}

// Path returns the mapped file's path.
func (m *Mapping) Path() string { return m.path }

// Size returns the length of the mapping in bytes.
func (m *Mapping) Size() int { return len(m.data) }

// Close unmaps the file. Further calls are no-ops.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) || m.unmap == nil {
		return nil
	}
	return m.unmap(m.data)
}

// Bytes returns the whole mapping, or nil once closed.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Region returns n bytes at off without copying. The slice is only valid
// until Close.
func (m *Mapping) Region(off, n int64) ([]byte, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if off < 0 || n < 0 || off+n > int64(len(m.data)) {
		return nil, fmt.Errorf("%w: [%d,%d) of %d bytes", ErrInvalidOffset, off, off+n, len(m.data))
	}
	return m.data[off : off+n], nil
}

// Advise hints the kernel about the expected access pattern.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return osAdvise(m.data, pattern)
}

// ReadAt implements io.ReaderAt. A read crossing the end of the file
// returns the available bytes with io.EOF.
func (m *Mapping) ReadAt(p []byte, off int64) (int, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, ErrInvalidOffset
	}
	size := int64(len(m.data))
	if off > size || (off == size && len(p) > 0) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
