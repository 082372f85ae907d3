package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return an error that satisfies errors.Is(err, ErrNotFound).
var ErrNotFound = os.ErrNotExist

// BlobStore is the backing store for corpus files.
type BlobStore interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Put writes a whole blob, replacing an existing one.
	Put(ctx context.Context, name string, data []byte) error
	// List returns the names with the given prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a blob.
type Blob interface {
	// ReadAt follows io.ReaderAt semantics.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	// ReadRange streams length bytes starting at off.
	ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error)
	// Size returns the size of the blob in bytes.
	Size() int64
	io.Closer
}

// Mappable is implemented by blobs that expose their bytes without copying.
type Mappable interface {
	// Bytes returns the blob contents, valid until the blob is closed.
	Bytes() ([]byte, error)
}

// ReadFull reads exactly n bytes at off.
func ReadFull(ctx context.Context, b Blob, off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+int64(n) > b.Size() {
		return nil, fmt.Errorf("blobstore: range [%d,%d) outside blob of %d bytes: %w", off, off+int64(n), b.Size(), io.ErrUnexpectedEOF)
	}
	buf := make([]byte, n)
	read, err := b.ReadAt(ctx, buf, off)
	if read == n {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return nil, err
}

// OpenReader streams the whole blob name. Closing the reader closes the blob.
func OpenReader(ctx context.Context, store BlobStore, name string) (io.ReadCloser, error) {
	b, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	if b.Size() == 0 {
		_ = b.Close()
		return io.NopCloser(strings.NewReader("")), nil
	}
	body, err := b.ReadRange(ctx, 0, b.Size())
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return &blobReader{ReadCloser: body, blob: b}, nil
}

type blobReader struct {
	io.ReadCloser
	blob Blob
}

func (r *blobReader) Close() error {
	return errors.Join(r.ReadCloser.Close(), r.blob.Close())
}

// sectionReader adapts a Blob range to io.Reader.
type sectionReader struct {
	ctx   context.Context
	blob  Blob
	off   int64
	limit int64
}

func newSectionReader(ctx context.Context, b Blob, off, length int64) io.ReadCloser {
	return io.NopCloser(&sectionReader{ctx: ctx, blob: b, off: off, limit: min(off+length, b.Size())})
}

func (r *sectionReader) Read(p []byte) (int, error) {
	if r.off >= r.limit {
		return 0, io.EOF
	}
	if rem := r.limit - r.off; int64(len(p)) > rem {
		p = p[:rem]
	}
	n, err := r.blob.ReadAt(r.ctx, p, r.off)
	r.off += int64(n)
	if errors.Is(err, io.EOF) && n > 0 {
		err = nil
	}
	return n, err
}
