package blobstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// ErrInjected is the default error returned by FaultyStore.
var ErrInjected = errors.New("blobstore: injected fault")

// FaultyStore wraps a BlobStore and fails reads on demand.
type FaultyStore struct {
	BlobStore

	mu        sync.Mutex
	failReads int
	pattern   string
	err       error
	reads     int
	failed    int
}

// NewFaultyStore wraps inner. No faults are armed initially.
func NewFaultyStore(inner BlobStore) *FaultyStore {
	return &FaultyStore{BlobStore: inner, err: ErrInjected}
}

// FailReads arms the next n reads of blobs whose name contains pattern
// (empty matches all) to fail with err (nil selects ErrInjected).
// n < 0 fails every matching read.
func (f *FaultyStore) FailReads(n int, pattern string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	f.failReads = n
	f.pattern = pattern
	f.err = err
}

// Reads returns the number of ReadAt calls seen, failed ones included.
func (f *FaultyStore) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Failures returns the number of injected failures.
func (f *FaultyStore) Failures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed
}

// Open wraps the inner blob.
func (f *FaultyStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := f.BlobStore.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &faultyBlob{Blob: b, store: f, name: name}, nil
}

func (f *FaultyStore) check(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.failReads == 0 || !strings.Contains(name, f.pattern) {
		return nil
	}
	if f.failReads > 0 {
		f.failReads--
	}
	f.failed++
	return f.err
}

type faultyBlob struct {
	Blob
	store *FaultyStore
	name  string
}

func (b *faultyBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := b.store.check(b.name); err != nil {
		return 0, err
	}
	return b.Blob.ReadAt(ctx, p, off)
}

func (b *faultyBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	return newSectionReader(ctx, b, off, length), nil
}
