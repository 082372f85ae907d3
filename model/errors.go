package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotPrimary is returned by sources that cannot be queried by key.
	ErrNotPrimary = errors.New("not a primary source")

	// ErrUnsupported is returned for operations a component never supports.
	ErrUnsupported = errors.New("operation not supported")

	// ErrSequenceNotFound is returned when a key or id does not resolve.
	ErrSequenceNotFound = errors.New("sequence not found")

	// ErrInvalidEpochConfig is returned for contradictory epoch settings.
	ErrInvalidEpochConfig = errors.New("invalid epoch configuration")
)

// ErrChunkOutOfRange is returned when a chunk id is outside [0, Count).
type ErrChunkOutOfRange struct {
	ChunkID int
	Count   int
}

func (e *ErrChunkOutOfRange) Error() string {
	return fmt.Sprintf("chunk %d out of range [0,%d)", e.ChunkID, e.Count)
}

// ErrSequenceNotInChunk is returned when a chunk handle is asked for a
// sequence owned by another chunk.
type ErrSequenceNotInChunk struct {
	SequenceID int
	ChunkID    int
}

func (e *ErrSequenceNotInChunk) Error() string {
	return fmt.Sprintf("sequence %d is not in chunk %d", e.SequenceID, e.ChunkID)
}
