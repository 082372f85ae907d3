package model

import (
	"context"
	"fmt"
)

// SequenceKind tags the variant part of a SequenceDescription.
type SequenceKind uint8

const (
	// KindUtterance is a whole variable-length utterance.
	KindUtterance SequenceKind = iota
	// KindFrame is one frame of a feature utterance; Offset is the frame index.
	KindFrame
	// KindLabelFrame is one frame of a label utterance; Offset indexes the class-id array.
	KindLabelFrame
)

func (k SequenceKind) String() string {
	switch k {
	case KindUtterance:
		return "utterance"
	case KindFrame:
		return "frame"
	case KindLabelFrame:
		return "label_frame"
	default:
		return fmt.Sprintf("SequenceKind(%d)", uint8(k))
	}
}

// SequenceDescription identifies one trainable unit within a source.
type SequenceDescription struct {
	// ID is unique within the owning source's index space.
	ID int
	// Key is shared by the same entity across sources.
	Key Key
	// ChunkID is non-decreasing in sequence order.
	ChunkID         int
	NumberOfSamples int
	IsValid         bool

	Kind SequenceKind
	// Utterance is the owning utterance index inside the source.
	Utterance int
	// Offset is the variant-specific position (see SequenceKind).
	Offset int
}

// SequenceData is the materialized payload of one sequence in one stream.
type SequenceData interface {
	NumberOfSamples() int
	StorageType() StorageType
}

// DenseSequenceData holds full sample vectors, little-endian in the
// stream's element type.
type DenseSequenceData struct {
	Data    []byte
	Samples int
}

// NumberOfSamples implements SequenceData.
func (d *DenseSequenceData) NumberOfSamples() int { return d.Samples }

// StorageType implements SequenceData.
func (d *DenseSequenceData) StorageType() StorageType { return StorageDense }

// SparseSequenceData holds compressed-column samples. Indices[s] lists the
// non-zero rows of sample s; Data holds the matching values back to back.
type SparseSequenceData struct {
	Indices [][]int32
	Data    []byte
	Samples int
}

// NumberOfSamples implements SequenceData.
func (d *SparseSequenceData) NumberOfSamples() int { return d.Samples }

// StorageType implements SequenceData.
func (d *SparseSequenceData) StorageType() StorageType { return StorageSparseCSC }

// Chunk is a handle to a resident chunk. Each handle owns one reference;
// the chunk stays paged in until every handle has been released.
type Chunk interface {
	// GetSequence materializes the records of a sequence in this chunk,
	// one per stream of the owning source.
	GetSequence(sequenceID int) ([]SequenceData, error)
	// Release drops the handle's reference. Calling it more than once is a no-op.
	Release()
}

// Deserializer exposes a set of streams whose sequences are paged in chunk by chunk.
type Deserializer interface {
	StreamDescriptions() []*StreamDescription
	// SequenceDescriptions returns every sequence including invalid ones.
	SequenceDescriptions() []*SequenceDescription
	ChunkCount() int
	GetChunk(ctx context.Context, chunkID int) (Chunk, error)
	// SequenceByKey performs the reverse lookup used for cross-source alignment.
	SequenceByKey(key Key) (*SequenceDescription, error)
}
