// Package model defines the descriptor types shared by every seqbatch component.
//
// # Identity Types
//
//   - StreamDescription: one logical data channel (features, labels)
//   - Key: stable cross-source sequence identity (interned utterance id + frame offset)
//   - SequenceDescription: one trainable unit inside a source's index space
//
// # Records
//
//   - DenseSequenceData: full sample vectors
//   - SparseSequenceData: compressed-column (row index, value) pairs
//
// # Contracts
//
//   - Chunk: a reference-counted handle to a resident chunk
//   - Deserializer: a source of sequences paged in chunk by chunk
//   - SequenceProvider: the scheduling layer that hands out sequences per epoch
//
// Descriptors are immutable once published. Components that renumber
// sequences (the bundler) produce new descriptors instead of mutating them.
package model
