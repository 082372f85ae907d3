package model

import (
	"context"
	"fmt"
)

// EpochConfig describes one epoch as seen by one worker.
type EpochConfig struct {
	MinibatchSizeInSamples  int
	TotalEpochSizeInSamples int
	EpochIndex              int
	WorkerRank              int
	NumberOfWorkers         int
}

// Validate checks the configuration for contradictions.
func (c EpochConfig) Validate() error {
	if c.MinibatchSizeInSamples <= 0 {
		return fmt.Errorf("%w: minibatch size %d", ErrInvalidEpochConfig, c.MinibatchSizeInSamples)
	}
	if c.TotalEpochSizeInSamples <= 0 {
		return fmt.Errorf("%w: epoch size %d", ErrInvalidEpochConfig, c.TotalEpochSizeInSamples)
	}
	if c.EpochIndex < 0 {
		return fmt.Errorf("%w: epoch index %d", ErrInvalidEpochConfig, c.EpochIndex)
	}
	if c.NumberOfWorkers <= 0 || c.WorkerRank < 0 || c.WorkerRank >= c.NumberOfWorkers {
		return fmt.Errorf("%w: worker %d of %d", ErrInvalidEpochConfig, c.WorkerRank, c.NumberOfWorkers)
	}
	return nil
}

// Sequences is one batch handed out by a SequenceProvider.
// Data[i][s] is the record of sequence i in stream s.
type Sequences struct {
	Data       [][]SequenceData
	EndOfEpoch bool
}

// SequenceProvider decides which sequences are visited and in what order.
type SequenceProvider interface {
	StreamDescriptions() []*StreamDescription
	StartEpoch(cfg EpochConfig) error
	GetNextSequences(ctx context.Context, count int) (Sequences, error)
}

// Layout is shared by all streams of one minibatch.
type Layout struct {
	NumSequences int
	// SequenceLengths is nil in frame mode.
	SequenceLengths []int
}

// InitAsFrameMode resets the layout to n single-sample sequences.
func (l *Layout) InitAsFrameMode(n int) {
	l.NumSequences = n
	l.SequenceLengths = nil
}

// IsFrameMode reports whether every sequence holds exactly one sample.
func (l *Layout) IsFrameMode() bool {
	return l.SequenceLengths == nil
}

// StreamMinibatch is the packed buffer of one stream.
type StreamMinibatch struct {
	Data   []byte
	Layout *Layout
}

// Minibatch is the packer output. An empty minibatch with EndOfEpoch set
// means the epoch is exhausted; a non-empty one with EndOfEpoch set is the
// last partial batch.
type Minibatch struct {
	EndOfEpoch bool
	Streams    []*StreamMinibatch
}

// Empty reports whether the minibatch carries no sequences.
func (m *Minibatch) Empty() bool {
	return len(m.Streams) == 0 || m.Streams[0].Layout == nil || m.Streams[0].Layout.NumSequences == 0
}

// Exhausted reports the terminal condition: no data and end of epoch.
func (m *Minibatch) Exhausted() bool {
	return m.EndOfEpoch && m.Empty()
}
