package seqbatch

import (
	"errors"
	"fmt"

	"github.com/hupe1980/seqbatch/bundler"
	"github.com/hupe1980/seqbatch/internal/resource"
	"github.com/hupe1980/seqbatch/sequencer"
	"github.com/hupe1980/seqbatch/source/htk"
	"github.com/hupe1980/seqbatch/source/mlf"
)

var (
	// ErrEpochNotStarted is returned by ReadMinibatch before StartEpoch.
	ErrEpochNotStarted = errors.New("epoch not started")

	// ErrInvalidEpochSize is returned when an epoch has no samples.
	ErrInvalidEpochSize = errors.New("epoch size must be positive")

	// ErrInvalidConfig unifies configuration errors of all sources.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("reader closed")

	// ErrMemoryLimitExceeded is returned by ReadMinibatch when the chunks it
	// needs do not fit the memory limit next to the chunks already held,
	// typically because the randomization window spans more data than the
	// limit allows.
	ErrMemoryLimitExceeded = resource.ErrMemoryLimitExceeded
)

// ErrSource annotates an error with the stream that produced it.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrSource struct {
	Stream string
	cause  error
}

func (e *ErrSource) Error() string {
	return fmt.Sprintf("stream %q: %v", e.Stream, e.cause)
}

func (e *ErrSource) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Configuration normalization.
	if errors.Is(err, htk.ErrInvalidConfig) || errors.Is(err, mlf.ErrInvalidConfig) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	// Epoch normalization.
	if errors.Is(err, sequencer.ErrNotStarted) {
		return fmt.Errorf("%w: %w", ErrEpochNotStarted, err)
	}
	if errors.Is(err, bundler.ErrNoSources) || errors.Is(err, bundler.ErrInvalidPrimary) || errors.Is(err, bundler.ErrNotAlignable) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return err
}
