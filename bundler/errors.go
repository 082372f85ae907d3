package bundler

import "errors"

var (
	// ErrNoSources is returned when the bundler is built without sources.
	ErrNoSources = errors.New("bundler: no sources")

	// ErrInvalidPrimary is returned when the primary index names no source.
	ErrInvalidPrimary = errors.New("bundler: invalid primary source")

	// ErrNotAlignable is returned when a secondary source cannot be queried by key.
	ErrNotAlignable = errors.New("bundler: source cannot be aligned by key")

	// ErrTooManyInvalid is returned when the dropped fraction of primary
	// sequences exceeds the configured threshold.
	ErrTooManyInvalid = errors.New("bundler: too many invalid sequences")
)
