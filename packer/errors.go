package packer

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCapacity is returned for a non-positive minibatch capacity.
	ErrInvalidCapacity = errors.New("packer: capacity must be positive")

	// ErrUnsupportedStorage is returned for storage encodings the packer cannot
	// read or write. It is a configuration error.
	ErrUnsupportedStorage = errors.New("packer: unsupported storage type")

	// ErrUnsupportedElementType is returned for unknown or mismatched element types.
	ErrUnsupportedElementType = errors.New("packer: unsupported element type")

	// ErrInvalidRecord is returned when a record does not fit its stream.
	ErrInvalidRecord = errors.New("packer: invalid record")
)

// ErrStreamMismatch is returned when an output stream does not match the
// provider's stream at the same position.
type ErrStreamMismatch struct {
	Stream int
	Field  string
	Want   any
	Got    any
}

func (e *ErrStreamMismatch) Error() string {
	return fmt.Sprintf("packer: stream %d %s mismatch: provider has %v, output has %v", e.Stream, e.Field, e.Want, e.Got)
}
