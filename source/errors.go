package source

import "errors"

var (
	// ErrPagingFailed is returned when a chunk could not be paged in after
	// all retries. It wraps the last underlying error.
	ErrPagingFailed = errors.New("chunk paging failed")

	// ErrDoublePage is the panic value for paging in a resident chunk.
	ErrDoublePage = errors.New("chunk is already paged in")

	// ErrDoubleRelease is the panic value for releasing a chunk that holds no references.
	ErrDoubleRelease = errors.New("chunk is not paged in")
)
