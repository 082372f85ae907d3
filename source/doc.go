// Package source holds the machinery shared by chunked sources: frame-budget
// partitioning of utterances into chunks and a reference-counted chunk cache
// that pages chunks in on demand with bounded retry.
//
// A chunk is resident while at least one handle to it is held. The first
// Acquire pages it in, later ones share the resident data, and the last
// Release pages it out. Paging in or releasing a chunk in the wrong state is
// a programming error and panics.
package source
