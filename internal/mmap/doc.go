// Package mmap provides read-only memory-mapped file access.
//
// Feature archives are read with many small random reads (one per
// utterance), so local blobs are mapped once and served by copying out of
// the mapping.
//
//	m, err := mmap.Open("train.htk")
//	if err != nil { ... }
//	defer m.Close()
//
//	m.Advise(mmap.AccessRandom)
//	frames := m.Bytes()[off : off+n]
//
// On non-unix platforms the file is read into memory instead.
//
// Mapping is safe for concurrent reads. Close is idempotent, but callers
// must not touch Bytes() after it returns.
package mmap
