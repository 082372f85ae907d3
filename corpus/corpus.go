// Package corpus provides the interning registry that gives every utterance
// name a dense id shared by all sources of one reader.
package corpus

import (
	"sync"
)

// Descriptor interns utterance names. Ids are dense, start at 0 and are never
// reused; the table only grows. Safe for concurrent use.
type Descriptor struct {
	mu    sync.RWMutex
	ids   map[string]uint32
	names []string

	include map[string]struct{}
}

// Option configures a Descriptor.
type Option func(*Descriptor)

// WithInclude restricts the corpus to the given utterance names.
// Sources skip utterances for which IsIncluded returns false.
func WithInclude(names []string) Option {
	return func(d *Descriptor) {
		d.include = make(map[string]struct{}, len(names))
		for _, n := range names {
			d.include[n] = struct{}{}
		}
	}
}

// New creates an empty Descriptor.
func New(optFns ...Option) *Descriptor {
	d := &Descriptor{
		ids: make(map[string]uint32),
	}
	for _, fn := range optFns {
		fn(d)
	}
	return d
}

// ID returns the id of name, interning it on first use.
func (d *Descriptor) ID(name string) uint32 {
	d.mu.RLock()
	id, ok := d.ids[name]
	d.mu.RUnlock()
	if ok {
		return id
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.ids[name]; ok {
		return id
	}
	id = uint32(len(d.names))
	d.ids[name] = id
	d.names = append(d.names, name)
	return id
}

// Lookup returns the id of name without interning it.
func (d *Descriptor) Lookup(name string) (uint32, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.ids[name]
	return id, ok
}

// Name returns the name for id, or "" if id was never issued.
func (d *Descriptor) Name(id uint32) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if int(id) >= len(d.names) {
		return ""
	}
	return d.names[id]
}

// Len returns the number of interned names.
func (d *Descriptor) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.names)
}

// IsIncluded reports whether name takes part in this corpus.
func (d *Descriptor) IsIncluded(name string) bool {
	if d.include == nil {
		return true
	}
	_, ok := d.include[name]
	return ok
}
