// Package bundler presents several sources as one deserializer with a shared
// dense sequence and chunk index space.
//
// Alignment runs once at construction. The primary source's sequences are
// visited in order and each is looked up by key in every other source; a
// sequence survives only if it is found and valid everywhere. Unified chunks
// are cut wherever the primary chunk changes, so one unified chunk may need
// several chunks of a secondary source.
package bundler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/seqbatch/metrics"
	"github.com/hupe1980/seqbatch/model"
)

var _ model.Deserializer = (*Bundler)(nil)

// Bundler is the unified deserializer over a fixed set of sources.
type Bundler struct {
	sources []model.Deserializer
	primary int
	logger  *slog.Logger

	streams []*model.StreamDescription
	seqs    []*model.SequenceDescription
	// offsets[c] is the first unified sequence of chunk c; the last entry
	// closes the final chunk.
	offsets []int

	// seqMap[s][u] and chunkMap[s][u] locate unified sequence u in source s.
	seqMap   [][]int
	chunkMap [][]int

	dropped *roaring.Bitmap
}

// New aligns sources by key against the primary source.
func New(sources []model.Deserializer, optFns ...Option) (*Bundler, error) {
	o := options{maxInvalidFraction: DefaultMaxInvalidFraction, metrics: metrics.Noop{}}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	if o.primary < 0 || o.primary >= len(sources) {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidPrimary, o.primary, len(sources))
	}

	b := &Bundler{
		sources:  sources,
		primary:  o.primary,
		logger:   o.logger,
		seqMap:   make([][]int, len(sources)),
		chunkMap: make([][]int, len(sources)),
		dropped:  roaring.New(),
	}

	for _, src := range sources {
		for _, sd := range src.StreamDescriptions() {
			b.streams = append(b.streams, sd.Clone(len(b.streams)))
		}
	}

	if err := b.align(); err != nil {
		return nil, err
	}

	total := len(sources[o.primary].SequenceDescriptions())
	dropped := int(b.dropped.GetCardinality())
	o.metrics.RecordAlignment(total, dropped)
	b.logger.Info("sources aligned",
		"sources", len(sources), "streams", len(b.streams), "sequences", len(b.seqs),
		"dropped", dropped, "chunks", b.ChunkCount())

	if total > 0 && o.maxInvalidFraction < 1 && float64(dropped) > o.maxInvalidFraction*float64(total) {
		return nil, fmt.Errorf("%w: dropped %d of %d sequences (limit %.0f%%)",
			ErrTooManyInvalid, dropped, total, o.maxInvalidFraction*100)
	}
	return b, nil
}

func (b *Bundler) align() error {
	primary := b.sources[b.primary]
	lastPrimaryChunk := -1
	local := make([]*model.SequenceDescription, len(b.sources))

	for _, p := range primary.SequenceDescriptions() {
		ok, err := b.lookup(p, local)
		if err != nil {
			return err
		}
		if !ok {
			b.dropped.Add(uint32(p.ID))
			continue
		}

		if p.ChunkID != lastPrimaryChunk {
			b.offsets = append(b.offsets, len(b.seqs))
			lastPrimaryChunk = p.ChunkID
		}

		u := *p
		u.ID = len(b.seqs)
		u.ChunkID = len(b.offsets) - 1
		b.seqs = append(b.seqs, &u)
		for s, d := range local {
			b.seqMap[s] = append(b.seqMap[s], d.ID)
			b.chunkMap[s] = append(b.chunkMap[s], d.ChunkID)
		}
	}
	b.offsets = append(b.offsets, len(b.seqs))
	return nil
}

// lookup fills local with the matching sequence of every source and reports
// whether the sequence is valid in all of them.
func (b *Bundler) lookup(p *model.SequenceDescription, local []*model.SequenceDescription) (bool, error) {
	if !p.IsValid {
		return false, nil
	}
	for s, src := range b.sources {
		if s == b.primary {
			local[s] = p
			continue
		}
		d, err := src.SequenceByKey(p.Key)
		switch {
		case errors.Is(err, model.ErrSequenceNotFound):
			return false, nil
		case errors.Is(err, model.ErrNotPrimary), errors.Is(err, model.ErrUnsupported):
			return false, fmt.Errorf("%w: source %d: %w", ErrNotAlignable, s, err)
		case err != nil:
			return false, err
		}
		if !d.IsValid {
			return false, nil
		}
		local[s] = d
	}
	return true, nil
}

// StreamDescriptions returns the streams of all sources renumbered in source order.
func (b *Bundler) StreamDescriptions() []*model.StreamDescription { return b.streams }

// SequenceDescriptions returns the surviving sequences with unified ids.
func (b *Bundler) SequenceDescriptions() []*model.SequenceDescription { return b.seqs }

// ChunkCount returns the number of unified chunks.
func (b *Bundler) ChunkCount() int { return len(b.offsets) - 1 }

// ChunkRange returns the unified sequence range [first, end) of chunk id.
func (b *Bundler) ChunkRange(id int) (first, end int) {
	return b.offsets[id], b.offsets[id+1]
}

// Dropped returns the primary sequence ids excluded by alignment.
func (b *Bundler) Dropped() *roaring.Bitmap { return b.dropped.Clone() }

// SequenceByKey is not supported on the unified space.
func (b *Bundler) SequenceByKey(model.Key) (*model.SequenceDescription, error) {
	return nil, fmt.Errorf("bundler: lookup by key: %w", model.ErrUnsupported)
}

// Location is the position of a unified sequence inside one source.
type Location struct {
	SequenceID int
	ChunkID    int
}

// Resolve returns the per-source location of unified sequence id.
func (b *Bundler) Resolve(id int) ([]Location, error) {
	if id < 0 || id >= len(b.seqs) {
		return nil, fmt.Errorf("%w: unified sequence %d", model.ErrSequenceNotFound, id)
	}
	out := make([]Location, len(b.sources))
	for s := range b.sources {
		out[s] = Location{SequenceID: b.seqMap[s][id], ChunkID: b.chunkMap[s][id]}
	}
	return out, nil
}

type sourceChunk struct {
	source int
	chunk  int
}

// GetChunk acquires every source chunk the unified chunk needs. Either all
// handles are acquired or none is held on return.
func (b *Bundler) GetChunk(ctx context.Context, id int) (model.Chunk, error) {
	if id < 0 || id >= b.ChunkCount() {
		return nil, &model.ErrChunkOutOfRange{ChunkID: id, Count: b.ChunkCount()}
	}
	first, end := b.ChunkRange(id)

	var needed []sourceChunk
	seen := make(map[sourceChunk]struct{})
	for s := range b.sources {
		for u := first; u < end; u++ {
			k := sourceChunk{source: s, chunk: b.chunkMap[s][u]}
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				needed = append(needed, k)
			}
		}
	}

	handles := make([]model.Chunk, len(needed))
	g, gctx := errgroup.WithContext(ctx)
	for i, k := range needed {
		g.Go(func() error {
			h, err := b.sources[k.source].GetChunk(gctx, k.chunk)
			if err != nil {
				return fmt.Errorf("bundler: chunk %d: source %d chunk %d: %w", id, k.source, k.chunk, err)
			}
			handles[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, h := range handles {
			if h != nil {
				h.Release()
			}
		}
		return nil, err
	}

	c := &chunk{b: b, id: id, first: first, end: end, handles: make(map[sourceChunk]model.Chunk, len(needed))}
	for i, k := range needed {
		c.handles[k] = handles[i]
	}
	b.logger.Debug("unified chunk acquired", "chunk", id, "source_chunks", len(needed))
	return c, nil
}

type chunk struct {
	b          *Bundler
	id         int
	first, end int
	handles    map[sourceChunk]model.Chunk
	once       sync.Once
}

// GetSequence concatenates the records of every source in stream order.
func (c *chunk) GetSequence(id int) ([]model.SequenceData, error) {
	if id < c.first || id >= c.end {
		return nil, &model.ErrSequenceNotInChunk{SequenceID: id, ChunkID: c.id}
	}
	out := make([]model.SequenceData, 0, len(c.b.streams))
	for s := range c.b.sources {
		h := c.handles[sourceChunk{source: s, chunk: c.b.chunkMap[s][id]}]
		recs, err := h.GetSequence(c.b.seqMap[s][id])
		if err != nil {
			return nil, fmt.Errorf("bundler: sequence %d source %d: %w", id, s, err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

// Release drops every underlying handle. Further calls are no-ops.
func (c *chunk) Release() {
	c.once.Do(func() {
		for _, h := range c.handles {
			h.Release()
		}
	})
}
