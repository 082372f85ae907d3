// Package htk implements a dense feature source over HTK parameter files.
//
// Every frame is one sequence of one sample. A sample is the frame itself
// plus its context window, with neighbors clamped to the utterance, so the
// sample width is (left+1+right)*Dimension. Frames are paged in per chunk
// of consecutive utterances.
package htk

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/seqbatch/blobstore"
	"github.com/hupe1980/seqbatch/corpus"
	"github.com/hupe1980/seqbatch/internal/cache"
	"github.com/hupe1980/seqbatch/internal/compress"
	"github.com/hupe1980/seqbatch/internal/htkfile"
	"github.com/hupe1980/seqbatch/internal/retry"
	"github.com/hupe1980/seqbatch/metrics"
	"github.com/hupe1980/seqbatch/model"
	"github.com/hupe1980/seqbatch/source"
)

var _ model.Deserializer = (*Source)(nil)

type utterance struct {
	key    string
	major  uint32
	file   int
	start  int // first frame inside the file
	frames int
	valid  bool
}

// chunkData holds the frames of every valid utterance of a chunk back to back.
type chunkData struct {
	frames []float32
	// starts[i] is the first value index of utterance FirstUtterance+i, or -1.
	starts []int
}

// Source is a model.Deserializer over HTK feature files.
type Source struct {
	cfg    Config
	opts   options
	store  blobstore.BlobStore
	logger *slog.Logger

	left, right int
	stream      *model.StreamDescription

	files   []string
	headers []htkfile.Header
	utts    []utterance
	byKey   map[uint32]int
	chunks  []source.ChunkDescription
	seqs    []*model.SequenceDescription
	first   []int
	invalid int

	cache *source.Cache[*chunkData]

	blobMu sync.Mutex
	blobs  map[int]blobstore.Blob
}

// New scans the file headers and builds the sequence list. No frame data is
// read until a chunk is requested.
func New(ctx context.Context, store blobstore.BlobStore, cd *corpus.Descriptor, cfg Config, optFns ...Option) (*Source, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	o := options{metrics: metrics.Noop{}, compression: compress.LZ4}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Source{
		cfg:    cfg,
		opts:   o,
		store:  store,
		logger: o.logger.With("source", cfg.Name),
		byKey:  make(map[uint32]int),
		blobs:  make(map[int]blobstore.Blob),
	}

	paths, err := s.parsePaths(cd)
	if err != nil {
		return nil, err
	}
	if err := s.scanHeaders(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.buildUtterances(cd, paths); err != nil {
		s.Close()
		return nil, err
	}

	left, right, err := s.cfg.window()
	if err != nil {
		s.Close()
		return nil, err
	}
	s.left, s.right = left, right
	s.stream = &model.StreamDescription{
		Name:        cfg.Name,
		ElementType: cfg.ElementType,
		SampleShape: []int{(left + 1 + right) * s.cfg.Dimension},
		StorageType: model.StorageDense,
	}

	frames := make([]int, len(s.utts))
	layout := source.FrameLayout{
		Keys:   make([]uint32, len(s.utts)),
		Frames: frames,
		Valid:  make([]bool, len(s.utts)),
	}
	for i, u := range s.utts {
		frames[i] = u.frames
		layout.Keys[i] = u.major
		layout.Valid[i] = u.valid
	}
	s.chunks = source.Partition(frames, cfg.ChunkFrames)
	s.seqs, s.first = source.FrameSequences(layout, s.chunks, model.KindFrame)

	s.cache = source.NewCache(source.CacheConfig[*chunkData]{
		Name:      cfg.Name,
		Chunks:    len(s.chunks),
		Load:      s.load,
		Reserve:   s.chunkBytes,
		Evict:     s.spill,
		Retry:     cfg.Retry,
		Resources: o.resources,
		Metrics:   o.metrics,
		Logger:    s.logger,
	})

	s.logger.Info("htk source ready",
		"utterances", len(s.utts), "invalid", s.invalid, "frames", len(s.seqs),
		"chunks", len(s.chunks), "dimension", s.cfg.Dimension, "context_left", left, "context_right", right)
	return s, nil
}

func (s *Source) parsePaths(cd *corpus.Descriptor) ([]htkfile.Path, error) {
	fileIdx := make(map[string]int)
	var paths []htkfile.Path
	for _, raw := range s.cfg.Paths {
		p, err := htkfile.ParsePath(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: stream %q: %w", ErrInvalidConfig, s.cfg.Name, err)
		}
		if !cd.IsIncluded(p.Key) {
			continue
		}
		if _, ok := fileIdx[p.File]; !ok {
			fileIdx[p.File] = len(s.files)
			s.files = append(s.files, p.File)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// scanHeaders reads the header of every distinct file in parallel.
func (s *Source) scanHeaders(ctx context.Context) error {
	s.headers = make([]htkfile.Header, len(s.files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i := range s.files {
		g.Go(func() error {
			b, err := s.blob(gctx, i)
			if err != nil {
				return err
			}
			raw, err := blobstore.ReadFull(gctx, b, 0, htkfile.HeaderSize)
			if err != nil {
				return fmt.Errorf("htk: read header of %s: %w", s.files[i], err)
			}
			h, err := htkfile.ParseHeader(raw)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, s.files[i], err)
			}
			if need := h.FrameOffset(int(h.NumSamples)); need > b.Size() {
				return fmt.Errorf("%w: %s: %d frames need %d bytes, file has %d",
					ErrInvalidConfig, s.files[i], h.NumSamples, need, b.Size())
			}
			s.headers[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, h := range s.headers {
		if s.cfg.Dimension == 0 {
			s.cfg.Dimension = h.Dimension()
		}
		if h.Dimension() != s.cfg.Dimension {
			return fmt.Errorf("%w: %s has sample size %d, stream %q expects dimension %d",
				ErrInvalidConfig, s.files[i], h.SampleSize, s.cfg.Name, s.cfg.Dimension)
		}
	}
	if s.cfg.Dimension == 0 {
		return fmt.Errorf("%w: stream %q: cannot determine feature dimension", ErrInvalidConfig, s.cfg.Name)
	}
	return nil
}

func (s *Source) buildUtterances(cd *corpus.Descriptor, paths []htkfile.Path) error {
	fileIdx := make(map[string]int, len(s.files))
	for i, f := range s.files {
		fileIdx[f] = i
	}

	for _, p := range paths {
		fi := fileIdx[p.File]
		h := s.headers[fi]

		u := utterance{key: p.Key, file: fi, frames: int(h.NumSamples)}
		if p.HasRange {
			if p.End >= int(h.NumSamples) {
				return fmt.Errorf("%w: %s: range ends at frame %d, file has %d frames",
					ErrInvalidConfig, p, p.End, h.NumSamples)
			}
			u.start, u.frames = p.Start, p.NumFrames()
		}

		u.major = cd.ID(p.Key)
		if _, dup := s.byKey[u.major]; dup {
			s.logger.Warn("duplicate utterance key, skipping", "key", p.Key, "path", p.String())
			continue
		}

		u.valid = u.frames >= s.cfg.MinFrames
		if !u.valid {
			s.invalid++
			s.logger.Warn("utterance too short, marking invalid",
				"key", p.Key, "frames", u.frames, "min_frames", s.cfg.MinFrames)
		}
		s.byKey[u.major] = len(s.utts)
		s.utts = append(s.utts, u)
	}
	return nil
}

func (s *Source) blob(ctx context.Context, file int) (blobstore.Blob, error) {
	s.blobMu.Lock()
	defer s.blobMu.Unlock()
	if b, ok := s.blobs[file]; ok {
		return b, nil
	}
	b, err := s.store.Open(ctx, s.files[file])
	if err != nil {
		return nil, fmt.Errorf("htk: open %s: %w", s.files[file], err)
	}
	s.blobs[file] = b
	return b, nil
}

// chunkBytes is the resident size of a chunk's frame matrix.
func (s *Source) chunkBytes(id int) int64 {
	c := s.chunks[id]
	var n int64
	for u := c.FirstUtterance; u < c.FirstUtterance+c.NumUtterances; u++ {
		if s.utts[u].valid {
			n += int64(s.utts[u].frames) * int64(s.cfg.Dimension) * 4
		}
	}
	return n
}

func (s *Source) layout(id int) (starts []int, total int) {
	c := s.chunks[id]
	starts = make([]int, c.NumUtterances)
	for i := range starts {
		u := s.utts[c.FirstUtterance+i]
		if !u.valid {
			starts[i] = -1
			continue
		}
		starts[i] = total
		total += u.frames * s.cfg.Dimension
	}
	return starts, total
}

func (s *Source) spillKey(id int) cache.CacheKey {
	return cache.CacheKey{Kind: cache.CacheKindChunk, Path: s.cfg.Name, Offset: uint64(id)}
}

// load reads the frames of every valid utterance of chunk id.
func (s *Source) load(ctx context.Context, id int) (*chunkData, int64, error) {
	starts, total := s.layout(id)
	data := &chunkData{starts: starts}

	if s.opts.spill != nil {
		if image, ok := s.opts.spill.Get(ctx, s.spillKey(id)); ok {
			raw, err := compress.Decode(image)
			if err == nil && len(raw) == total*4 {
				data.frames = make([]float32, total)
				for i := range data.frames {
					data.frames[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
				}
				s.opts.metrics.RecordSpillHit(s.cfg.Name)
				return data, int64(total) * 4, nil
			}
			s.logger.Warn("discarding corrupt spill image", "chunk", id, "error", err)
			s.opts.spill.Invalidate(func(k cache.CacheKey) bool { return k == s.spillKey(id) })
		}
	}

	data.frames = make([]float32, total)
	c := s.chunks[id]

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, start := range starts {
		if start < 0 {
			continue
		}
		u := s.utts[c.FirstUtterance+i]
		dst := data.frames[start : start+u.frames*s.cfg.Dimension]
		g.Go(func() error {
			return s.readFrames(gctx, u, dst)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return data, int64(total) * 4, nil
}

func (s *Source) readFrames(ctx context.Context, u utterance, dst []float32) error {
	rc := s.opts.resources
	if err := rc.AcquireRead(ctx); err != nil {
		return err
	}
	defer rc.ReleaseRead()

	h := s.headers[u.file]
	off := h.FrameOffset(u.start)
	n := u.frames * int(h.SampleSize)
	if err := rc.AcquireIO(ctx, n); err != nil {
		return err
	}

	b, err := s.blob(ctx, u.file)
	if err != nil {
		return err
	}
	raw, err := frameBytes(ctx, b, off, n)
	if err != nil {
		return fmt.Errorf("htk: read %d frames of %s: %w", u.frames, u.key, err)
	}
	if err := htkfile.DecodeFrames(raw, dst); err != nil {
		return retry.Permanent(err)
	}
	return nil
}

// frameBytes returns n bytes at off. Mapped blobs are decoded in place
// instead of being copied through ReadAt.
func frameBytes(ctx context.Context, b blobstore.Blob, off int64, n int) ([]byte, error) {
	if m, ok := b.(blobstore.Mappable); ok {
		if data, err := m.Bytes(); err == nil && off >= 0 && off+int64(n) <= int64(len(data)) {
			return data[off : off+int64(n)], nil
		}
	}
	return blobstore.ReadFull(ctx, b, off, n)
}

// spill stores a compressed image of a paged-out chunk.
func (s *Source) spill(id int, data *chunkData) {
	if s.opts.spill == nil || data == nil {
		return
	}
	raw := make([]byte, len(data.frames)*4)
	for i, v := range data.frames {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	image, err := compress.Encode(s.opts.compression, raw)
	if err != nil {
		s.logger.Warn("spill encode failed", "chunk", id, "error", err)
		return
	}
	s.opts.spill.Set(context.Background(), s.spillKey(id), image)
}

// StreamDescriptions returns the single dense feature stream.
func (s *Source) StreamDescriptions() []*model.StreamDescription {
	return []*model.StreamDescription{s.stream}
}

// SequenceDescriptions returns one description per frame, invalid frames included.
func (s *Source) SequenceDescriptions() []*model.SequenceDescription { return s.seqs }

// ChunkCount returns the number of chunks.
func (s *Source) ChunkCount() int { return len(s.chunks) }

// Chunks returns the chunk partition.
func (s *Source) Chunks() []source.ChunkDescription { return s.chunks }

// Residency returns the paging state of chunk id.
func (s *Source) Residency(id int) source.State { return s.cache.State(id) }

// GetChunk pages chunk id in if needed and returns a new handle to it.
func (s *Source) GetChunk(ctx context.Context, id int) (model.Chunk, error) {
	h, err := s.cache.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	return &chunk{src: s, h: h}, nil
}

// SequenceByKey resolves a (utterance, frame) key.
func (s *Source) SequenceByKey(key model.Key) (*model.SequenceDescription, error) {
	u, ok := s.byKey[key.Major]
	if !ok || int(key.Minor) >= s.utts[u].frames {
		return nil, fmt.Errorf("%w: %s in source %q", model.ErrSequenceNotFound, key, s.cfg.Name)
	}
	return s.seqs[s.first[u]+int(key.Minor)], nil
}

// Stats summarizes the source.
type Stats struct {
	Utterances        int
	InvalidUtterances int
	Frames            int
	Chunks            int
}

// Stats returns summary counts.
func (s *Source) Stats() Stats {
	return Stats{
		Utterances:        len(s.utts),
		InvalidUtterances: s.invalid,
		Frames:            len(s.seqs),
		Chunks:            len(s.chunks),
	}
}

// Close closes the open blobs.
func (s *Source) Close() error {
	s.blobMu.Lock()
	defer s.blobMu.Unlock()
	var firstErr error
	for i, b := range s.blobs {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.blobs, i)
	}
	return firstErr
}

type chunk struct {
	src *Source
	h   *source.Handle[*chunkData]
}

func (c *chunk) Release() { c.h.Release() }

// GetSequence builds the context-augmented sample of one frame.
func (c *chunk) GetSequence(id int) ([]model.SequenceData, error) {
	s := c.src
	if id < 0 || id >= len(s.seqs) {
		return nil, fmt.Errorf("%w: sequence %d in source %q", model.ErrSequenceNotFound, id, s.cfg.Name)
	}
	d := s.seqs[id]
	if d.ChunkID != c.h.ID() {
		return nil, &model.ErrSequenceNotInChunk{SequenceID: id, ChunkID: c.h.ID()}
	}
	if !d.IsValid {
		return nil, fmt.Errorf("%w: sequence %d in source %q is invalid", model.ErrSequenceNotFound, id, s.cfg.Name)
	}

	data := c.h.Data()
	start := data.starts[d.Utterance-s.chunks[d.ChunkID].FirstUtterance]
	frames := s.utts[d.Utterance].frames
	dim := s.cfg.Dimension
	esize := s.cfg.ElementType.Size()

	out := make([]byte, (s.left+1+s.right)*dim*esize)
	pos := 0
	for j := -s.left; j <= s.right; j++ {
		t := min(max(d.Offset+j, 0), frames-1)
		src := data.frames[start+t*dim : start+(t+1)*dim]
		for _, v := range src {
			if s.cfg.ElementType == model.ElementFloat64 {
				binary.LittleEndian.PutUint64(out[pos:], math.Float64bits(float64(v)))
			} else {
				binary.LittleEndian.PutUint32(out[pos:], math.Float32bits(v))
			}
			pos += esize
		}
	}
	return []model.SequenceData{&model.DenseSequenceData{Data: out, Samples: 1}}, nil
}
