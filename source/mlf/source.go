// Package mlf implements a sparse label source over HTK master label files.
//
// Every frame is one sequence whose record is a one-hot class vector in
// compressed-column form. Class ids are parsed once at construction and kept
// in memory; chunks only bound how many frames a handle exposes.
package mlf

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/seqbatch/blobstore"
	"github.com/hupe1980/seqbatch/corpus"
	"github.com/hupe1980/seqbatch/internal/mlffile"
	"github.com/hupe1980/seqbatch/internal/retry"
	"github.com/hupe1980/seqbatch/metrics"
	"github.com/hupe1980/seqbatch/model"
	"github.com/hupe1980/seqbatch/source"
)

var _ model.Deserializer = (*Source)(nil)

type utterance struct {
	key    string
	major  uint32
	frames int
	// base is the index of the first frame in Source.classes.
	base int
}

// Source is a model.Deserializer over MLF label files.
type Source struct {
	cfg    Config
	logger *slog.Logger

	stream  *model.StreamDescription
	mapping map[string]int

	utts    []utterance
	classes []int32
	invalid *roaring.Bitmap
	byKey   map[uint32]int

	chunks []source.ChunkDescription
	seqs   []*model.SequenceDescription
	first  []int
	one    []byte // 1.0 in the element type, shared read-only by every record

	cache *source.Cache[struct{}]
}

// New reads and validates every label file. Utterances with timing or
// label problems are kept as invalid sequences.
func New(ctx context.Context, store blobstore.BlobStore, cd *corpus.Descriptor, cfg Config, optFns ...Option) (*Source, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	o := options{metrics: metrics.Noop{}}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Source{
		cfg:     cfg,
		logger:  o.logger.With("source", cfg.Name),
		invalid: roaring.New(),
		byKey:   make(map[uint32]int),
	}

	if cfg.LabelMappingFile != "" {
		raw, err := s.read(ctx, store, cfg.LabelMappingFile)
		if err != nil {
			return nil, err
		}
		if s.mapping, err = mlffile.ParseStateList(bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, cfg.LabelMappingFile, err)
		}
		if s.cfg.Dimension == 0 {
			s.cfg.Dimension = len(s.mapping)
		}
		if s.cfg.Dimension == 0 {
			return nil, fmt.Errorf("%w: %s is empty", ErrInvalidConfig, cfg.LabelMappingFile)
		}
	}

	for _, p := range cfg.Paths {
		raw, err := s.read(ctx, store, p)
		if err != nil {
			return nil, err
		}
		utts, err := mlffile.Parse(bytes.NewReader(raw), cfg.FrameShift)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, p, err)
		}
		for _, u := range utts {
			s.add(cd, u)
		}
	}

	s.stream = &model.StreamDescription{
		Name:        cfg.Name,
		ElementType: cfg.ElementType,
		SampleShape: []int{s.cfg.Dimension},
		StorageType: model.StorageSparseCSC,
	}
	if cfg.ElementType == model.ElementFloat64 {
		s.one = binary.LittleEndian.AppendUint64(nil, math.Float64bits(1))
	} else {
		s.one = binary.LittleEndian.AppendUint32(nil, math.Float32bits(1))
	}

	layout := source.FrameLayout{
		Keys:   make([]uint32, len(s.utts)),
		Frames: make([]int, len(s.utts)),
		Valid:  make([]bool, len(s.utts)),
		Base:   make([]int, len(s.utts)),
	}
	for i, u := range s.utts {
		layout.Keys[i] = u.major
		layout.Frames[i] = u.frames
		layout.Valid[i] = !s.invalid.Contains(uint32(i))
		layout.Base[i] = u.base
	}
	s.chunks = source.Partition(layout.Frames, cfg.ChunkFrames)
	s.seqs, s.first = source.FrameSequences(layout, s.chunks, model.KindLabelFrame)

	s.cache = source.NewCache(source.CacheConfig[struct{}]{
		Name:    cfg.Name,
		Chunks:  len(s.chunks),
		Load:    func(context.Context, int) (struct{}, int64, error) { return struct{}{}, 0, nil },
		Retry:   cfg.Retry,
		Metrics: o.metrics,
		Logger:  s.logger,
	})

	s.logger.Info("mlf source ready",
		"utterances", len(s.utts), "invalid", s.invalid.GetCardinality(), "frames", len(s.seqs),
		"chunks", len(s.chunks), "classes", s.cfg.Dimension)
	return s, nil
}

func (s *Source) read(ctx context.Context, store blobstore.BlobStore, name string) ([]byte, error) {
	var out []byte
	err := retry.Do(ctx, s.cfg.Retry, "read "+name, func(int) error {
		r, err := blobstore.OpenReader(ctx, store, name)
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				return retry.Permanent(err)
			}
			return err
		}
		defer r.Close()
		out, err = io.ReadAll(r)
		return err
	}, func(attempt int, err error) {
		s.logger.Warn("label file read failed, retrying", "path", name, "attempt", attempt, "error", err)
	})
	if err != nil {
		return nil, fmt.Errorf("mlf: %w", err)
	}
	return out, nil
}

// add appends one utterance, marking it invalid on data-quality problems.
func (s *Source) add(cd *corpus.Descriptor, mu mlffile.Utterance) {
	if !cd.IsIncluded(mu.Key) {
		return
	}
	major := cd.ID(mu.Key)
	if _, dup := s.byKey[major]; dup {
		s.logger.Warn("duplicate utterance key, skipping", "key", mu.Key)
		return
	}

	frames := 0
	for _, e := range mu.Entries {
		frames = max(frames, e.FirstFrame+e.NumFrames)
	}

	u := utterance{key: mu.Key, major: major, frames: frames, base: len(s.classes)}
	idx := uint32(len(s.utts))
	s.byKey[major] = len(s.utts)
	s.utts = append(s.utts, u)
	s.classes = append(s.classes, make([]int32, frames)...)

	if reason := s.fill(mu, s.classes[u.base:u.base+frames]); reason != "" {
		s.invalid.Add(idx)
		s.logger.Warn("invalid label utterance", "key", mu.Key, "reason", reason)
	}
}

// fill writes the class id of every frame into dst and returns a reason
// if the utterance is unusable.
func (s *Source) fill(mu mlffile.Utterance, dst []int32) string {
	if len(mu.Entries) == 0 || len(dst) == 0 {
		return "no labelled frames"
	}
	next := 0
	for _, e := range mu.Entries {
		if e.NumFrames < 0 {
			return fmt.Sprintf("segment at frame %d ends %d frames before it starts", e.FirstFrame, -e.NumFrames)
		}
		if e.FirstFrame != next {
			if next == 0 {
				return fmt.Sprintf("first segment starts at frame %d", e.FirstFrame)
			}
			return fmt.Sprintf("segment at frame %d does not continue frame %d", e.FirstFrame, next)
		}
		id, ok := s.classID(e.Label)
		if !ok {
			return fmt.Sprintf("unknown label %q", e.Label)
		}
		if id >= s.cfg.Dimension {
			return fmt.Sprintf("class id %d out of range [0,%d)", id, s.cfg.Dimension)
		}
		for f := e.FirstFrame; f < e.FirstFrame+e.NumFrames; f++ {
			dst[f] = int32(id)
		}
		next = e.FirstFrame + e.NumFrames
	}
	return ""
}

func (s *Source) classID(label string) (int, bool) {
	if s.mapping != nil {
		id, ok := s.mapping[label]
		return id, ok
	}
	id, err := strconv.Atoi(label)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// StreamDescriptions returns the single sparse label stream.
func (s *Source) StreamDescriptions() []*model.StreamDescription {
	return []*model.StreamDescription{s.stream}
}

// SequenceDescriptions returns one description per labelled frame.
func (s *Source) SequenceDescriptions() []*model.SequenceDescription { return s.seqs }

// ChunkCount returns the number of chunks.
func (s *Source) ChunkCount() int { return len(s.chunks) }

// Residency returns the paging state of chunk id.
func (s *Source) Residency(id int) source.State { return s.cache.State(id) }

// Invalid returns the indices of invalid utterances.
func (s *Source) Invalid() *roaring.Bitmap { return s.invalid.Clone() }

// GetChunk returns a new handle to chunk id.
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
	Classes           int
}

// Stats returns summary counts.
func (s *Source) Stats() Stats {
	return Stats{
		Utterances:        len(s.utts),
		InvalidUtterances: int(s.invalid.GetCardinality()),
		Frames:            len(s.seqs),
		Chunks:            len(s.chunks),
		Classes:           s.cfg.Dimension,
	}
}

type chunk struct {
	src *Source
	h   *source.Handle[struct{}]
}

func (c *chunk) Release() { c.h.Release() }

// GetSequence returns the one-hot record of a label frame.
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
	return []model.SequenceData{&model.SparseSequenceData{
		Indices: [][]int32{{s.classes[d.Offset]}},
		Data:    s.one,
		Samples: 1,
	}}, nil
}
