// Package sequencer decides which sequences are visited in which order.
//
// The sequencer sees the deserializer's sequences as an endless series of
// sweeps. Epoch e covers positions [e*size, (e+1)*size) of that series and
// each position goes to worker position%workers. In frame mode every
// sequence is one sample, so positions count samples.
//
// Without randomization a sweep visits chunks and sequences in order. With
// randomization the chunk order is shuffled per sweep, consecutive shuffled
// chunks are grouped until the randomization window is filled, and the
// sequences inside each group are shuffled. Only the chunks of the current
// group are held.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"

	"github.com/hupe1980/seqbatch/model"
)

var _ model.SequenceProvider = (*Sequencer)(nil)

var (
	// ErrNotStarted is returned by GetNextSequences before StartEpoch.
	ErrNotStarted = errors.New("sequencer: epoch not started")
	// ErrEmpty is returned when the deserializer has no valid sequences.
	ErrEmpty = errors.New("sequencer: no valid sequences")
)

type options struct {
	window int
	seed   int64
	logger *slog.Logger
}

// Option configures a Sequencer.
type Option func(*options)

// WithRandomization enables block randomization over windowSamples samples.
// A window of 0 disables randomization.
func WithRandomization(windowSamples int, seed int64) Option {
	return func(o *options) {
		o.window = windowSamples
		o.seed = seed
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

type group struct {
	chunks []int
	// end is the exclusive end of the group in the sweep order.
	end int
}

// Sequencer implements model.SequenceProvider. It is not safe for
// concurrent use.
type Sequencer struct {
	d      model.Deserializer
	opts   options
	logger *slog.Logger

	seqs      []*model.SequenceDescription
	perChunk  [][]int
	sweepSize int

	cfg     model.EpochConfig
	started bool
	pos     int
	end     int

	sweep  int
	order  []int
	groups []group
	cur    int // current group index

	held map[int]model.Chunk
}

// New creates a sequencer over d.
func New(d model.Deserializer, optFns ...Option) *Sequencer {
	o := options{}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Sequencer{
		d:        d,
		opts:     o,
		logger:   o.logger,
		seqs:     d.SequenceDescriptions(),
		perChunk: make([][]int, d.ChunkCount()),
		sweep:    -1,
		held:     make(map[int]model.Chunk),
	}
	for _, sd := range s.seqs {
		if sd.IsValid {
			s.perChunk[sd.ChunkID] = append(s.perChunk[sd.ChunkID], sd.ID)
			s.sweepSize++
		}
	}
	return s
}

// StreamDescriptions returns the deserializer's streams.
func (s *Sequencer) StreamDescriptions() []*model.StreamDescription {
	return s.d.StreamDescriptions()
}

// SweepSize returns the number of valid sequences in one sweep.
func (s *Sequencer) SweepSize() int { return s.sweepSize }

// StartEpoch positions the cursor at the start of cfg's epoch for cfg's worker.
func (s *Sequencer) StartEpoch(cfg model.EpochConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if s.sweepSize == 0 {
		return ErrEmpty
	}
	s.releaseAll()
	s.cfg = cfg
	s.started = true
	s.pos = cfg.EpochIndex * cfg.TotalEpochSizeInSamples
	s.end = s.pos + cfg.TotalEpochSizeInSamples
	s.logger.Debug("sequencer epoch started",
		"epoch", cfg.EpochIndex, "start", s.pos, "end", s.end, "worker", cfg.WorkerRank, "workers", cfg.NumberOfWorkers)
	return nil
}

// GetNextSequences returns the records of up to count sequences assigned to
// this worker. EndOfEpoch is set once the epoch's positions are used up. On
// error the cursor is left where it was, so a retry returns the same
// sequences.
func (s *Sequencer) GetNextSequences(ctx context.Context, count int) (model.Sequences, error) {
	if !s.started {
		return model.Sequences{}, ErrNotStarted
	}

	start := s.pos
	var out model.Sequences
	for len(out.Data) < count && s.pos < s.end {
		pos := s.pos
		if pos%s.cfg.NumberOfWorkers != s.cfg.WorkerRank {
			s.pos++
			continue
		}

		id, err := s.at(ctx, pos)
		if err != nil {
			s.pos = start
			return model.Sequences{}, err
		}
		c := s.held[s.seqs[id].ChunkID]
		recs, err := c.GetSequence(id)
		if err != nil {
			s.pos = start
			return model.Sequences{}, fmt.Errorf("sequencer: sequence %d: %w", id, err)
		}
		out.Data = append(out.Data, recs)
		s.pos++
	}
	out.EndOfEpoch = s.pos >= s.end
	return out, nil
}

// at returns the sequence id at global position pos and makes sure its
// group's chunks are held.
func (s *Sequencer) at(ctx context.Context, pos int) (int, error) {
	sweep, idx := pos/s.sweepSize, pos%s.sweepSize
	if sweep != s.sweep {
		s.releaseAll()
		s.buildSweep(sweep)
	}

	g := s.cur
	for idx >= s.groups[g].end {
		g++
	}
	for idx < s.groupStart(g) {
		g--
	}
	if g != s.cur || len(s.held) == 0 {
		if err := s.hold(ctx, g); err != nil {
			return 0, err
		}
	}
	return s.order[idx], nil
}

func (s *Sequencer) groupStart(g int) int {
	if g == 0 {
		return 0
	}
	return s.groups[g-1].end
}

// hold acquires the chunks of group g and releases those no longer needed.
// On error nothing is held.
func (s *Sequencer) hold(ctx context.Context, g int) error {
	want := make(map[int]bool, len(s.groups[g].chunks))
	for _, c := range s.groups[g].chunks {
		want[c] = true
	}
	for id, c := range s.held {
		if !want[id] {
			c.Release()
			delete(s.held, id)
		}
	}
	for _, id := range s.groups[g].chunks {
		if _, ok := s.held[id]; ok {
			continue
		}
		c, err := s.d.GetChunk(ctx, id)
		if err != nil {
			s.releaseAll()
			return err
		}
		s.held[id] = c
	}
	s.cur = g
	return nil
}

// buildSweep computes the visiting order of one sweep.
func (s *Sequencer) buildSweep(sweep int) {
	s.sweep = sweep
	s.order = s.order[:0]
	s.groups = s.groups[:0]
	s.cur = 0

	chunks := make([]int, len(s.perChunk))
	for i := range chunks {
		chunks[i] = i
	}

	if s.opts.window <= 0 {
		for _, c := range chunks {
			if len(s.perChunk[c]) == 0 {
				continue
			}
			s.order = append(s.order, s.perChunk[c]...)
			s.groups = append(s.groups, group{chunks: []int{c}, end: len(s.order)})
		}
		return
	}

	rng := rand.New(rand.NewSource(s.opts.seed + int64(sweep)))
	rng.Shuffle(len(chunks), func(i, j int) { chunks[i], chunks[j] = chunks[j], chunks[i] })

	var cur group
	start := 0
	for _, c := range chunks {
		if len(s.perChunk[c]) == 0 {
			continue
		}
		cur.chunks = append(cur.chunks, c)
		s.order = append(s.order, s.perChunk[c]...)
		if len(s.order)-start >= s.opts.window {
			s.closeGroup(rng, &cur, start)
			start = len(s.order)
		}
	}
	if len(cur.chunks) > 0 {
		s.closeGroup(rng, &cur, start)
	}
	s.logger.Debug("sweep randomized", "sweep", sweep, "groups", len(s.groups))
}

func (s *Sequencer) closeGroup(rng *rand.Rand, g *group, start int) {
	part := s.order[start:]
	rng.Shuffle(len(part), func(i, j int) { part[i], part[j] = part[j], part[i] })
	g.end = len(s.order)
	s.groups = append(s.groups, *g)
	*g = group{}
}

func (s *Sequencer) releaseAll() {
	for id, c := range s.held {
		c.Release()
		delete(s.held, id)
	}
}

// Close releases every held chunk.
func (s *Sequencer) Close() error {
	s.releaseAll()
	s.started = false
	return nil
}
