package seqbatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/seqbatch/bundler"
	"github.com/hupe1980/seqbatch/internal/resource"
	"github.com/hupe1980/seqbatch/model"
	"github.com/hupe1980/seqbatch/packer"
	"github.com/hupe1980/seqbatch/sequencer"
)

// Reader produces packed minibatches from aligned sources.
//
// A Reader is safe for concurrent use, but minibatches are produced one at
// a time and the buffers of a returned minibatch are only valid until the
// next ReadMinibatch.
type Reader struct {
	id      string
	opts    options
	logger  *Logger
	sources []model.Deserializer
	bundler *bundler.Bundler
	seq     *sequencer.Sequencer
	packer  *packer.Packer
	// rc is set when the reader built its own sources.
	rc *resource.Controller

	mu      sync.Mutex
	started bool
	closed  bool
}

// SourceStats describes one source.
type SourceStats struct {
	Stream    string
	Sequences int
	Chunks    int
}

// Stats describes the aligned view of all sources.
type Stats struct {
	Sources   []SourceStats
	Sequences int
	Chunks    int
	Dropped   int
	// Samples is the number of valid samples in one sweep.
	Samples int
	// ResidentBytes, PeakResidentBytes and ReadBytes are only tracked
	// for readers created by Open.
	ResidentBytes     int64
	PeakResidentBytes int64
	ReadBytes         int64
}

// New aligns sources and builds a reader on top of them. The reader takes
// ownership of sources that implement io.Closer.
func New(sources []model.Deserializer, optFns ...Option) (*Reader, error) {
	o := applyOptions(optFns)
	id := uuid.NewString()
	logger := o.logger.WithReader(id)

	b, err := bundler.New(sources,
		bundler.WithPrimary(o.primary),
		bundler.WithMaxInvalidFraction(o.maxInvalidFraction),
		bundler.WithLogger(logger.WithSource("bundler").Logger),
		bundler.WithMetrics(o.metrics),
	)
	if err != nil {
		return nil, translateError(err)
	}
	logger.LogAlignment(context.Background(), len(b.SequenceDescriptions()), b.ChunkCount(), int(b.Dropped().GetCardinality()))

	var seqOpts []sequencer.Option
	seqOpts = append(seqOpts, sequencer.WithLogger(logger.Logger))
	if o.window > 0 {
		seqOpts = append(seqOpts, sequencer.WithRandomization(o.window, o.seed))
	}
	seq := sequencer.New(b, seqOpts...)

	r := &Reader{
		id:      id,
		opts:    o,
		logger:  logger,
		sources: sources,
		bundler: b,
		seq:     seq,
	}
	if r.packer, err = r.newPacker(o.minibatchSize); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) newPacker(capacity int) (*packer.Packer, error) {
	return packer.New(r.seq, capacity, nil,
		packer.WithLogger(r.logger.Logger),
		packer.WithMetrics(r.opts.metrics),
	)
}

// ID returns the unique id of this reader. It is attached to every log record.
func (r *Reader) ID() string { return r.id }

// StreamDescriptions returns the dense output streams in source order.
func (r *Reader) StreamDescriptions() []*model.StreamDescription {
	return r.packer.StreamDescriptions()
}

// TotalSamples returns the number of valid samples in one sweep over the data.
func (r *Reader) TotalSamples() int { return r.seq.SweepSize() }

// Stats describes the sources and their alignment.
func (r *Reader) Stats() Stats {
	s := Stats{
		Sources:   make([]SourceStats, len(r.sources)),
		Sequences: len(r.bundler.SequenceDescriptions()),
		Chunks:    r.bundler.ChunkCount(),
		Dropped:   int(r.bundler.Dropped().GetCardinality()),
		Samples:   r.seq.SweepSize(),
	}
	if r.rc != nil {
		s.ResidentBytes = r.rc.MemoryUsage()
		s.PeakResidentBytes = r.rc.PeakMemoryUsage()
		s.ReadBytes = r.rc.IOBytes()
	}
	for i, src := range r.sources {
		name := ""
		if streams := src.StreamDescriptions(); len(streams) > 0 {
			name = streams[0].Name
		}
		s.Sources[i] = SourceStats{
			Stream:    name,
			Sequences: len(src.SequenceDescriptions()),
			Chunks:    src.ChunkCount(),
		}
	}
	return s
}

// EpochConfig returns the configuration of epoch for a single worker,
// using the configured minibatch and epoch sizes.
func (r *Reader) EpochConfig(epoch int) model.EpochConfig {
	size := r.opts.epochSize
	if size <= 0 {
		size = r.TotalSamples()
	}
	return model.EpochConfig{
		MinibatchSizeInSamples:  r.opts.minibatchSize,
		TotalEpochSizeInSamples: size,
		EpochIndex:              epoch,
		WorkerRank:              0,
		NumberOfWorkers:         1,
	}
}

// StartEpoch positions the reader at the start of cfg's epoch. A zero
// minibatch size selects the configured one.
func (r *Reader) StartEpoch(cfg model.EpochConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if cfg.TotalEpochSizeInSamples <= 0 {
		err := fmt.Errorf("%w: %d", ErrInvalidEpochSize, cfg.TotalEpochSizeInSamples)
		r.logger.LogEpochStart(context.Background(), cfg.EpochIndex, cfg.TotalEpochSizeInSamples, cfg.WorkerRank, cfg.NumberOfWorkers, err)
		return err
	}
	if cfg.MinibatchSizeInSamples == 0 {
		cfg.MinibatchSizeInSamples = r.packer.Capacity()
	}

	if err := r.seq.StartEpoch(cfg); err != nil {
		r.logger.LogEpochStart(context.Background(), cfg.EpochIndex, cfg.TotalEpochSizeInSamples, cfg.WorkerRank, cfg.NumberOfWorkers, err)
		return translateError(err)
	}
	if cfg.MinibatchSizeInSamples != r.packer.Capacity() {
		p, err := r.newPacker(cfg.MinibatchSizeInSamples)
		if err != nil {
			return err
		}
		r.packer = p
	}

	r.started = true
	r.logger.WithEpoch(cfg.EpochIndex).LogEpochStart(context.Background(),
		cfg.EpochIndex, cfg.TotalEpochSizeInSamples, cfg.WorkerRank, cfg.NumberOfWorkers, nil)
	return nil
}

// ReadMinibatch packs the next minibatch of the current epoch. An empty
// minibatch with EndOfEpoch set means the epoch is exhausted.
func (r *Reader) ReadMinibatch(ctx context.Context) (*model.Minibatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if !r.started {
		return nil, ErrEpochNotStarted
	}

	start := time.Now()
	mb, err := r.packer.ReadMinibatch(ctx)
	if err != nil {
		r.logger.LogMinibatch(ctx, 0, 0, false, time.Since(start), err)
		return nil, translateError(err)
	}

	samples := 0
	var bytes int64
	if len(mb.Streams) > 0 {
		samples = mb.Streams[0].Layout.NumSequences
	}
	for _, s := range mb.Streams {
		bytes += int64(len(s.Data))
	}
	r.logger.LogMinibatch(ctx, samples, bytes, mb.EndOfEpoch, time.Since(start), nil)
	return mb, nil
}

// Close releases held chunks and closes the sources. It is safe to call
// more than once.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	errs := []error{r.seq.Close()}
	for _, src := range r.sources {
		if c, ok := src.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
