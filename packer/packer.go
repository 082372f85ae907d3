// Package packer assembles frame-mode minibatches.
//
// Each output stream owns one buffer of capacity*sampleSize bytes that is
// reused across calls. Sequence i of a minibatch occupies bytes
// [i*sampleSize, (i+1)*sampleSize) of every stream buffer.
package packer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hupe1980/seqbatch/metrics"
	"github.com/hupe1980/seqbatch/model"
)

type options struct {
	logger  *slog.Logger
	metrics metrics.Collector
}

// Option configures a Packer.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

type stream struct {
	in          *model.StreamDescription
	out         *model.StreamDescription
	elements    int
	elementSize int
	sampleSize  int
	buf         []byte
}

// Packer copies provider records into contiguous per-stream buffers.
type Packer struct {
	provider model.SequenceProvider
	capacity int
	streams  []*stream
	outs     []*model.StreamDescription
	opts     options
}

// New creates a packer for up to capacity sequences per minibatch. A nil
// streams uses dense copies of the provider's streams.
func New(provider model.SequenceProvider, capacity int, streams []*model.StreamDescription, optFns ...Option) (*Packer, error) {
	o := options{metrics: metrics.Noop{}}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	in := provider.StreamDescriptions()
	if streams == nil {
		streams = make([]*model.StreamDescription, len(in))
		for i, sd := range in {
			streams[i] = sd.Clone(i)
			streams[i].StorageType = model.StorageDense
		}
	}
	if len(streams) != len(in) {
		return nil, &ErrStreamMismatch{Stream: -1, Field: "count", Want: len(in), Got: len(streams)}
	}

	p := &Packer{provider: provider, capacity: capacity, outs: streams, opts: o}
	for i, out := range streams {
		s, err := newStream(i, in[i], out, capacity)
		if err != nil {
			return nil, err
		}
		p.streams = append(p.streams, s)
	}
	return p, nil
}

func newStream(i int, in, out *model.StreamDescription, capacity int) (*stream, error) {
	switch in.StorageType {
	case model.StorageDense, model.StorageSparseCSC:
	default:
		return nil, fmt.Errorf("%w: input stream %d (%s) is %s", ErrUnsupportedStorage, i, in.Name, in.StorageType)
	}
	if out.StorageType != model.StorageDense {
		return nil, fmt.Errorf("%w: output stream %d (%s) must be dense, is %s", ErrUnsupportedStorage, i, out.Name, out.StorageType)
	}
	if out.ElementType.Size() == 0 || out.ElementType != in.ElementType {
		return nil, fmt.Errorf("%w: stream %d (%s): provider %s, output %s", ErrUnsupportedElementType, i, out.Name, in.ElementType, out.ElementType)
	}
	if out.Name != in.Name {
		return nil, &ErrStreamMismatch{Stream: i, Field: "name", Want: in.Name, Got: out.Name}
	}
	if out.SampleSizeBytes() != in.SampleSizeBytes() || out.SampleSizeBytes() == 0 {
		return nil, &ErrStreamMismatch{Stream: i, Field: "sample size", Want: in.SampleSizeBytes(), Got: out.SampleSizeBytes()}
	}
	return &stream{
		in:          in,
		out:         out,
		elements:    out.SampleElements(),
		elementSize: out.ElementType.Size(),
		sampleSize:  out.SampleSizeBytes(),
		buf:         make([]byte, capacity*out.SampleSizeBytes()),
	}, nil
}

// StreamDescriptions returns the output streams.
func (p *Packer) StreamDescriptions() []*model.StreamDescription { return p.outs }

// Capacity returns the maximum number of sequences per minibatch.
func (p *Packer) Capacity() int { return p.capacity }

// ReadMinibatch packs the next sequences of the provider. The returned
// buffers alias the packer's and stay valid until the next call.
func (p *Packer) ReadMinibatch(ctx context.Context) (*model.Minibatch, error) {
	start := time.Now()
	seqs, err := p.provider.GetNextSequences(ctx, p.capacity)
	if err != nil {
		return nil, err
	}
	n := len(seqs.Data)
	if n > p.capacity {
		return nil, fmt.Errorf("%w: provider returned %d sequences for capacity %d", ErrInvalidRecord, n, p.capacity)
	}

	for i, recs := range seqs.Data {
		if len(recs) != len(p.streams) {
			return nil, fmt.Errorf("%w: sequence %d has %d records for %d streams", ErrInvalidRecord, i, len(recs), len(p.streams))
		}
		for j, rec := range recs {
			if err := p.streams[j].pack(i, rec); err != nil {
				return nil, fmt.Errorf("stream %d (%s) sequence %d: %w", j, p.streams[j].out.Name, i, err)
			}
		}
	}

	layout := &model.Layout{}
	layout.InitAsFrameMode(n)

	mb := &model.Minibatch{EndOfEpoch: seqs.EndOfEpoch, Streams: make([]*model.StreamMinibatch, len(p.streams))}
	var bytes int64
	for j, s := range p.streams {
		mb.Streams[j] = &model.StreamMinibatch{Data: s.buf[:n*s.sampleSize], Layout: layout}
		bytes += int64(n * s.sampleSize)
	}

	d := time.Since(start)
	p.opts.metrics.RecordMinibatch(n, bytes, d)
	p.opts.logger.Debug("minibatch packed", "sequences", n, "bytes", bytes, "end_of_epoch", seqs.EndOfEpoch, "duration", d)
	return mb, nil
}

// pack writes rec into slot i.
func (s *stream) pack(i int, rec model.SequenceData) error {
	slot := s.buf[i*s.sampleSize : (i+1)*s.sampleSize]

	switch r := rec.(type) {
	case *model.DenseSequenceData:
		if r.Samples != 1 {
			return fmt.Errorf("%w: dense record has %d samples, frame mode needs 1", ErrInvalidRecord, r.Samples)
		}
		if len(r.Data) < s.sampleSize {
			return fmt.Errorf("%w: dense record has %d bytes, sample needs %d", ErrInvalidRecord, len(r.Data), s.sampleSize)
		}
		copy(slot, r.Data[:s.sampleSize])
		return nil

	case *model.SparseSequenceData:
		if r.Samples != 1 || len(r.Indices) != 1 {
			return fmt.Errorf("%w: sparse record has %d samples, frame mode needs 1", ErrInvalidRecord, r.Samples)
		}
		rows := r.Indices[0]
		if len(r.Data) < len(rows)*s.elementSize {
			return fmt.Errorf("%w: sparse record has %d value bytes for %d rows", ErrInvalidRecord, len(r.Data), len(rows))
		}
		clear(slot)
		for k, row := range rows {
			if row < 0 || int(row) >= s.elements {
				return fmt.Errorf("%w: sparse row %d out of range [0,%d)", ErrInvalidRecord, row, s.elements)
			}
			off := int(row) * s.elementSize
			copy(slot[off:off+s.elementSize], r.Data[k*s.elementSize:(k+1)*s.elementSize])
		}
		return nil

	default:
		return fmt.Errorf("%w: record storage %s", ErrUnsupportedStorage, rec.StorageType())
	}
}
