package seqbatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hupe1980/seqbatch/blobstore"
	"github.com/hupe1980/seqbatch/config"
	"github.com/hupe1980/seqbatch/corpus"
	"github.com/hupe1980/seqbatch/internal/cache"
	"github.com/hupe1980/seqbatch/internal/resource"
	"github.com/hupe1980/seqbatch/model"
	"github.com/hupe1980/seqbatch/source/htk"
	"github.com/hupe1980/seqbatch/source/mlf"
)

// Open builds the store, the corpus descriptor and one source per
// configured stream, then aligns them into a Reader. Options given here
// override the values of cfg.Reader.
func Open(ctx context.Context, cfg config.Config, optFns ...Option) (*Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	level, err := cfg.Logging.SlogLevel()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	base := []Option{
		WithLogger(loggerFor(cfg.Logging.Format, level)),
		WithPrimaryStream(cfg.Reader.Primary),
		WithMaxInvalidFraction(cfg.Reader.MaxInvalidFraction),
		WithRandomization(cfg.Reader.RandomizationWindow, cfg.Reader.Seed),
		WithMinibatchSize(cfg.Reader.MinibatchSize),
		WithEpochSize(cfg.Reader.EpochSize),
	}
	optFns = append(base, optFns...)
	o := applyOptions(optFns)

	store := o.store
	if store == nil {
		if store, err = OpenStore(ctx, cfg.Storage); err != nil {
			return nil, err
		}
	}

	var cdOpts []corpus.Option
	if cfg.Reader.IncludeFile != "" {
		keys, err := readLines(ctx, store, cfg.Reader.IncludeFile)
		if err != nil {
			return nil, fmt.Errorf("include file: %w", err)
		}
		cdOpts = append(cdOpts, corpus.WithInclude(keys))
	}
	cd := corpus.New(cdOpts...)

	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:   cfg.Paging.MemoryLimitBytes,
		MaxConcurrentReads: int64(cfg.Paging.MaxConcurrentReads),
		IOLimitBytesPerSec: cfg.Paging.IOLimitBytesPerSec,
	})
	var spill cache.BlockCache
	if cfg.Paging.SpillCacheBytes > 0 {
		spill = cache.NewLRUBlockCache(cfg.Paging.SpillCacheBytes, nil)
	}

	sources := make([]model.Deserializer, 0, len(cfg.Streams))
	closeAll := func() {
		for _, src := range sources {
			if c, ok := src.(io.Closer); ok {
				_ = c.Close()
			}
		}
	}

	primary := -1
	for i, s := range cfg.Streams {
		if s.Name == o.primaryName {
			primary = i
		}
		src, err := openSource(ctx, store, cd, cfg.Paging, s, o, rc, spill)
		if err != nil {
			closeAll()
			return nil, &ErrSource{Stream: s.Name, cause: translateError(err)}
		}
		sources = append(sources, src)
	}
	if o.primaryName != "" {
		if primary < 0 {
			closeAll()
			return nil, fmt.Errorf("%w: primary stream %q not configured", ErrInvalidConfig, o.primaryName)
		}
		optFns = append(optFns, WithPrimary(primary))
	}

	r, err := New(sources, optFns...)
	if err != nil {
		closeAll()
		return nil, err
	}
	r.rc = rc
	return r, nil
}

func openSource(ctx context.Context, store blobstore.BlobStore, cd *corpus.Descriptor, paging config.Paging,
	s config.Stream, o options, rc *resource.Controller, spill cache.BlockCache) (model.Deserializer, error) {
	paths := append([]string(nil), s.Paths...)
	if s.Scp != "" {
		lines, err := readLines(ctx, store, s.Scp)
		if err != nil {
			return nil, fmt.Errorf("scp: %w", err)
		}
		paths = append(paths, lines...)
	}
	if s.Prefix != "" {
		names, err := store.List(ctx, s.Prefix)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", s.Prefix, err)
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("list %s: %w", s.Prefix, blobstore.ErrNotFound)
		}
		paths = append(paths, names...)
	}
	logger := o.logger.WithSource(s.Name).Logger

	switch s.Type {
	case config.StreamHTK:
		htkOpts := []htk.Option{
			htk.WithLogger(logger),
			htk.WithMetrics(o.metrics),
			htk.WithResourceController(rc),
		}
		if spill != nil {
			htkOpts = append(htkOpts, htk.WithSpillCache(spill, paging.Compression()))
		}
		return htk.New(ctx, store, cd, htk.Config{
			Name:            s.Name,
			Paths:           paths,
			Dimension:       s.Dimension,
			Context:         s.ContextWindow(),
			SampleDimension: s.SampleDimension,
			ElementType:     s.ElementTypeValue(),
			ChunkFrames:     paging.ChunkFrames,
			MinFrames:       s.MinFrames,
			Retry:           paging.RetryPolicy(),
			Concurrency:     paging.MaxConcurrentReads,
		}, htkOpts...)
	case config.StreamMLF:
		return mlf.New(ctx, store, cd, mlf.Config{
			Name:             s.Name,
			Paths:            paths,
			LabelMappingFile: s.LabelMappingFile,
			Dimension:        s.Dimension,
			ElementType:      s.ElementTypeValue(),
			FrameShift:       s.FrameShift,
			ChunkFrames:      paging.ChunkFrames,
			Retry:            paging.RetryPolicy(),
		}, mlf.WithLogger(logger), mlf.WithMetrics(o.metrics))
	default:
		return nil, errors.New("unknown stream type " + s.Type)
	}
}

func loggerFor(format string, level slog.Level) *Logger {
	if format == "json" {
		return NewJSONLogger(level)
	}
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
