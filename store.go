package seqbatch

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/seqbatch/blobstore"
	"github.com/hupe1980/seqbatch/blobstore/minio"
	"github.com/hupe1980/seqbatch/blobstore/s3"
	"github.com/hupe1980/seqbatch/config"
	"github.com/hupe1980/seqbatch/internal/cache"
)

// OpenStore creates the blob store described by cfg. Remote backends are
// wrapped in a block cache when BlockCacheBytes is positive.
func OpenStore(ctx context.Context, cfg config.Storage) (blobstore.BlobStore, error) {
	var (
		store  blobstore.BlobStore
		remote bool
	)

	switch cfg.Backend {
	case config.BackendLocal, "":
		store = blobstore.NewLocalStore(cfg.Root)
	case config.BackendMemory:
		store = blobstore.NewMemoryStore()
	case config.BackendS3:
		optFns := []s3.Option{s3.WithPrefix(cfg.Prefix)}
		if cfg.Region != "" {
			optFns = append(optFns, s3.WithRegion(cfg.Region))
		}
		if cfg.Endpoint != "" {
			optFns = append(optFns, s3.WithEndpoint(cfg.Endpoint))
		}
		s, err := s3.New(ctx, cfg.Bucket, optFns...)
		if err != nil {
			return nil, err
		}
		store, remote = s, true
	case config.BackendMinio:
		s, err := minio.Dial(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.Secure, cfg.Bucket, cfg.Prefix)
		if err != nil {
			return nil, err
		}
		store, remote = s, true
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, cfg.Backend)
	}

	if remote && cfg.BlockCacheBytes > 0 {
		store = blobstore.NewCachingStore(store, cache.NewLRUBlockCache(cfg.BlockCacheBytes, nil), cfg.BlockSize)
	}
	return store, nil
}

// readLines returns the non-empty lines of a text blob. Lines starting
// with '#' are comments.
func readLines(ctx context.Context, store blobstore.BlobStore, name string) ([]string, error) {
	r, err := blobstore.OpenReader(ctx, store, name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer r.Close()

	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return lines, nil
}
