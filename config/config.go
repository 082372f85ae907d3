// Package config loads seqbatch reader configuration from TOML.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/hupe1980/seqbatch/internal/compress"
	"github.com/hupe1980/seqbatch/internal/retry"
	"github.com/hupe1980/seqbatch/model"
)

//go:embed sample_config.toml
var sampleConfig string

// ErrInvalid is returned for configurations that fail validation.
var ErrInvalid = errors.New("invalid configuration")

// Stream types.
const (
	StreamHTK = "htk"
	StreamMLF = "mlf"
)

// Storage backends.
const (
	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendS3     = "s3"
	BackendMinio  = "minio"
)

// Storage selects and configures the blob store holding the corpus.
type Storage struct {
	Backend         string `toml:"backend"`
	Root            string `toml:"root"`
	Bucket          string `toml:"bucket"`
	Prefix          string `toml:"prefix"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKey       string `toml:"access_key"`
	SecretKey       string `toml:"secret_key"`
	Secure          bool   `toml:"secure"`
	BlockCacheBytes int64  `toml:"block_cache_bytes"`
	BlockSize       int64  `toml:"block_size"`
}

// Paging bounds memory and I/O of chunk paging.
type Paging struct {
	MemoryLimitBytes   int64  `toml:"memory_limit_bytes"`
	MaxConcurrentReads int    `toml:"max_concurrent_reads"`
	IOLimitBytesPerSec int64  `toml:"io_limit_bytes_per_sec"`
	ChunkFrames        int    `toml:"chunk_frames"`
	RetryAttempts      int    `toml:"retry_attempts"`
	RetryBaseDelay     string `toml:"retry_base_delay"`
	RetryMaxDelay      string `toml:"retry_max_delay"`
	SpillCacheBytes    int64  `toml:"spill_cache_bytes"`
	SpillCompression   string `toml:"spill_compression"`

	baseDelay, maxDelay time.Duration
	compression         compress.Type
}

// Reader configures epochs and alignment.
type Reader struct {
	MinibatchSize       int     `toml:"minibatch_size"`
	EpochSize           int     `toml:"epoch_size"`
	RandomizationWindow int     `toml:"randomization_window"`
	Seed                int64   `toml:"seed"`
	Primary             string  `toml:"primary"`
	MaxInvalidFraction  float64 `toml:"max_invalid_fraction"`
	IncludeFile         string  `toml:"include_file"`
}

// Logging selects the log level and format.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Stream describes one input stream.
type Stream struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
	// Paths lists logical paths (htk) or MLF files (mlf).
	Paths []string `toml:"paths"`
	// Scp names a script file whose lines are appended to Paths.
	Scp string `toml:"scp"`
	// Prefix lists every blob under a store prefix and appends the names
	// to Paths.
	Prefix           string `toml:"prefix"`
	Dimension        int    `toml:"dimension"`
	Context          []int  `toml:"context"`
	SampleDimension  int    `toml:"sample_dimension"`
	ElementType      string `toml:"element_type"`
	MinFrames        int    `toml:"min_frames"`
	LabelMappingFile string `toml:"label_mapping_file"`
	FrameShift       int64  `toml:"frame_shift"`

	elementType model.ElementType
}

// Config is the complete reader configuration.
type Config struct {
	Storage Storage  `toml:"storage"`
	Paging  Paging   `toml:"paging"`
	Reader  Reader   `toml:"reader"`
	Logging Logging  `toml:"logging"`
	Streams []Stream `toml:"streams"`
}

// Default returns a configuration with every default applied and no streams.
func Default() Config {
	return Config{
		Storage: Storage{
			Backend:   BackendLocal,
			Secure:    true,
			BlockSize: 64 * 1024,
		},
		Paging: Paging{
			RetryAttempts:    retry.DefaultAttempts,
			RetryBaseDelay:   retry.DefaultBaseDelay.String(),
			RetryMaxDelay:    retry.DefaultMaxDelay.String(),
			SpillCompression: compress.LZ4.String(),
		},
		Reader: Reader{
			MinibatchSize:      256,
			MaxInvalidFraction: 0.5,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// Sample returns an annotated sample configuration.
func Sample() string {
	return sampleConfig
}

// Load reads, normalizes and validates the TOML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes TOML on top of Default, then normalizes and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendLocal
	}
	if c.Storage.BlockSize <= 0 {
		c.Storage.BlockSize = 64 * 1024
	}

	var err error
	if c.Paging.baseDelay, err = parseDuration("paging.retry_base_delay", c.Paging.RetryBaseDelay, retry.DefaultBaseDelay); err != nil {
		return err
	}
	if c.Paging.maxDelay, err = parseDuration("paging.retry_max_delay", c.Paging.RetryMaxDelay, retry.DefaultMaxDelay); err != nil {
		return err
	}
	if c.Paging.compression, err = compress.ParseType(c.Paging.SpillCompression); err != nil {
		return fmt.Errorf("%w: paging.spill_compression: %w", ErrInvalid, err)
	}
	if c.Paging.RetryAttempts <= 0 {
		c.Paging.RetryAttempts = retry.DefaultAttempts
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	for i := range c.Streams {
		s := &c.Streams[i]
		s.Type = strings.ToLower(strings.TrimSpace(s.Type))
		if s.elementType, err = model.ParseElementType(s.ElementType); err != nil {
			return fmt.Errorf("%w: streams[%d].element_type: %w", ErrInvalid, i, err)
		}
	}
	if c.Reader.Primary == "" && len(c.Streams) > 0 {
		c.Reader.Primary = c.Streams[0].Name
	}
	return nil
}

func parseDuration(field, s string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalid, field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s is negative", ErrInvalid, field)
	}
	return d, nil
}

// Validate reports contradictory or missing settings.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendLocal, BackendMemory:
	case BackendS3, BackendMinio:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("%w: storage.bucket is required for %s", ErrInvalid, c.Storage.Backend)
		}
		if c.Storage.Backend == BackendMinio && c.Storage.Endpoint == "" {
			return fmt.Errorf("%w: storage.endpoint is required for minio", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown storage.backend %q", ErrInvalid, c.Storage.Backend)
	}

	if c.Paging.MemoryLimitBytes < 0 || c.Paging.IOLimitBytesPerSec < 0 || c.Paging.SpillCacheBytes < 0 || c.Paging.MaxConcurrentReads < 0 {
		return fmt.Errorf("%w: paging limits must not be negative", ErrInvalid)
	}
	if c.Reader.MinibatchSize <= 0 {
		return fmt.Errorf("%w: reader.minibatch_size must be positive", ErrInvalid)
	}
	if c.Reader.EpochSize < 0 || c.Reader.RandomizationWindow < 0 {
		return fmt.Errorf("%w: reader sizes must not be negative", ErrInvalid)
	}
	if c.Reader.MaxInvalidFraction < 0 || c.Reader.MaxInvalidFraction > 1 {
		return fmt.Errorf("%w: reader.max_invalid_fraction must be in [0,1]", ErrInvalid)
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("%w: unknown logging.format %q", ErrInvalid, c.Logging.Format)
	}

	if len(c.Streams) == 0 {
		return fmt.Errorf("%w: no streams", ErrInvalid)
	}
	names := make(map[string]bool, len(c.Streams))
	for i, s := range c.Streams {
		if s.Name == "" {
			return fmt.Errorf("%w: streams[%d] has no name", ErrInvalid, i)
		}
		if names[s.Name] {
			return fmt.Errorf("%w: duplicate stream %q", ErrInvalid, s.Name)
		}
		names[s.Name] = true
		if len(s.Paths) == 0 && s.Scp == "" && s.Prefix == "" {
			return fmt.Errorf("%w: stream %q has no paths, scp or prefix", ErrInvalid, s.Name)
		}
		switch s.Type {
		case StreamHTK:
			if len(s.Context) != 0 && len(s.Context) != 2 {
				return fmt.Errorf("%w: stream %q context must be [left, right]", ErrInvalid, s.Name)
			}
		case StreamMLF:
			if s.Dimension == 0 && s.LabelMappingFile == "" {
				return fmt.Errorf("%w: stream %q needs dimension or label_mapping_file", ErrInvalid, s.Name)
			}
		default:
			return fmt.Errorf("%w: stream %q has unknown type %q", ErrInvalid, s.Name, s.Type)
		}
	}
	if !names[c.Reader.Primary] {
		return fmt.Errorf("%w: reader.primary %q names no stream", ErrInvalid, c.Reader.Primary)
	}
	return nil
}

// RetryPolicy returns the page-in retry policy.
func (p Paging) RetryPolicy() retry.Policy {
	base, maxDelay := p.baseDelay, p.maxDelay
	if base == 0 && p.RetryBaseDelay == "" {
		base = retry.DefaultBaseDelay
	}
	if maxDelay == 0 && p.RetryMaxDelay == "" {
		maxDelay = retry.DefaultMaxDelay
	}
	return retry.Policy{Attempts: max(p.RetryAttempts, 1), BaseDelay: base, MaxDelay: maxDelay}
}

// Compression returns the spill cache codec.
func (p Paging) Compression() compress.Type {
	return p.compression
}

// ElementTypeValue returns the parsed element type.
func (s Stream) ElementTypeValue() model.ElementType {
	if s.elementType == model.ElementUnknown {
		return model.ElementFloat32
	}
	return s.elementType
}

// ContextWindow returns the left and right context as configured.
func (s Stream) ContextWindow() [2]int {
	if len(s.Context) == 2 {
		return [2]int{s.Context[0], s.Context[1]}
	}
	return [2]int{}
}

// SlogLevel maps the configured level to a slog.Level.
func (l Logging) SlogLevel() (slog.Level, error) {
	switch l.Level {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: unknown logging.level %q", ErrInvalid, l.Level)
	}
}
