// Package htkfile decodes HTK parameter files.
//
// An HTK file is a 12-byte big-endian header followed by nSamples frames of
// sampSize bytes each. Only uncompressed float frames are supported.
package htkfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"
)

// HeaderSize is the size of the HTK header in bytes.
const HeaderSize = 12

// Parameter kind qualifier bits.
const (
	QualEnergy     = 0o100
	QualNoAbsE     = 0o200
	QualDelta      = 0o400
	QualAccel      = 0o1000
	QualCompressed = 0o2000
	QualZeroMean   = 0o4000
	QualChecksum   = 0o10000
	QualZeroth     = 0o20000

	baseKindMask = 0o77
)

var (
	// ErrInvalidHeader is returned for truncated or inconsistent headers.
	ErrInvalidHeader = errors.New("htkfile: invalid header")
	// ErrCompressed is returned for files stored with the _C qualifier.
	ErrCompressed = errors.New("htkfile: compressed parameter files are not supported")
	// ErrInvalidPath is returned for malformed logical paths.
	ErrInvalidPath = errors.New("htkfile: invalid logical path")
)

// Header is the fixed HTK file header.
type Header struct {
	NumSamples   int32
	SamplePeriod int32 // 100ns units
	SampleSize   int16 // bytes per frame
	ParmKind     int16
}

// BaseKind returns the parameter kind without qualifiers.
func (h Header) BaseKind() int { return int(h.ParmKind) & baseKindMask }

// Compressed reports whether the _C qualifier is set.
func (h Header) Compressed() bool { return int(h.ParmKind)&QualCompressed != 0 }

// Dimension returns the number of float32 values per frame.
func (h Header) Dimension() int { return int(h.SampleSize) / 4 }

// FrameOffset returns the byte offset of frame i.
func (h Header) FrameOffset(i int) int64 {
	return HeaderSize + int64(i)*int64(h.SampleSize)
}

// Validate checks the header for values the reader can handle.
func (h Header) Validate() error {
	if h.Compressed() {
		return ErrCompressed
	}
	if h.NumSamples < 0 {
		return fmt.Errorf("%w: negative sample count %d", ErrInvalidHeader, h.NumSamples)
	}
	if h.SampleSize <= 0 || h.SampleSize%4 != 0 {
		return fmt.Errorf("%w: sample size %d is not a positive multiple of 4", ErrInvalidHeader, h.SampleSize)
	}
	return nil
}

// ParseHeader decodes and validates the first HeaderSize bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrInvalidHeader, len(b))
	}
	h := Header{
		NumSamples:   int32(binary.BigEndian.Uint32(b[0:4])),
		SamplePeriod: int32(binary.BigEndian.Uint32(b[4:8])),
		SampleSize:   int16(binary.BigEndian.Uint16(b[8:10])),
		ParmKind:     int16(binary.BigEndian.Uint16(b[10:12])),
	}
	return h, h.Validate()
}

// AppendHeader appends the encoded header to dst.
func AppendHeader(dst []byte, h Header) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(h.NumSamples))
	dst = binary.BigEndian.AppendUint32(dst, uint32(h.SamplePeriod))
	dst = binary.BigEndian.AppendUint16(dst, uint16(h.SampleSize))
	dst = binary.BigEndian.AppendUint16(dst, uint16(h.ParmKind))
	return dst
}

// DecodeFrames converts raw big-endian frames into dst. len(raw) must be
// a multiple of 4 and dst must hold len(raw)/4 values.
func DecodeFrames(raw []byte, dst []float32) error {
	if len(raw)%4 != 0 || len(dst) < len(raw)/4 {
		return fmt.Errorf("%w: %d frame bytes for %d values", ErrInvalidHeader, len(raw), len(dst))
	}
	for i := range len(raw) / 4 {
		dst[i] = math.Float32frombits(binary.BigEndian.Uint32(raw[i*4:]))
	}
	return nil
}

// Encode builds a complete HTK file from frames of equal width.
func Encode(frames [][]float32, samplePeriod int32, parmKind int16) []byte {
	dim := 0
	if len(frames) > 0 {
		dim = len(frames[0])
	}
	h := Header{
		NumSamples:   int32(len(frames)),
		SamplePeriod: samplePeriod,
		SampleSize:   int16(dim * 4),
		ParmKind:     parmKind,
	}
	out := AppendHeader(make([]byte, 0, HeaderSize+len(frames)*dim*4), h)
	for _, f := range frames {
		for _, v := range f {
			out = binary.BigEndian.AppendUint32(out, math.Float32bits(v))
		}
	}
	return out
}

// Path is a logical feature path of the form "[key=]file[[start,end]]".
// Start and End are inclusive frame indices.
type Path struct {
	Key      string
	File     string
	Start    int
	End      int
	HasRange bool
}

// NumFrames returns the frame count of an explicit range, or -1 if the
// range is taken from the file header.
func (p Path) NumFrames() int {
	if !p.HasRange {
		return -1
	}
	return p.End - p.Start + 1
}

func (p Path) String() string {
	var sb strings.Builder
	if p.Key != "" {
		sb.WriteString(p.Key)
		sb.WriteByte('=')
	}
	sb.WriteString(p.File)
	if p.HasRange {
		fmt.Fprintf(&sb, "[%d,%d]", p.Start, p.End)
	}
	return sb.String()
}

// ParsePath parses a logical path. Without an explicit key the key is the
// base name of the file without its extension.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Path{}, fmt.Errorf("%w: empty", ErrInvalidPath)
	}

	var p Path
	if i := strings.IndexByte(s, '='); i >= 0 {
		p.Key = s[:i]
		s = s[i+1:]
		if p.Key == "" {
			return Path{}, fmt.Errorf("%w: empty key", ErrInvalidPath)
		}
	}

	if strings.HasSuffix(s, "]") {
		open := strings.LastIndexByte(s, '[')
		if open < 0 {
			return Path{}, fmt.Errorf("%w: unbalanced range in %q", ErrInvalidPath, s)
		}
		start, end, ok := strings.Cut(s[open+1:len(s)-1], ",")
		if !ok {
			return Path{}, fmt.Errorf("%w: range %q", ErrInvalidPath, s[open:])
		}
		var err error
		if p.Start, err = strconv.Atoi(strings.TrimSpace(start)); err != nil {
			return Path{}, fmt.Errorf("%w: range start: %v", ErrInvalidPath, err)
		}
		if p.End, err = strconv.Atoi(strings.TrimSpace(end)); err != nil {
			return Path{}, fmt.Errorf("%w: range end: %v", ErrInvalidPath, err)
		}
		if p.Start < 0 || p.End < p.Start {
			return Path{}, fmt.Errorf("%w: range [%d,%d]", ErrInvalidPath, p.Start, p.End)
		}
		p.HasRange = true
		s = s[:open]
	}

	if s == "" {
		return Path{}, fmt.Errorf("%w: empty file", ErrInvalidPath)
	}
	p.File = s
	if p.Key == "" {
		base := path.Base(strings.ReplaceAll(s, "\\", "/"))
		p.Key = strings.TrimSuffix(base, path.Ext(base))
	}
	return p, nil
}
