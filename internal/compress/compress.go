// Package compress encodes byte images with LZ4 or ZSTD behind a small
// self-describing header.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type is the compression algorithm.
type Type uint8

const (
	// None stores data verbatim.
	None Type = 0
	// LZ4 is fast block compression, the default for spilled chunks.
	LZ4 Type = 1
	// ZSTD trades speed for ratio.
	ZSTD Type = 2
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// ParseType accepts "none", "lz4" and "zstd". The empty string maps to LZ4.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lz4":
		return LZ4, nil
	case "zstd":
		return ZSTD, nil
	case "none":
		return None, nil
	default:
		return None, fmt.Errorf("unsupported compression %q", s)
	}
}

// Header layout: [Type uint8][RawSize uint32][StoredSize uint32][payload...].
// The stored type is None when compression did not help.
const headerSize = 9

var (
	errShort    = errors.New("compress: image too small")
	errMismatch = errors.New("compress: decompressed size mismatch")
)

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Encode compresses data with t. If the result is not at least 10% smaller
// the data is stored uncompressed.
func Encode(t Type, data []byte) ([]byte, error) {
	var payload []byte

	switch t {
	case None:
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		payload = buf[:n]
	case ZSTD:
		enc := getZstdEncoder()
		payload = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("compress: unknown type %d", t)
	}

	if len(payload) == 0 || float64(len(payload)) > float64(len(data))*0.9 {
		t = None
		payload = data
	}

	out := make([]byte, headerSize+len(payload))
	out[0] = byte(t)
	binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[5:], uint32(len(payload)))
	copy(out[headerSize:], payload)
	return out, nil
}

// Decode reverses Encode.
func Decode(image []byte) ([]byte, error) {
	if len(image) < headerSize {
		return nil, errShort
	}
	t := Type(image[0])
	rawSize := binary.LittleEndian.Uint32(image[1:])
	storedSize := binary.LittleEndian.Uint32(image[5:])
	if uint64(len(image)) < uint64(headerSize)+uint64(storedSize) {
		return nil, errShort
	}
	payload := image[headerSize : headerSize+int(storedSize)]

	switch t {
	case None:
		if storedSize != rawSize {
			return nil, errMismatch
		}
		out := make([]byte, rawSize)
		copy(out, payload)
		return out, nil
	case LZ4:
		out := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, err
		}
		if uint32(n) != rawSize {
			return nil, errMismatch
		}
		return out, nil
	case ZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(payload, make([]byte, 0, rawSize))
		if err != nil {
			return nil, err
		}
		if uint32(len(out)) != rawSize {
			return nil, errMismatch
		}
		return out, nil
	default:
		return nil, fmt.Errorf("compress: unknown type %d", t)
	}
}
