package model

import (
	"fmt"
	"strings"
)

// ElementType is the numeric type of a single sample element.
type ElementType uint8

const (
	// ElementUnknown is the zero value and never valid.
	ElementUnknown ElementType = iota
	// ElementFloat32 is the narrow float type.
	ElementFloat32
	// ElementFloat64 is the wide float type.
	ElementFloat64
)

// Size returns the element width in bytes, or 0 for unknown types.
func (t ElementType) Size() int {
	switch t {
	case ElementFloat32:
		return 4
	case ElementFloat64:
		return 8
	default:
		return 0
	}
}

func (t ElementType) String() string {
	switch t {
	case ElementFloat32:
		return "float32"
	case ElementFloat64:
		return "float64"
	default:
		return fmt.Sprintf("ElementType(%d)", uint8(t))
	}
}

// ParseElementType accepts "float"/"float32" and "double"/"float64".
// The empty string maps to ElementFloat32.
func ParseElementType(s string) (ElementType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "float", "float32":
		return ElementFloat32, nil
	case "double", "float64":
		return ElementFloat64, nil
	default:
		return ElementUnknown, fmt.Errorf("unsupported element type %q", s)
	}
}

// StorageType is the record encoding of a stream.
type StorageType uint8

const (
	// StorageDense stores full sample vectors.
	StorageDense StorageType = iota
	// StorageSparseCSC stores compressed-column (row, value) pairs.
	StorageSparseCSC
)

func (t StorageType) String() string {
	switch t {
	case StorageDense:
		return "dense"
	case StorageSparseCSC:
		return "sparse_csc"
	default:
		return fmt.Sprintf("StorageType(%d)", uint8(t))
	}
}

// StreamDescription identifies one logical data channel.
type StreamDescription struct {
	ID          int
	Name        string
	ElementType ElementType
	SampleShape []int
	StorageType StorageType
}

// SampleElements returns the number of elements in one sample.
func (s *StreamDescription) SampleElements() int {
	if len(s.SampleShape) == 0 {
		return 0
	}
	n := 1
	for _, d := range s.SampleShape {
		n *= d
	}
	return n
}

// SampleSizeBytes returns the size of one dense sample in bytes.
func (s *StreamDescription) SampleSizeBytes() int {
	return s.SampleElements() * s.ElementType.Size()
}

// Clone returns a deep copy with the given id.
func (s *StreamDescription) Clone(id int) *StreamDescription {
	c := *s
	c.ID = id
	c.SampleShape = append([]int(nil), s.SampleShape...)
	return &c
}

func (s *StreamDescription) String() string {
	return fmt.Sprintf("Stream(%d:%s %s %v %s)", s.ID, s.Name, s.ElementType, s.SampleShape, s.StorageType)
}

// Key is the stable cross-source identity of a sequence.
// Major is the corpus-interned utterance name, Minor the frame offset
// inside the utterance.
type Key struct {
	Major uint32
	Minor uint32
}

func (k Key) String() string {
	return fmt.Sprintf("Key(%d:%d)", k.Major, k.Minor)
}
