package source

import "github.com/hupe1980/seqbatch/model"

const (
	// DefaultChunkFrames is the frame budget of a chunk: 15 minutes of
	// speech at 100 frames per second.
	DefaultChunkFrames = 15 * 60 * 100

	// MaxSequencesPerChunk caps the utterances in one chunk.
	MaxSequencesPerChunk = 65535
)

// ChunkDescription is a run of consecutive utterances paged as a unit.
type ChunkDescription struct {
	ID             int
	FirstUtterance int
	NumUtterances  int
	TotalFrames    int
}

// Partition groups utterances with the given frame counts into chunks. A new
// chunk is opened when there is none yet, when the last chunk's frame total
// exceeds targetFrames, or when it already holds MaxSequencesPerChunk
// utterances. targetFrames <= 0 selects DefaultChunkFrames.
func Partition(frames []int, targetFrames int) []ChunkDescription {
	if targetFrames <= 0 {
		targetFrames = DefaultChunkFrames
	}

	var chunks []ChunkDescription
	for u, n := range frames {
		if len(chunks) == 0 {
			chunks = append(chunks, ChunkDescription{FirstUtterance: u})
		} else if last := chunks[len(chunks)-1]; last.TotalFrames > targetFrames || last.NumUtterances >= MaxSequencesPerChunk {
			chunks = append(chunks, ChunkDescription{ID: len(chunks), FirstUtterance: u})
		}
		c := &chunks[len(chunks)-1]
		c.NumUtterances++
		c.TotalFrames += n
	}
	return chunks
}

// FrameLayout describes the utterances of a frame-mode source.
type FrameLayout struct {
	Keys   []uint32
	Frames []int
	Valid  []bool
	// Base, if set, is added to the frame index to form Offset.
	Base []int
}

// FrameSequences expands utterances into one sequence description per frame,
// with dense ids in utterance order. It returns the descriptions and the id
// of each utterance's first frame.
func FrameSequences(l FrameLayout, chunks []ChunkDescription, kind model.SequenceKind) ([]*model.SequenceDescription, []int) {
	total := 0
	for _, n := range l.Frames {
		total += n
	}

	descs := make([]model.SequenceDescription, total)
	out := make([]*model.SequenceDescription, total)
	first := make([]int, len(l.Frames))

	id := 0
	for _, c := range chunks {
		for u := c.FirstUtterance; u < c.FirstUtterance+c.NumUtterances; u++ {
			first[u] = id
			base := 0
			if l.Base != nil {
				base = l.Base[u]
			}
			for k := range l.Frames[u] {
				descs[id] = model.SequenceDescription{
					ID:              id,
					Key:             model.Key{Major: l.Keys[u], Minor: uint32(k)},
					ChunkID:         c.ID,
					NumberOfSamples: 1,
					IsValid:         l.Valid[u],
					Kind:            kind,
					Utterance:       u,
					Offset:          base + k,
				}
				out[id] = &descs[id]
				id++
			}
		}
	}
	return out, first
}
