package testutil

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/seqbatch/blobstore"
	"github.com/hupe1980/seqbatch/internal/htkfile"
	"github.com/hupe1980/seqbatch/internal/mlffile"
)

// ParmKindUser is the HTK USER parameter kind.
const ParmKindUser = 9

// Utterance is one generated utterance with parallel features and labels.
type Utterance struct {
	Key    string
	Frames [][]float32
	// Labels holds one class id per frame.
	Labels []int
}

// Corpus generates n utterances named utt000, utt001, ... with a frame
// count in [minFrames, maxFrames].
func (r *RNG) Corpus(n, minFrames, maxFrames, dimension, classes int) []Utterance {
	utts := make([]Utterance, n)
	for i := range utts {
		frames := minFrames
		if maxFrames > minFrames {
			frames += r.Intn(maxFrames - minFrames + 1)
		}
		utts[i] = Utterance{
			Key:    UtteranceKey(i),
			Frames: r.Frames(frames, dimension),
			Labels: r.Labels(frames, classes),
		}
	}
	return utts
}

// UtteranceKey returns the key Corpus assigns to utterance i.
func UtteranceKey(i int) string {
	return fmt.Sprintf("utt%03d", i)
}

// StateName returns the state list entry of class id.
func StateName(id int) string {
	return fmt.Sprintf("s%d", id)
}

// WriteHTK writes one HTK file per utterance under dir and returns the
// logical paths "key=dir/key.htk".
func WriteHTK(ctx context.Context, store blobstore.BlobStore, dir string, utts []Utterance) ([]string, error) {
	paths := make([]string, 0, len(utts))
	for _, u := range utts {
		name := dir + "/" + u.Key + ".htk"
		if err := store.Put(ctx, name, htkfile.Encode(u.Frames, 100000, ParmKindUser)); err != nil {
			return nil, err
		}
		paths = append(paths, u.Key+"="+name)
	}
	return paths, nil
}

// WriteHTKArchive concatenates the frames of every utterance into one HTK
// file and returns ranged logical paths "key=name[start,end]".
func WriteHTKArchive(ctx context.Context, store blobstore.BlobStore, name string, utts []Utterance) ([]string, error) {
	var all [][]float32
	paths := make([]string, 0, len(utts))
	for _, u := range utts {
		start := len(all)
		all = append(all, u.Frames...)
		paths = append(paths, fmt.Sprintf("%s=%s[%d,%d]", u.Key, name, start, len(all)-1))
	}
	if err := store.Put(ctx, name, htkfile.Encode(all, 100000, ParmKindUser)); err != nil {
		return nil, err
	}
	return paths, nil
}

// MLF converts the per-frame labels into MLF utterances, merging runs.
// With named set, labels are state names, otherwise class ids.
func MLF(utts []Utterance, named bool) []mlffile.Utterance {
	out := make([]mlffile.Utterance, len(utts))
	for i, u := range utts {
		mu := mlffile.Utterance{Key: u.Key}
		for f := 0; f < len(u.Labels); {
			end := f
			for end < len(u.Labels) && u.Labels[end] == u.Labels[f] {
				end++
			}
			label := fmt.Sprint(u.Labels[f])
			if named {
				label = StateName(u.Labels[f])
			}
			mu.Entries = append(mu.Entries, mlffile.Entry{FirstFrame: f, NumFrames: end - f, Label: label})
			f = end
		}
		out[i] = mu
	}
	return out
}

// WriteMLF writes the labels of utts as state names.
func WriteMLF(ctx context.Context, store blobstore.BlobStore, name string, utts []Utterance) error {
	var buf bytes.Buffer
	if err := mlffile.Write(&buf, MLF(utts, true), mlffile.DefaultFrameShift); err != nil {
		return err
	}
	return store.Put(ctx, name, buf.Bytes())
}

// WriteStateList writes the names of classes 0..classes-1, one per line.
func WriteStateList(ctx context.Context, store blobstore.BlobStore, name string, classes int) error {
	var sb strings.Builder
	for i := range classes {
		sb.WriteString(StateName(i))
		sb.WriteByte('\n')
	}
	return store.Put(ctx, name, []byte(sb.String()))
}

// WriteScp writes logical paths one per line, the script file format.
func WriteScp(ctx context.Context, store blobstore.BlobStore, name string, paths []string) error {
	return store.Put(ctx, name, []byte(strings.Join(paths, "\n")+"\n"))
}
