package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hupe1980/seqbatch"
	"github.com/hupe1980/seqbatch/blobstore"
	"github.com/hupe1980/seqbatch/config"
	"github.com/hupe1980/seqbatch/testutil"
)

type synthOptions struct {
	utterances int
	minFrames  int
	maxFrames  int
	dimension  int
	classes    int
	seed       int64
}

func (o synthOptions) validate() error {
	switch {
	case o.utterances <= 0:
		return errors.New("--utterances must be positive")
	case o.minFrames <= 0 || o.maxFrames < o.minFrames:
		return fmt.Errorf("invalid frame range [%d,%d]", o.minFrames, o.maxFrames)
	case o.dimension < 0 || o.classes < 0:
		return errors.New("--dimension and --classes must not be negative")
	}
	return nil
}

type synthReport struct {
	Utterances int      `json:"utterances"`
	Frames     int      `json:"frames"`
	Blobs      []string `json:"blobs"`
}

// synthesize writes one aligned corpus for every configured stream: HTK
// files under the stream prefix (plus its scp) and one MLF per label stream.
func synthesize(ctx context.Context, store blobstore.BlobStore, streams []config.Stream, o synthOptions) (synthReport, error) {
	dim, classes := o.dimension, o.classes
	for _, s := range streams {
		switch {
		case s.Type == config.StreamHTK && dim == 0:
			dim = s.Dimension
		case s.Type == config.StreamMLF && classes == 0:
			classes = s.Dimension
		}
	}
	dim, classes = max(dim, 1), max(classes, 2)

	utts := testutil.NewRNG(o.seed).Corpus(o.utterances, o.minFrames, o.maxFrames, dim, classes)
	rep := synthReport{Utterances: len(utts)}
	for _, u := range utts {
		rep.Frames += len(u.Frames)
	}

	for _, s := range streams {
		switch s.Type {
		case config.StreamHTK:
			dir := strings.TrimSuffix(s.Prefix, "/")
			if dir == "" {
				dir = s.Name
			}
			paths, err := testutil.WriteHTK(ctx, store, dir, utts)
			if err != nil {
				return rep, fmt.Errorf("stream %q: %w", s.Name, err)
			}
			rep.Blobs = append(rep.Blobs, dir+"/")
			if s.Scp != "" {
				if err := testutil.WriteScp(ctx, store, s.Scp, paths); err != nil {
					return rep, fmt.Errorf("stream %q: %w", s.Name, err)
				}
				rep.Blobs = append(rep.Blobs, s.Scp)
			}
		case config.StreamMLF:
			name := s.Name + ".mlf"
			if len(s.Paths) > 0 {
				name = s.Paths[0]
			}
			if err := testutil.WriteMLF(ctx, store, name, utts); err != nil {
				return rep, fmt.Errorf("stream %q: %w", s.Name, err)
			}
			rep.Blobs = append(rep.Blobs, name)
			if s.LabelMappingFile != "" {
				if err := testutil.WriteStateList(ctx, store, s.LabelMappingFile, classes); err != nil {
					return rep, fmt.Errorf("stream %q: %w", s.Name, err)
				}
				rep.Blobs = append(rep.Blobs, s.LabelMappingFile)
			}
		}
	}
	return rep, nil
}

func newSynthCommand(ctx *commandContext) *cobra.Command {
	var (
		o      synthOptions
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Write a random aligned corpus into the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.validate(); err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := seqbatch.OpenStore(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			rep, err := synthesize(cmd.Context(), store, cfg.Streams, o)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, rep)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s utterances (%s frames) to %s\n",
				humanize.Comma(int64(rep.Utterances)), humanize.Comma(int64(rep.Frames)), strings.Join(rep.Blobs, ", "))
			return nil
		},
	}

	cmd.Flags().IntVar(&o.utterances, "utterances", 100, "Number of utterances")
	cmd.Flags().IntVar(&o.minFrames, "min-frames", 50, "Minimum frames per utterance")
	cmd.Flags().IntVar(&o.maxFrames, "max-frames", 300, "Maximum frames per utterance")
	cmd.Flags().IntVar(&o.dimension, "dimension", 0, "Feature dimension (default: first htk stream's, else 1)")
	cmd.Flags().IntVar(&o.classes, "classes", 0, "Label classes (default: first mlf stream's, else 2)")
	cmd.Flags().Int64Var(&o.seed, "seed", 1, "Random seed")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Write the report as JSON")
	return cmd
}
