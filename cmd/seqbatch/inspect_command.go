package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hupe1980/seqbatch"
)

type streamReport struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	ElementType string `json:"element_type"`
	Shape       []int  `json:"shape"`
	Storage     string `json:"storage"`
	SampleBytes int    `json:"sample_bytes"`
}

type sourceReport struct {
	Stream    string `json:"stream"`
	Sequences int    `json:"sequences"`
	Chunks    int    `json:"chunks"`
}

type inspectReport struct {
	ReaderID  string         `json:"reader_id"`
	Streams   []streamReport `json:"streams"`
	Sources   []sourceReport `json:"sources"`
	Sequences int            `json:"sequences"`
	Chunks    int            `json:"chunks"`
	Dropped   int            `json:"dropped"`
	Samples   int            `json:"samples"`
}

func buildInspectReport(r *seqbatch.Reader) inspectReport {
	stats := r.Stats()
	rep := inspectReport{
		ReaderID:  r.ID(),
		Sequences: stats.Sequences,
		Chunks:    stats.Chunks,
		Dropped:   stats.Dropped,
		Samples:   stats.Samples,
	}
	for _, sd := range r.StreamDescriptions() {
		rep.Streams = append(rep.Streams, streamReport{
			ID:          sd.ID,
			Name:        sd.Name,
			ElementType: sd.ElementType.String(),
			Shape:       sd.SampleShape,
			Storage:     sd.StorageType.String(),
			SampleBytes: sd.SampleSizeBytes(),
		})
	}
	for _, s := range stats.Sources {
		rep.Sources = append(rep.Sources, sourceReport(s))
	}
	return rep
}

func renderInspectReport(rep inspectReport) string {
	var b strings.Builder

	rows := make([][]string, 0, len(rep.Streams))
	for _, s := range rep.Streams {
		shape := make([]string, len(s.Shape))
		for i, d := range s.Shape {
			shape[i] = strconv.Itoa(d)
		}
		rows = append(rows, []string{
			strconv.Itoa(s.ID), s.Name, s.ElementType, "[" + strings.Join(shape, "x") + "]", s.Storage, humanize.IBytes(uint64(s.SampleBytes)),
		})
	}
	b.WriteString(renderTable(
		[]string{"ID", "Stream", "Element", "Shape", "Storage", "Sample"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	))
	b.WriteString("\n")

	rows = rows[:0]
	for _, s := range rep.Sources {
		rows = append(rows, []string{s.Stream, humanize.Comma(int64(s.Sequences)), humanize.Comma(int64(s.Chunks))})
	}
	b.WriteString(renderTable(
		[]string{"Source", "Sequences", "Chunks"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight},
	))
	b.WriteString("\n")

	fmt.Fprintf(&b, "Aligned sequences: %s in %s chunks\n", humanize.Comma(int64(rep.Sequences)), humanize.Comma(int64(rep.Chunks)))
	fmt.Fprintf(&b, "Dropped sequences: %s\n", humanize.Comma(int64(rep.Dropped)))
	fmt.Fprintf(&b, "Samples per sweep: %s\n", humanize.Comma(int64(rep.Samples)))
	return b.String()
}

func newInspectCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Describe the configured streams and their alignment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			r, err := seqbatch.Open(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer r.Close()

			rep := buildInspectReport(r)
			if asJSON {
				return writeJSON(cmd, rep)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderInspectReport(rep))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Write the report as JSON")
	return cmd
}
