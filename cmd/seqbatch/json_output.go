package main

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/seqbatch/codec"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	return codec.Write(cmd.OutOrStdout(), codec.Default, v, true)
}
