// Package testutil provides testing utilities for seqbatch.
//
// This package is intended for use in tests only. It generates small
// deterministic corpora and writes them in the on-disk formats the sources
// read.
//
// # Random Corpora
//
//	rng := testutil.NewRNG(seed)
//	utts := rng.Corpus(10, 5, 20, 4, 3) // 10 utterances, 5..20 frames, dim 4, 3 classes
//
// # Writers
//
//	paths, _ := testutil.WriteHTK(ctx, store, "feat", utts)
//	_ = testutil.WriteMLF(ctx, store, "labels.mlf", utts)
//	_ = testutil.WriteStateList(ctx, store, "states.txt", 3)
package testutil
