// Command seqbatch inspects corpora and drives epochs of minibatch reading
// from a TOML configuration.
//
//	seqbatch inspect -c reader.toml [--json]
//	seqbatch read -c reader.toml --epochs 2 --minibatch 512
//	seqbatch config sample > reader.toml
//	seqbatch synth -c reader.toml --utterances 100
package main
