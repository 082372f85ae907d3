// Package seqbatch assembles training minibatches from large, disk-resident
// sequence corpora without loading them into memory.
//
// Each input stream is a chunked source: HTK feature files (source/htk) or
// master label files (source/mlf). Sources describe their sequences up front
// and page the data of whole chunks in and out on demand. A bundler aligns
// the sources by utterance key, a sequencer decides the visiting order, and
// a packer copies the records into fixed-capacity minibatch buffers.
//
// # Quick Start
//
// From a configuration file:
//
//	cfg, _ := config.Load("reader.toml")
//	r, _ := seqbatch.Open(ctx, *cfg)
//	defer r.Close()
//
//	for epoch := 0; epoch < 3; epoch++ {
//	    _ = r.StartEpoch(r.EpochConfig(epoch))
//	    for {
//	        mb, err := r.ReadMinibatch(ctx)
//	        if err != nil || mb.Exhausted() {
//	            break
//	        }
//	        // mb.Streams[i].Data holds NumSequences samples of stream i.
//	    }
//	}
//
// From sources built in code:
//
//	cd := corpus.New()
//	feats, _ := htk.New(ctx, store, cd, htk.Config{Name: "features", Paths: paths})
//	labels, _ := mlf.New(ctx, store, cd, mlf.Config{Name: "labels", Paths: []string{"train.mlf"}, Dimension: 132})
//	r, _ := seqbatch.New([]model.Deserializer{feats, labels}, seqbatch.WithMinibatchSize(512))
//
// # Memory
//
// Resident chunk data is bounded by paging.memory_limit_bytes. A chunk stays
// resident while any holder references it; the sequencer only holds the
// chunks of the current randomization group.
package seqbatch
