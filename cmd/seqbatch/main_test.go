package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/seqbatch/blobstore"
	"github.com/hupe1980/seqbatch/codec"
	"github.com/hupe1980/seqbatch/testutil"
)

const cliConfig = `
[storage]
backend = "local"
root = %q

[paging]
chunk_frames = 16

[reader]
minibatch_size = 8

[logging]
level = "error"

[[streams]]
name = "features"
type = "htk"
scp = "train.scp"

[[streams]]
name = "labels"
type = "mlf"
paths = ["labels.mlf"]
label_mapping_file = "states.txt"
`

func setupCorpus(t *testing.T) (configPath string, samples int) {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()
	store := blobstore.NewLocalStore(root)

	utts := testutil.NewRNG(5).Corpus(4, 3, 8, 3, 4)
	paths, err := testutil.WriteHTK(ctx, store, "feat", utts)
	require.NoError(t, err)
	require.NoError(t, testutil.WriteScp(ctx, store, "train.scp", paths))
	require.NoError(t, testutil.WriteMLF(ctx, store, "labels.mlf", utts))
	require.NoError(t, testutil.WriteStateList(ctx, store, "states.txt", 4))
	for _, u := range utts {
		samples += len(u.Frames)
	}

	configPath = filepath.Join(root, "seqbatch.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf(cliConfig, root)), 0o644))
	return configPath, samples
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigSample(t *testing.T) {
	out, err := runCLI(t, "config", "sample")
	require.NoError(t, err)
	assert.Contains(t, out, "[[streams]]")
}

func TestConfigValidate(t *testing.T) {
	path, _ := setupCorpus(t)
	out, err := runCLI(t, "config", "validate", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "2 streams")

	_, err = runCLI(t, "config", "validate", "-c", filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestInspect(t *testing.T) {
	path, samples := setupCorpus(t)

	out, err := runCLI(t, "inspect", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "features")
	assert.Contains(t, out, "labels")
	assert.Contains(t, out, fmt.Sprintf("Samples per sweep: %d", samples))

	out, err = runCLI(t, "inspect", "-c", path, "--json")
	require.NoError(t, err)
	var rep inspectReport
	require.NoError(t, codec.Default.Unmarshal([]byte(out), &rep))
	require.Len(t, rep.Streams, 2)
	assert.Equal(t, []int{3}, rep.Streams[0].Shape)
	assert.Equal(t, []int{4}, rep.Streams[1].Shape)
	assert.Equal(t, samples, rep.Samples)
	assert.Zero(t, rep.Dropped)
}

func TestRead(t *testing.T) {
	path, samples := setupCorpus(t)

	out, err := runCLI(t, "read", "-c", path, "--epochs", "2", "--minibatch", "5", "--json")
	require.NoError(t, err)

	var rep readReport
	require.NoError(t, codec.Default.Unmarshal([]byte(out), &rep))
	require.Len(t, rep.Epochs, 2)
	for _, e := range rep.Epochs {
		assert.Equal(t, samples, e.Samples)
		assert.Equal(t, (samples+4)/5, e.Minibatches)
	}
	assert.Equal(t, int64(2*samples), rep.Paging.Samples)

	out, err = runCLI(t, "read", "-c", path, "--workers", "2", "--rank", "1")
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "Page-ins"))
}

func TestRead_InvalidFlags(t *testing.T) {
	path, _ := setupCorpus(t)

	_, err := runCLI(t, "read", "-c", path, "--epochs", "0")
	require.Error(t, err)

	_, err = runCLI(t, "read", "-c", path, "--workers", "2", "--rank", "2")
	require.Error(t, err)
}

const synthConfig = `
[storage]
backend = "local"
root = %q

[logging]
level = "error"

[[streams]]
name = "features"
type = "htk"
prefix = "feats/"

[[streams]]
name = "labels"
type = "mlf"
paths = ["labels.mlf"]
label_mapping_file = "states.txt"
`

func TestSynth(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "seqbatch.toml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(synthConfig, root)), 0o644))

	out, err := runCLI(t, "synth", "-c", path, "--utterances", "5", "--min-frames", "3", "--max-frames", "6",
		"--dimension", "3", "--classes", "4", "--json")
	require.NoError(t, err)
	var rep synthReport
	require.NoError(t, codec.Default.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 5, rep.Utterances)
	assert.Equal(t, []string{"feats/", "labels.mlf", "states.txt"}, rep.Blobs)

	names, err := blobstore.NewLocalStore(root).List(context.Background(), "feats/")
	require.NoError(t, err)
	assert.Len(t, names, 5)

	out, err = runCLI(t, "inspect", "-c", path, "--json")
	require.NoError(t, err)
	var ins inspectReport
	require.NoError(t, codec.Default.Unmarshal([]byte(out), &ins))
	assert.Equal(t, []int{3}, ins.Streams[0].Shape)
	assert.Equal(t, []int{4}, ins.Streams[1].Shape)
	assert.Equal(t, rep.Frames, ins.Samples)

	_, err = runCLI(t, "synth", "-c", path, "--min-frames", "9", "--max-frames", "3")
	require.Error(t, err)
}
