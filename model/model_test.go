package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseElementType(t *testing.T) {
	tests := []struct {
		in   string
		want ElementType
		err  bool
	}{
		{"", ElementFloat32, false},
		{"float", ElementFloat32, false},
		{"Float32", ElementFloat32, false},
		{"double", ElementFloat64, false},
		{"float64", ElementFloat64, false},
		{"int8", ElementUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseElementType(tt.in)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStreamDescription_SampleSize(t *testing.T) {
	s := &StreamDescription{ElementType: ElementFloat64, SampleShape: []int{3, 4}}
	assert.Equal(t, 12, s.SampleElements())
	assert.Equal(t, 96, s.SampleSizeBytes())

	c := s.Clone(7)
	c.SampleShape[0] = 1
	assert.Equal(t, 7, c.ID)
	assert.Equal(t, 3, s.SampleShape[0], "clone must not share the shape")

	assert.Equal(t, 0, (&StreamDescription{ElementType: ElementFloat32}).SampleSizeBytes())
}

func TestEpochConfig_Validate(t *testing.T) {
	ok := EpochConfig{MinibatchSizeInSamples: 8, TotalEpochSizeInSamples: 100, NumberOfWorkers: 2, WorkerRank: 1}
	require.NoError(t, ok.Validate())

	bad := []EpochConfig{
		{MinibatchSizeInSamples: 0, TotalEpochSizeInSamples: 100, NumberOfWorkers: 1},
		{MinibatchSizeInSamples: 8, TotalEpochSizeInSamples: 0, NumberOfWorkers: 1},
		{MinibatchSizeInSamples: 8, TotalEpochSizeInSamples: 10, NumberOfWorkers: 0},
		{MinibatchSizeInSamples: 8, TotalEpochSizeInSamples: 10, NumberOfWorkers: 2, WorkerRank: 2},
		{MinibatchSizeInSamples: 8, TotalEpochSizeInSamples: 10, NumberOfWorkers: 1, EpochIndex: -1},
	}
	for _, c := range bad {
		assert.ErrorIs(t, c.Validate(), ErrInvalidEpochConfig)
	}
}

func TestMinibatch_Exhausted(t *testing.T) {
	mb := &Minibatch{EndOfEpoch: true}
	assert.True(t, mb.Exhausted())

	layout := &Layout{}
	layout.InitAsFrameMode(3)
	mb = &Minibatch{EndOfEpoch: true, Streams: []*StreamMinibatch{{Layout: layout}}}
	assert.False(t, mb.Exhausted(), "last partial batch is not the terminal condition")
	assert.True(t, layout.IsFrameMode())
}
