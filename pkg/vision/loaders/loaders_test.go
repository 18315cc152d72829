// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package loaders

import (
	"image"
	"math/rand"
	"slices"
	"testing"

	"github.com/gomlx/visiondata/pkg/vision/datasets"
	"github.com/gomlx/visiondata/pkg/vision/samplers"
	"github.com/gomlx/visiondata/pkg/vision/transforms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// grayDataset returns 2x2 gray images filled with the example index, and label index%10.
type grayDataset struct {
	name      string
	n         int
	transform datasets.Transform
}

func (ds *grayDataset) Name() string { return ds.name }
func (ds *grayDataset) Len() int     { return ds.n }
func (ds *grayDataset) Get(index int, rng *rand.Rand) (*datasets.Example, error) {
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	for i := range img.Pix {
		img.Pix[i] = uint8(index)
	}
	example := &datasets.Example{Image: img, Label: index % 10, Index: index}
	if ds.transform != nil {
		if err := ds.transform.Apply(example, rng); err != nil {
			return nil, err
		}
	}
	return example, nil
}

// fakeConstructor builds grayDatasets and records the configurations it was called with.
type fakeConstructor struct {
	trainLen, testLen int
	configs           []datasets.SourceConfig
}

func (c *fakeConstructor) Name() string { return "Fake" }
func (c *fakeConstructor) New(config datasets.SourceConfig) (datasets.Dataset, error) {
	c.configs = append(c.configs, config)
	if config.Train {
		return &grayDataset{name: "fake-train", n: c.trainLen, transform: config.Transform}, nil
	}
	return &grayDataset{name: "fake-test", n: c.testLen, transform: config.Transform}, nil
}

func newFactory(trainLen, testLen int) (*Factory, *fakeConstructor) {
	c := &fakeConstructor{trainLen: trainLen, testLen: testLen}
	return &Factory{
		Dataset:      c,
		Stats:        MeanStd{Mean: []float64{0.5}, Std: []float64{0.25}},
		Augmentation: transforms.Compose{&transforms.RandomHorizontalFlip{}},
	}, c
}

func newRequest(batchSize, valSize int) Request {
	return Request{
		BatchSize: batchSize,
		Shuffle:   true,
		TrainSet:  datasets.SourceConfig{Root: "/data", Train: true, Download: true},
		TestSet:   datasets.SourceConfig{Root: "/data", Train: false, Download: true},
		ValSize:   valSize,
		Seed:      1,
	}
}

func TestFactoryWithoutValidation(t *testing.T) {
	f, c := newFactory(100, 30)
	ls, err := f.Build(newRequest(8, 0))
	require.NoError(t, err)
	defer ls.Close()

	require.Len(t, ls.All(), 2)
	assert.Nil(t, ls.Val)
	assert.Equal(t, 8, ls.Train.BatchSize())
	assert.Equal(t, 16, ls.Test.BatchSize())
	assert.True(t, ls.Train.Shuffle())
	assert.False(t, ls.Test.Shuffle())
	assert.IsType(t, &samplers.Random{}, ls.Train.Sampler())
	assert.IsType(t, &samplers.Sequential{}, ls.Test.Sampler())
	for _, l := range ls.All() {
		assert.True(t, l.PinMemory())
	}

	// Both datasets were constructed with their transforms, and the download flag is passed through.
	require.Len(t, c.configs, 2)
	for _, config := range c.configs {
		assert.NotNil(t, config.Transform)
		assert.True(t, config.Download)
	}
	assert.Len(t, c.configs[0].Transform, 3, "augmentation + ToTensor + Normalize")
	assert.Len(t, c.configs[1].Transform, 2, "ToTensor + Normalize")

	// Examples are normalized: (value/255 - mean) / std.
	batch, err := ls.Test.Next()
	require.NoError(t, err)
	assert.Equal(t, []int{16, 2, 2, 1}, batch.Dims)
	assert.InDelta(t, (3.0/255-0.5)/0.25, batch.Images[3*4], 1e-5)
}

func TestFactoryWithValidation(t *testing.T) {
	f, c := newFactory(100, 30)
	ls, err := f.Build(newRequest(8, 10))
	require.NoError(t, err)
	defer ls.Close()

	all := ls.All()
	require.Len(t, all, 3)
	assert.Equal(t, ls.Val, all[2])
	assert.Equal(t, 90, ls.Train.NumSamples())
	assert.Equal(t, 10, ls.Val.NumSamples())
	assert.Equal(t, 16, ls.Val.BatchSize())
	assert.False(t, ls.Val.Shuffle())

	// The train dataset was constructed without a transform: it's set on the splits.
	assert.Nil(t, c.configs[0].Transform)

	trainSplit := ls.Train.Dataset().(*datasets.Subset)
	valSplit := ls.Val.Dataset().(*datasets.Subset)
	indices := append(slices.Clone(trainSplit.Indices()), valSplit.Indices()...)
	slices.Sort(indices)
	assert.Equal(t, (&samplers.Sequential{N: 100}).Indices(0), indices, "splits are disjoint and cover the train set")

	// Validation examples don't go through augmentation, but are normalized.
	batch, err := ls.Val.Next()
	require.NoError(t, err)
	assert.Equal(t, 10, batch.Size())
	first := valSplit.Indices()[0]
	assert.InDelta(t, (float64(first)/255-0.5)/0.25, batch.Images[0], 1e-5)
	assert.Equal(t, int32(first%10), batch.Labels[0])
}

func TestFactoryDistributed(t *testing.T) {
	f, _ := newFactory(100, 30)
	f.Distributed = true
	f.Replacement = true
	f.Replica = samplers.Replica{Rank: 1, WorldSize: 4}
	ls, err := f.Build(newRequest(8, 10))
	require.NoError(t, err)
	defer ls.Close()

	for _, l := range ls.All() {
		assert.IsType(t, &samplers.Distributed{}, l.Sampler(), "loader %s", l.Name())
		assert.False(t, l.Shuffle(), "shuffle is forced off when distributed")
	}
	assert.True(t, ls.Train.Sampler().(*samplers.Distributed).Shuffle)
	assert.False(t, ls.Test.Sampler().(*samplers.Distributed).Shuffle)
	assert.False(t, ls.Val.Sampler().(*samplers.Distributed).Shuffle)
	assert.Equal(t, 23, ls.Train.NumSamples(), "ceil(90/4)")
	assert.Equal(t, 8, ls.Test.NumSamples(), "ceil(30/4)")
	assert.Equal(t, 3, ls.Val.NumSamples(), "ceil(10/4)")

	f.Replica = samplers.Replica{Rank: 4, WorldSize: 4}
	_, err = f.Build(newRequest(8, 0))
	require.Error(t, err)
}

func TestFactoryReplacement(t *testing.T) {
	f, _ := newFactory(100, 30)
	f.Replacement = true
	req := newRequest(8, 10)
	req.Shuffle = false
	ls, err := f.Build(req)
	require.NoError(t, err)
	defer ls.Close()

	sampler, ok := ls.Train.Sampler().(*samplers.Random)
	require.True(t, ok)
	assert.True(t, sampler.Replacement)
	assert.Equal(t, 90/8, ls.Train.NumSamples(), "draw count uses the length after the validation split")
	assert.Equal(t, 2, ls.Train.Len())
	assert.IsType(t, &samplers.Sequential{}, ls.Val.Sampler())

	// Shuffle together with a sampler is rejected, like the loader does.
	_, err = f.Build(newRequest(8, 0))
	require.Error(t, err)

	// Fewer examples than the batch size: nothing to draw.
	f, _ = newFactory(5, 5)
	f.Replacement = true
	req = newRequest(8, 0)
	req.Shuffle = false
	_, err = f.Build(req)
	require.Error(t, err)
}

func TestFactoryErrors(t *testing.T) {
	f, _ := newFactory(100, 30)
	_, err := f.Build(newRequest(0, 0))
	require.Error(t, err)

	req := newRequest(8, 0)
	req.NumWorkers = -1
	_, err = f.Build(req)
	require.Error(t, err)

	_, err = f.Build(newRequest(8, -1))
	require.Error(t, err)

	_, err = f.Build(newRequest(8, 100))
	require.Error(t, err)

	f.Stats = MeanStd{Mean: []float64{0.5, 0.5}, Std: []float64{0.2}}
	_, err = f.Build(newRequest(8, 0))
	require.Error(t, err)

	_, err = (&Factory{}).Build(newRequest(8, 0))
	require.Error(t, err)
}

func TestFactoryWorkers(t *testing.T) {
	f, _ := newFactory(50, 20)
	req := newRequest(4, 5)
	req.NumWorkers = 3
	ls, err := f.Build(req)
	require.NoError(t, err)
	defer ls.Close()

	for _, l := range ls.All() {
		assert.Equal(t, 3, l.NumWorkers())
		count := 0
		for batch, err := range l.Batches() {
			require.NoError(t, err)
			count += batch.Size()
		}
		assert.Equal(t, l.NumSamples(), count, "loader %s", l.Name())
	}
}
