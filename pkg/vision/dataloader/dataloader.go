// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dataloader combines a dataset, a sampler and batching into a Loader that yields batches of
// examples, optionally loading them in parallel with a pool of workers.
//
// A Loader also implements GoMLX's train.Dataset, so it can be given directly to a training loop:
//
//	loader, err := dataloader.New("train", ds, dataloader.Config{BatchSize: 128, NumWorkers: 4, Shuffle: true})
//	...
//	loop := train.NewLoop(trainer)
//	_, err = loop.RunEpochs(loader, 10)
package dataloader

import (
	"context"
	"fmt"
	"io"
	"iter"
	"math/rand"
	"slices"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/visiondata/pkg/vision/datasets"
	"github.com/gomlx/visiondata/pkg/vision/samplers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultPrefetchFactor is the number of batches prefetched per worker, if Config.PrefetchFactor is 0.
const DefaultPrefetchFactor = 2

// Config of a Loader.
type Config struct {
	// BatchSize is the number of examples per batch. Required.
	BatchSize int

	// NumWorkers loading batches in parallel. If 0, batches are loaded in the goroutine calling Next.
	NumWorkers int

	// Shuffle the examples at every epoch. It cannot be used with Sampler.
	Shuffle bool

	// Sampler defines the examples visited in each epoch. If nil, a sequential sampler or, if Shuffle
	// is set, a random permutation sampler is used.
	Sampler samplers.Sampler

	// PinMemory makes workers create the GoMLX tensors of the batches, so they are ready for transfer.
	PinMemory bool

	// DropLast drops the last incomplete batch of an epoch.
	DropLast bool

	// Seed for shuffling and for the random transforms applied to the examples.
	Seed int64

	// PrefetchFactor is the number of batches loaded in advance per worker. Defaults to DefaultPrefetchFactor.
	PrefetchFactor int
}

// Loader yields batches of examples from a dataset, in the order defined by its sampler.
//
// Next returns io.EOF at the end of an epoch, and Reset starts the next one.
// Errors loading examples are sticky: Next keeps returning the error until Reset.
//
// Methods that change the iteration (Next, Reset, Close) must not be called concurrently with each other.
// The configuration accessors are safe to call at any time.
type Loader struct {
	name    string
	ds      datasets.Dataset
	config  Config
	sampler samplers.Sampler

	mu        sync.Mutex
	epoch     int
	started   bool
	closed    bool
	err       error
	batches   [][]int
	nextBatch int
	run       *epochRun
}

var _ train.Dataset = (*Loader)(nil)

// New creates a Loader over ds.
func New(name string, ds datasets.Dataset, config Config) (*Loader, error) {
	if ds == nil {
		return nil, errors.Errorf("dataloader %q: nil dataset", name)
	}
	if config.BatchSize <= 0 {
		return nil, errors.Errorf("dataloader %q: batch size must be > 0, got %d", name, config.BatchSize)
	}
	if config.NumWorkers < 0 {
		return nil, errors.Errorf("dataloader %q: number of workers must be >= 0, got %d", name, config.NumWorkers)
	}
	if config.PrefetchFactor < 0 {
		return nil, errors.Errorf("dataloader %q: prefetch factor must be >= 0, got %d", name, config.PrefetchFactor)
	}
	if config.Sampler != nil && config.Shuffle {
		return nil, errors.Errorf("dataloader %q: sampler option is mutually exclusive with shuffle", name)
	}
	if config.PrefetchFactor == 0 {
		config.PrefetchFactor = DefaultPrefetchFactor
	}
	l := &Loader{name: name, ds: ds, config: config, sampler: config.Sampler}
	if l.sampler == nil {
		if config.Shuffle {
			l.sampler = &samplers.Random{N: ds.Len(), Seed: config.Seed}
		} else {
			l.sampler = &samplers.Sequential{N: ds.Len()}
		}
	}
	klog.V(1).Infof("dataloader %q: %d examples from %s, batch size %d, %d batches per epoch, %d workers, sampler %v",
		name, l.NumSamples(), ds.Name(), config.BatchSize, l.Len(), config.NumWorkers, l.sampler)
	return l, nil
}

// Name implements train.Dataset.
func (l *Loader) Name() string { return l.name }

// Dataset returns the underlying dataset.
func (l *Loader) Dataset() datasets.Dataset { return l.ds }

// Sampler returns the sampler in use: the configured one, or the one derived from Config.Shuffle.
func (l *Loader) Sampler() samplers.Sampler { return l.sampler }

// Config returns the configuration of the loader, with defaults filled in.
func (l *Loader) Config() Config { return l.config }

// BatchSize returns the (maximum) number of examples per batch.
func (l *Loader) BatchSize() int { return l.config.BatchSize }

// NumWorkers returns the number of parallel workers.
func (l *Loader) NumWorkers() int { return l.config.NumWorkers }

// Shuffle returns whether the loader was configured to shuffle examples.
func (l *Loader) Shuffle() bool { return l.config.Shuffle }

// PinMemory returns whether workers create the tensors of the batches.
func (l *Loader) PinMemory() bool { return l.config.PinMemory }

// NumSamples returns the number of examples visited per epoch.
func (l *Loader) NumSamples() int { return l.sampler.Len() }

// Len returns the number of batches per epoch.
func (l *Loader) Len() int {
	n := l.sampler.Len()
	if l.config.DropLast {
		return n / l.config.BatchSize
	}
	return (n + l.config.BatchSize - 1) / l.config.BatchSize
}

// Epoch returns the current epoch, starting from 0. It is incremented by Reset.
func (l *Loader) Epoch() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.epoch
}

// String implements fmt.Stringer.
func (l *Loader) String() string {
	return fmt.Sprintf("Loader(%s: %d batches of %d)", l.name, l.Len(), l.config.BatchSize)
}

// Next returns the next batch of the epoch, or io.EOF when the epoch is exhausted.
func (l *Loader) Next() (*Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errors.Errorf("dataloader %q is closed", l.name)
	}
	if l.err != nil {
		return nil, l.err
	}
	if !l.started {
		l.startEpoch()
	}
	var batch *Batch
	var err error
	if l.run != nil {
		batch, err = l.run.next()
	} else if l.nextBatch >= len(l.batches) {
		err = io.EOF
	} else {
		batch, err = l.loadBatch(context.Background(), l.epoch, l.nextBatch, l.batches[l.nextBatch])
		l.nextBatch++
	}
	if err != nil {
		if err != io.EOF {
			klog.V(1).Infof("dataloader %q: epoch %d failed: %v", l.name, l.epoch, err)
		}
		l.err = err
		return nil, err
	}
	return batch, nil
}

// Reset stops any in-flight loading and, if the current epoch was started, moves to the next epoch.
// It implements train.Dataset.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopEpoch()
	if l.started {
		l.epoch++
	}
	l.started = false
	l.err = nil
}

// Close stops the workers. The Loader can't be used afterwards. It is safe to call more than once.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopEpoch()
	l.closed = true
}

// Yield implements train.Dataset: inputs are the images and labels are the labels of the next batch.
func (l *Loader) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	var batch *Batch
	batch, err = l.Next()
	if err != nil {
		return
	}
	images, labelsT := batch.Tensors()
	return nil, []*tensors.Tensor{images}, []*tensors.Tensor{labelsT}, nil
}

// Batches starts a new epoch (resetting the loader if the current one was already started) and iterates
// over its batches. Iteration stops after the first error.
func (l *Loader) Batches() iter.Seq2[*Batch, error] {
	return func(yield func(*Batch, error) bool) {
		l.mu.Lock()
		started := l.started
		l.mu.Unlock()
		if started {
			l.Reset()
		}
		for {
			batch, err := l.Next()
			if err == io.EOF {
				return
			}
			if !yield(batch, err) || err != nil {
				return
			}
		}
	}
}

// startEpoch splits the sampler indices into batches and, if using workers, starts loading them.
// It must be called with l.mu locked.
func (l *Loader) startEpoch() {
	indices := l.sampler.Indices(l.epoch)
	numBatches := l.Len()
	l.batches = make([][]int, numBatches)
	for i := range numBatches {
		start := i * l.config.BatchSize
		end := min(start+l.config.BatchSize, len(indices))
		l.batches[i] = indices[start:end:end]
	}
	l.nextBatch = 0
	l.started = true
	klog.V(2).Infof("dataloader %q: starting epoch %d with %d batches", l.name, l.epoch, numBatches)
	if l.config.NumWorkers > 0 {
		l.run = startEpochRun(l, l.epoch, l.batches)
	}
}

// stopEpoch cancels and waits for in-flight workers. It must be called with l.mu locked.
func (l *Loader) stopEpoch() {
	if l.run != nil {
		l.run.stop()
		l.run = nil
	}
}

// batchSeed derives the seed of the random transforms of one batch.
func batchSeed(seed int64, epoch, batchNum int) int64 {
	// SplitMix64 finalizer over the combined inputs.
	z := uint64(seed) + 0x9E3779B97F4A7C15*uint64(epoch+1) + 0xBF58476D1CE4E5B9*uint64(batchNum+1)
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return int64(z ^ (z >> 31))
}

// loadBatch loads and assembles the examples of one batch. It doesn't use l.mu, and it's called concurrently
// by the workers.
func (l *Loader) loadBatch(ctx context.Context, epoch, batchNum int, indices []int) (*Batch, error) {
	rng := rand.New(rand.NewSource(batchSeed(l.config.Seed, epoch, batchNum)))
	batch := &Batch{
		Indices: indices,
		Labels:  make([]int32, len(indices)),
		Epoch:   epoch,
		Number:  batchNum,
	}
	var exampleDims []int
	for i, idx := range indices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		example, err := l.ds.Get(idx, rng)
		if err != nil {
			return nil, errors.WithMessagef(err, "dataloader %q: failed loading example %d for batch %d",
				l.name, idx, batchNum)
		}
		if example.Channels() == 0 {
			return nil, errors.Errorf("dataloader %q: example %d of %s was not converted to a tensor, "+
				"the dataset transform must include ToTensor", l.name, idx, l.ds.Name())
		}
		if i == 0 {
			exampleDims = example.Dims
			batch.Images = make([]float32, 0, len(indices)*len(example.Values))
		} else if !slices.Equal(exampleDims, example.Dims) {
			return nil, errors.Errorf("dataloader %q: example %d has dimensions %v, but previous examples in "+
				"batch %d have %v, use a transform to make them the same size",
				l.name, idx, example.Dims, batchNum, exampleDims)
		}
		batch.Images = append(batch.Images, example.Values...)
		batch.Labels[i] = int32(example.Label)
	}
	batch.Dims = append([]int{len(indices)}, exampleDims...)
	if l.config.PinMemory {
		batch.materialize()
	}
	return batch, nil
}
