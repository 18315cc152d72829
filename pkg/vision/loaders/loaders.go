// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package loaders builds ready-to-use train, test and (optionally) validation loaders for the standard
// image classification datasets: MNIST, Fashion-MNIST, CIFAR-10, CIFAR-100 and ImageNet.
//
// The simplest use is through the per-dataset builders:
//
//	ls, err := loaders.CIFAR10(128).ValSize(5000).Done()
//	if err != nil { ... }
//	defer ls.Close()
//	for batch, err := range ls.Train.Batches() { ... }
//
// Factory is the generic version, for any datasets.Constructor.
package loaders

import (
	"math/rand"

	"github.com/gomlx/visiondata/pkg/vision/dataloader"
	"github.com/gomlx/visiondata/pkg/vision/datasets"
	"github.com/gomlx/visiondata/pkg/vision/samplers"
	"github.com/gomlx/visiondata/pkg/vision/transforms"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// MeanStd holds per-channel normalization statistics. Both must have one value per image channel.
type MeanStd struct {
	Mean, Std []float64
}

// Factory builds the loaders of one kind of dataset.
type Factory struct {
	// Dataset constructs the train and test datasets.
	Dataset datasets.Constructor

	// Stats used to normalize the images, after converting them to tensors.
	Stats MeanStd

	// Augmentation transforms applied to training examples before normalization. It may be empty.
	Augmentation transforms.Compose

	// TestTime transforms applied to test and validation examples before normalization. It may be empty.
	TestTime transforms.Compose

	// Replacement makes the train loader draw len(train)/batch_size examples with replacement per epoch.
	// It is ignored if Distributed is set.
	Replacement bool

	// Distributed shards every split among the replicas of a distributed job, given by Replica.
	// It disables shuffling, which is then done by the distributed sampler of the train split.
	// The test and validation shards are visited in order, unlike torch's DistributedSampler, which
	// shuffles by default.
	Distributed bool
	Replica     samplers.Replica
}

// Request holds the per-call parameters of Factory.Build.
type Request struct {
	// BatchSize of the train loader. Test and validation loaders use twice as much.
	BatchSize int

	// NumWorkers loading batches in parallel, per loader.
	NumWorkers int

	// Shuffle the train loader. Forced off when distributed.
	Shuffle bool

	// TrainSet and TestSet identify the datasets. Their Transform is set by Build.
	TrainSet, TestSet datasets.SourceConfig

	// ValSize is the number of examples split off the train dataset for validation. If 0 there is no
	// validation loader.
	ValSize int

	// Seed for the validation split, the samplers and the random transforms.
	Seed int64
}

// Loaders built by a Factory. Val is nil if no validation split was requested.
type Loaders struct {
	Train, Test, Val *dataloader.Loader
}

// All returns the loaders in order: train, test and, if present, validation.
func (ls *Loaders) All() []*dataloader.Loader {
	if ls.Val == nil {
		return []*dataloader.Loader{ls.Train, ls.Test}
	}
	return []*dataloader.Loader{ls.Train, ls.Test, ls.Val}
}

// Close stops the workers of all loaders.
func (ls *Loaders) Close() {
	for _, l := range ls.All() {
		l.Close()
	}
}

// Build constructs the datasets, splits off the validation set if requested, selects the samplers and
// creates the loaders.
func (f *Factory) Build(req Request) (*Loaders, error) {
	if f.Dataset == nil {
		return nil, errors.New("loaders.Factory: no dataset constructor configured")
	}
	kind := f.Dataset.Name()
	if req.BatchSize <= 0 {
		return nil, errors.Errorf("%s loaders: batch size must be > 0, got %d", kind, req.BatchSize)
	}
	if req.NumWorkers < 0 {
		return nil, errors.Errorf("%s loaders: number of workers must be >= 0, got %d", kind, req.NumWorkers)
	}
	if req.ValSize < 0 {
		return nil, errors.Errorf("%s loaders: validation size must be >= 0, got %d", kind, req.ValSize)
	}
	if len(f.Stats.Mean) == 0 || len(f.Stats.Mean) != len(f.Stats.Std) {
		return nil, errors.Errorf("%s loaders: invalid normalization statistics, %d means and %d stds",
			kind, len(f.Stats.Mean), len(f.Stats.Std))
	}
	shuffle := !f.Distributed && req.Shuffle

	normalization := transforms.Normalization(f.Stats.Mean, f.Stats.Std)
	trainTransform := f.Augmentation.Then(normalization...)
	testTransform := f.TestTime.Then(normalization...)

	trainConfig, testConfig := req.TrainSet, req.TestSet
	if req.ValSize == 0 {
		trainConfig.Transform = trainTransform
	} else {
		trainConfig.Transform = nil
	}
	testConfig.Transform = testTransform
	trainSet, err := f.Dataset.New(trainConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s loaders: failed to create train dataset", kind)
	}
	testSet, err := f.Dataset.New(testConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s loaders: failed to create test dataset", kind)
	}

	var valSet datasets.Dataset
	if req.ValSize > 0 {
		if req.ValSize >= trainSet.Len() {
			return nil, errors.Errorf("%s loaders: validation size %d must be smaller than the train dataset (%d examples)",
				kind, req.ValSize, trainSet.Len())
		}
		splits, err := datasets.RandomSplit(trainSet, []int{trainSet.Len() - req.ValSize, req.ValSize},
			rand.New(rand.NewSource(req.Seed)))
		if err != nil {
			return nil, errors.WithMessagef(err, "%s loaders", kind)
		}
		splits[0].SetTransform(trainTransform)
		splits[1].SetTransform(testTransform)
		trainSet, valSet = splits[0], splits[1]
	}

	var trainSampler, testSampler, valSampler samplers.Sampler
	if f.Distributed {
		trainSampler, err = samplers.NewDistributed(trainSet.Len(), f.Replica, true, req.Seed, false)
		if err == nil {
			testSampler, err = samplers.NewDistributed(testSet.Len(), f.Replica, false, req.Seed, false)
		}
		if err == nil && valSet != nil {
			valSampler, err = samplers.NewDistributed(valSet.Len(), f.Replica, false, req.Seed, false)
		}
	} else if f.Replacement {
		trainSampler, err = samplers.NewRandom(trainSet.Len(), true, trainSet.Len()/req.BatchSize, req.Seed)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "%s loaders", kind)
	}

	ls := &Loaders{}
	ls.Train, err = dataloader.New(kind+"-train", trainSet, dataloader.Config{
		BatchSize:  req.BatchSize,
		NumWorkers: req.NumWorkers,
		Shuffle:    shuffle,
		Sampler:    trainSampler,
		PinMemory:  true,
		Seed:       req.Seed,
	})
	if err != nil {
		return nil, err
	}
	evalLoader := func(name string, ds datasets.Dataset, sampler samplers.Sampler) (*dataloader.Loader, error) {
		return dataloader.New(name, ds, dataloader.Config{
			BatchSize:  2 * req.BatchSize,
			NumWorkers: req.NumWorkers,
			Sampler:    sampler,
			PinMemory:  true,
			Seed:       req.Seed,
		})
	}
	if ls.Test, err = evalLoader(kind+"-test", testSet, testSampler); err != nil {
		return nil, err
	}
	if valSet != nil {
		if ls.Val, err = evalLoader(kind+"-val", valSet, valSampler); err != nil {
			return nil, err
		}
	}
	klog.V(1).Infof("%s loaders: train %d examples, test %d examples, validation %d examples, distributed=%v, replacement=%v",
		kind, trainSet.Len(), testSet.Len(), req.ValSize, f.Distributed, f.Replacement && !f.Distributed)
	return ls, nil
}
