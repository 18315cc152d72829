// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package loaders

import (
	"path/filepath"

	"github.com/gomlx/visiondata/pkg/support/fsutil"
	"github.com/gomlx/visiondata/pkg/vision/datasets"
	"github.com/gomlx/visiondata/pkg/vision/samplers"
	"github.com/gomlx/visiondata/pkg/vision/transforms"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// datasetKind holds the fixed parameters of one of the standard datasets.
type datasetKind struct {
	constructor datasets.Constructor

	// defaultRoot is empty for folder datasets, whose root is required.
	defaultRoot string
	numWorkers  int
	stats       MeanStd

	// augmentation and testTime return new pipelines on each call, so builders never share them.
	augmentation func() transforms.Compose
	testTime     func() transforms.Compose

	// folder datasets can't be downloaded and read the "train" and "val" subdirectories of the root.
	folder bool
}

var (
	mnistStats = MeanStd{Mean: []float64{0.1307}, Std: []float64{0.3081}}

	flipAugmentation = func() transforms.Compose {
		return transforms.Compose{&transforms.RandomHorizontalFlip{}}
	}
	cifarAugmentation = func() transforms.Compose {
		return transforms.Compose{&transforms.RandomCrop{Size: 32, Padding: 4}, &transforms.RandomHorizontalFlip{}}
	}
)

// Builder configures the loaders of one of the standard datasets. Create it with MNIST, FashionMNIST,
// CIFAR10, CIFAR100 or ImageNet, optionally configure it, and call Done to build the loaders.
//
// Defaults are resolved in Done, so a Builder can be changed and reused.
type Builder struct {
	kind      datasetKind
	batchSize int

	numWorkers      int
	numWorkersSet   bool
	root            string
	rootSet         bool
	augmentation    transforms.Compose
	augmentationSet bool
	valSize         int
	replacement     bool
	forceDownload   bool
	seed            int64

	distributed bool
	replica     samplers.Replica
	replicaSet  bool
	numDevices  int

	numTrainSamples, numTestSamples int

	// invalid lists options that don't apply to the dataset kind.
	invalid []string
}

func newBuilder(kind datasetKind, batchSize int) *Builder {
	return &Builder{kind: kind, batchSize: batchSize}
}

// MNIST returns a Builder for the MNIST handwritten digits dataset, stored by default in ~/.torch/data/mnist
// and downloaded if missing.
func MNIST(batchSize int) *Builder {
	return newBuilder(datasetKind{
		constructor:  datasets.MNIST,
		defaultRoot:  "~/.torch/data/mnist",
		numWorkers:   2,
		stats:        mnistStats,
		augmentation: flipAugmentation,
	}, batchSize)
}

// FashionMNIST returns a Builder for the Fashion-MNIST dataset, stored by default in ~/.torch/data/fmnist
// and downloaded if missing. It uses the same normalization as MNIST.
func FashionMNIST(batchSize int) *Builder {
	return newBuilder(datasetKind{
		constructor:  datasets.FashionMNIST,
		defaultRoot:  "~/.torch/data/fmnist",
		numWorkers:   2,
		stats:        mnistStats,
		augmentation: flipAugmentation,
	}, batchSize)
}

// CIFAR10 returns a Builder for the CIFAR-10 dataset, stored by default in ~/.torch/data/cifar10
// and downloaded if missing.
func CIFAR10(batchSize int) *Builder {
	return newBuilder(datasetKind{
		constructor: datasets.CIFAR10,
		defaultRoot: "~/.torch/data/cifar10",
		numWorkers:  4,
		stats: MeanStd{
			Mean: []float64{0.4914, 0.4822, 0.4465},
			Std:  []float64{0.2023, 0.1994, 0.2010},
		},
		augmentation: cifarAugmentation,
	}, batchSize)
}

// CIFAR100 returns a Builder for the CIFAR-100 dataset (fine labels), stored by default in
// ~/.torch/data/cifar100 and downloaded if missing.
func CIFAR100(batchSize int) *Builder {
	return newBuilder(datasetKind{
		constructor: datasets.CIFAR100,
		defaultRoot: "~/.torch/data/cifar100",
		numWorkers:  4,
		stats: MeanStd{
			Mean: []float64{0.5071, 0.4867, 0.4408},
			Std:  []float64{0.2675, 0.2565, 0.2761},
		},
		augmentation: cifarAugmentation,
	}, batchSize)
}

// ImageNet returns a Builder for the ILSVRC classification dataset, read from the image folders
// root/train and root/val. The root must exist: ImageNet can't be downloaded automatically.
//
// When distributed, batchSize is the global batch size, divided among the accelerator devices.
func ImageNet(root string, batchSize int) *Builder {
	b := newBuilder(datasetKind{
		constructor: datasets.ImageFolder,
		numWorkers:  8,
		stats: MeanStd{
			Mean: []float64{0.485, 0.456, 0.406},
			Std:  []float64{0.229, 0.224, 0.225},
		},
		augmentation: func() transforms.Compose {
			return transforms.Compose{&transforms.RandomResizedCrop{Size: 224}, &transforms.RandomHorizontalFlip{}}
		},
		testTime: func() transforms.Compose {
			return transforms.Compose{&transforms.Resize{Size: 256}, &transforms.CenterCrop{Size: 224}}
		},
		folder: true,
	}, batchSize)
	b.root = root
	return b
}

// NumWorkers sets the number of parallel workers of each loader.
// Defaults to 2 for MNIST and Fashion-MNIST, 4 for CIFAR and 8 for ImageNet.
func (b *Builder) NumWorkers(n int) *Builder {
	b.numWorkers = n
	b.numWorkersSet = true
	return b
}

// Root sets the directory where the dataset is stored. Not valid for ImageNet, whose root is given
// at creation.
func (b *Builder) Root(dir string) *Builder {
	if b.kind.folder {
		b.invalid = append(b.invalid, "Root")
	}
	b.root = dir
	b.rootSet = true
	return b
}

// DataAugmentation replaces the default augmentation transforms of the training examples.
// Calling it with no transforms disables augmentation.
func (b *Builder) DataAugmentation(ts ...datasets.Transform) *Builder {
	b.augmentation = transforms.Compose(ts)
	b.augmentationSet = true
	return b
}

// ValSize sets the number of training examples split off for a validation loader. Defaults to 0 (no validation).
func (b *Builder) ValSize(n int) *Builder {
	b.valSize = n
	return b
}

// Replacement makes the train loader sample with replacement. Not valid for ImageNet.
func (b *Builder) Replacement(replacement bool) *Builder {
	if b.kind.folder {
		b.invalid = append(b.invalid, "Replacement")
	}
	b.replacement = replacement
	return b
}

// ForceDownload downloads the dataset files even if the root directory already existed.
// Only missing files are fetched. Not valid for ImageNet.
func (b *Builder) ForceDownload(force bool) *Builder {
	if b.kind.folder {
		b.invalid = append(b.invalid, "ForceDownload")
	}
	b.forceDownload = force
	return b
}

// Seed for the validation split, shuffling and random augmentation. Defaults to 0.
func (b *Builder) Seed(seed int64) *Builder {
	b.seed = seed
	return b
}

// Distributed shards the datasets among the replicas of a distributed job.
func (b *Builder) Distributed(distributed bool) *Builder {
	b.distributed = distributed
	return b
}

// Replica sets the rank and world size of this process in a distributed job.
// If not set, it is read from the environment with samplers.ReplicaFromEnv.
func (b *Builder) Replica(rank, worldSize int) *Builder {
	b.replica = samplers.Replica{Rank: rank, WorldSize: worldSize}
	b.replicaSet = true
	return b
}

// NumDevices overrides the number of accelerator devices used to divide the batch size of a distributed
// ImageNet job. If not set, it is detected with DetectDevices. Only valid for ImageNet.
func (b *Builder) NumDevices(n int) *Builder {
	if !b.kind.folder {
		b.invalid = append(b.invalid, "NumDevices")
	}
	b.numDevices = n
	return b
}

// NumTrainSamples caps the number of training examples to a random subset. Only valid for ImageNet.
func (b *Builder) NumTrainSamples(n int) *Builder {
	if !b.kind.folder {
		b.invalid = append(b.invalid, "NumTrainSamples")
	}
	b.numTrainSamples = n
	return b
}

// NumTestSamples caps the number of test examples to a random subset. Only valid for ImageNet.
func (b *Builder) NumTestSamples(n int) *Builder {
	if !b.kind.folder {
		b.invalid = append(b.invalid, "NumTestSamples")
	}
	b.numTestSamples = n
	return b
}

// Done resolves the defaults and builds the loaders: train and test, plus validation if ValSize > 0.
func (b *Builder) Done() (*Loaders, error) {
	name := b.kind.constructor.Name()
	if len(b.invalid) > 0 {
		return nil, errors.Errorf("%s loaders: options %v are not supported by this dataset", name, b.invalid)
	}
	factory := &Factory{
		Dataset:     b.kind.constructor,
		Stats:       b.kind.stats,
		Replacement: b.replacement,
		Distributed: b.distributed,
	}
	if b.augmentationSet {
		factory.Augmentation = b.augmentation
	} else {
		factory.Augmentation = b.kind.augmentation()
	}
	if b.kind.testTime != nil {
		factory.TestTime = b.kind.testTime()
	}
	if b.distributed {
		factory.Replica = b.replica
		if !b.replicaSet {
			var err error
			if factory.Replica, err = samplers.ReplicaFromEnv(); err != nil {
				return nil, errors.WithMessagef(err, "%s loaders", name)
			}
		}
	}
	req := Request{
		BatchSize:  b.batchSize,
		NumWorkers: b.kind.numWorkers,
		ValSize:    b.valSize,
		Seed:       b.seed,
	}
	if b.numWorkersSet {
		req.NumWorkers = b.numWorkers
	}

	if b.kind.folder {
		root, err := fsutil.CheckRootExists(b.root)
		if err != nil {
			return nil, errors.WithMessagef(err, "%s loaders", name)
		}
		if b.distributed {
			devices := b.numDevices
			if devices <= 0 {
				devices = DetectDevices()
			}
			if devices == 0 {
				return nil, errors.Errorf("%s loaders: distributed mode requires accelerator devices, none found", name)
			}
			req.BatchSize = b.batchSize / devices
			if req.BatchSize == 0 {
				return nil, errors.Errorf("%s loaders: batch size %d is smaller than the number of devices %d",
					name, b.batchSize, devices)
			}
			klog.V(1).Infof("%s loaders: batch size %d divided among %d devices", name, b.batchSize, devices)
		}
		req.Shuffle = true
		req.TrainSet = datasets.SourceConfig{Root: filepath.Join(root, "train"), NumSamples: b.numTrainSamples, Seed: b.seed}
		req.TestSet = datasets.SourceConfig{Root: filepath.Join(root, "val"), NumSamples: b.numTestSamples, Seed: b.seed}
		return factory.Build(req)
	}

	root := b.kind.defaultRoot
	if b.rootSet {
		root = b.root
	}
	root, existed, err := fsutil.AbsoluteRoot(root)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s loaders", name)
	}
	download := !existed || b.forceDownload
	req.Shuffle = !b.replacement
	req.TrainSet = datasets.SourceConfig{Root: root, Train: true, Download: download}
	req.TestSet = datasets.SourceConfig{Root: root, Train: false, Download: download}
	return factory.Build(req)
}

// Stats returns the per-channel statistics the loaders normalize with.
func (b *Builder) Stats() MeanStd { return b.kind.stats }

// RawTestSet constructs the test split converted to tensors with values in [0, 1], without test-time
// transforms or normalization. This is the view ChannelStats needs to compute normalization statistics.
//
// It never downloads: the dataset files must already be in place, e.g. after Done.
func (b *Builder) RawTestSet() (datasets.Dataset, error) {
	name := b.kind.constructor.Name()
	var config datasets.SourceConfig
	if b.kind.folder {
		root, err := fsutil.CheckRootExists(b.root)
		if err != nil {
			return nil, errors.WithMessagef(err, "%s raw test set", name)
		}
		config = datasets.SourceConfig{Root: filepath.Join(root, "val"), NumSamples: b.numTestSamples, Seed: b.seed}
	} else {
		config.Root = b.kind.defaultRoot
		if b.rootSet {
			config.Root = b.root
		}
	}
	config.Transform = &transforms.ToTensor{Channels: len(b.kind.stats.Mean)}
	ds, err := b.kind.constructor.New(config)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s raw test set", name)
	}
	return ds, nil
}
