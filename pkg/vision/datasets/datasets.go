// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package datasets defines indexable labeled image datasets and the built-in ones: MNIST, Fashion-MNIST,
// CIFAR-10, CIFAR-100 and ImageFolder (used for ImageNet).
//
// A Dataset returns one Example at a time, already passed through its Transform. Datasets are consumed by
// the dataloader package, which samples indices, batches examples and prefetches them in parallel.
package datasets

import (
	"image"
	"math/rand"
)

// Example is one labeled sample.
//
// It starts as an Image (as read from disk) and is converted by a ToTensor transform into Values,
// a flat channels-last tensor with dimensions Dims (`[height, width, channels]`).
type Example struct {
	Image image.Image

	// Values and Dims are set once the image has been converted to a tensor.
	Values []float32
	Dims   []int

	Label int

	// Index in the dataset that produced the example.
	Index int
}

// Channels returns the number of channels of the tensor values, or 0 if not converted yet.
func (e *Example) Channels() int {
	if len(e.Dims) == 0 {
		return 0
	}
	return e.Dims[len(e.Dims)-1]
}

// Transform maps an Example in place: image augmentation, tensor conversion, normalization.
//
// Random transforms must only use the given rng, which is owned by the caller's goroutine.
type Transform interface {
	Apply(example *Example, rng *rand.Rand) error
}

// Dataset is an indexable source of labeled examples.
//
// Get must be safe for concurrent use, since loaders call it from several workers.
type Dataset interface {
	// Name of the dataset, used for logging.
	Name() string

	// Len returns the number of examples.
	Len() int

	// Get returns the example at index, with the dataset's transform applied using rng.
	Get(index int, rng *rand.Rand) (*Example, error)
}

// Transformable is a Dataset whose transform can be replaced after construction.
type Transformable interface {
	Dataset
	SetTransform(t Transform)
}

// SourceConfig identifies a labeled-sample source for a Constructor.
type SourceConfig struct {
	// Root directory where the dataset files are (or will be downloaded to).
	Root string

	// Train selects the training split, otherwise the test split.
	// Folder based datasets ignore it: Root already points to the split.
	Train bool

	// Download missing files. Without it, missing files are an error.
	Download bool

	// Transform applied to every example. Nil leaves examples as raw images.
	Transform Transform

	// NumSamples caps the number of examples, if > 0. Only supported by ImageFolder.
	NumSamples int

	// Seed used to pick the capped subset of examples.
	Seed int64
}

// Constructor builds a Dataset of a given kind.
type Constructor interface {
	// Name of the kind of dataset, e.g. "MNIST".
	Name() string

	// New constructs the dataset.
	New(config SourceConfig) (Dataset, error)
}

// applyTransform applies t to example if t is not nil.
func applyTransform(t Transform, example *Example, rng *rand.Rand) (*Example, error) {
	if t == nil {
		return example, nil
	}
	if err := t.Apply(example, rng); err != nil {
		return nil, err
	}
	return example, nil
}

// splitName returns "train" or "test".
func splitName(train bool) string {
	if train {
		return "train"
	}
	return "test"
}
