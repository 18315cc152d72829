// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package transforms implements the image transformations applied to dataset examples: augmentation
// (random flips and crops), resizing, conversion to tensor values and normalization.
//
// Image transformations operate on Example.Image and must come before ToTensor, which converts the image
// to channels-last float32 values. Random transformations only use the rng passed to Apply, so a loader
// can reproduce them given its seed.
package transforms

import (
	"math/rand"

	"github.com/gomlx/visiondata/pkg/vision/datasets"
	"github.com/pkg/errors"
)

// Compose applies its transforms in order.
type Compose []datasets.Transform

var _ datasets.Transform = Compose(nil)

// Apply implements datasets.Transform.
func (c Compose) Apply(example *datasets.Example, rng *rand.Rand) error {
	for _, t := range c {
		if err := t.Apply(example, rng); err != nil {
			return err
		}
	}
	return nil
}

// Then returns a new Compose with the transforms of c followed by ts. The receiver is not modified.
func (c Compose) Then(ts ...datasets.Transform) Compose {
	composed := make(Compose, 0, len(c)+len(ts))
	composed = append(composed, c...)
	return append(composed, ts...)
}

// Normalization returns the transforms that convert an image to a tensor with len(mean) channels and
// normalize it with the given per-channel mean and standard deviation.
func Normalization(mean, std []float64) Compose {
	return Compose{
		&ToTensor{Channels: len(mean)},
		&Normalize{Mean: mean, Std: std},
	}
}

// requireImage returns an error if the example has no image (e.g.: it was already converted to a tensor).
func requireImage(name string, example *datasets.Example) error {
	if example.Image == nil {
		return errors.Errorf("%s: example %d has no image, image transforms must come before ToTensor",
			name, example.Index)
	}
	return nil
}
