// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataloader

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Batch of examples assembled by a Loader.
type Batch struct {
	// Images holds the flat tensor values of the examples, shaped Dims = `[batch_size, height, width, channels]`.
	Images []float32
	Dims   []int

	// Labels of the examples, one per example.
	Labels []int32

	// Indices in the dataset of the examples, in batch order.
	Indices []int

	// Epoch and Number of the batch within its epoch.
	Epoch, Number int

	images, labels *tensors.Tensor
}

// Size returns the number of examples in the batch.
func (b *Batch) Size() int { return len(b.Labels) }

// Tensors returns the batch as GoMLX tensors: the images shaped `float32[batch_size, height, width, channels]`
// and the labels shaped `int32[batch_size]`.
//
// The tensors are created on first use, unless the Loader pins memory, in which case they are already
// created by the worker that loaded the batch. Tensors are cached: the same ones are returned in later calls.
func (b *Batch) Tensors() (images, labels *tensors.Tensor) {
	b.materialize()
	return b.images, b.labels
}

// Pinned returns whether the tensors of the batch were already created.
func (b *Batch) Pinned() bool { return b.images != nil }

func (b *Batch) materialize() {
	if b.images != nil {
		return
	}
	b.images = tensors.FromFlatDataAndDimensions(b.Images, b.Dims...)
	b.labels = tensors.FromFlatDataAndDimensions(b.Labels, len(b.Labels))
}
