// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"math/rand"
	"testing"

	"github.com/gomlx/visiondata/pkg/vision/datasets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBuilder(t *testing.T) {
	for _, name := range []string{"mnist", "fmnist", "CIFAR10", "cifar100"} {
		b, err := newBuilder(name, "", 32)
		require.NoError(t, err, name)
		assert.NotNil(t, b, name)
	}

	b, err := newBuilder("imagenet", "/data/imagenet", 32)
	require.NoError(t, err)
	assert.NotNil(t, b)

	_, err = newBuilder("imagenet", "", 32)
	require.ErrorContains(t, err, "-data")

	_, err = newBuilder("svhn", "", 32)
	require.ErrorContains(t, err, "unknown dataset")
}

// constantDataset returns 2x2 single channel tensors whose values are all equal to the example index
// divided by 10.
type constantDataset struct{ n int }

func (d constantDataset) Name() string { return "constant" }
func (d constantDataset) Len() int     { return d.n }
func (d constantDataset) Get(index int, _ *rand.Rand) (*datasets.Example, error) {
	v := float32(index) / 10
	return &datasets.Example{Values: []float32{v, v, v, v}, Dims: []int{2, 2, 1}, Index: index}, nil
}

func TestStatsTable(t *testing.T) {
	// Values 0.0 to 0.4: mean 0.2, population std sqrt(0.02).
	table, err := statsTable(constantDataset{n: 5}, 0)
	require.NoError(t, err)
	rendered := table.Render()
	assert.Contains(t, rendered, "0.2000")
	assert.Contains(t, rendered, "0.1414")

	// Only the first 2 examples: mean 0.05.
	table, err = statsTable(constantDataset{n: 5}, 2)
	require.NoError(t, err)
	assert.Contains(t, table.Render(), "0.0500")

	_, err = statsTable(constantDataset{n: 0}, 0)
	require.Error(t, err)
}
