// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package samplers defines the order in which a loader visits the examples of a dataset in each epoch:
// sequential, randomly shuffled, drawn with replacement, or sharded across distributed replicas.
package samplers

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
)

// Sampler yields the dataset indices to visit in one epoch.
//
// Indices must be deterministic for a given epoch, so that all replicas (and re-runs) agree.
type Sampler interface {
	// Len returns the number of indices per epoch.
	Len() int

	// Indices returns the indices to visit in the given epoch.
	Indices(epoch int) []int
}

// Sequential visits indices 0 to N-1 in order.
type Sequential struct {
	N int
}

var _ Sampler = (*Sequential)(nil)

// Len implements Sampler.
func (s *Sequential) Len() int { return s.N }

// Indices implements Sampler.
func (s *Sequential) Indices(int) []int {
	indices := make([]int, s.N)
	for i := range indices {
		indices[i] = i
	}
	return indices
}

// String implements fmt.Stringer.
func (s *Sequential) String() string { return fmt.Sprintf("Sequential(%d)", s.N) }

// Random visits the N indices in a random permutation per epoch or, with Replacement, draws NumSamples
// indices uniformly with replacement. The draws of an epoch are seeded with Seed+epoch.
//
// Use NewRandom to validate the configuration.
type Random struct {
	N           int
	Replacement bool
	NumSamples  int
	Seed        int64
}

var _ Sampler = (*Random)(nil)

// NewRandom returns a validated Random sampler. With replacement, numSamples must be positive, otherwise
// it is ignored.
func NewRandom(n int, replacement bool, numSamples int, seed int64) (*Random, error) {
	if n <= 0 {
		return nil, errors.Errorf("random sampler needs a non-empty dataset, got %d examples", n)
	}
	if replacement && numSamples <= 0 {
		return nil, errors.Errorf("random sampler with replacement needs a positive number of samples, got %d", numSamples)
	}
	if !replacement {
		numSamples = 0
	}
	return &Random{N: n, Replacement: replacement, NumSamples: numSamples, Seed: seed}, nil
}

// Len implements Sampler.
func (s *Random) Len() int {
	if s.Replacement {
		return s.NumSamples
	}
	return s.N
}

// Indices implements Sampler.
func (s *Random) Indices(epoch int) []int {
	rng := rand.New(rand.NewSource(s.Seed + int64(epoch)))
	if !s.Replacement {
		return rng.Perm(s.N)
	}
	indices := make([]int, s.NumSamples)
	for i := range indices {
		indices[i] = rng.Intn(s.N)
	}
	return indices
}

// String implements fmt.Stringer.
func (s *Random) String() string {
	if s.Replacement {
		return fmt.Sprintf("Random(%d, replacement, %d samples)", s.N, s.NumSamples)
	}
	return fmt.Sprintf("Random(%d)", s.N)
}
