// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
)

// Subset is a view of a base Dataset restricted to the given indices, with its own transform.
//
// The base dataset's transform (if any) is applied first, then the Subset's one.
type Subset struct {
	name      string
	base      Dataset
	indices   []int
	transform Transform
}

var _ Transformable = (*Subset)(nil)

// NewSubset creates a view of base with the given indices. Indices are validated against base.Len().
func NewSubset(name string, base Dataset, indices []int) (*Subset, error) {
	n := base.Len()
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			return nil, errors.Errorf("subset %q: index %d out of range for %s with %d examples",
				name, idx, base.Name(), n)
		}
	}
	return &Subset{name: name, base: base, indices: indices}, nil
}

// Name implements Dataset.
func (s *Subset) Name() string { return s.name }

// Len implements Dataset.
func (s *Subset) Len() int { return len(s.indices) }

// Base returns the dataset the Subset is a view of.
func (s *Subset) Base() Dataset { return s.base }

// Indices in the base dataset. It must not be modified.
func (s *Subset) Indices() []int { return s.indices }

// SetTransform implements Transformable.
// It is not synchronized with Get and must be called before the Subset is used by loaders.
func (s *Subset) SetTransform(t Transform) { s.transform = t }

// Get implements Dataset. The returned Example.Index is the index in the Subset.
func (s *Subset) Get(index int, rng *rand.Rand) (*Example, error) {
	if index < 0 || index >= len(s.indices) {
		return nil, errors.Errorf("%s: index %d out of range [0, %d)", s.name, index, len(s.indices))
	}
	example, err := s.base.Get(s.indices[index], rng)
	if err != nil {
		return nil, err
	}
	example.Index = index
	return applyTransform(s.transform, example, rng)
}

// RandomSplit randomly partitions ds into disjoint subsets with the given lengths, which must add up
// to ds.Len(). The split is a random permutation drawn from rng, so it is reproducible for a given seed.
func RandomSplit(ds Dataset, lengths []int, rng *rand.Rand) ([]*Subset, error) {
	total := 0
	for _, length := range lengths {
		if length < 0 {
			return nil, errors.Errorf("RandomSplit(%s): negative length in %v", ds.Name(), lengths)
		}
		total += length
	}
	if total != ds.Len() {
		return nil, errors.Errorf("RandomSplit(%s): sum of lengths %v is %d, but dataset has %d examples",
			ds.Name(), lengths, total, ds.Len())
	}
	perm := rng.Perm(total)
	subsets := make([]*Subset, len(lengths))
	offset := 0
	for i, length := range lengths {
		subsets[i] = &Subset{
			name:    fmt.Sprintf("%s-split%d", ds.Name(), i),
			base:    ds,
			indices: perm[offset : offset+length : offset+length],
		}
		offset += length
	}
	return subsets, nil
}
