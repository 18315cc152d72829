// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package samplers

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// Replica identifies one process of a distributed job.
type Replica struct {
	Rank, WorldSize int
}

// Validate returns an error if the replica is not a valid member of its world.
func (r Replica) Validate() error {
	if r.WorldSize <= 0 {
		return errors.Errorf("invalid world size %d", r.WorldSize)
	}
	if r.Rank < 0 || r.Rank >= r.WorldSize {
		return errors.Errorf("invalid rank %d for world size %d", r.Rank, r.WorldSize)
	}
	return nil
}

// Environment variables used by ReplicaFromEnv, the ones set by the usual distributed launchers.
const (
	RankEnv      = "RANK"
	WorldSizeEnv = "WORLD_SIZE"
)

// ReplicaFromEnv reads the replica from the RANK and WORLD_SIZE environment variables.
// Missing variables default to a single process world (rank 0, world size 1).
func ReplicaFromEnv() (Replica, error) {
	replica := Replica{Rank: 0, WorldSize: 1}
	for _, v := range []struct {
		name string
		ptr  *int
	}{{RankEnv, &replica.Rank}, {WorldSizeEnv, &replica.WorldSize}} {
		value, found := os.LookupEnv(v.name)
		if !found || value == "" {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return replica, errors.Wrapf(err, "failed to parse $%s=%q", v.name, value)
		}
		*v.ptr = parsed
	}
	if err := replica.Validate(); err != nil {
		return replica, errors.WithMessagef(err, "from $%s and $%s", RankEnv, WorldSizeEnv)
	}
	return replica, nil
}

// Distributed shards the N indices among the replicas of a distributed job: each replica sees a disjoint
// (up to padding) subset of equal size.
//
// Indices are optionally shuffled with Seed+epoch (the same permutation on every replica), then padded by
// repeating the first indices up to a multiple of the world size (or the tail is dropped with DropLast),
// and finally replica r takes every WorldSize-th index starting at r.
type Distributed struct {
	N        int
	Replica  Replica
	Shuffle  bool
	Seed     int64
	DropLast bool
}

var _ Sampler = (*Distributed)(nil)

// NewDistributed returns a validated Distributed sampler.
func NewDistributed(n int, replica Replica, shuffle bool, seed int64, dropLast bool) (*Distributed, error) {
	if err := replica.Validate(); err != nil {
		return nil, errors.WithMessage(err, "distributed sampler")
	}
	if n < 0 {
		return nil, errors.Errorf("distributed sampler: invalid number of examples %d", n)
	}
	return &Distributed{N: n, Replica: replica, Shuffle: shuffle, Seed: seed, DropLast: dropLast}, nil
}

// Len implements Sampler: the number of indices of this replica.
func (s *Distributed) Len() int {
	world := s.Replica.WorldSize
	if s.DropLast && s.N%world != 0 {
		return s.N / world
	}
	return (s.N + world - 1) / world
}

// Indices implements Sampler.
func (s *Distributed) Indices(epoch int) []int {
	var indices []int
	if s.Shuffle {
		indices = rand.New(rand.NewSource(s.Seed + int64(epoch))).Perm(s.N)
	} else {
		indices = (&Sequential{N: s.N}).Indices(epoch)
	}
	numSamples := s.Len()
	totalSize := numSamples * s.Replica.WorldSize
	if totalSize > len(indices) && len(indices) > 0 {
		// Pad by wrapping around, possibly more than once for tiny datasets.
		for padding := totalSize - len(indices); padding > 0; {
			n := min(padding, len(indices))
			indices = append(indices, indices[:n]...)
			padding -= n
		}
	}
	indices = indices[:totalSize]
	shard := make([]int, 0, numSamples)
	for i := s.Replica.Rank; i < totalSize; i += s.Replica.WorldSize {
		shard = append(shard, indices[i])
	}
	return shard
}

// String implements fmt.Stringer.
func (s *Distributed) String() string {
	return fmt.Sprintf("Distributed(%d, rank %d of %d, shuffle=%v)", s.N, s.Replica.Rank, s.Replica.WorldSize, s.Shuffle)
}
