// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// ChannelStats computes the per-channel mean and (population) standard deviation of the tensor values
// of the first maxExamples examples of ds (all of them if maxExamples <= 0).
//
// The dataset's transform must produce tensor values (e.g.: end with a ToTensor), and all examples must have
// the same number of channels. These are the statistics used to configure a Normalize transform.
func ChannelStats(ds Dataset, maxExamples int) (mean, std []float64, err error) {
	n := ds.Len()
	if maxExamples > 0 && maxExamples < n {
		n = maxExamples
	}
	if n == 0 {
		return nil, nil, errors.Errorf("ChannelStats(%s): no examples", ds.Name())
	}
	rng := rand.New(rand.NewSource(0))
	var values [][]float64
	for idx := range n {
		example, err := ds.Get(idx, rng)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "ChannelStats(%s)", ds.Name())
		}
		channels := example.Channels()
		if channels == 0 {
			return nil, nil, errors.Errorf("ChannelStats(%s): example %d was not converted to a tensor", ds.Name(), idx)
		}
		if values == nil {
			values = make([][]float64, channels)
		} else if len(values) != channels {
			return nil, nil, errors.Errorf("ChannelStats(%s): example %d has %d channels, previous ones had %d",
				ds.Name(), idx, channels, len(values))
		}
		for i, v := range example.Values {
			values[i%channels] = append(values[i%channels], float64(v))
		}
	}
	mean = make([]float64, len(values))
	std = make([]float64, len(values))
	for ch, chValues := range values {
		mean[ch], std[ch] = stat.PopMeanStdDev(chValues, nil)
	}
	return mean, std, nil
}
