// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// visiondata builds the loaders of one of the standard vision datasets, iterates over them and prints
// a summary. It is mostly used to download the datasets ahead of time and to measure loading throughput.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gomlx/visiondata/pkg/support/vcs"
	"github.com/gomlx/visiondata/pkg/vision/dataloader"
	"github.com/gomlx/visiondata/pkg/vision/loaders"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagDataset = flag.String("dataset", "mnist",
		"Dataset to load, one of: "+strings.Join(datasetNames, ", ")+".")
	flagDataDir = flag.String("data", "",
		"Root directory of the dataset. Defaults to ~/.torch/data/<dataset>; required for imagenet.")
	flagBatchSize   = flag.Int("batch", 128, "Training batch size. Evaluation loaders use twice this.")
	flagNumWorkers  = flag.Int("workers", -1, "Number of loading workers. If < 0, use the dataset's default.")
	flagValSize     = flag.Int("val", 0, "Number of training examples split off as a validation set.")
	flagReplacement = flag.Bool("replacement", false, "Sample the training set with replacement.")
	flagDownload    = flag.Bool("download", false, "Download the dataset even if its root directory already exists.")
	flagDistributed = flag.Bool("distributed", false,
		"Shard the datasets across replicas, configured by the RANK and WORLD_SIZE environment variables.")
	flagNumEpochs  = flag.Int("epochs", 1, "Number of epochs to iterate over the training loader.")
	flagMaxBatches = flag.Int("max_batches", 0, "If > 0, stop each epoch after this many batches.")
	flagStats      = flag.Int("stats", 0,
		"If > 0, compute the per-channel mean and standard deviation of the first -stats test examples.")
	flagSeed = flag.Int64("seed", 0, "Seed for shuffling, splits and augmentation.")
)

var datasetNames = []string{"mnist", "fmnist", "cifar10", "cifar100", "imagenet"}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	b, err := newBuilder(*flagDataset, *flagDataDir, *flagBatchSize)
	if err != nil {
		klog.Errorf("%v. See 'visiondata -help'.", err)
		os.Exit(1)
	}
	if *flagNumWorkers >= 0 {
		b.NumWorkers(*flagNumWorkers)
	}
	if *flagValSize > 0 {
		b.ValSize(*flagValSize)
	}
	if *flagReplacement {
		b.Replacement(true)
	}
	if *flagDownload {
		b.ForceDownload(true)
	}
	b.Seed(*flagSeed).Distributed(*flagDistributed)

	ls := must.M1(b.Done())
	defer ls.Close()

	fmt.Println(titleStyle.Render(fmt.Sprintf("Dataset %s", *flagDataset)))
	fmt.Println(summaryTable(ls, vcs.ShortHash(context.Background())).Render())

	for epoch := range *flagNumEpochs {
		count, elapsed := must.M2(iterateEpoch(ls.Train, epoch, *flagMaxBatches))
		klog.Infof("Epoch %d: %d examples in %s (%.1f examples/s)",
			epoch, count, elapsed, float64(count)/elapsed.Seconds())
	}

	if *flagStats > 0 {
		// Statistics of the unnormalized test images, as used to configure normalization.
		raw := must.M1(b.RawTestSet())
		fmt.Println(titleStyle.Render("Channel statistics"))
		fmt.Println(must.M1(statsTable(raw, *flagStats)).Render())
	}
}

// newBuilder returns the loaders.Builder for the named dataset. An empty root keeps the dataset's
// default root.
func newBuilder(dataset, root string, batchSize int) (*loaders.Builder, error) {
	var b *loaders.Builder
	switch strings.ToLower(dataset) {
	case "mnist":
		b = loaders.MNIST(batchSize)
	case "fmnist", "fashion_mnist", "fashionmnist":
		b = loaders.FashionMNIST(batchSize)
	case "cifar10":
		b = loaders.CIFAR10(batchSize)
	case "cifar100":
		b = loaders.CIFAR100(batchSize)
	case "imagenet":
		if root == "" {
			return nil, errors.New("imagenet requires -data pointing to its root directory")
		}
		return loaders.ImageNet(root, batchSize), nil
	default:
		return nil, errors.Errorf("unknown dataset %q, valid values are %q", dataset, datasetNames)
	}
	if root != "" {
		b.Root(root)
	}
	return b, nil
}

// iterateEpoch reads maxBatches batches (all if <= 0) of the epoch and returns the number of examples read.
func iterateEpoch(l *dataloader.Loader, epoch, maxBatches int) (count int, elapsed time.Duration, err error) {
	numBatches := l.Len()
	if maxBatches > 0 && maxBatches < numBatches {
		numBatches = maxBatches
	}
	bar := progressbar.NewOptions(numBatches,
		progressbar.OptionSetDescription(fmt.Sprintf("%s epoch %d", l.Name(), epoch)),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
	defer func() {
		_ = bar.Close()
		fmt.Println()
	}()

	start := time.Now()
	numRead := 0
	for batch, err := range l.Batches() {
		if err != nil {
			return count, time.Since(start), err
		}
		count += batch.Size()
		numRead++
		_ = bar.Add(1)
		if numRead >= numBatches {
			break
		}
	}
	return count, time.Since(start), nil
}
