// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	// Extra decoders, on top of the ones registered by imaging.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ImageExtensions recognized by ImageFolder, lower-cased.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp", ".gif"}

// ImageFolder constructs datasets from a directory with one subdirectory per class, as used by ImageNet.
// Class labels are assigned by sorted subdirectory name.
//
// SourceConfig.Root points directly to the split directory, and SourceConfig.Train is ignored.
var ImageFolder Constructor = imageFolderConstructor{}

type imageFolderConstructor struct{}

// Name implements Constructor.
func (imageFolderConstructor) Name() string { return "ImageFolder" }

// New implements Constructor.
func (imageFolderConstructor) New(config SourceConfig) (Dataset, error) {
	return NewFolderDataset(config)
}

// FolderDataset lists image files organized by class subdirectories. Images are decoded lazily in Get.
type FolderDataset struct {
	name      string
	paths     []string
	labels    []int
	classes   []string
	transform Transform
}

var _ Transformable = (*FolderDataset)(nil)

// NewFolderDataset scans config.Root for class subdirectories and their images.
//
// If config.NumSamples > 0 and smaller than the number of images found, a random subset of that size
// (drawn with config.Seed) is kept, preserving the folder order.
func NewFolderDataset(config SourceConfig) (*FolderDataset, error) {
	root := config.Root
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list classes in %q", root)
	}
	ds := &FolderDataset{
		name:      filepath.Base(root),
		transform: config.Transform,
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ds.classes = append(ds.classes, entry.Name())
	}
	slices.Sort(ds.classes)
	for label, class := range ds.classes {
		classDir := filepath.Join(root, class)
		files, err := os.ReadDir(classDir)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list images in %q", classDir)
		}
		for _, file := range files {
			if file.IsDir() || !slices.Contains(ImageExtensions, strings.ToLower(filepath.Ext(file.Name()))) {
				continue
			}
			ds.paths = append(ds.paths, filepath.Join(classDir, file.Name()))
			ds.labels = append(ds.labels, label)
		}
	}
	if len(ds.paths) == 0 {
		return nil, errors.Errorf("no images found in %q", root)
	}
	if config.NumSamples > 0 && config.NumSamples < len(ds.paths) {
		ds.keepRandomSubset(config.NumSamples, rand.New(rand.NewSource(config.Seed)))
	}
	klog.V(1).Infof("scanned %s: %d images in %d classes", root, len(ds.paths), len(ds.classes))
	return ds, nil
}

// keepRandomSubset keeps n randomly chosen images, in their original order.
func (ds *FolderDataset) keepRandomSubset(n int, rng *rand.Rand) {
	keep := rng.Perm(len(ds.paths))[:n]
	slices.Sort(keep)
	paths := make([]string, n)
	labels := make([]int, n)
	for i, idx := range keep {
		paths[i] = ds.paths[idx]
		labels[i] = ds.labels[idx]
	}
	ds.paths, ds.labels = paths, labels
}

// Name implements Dataset.
func (ds *FolderDataset) Name() string { return ds.name }

// Len implements Dataset.
func (ds *FolderDataset) Len() int { return len(ds.paths) }

// Classes returns the class (subdirectory) names, indexed by label.
func (ds *FolderDataset) Classes() []string { return ds.classes }

// Path returns the file path of the image at index.
func (ds *FolderDataset) Path(index int) string { return ds.paths[index] }

// ClassDistribution returns the number of images per class name.
func (ds *FolderDataset) ClassDistribution() map[string]int {
	dist := make(map[string]int, len(ds.classes))
	for _, label := range ds.labels {
		dist[ds.classes[label]]++
	}
	return dist
}

// SetTransform implements Transformable.
func (ds *FolderDataset) SetTransform(t Transform) { ds.transform = t }

// Get implements Dataset. It decodes the image file, applying its EXIF orientation.
func (ds *FolderDataset) Get(index int, rng *rand.Rand) (*Example, error) {
	if index < 0 || index >= ds.Len() {
		return nil, errors.Errorf("%s: index %d out of range [0, %d)", ds.name, index, ds.Len())
	}
	img, err := imaging.Open(ds.paths[index], imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %q", ds.paths[index])
	}
	example := &Example{Image: img, Label: ds.labels[index], Index: index}
	return applyTransform(ds.transform, example, rng)
}
