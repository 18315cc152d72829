// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"fmt"
	"image"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/gomlx/visiondata/pkg/downloader"
	"github.com/gomlx/visiondata/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CIFAR archives, information in https://www.cs.toronto.edu/~kriz/cifar.html
const (
	C10URL      = "https://www.cs.toronto.edu/~kriz/cifar-10-binary.tar.gz"
	C10TarName  = "cifar-10-binary.tar.gz"
	C10SubDir   = "cifar-10-batches-bin"
	C10Checksum = "c4a38c50a1bc5f3a1c5537f2155ab9d68f9f25eb1ed8d9ddda3db29a59bca1dd"

	C100URL      = "https://www.cs.toronto.edu/~kriz/cifar-100-binary.tar.gz"
	C100TarName  = "cifar-100-binary.tar.gz"
	C100SubDir   = "cifar-100-binary"
	C100Checksum = "58a81ae192c23a4be8b1804d68e518ed807d710a4eb253b1f2a199162a40d8ec"
)

// Width, Height and Depth are the dimensions of the images, the same
// for CIFAR-10 and CIFAR-100.
const (
	CIFARWidth  = 32
	CIFARHeight = 32
	CIFARDepth  = 3

	cifarImageSize = CIFARHeight * CIFARWidth * CIFARDepth
)

var (
	C10Labels = []string{"airplane", "automobile", "bird", "cat", "deer", "dog", "frog", "horse", "ship", "truck"}

	C100CoarseLabels = []string{"aquatic_mammals", "fish", "flowers", "food_containers", "fruit_and_vegetables",
		"household_electrical_devices", "household_furniture", "insects", "large_carnivores",
		"large_man-made_outdoor_things", "large_natural_outdoor_scenes", "large_omnivores_and_herbivores",
		"medium_mammals", "non-insect_invertebrates", "people", "reptiles", "small_mammals", "trees", "vehicles_1",
		"vehicles_2"}
	C100FineLabels = []string{"apple", "aquarium_fish", "baby", "bear", "beaver", "bed", "bee", "beetle", "bicycle",
		"bottle", "bowl", "boy", "bridge", "bus", "butterfly", "camel", "can", "castle", "caterpillar", "cattle",
		"chair", "chimpanzee", "clock", "cloud", "cockroach", "couch", "crab", "crocodile", "cup", "dinosaur",
		"dolphin", "elephant", "flatfish", "forest", "fox", "girl", "hamster", "house", "kangaroo", "keyboard", "lamp",
		"lawn_mower", "leopard", "lion", "lizard", "lobster", "man", "maple_tree", "motorcycle", "mountain", "mouse",
		"mushroom", "oak_tree", "orange", "orchid", "otter", "palm_tree", "pear", "pickup_truck", "pine_tree", "plain",
		"plate", "poppy", "porcupine", "possum", "rabbit", "raccoon", "ray", "road", "rocket", "rose", "sea", "seal",
		"shark", "shrew", "skunk", "skyscraper", "snail", "snake", "spider", "squirrel", "streetcar", "sunflower",
		"sweet_pepper", "table", "tank", "telephone", "television", "tiger", "tractor", "train", "trout", "tulip",
		"turtle", "wardrobe", "whale", "willow_tree", "wolf", "woman", "worm"}
)

// CIFAR10 constructs the CIFAR-10 dataset: 50000 train and 10000 test 32x32 RGB images in 10 classes.
var CIFAR10 Constructor = &CIFARConstructor{
	KindName:   "CIFAR10",
	URL:        C10URL,
	TarName:    C10TarName,
	SubDir:     C10SubDir,
	Checksum:   C10Checksum,
	TrainFiles: []string{"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin", "data_batch_4.bin", "data_batch_5.bin"},
	TestFiles:  []string{"test_batch.bin"},
	ClassNames: C10Labels,
}

// CIFAR100 constructs the CIFAR-100 dataset, using the fine labels (100 classes).
var CIFAR100 Constructor = &CIFARConstructor{
	KindName:    "CIFAR100",
	URL:         C100URL,
	TarName:     C100TarName,
	SubDir:      C100SubDir,
	Checksum:    C100Checksum,
	TrainFiles:  []string{"train.bin"},
	TestFiles:   []string{"test.bin"},
	ClassNames:  C100FineLabels,
	LabelBytes:  2,
	LabelOffset: 1,
}

// CIFARConstructor builds datasets stored in the CIFAR binary format: each record is one (or more) label
// bytes followed by the image stored plane-wise (all red, then all green, then all blue values).
type CIFARConstructor struct {
	KindName              string
	URL, TarName, SubDir  string
	Checksum              string
	TrainFiles, TestFiles []string
	ClassNames            []string

	// LabelBytes per record (defaults to 1) and LabelOffset of the label used among them.
	LabelBytes, LabelOffset int
}

var _ Constructor = (*CIFARConstructor)(nil)

// Name implements Constructor.
func (c *CIFARConstructor) Name() string { return c.KindName }

// New implements Constructor. It reads the whole split into memory.
func (c *CIFARConstructor) New(config SourceConfig) (Dataset, error) {
	if config.NumSamples > 0 {
		return nil, errors.Errorf("%s doesn't support capping the number of samples", c.KindName)
	}
	root, err := fsutil.ReplaceTildeInDir(config.Root)
	if err != nil {
		return nil, err
	}
	files := c.TestFiles
	if config.Train {
		files = c.TrainFiles
	}
	present, err := c.allPresent(root)
	if err != nil {
		return nil, err
	}
	if config.Download && !present {
		if err = downloader.DownloadAndUntarIfMissing(c.URL, root, c.TarName, c.SubDir, c.Checksum); err != nil {
			return nil, errors.WithMessagef(err, "failed to download %s", c.KindName)
		}
	}

	labelBytes := max(c.LabelBytes, 1)
	recordSize := labelBytes + cifarImageSize
	ds := &CIFARDataset{
		name:      c.KindName + "-" + splitName(config.Train),
		classes:   c.ClassNames,
		transform: config.Transform,
	}
	for _, file := range files {
		filePath := filepath.Join(root, c.SubDir, file)
		contents, err := os.ReadFile(filePath)
		if err != nil {
			if os.IsNotExist(err) && !config.Download {
				return nil, errors.Errorf("%s file %q not found, enable download to fetch it", c.KindName, filePath)
			}
			return nil, errors.Wrapf(err, "failed to read %s file %q", c.KindName, filePath)
		}
		if len(contents)%recordSize != 0 {
			return nil, errors.Errorf("%s file %q has %d bytes, not a multiple of the record size %d",
				c.KindName, filePath, len(contents), recordSize)
		}
		for pos := 0; pos < len(contents); pos += recordSize {
			ds.labels = append(ds.labels, contents[pos+c.LabelOffset])
			ds.planes = append(ds.planes, contents[pos+labelBytes:pos+recordSize]...)
		}
	}
	klog.V(1).Infof("loaded %s: %d examples", ds.name, ds.Len())
	return ds, nil
}

// allPresent returns whether the files of both splits are already in place.
func (c *CIFARConstructor) allPresent(root string) (bool, error) {
	for _, file := range append(append([]string{}, c.TrainFiles...), c.TestFiles...) {
		exists, err := fsutil.FileExists(filepath.Join(root, c.SubDir, file))
		if err != nil || !exists {
			return false, err
		}
	}
	return true, nil
}

// CIFARDataset holds an in-memory split of CIFAR-10 or CIFAR-100.
type CIFARDataset struct {
	name      string
	planes    []byte
	labels    []uint8
	classes   []string
	transform Transform
}

var _ Transformable = (*CIFARDataset)(nil)

// Name implements Dataset.
func (ds *CIFARDataset) Name() string { return ds.name }

// Len implements Dataset.
func (ds *CIFARDataset) Len() int { return len(ds.labels) }

// Classes returns the class names, indexed by label.
func (ds *CIFARDataset) Classes() []string { return ds.classes }

// SetTransform implements Transformable.
func (ds *CIFARDataset) SetTransform(t Transform) { ds.transform = t }

// String returns a short description, for debugging.
func (ds *CIFARDataset) String() string {
	return fmt.Sprintf("%s(%d examples, %d classes)", ds.name, ds.Len(), len(ds.classes))
}

// Get implements Dataset. The returned image is a fresh opaque *image.NRGBA.
func (ds *CIFARDataset) Get(index int, rng *rand.Rand) (*Example, error) {
	if index < 0 || index >= ds.Len() {
		return nil, errors.Errorf("%s: index %d out of range [0, %d)", ds.name, index, ds.Len())
	}
	record := ds.planes[index*cifarImageSize : (index+1)*cifarImageSize]
	const planeSize = CIFARHeight * CIFARWidth
	img := image.NewNRGBA(image.Rect(0, 0, CIFARWidth, CIFARHeight))
	for h := 0; h < CIFARHeight; h++ {
		for w := 0; w < CIFARWidth; w++ {
			pixelPos := h*img.Stride + w*4
			for d := 0; d < CIFARDepth; d++ {
				img.Pix[pixelPos+d] = record[d*planeSize+h*CIFARWidth+w]
			}
			img.Pix[pixelPos+3] = 255 // Alpha channel.
		}
	}
	example := &Example{Image: img, Label: int(ds.labels[index]), Index: index}
	return applyTransform(ds.transform, example, rng)
}
