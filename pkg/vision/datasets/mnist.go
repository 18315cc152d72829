// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"compress/gzip"
	"encoding/binary"
	"image"
	"io"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"

	"github.com/gomlx/visiondata/pkg/downloader"
	"github.com/gomlx/visiondata/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// IDX file format constants, shared by MNIST and Fashion-MNIST.
const (
	MNISTURL        = "https://storage.googleapis.com/cvdf-datasets/mnist"
	FashionMNISTURL = "http://fashion-mnist.s3-website.eu-central-1.amazonaws.com"

	// maxIDXBytes bounds the decoded size of an IDX file. The MNIST train images take 47MB.
	maxIDXBytes = 1 << 31

	trainImagesFilename = "train-images-idx3-ubyte.gz"
	trainLabelsFilename = "train-labels-idx1-ubyte.gz"
	testImagesFilename  = "t10k-images-idx3-ubyte.gz"
	testLabelsFilename  = "t10k-labels-idx1-ubyte.gz"

	imageMagic = 0x00000803
	labelMagic = 0x00000801
)

var (
	// MNISTClasses are the digits "0" to "9".
	MNISTClasses = []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}

	// FashionMNISTClasses are the names of the Fashion-MNIST article classes.
	FashionMNISTClasses = []string{"T-shirt/top", "Trouser", "Pullover", "Dress", "Coat",
		"Sandal", "Shirt", "Sneaker", "Bag", "Ankle boot"}
)

// MNIST constructs the MNIST handwritten digits dataset: 60000 train and 10000 test 28x28 gray images.
var MNIST Constructor = &IDXConstructor{KindName: "MNIST", BaseURL: MNISTURL, ClassNames: MNISTClasses}

// FashionMNIST constructs the Fashion-MNIST dataset, a drop-in replacement for MNIST with images of clothing.
var FashionMNIST Constructor = &IDXConstructor{KindName: "FashionMNIST", BaseURL: FashionMNISTURL, ClassNames: FashionMNISTClasses}

// IDXConstructor builds datasets stored in gzip'ed IDX files, in the layout used by MNIST.
type IDXConstructor struct {
	KindName   string
	BaseURL    string
	ClassNames []string
}

var _ Constructor = (*IDXConstructor)(nil)

// Name implements Constructor.
func (c *IDXConstructor) Name() string { return c.KindName }

// files returns the images and labels file names for the split.
func (c *IDXConstructor) files(train bool) (imagesFile, labelsFile string) {
	if train {
		return trainImagesFilename, trainLabelsFilename
	}
	return testImagesFilename, testLabelsFilename
}

// New implements Constructor. It reads the whole split into memory.
func (c *IDXConstructor) New(config SourceConfig) (Dataset, error) {
	if config.NumSamples > 0 {
		return nil, errors.Errorf("%s doesn't support capping the number of samples", c.KindName)
	}
	root, err := fsutil.ReplaceTildeInDir(config.Root)
	if err != nil {
		return nil, err
	}
	imagesFile, labelsFile := c.files(config.Train)
	for _, file := range []string{imagesFile, labelsFile} {
		filePath := filepath.Join(root, file)
		if config.Download {
			fileURL, err := url.JoinPath(c.BaseURL, file)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid download url for %s", c.KindName)
			}
			if err = downloader.DownloadIfMissing(fileURL, filePath, ""); err != nil {
				return nil, errors.WithMessagef(err, "failed to download %s", c.KindName)
			}
		} else if exists, err := fsutil.FileExists(filePath); err != nil {
			return nil, err
		} else if !exists {
			return nil, errors.Errorf("%s file %q not found, enable download to fetch it", c.KindName, filePath)
		}
	}

	ds := &IDXDataset{
		name:    c.KindName + "-" + splitName(config.Train),
		classes: c.ClassNames,
	}
	ds.transform = config.Transform
	ds.pixels, ds.height, ds.width, err = loadIDXImages(filepath.Join(root, imagesFile))
	if err != nil {
		return nil, errors.WithMessagef(err, "loading %s", ds.name)
	}
	ds.labels, err = loadIDXLabels(filepath.Join(root, labelsFile))
	if err != nil {
		return nil, errors.WithMessagef(err, "loading %s", ds.name)
	}
	numImages := len(ds.pixels) / (ds.height * ds.width)
	if numImages != len(ds.labels) {
		return nil, errors.Errorf("%s has %d images but %d labels", ds.name, numImages, len(ds.labels))
	}
	klog.V(1).Infof("loaded %s: %d examples of %dx%d", ds.name, numImages, ds.height, ds.width)
	return ds, nil
}

// IDXDataset holds an in-memory split of an IDX dataset: gray images with one label each.
type IDXDataset struct {
	name          string
	pixels        []byte
	labels        []uint8
	height, width int
	classes       []string
	transform     Transform
}

var _ Transformable = (*IDXDataset)(nil)

// Name implements Dataset.
func (ds *IDXDataset) Name() string { return ds.name }

// Len implements Dataset.
func (ds *IDXDataset) Len() int { return len(ds.labels) }

// Classes returns the class names, indexed by label.
func (ds *IDXDataset) Classes() []string { return ds.classes }

// SetTransform implements Transformable.
func (ds *IDXDataset) SetTransform(t Transform) { ds.transform = t }

// Get implements Dataset. The returned image is a fresh *image.Gray.
func (ds *IDXDataset) Get(index int, rng *rand.Rand) (*Example, error) {
	if index < 0 || index >= ds.Len() {
		return nil, errors.Errorf("%s: index %d out of range [0, %d)", ds.name, index, ds.Len())
	}
	imageSize := ds.height * ds.width
	img := image.NewGray(image.Rect(0, 0, ds.width, ds.height))
	copy(img.Pix, ds.pixels[index*imageSize:(index+1)*imageSize])
	example := &Example{Image: img, Label: int(ds.labels[index]), Index: index}
	return applyTransform(ds.transform, example, rng)
}

type imageFileHeader struct {
	Magic     int32
	NumImages int32
	Height    int32
	Width     int32
}

type labelFileHeader struct {
	Magic     int32
	NumLabels int32
}

// openGzip opens filename and returns a gzip reader and a function that closes both.
func openGzip(filename string) (io.Reader, func(), error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open %q", filename)
	}
	reader, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, errors.Wrapf(err, "failed to read gzip file %q", filename)
	}
	return reader, func() {
		_ = reader.Close()
		_ = f.Close()
	}, nil
}

// loadIDXImages returns all the pixels of an IDX images file, and the images dimensions.
func loadIDXImages(filename string) (pixels []byte, height, width int, err error) {
	reader, closeFn, err := openGzip(filename)
	if err != nil {
		return
	}
	defer closeFn()

	var header imageFileHeader
	if err = binary.Read(reader, binary.BigEndian, &header); err != nil {
		err = errors.Wrapf(err, "failed to read header of %q", filename)
		return
	}
	if header.Magic != imageMagic || header.NumImages < 0 || header.Height <= 0 || header.Width <= 0 {
		err = errors.Errorf("invalid IDX images file %q: header %+v", filename, header)
		return
	}
	height, width = int(header.Height), int(header.Width)
	imageSize := int64(height) * int64(width)
	if imageSize > maxIDXBytes || int64(header.NumImages) > maxIDXBytes/imageSize {
		err = errors.Errorf("invalid IDX images file %q: %d images of %dx%d is too large", filename,
			header.NumImages, height, width)
		return
	}
	pixels, err = readExactly(reader, int64(header.NumImages)*imageSize)
	if err != nil {
		err = errors.Wrapf(err, "failed to read %d images from %q", header.NumImages, filename)
	}
	return
}

// readExactly reads n bytes from r. The buffer grows with the data actually read, so a corrupt header
// can't trigger a huge allocation.
func readExactly(r io.Reader, n int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, n))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != n {
		return nil, io.ErrUnexpectedEOF
	}
	return data, nil
}

// loadIDXLabels returns the labels of an IDX labels file.
func loadIDXLabels(filename string) ([]uint8, error) {
	reader, closeFn, err := openGzip(filename)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var header labelFileHeader
	if err = binary.Read(reader, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrapf(err, "failed to read header of %q", filename)
	}
	if header.Magic != labelMagic || header.NumLabels < 0 {
		return nil, errors.Errorf("invalid IDX labels file %q: header %+v", filename, header)
	}
	labels, err := readExactly(reader, int64(header.NumLabels))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %d labels from %q", header.NumLabels, filename)
	}
	return labels, nil
}
