// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/gomlx/visiondata/pkg/downloader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	downloader.ShowProgressBar = false
}

// idxFiles returns the gzip'ed IDX images and labels files with n examples of size x size,
// where every pixel of example i has value i and its label is i%10.
func idxFiles(t *testing.T, n, size int) (images, labels []byte) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	require.NoError(t, binary.Write(zw, binary.BigEndian, imageFileHeader{imageMagic, int32(n), int32(size), int32(size)}))
	for i := range n {
		_, err := zw.Write(bytes.Repeat([]byte{byte(i)}, size*size))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	images = bytes.Clone(buf.Bytes())

	buf.Reset()
	zw = gzip.NewWriter(&buf)
	require.NoError(t, binary.Write(zw, binary.BigEndian, labelFileHeader{labelMagic, int32(n)}))
	for i := range n {
		_, err := zw.Write([]byte{byte(i % 10)})
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	labels = bytes.Clone(buf.Bytes())
	return
}

func writeIDX(t *testing.T, dir string, train bool, n int) {
	images, labels := idxFiles(t, n, 28)
	imagesFile, labelsFile := (&IDXConstructor{}).files(train)
	require.NoError(t, os.WriteFile(filepath.Join(dir, imagesFile), images, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, labelsFile), labels, 0644))
}

func TestIDXDataset(t *testing.T) {
	dir := t.TempDir()
	writeIDX(t, dir, true, 12)
	writeIDX(t, dir, false, 5)

	ds, err := MNIST.New(SourceConfig{Root: dir, Train: true})
	require.NoError(t, err)
	assert.Equal(t, "MNIST-train", ds.Name())
	assert.Equal(t, 12, ds.Len())
	assert.Equal(t, MNISTClasses, ds.(*IDXDataset).Classes())

	example, err := ds.Get(7, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, example.Label)
	assert.Equal(t, 7, example.Index)
	gray, ok := example.Image.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 28, 28), gray.Bounds())
	assert.Equal(t, uint8(7), gray.GrayAt(3, 5).Y)

	// Modifying the returned image doesn't affect the dataset.
	gray.SetGray(3, 5, color.Gray{Y: 200})
	example, err = ds.Get(7, nil)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), example.Image.(*image.Gray).GrayAt(3, 5).Y)

	_, err = ds.Get(12, nil)
	require.Error(t, err)

	test, err := FashionMNIST.New(SourceConfig{Root: dir, Train: false})
	require.NoError(t, err)
	assert.Equal(t, "FashionMNIST-test", test.Name())
	assert.Equal(t, 5, test.Len())
}

func TestIDXMissingFiles(t *testing.T) {
	_, err := MNIST.New(SourceConfig{Root: t.TempDir(), Train: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enable download")
}

func TestIDXBadHeader(t *testing.T) {
	dir := t.TempDir()
	writeIDX(t, dir, true, 3)
	// Swap images and labels: magic numbers won't match.
	imagesFile, labelsFile := (&IDXConstructor{}).files(true)
	imagesPath, labelsPath := filepath.Join(dir, imagesFile), filepath.Join(dir, labelsFile)
	tmp := filepath.Join(dir, "tmp")
	require.NoError(t, os.Rename(imagesPath, tmp))
	require.NoError(t, os.Rename(labelsPath, imagesPath))
	require.NoError(t, os.Rename(tmp, labelsPath))
	_, err := MNIST.New(SourceConfig{Root: dir, Train: true})
	require.Error(t, err)
}

func TestIDXCorruptHeader(t *testing.T) {
	dir := t.TempDir()
	writeHeader := func(header imageFileHeader, numPixels int) string {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		require.NoError(t, binary.Write(zw, binary.BigEndian, header))
		_, err := zw.Write(make([]byte, numPixels))
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		filePath := filepath.Join(dir, fmt.Sprintf("images-%d.gz", header.NumImages))
		require.NoError(t, os.WriteFile(filePath, buf.Bytes(), 0644))
		return filePath
	}

	// Dimensions whose product doesn't fit in memory must be rejected before allocating.
	huge := writeHeader(imageFileHeader{imageMagic, 0x7fffffff, 0x7fffffff, 0x7fffffff}, 16)
	_, _, _, err := loadIDXImages(huge)
	require.ErrorContains(t, err, "too large")

	// Header promises more images than the file has.
	truncated := writeHeader(imageFileHeader{imageMagic, 5, 28, 28}, 3*28*28)
	_, _, _, err = loadIDXImages(truncated)
	require.ErrorContains(t, err, "failed to read 5 images")

	complete := writeHeader(imageFileHeader{imageMagic, 3, 28, 28}, 3*28*28)
	pixels, height, width, err := loadIDXImages(complete)
	require.NoError(t, err)
	assert.Len(t, pixels, 3*28*28)
	assert.Equal(t, 28, height)
	assert.Equal(t, 28, width)

	// The same goes through the constructor.
	imagesFile, _ := (&IDXConstructor{}).files(true)
	writeIDX(t, dir, true, 3)
	require.NoError(t, os.Rename(huge, filepath.Join(dir, imagesFile)))
	_, err = MNIST.New(SourceConfig{Root: dir, Train: true})
	require.ErrorContains(t, err, "too large")
}

func TestConstructorsRootIsAFile(t *testing.T) {
	// Stat'ing paths under a regular file fails with an error other than "not found".
	root := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0644))
	for _, c := range []Constructor{MNIST, CIFAR10} {
		_, err := c.New(SourceConfig{Root: root, Train: true})
		require.Error(t, err, c.Name())
		assert.NotContains(t, err.Error(), "enable download", c.Name())
	}
}

func TestIDXDownload(t *testing.T) {
	images, labels := idxFiles(t, 4, 28)
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch filepath.Base(r.URL.Path) {
		case testImagesFilename:
			_, _ = w.Write(images)
		case testLabelsFilename:
			_, _ = w.Write(labels)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := &IDXConstructor{KindName: "Test", BaseURL: server.URL, ClassNames: MNISTClasses}
	dir := filepath.Join(t.TempDir(), "mnist")
	ds, err := c.New(SourceConfig{Root: dir, Train: false, Download: true})
	require.NoError(t, err)
	assert.Equal(t, 4, ds.Len())
	assert.Equal(t, int32(2), hits.Load())

	// Files are present now: no new requests.
	_, err = c.New(SourceConfig{Root: dir, Train: false, Download: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())

	// Train files are not served.
	_, err = c.New(SourceConfig{Root: dir, Train: true, Download: true})
	require.Error(t, err)
}

// cifarRecords returns n CIFAR records with labelBytes label bytes each. Record i has label bytes
// (i%10, i%10+1, ...) and its red, green and blue planes filled with i, i+1 and i+2 respectively.
func cifarRecords(n, labelBytes int) []byte {
	var buf bytes.Buffer
	for i := range n {
		for j := range labelBytes {
			buf.WriteByte(byte(i%10 + j))
		}
		for d := range CIFARDepth {
			buf.Write(bytes.Repeat([]byte{byte(i + d)}, CIFARHeight*CIFARWidth))
		}
	}
	return buf.Bytes()
}

func TestCIFAR10(t *testing.T) {
	dir := t.TempDir()
	c := *CIFAR10.(*CIFARConstructor)
	c.TrainFiles = []string{"data_batch_1.bin", "data_batch_2.bin"}
	subDir := filepath.Join(dir, c.SubDir)
	require.NoError(t, os.MkdirAll(subDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "data_batch_1.bin"), cifarRecords(3, 1), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "data_batch_2.bin"), cifarRecords(2, 1), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "test_batch.bin"), cifarRecords(4, 1), 0644))

	ds, err := c.New(SourceConfig{Root: dir, Train: true})
	require.NoError(t, err)
	assert.Equal(t, "CIFAR10-train", ds.Name())
	require.Equal(t, 5, ds.Len())
	assert.Equal(t, C10Labels, ds.(*CIFARDataset).Classes())

	// Example 3 is the first record of the second file.
	example, err := ds.Get(3, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, example.Label)
	img := example.Image.(*image.NRGBA)
	assert.Equal(t, color.NRGBA{R: 0, G: 1, B: 2, A: 255}, img.NRGBAAt(31, 0))

	example, err = ds.Get(2, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, example.Label)
	assert.Equal(t, color.NRGBA{R: 2, G: 3, B: 4, A: 255}, example.Image.(*image.NRGBA).NRGBAAt(10, 20))

	test, err := c.New(SourceConfig{Root: dir, Train: false})
	require.NoError(t, err)
	assert.Equal(t, 4, test.Len())
}

func TestCIFAR100FineLabels(t *testing.T) {
	dir := t.TempDir()
	c := CIFAR100.(*CIFARConstructor)
	subDir := filepath.Join(dir, c.SubDir)
	require.NoError(t, os.MkdirAll(subDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "train.bin"), cifarRecords(3, 2), 0644))

	ds, err := c.New(SourceConfig{Root: dir, Train: true})
	require.NoError(t, err)
	require.Equal(t, 3, ds.Len())
	example, err := ds.Get(2, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, example.Label, "fine label is the second byte")
	assert.Len(t, ds.(*CIFARDataset).Classes(), 100)

	// Test file missing.
	_, err = c.New(SourceConfig{Root: dir, Train: false})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enable download")
}

func TestCIFARTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	c := CIFAR100.(*CIFARConstructor)
	subDir := filepath.Join(dir, c.SubDir)
	require.NoError(t, os.MkdirAll(subDir, 0755))
	records := cifarRecords(2, 2)
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "test.bin"), records[:len(records)-1], 0644))
	_, err := c.New(SourceConfig{Root: dir, Train: false})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record size")
}

// writeImageFolder creates root/<class>/<i>.png images of 4x3 pixels filled with gray value i,
// for the given number of images per class.
func writeImageFolder(t *testing.T, root string, perClass map[string]int) {
	for class, n := range perClass {
		classDir := filepath.Join(root, class)
		require.NoError(t, os.MkdirAll(classDir, 0755))
		for i := range n {
			img := image.NewGray(image.Rect(0, 0, 4, 3))
			for j := range img.Pix {
				img.Pix[j] = uint8(i)
			}
			f, err := os.Create(filepath.Join(classDir, fmt.Sprintf("%03d.png", i)))
			require.NoError(t, err)
			require.NoError(t, png.Encode(f, img))
			require.NoError(t, f.Close())
		}
	}
}

func TestFolderDataset(t *testing.T) {
	root := filepath.Join(t.TempDir(), "train")
	writeImageFolder(t, root, map[string]int{"zebra": 2, "ant": 3})
	require.NoError(t, os.WriteFile(filepath.Join(root, "ant", "README.txt"), []byte("not an image"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "labels.txt"), []byte("not a class"), 0644))

	ds, err := ImageFolder.New(SourceConfig{Root: root})
	require.NoError(t, err)
	folder := ds.(*FolderDataset)
	assert.Equal(t, "train", ds.Name())
	assert.Equal(t, 5, ds.Len())
	assert.Equal(t, []string{"ant", "zebra"}, folder.Classes())
	assert.Equal(t, map[string]int{"ant": 3, "zebra": 2}, folder.ClassDistribution())

	example, err := ds.Get(4, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, example.Label)
	assert.Equal(t, image.Rect(0, 0, 4, 3), example.Image.Bounds())
	r, _, _, _ := example.Image.At(0, 0).RGBA()
	assert.Equal(t, uint32(1*0x101), r)
}

func TestFolderDatasetNumSamples(t *testing.T) {
	root := t.TempDir()
	writeImageFolder(t, root, map[string]int{"a": 5, "b": 5})

	config := SourceConfig{Root: root, NumSamples: 4, Seed: 42}
	ds, err := NewFolderDataset(config)
	require.NoError(t, err)
	require.Equal(t, 4, ds.Len())
	for i := 1; i < ds.Len(); i++ {
		assert.Less(t, ds.Path(i-1), ds.Path(i), "subset must keep the folder order")
	}

	// Same seed, same subset.
	ds2, err := NewFolderDataset(config)
	require.NoError(t, err)
	for i := range ds.Len() {
		assert.Equal(t, ds.Path(i), ds2.Path(i))
	}

	// More samples than available: keep all.
	ds, err = NewFolderDataset(SourceConfig{Root: root, NumSamples: 100})
	require.NoError(t, err)
	assert.Equal(t, 10, ds.Len())
}

func TestFolderDatasetEmpty(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "class"), 0755))
	_, err := NewFolderDataset(SourceConfig{Root: root})
	require.Error(t, err)

	_, err = NewFolderDataset(SourceConfig{Root: filepath.Join(root, "missing")})
	require.Error(t, err)
}

// rangeDataset has examples with a single value equal to the index, and label index%3.
type rangeDataset struct {
	n         int
	transform Transform
}

func (ds *rangeDataset) Name() string             { return "range" }
func (ds *rangeDataset) Len() int                 { return ds.n }
func (ds *rangeDataset) SetTransform(t Transform) { ds.transform = t }
func (ds *rangeDataset) Get(index int, rng *rand.Rand) (*Example, error) {
	example := &Example{Values: []float32{float32(index)}, Dims: []int{1, 1, 1}, Label: index % 3, Index: index}
	return applyTransform(ds.transform, example, rng)
}

// addTransform adds a constant to every value.
type addTransform float32

func (a addTransform) Apply(example *Example, _ *rand.Rand) error {
	for i := range example.Values {
		example.Values[i] += float32(a)
	}
	return nil
}

func TestRandomSplit(t *testing.T) {
	base := &rangeDataset{n: 10}
	splits, err := RandomSplit(base, []int{7, 3}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.Len(t, splits, 2)
	assert.Equal(t, 7, splits[0].Len())
	assert.Equal(t, 3, splits[1].Len())

	// Disjoint and covering.
	seen := make(map[int]bool)
	for _, split := range splits {
		for _, idx := range split.Indices() {
			assert.False(t, seen[idx], "index %d in more than one split", idx)
			seen[idx] = true
		}
	}
	assert.Len(t, seen, 10)

	// Deterministic for a seed.
	again, err := RandomSplit(base, []int{7, 3}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, splits[1].Indices(), again[1].Indices())

	// Lengths must add up.
	_, err = RandomSplit(base, []int{7, 2}, rand.New(rand.NewSource(1)))
	require.Error(t, err)
	_, err = RandomSplit(base, []int{11, -1}, rand.New(rand.NewSource(1)))
	require.Error(t, err)
}

func TestSubsetTransforms(t *testing.T) {
	base := &rangeDataset{n: 10, transform: addTransform(100)}
	splits, err := RandomSplit(base, []int{8, 2}, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	train, val := splits[0], splits[1]
	train.SetTransform(addTransform(1000))

	example, err := train.Get(0, nil)
	require.NoError(t, err)
	baseIdx := train.Indices()[0]
	assert.Equal(t, float32(baseIdx+1100), example.Values[0], "base transform, then subset transform")
	assert.Equal(t, 0, example.Index)
	assert.Equal(t, baseIdx%3, example.Label)

	example, err = val.Get(1, nil)
	require.NoError(t, err)
	assert.Equal(t, float32(val.Indices()[1]+100), example.Values[0], "val subset has no transform of its own")

	_, err = val.Get(2, nil)
	require.Error(t, err)

	_, err = NewSubset("bad", base, []int{0, 10})
	require.Error(t, err)
	sub, err := NewSubset("first", base, []int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, base, sub.Base())
}

// rgbDataset returns 2x2 3-channel examples with channel values (index, 2*index, 0).
type rgbDataset struct{ n int }

func (ds *rgbDataset) Name() string { return "rgb" }
func (ds *rgbDataset) Len() int     { return ds.n }
func (ds *rgbDataset) Get(index int, _ *rand.Rand) (*Example, error) {
	v := float32(index)
	values := make([]float32, 0, 12)
	for range 4 {
		values = append(values, v, 2*v, 0)
	}
	return &Example{Values: values, Dims: []int{2, 2, 3}, Index: index}, nil
}

func TestChannelStats(t *testing.T) {
	mean, std, err := ChannelStats(&rgbDataset{n: 3}, 0)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 2, 0}, mean, 1e-9)
	// Population std of {0,1,2} is sqrt(2/3).
	assert.InDeltaSlice(t, []float64{0.816496580927726, 1.632993161855452, 0}, std, 1e-9)

	mean, _, err = ChannelStats(&rgbDataset{n: 3}, 1)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0, 0}, mean, 1e-9)

	// Raw images are not tensors.
	dir := t.TempDir()
	writeImageFolder(t, dir, map[string]int{"a": 1})
	folder, err := NewFolderDataset(SourceConfig{Root: dir})
	require.NoError(t, err)
	_, _, err = ChannelStats(folder, 0)
	require.Error(t, err)
}
