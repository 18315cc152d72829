// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transforms

import (
	"image"
	"image/color"
	"math"
	"math/rand"

	"github.com/disintegration/imaging"
	"github.com/gomlx/visiondata/pkg/vision/datasets"
	"github.com/pkg/errors"
)

// RandomHorizontalFlip mirrors the image left-to-right with probability P (0.5 if P is 0).
type RandomHorizontalFlip struct {
	P float64
}

// Apply implements datasets.Transform.
func (t *RandomHorizontalFlip) Apply(example *datasets.Example, rng *rand.Rand) error {
	if err := requireImage("RandomHorizontalFlip", example); err != nil {
		return err
	}
	p := t.P
	if p == 0 {
		p = 0.5
	}
	if rng.Float64() < p {
		example.Image = imaging.FlipH(example.Image)
	}
	return nil
}

// RandomCrop pads the image with Padding black pixels on every side, and then crops a Size x Size
// square at a random position.
type RandomCrop struct {
	Size, Padding int
}

// Apply implements datasets.Transform.
func (t *RandomCrop) Apply(example *datasets.Example, rng *rand.Rand) error {
	if err := requireImage("RandomCrop", example); err != nil {
		return err
	}
	img := example.Image
	if t.Padding > 0 {
		bounds := img.Bounds()
		padded := imaging.New(bounds.Dx()+2*t.Padding, bounds.Dy()+2*t.Padding, color.Black)
		img = imaging.Paste(padded, img, image.Pt(t.Padding, t.Padding))
	}
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	if width < t.Size || height < t.Size {
		return errors.Errorf("RandomCrop(%d): image of example %d is only %dx%d (padded)",
			t.Size, example.Index, width, height)
	}
	x := img.Bounds().Min.X + rng.Intn(width-t.Size+1)
	y := img.Bounds().Min.Y + rng.Intn(height-t.Size+1)
	example.Image = imaging.Crop(img, image.Rect(x, y, x+t.Size, y+t.Size))
	return nil
}

// RandomResizedCrop crops a random area of the image with a random aspect ratio, and resizes it to
// Size x Size.
//
// The area is drawn from Scale (a fraction of the image area, default [0.08, 1]) and the aspect ratio
// log-uniformly from Ratio (default [3/4, 4/3]). After 10 failed attempts to fit the crop in the image,
// it falls back to a center crop with the ratio clamped to Ratio.
type RandomResizedCrop struct {
	Size  int
	Scale [2]float64
	Ratio [2]float64
}

const randomResizedCropAttempts = 10

// Apply implements datasets.Transform.
func (t *RandomResizedCrop) Apply(example *datasets.Example, rng *rand.Rand) error {
	if err := requireImage("RandomResizedCrop", example); err != nil {
		return err
	}
	if t.Size <= 0 {
		return errors.Errorf("RandomResizedCrop: invalid size %d", t.Size)
	}
	rect := t.cropRect(example.Image.Bounds(), rng)
	cropped := imaging.Crop(example.Image, rect)
	example.Image = imaging.Resize(cropped, t.Size, t.Size, imaging.Linear)
	return nil
}

// cropRect selects the area to crop.
func (t *RandomResizedCrop) cropRect(bounds image.Rectangle, rng *rand.Rand) image.Rectangle {
	scale, ratio := t.Scale, t.Ratio
	if scale == [2]float64{} {
		scale = [2]float64{0.08, 1.0}
	}
	if ratio == [2]float64{} {
		ratio = [2]float64{3.0 / 4.0, 4.0 / 3.0}
	}
	width, height := bounds.Dx(), bounds.Dy()
	area := float64(width * height)
	logRatio := [2]float64{math.Log(ratio[0]), math.Log(ratio[1])}
	for range randomResizedCropAttempts {
		targetArea := area * (scale[0] + rng.Float64()*(scale[1]-scale[0]))
		aspectRatio := math.Exp(logRatio[0] + rng.Float64()*(logRatio[1]-logRatio[0]))
		w := int(math.Round(math.Sqrt(targetArea * aspectRatio)))
		h := int(math.Round(math.Sqrt(targetArea / aspectRatio)))
		if w > 0 && w <= width && h > 0 && h <= height {
			x := bounds.Min.X + rng.Intn(width-w+1)
			y := bounds.Min.Y + rng.Intn(height-h+1)
			return image.Rect(x, y, x+w, y+h)
		}
	}

	// Fallback to central crop.
	w, h := width, height
	inRatio := float64(width) / float64(height)
	if inRatio < ratio[0] {
		h = int(math.Round(float64(w) / ratio[0]))
	} else if inRatio > ratio[1] {
		w = int(math.Round(float64(h) * ratio[1]))
	}
	x := bounds.Min.X + (width-w)/2
	y := bounds.Min.Y + (height-h)/2
	return image.Rect(x, y, x+w, y+h)
}

// Resize scales the image so that its shorter side is Size pixels, keeping the aspect ratio.
type Resize struct {
	Size int
}

// Apply implements datasets.Transform.
func (t *Resize) Apply(example *datasets.Example, _ *rand.Rand) error {
	if err := requireImage("Resize", example); err != nil {
		return err
	}
	if t.Size <= 0 {
		return errors.Errorf("Resize: invalid size %d", t.Size)
	}
	width, height := example.Image.Bounds().Dx(), example.Image.Bounds().Dy()
	newWidth, newHeight := t.Size, t.Size
	if width < height {
		newHeight = t.Size * height / width
	} else {
		newWidth = t.Size * width / height
	}
	if newWidth == width && newHeight == height {
		return nil
	}
	example.Image = imaging.Resize(example.Image, newWidth, newHeight, imaging.Linear)
	return nil
}

// CenterCrop crops the central Size x Size square of the image.
type CenterCrop struct {
	Size int
}

// Apply implements datasets.Transform.
func (t *CenterCrop) Apply(example *datasets.Example, _ *rand.Rand) error {
	if err := requireImage("CenterCrop", example); err != nil {
		return err
	}
	width, height := example.Image.Bounds().Dx(), example.Image.Bounds().Dy()
	if width < t.Size || height < t.Size {
		return errors.Errorf("CenterCrop(%d): image of example %d is only %dx%d",
			t.Size, example.Index, width, height)
	}
	example.Image = imaging.CropCenter(example.Image, t.Size, t.Size)
	return nil
}
