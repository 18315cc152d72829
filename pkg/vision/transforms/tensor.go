// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transforms

import (
	"image"
	"math/rand"

	"github.com/gomlx/visiondata/pkg/vision/datasets"
	"github.com/pkg/errors"
)

// ToTensor converts Example.Image to float32 values in [0, 1], laid out channels-last as
// `[height, width, channels]`. It sets Example.Values and Example.Dims and releases the image.
//
// Channels can be 1 (luminance) or 3 (RGB). Alpha is dropped.
type ToTensor struct {
	Channels int
}

// Apply implements datasets.Transform.
func (t *ToTensor) Apply(example *datasets.Example, _ *rand.Rand) error {
	if err := requireImage("ToTensor", example); err != nil {
		return err
	}
	if t.Channels != 1 && t.Channels != 3 {
		return errors.Errorf("ToTensor: only 1 or 3 channels are supported, got %d", t.Channels)
	}
	img := example.Image
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	values := make([]float32, 0, width*height*t.Channels)
	const scale = float32(1.0 / 255.0)
	switch typed := img.(type) {
	case *image.Gray:
		for y := range height {
			row := typed.Pix[y*typed.Stride : y*typed.Stride+width]
			for _, v := range row {
				for range t.Channels {
					values = append(values, float32(v)*scale)
				}
			}
		}
	case *image.NRGBA:
		for y := range height {
			row := typed.Pix[y*typed.Stride : y*typed.Stride+4*width]
			for x := 0; x < len(row); x += 4 {
				values = appendRGB(values, t.Channels, row[x], row[x+1], row[x+2])
			}
		}
	default:
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				r, g, b, _ := img.At(x, y).RGBA()
				values = appendRGB(values, t.Channels, uint8(r>>8), uint8(g>>8), uint8(b>>8))
			}
		}
	}
	example.Values = values
	example.Dims = []int{height, width, t.Channels}
	example.Image = nil
	return nil
}

// appendRGB appends the values of one pixel, converting to luminance if channels == 1.
func appendRGB(values []float32, channels int, r, g, b uint8) []float32 {
	const scale = float32(1.0 / 255.0)
	if channels == 1 {
		// Same coefficients as color.GrayModel.
		y := (19595*uint32(r) + 38470*uint32(g) + 7471*uint32(b) + 1<<15) >> 16
		return append(values, float32(y)*scale)
	}
	return append(values, float32(r)*scale, float32(g)*scale, float32(b)*scale)
}

// Normalize standardizes tensor values per channel: `(value - Mean[c]) / Std[c]`.
//
// Mean and Std must have one entry per channel, and Std values must be non-zero.
type Normalize struct {
	Mean, Std []float64
}

// Apply implements datasets.Transform.
func (t *Normalize) Apply(example *datasets.Example, _ *rand.Rand) error {
	channels := example.Channels()
	if channels == 0 {
		return errors.Errorf("Normalize: example %d has no tensor values, ToTensor must come first", example.Index)
	}
	if len(t.Mean) != channels || len(t.Std) != channels {
		return errors.Errorf("Normalize: example %d has %d channels, but got %d means and %d stds",
			example.Index, channels, len(t.Mean), len(t.Std))
	}
	scale := make([]float32, channels)
	for c, std := range t.Std {
		if std == 0 {
			return errors.Errorf("Normalize: std of channel %d is 0", c)
		}
		scale[c] = float32(1 / std)
	}
	for i, v := range example.Values {
		c := i % channels
		example.Values[i] = (v - float32(t.Mean[c])) * scale[c]
	}
	return nil
}
