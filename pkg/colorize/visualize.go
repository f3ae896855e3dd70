// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package colorize

import (
	"fmt"
	"image"
	"image/color"

	"github.com/gomlx/colorize/pkg/colorspace"
	"github.com/gomlx/colorize/pkg/model"
	"github.com/gomlx/colorize/pkg/records"
	"github.com/gomlx/colorize/pkg/summary"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// SplitChannels returns one grayscale image per channel of space, for each of the images.
func SplitChannels(images []image.Image, space colorspace.Space) (channels [3][]image.Image) {
	for _, img := range images {
		bounds := img.Bounds()
		var grays [3]*image.Gray
		for ch := range grays {
			grays[ch] = image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		}
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				r, g, b, _ := img.At(x, y).RGBA()
				c0, c1, c2 := space.Split(float64(r)/0xFFFF, float64(g)/0xFFFF, float64(b)/0xFFFF)
				for ch, v := range [3]float64{c0, c1, c2} {
					grays[ch].SetGray(x-bounds.Min.X, y-bounds.Min.Y, color.Gray{Y: toGray(v)})
				}
			}
		}
		for ch := range grays {
			channels[ch] = append(channels[ch], grays[ch])
		}
	}
	return
}

func toGray(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255 + 0.5)
}

// DisplaySamples logs, at step 0, the first batch of ds (up to maxOutputs images) under the tag "Image", and
// each of its channels in the dataset color space as "Training data <channel> channel".
//
// It returns the images logged, and resets ds.
func DisplaySamples(w *summary.Writer, ds *records.Dataset, maxOutputs int) ([]image.Image, error) {
	defer ds.Reset()
	images, err := ds.YieldImages()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to read samples from %q", ds.Name())
	}
	if maxOutputs > 0 && len(images) > maxOutputs {
		images = images[:maxOutputs]
	}
	if err = w.Images("Image", 0, images, maxOutputs); err != nil {
		return nil, err
	}
	space := ds.Config().ColorSpace
	channels := SplitChannels(images, space)
	for ch, name := range space.ChannelNames() {
		if err = w.Images(fmt.Sprintf("Training data %s channel", name), 0, channels[ch], maxOutputs); err != nil {
			return nil, err
		}
	}
	return images, nil
}

// Colorize runs the model in ctx (already trained) over the luminance of the images, and returns the images
// recomposed from their original luminance and the predicted chrominance.
func Colorize(backend backends.Backend, ctx *context.Context, images []image.Image, space colorspace.Space) (
	colorized []image.Image, err error) {
	if len(images) == 0 {
		return nil, nil
	}
	luminance, _, err := records.ImageToTensors(images, space, records.DType)
	if err != nil {
		return nil, err
	}
	var chrominance *tensors.Tensor
	err = exceptions.TryCatch[error](func() {
		chrominance = context.MustExecOnce(backend, ctx.Reuse(), func(ctx *context.Context, x *Node) *Node {
			return model.ModelGraph(ctx, nil, []*Node{x})[0]
		}, luminance)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to colorize images")
	}
	return records.TensorsToImages(luminance, chrominance, space)
}

// WritePredictions colorizes the images with the model in ctx and logs each result as "<i>-img_result.png"
// at the given step.
func WritePredictions(w *summary.Writer, backend backends.Backend, ctx *context.Context, images []image.Image,
	space colorspace.Space, step int64) error {
	colorized, err := Colorize(backend, ctx, images, space)
	if err != nil {
		return err
	}
	for ii, img := range colorized {
		if err = w.Images(fmt.Sprintf("%d-img_result.png", ii), step, []image.Image{img}, 1); err != nil {
			return err
		}
	}
	return w.Flush()
}
