// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package records

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/gomlx/colorize/internal/tfexample"
	"github.com/gomlx/colorize/pkg/colorspace"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Feature keys used in the tf.Example records.
const (
	ImageKey    = "image/encoded"
	FilenameKey = "image/filename"
	HeightKey   = "image/height"
	WidthKey    = "image/width"
	FormatKey   = "image/format"
)

// ErrMissingImage is returned by ParseRecord when the record has no ImageKey feature.
var ErrMissingImage = errors.New("record has no " + ImageKey + " feature")

// ParseRecord parses a serialized tf.Example, decodes the image stored under ImageKey and resizes it to
// size x size with bilinear filtering. Aspect ratio is not preserved.
//
// The returned image is fully opaque: any alpha channel is dropped.
func ParseRecord(record []byte, size int) (*image.NRGBA, error) {
	example, err := tfexample.Unmarshal(record)
	if err != nil {
		return nil, err
	}
	encoded, found := example.Bytes(ImageKey)
	if !found {
		return nil, ErrMissingImage
	}
	img, _, err := image.Decode(bytes.NewReader(encoded))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image (%d bytes)", len(encoded))
	}
	resized := imaging.Resize(img, size, size, imaging.Linear)
	for ii := 3; ii < len(resized.Pix); ii += 4 {
		resized.Pix[ii] = 0xFF
	}
	return resized, nil
}

// ImageToTensors converts a batch of same-sized images to the luminance and chrominance tensors, shaped
// [batch, height, width, 1] and [batch, height, width, 2] respectively.
//
// Only dtypes.Float32 and dtypes.Float64 are supported.
func ImageToTensors(images []image.Image, space colorspace.Space, dtype dtypes.DType) (
	luminance, chrominance *tensors.Tensor, err error) {
	if len(images) == 0 {
		err = errors.New("ImageToTensors requires at least one image")
		return
	}
	size := images[0].Bounds().Size()
	for ii, img := range images {
		if img.Bounds().Size() != size {
			err = errors.Errorf("image #%d has size %s, but image #0 has size %s", ii, img.Bounds().Size(), size)
			return
		}
	}
	luminance = tensors.FromShape(shapes.Make(dtype, len(images), size.Y, size.X, 1))
	chrominance = tensors.FromShape(shapes.Make(dtype, len(images), size.Y, size.X, 2))
	switch dtype {
	case dtypes.Float32:
		fillTensors[float32](images, space, luminance, chrominance)
	case dtypes.Float64:
		fillTensors[float64](images, space, luminance, chrominance)
	default:
		err = errors.Errorf("ImageToTensors: dtype %s not supported, use Float32 or Float64", dtype)
	}
	return
}

func fillTensors[T float32 | float64](images []image.Image, space colorspace.Space, luminance, chrominance *tensors.Tensor) {
	tensors.MustMutableFlatData[T](luminance, func(lFlat []T) {
		tensors.MustMutableFlatData[T](chrominance, func(cFlat []T) {
			pos := 0
			for _, img := range images {
				bounds := img.Bounds()
				for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
					for x := bounds.Min.X; x < bounds.Max.X; x++ {
						r, g, b := rgbAt(img, x, y)
						l, c1, c2 := space.Split(r, g, b)
						lFlat[pos] = T(l)
						cFlat[2*pos] = T(c1)
						cFlat[2*pos+1] = T(c2)
						pos++
					}
				}
			}
		})
	})
}

// rgbAt returns the non-premultiplied color at (x, y) as values in [0, 1].
func rgbAt(img image.Image, x, y int) (r, g, b float64) {
	if nrgba, ok := img.(*image.NRGBA); ok {
		pix := nrgba.Pix[nrgba.PixOffset(x, y):]
		return float64(pix[0]) / 255, float64(pix[1]) / 255, float64(pix[2]) / 255
	}
	r16, g16, b16, a16 := img.At(x, y).RGBA()
	if a16 == 0 {
		return 0, 0, 0
	}
	a := float64(a16)
	return float64(r16) / a, float64(g16) / a, float64(b16) / a
}

// TensorsToImages merges luminance and chrominance tensors back into RGB images.
// It is the inverse of ImageToTensors, up to quantization to 8 bits.
func TensorsToImages(luminance, chrominance *tensors.Tensor, space colorspace.Space) ([]image.Image, error) {
	lShape, cShape := luminance.Shape(), chrominance.Shape()
	if lShape.Rank() != 4 || cShape.Rank() != 4 || lShape.Dimensions[3] != 1 || cShape.Dimensions[3] != 2 ||
		lShape.Dimensions[0] != cShape.Dimensions[0] || lShape.Dimensions[1] != cShape.Dimensions[1] ||
		lShape.Dimensions[2] != cShape.Dimensions[2] {
		return nil, errors.Errorf("TensorsToImages: incompatible shapes luminance=%s, chrominance=%s", lShape, cShape)
	}
	switch lShape.DType {
	case dtypes.Float32:
		return mergeTensors[float32](luminance, chrominance, space), nil
	case dtypes.Float64:
		return mergeTensors[float64](luminance, chrominance, space), nil
	default:
		return nil, errors.Errorf("TensorsToImages: dtype %s not supported, use Float32 or Float64", lShape.DType)
	}
}

func mergeTensors[T float32 | float64](luminance, chrominance *tensors.Tensor, space colorspace.Space) []image.Image {
	dims := luminance.Shape().Dimensions
	batchSize, height, width := dims[0], dims[1], dims[2]
	lFlat := tensors.MustCopyFlatData[T](luminance)
	cFlat := tensors.MustCopyFlatData[T](chrominance)
	images := make([]image.Image, batchSize)
	pos := 0
	for ii := range batchSize {
		img := image.NewNRGBA(image.Rect(0, 0, width, height))
		for y := range height {
			for x := range width {
				r, g, b := space.Merge(float64(lFlat[pos]), float64(cFlat[2*pos]), float64(cFlat[2*pos+1]))
				pix := img.Pix[img.PixOffset(x, y):]
				pix[0], pix[1], pix[2], pix[3] = toUint8(r), toUint8(g), toUint8(b), 0xFF
				pos++
			}
		}
		images[ii] = img
	}
	return images
}

func toUint8(v float64) uint8 {
	return uint8(min(255, max(0, v*255+0.5)))
}
