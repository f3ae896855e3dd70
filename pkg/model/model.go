// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package model implements the colorization model: a small convolutional autoencoder that maps the
// luminance channel of an image to its two chrominance channels.
package model

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/train"
)

const (
	// ParamOutputActivation is the activation applied to the model output: "relu" (the default) or "sigmoid",
	// since the targets are in [0, 1]. Any name accepted by activations.FromName works.
	ParamOutputActivation = "output_activation"

	// KernelSize of every convolution.
	KernelSize = 2

	// Downsampling is the total factor by which the encoder reduces the spatial dimensions.
	Downsampling = 8
)

// Layer describes one layer of the model.
type Layer struct {
	Channels, Stride int
	Transposed       bool
}

// Layers of the model, in order. The encoder reduces the image 8 times, and the decoder scales it back.
var Layers = []Layer{
	{Channels: 1, Stride: 1},
	{Channels: 32, Stride: 2},
	{Channels: 64, Stride: 2},
	{Channels: 128, Stride: 2},
	{Channels: 128, Stride: 2, Transposed: true},
	{Channels: 64, Stride: 2, Transposed: true},
	{Channels: 2, Stride: 2, Transposed: true},
}

var _ train.ModelFn = ModelGraph

// ModelGraph implements train.ModelFn. It takes the luminance shaped [batch, height, width, 1] as its only input,
// and returns the predicted chrominance shaped [batch, height, width, 2].
//
// Height and width must be divisible by Downsampling.
func ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec // Not used.
	x := inputs[0]
	if x.Rank() != 4 || x.Shape().Dimensions[3] != 1 {
		exceptions.Panicf("model expects luminance shaped [batch, height, width, 1], got %s", x.Shape())
	}
	batchSize, height, width := x.Shape().Dimensions[0], x.Shape().Dimensions[1], x.Shape().Dimensions[2]
	if height%Downsampling != 0 || width%Downsampling != 0 {
		exceptions.Panicf("model requires image dimensions divisible by %d, got %dx%d", Downsampling, height, width)
	}
	outputActivation := activations.FromName(context.GetParamOr(ctx, ParamOutputActivation, "relu"))

	for layerIdx, layer := range Layers {
		layerCtx := ctx.Inf("%03d_%s", layerIdx, layerScopeSuffix(layer))
		if layer.Transposed {
			x = ConvTranspose(layerCtx, x, layer.Channels, layer.Stride)
		} else {
			x = layers.Convolution(layerCtx, x).
				Channels(layer.Channels).
				KernelSize(KernelSize).
				Strides(layer.Stride).
				PadSame().
				Done()
		}
		if layerIdx == len(Layers)-1 {
			x = activations.Apply(outputActivation, x)
		} else {
			x = activations.Relu(x)
		}
	}
	x.AssertDims(batchSize, height, width, 2)
	return []*Node{x}
}

func layerScopeSuffix(layer Layer) string {
	if layer.Transposed {
		return "conv_transpose"
	}
	return "conv"
}

// ConvTranspose is a transposed convolution (sometimes called deconvolution) with kernel size equal to stride
// and "same" padding, for images shaped [batch, height, width, channels]. The output is shaped
// [batch, height*stride, width*stride, outputChannels].
//
// With kernel size equal to stride each input pixel contributes to a separate stride x stride block of the
// output, so it is implemented as a per-pixel projection to stride*stride*outputChannels values, rearranged
// into blocks (depth-to-space).
//
// It creates the variables "weights", shaped [inputChannels, stride*stride*outputChannels], and "biases",
// shaped [outputChannels], in the scope "conv_transpose".
func ConvTranspose(ctx *context.Context, x *Node, outputChannels, stride int) *Node {
	if x.Rank() != 4 {
		exceptions.Panicf("ConvTranspose expects x shaped [batch, height, width, channels], got %s", x.Shape())
	}
	ctx = ctx.In("conv_transpose")
	g := x.Graph()
	dtype := x.DType()
	dims := x.Shape().Dimensions
	batchSize, height, width, inputChannels := dims[0], dims[1], dims[2], dims[3]

	weightsVar := ctx.VariableWithShape("weights", shapes.Make(dtype, inputChannels, stride*stride*outputChannels))
	biasesVar := ctx.VariableWithShape("biases", shapes.Make(dtype, outputChannels))

	output := Einsum("bhwk,kd->bhwd", x, weightsVar.ValueGraph(g))
	output = Reshape(output, batchSize, height, width, stride, stride, outputChannels)
	output = TransposeAllAxes(output, 0, 1, 3, 2, 4, 5)
	output = Reshape(output, batchSize, height*stride, width*stride, outputChannels)
	bias := Reshape(biasesVar.ValueGraph(g), 1, 1, 1, outputChannels)
	return Add(output, bias)
}
