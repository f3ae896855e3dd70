// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"testing"

	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvTranspose(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	varsCtx := ctx.In("deconv").In("conv_transpose")
	varsCtx.VariableWithValue("weights", [][]float32{{1, 2, 3, 4}})
	varsCtx.VariableWithValue("biases", []float32{0.5})

	// Each input pixel becomes a 2x2 block of the output: its value times the kernel, plus the bias.
	got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, x *Node) *Node {
		return ConvTranspose(ctx.In("deconv").Reuse(), x, 1, 2)
	}, [][][][]float32{{{{1}, {2}}}})
	want := [][][][]float32{{
		{{1.5}, {2.5}, {2.5}, {4.5}},
		{{3.5}, {4.5}, {6.5}, {8.5}},
	}}
	assert.Equal(t, want, got.Value())

	t.Run("Shape", func(t *testing.T) {
		got := context.MustExecOnce(backend, context.New(), func(ctx *context.Context, g *Graph) *Node {
			x := Ones(g, shapes.Make(dtypes.Float32, 3, 5, 7, 16))
			return ConvTranspose(ctx, x, 4, 3)
		})
		require.NoError(t, got.Shape().Check(dtypes.Float32, 3, 15, 21, 4))
	})
}

func TestModelGraph(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	luminance := tensors.FromShape(shapes.Make(dtypes.Float32, 2, 16, 16, 1))
	got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, x *Node) *Node {
		return ModelGraph(ctx, nil, []*Node{x})[0]
	}, luminance)
	require.NoError(t, got.Shape().Check(dtypes.Float32, 2, 16, 16, 2))
	for _, v := range tensors.MustCopyFlatData[float32](got) {
		require.GreaterOrEqual(t, v, float32(0), "relu output must be non-negative")
	}

	// Variables: weights and biases for each of the 7 layers.
	infos := Variables(ctx)
	require.Len(t, infos, 2*len(Layers))
	var totalParams int
	for _, info := range infos {
		totalParams += info.NumParams
	}
	assert.Equal(t, 140_327, totalParams)

	summary := Summary(ctx)
	assert.Contains(t, summary, "/000_conv/conv")
	assert.Contains(t, summary, "/006_conv_transpose/conv_transpose")
	assert.Contains(t, summary, "140,327")

	t.Run("Sigmoid", func(t *testing.T) {
		ctx := context.New()
		ctx.SetParam(ParamOutputActivation, "sigmoid")
		got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, x *Node) *Node {
			return ModelGraph(ctx, nil, []*Node{x})[0]
		}, luminance)
		for _, v := range tensors.MustCopyFlatData[float32](got) {
			require.Greater(t, v, float32(0))
			require.Less(t, v, float32(1))
		}
	})

	t.Run("InvalidSize", func(t *testing.T) {
		require.Panics(t, func() {
			_ = context.MustExecOnce(backend, context.New(), func(ctx *context.Context, g *Graph) *Node {
				x := Zeros(g, shapes.Make(dtypes.Float32, 1, 12, 12, 1))
				return ModelGraph(ctx, nil, []*Node{x})[0]
			})
		})
	})
}
