// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package records

import (
	"io"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

// countExamples reads ds until io.EOF and returns the total number of examples yielded.
func countExamples(t *testing.T, ds train.Dataset) int {
	count := 0
	for {
		_, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			return count
		}
		require.NoError(t, err)
		require.Equal(t, inputs[0].Shape().Dimensions[0], labels[0].Shape().Dimensions[0])
		count += inputs[0].Shape().Dimensions[0]
	}
}

func TestDatasetConfigFromContext(t *testing.T) {
	ctx := context.New()
	_, err := DatasetConfigFromContext(ctx)
	require.Error(t, err, "batch_size not set")

	ctx.SetParams(map[string]any{ParamBatchSize: 4, ParamImageSize: 12})
	_, err = DatasetConfigFromContext(ctx)
	require.Error(t, err, "image_size not a multiple of 8")

	ctx.SetParams(map[string]any{ParamImageSize: 16, ParamColorSpace: "hsv"})
	_, err = DatasetConfigFromContext(ctx)
	require.Error(t, err, "invalid color space")

	ctx.SetParams(map[string]any{ParamColorSpace: "ycbcr", ParamSkipInvalidRecords: true})
	config, err := DatasetConfigFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, config.BatchSize)
	assert.Equal(t, 16, config.ImageSize)
	assert.Equal(t, "ycbcr", config.ColorSpace.Name())
	assert.True(t, config.SkipInvalid)
}

func TestCreateDatasets(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	files := createTestFiles(t)

	for _, inMemory := range []bool{false, true} {
		ctx := context.New()
		ctx.SetParams(map[string]any{
			ParamBatchSize:     2,
			ParamEvalBatchSize: 3,
			ParamImageSize:     8,
			ParamParallelism:   2,
			ParamPrefetch:      1,
			ParamInMemory:      inMemory,
		})
		dss, err := CreateDatasets(backend, ctx, files, files[1:])
		require.NoErrorf(t, err, "inMemory=%v", inMemory)
		assert.Equalf(t, 5, countExamples(t, dss.Train), "inMemory=%v", inMemory)
		assert.Equalf(t, 5, countExamples(t, dss.TrainEval), "inMemory=%v", inMemory)
		assert.Equalf(t, 2, countExamples(t, dss.ValidationEval), "inMemory=%v", inMemory)

		// A second epoch after Reset.
		dss.Train.Reset()
		assert.Equalf(t, 5, countExamples(t, dss.Train), "inMemory=%v", inMemory)

		images, err := dss.Samples.YieldImages()
		require.NoError(t, err)
		assert.Len(t, images, 2)
	}

	ctx := context.New()
	ctx.SetParams(map[string]any{ParamBatchSize: 2, ParamImageSize: 8})
	dss, err := CreateDatasets(backend, ctx, files, nil)
	require.NoError(t, err)
	assert.Nil(t, dss.ValidationEval)

	t.Run("TrainSteps", func(t *testing.T) {
		for _, inMemory := range []bool{false, true} {
			ctx := context.New()
			ctx.SetParams(map[string]any{
				ParamBatchSize:   2,
				ParamImageSize:   8,
				ParamParallelism: 1,
				ParamInMemory:    inMemory,
				ParamTrainSteps:  10,
			})
			dss, err := CreateDatasets(backend, ctx, files, nil)
			require.NoError(t, err)
			// The training dataset loops over the 5 examples.
			for range 4 {
				_, inputs, _, err := dss.Train.Yield()
				require.NoErrorf(t, err, "inMemory=%v", inMemory)
				require.LessOrEqual(t, inputs[0].Shape().Dimensions[0], 2)
			}
			assert.Equalf(t, 5, countExamples(t, dss.TrainEval), "inMemory=%v", inMemory)
		}
	})
}
