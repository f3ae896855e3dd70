// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package records

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/colorize/pkg/colorspace"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pbnjay/memory"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Hyperparameters read from the context by CreateDatasets.
const (
	ParamBatchSize           = "batch_size"
	ParamEvalBatchSize       = "eval_batch_size"
	ParamImageSize           = "image_size"
	ParamColorSpace          = "color_space"
	ParamPrefetch            = "prefetch"
	ParamParallelism         = "parallelism"
	ParamInMemory            = "in_memory"
	ParamDropIncompleteBatch = "drop_incomplete_batch"
	ParamSkipInvalidRecords  = "skip_invalid_records"

	// ParamTrainSteps, if > 0, makes the training dataset loop forever, so it can be used with a fixed
	// number of training steps.
	ParamTrainSteps = "train_steps"
)

// DType used for the images.
var DType = dtypes.Float32

// Datasets created by CreateDatasets.
type Datasets struct {
	// Train is used for training. It loops over the training files once per epoch, or forever if
	// ParamTrainSteps > 0.
	Train train.Dataset

	// TrainEval and ValidationEval are used for evaluation, with the eval batch size.
	// ValidationEval is nil if there are no validation files.
	TrainEval, ValidationEval train.Dataset

	// Samples reads the first training images, used for displaying.
	Samples *Dataset
}

// DatasetConfigFromContext builds a Config from the hyperparameters in ctx.
func DatasetConfigFromContext(ctx *context.Context) (config Config, err error) {
	config.BatchSize = context.GetParamOr(ctx, ParamBatchSize, 0)
	config.ImageSize = context.GetParamOr(ctx, ParamImageSize, 224)
	config.DropIncompleteBatch = context.GetParamOr(ctx, ParamDropIncompleteBatch, false)
	config.SkipInvalid = context.GetParamOr(ctx, ParamSkipInvalidRecords, false)
	config.DType = DType
	config.ColorSpace, err = colorspace.ByName(context.GetParamOr(ctx, ParamColorSpace, colorspace.Default))
	if err != nil {
		return
	}
	if config.BatchSize <= 0 {
		err = errors.Errorf("%q must be > 0 (maybe it was not set?): %d", ParamBatchSize, config.BatchSize)
		return
	}
	if config.ImageSize <= 0 || config.ImageSize%8 != 0 {
		err = errors.Errorf("%q must be a positive multiple of 8 (the model downsamples 3 times by 2), got %d",
			ParamImageSize, config.ImageSize)
	}
	return
}

// CreateDatasets creates the training and evaluation datasets from the given TFRecord files, configured
// with the hyperparameters in ctx.
//
// The training dataset decodes images in parallel ("parallelism" goroutines) and prefetches "prefetch" batches.
// If "in_memory" is set, and the decoded images fit in half of the host memory, the datasets are read once and
// cached in the backend's device.
func CreateDatasets(backend backends.Backend, ctx *context.Context, trainFiles, validFiles []string) (
	dss *Datasets, err error) {
	config, err := DatasetConfigFromContext(ctx)
	if err != nil {
		return nil, err
	}
	infinite := context.GetParamOr(ctx, ParamTrainSteps, 0) > 0
	evalConfig := config
	evalConfig.BatchSize = context.GetParamOr(ctx, ParamEvalBatchSize, 0)
	if evalConfig.BatchSize <= 0 {
		evalConfig.BatchSize = config.BatchSize
	}
	evalConfig.DropIncompleteBatch = false

	dss = &Datasets{}
	newDS := func(name string, files []string, config Config) *Dataset {
		if err != nil {
			return nil
		}
		var ds *Dataset
		ds, err = NewDataset(name, files, config)
		return ds
	}
	trainConfig := config
	trainConfig.Infinite = infinite
	baseTrain := newDS("Training", trainFiles, trainConfig)
	baseTrainEval := newDS("Training Eval", trainFiles, evalConfig)
	dss.Samples = newDS("Samples", trainFiles, config)
	var baseValid *Dataset
	if len(validFiles) > 0 {
		baseValid = newDS("Validation", validFiles, evalConfig)
	}
	if err != nil {
		return nil, err
	}

	if context.GetParamOr(ctx, ParamInMemory, false) {
		var fits bool
		fits, err = fitsInMemory(trainFiles, validFiles, config)
		if err != nil {
			return nil, err
		}
		if fits {
			// The in-memory copy is read once, from the finite dataset.
			return createInMemoryDatasets(backend, dss, baseTrainEval, baseValid, config, evalConfig.BatchSize, infinite)
		}
	}

	parallelism := context.GetParamOr(ctx, ParamParallelism, 2)
	prefetch := context.GetParamOr(ctx, ParamPrefetch, 2)
	if parallelism > 1 {
		// Parallel yields may come out of order, which is fine for training.
		dss.Train = datasets.CustomParallel(baseTrain).Parallelism(parallelism).Buffer(prefetch).Start()
	} else {
		dss.Train = datasets.ReadAhead(baseTrain, prefetch)
	}
	dss.TrainEval = datasets.ReadAhead(baseTrainEval, prefetch)
	if baseValid != nil {
		dss.ValidationEval = datasets.ReadAhead(baseValid, prefetch)
	}
	return dss, nil
}

// fitsInMemory estimates the size of the decoded datasets and compares it to the host memory.
func fitsInMemory(trainFiles, validFiles []string, config Config) (bool, error) {
	stats, err := Count(append(append([]string{}, trainFiles...), validFiles...))
	if err != nil {
		return false, err
	}
	// One luminance plus two chrominance channels per pixel.
	bytesPerImage := uint64(config.ImageSize) * uint64(config.ImageSize) * 3 * uint64(config.DType.Size())
	required := bytesPerImage * uint64(stats.NumRecords)
	available := memory.TotalMemory() / 2
	if required > available {
		klog.Warningf("Datasets (%s decoded) don't fit in half the host memory (%s), they will be read from disk",
			humanize.Bytes(required), humanize.Bytes(available))
		return false, nil
	}
	klog.V(1).Infof("Caching datasets in memory: %s decoded", humanize.Bytes(required))
	return true, nil
}

func createInMemoryDatasets(backend backends.Backend, dss *Datasets, baseTrain, baseValid *Dataset,
	config Config, evalBatchSize int, infinite bool) (*Datasets, error) {
	trainMem, err := datasets.InMemory(backend, baseTrain, true)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to cache training dataset in memory")
	}
	fmt.Printf("Training dataset cached: %d examples, %s\n",
		trainMem.NumExamples(), humanize.Bytes(uint64(trainMem.Memory())))
	dss.TrainEval = trainMem.Copy().SetName("Training Eval").BatchSize(evalBatchSize, false)
	dss.Train = trainMem.SetName("Training").
		BatchSize(config.BatchSize, config.DropIncompleteBatch).
		Shuffle().
		Infinite(infinite)
	if baseValid != nil {
		validMem, err := datasets.InMemory(backend, baseValid, true)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to cache validation dataset in memory")
		}
		dss.ValidationEval = validMem.BatchSize(evalBatchSize, false)
	}
	return dss, nil
}
