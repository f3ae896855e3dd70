// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package colorize trains the colorization model and logs samples, metrics and predictions to a log directory.
package colorize

import (
	"path/filepath"
	"time"

	"github.com/gomlx/colorize/pkg/colorspace"
	"github.com/gomlx/colorize/pkg/model"
	"github.com/gomlx/colorize/pkg/records"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
)

const (
	// ParamNumEpochs is the number of passes over the training data.
	ParamNumEpochs = "num_epochs"

	// ParamTrainSteps, if > 0, trains for this many steps instead of ParamNumEpochs.
	ParamTrainSteps = records.ParamTrainSteps

	// ParamLogEverySteps is the period, in steps, to log the training metrics. 0 disables it.
	ParamLogEverySteps = "log_every_steps"

	// ParamNumSamples is the number of images displayed and colorized at the end of the training.
	ParamNumSamples = "num_samples"
)

// CreateDefaultContext returns a context with the default hyperparameters.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		// batch_size for training.
		records.ParamBatchSize: 256,

		// eval_batch_size can be larger than training, it's more efficient.
		records.ParamEvalBatchSize: 256,

		records.ParamImageSize:           224,
		records.ParamColorSpace:          colorspace.Default,
		records.ParamPrefetch:            2,
		records.ParamParallelism:         2,
		records.ParamInMemory:            false,
		records.ParamDropIncompleteBatch: false,
		records.ParamSkipInvalidRecords:  false,

		ParamNumEpochs:     100,
		ParamTrainSteps:    0,
		ParamLogEverySteps: 10,
		ParamNumSamples:    3,

		optimizers.ParamOptimizer:    "sgd",
		optimizers.ParamLearningRate: 0.01,
		model.ParamOutputActivation:  "relu",
	})
	return ctx
}

// LogDirTimeLayout is the layout of the timestamp used to name a training run.
const LogDirTimeLayout = "20060102-150405"

// NewLogDir returns the log directory for a training run started at now: "<base>/train_data/<YYYYmmdd-HHMMSS>".
func NewLogDir(base string, now time.Time) string {
	return filepath.Join(base, "train_data", now.Format(LogDirTimeLayout))
}
