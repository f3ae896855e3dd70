// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package colorize

import (
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/gomlx/colorize/pkg/model"
	"github.com/gomlx/colorize/pkg/records"
	"github.com/gomlx/colorize/pkg/summary"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Backend used for training. If nil, TrainModel creates a default one.
var Backend backends.Backend

// Config of a training run.
type Config struct {
	// TrainPattern and TestPattern select the TFRecord files: a glob pattern or a directory.
	TrainPattern, TestPattern string

	// LogDir is the base directory: each run logs to a new timestamped subdirectory, see NewLogDir.
	LogDir string

	// Verbosity: < 0 disables the progress bar, >= 1 prints the model summary, >= 2 prints the hyperparameters.
	Verbosity int

	// ParamsSet lists the hyperparameters set from the command line, only used for reporting.
	ParamsSet []string
}

// Summary writer sub-directories.
const (
	TrainSubDir      = "train"
	ValidationSubDir = "validation"
)

// TrainModel trains the colorization model with the hyperparameters in ctx, and returns the log directory
// used by the run.
//
// If no training files are found, training is skipped with a warning.
func TrainModel(ctx *context.Context, config Config) (logDir string, err error) {
	panicErr := exceptions.TryCatch[error](func() {
		logDir, err = trainModel(ctx, config)
	})
	if panicErr != nil {
		err = panicErr
	}
	return
}

func trainModel(ctx *context.Context, config Config) (string, error) {
	trainFiles, err := records.Glob(config.TrainPattern)
	if err != nil {
		return "", err
	}
	testFiles, err := records.Glob(config.TestPattern)
	if err != nil {
		return "", err
	}
	trainStats, err := records.Count(trainFiles)
	if err != nil {
		return "", err
	}
	testStats, err := records.Count(testFiles)
	if err != nil {
		return "", err
	}
	if config.Verbosity >= 1 {
		fmt.Printf("Training data:\t%s\n", trainStats)
		fmt.Printf("Validation data:\t%s\n", testStats)
	}

	logDir := NewLogDir(config.LogDir, time.Now())
	trainWriter, err := summary.NewWriter(filepath.Join(logDir, TrainSubDir))
	if err != nil {
		return logDir, err
	}
	defer func() { _ = trainWriter.Close() }()
	validWriter, err := summary.NewWriter(filepath.Join(logDir, ValidationSubDir))
	if err != nil {
		return logDir, err
	}
	defer func() { _ = validWriter.Close() }()
	if config.Verbosity >= 0 {
		fmt.Printf("Logging to %q\n", logDir)
	}

	if trainStats.NumRecords == 0 {
		klog.Warningf("No training records found for %q, skipping training", config.TrainPattern)
		return logDir, nil
	}
	if testStats.NumRecords == 0 {
		testFiles = nil
	}

	if Backend == nil {
		Backend, err = backends.New()
		if err != nil {
			return logDir, errors.WithMessage(err, "failed to create backend")
		}
	}
	if config.Verbosity >= 1 {
		fmt.Printf("Backend %q:\t%s\n", Backend.Name(), Backend.Description())
	}
	if config.Verbosity >= 1 && len(config.ParamsSet) > 0 {
		fmt.Printf("Hyperparameters set: %v\n", config.ParamsSet)
	}
	if config.Verbosity >= 2 {
		fmt.Println(commandline.SprintContextSettings(ctx))
	}

	dss, err := records.CreateDatasets(Backend, ctx, trainFiles, testFiles)
	if err != nil {
		return logDir, err
	}
	numSamples := context.GetParamOr(ctx, ParamNumSamples, 3)
	samples, err := DisplaySamples(trainWriter, dss.Samples, numSamples)
	if err != nil {
		return logDir, err
	}

	maeMetric := metrics.NewMeanMetric("Mean Absolute Error", "mae", metrics.LossMetricType, meanAbsoluteErrorGraph, nil)
	mseMetric := metrics.NewMeanMetric("Mean Squared Error", "mse", metrics.LossMetricType, meanSquaredErrorGraph, nil)
	movingMAEMetric := metrics.NewExponentialMovingAverageMetric("Moving Average Absolute Error", "~mae",
		metrics.LossMetricType, meanAbsoluteErrorGraph, nil, 0.01)

	ctx = ctx.In("model") // Convention scope used for model creation.
	trainer := train.NewTrainer(Backend, ctx, model.ModelGraph,
		losses.MeanAbsoluteError,
		optimizers.FromContext(ctx),
		[]metrics.Interface{movingMAEMetric},     // trainMetrics
		[]metrics.Interface{maeMetric, mseMetric}) // evalMetrics

	loop := train.NewLoop(trainer)
	if config.Verbosity >= 0 {
		commandline.AttachProgressBar(loop) // Attaches a progress bar to the loop.
	}
	if logEvery := context.GetParamOr(ctx, ParamLogEverySteps, 10); logEvery > 0 {
		loop.OnStep("train summaries", 200, func(loop *train.Loop, trainMetrics []*tensors.Tensor) error {
			if (loop.LoopStep+1)%logEvery != 0 {
				return nil
			}
			return writeTrainMetrics(trainWriter, loop, trainMetrics)
		})
	}
	if dss.ValidationEval != nil {
		attachValidation(loop, validWriter, dss.ValidationEval)
	}

	numTrainSteps := context.GetParamOr(ctx, ParamTrainSteps, 0)
	var trainMetrics []*tensors.Tensor
	if numTrainSteps > 0 {
		globalStep := int(optimizers.GetGlobalStep(ctx))
		trainMetrics, err = loop.RunSteps(dss.Train, numTrainSteps-globalStep)
	} else {
		numEpochs := context.GetParamOr(ctx, ParamNumEpochs, 100)
		trainMetrics, err = loop.RunEpochs(dss.Train, numEpochs)
	}
	if err != nil {
		return logDir, errors.WithMessage(err, "training failed")
	}
	if err = writeTrainMetrics(trainWriter, loop, trainMetrics); err != nil {
		return logDir, err
	}
	if config.Verbosity >= 1 {
		fmt.Printf("\t[Step %d] median train step: %d microseconds\n",
			loop.LoopStep, loop.MedianTrainStepDuration().Microseconds())
	}

	if config.Verbosity >= 0 {
		fmt.Println()
		evalDatasets := []train.Dataset{dss.TrainEval}
		if dss.ValidationEval != nil {
			evalDatasets = append([]train.Dataset{dss.ValidationEval}, evalDatasets...)
		}
		if err = commandline.ReportEval(trainer, evalDatasets...); err != nil {
			return logDir, err
		}
	}

	step := int64(optimizers.GetGlobalStep(ctx))
	if err = WritePredictions(trainWriter, Backend, ctx, samples, dss.Samples.Config().ColorSpace, step); err != nil {
		return logDir, err
	}
	if config.Verbosity >= 1 {
		fmt.Println(model.Summary(ctx))
	}
	return logDir, nil
}

func meanAbsoluteErrorGraph(_ *context.Context, labels, predictions []*Node) *Node {
	return ReduceAllMean(Abs(Sub(labels[0], predictions[0])))
}

func meanSquaredErrorGraph(_ *context.Context, labels, predictions []*Node) *Node {
	return ReduceAllMean(Square(Sub(labels[0], predictions[0])))
}

// attachValidation evaluates the validation dataset when a new epoch starts and at the end of the training,
// and logs its metrics.
func attachValidation(loop *train.Loop, w *summary.Writer, ds train.Dataset) {
	lastEpoch := 0
	evaluate := func(loop *train.Loop) error {
		evalMetrics, err := loop.Trainer.Eval(ds)
		ds.Reset()
		if err != nil {
			return errors.WithMessagef(err, "failed to evaluate on %q", ds.Name())
		}
		step := int64(loop.Trainer.GlobalStep())
		for ii, desc := range loop.Trainer.EvalMetrics() {
			value, ok := scalarValue(evalMetrics[ii])
			if !ok {
				continue
			}
			if err = w.Scalar(desc.Name(), step, value); err != nil {
				return err
			}
		}
		return w.Flush()
	}
	loop.OnStep("validation summaries", 300, func(loop *train.Loop, _ []*tensors.Tensor) error {
		if loop.Epoch == lastEpoch {
			return nil
		}
		lastEpoch = loop.Epoch
		return evaluate(loop)
	})
	loop.OnEnd("validation summaries", 300, func(loop *train.Loop, _ []*tensors.Tensor) error {
		return evaluate(loop)
	})
}

func writeTrainMetrics(w *summary.Writer, loop *train.Loop, trainMetrics []*tensors.Tensor) error {
	step := int64(loop.Trainer.GlobalStep())
	for ii, desc := range loop.Trainer.TrainMetrics() {
		if ii >= len(trainMetrics) {
			break
		}
		value, ok := scalarValue(trainMetrics[ii])
		if !ok {
			continue
		}
		if err := w.Scalar(desc.Name(), step, value); err != nil {
			return err
		}
	}
	return w.Flush()
}

// scalarValue converts a scalar metric to float64. It returns false for non-finite or non-float values.
func scalarValue(t *tensors.Tensor) (float64, bool) {
	var v float64
	switch value := t.Value().(type) {
	case float32:
		v = float64(value)
	case float64:
		v = value
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
