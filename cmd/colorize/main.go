// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// colorize trains a convolutional autoencoder that predicts the colors (chrominance) of an image from its
// luminance, reading images from TFRecord files of tf.Example protos with an "image/encoded" feature.
//
// Sample images, training metrics and the colorized samples are logged to a new timestamped directory
// under --logdir, in TensorBoard format and as PNG files.
//
// Hyperparameters can be changed with --set, e.g.: --set="num_epochs=10;batch_size=32;color_space=ycbcr".
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/colorize/pkg/colorize"
	"github.com/gomlx/gomlx/ui/commandline"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagTrain = flag.String("train", "", "Glob pattern (or directory) of the training TFRecord files.")
	flagTest  = flag.String("test", "", "Glob pattern (or directory) of the validation TFRecord files. "+
		"If empty, no validation is done.")
	flagLogDir    = flag.String("logdir", "logs", "Base directory for the logs: each run creates a new subdirectory.")
	flagVerbosity = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose. "+
		"Set to -1 to disable the progress bar.")
)

func main() {
	// Flags with context settings.
	ctx := colorize.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()

	paramsSet, err := commandline.ParseContextSettings(ctx, *settings)
	if err != nil {
		klog.Errorf("Invalid --set: %+v", err)
		os.Exit(1)
	}
	logDir, err := colorize.TrainModel(ctx, colorize.Config{
		TrainPattern: *flagTrain,
		TestPattern:  *flagTest,
		LogDir:       *flagLogDir,
		Verbosity:    *flagVerbosity,
		ParamsSet:    paramsSet,
	})
	if err != nil {
		klog.Errorf("Training failed: %+v", err)
		os.Exit(1)
	}
	if *flagVerbosity >= 0 {
		fmt.Printf("Logs written to %q\n", logDir)
	}
}
