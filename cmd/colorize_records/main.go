// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// colorize_records converts image files into sharded TFRecord files of tf.Example protos, in the format read
// by colorize: the image under "image/encoded", plus "image/filename", "image/height", "image/width" and
// "image/format".
//
// Example:
//
//	colorize_records --input=~/images/train --output=~/data/train --shard_size=1000 --resize=256
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/colorize/pkg/records"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagInput  = flag.String("input", "", "Directory or glob pattern of the image files to convert.")
	flagOutput = flag.String("output", "", "Prefix of the output files: shards are written to "+
		"\"<output>-<shard>.tfrecord\".")
	flagShardSize = flag.Int("shard_size", 1000, "Number of images per output file. If <= 0, a single file is written.")
	flagResize    = flag.Int("resize", 0, "If > 0, images are resized to resize x resize before being stored.")
	flagSkip      = flag.Bool("skip_invalid", true, "Skip files that are not valid images, instead of failing.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagInput == "" || *flagOutput == "" {
		klog.Errorf("Both --input and --output must be set. See 'colorize_records -help'.")
		os.Exit(1)
	}
	input, err := fsutil.ReplaceTildeInDir(*flagInput)
	if err == nil {
		var output string
		output, err = fsutil.ReplaceTildeInDir(*flagOutput)
		if err == nil {
			err = convert(input, output)
		}
	}
	if err != nil {
		klog.Errorf("Failed: %+v", err)
		os.Exit(1)
	}
}

func convert(input, output string) error {
	files, err := records.Glob(input)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.Errorf("no files matched --input=%q", input)
	}
	sw, err := records.NewShardWriter(output, *flagShardSize)
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("Converting"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
	)
	var numSkipped int
	for _, filePath := range files {
		example, err := records.ImageFileToExample(filePath, *flagResize)
		if err == nil {
			err = sw.Write(example)
		} else if *flagSkip {
			klog.V(1).Infof("Skipping %q: %v", filePath, err)
			numSkipped++
			err = nil
		}
		if err != nil {
			_ = sw.Close()
			return err
		}
		_ = bar.Add(1)
	}
	if err = sw.Close(); err != nil {
		return err
	}
	_ = bar.Finish()
	fmt.Println()

	stats, err := records.Count(sw.Files())
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s", stats)
	if numSkipped > 0 {
		fmt.Printf(", skipped %s invalid files", humanize.Comma(int64(numSkipped)))
	}
	fmt.Println()
	return nil
}
