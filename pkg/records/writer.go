// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package records

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gomlx/colorize/internal/tfexample"
	"github.com/gomlx/colorize/internal/tfrecord"
	"github.com/pkg/errors"
)

// ImageFileToExample reads an image file and returns a tf.Example with the encoded image (ImageKey) and its
// file name, dimensions and format.
//
// If resize > 0 the image is decoded (honoring the EXIF orientation), resized to resize x resize and re-encoded.
// Images in formats imaging can't encode are re-encoded as PNG.
func ImageFileToExample(filePath string, resize int) (tfexample.Example, error) {
	encoded, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read image %q", filePath)
	}
	config, format, err := image.DecodeConfig(bytes.NewReader(encoded))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %q", filePath)
	}
	width, height := config.Width, config.Height
	if resize > 0 {
		img, err := imaging.Decode(bytes.NewReader(encoded), imaging.AutoOrientation(true))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decode image %q", filePath)
		}
		img = imaging.Resize(img, resize, resize, imaging.Lanczos)
		outFormat, err := imaging.FormatFromFilename(filePath)
		if err != nil {
			outFormat = imaging.PNG
		}
		var buf bytes.Buffer
		if err = imaging.Encode(&buf, img, outFormat); err != nil {
			return nil, errors.Wrapf(err, "failed to encode resized image %q", filePath)
		}
		encoded = buf.Bytes()
		width, height = resize, resize
		format = strings.ToLower(outFormat.String())
	}
	return tfexample.Example{
		ImageKey:    tfexample.BytesFeature(encoded),
		FilenameKey: tfexample.BytesFeature([]byte(filepath.Base(filePath))),
		HeightKey:   tfexample.Int64Feature(int64(height)),
		WidthKey:    tfexample.Int64Feature(int64(width)),
		FormatKey:   tfexample.BytesFeature([]byte(format)),
	}, nil
}

// ShardWriter writes tf.Example records to TFRecord files named "<prefix>-<shard>.tfrecord", starting a new
// file every shardSize records.
type ShardWriter struct {
	prefix     string
	shardSize  int
	numInShard int
	files      []string
	file       *os.File
	records    *tfrecord.Writer
}

// NewShardWriter creates the directory of prefix if needed. If shardSize <= 0 all records go to one file.
func NewShardWriter(prefix string, shardSize int) (*ShardWriter, error) {
	if dir := filepath.Dir(prefix); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "failed to create output directory %q", dir)
		}
	}
	return &ShardWriter{prefix: prefix, shardSize: shardSize}, nil
}

// Files returns the files created so far.
func (sw *ShardWriter) Files() []string { return sw.files }

// Write appends the example to the current shard, starting a new one if needed.
func (sw *ShardWriter) Write(example tfexample.Example) error {
	if sw.file == nil || (sw.shardSize > 0 && sw.numInShard >= sw.shardSize) {
		if err := sw.closeShard(); err != nil {
			return err
		}
		filePath := fmt.Sprintf("%s-%05d.tfrecord", sw.prefix, len(sw.files))
		f, err := os.Create(filePath)
		if err != nil {
			return errors.Wrapf(err, "failed to create %q", filePath)
		}
		sw.file = f
		sw.records = tfrecord.NewWriter(f)
		sw.files = append(sw.files, filePath)
		sw.numInShard = 0
	}
	sw.numInShard++
	return sw.records.Write(tfexample.Marshal(example))
}

func (sw *ShardWriter) closeShard() error {
	if sw.file == nil {
		return nil
	}
	filePath := sw.file.Name()
	err := sw.records.Flush()
	if closeErr := sw.file.Close(); err == nil {
		err = closeErr
	}
	sw.file, sw.records = nil, nil
	if err != nil {
		return errors.Wrapf(err, "failed to close %q", filePath)
	}
	return nil
}

// Close the current shard.
func (sw *ShardWriter) Close() error {
	return sw.closeShard()
}
