// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package records

import (
	"image"
	"io"
	"os"
	"sync"

	"github.com/gomlx/colorize/internal/tfrecord"
	"github.com/gomlx/colorize/pkg/colorspace"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Config of a Dataset.
type Config struct {
	// BatchSize is the number of images per Yield.
	BatchSize int

	// ImageSize is the height and width images are resized to.
	ImageSize int

	// ColorSpace used to split the images in luminance and chrominance. Defaults to colorspace.Lab.
	ColorSpace colorspace.Space

	// DType of the yielded tensors. Defaults to dtypes.Float32.
	DType dtypes.DType

	// DropIncompleteBatch drops the last batch of an epoch if it has fewer than BatchSize images.
	DropIncompleteBatch bool

	// Infinite makes the Dataset loop over the files forever. Use it with train.Loop.RunSteps.
	Infinite bool

	// SkipInvalid logs and skips records that fail to parse, instead of returning an error.
	SkipInvalid bool
}

// Dataset reads images from TFRecord files and implements train.Dataset.
//
// Yield returns inputs=[luminance] shaped [batch, size, size, 1] and labels=[chrominance] shaped
// [batch, size, size, 2]. The spec returned is the *Dataset itself.
//
// Files and records are read in order. Reading raw records is serialized, but the decoding happens
// outside the lock, so Yield can be called concurrently (see datasets.CustomParallel).
type Dataset struct {
	name   string
	files  []string
	config Config

	// mu protects the reading state below.
	mu        sync.Mutex
	fileIdx   int
	file      *os.File
	reader    *tfrecord.Reader
	exhausted bool

	// passes counts how many times an infinite dataset looped back to the first file, and validPass
	// is the value of passes when a valid image was last parsed.
	passes, validPass int
}

var _ train.Dataset = (*Dataset)(nil)

// rawRecord is a record not yet decoded, with its origin for error messages.
type rawRecord struct {
	data     []byte
	filePath string
	index    int
}

// NewDataset creates a Dataset over the given TFRecord files.
func NewDataset(name string, files []string, config Config) (*Dataset, error) {
	if config.BatchSize <= 0 {
		return nil, errors.Errorf("invalid batch size %d for dataset %q", config.BatchSize, name)
	}
	if config.ImageSize <= 0 {
		return nil, errors.Errorf("invalid image size %d for dataset %q", config.ImageSize, name)
	}
	if config.ColorSpace == nil {
		config.ColorSpace = colorspace.Lab{}
	}
	if config.DType == dtypes.InvalidDType {
		config.DType = dtypes.Float32
	}
	if config.DType != dtypes.Float32 && config.DType != dtypes.Float64 {
		return nil, errors.Errorf("dataset %q: dtype %s not supported, use Float32 or Float64", name, config.DType)
	}
	return &Dataset{
		name:   name,
		files:  files,
		config: config,
	}, nil
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// ShortName implements train.HasShortName.
func (ds *Dataset) ShortName() string {
	if len(ds.name) <= 5 {
		return ds.name
	}
	return ds.name[:5]
}

// Config returns the dataset configuration, with the defaults filled in.
func (ds *Dataset) Config() Config { return ds.config }

// Files returns the list of files read by the dataset.
func (ds *Dataset) Files() []string { return ds.files }

// Reset implements train.Dataset. It restarts reading from the first file.
func (ds *Dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.lockedCloseFile()
	ds.fileIdx = 0
	ds.exhausted = false
}

func (ds *Dataset) lockedCloseFile() {
	if ds.file != nil {
		_ = ds.file.Close()
		ds.file = nil
		ds.reader = nil
	}
}

// lockedNextRecord returns the next raw record, moving on to the next files as needed.
// It returns io.EOF at the end of the last file, or loops back if the dataset is infinite.
func (ds *Dataset) lockedNextRecord() (raw rawRecord, err error) {
	loopedWithoutRecords := false
	for {
		if ds.exhausted {
			return raw, io.EOF
		}
		if ds.reader == nil {
			if ds.fileIdx >= len(ds.files) {
				if !ds.config.Infinite || len(ds.files) == 0 || loopedWithoutRecords {
					ds.exhausted = true
					if ds.config.Infinite && len(ds.files) > 0 {
						return raw, errors.Errorf("infinite dataset %q has no records in %d files", ds.name, len(ds.files))
					}
					return raw, io.EOF
				}
				ds.fileIdx = 0
				ds.passes++
				loopedWithoutRecords = true
			}
			filePath := ds.files[ds.fileIdx]
			ds.file, err = os.Open(filePath)
			if err != nil {
				ds.exhausted = true
				return raw, errors.Wrapf(err, "dataset %q failed to open %q", ds.name, filePath)
			}
			ds.reader = tfrecord.NewReader(ds.file)
		}
		filePath := ds.files[ds.fileIdx]
		index := ds.reader.Count()
		raw.data, err = ds.reader.Next()
		if err == io.EOF {
			ds.lockedCloseFile()
			ds.fileIdx++
			continue
		}
		if err != nil {
			ds.exhausted = true
			ds.lockedCloseFile()
			return raw, errors.Wrapf(err, "dataset %q failed reading record #%d of %q", ds.name, index, filePath)
		}
		raw.filePath = filePath
		raw.index = index
		return raw, nil
	}
}

// readBatch returns up to BatchSize raw records, and the number of passes over the files so far.
func (ds *Dataset) readBatch() (batch []rawRecord, passes int, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	batch = make([]rawRecord, 0, ds.config.BatchSize)
	for len(batch) < ds.config.BatchSize {
		raw, err := ds.lockedNextRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, ds.passes, err
		}
		batch = append(batch, raw)
	}
	if len(batch) == 0 || (ds.config.DropIncompleteBatch && len(batch) < ds.config.BatchSize) {
		return nil, ds.passes, io.EOF
	}
	return batch, ds.passes, nil
}

// noValidSince reports whether no valid image was parsed since pass startPass, and the dataset has
// looped back twice since then: so at least one full pass over the files was all invalid.
func (ds *Dataset) noValidSince(startPass, passes int) bool {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return passes-max(startPass, ds.validPass) >= 2
}

func (ds *Dataset) markValid(passes int) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.validPass = max(ds.validPass, passes)
}

// YieldImages returns the next batch as images resized to ImageSize x ImageSize, in RGB.
// These are the images before the color space split, and can be used for displaying.
//
// It returns io.EOF at the end of the epoch. With SkipInvalid on an infinite dataset, it returns an
// error once a full pass over the files yields no valid image.
func (ds *Dataset) YieldImages() ([]image.Image, error) {
	startPass := -1
	for {
		batch, passes, err := ds.readBatch()
		if err != nil {
			return nil, err
		}
		if startPass < 0 {
			startPass = passes
		}
		images := make([]image.Image, 0, len(batch))
		for _, raw := range batch {
			img, err := ParseRecord(raw.data, ds.config.ImageSize)
			if err != nil {
				err = errors.WithMessagef(err, "dataset %q, record #%d of %q", ds.name, raw.index, raw.filePath)
				if !ds.config.SkipInvalid {
					return nil, err
				}
				klog.Warningf("Skipping invalid record: %v", err)
				continue
			}
			images = append(images, img)
		}
		if len(images) > 0 {
			ds.markValid(passes)
			return images, nil
		}
		if ds.noValidSince(startPass, passes) {
			return nil, errors.Errorf("dataset %q has no valid records in a full pass over its %d files",
				ds.name, len(ds.files))
		}
		// All records in the batch were invalid: try the next batch.
	}
}

// Yield implements train.Dataset.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	spec = ds
	var images []image.Image
	images, err = ds.YieldImages()
	if err != nil {
		return
	}
	var luminance, chrominance *tensors.Tensor
	luminance, chrominance, err = ImageToTensors(images, ds.config.ColorSpace, ds.config.DType)
	if err != nil {
		return
	}
	inputs = []*tensors.Tensor{luminance}
	labels = []*tensors.Tensor{chrominance}
	return
}
