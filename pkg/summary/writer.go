// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package summary writes scalars and images to a log directory in the TensorBoard event file format.
//
// Images are also saved as PNG files under the "images" subdirectory, so they can be inspected without
// TensorBoard.
package summary

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gomlx/colorize/internal/tfrecord"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ImagesSubDir is the subdirectory of the log directory where images are saved as PNG files.
const ImagesSubDir = "images"

// Writer of event files. It is safe for concurrent use.
type Writer struct {
	dir, filePath string

	mu      sync.Mutex
	file    *os.File
	records *tfrecord.Writer
	closed  bool
}

// NewWriter creates dir (if needed) and a new event file in it, named
// "events.out.tfevents.<unix time>.<hostname>.<uuid>".
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create log directory %q", dir)
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}
	now := time.Now()
	fileName := fmt.Sprintf("events.out.tfevents.%d.%s.%s", now.Unix(), hostname, uuid.NewString())
	w := &Writer{dir: dir, filePath: filepath.Join(dir, fileName)}
	w.file, err = os.Create(w.filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create events file %q", w.filePath)
	}
	w.records = tfrecord.NewWriter(w.file)
	first := &Event{WallTime: wallTime(now), FileVersion: FileVersion}
	if err = w.records.Write(first.Marshal()); err != nil {
		_ = w.file.Close()
		return nil, err
	}
	klog.V(1).Infof("Writing summaries to %q", w.filePath)
	return w, nil
}

func wallTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Dir returns the log directory.
func (w *Writer) Dir() string { return w.dir }

// FilePath returns the path of the event file.
func (w *Writer) FilePath() string { return w.filePath }

func (w *Writer) write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.Errorf("summary writer for %q already closed", w.dir)
	}
	return w.records.Write(event.Marshal())
}

// Scalar logs a scalar value for the given tag and step.
func (w *Writer) Scalar(tag string, step int64, value float64) error {
	return w.write(&Event{
		WallTime: wallTime(time.Now()),
		Step:     step,
		Values:   []Value{{Tag: tag, SimpleValue: float32(value)}},
	})
}

// Images logs up to maxOutputs images (all if maxOutputs <= 0) for the given tag and step.
//
// If more than one image is logged, their tags are "<tag>/image/<i>", otherwise the tag is used as is.
// Each image is also saved as "images/<tag>_<step>_<i>.png", with the tag sanitized to be a valid file name.
func (w *Writer) Images(tag string, step int64, images []image.Image, maxOutputs int) error {
	if maxOutputs > 0 && len(images) > maxOutputs {
		images = images[:maxOutputs]
	}
	if len(images) == 0 {
		return nil
	}
	imagesDir := filepath.Join(w.dir, ImagesSubDir)
	if err := os.MkdirAll(imagesDir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create images directory %q", imagesDir)
	}
	values := make([]Value, 0, len(images))
	for ii, img := range images {
		encoded, err := encodePNG(img)
		if err != nil {
			return errors.WithMessagef(err, "image #%d of %q", ii, tag)
		}
		imgTag := tag
		if len(images) > 1 {
			imgTag = fmt.Sprintf("%s/image/%d", tag, ii)
		}
		size := img.Bounds().Size()
		values = append(values, Value{
			Tag: imgTag,
			Image: &Image{
				Height:     size.Y,
				Width:      size.X,
				Colorspace: colorspaceOf(img),
				Encoded:    encoded,
			},
		})
		pngPath := filepath.Join(imagesDir, fmt.Sprintf("%s_%d_%d.png", SanitizeTag(tag), step, ii))
		if err = os.WriteFile(pngPath, encoded, 0644); err != nil {
			return errors.Wrapf(err, "failed to save image to %q", pngPath)
		}
	}
	return w.write(&Event{WallTime: wallTime(time.Now()), Step: step, Values: values})
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "failed to encode PNG")
	}
	return buf.Bytes(), nil
}

// colorspaceOf returns the number of channels the PNG encoder writes for img.
func colorspaceOf(img image.Image) int {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return 1
	}
	if opaque, ok := img.(interface{ Opaque() bool }); ok && opaque.Opaque() {
		return 3
	}
	return 4
}

// SanitizeTag converts a tag to something usable as a file name.
func SanitizeTag(tag string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, tag)
}

// Flush buffered events to disk.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if err := w.records.Flush(); err != nil {
		return errors.Wrapf(err, "failed to flush %q", w.filePath)
	}
	return nil
}

// Close flushes and closes the event file. It can be called more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.records.Flush()
	if closeErr := w.file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return errors.Wrapf(err, "failed to close %q", w.filePath)
	}
	return nil
}
