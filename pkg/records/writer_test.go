// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package records

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/colorize/internal/tfexample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageFileToExample(t *testing.T) {
	dir := t.TempDir()
	pngPath := filepath.Join(dir, "red.png")
	require.NoError(t, os.WriteFile(pngPath, encodePNG(t, uniformImage(30, 20, red)), 0644))
	jpegPath := filepath.Join(dir, "blue.jpg")
	require.NoError(t, os.WriteFile(jpegPath, encodeJPEG(t, uniformImage(10, 40, blue)), 0644))

	example, err := ImageFileToExample(pngPath, 0)
	require.NoError(t, err)
	width, _ := example.Int64(WidthKey)
	height, _ := example.Int64(HeightKey)
	assert.Equal(t, []int64{30, 20}, []int64{width, height})
	format, _ := example.Bytes(FormatKey)
	assert.Equal(t, "png", string(format))
	name, _ := example.Bytes(FilenameKey)
	assert.Equal(t, "red.png", string(name))

	img, err := ParseRecord(tfexample.Marshal(example), 8)
	require.NoError(t, err)
	assert.Equal(t, red, img.NRGBAAt(3, 3))

	example, err = ImageFileToExample(jpegPath, 16)
	require.NoError(t, err)
	width, _ = example.Int64(WidthKey)
	height, _ = example.Int64(HeightKey)
	assert.Equal(t, []int64{16, 16}, []int64{width, height})
	format, _ = example.Bytes(FormatKey)
	assert.Equal(t, "jpeg", string(format))

	_, err = ImageFileToExample(filepath.Join(dir, "missing.png"), 0)
	require.Error(t, err)
	notImage := filepath.Join(dir, "text.png")
	require.NoError(t, os.WriteFile(notImage, []byte("not an image"), 0644))
	_, err = ImageFileToExample(notImage, 0)
	require.Error(t, err)
}

func TestShardWriter(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "out", "colors")
	sw, err := NewShardWriter(prefix, 2)
	require.NoError(t, err)
	for range 5 {
		require.NoError(t, sw.Write(tfexample.Example{ImageKey: tfexample.BytesFeature(encodePNG(t, uniformImage(4, 4, green)))}))
	}
	require.NoError(t, sw.Close())
	require.NoError(t, sw.Close())
	assert.Equal(t, []string{prefix + "-00000.tfrecord", prefix + "-00001.tfrecord", prefix + "-00002.tfrecord"},
		sw.Files())

	stats, err := Count(sw.Files())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.NumRecords)

	files, err := Glob(filepath.Dir(prefix))
	require.NoError(t, err)
	assert.Equal(t, sw.Files(), files)
}
