// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package summary

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "train")
	w, err := NewWriter(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, w.Dir())
	assert.True(t, strings.HasPrefix(filepath.Base(w.FilePath()), "events.out.tfevents."))

	require.NoError(t, w.Scalar("loss", 10, 0.25))

	rgb := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	for ii := 3; ii < len(rgb.Pix); ii += 4 {
		rgb.Pix[ii] = 0xFF
	}
	rgb.SetNRGBA(1, 1, color.NRGBA{R: 200, G: 10, B: 30, A: 255})
	gray := image.NewGray(image.Rect(0, 0, 4, 4))
	require.NoError(t, w.Images("Training data L channel", 0, []image.Image{gray, gray, gray}, 2))
	require.NoError(t, w.Images("0-img_result.png", 20, []image.Image{rgb}, 0))
	require.NoError(t, w.Images("nothing", 0, nil, 3))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	require.Error(t, w.Scalar("loss", 11, 0.1))

	events, err := ReadEvents(w.FilePath())
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, FileVersion, events[0].FileVersion)
	assert.Greater(t, events[0].WallTime, 1e9)

	assert.Equal(t, int64(10), events[1].Step)
	require.Len(t, events[1].Values, 1)
	assert.Equal(t, "loss", events[1].Values[0].Tag)
	assert.Equal(t, float32(0.25), events[1].Values[0].SimpleValue)
	assert.Nil(t, events[1].Values[0].Image)

	require.Len(t, events[2].Values, 2)
	assert.Equal(t, "Training data L channel/image/0", events[2].Values[0].Tag)
	assert.Equal(t, "Training data L channel/image/1", events[2].Values[1].Tag)
	assert.Equal(t, 1, events[2].Values[0].Image.Colorspace)

	require.Len(t, events[3].Values, 1)
	assert.Equal(t, int64(20), events[3].Step)
	v := events[3].Values[0]
	assert.Equal(t, "0-img_result.png", v.Tag)
	require.NotNil(t, v.Image)
	assert.Equal(t, 2, v.Image.Height)
	assert.Equal(t, 3, v.Image.Width)
	assert.Equal(t, 3, v.Image.Colorspace)
	decoded, err := png.Decode(bytes.NewReader(v.Image.Encoded))
	require.NoError(t, err)
	r, g, b, _ := decoded.At(1, 1).RGBA()
	assert.Equal(t, []uint32{200, 10, 30}, []uint32{r >> 8, g >> 8, b >> 8})

	// PNG copies.
	for _, name := range []string{
		"Training_data_L_channel_0_0.png", "Training_data_L_channel_0_1.png", "0-img_result.png_20_0.png"} {
		_, err := os.Stat(filepath.Join(dir, ImagesSubDir, name))
		assert.NoErrorf(t, err, "missing image %q", name)
	}
	_, err = os.Stat(filepath.Join(dir, ImagesSubDir, "Training_data_L_channel_0_2.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestWriterConcurrent(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	const numGoroutines, numSteps = 8, 50
	var wg sync.WaitGroup
	for ii := range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for step := range numSteps {
				assert.NoError(t, w.Scalar("metric", int64(step), float64(ii)))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	events, err := ReadEvents(w.FilePath())
	require.NoError(t, err)
	assert.Len(t, events, 1+numGoroutines*numSteps)
}

func TestSanitizeTag(t *testing.T) {
	assert.Equal(t, "Training_data_a_channel", SanitizeTag("Training data a channel"))
	assert.Equal(t, "loss_train.mae-1", SanitizeTag("loss/train.mae-1"))
}
