// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package colorspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testColors = [][3]float64{
	{0, 0, 0},
	{1, 1, 1},
	{1, 0, 0},
	{0, 1, 0},
	{0, 0, 1},
	{0.25, 0.5, 0.75},
	{0.9, 0.3, 0.1},
}

func TestRoundTrip(t *testing.T) {
	tolerances := map[string]float64{"lab": 1e-3, "rgb": 1e-9, "ycbcr": 1.0 / 255}
	for _, name := range Names() {
		space, err := ByName(name)
		require.NoError(t, err)
		delta := tolerances[name]
		for _, c := range testColors {
			l, c1, c2 := space.Split(c[0], c[1], c[2])
			r, g, b := space.Merge(l, c1, c2)
			assert.InDeltaf(t, c[0], r, delta, "%s: red of %v", name, c)
			assert.InDeltaf(t, c[1], g, delta, "%s: green of %v", name, c)
			assert.InDeltaf(t, c[2], b, delta, "%s: blue of %v", name, c)
		}
	}
}

func TestKnownValues(t *testing.T) {
	lab := Lab{}
	l, a, b := lab.Split(1, 1, 1)
	assert.InDelta(t, 1.0, l, 1e-3)
	assert.InDelta(t, 128.0/255, a, 1e-3)
	assert.InDelta(t, 128.0/255, b, 1e-3)

	l, _, _ = lab.Split(0, 0, 0)
	assert.InDelta(t, 0.0, l, 1e-6)

	y, cb, cr := YCbCr{}.Split(0.5, 0.5, 0.5)
	assert.InDelta(t, 0.5, y, 1e-6)
	assert.InDelta(t, 0.5, cb, 1e-6)
	assert.InDelta(t, 0.5, cr, 1e-6)

	// Normalized values stay within [0, 1].
	for _, space := range []Space{Lab{}, YCbCr{}} {
		for _, c := range testColors {
			l, c1, c2 := space.Split(c[0], c[1], c[2])
			for _, v := range []float64{l, c1, c2} {
				assert.GreaterOrEqualf(t, v, -1e-6, "%s: split of %v", space.Name(), c)
				assert.LessOrEqualf(t, v, 1+1e-6, "%s: split of %v", space.Name(), c)
			}
		}
	}
}

func TestByName(t *testing.T) {
	s, err := ByName("")
	require.NoError(t, err)
	assert.Equal(t, Default, s.Name())

	s, err = ByName("YCbCr")
	require.NoError(t, err)
	assert.Equal(t, "ycbcr", s.Name())
	assert.Equal(t, [3]string{"Y", "Cb", "Cr"}, s.ChannelNames())

	_, err = ByName("hsv")
	require.Error(t, err)
	assert.Equal(t, []string{"lab", "rgb", "ycbcr"}, Names())
}
