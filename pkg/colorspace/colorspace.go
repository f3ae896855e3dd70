// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package colorspace splits RGB colors into one luminance channel and two chrominance channels, and back.
//
// All values, on both sides of the conversion, are normalized to [0, 1].
package colorspace

import (
	"math"
	"slices"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
)

// Space converts between RGB and a (luminance, chrominance1, chrominance2) representation.
type Space interface {
	// Name of the color space, as accepted by ByName.
	Name() string

	// ChannelNames returns the names of the luminance and the two chrominance channels.
	ChannelNames() [3]string

	// Split converts an RGB color to luminance and two chrominance values.
	Split(r, g, b float64) (l, c1, c2 float64)

	// Merge converts back to RGB. Results are clamped to [0, 1].
	Merge(l, c1, c2 float64) (r, g, b float64)
}

// Default color space name.
const Default = "lab"

var registry = map[string]Space{
	"lab":   Lab{},
	"ycbcr": YCbCr{},
	"rgb":   RGB{},
}

// Names returns the sorted names of the registered color spaces.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ByName returns the color space with the given name (case-insensitive).
// An empty name returns the Default space.
func ByName(name string) (Space, error) {
	if name == "" {
		name = Default
	}
	s, found := registry[strings.ToLower(name)]
	if !found {
		return nil, errors.Errorf("unknown color space %q, valid values are %q", name, Names())
	}
	return s, nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Lab is the CIE L*a*b* space with D65 white reference.
//
// L is in [0, 100] and a, b are roughly in [-128, 127] in the usual scale: they are normalized
// as L/100 and (a+128)/255.
type Lab struct{}

// Name implements Space.
func (Lab) Name() string { return "lab" }

// ChannelNames implements Space.
func (Lab) ChannelNames() [3]string { return [3]string{"L", "a", "b"} }

// go-colorful uses L in [0, 1] and a, b scaled by 1/100.
const labScale = 100.0

// Split implements Space.
func (Lab) Split(r, g, b float64) (l, c1, c2 float64) {
	l, a, bb := colorful.Color{R: r, G: g, B: b}.Lab()
	return l, (a*labScale + 128) / 255, (bb*labScale + 128) / 255
}

// Merge implements Space.
func (Lab) Merge(l, c1, c2 float64) (r, g, b float64) {
	c := colorful.Lab(l, (c1*255-128)/labScale, (c2*255-128)/labScale).Clamped()
	return c.R, c.G, c.B
}

// YCbCr is the JPEG (full range BT.601) YCbCr space.
type YCbCr struct{}

// Name implements Space.
func (YCbCr) Name() string { return "ycbcr" }

// ChannelNames implements Space.
func (YCbCr) ChannelNames() [3]string { return [3]string{"Y", "Cb", "Cr"} }

// Split implements Space.
func (YCbCr) Split(r, g, b float64) (y, cb, cr float64) {
	y = 0.299*r + 0.587*g + 0.114*b
	cb = -0.168736*r - 0.331264*g + 0.5*b + 0.5
	cr = 0.5*r - 0.418688*g - 0.081312*b + 0.5
	return
}

// Merge implements Space.
func (YCbCr) Merge(y, cb, cr float64) (r, g, b float64) {
	cb -= 0.5
	cr -= 0.5
	r = clamp01(y + 1.402*cr)
	g = clamp01(y - 0.344136*cb - 0.714136*cr)
	b = clamp01(y + 1.772*cb)
	return
}

// RGB doesn't convert anything: the red channel is taken as "luminance" and green and blue as the
// "chrominance" channels.
type RGB struct{}

// Name implements Space.
func (RGB) Name() string { return "rgb" }

// ChannelNames implements Space.
func (RGB) ChannelNames() [3]string { return [3]string{"R", "G", "B"} }

// Split implements Space.
func (RGB) Split(r, g, b float64) (float64, float64, float64) { return r, g, b }

// Merge implements Space.
func (RGB) Merge(r, g, b float64) (float64, float64, float64) {
	return clamp01(r), clamp01(g), clamp01(b)
}
