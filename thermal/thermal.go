// Copyright 2019 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package thermal renders temperature grids into images.
//
// It is decoupled from any particular sensor: the input is a row major
// []float32 of temperatures in °C plus its dimensions, so it works with
// mlx90640.Frame.Pix or any other radiometric source.
package thermal

import (
	"image"
	"image/color"

	"github.com/chewxy/math32"
)

// Default span of the false color scale, in °C. It frames indoor scenes
// with people in them; use Range for automatic gain.
const (
	DefaultMin float32 = 15
	DefaultMax float32 = 35
)

// inferno is a 9 anchor approximation of matplotlib's perceptually uniform
// inferno colormap.
var inferno = [9][3]float32{
	{0.001462, 0.000466, 0.013866},
	{0.087411, 0.044556, 0.224813},
	{0.258234, 0.038571, 0.406485},
	{0.416331, 0.090203, 0.432943},
	{0.645581, 0.133503, 0.392508},
	{0.798216, 0.280197, 0.469538},
	{0.924870, 0.517763, 0.295662},
	{0.987622, 0.809330, 0.145357},
	{0.988362, 0.998364, 0.644924},
}

// Inferno maps a normalized intensity to a color, black body style: dark
// purple through red and orange to near white.
//
// v is clamped to [0, 1]. NaN renders as 0.
func Inferno(v float32) color.NRGBA {
	if !(v > 0) {
		v = 0
	} else if v > 1 {
		v = 1
	}
	pos := v * float32(len(inferno)-1)
	i := int(pos)
	if i == len(inferno)-1 {
		c := inferno[i]
		return color.NRGBA{channel(c[0]), channel(c[1]), channel(c[2]), 255}
	}
	f := pos - float32(i)
	a, b := inferno[i], inferno[i+1]
	return color.NRGBA{
		channel(a[0] + (b[0]-a[0])*f),
		channel(a[1] + (b[1]-a[1])*f),
		channel(a[2] + (b[2]-a[2])*f),
		255,
	}
}

func channel(v float32) uint8 {
	return uint8(v*255 + 0.5)
}

// Range returns the lowest and highest finite temperatures of the grid.
//
// Non finite values are skipped; a grid without any finite value returns
// (0, 0).
func Range(pix []float32) (lo, hi float32) {
	first := true
	for _, t := range pix {
		if math32.IsNaN(t) || math32.IsInf(t, 0) {
			continue
		}
		if first {
			lo, hi = t, t
			first = false
			continue
		}
		if t < lo {
			lo = t
		}
		if t > hi {
			hi = t
		}
	}
	return
}

// Image renders the grid as a false color image, lo mapping to the bottom
// of the inferno palette and hi to the top.
//
// len(pix) must be at least w*h. lo >= hi renders everything at mid scale.
func Image(pix []float32, w, h int, lo, hi float32) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	span := hi - lo
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float32(0.5)
			if span > 0 {
				v = (pix[y*w+x] - lo) / span
			}
			img.SetNRGBA(x, y, Inferno(v))
		}
	}
	return img
}

// GrayImage renders the grid as 16 bit grayscale, lo mapping to black and
// hi to white. Handy for post processing pipelines that want raw intensity
// rather than a palette.
func GrayImage(pix []float32, w, h int, lo, hi float32) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, w, h))
	span := hi - lo
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float32(0.5)
			if span > 0 {
				v = (pix[y*w+x] - lo) / span
			}
			if !(v > 0) {
				v = 0
			} else if v > 1 {
				v = 1
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(v*65535 + 0.5)})
		}
	}
	return img
}
