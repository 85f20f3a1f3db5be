// Copyright 2019 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mlx90640

import (
	"image"
	"time"
)

// Metadata describes one captured frame.
type Metadata struct {
	Subpage    int       // Which checkerboard half this capture refreshed, 0 or 1.
	TAmbient   float32   // Die temperature in °C.
	VDD        float32   // Supply voltage in volts as measured by the device.
	FrameCount int       // Frames captured by this session so far.
	Time       time.Time // Host time right after the transport read.
}

// Frame is one thermal image: a temperature in °C per pixel, row major.
//
// Each capture refreshes the half of the pixels named by Metadata.Subpage;
// the other half keeps the previous capture's values, so two consecutive
// frames make a complete image.
type Frame struct {
	Pix [PixelCount]float32
	Metadata
}

// TempAt returns the temperature in °C at (x, y).
func (f *Frame) TempAt(x, y int) float32 {
	return f.Pix[y*Width+x]
}

// Bounds returns the sensor rectangle, for rendering helpers.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, Width, Height)
}

// Min returns the coldest pixel of the frame.
func (f *Frame) Min() float32 {
	m := f.Pix[0]
	for _, v := range f.Pix[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// Max returns the hottest pixel of the frame.
func (f *Frame) Max() float32 {
	m := f.Pix[0]
	for _, v := range f.Pix[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// Clone returns a copy that survives the next ReadFrame.
func (f *Frame) Clone() *Frame {
	c := *f
	return &c
}
