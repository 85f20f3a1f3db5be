// Copyright 2019 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mlx90640

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// gradientImage returns a full image where every pixel holds its own index,
// so any unexpected write is visible.
func gradientImage() []float32 {
	to := make([]float32, PixelCount)
	for i := range to {
		to[i] = float32(i)
	}
	return to
}

func TestCorrectBadPixelsNoop(t *testing.T) {
	to := gradientImage()
	CorrectBadPixels(to, nil, nil)
	assert.Equal(t, gradientImage(), to)
}

func TestCorrectBadPixelsInterior(t *testing.T) {
	to := gradientImage()
	pix := uint16(5*Width + 7)
	CorrectBadPixels(to, []uint16{pix}, nil)
	// Up and down neighbors cancel around the center, left and right too.
	assert.Equal(t, float32(pix), to[pix])
	to[pix+1] = 1000
	CorrectBadPixels(to, []uint16{pix}, nil)
	assert.InDelta(t, (float32(pix-32)+float32(pix+32)+float32(pix-1)+1000)/4, to[pix], 1e-4)
}

func TestCorrectBadPixelsCorner(t *testing.T) {
	to := gradientImage()
	CorrectBadPixels(to, []uint16{0}, nil)
	// Only right (1) and down (32) exist.
	assert.Equal(t, float32(1+32)/2, to[0])

	to = gradientImage()
	last := uint16(PixelCount - 1)
	CorrectBadPixels(to, []uint16{last}, nil)
	assert.Equal(t, (float32(last-1)+float32(last-32))/2, to[last])
}

func TestCorrectBadPixelsEdge(t *testing.T) {
	to := gradientImage()
	pix := uint16(10 * Width) // Left edge, middle row.
	CorrectBadPixels(to, []uint16{pix}, nil)
	assert.Equal(t, (float32(pix-32)+float32(pix+32)+float32(pix+1))/3, to[pix])
}

func TestCorrectBadPixelsSkipsDefective(t *testing.T) {
	to := gradientImage()
	pix := uint16(5*Width + 7)
	defective := make([]bool, PixelCount)
	defective[pix] = true
	defective[pix-1] = true
	defective[pix+1] = true
	CorrectBadPixels(to, []uint16{pix}, defective)
	assert.Equal(t, (float32(pix-32)+float32(pix+32))/2, to[pix])
	assert.False(t, defective[pix], "repaired pixel must become usable")
	assert.True(t, defective[pix-1])
}

func TestCorrectBadPixelsIsolated(t *testing.T) {
	// All four neighbors untrusted: the pixel keeps its value.
	to := gradientImage()
	pix := uint16(5*Width + 7)
	defective := make([]bool, PixelCount)
	for _, q := range []uint16{pix - 32, pix + 32, pix - 1, pix + 1} {
		defective[q] = true
	}
	CorrectBadPixels(to, []uint16{pix}, defective)
	assert.Equal(t, float32(pix), to[pix])
}

func TestCorrectBadPixelsOrdering(t *testing.T) {
	// Broken first, then outliers, on a sloped field where the order shows:
	// the broken pixel averages its three trusted neighbors and its repaired
	// value then feeds the outlier next door.
	to := gradientImage()
	broken := uint16(5*Width + 7)
	outlier := broken + 1
	to[broken] = 400
	to[outlier] = -60

	defective := make([]bool, PixelCount)
	defective[broken] = true
	defective[outlier] = true
	CorrectBadPixels(to, []uint16{broken}, defective)
	// (135 + 199 + 166) / 3: the outlier's garbage is masked out.
	b := (float32(broken-32) + float32(broken+32) + float32(broken-1)) / 3
	assert.InDelta(t, b, to[broken], 1e-4)
	CorrectBadPixels(to, []uint16{outlier}, defective)
	// The repaired 166.667 stands in for the broken neighbor.
	o := (float32(outlier-32) + float32(outlier+32) + float32(outlier+1) + b) / 4
	assert.InDelta(t, o, to[outlier], 1e-4)
}

func TestCorrectBadPixelsOrderingReversed(t *testing.T) {
	// Outliers before broken pixels settles on different numbers than the
	// broken-first order: 168.333 and 167.083 instead of 166.667 and 167.917.
	to := gradientImage()
	broken := uint16(5*Width + 7)
	outlier := broken + 1

	defective := make([]bool, PixelCount)
	defective[broken] = true
	defective[outlier] = true
	CorrectBadPixels(to, []uint16{outlier}, defective)
	o := (float32(outlier-32) + float32(outlier+32) + float32(outlier+1)) / 3
	assert.InDelta(t, o, to[outlier], 1e-4)
	CorrectBadPixels(to, []uint16{broken}, defective)
	assert.InDelta(t, (float32(broken-32)+float32(broken+32)+float32(broken-1)+o)/4, to[broken], 1e-4)
}

func TestCorrectBadPixelsOutOfRange(t *testing.T) {
	to := gradientImage()
	CorrectBadPixels(to, []uint16{PixelCount, 0xFFFF}, nil)
	assert.Equal(t, gradientImage(), to)
}
