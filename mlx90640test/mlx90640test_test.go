// Copyright 2019 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mlx90640test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maruel/go-mlx90640/mlx90640"
)

func TestSensor(t *testing.T) {
	s := New()
	d, err := mlx90640.New(s, nil)
	require.NoError(t, err)
	require.NoError(t, d.Init())
	require.Equal(t, []uint16{BrokenPixel}, d.Params().BrokenPixels)
	require.Equal(t, []uint16{OutlierPixel}, d.Params().OutlierPixels)

	f1, err := d.ReadFrame(mlx90640.CaptureAll)
	require.NoError(t, err)
	assert.Equal(t, 0, f1.Subpage)
	f2, err := d.ReadFrame(mlx90640.CaptureAll)
	require.NoError(t, err)
	assert.Equal(t, 1, f2.Subpage)
	assert.Equal(t, 2, f2.FrameCount)

	// Both subpages are in: the scene must look like a warm room with a few
	// hot blobs.
	assert.InDelta(t, 25.0, f2.TAmbient, 1.0)
	assert.InDelta(t, 3.3, f2.VDD, 0.01)
	lo, hi := f2.Min(), f2.Max()
	assert.Greater(t, lo, float32(15.0), "background must stay warm")
	assert.Less(t, lo, float32(24.0))
	assert.Greater(t, hi, float32(26.0), "a blob must stand out")
	assert.Less(t, hi, float32(45.0))

	// The factory flagged pixels were repaired to the mean of their live
	// neighbors, which belong to the other subpage.
	for _, pix := range []int{BrokenPixel, OutlierPixel} {
		mean := (f2.Pix[pix-mlx90640.Width] + f2.Pix[pix+mlx90640.Width] +
			f2.Pix[pix-1] + f2.Pix[pix+1]) / 4
		assert.InDelta(t, mean, f2.Pix[pix], 1e-3, "pixel %d", pix)
	}
}

func TestSensorUncorrected(t *testing.T) {
	s := New()
	d, err := mlx90640.New(s, nil)
	require.NoError(t, err)
	require.NoError(t, d.Init())

	// Capture both subpages without any repair.
	_, err = d.ReadFrame(mlx90640.CaptureOpts{})
	require.NoError(t, err)
	f, err := d.ReadFrame(mlx90640.CaptureOpts{})
	require.NoError(t, err)

	// The broken pixel reads an implausible temperature, the outlier sits a
	// few degrees above its surroundings.
	assert.Greater(t, f.Pix[BrokenPixel], float32(100.0))
	assert.Greater(t, f.Pix[OutlierPixel], f.Pix[OutlierPixel-1]+2)
}

func TestSensorRealTime(t *testing.T) {
	s := New()
	s.RealTime = true
	d, err := mlx90640.New(s, &mlx90640.Opts{RefreshRate: mlx90640.RefreshRate64Hz})
	require.NoError(t, err)
	require.NoError(t, d.Init())

	// The first measurement is free, the next two must each wait out a
	// 15.6ms subpage period.
	_, err = d.ReadFrame(mlx90640.CaptureOpts{})
	require.NoError(t, err)
	start := time.Now()
	for i := 0; i < 2; i++ {
		_, err = d.ReadFrame(mlx90640.CaptureOpts{})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
