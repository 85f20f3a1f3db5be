// Copyright 2019 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mlx90640

// neighborhood is the set of orthogonal neighbor offsets, as row and column
// deltas. Diagonals are left out: they belong to the same subpage as the
// pixel being repaired, so their values are one capture staler.
var neighborhood = [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}

// CorrectBadPixels replaces each listed pixel with the mean of its in
// bounds orthogonal neighbors.
//
// to is a full image of PixelCount temperatures, row major. defective marks
// pixels whose current value must not contribute to any mean; every pixel is
// cleared from it once repaired. Running a pass over the broken list
// followed by one over the outlier list therefore lets an outlier average
// over freshly repaired broken neighbors, while a broken pixel never
// averages over an uncorrected outlier. defective may be nil when every
// neighbor is trustworthy.
//
// A pixel with no usable neighbor keeps its value. Out of range indices in
// pixels are ignored.
func CorrectBadPixels(to []float32, pixels []uint16, defective []bool) {
	for _, pix := range pixels {
		if int(pix) >= len(to) {
			continue
		}
		row := int(pix) / Width
		col := int(pix) % Width
		sum := float32(0)
		n := 0
		for _, d := range neighborhood {
			r := row + d[0]
			c := col + d[1]
			if r < 0 || r >= Height || c < 0 || c >= Width {
				continue
			}
			q := r*Width + c
			if defective != nil && defective[q] {
				continue
			}
			sum += to[q]
			n++
		}
		if n > 0 {
			to[pix] = sum / float32(n)
		}
		if defective != nil {
			defective[pix] = false
		}
	}
}
