// Copyright 2019 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mlx90640

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEEFieldRoundTrip(t *testing.T) {
	fields := []struct {
		name string
		f    eeField
	}{
		{"kVdd", eeKVdd},
		{"vdd25", eeVdd25},
		{"kvPTAT", eeKvPTAT},
		{"ktPTAT", eeKtPTAT},
		{"vPTAT25", eeVPTAT25},
		{"alphaPTAT", eeAlphaPTAT},
		{"gain", eeGain},
		{"tgc", eeTgc},
		{"ksTa", eeKsTa},
		{"adcRes", eeADCRes},
		{"ksToScale", eeKsToScale},
		{"ksTo1", eeKsTo1},
		{"ksTo2", eeKsTo2},
		{"ksTo3", eeKsTo3},
		{"ksTo4", eeKsTo4},
		{"ctStep", eeCtStep},
		{"ct2", eeCt2},
		{"ct3", eeCt3},
		{"alphaScale", eeAlphaScale},
		{"alphaRef", eeAlphaRef},
		{"offsetRef", eeOffsetRef},
		{"ktaScale1", eeKtaScale1},
		{"ktaScale2", eeKtaScale2},
		{"kvScale", eeKvScale},
		{"ktaRoCo", eeKtaRoCo},
		{"ktaReCo", eeKtaReCo},
		{"ktaRoCe", eeKtaRoCe},
		{"ktaReCe", eeKtaReCe},
		{"kvRoCo", eeKvRoCo},
		{"kvReCo", eeKvReCo},
		{"kvRoCe", eeKvRoCe},
		{"kvReCe", eeKvReCe},
		{"cpAlpha0", eeCpAlpha0},
		{"cpAlphaDelta", eeCpAlphaDelta},
		{"cpOffset0", eeCpOffset0},
		{"cpOffsetDelta", eeCpOffsetDelta},
		{"cpKta", eeCpKta},
		{"cpKv", eeCpKv},
		{"ilChess1", eeILChess1},
		{"ilChess2", eeILChess2},
		{"ilChess3", eeILChess3},
	}
	rnd := rand.New(rand.NewSource(1))
	ee := make([]uint16, EEPROMWords)
	for _, l := range fields {
		f := l.f
		lo, hi := 0, 1<<f.width-1
		if f.signed {
			lo, hi = -1<<(f.width-1), 1<<(f.width-1)-1
		}
		values := []int{lo, hi, 0}
		for i := 0; i < 5; i++ {
			values = append(values, lo+rnd.Intn(hi-lo+1))
		}
		for _, v := range values {
			// Surround the field with junk to catch mask slips.
			ee[f.word] = uint16(rnd.Intn(1 << 16))
			put(ee, f, v)
			assert.Equal(t, v, f.raw(ee), "%s <- %d", l.name, v)
		}
	}
}

func TestParseEEPROMScalars(t *testing.T) {
	p, err := ParseEEPROM(calibEEPROM())
	require.NoError(t, err)
	assert.Equal(t, [3]uint16{0x1503, 0x0A2F, 0x5D18}, p.ID)
	assert.Equal(t, int16(-3168), p.KVdd)
	assert.Equal(t, int16(-13664), p.Vdd25)
	assert.Equal(t, float32(0), p.KvPTAT)
	assert.InDelta(t, 42.125, p.KtPTAT, 1e-6)
	assert.Equal(t, int16(16384), p.VPTAT25)
	assert.InDelta(t, 8.0, p.AlphaPTAT, 1e-6)
	assert.Equal(t, int16(4096), p.GainEE)
	assert.Equal(t, float32(0), p.Tgc)
	assert.Equal(t, float32(0), p.KsTa)
	assert.Equal(t, uint8(2), p.ResolutionEE)
	assert.Equal(t, [5]int16{-40, 0, 160, 260, 400}, p.Ct)
	assert.InDelta(t, -2.0/2048, p.KsTo[0], 1e-9)
	assert.InDelta(t, -2.0/2048, p.KsTo[3], 1e-9)
	assert.InDelta(t, -0.0002, p.KsTo[4], 1e-9)
	assert.Equal(t, uint8(0x80), p.CalibrationModeEE)
	assert.Empty(t, p.BrokenPixels)
	assert.Empty(t, p.OutlierPixels)
}

func TestParseEEPROMPlanes(t *testing.T) {
	p, err := ParseEEPROM(calibEEPROM())
	require.NoError(t, err)
	// (4100+8)/2^35 inverted through the fixed point unit is 8.364, which
	// quantizes with 12 doublings.
	assert.Equal(t, uint8(12), p.AlphaScale)
	assert.InDelta(t, 34260, float64(p.Alpha[0]), 2)
	assert.Equal(t, uint8(14), p.KtaScale)
	assert.Equal(t, int8(64), p.Kta[0])
	assert.Equal(t, uint8(6), p.KvScale)
	assert.Equal(t, int8(64), p.Kv[0])
	for pix := 1; pix < PixelCount; pix++ {
		assert.Equal(t, p.Alpha[0], p.Alpha[pix])
		assert.Equal(t, p.Offset[0], p.Offset[pix])
	}
	assert.Equal(t, int16(0), p.Offset[0])
}

func TestParseEEPROMOffsetPlane(t *testing.T) {
	ee := calibEEPROM()
	put(ee, eeOffsetRef, -5000)
	put(ee, eeOccRowScale, 2)
	put(ee, eeOccColScale, 1)
	put(ee, eeOccRemScale, 3)
	// Row 1 contributes -3<<2, column 2 contributes 5<<1.
	ee[18] = 0xD0  // Rows 0..3: 0, -3, 0, 0.
	ee[24] = 0x500 // Columns 0..3: 0, 0, 5, 0.
	pix := 1*Width + 2
	ee[64+pix] = ee[64+pix]&^uint16(0xFC00) | uint16(-2&0x3F)<<10
	p, err := ParseEEPROM(ee)
	require.NoError(t, err)
	assert.Equal(t, int16(-5000-12+10-16), p.Offset[pix])
	assert.Equal(t, int16(-5000), p.Offset[0])
}

func TestParseEEPROMLength(t *testing.T) {
	_, err := ParseEEPROM(make([]uint16, 831))
	assert.ErrorIs(t, err, ErrInvalidSetting)
	_, err = ParseEEPROM(make([]uint16, 840))
	assert.ErrorIs(t, err, ErrInvalidSetting)
}

func TestParseEEPROMMalformed(t *testing.T) {
	mutations := []struct {
		name string
		mod  func(ee []uint16)
	}{
		{"device variant", func(ee []uint16) { ee[10] |= 0x0040 }},
		{"zero kVdd", func(ee []uint16) { put(ee, eeKVdd, 0) }},
		{"zero ktPTAT", func(ee []uint16) { put(ee, eeKtPTAT, 0) }},
		{"zero gain", func(ee []uint16) { put(ee, eeGain, 0) }},
		{"dead kv plane", func(ee []uint16) { ee[52] = 0 }},
		{"dead kta plane", func(ee []uint16) {
			ee[54] = 0
			ee[55] = 0
			for pix := 0; pix < PixelCount; pix++ {
				ee[64+pix] &^= 0x000E
			}
		}},
		{"absurd sensitivity", func(ee []uint16) {
			put(ee, eeAlphaRef, 0)
			for pix := 0; pix < PixelCount; pix++ {
				ee[64+pix] &^= 0x03F0
			}
		}},
	}
	for _, m := range mutations {
		ee := calibEEPROM()
		m.mod(ee)
		_, err := ParseEEPROM(ee)
		assert.ErrorIs(t, err, ErrMalformedEEPROM, m.name)
	}
}

func TestParseEEPROMDeviatingPixels(t *testing.T) {
	ee := calibEEPROM()
	ee[64+70] = 0   // Broken.
	ee[64+200] |= 1 // Outlier.
	ee[64+300] = 0  // Broken.
	p, err := ParseEEPROM(ee)
	require.NoError(t, err)
	assert.Equal(t, []uint16{70, 300}, p.BrokenPixels)
	assert.Equal(t, []uint16{200}, p.OutlierPixels)
}

func TestParseEEPROMTooManyBadPixels(t *testing.T) {
	t.Run("broken", func(t *testing.T) {
		ee := calibEEPROM()
		for _, pix := range []int{0, 100, 200, 300, 400} {
			ee[64+pix] = 0
		}
		_, err := ParseEEPROM(ee)
		assert.ErrorIs(t, err, ErrTooManyBadPixels)
	})
	t.Run("outliers", func(t *testing.T) {
		ee := calibEEPROM()
		for _, pix := range []int{0, 100, 200, 300, 400} {
			ee[64+pix] |= 1
		}
		_, err := ParseEEPROM(ee)
		assert.ErrorIs(t, err, ErrTooManyBadPixels)
	})
	t.Run("combined", func(t *testing.T) {
		ee := calibEEPROM()
		ee[64+0] = 0
		ee[64+100] = 0
		ee[64+200] = 0
		ee[64+300] |= 1
		ee[64+400] |= 1
		_, err := ParseEEPROM(ee)
		assert.ErrorIs(t, err, ErrTooManyBadPixels)
	})
	t.Run("adjacent", func(t *testing.T) {
		// Two defects one row apart cannot both be repaired from healthy
		// neighbors.
		ee := calibEEPROM()
		ee[64+100] = 0
		ee[64+132] |= 1
		_, err := ParseEEPROM(ee)
		assert.ErrorIs(t, err, ErrTooManyBadPixels)
	})
	t.Run("spread out", func(t *testing.T) {
		ee := calibEEPROM()
		ee[64+100] = 0
		ee[64+134] |= 1
		_, err := ParseEEPROM(ee)
		assert.NoError(t, err)
	})
}

func TestAdjacent(t *testing.T) {
	assert.True(t, adjacent(0, 1))
	assert.True(t, adjacent(1, 0))
	assert.True(t, adjacent(0, 31))
	assert.True(t, adjacent(0, 32))
	assert.True(t, adjacent(0, 33))
	assert.True(t, adjacent(65, 33))
	assert.False(t, adjacent(0, 2))
	assert.False(t, adjacent(0, 34))
	assert.False(t, adjacent(0, 64))
}

// put writes a raw field value into an EEPROM image, the inverse of
// eeField.raw.
func put(ee []uint16, f eeField, v int) {
	mask := uint16(1<<f.width-1) << f.shift
	ee[f.word] = ee[f.word]&^mask | uint16(v)<<f.shift&mask
}
