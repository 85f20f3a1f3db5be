// Copyright 2019 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mlx90640

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVdd(t *testing.T) {
	p, err := ParseEEPROM(calibEEPROM())
	require.NoError(t, err)
	assert.InDelta(t, 3.3, p.Vdd(rawFrame(0)), 1e-6)
}

func TestVddResolutionMismatch(t *testing.T) {
	// The ADC ran at 19 bits while the calibration assumed 18: the supply
	// channel word is worth half as much.
	p, err := ParseEEPROM(calibEEPROM())
	require.NoError(t, err)
	raw := rawFrame(0)
	raw[rawControl] = raw[rawControl]&^ctrlResMask | uint16(Resolution19Bit)<<ctrlResShift
	// 0.5*-13664 - -13664 = 6832, divided by kVdd -3168 then offset by 3.3.
	assert.InDelta(t, 6832.0/-3168+3.3, p.Vdd(raw), 1e-3)
}

func TestTa(t *testing.T) {
	p, err := ParseEEPROM(calibEEPROM())
	require.NoError(t, err)
	assert.InDelta(t, 25.0, p.Ta(rawFrame(0)), 1e-6)
}

func TestCalculateToFlatField(t *testing.T) {
	// Zero IR signal against a 25°C ambient must read 25°C on every pixel
	// of the captured subpage.
	p, err := ParseEEPROM(calibEEPROM())
	require.NoError(t, err)
	raw := rawFrame(0)
	ta := p.Ta(raw)
	var to [PixelCount]float32
	for i := range to {
		to[i] = -1000
	}
	p.CalculateTo(raw, 1.0, ta, to[:])
	seen := 0
	for pix, v := range to {
		if v == -1000 {
			continue
		}
		seen++
		assert.InDelta(t, 25.0, v, 1e-3, "pixel %d", pix)
	}
	assert.Equal(t, PixelCount/2, seen)
}

func TestCalculateToSubpages(t *testing.T) {
	// Chess readout: consecutive subpages write complementary halves and a
	// pair of captures covers every pixel exactly once.
	p, err := ParseEEPROM(calibEEPROM())
	require.NoError(t, err)
	var to [PixelCount]float32
	for i := range to {
		to[i] = -1000
	}
	raw := rawFrame(0)
	p.CalculateTo(raw, 1.0, 25, to[:])
	first := 0
	for pix, v := range to {
		if v != -1000 {
			first++
			row := pix / Width
			col := pix % Width
			assert.Equal(t, 0, (row+col)%2, "pixel %d belongs to subpage 1", pix)
		}
	}
	assert.Equal(t, PixelCount/2, first)

	raw = rawFrame(1)
	p.CalculateTo(raw, 1.0, 25, to[:])
	for pix, v := range to {
		assert.NotEqual(t, float32(-1000), v, "pixel %d never written", pix)
	}
}

func TestCalculateToEmissivity(t *testing.T) {
	// A shinier target (lower emissivity) with a positive IR signal must
	// read hotter: the same signal is attributed to a weaker emitter.
	p, err := ParseEEPROM(calibEEPROM())
	require.NoError(t, err)
	raw := rawFrame(0)
	raw[0] = 500
	var full, shiny [PixelCount]float32
	p.CalculateTo(raw, 1.0, 25, full[:])
	p.CalculateTo(raw, 0.95, 25, shiny[:])
	assert.Greater(t, full[0], float32(25.0))
	assert.Greater(t, shiny[0], full[0])
}

func TestCalculateToColdReflection(t *testing.T) {
	// A sky colder than ambient reflecting off the target: the shinier the
	// target, the further the compensation must push the reading above the
	// blackbody value, monotonically in emissivity.
	p, err := ParseEEPROM(calibEEPROM())
	require.NoError(t, err)
	raw := rawFrame(0)
	raw[0] = 500
	prev := float32(25.0)
	for _, e := range []float32{1.0, 0.5, 0.1} {
		var to [PixelCount]float32
		p.CalculateTo(raw, e, 17, to[:])
		assert.Greater(t, to[0], prev, "emissivity %g", e)
		prev = to[0]
	}
}

func TestCalculateToUntouchedTail(t *testing.T) {
	// Pixels of the other subpage keep whatever the caller accumulated.
	p, err := ParseEEPROM(calibEEPROM())
	require.NoError(t, err)
	var to [PixelCount]float32
	to[1] = 42 // Pixel 1 is on subpage 1 in chess mode.
	p.CalculateTo(rawFrame(0), 1.0, 25, to[:])
	assert.Equal(t, float32(42), to[1])
}

// calibEEPROM returns a synthetic calibration whose coefficients make round
// numbers: unity gain, 3.3V supply and 25°C ambient come out exact.
func calibEEPROM() []uint16 {
	ee := make([]uint16, EEPROMWords)
	ee[7] = 0x1503 // Device ID.
	ee[8] = 0x0A2F
	ee[9] = 0x5D18
	ee[32] = 0x5000 // Sensitivity scale 35, CP scale 32.
	ee[33] = 4100   // Sensitivity reference.
	ee[48] = 4096   // Gain.
	ee[49] = 0x4000 // vPTAT25 = 16384.
	ee[50] = 337    // ktPTAT = 42.125, kvPTAT = 0.
	ee[51] = 0x9D55 // kVdd = -3168, vdd25 = -13664.
	ee[52] = 0x1111 // kv bases.
	ee[56] = 0x2000 // 18 bits ADC calibration, kta scale 8, kv scale 0.
	ee[57] = 0x0100 // CP sensitivity.
	ee[61] = 0xFEFE // ksTo ≈ -0.001 in every range.
	ee[62] = 0xFEFE
	ee[63] = 0x2583 // Range boundaries 0, 160, 260°C.
	for pix := 0; pix < PixelCount; pix++ {
		// Sensitivity remainder 8, kta remainder 1, zero offset, healthy.
		ee[64+pix] = 8<<4 | 1<<1
	}
	return ee
}

// rawFrame returns a raw snapshot of subpage sp as captured against the
// calibEEPROM device: zero IR signal, 3.3V supply, 25°C die.
func rawFrame(sp int) []uint16 {
	raw := make([]uint16, FrameWords)
	raw[rawVBE] = 8192
	raw[rawGain] = 4096
	raw[rawPTAT] = 1024
	raw[rawVddPix] = 0xCAA0  // -13664, equal to vdd25: exactly 3.3V.
	raw[rawControl] = 0x1A81 // Chess readout, 18 bits, 16Hz.
	raw[rawSubpage] = uint16(sp)
	return raw
}
