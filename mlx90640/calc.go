// Copyright 2019 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mlx90640

import "github.com/chewxy/math32"

// Offsets inside a raw frame snapshot. Words 0 to 767 are the pixel ADC
// values, the rest of the measurement RAM holds auxiliary channels,
// datasheet §8.2.1. ReadFrame appends the control register and the captured
// subpage so a snapshot is self describing.
const (
	// FrameWords is the size of a raw frame snapshot in 16 bits words.
	FrameWords = 834

	rawVBE     = 768 // Ambient sensor, bipolar junction.
	rawCPSP0   = 776 // Compensation pixel of subpage 0.
	rawGain    = 778 // Gain channel.
	rawPTAT    = 800 // Ambient sensor, proportional to absolute temperature.
	rawCPSP1   = 808 // Compensation pixel of subpage 1.
	rawVddPix  = 810 // Supply voltage channel.
	rawControl = 832 // Control register 1 at capture time.
	rawSubpage = 833 // Subpage the capture refreshed, 0 or 1.
)

// signed reinterprets a raw ADC word as its two's complement value.
func signed(w uint16) float32 {
	return float32(int16(w))
}

func pow4(x float32) float32 {
	x *= x
	return x * x
}

// Vdd computes the supply voltage in volts from a raw frame snapshot.
func (p *Params) Vdd(raw []uint16) float32 {
	resRAM := (raw[rawControl] & ctrlResMask) >> ctrlResShift
	resCorr := math32.Pow(2, float32(p.ResolutionEE)) / math32.Pow(2, float32(resRAM))
	return (resCorr*signed(raw[rawVddPix])-float32(p.Vdd25))/float32(p.KVdd) + 3.3
}

// Ta computes the ambient (die) temperature in °C from a raw frame snapshot.
func (p *Params) Ta(raw []uint16) float32 {
	vdd := p.Vdd(raw)
	ptat := signed(raw[rawPTAT])
	ptatArt := ptat / (ptat*p.AlphaPTAT + signed(raw[rawVBE])) * 262144
	return (ptatArt/(1+p.KvPTAT*(vdd-3.3))-float32(p.VPTAT25))/p.KtPTAT + 25
}

// CalculateTo converts one raw frame snapshot to object temperatures in °C.
//
// emissivity scales the target radiance. tr is the reflected ambient
// temperature in °C; pass Ta when nothing better is known. Only the pixels
// belonging to the snapshot's subpage are written, the other half of to
// keeps its previous values, so alternating captures accumulate a full
// image. to must be PixelCount long.
//
// A torn snapshot whose gain word reads zero produces non finite
// temperatures; Dev.ReadFrame rejects such frames before converting.
func (p *Params) CalculateTo(raw []uint16, emissivity, tr float32, to []float32) {
	subPage := int(raw[rawSubpage])
	vdd := p.Vdd(raw)
	ta := p.Ta(raw)

	ta4 := pow4(ta + 273.15)
	tr4 := pow4(tr + 273.15)
	taTr := tr4 - (tr4-ta4)/emissivity

	ktaScale := math32.Pow(2, float32(p.KtaScale))
	kvScale := math32.Pow(2, float32(p.KvScale))
	alphaScale := math32.Pow(2, float32(p.AlphaScale))

	var alphaCorrR [4]float32
	alphaCorrR[0] = 1 / (1 + p.KsTo[0]*40)
	alphaCorrR[1] = 1
	alphaCorrR[2] = 1 + p.KsTo[1]*float32(p.Ct[2])
	alphaCorrR[3] = alphaCorrR[2] * (1 + p.KsTo[2]*float32(p.Ct[3]-p.Ct[2]))

	gain := float32(p.GainEE) / signed(raw[rawGain])
	mode := uint8((raw[rawControl] & ctrlChessMode) >> 5)

	var irDataCP [2]float32
	irDataCP[0] = signed(raw[rawCPSP0]) * gain
	irDataCP[1] = signed(raw[rawCPSP1]) * gain
	cpComp := (1 + p.CpKta*(ta-25)) * (1 + p.CpKv*(vdd-3.3))
	irDataCP[0] -= float32(p.CpOffset[0]) * cpComp
	if mode == p.CalibrationModeEE {
		irDataCP[1] -= float32(p.CpOffset[1]) * cpComp
	} else {
		irDataCP[1] -= (float32(p.CpOffset[1]) + p.IlChessC[0]) * cpComp
	}

	for pix := 0; pix < PixelCount; pix++ {
		ilPattern := pix/32 - (pix/64)*2
		pattern := ilPattern
		if mode != 0 {
			pattern = ilPattern ^ (pix % 2) // Chess readout.
		}
		if pattern != subPage {
			continue
		}

		irData := signed(raw[pix]) * gain
		kta := float32(p.Kta[pix]) / ktaScale
		kv := float32(p.Kv[pix]) / kvScale
		irData -= float32(p.Offset[pix]) * (1 + kta*(ta-25)) * (1 + kv*(vdd-3.3))
		if mode != p.CalibrationModeEE {
			conversionPattern := ((pix+2)/4 - (pix+3)/4 + (pix+1)/4 - pix/4) * (1 - 2*ilPattern)
			irData += p.IlChessC[2]*float32(2*ilPattern-1) - p.IlChessC[1]*float32(conversionPattern)
		}
		irData -= p.Tgc * irDataCP[subPage]
		irData /= emissivity

		alphaComp := scaleAlpha * alphaScale / float32(p.Alpha[pix])
		alphaComp *= 1 + p.KsTa*(ta-25)

		sx := alphaComp * alphaComp * alphaComp * (irData + alphaComp*taTr)
		sx = math32.Sqrt(math32.Sqrt(sx)) * p.KsTo[1]

		t := math32.Sqrt(math32.Sqrt(irData/(alphaComp*(1-p.KsTo[1]*273.15)+sx)+taTr)) - 273.15

		r := 3
		switch {
		case t < float32(p.Ct[1]):
			r = 0
		case t < float32(p.Ct[2]):
			r = 1
		case t < float32(p.Ct[3]):
			r = 2
		}
		to[pix] = math32.Sqrt(math32.Sqrt(irData/(alphaComp*alphaCorrR[r]*(1+p.KsTo[r]*(t-float32(p.Ct[r]))))+taTr)) - 273.15
	}
}
