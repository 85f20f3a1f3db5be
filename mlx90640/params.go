// Copyright 2019 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mlx90640

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Geometry of the pixel array.
const (
	// Width is the number of columns.
	Width = 32
	// Height is the number of rows.
	Height = 24
	// PixelCount is the total number of pixels in one image.
	PixelCount = Width * Height

	// EEPROMWords is the size of the calibration EEPROM in 16 bits words,
	// datasheet §8.2.2.
	EEPROMWords = 832
)

// scaleAlpha is the fixed point unit of the sensitivity plane.
const scaleAlpha = 0.000001

// eeField locates one calibration coefficient inside the EEPROM image:
// which word, which bits and how to read them. A div of 0 means 1.
type eeField struct {
	word   int     // Word offset in the EEPROM image.
	shift  uint    // Bit offset of the field LSB.
	width  uint    // Field width in bits.
	signed bool    // Two's complement over width bits.
	div    float32 // Scale divisor applied by value().
}

// raw extracts the field's integer value, sign extended when applicable.
func (f eeField) raw(ee []uint16) int {
	v := int(ee[f.word]>>f.shift) & (1<<f.width - 1)
	if f.signed && v >= 1<<(f.width-1) {
		v -= 1 << f.width
	}
	return v
}

// value extracts the field scaled to its physical unit.
func (f eeField) value(ee []uint16) float32 {
	d := f.div
	if d == 0 {
		d = 1
	}
	return float32(f.raw(ee)) / d
}

// Calibration coefficient locations, datasheet §8.2.2. Coefficients whose
// scale is itself stored in the EEPROM keep div 1 here and are divided
// during extraction.
var (
	eeKVdd      = eeField{word: 51, shift: 8, width: 8, signed: true}
	eeVdd25     = eeField{word: 51, shift: 0, width: 8}
	eeKvPTAT    = eeField{word: 50, shift: 10, width: 6, signed: true, div: 4096}
	eeKtPTAT    = eeField{word: 50, shift: 0, width: 10, signed: true, div: 8}
	eeVPTAT25   = eeField{word: 49, shift: 0, width: 16, signed: true}
	eeAlphaPTAT = eeField{word: 16, shift: 12, width: 4, div: 4}
	eeGain      = eeField{word: 48, shift: 0, width: 16, signed: true}
	eeTgc       = eeField{word: 60, shift: 0, width: 8, signed: true, div: 32}
	eeKsTa      = eeField{word: 60, shift: 8, width: 8, signed: true, div: 8192}
	eeADCRes    = eeField{word: 56, shift: 12, width: 2}

	eeKsToScale = eeField{word: 63, shift: 0, width: 4}
	eeKsTo1     = eeField{word: 61, shift: 0, width: 8, signed: true}
	eeKsTo2     = eeField{word: 61, shift: 8, width: 8, signed: true}
	eeKsTo3     = eeField{word: 62, shift: 0, width: 8, signed: true}
	eeKsTo4     = eeField{word: 62, shift: 8, width: 8, signed: true}
	eeCtStep    = eeField{word: 63, shift: 12, width: 2}
	eeCt2       = eeField{word: 63, shift: 4, width: 4}
	eeCt3       = eeField{word: 63, shift: 8, width: 4}

	eeAlphaScale  = eeField{word: 32, shift: 12, width: 4}
	eeAccRemScale = eeField{word: 32, shift: 0, width: 4}
	eeAccColScale = eeField{word: 32, shift: 4, width: 4}
	eeAccRowScale = eeField{word: 32, shift: 8, width: 4}
	eeAlphaRef    = eeField{word: 33, shift: 0, width: 16}
	eeOffsetRef   = eeField{word: 17, shift: 0, width: 16, signed: true}
	eeOccRemScale = eeField{word: 16, shift: 0, width: 4}
	eeOccColScale = eeField{word: 16, shift: 4, width: 4}
	eeOccRowScale = eeField{word: 16, shift: 8, width: 4}
	eeKtaScale1   = eeField{word: 56, shift: 4, width: 4}
	eeKtaScale2   = eeField{word: 56, shift: 0, width: 4}
	eeKvScale     = eeField{word: 56, shift: 8, width: 4}
	// Base kta and kv coefficients by pixel parity class. Ro/Re is odd/even
	// row, Co/Ce odd/even column, rows and columns numbered from 1.
	eeKtaRoCo = eeField{word: 54, shift: 8, width: 8, signed: true}
	eeKtaReCo = eeField{word: 54, shift: 0, width: 8, signed: true}
	eeKtaRoCe = eeField{word: 55, shift: 8, width: 8, signed: true}
	eeKtaReCe = eeField{word: 55, shift: 0, width: 8, signed: true}
	eeKvRoCo  = eeField{word: 52, shift: 12, width: 4, signed: true}
	eeKvReCo  = eeField{word: 52, shift: 8, width: 4, signed: true}
	eeKvRoCe  = eeField{word: 52, shift: 4, width: 4, signed: true}
	eeKvReCe  = eeField{word: 52, shift: 0, width: 4, signed: true}

	eeCpAlpha0      = eeField{word: 57, shift: 0, width: 10, signed: true}
	eeCpAlphaDelta  = eeField{word: 57, shift: 10, width: 6, signed: true, div: 128}
	eeCpOffset0     = eeField{word: 58, shift: 0, width: 10, signed: true}
	eeCpOffsetDelta = eeField{word: 58, shift: 10, width: 6, signed: true}
	eeCpKta         = eeField{word: 59, shift: 0, width: 8, signed: true}
	eeCpKv          = eeField{word: 59, shift: 8, width: 8, signed: true}

	eeILChess1 = eeField{word: 53, shift: 0, width: 6, signed: true, div: 16}
	eeILChess2 = eeField{word: 53, shift: 6, width: 5, signed: true, div: 2}
	eeILChess3 = eeField{word: 53, shift: 11, width: 5, signed: true, div: 8}
)

// Params is the factory calibration of one device, decoded from its EEPROM.
//
// The per pixel planes are kept the way the datasheet quantizes them, an
// integer per pixel plus one shared power of two scale, so the conversion
// arithmetic matches the device documentation bit for bit.
type Params struct {
	// ID is the unique device identifier burned in at the factory.
	ID [3]uint16

	KVdd    int16
	Vdd25   int16
	KvPTAT  float32
	KtPTAT  float32
	VPTAT25 int16
	// AlphaPTAT relates the two ambient temperature sensors.
	AlphaPTAT float32

	GainEE       int16
	Tgc          float32
	KsTa         float32
	ResolutionEE uint8

	// KsTo and Ct split the object temperature domain in four ranges with a
	// sensitivity slope each. Ct[1..3] are the range boundaries in °C.
	KsTo [5]float32
	Ct   [5]int16

	Alpha      [PixelCount]uint16 // Sensitivity, scaled by 2^-AlphaScale*scaleAlpha... see CalculateTo.
	AlphaScale uint8
	Offset     [PixelCount]int16
	Kta        [PixelCount]int8 // Offset slope over ambient temperature.
	KtaScale   uint8
	Kv         [PixelCount]int8 // Offset slope over supply voltage.
	KvScale    uint8

	// Compensation pixel calibration, one set per subpage.
	CpAlpha  [2]float32
	CpOffset [2]int16
	CpKta    float32
	CpKv     float32

	// Interleaved readout corrections, only applied when the readout pattern
	// differs from the one used during factory calibration.
	IlChessC          [3]float32
	CalibrationModeEE uint8

	// Factory flagged defective pixels, at most 4 in total. Broken pixels
	// return no signal at all; outliers deviate beyond the datasheet limits.
	BrokenPixels  []uint16
	OutlierPixels []uint16
}

// ParseEEPROM decodes a full calibration EEPROM dump.
//
// The input must be exactly EEPROMWords long. The decode is pure: no bus
// traffic happens and the input is not retained.
func ParseEEPROM(ee []uint16) (*Params, error) {
	if len(ee) != EEPROMWords {
		return nil, fmt.Errorf("mlx90640: EEPROM dump is %d words, expected %d: %w", len(ee), EEPROMWords, ErrInvalidSetting)
	}
	if ee[10]&0x0040 != 0 {
		return nil, fmt.Errorf("mlx90640: unsupported device variant: %w", ErrMalformedEEPROM)
	}
	p := &Params{}
	copy(p.ID[:], ee[7:10])
	if err := p.extractVdd(ee); err != nil {
		return nil, err
	}
	if err := p.extractPTAT(ee); err != nil {
		return nil, err
	}
	if err := p.extractGain(ee); err != nil {
		return nil, err
	}
	p.Tgc = eeTgc.value(ee)
	p.KsTa = eeKsTa.value(ee)
	p.ResolutionEE = uint8(eeADCRes.raw(ee))
	p.extractKsTo(ee)
	p.extractCP(ee)
	if err := p.extractAlpha(ee); err != nil {
		return nil, err
	}
	p.extractOffset(ee)
	if err := p.extractKta(ee); err != nil {
		return nil, err
	}
	if err := p.extractKv(ee); err != nil {
		return nil, err
	}
	p.CalibrationModeEE = uint8((ee[10]&0x0800)>>4) ^ 0x80
	p.IlChessC[0] = eeILChess1.value(ee)
	p.IlChessC[1] = eeILChess2.value(ee)
	p.IlChessC[2] = eeILChess3.value(ee)
	if err := p.extractDeviatingPixels(ee); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Params) extractVdd(ee []uint16) error {
	p.KVdd = int16(eeKVdd.raw(ee) * 32)
	p.Vdd25 = int16((eeVdd25.raw(ee)-256)*32 - 8192)
	if p.KVdd == 0 {
		return fmt.Errorf("mlx90640: zero kVdd coefficient: %w", ErrMalformedEEPROM)
	}
	return nil
}

func (p *Params) extractPTAT(ee []uint16) error {
	p.KvPTAT = eeKvPTAT.value(ee)
	p.KtPTAT = eeKtPTAT.value(ee)
	p.VPTAT25 = int16(eeVPTAT25.raw(ee))
	p.AlphaPTAT = eeAlphaPTAT.value(ee) + 8
	if p.KtPTAT == 0 {
		return fmt.Errorf("mlx90640: zero ktPTAT coefficient: %w", ErrMalformedEEPROM)
	}
	return nil
}

func (p *Params) extractGain(ee []uint16) error {
	p.GainEE = int16(eeGain.raw(ee))
	if p.GainEE == 0 {
		return fmt.Errorf("mlx90640: zero gain coefficient: %w", ErrMalformedEEPROM)
	}
	return nil
}

func (p *Params) extractKsTo(ee []uint16) {
	step := int16(eeCtStep.raw(ee) * 10)
	p.Ct[0] = -40
	p.Ct[1] = 0
	p.Ct[2] = int16(eeCt2.raw(ee)) * step
	p.Ct[3] = p.Ct[2] + int16(eeCt3.raw(ee))*step
	p.Ct[4] = 400
	scale := float32(int32(1) << uint(eeKsToScale.raw(ee)+8))
	p.KsTo[0] = eeKsTo1.value(ee) / scale
	p.KsTo[1] = eeKsTo2.value(ee) / scale
	p.KsTo[2] = eeKsTo3.value(ee) / scale
	p.KsTo[3] = eeKsTo4.value(ee) / scale
	p.KsTo[4] = -0.0002
}

func (p *Params) extractCP(ee []uint16) {
	cpAlphaScale := math32.Pow(2, float32(eeAlphaScale.raw(ee)+27))
	p.CpAlpha[0] = eeCpAlpha0.value(ee) / cpAlphaScale
	p.CpAlpha[1] = (1 + eeCpAlphaDelta.value(ee)) * p.CpAlpha[0]
	p.CpOffset[0] = int16(eeCpOffset0.raw(ee))
	p.CpOffset[1] = int16(eeCpOffsetDelta.raw(ee)) + p.CpOffset[0]
	ktaScale1 := uint(eeKtaScale1.raw(ee) + 8)
	kvScale := uint(eeKvScale.raw(ee))
	p.CpKta = eeCpKta.value(ee) / float32(int32(1)<<ktaScale1)
	p.CpKv = eeCpKv.value(ee) / float32(int32(1)<<kvScale)
}

// signedBits extracts a two's complement field of width bits at shift.
func signedBits(w uint16, shift, width uint) int {
	v := int(w>>shift) & (1<<width - 1)
	if v >= 1<<(width-1) {
		v -= 1 << width
	}
	return v
}

// signedNibbles unpacks consecutive 4 bits two's complement values, low
// nibble first.
func signedNibbles(ws []uint16, out []int) {
	for i := range out {
		out[i] = signedBits(ws[i/4], 4*(uint(i)%4), 4)
	}
}

// roundAway rounds half away from zero, the quantization rule the datasheet
// uses for the per pixel planes.
func roundAway(v float32) float32 {
	if v < 0 {
		return v - 0.5
	}
	return v + 0.5
}

// planeScale returns how many doublings spread a plane whose largest
// magnitude is m over the quantization range just below limit.
func planeScale(m, limit float32) (uint8, error) {
	if !(m > 0) || math32.IsInf(m, 1) {
		return 0, fmt.Errorf("mlx90640: degenerate calibration plane: %w", ErrMalformedEEPROM)
	}
	var s uint8
	for m < limit {
		m *= 2
		s++
	}
	return s, nil
}

func (p *Params) extractAlpha(ee []uint16) error {
	remScale := uint(eeAccRemScale.raw(ee))
	colScale := uint(eeAccColScale.raw(ee))
	rowScale := uint(eeAccRowScale.raw(ee))
	alphaScale := float32(eeAlphaScale.raw(ee) + 30)
	ref := eeAlphaRef.raw(ee)
	var accRow [Height]int
	var accCol [Width]int
	signedNibbles(ee[34:40], accRow[:])
	signedNibbles(ee[40:48], accCol[:])

	div := math32.Pow(2, alphaScale)
	cp := p.Tgc * (p.CpAlpha[0] + p.CpAlpha[1]) / 2
	var plane [PixelCount]float32
	max := float32(0)
	for i := 0; i < Height; i++ {
		for j := 0; j < Width; j++ {
			pix := Width*i + j
			rem := signedBits(ee[64+pix], 4, 6) << remScale
			a := float32(ref+accRow[i]<<rowScale+accCol[j]<<colScale+rem) / div
			a = scaleAlpha / (a - cp)
			if !(a > 0) || math32.IsInf(a, 1) {
				return fmt.Errorf("mlx90640: unusable sensitivity for pixel %d: %w", pix, ErrMalformedEEPROM)
			}
			plane[pix] = a
			if a > max {
				max = a
			}
		}
	}
	scale, err := planeScale(max, 32767.4)
	if err != nil {
		return err
	}
	mul := math32.Pow(2, float32(scale))
	for i, a := range plane {
		p.Alpha[i] = uint16(a*mul + 0.5)
	}
	p.AlphaScale = scale
	return nil
}

func (p *Params) extractOffset(ee []uint16) {
	remScale := uint(eeOccRemScale.raw(ee))
	colScale := uint(eeOccColScale.raw(ee))
	rowScale := uint(eeOccRowScale.raw(ee))
	ref := eeOffsetRef.raw(ee)
	var occRow [Height]int
	var occCol [Width]int
	signedNibbles(ee[18:24], occRow[:])
	signedNibbles(ee[24:32], occCol[:])

	for i := 0; i < Height; i++ {
		for j := 0; j < Width; j++ {
			pix := Width*i + j
			rem := signedBits(ee[64+pix], 10, 6) << remScale
			p.Offset[pix] = int16(ref + occRow[i]<<rowScale + occCol[j]<<colScale + rem)
		}
	}
}

// kvktaSplit returns which of the four row/column parity classes a pixel
// belongs to. The kta and kv planes store one base coefficient per class.
func kvktaSplit(pix int) int {
	return 2*(pix/32-(pix/64)*2) + pix%2
}

func (p *Params) extractKta(ee []uint16) error {
	base := [4]float32{
		float32(eeKtaRoCo.raw(ee)),
		float32(eeKtaRoCe.raw(ee)),
		float32(eeKtaReCo.raw(ee)),
		float32(eeKtaReCe.raw(ee)),
	}
	scale1 := math32.Pow(2, float32(eeKtaScale1.raw(ee)+8))
	scale2 := uint(eeKtaScale2.raw(ee))

	var plane [PixelCount]float32
	max := float32(0)
	for pix := 0; pix < PixelCount; pix++ {
		rem := signedBits(ee[64+pix], 1, 3) << scale2
		v := (base[kvktaSplit(pix)] + float32(rem)) / scale1
		plane[pix] = v
		if math32.Abs(v) > max {
			max = math32.Abs(v)
		}
	}
	scale, err := planeScale(max, 63.4)
	if err != nil {
		return err
	}
	mul := math32.Pow(2, float32(scale))
	for i, v := range plane {
		p.Kta[i] = int8(roundAway(v * mul))
	}
	p.KtaScale = scale
	return nil
}

func (p *Params) extractKv(ee []uint16) error {
	base := [4]float32{
		float32(eeKvRoCo.raw(ee)),
		float32(eeKvRoCe.raw(ee)),
		float32(eeKvReCo.raw(ee)),
		float32(eeKvReCe.raw(ee)),
	}
	scale1 := math32.Pow(2, float32(eeKvScale.raw(ee)))

	var plane [PixelCount]float32
	max := float32(0)
	for pix := 0; pix < PixelCount; pix++ {
		v := base[kvktaSplit(pix)] / scale1
		plane[pix] = v
		if math32.Abs(v) > max {
			max = math32.Abs(v)
		}
	}
	scale, err := planeScale(max, 63.4)
	if err != nil {
		return err
	}
	mul := math32.Pow(2, float32(scale))
	for i, v := range plane {
		p.Kv[i] = int8(roundAway(v * mul))
	}
	p.KvScale = scale
	return nil
}

// adjacent reports whether two linear pixel indices touch, diagonals
// included.
func adjacent(a, b uint16) bool {
	d := int(a) - int(b)
	if d < 0 {
		d = -d
	}
	return d == 1 || (d >= Width-1 && d <= Width+1)
}

func (p *Params) extractDeviatingPixels(ee []uint16) error {
	for pix := 0; pix < PixelCount && len(p.BrokenPixels) < 5 && len(p.OutlierPixels) < 5; pix++ {
		if ee[64+pix] == 0 {
			p.BrokenPixels = append(p.BrokenPixels, uint16(pix))
		} else if ee[64+pix]&0x0001 != 0 {
			p.OutlierPixels = append(p.OutlierPixels, uint16(pix))
		}
	}
	switch {
	case len(p.BrokenPixels) > 4:
		return fmt.Errorf("mlx90640: %d broken pixels: %w", len(p.BrokenPixels), ErrTooManyBadPixels)
	case len(p.OutlierPixels) > 4:
		return fmt.Errorf("mlx90640: %d outlier pixels: %w", len(p.OutlierPixels), ErrTooManyBadPixels)
	case len(p.BrokenPixels)+len(p.OutlierPixels) > 4:
		return fmt.Errorf("mlx90640: %d defective pixels: %w", len(p.BrokenPixels)+len(p.OutlierPixels), ErrTooManyBadPixels)
	}
	// At most 4 defects in total past the checks above.
	var all [4]uint16
	n := copy(all[:], p.BrokenPixels)
	n += copy(all[n:], p.OutlierPixels)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if adjacent(all[i], all[j]) {
				return fmt.Errorf("mlx90640: defective pixels %d and %d are adjacent: %w", all[i], all[j], ErrTooManyBadPixels)
			}
		}
	}
	return nil
}
