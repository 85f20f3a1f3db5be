// Copyright 2019 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package mlx90640test simulates an MLX90640 so the tools and the driver
// can run without hardware.
//
// The simulated device carries a plausible uniform factory calibration, a
// couple of factory flagged defective pixels and renders warm blobs
// drifting over a room temperature background.
package mlx90640test

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/chewxy/math32"

	"github.com/maruel/go-mlx90640/mlx90640"
)

// Defective pixels flagged in the simulated calibration. The broken one
// reads an absurd value until repaired, the outlier sparkles.
const (
	BrokenPixel  = 5*mlx90640.Width + 10
	OutlierPixel = 15*mlx90640.Width + 20
)

// Background and blob temperatures rendered by the simulation, in °C. The
// rendering inverts a simplified radiometric model so the actual converted
// temperatures land within a few tenths of a degree.
const (
	backgroundTemp = 22
	blobTemp       = 35
)

// blob is one warm spot wandering over the frame.
type blob struct {
	x, y   float32 // Orbit center, in pixels.
	ax, ay float32 // Orbit amplitude, in pixels.
	w      float32 // Angular velocity, in radians per second.
	phase  float32
	radius float32 // Gaussian radius, in pixels.
	heat   float32 // Peak intensity, 1.0 renders blobTemp.
}

// Sensor simulates an MLX90640 behind its i²c register protocol. It
// implements mlx90640.Transport.
//
// Reads and writes follow the real device: the EEPROM dump decodes through
// the driver's own parser and the measurement RAM converts back to the
// simulated scene temperatures.
type Sensor struct {
	// RealTime paces measurements at the configured refresh rate instead of
	// serving one as soon as the host polls. Tools set it to mimic hardware,
	// tests leave it off to run fast.
	RealTime bool

	mu      sync.Mutex
	regs    mlx90640.RegisterMap
	control uint16
	subpage uint16
	lastAck time.Time
	start   time.Time
	rnd     *rand.Rand
	eeprom  [mlx90640.EEPROMWords]uint16
	ram     [mlx90640.EEPROMWords]uint16 // Measurement RAM, same word count.
	params  *mlx90640.Params
	blobs   []blob
}

// New returns a simulated sensor wearing the default register layout.
func New() *Sensor {
	s := &Sensor{
		regs: mlx90640.DefaultRegisterMap,
		// Power on defaults: chess readout, 18 bits, subpages alternating.
		control: 0x1901,
		start:   time.Now(),
		rnd:     rand.New(rand.NewSource(1)),
		eeprom:  calibration(),
		blobs: []blob{
			{x: 10, y: 9, ax: 6, ay: 4, w: 0.6, phase: 0, radius: 3.5, heat: 1},
			{x: 22, y: 14, ax: 5, ay: 5, w: 1.1, phase: 2.1, radius: 2, heat: 0.8},
			{x: 16, y: 12, ax: 12, ay: 8, w: 0.25, phase: 4.2, radius: 5, heat: 0.5},
		},
	}
	p, err := mlx90640.ParseEEPROM(s.eeprom[:])
	if err != nil {
		panic(fmt.Sprintf("mlx90640test: broken simulated calibration: %s", err))
	}
	s.params = p
	return s
}

// ReadWords implements mlx90640.Transport.
func (s *Sensor) ReadWords(reg uint16, out []uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case reg == s.regs.Status && len(out) == 1:
		out[0] = s.statusWord()
	case reg == s.regs.Control && len(out) == 1:
		out[0] = s.control
	case reg == s.regs.EEPROM && len(out) == len(s.eeprom):
		copy(out, s.eeprom[:])
	case reg == s.regs.Frame && len(out) == len(s.ram):
		s.measure()
		copy(out, s.ram[:])
	default:
		return fmt.Errorf("mlx90640test: unexpected read of %d words at %#04x", len(out), reg)
	}
	return nil
}

// WriteWord implements mlx90640.Transport.
func (s *Sensor) WriteWord(reg uint16, value uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch reg {
	case s.regs.Status:
		if value&0x0008 == 0 {
			// New data flag cleared: the host acknowledged the measurement.
			s.subpage ^= 1
			s.lastAck = time.Now()
		}
	case s.regs.Control:
		s.control = value
	default:
		return fmt.Errorf("mlx90640test: unexpected write of %#04x at %#04x", value, reg)
	}
	return nil
}

// statusWord reports the pending subpage with the new data flag set. In
// RealTime mode it first blocks until the measurement is due, pacing the
// host the way the hardware's own conversion clock does.
func (s *Sensor) statusWord() uint16 {
	if s.RealTime {
		if wait := s.period() - time.Since(s.lastAck); wait > 0 {
			time.Sleep(wait)
		}
	}
	return s.subpage | 0x0008
}

func (s *Sensor) period() time.Duration {
	return mlx90640.RefreshRate((s.control & 0x0380) >> 7).Period()
}

// measure renders the scene into the measurement RAM.
func (s *Sensor) measure() {
	// Auxiliary channels: 3.3V supply, 25°C die, unity gain.
	s.ram[768] = 19773  // VBE
	s.ram[776] = 0xFFB5 // Compensation pixel -75, subpage 0.
	s.ram[778] = 6656   // Gain, equal to the calibration value.
	s.ram[800] = 1600   // PTAT
	s.ram[808] = 0xFFB5 // Compensation pixel -75, subpage 1.
	s.ram[810] = 0xC880 // VddPix -14208, exactly 3.3V.

	t := float32(time.Since(s.start).Seconds())
	base := s.adcFor(backgroundTemp)
	hot := s.adcFor(blobTemp)
	for y := 0; y < mlx90640.Height; y++ {
		for x := 0; x < mlx90640.Width; x++ {
			pix := y*mlx90640.Width + x
			heat := float32(0)
			for _, b := range s.blobs {
				bx := b.x + b.ax*math32.Sin(b.w*t+b.phase)
				by := b.y + b.ay*math32.Cos(b.w*t+b.phase)
				dx := float32(x) - bx
				dy := float32(y) - by
				heat += b.heat * math32.Exp(-(dx*dx+dy*dy)/(2*b.radius*b.radius))
			}
			if heat > 1 {
				heat = 1
			}
			v := base + (hot-base)*heat + 1.5*float32(s.rnd.NormFloat64())
			s.ram[pix] = uint16(int16(v))
		}
	}
	// The defective pixels misbehave like their EEPROM flags promise.
	s.ram[BrokenPixel] = 0
	s.ram[OutlierPixel] = uint16(int16(s.adcFor(backgroundTemp) + 40))
}

// adcFor inverts the conversion at the simulated operating point: which raw
// ADC word converts back to roughly temp °C. The inversion ignores the
// range transition slopes, good enough for a simulation.
func (s *Sensor) adcFor(temp float32) float32 {
	p := s.params
	// 0.000001 is the sensitivity quantization unit from the datasheet.
	alpha := 0.000001 * math32.Pow(2, float32(p.AlphaScale)) / float32(p.Alpha[0])
	ta4 := pow4(25 + 273.15)
	irData := alpha * (pow4(temp+273.15) - ta4)
	return irData + float32(p.Offset[0])
}

func pow4(x float32) float32 {
	x *= x
	return x * x
}

// calibration builds the simulated factory EEPROM: uniform sensitivity and
// offsets, one broken and one outlier pixel.
func calibration() [mlx90640.EEPROMWords]uint16 {
	var ee [mlx90640.EEPROMWords]uint16
	ee[16] = 0x4000 // alphaPTAT 9.0, occ scales 0.
	ee[17] = 0xEBB0 // offsetRef -5200.
	ee[32] = 0x5000 // alphaScale 35, CP alphaScale 32, acc scales 0.
	ee[33] = 4100   // alphaRef
	ee[48] = 6656   // gain
	ee[49] = 12273  // vPTAT25
	ee[50] = 5<<10 | 337
	ee[51] = 0x9D44 // kVdd -3168, vdd25 -14208.
	ee[52] = 0x3333 // kv quadrants
	ee[54] = 0x2C2C // kta row/column bases
	ee[55] = 0x2C2C
	ee[56] = 0x2350      // resolution 18 bits, kvScale 3, ktaScale1 13.
	ee[57] = 0x0100      // cpAlpha
	ee[58] = 0x0400 - 75 // cpOffset -75 in its 10 bit field.
	ee[59] = 0x0210      // cpKv, cpKta
	ee[60] = 38 << 8
	ee[61] = 0xFEFE // ksTo -0.000977 in every range.
	ee[62] = 0xFEFE
	ee[63] = 0x2583 // range boundaries 0, 160, 260°C.
	for pix := 0; pix < mlx90640.PixelCount; pix++ {
		// Offset remainder 2, alpha remainder 8, kta remainder 2.
		ee[64+pix] = 2<<10 | 8<<4 | 2<<1
	}
	ee[64+BrokenPixel] = 0
	ee[64+OutlierPixel] |= 1
	return ee
}

var _ mlx90640.Transport = &Sensor{}
