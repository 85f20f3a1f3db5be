// Copyright 2019 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mlx90640

import (
	"fmt"
	"time"
)

// Addr is the factory default i²c address of the MLX90640.
//
// The address is reprogrammable through EEPROM word 0x240F but every device
// ships listening on 0x33.
const Addr uint16 = 0x33

// RegisterMap describes where the device exposes its register blocks.
//
// The layout is a parameter so tests and future silicon revisions can
// relocate the blocks. Use DefaultRegisterMap unless you know better.
type RegisterMap struct {
	Status  uint16 // Status register; new data flag and last refreshed subpage.
	Control uint16 // Control register 1; rate, resolution, readout pattern.
	EEPROM  uint16 // Base of the 832 words calibration EEPROM.
	Frame   uint16 // Base of the 832 words measurement RAM.
}

// DefaultRegisterMap is the register layout of production devices, datasheet
// §8.2.
var DefaultRegisterMap = RegisterMap{
	Status:  0x8000,
	Control: 0x800D,
	EEPROM:  0x2400,
	Frame:   0x0400,
}

// Status register bits.
const (
	statusSubpage   uint16 = 0x0001 // Subpage of the measurement sitting in RAM.
	statusDataReady uint16 = 0x0008 // A new measurement is available.
	// Writing this value acknowledges the measurement and hands the RAM back
	// to the device, datasheet §8.2.1.1.
	statusClear uint16 = 0x0030
)

// Control register 1 fields.
const (
	ctrlStepMode      uint16 = 0x0004 // Cleared for continuous readout.
	ctrlSubpageRepeat uint16 = 0x0008 // Cleared to alternate subpages 0 and 1.
	ctrlRefreshMask   uint16 = 0x0380
	ctrlRefreshShift         = 7
	ctrlResMask       uint16 = 0x0C00
	ctrlResShift             = 10
	ctrlChessMode     uint16 = 0x1000 // Cleared for interleaved (TV) readout.
)

// RefreshRate is the rate at which the device refreshes one subpage.
//
// A full image is two subpages, so the net frame rate is half the subpage
// rate. Rates of 32Hz and above usually need a 1MHz bus to keep up.
type RefreshRate uint8

// Valid values for RefreshRate.
//
// The device also knows a 0.5Hz code 0; it is below the domain this driver
// supports and is rejected.
const (
	RefreshRate1Hz  RefreshRate = 1
	RefreshRate2Hz  RefreshRate = 2
	RefreshRate4Hz  RefreshRate = 3
	RefreshRate8Hz  RefreshRate = 4
	RefreshRate16Hz RefreshRate = 5
	RefreshRate32Hz RefreshRate = 6
	RefreshRate64Hz RefreshRate = 7
)

func (r RefreshRate) String() string {
	if !r.valid() {
		return fmt.Sprintf("RefreshRate(%d)", uint8(r))
	}
	return fmt.Sprintf("%dHz", r.Hz())
}

// Hz returns the subpage refresh rate in hertz.
func (r RefreshRate) Hz() int {
	if !r.valid() {
		return 0
	}
	return 1 << (r - 1)
}

// Period returns the duration of one subpage measurement.
func (r RefreshRate) Period() time.Duration {
	return (2 * time.Second) >> r
}

func (r RefreshRate) valid() bool {
	return r >= RefreshRate1Hz && r <= RefreshRate64Hz
}

// RefreshRateFromHz maps a subpage rate in hertz to its register code.
func RefreshRateFromHz(hz int) (RefreshRate, error) {
	for r := RefreshRate1Hz; r <= RefreshRate64Hz; r++ {
		if r.Hz() == hz {
			return r, nil
		}
	}
	return 0, fmt.Errorf("mlx90640: unsupported refresh rate %dHz: %w", hz, ErrInvalidSetting)
}

// Resolution is the ADC conversion depth.
type Resolution uint8

// Valid values for Resolution.
const (
	Resolution16Bit Resolution = 0
	Resolution17Bit Resolution = 1
	Resolution18Bit Resolution = 2 // Power on default.
	Resolution19Bit Resolution = 3
)

func (r Resolution) String() string {
	if r > Resolution19Bit {
		return fmt.Sprintf("Resolution(%d)", uint8(r))
	}
	return fmt.Sprintf("%dbit", 16+uint8(r))
}
