// Copyright 2019 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package mlx90640 drives a Melexis MLX90640 32x24 pixels far infrared
// thermal camera over i²c.
//
// The device measures in subpages, alternating halves of a checkerboard;
// every ReadFrame returns a full image where half the pixels were just
// refreshed. Object temperatures are computed on the host from the raw ADC
// words and the per device factory calibration stored in EEPROM.
//
// References:
// Product page:
//   https://www.melexis.com/en/product/MLX90640/
// Datasheet, including the register map (§8) and the temperature
// calculation flow (§11):
//   https://www.melexis.com/-/media/files/documents/datasheets/mlx90640-datasheet-melexis.pdf
package mlx90640

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/periph/conn/i2c"
)

// Errors returned by this package. I/O failures are wrapped with the failing
// transaction; use errors.Is to classify.
var (
	// ErrInvalidSetting is returned when a configuration value is outside
	// the domain the device accepts. Nothing is written to the device.
	ErrInvalidSetting = errors.New("mlx90640: invalid setting")
	// ErrNotInitialized is returned when an operation needs a successful Init()
	// first, or when a capture is already in flight.
	ErrNotInitialized = errors.New("mlx90640: session not initialized")
	// ErrTimeout is returned by ReadFrame when no measurement became ready
	// within Opts.Timeout. The session stays usable.
	ErrTimeout = errors.New("mlx90640: timed out waiting for a measurement")
	// ErrMalformedEEPROM is returned when the calibration data fails its
	// consistency checks.
	ErrMalformedEEPROM = errors.New("mlx90640: malformed calibration EEPROM")
	// ErrTooManyBadPixels is returned when the factory data flags more
	// defective pixels than the repair step can isolate, or defects that
	// touch each other.
	ErrTooManyBadPixels = errors.New("mlx90640: too many defective pixels")
)

// state is the session lifecycle.
type state uint8

const (
	stateUninitialized state = iota
	stateConfiguring
	stateReady
	stateCapturing
	stateFaulted
)

func (s state) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateConfiguring:
		return "configuring"
	case stateReady:
		return "ready"
	case stateCapturing:
		return "capturing"
	case stateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// CaptureOpts selects the post processing applied to one capture.
type CaptureOpts struct {
	// CorrectBroken repairs the factory flagged dead pixels.
	CorrectBroken bool
	// CorrectOutliers repairs the factory flagged noisy pixels.
	CorrectOutliers bool
}

// CaptureAll enables every repair.
var CaptureAll = CaptureOpts{CorrectBroken: true, CorrectOutliers: true}

// Stats is internal statistics about the session.
type Stats struct {
	GoodFrames     int
	Timeouts       int
	TransportFails int
	LastFail       error
}

// Opts defines the session options.
type Opts struct {
	// Regs is the device register layout. nil uses DefaultRegisterMap.
	Regs *RegisterMap
	// RefreshRate is applied during Init(). 0 defaults to RefreshRate16Hz.
	RefreshRate RefreshRate
	// Emissivity scales the target radiance, in [0.1, 1.0]. 0 defaults to
	// 1.0, a black body.
	Emissivity float32
	// Timeout bounds how long one ReadFrame waits for a measurement. 0
	// waits forever.
	Timeout time.Duration
}

// DefaultOpts is the recommended configuration: 16Hz subpage refresh, black
// body emissivity, no capture deadline.
var DefaultOpts = Opts{RefreshRate: RefreshRate16Hz, Emissivity: 1.0}

// Dev is an open session to an MLX90640.
//
// Dev owns its capture buffers: the Frame returned by ReadFrame aliases
// memory reused by the next ReadFrame, use Frame.Clone to keep one. A Dev
// must not be used concurrently; overlapping captures are rejected rather
// than interleaved on the bus.
type Dev struct {
	t       Transport
	regs    RegisterMap
	timeout time.Duration

	state      state
	params     *Params
	rate       RefreshRate
	res        Resolution
	emissivity float32
	subpage    int // Last captured subpage, -1 before the first frame.
	raw        [FrameWords]uint16
	frame      Frame
	defects    [PixelCount]bool
	stats      Stats
}

// New returns a session driving an MLX90640 through an arbitrary Transport.
//
// No bus traffic happens until Init.
func New(t Transport, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	rate := opts.RefreshRate
	if rate == 0 {
		rate = RefreshRate16Hz
	}
	if !rate.valid() {
		return nil, fmt.Errorf("mlx90640: refresh rate code %d: %w", opts.RefreshRate, ErrInvalidSetting)
	}
	e := opts.Emissivity
	if e == 0 {
		e = 1.0
	}
	if !(e >= 0.1 && e <= 1.0) {
		return nil, fmt.Errorf("mlx90640: emissivity %g out of [0.1, 1.0]: %w", opts.Emissivity, ErrInvalidSetting)
	}
	if opts.Timeout < 0 {
		return nil, fmt.Errorf("mlx90640: negative timeout: %w", ErrInvalidSetting)
	}
	regs := DefaultRegisterMap
	if opts.Regs != nil {
		regs = *opts.Regs
	}
	return &Dev{
		t:          t,
		regs:       regs,
		timeout:    opts.Timeout,
		rate:       rate,
		res:        Resolution18Bit,
		emissivity: e,
		subpage:    -1,
	}, nil
}

// NewI2C returns a session driving an MLX90640 on an i²c bus.
//
// addr 0 selects the factory default address 0x33.
func NewI2C(b i2c.Bus, addr uint16, opts *Opts) (*Dev, error) {
	if addr == 0 {
		addr = Addr
	}
	return New(&i2cTransport{d: i2c.Dev{Bus: b, Addr: addr}}, opts)
}

func (d *Dev) String() string {
	return fmt.Sprintf("MLX90640{%s, %s}", d.rate, d.state)
}

// Init configures the readout and loads the factory calibration.
//
// It applies continuous readout, subpage alternation, the configured
// refresh rate and the chess readout pattern in that order, then dumps and
// decodes the calibration EEPROM. Init is valid from any state and rebuilds
// the session from scratch.
func (d *Dev) Init() error {
	d.state = stateConfiguring
	d.params = nil
	d.subpage = -1
	steps := []struct {
		what string
		mask uint16
		bits uint16
	}{
		{"continuous mode", ctrlStepMode, 0},
		{"subpage alternation", ctrlSubpageRepeat, 0},
		{"refresh rate", ctrlRefreshMask, uint16(d.rate) << ctrlRefreshShift},
		{"chess readout", ctrlChessMode, ctrlChessMode},
	}
	for _, s := range steps {
		if err := d.updateControl(s.mask, s.bits); err != nil {
			d.stats.TransportFails++
			return d.fault(fmt.Errorf("mlx90640: configuring %s: %w", s.what, err))
		}
	}
	var ee [EEPROMWords]uint16
	if err := d.t.ReadWords(d.regs.EEPROM, ee[:]); err != nil {
		d.stats.TransportFails++
		return d.fault(fmt.Errorf("mlx90640: dumping calibration EEPROM: %w", err))
	}
	p, err := ParseEEPROM(ee[:])
	if err != nil {
		return d.fault(err)
	}
	d.params = p
	d.state = stateReady
	return nil
}

// Close invalidates the session. It is idempotent.
//
// The transport is not touched; it belongs to the caller.
func (d *Dev) Close() error {
	d.state = stateUninitialized
	d.params = nil
	d.subpage = -1
	return nil
}

// Params returns the decoded factory calibration, or nil before Init.
func (d *Dev) Params() *Params {
	return d.params
}

// SetRefreshRate reconfigures the subpage refresh rate.
//
// An invalid rate is rejected before any bus traffic. On transport failure
// the previous rate stays in effect.
func (d *Dev) SetRefreshRate(r RefreshRate) error {
	if !r.valid() {
		return fmt.Errorf("mlx90640: refresh rate code %d: %w", r, ErrInvalidSetting)
	}
	if d.state != stateReady {
		return fmt.Errorf("mlx90640: cannot configure while %s: %w", d.state, ErrNotInitialized)
	}
	if err := d.updateControl(ctrlRefreshMask, uint16(r)<<ctrlRefreshShift); err != nil {
		d.stats.TransportFails++
		d.stats.LastFail = err
		return fmt.Errorf("mlx90640: setting refresh rate: %w", err)
	}
	d.rate = r
	return nil
}

// RefreshRate returns the configured subpage refresh rate, without bus
// traffic.
func (d *Dev) RefreshRate() RefreshRate {
	return d.rate
}

// SetResolution reconfigures the ADC depth.
func (d *Dev) SetResolution(r Resolution) error {
	if r > Resolution19Bit {
		return fmt.Errorf("mlx90640: resolution code %d: %w", r, ErrInvalidSetting)
	}
	if d.state != stateReady {
		return fmt.Errorf("mlx90640: cannot configure while %s: %w", d.state, ErrNotInitialized)
	}
	if err := d.updateControl(ctrlResMask, uint16(r)<<ctrlResShift); err != nil {
		d.stats.TransportFails++
		d.stats.LastFail = err
		return fmt.Errorf("mlx90640: setting resolution: %w", err)
	}
	d.res = r
	return nil
}

// Resolution returns the ADC depth, without bus traffic.
//
// It reports the last SetResolution value or, after a capture, the depth
// decoded from the frame's control register snapshot. The conversion always
// uses the per frame snapshot, so a resolution change by another bus master
// cannot skew temperatures.
func (d *Dev) Resolution() Resolution {
	return d.res
}

// SetEmissivity changes the emissivity used by subsequent conversions.
//
// Emissivity is a property of the observed surface, in [0.1, 1.0]. It is
// host side state; nothing is written to the device.
func (d *Dev) SetEmissivity(e float32) error {
	if !(e >= 0.1 && e <= 1.0) {
		return fmt.Errorf("mlx90640: emissivity %g out of [0.1, 1.0]: %w", e, ErrInvalidSetting)
	}
	if d.state != stateReady {
		return fmt.Errorf("mlx90640: cannot configure while %s: %w", d.state, ErrNotInitialized)
	}
	d.emissivity = e
	return nil
}

// Emissivity returns the emissivity used by conversions.
func (d *Dev) Emissivity() float32 {
	return d.emissivity
}

// Subpage returns the subpage of the last capture, or -1 before the first
// frame.
func (d *Dev) Subpage() int {
	return d.subpage
}

// Stats returns a copy of the session statistics.
func (d *Dev) Stats() Stats {
	return d.stats
}

// ReadFrame blocks until the device completes a measurement, converts it to
// temperatures and returns the session frame.
//
// Each call captures one subpage; two consecutive calls cover the full
// image. The returned Frame is owned by the session and is only valid until
// the next ReadFrame.
func (d *Dev) ReadFrame(o CaptureOpts) (*Frame, error) {
	if d.state != stateReady {
		return nil, fmt.Errorf("mlx90640: cannot capture while %s: %w", d.state, ErrNotInitialized)
	}
	d.state = stateCapturing
	f, err := d.readFrame(o)
	switch {
	case err == nil:
		d.stats.GoodFrames++
		d.state = stateReady
	case errors.Is(err, ErrTimeout):
		d.stats.Timeouts++
		d.state = stateReady
	default:
		d.stats.TransportFails++
		d.stats.LastFail = err
		d.state = stateFaulted
	}
	return f, err
}

func (d *Dev) readFrame(o CaptureOpts) (*Frame, error) {
	status, err := d.waitReady()
	if err != nil {
		return nil, err
	}
	if err := d.t.ReadWords(d.regs.Frame, d.raw[:rawControl]); err != nil {
		return nil, fmt.Errorf("mlx90640: reading frame RAM: %w", err)
	}
	if err := d.t.WriteWord(d.regs.Status, statusClear); err != nil {
		return nil, fmt.Errorf("mlx90640: acknowledging frame: %w", err)
	}
	var cr [1]uint16
	if err := d.t.ReadWords(d.regs.Control, cr[:]); err != nil {
		return nil, fmt.Errorf("mlx90640: snapshotting control register: %w", err)
	}
	d.raw[rawControl] = cr[0]
	d.raw[rawSubpage] = status & statusSubpage
	if int16(d.raw[rawGain]) == 0 {
		return nil, fmt.Errorf("mlx90640: torn frame, gain channel reads zero")
	}

	p := d.params
	ta := p.Ta(d.raw[:])
	// The reflected temperature is approximated with the die temperature;
	// the sensor has no way to measure it.
	p.CalculateTo(d.raw[:], d.emissivity, ta, d.frame.Pix[:])
	if o.CorrectBroken || o.CorrectOutliers {
		for i := range d.defects {
			d.defects[i] = false
		}
		for _, pix := range p.BrokenPixels {
			d.defects[pix] = true
		}
		for _, pix := range p.OutlierPixels {
			d.defects[pix] = true
		}
		if o.CorrectBroken {
			CorrectBadPixels(d.frame.Pix[:], p.BrokenPixels, d.defects[:])
		}
		if o.CorrectOutliers {
			CorrectBadPixels(d.frame.Pix[:], p.OutlierPixels, d.defects[:])
		}
	}

	d.subpage = int(d.raw[rawSubpage])
	d.res = Resolution((cr[0] & ctrlResMask) >> ctrlResShift)
	d.frame.Metadata = Metadata{
		Subpage:    d.subpage,
		TAmbient:   ta,
		VDD:        p.Vdd(d.raw[:]),
		FrameCount: d.stats.GoodFrames + 1,
		Time:       time.Now(),
	}
	return &d.frame, nil
}

// waitReady polls the status register until the device reports a new
// measurement, returning the last status word.
//
// No delay is inserted between polls. Every iteration is a complete status
// read transaction, so the bus round trip itself paces the loop and a
// measurement is picked up as soon as the device publishes it.
func (d *Dev) waitReady() (uint16, error) {
	var deadline time.Time
	if d.timeout > 0 {
		deadline = time.Now().Add(d.timeout)
	}
	for {
		var status [1]uint16
		if err := d.t.ReadWords(d.regs.Status, status[:]); err != nil {
			return 0, fmt.Errorf("mlx90640: polling status: %w", err)
		}
		if status[0]&statusDataReady != 0 {
			return status[0], nil
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return 0, ErrTimeout
		}
	}
}

// updateControl read-modify-writes the control register, replacing the bits
// selected by mask.
func (d *Dev) updateControl(mask, bits uint16) error {
	var cr [1]uint16
	if err := d.t.ReadWords(d.regs.Control, cr[:]); err != nil {
		return err
	}
	return d.t.WriteWord(d.regs.Control, (cr[0]&^mask)|(bits&mask))
}

func (d *Dev) fault(err error) error {
	d.state = stateFaulted
	d.stats.LastFail = err
	return err
}

var _ Transport = &i2cTransport{}
