// Copyright 2019 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// mlx90640-query prints the sensor configuration and factory calibration.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/maruel/go-mlx90640/mlx90640"
	"github.com/maruel/go-mlx90640/mlx90640test"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/host"
)

func mainImpl() error {
	i2cName := flag.String("i2c", "", "I²C bus to use")
	i2cHz := flag.Int("hz", 0, "I²C bus speed")
	addr := flag.Uint("addr", uint(mlx90640.Addr), "I²C address of the sensor")
	fake := flag.Bool("fake", false, "simulate a sensor instead of opening the I²C bus")
	flag.Parse()

	if len(flag.Args()) != 0 {
		return fmt.Errorf("unexpected argument: %s", flag.Args())
	}

	opts := mlx90640.DefaultOpts
	opts.Timeout = 2 * time.Second

	var dev *mlx90640.Dev
	var err error
	if *fake {
		dev, err = mlx90640.New(mlx90640test.New(), &opts)
	} else {
		if _, err = host.Init(); err != nil {
			return err
		}
		bus, errBus := i2creg.Open(*i2cName)
		if errBus != nil {
			return fmt.Errorf("%s\nIf testing without hardware, use -fake to simulate a sensor", errBus)
		}
		defer bus.Close()
		if *i2cHz != 0 {
			if err = bus.SetSpeed(physic.Frequency(*i2cHz) * physic.Hertz); err != nil {
				return err
			}
		}
		dev, err = mlx90640.NewI2C(bus, uint16(*addr), &opts)
	}
	if err != nil {
		return err
	}
	if err = dev.Init(); err != nil {
		return err
	}
	defer dev.Close()

	// One capture to measure the die temperature and the supply voltage.
	frame, err := dev.ReadFrame(mlx90640.CaptureAll)
	if err != nil {
		return err
	}
	p := dev.Params()
	fmt.Printf("Device ID:      0x%04x%04x%04x\n", p.ID[0], p.ID[1], p.ID[2])
	fmt.Printf("Refresh rate:   %s\n", dev.RefreshRate())
	fmt.Printf("Resolution:     %s\n", dev.Resolution())
	fmt.Printf("Emissivity:     %.2f\n", dev.Emissivity())
	fmt.Printf("Subpage:        %d\n", dev.Subpage())
	fmt.Printf("TAmbient:       %.2f°C\n", frame.TAmbient)
	fmt.Printf("VDD:            %.2fV\n", frame.VDD)
	fmt.Printf("Scene:          %.2f°C - %.2f°C\n", frame.Min(), frame.Max())
	fmt.Printf("kVdd:           %d\n", p.KVdd)
	fmt.Printf("vdd25:          %d\n", p.Vdd25)
	fmt.Printf("gain:           %d\n", p.GainEE)
	fmt.Printf("vPTAT25:        %d\n", p.VPTAT25)
	fmt.Printf("ktPTAT:         %g\n", p.KtPTAT)
	fmt.Printf("kvPTAT:         %g\n", p.KvPTAT)
	fmt.Printf("alphaPTAT:      %g\n", p.AlphaPTAT)
	fmt.Printf("tgc:            %g\n", p.Tgc)
	fmt.Printf("ksTa:           %g\n", p.KsTa)
	fmt.Printf("ranges:         %d°C\n", p.Ct)
	fmt.Printf("calibrated:     %s\n", readout(p.CalibrationModeEE))
	fmt.Printf("broken pixels:  %s\n", pixelList(p.BrokenPixels))
	fmt.Printf("outlier pixels: %s\n", pixelList(p.OutlierPixels))
	return nil
}

// readout names the pattern the factory calibration was measured with.
func readout(mode uint8) string {
	if mode == 0x80 {
		return "chess"
	}
	return "interleaved"
}

func pixelList(pix []uint16) string {
	if len(pix) == 0 {
		return "none"
	}
	s := make([]string, len(pix))
	for i, p := range pix {
		s[i] = fmt.Sprintf("%d (row %d, col %d)", p, p/mlx90640.Width, p%mlx90640.Width)
	}
	return strings.Join(s, ", ")
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\nmlx90640-query: %s.\n", err)
		os.Exit(1)
	}
}
