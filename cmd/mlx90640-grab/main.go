// Copyright 2019 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// mlx90640-grab captures thermal frames and saves the result as PNG or CSV.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/maruel/go-mlx90640/mlx90640"
	"github.com/maruel/go-mlx90640/mlx90640test"
	"github.com/maruel/go-mlx90640/thermal"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/host"
)

func mainImpl() error {
	i2cName := flag.String("i2c", "", "I²C bus to use")
	i2cHz := flag.Int("i2chz", 0, "I²C bus speed")
	addr := flag.Uint("addr", uint(mlx90640.Addr), "I²C address of the sensor")
	fps := flag.Int("fps", mlx90640.DefaultOpts.RefreshRate.Hz(), "subpage refresh rate in Hz: 1, 2, 4, 8, 16, 32 or 64")
	emissivity := flag.Float64("emissivity", 1, "emissivity of the observed scene, 0.1 to 1")
	frames := flag.Int("frames", 2, "subpage frames to capture; 2 refreshes every pixel once")
	gray := flag.Bool("gray", false, "save a 16 bit grayscale PNG instead of false color")
	minC := flag.Float64("min", 0, "bottom of the color scale in °C; 0 with -max 0 spans the frame")
	maxC := flag.Float64("max", 0, "top of the color scale in °C; 0 with -min 0 spans the frame")
	meta := flag.Bool("meta", false, "print metadata")
	fake := flag.Bool("fake", false, "simulate a sensor instead of opening the I²C bus")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Parse()
	if !*verbose {
		log.SetOutput(ioutil.Discard)
	}
	log.SetFlags(log.Lmicroseconds)

	if flag.NArg() != 1 {
		return errors.New("supply path to PNG or CSV to save")
	}
	if *frames < 1 {
		return errors.New("-frames must be at least 1")
	}
	rate, err := mlx90640.RefreshRateFromHz(*fps)
	if err != nil {
		return err
	}
	opts := mlx90640.DefaultOpts
	opts.RefreshRate = rate
	opts.Emissivity = float32(*emissivity)

	var dev *mlx90640.Dev
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

	var frame *mlx90640.Frame
	for i := 0; i < *frames; i++ {
		if frame, err = dev.ReadFrame(mlx90640.CaptureAll); err != nil {
			return err
		}
	}
	if *meta {
		fmt.Printf("Subpage:    %d\n", frame.Subpage)
		fmt.Printf("TAmbient:   %.2f°C\n", frame.TAmbient)
		fmt.Printf("VDD:        %.2fV\n", frame.VDD)
		fmt.Printf("FrameCount: %d\n", frame.FrameCount)
		fmt.Printf("Time:       %s\n", frame.Time)
		fmt.Printf("Scene:      %.2f°C - %.2f°C\n", frame.Min(), frame.Max())
	}

	path := flag.Args()[0]
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		lo, hi := float32(*minC), float32(*maxC)
		if lo == 0 && hi == 0 {
			lo, hi = thermal.Range(frame.Pix[:])
		}
		var img image.Image
		if *gray {
			img = thermal.GrayImage(frame.Pix[:], mlx90640.Width, mlx90640.Height, lo, hi)
		} else {
			img = thermal.Image(frame.Pix[:], mlx90640.Width, mlx90640.Height, lo, hi)
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return png.Encode(f, img)
	case ".csv":
		return writeCSV(path, frame)
	default:
		return fmt.Errorf("unsupported extension for %q; use .png or .csv", path)
	}
}

// writeCSV saves the frame as one temperature in °C per cell, a sensor row
// per line.
func writeCSV(path string, f *mlx90640.Frame) error {
	b := bytes.Buffer{}
	for y := 0; y < mlx90640.Height; y++ {
		for x := 0; x < mlx90640.Width; x++ {
			if x != 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "%.2f", f.TempAt(x, y))
		}
		b.WriteByte('\n')
	}
	return ioutil.WriteFile(path, b.Bytes(), 0644)
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\nmlx90640-grab: %s.\n", err)
		os.Exit(1)
	}
}
