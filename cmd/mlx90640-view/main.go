// Copyright 2019 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// mlx90640-view streams the camera live to an ANSI terminal, two 24 bit
// color block characters per pixel.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"strings"
	"time"

	"github.com/maruel/go-mlx90640/mlx90640"
	"github.com/maruel/go-mlx90640/mlx90640test"
	"github.com/maruel/go-mlx90640/thermal"
	"github.com/maruel/interrupt"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/host"
)

// render draws one frame and a header line, then moves the cursor back up
// so the next frame overwrites this one.
func render(b *bytes.Buffer, f *mlx90640.Frame, lo, hi float32, scale int, fps float64) {
	fmt.Fprintf(b, "\rTa %.2f°C  scene %.2f°C - %.2f°C  %.1ffps\x1b[K\n", f.TAmbient, f.Min(), f.Max(), fps)
	// The sensor's row 0 is at the bottom of the scene, flip so up is up.
	for y := mlx90640.Height - 1; y >= 0; y-- {
		for sy := 0; sy < scale; sy++ {
			for x := 0; x < mlx90640.Width; x++ {
				c := thermal.Inferno((f.TempAt(x, y) - lo) / (hi - lo))
				fmt.Fprintf(b, "\x1b[38;2;%d;%d;%dm", c.R, c.G, c.B)
				for sx := 0; sx < scale; sx++ {
					b.WriteString("██")
				}
			}
			b.WriteString("\x1b[0m\n")
		}
	}
	fmt.Fprintf(b, "\x1b[%dA", mlx90640.Height*scale+1)
}

func mainImpl() error {
	i2cName := flag.String("i2c", "", "I²C bus to use")
	i2cHz := flag.Int("i2chz", 0, "I²C bus speed")
	addr := flag.Uint("addr", uint(mlx90640.Addr), "I²C address of the sensor")
	hz := flag.Int("fps", mlx90640.DefaultOpts.RefreshRate.Hz(), "subpage refresh rate in Hz: 1, 2, 4, 8, 16, 32 or 64")
	emissivity := flag.Float64("emissivity", 1, "emissivity of the observed scene, 0.1 to 1")
	minC := flag.Float64("min", float64(thermal.DefaultMin), "bottom of the color scale in °C")
	maxC := flag.Float64("max", float64(thermal.DefaultMax), "top of the color scale in °C")
	scale := flag.Int("scale", 1, "integer upscaling of the rendering, 1 to 8")
	fake := flag.Bool("fake", false, "simulate a sensor instead of opening the I²C bus")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Parse()
	if !*verbose {
		log.SetOutput(ioutil.Discard)
	}
	log.SetFlags(log.Lmicroseconds)

	if flag.NArg() != 0 {
		return fmt.Errorf("unexpected argument: %s", flag.Args())
	}
	if *scale < 1 || *scale > 8 {
		return errors.New("-scale must be 1 to 8")
	}
	if *maxC <= *minC {
		return errors.New("-max must be above -min")
	}
	rate, err := mlx90640.RefreshRateFromHz(*hz)
	if err != nil {
		return err
	}
	opts := mlx90640.DefaultOpts
	opts.RefreshRate = rate
	opts.Emissivity = float32(*emissivity)
	// Bounded waits keep ctrl-C responsive even with a wedged sensor.
	opts.Timeout = 2 * time.Second

	var dev *mlx90640.Dev
	if *fake {
		sensor := mlx90640test.New()
		sensor.RealTime = true
		dev, err = mlx90640.New(sensor, &opts)
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

	interrupt.HandleCtrlC()

	// From here on the cursor sits on top of the image, leave it below on
	// the way out.
	defer fmt.Print(strings.Repeat("\n", mlx90640.Height*(*scale)+1))
	b := bytes.Buffer{}
	frames := 0
	fps := 0.0
	last := time.Now()
	for !interrupt.IsSet() {
		frame, err := dev.ReadFrame(mlx90640.CaptureAll)
		if err != nil {
			if errors.Is(err, mlx90640.ErrTimeout) {
				continue
			}
			return err
		}
		frames++
		if e := time.Since(last); e >= time.Second {
			fps = float64(frames) / e.Seconds()
			frames = 0
			last = time.Now()
		}
		b.Reset()
		render(&b, frame, float32(*minC), float32(*maxC), *scale, fps)
		if _, err := os.Stdout.Write(b.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\nmlx90640-view: %s.\n", err)
		os.Exit(1)
	}
}
