// Copyright 2019 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// mlx90640 exposes a thermal camera over HTTP: a live websocket stream, a
// still endpoint and a tiny page tying them together.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime/pprof"
	"time"

	"github.com/maruel/go-mlx90640/mlx90640"
	"github.com/maruel/go-mlx90640/mlx90640test"
	"github.com/maruel/interrupt"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/host"
)

// capture owns the session: it feeds the web server until interrupted and
// closes the device on the way out. A fault tears the session down, so it
// rebuilds it after a pause; the sensor may have browned out or dropped off
// the bus for a moment.
func capture(dev *mlx90640.Dev, srv *webServer) {
	defer dev.Close()
	for !interrupt.IsSet() {
		frame, err := dev.ReadFrame(mlx90640.CaptureAll)
		if err != nil {
			if errors.Is(err, mlx90640.ErrTimeout) {
				continue
			}
			log.Printf("capture: %s", err)
			time.Sleep(time.Second)
			if interrupt.IsSet() {
				return
			}
			if err := dev.Init(); err != nil {
				log.Printf("reinit: %s", err)
			}
			continue
		}
		srv.addFrame(frame.Clone(), dev.Stats())
	}
}

func mainImpl() error {
	cfg, err := loadConfig(configPath())
	if err != nil {
		return err
	}
	port := flag.Int("port", cfg.Port, "http port to listen on")
	i2cName := flag.String("i2c", cfg.I2C, "I²C bus to use")
	i2cHz := flag.Int("i2chz", cfg.I2CHz, "I²C bus speed")
	addr := flag.Uint("addr", uint(cfg.Addr), "I²C address of the sensor")
	fps := flag.Int("fps", cfg.FPS, "subpage refresh rate in Hz: 1, 2, 4, 8, 16, 32 or 64")
	emissivity := flag.Float64("emissivity", float64(cfg.Emissivity), "emissivity of the observed scene, 0.1 to 1")
	minC := flag.Float64("min", float64(cfg.MinC), "bottom of the color scale in °C")
	maxC := flag.Float64("max", float64(cfg.MaxC), "top of the color scale in °C")
	fake := flag.Bool("fake", false, "simulate a sensor instead of opening the I²C bus")
	verbose := flag.Bool("verbose", false, "print capture statistics every second")
	writeConfig := flag.Bool("writeConfig", false, "write the effective configuration to "+configPath()+" and exit")
	cpuprofile := flag.String("cpuprofile", "", "dump CPU profile in file")
	flag.Parse()

	if len(flag.Args()) != 0 {
		return fmt.Errorf("unexpected argument: %s", flag.Args())
	}
	log.SetFlags(log.Lmicroseconds)

	cfg.Port = *port
	cfg.I2C = *i2cName
	cfg.I2CHz = *i2cHz
	cfg.Addr = uint16(*addr)
	cfg.FPS = *fps
	cfg.Emissivity = float32(*emissivity)
	cfg.MinC = float32(*minC)
	cfg.MaxC = float32(*maxC)
	if *writeConfig {
		return cfg.save(configPath())
	}
	if cfg.MaxC <= cfg.MinC {
		return errors.New("-max must be above -min")
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			return err
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	rate, err := mlx90640.RefreshRateFromHz(cfg.FPS)
	if err != nil {
		return err
	}
	opts := mlx90640.DefaultOpts
	opts.RefreshRate = rate
	opts.Emissivity = cfg.Emissivity
	// Bounded waits so a wedged sensor shows up as timeouts in the stats
	// instead of a capture loop stuck forever.
	opts.Timeout = 4 * rate.Period()

	interrupt.HandleCtrlC()

	var dev *mlx90640.Dev
	if *fake {
		sensor := mlx90640test.New()
		sensor.RealTime = true
		dev, err = mlx90640.New(sensor, &opts)
	} else {
		if _, err = host.Init(); err != nil {
			return err
		}
		bus, errBus := i2creg.Open(cfg.I2C)
		if errBus != nil {
			return fmt.Errorf("%s\nIf testing without hardware, use -fake to simulate a sensor", errBus)
		}
		defer bus.Close()
		if cfg.I2CHz != 0 {
			if err = bus.SetSpeed(physic.Frequency(cfg.I2CHz) * physic.Hertz); err != nil {
				return err
			}
		}
		dev, err = mlx90640.NewI2C(bus, cfg.Addr, &opts)
	}
	if err != nil {
		return err
	}
	if err = dev.Init(); err != nil {
		return err
	}

	srv := startWebServer(cfg.Port, cfg.MinC, cfg.MaxC)
	// The capture goroutine owns dev from here on.
	go capture(dev, srv)

	if *verbose {
		go func() {
			for !interrupt.IsSet() {
				s := srv.lastStats()
				fmt.Printf("\r%d frames %d timeouts %d transport fails", s.GoodFrames, s.Timeouts, s.TransportFails)
				time.Sleep(time.Second)
			}
			fmt.Print("\n")
		}()
	}
	// Serve until interrupted or the binary is replaced underneath us.
	return watchFile()
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\nmlx90640: %s.\n", err)
		os.Exit(1)
	}
}
