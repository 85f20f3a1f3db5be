// Copyright 2019 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/maruel/go-mlx90640/mlx90640"
	"github.com/maruel/go-mlx90640/thermal"
	"gopkg.in/yaml.v3"
)

// config is the daemon configuration. Flags override it, -writeConfig
// persists the merged result.
type config struct {
	Port       int     `yaml:"port"`
	I2C        string  `yaml:"i2c"`
	I2CHz      int     `yaml:"i2chz"`
	Addr       uint16  `yaml:"addr"`
	FPS        int     `yaml:"fps"`
	Emissivity float32 `yaml:"emissivity"`
	MinC       float32 `yaml:"min"`
	MaxC       float32 `yaml:"max"`
}

// defaultConfig matches a sensor fresh out of the bag on the default bus.
func defaultConfig() config {
	return config{
		Port:       8010,
		Addr:       mlx90640.Addr,
		FPS:        mlx90640.DefaultOpts.RefreshRate.Hz(),
		Emissivity: 1,
		MinC:       thermal.DefaultMin,
		MaxC:       thermal.DefaultMax,
	}
}

func configPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "mlx90640", "mlx90640.yaml")
}

// loadConfig reads path over the defaults. A missing file is not an error,
// it simply means the defaults.
func loadConfig(path string) (config, error) {
	c := defaultConfig()
	raw, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return c, err
	}
	err = yaml.Unmarshal(raw, &c)
	return c, err
}

func (c *config) save(path string) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return ioutil.WriteFile(path, raw, 0600)
}
