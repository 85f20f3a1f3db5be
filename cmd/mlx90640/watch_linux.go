// Copyright 2019 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"log"
	"os"

	"github.com/maruel/interrupt"
	"gopkg.in/fsnotify.v1"
)

// watchFile blocks until the process is interrupted or its own executable
// changes on disk. Exiting then lets the init system restart the fresh
// binary, which is how cross compiled pushes are deployed to the device.
func watchFile() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	fi, err := os.Stat(exe)
	if err != nil {
		return err
	}
	mod0 := fi.ModTime()
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err = watcher.Add(exe); err != nil {
		return err
	}
	for {
		select {
		case <-interrupt.Channel:
			return nil
		case err = <-watcher.Errors:
			return err
		case ev := <-watcher.Events:
			if fi, err = os.Stat(exe); err != nil || !fi.ModTime().Equal(mod0) {
				log.Printf("watch: %s, exiting for restart", ev.Op)
				return err
			}
		}
	}
}
