// Copyright 2019 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !linux
// +build !linux

package main

import "github.com/maruel/interrupt"

// watchFile blocks until the process is interrupted.
func watchFile() error {
	<-interrupt.Channel
	return nil
}
