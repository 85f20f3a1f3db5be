// Copyright 2019 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mlx90640

import (
	"periph.io/x/periph/conn/i2c"

	"github.com/maruel/go-mlx90640/mlx90640/internal"
)

// Transport moves 16 bits words between the host and the device register
// space.
//
// Implementations must keep multi word reads atomic with respect to their
// own writes; the i²c implementation gets this for free since a read is a
// single bus transaction.
type Transport interface {
	// ReadWords fills out with len(out) consecutive words starting at reg.
	ReadWords(reg uint16, out []uint16) error
	// WriteWord stores one word at reg.
	WriteWord(reg uint16, value uint16) error
}

// i2cTransport implements Transport on top of a periph.io i²c bus.
//
// A read transmits the 2 bytes big endian register address then reads the
// payload in the same transaction. A write appends the word to the address.
type i2cTransport struct {
	d i2c.Dev
	r []byte // Read scratch buffer, grown to the largest read so far.
}

func (t *i2cTransport) ReadWords(reg uint16, out []uint16) error {
	n := 2 * len(out)
	if cap(t.r) < n {
		t.r = make([]byte, n)
	}
	r := t.r[:n]
	var w [2]byte
	internal.PutWord(w[:], reg)
	if err := t.d.Tx(w[:], r); err != nil {
		return err
	}
	internal.Words(r, out)
	return nil
}

func (t *i2cTransport) WriteWord(reg uint16, value uint16) error {
	var w [4]byte
	internal.PutWord(w[:], reg)
	internal.PutWord(w[2:], value)
	return t.d.Tx(w[:], nil)
}
