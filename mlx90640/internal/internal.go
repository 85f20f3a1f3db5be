// Copyright 2019 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package internal holds the wire format helpers shared by the mlx90640
// driver and its tests.
//
// The MLX90640 exposes a 16 bits word addressed register space over i²c. A
// transaction is a 2 bytes big endian register address optionally followed
// by 2 bytes big endian per payload word.
package internal

// PutWord encodes one 16 bits word as big endian.
func PutWord(b []byte, w uint16) {
	b[0] = byte(w >> 8)
	b[1] = byte(w)
}

// Word decodes one big endian 16 bits word.
func Word(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

// PutWords encodes words as big endian. b must be at least 2*len(ws) long.
func PutWords(b []byte, ws []uint16) {
	for i, w := range ws {
		PutWord(b[2*i:], w)
	}
}

// Words decodes len(ws) big endian words from b.
func Words(b []byte, ws []uint16) {
	for i := range ws {
		ws[i] = Word(b[2*i:])
	}
}
