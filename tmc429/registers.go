// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package tmc429

import (
	"encoding/binary"
)

// register is a TMC429 register address byte without the direction bit.
// Per-axis registers occupy the low address group and get the axis number
// folded in by forAxis; registers of the common group carry the group bits
// 0x60 directly.
type register byte

// Per-axis registers. The values are the datasheet IDX numbers shifted
// left by one, so a register combines with the axis bits and the read flag
// without further shifting.
const (
	regXTarget      register = 0x00 // target position, 24 bit signed
	regXActual      register = 0x02 // actual position, 24 bit signed
	regVMin         register = 0x04 // minimum velocity, 11 bit
	regVMax         register = 0x06 // maximum velocity, 11 bit
	regVTarget      register = 0x08 // target velocity, 12 bit signed
	regVActual      register = 0x0A // actual velocity, 12 bit signed
	regAMax         register = 0x0C // maximum acceleration, 11 bit
	regAActual      register = 0x0E // actual acceleration, 12 bit signed
	regAThreshold   register = 0x10 // current scaling thresholds
	regPMulPDiv     register = 0x12 // ramp multiplier/divisor pair
	regRefConfMode  register = 0x14 // reference switch config + ramp mode
	regIntMaskFlags register = 0x16 // interrupt mask and flags
	regPulseRampDiv register = 0x18 // pulse/ramp clock dividers, µstep resolution
	regRefTolerance register = 0x1A // reference switch tolerance, 12 bit
	regXLatched     register = 0x1C // position latched on a reference event
	regUStepCount   register = 0x1E // microstep counter
)

// Common registers.
const (
	regDatagramLow   register = 0x60
	regDatagramHigh  register = 0x62
	regCoverPosLen   register = 0x64
	regCoverDatagram register = 0x66
	regIfConfig      register = 0x68
	regPosComp       register = 0x6A
	regPosCompInt    register = 0x6C
	regPowerDown     register = 0x70
	regTypeVersion   register = 0x72
	regSwitches      register = 0x7C
	regGlobalParams  register = 0x7E
)

// flagRead marks a telegram as a read access.
const flagRead byte = 0x01

// statusQuery is the byte sent on the single-byte status fast path. Any
// readable address works; the device always answers with the status byte
// first.
const statusQuery = byte(regXTarget) | flagRead

// forAxis folds the axis number into a per-axis register address.
func (r register) forAxis(a Axis) register {
	return r | register(a&0x03)<<5
}

// readWrite exchanges one 4-byte telegram with the device. The SPI port
// keeps the chip select asserted for all four bytes and releases it at the
// end of the transfer. The response is aligned byte for byte with the
// request.
func (d *Dev) readWrite(w, r *[4]byte) error {
	return d.c.Tx(w[:], r[:])
}

// writeBytes writes three bytes to a register.
func (d *Dev) writeBytes(reg register, b [3]byte) error {
	w := [4]byte{byte(reg), b[0], b[1], b[2]}
	var r [4]byte
	return d.readWrite(&w, &r)
}

// writeDatagram writes a register from individual payload bytes.
func (d *Dev) writeDatagram(reg register, hi, mid, lo byte) error {
	return d.writeBytes(reg, [3]byte{hi, mid, lo})
}

// writeZero clears a register. No prior read is involved, which makes this
// suitable for stopping a motor quickly.
func (d *Dev) writeZero(reg register) error {
	return d.writeBytes(reg, [3]byte{})
}

// writeUint16 writes a 16 bit value to a register. The upper payload byte
// stays zero.
func (d *Dev) writeUint16(reg register, v uint16) error {
	w := [4]byte{byte(reg)}
	binary.BigEndian.PutUint16(w[2:], v)
	var r [4]byte
	return d.readWrite(&w, &r)
}

// writeUint24 writes a 24 bit value to a register, most significant byte
// first.
func (d *Dev) writeUint24(reg register, v uint32) error {
	return d.writeBytes(reg, [3]byte{byte(v >> 16), byte(v >> 8), byte(v)})
}

// readBytes reads the three payload bytes of a register together with the
// status byte.
func (d *Dev) readBytes(reg register) (Status, [3]byte, error) {
	w := [4]byte{byte(reg) | flagRead}
	var r [4]byte
	if err := d.readWrite(&w, &r); err != nil {
		return 0, [3]byte{}, err
	}
	return Status(r[0]), [3]byte{r[1], r[2], r[3]}, nil
}

// readByteAt reads a register and returns the payload byte at index 0..2.
func (d *Dev) readByteAt(reg register, index int) (byte, error) {
	_, b, err := d.readBytes(reg)
	return b[index], err
}

// readUint24 reads a 24 bit register without sign extension.
func (d *Dev) readUint24(reg register) (uint32, error) {
	_, b, err := d.readBytes(reg)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), nil
}

// readInt12 reads a 12 bit register and sign-extends it to 32 bit. Bit 11
// is the sign bit; the upper payload byte is ignored.
func (d *Dev) readInt12(reg register) (int32, error) {
	_, b, err := d.readBytes(reg)
	if err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint16(b[1:]))
	if v&0x00000800 != 0 {
		v |= ^int32(0x00000FFF)
	}
	return v, nil
}

// readInt24 reads a 24 bit register and sign-extends it to 32 bit. Bit 23
// is the sign bit.
func (d *Dev) readInt24(reg register) (int32, error) {
	_, b, err := d.readBytes(reg)
	if err != nil {
		return 0, err
	}
	v := int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
	if v&0x00800000 != 0 {
		v |= ^int32(0x00FFFFFF)
	}
	return v, nil
}

// readStatus reads only the status byte using a single-byte access, which
// is a little faster than a full telegram. This is the one access that
// bypasses the 4-byte framing; the chip select is released after the
// single byte.
func (d *Dev) readStatus() (Status, error) {
	w := [1]byte{statusQuery}
	var r [1]byte
	if err := d.c.Tx(w[:], r[:]); err != nil {
		return 0, err
	}
	return Status(r[0]), nil
}
