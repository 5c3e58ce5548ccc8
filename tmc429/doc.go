// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package tmc429 controls a Trinamic TMC429 triple stepper motor motion
// controller via SPI.
//
// The TMC429 generates step/direction pulses for up to three stepper motor
// drivers and performs velocity and acceleration ramping in hardware. All
// register accesses are fixed 4-byte telegrams; the device prepends its
// status byte to every response.
//
// # Datasheet
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/TMC429_datasheet.pdf
package tmc429
