// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package tmc429

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// SPI bus parameters for the TMC429.
const (
	spiFrequency = 4 * physic.MegaHertz
	spiMode      = spi.Mode3
	spiBits      = 8
)

// TypeVersion is the value the type/version register reads back on a
// TMC429.
const TypeVersion uint32 = 0x429101

// NumAxes is the number of motor channels on the device.
const NumAxes = 3

var (
	// ErrConnectionFailed is returned when the driver fails to reach a
	// TMC429 on the SPI port.
	ErrConnectionFailed = errors.New("failed to connect to TMC429")

	// ErrInvalidAxis is returned when the axis number is not 0, 1 or 2.
	ErrInvalidAxis = errors.New("axis out of range")

	// ErrNoScalingPair is returned by SetMaxAcceleration when no pmul/pdiv
	// pair can represent the requested acceleration with the current clock
	// dividers.
	ErrNoScalingPair = errors.New("no valid pmul/pdiv pair for acceleration")
)

// Axis selects one of the three motor channels.
type Axis uint8

const (
	Axis0 Axis = 0
	Axis1 Axis = 1
	Axis2 Axis = 2
)

func checkAxis(a Axis) error {
	if a >= NumAxes {
		return fmt.Errorf("%w: %d", ErrInvalidAxis, a)
	}
	return nil
}

// RampMode selects how the device shapes the velocity of an axis over
// time.
type RampMode uint8

const (
	// RampModeRamp drives towards the target position with trapezoidal
	// velocity ramps.
	RampModeRamp RampMode = 0
	// RampModeSoft approaches the target position with an exponentially
	// decaying velocity.
	RampModeSoft RampMode = 1
	// RampModeVelocity tracks the target velocity and ignores positions.
	RampModeVelocity RampMode = 2
	// RampModeHold takes the target velocity verbatim, without ramping.
	RampModeHold RampMode = 3
)

// SwitchMode configures the reference switch handling of an axis.
type SwitchMode uint8

const (
	SwitchModeDisableStopLeft  SwitchMode = 0x01
	SwitchModeDisableStopRight SwitchMode = 0x02
	SwitchModeSoftStop         SwitchMode = 0x04
	SwitchModeReferenceRight   SwitchMode = 0x08

	// SwitchModeNoReference ignores both reference switches.
	SwitchModeNoReference = SwitchModeDisableStopLeft | SwitchModeDisableStopRight
)

// InterfaceConfig holds the bits of the interface configuration register.
type InterfaceConfig uint32

const (
	IfConfInvRef    InterfaceConfig = 0x0001 // invert reference switch polarity
	IfConfSDOInt    InterfaceConfig = 0x0002 // interrupt line on SDO in 3-wire mode
	IfConfStepHalf  InterfaceConfig = 0x0004 // step on both clock edges
	IfConfInvStep   InterfaceConfig = 0x0008 // invert step polarity
	IfConfInvDir    InterfaceConfig = 0x0010 // invert direction polarity
	IfConfEnStepDir InterfaceConfig = 0x0020 // enable step/direction outputs
	IfConfPosComp0  InterfaceConfig = 0x0000 // position compare on axis 0
	IfConfPosComp1  InterfaceConfig = 0x0040 // position compare on axis 1
	IfConfPosComp2  InterfaceConfig = 0x0080 // position compare on axis 2
	IfConfEnRefR    InterfaceConfig = 0x0100 // enable right reference inputs
)

// Status is the status byte the device returns first in every response.
type Status uint8

// TargetReached reports whether the axis reached its target position.
func (s Status) TargetReached(a Axis) bool {
	return s&(1<<(2*uint8(a&0x03))) != 0
}

// ReferenceSwitch reports the polled reference switch state of the axis.
func (s Status) ReferenceSwitch(a Axis) bool {
	return s&(2<<(2*uint8(a&0x03))) != 0
}

// CoverDatagramWaiting reports whether a datagram for a daisy-chained
// driver is waiting to be shifted out.
func (s Status) CoverDatagramWaiting() bool {
	return s&0x40 != 0
}

// Interrupt reports whether an unmasked interrupt condition is pending.
func (s Status) Interrupt() bool {
	return s&0x80 != 0
}

// Switches holds the raw reference switch inputs, two bits per axis with
// axis 0 in the least significant pair.
type Switches uint8

// Right reports the state of the right reference switch of the axis.
func (s Switches) Right(a Axis) bool {
	return s&(1<<(2*uint8(a&0x03))) != 0
}

// Left reports the state of the left reference switch of the axis.
func (s Switches) Left(a Axis) bool {
	return s&(2<<(2*uint8(a&0x03))) != 0
}

// Dev is a handle to a TMC429 motion controller.
//
// The wire protocol has no framing beyond the 4-byte telegram, so access
// to one device must be serialized by the caller; interleaving operations
// from multiple goroutines corrupts both exchanges.
type Dev struct {
	c conn.Conn
}

// New returns a handle to a TMC429 connected to the given SPI port.
//
// The connection is verified by reading the type/version register.
func New(p spi.Port) (*Dev, error) {
	c, err := p.Connect(spiFrequency, spiMode, spiBits)
	if err != nil {
		return nil, fmt.Errorf("tmc429: %v", err)
	}

	d := &Dev{c: c}
	v, err := d.GetVersion()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if v != TypeVersion {
		return nil, fmt.Errorf("%w: type/version reads 0x%06X", ErrConnectionFailed, v)
	}
	return d, nil
}

// String returns the device name.
//
// String implements conn.Resource.
func (d *Dev) String() string {
	return "TMC429"
}

// Halt stops all three motors immediately.
//
// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	for a := Axis0; a < NumAxes; a++ {
		if err := d.HardStop(a); err != nil {
			return err
		}
	}
	return nil
}

// Init brings the device into a known state for step/direction operation.
// All per-axis registers are cleared, the step/direction outputs and
// reference inputs are enabled, and every axis gets default velocity and
// acceleration limits.
func (d *Dev) Init() error {
	for a := Axis0; a < NumAxes; a++ {
		// The sweep walks raw address values up to the latched position
		// register, including the odd ones. Those carry the read flag and
		// leave the device untouched.
		for r := regXTarget; r <= regXLatched; r++ {
			if err := d.writeZero(r.forAxis(a)); err != nil {
				return err
			}
		}
	}

	cfg := IfConfEnStepDir | IfConfEnRefR | IfConfSDOInt
	if err := d.writeUint24(regIfConfig, uint32(cfg)); err != nil {
		return err
	}
	if err := d.writeDatagram(regGlobalParams, 0x00, 0x00, 0x02); err != nil {
		return err
	}

	for a := Axis0; a < NumAxes; a++ {
		if err := d.SetClockDividers(a, 3, 7, 6); err != nil {
			return err
		}
		if err := d.writeDatagram(regRefConfMode.forAxis(a), 0x00, byte(SwitchModeNoReference), 0x00); err != nil {
			return err
		}
		if err := d.SetMinVelocity(a, 1); err != nil {
			return err
		}
		if err := d.SetMaxVelocity(a, 1000); err != nil {
			return err
		}
		if err := d.SetMaxAcceleration(a, 1000); err != nil {
			return err
		}
	}
	return nil
}

// SetRampMode sets the ramping mode of an axis. The reference switch
// configuration sharing the register is preserved.
func (d *Dev) SetRampMode(axis Axis, mode RampMode) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	reg := regRefConfMode.forAxis(axis)
	_, b, err := d.readBytes(reg)
	if err != nil {
		return err
	}
	return d.writeDatagram(reg, b[0], b[1], byte(mode))
}

// GetRampMode returns the ramping mode of an axis.
func (d *Dev) GetRampMode(axis Axis) (RampMode, error) {
	if err := checkAxis(axis); err != nil {
		return 0, err
	}
	b, err := d.readByteAt(regRefConfMode.forAxis(axis), 2)
	return RampMode(b & 0x03), err
}

// SetSwitchMode sets the reference switch mode of an axis. The ramping
// mode sharing the register is preserved.
func (d *Dev) SetSwitchMode(axis Axis, mode SwitchMode) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	reg := regRefConfMode.forAxis(axis)
	_, b, err := d.readBytes(reg)
	if err != nil {
		return err
	}
	return d.writeDatagram(reg, b[0], byte(mode), b[2])
}

// GetSwitchMode returns the reference switch mode of an axis.
func (d *Dev) GetSwitchMode(axis Axis) (SwitchMode, error) {
	if err := checkAxis(axis); err != nil {
		return 0, err
	}
	b, err := d.readByteAt(regRefConfMode.forAxis(axis), 1)
	return SwitchMode(b), err
}

// HardStop stops a motor immediately by switching the axis to velocity
// mode and clearing both its target and actual velocity. It does not wait
// for the velocity to reach zero; the ramp generator honors a zeroed
// velocity in velocity mode at once.
func (d *Dev) HardStop(axis Axis) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	if err := d.SetRampMode(axis, RampModeVelocity); err != nil {
		return err
	}
	if err := d.writeZero(regVTarget.forAxis(axis)); err != nil {
		return err
	}
	return d.writeZero(regVActual.forAxis(axis))
}

// SetTargetPosition sets the target position of an axis in microsteps.
func (d *Dev) SetTargetPosition(axis Axis, position int32) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	return d.writeUint24(regXTarget.forAxis(axis), uint32(position))
}

// GetTargetPosition returns the target position of an axis in microsteps.
func (d *Dev) GetTargetPosition(axis Axis) (int32, error) {
	if err := checkAxis(axis); err != nil {
		return 0, err
	}
	return d.readInt24(regXTarget.forAxis(axis))
}

// SetActualPosition overwrites the position counter of an axis. In ramp
// mode this starts a motion towards the unchanged target position.
func (d *Dev) SetActualPosition(axis Axis, position int32) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	return d.writeUint24(regXActual.forAxis(axis), uint32(position))
}

// GetActualPosition returns the position counter of an axis in microsteps.
func (d *Dev) GetActualPosition(axis Axis) (int32, error) {
	if err := checkAxis(axis); err != nil {
		return 0, err
	}
	return d.readInt24(regXActual.forAxis(axis))
}

// GetLatchedPosition returns the position captured on the last reference
// switch event of an axis.
func (d *Dev) GetLatchedPosition(axis Axis) (int32, error) {
	if err := checkAxis(axis); err != nil {
		return 0, err
	}
	return d.readInt24(regXLatched.forAxis(axis))
}

// SetMinVelocity sets the minimum velocity of an axis. The ramp generator
// never steps slower than this while moving. 11 bit.
func (d *Dev) SetMinVelocity(axis Axis, v uint16) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	return d.writeUint16(regVMin.forAxis(axis), v&0x07FF)
}

// SetMaxVelocity sets the maximum velocity of an axis. 11 bit.
func (d *Dev) SetMaxVelocity(axis Axis, v uint16) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	return d.writeUint24(regVMax.forAxis(axis), uint32(v&0x07FF))
}

// SetTargetVelocity sets the target velocity of an axis. In velocity mode
// the ramp generator accelerates towards this value. 12 bit signed.
func (d *Dev) SetTargetVelocity(axis Axis, v int16) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	return d.writeUint16(regVTarget.forAxis(axis), uint16(v)&0x0FFF)
}

// GetTargetVelocity returns the target velocity of an axis.
func (d *Dev) GetTargetVelocity(axis Axis) (int32, error) {
	if err := checkAxis(axis); err != nil {
		return 0, err
	}
	return d.readInt12(regVTarget.forAxis(axis))
}

// GetActualVelocity returns the velocity the ramp generator is currently
// driving the axis at.
func (d *Dev) GetActualVelocity(axis Axis) (int32, error) {
	if err := checkAxis(axis); err != nil {
		return 0, err
	}
	return d.readInt12(regVActual.forAxis(axis))
}

// SetMaxAcceleration sets the maximum acceleration of an axis and derives
// the pmul/pdiv pair scaling the ramp generator accordingly.
//
// The candidate scan keeps the last pair that fits, so the highest usable
// pdiv wins and the multiplier gets the finest granularity. When no pair
// fits the current clock dividers, the sentinel bytes 0xFF/0xFF are still
// written and ErrNoScalingPair is returned.
func (d *Dev) SetMaxAcceleration(axis Axis, accel uint16) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	accel &= 0x07FF

	pulseDiv, rampDiv, err := d.GetClockDividers(axis)
	if err != nil {
		return err
	}

	var p float64
	if rampDiv >= pulseDiv {
		p = float64(accel) / (128.0 * float64(uint32(1)<<(rampDiv-pulseDiv)))
	} else {
		p = float64(accel) / (128.0 / float64(uint32(1)<<(pulseDiv-rampDiv)))
	}
	// 0.988 compensates the rounding inside the ramp generator.
	p *= 0.988

	pm, pd := -1, -1
	for pdiv := 0; pdiv <= 13; pdiv++ {
		pmul := int(p*8.0*float64(uint32(1)<<uint(pdiv))) - 128
		if pmul >= 0 && pmul <= 127 {
			pm = pmul + 128
			pd = pdiv
		}
	}

	if err := d.writeDatagram(regPMulPDiv.forAxis(axis), 0x00, byte(pm), byte(pd)); err != nil {
		return err
	}
	if err := d.writeUint24(regAMax.forAxis(axis), uint32(accel)); err != nil {
		return err
	}
	if pm < 0 {
		return fmt.Errorf("%w: accel=%d pulse_div=%d ramp_div=%d", ErrNoScalingPair, accel, pulseDiv, rampDiv)
	}
	return nil
}

// GetMaxAcceleration returns the maximum acceleration of an axis.
func (d *Dev) GetMaxAcceleration(axis Axis) (uint16, error) {
	if err := checkAxis(axis); err != nil {
		return 0, err
	}
	v, err := d.readUint24(regAMax.forAxis(axis))
	return uint16(v), err
}

// GetActualAcceleration returns the acceleration the ramp generator is
// currently applying to the axis.
func (d *Dev) GetActualAcceleration(axis Axis) (int32, error) {
	if err := checkAxis(axis); err != nil {
		return 0, err
	}
	return d.readInt12(regAActual.forAxis(axis))
}

// SetClockDividers sets the step pulse and ramp clock dividers and the
// microstep resolution of an axis. pulseDiv and rampDiv are 4 bit
// exponents dividing the system clock; microRes selects 2^microRes
// microsteps per full step.
//
// Changing the dividers invalidates the pmul/pdiv pair; call
// SetMaxAcceleration afterwards.
func (d *Dev) SetClockDividers(axis Axis, pulseDiv, rampDiv, microRes uint8) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	return d.writeDatagram(regPulseRampDiv.forAxis(axis), 0x00, pulseDiv<<4|rampDiv&0x0F, microRes&0x07)
}

// GetClockDividers returns the step pulse and ramp clock dividers of an
// axis.
func (d *Dev) GetClockDividers(axis Axis) (pulseDiv, rampDiv uint8, err error) {
	if err = checkAxis(axis); err != nil {
		return 0, 0, err
	}
	_, b, err := d.readBytes(regPulseRampDiv.forAxis(axis))
	if err != nil {
		return 0, 0, err
	}
	return b[1] >> 4, b[1] & 0x0F, nil
}

// SetReferenceTolerance sets the window around the reference switch point
// within which the latched position of an axis is considered valid. 12
// bit.
func (d *Dev) SetReferenceTolerance(axis Axis, tolerance uint16) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	return d.writeUint16(regRefTolerance.forAxis(axis), tolerance&0x0FFF)
}

// SetInterruptMask selects which ramp events of an axis raise the
// interrupt line.
func (d *Dev) SetInterruptMask(axis Axis, mask uint8) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	return d.writeDatagram(regIntMaskFlags.forAxis(axis), 0x00, mask, 0x00)
}

// GetInterruptFlags returns the pending interrupt flags of an axis.
func (d *Dev) GetInterruptFlags(axis Axis) (uint8, error) {
	if err := checkAxis(axis); err != nil {
		return 0, err
	}
	return d.readByteAt(regIntMaskFlags.forAxis(axis), 2)
}

// GetMicrostepCount returns the microstep counter of an axis.
func (d *Dev) GetMicrostepCount(axis Axis) (uint8, error) {
	if err := checkAxis(axis); err != nil {
		return 0, err
	}
	return d.readByteAt(regUStepCount.forAxis(axis), 2)
}

// SetInterfaceConfig writes the interface configuration register.
func (d *Dev) SetInterfaceConfig(cfg InterfaceConfig) error {
	return d.writeUint24(regIfConfig, uint32(cfg))
}

// SetPositionCompare sets the position the compare output toggles at. The
// axis observed is selected with the IfConfPosComp bits of the interface
// configuration.
func (d *Dev) SetPositionCompare(position int32) error {
	return d.writeUint24(regPosComp, uint32(position))
}

// PowerDown puts the device into power-down mode. Any following register
// access wakes it up again.
func (d *Dev) PowerDown() error {
	return d.writeZero(regPowerDown)
}

// GetVersion returns the content of the type/version register, which
// reads TypeVersion on a TMC429.
func (d *Dev) GetVersion() (uint32, error) {
	return d.readUint24(regTypeVersion)
}

// GetStatus returns the device status using the single-byte fast path.
// The result carries the same bits as the first byte of any full
// telegram.
func (d *Dev) GetStatus() (Status, error) {
	return d.readStatus()
}

// GetSwitches returns the raw state of the six reference switch inputs.
func (d *Dev) GetSwitches() (Switches, error) {
	b, err := d.readByteAt(regSwitches, 2)
	return Switches(b), err
}

var _ conn.Resource = &Dev{}
