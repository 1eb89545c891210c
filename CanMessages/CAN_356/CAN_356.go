package CAN_356

import (
	"encoding/binary"
	"github.com/brutella/can"
)

/**
Measured battery voltage, current and temperature sent to the Sunny
Island inverters. Voltage is scaled by 100, current and temperature by
10, all signed little endian.
*/
type CAN_356 struct {
	volts       float32 // Battery voltage (V)
	amps        float32 // Battery current (A, positive = charging)
	temperature float32 // Battery temperature (C)
}

func New(volts float32, amps float32, temperature float32) *CAN_356 {
	this := new(CAN_356)
	this.volts = volts
	this.amps = amps
	this.temperature = temperature
	return this
}

func (this *CAN_356) Volts() float32 {
	return this.volts
}

func (this *CAN_356) Amps() float32 {
	return this.amps
}

func (this *CAN_356) Temperature() float32 {
	return this.temperature
}

func (this *CAN_356) Frame() can.Frame {
	frame := can.Frame{
		ID:     0x356,
		Length: 8,
	}
	binary.LittleEndian.PutUint16(frame.Data[0:2], uint16(int16(this.volts*100)))
	binary.LittleEndian.PutUint16(frame.Data[2:4], uint16(int16(this.amps*10)))
	binary.LittleEndian.PutUint16(frame.Data[4:6], uint16(int16(this.temperature*10)))
	return frame
}
