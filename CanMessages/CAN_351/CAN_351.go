package CAN_351

import (
	"encoding/binary"
	"github.com/brutella/can"
)

/**
Battery charge and discharge limits sent to the Sunny Island inverters.
Voltages are scaled by 10, currents are scaled by 10, all little endian.
*/
type CAN_351 struct {
	chargeSetpoint    float32 // Charge voltage setpoint (V)
	chargeCurrent     float32 // Maximum charge current (A)
	dischargeCurrent  float32 // Maximum discharge current (A)
	dischargeSetpoint float32 // Discharge cutoff voltage (V)
}

func New(chargeSetpoint float32, chargeCurrent float32, dischargeCurrent float32, dischargeSetpoint float32) *CAN_351 {
	this := new(CAN_351)
	this.chargeSetpoint = chargeSetpoint
	this.chargeCurrent = chargeCurrent
	this.dischargeCurrent = dischargeCurrent
	this.dischargeSetpoint = dischargeSetpoint
	return this
}

func (this *CAN_351) ChargeSetpoint() float32 {
	return this.chargeSetpoint
}

func (this *CAN_351) ChargeCurrent() float32 {
	return this.chargeCurrent
}

func (this *CAN_351) DischargeCurrent() float32 {
	return this.dischargeCurrent
}

func (this *CAN_351) DischargeSetpoint() float32 {
	return this.dischargeSetpoint
}

func (this *CAN_351) Frame() can.Frame {
	frame := can.Frame{
		ID:     0x351,
		Length: 8,
	}
	binary.LittleEndian.PutUint16(frame.Data[0:2], uint16(this.chargeSetpoint*10))
	binary.LittleEndian.PutUint16(frame.Data[2:4], uint16(int16(this.chargeCurrent*10)))
	binary.LittleEndian.PutUint16(frame.Data[4:6], uint16(int16(this.dischargeCurrent*10)))
	binary.LittleEndian.PutUint16(frame.Data[6:8], uint16(this.dischargeSetpoint*10))
	return frame
}
