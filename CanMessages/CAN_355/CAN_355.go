package CAN_355

import (
	"encoding/binary"
	"github.com/brutella/can"
)

/**
Battery state of charge and state of health sent to the Sunny Island
inverters. Whole percentages in the first two words, then the state of
charge again at 0.01% resolution.
*/
type CAN_355 struct {
	soc      uint16  // State of charge (%)
	soh      uint16  // State of health (%)
	socHiRes float32 // State of charge (%, 0.01% resolution)
}

func New(soc uint16, soh uint16, socHiRes float32) *CAN_355 {
	this := new(CAN_355)
	this.soc = soc
	this.soh = soh
	this.socHiRes = socHiRes
	return this
}

func (this *CAN_355) Soc() uint16 {
	return this.soc
}

func (this *CAN_355) Soh() uint16 {
	return this.soh
}

func (this *CAN_355) SocHiRes() float32 {
	return this.socHiRes
}

func (this *CAN_355) Frame() can.Frame {
	frame := can.Frame{
		ID:     0x355,
		Length: 8,
	}
	binary.LittleEndian.PutUint16(frame.Data[0:2], this.soc)
	binary.LittleEndian.PutUint16(frame.Data[2:4], this.soh)
	binary.LittleEndian.PutUint16(frame.Data[4:6], uint16(this.socHiRes*100))
	return frame
}
