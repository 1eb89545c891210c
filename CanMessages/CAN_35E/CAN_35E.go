package CAN_35E

import (
	"github.com/brutella/can"
)

/**
Battery identification string sent to the Sunny Island inverters. Eight
ASCII characters, space padded.
*/
type CAN_35E struct {
	name string
}

func New(name string) *CAN_35E {
	this := new(CAN_35E)
	this.name = name
	return this
}

func (this *CAN_35E) Name() string {
	return this.name
}

func (this *CAN_35E) Frame() can.Frame {
	frame := can.Frame{
		ID:     0x35E,
		Length: 8,
	}
	for i := 0; i < 8; i++ {
		if i < len(this.name) {
			frame.Data[i] = this.name[i]
		} else {
			frame.Data[i] = ' '
		}
	}
	return frame
}
