package CAN_351

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameLayout(t *testing.T) {
	frame := New(58.4, 120.5, 200.0, 48.0).Frame()

	assert.Equal(t, uint32(0x351), frame.ID)
	assert.Equal(t, uint8(8), frame.Length)
	assert.Equal(t, []byte{0x48, 0x02}, frame.Data[0:2], "charge setpoint 584")
	assert.Equal(t, []byte{0xB5, 0x04}, frame.Data[2:4], "charge current 1205")
	assert.Equal(t, []byte{0xD0, 0x07}, frame.Data[4:6], "discharge current 2000")
	assert.Equal(t, []byte{0xE0, 0x01}, frame.Data[6:8], "discharge setpoint 480")
}
