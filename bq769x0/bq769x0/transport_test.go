package bq769x0

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC8CheckValue(t *testing.T) {
	// standard CRC-8 check value (poly 0x07, init 0, no reflection)
	assert.Equal(t, byte(0xF4), crc8ccitt([]byte("123456789")))
	assert.Equal(t, byte(0x00), crc8ccitt(nil))
	assert.Equal(t, byte(0x00), crc8ccitt([]byte{0x00}))
}

func TestWriteRegisterFraming(t *testing.T) {
	bus := newFakeBus(true)
	bq := New(bus, 0x08, BQ76920, true)

	require.NoError(t, bq.writeRegister(CC_CFG, ccCfgValue))
	require.Len(t, bus.frames, 1)
	expectedCRC := crc8ccitt([]byte{0x08 << 1, CC_CFG, ccCfgValue})
	assert.Equal(t, []byte{CC_CFG, ccCfgValue, expectedCRC}, bus.frames[0])
}

func TestWriteRegisterNoCRC(t *testing.T) {
	bus := newFakeBus(false)
	bq := New(bus, 0x08, BQ76920, false)

	require.NoError(t, bq.writeRegister(CC_CFG, ccCfgValue))
	require.Len(t, bus.frames, 1)
	assert.Equal(t, []byte{CC_CFG, ccCfgValue}, bus.frames[0])
}

func TestReadRegisterRetriesOnCRCMismatch(t *testing.T) {
	bus := newFakeBus(true)
	bus.regs[SYS_CTRL2] = 0x40
	bus.corruptReads = 3
	bq := New(bus, 0x08, BQ76920, true)

	data, err := bq.readRegister(SYS_CTRL2)
	require.NoError(t, err)
	assert.Equal(t, byte(0x40), data)
	assert.Equal(t, 4, bus.txCount, "three corrupted reads then one clean read")
}

func TestReadRegisterBoundedRetry(t *testing.T) {
	bus := newFakeBus(true)
	bus.regs[SYS_CTRL2] = 0x40
	bus.corruptReads = crcRetryLimit + 5
	bq := New(bus, 0x08, BQ76920, true)

	_, err := bq.readRegister(SYS_CTRL2)
	require.ErrorIs(t, err, ErrCRCRetriesExhausted)
	assert.Equal(t, crcRetryLimit, bus.txCount)
}

func TestReadRegisterPairBurstLayout(t *testing.T) {
	bus := newFakeBus(true)
	bus.setPair(BAT_HI_BYTE, 0x1234)
	bq := New(bus, 0x08, BQ76920, true)

	raw, err := bq.readRegisterPair(BAT_HI_BYTE)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), raw)
	assert.Equal(t, 1, bus.txCount, "pair must be read in one burst")
}
