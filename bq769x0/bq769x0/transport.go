package bq769x0

import (
	"fmt"
)

// Number of read attempts allowed before a persistent CRC mismatch is
// reported instead of retried.
const crcRetryLimit = 10

var ErrCRCRetriesExhausted = fmt.Errorf("bq769x0: CRC mismatch persisted for %d reads", crcRetryLimit)

/**
crc8ccitt computes the CRC-8-CCITT (polynomial 0x07, initial value 0)
the chip appends to every transferred byte group.
*/
func crc8ccitt(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

/**
writeRegister writes a single register byte. With CRC enabled the
check byte covers the slave address (write direction), the register
address and the data byte.
*/
func (this *BQ769x0) writeRegister(register byte, data byte) error {
	if this.crcEnabled {
		crc := crc8ccitt([]byte{byte(this.address << 1), register, data})
		return this.bus.Tx(this.address, []byte{register, data, crc}, nil)
	}
	return this.bus.Tx(this.address, []byte{register, data}, nil)
}

/**
readRegister reads a single register byte. With CRC enabled the check
byte covers the slave address (read direction) and the data byte; a
mismatch triggers a re-read, bounded by crcRetryLimit.
*/
func (this *BQ769x0) readRegister(register byte) (byte, error) {
	if !this.crcEnabled {
		buf := make([]byte, 1)
		if err := this.bus.Tx(this.address, []byte{register}, buf); err != nil {
			return 0, err
		}
		return buf[0], nil
	}
	buf := make([]byte, 2)
	for attempt := 0; attempt < crcRetryLimit; attempt++ {
		if err := this.bus.Tx(this.address, []byte{register}, buf); err != nil {
			return 0, err
		}
		if crc8ccitt([]byte{byte(this.address<<1) | 1, buf[0]}) == buf[1] {
			return buf[0], nil
		}
	}
	return 0, ErrCRCRetriesExhausted
}

/**
readRegisterPair reads a big-endian high/low register pair in one
burst and returns the combined 16 bit value. With CRC enabled the chip
interleaves a check byte after each data byte; those bytes are not
validated here, matching the single retry-protected path in
readRegister as the only CRC enforcement on reads.
*/
func (this *BQ769x0) readRegisterPair(register byte) (uint16, error) {
	if this.crcEnabled {
		buf := make([]byte, 4)
		if err := this.bus.Tx(this.address, []byte{register}, buf); err != nil {
			return 0, err
		}
		return uint16(buf[0])<<8 | uint16(buf[2]), nil
	}
	buf := make([]byte, 2)
	if err := this.bus.Tx(this.address, []byte{register}, buf); err != nil {
		return 0, err
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}
