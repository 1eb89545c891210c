package ModbusController

import (
	"encoding/binary"
	"fmt"
	"github.com/goburrow/modbus"
	"log"
	"sync"
	"time"
)

/**
Serialised access to the RTU bus holding the contactor relay board. The
mutex covers the slave ID selection as well as the transaction so
multiple goroutines can share one serial port.
*/
type ModbusController struct {
	rtuClient    *modbus.RTUClientHandler
	modbusClient modbus.Client
	mu           sync.Mutex
}

/**
Set up a new ModBus using the parameters given. No attempt is made to connect at this time.
*/
func New(rtuAddress string, baudRate int, dataBits int, stopBits int, parity string, timeout time.Duration) *ModbusController {
	this := new(ModbusController)
	this.rtuClient = modbus.NewRTUClientHandler(rtuAddress)
	this.rtuClient.BaudRate = baudRate
	this.rtuClient.DataBits = dataBits
	this.rtuClient.Timeout = timeout
	this.rtuClient.Parity = parity
	this.rtuClient.StopBits = stopBits
	this.rtuClient.SlaveId = 1

	return this
}

func (this *ModbusController) Close() {
	this.mu.Lock()
	defer this.mu.Unlock()
	if this.rtuClient != nil {
		closeErr := this.rtuClient.Close()
		if closeErr != nil {
			log.Println(closeErr)
		}
	}
}

func (this *ModbusController) Connect() error {
	this.mu.Lock()
	defer this.mu.Unlock()
	err := this.rtuClient.Connect()
	if err != nil {
		return err
	}
	this.modbusClient = modbus.NewClient(this.rtuClient)
	return nil
}

func (this *ModbusController) readCoil(coil uint16) (bool, error) {
	data, err := this.modbusClient.ReadCoils(coil, 1)
	if err != nil {
		return false, err
	}
	if len(data) != 1 {
		return false, fmt.Errorf("read coil %d returned %d bytes when 1 was expected", coil, len(data))
	}
	return data[0] != 0, nil
}

func (this *ModbusController) ReadCoil(coil uint16, slaveId uint8) (bool, error) {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.rtuClient.SlaveId = slaveId
	return this.readCoil(coil)
}

func (this *ModbusController) WriteCoil(coil uint16, value bool, slaveId uint8) error {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.rtuClient.SlaveId = slaveId
	var err error
	if value {
		_, err = this.modbusClient.WriteSingleCoil(coil, 0xFF00)
	} else {
		_, err = this.modbusClient.WriteSingleCoil(coil, 0x0000)
	}
	return err
}

func convertBitsToBools(byteData []byte, length uint16) []bool {
	boolData := make([]bool, length)
	for i, b := range byteData {
		for bit := 0; bit < 8; bit++ {
			boolIndex := uint16((i * 8) + bit)
			if boolIndex < length {
				boolData[(i*8)+bit] = (b & 1) != 0
			}
			b >>= 1
		}
	}
	return boolData
}

func (this *ModbusController) ReadMultipleCoils(start uint16, count uint16, slaveId uint8) ([]bool, error) {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.rtuClient.SlaveId = slaveId
	mbData, err := this.modbusClient.ReadCoils(start, count)
	if err != nil {
		return make([]bool, count), err
	}
	return convertBitsToBools(mbData, count), nil
}

func (this *ModbusController) readHoldingRegister(register uint16) (uint16, error) {
	data, err := this.modbusClient.ReadHoldingRegisters(register, 1)
	if err != nil {
		return 0, err
	}
	if len(data) != 2 {
		return 0, fmt.Errorf("read holding register %d returned %d bytes when 2 were expected", register, len(data))
	}
	return binary.BigEndian.Uint16(data), nil
}

func (this *ModbusController) ReadHoldingRegister(holdingRegister uint16, slaveId uint8) (uint16, error) {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.rtuClient.SlaveId = slaveId
	return this.readHoldingRegister(holdingRegister)
}

func (this *ModbusController) WriteHoldingRegister(register uint16, value uint16, slaveId uint8) error {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.rtuClient.SlaveId = slaveId
	_, err := this.modbusClient.WriteSingleRegister(register, value)
	return err
}
