package Contactors

import (
	"encoding/json"
	"log"
	"sync"
)

// Coils on the relay board
const ChargeContactorRelay = 1
const DischargeContactorRelay = 2
const BatteryFanRelay = 3

// Fan hysteresis band on the hottest cell temperature
const FanOnTemperature = 42.0
const FanOffTemperature = 41.5

type coilWriter interface {
	WriteCoil(coil uint16, value bool, slaveId uint8) error
}

type Contactors struct {
	mbus         coilWriter
	slaveAddress uint8
	charge       bool
	discharge    bool
	fan          bool
	fanOverride  bool
	mu           sync.Mutex
}

/**
Set up the contactor and fan relays on the given modbus slave. No coils are
touched until Evaluate or one of the setters is called.
*/
func New(mbus coilWriter, slaveAddress uint8) *Contactors {
	this := new(Contactors)
	this.mbus = mbus
	this.slaveAddress = slaveAddress
	return this
}

/**
Drive a coil only when the requested state differs from the last state we
wrote. Failed writes leave the cached state alone so the next pass retries.
*/
func (this *Contactors) setCoil(coil uint16, state *bool, value bool, name string) {
	if *state == value {
		return
	}
	if err := this.mbus.WriteCoil(coil, value, this.slaveAddress); err != nil {
		log.Println("Failed to switch the", name, "relay -", err)
		return
	}
	*state = value
}

/**
Bring the contactors and the battery fan in line with the pack state. The
charge and discharge flags come from the driver's enable gates; the fan
follows the hottest cell with half a degree of hysteresis.
*/
func (this *Contactors) Evaluate(chargeAllowed bool, dischargeAllowed bool, maxCellTemp float64) {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.setCoil(ChargeContactorRelay, &this.charge, chargeAllowed, "charge contactor")
	this.setCoil(DischargeContactorRelay, &this.discharge, dischargeAllowed, "discharge contactor")
	if this.fanOverride {
		return
	}
	if maxCellTemp > FanOnTemperature {
		this.setCoil(BatteryFanRelay, &this.fan, true, "battery fan")
	} else if maxCellTemp < FanOffTemperature {
		this.setCoil(BatteryFanRelay, &this.fan, false, "battery fan")
	}
}

/**
Force the fan on or off from the WEB interface. The override sticks until
ClearFanOverride puts the fan back under temperature control.
*/
func (this *Contactors) SetFanOverride(value bool) {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.fanOverride = true
	this.setCoil(BatteryFanRelay, &this.fan, value, "battery fan")
}

func (this *Contactors) ClearFanOverride() {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.fanOverride = false
}

/**
Drop both contactors, e.g. ahead of a shutdown.
*/
func (this *Contactors) AllOff() {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.setCoil(ChargeContactorRelay, &this.charge, false, "charge contactor")
	this.setCoil(DischargeContactorRelay, &this.discharge, false, "discharge contactor")
	this.setCoil(BatteryFanRelay, &this.fan, false, "battery fan")
}

func (this *Contactors) Charge() bool {
	this.mu.Lock()
	defer this.mu.Unlock()
	return this.charge
}

func (this *Contactors) Discharge() bool {
	this.mu.Lock()
	defer this.mu.Unlock()
	return this.discharge
}

func (this *Contactors) Fan() bool {
	this.mu.Lock()
	defer this.mu.Unlock()
	return this.fan
}

func (this *Contactors) GetStatusAsJSON() string {
	this.mu.Lock()
	defer this.mu.Unlock()
	status := struct {
		Charge    bool `json:"charge"`
		Discharge bool `json:"discharge"`
		Fan       bool `json:"fan"`
	}{
		Charge:    this.charge,
		Discharge: this.discharge,
		Fan:       this.fan,
	}
	jsonBytes, err := json.Marshal(status)
	if err != nil {
		log.Println(err)
		return ""
	}
	return string(jsonBytes)
}
