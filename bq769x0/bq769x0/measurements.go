package bq769x0

import (
	"math"
	"sync/atomic"
	"time"
)

// currents inside this band read as zero to suppress ADC noise at idle
const currentDeadBandMA = 10

// nominal coulomb counter conversion interval, used for the first
// sample and whenever the caller stalled long enough that integrating
// the full gap would overstate the charge moved
const ccNominalInterval = 250 * time.Millisecond

/**
updateVoltages reads the pack voltage and every cell channel, converts
to mV with the factory calibration and refreshes the max/min cell
indices. The min index only considers cells above 500 mV so an
unpopulated channel can never look like the weakest cell.
Caller holds the mutex.
*/
func (this *BQ769x0) updateVoltages() error {
	raw, err := this.readRegisterPair(BAT_HI_BYTE)
	if err != nil {
		return err
	}
	this.batVoltage = 4*this.adcGain*int(raw)/1000 + 4*this.adcOffset

	this.idCellMaxVoltage = 0
	this.idCellMinVoltage = 0
	for i := range this.cellVoltages {
		raw, err := this.readRegisterPair(byte(VC1_HI_BYTE + 2*i))
		if err != nil {
			return err
		}
		adcVal := int(raw & 0x3FFF) // top two bits are status, not voltage
		this.cellVoltages[i] = adcVal*this.adcGain/1000 + this.adcOffset

		if this.cellVoltages[i] > this.cellVoltages[this.idCellMaxVoltage] {
			this.idCellMaxVoltage = i
		}
		if this.cellVoltages[i] < this.cellVoltages[this.idCellMinVoltage] && this.cellVoltages[i] > 500 {
			this.idCellMinVoltage = i
		}
	}
	return nil
}

/**
updateCurrent reads the coulomb counter when a conversion is ready (or
unconditionally when the caller already saw CC_READY in SYS_STAT),
converts to mA through the shunt and integrates the charge moved since
the previous reading. Reading the registers clears nothing by itself;
the CC_READY flag is explicitly written back afterwards.
Caller holds the mutex.
*/
func (this *BQ769x0) updateCurrent(ignoreCCReadyFlag bool) error {
	raw, err := this.readRegister(SYS_STAT)
	if err != nil {
		return err
	}
	stat := SysStat(raw)
	if !ignoreCCReadyFlag && !stat.CCReady() {
		return nil
	}

	pair, err := this.readRegisterPair(CC_HI_BYTE)
	if err != nil {
		return err
	}
	this.batCurrent = int(float64(int16(pair)) * 8.44 / this.shuntResistance)

	now := this.now()
	elapsed := now.Sub(this.lastCurrentRead)
	if this.lastCurrentRead.IsZero() || elapsed <= 0 || elapsed > 2*time.Second {
		elapsed = ccNominalInterval
	}
	this.lastCurrentRead = now
	this.coulombCounter += float64(this.batCurrent) * elapsed.Seconds()

	if this.batCurrent > -currentDeadBandMA && this.batCurrent < currentDeadBandMA {
		this.batCurrent = 0
	}

	if this.batCurrent > this.idleCurrentThreshold || this.batCurrent < -this.idleCurrentThreshold {
		this.idleTimestamp = now
	}

	// ALERT was only announcing the new reading
	if stat.Faults() == 0 {
		atomic.StoreInt32(&this.alertFlag, 0)
	}

	return this.writeRegister(SYS_STAT, byte(StatCCReady))
}

/**
updateTemperatures converts the TS1 thermistor channel. The ADC value
becomes a voltage across the thermistor, then a resistance through the
10k divider, then a temperature via the Beta equation with a 25 degC
reference. Stored as degC * 10. Channels 2 and 3 stay unconverted;
single sensor support is a known gap.
Caller holds the mutex.
*/
func (this *BQ769x0) updateTemperatures() error {
	raw, err := this.readRegisterPair(TS1_HI_BYTE)
	if err != nil {
		return err
	}
	adcVal := int(raw & 0x3FFF)
	vtsx := float64(adcVal) * 0.382                // mV
	rts := 10000.0 * vtsx / (3300.0 - vtsx)        // Ohm
	if rts <= 0 {
		return nil // open or shorted thermistor, keep the last reading
	}
	kelvin := 1.0 / (1.0/(273.15+25.0) + math.Log(rts/10000.0)/this.thermistorBeta)
	this.temperatures[0] = int((kelvin - 273.15) * 10.0)
	return nil
}

/**
checkCellTemp maintains the charge and discharge temperature error
flags with hysteresis: a flag sets at the configured limit and only
clears once the reading has moved back inside the window by the
hysteresis band. With no limits configured both flags stay clear.
Caller holds the mutex.
*/
func (this *BQ769x0) checkCellTemp() {
	if this.minCellTempCharge == 0 && this.maxCellTempCharge == 0 &&
		this.minCellTempDischarge == 0 && this.maxCellTempDischarge == 0 {
		return
	}
	temp := this.temperatures[0]

	if this.chargeTempError {
		if temp > this.minCellTempCharge+this.tempHysteresis &&
			temp < this.maxCellTempCharge-this.tempHysteresis {
			this.chargeTempError = false
		}
	} else if temp <= this.minCellTempCharge || temp >= this.maxCellTempCharge {
		this.chargeTempError = true
	}

	if this.dischargeTempError {
		if temp > this.minCellTempDischarge+this.tempHysteresis &&
			temp < this.maxCellTempDischarge-this.tempHysteresis {
			this.dischargeTempError = false
		}
	} else if temp <= this.minCellTempDischarge || temp >= this.maxCellTempDischarge {
		this.dischargeTempError = true
	}
}

/**
GetTemperatureDegC returns the given sensor channel in degrees C.
Channels are numbered from 1; an invalid channel returns absolute
zero, which no battery will ever report.
*/
func (this *BQ769x0) GetTemperatureDegC(channel int) float64 {
	this.mu.Lock()
	defer this.mu.Unlock()
	if channel < 1 || channel > len(this.temperatures) {
		return -273.15
	}
	return float64(this.temperatures[channel-1]) / 10.0
}

/**
GetTemperatureDegF returns the given sensor channel in Fahrenheit.
*/
func (this *BQ769x0) GetTemperatureDegF(channel int) float64 {
	return this.GetTemperatureDegC(channel)*1.8 + 32
}
