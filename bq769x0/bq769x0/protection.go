package bq769x0

/**
SetShortCircuitProtection programs the discharge short circuit
threshold and delay. The requested current is normalised through the
shunt to the mV the comparator actually sees and quantized to the
largest table entry not exceeding it. Returns the achieved current
limit in mA after quantization.
*/
func (this *BQ769x0) SetShortCircuitProtection(currentMA int, delayUS int) (int, error) {
	this.mu.Lock()
	defer this.mu.Unlock()

	var protect1 Protect1
	protect1 = protect1.WithRSNS(true) // only the upper input range is used
	threshold := largestCodeAtMost(scdThresholds[:], int(float64(currentMA)*this.shuntResistance/1000.0))
	protect1 = protect1.WithSCDThreshold(threshold)
	protect1 = protect1.WithSCDDelay(largestCodeAtMost(scdDelays[:], delayUS))

	if err := this.writeRegister(PROTECT1, byte(protect1)); err != nil {
		return 0, err
	}
	return int(float64(scdThresholds[threshold]) * 1000.0 / this.shuntResistance), nil
}

/**
SetOvercurrentChargeProtection is not implemented: the chip offers no
charge overcurrent comparator and no software substitute exists yet.
Callers must not rely on any charge current limit being enforced.
*/
func (this *BQ769x0) SetOvercurrentChargeProtection(currentMA int, delayMS int) (int, error) {
	return 0, ErrNotImplemented
}

/**
SetOvercurrentDischargeProtection programs the discharge overcurrent
threshold and delay. RSNS is assumed set by SetShortCircuitProtection.
Returns the achieved current limit in mA.
*/
func (this *BQ769x0) SetOvercurrentDischargeProtection(currentMA int, delayMS int) (int, error) {
	this.mu.Lock()
	defer this.mu.Unlock()

	var protect2 Protect2
	threshold := largestCodeAtMost(ocdThresholds[:], int(float64(currentMA)*this.shuntResistance/1000.0))
	protect2 = protect2.WithOCDThreshold(threshold)
	protect2 = protect2.WithOCDDelay(largestCodeAtMost(ocdDelays[:], delayMS))

	if err := this.writeRegister(PROTECT2, byte(protect2)); err != nil {
		return 0, err
	}
	return int(float64(ocdThresholds[threshold]) * 1000.0 / this.shuntResistance), nil
}

/**
SetCellUndervoltageProtection programs the per-cell undervoltage trip.
The trip code rounds up so the chip trips at or above the requested
floor, never below it. Returns the achieved threshold in mV.
*/
func (this *BQ769x0) SetCellUndervoltageProtection(voltageMV int, delayS int) (int, error) {
	this.mu.Lock()
	defer this.mu.Unlock()

	if !this.initialised {
		return 0, ErrNotConfigured
	}
	this.minCellVoltage = voltageMV

	raw, err := this.readRegister(PROTECT3)
	if err != nil {
		return 0, err
	}
	protect3 := Protect3(raw)

	uvTrip := ((voltageMV-this.adcOffset)*1000/this.adcGain)>>4&0x00FF + 1
	if err := this.writeRegister(UV_TRIP, byte(uvTrip)); err != nil {
		return 0, err
	}

	protect3 = protect3.WithUVDelay(largestCodeAtMost(uvDelays[:], delayS))
	if err := this.writeRegister(PROTECT3, byte(protect3)); err != nil {
		return 0, err
	}
	return (1<<12|uvTrip<<4)*this.adcGain/1000 + this.adcOffset, nil
}

/**
SetCellOvervoltageProtection programs the per-cell overvoltage trip.
The trip code truncates, so the chip trips at or below the requested
ceiling. Returns the achieved threshold in mV.
*/
func (this *BQ769x0) SetCellOvervoltageProtection(voltageMV int, delayS int) (int, error) {
	this.mu.Lock()
	defer this.mu.Unlock()

	if !this.initialised {
		return 0, ErrNotConfigured
	}
	this.maxCellVoltage = voltageMV

	raw, err := this.readRegister(PROTECT3)
	if err != nil {
		return 0, err
	}
	protect3 := Protect3(raw)

	ovTrip := ((voltageMV - this.adcOffset) * 1000 / this.adcGain) >> 4 & 0x00FF
	if err := this.writeRegister(OV_TRIP, byte(ovTrip)); err != nil {
		return 0, err
	}

	protect3 = protect3.WithOVDelay(largestCodeAtMost(ovDelays[:], delayS))
	if err := this.writeRegister(PROTECT3, byte(protect3)); err != nil {
		return 0, err
	}
	return (1<<13|ovTrip<<4)*this.adcGain/1000 + this.adcOffset, nil
}

func (this *BQ769x0) GetMinCellVoltageLimit() int {
	this.mu.Lock()
	defer this.mu.Unlock()
	return this.minCellVoltage
}

func (this *BQ769x0) GetMaxCellVoltageLimit() int {
	this.mu.Lock()
	defer this.mu.Unlock()
	return this.maxCellVoltage
}
