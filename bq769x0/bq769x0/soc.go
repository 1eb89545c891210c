package bq769x0

/**
SetBatteryCapacity sets the nominal pack capacity used for state of
charge arithmetic.
*/
func (this *BQ769x0) SetBatteryCapacity(capacityMAH int) {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.nominalCapacity = float64(capacityMAH) * 3600.0 // mAs
}

/**
SetOCV installs the open circuit voltage breakpoint table, ordered
from full (index 0) down to empty. The table is only consulted by the
OCV form of ResetSOC.
*/
func (this *BQ769x0) SetOCV(voltageVsSOC []int) {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.ocv = append([]int(nil), voltageVsSOC...)
}

/**
GetSOC returns the coulomb counter as a percentage of the nominal
capacity. Drift accumulates between OCV resets, so the value can run
slightly outside 0..100.
*/
func (this *BQ769x0) GetSOC() float64 {
	this.mu.Lock()
	defer this.mu.Unlock()
	return this.getSOC()
}

func (this *BQ769x0) getSOC() float64 {
	if this.nominalCapacity == 0 {
		return 0
	}
	return this.coulombCounter / this.nominalCapacity * 100.0
}

/**
ResetSOC rebases the coulomb counter. A percentage in 0..100 sets it
directly; any value outside that range means "derive from OCV": the
highest cell voltage is located in the breakpoint table and the
counter is set by linear interpolation between the surrounding
breakpoints. A voltage below every breakpoint leaves the pack at
empty.
*/
func (this *BQ769x0) ResetSOC(percent int) {
	this.mu.Lock()
	defer this.mu.Unlock()

	if percent >= 0 && percent <= 100 {
		this.coulombCounter = this.nominalCapacity * float64(percent) / 100.0
		return
	}

	voltage := this.cellVoltages[this.idCellMaxVoltage]
	this.coulombCounter = 0 // assume fully depleted until a breakpoint matches

	points := len(this.ocv)
	for i := 0; i < points; i++ {
		if this.ocv[i] <= voltage {
			if i == 0 {
				this.coulombCounter = this.nominalCapacity // full
			} else {
				this.coulombCounter = this.nominalCapacity / float64(points-1) *
					(float64(points-1-i) + float64(voltage-this.ocv[i])/float64(this.ocv[i-1]-this.ocv[i]))
			}
			return
		}
	}
}
