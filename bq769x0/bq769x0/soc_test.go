package bq769x0

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// a coarse LiFePO4 style curve, full first
var testOCV = []int{3392, 3314, 3309, 3308, 3304, 3296, 3283, 3275, 3271, 3268, 3265}

func TestSOCRoundTrip(t *testing.T) {
	bq, _, _ := newTestDevice(BQ76920)
	bq.SetBatteryCapacity(45000)

	bq.ResetSOC(50)
	assert.InDelta(t, 50.0, bq.GetSOC(), 0.001)

	bq.ResetSOC(0)
	assert.InDelta(t, 0.0, bq.GetSOC(), 0.001)

	bq.ResetSOC(100)
	assert.InDelta(t, 100.0, bq.GetSOC(), 0.001)
}

func TestSOCWithoutCapacity(t *testing.T) {
	bq, _, _ := newTestDevice(BQ76920)
	assert.Equal(t, 0.0, bq.GetSOC())
}

func TestOCVResetFull(t *testing.T) {
	bq, _, _ := newTestDevice(BQ76920)
	bq.SetBatteryCapacity(45000)
	bq.SetOCV(testOCV)
	bq.cellVoltages[0] = 3400 // above the first breakpoint
	bq.idCellMaxVoltage = 0

	bq.ResetSOC(-1)
	assert.InDelta(t, 100.0, bq.GetSOC(), 0.001)
}

func TestOCVResetEmpty(t *testing.T) {
	bq, _, _ := newTestDevice(BQ76920)
	bq.SetBatteryCapacity(45000)
	bq.SetOCV(testOCV)
	bq.cellVoltages[0] = 3000 // below every breakpoint
	bq.idCellMaxVoltage = 0

	bq.ResetSOC(-1)
	assert.InDelta(t, 0.0, bq.GetSOC(), 0.001)
}

func TestOCVResetInterpolates(t *testing.T) {
	bq, _, _ := newTestDevice(BQ76920)
	bq.SetBatteryCapacity(45000)
	bq.SetOCV([]int{3300, 3100, 2900, 2700, 2500})
	bq.cellVoltages[0] = 3000 // halfway between the 3100 and 2900 breakpoints
	bq.idCellMaxVoltage = 0

	bq.ResetSOC(-1)
	assert.InDelta(t, 62.5, bq.GetSOC(), 0.001)
}

func TestOCVResetMonotonic(t *testing.T) {
	bq, _, _ := newTestDevice(BQ76920)
	bq.SetBatteryCapacity(45000)
	bq.SetOCV(testOCV)

	last := -1.0
	for voltage := 3200; voltage <= 3450; voltage += 5 {
		bq.cellVoltages[0] = voltage
		bq.idCellMaxVoltage = 0
		bq.ResetSOC(-1)
		soc := bq.GetSOC()
		assert.GreaterOrEqual(t, soc, last, "SOC must not drop as the rested voltage rises (%d mV)", voltage)
		last = soc
	}
}
