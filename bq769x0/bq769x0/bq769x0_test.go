package bq769x0

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/**
newTestDevice wires a device to the register fake with an injected
clock and a calibration of 1000 uV/LSB and 0 mV offset, so raw ADC
values and millivolts coincide and expected readings can be written
straight into the fake.
*/
func newTestDevice(variant Variant) (*BQ769x0, *fakeBus, *fakeClock) {
	bus := newFakeBus(false)
	clock := newFakeClock()
	bq := New(bus, 0x08, variant, false)
	bq.now = clock.Now
	bq.idleTimestamp = clock.Now()
	bq.initialised = true
	bq.adcGain = 1000
	bq.adcOffset = 0
	return bq, bus, clock
}

func setCell(bus *fakeBus, cell int, mv uint16) {
	bus.setPair(byte(VC1_HI_BYTE+2*(cell-1)), mv)
}

func TestVariantCellCount(t *testing.T) {
	assert.Equal(t, 5, BQ76920.CellCount())
	assert.Equal(t, 10, BQ76930.CellCount())
	assert.Equal(t, 15, BQ76940.CellCount())
}

func TestInitialiseReadsCalibration(t *testing.T) {
	bus := newFakeBus(false)
	bus.regs[ADCGAIN1] = 0b00001100
	bus.regs[ADCGAIN2] = 0b11100000
	bus.regs[ADCOFFSET] = 0xFE // -2 mV
	bq := New(bus, 0x08, BQ76920, false)

	require.NoError(t, bq.Initialise())
	assert.Equal(t, 365+31, bq.adcGain, "all gain bits set adds 31 uV/LSB")
	assert.Equal(t, -2, bq.adcOffset)
	assert.Equal(t, byte(Ctrl1ADCEnable|Ctrl1TempSelThermistor), bus.regs[SYS_CTRL1])
	assert.Equal(t, byte(Ctrl2CCEnable), bus.regs[SYS_CTRL2])
}

func TestInitialiseCommunicationFailure(t *testing.T) {
	bus := newFakeBus(false)
	bus.dropWrites = map[byte]bool{CC_CFG: true}
	bq := New(bus, 0x08, BQ76920, false)

	require.ErrorIs(t, bq.Initialise(), ErrCommunication)
	assert.False(t, bq.initialised)
	assert.ErrorIs(t, bq.Update(), ErrNotConfigured)
}

func TestShutdownSequence(t *testing.T) {
	bq, bus, _ := newTestDevice(BQ76920)

	require.NoError(t, bq.Shutdown())
	require.Len(t, bus.writes, 3)
	assert.Equal(t, regWrite{SYS_CTRL1, 0x0}, bus.writes[0])
	assert.Equal(t, regWrite{SYS_CTRL1, 0x1}, bus.writes[1])
	assert.Equal(t, regWrite{SYS_CTRL1, 0x2}, bus.writes[2])
}

func TestCheckStatusFastPath(t *testing.T) {
	bq, bus, _ := newTestDevice(BQ76920)

	status, err := bq.CheckStatus()
	require.NoError(t, err)
	assert.Equal(t, SysStat(0), status)
	assert.Equal(t, 0, bus.txCount, "healthy device with no alert must not touch the bus")
}

func TestAlertHandlerNoBusIO(t *testing.T) {
	bq, bus, _ := newTestDevice(BQ76920)

	bq.SetAlertInterruptFlag()
	assert.Equal(t, 0, bus.txCount)
}

func TestShortCircuitAutoClearEvery60s(t *testing.T) {
	bq, bus, clock := newTestDevice(BQ76920)
	bus.regs[SYS_STAT] = byte(StatSCD)
	bus.latched = byte(StatSCD) // condition persists, clears never stick

	bq.SetAlertInterruptFlag()
	for sec := 0; sec < 180; sec++ {
		status, err := bq.CheckStatus()
		require.NoError(t, err)
		assert.Equal(t, StatSCD, status)
		clock.Advance(time.Second)
	}
	assert.Equal(t, 3, bus.statWrites(byte(StatSCD)),
		"one clear attempt per 60 s cool-down across 180 s")
}

func TestDeviceXReadyClearEvery3s(t *testing.T) {
	bq, bus, clock := newTestDevice(BQ76920)
	bus.regs[SYS_STAT] = byte(StatDeviceXReady)
	bus.latched = byte(StatDeviceXReady)

	bq.SetAlertInterruptFlag()
	for sec := 0; sec < 9; sec++ {
		_, err := bq.CheckStatus()
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	assert.Equal(t, 3, bus.statWrites(byte(StatDeviceXReady)))
}

func TestOvrdAlertClearEvery10s(t *testing.T) {
	bq, bus, clock := newTestDevice(BQ76920)
	bus.regs[SYS_STAT] = byte(StatOvrdAlert)
	bus.latched = byte(StatOvrdAlert)

	bq.SetAlertInterruptFlag()
	for sec := 0; sec < 30; sec++ {
		_, err := bq.CheckStatus()
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	assert.Equal(t, 3, bus.statWrites(byte(StatOvrdAlert)))
}

func TestUndervoltageClearWaitsForRecovery(t *testing.T) {
	bq, bus, clock := newTestDevice(BQ76920)
	bq.minCellVoltage = 2800
	for cell := 1; cell <= 5; cell++ {
		setCell(bus, cell, 3000)
	}
	setCell(bus, 2, 2500)
	bus.setPair(BAT_HI_BYTE, 3700)
	bus.regs[SYS_STAT] = byte(StatUV)

	bq.SetAlertInterruptFlag()
	status, err := bq.CheckStatus()
	require.NoError(t, err)
	assert.Equal(t, StatUV, status)
	assert.Equal(t, 0, bus.statWrites(byte(StatUV)), "cell still below the limit")

	// cell recovers
	setCell(bus, 2, 3000)
	clock.Advance(time.Second)
	status, err = bq.CheckStatus()
	require.NoError(t, err)
	assert.Equal(t, StatUV, status, "fault stays visible until the chip confirms the clear")
	assert.Equal(t, 1, bus.statWrites(byte(StatUV)))

	clock.Advance(time.Second)
	status, err = bq.CheckStatus()
	require.NoError(t, err)
	assert.Equal(t, SysStat(0), status)
}

func TestOvervoltageClearWaitsForRecovery(t *testing.T) {
	bq, bus, clock := newTestDevice(BQ76920)
	bq.maxCellVoltage = 3650
	for cell := 1; cell <= 5; cell++ {
		setCell(bus, cell, 3700)
	}
	bus.setPair(BAT_HI_BYTE, 3700)
	bus.regs[SYS_STAT] = byte(StatOV)

	bq.SetAlertInterruptFlag()
	_, err := bq.CheckStatus()
	require.NoError(t, err)
	assert.Equal(t, 0, bus.statWrites(byte(StatOV)))

	for cell := 1; cell <= 5; cell++ {
		setCell(bus, cell, 3600)
	}
	clock.Advance(time.Second)
	_, err = bq.CheckStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, bus.statWrites(byte(StatOV)))
}

func TestCounterResyncAfterStall(t *testing.T) {
	bq, bus, clock := newTestDevice(BQ76920)
	bus.regs[SYS_STAT] = byte(StatSCD)
	bus.latched = byte(StatSCD)

	bq.SetAlertInterruptFlag()
	_, err := bq.CheckStatus()
	require.NoError(t, err)
	require.Equal(t, 1, bus.statWrites(byte(StatSCD)))

	// caller stalls well past the per-second cadence; the counter must
	// resynchronise to wall time instead of attempting a burst of
	// catch-up writes
	clock.Advance(45 * time.Second)
	_, err = bq.CheckStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, bus.statWrites(byte(StatSCD)), "45 is not a 60 s boundary")
	assert.Equal(t, 46, bq.secSinceErrorCounter)
}

func TestEnableChargingGates(t *testing.T) {
	bq, bus, _ := newTestDevice(BQ76920)
	bq.maxCellVoltage = 3650
	bq.cellVoltages = []int{3000, 3000, 3000, 3000, 3000}
	bus.regs[SYS_CTRL2] = byte(Ctrl2CCEnable)

	ok, err := bq.EnableCharging()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, byte(Ctrl2CCEnable|Ctrl2ChargeOn), bus.regs[SYS_CTRL2])

	// refused while a cell sits at the overvoltage limit
	bq.cellVoltages[0] = 3660
	bq.idCellMaxVoltage = 0
	bus.regs[SYS_CTRL2] = byte(Ctrl2CCEnable)
	ok, err = bq.EnableCharging()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, byte(Ctrl2CCEnable), bus.regs[SYS_CTRL2])

	// refused outside the charge temperature window
	bq.cellVoltages[0] = 3000
	bq.chargeTempError = true
	ok, err = bq.EnableCharging()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnableDischargingGates(t *testing.T) {
	bq, bus, _ := newTestDevice(BQ76920)
	bq.minCellVoltage = 2800
	bq.cellVoltages = []int{3000, 3000, 3000, 3000, 3000}
	bus.regs[SYS_CTRL2] = byte(Ctrl2CCEnable)

	ok, err := bq.EnableDischarging()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, byte(Ctrl2CCEnable|Ctrl2DischargeOn), bus.regs[SYS_CTRL2])

	require.NoError(t, bq.DisableDischarging())
	assert.Equal(t, byte(Ctrl2CCEnable), bus.regs[SYS_CTRL2])

	bq.cellVoltages[3] = 2700
	bq.idCellMinVoltage = 3
	ok, err = bq.EnableDischarging()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnableRefusedWhileFaulted(t *testing.T) {
	bq, bus, _ := newTestDevice(BQ76920)
	bq.maxCellVoltage = 3650
	bq.cellVoltages = []int{3000, 3000, 3000, 3000, 3000}
	bus.regs[SYS_STAT] = byte(StatOCD)
	bus.latched = byte(StatOCD)
	bq.SetAlertInterruptFlag()

	ok, err := bq.EnableCharging()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, byte(0), bus.regs[SYS_CTRL2])
}

func TestUpdateCycle(t *testing.T) {
	bq, bus, _ := newTestDevice(BQ76920)
	bq.SetShuntResistorValue(1.0)
	for cell := 1; cell <= 5; cell++ {
		setCell(bus, cell, uint16(3000+10*cell))
	}
	bus.setPair(BAT_HI_BYTE, 3760)
	bus.setPair(TS1_HI_BYTE, 4319) // about 25 degC through a 10k divider
	bus.setPair(CC_HI_BYTE, 1000)
	bus.regs[SYS_STAT] = byte(StatCCReady)

	require.NoError(t, bq.Update())
	assert.Equal(t, 8440, bq.GetBatteryCurrent())
	assert.Equal(t, 4*3760, bq.GetBatteryVoltage())
	assert.Equal(t, 3050, bq.GetMaxCellVoltage())
	assert.Equal(t, 3010, bq.GetMinCellVoltage())
	assert.InDelta(t, 25.0, bq.GetTemperatureDegC(1), 0.3)
	assert.Equal(t, 1, bus.statWrites(byte(StatCCReady)), "CC ready flag cleared after the read")
	assert.Equal(t, byte(0), bus.regs[SYS_STAT])
}

func TestGetValuesAsJSON(t *testing.T) {
	bq, _, _ := newTestDevice(BQ76920)
	bq.cellVoltages = []int{3000, 3010, 3020, 3030, 3040}
	bq.idCellMaxVoltage = 4
	bq.batVoltage = 15100
	bq.SetBatteryCapacity(1000)
	bq.ResetSOC(50)

	s := bq.GetValuesAsJSON()
	assert.Contains(t, s, `"packVoltage":15100`)
	assert.Contains(t, s, `"soc":50`)
	assert.Contains(t, s, `"variant":"bq76920"`)
	assert.Contains(t, s, `"maxCell":5`)
}

func TestConnectedCells(t *testing.T) {
	bq, _, _ := newTestDevice(BQ76940)
	for i := range bq.cellVoltages {
		bq.cellVoltages[i] = 3300
	}
	bq.cellVoltages[5] = 0  // unpopulated channel
	bq.cellVoltages[10] = 0

	assert.Equal(t, 13, bq.GetNumberOfConnectedCells())
	assert.Equal(t, 3300, bq.GetAvgCellVoltage())
}
