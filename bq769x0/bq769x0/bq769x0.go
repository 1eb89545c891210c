package bq769x0

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/i2c"
)

/**
Variant selects the chip model and with it the number of series cells
the monitor converts.
*/
type Variant int

const (
	BQ76920 Variant = iota // 5 cells
	BQ76930                // 10 cells
	BQ76940                // 15 cells
)

func (v Variant) CellCount() int {
	switch v {
	case BQ76920:
		return 5
	case BQ76930:
		return 10
	default:
		return 15
	}
}

func (v Variant) String() string {
	switch v {
	case BQ76920:
		return "bq76920"
	case BQ76930:
		return "bq76930"
	default:
		return "bq76940"
	}
}

const cellsPerSection = 5 // width of one CELLBAL register

var ErrCommunication = errors.New("bq769x0: communication check failed, device left unconfigured")
var ErrNotConfigured = errors.New("bq769x0: device not initialised")
var ErrNotImplemented = errors.New("bq769x0: charge overcurrent protection is not implemented")

/**
BQ769x0 drives one bq76920/bq76930/bq76940 battery monitor over I2C.
All exported methods serialise on an internal mutex so the periodic
measurement loop and the web handlers can share one instance. The
ALERT edge handler is the single exception: SetAlertInterruptFlag
only touches atomics and may be called from the GPIO wait goroutine.
*/
type BQ769x0 struct {
	bus        i2c.Bus
	address    uint16
	variant    Variant
	crcEnabled bool
	now        func() time.Time

	mu sync.Mutex

	initialised bool
	adcGain     int // uV/LSB
	adcOffset   int // mV

	shuntResistance float64 // mOhm
	thermistorBeta  float64 // K

	cellVoltages     []int // mV
	batVoltage       int   // mV
	batCurrent       int   // mA, negative discharging
	temperatures     [3]int // degC * 10, only channel 0 is converted
	idCellMaxVoltage int
	idCellMinVoltage int

	coulombCounter  float64 // mAs
	nominalCapacity float64 // mAs
	ocv             []int   // mV breakpoints, full first
	lastCurrentRead time.Time

	idleCurrentThreshold int // mA
	idleTimestamp        time.Time

	minCellVoltage int // mV, undervoltage limit as configured
	maxCellVoltage int // mV, overvoltage limit as configured

	minCellTempCharge    int // degC * 10
	maxCellTempCharge    int
	minCellTempDischarge int
	maxCellTempDischarge int
	tempHysteresis       int
	chargeTempError      bool
	dischargeTempError   bool

	errorStatus          SysStat
	secSinceErrorCounter int

	alertFlag   int32 // atomic, set by the ALERT edge handler
	interruptNS int64 // atomic, UnixNano of the last ALERT edge

	autoBalancingEnabled    bool
	balancingMinIdleTime    time.Duration
	balancingMinCellVoltage int // mV
	balancingMaxDifference  int // mV
	balancingStatus         uint32
}

/**
New builds a device handle with safe defaults. Initialise must be
called before any measurement is meaningful.
*/
func New(bus i2c.Bus, address uint16, variant Variant, crcEnabled bool) *BQ769x0 {
	bq := new(BQ769x0)
	bq.bus = bus
	bq.address = address
	bq.variant = variant
	bq.crcEnabled = crcEnabled
	bq.now = time.Now
	bq.cellVoltages = make([]int, variant.CellCount())
	bq.shuntResistance = 1.0
	bq.thermistorBeta = 3435 // typical for a Semitec 103AT-5 thermistor
	bq.idleCurrentThreshold = 30
	bq.balancingMinIdleTime = 30 * time.Minute
	bq.idleTimestamp = bq.now()
	return bq
}

/**
Boot pulls the TS1 boot pin high long enough for the chip to power up,
then releases it to an input so it does not disturb the thermistor
divider. Timings follow the datasheet maxima.
*/
func Boot(pin gpio.PinIO) error {
	if err := pin.Out(gpio.High); err != nil {
		return fmt.Errorf("boot pin %s: %w", pin, err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := pin.In(gpio.Float, gpio.NoEdge); err != nil {
		return fmt.Errorf("boot pin %s: %w", pin, err)
	}
	time.Sleep(10 * time.Millisecond)
	return nil
}

/**
Initialise verifies communication by writing the datasheet constant to
CC_CFG and reading it back, switches the ADC, external thermistor and
coulomb counter on, and reads the factory calibration. On a failed
check the device stays unconfigured and ErrCommunication is returned;
the caller decides whether to retry.
*/
func (this *BQ769x0) Initialise() error {
	this.mu.Lock()
	defer this.mu.Unlock()

	if err := this.writeRegister(CC_CFG, ccCfgValue); err != nil {
		return err
	}
	check, err := this.readRegister(CC_CFG)
	if err != nil {
		return err
	}
	if check != ccCfgValue {
		return ErrCommunication
	}

	if err := this.writeRegister(SYS_CTRL1, byte(Ctrl1ADCEnable|Ctrl1TempSelThermistor)); err != nil {
		return err
	}
	if err := this.writeRegister(SYS_CTRL2, byte(Ctrl2CCEnable)); err != nil {
		return err
	}

	offset, err := this.readRegister(ADCOFFSET)
	if err != nil {
		return err
	}
	gain1, err := this.readRegister(ADCGAIN1)
	if err != nil {
		return err
	}
	gain2, err := this.readRegister(ADCGAIN2)
	if err != nil {
		return err
	}
	this.adcOffset = int(int8(offset))
	this.adcGain = 365 + int((gain1&0b00001100)<<1|(gain2&0b11100000)>>5)
	this.initialised = true
	return nil
}

/**
Shutdown puts the chip into SHIP mode. It only wakes again on a boot
pin pulse.
*/
func (this *BQ769x0) Shutdown() error {
	this.mu.Lock()
	defer this.mu.Unlock()

	for _, step := range []byte{0x0, byte(ctrl1ShutB), byte(ctrl1ShutA)} {
		if err := this.writeRegister(SYS_CTRL1, step); err != nil {
			return err
		}
	}
	return nil
}

/**
Update runs one measurement cycle: current (when a fresh conversion is
ready), all cell voltages, the pack voltage, temperatures and, when
auto balancing is on, the balancing switches. Call it at least every
250 ms so no coulomb counter conversion is missed.
*/
func (this *BQ769x0) Update() error {
	this.mu.Lock()
	defer this.mu.Unlock()

	if !this.initialised {
		return ErrNotConfigured
	}
	if err := this.updateCurrent(false); err != nil {
		return err
	}
	if err := this.updateVoltages(); err != nil {
		return err
	}
	if err := this.updateTemperatures(); err != nil {
		return err
	}
	this.checkCellTemp()
	if this.autoBalancingEnabled {
		return this.updateBalancingSwitches()
	}
	return nil
}

/**
CheckStatus polls the fault flags and runs the timed auto-clear
policy. The returned status is zero while the chip is healthy; a
nonzero value is the raw fault bit set. Chip faults are state, not
errors - the error return only reports bus failures.
*/
func (this *BQ769x0) CheckStatus() (SysStat, error) {
	this.mu.Lock()
	defer this.mu.Unlock()
	return this.checkStatus()
}

func (this *BQ769x0) checkStatus() (SysStat, error) {
	if atomic.LoadInt32(&this.alertFlag) == 0 && this.errorStatus == 0 {
		return 0, nil
	}

	raw, err := this.readRegister(SYS_STAT)
	if err != nil {
		return this.errorStatus, err
	}
	stat := SysStat(raw)

	// A fresh coulomb counter reading raises ALERT too; consume it
	// whatever the fault state.
	if stat.CCReady() {
		if err := this.updateCurrent(true); err != nil {
			return this.errorStatus, err
		}
	}

	if stat.Faults() == 0 {
		this.errorStatus = 0
		atomic.StoreInt32(&this.alertFlag, 0)
		return 0, nil
	}

	if atomic.CompareAndSwapInt32(&this.alertFlag, 1, 0) {
		this.secSinceErrorCounter = 0
	}
	this.errorStatus = stat.Faults()

	secSinceInterrupt := int(this.now().Sub(this.interruptTime()) / time.Second)

	// Resynchronise after clock skew or a stalled caller rather than
	// trusting a counter that has drifted from wall time.
	if diff := secSinceInterrupt - this.secSinceErrorCounter; diff > 2 || diff < -2 {
		this.secSinceErrorCounter = secSinceInterrupt
	}

	if secSinceInterrupt >= this.secSinceErrorCounter {
		if stat.DeviceXReady() && this.secSinceErrorCounter%3 == 0 {
			if err := this.writeRegister(SYS_STAT, byte(StatDeviceXReady)); err != nil {
				return this.errorStatus, err
			}
		}
		if stat.OvrdAlert() && this.secSinceErrorCounter%10 == 0 {
			if err := this.writeRegister(SYS_STAT, byte(StatOvrdAlert)); err != nil {
				return this.errorStatus, err
			}
		}
		if stat.Undervoltage() {
			if err := this.updateVoltages(); err != nil {
				return this.errorStatus, err
			}
			if this.cellVoltages[this.idCellMinVoltage] > this.minCellVoltage {
				if err := this.writeRegister(SYS_STAT, byte(StatUV)); err != nil {
					return this.errorStatus, err
				}
			}
		}
		if stat.Overvoltage() {
			if err := this.updateVoltages(); err != nil {
				return this.errorStatus, err
			}
			if this.cellVoltages[this.idCellMaxVoltage] < this.maxCellVoltage {
				if err := this.writeRegister(SYS_STAT, byte(StatOV)); err != nil {
					return this.errorStatus, err
				}
			}
		}
		if stat.ShortCircuit() && this.secSinceErrorCounter%60 == 0 {
			// datasheet recommends a cool-down before retrying
			if err := this.writeRegister(SYS_STAT, byte(StatSCD)); err != nil {
				return this.errorStatus, err
			}
		}
		if stat.Overcurrent() && this.secSinceErrorCounter%60 == 0 {
			if err := this.writeRegister(SYS_STAT, byte(StatOCD)); err != nil {
				return this.errorStatus, err
			}
		}
		this.secSinceErrorCounter++
	}
	return this.errorStatus, nil
}

/**
SetAlertInterruptFlag records an ALERT pin rising edge. The chip
raises ALERT for a new coulomb counter reading or a fault; either way
only the flag and timestamp are set here - all bus traffic happens on
the next CheckStatus or Update call.
*/
func (this *BQ769x0) SetAlertInterruptFlag() {
	atomic.StoreInt64(&this.interruptNS, this.now().UnixNano())
	atomic.StoreInt32(&this.alertFlag, 1)
}

func (this *BQ769x0) interruptTime() time.Time {
	return time.Unix(0, atomic.LoadInt64(&this.interruptNS))
}

/**
EnableCharging switches the CHG FET on, provided the chip is healthy,
no cell sits at the overvoltage limit and the charge temperature
window is satisfied. Returns false when the request was refused.
*/
func (this *BQ769x0) EnableCharging() (bool, error) {
	this.mu.Lock()
	defer this.mu.Unlock()

	status, err := this.checkStatus()
	if err != nil {
		return false, err
	}
	if status != 0 ||
		this.cellVoltages[this.idCellMaxVoltage] >= this.maxCellVoltage ||
		this.chargeTempError {
		return false, nil
	}
	ctrl, err := this.readRegister(SYS_CTRL2)
	if err != nil {
		return false, err
	}
	if err := this.writeRegister(SYS_CTRL2, byte(SysCtrl2(ctrl).WithCharge(true))); err != nil {
		return false, err
	}
	return true, nil
}

/**
DisableCharging switches the CHG FET off unconditionally.
*/
func (this *BQ769x0) DisableCharging() error {
	this.mu.Lock()
	defer this.mu.Unlock()

	ctrl, err := this.readRegister(SYS_CTRL2)
	if err != nil {
		return err
	}
	return this.writeRegister(SYS_CTRL2, byte(SysCtrl2(ctrl).WithCharge(false)))
}

/**
EnableDischarging switches the DSG FET on, provided the chip is
healthy, no cell sits at the undervoltage limit and the discharge
temperature window is satisfied.
*/
func (this *BQ769x0) EnableDischarging() (bool, error) {
	this.mu.Lock()
	defer this.mu.Unlock()

	status, err := this.checkStatus()
	if err != nil {
		return false, err
	}
	if status != 0 ||
		this.cellVoltages[this.idCellMinVoltage] <= this.minCellVoltage ||
		this.dischargeTempError {
		return false, nil
	}
	ctrl, err := this.readRegister(SYS_CTRL2)
	if err != nil {
		return false, err
	}
	if err := this.writeRegister(SYS_CTRL2, byte(SysCtrl2(ctrl).WithDischarge(true))); err != nil {
		return false, err
	}
	return true, nil
}

/**
DisableDischarging switches the DSG FET off unconditionally.
*/
func (this *BQ769x0) DisableDischarging() error {
	this.mu.Lock()
	defer this.mu.Unlock()

	ctrl, err := this.readRegister(SYS_CTRL2)
	if err != nil {
		return err
	}
	return this.writeRegister(SYS_CTRL2, byte(SysCtrl2(ctrl).WithDischarge(false)))
}

// Configuration setters. Plain state, no bus traffic.

func (this *BQ769x0) SetShuntResistorValue(resMilliOhm float64) {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.shuntResistance = resMilliOhm
}

func (this *BQ769x0) SetThermistorBetaValue(betaK float64) {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.thermistorBeta = betaK
}

func (this *BQ769x0) SetIdleCurrentThreshold(currentMA int) {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.idleCurrentThreshold = currentMA
}

/**
SetTemperatureLimits configures the charge and discharge windows in
degrees C. The hysteresis band keeps the enable gates from chattering
around a limit.
*/
func (this *BQ769x0) SetTemperatureLimits(minDischargeDegC, maxDischargeDegC, minChargeDegC, maxChargeDegC, hysteresisDegC int) {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.minCellTempDischarge = minDischargeDegC * 10
	this.maxCellTempDischarge = maxDischargeDegC * 10
	this.minCellTempCharge = minChargeDegC * 10
	this.maxCellTempCharge = maxChargeDegC * 10
	this.tempHysteresis = hysteresisDegC * 10
}

func (this *BQ769x0) SetBalancingThresholds(minIdleTime time.Duration, minCellVoltageMV int, maxVoltageDifferenceMV int) {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.balancingMinIdleTime = minIdleTime
	this.balancingMinCellVoltage = minCellVoltageMV
	this.balancingMaxDifference = maxVoltageDifferenceMV
}

func (this *BQ769x0) EnableAutoBalancing() {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.autoBalancingEnabled = true
}

func (this *BQ769x0) DisableAutoBalancing() {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.autoBalancingEnabled = false
}

// Getters used by the web and CAN layers.

func (this *BQ769x0) GetBatteryCurrent() int {
	this.mu.Lock()
	defer this.mu.Unlock()
	return this.batCurrent
}

func (this *BQ769x0) GetBatteryVoltage() int {
	this.mu.Lock()
	defer this.mu.Unlock()
	return this.batVoltage
}

func (this *BQ769x0) GetMaxCellVoltage() int {
	this.mu.Lock()
	defer this.mu.Unlock()
	return this.cellVoltages[this.idCellMaxVoltage]
}

func (this *BQ769x0) GetMinCellVoltage() int {
	this.mu.Lock()
	defer this.mu.Unlock()
	return this.cellVoltages[this.idCellMinVoltage]
}

/**
GetCellVoltage returns one cell in mV; cells are numbered from 1 as on
the chip pinout.
*/
func (this *BQ769x0) GetCellVoltage(idCell int) int {
	this.mu.Lock()
	defer this.mu.Unlock()
	if idCell < 1 || idCell > len(this.cellVoltages) {
		return 0
	}
	return this.cellVoltages[idCell-1]
}

func (this *BQ769x0) GetCellVoltages() []int {
	this.mu.Lock()
	defer this.mu.Unlock()
	cells := make([]int, len(this.cellVoltages))
	copy(cells, this.cellVoltages)
	return cells
}

/**
GetNumberOfConnectedCells counts the channels reading a plausible cell
voltage. Unpopulated channels on a short stack read near zero.
*/
func (this *BQ769x0) GetNumberOfConnectedCells() int {
	this.mu.Lock()
	defer this.mu.Unlock()
	connected := 0
	for _, v := range this.cellVoltages {
		if v > 500 {
			connected++
		}
	}
	return connected
}

/**
GetAvgCellVoltage returns the mean over the connected cells in mV.
*/
func (this *BQ769x0) GetAvgCellVoltage() int {
	this.mu.Lock()
	defer this.mu.Unlock()
	sum, connected := 0, 0
	for _, v := range this.cellVoltages {
		if v > 500 {
			sum += v
			connected++
		}
	}
	if connected == 0 {
		return 0
	}
	return sum / connected
}

func (this *BQ769x0) GetBalancingStatus() uint32 {
	this.mu.Lock()
	defer this.mu.Unlock()
	return this.balancingStatus
}

func (this *BQ769x0) GetErrorStatus() SysStat {
	this.mu.Lock()
	defer this.mu.Unlock()
	return this.errorStatus
}

func (this *BQ769x0) CellCount() int {
	return len(this.cellVoltages)
}

/**
GetValuesAsJSON returns the full measurement set as a JSON object for
the web socket and REST handlers.
*/
func (this *BQ769x0) GetValuesAsJSON() string {
	this.mu.Lock()
	values := struct {
		Variant         string  `json:"variant"`
		CellVoltages    []int   `json:"cellVoltages"`
		PackVoltage     int     `json:"packVoltage"`
		Current         int     `json:"current"`
		Temperature     float64 `json:"temperature"`
		SOC             float64 `json:"soc"`
		MaxCell         int     `json:"maxCell"`
		MinCell         int     `json:"minCell"`
		BalancingStatus uint32  `json:"balancingStatus"`
		ErrorStatus     byte    `json:"errorStatus"`
	}{
		Variant:         this.variant.String(),
		CellVoltages:    append([]int(nil), this.cellVoltages...),
		PackVoltage:     this.batVoltage,
		Current:         this.batCurrent,
		Temperature:     float64(this.temperatures[0]) / 10.0,
		SOC:             this.getSOC(),
		MaxCell:         this.idCellMaxVoltage + 1,
		MinCell:         this.idCellMinVoltage + 1,
		BalancingStatus: this.balancingStatus,
		ErrorStatus:     byte(this.errorStatus),
	}
	this.mu.Unlock()

	s, err := json.Marshal(values)
	if err != nil {
		log.Println("Error marshalling the battery values to JSON -", err)
		return ""
	}
	return string(s)
}
