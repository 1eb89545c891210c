package bq769x0

// Register map

const SYS_STAT = 0x00  // Status and fault flags, write 1 to clear
const CELLBAL1 = 0x01  // Balancing switches cells 1-5
const CELLBAL2 = 0x02  // Balancing switches cells 6-10
const CELLBAL3 = 0x03  // Balancing switches cells 11-15
const SYS_CTRL1 = 0x04 // ADC enable, thermistor select, shutdown sequence
const SYS_CTRL2 = 0x05 // Coulomb counter enable, CHG/DSG FET drivers
const PROTECT1 = 0x06  // Short circuit discharge threshold and delay
const PROTECT2 = 0x07  // Overcurrent discharge threshold and delay
const PROTECT3 = 0x08  // Under/overvoltage delays
const OV_TRIP = 0x09   // Overvoltage trip code
const UV_TRIP = 0x0A   // Undervoltage trip code
const CC_CFG = 0x0B    // Must hold 0x19, used as the communication check

const VC1_HI_BYTE = 0x0C // First cell voltage pair, subsequent cells at +2 each
const BAT_HI_BYTE = 0x2A // Pack voltage pair
const TS1_HI_BYTE = 0x2C // Thermistor channel 1 pair
const CC_HI_BYTE = 0x32  // Coulomb counter pair

const ADCGAIN1 = 0x50   // ADC gain bits 4:3
const ADCOFFSET = 0x51  // ADC offset, two's complement mV
const ADCGAIN2 = 0x59   // ADC gain bits 2:0

const ccCfgValue = 0x19 // datasheet-required CC_CFG content

/**
SysStat is the SYS_STAT register byte. The low six bits are fault
flags with write-1-to-clear semantics; CC_READY announces a fresh
coulomb counter conversion.
*/
type SysStat byte

const StatCCReady SysStat = 0x80
const StatDeviceXReady SysStat = 0x20
const StatOvrdAlert SysStat = 0x10
const StatUV SysStat = 0x08
const StatOV SysStat = 0x04
const StatSCD SysStat = 0x02
const StatOCD SysStat = 0x01
const statFaultMask SysStat = 0x3F

func (s SysStat) CCReady() bool      { return s&StatCCReady != 0 }
func (s SysStat) DeviceXReady() bool { return s&StatDeviceXReady != 0 }
func (s SysStat) OvrdAlert() bool    { return s&StatOvrdAlert != 0 }
func (s SysStat) Undervoltage() bool { return s&StatUV != 0 }
func (s SysStat) Overvoltage() bool  { return s&StatOV != 0 }
func (s SysStat) ShortCircuit() bool { return s&StatSCD != 0 }
func (s SysStat) Overcurrent() bool  { return s&StatOCD != 0 }

/**
Faults strips the CC_READY bit and returns only the fault flags.
Zero means the chip reports healthy.
*/
func (s SysStat) Faults() SysStat { return s & statFaultMask }

/**
SysCtrl1 holds the ADC and thermistor enables plus the two-step
shutdown field.
*/
type SysCtrl1 byte

const Ctrl1ADCEnable SysCtrl1 = 0x10
const Ctrl1TempSelThermistor SysCtrl1 = 0x08
const ctrl1ShutA SysCtrl1 = 0x02
const ctrl1ShutB SysCtrl1 = 0x01

func (c SysCtrl1) ADCEnabled() bool    { return c&Ctrl1ADCEnable != 0 }
func (c SysCtrl1) ThermistorSel() bool { return c&Ctrl1TempSelThermistor != 0 }

/**
SysCtrl2 carries the coulomb counter enable and the FET driver bits.
*/
type SysCtrl2 byte

const Ctrl2CCEnable SysCtrl2 = 0x40
const Ctrl2DischargeOn SysCtrl2 = 0x02
const Ctrl2ChargeOn SysCtrl2 = 0x01

func (c SysCtrl2) ChargeOn() bool    { return c&Ctrl2ChargeOn != 0 }
func (c SysCtrl2) DischargeOn() bool { return c&Ctrl2DischargeOn != 0 }

func (c SysCtrl2) WithCharge(on bool) SysCtrl2 {
	if on {
		return c | Ctrl2ChargeOn
	}
	return c &^ Ctrl2ChargeOn
}

func (c SysCtrl2) WithDischarge(on bool) SysCtrl2 {
	if on {
		return c | Ctrl2DischargeOn
	}
	return c &^ Ctrl2DischargeOn
}

/**
Protect1 packs the short circuit threshold (bits 2:0), delay (bits 4:3)
and the RSNS range bit (bit 7).
*/
type Protect1 byte

func (p Protect1) WithRSNS(on bool) Protect1 {
	if on {
		return p | 0x80
	}
	return p &^ 0x80
}

func (p Protect1) WithSCDDelay(code int) Protect1 {
	return (p &^ 0x18) | Protect1(code&0x03)<<3
}

func (p Protect1) WithSCDThreshold(code int) Protect1 {
	return (p &^ 0x07) | Protect1(code&0x07)
}

func (p Protect1) SCDDelay() int     { return int(p>>3) & 0x03 }
func (p Protect1) SCDThreshold() int { return int(p) & 0x07 }

/**
Protect2 packs the overcurrent discharge threshold (bits 3:0) and
delay (bits 6:4).
*/
type Protect2 byte

func (p Protect2) WithOCDDelay(code int) Protect2 {
	return (p &^ 0x70) | Protect2(code&0x07)<<4
}

func (p Protect2) WithOCDThreshold(code int) Protect2 {
	return (p &^ 0x0F) | Protect2(code&0x0F)
}

func (p Protect2) OCDDelay() int     { return int(p>>4) & 0x07 }
func (p Protect2) OCDThreshold() int { return int(p) & 0x0F }

/**
Protect3 packs the undervoltage delay (bits 7:6) and overvoltage
delay (bits 5:4).
*/
type Protect3 byte

func (p Protect3) WithUVDelay(code int) Protect3 {
	return (p &^ 0xC0) | Protect3(code&0x03)<<6
}

func (p Protect3) WithOVDelay(code int) Protect3 {
	return (p &^ 0x30) | Protect3(code&0x03)<<4
}

func (p Protect3) UVDelay() int { return int(p>>6) & 0x03 }
func (p Protect3) OVDelay() int { return int(p>>4) & 0x03 }

// Threshold and delay tables, indexed by register code. Only the
// RSNS = 1 current ranges are used.
var scdThresholds = [...]int{44, 67, 89, 111, 133, 155, 178, 200} // mV across the shunt
var scdDelays = [...]int{70, 100, 200, 400}                       // us
var ocdThresholds = [...]int{17, 22, 28, 33, 39, 44, 50, 56, 61, 67, 72, 78, 83, 89, 94, 100} // mV
var ocdDelays = [...]int{8, 20, 40, 80, 160, 320, 640, 1280}      // ms
var uvDelays = [...]int{1, 4, 8, 16}                              // s
var ovDelays = [...]int{1, 2, 4, 8}                               // s

/**
largestCodeAtMost walks the table from the strongest setting down and
returns the index of the largest entry not exceeding the request.
Index 0, the weakest protection, is the fallback.
*/
func largestCodeAtMost(table []int, request int) int {
	for i := len(table) - 1; i > 0; i-- {
		if request >= table[i] {
			return i
		}
	}
	return 0
}
