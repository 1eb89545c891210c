package main

import (
	"BatteryMonitor769x0/CanMessages/CAN_351"
	"BatteryMonitor769x0/CanMessages/CAN_355"
	"BatteryMonitor769x0/CanMessages/CAN_356"
	"BatteryMonitor769x0/CanMessages/CAN_35E"
	"BatteryMonitor769x0/Contactors"
	ModbusController "BatteryMonitor769x0/modbusController"
	bq769x0 "BatteryMonitor769x0/bq769x0/bq769x0"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"github.com/brutella/can"
	_ "github.com/go-sql-driver/mysql"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"log"
	"log/syslog"
	"net/http"
	"os"
	"path/filepath"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"
	"strconv"
	"sync"
	"time"
)

type InverterSetpoints struct {
	VSetpoint       float32 `json:"v_setpoint"`        // Current setpoint for the inverter battery voltage
	ISetpoint       float32 `json:"i_setpoint"`        // Current setpoint for the inverter charge current
	VDischarge      float32 `json:"v_discharge"`       // Setpoint for minimum discharge voltage
	IDischarge      float32 `json:"i_discharge"`       // Setpoint for maximum discharge current
	VTargetSetpoint float32 `json:"v_target_setpoint"` // Voltage we should get to
	ITargetSetpoint float32 `json:"i_target_setpoint"` // Current we should get to
}

// Open circuit voltage curve for the LiFePO4 pack, full first, millivolts
// per cell at 10% state of charge steps.
var defaultOCV = []int{3392, 3314, 3309, 3308, 3304, 3296, 3283, 3275, 3271, 3268, 3265}

var (
	bms                *bq769x0.BQ769x0
	contactors         *Contactors.Contactors
	verbose            *bool
	pDB                *sql.DB
	pDatabaseLogin     *string
	pDatabasePassword  *string
	pDatabaseServer    *string
	pDatabasePort      *string
	pDatabaseName      *string
	pCANInterface      *string
	pBatteryName       *string
	pWebPort           *string
	pChargeCurrent     *float64
	pDischargeCurrent  *float64
	alertPin           gpio.PinIO
	voltageStatement   *sql.Stmt
	currentStatement   *sql.Stmt
	tempStatement      *sql.Stmt
	nErrors            int
	chargeInhibit      bool
	dischargeInhibit   bool
	signal             *sync.Cond
	setpoints          InverterSetpoints
	setpointLock       sync.Mutex
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:    1024,
	WriteBufferSize:   1024,
	EnableCompression: true,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// spaHandler implements the http.Handler interface, so we can use it
// to respond to HTTP requests. The path to the static directory and
// path to the index file within that static directory are used to
// serve the SPA in the given static directory.
type spaHandler struct {
	staticPath string
	indexPath  string
}

// ServeHTTP inspects the URL path to locate a file within the static dir
// on the SPA handler. If a file is found, it will be served. If not, the
// file located at the index path on the SPA handler will be served.
func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// get the absolute path to prevent directory traversal
	path, err := filepath.Abs(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	path = filepath.Join(h.staticPath, path)

	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		// file does not exist, serve index.html
		http.ServeFile(w, r, filepath.Join(h.staticPath, h.indexPath))
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.FileServer(http.Dir(h.staticPath)).ServeHTTP(w, r)
}

func setHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "PATCH, GET, OPTIONS")
	w.Header().Set("Access-Control-Expose-Headers", "Authorization")
}

func webOptionsHandler(w http.ResponseWriter, _ *http.Request) {
	setHeaders(w)
	w.WriteHeader(http.StatusOK)
}

/**
One pass of the once-a-second housekeeping: run the fault state machine,
try the charge and discharge gates, bring the contactors in line and tell
the subscribers we have fresh data.
*/
func performStatusCheck() {
	status, err := bms.CheckStatus()
	if err != nil {
		log.Println("CheckStatus - ", err)
		nErrors++
	}
	if *verbose && status.Faults() != 0 {
		fmt.Println("Fault status - ", status.Faults())
	}

	chargeAllowed := false
	if !chargeInhibit {
		chargeAllowed, err = bms.EnableCharging()
		if err != nil {
			log.Println("EnableCharging - ", err)
		}
	} else {
		if err := bms.DisableCharging(); err != nil {
			log.Println("DisableCharging - ", err)
		}
	}
	dischargeAllowed := false
	if !dischargeInhibit {
		dischargeAllowed, err = bms.EnableDischarging()
		if err != nil {
			log.Println("EnableDischarging - ", err)
		}
	} else {
		if err := bms.DisableDischarging(); err != nil {
			log.Println("DisableDischarging - ", err)
		}
	}

	contactors.Evaluate(chargeAllowed, dischargeAllowed, bms.GetTemperatureDegC(1))

	// When a gate refuses, pull the relevant inverter current limit to zero
	// so the Sunny Islands back off before the chip opens the FETs.
	setpointLock.Lock()
	if chargeAllowed {
		setpoints.ITargetSetpoint = float32(*pChargeCurrent)
	} else {
		setpoints.ITargetSetpoint = 0
	}
	if dischargeAllowed {
		setpoints.IDischarge = float32(*pDischargeCurrent)
	} else {
		setpoints.IDischarge = 0
	}
	setpointLock.Unlock()

	signal.Broadcast() // Tell the world we have data now
}

/**
Log the pack data to the database
*/
func logData() {
	args := make([]interface{}, 0, 16)
	cells := bms.GetCellVoltages()
	for i := 0; i < 15; i++ {
		if i < len(cells) {
			args = append(args, cells[i])
		} else {
			args = append(args, 0)
		}
	}
	args = append(args, bms.GetBatteryVoltage())
	_, err := voltageStatement.Exec(args...)
	if err != nil {
		log.Println(err)
		return
	}

	_, err = currentStatement.Exec(bms.GetBatteryCurrent(), bms.GetSOC())
	if err != nil {
		log.Println(err)
	}

	if time.Now().Second() == 0 {
		_, err = tempStatement.Exec(bms.GetTemperatureDegC(1))
		if err != nil {
			log.Println(err)
		}
	}
}

/**
Start the Web Socket server. This sends out data to all subscribers on a regular schedule so subscribers don't need to poll for updates.
*/
func startDataWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		if *verbose {
			fmt.Println("startDataWebSocket - ", err)
		}
		return
	}
	for {
		signal.L.Lock()   // Get the signal and lock it.
		signal.Wait()     // Wait for it to be signalled again. It is unlocked while we wait then locked again before returning
		signal.L.Unlock() // Unlock it
		w, err := conn.NextWriter(websocket.TextMessage)
		if err != nil {
			log.Println("Failed to get the values websocket writer - ", err)
			return
		}
		sJSON := `{"battery":` + bms.GetValuesAsJSON() + `,"contactors":` + contactors.GetStatusAsJSON() + `}`
		_, err = fmt.Fprint(w, sJSON)
		if err != nil {
			log.Println("failed to write the values message to the websocket - ", err)
			return
		}
		if err := w.Close(); err != nil {
			log.Println("Failed to close the values websocket writer - ", err)
		}
	}
}

/**
Home page
*/
func socketHome(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_, err := fmt.Fprint(w, homeHTML)
	if err != nil {
		log.Print("socketHome - ", err)
	}
}

func SendSMAHeartBeat() {
	heartbeat := time.NewTicker(time.Second)

	bus, err := can.NewBusForInterfaceWithName(*pCANInterface)
	if err != nil {
		log.Fatalf("Error starting CAN interface - %s -\nSorry, I am giving up", err)
	} else {
		log.Println("Connected to CAN bus - sending the battery heartbeat.")
	}
	loops := 0
	for {
		<-heartbeat.C
		setpointLock.Lock()
		msg351 := CAN_351.New(setpoints.VSetpoint, setpoints.ISetpoint, setpoints.IDischarge, setpoints.VDischarge)
		setpointLock.Unlock()
		err := bus.Publish(msg351.Frame())
		if err != nil {
			log.Println("CAN 351 Message error - ", err)
		}
		soc := bms.GetSOC()
		msg355 := CAN_355.New(uint16(soc), 100, float32(soc))
		err = bus.Publish(msg355.Frame())
		if err != nil {
			log.Println("CAN 355 Message error - ", err)
		}

		msg356 := CAN_356.New(float32(bms.GetBatteryVoltage())/1000.0, float32(bms.GetBatteryCurrent())/1000.0, float32(bms.GetTemperatureDegC(1)))
		err = bus.Publish(msg356.Frame())
		if err != nil {
			log.Println("CAN 356 Message error - ", err)
		}

		if loops == 0 {
			msg35E := CAN_35E.New(*pBatteryName)
			err = bus.Publish(msg35E.Frame())
			if err != nil {
				log.Println("CAN-35E Message error - ", err)
			}
		}
		loops++
		if loops > 15 {
			loops = 0
		}
		// Move the setpoints closer to the target values slowly. Voltage 0.2V/sec, Current 5.0A/sec
		setpointLock.Lock()
		vDiff := setpoints.VTargetSetpoint - setpoints.VSetpoint
		if vDiff != 0 {
			if vDiff > 0.2 {
				vDiff = 0.2
			}
			if vDiff < -0.2 {
				vDiff = -0.2
			}
			setpoints.VSetpoint += vDiff
		}
		iDiff := setpoints.ITargetSetpoint - setpoints.ISetpoint
		if iDiff != 0 {
			if iDiff > 5.0 {
				iDiff = 5.0
			}
			if iDiff < -5.0 {
				iDiff = -5.0
			}
			setpoints.ISetpoint += iDiff
		}
		setpointLock.Unlock()
	}
}

func mainImpl() error {
	log.SetFlags(log.Lmicroseconds)
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}

	for {
		err := bms.Initialise()
		if err == nil {
			break
		}
		log.Println("Looking for the battery monitor - ", err)
		fmt.Println("Looking for a device")
		time.Sleep(3 * time.Second)
	}
	log.Println("Starting up")
	fmt.Println("Startup.")

	configureProtection()

	// Seed the state of charge from the rested cell voltages.
	if err := bms.Update(); err != nil {
		log.Println("First measurement - ", err)
	}
	bms.ResetSOC(-1)

	// The chip completes a coulomb counter conversion every 250ms. Keep the
	// measurement loop on the same cadence.
	measureTicker := time.NewTicker(250 * time.Millisecond)
	go func() {
		log.Println("Starting measurements.")
		for {
			<-measureTicker.C
			if err := bms.Update(); err != nil {
				log.Println("Update - ", err)
				nErrors++
			}
		}
	}()

	statusTicker := time.NewTicker(time.Second)
	go func() {
		for {
			<-statusTicker.C
			performStatusCheck()
		}
	}()

	go func() {
		for {
			signal.L.Lock()   // Get the signal and lock it.
			signal.Wait()     // Wait for it to be signalled again. It is unlocked while we wait then locked again before returning
			signal.L.Unlock() // Unlock it
			logData()
		}
	}()

	// Pass rising edges on the ALERT pin straight to the driver. The handler
	// only touches atomics so this goroutine never blocks on the bus.
	if alertPin != nil {
		go func() {
			for {
				alertPin.WaitForEdge(-1)
				bms.SetAlertInterruptFlag()
				if *verbose {
					fmt.Println("ALERT edge")
				}
			}
		}()
	}

	// Start sending the SMA heartbeat to the Sunny Island inverters
	go SendSMAHeartBeat()

	// Configure and start the WEB server
	fmt.Println("Starting the WEB server")
	router := mux.NewRouter().StrictSlash(true)
	router.PathPrefix("/").Methods("OPTIONS").HandlerFunc(webOptionsHandler)
	router.HandleFunc("/values", getValues).Methods("GET")
	router.HandleFunc("/version", getVersion).Methods("GET")
	router.HandleFunc("/ws", startDataWebSocket).Methods("GET")
	router.HandleFunc("/sockets", socketHome).Methods("GET")
	router.HandleFunc("/soc", webGetSoc).Methods("GET")
	router.HandleFunc("/soc/{percent}", webResetSoc).Methods("PATCH")
	router.HandleFunc("/protection", webGetProtection).Methods("GET")
	router.HandleFunc("/balancing", webGetBalancing).Methods("GET")
	router.HandleFunc("/charge/{onOff}", webSetCharge).Methods("PATCH")
	router.HandleFunc("/discharge/{onOff}", webSetDischarge).Methods("PATCH")
	router.HandleFunc("/contactors", webGetContactors).Methods("GET")
	router.HandleFunc("/batteryFan/{onOff}", webBatteryFan).Methods("PATCH")
	router.HandleFunc("/chargingParameters", webGetChargingParameters).Methods("GET")
	router.HandleFunc("/batteryCurrent", webGetCurrentData).Methods("GET")
	router.HandleFunc("/batteryVoltages", webGetVoltageData).Methods("GET")
	router.HandleFunc("/cellValues/{cell}", webGetCellData).Methods("GET")
	router.HandleFunc("/status/{avg}", webGetStatus).Methods("GET")
	spa := spaHandler{staticPath: "/var/www/html", indexPath: "index.html"}
	router.PathPrefix("/").Handler(spa)

	srv := &http.Server{
		Handler: router,
		Addr:    *pWebPort,
		// Good practice: enforce timeouts for servers you create!
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	err := srv.ListenAndServe()
	if err != nil {
		log.Println("WEB Server Startup error - ", err)
	}
	return nil
}

func connectToDatabase() (*sql.DB, error) {
	if pDB != nil {
		_ = pDB.Close()
		pDB = nil
	}
	var sConnectionString = *pDatabaseLogin + ":" + *pDatabasePassword + "@tcp(" + *pDatabaseServer + ":" + *pDatabasePort + ")/" + *pDatabaseName + "?loc=Local"

	db, err := sql.Open("mysql", sConnectionString)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	// Prepare the insert statements for voltage, current and temperature
	voltageStatement, err = db.Prepare(`insert into voltage (cell_01,cell_02,cell_03,cell_04,cell_05
                                                            ,cell_06,cell_07,cell_08,cell_09,cell_10
                                                            ,cell_11,cell_12,cell_13,cell_14,cell_15
                                                            ,pack_mv)
                                                     values (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		errClose := db.Close()
		if errClose != nil {
			log.Println(errClose)
		}
		return nil, err
	}
	currentStatement, err = db.Prepare(`insert into current (current_ma, level_of_charge) values (?,?)`)
	if err != nil {
		errClose := db.Close()
		if errClose != nil {
			log.Println(errClose)
		}
		return nil, err
	}
	tempStatement, err = db.Prepare(`insert into temperature (temp_1) values (?)`)
	if err != nil {
		errClose := db.Close()
		if errClose != nil {
			log.Println(errClose)
		}
		return nil, err
	}
	return db, nil
}

// Protection and balancing settings, set from the command line in init()
var (
	pShuntMilliOhm       *float64
	pThermistorBeta      *float64
	pCapacityMAH         *int
	pUndervoltageMV      *int
	pUndervoltageDelayS  *int
	pOvervoltageMV       *int
	pOvervoltageDelayS   *int
	pShortCircuitMA      *int
	pShortCircuitDelayUS *int
	pOvercurrentMA       *int
	pOvercurrentDelayMS  *int
	pMinChargeTemp       *int
	pMaxChargeTemp       *int
	pMinDischargeTemp    *int
	pMaxDischargeTemp    *int
	pTempHysteresis      *int
	pIdleCurrentMA       *int
	pBalanceIdleMinutes  *int
	pBalanceMinCellMV    *int
	pBalanceMaxDiffMV    *int
	pAutoBalance         *bool
)

/**
Push the configured protection thresholds into the chip and log what it
actually achieved after quantization to its register codes.
*/
func configureProtection() {
	if achieved, err := bms.SetShortCircuitProtection(*pShortCircuitMA, *pShortCircuitDelayUS); err != nil {
		log.Println("SetShortCircuitProtection - ", err)
	} else {
		log.Printf("Short circuit protection %dmA requested, %dmA set", *pShortCircuitMA, achieved)
	}
	if achieved, err := bms.SetOvercurrentDischargeProtection(*pOvercurrentMA, *pOvercurrentDelayMS); err != nil {
		log.Println("SetOvercurrentDischargeProtection - ", err)
	} else {
		log.Printf("Overcurrent discharge protection %dmA requested, %dmA set", *pOvercurrentMA, achieved)
	}
	if achieved, err := bms.SetCellUndervoltageProtection(*pUndervoltageMV, *pUndervoltageDelayS); err != nil {
		log.Println("SetCellUndervoltageProtection - ", err)
	} else {
		log.Printf("Undervoltage protection %dmV requested, %dmV set", *pUndervoltageMV, achieved)
	}
	if achieved, err := bms.SetCellOvervoltageProtection(*pOvervoltageMV, *pOvervoltageDelayS); err != nil {
		log.Println("SetCellOvervoltageProtection - ", err)
	} else {
		log.Printf("Overvoltage protection %dmV requested, %dmV set", *pOvervoltageMV, achieved)
	}
	bms.SetTemperatureLimits(*pMinDischargeTemp, *pMaxDischargeTemp, *pMinChargeTemp, *pMaxChargeTemp, *pTempHysteresis)
	bms.SetIdleCurrentThreshold(*pIdleCurrentMA)
	bms.SetBatteryCapacity(*pCapacityMAH)
	bms.SetOCV(defaultOCV)
	bms.SetBalancingThresholds(time.Duration(*pBalanceIdleMinutes)*time.Minute, *pBalanceMinCellMV, *pBalanceMaxDiffMV)
	if *pAutoBalance {
		bms.EnableAutoBalancing()
	}

	// Inverter setpoints follow the protection limits: charge to just under
	// the overvoltage trip, stop discharging just over the undervoltage trip.
	cells := float32(bms.CellCount())
	setpointLock.Lock()
	setpoints.VTargetSetpoint = cells * float32(*pOvervoltageMV-50) / 1000.0
	setpoints.VSetpoint = setpoints.VTargetSetpoint
	setpoints.ITargetSetpoint = float32(*pChargeCurrent)
	setpoints.ISetpoint = setpoints.ITargetSetpoint
	setpoints.VDischarge = cells * float32(*pUndervoltageMV+100) / 1000.0
	setpoints.IDischarge = float32(*pDischargeCurrent)
	setpointLock.Unlock()
}

func init() {
	logwriter, e := syslog.New(syslog.LOG_NOTICE, "BatteryMonitor769x0")
	if e == nil {
		log.SetOutput(logwriter)
	} else {
		fmt.Println(e)
	}
	verbose = flag.Bool("v", false, "verbose mode")
	pI2CBus := flag.String("c", "1", "I2C bus name or number from periph.io")
	pI2CAddress := flag.Int("a", 0x08, "I2C address of the battery monitor")
	pCellCount := flag.Int("cells", 15, "series cells: 5 = bq76920, 10 = bq76930, 15 = bq76940")
	pCRC := flag.Bool("crc", true, "device is the CRC variant")
	pBootPin := flag.String("boot", "GPIO17", "TS1 boot pin name (blank to skip the boot pulse)")
	pAlertPin := flag.String("alert", "GPIO22", "ALERT interrupt pin name (blank to poll only)")
	pDatabaseLogin = flag.String("l", "logger", "Database Login ID")
	pDatabasePassword = flag.String("p", "logger", "Database password")
	pDatabaseServer = flag.String("s", "localhost", "Database server")
	pDatabasePort = flag.String("o", "3306", "Database port")
	pDatabaseName = flag.String("d", "battery", "Name of the database")
	pCANInterface = flag.String("can", "can0", "CAN interface connected to the inverters")
	pBatteryName = flag.String("name", "LiFePO4", "battery identification sent in the CAN 35E frame")
	pWebPort = flag.String("w", ":8000", "WEB server address")

	pShuntMilliOhm = flag.Float64("shunt", 1.0, "shunt resistor in milliohms")
	pThermistorBeta = flag.Float64("beta", 3435, "thermistor Beta value")
	pCapacityMAH = flag.Int("capacity", 100000, "nominal battery capacity in mAh")
	pUndervoltageMV = flag.Int("uv", 2800, "cell undervoltage protection in mV")
	pUndervoltageDelayS = flag.Int("uvDelay", 4, "cell undervoltage delay in seconds")
	pOvervoltageMV = flag.Int("ov", 3600, "cell overvoltage protection in mV")
	pOvervoltageDelayS = flag.Int("ovDelay", 2, "cell overvoltage delay in seconds")
	pShortCircuitMA = flag.Int("scd", 80000, "short circuit protection in mA")
	pShortCircuitDelayUS = flag.Int("scdDelay", 200, "short circuit delay in microseconds")
	pOvercurrentMA = flag.Int("ocd", 40000, "overcurrent discharge protection in mA")
	pOvercurrentDelayMS = flag.Int("ocdDelay", 320, "overcurrent discharge delay in milliseconds")
	pMinChargeTemp = flag.Int("minChargeTemp", 0, "minimum charge temperature in degrees C")
	pMaxChargeTemp = flag.Int("maxChargeTemp", 45, "maximum charge temperature in degrees C")
	pMinDischargeTemp = flag.Int("minDischargeTemp", -20, "minimum discharge temperature in degrees C")
	pMaxDischargeTemp = flag.Int("maxDischargeTemp", 60, "maximum discharge temperature in degrees C")
	pTempHysteresis = flag.Int("tempHysteresis", 2, "temperature limit hysteresis in degrees C")
	pIdleCurrentMA = flag.Int("idle", 30, "idle current threshold in mA")
	pBalanceIdleMinutes = flag.Int("balanceIdle", 30, "minutes of idle before balancing starts")
	pBalanceMinCellMV = flag.Int("balanceMinCell", 3400, "minimum cell voltage for balancing in mV")
	pBalanceMaxDiffMV = flag.Int("balanceMaxDiff", 20, "cell voltage difference that triggers balancing in mV")
	pAutoBalance = flag.Bool("autoBalance", true, "balance the cells automatically when the pack is idle")
	pChargeCurrent = flag.Float64("chargeCurrent", 100.0, "maximum charge current in amps")
	pDischargeCurrent = flag.Float64("dischargeCurrent", 100.0, "maximum discharge current in amps")
	pModbusPort := flag.String("Port", "/dev/ttyUSB0", "communication port for the relay board")
	pBaudRate := flag.Int("Baudrate", 19200, "communication port baud rate")
	pDataBits := flag.Int("Databits", 8, "communication port data bits")
	pStopBits := flag.Int("Stopbits", 1, "communication port stop bits")
	pParity := flag.String("Parity", "N", "communication port parity")
	pTimeoutMilliSecs := flag.Int("Timeout", 500, "communication port timeout in milliseconds")
	pSlaveAddress := flag.Int("Slave", 1, "Modbus slave ID of the relay board")

	flag.Parse()

	// Initialise the I2C and GPIO subsystems
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}
	bus, err := i2creg.Open(*pI2CBus)
	if err != nil {
		log.Fatal(err)
	}

	var variant bq769x0.Variant
	switch *pCellCount {
	case 5:
		variant = bq769x0.BQ76920
	case 10:
		variant = bq769x0.BQ76930
	case 15:
		variant = bq769x0.BQ76940
	default:
		log.Fatalf("Unsupported cell count %d - must be 5, 10 or 15", *pCellCount)
	}

	if *pBootPin != "" {
		bootPin := gpioreg.ByName(*pBootPin)
		if bootPin == nil {
			log.Fatalf("Boot pin %s not found", *pBootPin)
		}
		if err := bq769x0.Boot(bootPin); err != nil {
			log.Println("Boot - ", err)
		}
	}
	if *pAlertPin != "" {
		alertPin = gpioreg.ByName(*pAlertPin)
		if alertPin == nil {
			log.Fatalf("Alert pin %s not found", *pAlertPin)
		}
		if err := alertPin.In(gpio.PullDown, gpio.RisingEdge); err != nil {
			log.Fatal(err)
		}
	}

	bms = bq769x0.New(bus, uint16(*pI2CAddress), variant, *pCRC)
	bms.SetShuntResistorValue(*pShuntMilliOhm)
	bms.SetThermistorBetaValue(*pThermistorBeta)
	nErrors = 0

	// Set up the database connection
	pDB, err = connectToDatabase()
	if err != nil {
		log.Fatalf("Failed to connect to to the database - %s - Sorry, I am giving up.", err)
	}

	// Set up the modbus serial comms to the contactor relay board
	mbus := ModbusController.New(*pModbusPort, *pBaudRate, *pDataBits, *pStopBits, *pParity, time.Duration(*pTimeoutMilliSecs)*time.Millisecond)
	if err := mbus.Connect(); err != nil {
		log.Println("Failed to connect to the relay board - ", err)
	}
	contactors = Contactors.New(mbus, uint8(*pSlaveAddress))
}

/*
	WEB Service to return the version information
*/
func getVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_, err := fmt.Fprint(w, `<html>
  <head>
    <Cedar Technology Battery Manager>
  </head>
  <body>
    <h1>Cedar Technology Battery Manager</h1>
    <h2>Version 2.0 - bq769x0</h2>
  </body>
</html>`)
	if err != nil {
		log.Print("getVersion() - ", err)
	}
}

/*
WEB service to return current process values
*/
func getValues(w http.ResponseWriter, _ *http.Request) {
	// This header allows the output to be used in a WEB page from another server as a data source for some controls
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_, err := fmt.Fprint(w, bms.GetValuesAsJSON())
	if err != nil {
		log.Print("getValues() - ", err)
	}
}

func returnWebError(w http.ResponseWriter, err error) {
	_, eFmt := fmt.Fprint(w, `{"error":"`, err.Error(), `"}`)
	if eFmt != nil {
		log.Println(eFmt)
	}
}

func webGetSoc(w http.ResponseWriter, _ *http.Request) {
	setHeaders(w)
	_, eFmt := fmt.Fprintf(w, `{"soc":%0.2f}`, bms.GetSOC())
	if eFmt != nil {
		log.Println(eFmt)
	}
}

/**
WEB service to reset the state of charge. A percentage of 0 to 100 is
taken as given, anything else re-estimates from the open circuit voltage.
*/
func webResetSoc(w http.ResponseWriter, r *http.Request) {
	setHeaders(w)
	vars := mux.Vars(r)
	percent, err := strconv.ParseInt(vars["percent"], 10, 16)
	if err != nil {
		http.Error(w, "Invalid percentage", http.StatusBadRequest)
		return
	}
	bms.ResetSOC(int(percent))
	_, eFmt := fmt.Fprintf(w, `{"soc":%0.2f}`, bms.GetSOC())
	if eFmt != nil {
		log.Println(eFmt)
	}
}

func webGetProtection(w http.ResponseWriter, _ *http.Request) {
	setHeaders(w)
	_, eFmt := fmt.Fprintf(w, `{"undervoltage":%d,"overvoltage":%d,"errors":%d}`,
		bms.GetMinCellVoltageLimit(), bms.GetMaxCellVoltageLimit(), bms.GetErrorStatus().Faults())
	if eFmt != nil {
		log.Println(eFmt)
	}
}

func webGetBalancing(w http.ResponseWriter, _ *http.Request) {
	setHeaders(w)
	_, eFmt := fmt.Fprintf(w, `{"balancing":%d}`, bms.GetBalancingStatus())
	if eFmt != nil {
		log.Println(eFmt)
	}
}

func parseOnOff(value string) (bool, error) {
	switch value {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %s", value)
}

func webSetCharge(w http.ResponseWriter, r *http.Request) {
	setHeaders(w)
	on, err := parseOnOff(mux.Vars(r)["onOff"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	chargeInhibit = !on
	if !on {
		if err := bms.DisableCharging(); err != nil {
			returnWebError(w, err)
			return
		}
	}
	_, eFmt := fmt.Fprintf(w, `{"chargeInhibit":%t}`, chargeInhibit)
	if eFmt != nil {
		log.Println(eFmt)
	}
}

func webSetDischarge(w http.ResponseWriter, r *http.Request) {
	setHeaders(w)
	on, err := parseOnOff(mux.Vars(r)["onOff"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	dischargeInhibit = !on
	if !on {
		if err := bms.DisableDischarging(); err != nil {
			returnWebError(w, err)
			return
		}
	}
	_, eFmt := fmt.Fprintf(w, `{"dischargeInhibit":%t}`, dischargeInhibit)
	if eFmt != nil {
		log.Println(eFmt)
	}
}

func webGetContactors(w http.ResponseWriter, _ *http.Request) {
	setHeaders(w)
	_, eFmt := fmt.Fprint(w, contactors.GetStatusAsJSON())
	if eFmt != nil {
		log.Println(eFmt)
	}
}

/**
WEB service to force the battery fan on or off. "auto" puts it back under
temperature control.
*/
func webBatteryFan(w http.ResponseWriter, r *http.Request) {
	setHeaders(w)
	switch mux.Vars(r)["onOff"] {
	case "auto":
		contactors.ClearFanOverride()
	default:
		on, err := parseOnOff(mux.Vars(r)["onOff"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		contactors.SetFanOverride(on)
	}
	_, eFmt := fmt.Fprintf(w, `{"fan":%t}`, contactors.Fan())
	if eFmt != nil {
		log.Println(eFmt)
	}
}

/**
Get the charging parameter values
*/
func webGetChargingParameters(w http.ResponseWriter, _ *http.Request) {
	setHeaders(w)
	setpointLock.Lock()
	defer setpointLock.Unlock()
	_, eFmt := fmt.Fprintf(w, `{"v_setpoint":%0.1f,"i_setpoint":%0.1f,"v_discharge":%0.1f,"i_discharge":%0.1f}`,
		setpoints.VSetpoint, setpoints.ISetpoint, setpoints.VDischarge, setpoints.IDischarge)
	if eFmt != nil {
		log.Println(eFmt)
	}
}

func main() {

	signal = sync.NewCond(&sync.Mutex{})

	if err := mainImpl(); err != nil {
		_, eFmt := fmt.Fprintf(os.Stderr, "BatteryMonitor769x0 Error: %s.\n", err)
		if eFmt != nil {
			log.Println(eFmt)
		}
		os.Exit(1)
	}
	fmt.Println("Program has ended.")
}

const homeHTML = `<!DOCTYPE html>
<html lang="en">
    <head>
        <title>WebSocket Example</title>
    </head>
    <body>
		<h1>WEB Socket Example - Battery Values</h1><br />
        <pre id="Data">Data goes here</pre>
        <script type="text/javascript">
            (function() {
                var Data = document.getElementById("Data");
				var url = "ws://" + window.location.host + "/ws";
                var conn = new WebSocket(url);
                conn.onclose = function(evt) {
                    Data.textContent = 'Connection closed';
                }
                conn.onmessage = function(evt) {
                    Data.textContent = evt.data;
                }
            })();
        </script>
    </body>
</html>`
