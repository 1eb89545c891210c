package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"time"
)

/**
GetTimeRange returns the start and end times passed as query parameters.
*/
func GetTimeRange(r *http.Request) (start time.Time, end time.Time, err error) {
	params := r.URL.Query()
	values := params["start"]
	if len(values) != 1 {
		err = fmt.Errorf("exactly one 'start=' value must be supplied for start time")
		return
	}
	timeVal, err := time.Parse("2006-1-2 15:4", values[0])
	if err != nil {
		return
	}
	start = timeVal

	values = params["end"]
	if len(values) != 1 {
		err = fmt.Errorf("exactly one 'end=' value must be supplied for end time")
		return
	}
	timeVal, err = time.Parse("2006-1-2 15:4", values[0])
	if err != nil {
		return
	}
	end = timeVal
	log.Println("Date/time requested from ", start, " to ", end)
	return
}

/**
Battery current and state of charge history. Ranges over an hour are
averaged into 15 second buckets.
*/
func webGetCurrentData(w http.ResponseWriter, r *http.Request) {
	type current struct {
		Logged float64 `json:"logged"`
		Amps   float64 `json:"amps"`
		SOC    float64 `json:"soc"`
	}
	var currentVal current
	var currentData []current = nil

	setHeaders(w)

	start, end, err := GetTimeRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if start.After(end) {
		http.Error(w, "Start must be before end", http.StatusBadRequest)
		return
	}

	var sSQL string
	if end.Sub(start) > time.Hour {
		sSQL = `select min(unix_timestamp(logged)) as logged,
		avg(current_ma) / 1000 as amps,
		avg(level_of_charge) as soc
		from current
		where logged between ? and ?
		group by unix_timestamp(logged) DIV 15`
	} else {
		sSQL = `select unix_timestamp(logged) as logged,
		current_ma / 1000 as amps,
		level_of_charge as soc
		from current
		where logged between ? and ?`
	}

	rows, err := pDB.Query(sSQL, start, end)
	if err != nil {
		returnWebError(w, err)
		return
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Println(err)
		}
	}()
	for rows.Next() {
		err = rows.Scan(&currentVal.Logged, &currentVal.Amps, &currentVal.SOC)
		if err != nil {
			returnWebError(w, err)
			return
		}
		currentData = append(currentData, currentVal)
	}
	sJSON, err := json.Marshal(currentData)
	if err != nil {
		returnWebError(w, err)
		return
	}
	_, eFmt := fmt.Fprint(w, string(sJSON))
	if eFmt != nil {
		log.Println(eFmt)
	}
}

/**
Pack voltage history in 15 second buckets.
*/
func webGetVoltageData(w http.ResponseWriter, r *http.Request) {
	type voltage struct {
		Logged float64 `json:"logged"`
		Volts  float64 `json:"volts"`
	}
	var voltageVal voltage
	var voltageData []voltage = nil

	setHeaders(w)

	start, end, err := GetTimeRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sSQL := `select min(unix_timestamp(logged)) as logged, avg(pack_mv) / 1000 as volts
  from voltage
 where logged between ? and ?
		group by unix_timestamp(logged) DIV 15`
	rows, err := pDB.Query(sSQL, start, end)
	if err != nil {
		returnWebError(w, err)
		return
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Println(err)
		}
	}()
	for rows.Next() {
		err = rows.Scan(&voltageVal.Logged, &voltageVal.Volts)
		if err != nil {
			returnWebError(w, err)
			return
		}
		voltageData = append(voltageData, voltageVal)
	}
	sJSON, err := json.Marshal(voltageData)
	if err != nil {
		returnWebError(w, err)
		return
	}
	_, eFmt := fmt.Fprint(w, string(sJSON))
	if eFmt != nil {
		log.Println(eFmt)
	}
}

/**
Voltage and current history for one cell. The cell number picks the
column so it is validated rather than passed to the database.
*/
func webGetCellData(w http.ResponseWriter, r *http.Request) {
	type values struct {
		Logged  float64 `json:"logged"`
		Current float64 `json:"amps"`
		Voltage float64 `json:"volts"`
	}
	var cellVal values
	var cellData []values = nil

	vars := mux.Vars(r)
	setHeaders(w)

	cell, err := strconv.ParseInt(vars["cell"], 10, 16)
	if err != nil || cell < 1 || int(cell) > bms.CellCount() {
		http.Error(w, "Invalid cell number", http.StatusBadRequest)
		return
	}
	start, end, err := GetTimeRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sSQL := fmt.Sprintf(`select min(unix_timestamp(v.logged)) as logged, avg(cell_%02d) / 1000 as volts, avg(i.current_ma) / 1000 as amps
    from voltage v join current i on i.logged = from_unixtime(round(unix_timestamp(v.logged)))
   where v.logged between ? and ?
   group by unix_timestamp(v.logged) DIV 15`, cell)
	rows, err := pDB.Query(sSQL, start, end)
	if err != nil {
		returnWebError(w, err)
		return
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Println(err)
		}
	}()
	for rows.Next() {
		err = rows.Scan(&cellVal.Logged, &cellVal.Voltage, &cellVal.Current)
		if err != nil {
			returnWebError(w, err)
			return
		}
		cellData = append(cellData, cellVal)
	}
	sJSON, err := json.Marshal(cellData)
	if err != nil {
		returnWebError(w, err)
		return
	}
	_, eFmt := fmt.Fprint(w, string(sJSON))
	if eFmt != nil {
		log.Println(eFmt)
	}
}

/**
Rolling averages over the last {avg} seconds for the status display.
*/
func webGetStatus(w http.ResponseWriter, r *http.Request) {
	type status struct {
		Current float64 `json:"current"`
		SOC     float64 `json:"soc"`
	}
	var statusVal status
	setHeaders(w)

	vars := mux.Vars(r)
	seconds, err := strconv.ParseUint(vars["avg"], 10, 16)
	if err != nil {
		http.Error(w, "Invalid averaging seconds (avg)", http.StatusBadRequest)
		log.Println(err)
		return
	}

	sSQL := `select avg(current_ma) / 1000 as current
			, avg(level_of_charge) as soc
		from current
		where logged > date_add(now(), interval -? second)`

	row := pDB.QueryRow(sSQL, seconds)
	err = row.Scan(&statusVal.Current, &statusVal.SOC)
	if err != nil {
		returnWebError(w, err)
		return
	}
	sJSON, err := json.Marshal(statusVal)
	if err != nil {
		returnWebError(w, err)
		return
	}
	_, eFmt := fmt.Fprint(w, string(sJSON))
	if eFmt != nil {
		log.Println(eFmt)
	}
}
