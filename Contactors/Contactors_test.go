package Contactors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type coilWrite struct {
	coil  uint16
	value bool
	slave uint8
}

type fakeRelayBoard struct {
	writes []coilWrite
	err    error
}

func (board *fakeRelayBoard) WriteCoil(coil uint16, value bool, slaveId uint8) error {
	if board.err != nil {
		return board.err
	}
	board.writes = append(board.writes, coilWrite{coil, value, slaveId})
	return nil
}

func TestEvaluateDrivesContactors(t *testing.T) {
	board := new(fakeRelayBoard)
	contactors := New(board, 2)

	contactors.Evaluate(true, true, 25.0)

	assert.Equal(t, []coilWrite{
		{ChargeContactorRelay, true, 2},
		{DischargeContactorRelay, true, 2},
	}, board.writes)
	assert.True(t, contactors.Charge())
	assert.True(t, contactors.Discharge())
	assert.False(t, contactors.Fan())
}

func TestEvaluateWritesOnlyOnChange(t *testing.T) {
	board := new(fakeRelayBoard)
	contactors := New(board, 1)

	contactors.Evaluate(true, false, 25.0)
	contactors.Evaluate(true, false, 25.0)
	contactors.Evaluate(true, false, 25.0)

	assert.Len(t, board.writes, 1)

	contactors.Evaluate(false, false, 25.0)
	assert.Len(t, board.writes, 2)
	assert.Equal(t, coilWrite{ChargeContactorRelay, false, 1}, board.writes[1])
}

func TestFanHysteresis(t *testing.T) {
	board := new(fakeRelayBoard)
	contactors := New(board, 1)

	contactors.Evaluate(false, false, 42.5)
	assert.True(t, contactors.Fan(), "fan should start above %v", FanOnTemperature)

	// Inside the band the fan holds its last state
	contactors.Evaluate(false, false, 41.8)
	assert.True(t, contactors.Fan())

	contactors.Evaluate(false, false, 41.0)
	assert.False(t, contactors.Fan(), "fan should stop below %v", FanOffTemperature)

	contactors.Evaluate(false, false, 41.8)
	assert.False(t, contactors.Fan())
}

func TestFailedWriteRetriesNextPass(t *testing.T) {
	board := new(fakeRelayBoard)
	board.err = errors.New("slave timed out")
	contactors := New(board, 1)

	contactors.Evaluate(true, false, 25.0)
	assert.False(t, contactors.Charge(), "failed write must not latch the state")

	board.err = nil
	contactors.Evaluate(true, false, 25.0)
	assert.True(t, contactors.Charge())
	assert.Len(t, board.writes, 1)
}

func TestFanOverrideBlocksAutomaticControl(t *testing.T) {
	board := new(fakeRelayBoard)
	contactors := New(board, 1)

	contactors.SetFanOverride(true)
	assert.True(t, contactors.Fan())

	// Well below the off threshold, but the override holds the fan on
	contactors.Evaluate(false, false, 20.0)
	assert.True(t, contactors.Fan())

	contactors.ClearFanOverride()
	contactors.Evaluate(false, false, 20.0)
	assert.False(t, contactors.Fan())
}

func TestAllOff(t *testing.T) {
	board := new(fakeRelayBoard)
	contactors := New(board, 1)

	contactors.Evaluate(true, true, 45.0)
	board.writes = nil

	contactors.AllOff()
	assert.Equal(t, []coilWrite{
		{ChargeContactorRelay, false, 1},
		{DischargeContactorRelay, false, 1},
		{BatteryFanRelay, false, 1},
	}, board.writes)
}
