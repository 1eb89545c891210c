package bq769x0

/**
updateBalancingSwitches decides which cells discharge this cycle and
writes the per-section CELLBAL registers. Balancing runs only while
the chip is healthy, the pack has been idle long enough, the highest
cell is above the minimum balancing voltage and the cell spread
exceeds the configured differential. Within a five cell section a
candidate is skipped when it would balance next to an already
balancing neighbour; the switch hardware must never short two
adjacent cells through their shared node.
Caller holds the mutex.
*/
func (this *BQ769x0) updateBalancingSwitches() error {
	idle := this.now().Sub(this.idleTimestamp)
	numberOfSections := len(this.cellVoltages) / cellsPerSection

	status, err := this.checkStatus()
	if err != nil {
		return err
	}

	if status == 0 &&
		idle >= this.balancingMinIdleTime &&
		this.cellVoltages[this.idCellMaxVoltage] > this.balancingMinCellVoltage &&
		this.cellVoltages[this.idCellMaxVoltage]-this.cellVoltages[this.idCellMinVoltage] > this.balancingMaxDifference {

		this.balancingStatus = 0
		for section := 0; section < numberOfSections; section++ {
			balancingFlags := 0
			for i := 0; i < cellsPerSection; i++ {
				if this.cellVoltages[section*cellsPerSection+i]-this.cellVoltages[this.idCellMinVoltage] <= this.balancingMaxDifference {
					continue
				}
				target := balancingFlags | 1<<i
				adjacentCellCollision := target<<1&balancingFlags != 0 ||
					balancingFlags<<1&target != 0
				if !adjacentCellCollision {
					balancingFlags = target
				}
			}
			this.balancingStatus |= uint32(balancingFlags) << (section * cellsPerSection)
			if err := this.writeRegister(byte(CELLBAL1+section), byte(balancingFlags)); err != nil {
				return err
			}
		}
		return nil
	}

	if this.balancingStatus > 0 {
		// gate no longer holds, open every balancing switch once
		for section := 0; section < numberOfSections; section++ {
			if err := this.writeRegister(byte(CELLBAL1+section), 0x0); err != nil {
				return err
			}
		}
		this.balancingStatus = 0
	}
	return nil
}
