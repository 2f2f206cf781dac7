// scheduler.go - Checkpoint timer.
// Copyright (C) 2026  The epochd Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package epochmgr

import (
	"time"

	"github.com/katzenpost/epochd/server/internal/instrument"
)

// fallbackDelay is used when the period is unknown, which can only happen if
// the timer is armed before the constants are set.
const fallbackDelay = time.Second

// nextDelay returns the time until the next checkpoint, or a full period if
// that can not be computed.  It never returns a delay <= 0.
func (m *Manager) nextDelay() time.Duration {
	till, err := m.calc.TimeToNextCheckpoint()
	if err == nil && till > 0 {
		return till
	}

	period, perr := m.calc.Period()
	if perr != nil {
		m.log.Errorf("BUG: Checkpoint period is unknown: %v", perr)
		period = fallbackDelay
	}
	if err != nil {
		m.log.Warningf("Failed to compute the time to the next checkpoint, retrying in %v: %v", period, err)
	}
	return period
}

// schedule arms the checkpoint timer.  There is only ever one timer, and it
// is re-armed in place.
func (m *Manager) schedule() {
	d := m.nextDelay()
	instrument.CheckpointDelay(d)

	if m.timer == nil {
		m.timer = m.clock.NewTimer(d)
		return
	}
	if !m.timer.Stop() {
		// Discard a fire that has not been received yet.
		select {
		case <-m.timer.Chan():
		default:
		}
	}
	m.timer.Reset(d)
}

// onCheckpoint handles a checkpoint timer fire.  Failing to determine the
// current epoch abandons the tick without touching any state, the timer is
// re-armed regardless.
func (m *Manager) onCheckpoint() {
	defer m.schedule()

	current, err := m.calc.CurrentEpoch()
	if err != nil {
		m.log.Warningf("Failed to get the current epoch: %v", err)
		instrument.CheckpointTickFailed()
		return
	}
	if m.lastChecked != nil && current < *m.lastChecked {
		m.log.Warningf("Civil time jumped backwards: epoch %v precedes the last checked epoch %v", current, *m.lastChecked)
		instrument.CheckpointTickFailed()
		return
	}

	m.dispatch(current)
	m.lastChecked = &current

	instrument.CheckpointTick(uint64(current))
	m.log.Debugf("Current epoch: %v", current)
}
