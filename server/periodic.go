// periodic.go - Periodic civil time checks.
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

package server

import (
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/jonboulle/clockwork"

	"github.com/katzenpost/epochd/core/worker"
)

const (
	periodicInterval = time.Second
	maxForwardJump   = 2 * periodicInterval
)

type periodicTimer struct {
	worker.Worker

	clock clockwork.Clock
	log   *logging.Logger
}

func (t *periodicTimer) halt() {
	t.Halt()
}

func (t *periodicTimer) worker() {
	ticker := t.clock.NewTicker(periodicInterval)
	defer ticker.Stop()

	lastCallbackTime := t.clock.Now()
	for {
		select {
		case <-t.HaltCh():
			return
		case <-ticker.Chan():
		}

		// The epoch manager copes with time going backwards by skipping
		// ticks, so the operator needs to hear about it.
		now := t.clock.Now()
		t.check(now.Sub(lastCallbackTime))
		lastCallbackTime = now
	}
}

func (t *periodicTimer) check(deltaT time.Duration) {
	if deltaT < 0 {
		t.log.Warningf("Civil time jumped backwards: %v", deltaT)
	} else if deltaT > maxForwardJump {
		t.log.Warningf("Civil time jumped forward: %v", deltaT)
	}
}

func newPeriodicTimer(s *Server) *periodicTimer {
	t := &periodicTimer{
		clock: s.clock,
		log:   s.logBackend.GetLogger("periodic"),
	}
	t.Go(t.worker)
	return t
}
