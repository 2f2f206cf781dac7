// announcer.go - Per-epoch announcements.
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
	"sync"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/epochd/core/epochtime"
	"github.com/katzenpost/epochd/core/worker"
	"github.com/katzenpost/epochd/server/internal/subscription"
)

// announcer subscribes to every epoch and logs each one as it begins.
type announcer struct {
	sync.RWMutex
	worker.Worker

	log     *logging.Logger
	mailbox *subscription.Mailbox

	last    epochtime.Epoch
	hasLast bool
}

func (a *announcer) lastEpoch() (epochtime.Epoch, bool) {
	a.RLock()
	defer a.RUnlock()
	return a.last, a.hasLast
}

func (a *announcer) halt() {
	a.mailbox.Close()
	a.Halt()
}

func (a *announcer) worker() {
	for {
		select {
		case <-a.HaltCh():
			return
		case n, ok := <-a.mailbox.C():
			if !ok {
				return
			}
			a.onNotification(n)
		}
	}
}

func (a *announcer) onNotification(n *subscription.Notification) {
	a.Lock()
	if a.hasLast && n.Checkpoint != a.last+1 {
		a.log.Warningf("Skipped from epoch %v to %v", a.last, n.Checkpoint)
	}
	a.last = n.Checkpoint
	a.hasLast = true
	a.Unlock()

	a.log.Noticef("Epoch %v began (%v)", n.Checkpoint, n.Payload)
}

func newAnnouncer(s *Server) (*announcer, error) {
	mailbox, err := subscription.NewMailbox("announcer")
	if err != nil {
		return nil, err
	}

	a := &announcer{
		log:     s.logBackend.GetLogger("announcer"),
		mailbox: mailbox,
	}
	if err = s.epochs.SubscribeToAllEpochs(mailbox, s.cfg.Server.Identifier); err != nil {
		mailbox.Close()
		return nil, err
	}
	a.Go(a.worker)
	return a, nil
}
