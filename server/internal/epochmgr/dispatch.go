// dispatch.go - Epoch notification delivery.
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
	"github.com/katzenpost/epochd/core/epochtime"
	"github.com/katzenpost/epochd/server/internal/instrument"
	"github.com/katzenpost/epochd/server/internal/subscription"
)

// dispatch notifies the subscribers for the current epoch.
//
// Persistent subscriptions are notified once per epoch: a tick that observes
// the epoch already recorded as last checked (a timer that fired early, or a
// past-epoch subscription being served) sends them nothing.  Single-shot
// subscriptions are notified for every target at or before the current
// epoch, which includes the targets of ticks that never happened (the
// process was suspended, the timer fired late, or the subscription arrived
// after its epoch had started).  Each carries its own target epoch as the
// checkpoint.
func (m *Manager) dispatch(current epochtime.Epoch) {
	if m.lastChecked == nil || current > *m.lastChecked {
		for _, p := range m.registry.Persistent() {
			m.deliver(p, current)
		}
	}

	for _, s := range m.registry.TakeDue(current) {
		m.deliver(s, current)
	}

	instrument.Subscriptions(m.registry.Pending(), len(m.registry.Persistent()))
}

// deliver sends a single notification.  Delivery is fire and forget, an
// unreachable recipient is logged and the notification dropped.
func (m *Manager) deliver(sub subscription.Subscription, current epochtime.Epoch) {
	var (
		n    *subscription.Notification
		kind string
	)
	switch s := sub.(type) {
	case *subscription.SingleShot:
		kind = instrument.KindSingleShot
		var ok bool
		if n, ok = s.Notification(); !ok {
			m.log.Errorf("No payload to be sent back to '%v' for epoch %v", s.Recipient().Name(), s.Target())
			return
		}
		if n.Checkpoint < current {
			m.log.Debugf("Late notification for epoch %v to '%v' (current: %v)", n.Checkpoint, s.Recipient().Name(), current)
			instrument.CatchUpNotification()
		}
	case *subscription.Persistent:
		kind = instrument.KindPersistent
		n = s.Notification(current)
	default:
		m.log.Errorf("BUG: Unknown subscription type: %T", sub)
		return
	}

	if err := sub.Recipient().DeliverEpochNotification(n); err != nil {
		m.log.Debugf("Dropping notification for epoch %v to '%v': %v", n.Checkpoint, sub.Recipient().Name(), err)
		instrument.NotificationDropped(kind)
		return
	}
	instrument.NotificationDelivered(kind)
}
