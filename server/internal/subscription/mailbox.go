// mailbox.go - Channel backed notification recipient.
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

package subscription

import (
	"fmt"
	"sync"

	"golang.org/x/text/secure/precis"
	"gopkg.in/eapache/channels.v1"
)

// Mailbox is an unbounded Recipient that queues notifications for a
// subscriber goroutine.  Once closed, deliveries fail with ErrRecipientGone.
type Mailbox struct {
	sync.Mutex

	name   string
	ch     *channels.InfiniteChannel
	outCh  chan *Notification
	doneCh chan interface{}
	closed bool
}

// Name returns the normalized name of the mailbox.
func (m *Mailbox) Name() string {
	return m.name
}

// DeliverEpochNotification queues the notification without blocking.
func (m *Mailbox) DeliverEpochNotification(n *Notification) error {
	m.Lock()
	defer m.Unlock()

	if m.closed {
		return ErrRecipientGone
	}
	m.ch.In() <- n
	return nil
}

// C returns the channel on which notifications are received.  It is closed
// after the Mailbox is closed.
func (m *Mailbox) C() <-chan *Notification {
	return m.outCh
}

// Len returns the number of queued notifications.
func (m *Mailbox) Len() int {
	return m.ch.Len()
}

// Close closes the Mailbox, discarding any notifications that have not been
// received.
func (m *Mailbox) Close() {
	m.Lock()
	defer m.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.doneCh)
	m.ch.Close()
}

func (m *Mailbox) worker() {
	defer close(m.outCh)
	for v := range m.ch.Out() {
		select {
		case m.outCh <- v.(*Notification):
		case <-m.doneCh:
			// Drain the rest so the channel's goroutine can exit.
			for range m.ch.Out() {
			}
			return
		}
	}
}

// NewMailbox returns a new Mailbox.  The name is normalized with the PRECIS
// UsernameCaseMapped profile.
func NewMailbox(name string) (*Mailbox, error) {
	normalized, err := precis.UsernameCaseMapped.String(name)
	if err != nil {
		return nil, fmt.Errorf("subscription: invalid mailbox name '%v': %v", name, err)
	}

	m := &Mailbox{
		name:   normalized,
		ch:     channels.NewInfiniteChannel(),
		outCh:  make(chan *Notification),
		doneCh: make(chan interface{}),
	}
	go m.worker()
	return m, nil
}
