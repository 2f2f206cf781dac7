// subscription.go - Epoch subscriptions.
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

// Package subscription implements the epoch subscription registry.
package subscription

import (
	"errors"

	"github.com/katzenpost/epochd/core/epochtime"
)

// ErrRecipientGone is the error returned by a Recipient that is no longer
// accepting notifications.
var ErrRecipientGone = errors.New("subscription: recipient is gone")

// Notification is sent to a subscriber when the epoch it subscribed to has
// started.  Checkpoint is the subscribed epoch, which for a late delivery
// may be older than the current epoch.
type Notification struct {
	Checkpoint epochtime.Epoch
	Payload    interface{}
}

// Recipient is the address of a subscriber.  Delivery MUST NOT block, and
// a Recipient that has gone away MUST return ErrRecipientGone rather than
// keeping the subscriber alive.
type Recipient interface {
	// Name returns the subscriber name used in logs and metrics.
	Name() string

	// DeliverEpochNotification delivers a notification.
	DeliverEpochNotification(*Notification) error
}

// Cloner is implemented by payloads of persistent subscriptions that are
// not safe to share between notifications.  Payloads that do not implement
// Cloner are copied by value.
type Cloner interface {
	Clone() interface{}
}

// Subscription is either a *SingleShot or a *Persistent subscription.
type Subscription interface {
	// Recipient returns the subscriber's Recipient.
	Recipient() Recipient

	isSubscription()
}

// SingleShot is a subscription to one particular epoch.  Its payload is
// handed out exactly once.
type SingleShot struct {
	target    epochtime.Epoch
	recipient Recipient
	payload   interface{}
	consumed  bool
}

// Target returns the subscribed epoch.
func (s *SingleShot) Target() epochtime.Epoch {
	return s.target
}

// Recipient returns the subscriber's Recipient.
func (s *SingleShot) Recipient() Recipient {
	return s.recipient
}

// Notification moves the payload into a Notification for the target epoch.
// It returns false iff the payload has already been consumed.
func (s *SingleShot) Notification() (*Notification, bool) {
	if s.consumed {
		return nil, false
	}
	n := &Notification{
		Checkpoint: s.target,
		Payload:    s.payload,
	}
	s.consumed = true
	s.payload = nil
	return n, true
}

func (s *SingleShot) isSubscription() {}

// Persistent is a subscription to every epoch.
type Persistent struct {
	recipient Recipient
	payload   interface{}
}

// Recipient returns the subscriber's Recipient.
func (p *Persistent) Recipient() Recipient {
	return p.recipient
}

// Notification returns a Notification for the epoch carrying a fresh copy
// of the payload.
func (p *Persistent) Notification(epoch epochtime.Epoch) *Notification {
	payload := p.payload
	if c, ok := payload.(Cloner); ok {
		payload = c.Clone()
	}
	return &Notification{
		Checkpoint: epoch,
		Payload:    payload,
	}
}

func (p *Persistent) isSubscription() {}
