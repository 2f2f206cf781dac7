// registry.go - Epoch subscription registry.
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
	"gitlab.com/yawning/avl.git"

	"github.com/katzenpost/epochd/core/epochtime"
)

type epochSubscriptions struct {
	epoch epochtime.Epoch
	subs  []*SingleShot
}

// Registry holds the pending single-shot subscriptions ordered by epoch, and
// the persistent subscriptions.  It is not safe for concurrent use.
type Registry struct {
	byEpoch *avl.Tree
	pending int

	persistent []*Persistent
}

// SubscribeToEpoch registers a single-shot subscription.  Epochs that have
// already started are accepted, and are due on the next TakeDue.
func (r *Registry) SubscribeToEpoch(target epochtime.Epoch, recipient Recipient, payload interface{}) *SingleShot {
	s := &SingleShot{
		target:    target,
		recipient: recipient,
		payload:   payload,
	}

	// Insert returns the existing node if the epoch is already present.
	node := r.byEpoch.Insert(&epochSubscriptions{epoch: target})
	es := node.Value.(*epochSubscriptions)
	es.subs = append(es.subs, s)
	r.pending++
	return s
}

// SubscribeToAll registers a persistent subscription.
func (r *Registry) SubscribeToAll(recipient Recipient, payload interface{}) *Persistent {
	p := &Persistent{
		recipient: recipient,
		payload:   payload,
	}
	r.persistent = append(r.persistent, p)
	return p
}

// TakeDue removes and returns every single-shot subscription whose target is
// at or before upTo, in ascending epoch order, and insertion order within an
// epoch.
func (r *Registry) TakeDue(upTo epochtime.Epoch) []*SingleShot {
	var due []*SingleShot
	iter := r.byEpoch.Iterator(avl.Forward)
	for node := iter.First(); node != nil; node = iter.Next() {
		es := node.Value.(*epochSubscriptions)
		if es.epoch > upTo {
			break
		}
		due = append(due, es.subs...)
		r.pending -= len(es.subs)

		// Removing the current node is the one modification the iterator
		// supports.
		r.byEpoch.Remove(node)
	}
	return due
}

// Persistent returns the persistent subscriptions, in registration order.
// The returned slice MUST NOT be modified.
func (r *Registry) Persistent() []*Persistent {
	return r.persistent
}

// Pending returns the number of single-shot subscriptions not yet taken.
func (r *Registry) Pending() int {
	return r.pending
}

// PendingFor returns the number of single-shot subscriptions to the epoch.
func (r *Registry) PendingFor(epoch epochtime.Epoch) int {
	node := r.byEpoch.Find(&epochSubscriptions{epoch: epoch})
	if node == nil {
		return 0
	}
	return len(node.Value.(*epochSubscriptions).subs)
}

// NextTarget returns the earliest epoch with a pending single-shot
// subscription, and false iff there are none.
func (r *Registry) NextTarget() (epochtime.Epoch, bool) {
	node := r.byEpoch.First()
	if node == nil {
		return 0, false
	}
	return node.Value.(*epochSubscriptions).epoch, true
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byEpoch: avl.New(func(a, b interface{}) int {
			ea, eb := a.(*epochSubscriptions).epoch, b.(*epochSubscriptions).epoch
			switch {
			case ea < eb:
				return -1
			case ea > eb:
				return 1
			default:
				return 0
			}
		}),
	}
}
