// dispatch_test.go - Epoch notification delivery tests.
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
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/epochd/core/epochtime"
	"github.com/katzenpost/epochd/server/internal/subscription"
)

// recorder is a Recipient that records notifications synchronously.
type recorder struct {
	name          string
	notifications []*subscription.Notification
}

func (r *recorder) Name() string {
	return r.name
}

func (r *recorder) DeliverEpochNotification(n *subscription.Notification) error {
	r.notifications = append(r.notifications, n)
	return nil
}

func (r *recorder) checkpoints() []epochtime.Epoch {
	var epochs []epochtime.Epoch
	for _, n := range r.notifications {
		epochs = append(epochs, n.Checkpoint)
	}
	return epochs
}

// newStoppedManager returns a Manager without a worker, so that the tick
// handler can be driven directly.
func newStoppedManager(t *testing.T, now int64) (*Manager, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.Unix(now, 0))
	m := newManager(newTestLogBackend(t), clock)
	m.calc.SetConstants(&epochtime.Constants{CheckpointZeroTimestamp: testZero, CheckpointsPeriod: testPeriod})
	return m, clock
}

func epochPtr(e epochtime.Epoch) *epochtime.Epoch {
	return &e
}

func TestCatchUpDelivery(t *testing.T) {
	require := require.New(t)

	// The scheduler last saw epoch 0, and wakes up in epoch 6.
	m, _ := newStoppedManager(t, testZero+65)
	m.lastChecked = epochPtr(0)

	r := &recorder{name: "consensus"}
	m.registry.SubscribeToEpoch(3, r, "three")
	m.registry.SubscribeToEpoch(5, r, "five")
	m.registry.SubscribeToEpoch(7, r, "seven")

	m.onCheckpoint()
	require.Equal([]epochtime.Epoch{3, 5}, r.checkpoints())
	require.Equal("three", r.notifications[0].Payload)
	require.Equal("five", r.notifications[1].Payload)
	require.Equal(epochtime.Epoch(6), *m.lastChecked)

	require.Equal(0, m.registry.PendingFor(3))
	require.Equal(0, m.registry.PendingFor(5))
	require.Equal(1, m.registry.Pending())
	require.Empty(m.registry.TakeDue(6))

	// Re-running the tick handler in the same epoch delivers nothing more.
	m.onCheckpoint()
	require.Len(r.notifications, 2)
	require.NotNil(m.timer)
}

func TestPersistentNotifiedOncePerEpoch(t *testing.T) {
	require := require.New(t)

	m, clock := newStoppedManager(t, testZero)
	all := &recorder{name: "all"}
	single := &recorder{name: "single"}
	m.registry.SubscribeToAll(all, "payload")

	m.onCheckpoint()
	require.Equal([]epochtime.Epoch{0}, all.checkpoints())

	// A subscription to the epoch already checked is still delivered, but
	// persistent subscribers do not hear about the same epoch twice.
	m.registry.SubscribeToEpoch(0, single, nil)
	m.onCheckpoint()
	require.Equal([]epochtime.Epoch{0}, all.checkpoints())
	require.Equal([]epochtime.Epoch{0}, single.checkpoints())

	// Skipped epochs are not backfilled for persistent subscribers.
	clock.Advance(3 * testPeriod * time.Second)
	m.onCheckpoint()
	require.Equal([]epochtime.Epoch{0, 3}, all.checkpoints())
	for _, n := range all.notifications {
		require.Equal("payload", n.Payload)
	}
}

func TestCivilTimeJumpedBackwards(t *testing.T) {
	require := require.New(t)

	m, _ := newStoppedManager(t, testZero+45)
	m.lastChecked = epochPtr(6)

	all := &recorder{name: "all"}
	single := &recorder{name: "single"}
	m.registry.SubscribeToAll(all, nil)
	m.registry.SubscribeToEpoch(4, single, nil)

	m.onCheckpoint()
	require.Empty(all.notifications)
	require.Empty(single.notifications)
	require.Equal(epochtime.Epoch(6), *m.lastChecked)
	require.Equal(1, m.registry.Pending())
	require.NotNil(m.timer, "timer re-armed after an abandoned tick")
}

func TestTickBeforeConstants(t *testing.T) {
	require := require.New(t)

	clock := clockwork.NewFakeClockAt(time.Unix(testZero, 0))
	m := newManager(newTestLogBackend(t), clock)
	r := &recorder{name: "single"}
	m.registry.SubscribeToEpoch(0, r, nil)

	m.onCheckpoint()
	require.Empty(r.notifications)
	require.Nil(m.lastChecked)
	require.Equal(fallbackDelay, m.nextDelay())
}

func TestNextDelay(t *testing.T) {
	require := require.New(t)

	m, clock := newStoppedManager(t, testZero+3)
	require.Equal(7*time.Second, m.nextDelay())

	clock.Advance(7 * time.Second)
	require.Equal(testPeriod*time.Second, m.nextDelay())

	// Before checkpoint zero, fall back to a full period.
	m.calc.SetCheckpointZero(testZero + 1000)
	require.Equal(testPeriod*time.Second, m.nextDelay())
}

func TestConstantsChangeResetsLastChecked(t *testing.T) {
	require := require.New(t)

	// Epoch 7 under the old constants, epoch 1 under the new ones.
	m, clock := newStoppedManager(t, testZero+70)
	all := &recorder{name: "all"}
	m.registry.SubscribeToAll(all, nil)

	m.onCheckpoint()
	require.Equal(epochtime.Epoch(7), *m.lastChecked)

	m.setEpochConstants(&epochtime.Constants{CheckpointZeroTimestamp: testZero + 60, CheckpointsPeriod: testPeriod})
	require.Nil(m.lastChecked)

	single := &recorder{name: "single"}
	m.registry.SubscribeToEpoch(2, single, "two")

	m.onCheckpoint()
	clock.Advance(testPeriod * time.Second)
	m.onCheckpoint()
	require.Equal([]epochtime.Epoch{7, 1, 2}, all.checkpoints())
	require.Equal([]epochtime.Epoch{2}, single.checkpoints())
	require.Equal(epochtime.Epoch(2), *m.lastChecked)
	require.Equal(0, m.registry.Pending())

	// Setting identical constants keeps the last checked epoch.
	m.setEpochConstants(&epochtime.Constants{CheckpointZeroTimestamp: testZero + 60, CheckpointsPeriod: testPeriod})
	require.NotNil(m.lastChecked)
	require.Equal(epochtime.Epoch(2), *m.lastChecked)
}
