// manager_test.go - Epoch manager tests.
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
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/epochd/core/epochtime"
	"github.com/katzenpost/epochd/core/log"
	"github.com/katzenpost/epochd/server/internal/subscription"
)

const (
	testZero   = 1000
	testPeriod = 10
)

func newTestLogBackend(t *testing.T) *log.Backend {
	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(t, err)
	return logBackend
}

func newTestMailbox(t *testing.T, name string) *subscription.Mailbox {
	mb, err := subscription.NewMailbox(name)
	require.NoError(t, err)
	t.Cleanup(mb.Close)
	return mb
}

func recv(t *testing.T, mb *subscription.Mailbox) *subscription.Notification {
	select {
	case n := <-mb.C():
		return n
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a notification to '%v'", mb.Name())
	}
	return nil
}

func requireNone(t *testing.T, mb *subscription.Mailbox) {
	select {
	case n := <-mb.C():
		t.Fatalf("unexpected notification to '%v' for epoch %v", mb.Name(), n.Checkpoint)
	case <-time.After(50 * time.Millisecond):
	}
}

// waitArmed waits for the checkpoint timer to be armed, which also means that
// the previous tick (if any) has been fully handled.
func waitArmed(t *testing.T, clock *clockwork.FakeClock) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1), "checkpoint timer was not armed")
}

func advance(t *testing.T, clock *clockwork.FakeClock, d time.Duration) {
	waitArmed(t, clock)
	clock.Advance(d)
}

func TestManagerQueries(t *testing.T) {
	require := require.New(t)

	clock := clockwork.NewFakeClockAt(time.Unix(testZero+23, 0))
	m := New(newTestLogBackend(t), clock)
	defer m.Halt()

	_, err := m.GetCurrentEpoch()
	require.ErrorIs(err, epochtime.ErrUnknownEpochZero)
	_, err = m.GetEpochTimestamp(5)
	require.ErrorIs(err, epochtime.ErrUnknownEpochZero)
	status, err := m.Status()
	require.NoError(err)
	require.False(status.Running)
	require.Nil(status.LastChecked)

	require.NoError(m.SetEpochConstants(testZero, testPeriod))

	epoch, err := m.GetCurrentEpoch()
	require.NoError(err)
	require.Equal(epochtime.Epoch(2), epoch)
	ts, err := m.GetEpochTimestamp(5)
	require.NoError(err)
	require.Equal(int64(1050), ts)
	till, err := m.TimeToNextCheckpoint()
	require.NoError(err)
	require.Equal(7*time.Second, till)

	status, err = m.Status()
	require.NoError(err)
	require.True(status.Running)
	require.Equal(epochtime.Constants{CheckpointZeroTimestamp: testZero, CheckpointsPeriod: testPeriod}, status.Constants)

	require.ErrorIs(m.SubscribeToEpoch(1, nil, nil), ErrNilRecipient)
	require.ErrorIs(m.SubscribeToAllEpochs(nil, nil), ErrNilRecipient)
}

func TestManagerHalted(t *testing.T) {
	require := require.New(t)

	m := New(newTestLogBackend(t), clockwork.NewFakeClock())
	m.Halt()

	_, err := m.GetCurrentEpoch()
	require.ErrorIs(err, ErrHalted)
	require.ErrorIs(m.SetEpochConstants(testZero, testPeriod), ErrHalted)
	require.ErrorIs(m.SubscribeToEpoch(1, newTestMailbox(t, "late"), nil), ErrHalted)
}

func TestPersistentSubscription(t *testing.T) {
	require := require.New(t)

	clock := clockwork.NewFakeClockAt(time.Unix(testZero, 0))
	m := New(newTestLogBackend(t), clock)
	defer m.Halt()

	mb := newTestMailbox(t, "all")
	require.NoError(m.SubscribeToAllEpochs(mb, "payload"))
	require.NoError(m.SetEpochConstants(testZero, testPeriod))

	for i := 1; i <= 5; i++ {
		advance(t, clock, testPeriod*time.Second)
		n := recv(t, mb)
		require.Equal(epochtime.Epoch(i), n.Checkpoint)
		require.Equal("payload", n.Payload)
	}
	requireNone(t, mb)

	status, err := m.Status()
	require.NoError(err)
	require.Equal(1, status.Persistent)
	require.NotNil(status.LastChecked)
	require.Equal(epochtime.Epoch(5), *status.LastChecked)
}

func TestSingleShotSubscription(t *testing.T) {
	require := require.New(t)

	clock := clockwork.NewFakeClockAt(time.Unix(testZero+5, 0))
	m := New(newTestLogBackend(t), clock)
	defer m.Halt()

	first := newTestMailbox(t, "first")
	second := newTestMailbox(t, "second")
	require.NoError(m.SubscribeToEpoch(2, first, 1))
	require.NoError(m.SubscribeToEpoch(2, second, 2))
	require.NoError(m.SubscribeToEpoch(3, first, 3))
	require.NoError(m.SetEpochConstants(testZero, testPeriod))

	// Epoch 1 starts 5 seconds in.
	advance(t, clock, 5*time.Second)
	requireNone(t, first)
	requireNone(t, second)

	advance(t, clock, testPeriod*time.Second)
	n := recv(t, first)
	require.Equal(epochtime.Epoch(2), n.Checkpoint)
	require.Equal(1, n.Payload)
	n = recv(t, second)
	require.Equal(epochtime.Epoch(2), n.Checkpoint)
	require.Equal(2, n.Payload)
	requireNone(t, first)

	advance(t, clock, testPeriod*time.Second)
	n = recv(t, first)
	require.Equal(epochtime.Epoch(3), n.Checkpoint)
	require.Equal(3, n.Payload)

	advance(t, clock, testPeriod*time.Second)
	requireNone(t, first)
	requireNone(t, second)

	status, err := m.Status()
	require.NoError(err)
	require.Equal(0, status.Pending)
	require.Nil(status.NextTarget)
}

func TestPastEpochSubscription(t *testing.T) {
	require := require.New(t)

	clock := clockwork.NewFakeClockAt(time.Unix(testZero, 0))
	m := New(newTestLogBackend(t), clock)
	defer m.Halt()

	require.NoError(m.SetEpochConstants(testZero, testPeriod))
	for i := 0; i < 3; i++ {
		advance(t, clock, testPeriod*time.Second)
	}
	waitArmed(t, clock)

	mb := newTestMailbox(t, "latecomer")
	require.NoError(m.SubscribeToEpoch(1, mb, "past"))
	status, err := m.Status()
	require.NoError(err)
	require.Equal(1, status.Pending)
	require.Equal(epochtime.Epoch(1), *status.NextTarget)

	advance(t, clock, testPeriod*time.Second)
	n := recv(t, mb)
	require.Equal(epochtime.Epoch(1), n.Checkpoint)
	require.Equal("past", n.Payload)
}

func TestUnreachableRecipient(t *testing.T) {
	require := require.New(t)

	clock := clockwork.NewFakeClockAt(time.Unix(testZero, 0))
	m := New(newTestLogBackend(t), clock)
	defer m.Halt()

	gone := newTestMailbox(t, "gone")
	alive := newTestMailbox(t, "alive")
	gone.Close()

	require.NoError(m.SubscribeToAllEpochs(gone, nil))
	require.NoError(m.SubscribeToEpoch(1, gone, nil))
	require.NoError(m.SubscribeToAllEpochs(alive, "tick"))
	require.NoError(m.SetEpochConstants(testZero, testPeriod))

	for i := 1; i <= 2; i++ {
		advance(t, clock, testPeriod*time.Second)
		require.Equal(epochtime.Epoch(i), recv(t, alive).Checkpoint)
	}

	// The dropped single-shot subscription is not retried.
	status, err := m.Status()
	require.NoError(err)
	require.Equal(0, status.Pending)
}

func TestCheckpointZeroInTheFuture(t *testing.T) {
	require := require.New(t)

	clock := clockwork.NewFakeClockAt(time.Unix(testZero-25, 0))
	m := New(newTestLogBackend(t), clock)
	defer m.Halt()

	mb := newTestMailbox(t, "early")
	require.NoError(m.SubscribeToAllEpochs(mb, nil))
	require.NoError(m.SetEpochConstants(testZero, testPeriod))

	// The delay can not be computed, so the timer polls once a period, and
	// ticks before checkpoint zero are abandoned.
	advance(t, clock, testPeriod*time.Second)
	requireNone(t, mb)
	advance(t, clock, testPeriod*time.Second)
	requireNone(t, mb)

	status, err := m.Status()
	require.NoError(err)
	require.True(status.Running)
	require.Nil(status.LastChecked)

	// 1005 is in epoch 0, the next checkpoint is 5 seconds away.
	advance(t, clock, testPeriod*time.Second)
	require.Equal(epochtime.Epoch(0), recv(t, mb).Checkpoint)
	till, err := m.TimeToNextCheckpoint()
	require.NoError(err)
	require.Equal(5*time.Second, till)

	advance(t, clock, 5*time.Second)
	require.Equal(epochtime.Epoch(1), recv(t, mb).Checkpoint)
}

func TestSetEpochConstantsTwice(t *testing.T) {
	require := require.New(t)

	clock := clockwork.NewFakeClockAt(time.Unix(testZero, 0))
	m := New(newTestLogBackend(t), clock)
	defer m.Halt()

	mb := newTestMailbox(t, "all")
	require.NoError(m.SubscribeToAllEpochs(mb, nil))
	require.NoError(m.SetEpochConstants(testZero, testPeriod))
	require.NoError(m.SetEpochConstants(testZero, 0))

	status, err := m.Status()
	require.NoError(err)
	require.Equal(uint16(1), status.Constants.CheckpointsPeriod)

	// The latest constants win, and only one timer is armed.
	advance(t, clock, time.Second)
	require.Equal(epochtime.Epoch(1), recv(t, mb).Checkpoint)
	requireNone(t, mb)
	advance(t, clock, time.Second)
	require.Equal(epochtime.Epoch(2), recv(t, mb).Checkpoint)
	requireNone(t, mb)
}

func TestSetEpochConstantsMovedZero(t *testing.T) {
	require := require.New(t)

	clock := clockwork.NewFakeClockAt(time.Unix(testZero+65, 0))
	m := New(newTestLogBackend(t), clock)
	defer m.Halt()

	all := newTestMailbox(t, "all")
	require.NoError(m.SubscribeToAllEpochs(all, nil))
	require.NoError(m.SetEpochConstants(testZero, testPeriod))
	advance(t, clock, 5*time.Second)
	require.Equal(epochtime.Epoch(7), recv(t, all).Checkpoint)

	// Moving checkpoint zero forward makes the epoch go down to 1.
	single := newTestMailbox(t, "single")
	require.NoError(m.SetEpochConstants(testZero+60, testPeriod))
	require.NoError(m.SubscribeToEpoch(2, single, "two"))
	status, err := m.Status()
	require.NoError(err)
	require.Nil(status.LastChecked)

	for i := 2; i <= 4; i++ {
		advance(t, clock, testPeriod*time.Second)
		require.Equal(epochtime.Epoch(i), recv(t, all).Checkpoint)
	}
	n := recv(t, single)
	require.Equal(epochtime.Epoch(2), n.Checkpoint)
	require.Equal("two", n.Payload)

	status, err = m.Status()
	require.NoError(err)
	require.Equal(0, status.Pending)
	require.Equal(epochtime.Epoch(4), *status.LastChecked)
}
