// manager.go - Epoch manager.
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

// Package epochmgr implements the epoch manager, which tracks the current
// checkpoint epoch and notifies subscribers when epochs start.
//
// All state is owned by a single worker goroutine.  Every request, be it a
// query, a subscription or the configuration of the epoch constants, is
// queued to that goroutine and processed in arrival order, interleaved with
// the checkpoint timer.
package epochmgr

import (
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"gopkg.in/eapache/channels.v1"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/epochd/core/epochtime"
	"github.com/katzenpost/epochd/core/log"
	"github.com/katzenpost/epochd/core/worker"
	"github.com/katzenpost/epochd/server/internal/instrument"
	"github.com/katzenpost/epochd/server/internal/subscription"
)

var (
	// ErrHalted is the error returned for requests made to a halted Manager.
	ErrHalted = errors.New("epochmgr: halted")

	// ErrNilRecipient is the error returned when subscribing without a
	// Recipient.
	ErrNilRecipient = errors.New("epochmgr: nil recipient")
)

// Status is a snapshot of the Manager state.
type Status struct {
	// Constants are the epoch constants, valid iff Running is set.
	Constants epochtime.Constants

	// Running is true iff the checkpoint timer has been started.
	Running bool

	// LastChecked is the epoch observed by the last checkpoint tick, or nil
	// if no tick has succeeded yet.
	LastChecked *epochtime.Epoch

	// NextTarget is the earliest epoch with a pending single-shot
	// subscription, or nil if there are none.
	NextTarget *epochtime.Epoch

	// Pending is the number of pending single-shot subscriptions.
	Pending int

	// Persistent is the number of subscriptions to all epochs.
	Persistent int
}

type result[T any] struct {
	v   T
	err error
}

type opSetEpochConstants struct {
	constants epochtime.Constants
}

type opSubscribeToEpoch struct {
	target    epochtime.Epoch
	recipient subscription.Recipient
	payload   interface{}
}

type opSubscribeToAll struct {
	recipient subscription.Recipient
	payload   interface{}
}

type opGetCurrentEpoch struct {
	responseCh chan result[epochtime.Epoch]
}

type opGetEpochTimestamp struct {
	epoch      epochtime.Epoch
	responseCh chan result[int64]
}

type opTimeToNextCheckpoint struct {
	responseCh chan result[time.Duration]
}

type opGetStatus struct {
	responseCh chan result[*Status]
}

// Manager is the epoch manager.
type Manager struct {
	worker.Worker

	log   *logging.Logger
	clock clockwork.Clock
	opCh  *channels.InfiniteChannel

	// Everything below is only touched by the worker goroutine.
	calc        *epochtime.Calculator
	registry    *subscription.Registry
	timer       clockwork.Timer
	lastChecked *epochtime.Epoch
}

// SetEpochConstants sets the checkpoint zero timestamp and the checkpoint
// period, and starts the checkpoint timer.  Calling it again replaces the
// constants and re-arms the timer.
func (m *Manager) SetEpochConstants(checkpointZeroTimestamp int64, checkpointsPeriod uint16) error {
	return m.post(&opSetEpochConstants{
		constants: epochtime.Constants{
			CheckpointZeroTimestamp: checkpointZeroTimestamp,
			CheckpointsPeriod:       checkpointsPeriod,
		},
	})
}

// SubscribeToEpoch requests a single notification carrying payload once the
// target epoch has started.  An epoch that has already started is notified
// on the next checkpoint tick.
func (m *Manager) SubscribeToEpoch(target epochtime.Epoch, recipient subscription.Recipient, payload interface{}) error {
	if recipient == nil {
		return ErrNilRecipient
	}
	return m.post(&opSubscribeToEpoch{
		target:    target,
		recipient: recipient,
		payload:   payload,
	})
}

// SubscribeToAllEpochs requests a notification carrying a copy of payload
// every time an epoch starts.
func (m *Manager) SubscribeToAllEpochs(recipient subscription.Recipient, payload interface{}) error {
	if recipient == nil {
		return ErrNilRecipient
	}
	return m.post(&opSubscribeToAll{
		recipient: recipient,
		payload:   payload,
	})
}

// GetCurrentEpoch returns the current epoch.
func (m *Manager) GetCurrentEpoch() (epochtime.Epoch, error) {
	op := &opGetCurrentEpoch{responseCh: make(chan result[epochtime.Epoch], 1)}
	return call(m, op, op.responseCh)
}

// GetEpochTimestamp returns the timestamp of the checkpoint starting the
// epoch.
func (m *Manager) GetEpochTimestamp(epoch epochtime.Epoch) (int64, error) {
	op := &opGetEpochTimestamp{
		epoch:      epoch,
		responseCh: make(chan result[int64], 1),
	}
	return call(m, op, op.responseCh)
}

// TimeToNextCheckpoint returns the time remaining until the next epoch.
func (m *Manager) TimeToNextCheckpoint() (time.Duration, error) {
	op := &opTimeToNextCheckpoint{responseCh: make(chan result[time.Duration], 1)}
	return call(m, op, op.responseCh)
}

// Status returns a snapshot of the Manager state.
func (m *Manager) Status() (*Status, error) {
	op := &opGetStatus{responseCh: make(chan result[*Status], 1)}
	return call(m, op, op.responseCh)
}

func (m *Manager) post(op interface{}) error {
	if m.IsHalted() {
		return ErrHalted
	}
	select {
	case m.opCh.In() <- op:
		return nil
	case <-m.HaltCh():
		return ErrHalted
	}
}

func call[T any](m *Manager, op interface{}, responseCh chan result[T]) (T, error) {
	var zero T
	if err := m.post(op); err != nil {
		return zero, err
	}
	select {
	case r := <-responseCh:
		return r.v, r.err
	case <-m.HaltCh():
		return zero, ErrHalted
	}
}

func (m *Manager) worker() {
	defer func() {
		if m.timer != nil {
			m.timer.Stop()
		}
		m.log.Debugf("Halting epoch manager worker.")
	}()

	for {
		var timerCh <-chan time.Time
		if m.timer != nil {
			timerCh = m.timer.Chan()
		}

		select {
		case <-m.HaltCh():
			return
		case rawOp := <-m.opCh.Out():
			m.handleOp(rawOp)
		case <-timerCh:
			m.onCheckpoint()
		}
	}
}

func (m *Manager) handleOp(rawOp interface{}) {
	switch op := rawOp.(type) {
	case *opSetEpochConstants:
		m.setEpochConstants(&op.constants)
	case *opSubscribeToEpoch:
		m.registry.SubscribeToEpoch(op.target, op.recipient, op.payload)
		m.log.Debugf("'%v' subscribed to epoch %v.", op.recipient.Name(), op.target)
		instrument.Subscriptions(m.registry.Pending(), len(m.registry.Persistent()))
	case *opSubscribeToAll:
		m.registry.SubscribeToAll(op.recipient, op.payload)
		m.log.Debugf("'%v' subscribed to all epochs.", op.recipient.Name())
		instrument.Subscriptions(m.registry.Pending(), len(m.registry.Persistent()))
	case *opGetCurrentEpoch:
		epoch, err := m.calc.CurrentEpoch()
		op.responseCh <- result[epochtime.Epoch]{epoch, err}
	case *opGetEpochTimestamp:
		ts, err := m.calc.EpochTimestamp(op.epoch)
		op.responseCh <- result[int64]{ts, err}
	case *opTimeToNextCheckpoint:
		till, err := m.calc.TimeToNextCheckpoint()
		op.responseCh <- result[time.Duration]{till, err}
	case *opGetStatus:
		op.responseCh <- result[*Status]{m.status(), nil}
	default:
		m.log.Errorf("BUG: Unknown epoch manager op: %T", op)
	}
}

func (m *Manager) setEpochConstants(constants *epochtime.Constants) {
	prev, hadPrev := m.calc.Constants()
	m.calc.SetConstants(constants)

	// Log the constants after the period has been coerced.
	set, _ := m.calc.Constants()
	m.log.Debugf("Checkpoint zero timestamp: %d, checkpoints period: %d", set.CheckpointZeroTimestamp, set.CheckpointsPeriod)

	// Epochs observed under the old constants are not comparable with the
	// new ones.
	if hadPrev && prev != set && m.lastChecked != nil {
		m.log.Noticef("Epoch constants changed, forgetting last checked epoch %v", *m.lastChecked)
		m.lastChecked = nil
	}

	m.schedule()
}

func (m *Manager) status() *Status {
	s := &Status{
		Running:    m.timer != nil,
		Pending:    m.registry.Pending(),
		Persistent: len(m.registry.Persistent()),
	}
	s.Constants, _ = m.calc.Constants()
	if m.lastChecked != nil {
		lastChecked := *m.lastChecked
		s.LastChecked = &lastChecked
	}
	if target, ok := m.registry.NextTarget(); ok {
		s.NextTarget = &target
	}
	return s
}

func newManager(logBackend *log.Backend, clock clockwork.Clock) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		log:      logBackend.GetLogger("epochmgr"),
		clock:    clock,
		opCh:     channels.NewInfiniteChannel(),
		calc:     epochtime.New(clock, logBackend.GetLogger("epochtime")),
		registry: subscription.NewRegistry(),
	}
}

// New returns a new Manager using the clock, or the real clock if nil.  The
// checkpoint timer is started by SetEpochConstants.
func New(logBackend *log.Backend, clock clockwork.Clock) *Manager {
	m := newManager(logBackend, clock)
	m.Go(m.worker)
	return m
}
