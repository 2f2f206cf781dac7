// time.go - Checkpoint epoch arithmetic.
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

// Package epochtime implements checkpoint based epoch timekeeping.
//
// An epoch is the number of whole checkpoint periods that have elapsed since
// the checkpoint zero timestamp.  All timestamps are Unix seconds.
package epochtime

import (
	"errors"
	"math"
	"math/bits"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"gopkg.in/op/go-logging.v1"
)

var (
	// ErrUnknownEpochZero is the error returned when the checkpoint zero
	// timestamp has not been set.
	ErrUnknownEpochZero = errors.New("epochtime: checkpoint zero timestamp is unknown")

	// ErrUnknownCheckpointPeriod is the error returned when the checkpoint
	// period has not been set.
	ErrUnknownCheckpointPeriod = errors.New("epochtime: checkpoint period is unknown")

	// ErrCheckpointZeroInTheFuture is the error returned when the queried
	// timestamp precedes checkpoint zero.
	ErrCheckpointZeroInTheFuture = errors.New("epochtime: checkpoint zero is in the future")

	// ErrOverflow is the error returned when an epoch can not be mapped to a
	// timestamp (or the reverse) without overflowing.
	ErrOverflow = errors.New("epochtime: overflow")
)

// Epoch is a checkpoint epoch number, starting from 0.
type Epoch uint64

// String returns the decimal representation of the epoch.
func (e Epoch) String() string {
	return strconv.FormatUint(uint64(e), 10)
}

// Constants are the consensus constants that parameterize a Calculator.
type Constants struct {
	// CheckpointZeroTimestamp is the second in which epoch 0 started.
	CheckpointZeroTimestamp int64

	// CheckpointsPeriod is the epoch duration in seconds.
	CheckpointsPeriod uint16
}

// Calculator maps between timestamps and epochs.  It is not safe for
// concurrent use, callers are expected to serialize access.
type Calculator struct {
	clock clockwork.Clock
	log   *logging.Logger

	zero    int64
	hasZero bool

	// period is never stored as 0, so 0 means unset.
	period uint16
}

// SetCheckpointZero sets the timestamp of the start of epoch 0.
func (c *Calculator) SetCheckpointZero(timestamp int64) {
	c.zero = timestamp
	c.hasZero = true
}

// SetPeriod sets the checkpoint period in seconds.  A period of 0 is coerced
// to the 1 second minimum.
func (c *Calculator) SetPeriod(period uint16) {
	if period == 0 {
		c.log.Warning("Setting the checkpoint period to the minimum value of 1 second.")
		period = 1
	}
	c.period = period
}

// SetConstants sets both consensus constants.
func (c *Calculator) SetConstants(constants *Constants) {
	c.SetCheckpointZero(constants.CheckpointZeroTimestamp)
	c.SetPeriod(constants.CheckpointsPeriod)
}

// Constants returns the current constants, and true iff both are set.
func (c *Calculator) Constants() (Constants, bool) {
	if !c.hasZero || c.period == 0 {
		return Constants{}, false
	}
	return Constants{
		CheckpointZeroTimestamp: c.zero,
		CheckpointsPeriod:       c.period,
	}, true
}

// Period returns the checkpoint period as a time.Duration.
func (c *Calculator) Period() (time.Duration, error) {
	if c.period == 0 {
		return 0, ErrUnknownCheckpointPeriod
	}
	return time.Duration(c.period) * time.Second, nil
}

func (c *Calculator) constants() (int64, uint64, error) {
	switch {
	case !c.hasZero:
		return 0, 0, ErrUnknownEpochZero
	case c.period == 0:
		return 0, 0, ErrUnknownCheckpointPeriod
	}
	return c.zero, uint64(c.period), nil
}

// EpochAt returns the epoch that contains the timestamp.
func (c *Calculator) EpochAt(timestamp int64) (Epoch, error) {
	zero, period, err := c.constants()
	if err != nil {
		return 0, err
	}
	if timestamp < zero {
		return 0, ErrCheckpointZeroInTheFuture
	}

	// timestamp >= zero, so the two's complement difference is exact.
	elapsed := uint64(timestamp) - uint64(zero)
	return Epoch(elapsed / period), nil
}

// Now returns the current time as seen by the Calculator's clock.
func (c *Calculator) Now() time.Time {
	return c.clock.Now()
}

// CurrentEpoch returns the epoch that contains the current time.
func (c *Calculator) CurrentEpoch() (Epoch, error) {
	return c.EpochAt(c.clock.Now().Unix())
}

// EpochTimestamp returns the timestamp of the checkpoint that starts the
// epoch, computing zero + period * epoch with overflow checks.
func (c *Calculator) EpochTimestamp(epoch Epoch) (int64, error) {
	zero, period, err := c.constants()
	if err != nil {
		return 0, err
	}

	hi, lo := bits.Mul64(period, uint64(epoch))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, ErrOverflow
	}
	offset := int64(lo)
	if zero > 0 && offset > math.MaxInt64-zero {
		return 0, ErrOverflow
	}
	return zero + offset, nil
}

// IsInEpoch returns true iff the epoch e contains the timestamp.
func (c *Calculator) IsInEpoch(e Epoch, timestamp int64) bool {
	epoch, err := c.EpochAt(timestamp)
	if err != nil {
		return false
	}
	return epoch == e
}

// TimeToNextCheckpoint returns the time remaining until the start of the
// next epoch.
func (c *Calculator) TimeToNextCheckpoint() (time.Duration, error) {
	// Cache now for a consistent value for this query.
	now := c.clock.Now()
	current, err := c.EpochAt(now.Unix())
	if err != nil {
		return 0, err
	}
	if current == math.MaxUint64 {
		return 0, ErrOverflow
	}
	next, err := c.EpochTimestamp(current + 1)
	if err != nil {
		return 0, err
	}

	// This can not be negative with the arithmetic above, but a negative
	// delay must never reach a timer.
	till := time.Unix(next, 0).Sub(now)
	if till < 0 {
		return 0, ErrOverflow
	}
	return till, nil
}

// New returns a new Calculator with unset constants.  If clock is nil the
// real clock is used.
func New(clock clockwork.Clock, log *logging.Logger) *Calculator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Calculator{
		clock: clock,
		log:   log,
	}
}
