// prometheus_test.go - Metrics tests.
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

package instrument

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	require := require.New(t)

	ticks := testutil.ToFloat64(checkpointTicks)
	CheckpointTick(42)
	require.Equal(ticks+1, testutil.ToFloat64(checkpointTicks))
	require.Equal(float64(42), testutil.ToFloat64(currentEpoch))

	failures := testutil.ToFloat64(checkpointTickFailures)
	CheckpointTickFailed()
	require.Equal(failures+1, testutil.ToFloat64(checkpointTickFailures))

	delivered := testutil.ToFloat64(notificationsDelivered.WithLabelValues(KindPersistent))
	NotificationDelivered(KindPersistent)
	require.Equal(delivered+1, testutil.ToFloat64(notificationsDelivered.WithLabelValues(KindPersistent)))

	dropped := testutil.ToFloat64(notificationsDropped.WithLabelValues(KindSingleShot))
	NotificationDropped(KindSingleShot)
	require.Equal(dropped+1, testutil.ToFloat64(notificationsDropped.WithLabelValues(KindSingleShot)))

	Subscriptions(3, 2)
	require.Equal(float64(3), testutil.ToFloat64(pendingSubscriptions))
	require.Equal(float64(2), testutil.ToFloat64(persistentSubscriptions))

	CheckpointDelay(1500 * time.Millisecond)
	CatchUpNotification()
	require.Equal(1, testutil.CollectAndCount(checkpointDelay))
}
