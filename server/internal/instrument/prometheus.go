// prometheus.go - Prometheus instrumentation.
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

// Package instrument exports the epoch service metrics to Prometheus.
package instrument

import (
	goLog "log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Notification kinds, used as the "kind" label.
const (
	KindSingleShot = "single_shot"
	KindPersistent = "persistent"
)

var (
	checkpointTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "epochd_checkpoint_ticks_total",
			Help: "Number of checkpoint timer ticks that observed an epoch",
		},
	)
	checkpointTickFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "epochd_checkpoint_tick_failures_total",
			Help: "Number of checkpoint timer ticks abandoned due to an error",
		},
	)
	currentEpoch = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "epochd_current_epoch",
			Help: "Last epoch observed by the checkpoint timer",
		},
	)
	checkpointDelay = prometheus.NewSummary(
		prometheus.SummaryOpts{
			Name: "epochd_checkpoint_delay_seconds",
			Help: "Delay the checkpoint timer was armed with",
		},
	)
	notificationsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epochd_notifications_delivered_total",
			Help: "Number of epoch notifications delivered",
		},
		[]string{"kind"},
	)
	notificationsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epochd_notifications_dropped_total",
			Help: "Number of epoch notifications dropped due to an unreachable recipient",
		},
		[]string{"kind"},
	)
	catchUpNotifications = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "epochd_catch_up_notifications_total",
			Help: "Number of single-shot notifications delivered after their epoch",
		},
	)
	pendingSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "epochd_pending_subscriptions",
			Help: "Number of single-shot subscriptions waiting for their epoch",
		},
	)
	persistentSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "epochd_persistent_subscriptions",
			Help: "Number of subscriptions to all epochs",
		},
	)
)

func init() {
	prometheus.MustRegister(
		checkpointTicks,
		checkpointTickFailures,
		currentEpoch,
		checkpointDelay,
		notificationsDelivered,
		notificationsDropped,
		catchUpNotifications,
		pendingSubscriptions,
		persistentSubscriptions,
	)
}

// StartPrometheusListener serves the metrics on addr, and returns the
// http.Server so that it can be shut down.
func StartPrometheusListener(addr string, errorLog *goLog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ErrorLog:          errorLog,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errorLog.Printf("Metrics listener failed: %v", err)
		}
	}()
	return srv
}

// CheckpointTick increments the counter of successful checkpoint ticks and
// records the observed epoch.
func CheckpointTick(epoch uint64) {
	checkpointTicks.Inc()
	currentEpoch.Set(float64(epoch))
}

// CheckpointTickFailed increments the counter of abandoned checkpoint ticks.
func CheckpointTickFailed() {
	checkpointTickFailures.Inc()
}

// CheckpointDelay observes the delay the checkpoint timer was armed with.
func CheckpointDelay(d time.Duration) {
	checkpointDelay.Observe(d.Seconds())
}

// NotificationDelivered increments the counter of delivered notifications.
func NotificationDelivered(kind string) {
	notificationsDelivered.With(prometheus.Labels{"kind": kind}).Inc()
}

// NotificationDropped increments the counter of dropped notifications.
func NotificationDropped(kind string) {
	notificationsDropped.With(prometheus.Labels{"kind": kind}).Inc()
}

// CatchUpNotification increments the counter of late single-shot
// notifications.
func CatchUpNotification() {
	catchUpNotifications.Inc()
}

// Subscriptions sets the subscription gauges.
func Subscriptions(pending, persistent int) {
	pendingSubscriptions.Set(float64(pending))
	persistentSubscriptions.Set(float64(persistent))
}
