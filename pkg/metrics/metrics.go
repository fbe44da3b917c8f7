// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/united-manufacturing-hub/livestatus/pkg/logger"
	"github.com/united-manufacturing-hub/livestatus/pkg/sentry"
)

// Frame outcomes.
const (
	FrameDecoded = "decoded"
	FrameDropped = "dropped"
)

// Poll outcomes.
const (
	PollInProgress = "in_progress"
	PollIdle       = "idle"
	PollFailed     = "failed"
	PollDiscarded  = "discarded"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "livestatus"
	subsystem = "sync"

	framesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_total",
			Help:      "Push frames received per topic kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	reconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconnects_total",
			Help:      "Reconnect attempts after an unexpected channel close",
		},
		[]string{"kind"},
	)

	openChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "open_channels",
			Help:      "Physical push channels currently open",
		},
	)

	pollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "polls_total",
			Help:      "Snapshot polls per topic kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	fetchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fetch_errors_total",
			Help:      "Failed snapshot requests per topic kind",
		},
		[]string{"kind"},
	)

	reconcileTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconcile_duration_microseconds",
			Help:      "Time taken to merge one event into the cache (in microseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.01,
			},
		},
		[]string{"strategy"},
	)

	cacheWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_writes_total",
			Help:      "Snapshot writes per topic kind",
		},
		[]string{"kind"},
	)

	droppedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dropped_events_total",
			Help:      "Events dropped by the reconciler per topic kind and reason",
		},
		[]string{"kind", "reason"},
	)
)

// SetupMetricsEndpoint starts an HTTP server to expose metrics
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeError, logger.For("metrics"))
		}
	}()

	return server
}

// RecordFrame counts one push frame.
func RecordFrame(kind, outcome string) {
	framesTotal.WithLabelValues(kind, outcome).Inc()
}

// IncReconnect counts one reconnect attempt.
func IncReconnect(kind string) {
	reconnectsTotal.WithLabelValues(kind).Inc()
}

// ChannelOpened and ChannelClosed track the open channel gauge.
func ChannelOpened() {
	openChannels.Inc()
}

func ChannelClosed() {
	openChannels.Dec()
}

// RecordPoll counts one finished poll.
func RecordPoll(kind, outcome string) {
	pollsTotal.WithLabelValues(kind, outcome).Inc()
}

// IncFetchError counts one failed snapshot request.
func IncFetchError(kind string) {
	fetchErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveReconcileTime records the time taken for one merge.
func ObserveReconcileTime(strategy string, duration time.Duration) {
	reconcileTime.WithLabelValues(strategy).Observe(float64(duration.Microseconds()))
}

// IncCacheWrite counts one snapshot write.
func IncCacheWrite(kind string) {
	cacheWritesTotal.WithLabelValues(kind).Inc()
}

// IncDroppedEvent counts one event the reconciler did not apply.
func IncDroppedEvent(kind, reason string) {
	droppedEventsTotal.WithLabelValues(kind, reason).Inc()
}

// Collectors for tests.
var (
	FramesTotal        = framesTotal
	ReconnectsTotal    = reconnectsTotal
	PollsTotal         = pollsTotal
	FetchErrorsTotal   = fetchErrorsTotal
	CacheWritesTotal   = cacheWritesTotal
	DroppedEventsTotal = droppedEventsTotal
)
