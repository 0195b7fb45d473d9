/*
Copyright (C) 2026 Skaldworks

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SchedulesStarted counts schedule runs claimed by the engine.
	SchedulesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muninn_schedules_started_total",
		Help: "Number of schedule runs started.",
	})

	// SchedulesTerminal counts terminal outcomes by kind.
	SchedulesTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muninn_schedules_terminal_total",
		Help: "Number of schedule runs reaching a terminal state.",
	}, []string{"outcome"})

	// PlaybackErrors counts per-asset playback failures.
	PlaybackErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muninn_playback_errors_total",
		Help: "Number of per-asset playback errors.",
	})

	// AssetsPlayed counts assets that began playing.
	AssetsPlayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muninn_assets_played_total",
		Help: "Number of assets that began playing.",
	})

	// DeviceReconnects counts reconnect attempts against the video server.
	DeviceReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muninn_device_reconnects_total",
		Help: "Number of device reconnect attempts.",
	})

	// DeviceCommandDuration observes correlated command round-trip time.
	DeviceCommandDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "muninn_device_command_duration_seconds",
		Help:    "Round-trip duration of correlated device commands.",
		Buckets: prometheus.DefBuckets,
	})

	// HTTPRequestDuration observes API request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "muninn_http_request_duration_seconds",
		Help:    "API request duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "method", "status"})

	// APIActiveConnections tracks in-flight API requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "muninn_api_active_connections",
		Help: "In-flight API requests.",
	})

	// EventSubscribers tracks connected live event feed clients.
	EventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "muninn_event_subscribers",
		Help: "Connected websocket event feed clients.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
