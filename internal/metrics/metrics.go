// SPDX-License-Identifier: MIT

// Package metrics exposes prometheus collectors for the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Wire metrics
	Batches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loopsync_batches_total",
		Help: "Command batches dispatched to remote engines by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "loopsync_batch_duration_seconds",
		Help:    "Wall time of one batch exchange including reply parsing",
		Buckets: prometheus.DefBuckets,
	})

	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loopsync_reconnects_total",
		Help: "Reconnect attempts per remote engine",
	}, []string{"remote"})

	// Sync metrics
	Resyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loopsync_resyncs_total",
		Help: "Resync operations by mode and trigger",
	}, []string{"mode", "trigger"}) // trigger=auto|manual

	DriftFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "loopsync_drift_frames",
		Help: "Last observed drift per slot in frames",
	}, []string{"slot"})

	TicksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loopsync_ticks_dropped_total",
		Help: "Drift controller ticks skipped because the previous tick was still running",
	})

	EffectiveSlots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loopsync_slots_effective",
		Help: "Number of slots currently producing wire traffic",
	})

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loopsync_http_requests_total",
		Help: "Control-surface requests by path and status class",
	}, []string{"path", "class"})
)
