// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK    = "ok"
	resultError = "error"
)

// metrics holds the executor's Prometheus collectors.
// A nil *metrics records nothing.
type metrics struct {
	tasksSubmitted   prometheus.Counter
	tasksCompleted   *prometheus.CounterVec
	callbacks        *prometheus.CounterVec
	callbackDuration prometheus.Histogram
	threads          prometheus.Gauge
}

// newMetrics registers the collectors on reg. It panics if they are
// already registered there.
func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &metrics{
		tasksSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "jsbridge_tasks_submitted_total",
			Help: "Total number of asynchronous script tasks submitted.",
		}),
		tasksCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jsbridge_tasks_completed_total",
			Help: "Total number of asynchronous script tasks that finished, by outcome.",
		}, []string{"result"}),
		callbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jsbridge_callback_roundtrips_total",
			Help: "Total number of host callbacks run on the main loop for a worker.",
		}, []string{"result"}),
		callbackDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "jsbridge_callback_roundtrip_seconds",
			Help:    "Time a worker waits for a host callback round-trip.",
			Buckets: prometheus.DefBuckets,
		}),
		threads: factory.NewGauge(prometheus.GaugeOpts{
			Name: "jsbridge_threads",
			Help: "Current number of worker threads in the pool.",
		}),
	}
}

func resultLabel(failed bool) string {
	if failed {
		return resultError
	}
	return resultOK
}

func (m *metrics) taskSubmitted() {
	if m == nil {
		return
	}
	m.tasksSubmitted.Inc()
}

func (m *metrics) taskCompleted(hasError bool) {
	if m == nil {
		return
	}
	m.tasksCompleted.WithLabelValues(resultLabel(hasError)).Inc()
}

func (m *metrics) observeCallback(start time.Time, err error) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(resultLabel(err != nil)).Inc()
	m.callbackDuration.Observe(time.Since(start).Seconds())
}

func (m *metrics) setThreads(n uint32) {
	if m == nil {
		return
	}
	m.threads.Set(float64(n))
}
