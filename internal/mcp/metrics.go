// Copyright 2025 the vcode authors
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

package mcp

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks tool server activity for a registry.
type Metrics struct {
	serversRunning prometheus.Gauge
	serverStarts   *prometheus.CounterVec
	serverErrors   *prometheus.CounterVec
	toolCalls      *prometheus.CounterVec
	toolCallTime   *prometheus.HistogramVec
}

// NewMetrics creates and registers the registry metrics. Pass
// prometheus.DefaultRegisterer outside of tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		serversRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vcode",
			Subsystem: "tool_servers",
			Name:      "running",
			Help:      "Number of tool servers currently running.",
		}),
		serverStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vcode",
			Subsystem: "tool_servers",
			Name:      "starts_total",
			Help:      "Tool server start attempts by outcome.",
		}, []string{"server", "outcome"}),
		serverErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vcode",
			Subsystem: "tool_servers",
			Name:      "exits_total",
			Help:      "Tool server exits by kind.",
		}, []string{"server", "kind"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vcode",
			Subsystem: "tool_servers",
			Name:      "tool_calls_total",
			Help:      "Tool calls by server, tool and outcome.",
		}, []string{"server", "tool", "outcome"}),
		toolCallTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vcode",
			Subsystem: "tool_servers",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call latency by server.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"server"}),
	}
	if reg != nil {
		reg.MustRegister(m.serversRunning, m.serverStarts, m.serverErrors,
			m.toolCalls, m.toolCallTime)
	}
	return m
}

func (m *Metrics) serverStarted(id string) {
	if m == nil {
		return
	}
	m.serversRunning.Inc()
	m.serverStarts.WithLabelValues(id, "success").Inc()
}

func (m *Metrics) serverStartFailed(id string) {
	if m == nil {
		return
	}
	m.serverStarts.WithLabelValues(id, "failure").Inc()
}

func (m *Metrics) serverStopped(id string, clean bool) {
	if m == nil {
		return
	}
	m.serversRunning.Dec()
	kind := "clean"
	if !clean {
		kind = "crash"
	}
	m.serverErrors.WithLabelValues(id, kind).Inc()
}

func (m *Metrics) toolCalled(id, tool string, seconds float64, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.toolCalls.WithLabelValues(id, tool, outcome).Inc()
	m.toolCallTime.WithLabelValues(id).Observe(seconds)
}
