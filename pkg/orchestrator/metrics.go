/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jordigilh/orchestrator-core/pkg/outcome"
)

// Metrics is the orchestrator's prometheus surface: step latency, gate
// decision counts, and the trust projector's replication lag (shared
// with the outcome package's projector since both describe the same
// run's observability, §4.7/§4.9). A nil *Metrics on Config disables
// instrumentation entirely.
type Metrics struct {
	stepDuration  *prometheus.HistogramVec
	gateDecisions *prometheus.CounterVec
	projectorLag  prometheus.Gauge
}

// NewMetrics registers the orchestrator's collectors against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the global
// default registerer across parallel test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Subsystem: "step",
			Name:      "duration_seconds",
			Help:      "Step transaction wall-clock duration by terminal status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Gate decisions recorded, by gate kind and outcome.",
		}, []string{"gate_kind", "decision"}),
		projectorLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Subsystem: "projector",
			Name:      "lag_events",
			Help:      "Trust projector lag, in undelivered outcome events, at last check.",
		}),
	}
	reg.MustRegister(m.stepDuration, m.gateDecisions, m.projectorLag)
	return m
}

func (m *Metrics) observeStepDuration(status string, seconds float64) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(status).Observe(seconds)
}

func (m *Metrics) countGateDecision(gateKind, decision string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(gateKind, decision).Inc()
}

// ObserveProjectorStatus feeds a trust projector health snapshot (C3)
// into the shared lag gauge.
func (m *Metrics) ObserveProjectorStatus(status outcome.ProjectorStatus) {
	if m == nil {
		return
	}
	m.projectorLag.Set(float64(status.LagEvents))
}
