// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package telemetry exports cast outcomes and remote latency as Prometheus
// metrics. Metrics implements core.Observer; pass it in core.Options.
package telemetry

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"votecache"
	"votecache/internal/reconciler/core"
)

// Metrics holds the cast collectors. Labels are bounded: outcome and
// direction only, never the post id.
type Metrics struct {
	casts          *prometheus.CounterVec
	inflight       prometheus.Gauge
	remoteSeconds  prometheus.Histogram
	remoteFailures prometheus.Counter
	gatherer       prometheus.Gatherer
}

// ErrNoGatherer is returned when the registerer cannot be scraped and no
// gatherer was given.
var ErrNoGatherer = errors.New("telemetry: registerer is not a gatherer; pass one explicitly")

// New registers the collectors on reg and serves them from g. A nil reg uses
// the default registry. A nil g uses reg itself, which must then also be a
// prometheus.Gatherer (a *prometheus.Registry is).
func New(reg prometheus.Registerer, g prometheus.Gatherer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
		if g == nil {
			g = prometheus.DefaultGatherer
		}
	}
	if g == nil {
		rg, ok := reg.(prometheus.Gatherer)
		if !ok {
			return nil, ErrNoGatherer
		}
		g = rg
	}
	m := &Metrics{
		casts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "votecache_casts_total",
			Help: "Settled vote casts by outcome and direction",
		}, []string{"outcome", "direction"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "votecache_inflight",
			Help: "Remote vote calls currently outstanding",
		}),
		remoteSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "votecache_remote_seconds",
			Help:    "Latency of remote vote calls",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		remoteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "votecache_remote_failures_total",
			Help: "Remote vote calls that failed after the optimistic write landed",
		}),
		gatherer: g,
	}
	for _, c := range []prometheus.Collector{m.casts, m.inflight, m.remoteSeconds, m.remoteFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) CastStarted(int64, votecache.Direction) {
	m.inflight.Inc()
}

func (m *Metrics) CastSettled(ev core.CastEvent) {
	dir := "invalid"
	if ev.Direction.Valid() {
		dir = ev.Direction.String()
	}
	m.casts.WithLabelValues(ev.Outcome.String(), dir).Inc()
	if !ev.Remote {
		return
	}
	m.inflight.Dec()
	m.remoteSeconds.Observe(ev.Latency.Seconds())
	if ev.Outcome == core.RemoteFailed {
		m.remoteFailures.Inc()
	}
}

// Handler serves the registry the collectors were registered on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
