// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Goodwine/go-xmppstream"
)

// metrics are only updated from the event loop goroutine. Collection runs on HTTP goroutines and
// only reads the prometheus values, never the arena.
type metrics struct {
	sessions    prometheus.Gauge
	bytes       prometheus.Counter
	events      *prometheus.CounterVec
	parseErrors *prometheus.CounterVec

	arenaLive     prometheus.Gauge
	arenaRooted   prometheus.Gauge
	arenaFree     prometheus.Gauge
	arenaInterned prometheus.Gauge
	releases      prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xmppstream_sessions_active",
			Help: "Number of connected streams.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xmppstream_received_bytes_total",
			Help: "Bytes pushed into the parser.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xmppstream_events_total",
			Help: "Parser events delivered, by type.",
		}, []string{"type"}),
		parseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xmppstream_parse_errors_total",
			Help: "Streams failed, by error kind.",
		}, []string{"kind"}),
		arenaLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xmppstream_arena_live_buffers",
			Help: "Scratch buffers held after the last release.",
		}),
		arenaRooted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xmppstream_arena_rooted_buffers",
			Help: "Scratch buffers backing partially parsed tokens.",
		}),
		arenaFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xmppstream_arena_free_bytes",
			Help: "Bytes of released buffers kept for reuse.",
		}),
		arenaInterned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xmppstream_arena_interned_names",
			Help: "Size of the shared name table.",
		}),
		releases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xmppstream_arena_releases_total",
			Help: "Calls to ReleaseTemporaries.",
		}),
	}
	reg.MustRegister(
		m.sessions, m.bytes, m.events, m.parseErrors,
		m.arenaLive, m.arenaRooted, m.arenaFree, m.arenaInterned, m.releases,
	)
	return m
}

func (m *metrics) observeArena(st xmppstream.ArenaStats) {
	m.arenaLive.Set(float64(st.Live))
	m.arenaRooted.Set(float64(st.Rooted))
	m.arenaFree.Set(float64(st.FreeBytes))
	m.arenaInterned.Set(float64(st.InternedNames))
	m.releases.Inc()
}
