// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics exposes the server's internal counters as Prometheus
// gauges/counters on an independent HTTP endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	cclog "github.com/cc-kv/cc-kvstore/log"
)

var (
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cc_kvstore_commands_total",
		Help: "Number of commands processed, labeled by command name.",
	}, []string{"command"})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cc_kvstore_connected_clients",
		Help: "Number of currently connected client sockets.",
	})

	ReplicaOffsetBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cc_kvstore_replica_offset_bytes",
		Help: "Total bytes written to the replication stream so far.",
	})

	Keys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cc_kvstore_keys",
		Help: "Number of live keys in the keyspace.",
	})
)

// ConnectedClientsValue reads the current connected-client gauge, for
// INFO's "# Clients" section.
func ConnectedClientsValue() float64 {
	var m dto.Metric
	ConnectedClients.Write(&m)
	return m.GetGauge().GetValue()
}

// Serve starts the optional /metrics HTTP endpoint. It is additive: the
// RESP TCP interface remains the only way to talk to the keyspace itself.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		cclog.Infof("[METRICS]> listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			cclog.Errorf("[METRICS]> server stopped: %v", err)
		}
	}()
}
