// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package instrument exposes prometheus metrics for the pact contracts.
package instrument

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pact_contract_operations_total",
			Help: "Number of contract operations by operation and result",
		},
		[]string{"operation", "result"},
	)
	messagesAppended = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pact_messages_appended_total",
			Help: "Number of messages appended to chat channels",
		},
	)
	eventsEmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pact_events_emitted_total",
			Help: "Number of outbox events emitted",
		},
	)
)

// Init registers the collectors and serves the prometheus endpoint on the
// given address.
func Init(address string) {
	prometheus.MustRegister(operations)
	prometheus.MustRegister(messagesAppended)
	prometheus.MustRegister(eventsEmitted)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go http.ListenAndServe(address, mux)
}

// Operation records one contract operation outcome.
func Operation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	operations.With(prometheus.Labels{"operation": op, "result": result}).Inc()
}

// MessageAppended records one message append.
func MessageAppended() {
	messagesAppended.Inc()
}

// EventsEmitted records n committed outbox events.
func EventsEmitted(n int) {
	eventsEmitted.Add(float64(n))
}
