// Copyright 2026 The Actor Engine Authors
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

package gateway

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_gateway_requests_pending",
		Help: "Requests the gateway is currently proxying.",
	})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_gateway_requests_total",
		Help: "Total gateway requests by status code.",
	}, []string{"status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_gateway_request_duration_seconds",
		Help:    "Gateway request duration in seconds, by status code.",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	requestErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_gateway_request_errors_total",
		Help: "Total gateway request failures by error code.",
	}, []string{"error_code"})
)

func recordRequestStart() {
	requestsPending.Inc()
}

func recordRequestEnd(statusCode int, durationSeconds float64) {
	requestsPending.Dec()
	status := strconv.Itoa(statusCode)
	requestsTotal.WithLabelValues(status).Inc()
	requestDuration.WithLabelValues(status).Observe(durationSeconds)
}

func recordRequestError(code string) {
	requestErrorsTotal.WithLabelValues(code).Inc()
}
