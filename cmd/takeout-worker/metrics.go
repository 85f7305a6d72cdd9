// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	replsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "takeout_worker_repls_processed_total",
			Help: "Repls processed by terminal status",
		},
		[]string{"status"},
	)
	pollTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "takeout_worker_poll_ticks_total",
			Help: "Scheduler ticks of the serve loop's queue-poll placeholder",
		},
	)
)
