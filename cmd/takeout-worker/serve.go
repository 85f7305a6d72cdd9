// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// newServeCmd builds the `serve` stub. The real top-level process
// supervisor — the Airtable-backed queue poll that decides which user to
// process next — is explicitly out of scope (spec.md §1); this command
// only proves out the scheduling and metrics shell a real supervisor
// would run inside, with the poll tick itself a no-op placeholder.
func newServeCmd() *cobra.Command {
	var metricsAddr string
	var pollInterval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduling/metrics shell (queue polling itself is out of scope)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), metricsAddr, pollInterval)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", time.Minute, "how often the placeholder queue-poll tick fires")
	return cmd
}

func serve(ctx context.Context, metricsAddr string, pollInterval time.Duration) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cron, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	if _, err := cron.NewJob(
		gocron.DurationJob(pollInterval),
		gocron.NewTask(pollTick),
	); err != nil {
		return err
	}
	cron.Start()
	defer func() {
		if err := cron.Shutdown(); err != nil {
			logrus.WithError(err).Warn("takeout-worker: scheduler shutdown")
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("takeout-worker: metrics server")
		}
	}()
	logrus.WithField("addr", metricsAddr).Info("takeout-worker: serving metrics")

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// pollTick is where a real supervisor would look up the next pending user
// row in queuestate and dispatch a `run` job per repl; left as a
// placeholder since that loop is out of scope (spec.md §1).
func pollTick() {
	pollTicksTotal.Inc()
	logrus.Debug("takeout-worker: poll tick (queue polling out of scope)")
}
