// Package main runs docq workers.
//
// Workers claim pending tasks for their modules from any backend (shared
// directory, Redis, or a remote docq service over HTTP), process them, and
// store results or errors. Prometheus metrics are exposed on the metrics
// address.
//
// Usage:
//
//	go run cmd/worker/main.go [-addr DIR|URL] [-modules upper,...] [-metrics :8080]
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guido-cesarano/docq/pkg/config"
	"github.com/guido-cesarano/docq/pkg/logger"
	"github.com/guido-cesarano/docq/pkg/modules"
	"github.com/guido-cesarano/docq/pkg/queue"
	"github.com/guido-cesarano/docq/pkg/worker"
)

func main() {
	cfg := config.Load()
	addr := flag.String("addr", cfg.Addr, "Queue backend address (directory, redis:// or http:// URL)")
	moduleNames := flag.String("modules", "all", "Comma-separated module names to process (\"all\" for every module)")
	metricsAddr := flag.String("metrics", ":8080", "Prometheus metrics listen address")
	flag.Parse()

	reg := modules.NewRegistry(modules.Upper{})

	client, err := queue.NewClient(*addr, reg)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Backend setup failed")
	}

	names := strings.Split(*moduleNames, ",")
	if *moduleNames == "all" {
		names = reg.Names()
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		logger.Log.Info().Msgf("Metrics server listening on %s", *metricsAddr)
		http.ListenAndServe(*metricsAddr, nil)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Log.Info().Msg("Shutting down workers...")
		cancel()
	}()

	logger.Log.Info().Str("backend", *addr).Strs("modules", names).Msg("Workers starting")
	if err := worker.RunAll(ctx, client, reg, names, cfg.IdleSleep); err != nil {
		logger.Log.Fatal().Err(err).Msg("Workers failed")
	}
}
