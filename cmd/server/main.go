// Package main runs the docq REST service.
//
// The service exposes the queue wire protocol (see pkg/server) over a
// backend selected by address shape: a directory for the filesystem
// backend or a redis:// URL for the Redis backend. With -workers it also
// runs in-process workers for the named modules, so a single binary can
// serve and process.
//
// Usage:
//
//	go run cmd/server/main.go [-addr DIR|URL] [-host HOST] [-port PORT] [-workers upper,...]
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/guido-cesarano/docq/pkg/config"
	"github.com/guido-cesarano/docq/pkg/logger"
	"github.com/guido-cesarano/docq/pkg/modules"
	"github.com/guido-cesarano/docq/pkg/queue"
	"github.com/guido-cesarano/docq/pkg/server"
	"github.com/guido-cesarano/docq/pkg/worker"
)

func main() {
	cfg := config.Load()
	addr := flag.String("addr", cfg.Addr, "Queue backend address (directory or redis:// URL)")
	host := flag.String("host", cfg.Host, "Host address to listen on")
	port := flag.Int("port", cfg.Port, "Port number to listen on")
	workers := flag.String("workers", "", "Comma-separated module names to run in-process workers for (\"all\" for every module)")
	flag.Parse()

	reg := modules.NewRegistry(modules.Upper{})

	client, err := queue.NewClient(*addr, reg)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Backend setup failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *workers != "" {
		names := strings.Split(*workers, ",")
		if *workers == "all" {
			names = reg.Names()
		}
		logger.Log.Info().Strs("modules", names).Msg("Starting in-process workers")
		go worker.RunAll(ctx, client, reg, names, cfg.IdleSleep)
	}

	srv := server.New(client, reg)
	go srv.CollectQueueMetrics(ctx, 5*time.Second)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", *host, *port),
		Handler: srv.Handler(),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Log.Info().Msg("Shutting down server...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Log.Info().Str("backend", *addr).Msgf("Server listening on %s", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Log.Fatal().Err(err).Msg("Server failed")
	}
}
