// Package main runs an in-process miniredis instance for developing and
// demoing the Redis queue backend without a real Redis server.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/alicebob/miniredis/v2"

	"github.com/guido-cesarano/docq/pkg/logger"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6379", "Address to listen on")
	flag.Parse()

	s := miniredis.NewMiniRedis()
	if err := s.StartAddr(*addr); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to start miniredis")
	}
	defer s.Close()

	logger.Log.Info().Msgf("MiniRedis server started on %s (use -addr redis://%s as queue backend)", s.Addr(), s.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Log.Info().Msg("Shutting down MiniRedis...")
}
