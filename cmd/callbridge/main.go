// callbridge: answers phone calls through Twilio Media Streams and bridges
// them to a Deepgram voice agent that thinks through the local gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-callbridge/internal/config"
	"github.com/teslashibe/go-callbridge/internal/log"
	"github.com/teslashibe/go-callbridge/pkg/server"
)

var (
	version    = "0.1.0"
	configPath = flag.String("config", "", "Path to YAML config file")
	envFile    = flag.String("env", ".env", "Path to .env file")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "callbridge: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Server.Debug = true
		cfg.Log.Level = "debug"
	}

	log.Init(cfg.Log.Level, cfg.Log.Format)
	logger := log.L()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg, server.WithLogger(logger), server.WithVersion(version))
	if err != nil {
		logger.Error("failed to build server", "error", err)
		os.Exit(1)
	}

	logger.Info("starting callbridge",
		"version", version,
		"addr", cfg.Addr(),
		"public_url", cfg.Server.PublicURL,
		"gateway", cfg.Gateway.URL,
		"owner_only", cfg.Twilio.OwnerPhone != "",
		"signatures", cfg.Twilio.ValidateSignatures)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wait for shutdown signal
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		sig := <-quit
		logger.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("goodbye")
}
