package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/hbomb79/Lyre/internal"
	"github.com/hbomb79/Lyre/pkg/logger"
)

var log = logger.Get("Bootstrap")

// main is the entry point to Lyre. The configuration is loaded from the
// (optional) config file and the environment, and Lyre is then run until
// an interrupt or termination signal is received.
func main() {
	configPath := flag.String("config", "", "path to an optional YAML configuration file")
	flag.Parse()

	if os.Getenv("LYRE_LOG_UNBUFFERED") != "" {
		logger.DisableColor()
	}

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Validated by LoadConfig
	level, _ := logger.ParseLevel(config.LogLevel)
	logger.SetMinLoggingLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Emit(logger.INFO, "Starting Lyre on %s:%s\n", config.HostAddr, config.Port)
	if err := internal.New(*config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Lyre stopped with error: %v\n", err)
		cancel()
		os.Exit(1)
	}

	log.Emit(logger.STOP, "Lyre stopped\n")
}
