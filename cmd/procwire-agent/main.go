package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/procwire/procwire/internal/agent"
	"github.com/procwire/procwire/internal/infrastructure/config"
	"github.com/procwire/procwire/internal/infrastructure/logging"
	"github.com/procwire/procwire/internal/infrastructure/monitoring"
	"github.com/procwire/procwire/internal/wire"
)

func main() {
	controlFD := flag.Int("control-fd", -1, "Control stream descriptor (overrides env)")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *controlFD >= 0 {
		cfg.Agent.ControlFD = *controlFD
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	var metrics *monitoring.Metrics
	if cfg.Metrics.Enabled {
		metrics = monitoring.New(cfg.Metrics.Namespace, prometheus.NewRegistry())
	}

	control := os.NewFile(uintptr(cfg.Agent.ControlFD), "control")
	if control == nil {
		logger.Fatal("Control descriptor is not open")
	}

	codec := wire.Codec{
		MaxFrame:          cfg.Wire.MaxFrame,
		CompressThreshold: cfg.Wire.CompressThreshold,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Serve blocks reading the control stream, so a signal alone cannot
	// unblock it. Give in-flight requests the configured drain window,
	// then close the stream to force the read loop to return.
	go func() {
		<-ctx.Done()
		logger.Info("Shutdown signal received, draining",
			zap.Duration("timeout", cfg.Agent.ShutdownTimeout))
		time.Sleep(cfg.Agent.ShutdownTimeout)
		control.Close()
	}()

	status, err := agent.New(codec, logger, metrics).Serve(ctx, control)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		logger.Info("Agent stopped by signal")
	default:
		logger.Fatal("Agent failed", zap.Error(err))
	}
	os.Exit(status)
}
