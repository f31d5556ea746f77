package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/dcrodman/echod/internal/core"
	"github.com/dcrodman/echod/internal/core/debug"
	"github.com/dcrodman/echod/internal/core/metrics"
	echoserver "github.com/dcrodman/echod/internal/server"
)

func server(c *cli.Context) error {
	config, err := core.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}

	logger, err := core.NewLogger(config)
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}

	// Start any debug utilities if we're configured to do so.
	if config.Debugging.Enabled {
		debug.StartUtilities(logger, config.PprofAddress())
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	opts := []echoserver.Option{
		echoserver.WithLogger(logger),
		echoserver.WithReadBufferSize(config.ReadBufferSize),
		echoserver.WithPollInterval(config.PollInterval),
		echoserver.WithPacketLogging(config.Debugging.PacketLoggingEnabled),
	}
	if config.Metrics.Enabled {
		opts = append(opts, echoserver.WithMetrics(startMetrics(ctx, config, logger)))
	}

	s, err := echoserver.New(config.Address, config.NumWorkers, opts...)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	defer s.Close()

	runResult := make(chan error, 1)
	go func() { runResult <- s.Run() }()

	// Register a SIGTERM handler so that Ctrl-C will shut the server down gracefully.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	stopped := make(chan struct{})
	go exitHandler(logger, s, signals, stopped)

	if err := <-runResult; err != nil {
		logger.Errorf("server encountered an error: %s", err)
		s.Stop()
		return err
	}
	<-stopped

	logger.Info("server has shut down")
	return nil
}

// exitHandler stops the server on the first signal. A second signal while
// waiting for in-flight connections exits immediately.
func exitHandler(logger *logrus.Logger, s *echoserver.Server, signals chan os.Signal, stopped chan struct{}) {
	<-signals
	logger.Info("shutdown signal received, waiting to shut down gracefully...")

	go func() {
		<-signals
		logger.Warn("hard exiting (killed)")
		os.Exit(1)
	}()

	s.Stop()
	close(stopped)
}

func startMetrics(ctx context.Context, config *core.Config, logger *logrus.Logger) *metrics.Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	go func() {
		if err := metrics.Serve(ctx, config.Metrics.Address, reg, logger); err != nil {
			logger.Errorf("error serving metrics: %s", err)
		}
	}()
	return metrics.New(reg)
}
