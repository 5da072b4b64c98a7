package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/maxpert/fanout/admin"
	"github.com/maxpert/fanout/cfg"
	"github.com/maxpert/fanout/publisher"
	_ "github.com/maxpert/fanout/publisher/deadletter"
	_ "github.com/maxpert/fanout/publisher/sink"
	"github.com/maxpert/fanout/stream"
	"github.com/maxpert/fanout/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	backlogSampleInterval = 15 * time.Second
	shutdownTimeout       = 30 * time.Second
)

func main() {
	flag.Parse()

	// Load configuration
	if err := cfg.Load(*cfg.ConfigPathFlag, *cfg.EnvFileFlag); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration before touching any client
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogging()

	log.Info().Msg("fanout - change stream dispatcher")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	registry, err := publisher.NewRegistry(cfg.Config)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize dispatcher")
		return
	}

	if *cfg.BatchFileFlag != "" {
		code := runBatchFile(registry.Dispatcher(), *cfg.BatchFileFlag, os.Stdout)
		registry.Close()
		os.Exit(code)
	}

	serve(registry)
}

func setupLogging() {
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("instance_id", cfg.Config.InstanceID).
		Logger()

	log.Logger = gLog.Level(parseLogLevel(cfg.Config.Logging.Level))
}

// parseLogLevel maps a configured level name to zerolog, defaulting to info
func parseLogLevel(level string) zerolog.Level {
	if level == "warning" {
		return zerolog.WarnLevel
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// runBatchFile dispatches a single batch read from path and writes the outcome to out
func runBatchFile(dispatcher *publisher.Dispatcher, path string, out io.Writer) int {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to read batch file")
		return 1
	}

	var batch stream.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to parse batch file")
		return 1
	}

	// Signals are held until the batch completes
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			log.Warn().Msg("Shutdown requested, finishing batch first")
		case <-done:
		}
	}()

	outcome, err := dispatcher.ProcessBatch(ctx, batch.Records)
	if err != nil {
		log.Error().Err(err).Msg("Batch rejected")
		return 1
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcome); err != nil {
		log.Error().Err(err).Msg("Failed to write batch outcome")
		return 1
	}
	return 0
}

func serve(registry *publisher.Registry) {
	defer registry.Close()

	// A nil *Replayer must not become a non-nil interface
	var replayer admin.DeadLetterReplayer
	if r := registry.Replayer(); r != nil {
		replayer = r
	}

	if backlog := registry.Backlog(); backlog != nil {
		collector := telemetry.NewMetricsCollector(backlog, backlogSampleInterval)
		collector.Start()
		defer collector.Stop()
	}

	addr := net.JoinHostPort(cfg.Config.Server.BindAddress, strconv.Itoa(cfg.Config.Server.Port))
	server := &http.Server{
		Addr:              addr,
		Handler:           admin.NewRouter(admin.NewHandlers(registry.Dispatcher(), replayer), cfg.Config.Server.Secret),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", addr).Msg("Dispatcher is operational")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}
}
