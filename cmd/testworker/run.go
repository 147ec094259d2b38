package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/testworker/internal/channel"
	"github.com/mattjoyce/testworker/internal/config"
	"github.com/mattjoyce/testworker/internal/events"
	"github.com/mattjoyce/testworker/internal/isolate"
	"github.com/mattjoyce/testworker/internal/journal"
	"github.com/mattjoyce/testworker/internal/lock"
	"github.com/mattjoyce/testworker/internal/log"
	"github.com/mattjoyce/testworker/internal/metrics"
	"github.com/mattjoyce/testworker/internal/runner"
	"github.com/mattjoyce/testworker/internal/status"
	"github.com/mattjoyce/testworker/internal/tracing"
	"github.com/mattjoyce/testworker/internal/worker"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the host and execute test classes until stopped",
		Long: `Connect to the host over the configured channel and serve
StartProcessing, ProcessTestClass and Stop calls. The process exits 0 once
the host has called Stop, and non-zero if the channel is lost or a signal
arrives first.

Example:
  testworker run --worker-id 7                       # stdio channel
  testworker run --worker-id 7 --transport grpc --address localhost:7070`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, hash, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			log.Setup(cfg.Log.Level, cfg.Log.Format)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, hash, nil)
		},
	}
	cmd.Flags().String("worker-id", "", "worker identity assigned by the host (env TESTWORKER_ID)")
	cmd.Flags().String("transport", "", "channel transport: stdio or grpc (env TESTWORKER_TRANSPORT)")
	cmd.Flags().String("address", "", "host address for the grpc transport (env TESTWORKER_ADDRESS)")
	return cmd
}

// run wires the worker from cfg and serves the host until Stop or until ctx
// ends. A nil transport is opened from cfg.Channel.
func run(ctx context.Context, cfg *config.Config, configHash string, transport channel.Transport) error {
	logger := log.WithWorker(cfg.Worker.ID).With("component", "main")
	logger.Info("testworker starting", "version", version, "transport", cfg.Channel.Transport, "config_hash", configHash)

	tp, err := tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	hub := events.NewHub(0)
	defer hub.Close()

	reg := prometheus.NewRegistry()
	exporter, err := metrics.NewExporter("testworker", reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	opts := []worker.Option{
		worker.WithTracer(tp.Tracer()),
		worker.WithEvents(hub),
		worker.WithRecorder(exporter),
	}

	if cfg.Journal.Path != "" {
		lk, err := lock.Acquire(lock.IdentityPath(filepath.Dir(cfg.Journal.Path), cfg.Worker.ID), "worker "+cfg.Worker.ID)
		if err != nil {
			return fmt.Errorf("claim worker identity: %w", err)
		}
		defer func() { _ = lk.Release() }()

		j, err := journal.Open(ctx, cfg.Journal.Path, journal.Session{
			WorkerID:    cfg.Worker.ID,
			DisplayName: cfg.Worker.DisplayName,
			Isolation:   cfg.Worker.Isolation,
			ConfigHash:  configHash,
		})
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		opts = append(opts, worker.WithRecorder(j))
		logger.Info("journal opened", "path", cfg.Journal.Path, "session_id", j.SessionID())
	}

	factory, err := runner.NewFactory(runner.Config{
		Command:          cfg.Runner.Command,
		Dir:              cfg.Runner.Dir,
		Env:              cfg.Runner.Env,
		Timeout:          cfg.Runner.Timeout,
		TerminationGrace: cfg.Runner.TerminationGrace,
		WorkerID:         cfg.Worker.ID,
	})
	if err != nil {
		return err
	}

	w, err := worker.New(worker.Config{
		ID:          cfg.Worker.ID,
		DisplayName: cfg.Worker.DisplayName,
		Isolation:   isolate.Mode(cfg.Worker.Isolation),
	}, factory, opts...)
	if err != nil {
		return err
	}

	if transport == nil {
		transport, err = openTransport(ctx, cfg.Channel)
		if err != nil {
			return err
		}
	}
	conn := channel.NewConn(transport, channel.WithSendBuffer(cfg.Channel.SendBuffer))
	defer closeConn(conn, logger)

	if err := w.Connect(conn); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- conn.Serve(runCtx)
		cancel()
	}()

	if cfg.Status.Listen != "" {
		srv := status.New(cfg.Status.Listen, w, hub, log.WithComponent("status"), status.WithGatherer(reg))
		go func() {
			if err := srv.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("status server failed", "error", err)
			}
		}()
		logger.Info("status server enabled", "listen", cfg.Status.Listen)
	}

	if err := w.Wait(runCtx); err != nil {
		select {
		case serr := <-serveErr:
			return fmt.Errorf("channel lost before stop: %w", errors.Join(err, serr))
		default:
			return err
		}
	}
	logger.Info("testworker stopped")
	return nil
}

func openTransport(ctx context.Context, cfg config.ChannelConfig) (channel.Transport, error) {
	switch cfg.Transport {
	case config.TransportGRPC:
		t, err := channel.DialGRPC(ctx, cfg.Address)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return channel.Stdio(), nil
	}
}

// closeConn flushes the Stop reply and closes the channel. Close waits for a
// dispatch in flight, so it is bounded.
func closeConn(conn *channel.Conn, logger *slog.Logger) {
	done := make(chan error, 1)
	go func() { done <- conn.Close() }()
	select {
	case err := <-done:
		if err != nil {
			logger.Warn("channel close failed", "error", err)
		}
	case <-time.After(shutdownTimeout):
		logger.Warn("channel close timed out", "timeout", shutdownTimeout)
	}
}
