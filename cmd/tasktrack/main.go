// Package main wires together the task tracking service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mibworks/tasktrack/internal/api"
	"github.com/mibworks/tasktrack/internal/backend"
	"github.com/mibworks/tasktrack/internal/config"
	"github.com/mibworks/tasktrack/internal/logging"
	"github.com/mibworks/tasktrack/internal/storage/postgres"
	"github.com/mibworks/tasktrack/internal/track"
	"github.com/mibworks/tasktrack/internal/track/sinks"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := backend.New(backend.Config{
		BaseURL:        cfg.Backend.BaseURL,
		Namespace:      cfg.Backend.Namespace,
		APIKey:         cfg.Backend.APIKey,
		RequestTimeout: cfg.BackendTimeout(),
		PingInterval:   cfg.PingInterval(),
		Logger:         logging.Component(logger, "backend"),
	})
	if err != nil {
		logger.Fatal("backend client init failed", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	listeners := []track.Listener{
		sinks.NewLogListener(logging.Component(logger, "transitions")),
	}
	promListener, err := sinks.NewPrometheusListener(registry)
	if err != nil {
		logger.Fatal("metrics listener init failed", zap.Error(err))
	}
	listeners = append(listeners, promListener)

	var journal *postgres.TransitionStore
	if cfg.Journal.Enabled {
		journal, err = postgres.NewTransitionStore(ctx, postgres.TransitionStoreConfig{
			DSN:   cfg.Journal.DatabaseURL,
			Table: cfg.Journal.Table,
		})
		if err != nil {
			logger.Fatal("journal init failed", zap.Error(err))
		}
		listeners = append(listeners, sinks.NewJournalListener(journal, logging.Component(logger, "journal")))
	}

	notifier := track.NewNotifier(track.NotifierConfig{
		BufferSize:      cfg.Tracker.NotifyBufferSize,
		MaxBatch:        cfg.Tracker.NotifyMaxBatch,
		MaxWait:         time.Duration(cfg.Tracker.NotifyMaxWaitMillis) * time.Millisecond,
		ListenerTimeout: time.Duration(cfg.Tracker.ListenerTimeoutMillis) * time.Millisecond,
		Logger:          logging.Component(logger, "notifier"),
	}, listeners...)

	tracker, err := track.New(track.Config{
		Dialer: track.DialerFunc(func(ctx context.Context, taskID string) (track.Conn, error) {
			return client.DialTask(ctx, taskID)
		}),
		Notifier:    notifier,
		SampleCap:   cfg.Tracker.SampleCap,
		DialTimeout: time.Duration(cfg.Tracker.DialTimeoutSeconds) * time.Second,
		Logger:      logging.Component(logger, "tracker"),
	})
	if err != nil {
		logger.Fatal("tracker init failed", zap.Error(err))
	}

	poller := track.NewPoller(track.PollerConfig{
		DefaultInterval: cfg.PollInterval(),
		RetryDelay:      time.Duration(cfg.Tracker.ConfigRetrySeconds) * time.Second,
		JitterStdev:     time.Duration(cfg.Poll.JitterStdevMillis) * time.Millisecond,
		RequestTimeout:  cfg.BackendTimeout(),
		Logger:          logging.Component(logger, "poller"),
	}, client, tracker)

	apiServer := api.NewServer(tracker, api.Config{
		APIKey:         cfg.API.APIKey,
		RequestTimeout: time.Duration(cfg.API.TimeoutSeconds) * time.Second,
		Ready:          poller.Ready,
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:         logging.Component(logger, "api"),
	})

	srv := &http.Server{
		Addr:              cfg.API.ListenAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("poller started")
		poller.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.String("addr", cfg.API.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := tracker.Close(shutdownCtx); err != nil {
		logger.Error("tracker shutdown error", zap.Error(err))
	}
	if err := notifier.Close(shutdownCtx); err != nil {
		logger.Error("notifier shutdown error", zap.Error(err))
	}
	if journal != nil {
		journal.Close()
	}
	logger.Info("shutdown complete")
}
