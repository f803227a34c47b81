// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main is the entry point of the swgts ingest API server.
//
// The server multiplexes many concurrent uploaders onto a pool of filter
// workers through a shared Redis backend: it admits upload batches
// against a per-session byte budget, enqueues accepted work, and flushes
// filtered reads to disk when a session closes.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"swgts/internal/ingest/admission"
	"swgts/internal/ingest/api"
	"swgts/internal/ingest/config"
	"swgts/internal/ingest/queue"
	"swgts/internal/ingest/session"
	"swgts/internal/ingest/store"
	"swgts/internal/ingest/ws"
	"swgts/internal/logger"
	"swgts/internal/version"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "swgts-api",
		Short:         "Streaming sequence-read ingest API",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "overlay config file (optional)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{Level: cfg.LogLevel, File: cfg.LogFile}); err != nil {
		return err
	}
	defer logger.Close()

	for _, kv := range cfg.LogFields() {
		logger.Info("configuration", "key", kv[0], "value", kv[1])
	}

	// The state store is the single authoritative backend; refuse to
	// start without it.
	logger.Info("connecting to stateful backend", "addr", cfg.RedisServer)
	st := store.New(cfg.RedisServer)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = st.Ping(ctx)
	cancel()
	if err != nil {
		logger.Error("could not connect to stateful backend, goodbye", "error", err)
		return err
	}

	if err := publishConfig(st, cfg); err != nil {
		return err
	}

	ttl := time.Duration(cfg.ContextTimeout) * time.Second
	sessions := session.NewRegistry(st, ttl, cfg.UploadDirectory)
	publisher := queue.NewPublisher(st)
	ctrl := admission.NewController(sessions, publisher, cfg.MaximumPendingBytes)
	hub := ws.NewHub(sessions, ctrl, st, ws.RequestDefaults{
		SizeFactor: cfg.RequestSizeFactor,
		Size:       cfg.RequestSize,
	}, cfg.HandsOff)
	apiServer := api.NewServer(sessions, ctrl, hub, cfg.HandsOff)

	httpServer := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     api.NewRouter(apiServer, hub),
		ReadTimeout: 5 * time.Minute, // uploads can be slow to arrive
		IdleTimeout: 120 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		logger.Info("server launched", "addr", cfg.HTTPAddr, "version", version.Version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			logger.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errc:
		logger.Error("server failed", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// publishConfig shares the knobs the filter workers observe through
// well-known config keys.
func publishConfig(st *store.Store, cfg config.Snapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	values := map[string]int64{
		"config:context_timeout":       cfg.ContextTimeout,
		"config:maximum_pending_bytes": cfg.MaximumPendingBytes,
		"config:request_size_factor":   cfg.RequestSizeFactor,
		"config:request_size":          cfg.RequestSize,
	}
	for key, value := range values {
		if err := st.SetInt64(ctx, key, value); err != nil {
			return fmt.Errorf("publishing %s: %w", key, err)
		}
		logger.Info("published config value", "key", key, "value", value)
	}
	return nil
}
