// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix

package main

import (
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/aristanetworks/kvloop/internal/config"
	"github.com/aristanetworks/kvloop/internal/observability"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}
	if opts.Backend != "" {
		cfg.Backend = opts.Backend
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("effective configuration", zap.Any("config", cfg))

	s, err := newServer(cfg, logger)
	if err != nil {
		logger.Error("failed to start server", zap.Error(err))
		return 1
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		sig, ok := <-sigs
		if ok {
			logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
			s.requestShutdown()
		}
	}()

	s.serve()
	return 0
}
