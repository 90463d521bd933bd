// Copyright 2019 The SpO2 Authors
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

package spo2cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/spo2server/spo2"
	"github.com/spo2server/spo2/broadcast"
	"github.com/spo2server/spo2/httpapi"
	"github.com/spo2server/spo2/notifier"
	"github.com/spo2server/spo2/registry"
	"github.com/spo2server/spo2/store"
)

const shutdownGrace = 5 * time.Second

func run(ctx context.Context, flags runFlags) error {
	logger := newLogger(flags.debug)
	defer logger.Sync()

	cfg := spo2.ConfigFromEnv(logger)
	if flags.listenAddr != "" {
		cfg.HTTPListenAddr = flags.listenAddr
	}
	if flags.wsListenAddr != "" {
		cfg.WSListenAddr = flags.wsListenAddr
	}
	if flags.databasePath != "" {
		cfg.DatabasePath = flags.databasePath
	}
	if flags.slackHookURL != "" {
		cfg.SlackHookURL = flags.slackHookURL
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := broadcast.NewHub(logger)
	alerts := notifier.New(cfg.SlackHookURL, logger)
	reg := registry.New(ctx, st, alerts.Reports(), hub, logger)

	if err := reg.Rehydrate(); err != nil {
		return fmt.Errorf("rehydrating health checkers: %v", err)
	}

	wsServer := &http.Server{Addr: cfg.WSListenAddr, Handler: hub}
	apiHandler := &httpapi.Handler{Registry: reg, Logger: logger}
	apiServer := &http.Server{Addr: cfg.HTTPListenAddr, Handler: apiHandler.Router()}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		alerts.Run(ctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("websocket server listening",
			zap.String("address", cfg.WSListenAddr))
		return ignoreServerClosed(wsServer.ListenAndServe())
	})
	g.Go(func() error {
		logger.Info("control server listening",
			zap.String("address", cfg.HTTPListenAddr))
		return ignoreServerClosed(apiServer.ListenAndServe())
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		apiServer.Shutdown(shutdownCtx)
		wsServer.Shutdown(shutdownCtx)
		return nil
	})

	err = g.Wait()
	reg.Wait()
	return err
}

func ignoreServerClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func newLogger(debug bool) *zap.Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core)
}
