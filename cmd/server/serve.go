// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jaycherian/gcp-go-place-saver/internal/api"
	"github.com/jaycherian/gcp-go-place-saver/internal/cloud"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/services"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/workflow"
	"github.com/jaycherian/gcp-go-place-saver/internal/dedup"
	"github.com/jaycherian/gcp-go-place-saver/internal/telegram"
	"github.com/jaycherian/gcp-go-place-saver/internal/telemetry"
)

const (
	ingestTopic     = "IngestTopic"
	shutdownTimeout = 5 * time.Second
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts.config)
		},
	}
}

// serve runs until ctx is cancelled.
//
// Logic Flow:
//  1. Telemetry, then the shared state.
//  2. The Telegram handler. getMe supplies the bot id for self filtering.
//  3. Delivery: the stale webhook is always dropped; with a webhook URL the
//     webhook is registered, otherwise updates are long polled.
//  4. Background work: the Pub/Sub ingest listener and the sheet reconcile
//     timer, when configured.
//  5. The HTTP server. On shutdown it gets shutdownTimeout to drain, then
//     in-flight updates are awaited.
func serve(ctx context.Context, config *cloud.Config) error {
	shutdownTelemetry, err := telemetry.SetupOpenTelemetry(ctx, config)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("failed to shut down telemetry", "error", err)
		}
	}()

	s, err := newState(ctx, config)
	if err != nil {
		return err
	}
	defer s.Close()

	bot, err := telegram.NewClient(config.Telegram)
	if err != nil {
		return err
	}
	handler := telegram.NewHandler(telegram.HandlerDeps{
		Client:        bot,
		Dedup:         dedup.New(config.Telegram.DedupCapacity, 0),
		AllowedChats:  config.Telegram.AllowedChatIDs,
		Ingest:        s.ingest,
		Resolver:      s.resolver,
		Session:       s.session,
		Settings:      s.settings,
		Places:        &services.ListingService{Store: s.store},
		IngestTimeout: time.Duration(config.Telegram.IngestTimeout) * time.Second,
	})
	defer handler.Wait()

	me, err := bot.GetMe(ctx)
	if err != nil {
		return err
	}
	handler.SetBotID(me.ID)
	slog.Info("bot identity", "bot_id", me.ID, "username", me.Username)

	polling, err := bot.ConfigureDelivery(ctx, config.Telegram.WebhookURL)
	if err != nil {
		return err
	}

	if listener, ok := s.clients.PubSubListeners[ingestTopic]; ok {
		listener.SetCommand(s.ingest)
		listener.Listen(ctx)
	}
	if s.sheets.IsConfigured() {
		reconcile := workflow.NewSheetReconcileWorkflow(s.store, s.sheets, config.Sheets.ReconcileBatch)
		reconcile.StartTimer(ctx, time.Duration(config.Sheets.ReconcileInterval)*time.Second)
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.Routes{
		Name:        config.Application.Name,
		Version:     config.Application.Version,
		Updates:     handler,
		Places:      &services.ListingService{Store: s.store},
		BaseContext: ctx,
	})
	srv := &http.Server{
		Addr:              ":" + config.Application.Port,
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready", "port", config.Application.Port, "polling", polling)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if polling {
		g.Go(func() error {
			return telegram.NewPoller(bot, handler).Run(gctx)
		})
	}
	return g.Wait()
}
