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
	"fmt"
	"log/slog"

	"github.com/jaycherian/gcp-go-place-saver/internal/cloud"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/services"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/workflow"
	"github.com/jaycherian/gcp-go-place-saver/internal/savesession"
	"github.com/jaycherian/gcp-go-place-saver/internal/settings"
)

// state holds the shared components of a running process.
type state struct {
	config   *cloud.Config
	clients  *cloud.ServiceClients
	store    services.PlaceStore
	settings *settings.Store
	session  *savesession.Session
	places   *services.PlacesService
	sheets   *services.SheetsService
	resolver *services.LinkResolver
	ingest   *workflow.IngestWorkflow
}

// newSessionState builds only what the save session commands need, so they
// run without GenAI credentials.
func newSessionState(config *cloud.Config) *state {
	runtime := settings.Load(config.Application.SettingsPath, config.SaveSession.DefaultList)
	return &state{
		config:   config,
		settings: runtime,
		session:  savesession.New(config.SaveSession, savesession.PlaywrightDriver{}, savesession.WithListSource(runtime)),
	}
}

// newState wires the full ingest pipeline.
//
// Logic Flow:
//  1. Runtime settings and the save session.
//  2. Cloud clients (GenAI always, the others when configured).
//  3. The place store selected by store.driver.
//  4. Places and Sheets clients.
//  5. The extraction, commit and ingest workflows sharing one prefetching lookup.
func newState(ctx context.Context, config *cloud.Config) (s *state, err error) {
	s = newSessionState(config)
	defer func() {
		if err != nil {
			s.Close()
			s = nil
		}
	}()

	if s.clients, err = cloud.NewCloudServiceClients(ctx, config); err != nil {
		return s, err
	}
	if s.store, err = services.NewPlaceStore(ctx, config.Store, s.clients.BiqQueryClient); err != nil {
		return s, fmt.Errorf("failed to open place store: %w", err)
	}

	s.places = services.NewPlacesService(config.Places)
	if !s.places.IsConfigured() {
		slog.Warn("places api key missing, places will be stored unverified")
	}
	s.sheets = services.NewSheetsService(config.Sheets)
	if s.sheets.IsConfigured() {
		if err := s.sheets.EnsureHeader(ctx); err != nil {
			slog.Warn("failed to prepare spreadsheet header", "error", err)
		}
	}
	s.resolver = services.NewLinkResolver(config.Downloader.ResolveUserAgent)

	lookup := workflow.NewPrefetchLookup(s.places)
	commit := workflow.NewCommitWorkflow(lookup, s.store, s.sheets, s.session)
	extraction := workflow.NewExtractionWorkflow(workflow.NewExtractionDeps(config, s.clients, s.settings))
	s.ingest = workflow.NewIngestWorkflow(extraction, commit, lookup, s.resolver)
	return s, nil
}

// Close releases the store and the cloud clients.
func (s *state) Close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("failed to close place store", "error", err)
		}
	}
	if s.clients != nil {
		s.clients.Close()
	}
}
