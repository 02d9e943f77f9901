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

// Package workflow_test runs the workflows against a temporary SQLite store
// and in-memory stand-ins for the Places API, the spreadsheet, the save
// session and the language models.
package workflow_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/jaycherian/gcp-go-place-saver/internal/telemetry"
	test "github.com/jaycherian/gcp-go-place-saver/internal/testutil"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const tName = "cloud.google.com/place-saver/tests/workflow"

var logger = otelslog.NewLogger(tName)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config := test.GetConfig()
	slog.SetDefault(slog.New(telemetry.NewHandler(os.Stderr, slog.LevelWarn)))

	shutdown, err := telemetry.SetupOpenTelemetry(ctx, config)
	if err != nil {
		panic(err)
	}
	logger.Info("completed test setup")

	exitCode := m.Run()

	if err := shutdown(ctx); err != nil {
		logger.Error("failed to shutdown telemetry", "error", err)
	}
	os.Exit(exitCode)
}
